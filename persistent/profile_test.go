package persistent

import (
	"context"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileStore(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
		return
	}
	ctx := context.Background()

	db := PgOpenTest(ctx)
	defer db.Close()
	require.NoError(t, CreateSchema(ctx, db))

	storetest.Run(t, func(t *testing.T) nametag.ProfileStore {
		_, err := db.NewTruncateTable().Model((*Profile)(nil)).Exec(ctx)
		require.NoError(t, err)
		return &ProfileStore{DB: db}
	})
}

func TestProfileStoreRows(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
		return
	}
	assert := assert.New(t)
	ctx := context.Background()

	db := PgOpenTest(ctx)
	defer db.Close()
	require.NoError(t, CreateSchema(ctx, db))
	_, err := db.NewTruncateTable().Model((*Profile)(nil)).Exec(ctx)
	require.NoError(t, err)

	store := &ProfileStore{DB: db}
	err = store.Insert(ctx, nametag.Profile{Username: "rxx", Owner: storetest.Account1, DataHash: storetest.DataHash1})
	if !assert.NoError(err) {
		return
	}
	if !assert.NoError(store.Rename(ctx, storetest.Account1, "rajat")) {
		return
	}

	var rows []Profile
	err = db.NewSelect().
		Model((*Profile)(nil)).
		Scan(ctx, &rows)
	if !assert.NoError(err) || !assert.Equal(1, len(rows)) {
		return
	}
	row := rows[0]
	assert.Equal(storetest.Account1.Hex(), row.Owner)
	assert.Equal("rajat", row.Username)
	assert.Equal(storetest.DataHash1, row.DataHash)
	assert.False(row.CreatedAt.IsZero())

	// constraint violations are translated even when the pre-checks are bypassed
	_, err = db.NewInsert().
		Model(&Profile{Owner: storetest.Account2.Hex(), Username: "rajat", DataHash: "x"}).
		Exec(ctx)
	assert.ErrorIs(uniqueViolation(err), nametag.ErrUsernameTaken)
	_, err = db.NewInsert().
		Model(&Profile{Owner: storetest.Account1.Hex(), Username: "other", DataHash: "x"}).
		Exec(ctx)
	assert.ErrorIs(uniqueViolation(err), nametag.ErrProfileExists)
}
