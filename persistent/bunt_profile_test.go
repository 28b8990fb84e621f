package persistent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/buntdb"
)

func TestBuntProfileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) nametag.ProfileStore {
		bdb, err := buntdb.Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { bdb.Close() })
		return &BuntProfileStore{Buntdb: bdb}
	})
}

func TestBuntProfileStoreSurvivesReopen(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profiles.db")

	bdb, err := buntdb.Open(path)
	require.NoError(t, err)
	registry := &nametag.Registry{Store: &BuntProfileStore{Buntdb: bdb}}
	require.NoError(t, registry.CreateProfile(ctx, storetest.Account1, "rxx", storetest.DataHash1))
	require.NoError(t, registry.CreateProfile(ctx, storetest.Account2, "gone", storetest.DataHash1))
	require.NoError(t, registry.ChangeUsername(ctx, storetest.Account1, "rajat"))
	require.NoError(t, registry.ChangeProfileHash(ctx, storetest.Account1, storetest.DataHash2))
	require.NoError(t, registry.DeleteProfile(ctx, storetest.Account2))
	require.NoError(t, bdb.Close())

	bdb, err = buntdb.Open(path)
	require.NoError(t, err)
	defer bdb.Close()
	registry = &nametag.Registry{Store: &BuntProfileStore{Buntdb: bdb}}

	profile, ok, err := registry.ProfileByUsername(ctx, "rajat")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(nametag.Profile{Username: "rajat", Owner: storetest.Account1, DataHash: storetest.DataHash2}, profile)

	for _, username := range []string{"rxx", "gone"} {
		_, ok, err = registry.AddressOf(ctx, username)
		require.NoError(t, err)
		assert.False(ok, username)
	}
	_, ok, err = registry.ProfileByAddress(ctx, storetest.Account2)
	require.NoError(t, err)
	assert.False(ok)
}
