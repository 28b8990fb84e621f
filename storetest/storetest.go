// Package storetest checks that a nametag.ProfileStore keeps the registry
// invariants when driven through nametag.Registry.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	Account1 = common.HexToAddress("0x627306090abaB3A6e1400e9345bC60c78a8BEf57")
	Account2 = common.HexToAddress("0xf17f52151EbEF6C7334FAD080c5704D77216b732")
	Account3 = common.HexToAddress("0xC5fdf4076b8F3A5357c5E395ab970B5B54098Fef")
)

const (
	DataHash1 = "3e19a674b9494bbe4798f29b506ff25b"
	DataHash2 = "d2ff3b88d34705e01d150c21fa7bde07"
)

// Run executes the suite. newStore must return an empty store every call.
func Run(t *testing.T, newStore func(t *testing.T) nametag.ProfileStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r *nametag.Registry)
	}{
		{"lifecycle", testLifecycle},
		{"round trip", testRoundTrip},
		{"username taken", testUsernameTaken},
		{"rename releases old username", testRenameReleasesUsername},
		{"rename to own username", testRenameToOwnUsername},
		{"delete releases both slots", testDeleteReleasesSlots},
		{"no profile", testNoProfile},
		{"rejections leave state untouched", testRejectionsLeaveState},
		{"concurrent creates", testConcurrentCreates},
		{"concurrent renames", testConcurrentRenames},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, &nametag.Registry{Store: newStore(t)})
		})
	}
}

func testLifecycle(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()
	assert := assert.New(t)

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	assert.ErrorIs(r.CreateProfile(ctx, Account1, "rxx", DataHash1), nametag.ErrProfileExists)
	assert.ErrorIs(r.CreateProfile(ctx, Account1, "rajat", DataHash1), nametag.ErrProfileExists)

	addr, ok, err := r.AddressOf(ctx, "rxx")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(Account1, addr)

	profile, ok, err := r.ProfileByUsername(ctx, "rxx")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal("rxx", profile.Username)

	username, ok, err := r.UsernameOf(ctx, Account1)
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal("rxx", username)

	profile, ok, err = r.ProfileByAddress(ctx, Account1)
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(DataHash1, profile.DataHash)

	assert.ErrorIs(r.ChangeProfileHash(ctx, Account1, ""), nametag.ErrInvalidDataHash)
	require.NoError(t, r.ChangeProfileHash(ctx, Account1, DataHash2))
	hash, ok, err := r.ProfileHashByUsername(ctx, "rxx")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(DataHash2, hash)

	assert.ErrorIs(r.ChangeUsername(ctx, Account1, "rxx"), nametag.ErrUsernameTaken)
	assert.ErrorIs(r.ChangeUsername(ctx, Account1, ""), nametag.ErrInvalidUsername)
	assert.ErrorIs(r.ChangeUsername(ctx, Account1, "xy"), nametag.ErrInvalidUsername)
	assert.ErrorIs(r.ChangeUsername(ctx,
		Account1, "ad21599c838ca16a2a5d42cc7df464aef7aee3d7f5a26bf16bb8cc2fc549ce01"), nametag.ErrInvalidUsername)

	require.NoError(t, r.ChangeUsername(ctx, Account1, "rajat"))
	addr, ok, err = r.AddressOf(ctx, "rajat")
	require.NoError(t, err)
	assert.True(ok)
	assert.Equal(Account1, addr)
	_, ok, err = r.AddressOf(ctx, "rxx")
	require.NoError(t, err)
	assert.False(ok)

	require.NoError(t, r.DeleteProfile(ctx, Account1))
	_, ok, err = r.AddressOf(ctx, "rajat")
	require.NoError(t, err)
	assert.False(ok)
	_, ok, err = r.AddressOf(ctx, "rxx")
	require.NoError(t, err)
	assert.False(ok)
}

func testRoundTrip(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()
	assert := assert.New(t)

	cases := []struct {
		owner    common.Address
		username string
		hash     string
	}{
		{Account1, "abc", "h1"},
		{Account2, "exactly_thirty_two_characters_32", "h2"},
		{Account3, "żółw_ąę", "h3"},
	}
	for _, tc := range cases {
		require.NoError(t, r.CreateProfile(ctx, tc.owner, tc.username, tc.hash), tc.username)
	}
	for _, tc := range cases {
		addr, ok, err := r.AddressOf(ctx, tc.username)
		require.NoError(t, err)
		assert.True(ok, tc.username)
		assert.Equal(tc.owner, addr)

		username, ok, err := r.UsernameOf(ctx, tc.owner)
		require.NoError(t, err)
		assert.True(ok, tc.username)
		assert.Equal(tc.username, username)

		hash, ok, err := r.ProfileHashByUsername(ctx, tc.username)
		require.NoError(t, err)
		assert.True(ok, tc.username)
		assert.Equal(tc.hash, hash)

		byName, _, err := r.ProfileByUsername(ctx, tc.username)
		require.NoError(t, err)
		byChain, _, err := r.ProfileByUsername(ctx, username)
		require.NoError(t, err)
		assert.Equal(byName, byChain)
		assert.Equal(nametag.Profile{Username: tc.username, Owner: tc.owner, DataHash: tc.hash}, byName)
	}
}

func testUsernameTaken(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	assert.ErrorIs(t, r.CreateProfile(ctx, Account2, "rxx", DataHash2), nametag.ErrUsernameTaken)

	require.NoError(t, r.CreateProfile(ctx, Account2, "rajat", DataHash2))
	assert.ErrorIs(t, r.ChangeUsername(ctx, Account2, "rxx"), nametag.ErrUsernameTaken)

	username, _, err := r.UsernameOf(ctx, Account2)
	require.NoError(t, err)
	assert.Equal(t, "rajat", username)
}

func testRenameReleasesUsername(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	require.NoError(t, r.ChangeUsername(ctx, Account1, "rajat"))
	require.NoError(t, r.CreateProfile(ctx, Account2, "rxx", DataHash2))

	addr, ok, err := r.AddressOf(ctx, "rxx")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Account2, addr)

	profile, ok, err := r.ProfileByAddress(ctx, Account1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, nametag.Profile{Username: "rajat", Owner: Account1, DataHash: DataHash1}, profile)
}

func testRenameToOwnUsername(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	assert.ErrorIs(t, r.ChangeUsername(ctx, Account1, "rxx"), nametag.ErrUsernameTaken)

	addr, ok, err := r.AddressOf(ctx, "rxx")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Account1, addr)
}

func testDeleteReleasesSlots(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()
	assert := assert.New(t)

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	require.NoError(t, r.DeleteProfile(ctx, Account1))

	_, ok, err := r.ProfileByAddress(ctx, Account1)
	require.NoError(t, err)
	assert.False(ok)
	username, ok, err := r.UsernameOf(ctx, Account1)
	require.NoError(t, err)
	assert.False(ok)
	assert.Equal("", username)
	hash, ok, err := r.ProfileHashByUsername(ctx, "rxx")
	require.NoError(t, err)
	assert.False(ok)
	assert.Equal("", hash)

	require.NoError(t, r.CreateProfile(ctx, Account2, "rxx", DataHash2))
	require.NoError(t, r.CreateProfile(ctx, Account1, "rajat", DataHash1))
	assert.ErrorIs(r.DeleteProfile(ctx, Account3), nametag.ErrNoProfile)
}

func testNoProfile(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()

	assert.ErrorIs(t, r.ChangeUsername(ctx, Account1, "rajat"), nametag.ErrNoProfile)
	assert.ErrorIs(t, r.ChangeUsername(ctx, Account1, ""), nametag.ErrNoProfile)
	assert.ErrorIs(t, r.ChangeProfileHash(ctx, Account1, DataHash2), nametag.ErrNoProfile)
	assert.ErrorIs(t, r.DeleteProfile(ctx, Account1), nametag.ErrNoProfile)

	addr, ok, err := r.AddressOf(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, common.Address{}, addr)
}

func testRejectionsLeaveState(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()

	require.NoError(t, r.CreateProfile(ctx, Account1, "rxx", DataHash1))
	require.NoError(t, r.CreateProfile(ctx, Account2, "rajat", DataHash2))

	assert.Error(t, r.CreateProfile(ctx, Account3, "rxx", DataHash2))
	assert.Error(t, r.CreateProfile(ctx, Account3, "", DataHash2))
	assert.Error(t, r.CreateProfile(ctx, Account3, "valid", ""))
	assert.Error(t, r.ChangeUsername(ctx, Account1, "rajat"))
	assert.Error(t, r.ChangeProfileHash(ctx, Account2, ""))

	for _, want := range []nametag.Profile{
		{Username: "rxx", Owner: Account1, DataHash: DataHash1},
		{Username: "rajat", Owner: Account2, DataHash: DataHash2},
	} {
		byName, ok, err := r.ProfileByUsername(ctx, want.Username)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, byName)

		byOwner, ok, err := r.ProfileByAddress(ctx, want.Owner)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, byOwner)
	}
	_, ok, err := r.ProfileByAddress(ctx, Account3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentCreates(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()
	const owners = 16

	var wg sync.WaitGroup
	errs := make([]error, owners)
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.CreateProfile(ctx, ownerAddress(i), "contended", fmt.Sprintf("hash-%d", i))
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "two creates of one username succeeded")
			winner = i
			continue
		}
		assert.True(t, errors.Is(err, nametag.ErrUsernameTaken), "owner %d: %v", i, err)
	}
	require.NotEqual(t, -1, winner)

	addr, ok, err := r.AddressOf(ctx, "contended")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ownerAddress(winner), addr)
}

func testConcurrentRenames(t *testing.T, r *nametag.Registry) {
	ctx := context.Background()
	const owners = 8

	for i := 0; i < owners; i++ {
		require.NoError(t, r.CreateProfile(ctx, ownerAddress(i), fmt.Sprintf("user-%d", i), DataHash1))
	}

	var wg sync.WaitGroup
	errs := make([]error, owners)
	for i := 0; i < owners; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.ChangeUsername(ctx, ownerAddress(i), "contended")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)

	// every profile is still reachable through both views
	for i := 0; i < owners; i++ {
		byOwner, ok, err := r.ProfileByAddress(ctx, ownerAddress(i))
		require.NoError(t, err)
		require.True(t, ok)
		byName, ok, err := r.ProfileByUsername(ctx, byOwner.Username)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, byOwner, byName)
	}
}

func ownerAddress(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(i + 0x1000)))
}
