package mock

import (
	"context"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
)

type ProfileStore struct {
	InsertFn func(ctx context.Context, profile nametag.Profile) error

	RenameFn func(ctx context.Context, owner common.Address, newUsername string) error

	SetDataHashFn func(ctx context.Context, owner common.Address, dataHash string) error

	DeleteFn func(ctx context.Context, owner common.Address) (nametag.Profile, error)

	ByUsernameFn func(ctx context.Context, username string) (nametag.Profile, bool, error)

	ByOwnerFn func(ctx context.Context, owner common.Address) (nametag.Profile, bool, error)
}

func (s ProfileStore) Insert(ctx context.Context, profile nametag.Profile) error {
	return s.InsertFn(ctx, profile)
}

func (s ProfileStore) Rename(ctx context.Context, owner common.Address, newUsername string) error {
	return s.RenameFn(ctx, owner, newUsername)
}

func (s ProfileStore) SetDataHash(ctx context.Context, owner common.Address, dataHash string) error {
	return s.SetDataHashFn(ctx, owner, dataHash)
}

func (s ProfileStore) Delete(ctx context.Context, owner common.Address) (nametag.Profile, error) {
	return s.DeleteFn(ctx, owner)
}

func (s ProfileStore) ByUsername(ctx context.Context, username string) (nametag.Profile, bool, error) {
	return s.ByUsernameFn(ctx, username)
}

func (s ProfileStore) ByOwner(ctx context.Context, owner common.Address) (nametag.Profile, bool, error) {
	return s.ByOwnerFn(ctx, owner)
}
