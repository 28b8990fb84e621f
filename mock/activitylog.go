package mock

import (
	"context"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
)

type ActivityStore struct {
	AddLogFn func(ctx context.Context, owner common.Address, activity nametag.Activity) error

	ByOwnerFn func(ctx context.Context, owner common.Address, beforeId int64, limit int) ([]nametag.ActivityLog, error)
}

func (s ActivityStore) AddLog(ctx context.Context, owner common.Address, activity nametag.Activity) error {
	return s.AddLogFn(ctx, owner, activity)
}

func (s ActivityStore) ByOwner(ctx context.Context, owner common.Address, beforeId int64, limit int) ([]nametag.ActivityLog, error) {
	return s.ByOwnerFn(ctx, owner, beforeId, limit)
}
