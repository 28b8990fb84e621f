package persistent

import (
	"context"
	"fmt"
	"time"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"
)

type ActivityLog struct {
	bun.BaseModel `bun:"table:activity_log"`

	Id        int64                  `bun:",pk,autoincrement"`
	CreatedAt time.Time              `bun:",nullzero,notnull,default:current_timestamp"`
	Owner     string                 `bun:",notnull"`
	Name      string                 `bun:",notnull"`
	Data      map[string]interface{} `bun:",notnull"`
}

func (l *ActivityLog) ToDomain() nametag.ActivityLog {
	return nametag.ActivityLog{
		Id:        l.Id,
		CreatedAt: l.CreatedAt,
		Owner:     common.HexToAddress(l.Owner),
		Name:      l.Name,
		Data:      l.Data,
	}
}

type ActivityStore struct {
	DB *bun.DB
}

var _ nametag.ActivityStore = (*ActivityStore)(nil)

func (s *ActivityStore) AddLog(ctx context.Context, owner common.Address, activity nametag.Activity) error {
	data := activity.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	_, err := s.DB.NewInsert().
		Model(&ActivityLog{
			Owner: owner.Hex(),
			Name:  activity.Name,
			Data:  data,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func (s *ActivityStore) ByOwner(ctx context.Context, owner common.Address, beforeId int64, limit int) ([]nametag.ActivityLog, error) {
	var logs []ActivityLog
	q := s.DB.NewSelect().
		Model((*ActivityLog)(nil)).
		Where("activity_log.owner=?", owner.Hex())
	if beforeId >= 0 {
		q = q.Where("activity_log.id<?", beforeId)
	}
	err := q.
		Order("activity_log.id DESC").
		Limit(limit).
		Scan(ctx, &logs)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	ml := make([]nametag.ActivityLog, len(logs))
	for i, l := range logs {
		ml[i] = l.ToDomain()
	}
	return ml, nil
}
