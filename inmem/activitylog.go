package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
)

type ActivityStore struct {
	lastId int64
	logs   map[common.Address][]nametag.ActivityLog
	mutex  sync.RWMutex
}

var _ nametag.ActivityStore = (*ActivityStore)(nil)

func NewActivityStore() *ActivityStore {
	return &ActivityStore{
		logs: make(map[common.Address][]nametag.ActivityLog),
	}
}

func (s *ActivityStore) AddLog(ctx context.Context, owner common.Address, activity nametag.Activity) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var data map[string]interface{}
	if activity.Data != nil {
		data = make(map[string]interface{}, len(activity.Data))
		for k, v := range activity.Data {
			data[k] = v
		}
	}

	s.lastId++
	s.logs[owner] = append(s.logs[owner], nametag.ActivityLog{
		Id:        s.lastId,
		CreatedAt: time.Now().UTC(),
		Owner:     owner,
		Name:      activity.Name,
		Data:      data,
	})
	return nil
}

func (s *ActivityStore) ByOwner(ctx context.Context, owner common.Address, beforeId int64, limit int) ([]nametag.ActivityLog, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ologs := s.logs[owner]
	result := make([]nametag.ActivityLog, 0, len(ologs))
	// stored oldest first, returned newest first
	for i := len(ologs) - 1; i >= 0 && len(result) < limit; i-- {
		if beforeId >= 0 && ologs[i].Id >= beforeId {
			continue
		}
		result = append(result, ologs[i])
	}
	return result, nil
}
