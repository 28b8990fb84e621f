package nametag

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ActivitySessionCreated          = "session_created"
	ActivitySessionChangedIp        = "session_changed_ip"
	ActivitySessionChangedUserAgent = "session_changed_user_agent"
)

type Activity struct {
	Name string
	Data map[string]interface{}
}

type ActivityLog struct {
	Id        int64
	CreatedAt time.Time
	Owner     common.Address
	Name      string
	Data      map[string]interface{}
}

type ActivityStore interface {
	AddLog(ctx context.Context, owner common.Address, activity Activity) error

	// "beforeId" - get logs before log with given id. If lower than 0 then gets recent logs up to "limit".
	// Newest logs come first.
	ByOwner(ctx context.Context, owner common.Address, beforeId int64, limit int) ([]ActivityLog, error)
}
