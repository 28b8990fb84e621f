package nametag

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// Session authenticates the requests of one owner after a wallet login.
type Session struct {
	Id             string
	Owner          common.Address
	Token          string
	Ip             string
	UserAgent      string
	LastAccessedAt time.Time
	ExpiresAt      time.Time
}

type SessionStore interface {
	RegisterNew(ctx context.Context, owner common.Address, ip string, userAgent string) (Session, error)

	ByToken(token string) (Session, error)

	// Sessions of the owner of the session identified by token.
	ActiveSessions(token string) ([]Session, error)

	AcquireAndRefresh(ctx context.Context, token string, ip string, userAgent string) (Session, error)

	InvalidateById(owner common.Address, sessionId string) error

	InvalidateByAuthToken(authToken string) error

	InvalidateAllExcept(exceptToken string) error
}

// Challenge is a one-time login message an owner has to sign with its key.
// An owner may have several pending challenges, told apart by Nonce.
type Challenge struct {
	Owner     common.Address
	Nonce     string
	Message   string
	ExpiresAt time.Time
}

type ChallengeStore interface {
	Issue(owner common.Address) (Challenge, error)

	// Consume hands the pending challenge identified by owner and nonce to
	// verify and removes it only when verify returns nil. A rejected
	// challenge stays pending and the error of verify is returned as is.
	Consume(owner common.Address, nonce string, verify func(Challenge) error) (Challenge, error)
}
