package mock

import (
	"context"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
)

type SessionStore struct {
	RegisterNewFn func(ctx context.Context, owner common.Address, ip string, userAgent string) (nametag.Session, error)

	ByTokenFn func(token string) (nametag.Session, error)

	ActiveSessionsFn func(token string) ([]nametag.Session, error)

	AcquireAndRefreshFn func(ctx context.Context, token string, ip string, userAgent string) (nametag.Session, error)

	InvalidateByIdFn func(owner common.Address, sessionId string) error

	InvalidateByAuthTokenFn func(authToken string) error

	InvalidateAllExceptFn func(exceptToken string) error
}

func (s SessionStore) RegisterNew(ctx context.Context, owner common.Address, ip string, userAgent string) (nametag.Session, error) {
	return s.RegisterNewFn(ctx, owner, ip, userAgent)
}

func (s SessionStore) ByToken(token string) (nametag.Session, error) {
	return s.ByTokenFn(token)
}

func (s SessionStore) ActiveSessions(token string) ([]nametag.Session, error) {
	return s.ActiveSessionsFn(token)
}

func (s SessionStore) AcquireAndRefresh(ctx context.Context, token string, ip string, userAgent string) (nametag.Session, error) {
	return s.AcquireAndRefreshFn(ctx, token, ip, userAgent)
}

func (s SessionStore) InvalidateById(owner common.Address, sessionId string) error {
	return s.InvalidateByIdFn(owner, sessionId)
}

func (s SessionStore) InvalidateByAuthToken(authToken string) error {
	return s.InvalidateByAuthTokenFn(authToken)
}

func (s SessionStore) InvalidateAllExcept(exceptToken string) error {
	return s.InvalidateAllExceptFn(exceptToken)
}
