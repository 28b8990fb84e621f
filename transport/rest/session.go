package rest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

const (
	sessionLocalsKey = "session"
	ownerLocalsKey   = "owner"
)

type SessionController struct {
	Store nametag.SessionStore
}

func (c *SessionController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Get("/session", CombineHandlers(requestAuthorizer, c.serveCurrentSession))
	app.Delete("/session/:session_id", CombineHandlers(requestAuthorizer, c.serveDeleteSession))
	app.Get("/sessions", CombineHandlers(requestAuthorizer, c.serveSessions))
	app.Delete("/sessions/other", CombineHandlers(requestAuthorizer, c.serveDeleteOtherSessions))
}

type sessionMeta struct {
	Id             string `json:"id"`
	Owner          string `json:"owner"`
	Ip             string `json:"ip"`
	UserAgent      string `json:"userAgent"`
	LastAccessedAt int64  `json:"lastAccessedAt"`
	ExpiresAt      int64  `json:"expiresAt"`
}

// metaOf describes a session without giving access to its token.
func metaOf(session nametag.Session) sessionMeta {
	return sessionMeta{
		Id:             session.Id,
		Owner:          session.Owner.Hex(),
		Ip:             session.Ip,
		UserAgent:      session.UserAgent,
		LastAccessedAt: session.LastAccessedAt.Unix(),
		ExpiresAt:      session.ExpiresAt.Unix(),
	}
}

func (c *SessionController) serveCurrentSession(ctx *fiber.Ctx) error {
	session, ok := ctx.Locals(sessionLocalsKey).(nametag.Session)
	if !ok {
		return fiber.ErrUnauthorized
	}
	return ctx.JSON(metaOf(session))
}

func (c *SessionController) serveSessions(ctx *fiber.Ctx) error {
	session, ok := ctx.Locals(sessionLocalsKey).(nametag.Session)
	if !ok {
		return fiber.ErrUnauthorized
	}

	activeSessions, err := c.Store.ActiveSessions(session.Token)
	if err != nil {
		if errors.Is(err, nametag.ErrSessionNotFound) {
			return fiber.ErrForbidden
		}
		return err
	}

	metas := make([]sessionMeta, len(activeSessions))
	for i, session := range activeSessions {
		metas[i] = metaOf(session)
	}
	return ctx.JSON(metas)
}

func (c *SessionController) serveDeleteSession(ctx *fiber.Ctx) error {
	encodedSessionId := ctx.Params("session_id")
	if encodedSessionId == "" {
		return fiber.NewError(fiber.StatusBadRequest, "no session id")
	}
	session, ok := ctx.Locals(sessionLocalsKey).(nametag.Session)
	if !ok {
		return fiber.ErrUnauthorized
	}

	sessionId, err := url.PathUnescape(encodedSessionId)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid session id")
	}

	if session.Id == sessionId {
		err = c.Store.InvalidateByAuthToken(session.Token)
	} else {
		err = c.Store.InvalidateById(session.Owner, sessionId)
	}
	if err != nil {
		if errors.Is(err, nametag.ErrSessionNotFound) {
			return fiber.ErrForbidden
		}
		return fmt.Errorf("session invalidate: %w", err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *SessionController) serveDeleteOtherSessions(ctx *fiber.Ctx) error {
	session, ok := ctx.Locals(sessionLocalsKey).(nametag.Session)
	if !ok {
		return fiber.ErrUnauthorized
	}
	if err := c.Store.InvalidateAllExcept(session.Token); err != nil {
		return fmt.Errorf("invalidate other sessions: %w", err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// RequestAuthorizer resolves the bearer token to a session and stores the
// session and its owner in the request locals.
func RequestAuthorizer(sessionStore nametag.SessionStore) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		auth := ctx.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return fiber.ErrUnauthorized
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			return fiber.NewError(fiber.StatusBadRequest, "invalid auth type")
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		session, err := sessionStore.AcquireAndRefresh(ctx.Context(), token, ctx.IP(),
			string(ctx.Request().Header.UserAgent()))
		if err != nil {
			if errors.Is(err, nametag.ErrSessionNotFound) {
				return fiber.ErrUnauthorized
			}
			return fmt.Errorf("acquire and refresh session: %w", err)
		}

		RequestLog(ctx).
			WithField("owner", session.Owner.Hex()).
			Debugln("Authorized access.")

		ctx.Locals(sessionLocalsKey, session)
		ctx.Locals(ownerLocalsKey, session.Owner)
		return nil
	}
}

func callerOf(ctx *fiber.Ctx) (common.Address, bool) {
	owner, ok := ctx.Locals(ownerLocalsKey).(common.Address)
	return owner, ok
}
