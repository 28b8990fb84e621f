package rest

import (
	"errors"
	"fmt"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/wallet"
	"github.com/gofiber/fiber/v2"
)

type AuthController struct {
	ChallengeStore nametag.ChallengeStore
	SessionStore   nametag.SessionStore
}

func (c *AuthController) InstallTo(app *fiber.App) {
	app.Post("/auth/challenge", c.serveChallenge)
	app.Post("/auth/login", c.serveLogin)
	app.Post("/auth/logout", c.logoutHandler())
}

func (c *AuthController) serveChallenge(ctx *fiber.Ctx) error {
	body := struct {
		Address string `json:"address"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	owner, err := wallet.ParseAddress(body.Address)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid address")
	}

	challenge, err := c.ChallengeStore.Issue(owner)
	if err != nil {
		return fmt.Errorf("issue challenge: %w", err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(map[string]interface{}{
		"address":   challenge.Owner.Hex(),
		"nonce":     challenge.Nonce,
		"message":   challenge.Message,
		"expiresAt": challenge.ExpiresAt.Unix(),
	})
}

func (c *AuthController) serveLogin(ctx *fiber.Ctx) error {
	body := struct {
		Address   string `json:"address"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	owner, err := wallet.ParseAddress(body.Address)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid address")
	}
	if body.Nonce == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing nonce")
	}

	var signatureErr error
	_, err = c.ChallengeStore.Consume(owner, body.Nonce, func(challenge nametag.Challenge) error {
		signatureErr = wallet.Verify(owner, challenge.Message, body.Signature)
		return signatureErr
	})
	switch {
	case err == nil:
	case signatureErr != nil:
		RequestLog(ctx).
			WithField("owner", owner.Hex()).
			WithError(signatureErr).
			Infoln("Rejected login signature.")
		return fiber.NewError(fiber.StatusUnauthorized, "invalid signature")
	case errors.Is(err, nametag.ErrChallengeNotFound):
		return fiber.NewError(fiber.StatusUnauthorized, "no pending challenge")
	default:
		return fmt.Errorf("consume challenge: %w", err)
	}

	session, err := c.SessionStore.RegisterNew(ctx.Context(), owner, ctx.IP(), string(ctx.Request().Header.UserAgent()))
	if err != nil {
		return fmt.Errorf("session register new: %w", err)
	}
	RequestLog(ctx).WithField("owner", owner.Hex()).Infoln("Logged in.")

	return ctx.Status(fiber.StatusCreated).JSON(map[string]interface{}{
		"id":          session.Id,
		"owner":       session.Owner.Hex(),
		"accessToken": session.Token,
		"expiresAt":   session.ExpiresAt.Unix(),
	})
}

func (c *AuthController) logoutHandler() fiber.Handler {
	return CombineHandlers(RequestAuthorizer(c.SessionStore), func(ctx *fiber.Ctx) error {
		session := ctx.Locals(sessionLocalsKey).(nametag.Session)
		if err := c.SessionStore.InvalidateByAuthToken(session.Token); err != nil {
			return fmt.Errorf("invalidate session: %w", err)
		}
		return nil
	})
}
