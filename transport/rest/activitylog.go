package rest

import (
	"fmt"
	"strconv"

	"github.com/buzkaaclicker/nametag"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

type ActivityController struct {
	Store nametag.ActivityStore
}

func (c *ActivityController) InstallTo(authorizationHandler fiber.Handler, app *fiber.App) {
	app.Get("/activities", CombineHandlers(authorizationHandler, c.serveLastActivity))
}

func (c *ActivityController) serveLastActivity(ctx *fiber.Ctx) error {
	owner, ok := callerOf(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}

	beforeId := int64(-1)
	if before := ctx.Query("before"); before != "" {
		parsed, err := strconv.ParseInt(before, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid before")
		}
		beforeId = parsed
	}
	limit := defaultActivityLimit
	if rawLimit := ctx.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "invalid limit")
		}
		if parsed > maxActivityLimit {
			parsed = maxActivityLimit
		}
		limit = parsed
	}

	logs, err := c.Store.ByOwner(ctx.Context(), owner, beforeId, limit)
	if err != nil {
		return fmt.Errorf("get logs by owner: %w", err)
	}

	type Log struct {
		Id        int64                  `json:"id"`
		CreatedAt int64                  `json:"createdAt"`
		Name      string                 `json:"name"`
		Data      map[string]interface{} `json:"data,omitempty"`
	}
	mapped := make([]Log, len(logs))
	for i, log := range logs {
		mapped[i] = Log{Id: log.Id, CreatedAt: log.CreatedAt.Unix(), Name: log.Name, Data: log.Data}
	}
	return ctx.JSON(mapped)
}
