package rest

import (
	"errors"
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
)

type ProfileController struct {
	Registry *nametag.Registry
}

func (c *ProfileController) InstallTo(requestAuthorizer fiber.Handler, app *fiber.App) {
	app.Post("/profile", CombineHandlers(requestAuthorizer, c.serveCreate))
	app.Put("/profile/username", CombineHandlers(requestAuthorizer, c.serveChangeUsername))
	app.Put("/profile/hash", CombineHandlers(requestAuthorizer, c.serveChangeHash))
	app.Delete("/profile", CombineHandlers(requestAuthorizer, c.serveDelete))

	app.Get("/profile/username/:username", c.serveProfileByUsername)
	app.Get("/profile/address/:address", c.serveProfileByAddress)
	app.Get("/address/:username", c.serveAddressOf)
	app.Get("/username/:address", c.serveUsernameOf)
	app.Get("/hash/:username", c.serveHashOf)
}

type profileResponse struct {
	Username string `json:"username"`
	Address  string `json:"address"`
	DataHash string `json:"dataHash"`
}

func newProfileResponse(profile nametag.Profile) profileResponse {
	return profileResponse{
		Username: profile.Username,
		Address:  profile.Owner.Hex(),
		DataHash: profile.DataHash,
	}
}

// registryError turns registry rejections into client errors. Anything else
// is left for ErrorHandler to hide.
func registryError(err error) error {
	switch {
	case errors.Is(err, nametag.ErrInvalidUsername):
		return fiber.NewError(fiber.StatusBadRequest, nametag.ErrInvalidUsername.Error())
	case errors.Is(err, nametag.ErrInvalidDataHash):
		return fiber.NewError(fiber.StatusBadRequest, nametag.ErrInvalidDataHash.Error())
	case errors.Is(err, nametag.ErrUsernameTaken):
		return fiber.NewError(fiber.StatusConflict, nametag.ErrUsernameTaken.Error())
	case errors.Is(err, nametag.ErrProfileExists):
		return fiber.NewError(fiber.StatusConflict, nametag.ErrProfileExists.Error())
	case errors.Is(err, nametag.ErrNoProfile):
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	default:
		return err
	}
}

func (c *ProfileController) serveCreate(ctx *fiber.Ctx) error {
	caller, ok := callerOf(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	body := struct {
		Username string `json:"username"`
		DataHash string `json:"dataHash"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	err := c.Registry.CreateProfile(ctx.Context(), caller, body.Username, body.DataHash)
	if err != nil {
		return registryError(err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(newProfileResponse(nametag.Profile{
		Username: body.Username,
		Owner:    caller,
		DataHash: body.DataHash,
	}))
}

func (c *ProfileController) serveChangeUsername(ctx *fiber.Ctx) error {
	caller, ok := callerOf(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	body := struct {
		Username string `json:"username"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	if err := c.Registry.ChangeUsername(ctx.Context(), caller, body.Username); err != nil {
		return registryError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *ProfileController) serveChangeHash(ctx *fiber.Ctx) error {
	caller, ok := callerOf(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	body := struct {
		DataHash string `json:"dataHash"`
	}{}
	if err := ctx.BodyParser(&body); err != nil {
		RequestLog(ctx).WithError(err).Infoln("Invalid body.")
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}

	if err := c.Registry.ChangeProfileHash(ctx.Context(), caller, body.DataHash); err != nil {
		return registryError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *ProfileController) serveDelete(ctx *fiber.Ctx) error {
	caller, ok := callerOf(ctx)
	if !ok {
		return fiber.ErrUnauthorized
	}
	if err := c.Registry.DeleteProfile(ctx.Context(), caller); err != nil {
		return registryError(err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (c *ProfileController) serveProfileByUsername(ctx *fiber.Ctx) error {
	username, err := usernameParam(ctx)
	if err != nil {
		return err
	}
	profile, ok, err := c.Registry.ProfileByUsername(ctx.Context(), username)
	if err != nil {
		return fmt.Errorf("profile by username: %w", err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return ctx.JSON(newProfileResponse(profile))
}

func (c *ProfileController) serveProfileByAddress(ctx *fiber.Ctx) error {
	owner, err := addressParam(ctx)
	if err != nil {
		return err
	}
	profile, ok, err := c.Registry.ProfileByAddress(ctx.Context(), owner)
	if err != nil {
		return fmt.Errorf("profile by address: %w", err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return ctx.JSON(newProfileResponse(profile))
}

func (c *ProfileController) serveAddressOf(ctx *fiber.Ctx) error {
	username, err := usernameParam(ctx)
	if err != nil {
		return err
	}
	owner, ok, err := c.Registry.AddressOf(ctx.Context(), username)
	if err != nil {
		return fmt.Errorf("address of: %w", err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return ctx.JSON(map[string]string{"address": owner.Hex()})
}

func (c *ProfileController) serveUsernameOf(ctx *fiber.Ctx) error {
	owner, err := addressParam(ctx)
	if err != nil {
		return err
	}
	username, ok, err := c.Registry.UsernameOf(ctx.Context(), owner)
	if err != nil {
		return fmt.Errorf("username of: %w", err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return ctx.JSON(map[string]string{"username": username})
}

func (c *ProfileController) serveHashOf(ctx *fiber.Ctx) error {
	username, err := usernameParam(ctx)
	if err != nil {
		return err
	}
	dataHash, ok, err := c.Registry.ProfileHashByUsername(ctx.Context(), username)
	if err != nil {
		return fmt.Errorf("profile hash by username: %w", err)
	}
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return ctx.JSON(map[string]string{"dataHash": dataHash})
}

func usernameParam(ctx *fiber.Ctx) (string, error) {
	username, err := url.PathUnescape(ctx.Params("username"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid username")
	}
	// no profile can carry a name that is not valid UTF-8
	if !utf8.ValidString(username) {
		return "", fiber.NewError(fiber.StatusNotFound, nametag.ErrNoProfile.Error())
	}
	return username, nil
}

func addressParam(ctx *fiber.Ctx) (common.Address, error) {
	owner, err := wallet.ParseAddress(ctx.Params("address"))
	if err != nil {
		return common.Address{}, fiber.NewError(fiber.StatusBadRequest, "invalid address")
	}
	return owner, nil
}
