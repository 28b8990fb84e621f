package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/inmem"
	"github.com/buzkaaclicker/nametag/persistent"
	"github.com/buzkaaclicker/nametag/wallet"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/buntdb"
)

type authFixture struct {
	app           *fiber.App
	sessionStore  *persistent.SessionStore
	activityStore *inmem.ActivityStore
}

func newAuthFixture(t *testing.T) authFixture {
	bunt, err := buntdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = bunt.Close()
	})

	activityStore := inmem.NewActivityStore()
	sessionStore := &persistent.SessionStore{
		Buntdb:        bunt,
		ActivityStore: activityStore,
	}
	if err := sessionStore.CreateIndexes(); err != nil {
		t.Fatal(err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	authController := AuthController{
		ChallengeStore: &persistent.ChallengeStore{Buntdb: bunt},
		SessionStore:   sessionStore,
	}
	authController.InstallTo(app)
	return authFixture{app: app, sessionStore: sessionStore, activityStore: activityStore}
}

func postJson(app *fiber.App, path string, body interface{}) (*http.Response, []byte, error) {
	serialized, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(serialized))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := ioutil.ReadAll(resp.Body)
	return resp, respBody, err
}

type issuedChallenge struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

func requestChallenge(app *fiber.App, address string) (issuedChallenge, error) {
	var challenge issuedChallenge
	resp, body, err := postJson(app, "/auth/challenge", map[string]string{"address": address})
	if err != nil {
		return challenge, err
	}
	if resp.StatusCode != fiber.StatusCreated {
		return challenge, fmt.Errorf("challenge status %d: %s", resp.StatusCode, body)
	}
	err = json.Unmarshal(body, &challenge)
	return challenge, err
}

func postLogin(app *fiber.App, address string, nonce string, signature string) (*http.Response, []byte, error) {
	return postJson(app, "/auth/login", map[string]string{
		"address":   address,
		"nonce":     nonce,
		"signature": signature,
	})
}

func Test_AuthLoginLogoutFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fixture := newAuthFixture(t)

	key, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	challenge, err := requestChallenge(fixture.app, owner.Hex())
	if !assert.NoError(err) {
		return
	}
	assert.Contains(challenge.Message, owner.Hex())
	assert.Contains(challenge.Message, challenge.Nonce)

	signature, err := wallet.Sign(key, challenge.Message)
	if !assert.NoError(err) {
		return
	}
	resp, body, err := postLogin(fixture.app, owner.Hex(), challenge.Nonce, hexutil.Encode(signature))
	if !assert.NoError(err) || !assert.Equal(fiber.StatusCreated, resp.StatusCode, string(body)) {
		return
	}
	assert.Equal(fiber.MIMEApplicationJSON, resp.Header.Get(fiber.HeaderContentType))

	var login struct {
		Owner       string `json:"owner"`
		AccessToken string `json:"accessToken"`
	}
	if !assert.NoError(json.Unmarshal(body, &login)) {
		return
	}
	assert.Equal(owner.Hex(), login.Owner)

	session, err := fixture.sessionStore.ByToken(login.AccessToken)
	if assert.NoError(err) {
		assert.Equal(owner, session.Owner)
	}
	logs, err := fixture.activityStore.ByOwner(ctx, owner, -1, 10)
	if assert.NoError(err) && assert.Equal(1, len(logs)) {
		assert.Equal(nametag.ActivitySessionCreated, logs[0].Name)
	}

	// the challenge was consumed by the login
	resp, body, err = postLogin(fixture.app, owner.Hex(), challenge.Nonce, hexutil.Encode(signature))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("no pending challenge"), string(body))
	}

	req := httptest.NewRequest("POST", "/auth/logout", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+login.AccessToken)
	logoutResp, err := fixture.app.Test(req)
	if !assert.NoError(err) {
		return
	}
	assert.Equal(fiber.StatusOK, logoutResp.StatusCode)
	_, err = fixture.sessionStore.ByToken(login.AccessToken)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
}

func Test_AuthLoginRejections(t *testing.T) {
	assert := assert.New(t)
	fixture := newAuthFixture(t)

	key, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	otherKey, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}

	resp, body, err := postJson(fixture.app, "/auth/challenge", map[string]string{"address": "0x1234"})
	if assert.NoError(err) {
		assert.Equal(fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("invalid address"), string(body))
	}

	challenge, err := requestChallenge(fixture.app, owner.Hex())
	if !assert.NoError(err) {
		return
	}
	signature, err := wallet.Sign(key, challenge.Message)
	if !assert.NoError(err) {
		return
	}

	resp, body, err = postLogin(fixture.app, owner.Hex(), "", hexutil.Encode(signature))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusBadRequest, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("missing nonce"), string(body))
	}
	resp, body, err = postLogin(fixture.app, owner.Hex(), "0123", hexutil.Encode(signature))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("no pending challenge"), string(body))
	}

	// signed by a key that does not own the address
	forged, err := wallet.Sign(otherKey, challenge.Message)
	if !assert.NoError(err) {
		return
	}
	resp, body, err = postLogin(fixture.app, owner.Hex(), challenge.Nonce, hexutil.Encode(forged))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("invalid signature"), string(body))
	}
	resp, body, err = postLogin(fixture.app, owner.Hex(), challenge.Nonce, "not hex")
	if assert.NoError(err) {
		assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
		assert.Equal(JsonErrorMessageResponse("invalid signature"), string(body))
	}

	// rejected attempts leave the challenge to its owner
	resp, body, err = postLogin(fixture.app, owner.Hex(), challenge.Nonce, hexutil.Encode(signature))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusCreated, resp.StatusCode, string(body))
	}
}

func Test_AuthLoginSurvivesStrangerAttempts(t *testing.T) {
	assert := assert.New(t)
	fixture := newAuthFixture(t)

	key, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	strangerKey, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}

	challenge, err := requestChallenge(fixture.app, owner.Hex())
	if !assert.NoError(err) {
		return
	}

	// the nonce travels in the clear, so anyone may try to use it
	forged, err := wallet.Sign(strangerKey, challenge.Message)
	if !assert.NoError(err) {
		return
	}
	for _, junk := range []string{"0x00", hexutil.Encode(forged)} {
		resp, _, err := postLogin(fixture.app, owner.Hex(), challenge.Nonce, junk)
		if assert.NoError(err, junk) {
			assert.Equal(fiber.StatusUnauthorized, resp.StatusCode, junk)
		}
	}
	// nor does a fresh challenge requested for the owner replace the pending one
	if _, err := requestChallenge(fixture.app, owner.Hex()); !assert.NoError(err) {
		return
	}

	signature, err := wallet.Sign(key, challenge.Message)
	if !assert.NoError(err) {
		return
	}
	resp, body, err := postLogin(fixture.app, owner.Hex(), challenge.Nonce, hexutil.Encode(signature))
	if assert.NoError(err) {
		assert.Equal(fiber.StatusCreated, resp.StatusCode, string(body))
	}
}

func Test_SessionAuthorization(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	fixture := newAuthFixture(t)

	restrictedHandler := func(ctx *fiber.Ctx) error {
		owner, ok := callerOf(ctx)
		if !ok {
			return fiber.ErrUnauthorized
		}
		_, err := fmt.Fprintf(ctx, "Authorized. Owner: %s", owner.Hex())
		return err
	}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/test/restricted", CombineHandlers(RequestAuthorizer(fixture.sessionStore), restrictedHandler))

	key, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)
	session, err := fixture.sessionStore.RegisterNew(ctx, owner, "127.0.0.1", "Safari (Iphone 16 256gb space gray)")
	if !assert.NoError(err) {
		return
	}

	cases := []struct {
		authorization string
		status        int
		body          string
	}{
		{authorization: "", status: fiber.StatusUnauthorized,
			body: JsonErrorMessageResponse(fiber.ErrUnauthorized.Message)},
		{authorization: "Basic dXNlcjpwYXNz", status: fiber.StatusBadRequest,
			body: JsonErrorMessageResponse("invalid auth type")},
		{authorization: "Bearer unknown", status: fiber.StatusUnauthorized,
			body: JsonErrorMessageResponse(fiber.ErrUnauthorized.Message)},
		{authorization: "Bearer " + session.Token, status: fiber.StatusOK,
			body: "Authorized. Owner: " + owner.Hex()},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/test/restricted", nil)
		if tc.authorization != "" {
			req.Header.Set(fiber.HeaderAuthorization, tc.authorization)
		}
		resp, err := app.Test(req)
		if !assert.NoError(err, tc.authorization) {
			continue
		}
		body, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(err)
		assert.Equal(tc.status, resp.StatusCode, tc.authorization)
		assert.Equal(tc.body, string(body), tc.authorization)
	}
}
