package persistent

import (
	"context"
	"errors"
	"testing"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/inmem"
	"github.com/buzkaaclicker/nametag/storetest"
	"github.com/buzkaaclicker/nametag/wallet"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/buntdb"
)

func openTestBunt(t *testing.T) *buntdb.DB {
	bdb, err := buntdb.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bdb.Close() })
	return bdb
}

func TestSessionRegisterAndRefresh(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	activityStore := inmem.NewActivityStore()
	sessionStore := &SessionStore{Buntdb: openTestBunt(t), ActivityStore: activityStore}
	if !assert.NoError(sessionStore.CreateIndexes()) {
		return
	}

	session, err := sessionStore.RegisterNew(ctx, storetest.Account1, "192.168.0.101", "Chrome/openBased")
	if !assert.NoError(err) {
		return
	}
	assert.Equal(storetest.Account1, session.Owner)
	assert.Equal("192.168.0.101", session.Ip)
	assert.Equal("Chrome/openBased", session.UserAgent)

	logs, err := activityStore.ByOwner(ctx, session.Owner, -1, 100)
	if !assert.NoError(err) || !assert.Equal(1, len(logs)) {
		return
	}
	lastLog := logs[0]
	assert.Equal(nametag.ActivitySessionCreated, lastLog.Name)
	assert.Equal("192.168.0.101", lastLog.Data["ip"])
	assert.Equal("Chrome/openBased", lastLog.Data["userAgent"])

	byToken, err := sessionStore.ByToken(session.Token)
	if assert.NoError(err) {
		assert.Equal(session.Id, byToken.Id)
	}

	// test refresh without changes
	{
		session, err := sessionStore.AcquireAndRefresh(ctx, session.Token, "192.168.0.101", "Chrome/openBased")
		if !assert.NoError(err) {
			return
		}
		refreshedLogs, err := activityStore.ByOwner(ctx, session.Owner, -1, 100)
		if !assert.NoError(err) {
			return
		}
		// session refresh should not change logs
		assert.Equal(logs, refreshedLogs)
	}

	// test refresh with different ip
	{
		session, err := sessionStore.AcquireAndRefresh(ctx, session.Token, "192.168.0.102", "Chrome/openBased")
		if !assert.NoError(err) {
			return
		}
		refreshedLogs, err := activityStore.ByOwner(ctx, session.Owner, -1, 100)
		if !assert.NoError(err) {
			return
		}
		assert.Equal(len(logs)+1, len(refreshedLogs))

		latestLog := refreshedLogs[0]
		if assert.Equal(nametag.ActivitySessionChangedIp, latestLog.Name) {
			assert.Equal(session.Id, latestLog.Data["session_id"])
			assert.Equal("192.168.0.101", latestLog.Data["previous_ip"])
			assert.Equal("192.168.0.102", latestLog.Data["new_ip"])
		}
	}

	// test refresh with different user agent
	{
		session, err := sessionStore.AcquireAndRefresh(ctx, session.Token, "192.168.0.102", "Safari/macbockOS")
		if !assert.NoError(err) {
			return
		}
		refreshedLogs, err := activityStore.ByOwner(ctx, session.Owner, -1, 100)
		if !assert.NoError(err) {
			return
		}
		assert.Equal(len(logs)+2, len(refreshedLogs))

		latestLog := refreshedLogs[0]
		if assert.Equal(nametag.ActivitySessionChangedUserAgent, latestLog.Name) {
			assert.Equal(session.Id, latestLog.Data["session_id"])
			assert.Equal("Chrome/openBased", latestLog.Data["previous_user_agent"])
			assert.Equal("Safari/macbockOS", latestLog.Data["new_user_agent"])
		}
	}

	_, err = sessionStore.AcquireAndRefresh(ctx, "unknown", "", "")
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
}

func TestSessionInvalidation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sessionStore := &SessionStore{Buntdb: openTestBunt(t), ActivityStore: inmem.NewActivityStore()}
	if !assert.NoError(sessionStore.CreateIndexes()) {
		return
	}

	register := func(ip string) nametag.Session {
		session, err := sessionStore.RegisterNew(ctx, storetest.Account1, ip, "agent")
		if err != nil {
			t.Fatal(err)
		}
		return session
	}
	first := register("10.0.0.1")
	second := register("10.0.0.2")
	third := register("10.0.0.3")
	foreign, err := sessionStore.RegisterNew(ctx, storetest.Account2, "10.0.0.4", "agent")
	if !assert.NoError(err) {
		return
	}

	active, err := sessionStore.ActiveSessions(first.Token)
	if assert.NoError(err) {
		assert.Equal(3, len(active))
		for _, session := range active {
			assert.Equal(storetest.Account1, session.Owner)
		}
	}

	// sessions of another owner cannot be invalidated by id
	assert.ErrorIs(sessionStore.InvalidateById(storetest.Account1, foreign.Id), nametag.ErrSessionNotFound)
	_, err = sessionStore.ByToken(foreign.Token)
	assert.NoError(err)

	assert.NoError(sessionStore.InvalidateById(storetest.Account1, second.Id))
	_, err = sessionStore.ByToken(second.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
	assert.ErrorIs(sessionStore.InvalidateById(storetest.Account1, second.Id), nametag.ErrSessionNotFound)

	assert.NoError(sessionStore.InvalidateAllExcept(first.Token))
	_, err = sessionStore.ByToken(third.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
	_, err = sessionStore.ByToken(first.Token)
	assert.NoError(err)
	_, err = sessionStore.ByToken(foreign.Token)
	assert.NoError(err)

	assert.NoError(sessionStore.InvalidateByAuthToken(first.Token))
	_, err = sessionStore.ByToken(first.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
	assert.ErrorIs(sessionStore.InvalidateByAuthToken(first.Token), nametag.ErrSessionNotFound)

	_, err = sessionStore.ActiveSessions(first.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
}

func TestRefreshDoesNotRestoreInvalidatedSession(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	sessionStore := &SessionStore{Buntdb: openTestBunt(t), ActivityStore: inmem.NewActivityStore()}
	if !assert.NoError(sessionStore.CreateIndexes()) {
		return
	}

	loggedOut, err := sessionStore.RegisterNew(ctx, storetest.Account1, "10.0.0.1", "agent")
	if !assert.NoError(err) {
		return
	}
	assert.NoError(sessionStore.InvalidateByAuthToken(loggedOut.Token))
	_, err = sessionStore.AcquireAndRefresh(ctx, loggedOut.Token, "10.0.0.2", "agent")
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
	_, err = sessionStore.ByToken(loggedOut.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)

	kept, err := sessionStore.RegisterNew(ctx, storetest.Account1, "10.0.0.1", "agent")
	if !assert.NoError(err) {
		return
	}
	revoked, err := sessionStore.RegisterNew(ctx, storetest.Account1, "10.0.0.3", "agent")
	if !assert.NoError(err) {
		return
	}
	assert.NoError(sessionStore.InvalidateAllExcept(kept.Token))
	_, err = sessionStore.AcquireAndRefresh(ctx, revoked.Token, "10.0.0.3", "agent")
	assert.ErrorIs(err, nametag.ErrSessionNotFound)
	_, err = sessionStore.ByToken(revoked.Token)
	assert.ErrorIs(err, nametag.ErrSessionNotFound)

	sessions, err := sessionStore.ActiveSessions(kept.Token)
	if assert.NoError(err) && assert.Equal(1, len(sessions)) {
		assert.Equal(kept.Id, sessions[0].Id)
	}
}

func TestChallengeStore(t *testing.T) {
	assert := assert.New(t)

	store := &ChallengeStore{Buntdb: openTestBunt(t)}
	accept := func(nametag.Challenge) error { return nil }
	errRejected := errors.New("rejected")
	reject := func(nametag.Challenge) error { return errRejected }

	_, err := store.Consume(storetest.Account1, "00", accept)
	assert.ErrorIs(err, nametag.ErrChallengeNotFound)

	first, err := store.Issue(storetest.Account1)
	if !assert.NoError(err) {
		return
	}
	second, err := store.Issue(storetest.Account1)
	if !assert.NoError(err) {
		return
	}
	assert.NotEqual(first.Nonce, second.Nonce)
	assert.NotEqual(first.Message, second.Message)
	assert.Contains(second.Message, storetest.Account1.Hex())
	assert.Contains(second.Message, second.Nonce)

	_, err = store.Consume(storetest.Account1, "", accept)
	assert.ErrorIs(err, nametag.ErrChallengeNotFound)
	// a challenge of one owner is not pending for another
	_, err = store.Consume(storetest.Account2, first.Nonce, accept)
	assert.ErrorIs(err, nametag.ErrChallengeNotFound)

	// a rejected challenge stays pending
	_, err = store.Consume(storetest.Account1, first.Nonce, reject)
	assert.ErrorIs(err, errRejected)

	var verified nametag.Challenge
	consumed, err := store.Consume(storetest.Account1, first.Nonce, func(c nametag.Challenge) error {
		verified = c
		return nil
	})
	if assert.NoError(err) {
		assert.Equal(first, consumed)
		assert.Equal(first, verified)
	}
	_, err = store.Consume(storetest.Account1, first.Nonce, accept)
	assert.ErrorIs(err, nametag.ErrChallengeNotFound)

	// issuing another challenge left the second one pending
	consumed, err = store.Consume(storetest.Account1, second.Nonce, accept)
	if assert.NoError(err) {
		assert.Equal(second, consumed)
	}
}

func TestGenerateSessionTokenLength(t *testing.T) {
	assert := assert.New(t)

	token, err := generateSessionToken()
	if assert.NoError(err) {
		assert.True(len(token) > 20)
		assert.NotContains(token, ":")
	}
}

func TestChallengeSignedByOwner(t *testing.T) {
	assert := assert.New(t)
	store := &ChallengeStore{Buntdb: openTestBunt(t)}

	key, err := crypto.GenerateKey()
	if !assert.NoError(err) {
		return
	}
	owner := crypto.PubkeyToAddress(key.PublicKey)

	c, err := store.Issue(owner)
	if !assert.NoError(err) {
		return
	}
	signature, err := wallet.Sign(key, c.Message)
	if !assert.NoError(err) {
		return
	}
	assert.NoError(wallet.Verify(owner, c.Message, hexutil.Encode(signature)))
	assert.ErrorIs(wallet.Verify(storetest.Account1, c.Message, hexutil.Encode(signature)), wallet.ErrSignatureMismatch)
}
