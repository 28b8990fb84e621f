package persistent

import (
	"context"
	crand "crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/buzkaaclicker/nametag"
	"github.com/buzkaaclicker/nametag/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/tidwall/buntdb"
)

const (
	sessionTTL   = 30 * 24 * time.Hour // 30 days
	challengeTTL = 5 * time.Minute
)

type Session struct {
	Id             string    `json:"id"`
	Owner          string    `json:"owner"`
	Token          string    `json:"token"`
	Ip             string    `json:"ip"`
	UserAgent      string    `json:"userAgent"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func (s Session) ToDomain() nametag.Session {
	return nametag.Session{
		Id:             s.Id,
		Owner:          common.HexToAddress(s.Owner),
		Token:          s.Token,
		Ip:             s.Ip,
		UserAgent:      s.UserAgent,
		LastAccessedAt: s.LastAccessedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

type SessionStore struct {
	Buntdb        *buntdb.DB
	ActivityStore nametag.ActivityStore
}

var _ nametag.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) CreateIndexes() error {
	err := s.Buntdb.CreateIndex("sessions", "session:*", buntdb.IndexString)
	if err != nil && !errors.Is(err, buntdb.ErrIndexExists) {
		return fmt.Errorf("create sessions index: %w", err)
	}
	return nil
}

func (s *SessionStore) RegisterNew(ctx context.Context, owner common.Address, ip string, userAgent string) (nametag.Session, error) {
	token, err := generateSessionToken()
	if err != nil {
		return nametag.Session{}, fmt.Errorf("generate token: %w", err)
	}
	id := uuid.New().String()

	err = s.ActivityStore.AddLog(ctx, owner, nametag.Activity{Name: nametag.ActivitySessionCreated, Data: map[string]interface{}{
		"ip":         ip,
		"userAgent":  userAgent,
		"session_id": id,
	}})
	if err != nil {
		return nametag.Session{}, fmt.Errorf("add session_created activity log: %w", err)
	}

	session := Session{
		Id:             id,
		Owner:          owner.Hex(),
		Token:          token,
		Ip:             ip,
		UserAgent:      userAgent,
		LastAccessedAt: time.Now().UTC(),
		ExpiresAt:      time.Now().UTC().Add(sessionTTL),
	}
	serializedSession, err := json.Marshal(&session)
	if err != nil {
		return nametag.Session{}, fmt.Errorf("session serialize: %w", err)
	}

	err = s.Buntdb.Update(func(tx *buntdb.Tx) error {
		expireOptions := &buntdb.SetOptions{Expires: true, TTL: sessionTTL}

		_, replaced, err := tx.Set("session_by_id:"+session.Id, session.Token, expireOptions)
		if err != nil {
			return fmt.Errorf("set map session id to auth token: %w", err)
		}
		if replaced {
			return fmt.Errorf("rarest uuid collision '%s' (not possible)", session.Id)
		}

		_, _, err = tx.Set("session:"+session.Token, string(serializedSession), expireOptions)
		if err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		return nil
	})
	if err != nil {
		return nametag.Session{}, fmt.Errorf("bunt update: %w", err)
	}
	return session.ToDomain(), nil
}

func getSession(tx *buntdb.Tx, token string) (Session, error) {
	var session Session
	serializedSession, err := tx.Get("session:" + token)
	if err != nil {
		return session, fmt.Errorf("get serialized session: %w", err)
	}
	if err := json.Unmarshal([]byte(serializedSession), &session); err != nil {
		return session, fmt.Errorf("deserialize session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) ByToken(token string) (nametag.Session, error) {
	var session Session
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		var err error
		session, err = getSession(tx, token)
		return err
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.Session{}, nametag.ErrSessionNotFound
		}
		return nametag.Session{}, fmt.Errorf("buntdb view: %w", err)
	}
	return session.ToDomain(), nil
}

// ownerSessions lists sessions of the owner of the session with given token.
func (s *SessionStore) ownerSessions(tx *buntdb.Tx, token string) ([]Session, error) {
	current, err := getSession(tx, token)
	if err != nil {
		return nil, err
	}

	sessions := make([]Session, 0, 10)
	var listErr error
	err = tx.Ascend("sessions", func(key, value string) bool {
		var session Session
		if err := json.Unmarshal([]byte(value), &session); err != nil {
			listErr = fmt.Errorf("deserialize session: %w", err)
			return false
		}
		if session.Owner == current.Owner {
			sessions = append(sessions, session)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("ascend sessions: %w", err)
	}
	if listErr != nil {
		return nil, fmt.Errorf("ascend content sessions: %w", listErr)
	}
	return sessions, nil
}

func (s *SessionStore) ActiveSessions(token string) ([]nametag.Session, error) {
	var sessions []Session
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		var err error
		sessions, err = s.ownerSessions(tx, token)
		if err != nil {
			return fmt.Errorf("lookup active sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, nametag.ErrSessionNotFound
		}
		return nil, fmt.Errorf("buntdb view: %w", err)
	}
	domain := make([]nametag.Session, len(sessions))
	for i, session := range sessions {
		domain[i] = session.ToDomain()
	}
	return domain, nil
}

func (s *SessionStore) AcquireAndRefresh(ctx context.Context, token string, ip string, userAgent string) (nametag.Session, error) {
	var previousSession, session Session
	// read and write in one transaction, so a session invalidated meanwhile
	// is not stored again
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		var err error
		previousSession, err = getSession(tx, token)
		if err != nil {
			return err
		}

		// copy session
		session = previousSession
		session.Ip = ip
		session.UserAgent = userAgent
		session.LastAccessedAt = time.Now().UTC()
		session.ExpiresAt = time.Now().UTC().Add(sessionTTL)
		serializedSession, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("serialize session: %w", err)
		}

		expireOptions := &buntdb.SetOptions{Expires: true, TTL: sessionTTL}
		_, _, err = tx.Set("session:"+token, string(serializedSession), expireOptions)
		if err != nil {
			return fmt.Errorf("store session: %w", err)
		}
		_, _, err = tx.Set("session_by_id:"+session.Id, token, expireOptions)
		if err != nil {
			return fmt.Errorf("store session id: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.Session{}, nametag.ErrSessionNotFound
		}
		return nametag.Session{}, fmt.Errorf("refresh session in buntdb: %w", err)
	}

	owner := common.HexToAddress(session.Owner)
	if previousSession.Ip != session.Ip {
		activity := nametag.Activity{Name: nametag.ActivitySessionChangedIp, Data: map[string]interface{}{
			"session_id":  session.Id,
			"previous_ip": previousSession.Ip,
			"new_ip":      session.Ip,
		}}
		if err := s.ActivityStore.AddLog(ctx, owner, activity); err != nil {
			return nametag.Session{}, fmt.Errorf("log ip change: %w", err)
		}
	}
	if previousSession.UserAgent != session.UserAgent {
		activity := nametag.Activity{Name: nametag.ActivitySessionChangedUserAgent, Data: map[string]interface{}{
			"session_id":          session.Id,
			"previous_user_agent": previousSession.UserAgent,
			"new_user_agent":      session.UserAgent,
		}}
		if err := s.ActivityStore.AddLog(ctx, owner, activity); err != nil {
			return nametag.Session{}, fmt.Errorf("log useragent change: %w", err)
		}
	}
	return session.ToDomain(), nil
}

func (s *SessionStore) InvalidateById(owner common.Address, sessionId string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		token, err := tx.Get("session_by_id:" + sessionId)
		if err != nil {
			return fmt.Errorf("get session by id: %w", err)
		}
		session, err := getSession(tx, token)
		if err != nil {
			return err
		}
		if common.HexToAddress(session.Owner) != owner {
			return nametag.ErrSessionNotFound
		}

		if _, err = tx.Delete("session:" + token); err != nil {
			return fmt.Errorf("delete session by auth token: %w", err)
		}
		if _, err = tx.Delete("session_by_id:" + sessionId); err != nil {
			return fmt.Errorf("delete session by id: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.ErrSessionNotFound
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *SessionStore) InvalidateByAuthToken(authToken string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		serializedSession, err := tx.Delete("session:" + authToken)
		if err != nil {
			return fmt.Errorf("delete session key: %w", err)
		}
		var session Session
		err = json.Unmarshal([]byte(serializedSession), &session)
		if err != nil {
			return fmt.Errorf("deserialize deleted session: %w", err)
		}
		_, err = tx.Delete("session_by_id:" + session.Id)
		if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return fmt.Errorf("delete session id key: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.ErrSessionNotFound
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *SessionStore) InvalidateAllExcept(exceptToken string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		sessions, err := s.ownerSessions(tx, exceptToken)
		if err != nil {
			return fmt.Errorf("ascend sessions: %w", err)
		}
		for _, session := range sessions {
			if session.Token == exceptToken {
				continue
			}

			_, err = tx.Delete("session_by_id:" + session.Id)
			if err != nil && !errors.Is(err, buntdb.ErrNotFound) {
				return fmt.Errorf("delete session_by_id: %w", err)
			}
			_, err = tx.Delete("session:" + session.Token)
			if err != nil {
				return fmt.Errorf("delete session: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.ErrSessionNotFound
		}
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func generateSessionToken() (string, error) {
	const tokenBytes = 60
	rawToken := make([]byte, tokenBytes)
	// crypto/rand - getentropy(2)
	bytesRead, err := crand.Read(rawToken)
	if err != nil {
		return "", fmt.Errorf("rand read: %w", err)
	}
	if bytesRead != tokenBytes {
		return "", fmt.Errorf("bytes read %d / required %d", bytesRead, tokenBytes)
	}
	dirtyToken := base64.StdEncoding.EncodeToString(rawToken)

	// ":" would let a token address other key spaces of the session store
	token := strings.Replace(dirtyToken, ":", "_", -1)
	return token, nil
}

// ChallengeStore keeps pending login challenges, each under its own nonce.
type ChallengeStore struct {
	Buntdb *buntdb.DB
}

var _ nametag.ChallengeStore = (*ChallengeStore)(nil)

type challenge struct {
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func challengeKey(owner common.Address, nonce string) string {
	return "challenge:" + owner.Hex() + ":" + nonce
}

func (c challenge) toDomain(owner common.Address, nonce string) nametag.Challenge {
	return nametag.Challenge{Owner: owner, Nonce: nonce, Message: c.Message, ExpiresAt: c.ExpiresAt}
}

func (s *ChallengeStore) Issue(owner common.Address) (nametag.Challenge, error) {
	nonce, err := wallet.GenerateNonce()
	if err != nil {
		return nametag.Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	expiresAt := time.Now().UTC().Add(challengeTTL).Truncate(time.Second)
	c := challenge{
		Message:   wallet.ChallengeMessage(owner, nonce, expiresAt),
		ExpiresAt: expiresAt,
	}
	serialized, err := json.Marshal(&c)
	if err != nil {
		return nametag.Challenge{}, fmt.Errorf("serialize challenge: %w", err)
	}

	err = s.Buntdb.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(challengeKey(owner, nonce), string(serialized),
			&buntdb.SetOptions{Expires: true, TTL: challengeTTL})
		return err
	})
	if err != nil {
		return nametag.Challenge{}, fmt.Errorf("bunt update: %w", err)
	}
	return c.toDomain(owner, nonce), nil
}

func (s *ChallengeStore) Consume(owner common.Address, nonce string, verify func(nametag.Challenge) error) (nametag.Challenge, error) {
	if nonce == "" {
		return nametag.Challenge{}, nametag.ErrChallengeNotFound
	}
	key := challengeKey(owner, nonce)

	var c challenge
	var verifyErr error
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		serialized, err := tx.Get(key)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(serialized), &c); err != nil {
			return fmt.Errorf("deserialize challenge: %w", err)
		}
		if verifyErr = verify(c.toDomain(owner, nonce)); verifyErr != nil {
			return verifyErr
		}
		_, err = tx.Delete(key)
		return err
	})
	if verifyErr != nil {
		return nametag.Challenge{}, verifyErr
	}
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nametag.Challenge{}, nametag.ErrChallengeNotFound
		}
		return nametag.Challenge{}, fmt.Errorf("bunt update: %w", err)
	}
	return c.toDomain(owner, nonce), nil
}
