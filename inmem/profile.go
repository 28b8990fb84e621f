package inmem

import (
	"context"
	"sync"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
)

// ProfileStore keeps both views of the profiles in memory. A single lock
// guards the two maps so readers never see one of them updated alone.
type ProfileStore struct {
	byUsername map[string]*nametag.Profile
	byOwner    map[common.Address]*nametag.Profile
	mutex      sync.RWMutex
}

var _ nametag.ProfileStore = (*ProfileStore)(nil)

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		byUsername: make(map[string]*nametag.Profile),
		byOwner:    make(map[common.Address]*nametag.Profile),
	}
}

func (s *ProfileStore) Insert(ctx context.Context, profile nametag.Profile) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.byOwner[profile.Owner]; ok {
		return nametag.ErrProfileExists
	}
	if _, ok := s.byUsername[profile.Username]; ok {
		return nametag.ErrUsernameTaken
	}
	p := profile
	s.byOwner[p.Owner] = &p
	s.byUsername[p.Username] = &p
	return nil
}

func (s *ProfileStore) Rename(ctx context.Context, owner common.Address, newUsername string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.byOwner[owner]
	if !ok {
		return nametag.ErrNoProfile
	}
	if _, ok := s.byUsername[newUsername]; ok {
		return nametag.ErrUsernameTaken
	}
	delete(s.byUsername, p.Username)
	p.Username = newUsername
	s.byUsername[newUsername] = p
	return nil
}

func (s *ProfileStore) SetDataHash(ctx context.Context, owner common.Address, dataHash string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.byOwner[owner]
	if !ok {
		return nametag.ErrNoProfile
	}
	p.DataHash = dataHash
	return nil
}

func (s *ProfileStore) Delete(ctx context.Context, owner common.Address) (nametag.Profile, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	p, ok := s.byOwner[owner]
	if !ok {
		return nametag.Profile{}, nametag.ErrNoProfile
	}
	delete(s.byOwner, owner)
	delete(s.byUsername, p.Username)
	return *p, nil
}

func (s *ProfileStore) ByUsername(ctx context.Context, username string) (nametag.Profile, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.byUsername[username]
	if !ok {
		return nametag.Profile{}, false, nil
	}
	return *p, true, nil
}

func (s *ProfileStore) ByOwner(ctx context.Context, owner common.Address) (nametag.Profile, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	p, ok := s.byOwner[owner]
	if !ok {
		return nametag.Profile{}, false, nil
	}
	return *p, true, nil
}
