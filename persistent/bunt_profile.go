package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/buntdb"
)

const (
	buntOwnerPrefix    = "profile:owner:"
	buntUsernamePrefix = "profile:username:"
)

type buntProfile struct {
	Username string `json:"username"`
	Owner    string `json:"owner"`
	DataHash string `json:"dataHash"`
}

func (p buntProfile) ToDomain() nametag.Profile {
	return nametag.Profile{
		Username: p.Username,
		Owner:    common.HexToAddress(p.Owner),
		DataHash: p.DataHash,
	}
}

// BuntProfileStore keeps profiles in buntdb. The owner key holds the record,
// the username key points at the owner. Both are written in one transaction.
type BuntProfileStore struct {
	Buntdb *buntdb.DB
}

var _ nametag.ProfileStore = (*BuntProfileStore)(nil)

func ownerKey(owner common.Address) string {
	return buntOwnerPrefix + owner.Hex()
}

func usernameKey(username string) string {
	return buntUsernamePrefix + username
}

func (s *BuntProfileStore) Insert(ctx context.Context, profile nametag.Profile) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		if _, err := getBuntProfile(tx, profile.Owner); err == nil {
			return nametag.ErrProfileExists
		} else if !errors.Is(err, nametag.ErrNoProfile) {
			return err
		}
		if err := buntUsernameAvailable(tx, profile.Username); err != nil {
			return err
		}
		return setBuntProfile(tx, buntProfile{
			Username: profile.Username,
			Owner:    profile.Owner.Hex(),
			DataHash: profile.DataHash,
		})
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *BuntProfileStore) Rename(ctx context.Context, owner common.Address, newUsername string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		profile, err := getBuntProfile(tx, owner)
		if err != nil {
			return err
		}
		if err := buntUsernameAvailable(tx, newUsername); err != nil {
			return err
		}
		if _, err := tx.Delete(usernameKey(profile.Username)); err != nil {
			return fmt.Errorf("delete old username: %w", err)
		}
		profile.Username = newUsername
		return setBuntProfile(tx, profile)
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *BuntProfileStore) SetDataHash(ctx context.Context, owner common.Address, dataHash string) error {
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		profile, err := getBuntProfile(tx, owner)
		if err != nil {
			return err
		}
		profile.DataHash = dataHash
		return setBuntProfile(tx, profile)
	})
	if err != nil {
		return fmt.Errorf("bunt update: %w", err)
	}
	return nil
}

func (s *BuntProfileStore) Delete(ctx context.Context, owner common.Address) (nametag.Profile, error) {
	var deleted buntProfile
	err := s.Buntdb.Update(func(tx *buntdb.Tx) error {
		profile, err := getBuntProfile(tx, owner)
		if err != nil {
			return err
		}
		if _, err := tx.Delete(usernameKey(profile.Username)); err != nil {
			return fmt.Errorf("delete username: %w", err)
		}
		if _, err := tx.Delete(ownerKey(owner)); err != nil {
			return fmt.Errorf("delete owner: %w", err)
		}
		deleted = profile
		return nil
	})
	if err != nil {
		return nametag.Profile{}, fmt.Errorf("bunt update: %w", err)
	}
	return deleted.ToDomain(), nil
}

func (s *BuntProfileStore) ByUsername(ctx context.Context, username string) (nametag.Profile, bool, error) {
	var profile buntProfile
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		owner, err := tx.Get(usernameKey(username))
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return nametag.ErrNoProfile
			}
			return fmt.Errorf("get username: %w", err)
		}
		profile, err = getBuntProfile(tx, common.HexToAddress(owner))
		return err
	})
	return buntLookupResult(profile, err)
}

func (s *BuntProfileStore) ByOwner(ctx context.Context, owner common.Address) (nametag.Profile, bool, error) {
	var profile buntProfile
	err := s.Buntdb.View(func(tx *buntdb.Tx) error {
		var err error
		profile, err = getBuntProfile(tx, owner)
		return err
	})
	return buntLookupResult(profile, err)
}

func buntLookupResult(profile buntProfile, err error) (nametag.Profile, bool, error) {
	switch {
	case err == nil:
		return profile.ToDomain(), true, nil
	case errors.Is(err, nametag.ErrNoProfile):
		return nametag.Profile{}, false, nil
	default:
		return nametag.Profile{}, false, fmt.Errorf("bunt view: %w", err)
	}
}

func getBuntProfile(tx *buntdb.Tx, owner common.Address) (buntProfile, error) {
	serialized, err := tx.Get(ownerKey(owner))
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return buntProfile{}, nametag.ErrNoProfile
		}
		return buntProfile{}, fmt.Errorf("get profile: %w", err)
	}
	var profile buntProfile
	if err := json.Unmarshal([]byte(serialized), &profile); err != nil {
		return buntProfile{}, fmt.Errorf("deserialize profile: %w", err)
	}
	return profile, nil
}

func setBuntProfile(tx *buntdb.Tx, profile buntProfile) error {
	serialized, err := json.Marshal(&profile)
	if err != nil {
		return fmt.Errorf("serialize profile: %w", err)
	}
	owner := common.HexToAddress(profile.Owner)
	if _, _, err := tx.Set(ownerKey(owner), string(serialized), nil); err != nil {
		return fmt.Errorf("set profile: %w", err)
	}
	if _, _, err := tx.Set(usernameKey(profile.Username), owner.Hex(), nil); err != nil {
		return fmt.Errorf("set username: %w", err)
	}
	return nil
}

func buntUsernameAvailable(tx *buntdb.Tx, username string) error {
	_, err := tx.Get(usernameKey(username))
	switch {
	case err == nil:
		return nametag.ErrUsernameTaken
	case errors.Is(err, buntdb.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("get username: %w", err)
	}
}
