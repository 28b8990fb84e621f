package nametag

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Registry applies the profile rules on top of a ProfileStore. Mutating
// operations act only on the profile owned by caller. All checks run before
// the store is asked to mutate anything.
type Registry struct {
	Store ProfileStore
}

func (r *Registry) CreateProfile(ctx context.Context, caller common.Address, username string, dataHash string) error {
	log := logrus.WithField("owner", caller.Hex()).WithField("username", username)

	if err := ValidateUsername(username); err != nil {
		log.Debugln("Rejected profile with invalid username.")
		return err
	}
	if err := ValidateDataHash(dataHash); err != nil {
		log.Debugln("Rejected profile with invalid data hash.")
		return err
	}

	// Owner check goes first: a caller repeating its own create learns
	// that it already holds a profile, not that its username is taken.
	_, exists, err := r.Store.ByOwner(ctx, caller)
	if err != nil {
		return fmt.Errorf("lookup profile by owner: %w", err)
	}
	if exists {
		log.Debugln("Rejected second profile of owner.")
		return ErrProfileExists
	}

	err = r.Store.Insert(ctx, Profile{Username: username, Owner: caller, DataHash: dataHash})
	if err != nil {
		if IsRejection(err) {
			log.WithError(err).Debugln("Rejected profile.")
			return err
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	log.Infoln("Profile created.")
	return nil
}

func (r *Registry) ChangeUsername(ctx context.Context, caller common.Address, newUsername string) error {
	log := logrus.WithField("owner", caller.Hex()).WithField("username", newUsername)

	_, exists, err := r.Store.ByOwner(ctx, caller)
	if err != nil {
		return fmt.Errorf("lookup profile by owner: %w", err)
	}
	if !exists {
		return ErrNoProfile
	}
	if err := ValidateUsername(newUsername); err != nil {
		log.Debugln("Rejected invalid username change.")
		return err
	}

	if err := r.Store.Rename(ctx, caller, newUsername); err != nil {
		if IsRejection(err) {
			log.WithError(err).Debugln("Rejected username change.")
			return err
		}
		return fmt.Errorf("rename profile: %w", err)
	}
	log.Infoln("Username changed.")
	return nil
}

func (r *Registry) ChangeProfileHash(ctx context.Context, caller common.Address, newDataHash string) error {
	log := logrus.WithField("owner", caller.Hex())

	_, exists, err := r.Store.ByOwner(ctx, caller)
	if err != nil {
		return fmt.Errorf("lookup profile by owner: %w", err)
	}
	if !exists {
		return ErrNoProfile
	}
	if err := ValidateDataHash(newDataHash); err != nil {
		log.Debugln("Rejected empty data hash.")
		return err
	}

	if err := r.Store.SetDataHash(ctx, caller, newDataHash); err != nil {
		if IsRejection(err) {
			return err
		}
		return fmt.Errorf("set data hash: %w", err)
	}
	log.Infoln("Profile hash changed.")
	return nil
}

func (r *Registry) DeleteProfile(ctx context.Context, caller common.Address) error {
	deleted, err := r.Store.Delete(ctx, caller)
	if err != nil {
		if IsRejection(err) {
			return err
		}
		return fmt.Errorf("delete profile: %w", err)
	}
	logrus.
		WithField("owner", caller.Hex()).
		WithField("username", deleted.Username).
		Infoln("Profile deleted.")
	return nil
}

func (r *Registry) AddressOf(ctx context.Context, username string) (common.Address, bool, error) {
	profile, ok, err := r.Store.ByUsername(ctx, username)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return profile.Owner, true, nil
}

func (r *Registry) UsernameOf(ctx context.Context, owner common.Address) (string, bool, error) {
	profile, ok, err := r.Store.ByOwner(ctx, owner)
	if err != nil || !ok {
		return "", false, err
	}
	return profile.Username, true, nil
}

func (r *Registry) ProfileByUsername(ctx context.Context, username string) (Profile, bool, error) {
	return r.Store.ByUsername(ctx, username)
}

func (r *Registry) ProfileByAddress(ctx context.Context, owner common.Address) (Profile, bool, error) {
	return r.Store.ByOwner(ctx, owner)
}

func (r *Registry) ProfileHashByUsername(ctx context.Context, username string) (string, bool, error) {
	profile, ok, err := r.Store.ByUsername(ctx, username)
	if err != nil || !ok {
		return "", false, err
	}
	return profile.DataHash, true, nil
}

// IsRejection reports whether err is one of the registry rule violations
// rather than a failure of the underlying store.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidUsername) ||
		errors.Is(err, ErrInvalidDataHash) ||
		errors.Is(err, ErrUsernameTaken) ||
		errors.Is(err, ErrProfileExists) ||
		errors.Is(err, ErrNoProfile)
}
