package persistent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/buzkaaclicker/nametag"
	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	profileOwnerConstraint    = "profile_owner_unique"
	profileUsernameConstraint = "profile_username_unique"
)

// Profile is one row of the profile table. Both registry views are unique
// indexes over the same rows.
type Profile struct {
	bun.BaseModel `bun:"table:profile"`

	Id        int64     `bun:",pk,autoincrement"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	Owner     string    `bun:",notnull,unique:profile_owner_unique"`
	Username  string    `bun:",notnull,unique:profile_username_unique"`
	DataHash  string    `bun:",notnull"`
}

func (p Profile) ToDomain() nametag.Profile {
	return nametag.Profile{
		Username: p.Username,
		Owner:    common.HexToAddress(p.Owner),
		DataHash: p.DataHash,
	}
}

type ProfileStore struct {
	DB *bun.DB
}

var _ nametag.ProfileStore = (*ProfileStore)(nil)

func (s *ProfileStore) Insert(ctx context.Context, profile nametag.Profile) error {
	return s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		ownerCount, err := tx.NewSelect().
			Model((*Profile)(nil)).
			Where("owner=?", profile.Owner.Hex()).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count profiles by owner: %w", err)
		}
		if ownerCount > 0 {
			return nametag.ErrProfileExists
		}
		if err := usernameAvailable(ctx, tx, profile.Username); err != nil {
			return err
		}

		_, err = tx.NewInsert().
			Model(&Profile{
				Owner:    profile.Owner.Hex(),
				Username: profile.Username,
				DataHash: profile.DataHash,
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert profile: %w", uniqueViolation(err))
		}
		return nil
	})
}

func (s *ProfileStore) Rename(ctx context.Context, owner common.Address, newUsername string) error {
	return s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if _, err := lockByOwner(ctx, tx, owner); err != nil {
			return err
		}
		if err := usernameAvailable(ctx, tx, newUsername); err != nil {
			return err
		}

		_, err := tx.NewUpdate().
			Model((*Profile)(nil)).
			Set("username=?", newUsername).
			Set("updated_at=current_timestamp").
			Where("owner=?", owner.Hex()).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update username: %w", uniqueViolation(err))
		}
		return nil
	})
}

func (s *ProfileStore) SetDataHash(ctx context.Context, owner common.Address, dataHash string) error {
	res, err := s.DB.NewUpdate().
		Model((*Profile)(nil)).
		Set("data_hash=?", dataHash).
		Set("updated_at=current_timestamp").
		Where("owner=?", owner.Hex()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update data hash: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nametag.ErrNoProfile
	}
	return nil
}

func (s *ProfileStore) Delete(ctx context.Context, owner common.Address) (nametag.Profile, error) {
	var deleted Profile
	err := s.DB.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		profile, err := lockByOwner(ctx, tx, owner)
		if err != nil {
			return err
		}
		_, err = tx.NewDelete().
			Model((*Profile)(nil)).
			Where("id=?", profile.Id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("delete profile: %w", err)
		}
		deleted = profile
		return nil
	})
	if err != nil {
		return nametag.Profile{}, err
	}
	return deleted.ToDomain(), nil
}

func (s *ProfileStore) ByUsername(ctx context.Context, username string) (nametag.Profile, bool, error) {
	return s.selectOne(ctx, "username=?", username)
}

func (s *ProfileStore) ByOwner(ctx context.Context, owner common.Address) (nametag.Profile, bool, error) {
	return s.selectOne(ctx, "owner=?", owner.Hex())
}

func (s *ProfileStore) selectOne(ctx context.Context, where string, arg interface{}) (nametag.Profile, bool, error) {
	profile := new(Profile)
	err := s.DB.NewSelect().
		Model(profile).
		Where(where, arg).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nametag.Profile{}, false, nil
		}
		return nametag.Profile{}, false, fmt.Errorf("select profile: %w", err)
	}
	return profile.ToDomain(), true, nil
}

func lockByOwner(ctx context.Context, tx bun.Tx, owner common.Address) (Profile, error) {
	var profile Profile
	err := tx.NewSelect().
		Model(&profile).
		Where("owner=?", owner.Hex()).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, nametag.ErrNoProfile
		}
		return Profile{}, fmt.Errorf("select profile for update: %w", err)
	}
	return profile, nil
}

func usernameAvailable(ctx context.Context, tx bun.Tx, username string) error {
	count, err := tx.NewSelect().
		Model((*Profile)(nil)).
		Where("username=?", username).
		Count(ctx)
	if err != nil {
		return fmt.Errorf("count profiles by username: %w", err)
	}
	if count > 0 {
		return nametag.ErrUsernameTaken
	}
	return nil
}

// uniqueViolation translates a unique constraint violation that slipped
// past the in-transaction checks (a concurrent commit) into its registry error.
func uniqueViolation(err error) error {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) || !pgErr.IntegrityViolation() {
		return err
	}
	switch pgErr.Field('n') {
	case profileOwnerConstraint:
		return nametag.ErrProfileExists
	case profileUsernameConstraint:
		return nametag.ErrUsernameTaken
	default:
		return err
	}
}
