package nametag

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidDataHash = errors.New("invalid data hash")
	ErrUsernameTaken   = errors.New("username taken")
	ErrProfileExists   = errors.New("profile exists")
	ErrNoProfile       = errors.New("no profile")
)

// Profile binds a unique username to its owner address and an opaque
// reference to off-chain profile data.
type Profile struct {
	Username string
	Owner    common.Address
	DataHash string
}

// ValidateUsername checks that username is valid UTF-8 and its length
// counted in characters.
func ValidateUsername(username string) error {
	if !utf8.ValidString(username) {
		return ErrInvalidUsername
	}
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return ErrInvalidUsername
	}
	return nil
}

func ValidateDataHash(dataHash string) error {
	if dataHash == "" {
		return ErrInvalidDataHash
	}
	return nil
}

// ProfileStore keeps the username and owner views of one record set.
// Every mutation is a single transaction: it either updates both views or
// returns an error without touching any of them.
type ProfileStore interface {
	// Insert fails with ErrProfileExists when the owner already holds a profile
	// and with ErrUsernameTaken when the username is bound to another profile.
	Insert(ctx context.Context, profile Profile) error

	// Rename fails with ErrNoProfile or ErrUsernameTaken. The old username is
	// released in the same transaction.
	Rename(ctx context.Context, owner common.Address, newUsername string) error

	SetDataHash(ctx context.Context, owner common.Address, dataHash string) error

	// Delete removes the owner's profile and returns the removed record.
	Delete(ctx context.Context, owner common.Address) (Profile, error)

	// Lookups report absence with ok == false. A non-nil error always
	// means the store itself failed.
	ByUsername(ctx context.Context, username string) (profile Profile, ok bool, err error)

	ByOwner(ctx context.Context, owner common.Address) (profile Profile, ok bool, err error)
}
