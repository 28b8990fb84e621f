// Package wallet proves that a caller controls an address: the caller signs
// a server issued challenge with its key (EIP-191 personal message) and the
// server recovers the signing address from the signature.
package wallet

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature   = errors.New("wallet: invalid signature")
	ErrSignatureMismatch  = errors.New("wallet: signature does not match address")
	ErrInvalidAddressText = errors.New("wallet: invalid address")
)

const signatureLength = crypto.SignatureLength

// ChallengeMessage returns the text an owner signs to log in.
func ChallengeMessage(owner common.Address, nonce string, expiresAt time.Time) string {
	return fmt.Sprintf("nametag login\n\naddress: %s\nnonce: %s\nexpires: %s",
		owner.Hex(), nonce, expiresAt.UTC().Format(time.RFC3339))
}

func GenerateNonce() (string, error) {
	const nonceBytes = 16
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("rand read: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// ParseAddress accepts a 0x-prefixed hex address.
func ParseAddress(text string) (common.Address, error) {
	if !common.IsHexAddress(text) {
		return common.Address{}, ErrInvalidAddressText
	}
	return common.HexToAddress(text), nil
}

// RecoverAddress returns the address whose key produced signature over
// message. The recovery id may be 0/1 or the 27/28 form wallets produce.
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != signatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	sig := make([]byte, signatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, ErrInvalidSignature
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that the hex encoded signature over message was made by owner.
func Verify(owner common.Address, message string, signatureHex string) error {
	signature, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}
	signer, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if signer != owner {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign produces a personal message signature in the 27/28 form.
func Sign(key *ecdsa.PrivateKey, message string) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
