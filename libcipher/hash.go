// Package libcipher holds the keyed hashing and sealing primitives used for
// stored secrets such as backend API credentials.
package libcipher

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
)

var (
	ErrMissingSigningKey = errors.New("libcipher: signing key is required")
	ErrMissingSalt       = errors.New("libcipher: salt is required")
)

// GenerateHashArgs carries the inputs for NewHash.
type GenerateHashArgs struct {
	Payload    []byte
	SigningKey []byte
	Salt       []byte
}

// NewHash produces a keyed hash of the payload. The salt is mixed in before
// the payload so that equal payloads under different salts seal differently.
func NewHash(args GenerateHashArgs, factory func() hash.Hash) ([]byte, error) {
	if len(args.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	if len(args.Salt) == 0 {
		return nil, ErrMissingSalt
	}
	mac := hmac.New(factory, args.SigningKey)
	if _, err := mac.Write(args.Salt); err != nil {
		return nil, fmt.Errorf("libcipher: writing salt: %w", err)
	}
	if _, err := mac.Write(args.Payload); err != nil {
		return nil, fmt.Errorf("libcipher: writing payload: %w", err)
	}
	return mac.Sum(nil), nil
}

// Equal compares two sealed hashes in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// CheckHash reseals the payload under key and salt and compares it against
// the stored sealed hash.
func CheckHash(key, salt, payload string, sealed []byte) (bool, error) {
	computed, err := NewHash(GenerateHashArgs{
		Payload:    []byte(payload),
		SigningKey: []byte(key),
		Salt:       []byte(salt),
	}, sha256.New)
	if err != nil {
		return false, err
	}
	return Equal(computed, sealed), nil
}
