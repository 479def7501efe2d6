package libcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var ErrSealedTooShort = errors.New("libcipher: sealed payload too short")

const hkdfSaltSize = 16

// Encrypt seals plaintext with AES-256-GCM under a key derived from secret
// via HKDF-SHA256. The output is salt || nonce || ciphertext and can only be
// opened by Decrypt with the same secret.
func Encrypt(plaintext, secret []byte) ([]byte, error) {
	salt := make([]byte, hkdfSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("libcipher: generating salt: %w", err)
	}
	gcm, err := deriveGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("libcipher: generating nonce: %w", err)
	}
	sealed := make([]byte, 0, len(salt)+len(nonce)+len(plaintext)+gcm.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	return gcm.Seal(sealed, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func Decrypt(sealed, secret []byte) ([]byte, error) {
	if len(sealed) < hkdfSaltSize {
		return nil, ErrSealedTooShort
	}
	salt, rest := sealed[:hkdfSaltSize], sealed[hkdfSaltSize:]
	gcm, err := deriveGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, ErrSealedTooShort
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("libcipher: opening payload: %w", err)
	}
	return plaintext, nil
}

func deriveGCM(secret, salt []byte) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, nil), key); err != nil {
		return nil, fmt.Errorf("libcipher: deriving key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("libcipher: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("libcipher: creating gcm: %w", err)
	}
	return gcm, nil
}
