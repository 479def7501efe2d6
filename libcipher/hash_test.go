package libcipher_test

import (
	"crypto/sha256"
	"testing"

	"github.com/chainscribe/chainscribe/libcipher"
	"github.com/google/uuid"
)

func TestNewHash(t *testing.T) {
	data := []byte("hello world")
	key := []byte("secret-key")
	salt := []byte(uuid.NewString())
	hash, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    data,
		SigningKey: key,
		Salt:       salt,
	}, sha256.New)
	if err != nil {
		t.Fatalf("NewHash returned error: %v", err)
	}

	if len(hash) == 0 {
		t.Errorf("expected non-empty hash, got empty")
	}
}

func TestNewHash_MissingKey(t *testing.T) {
	_, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload: []byte("data"),
		Salt:    []byte("salt"),
	}, sha256.New)
	if err == nil {
		t.Fatal("expected an error for a missing signing key")
	}
}

func TestEqual_SameHash(t *testing.T) {
	data := []byte("test message")
	key := []byte("another-secret")
	salt := []byte(uuid.NewString())

	sealed, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    data,
		SigningKey: key,
		Salt:       salt,
	}, sha256.New)
	if err != nil {
		t.Fatalf("NewHash error: %v", err)
	}

	if !libcipher.Equal(sealed, sealed) {
		t.Errorf("expected Equal to return true when comparing the same sealed hash")
	}
}

func TestEqual_ModifiedSalt(t *testing.T) {
	data := []byte("sensitive data")
	key := []byte("my-signing-key")

	sealed, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    data,
		SigningKey: key,
		Salt:       []byte(uuid.NewString()),
	}, sha256.New)
	if err != nil {
		t.Fatalf("NewHash error: %v", err)
	}
	modified, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    data,
		SigningKey: key,
		Salt:       []byte(uuid.NewString()),
	}, sha256.New)
	if err != nil {
		t.Fatalf("NewHash error: %v", err)
	}

	if libcipher.Equal(sealed, modified) {
		t.Errorf("expected Equal to return false when the salt differs")
	}
}

func TestCheckHash(t *testing.T) {
	sealed, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    []byte("api-token"),
		SigningKey: []byte("key"),
		Salt:       []byte("salt"),
	}, sha256.New)
	if err != nil {
		t.Fatalf("NewHash error: %v", err)
	}

	ok, err := libcipher.CheckHash("key", "salt", "api-token", sealed)
	if err != nil {
		t.Fatalf("CheckHash failed: %v", err)
	}
	if !ok {
		t.Error("expected payload to match its own sealed hash")
	}

	ok, err = libcipher.CheckHash("key", "salt", "wrong-token", sealed)
	if err != nil {
		t.Fatalf("CheckHash failed: %v", err)
	}
	if ok {
		t.Error("expected a different payload not to match")
	}
}
