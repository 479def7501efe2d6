package execbackend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/chainscribe/chainscribe/libcipher"
	"github.com/chainscribe/chainscribe/libkvstore"
)

const credentialKeyPrefix = "execbackend:credential:"

// sealedCredential is the stored form: the AES-GCM ciphertext plus a keyed
// digest over it, salted with the backend name so a record cannot be moved
// to another backend's key undetected.
type sealedCredential struct {
	Ciphertext []byte `json:"ciphertext"`
	Digest     []byte `json:"digest"`
}

// CredentialStore keeps backend API tokens sealed at rest in the KV store.
// Tokens are encrypted with AES-GCM under a process-level secret; the KV
// store never sees plaintext.
type CredentialStore struct {
	kv     libkvstore.KVManager
	secret []byte
}

func NewCredentialStore(kv libkvstore.KVManager, secret []byte) (*CredentialStore, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("credential secret is required")
	}
	return &CredentialStore{kv: kv, secret: secret}, nil
}

// Store seals and persists the token for a named backend.
func (c *CredentialStore) Store(ctx context.Context, backendName, token string) error {
	sealed, err := libcipher.Encrypt([]byte(token), c.secret)
	if err != nil {
		return fmt.Errorf("failed to seal credential: %w", err)
	}
	digest, err := libcipher.NewHash(libcipher.GenerateHashArgs{
		Payload:    sealed,
		SigningKey: c.secret,
		Salt:       []byte(backendName),
	}, sha256.New)
	if err != nil {
		return fmt.Errorf("failed to digest credential: %w", err)
	}
	raw, err := json.Marshal(sealedCredential{Ciphertext: sealed, Digest: digest})
	if err != nil {
		return err
	}
	exec, err := c.kv.Executor(ctx)
	if err != nil {
		return fmt.Errorf("failed to get kv executor: %w", err)
	}
	return exec.Set(ctx, credentialKeyPrefix+backendName, raw)
}

// Load unseals the token for a named backend. A missing credential returns
// an empty token and no error; unauthenticated backends are valid.
func (c *CredentialStore) Load(ctx context.Context, backendName string) (string, error) {
	exec, err := c.kv.Executor(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get kv executor: %w", err)
	}
	key := credentialKeyPrefix + backendName
	exists, err := exec.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	raw, err := exec.Get(ctx, key)
	if err != nil {
		return "", err
	}
	var sealed sealedCredential
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return "", fmt.Errorf("failed to decode sealed credential: %w", err)
	}
	ok, err := libcipher.CheckHash(string(c.secret), backendName, string(sealed.Ciphertext), sealed.Digest)
	if err != nil {
		return "", fmt.Errorf("failed to verify credential digest: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("credential for %q failed digest verification", backendName)
	}
	token, err := libcipher.Decrypt(sealed.Ciphertext, c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to unseal credential: %w", err)
	}
	return string(token), nil
}

// Delete removes the credential for a named backend.
func (c *CredentialStore) Delete(ctx context.Context, backendName string) error {
	exec, err := c.kv.Executor(ctx)
	if err != nil {
		return fmt.Errorf("failed to get kv executor: %w", err)
	}
	return exec.Delete(ctx, credentialKeyPrefix+backendName)
}
