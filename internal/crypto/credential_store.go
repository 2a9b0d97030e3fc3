package crypto

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/kimhsiao/slotboard/internal/config"
	apperrors "github.com/kimhsiao/slotboard/internal/errors"
	"github.com/kimhsiao/slotboard/internal/store"
)

// Prefixes accepted for GitHub personal access tokens.
var githubTokenPrefixes = []string{"ghp_", "github_pat_"}

// ValidateToken checks the credential format expected by a remote backend.
// Only the github backend has a known format; other backends accept any non-empty value.
func ValidateToken(backend, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperrors.New(apperrors.ErrInvalidCredential, "credential cannot be empty")
	}
	if backend != config.BackendGitHub {
		return nil
	}
	for _, p := range githubTokenPrefixes {
		if strings.HasPrefix(token, p) && len(token) > len(p) {
			return nil
		}
	}
	return apperrors.New(apperrors.ErrInvalidCredential,
		fmt.Sprintf("credential must start with %s", strings.Join(githubTokenPrefixes, " or ")))
}

// CredentialStore is the single authoritative location of the sync credential.
// The value is encrypted at rest with a key derived from the device id.
type CredentialStore struct {
	kv       store.KV
	backend  string
	deviceID string

	mu  sync.Mutex
	key []byte
}

// NewCredentialStore creates a CredentialStore over kv.
func NewCredentialStore(kv store.KV, deviceID, backend string) *CredentialStore {
	return &CredentialStore{
		kv:       kv,
		backend:  backend,
		deviceID: deviceID,
	}
}

func (c *CredentialStore) encryptionKey() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil {
		return c.key, nil
	}
	key, err := DeriveKey(c.deviceID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "derive credential key", err)
	}
	c.key = key
	return key, nil
}

// Get returns the stored credential. ok is false when none is stored.
func (c *CredentialStore) Get(ctx context.Context) (string, bool, error) {
	data, ok, err := c.kv.Get(ctx, store.KeyCredential)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrStorage, "read credential", err)
	}
	if !ok || len(data) == 0 {
		return "", false, nil
	}

	key, err := c.encryptionKey()
	if err != nil {
		return "", false, err
	}
	plain, err := Decrypt(string(data), key)
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrCryptoFailed, "decrypt credential", err)
	}
	return string(plain), true, nil
}

// Set validates and stores token, replacing any previous credential.
func (c *CredentialStore) Set(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if err := ValidateToken(c.backend, token); err != nil {
		return err
	}

	key, err := c.encryptionKey()
	if err != nil {
		return err
	}
	sealed, err := Encrypt([]byte(token), key)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCryptoFailed, "encrypt credential", err)
	}
	if err := c.kv.Set(ctx, store.KeyCredential, []byte(sealed)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write credential", err)
	}
	return nil
}

// Clear removes the stored credential.
func (c *CredentialStore) Clear(ctx context.Context) error {
	if err := c.kv.Delete(ctx, store.KeyCredential); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clear credential", err)
	}
	return nil
}
