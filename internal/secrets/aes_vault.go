package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/rendis/soarkit/pkg/schema"
)

const defaultIterations = 100_000

// VaultConfig configures the AES vault key.
// MasterKey (raw 32 bytes) wins over Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int // PBKDF2 rounds, default 100_000
}

// AESVault seals secrets with AES-256-GCM before handing them to a SecretStore.
// The secret path is bound as additional data, so a ciphertext copied to
// another path fails to open.
type AESVault struct {
	store SecretStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault over s.
func NewAESVault(s SecretStore, cfg VaultConfig) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "aes cipher: %s", err.Error()).WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "gcm: %s", err.Error()).WithCause(err)
	}
	return &AESVault{store: s, aead: aead}, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	switch {
	case len(cfg.MasterKey) > 0:
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	case cfg.Passphrase == "":
		return nil, schema.NewError(schema.ErrCodeVault, "either vault_key or a master key is required")
	case len(cfg.Salt) == 0:
		return nil, schema.NewError(schema.ErrCodeVault, "vault_salt is required with vault_key")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func (v *AESVault) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, []byte(key)), nil
}

func (v *AESVault) open(key string, sealed []byte) ([]byte, error) {
	n := v.aead.NonceSize()
	if len(sealed) < n {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: ciphertext too short", key)
	}
	plaintext, err := v.aead.Open(nil, sealed[:n], sealed[n:], []byte(key))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q: decrypt failed: %s", key, err.Error())
	}
	return plaintext, nil
}

func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	sealed, err := v.seal(key, value)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, key, sealed)
}

func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return v.open(key, sealed)
}

func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}
