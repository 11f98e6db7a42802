package secrets

import (
	"context"
	"log/slog"

	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/pkg/schema"
)

// ParameterStore serves the secret() template function: a path lookup with
// decryption. Any failure is fatal to the state being bootstrapped.
type ParameterStore struct {
	vault  Vault
	logger *slog.Logger
}

// NewParameterStore wraps a Vault. A nil logger discards.
func NewParameterStore(v Vault, logger *slog.Logger) *ParameterStore {
	return &ParameterStore{vault: v, logger: logging.OrDiscard(logger)}
}

// Get returns the decrypted value stored at path.
func (p *ParameterStore) Get(ctx context.Context, path string) (string, error) {
	value, err := p.vault.Resolve(ctx, path)
	if err != nil {
		return "", logging.LogThenError(ctx, p.logger,
			schema.NewErrorf(schema.ErrCodeBootstrap, "Failed to fetch parameter %s", path).WithCause(err))
	}
	return string(value), nil
}
