// Package blobs saves and fetches text blobs referenced from playbooks as
// vault:<file_id>.
package blobs

import (
	"context"
	"log/slog"

	"github.com/rendis/soarkit/internal/ids"
	"github.com/rendis/soarkit/internal/logging"
	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

// VaultPrefix marks a string as a blob reference.
const VaultPrefix = "vault:"

// SaveResult identifies a saved blob.
type SaveResult struct {
	FileID  string `json:"file_id"`
	VaultID string `json:"vault_id"`
}

// Service is the blob adapter used by the vault() template function and by
// integrations that offload large payloads.
type Service struct {
	store  store.BlobStore
	logger *slog.Logger
}

// NewService creates a blob service over s. A nil logger discards.
func NewService(s store.BlobStore, logger *slog.Logger) *Service {
	return &Service{store: s, logger: logging.OrDiscard(logger)}
}

// Save stores content under prefix + a fresh 36-character id.
func (s *Service) Save(ctx context.Context, content, prefix string) (*SaveResult, error) {
	fileID := prefix + ids.GenID(36)
	if err := s.store.PutBlob(ctx, fileID, content); err != nil {
		return nil, logging.LogThenError(ctx, s.logger,
			schema.NewErrorf(schema.ErrCodeStore, "Failed to save blob %s", fileID).WithCause(err))
	}
	s.logger.DebugContext(ctx, "blob saved", "file_id", fileID, "bytes", len(content))
	return &SaveResult{FileID: fileID, VaultID: VaultPrefix + fileID}, nil
}

// Fetch returns the blob content when contentOnly is set, otherwise a
// {"content": ...} document.
func (s *Service) Fetch(ctx context.Context, key string, contentOnly bool) (any, error) {
	content, err := s.FetchContent(ctx, key)
	if err != nil {
		return nil, err
	}
	if contentOnly {
		return content, nil
	}
	return map[string]any{"content": content}, nil
}

// FetchContent returns the text stored under key.
func (s *Service) FetchContent(ctx context.Context, key string) (string, error) {
	b, err := s.store.GetBlob(ctx, key)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return "", err
		}
		return "", schema.NewErrorf(schema.ErrCodeStore, "Failed to fetch blob %s", key).WithCause(err)
	}
	return b.Content, nil
}

// Remove deletes the blob stored under key.
func (s *Service) Remove(ctx context.Context, key string) error {
	return s.store.DeleteBlob(ctx, key)
}
