package blobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/soarkit/internal/store"
	"github.com/rendis/soarkit/pkg/schema"
)

type memBlobs struct {
	data   map[string]string
	putErr error
}

func newMemBlobs() *memBlobs { return &memBlobs{data: map[string]string{}} }

func (m *memBlobs) PutBlob(_ context.Context, key, content string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.data[key] = content
	return nil
}

func (m *memBlobs) GetBlob(_ context.Context, key string) (*store.Blob, error) {
	c, ok := m.data[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "blob %q not found", key)
	}
	return &store.Blob{Key: key, Content: c}, nil
}

func (m *memBlobs) DeleteBlob(_ context.Context, key string) error {
	if _, ok := m.data[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "blob %q not found", key)
	}
	delete(m.data, key)
	return nil
}

func TestSaveAndFetch(t *testing.T) {
	svc := NewService(newMemBlobs(), nil)
	ctx := context.Background()

	res, err := svc.Save(ctx, "this came from the vault", "test_")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.FileID, "test_"))
	assert.Len(t, res.FileID, len("test_")+36)
	assert.Equal(t, "vault:"+res.FileID, res.VaultID)

	content, err := svc.Fetch(ctx, res.FileID, true)
	require.NoError(t, err)
	assert.Equal(t, "this came from the vault", content)

	doc, err := svc.Fetch(ctx, res.FileID, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"content": "this came from the vault"}, doc)
}

func TestFetch_Missing(t *testing.T) {
	svc := NewService(newMemBlobs(), nil)
	_, err := svc.FetchContent(context.Background(), "nope")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestSave_StoreFailure(t *testing.T) {
	m := newMemBlobs()
	m.putErr = errors.New("disk full")
	svc := NewService(m, nil)

	_, err := svc.Save(context.Background(), "x", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
}

func TestRemove(t *testing.T) {
	m := newMemBlobs()
	svc := NewService(m, nil)
	ctx := context.Background()

	res, err := svc.Save(ctx, "x", "")
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, res.FileID))
	assert.Empty(t, m.data)
	assert.True(t, schema.IsCode(svc.Remove(ctx, res.FileID), schema.ErrCodeNotFound))
}
