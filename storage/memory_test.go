package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvasclash/storage"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put(ctx, storage.Record{ID: "a", Kind: storage.KindCanvas, Data: []byte(`{}`)}))
	require.NoError(t, s.Put(ctx, storage.Record{ID: "b", Kind: storage.KindGame, Data: []byte(`{}`)}))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.KindCanvas, rec.Kind)
	assert.False(t, rec.UpdatedAt.IsZero())

	games, err := s.List(ctx, storage.KindGame)
	require.NoError(t, err)
	assert.Len(t, games, 1)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.ErrorIs(t, s.Delete(ctx, "a"), storage.ErrNotFound)
}
