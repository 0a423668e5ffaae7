package cachestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "host.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNamedCaches(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	host := s.Host()

	require.NoError(t, s.Put(ctx, "webllm/model", "https://host/a/shard-1", []byte("x")))
	require.NoError(t, s.Put(ctx, "webllm/model", "https://host/b/shard-1", nil))
	require.NoError(t, s.Put(ctx, "other", "https://host/a/x", nil))

	names, err := host.Caches.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "webllm/model"}, names)

	keys, err := host.Caches.Keys(ctx, "webllm/model")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	deleted, err := host.Caches.DeleteEntry(ctx, "webllm/model", "https://host/a/shard-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = host.Caches.DeleteEntry(ctx, "webllm/model", "https://host/a/shard-1")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = host.Caches.DeleteCache(ctx, "other")
	require.NoError(t, err)
	assert.True(t, deleted)

	names, err = host.Caches.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"webllm/model"}, names)
}

func TestKeyValueScopes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	host := s.Host()

	require.NoError(t, s.Set(ctx, ScopeLocal, "b", "2"))
	require.NoError(t, s.Set(ctx, ScopeLocal, "a", "1"))
	require.NoError(t, s.Set(ctx, ScopeSession, "s", "1"))

	n, err := host.Local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	key, ok, err := host.Local.Key(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", key)

	_, ok, err = host.Local.Key(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, host.Local.Remove(ctx, "a"))
	n, err = host.Local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, host.Local.Clear(ctx))
	n, err = host.Local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = host.Session.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatabasesAndWorkers(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	host := s.Host()

	require.NoError(t, s.CreateDatabase(ctx, "webllm-cache"))
	require.NoError(t, s.CreateDatabase(ctx, "webllm-cache"))

	lister, ok := host.Databases.(DatabaseLister)
	require.True(t, ok)
	names, err := lister.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"webllm-cache"}, names)

	require.NoError(t, host.Databases.Delete(ctx, "webllm-cache"))
	names, err = lister.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	id, err := s.RegisterWorker(ctx, "/")
	require.NoError(t, err)
	regs, err := host.Workers.Registrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, regs)

	require.NoError(t, host.Workers.Unregister(ctx, id))
	regs, err = host.Workers.Registrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

func TestRecordArtifact(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	host := s.Host()

	require.NoError(t, s.RecordArtifact(ctx, "tiny", "http://srv/models/tiny"))

	keys, err := host.Caches.Keys(ctx, ArtifactCache)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://srv/models/tiny"}, keys)

	key, ok, err := host.Local.Key(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "webllm:model:tiny", key)
}

func TestReopenPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "host.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, ScopeLocal, "k", "v"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Host().Local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
