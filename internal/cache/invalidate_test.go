package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flynn-ai/modeldock/internal/cachestore"
)

const tiny = "TinyLlama-1.1B-Chat-v0.4-q4f16_1-MLC"

func openStore(t *testing.T) *cachestore.Store {
	t.Helper()
	s, err := cachestore.Open(filepath.Join(t.TempDir(), "host.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInvalidateModel(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Put(ctx, "webllm/model", "https://hf/"+tiny+"/shard-1", nil))
	require.NoError(t, s.Put(ctx, "webllm/model", "https://hf/Phi-3.5/shard-1", nil))
	require.NoError(t, s.Put(ctx, "unrelated", "https://hf/"+tiny+"/x", nil))
	require.NoError(t, s.Set(ctx, cachestore.ScopeLocal, "webllm:config", "1"))
	require.NoError(t, s.Set(ctx, cachestore.ScopeLocal, "theme", "dark"))
	require.NoError(t, s.Set(ctx, cachestore.ScopeLocal, "last:"+tiny, "1"))

	inv := NewInvalidator(s.Host(), nil)
	assert.True(t, inv.InvalidateModel(ctx, tiny))

	host := s.Host()
	keys, err := host.Caches.Keys(ctx, "webllm/model")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://hf/Phi-3.5/shard-1"}, keys)

	// The unrelated cache name matches neither the model nor a token.
	keys, err = host.Caches.Keys(ctx, "unrelated")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	n, err := host.Local.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	key, _, err := host.Local.Key(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "theme", key)
}

type brokenCaches struct{}

func (brokenCaches) Names(context.Context) ([]string, error) { return nil, errors.New("boom") }
func (brokenCaches) Keys(context.Context, string) ([]string, error) {
	return nil, errors.New("boom")
}
func (brokenCaches) DeleteEntry(context.Context, string, string) (bool, error) {
	return false, errors.New("boom")
}
func (brokenCaches) DeleteCache(context.Context, string) (bool, error) {
	return false, errors.New("boom")
}

type panickyKV struct{}

func (panickyKV) Len(context.Context) (int, error)               { panic("storage gone") }
func (panickyKV) Key(context.Context, int) (string, bool, error) { panic("storage gone") }
func (panickyKV) Remove(context.Context, string) error           { panic("storage gone") }
func (panickyKV) Clear(context.Context) error                    { panic("storage gone") }

func TestInvalidateModelFailureReturnsFalse(t *testing.T) {
	inv := NewInvalidator(cachestore.Host{Caches: brokenCaches{}}, nil)
	assert.False(t, inv.InvalidateModel(context.Background(), tiny))

	inv = NewInvalidator(cachestore.Host{Local: panickyKV{}}, nil)
	assert.False(t, inv.InvalidateModel(context.Background(), tiny))
}

func TestInvalidateAllEmptyHost(t *testing.T) {
	inv := NewInvalidator(cachestore.Host{}, nil)
	assert.True(t, inv.InvalidateAll(context.Background()))
}

func TestInvalidateAllSQLite(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.Put(ctx, "webllm/model", "k", nil))
	require.NoError(t, s.Put(ctx, "other", "k", nil))
	require.NoError(t, s.Set(ctx, cachestore.ScopeLocal, "a", "1"))
	require.NoError(t, s.Set(ctx, cachestore.ScopeSession, "b", "1"))
	require.NoError(t, s.CreateDatabase(ctx, "webllm-cache"))
	require.NoError(t, s.CreateDatabase(ctx, "custom-db"))
	_, err := s.RegisterWorker(ctx, "/")
	require.NoError(t, err)

	inv := NewInvalidator(s.Host(), nil)
	assert.True(t, inv.InvalidateAll(ctx))

	host := s.Host()
	names, err := host.Caches.Names(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	n, err := host.Local.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = host.Session.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	dbs, err := host.Databases.(cachestore.DatabaseLister).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, dbs)

	regs, err := host.Workers.Registrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, regs)
}

type recordingDatabases struct {
	deleted []string
	listErr error
	failOn  string
}

func (d *recordingDatabases) Delete(_ context.Context, name string) error {
	if name == d.failOn {
		return errors.New("blocked")
	}
	d.deleted = append(d.deleted, name)
	return nil
}

type listingDatabases struct {
	*recordingDatabases
}

func (d listingDatabases) List(context.Context) ([]string, error) {
	return nil, d.listErr
}

func TestInvalidateAllDatabaseFallback(t *testing.T) {
	dbs := &recordingDatabases{}
	inv := NewInvalidator(cachestore.Host{Databases: dbs}, nil)
	assert.True(t, inv.InvalidateAll(context.Background()))

	got := append([]string(nil), dbs.deleted...)
	want := append([]string(nil), FallbackDatabases...)
	sort.Strings(got)
	sort.Strings(want)
	assert.Equal(t, want, got)
}

func TestInvalidateAllEnumerationUnsupported(t *testing.T) {
	dbs := &recordingDatabases{listErr: cachestore.ErrUnsupported, failOn: "mlc-cache"}
	inv := NewInvalidator(cachestore.Host{Databases: listingDatabases{dbs}}, nil)

	// A single database failing is logged, not a category failure.
	assert.True(t, inv.InvalidateAll(context.Background()))
	assert.Len(t, dbs.deleted, len(FallbackDatabases)-1)
}

func TestInvalidateAllReportsFailedCategory(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Set(ctx, cachestore.ScopeSession, "b", "1"))

	host := s.Host()
	host.Caches = brokenCaches{}
	host.Local = panickyKV{}

	inv := NewInvalidator(host, nil)
	assert.False(t, inv.InvalidateAll(ctx))

	// Later categories still ran.
	n, err := host.Session.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
