// Package cache clears model artifacts out of the host's storage.
// Both operations are best-effort: they log failures and report a
// boolean, and never return an error or panic to the caller.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flynn-ai/modeldock/internal/cachestore"
)

// NamespaceTokens mark cache names and keys owned by the inference engine.
var NamespaceTokens = []string{"webllm", "mlc"}

// FallbackDatabases are the database names tried when the host cannot
// enumerate its databases.
var FallbackDatabases = []string{
	"webllm-cache",
	"model-cache",
	"mlc-cache",
	"transformers-cache",
	"cache-storage",
	"wasm-cache",
}

// DatabaseDeleteTimeout bounds each database deletion.
const DatabaseDeleteTimeout = 5 * time.Second

// Invalidator removes cached model data from a storage host.
type Invalidator struct {
	host   cachestore.Host
	logger *zap.Logger
}

// NewInvalidator creates an invalidator for host.
func NewInvalidator(host cachestore.Host, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{host: host, logger: logger}
}

// InvalidateModel removes cache entries and local key-value entries that
// belong to modelID. Returns false if anything failed.
func (inv *Invalidator) InvalidateModel(ctx context.Context, modelID string) (ok bool) {
	log := inv.logger.With(zap.String("model", modelID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Model cache invalidation panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	log.Info("Clearing cache for model")
	if err := inv.invalidateModel(ctx, modelID, log); err != nil {
		log.Error("Error clearing model cache", zap.Error(err))
		return false
	}
	log.Info("Model cache cleared")
	return true
}

func (inv *Invalidator) invalidateModel(ctx context.Context, modelID string, log *zap.Logger) error {
	if caches := inv.host.Caches; caches != nil {
		names, err := caches.Names(ctx)
		if err != nil {
			return fmt.Errorf("list caches: %w", err)
		}
		for _, name := range names {
			if !matchesModel(name, modelID) {
				continue
			}
			keys, err := caches.Keys(ctx, name)
			if err != nil {
				return fmt.Errorf("list cache %s: %w", name, err)
			}
			for _, key := range keys {
				if !strings.Contains(key, modelID) {
					continue
				}
				if _, err := caches.DeleteEntry(ctx, name, key); err != nil {
					return fmt.Errorf("delete cache entry %s: %w", key, err)
				}
				log.Debug("Deleted cache entry", zap.String("cache", name), zap.String("key", key))
			}
		}
	}

	if local := inv.host.Local; local != nil {
		n, err := local.Len(ctx)
		if err != nil {
			return fmt.Errorf("count local keys: %w", err)
		}
		var toRemove []string
		for i := 0; i < n; i++ {
			key, ok, err := local.Key(ctx, i)
			if err != nil {
				return fmt.Errorf("read local key %d: %w", i, err)
			}
			if ok && matchesModel(key, modelID) {
				toRemove = append(toRemove, key)
			}
		}
		for _, key := range toRemove {
			if err := local.Remove(ctx, key); err != nil {
				return fmt.Errorf("remove local key %s: %w", key, err)
			}
			log.Debug("Removed local key", zap.String("key", key))
		}
	}

	return nil
}

// InvalidateAll wipes every storage facility the host offers. Each
// category is attempted; the result is false if any category failed.
func (inv *Invalidator) InvalidateAll(ctx context.Context) bool {
	inv.logger.Info("Starting full cache cleanup")

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"named caches", inv.clearCaches},
		{"local storage", kvClearer(inv.host.Local)},
		{"session storage", kvClearer(inv.host.Session)},
		{"local databases", inv.clearDatabases},
		{"background workers", inv.clearWorkers},
	}

	ok := true
	for _, step := range steps {
		if err := guard(ctx, step.fn); err != nil {
			inv.logger.Warn("Cache cleanup step failed", zap.String("step", step.name), zap.Error(err))
			ok = false
		}
	}

	if ok {
		inv.logger.Info("Cache cleanup completed")
	} else {
		inv.logger.Warn("Cache cleanup completed with errors")
	}
	return ok
}

func (inv *Invalidator) clearCaches(ctx context.Context) error {
	caches := inv.host.Caches
	if caches == nil {
		return nil
	}
	names, err := caches.Names(ctx)
	if err != nil {
		return err
	}
	inv.logger.Debug("Deleting caches", zap.Strings("caches", names))

	var errs []error
	for _, name := range names {
		if _, err := caches.DeleteCache(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func kvClearer(kv cachestore.KeyValue) func(context.Context) error {
	return func(ctx context.Context) error {
		if kv == nil {
			return nil
		}
		return kv.Clear(ctx)
	}
}

// clearDatabases enumerates databases when the host supports it and
// falls back to the well-known names otherwise. A failure to delete one
// database is logged and does not fail the category.
func (inv *Invalidator) clearDatabases(ctx context.Context) error {
	dbs := inv.host.Databases
	if dbs == nil {
		return nil
	}

	names := FallbackDatabases
	if lister, ok := dbs.(cachestore.DatabaseLister); ok {
		listed, err := lister.List(ctx)
		switch {
		case err == nil:
			names = listed
		case errors.Is(err, cachestore.ErrUnsupported):
			inv.logger.Debug("Database enumeration unsupported, using fallback names")
		default:
			return fmt.Errorf("list databases: %w", err)
		}
	}

	for _, name := range names {
		if name == "" {
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, DatabaseDeleteTimeout)
		err := dbs.Delete(dctx, name)
		cancel()
		if err != nil {
			inv.logger.Info("Database deletion failed", zap.String("database", name), zap.Error(err))
			continue
		}
		inv.logger.Debug("Deleted database", zap.String("database", name))
	}
	return nil
}

func (inv *Invalidator) clearWorkers(ctx context.Context) error {
	workers := inv.host.Workers
	if workers == nil {
		return nil
	}
	ids, err := workers.Registrations(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := workers.Unregister(ctx, id); err != nil {
			return fmt.Errorf("unregister worker %s: %w", id, err)
		}
		inv.logger.Debug("Worker unregistered", zap.String("id", id))
	}
	return nil
}

// guard runs fn, converting a panic into an error.
func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func matchesModel(s, modelID string) bool {
	if strings.Contains(s, modelID) {
		return true
	}
	for _, token := range NamespaceTokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
