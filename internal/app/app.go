// Package app wires the configured components into one running
// application.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flynn-ai/modeldock/internal/cache"
	"github.com/flynn-ai/modeldock/internal/cachestore"
	"github.com/flynn-ai/modeldock/internal/catalog"
	"github.com/flynn-ai/modeldock/internal/config"
	"github.com/flynn-ai/modeldock/internal/conversation"
	"github.com/flynn-ai/modeldock/internal/engine"
	"github.com/flynn-ai/modeldock/internal/history"
	"github.com/flynn-ai/modeldock/internal/loader"
	"github.com/flynn-ai/modeldock/internal/stats"
)

// App holds everything a session needs.
type App struct {
	Config       *config.Config
	Catalog      *catalog.Catalog
	Cache        *cachestore.Store
	History      *history.Store
	Recorder     *history.Recorder
	Conversation *conversation.Conversation
	Controller   *loader.Controller
	Stats        *stats.Collector
	Logger       *zap.Logger
}

// Open opens the stores and builds the controller. The engine may be
// nil, in which case an HTTP engine is created from the config.
func Open(cfg *config.Config, eng engine.Engine, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	cacheStore, err := cachestore.Open(cfg.Paths.CacheDB)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	historyStore, err := history.Open(cfg.Paths.HistoryDB)
	if err != nil {
		cacheStore.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}

	if eng == nil {
		eng = engine.NewHTTPEngine(&engine.HTTPConfig{
			BaseURL: cfg.Engine.BaseURL,
			Timeout: cfg.Engine.Timeout.Duration,
		}, cacheStore, logger.Named("engine"))
	}

	collector := stats.NewCollector()
	recorder := historyStore.NewRecorder(cfg.Engine.DefaultModel)
	conv := conversation.New(recorder, logger.Named("chat"))
	invalidator := cache.NewInvalidator(cacheStore.Host(), logger.Named("cache"))

	ctrl := loader.New(cat, eng, invalidator, conv, loader.Options{
		Schedule: cfg.Schedule(),
		Stats:    collector,
		Logger:   logger.Named("loader"),
	})

	return &App{
		Config:       cfg,
		Catalog:      cat,
		Cache:        cacheStore,
		History:      historyStore,
		Recorder:     recorder,
		Conversation: conv,
		Controller:   ctrl,
		Stats:        collector,
		Logger:       logger,
	}, nil
}

// ShutdownTimeout bounds how long Close waits for in-flight loads and
// unloads.
const ShutdownTimeout = 30 * time.Second

// Close unloads every session and closes the stores. Cancellation of ctx
// is ignored so an interrupted command still releases its models.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Controller.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.CloseStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CloseStores closes the databases but leaves sessions loaded on the
// engine.
func (a *App) CloseStores() error {
	var errs []error
	if err := a.History.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
