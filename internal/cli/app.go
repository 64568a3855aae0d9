// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/metrics"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/provider"
	"github.com/jeranaias/rigrun-chat/internal/settings"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/tasks"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App holds every component built from a Config.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Metrics   *metrics.Metrics
	Repo      storage.Repository
	Settings  settings.Store
	Providers *provider.Registry
	Pool      *tasks.Pool
	Engine    *chat.Engine

	closers    []io.Closer
	metricsSrv *http.Server
}

// NewApp builds the application. logOut receives log output (stderr when nil).
func NewApp(cfg *config.Config, logOut io.Writer) (*App, error) {
	app := &App{
		Config:  cfg,
		Log:     logging.New(cfg.Logging.Level, cfg.Logging.Format, logOut),
		Metrics: metrics.New(nil),
	}

	repo, err := app.openRepository()
	if err != nil {
		return nil, err
	}
	app.Repo = repo

	store, err := app.openSettings()
	if err != nil {
		_ = app.closeAll()
		return nil, err
	}
	app.Settings = store

	app.Providers = buildProviders(cfg.Providers, app.Log)

	poolOpts := []tasks.Option{tasks.WithLogger(app.Log)}
	if cfg.Engine.TaskTimeoutSecs > 0 {
		poolOpts = append(poolOpts, tasks.WithTimeout(time.Duration(cfg.Engine.TaskTimeoutSecs)*time.Second))
	}
	app.Pool = tasks.NewPool(cfg.Engine.MaxConcurrent, poolOpts...)

	app.Engine = chat.NewEngine(app.Repo, app.Settings, app.Providers, app.Pool,
		chat.WithLogger(app.Log),
		chat.WithMetrics(app.Metrics),
		chat.WithTitleGeneration(cfg.Engine.TitleGeneration),
		chat.WithContextWindow(cfg.Engine.ContextWindow),
	)

	if cfg.Metrics.Addr != "" {
		if err := app.startMetrics(cfg.Metrics.Addr); err != nil {
			_ = app.Close(context.Background())
			return nil, err
		}
	}
	return app, nil
}

func (a *App) openRepository() (storage.Repository, error) {
	sc := a.Config.Storage
	switch sc.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	case config.DriverSQLite:
		store, err := storage.NewSQLiteStore(sc.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		store, err := storage.NewFileStoreWithDir(sc.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		store.MaxConversations = sc.MaxConversations
		return store.WithLogger(a.Log), nil
	}
}

func (a *App) openSettings() (settings.Store, error) {
	sc := a.Config.Settings
	if sc.Path == "" {
		return settings.NewMemory(settings.Defaults()), nil
	}

	created, err := settings.EnsureFile(sc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create settings file: %w", err)
	}
	if created {
		a.Log.Info().Str("path", sc.Path).Msg("wrote default settings")
	}

	store, err := settings.NewFileStore(sc.Path)
	if err != nil {
		return nil, err
	}
	store.WithLogger(a.Log)
	a.closers = append(a.closers, store)
	if sc.Watch {
		if err := store.Watch(); err != nil {
			return nil, fmt.Errorf("failed to watch settings: %w", err)
		}
	}
	return store, nil
}

// buildProviders creates one client per configured provider.
func buildProviders(cfgs []config.ProviderConfig, log zerolog.Logger) *provider.Registry {
	reg := provider.NewRegistry()
	for _, pc := range cfgs {
		t, err := pc.ProviderType()
		if err != nil {
			log.Warn().Err(err).Msg("skipping provider")
			continue
		}
		if pc.APIKey == "" {
			log.Debug().Str("provider", string(t)).Str("env", pc.APIKeyEnv()).Msg("provider has no api key")
		}
		client := provider.NewClient(provider.Config{
			Type:    t,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Dialect: provider.DefaultDialect(t),
			Timeouts: provider.Timeouts{
				Connect: secs(pc.ConnectTimeoutSecs),
				Read:    secs(pc.ReadTimeoutSecs),
				Write:   secs(pc.WriteTimeoutSecs),
			},
			Headers:           pc.Headers,
			RequestsPerSecond: pc.RequestsPerSecond,
			Burst:             pc.Burst,
		}).WithLogger(log)
		reg.Register(client)
	}
	return reg
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// startMetrics serves /metrics on addr.
func (a *App) startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Metrics.Registry(), promhttp.HandlerOpts{}))
	a.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	a.Log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}

// Close stops the engine, the metrics endpoint and every store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Engine != nil {
		if err := a.Engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// defaultAssistant picks the assistant for a new conversation.
func (a *App) defaultAssistant(requested string) string {
	if requested != "" {
		return requested
	}
	if fs, ok := a.Settings.(interface{ Snapshot() settings.Settings }); ok {
		if s := fs.Snapshot(); len(s.Assistants) > 0 {
			return s.Assistants[0].ID
		}
	}
	return "default"
}

// assistants lists the configured assistants, if the store can enumerate them.
func (a *App) assistants() []model.Assistant {
	if fs, ok := a.Settings.(interface{ Snapshot() settings.Settings }); ok {
		return fs.Snapshot().Assistants
	}
	return nil
}
