// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/postsync/internal/api"
	"github.com/starford/postsync/internal/mcpserver"
	"github.com/starford/postsync/internal/passlock"
	"github.com/starford/postsync/internal/postservice"
	"github.com/starford/postsync/internal/publish"
	"github.com/starford/postsync/internal/remote"
	"github.com/starford/postsync/internal/sse"
	"github.com/starford/postsync/internal/storage"
	"github.com/starford/postsync/internal/store"
	"github.com/starford/postsync/internal/sync"
)

// App is the assembled core: store, remote client, sync engine and publish
// pipeline behind one service.
type App struct {
	Service *postservice.Service
	Store   *store.Store
	Media   storage.Provider
	Broker  *sse.Broker

	cfg     *Config
	logger  *slog.Logger
	closers []func() error
}

// NewLogger returns the structured JSON logger used by every command.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

// Open builds the application from options. Callers must Close it.
func Open(opts ...Option) (*App, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config
	logger := app.logger
	if logger == nil {
		logger = NewLogger(cfg.App.LogLevel)
	}
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("store_root", cfg.Store.Root),
		slog.String("sqlite_path", cfg.Store.SQLitePath),
		slog.String("remote", cfg.Remote.Owner+"/"+cfg.Remote.Repo+"@"+cfg.Remote.Branch),
		slog.String("lock_backend", cfg.Lock.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	a := &App{cfg: cfg, logger: logger}

	files, err := storage.NewFS(cfg.Store.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	mediaFiles, err := storage.NewFS(cfg.Store.MediaRoot)
	if err != nil {
		return nil, fmt.Errorf("init media storage: %w", err)
	}
	a.Media = mediaFiles

	st, err := store.Open(cfg.Store.SQLitePath, files, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	var lock passlock.Locker
	switch cfg.Lock.Backend {
	case LockBackendRedis:
		rl, err := passlock.NewRedis(cfg.Lock.RedisURL, cfg.Lock.TTL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init lock: %w", err)
		}
		a.closers = append(a.closers, rl.Close)
		lock = rl
	default:
		lock = passlock.NewLocal()
	}

	client := remote.New(cfg.Remote.Client(), remote.WithLogger(logger))

	engine := sync.NewEngine(client, st, sync.Config{
		ContentDir:       cfg.Remote.ContentDir,
		ProtectionWindow: cfg.Sync.ProtectionWindow,
		Concurrency:      cfg.Sync.Concurrency,
	}, sync.WithLogger(logger), sync.WithLocker(lock))

	pipeline := publish.New(client, st, mediaFiles, cfg.Remote.Publish(),
		publish.WithLogger(logger), publish.WithLocker(lock))

	a.Broker = sse.NewBroker(2 * time.Second)
	a.closers = append(a.closers, func() error { a.Broker.Close(); return nil })

	a.Service = postservice.New(st, engine, pipeline,
		postservice.WithLogger(logger),
		postservice.WithNotifier(a.Broker),
		postservice.WithRetry(postservice.RetryConfig{
			MaxAttempts: cfg.Sync.Retry.MaxAttempts,
			BaseDelay:   cfg.Sync.Retry.BaseDelay,
		}))

	return a, nil
}

// Close releases the store and lock connections in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

// Reconcile brings store records in line with the backing files.
func (a *App) Reconcile(ctx context.Context) {
	report, err := a.Store.Reconcile(ctx)
	if err != nil {
		a.logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("initial reconcile done",
		slog.Int("dropped", len(report.Dropped)),
		slog.Int("purged", len(report.Purged)),
		slog.Int("refreshed", len(report.Refreshed)))
}

// notifyReconcile forwards watcher-driven store changes to SSE clients.
func (a *App) notifyReconcile(report store.ReconcileReport) {
	for _, id := range report.Refreshed {
		a.Broker.PublishPost(sse.PostUpdated, sse.PostRef{ID: id})
	}
	for _, id := range report.Dropped {
		a.Broker.PublishPost(sse.PostDeleted, sse.PostRef{ID: id})
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := Open(opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger

	a.Reconcile(ctx)

	apiRouter := api.NewRouter(a.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, a.Broker, a.Media)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := a.Store.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch backing files for out-of-band edits.
	g.Go(func() error {
		if err := a.Store.Watch(gCtx, cfg.Store.Root, a.notifyReconcile); err != nil {
			logger.Error("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	a, err := Open(opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Reconcile(ctx)
	return mcpserver.New(a.Service, a.Media).ServeStdio()
}
