// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/specdex/internal/api"
	"github.com/starford/specdex/internal/apperr"
	"github.com/starford/specdex/internal/fulltext"
	"github.com/starford/specdex/internal/index"
	"github.com/starford/specdex/internal/mcpserver"
	"github.com/starford/specdex/internal/sse"
	"github.com/starford/specdex/internal/storage"
	"github.com/starford/specdex/internal/watch"
	"github.com/starford/specdex/internal/workspace"
)

// ErrValidationFailed is returned by Check when at least one issue has error
// severity.
var ErrValidationFailed = errors.New("workspace has validation errors")

// runtime is an opened workspace together with the resources it owns.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	svc    *workspace.Service
	broker *sse.Broker
	db     *fulltext.DB
}

// open builds the logger, storage, optional full-text mirror and the
// workspace service, then loads every document.
func (a *application) open(ctx context.Context, withBroker bool) (*runtime, error) {
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	out := a.logOutput
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("fulltext_path", cfg.FullText.Path),
		slog.Bool("watch", cfg.Watch.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Workspace.Path, cfg.Workspace.StorageOptions()...)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: store}

	var ixOpts []index.Option
	if cfg.Search.Fuzzy {
		ixOpts = append(ixOpts, index.WithFuzzy(float32(cfg.Search.FuzzyThreshold)))
	}
	svcOpts := []workspace.Option{
		workspace.WithLogger(logger),
		workspace.WithIndex(index.New(ixOpts...)),
		workspace.WithSearchLimit(cfg.Search.Limit),
	}

	if cfg.FullText.Path != "" {
		db, err := fulltext.Open(cfg.FullText.Path)
		if err != nil {
			return nil, fmt.Errorf("init fulltext: %w", err)
		}
		rt.db = db
		svcOpts = append(svcOpts, workspace.WithMirror(db))
	}

	if withBroker {
		rt.broker = sse.NewBroker(2 * time.Second)
		svcOpts = append(svcOpts, workspace.WithBroker(rt.broker))
	}

	rt.svc = workspace.NewService(store, svcOpts...)
	if _, err := rt.svc.Open(ctx); err != nil {
		rt.close()
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	return rt, nil
}

func (rt *runtime) close() {
	if err := rt.svc.Close(); err != nil {
		rt.logger.Warn("workspace close failed", slog.String("error", err.Error()))
	}
	if rt.broker != nil {
		rt.broker.Close()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("fulltext close failed", slog.String("error", err.Error()))
		}
	}
}

// watcher returns the file watcher feeding the coordinator, or nil when
// watching is disabled.
func (rt *runtime) watcher() *watch.Watcher {
	if !rt.cfg.Watch.Enabled {
		return nil
	}
	return watch.New(rt.store, rt.svc.Coordinator(),
		watch.WithDebounce(rt.cfg.Watch.Debounce.Std()),
		watch.WithLogger(rt.logger),
		watch.WithKnown(rt.svc.Index().Documents),
	)
}

// Run starts the HTTP API, the event stream and the file watcher, and
// blocks until ctx is cancelled or a shutdown signal arrives.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.open(ctx, true)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, rt.broker)

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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if w := rt.watcher(); w != nil {
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}

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

		// SSE clients hold their connections open until the broker closes.
		rt.broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools over stdin/stdout. The watcher keeps the index
// current while the session is open.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := mcpserver.New(rt.svc, app.version)

	g, gCtx := errgroup.WithContext(ctx)
	if w := rt.watcher(); w != nil {
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}
	g.Go(func() error {
		rt.logger.Info("Starting MCP server", slog.String("version", app.version))
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		// stdin closed: stop the watcher too.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Check loads the workspace once, writes every validation issue to out and
// returns ErrValidationFailed when any of them is an error.
func Check(ctx context.Context, out io.Writer, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	issues := rt.svc.Validate(ctx)
	errCount := 0
	for _, is := range issues {
		if is.Severity == apperr.SeverityError {
			errCount++
		}
		fmt.Fprintf(out, "%s: %s\n", is.Severity, is.String())
	}

	st := rt.svc.Stats(ctx)
	fmt.Fprintf(out, "%d documents, %d elements, %d issues (%d errors)\n",
		st.Documents, st.Elements, len(issues), errCount)

	if errCount > 0 {
		return ErrValidationFailed
	}
	return nil
}

// Search loads the workspace once and writes the matches for query to out.
// With bodies set it queries the full-text mirror instead of identifiers
// and titles.
func Search(ctx context.Context, out io.Writer, query string, limit int, bodies bool, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := app.open(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if bodies {
		hits, err := rt.svc.FullText(ctx, query, limit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Fprintf(out, "%s\t%s\t%s\n", h.Identifier, h.Document, h.Snippet)
		}
		return nil
	}

	for _, m := range rt.svc.Search(ctx, query, limit) {
		fmt.Fprintf(out, "%s\t%s\t%s:%d\t%s\n",
			m.Element.ID, m.Tier, m.Element.Document, m.Element.Heading.StartLine+1, m.Element.Title)
	}
	return nil
}
