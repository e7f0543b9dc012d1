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

	"github.com/starford/mdview/internal/api"
	"github.com/starford/mdview/internal/apperr"
	"github.com/starford/mdview/internal/converter"
	"github.com/starford/mdview/internal/history"
	"github.com/starford/mdview/internal/mcpserver"
	"github.com/starford/mdview/internal/models"
	"github.com/starford/mdview/internal/render"
	"github.com/starford/mdview/internal/session"
	"github.com/starford/mdview/internal/sse"
	"github.com/starford/mdview/internal/tagstore"
	"github.com/starford/mdview/internal/watch"
)

// core holds the components shared by the HTTP and MCP front ends.
type core struct {
	logger   *slog.Logger
	store    *tagstore.Store
	renderer *render.Renderer
	conv     *converter.Pandoc
	hist     *history.DB
}

func (c *core) close() {
	if c.hist != nil {
		if err := c.hist.Close(); err != nil {
			c.logger.Warn("close history failed", slog.String("error", err.Error()))
		}
	}
}

// recorder returns the history as a session recorder, or nil when history is off.
func (c *core) recorder() session.Recorder {
	if c.hist == nil {
		return nil
	}
	return c.hist
}

func newCore(cfg *Config, logOut io.Writer) (*core, error) {
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	binary := cfg.Converter.ResolvedBinary()
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("tags_path", cfg.Tags.Path),
		slog.String("history_path", cfg.History.Path),
		slog.String("converter", binary),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c := &core{
		logger: logger,
		store:  tagstore.Load(cfg.Tags.Path),
		renderer: render.New(render.Options{
			MathJaxURL: cfg.Render.MathJaxURL,
			MermaidURL: cfg.Render.MermaidURL,
			AssetBase:  api.AssetPrefix,
			EventsURL:  "/api/events",
			TagsURL:    "/api/tags",
		}),
		conv: converter.NewPandoc(converter.WithBinary(binary)),
	}

	if cfg.History.Enabled() {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("init history: %w", err)
		}
		c.hist = db
	}
	return c, nil
}

// openInitial opens path in sess when it names an existing Markdown file.
func openInitial(ctx context.Context, sess *session.Session, path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if !models.IsMarkdown(path) {
		logger.Warn("initial file skipped: not a Markdown file", slog.String("path", path))
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		logger.Warn("initial file skipped: not found", slog.String("path", path))
		return
	}
	if _, err := sess.Open(ctx, path); err != nil {
		logger.Warn("open initial file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

func healthOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	c, err := newCore(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer c.close()
	logger := c.logger

	// SSE broker.
	broker := sse.NewBroker(sse.DefaultSticky...)
	defer broker.Close()

	watcher, err := watch.New(logger, watch.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("init watcher: %w", err)
	}

	sess := session.New(c.store, c.renderer, c.conv,
		session.WithPublisher(broker),
		session.WithRecorder(c.recorder()),
		session.WithLoadedHook(watcher.Follow),
		session.WithLogger(logger),
		session.WithInstallURL(cfg.Converter.InstallURL),
	)

	var hist api.History
	if c.hist != nil {
		hist = c.hist
	}
	apiRouter := api.NewRouter(sess, hist, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", healthOK)
	r.Get("/health/ready", healthOK)

	// Mount API routes under /api, the page and its assets at the root.
	r.Mount("/api", apiRouter)
	r.Mount("/", api.NewViewRouter(sess))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("url", cfg.App.HTTP.URL()))

	g, gCtx := errgroup.WithContext(ctx)

	// Control loop.
	g.Go(func() error {
		return sess.Run(gCtx)
	})

	// Reload the current document when it changes on disk.
	g.Go(func() error {
		return watcher.Run(gCtx, func(path string) {
			if _, err := sess.Reload(gCtx); err != nil {
				level := slog.LevelWarn
				if errors.Is(err, apperr.ErrBusy) || errors.Is(err, context.Canceled) {
					level = slog.LevelDebug
				}
				logger.Log(gCtx, level, "reload on change skipped",
					slog.String("path", path),
					slog.String("error", err.Error()))
			}
		})
	})

	g.Go(func() error {
		openInitial(gCtx, sess, app.initialFile, logger)
		return nil
	})

	// Start HTTP server.
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

		// SSE streams stay open until their clients go away; close the
		// broker first so Shutdown does not wait on them.
		broker.Close()

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

// errShutdown cancels the group once a shutdown was requested, so the
// session loop and the watcher stop with the HTTP server.
var errShutdown = errors.New("shutdown requested")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	c, err := newCore(app.config, os.Stderr)
	if err != nil {
		return err
	}
	defer c.close()

	sess := session.New(c.store, c.renderer, c.conv,
		session.WithRecorder(c.recorder()),
		session.WithLogger(c.logger),
		session.WithInstallURL(app.config.Converter.InstallURL),
	)

	var hist mcpserver.RecentLister
	if c.hist != nil {
		hist = c.hist
	}
	srv := mcpserver.New(sess, hist)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Run(gCtx)
	})

	g.Go(func() error {
		openInitial(gCtx, sess, app.initialFile, c.logger)
		return nil
	})

	g.Go(func() error {
		defer cancel()
		c.logger.Info("MCP server listening on stdio")
		return srv.ServeStdio()
	})

	return g.Wait()
}
