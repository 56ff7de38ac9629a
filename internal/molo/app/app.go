// Package app assembles the Molo application: storage, the optional Redis
// collaborators, templates, the bot orchestrator, and the HTTP gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bdobrica/Molo/common/retry"
	"github.com/bdobrica/Molo/internal/molo/bot"
	"github.com/bdobrica/Molo/internal/molo/catalog"
	"github.com/bdobrica/Molo/internal/molo/erasure"
	"github.com/bdobrica/Molo/internal/molo/gateway"
	"github.com/bdobrica/Molo/internal/molo/store"
	"github.com/bdobrica/Molo/internal/molo/stream"
	"github.com/bdobrica/Molo/internal/molo/templates"
)

// Config holds application configuration
type Config struct {
	// DatabasePath is the SQLite database file.
	DatabasePath string
	// HTTPAddr is the TCP address of the webhook server (e.g. ":8000").
	HTTPAddr string
	// RedisURL enables the Redis-backed delete-request store and inbound
	// message stream. Empty means the SQLite fallback store and no stream.
	RedisURL string
	// RedisStream overrides the inbound stream name.
	RedisStream string
	// TemplatesDir points at a directory of reply template files. Empty
	// means the embedded default set.
	TemplatesDir string
	// BundlesFile is an optional YAML catalog seeded into the bundle table
	// at startup.
	BundlesFile string
	// DefaultLanguage seeds new users when no greeting is recognised.
	DefaultLanguage string
}

// App is the assembled Molo application.
type App struct {
	config     *Config
	store      *store.Store
	redis      *redis.Client
	handler    *bot.Handler
	httpServer *http.Server
}

// New creates the application from config. The returned App owns the store
// and Redis connections; call Stop to release them.
func New(config *Config) (*App, error) {
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	a := &App{config: config, store: st}

	var pending bot.PendingStore = erasure.NewSQLiteStore(st.DB())
	var appender stream.Appender = stream.Noop{}

	if config.RedisURL != "" {
		client, err := newRedisClient(config.RedisURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.redis = client
		pending = erasure.NewRedisStore(client)
		appender = stream.NewRedisAppender(client)
		slog.Info("redis configured", "stream", streamName(config))
	} else {
		slog.Info("no redis configured, using sqlite delete-request store")
	}

	registry := templates.Default()
	if config.TemplatesDir != "" {
		registry = templates.NewRegistry(os.DirFS(config.TemplatesDir))
		slog.Info("using template directory", "dir", config.TemplatesDir)
	}

	if config.BundlesFile != "" {
		n, err := catalog.SeedFromFile(context.Background(), st, config.BundlesFile)
		if err != nil {
			a.Stop()
			return nil, fmt.Errorf("failed to seed bundle catalog: %w", err)
		}
		slog.Info("seeded bundle catalog", "bundles", n, "file", config.BundlesFile)
	}

	a.handler = bot.New(bot.Config{
		Directory:       st,
		Pending:         pending,
		Stream:          appender,
		StreamName:      streamName(config),
		Templates:       registry,
		DefaultLanguage: config.DefaultLanguage,
	})

	mux := http.NewServeMux()
	gateway.New(a.handler, st, slog.Default()).RegisterRoutes(mux)
	a.httpServer = &http.Server{
		Addr:              config.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Handler exposes the bot for embedding (tests, alternative transports).
func (a *App) Handler() *bot.Handler {
	return a.handler
}

// Run starts the HTTP server and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("webhook server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
		return nil
	}
}

// Stop releases the application's resources.
func (a *App) Stop() {
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			slog.Warn("http server shutdown", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("redis close", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("store close", "error", err)
		}
	}
}

func streamName(config *Config) string {
	if config.RedisStream != "" {
		return config.RedisStream
	}
	return stream.DefaultStreamName
}

// newRedisClient parses the Redis URL and connects. Upstash instances require
// TLS, so plain redis:// URLs pointing at upstash.io are upgraded to
// rediss://.
func newRedisClient(rawURL string) (*redis.Client, error) {
	if strings.HasPrefix(rawURL, "redis://") && strings.Contains(rawURL, "upstash.io") {
		rawURL = "rediss://" + strings.TrimPrefix(rawURL, "redis://")
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Managed Redis instances can take a moment to accept connections after
	// a cold start.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = retry.Do(ctx, retry.Config{MaxAttempts: 3, InitialDelay: time.Second}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
