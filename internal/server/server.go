// Package server assembles the reference element backend: storage,
// routes and the HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/systemshift/reqgraph/internal/config"
	"github.com/systemshift/reqgraph/internal/server/api"
	"github.com/systemshift/reqgraph/internal/server/graph"
	"github.com/systemshift/reqgraph/internal/server/subscriptions"
)

const shutdownTimeout = 5 * time.Second

// OpenRepository connects the storage named by cfg.Storage.
func OpenRepository(ctx context.Context, cfg config.ServerConfig) (graph.Repository, error) {
	switch cfg.Storage {
	case config.StorageNeo4j:
		return graph.NewNeo4j(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
	case config.StorageSQLite, "":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		return graph.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

// Handler wraps the API routes with access logging when enabled. subs
// may be nil, which disables change events.
func Handler(repo graph.Repository, subs *subscriptions.Manager, cfg config.ServerConfig, logger *slog.Logger) http.Handler {
	opts := []api.Option{api.WithLogger(logger)}
	if subs != nil {
		opts = append(opts, api.WithSubscriptions(subs))
	}
	routes := api.New(repo, opts...).Routes()
	if !cfg.AccessLog {
		return routes
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Mount("/", routes)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) error {
	repo, err := OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close(context.Background())
	logger.Info("storage ready", "storage", cfg.Storage)

	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listening on port %s: %w", cfg.Port, err)
	}

	subs := subscriptions.NewManager(subscriptions.WithLogger(logger))
	subs.Start(ctx)
	defer subs.Stop()

	return Serve(ctx, ln, Handler(repo, subs, cfg, logger), logger)
}

// Serve runs an HTTP server on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting reqgraph server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
