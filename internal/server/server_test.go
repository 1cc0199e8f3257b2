package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/reqgraph/internal/backend"
	"github.com/systemshift/reqgraph/internal/config"
	"github.com/systemshift/reqgraph/internal/logging"
)

func TestOpenRepository_UnknownStorage(t *testing.T) {
	_, err := OpenRepository(context.Background(), config.ServerConfig{Storage: "bolt"})
	assert.ErrorContains(t, err, "unknown storage")
}

func TestOpenRepository_CreatesDataDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "nested", "reqgraph.db")

	repo, err := OpenRepository(ctx, config.ServerConfig{Storage: config.StorageSQLite, SQLitePath: path})
	require.NoError(t, err)
	assert.FileExists(t, path)
	require.NoError(t, repo.Close(ctx))
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.ServerConfig{Storage: config.StorageSQLite, SQLitePath: ":memory:", AccessLog: true}
	repo, err := OpenRepository(ctx, cfg)
	require.NoError(t, err)
	defer repo.Close(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, Handler(repo, nil, cfg, logging.Discard()), logging.Discard())
	}()

	client := backend.NewClient("http://" + ln.Addr().String())
	require.Eventually(t, func() bool {
		return client.Health(ctx) == nil
	}, 2*time.Second, 20*time.Millisecond)

	rec, err := client.Create(ctx, "RequirementDefinition", map[string]any{"displayName": "Charge Time"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get("http://" + ln.Addr().String() + "/health")
	assert.Error(t, err)
}
