package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/slotboard/internal/config"
	"github.com/kimhsiao/slotboard/internal/models"
	"github.com/kimhsiao/slotboard/internal/remote"
)

func testConfig(t *testing.T, probeURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Data.Dir = t.TempDir()
	cfg.Remote.Backend = config.BackendFile
	cfg.Remote.File.Dir = t.TempDir()
	cfg.Netmon.Endpoints = []string{probeURL}
	cfg.Netmon.Interval = time.Hour
	cfg.Sync.Interval = time.Hour
	cfg.Sync.ConflictBackoff = time.Millisecond
	cfg.Notify.Driver = "local"
	return cfg
}

func TestNewRemote(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	cfg.Remote.Backend = config.BackendFile
	cfg.Remote.File.Dir = t.TempDir()
	rs, creds, err := NewRemote(ctx, cfg, nil, "dev_1")
	require.NoError(t, err)
	assert.IsType(t, &remote.FileStore{}, rs)
	assert.IsType(t, remote.AmbientCredentials{}, creds)

	cfg.Remote.Backend = config.BackendGitHub
	cfg.Remote.GitHub.Owner, cfg.Remote.GitHub.Repo = "acme", "board"
	rs, _, err = NewRemote(ctx, cfg, nil, "dev_1")
	require.NoError(t, err)
	assert.IsType(t, &remote.GitHubStore{}, rs)

	cfg.Remote.Backend = "ftp"
	_, _, err = NewRemote(ctx, cfg, nil, "dev_1")
	assert.Error(t, err)
}

func TestApp_StartSyncsOnceOnline(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer probe.Close()

	ctx := context.Background()
	cfg := testConfig(t, probe.URL)

	a, err := New(ctx, cfg, "1.2.0")
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.Start(ctx))

	_, err = a.Engine.AddRecord(ctx, models.ScheduleRecord{
		Date: "2025-06-01", StartTime: "08:00", EndTime: "09:00",
		Status: models.SlotBusy, OwnerName: "Alice", OwnerID: "alice",
	})
	require.NoError(t, err)

	doc := filepath.Join(cfg.Remote.File.Dir, remote.DocumentName)
	require.Eventually(t, func() bool {
		_, err := os.Stat(doc)
		return err == nil && a.Engine.PendingOperationCount() == 0
	}, 5*time.Second, 20*time.Millisecond)

	snap, err := remote.NewFileStore(cfg.Remote.File.Dir).FetchSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap.Found)
	assert.Len(t, snap.Snapshot.Schedules, 1)
	assert.Equal(t, "1.2.0", snap.Snapshot.Version)
}
