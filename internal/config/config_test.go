package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "slotboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendGitHub, cfg.Remote.Backend)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 3, cfg.Sync.MaxConflictRetries)
	assert.Equal(t, 3, cfg.Queue.MaxRetries)
	assert.Equal(t, 20, cfg.Queue.ParkedCap)
	assert.Equal(t, 5*time.Second, cfg.Netmon.Timeout)
	assert.Equal(t, 800*time.Millisecond, cfg.Netmon.GoodThreshold)
	assert.Equal(t, 3*time.Second, cfg.Netmon.FairThreshold)
	assert.Len(t, cfg.Netmon.Endpoints, 3)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
remote:
  backend: github
  github:
    owner: team
    repo: schedule-data
sync:
  interval: 45s
queue:
  parked_cap: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "team", cfg.Remote.GitHub.Owner)
	assert.Equal(t, "schedule-data", cfg.Remote.GitHub.Repo)
	assert.Equal(t, "main", cfg.Remote.GitHub.Branch)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 5, cfg.Queue.ParkedCap)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
remote:
  backend: file
  file:
    dir: /srv/share
`)
	t.Setenv("SLOTBOARD_REMOTE_FILE_DIR", "/mnt/other")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/mnt/other", cfg.Remote.File.Dir)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"github without repo", func(c *Config) { c.Remote.GitHub.Owner = "x" }, "remote.github"},
		{"s3 without bucket", func(c *Config) { c.Remote.Backend = BackendS3 }, "remote.s3.bucket"},
		{"r2 without account", func(c *Config) {
			c.Remote.Backend = BackendS3
			c.Remote.S3.Bucket = "b"
			c.Remote.S3.Provider = "r2"
		}, "account_id"},
		{"unknown backend", func(c *Config) { c.Remote.Backend = "ftp" }, "unknown remote.backend"},
		{"thresholds inverted", func(c *Config) {
			c.Remote.Backend = BackendFile
			c.Remote.File.Dir = "/tmp"
			c.Netmon.GoodThreshold = 5 * time.Second
		}, "good_threshold"},
		{"bad notify driver", func(c *Config) {
			c.Remote.Backend = BackendFile
			c.Remote.File.Dir = "/tmp"
			c.Notify.Driver = "kafka"
		}, "notify.driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDump_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Notify.RedisPassword = "hunter2"

	out, err := Dump(cfg)
	require.NoError(t, err)

	assert.False(t, strings.Contains(string(out), "hunter2"))
	assert.Contains(t, string(out), "backend: github")
	assert.Equal(t, "hunter2", cfg.Notify.RedisPassword, "Dump must not mutate its argument")
}
