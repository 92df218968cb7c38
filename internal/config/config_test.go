package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ParsesSectionsAndDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
database:
  mysql:
    dsn: "root:pw@tcp(localhost:3306)/vault"
upload:
  stale_age: 1h
assetstore:
  bootstrap:
    name: local
    type: filesystem
    root: /var/lib/vault
schedule:
  recalculate_sizes: "0 3 * * *"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "release", cfg.Server.Mode)
	require.Equal(t, "mysql", cfg.Database.Driver)
	require.Equal(t, "data.process", cfg.Kafka.Topic)
	require.Equal(t, time.Hour, cfg.Upload.StaleAge)
	require.Equal(t, 5*time.Minute, cfg.Upload.ChunkLockTTL)
	require.Equal(t, "filesystem", cfg.Assetstore.Bootstrap.Type)
	require.Equal(t, "/var/lib/vault", cfg.Assetstore.Bootstrap.Root)
	require.Equal(t, "0 3 * * *", cfg.Schedule.RecalculateSizes)
	require.Empty(t, cfg.Schedule.StaleUploadCleanup)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestInit_PanicsOnBadFile(t *testing.T) {
	require.Panics(t, func() {
		Init(filepath.Join(t.TempDir(), "nope.yaml"))
	})
}
