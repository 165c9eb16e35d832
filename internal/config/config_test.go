package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, 30*time.Second, cfg.SyncTimeout)
	assert.Equal(t, 60*time.Second, cfg.SyncRetryDelay)
	assert.True(t, cfg.FaceSkip)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rollcall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http_port: \"9000\"\nsync_retry_delay: 5s\nnode_name: edge-1\n"), 0o600))

	t.Setenv(PathEnvVar, path)
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("FACE_SKIP", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.HTTPPort)
	assert.Equal(t, "edge-1", cfg.NodeName)
	assert.Equal(t, 5*time.Second, cfg.SyncRetryDelay)
	assert.False(t, cfg.FaceSkip)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.QueueBackend = "kafka"
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.SyncBatchSize = 0
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Timezone = "Mars/Olympus"
	require.Error(t, cfg.Validate())
}

func TestProduction(t *testing.T) {
	cfg := Defaults()
	assert.False(t, cfg.Production())
	cfg.Env = "prod"
	assert.True(t, cfg.Production())
}
