package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := LoadAppConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GuestLimit)
	assert.Equal(t, 20, cfg.FreeMonthlyLimit)
	assert.Equal(t, 20, cfg.MaxUploadFiles)
	assert.Equal(t, int64(50*1024*1024), cfg.MaxFileSize)
	assert.True(t, cfg.FallbackNaming)
}

func TestLoadAppConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: ":9000"
dispatchMode: queue
guestLimit: 3
retentionPeriod: 48h
allowedTypes: [".png"]
`), 0o644))
	t.Setenv("APP_GUEST_LIMIT", "7")

	cfg, err := LoadAppConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "queue", cfg.DispatchMode)
	assert.Equal(t, 7, cfg.GuestLimit)
	assert.Equal(t, 48*time.Hour, cfg.RetentionPeriod)
	assert.Equal(t, []string{".png"}, cfg.AllowedTypes)
	assert.Equal(t, 20, cfg.FreeMonthlyLimit)
}

func TestLoadAppConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("APP_STORAGE_BACKEND", "ftp")
	_, err := LoadAppConfig("")
	assert.Error(t, err)
}

func TestLoadAppConfigMissingFile(t *testing.T) {
	_, err := LoadAppConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
