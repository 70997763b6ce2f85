package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "nearby.db", cfg.DBPath)
	assert.Equal(t, "downloads", cfg.DownloadDir)
	assert.Equal(t, "0.0.0.0:7420", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 256, cfg.HistorySize)
	assert.Zero(t, cfg.RequestTimeout)
	assert.Nil(t, cfg.STUN())
}

func TestLoadFromEnvironment(t *testing.T) {
	// Given
	t.Setenv("NEARBY_NAME", "laptop")
	t.Setenv("NEARBY_LOG_LEVEL", "debug")
	t.Setenv("NEARBY_REQUEST_TIMEOUT", "30s")
	t.Setenv("NEARBY_STUN_SERVERS", "stun:a.example:3478, stun:b.example:3478,")

	// When
	cfg, err := Load(missingEnvFile(t))

	// Then
	require.NoError(t, err)
	assert.Equal(t, "laptop", cfg.Name)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"stun:a.example:3478", "stun:b.example:3478"}, cfg.STUN())
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	// Given
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("NEARBY_SHARE_DIR=/srv/share\nNEARBY_HISTORY_SIZE=12\n"), 0o644))
	t.Setenv("NEARBY_HISTORY_SIZE", "64")
	t.Setenv("NEARBY_SHARE_DIR", "")
	require.NoError(t, os.Unsetenv("NEARBY_SHARE_DIR"))

	// When
	cfg, err := Load(path)

	// Then
	require.NoError(t, err)
	assert.Equal(t, "/srv/share", cfg.ShareDir)
	assert.Equal(t, 64, cfg.HistorySize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"log level", "NEARBY_LOG_LEVEL", "verbose"},
		{"history size", "NEARBY_HISTORY_SIZE", "0"},
		{"signal url", "NEARBY_SIGNAL_URL", "not a url"},
		{"negative timeout", "NEARBY_PERMISSION_TIMEOUT", "-1s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load(missingEnvFile(t))
			assert.Error(t, err)
		})
	}
}
