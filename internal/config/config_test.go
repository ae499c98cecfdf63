package config

import (
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytakahashi/todo-sync/internal/services"
)

var envVars = []string{
	"PORT", "SHUTDOWN_TIMEOUT", "STORE_BACKEND", "GOOGLE_CLOUD_PROJECT",
	"FIRESTORE_DATABASE", "FIRESTORE_TRANSPORT", "FIRESTORE_FALLBACK_ON_ERROR",
	"FIRESTORE_POLL_INTERVAL", "FIRESTORE_PROBE_TIMEOUT",
	"LINE_CHANNEL_TOKEN", "LINE_CHANNEL_SECRET", "RATE_LIMIT_RPS",
	"LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
}

func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	setEnv(t, map[string]string{"GOOGLE_CLOUD_PROJECT": "demo"})

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.ServerAddr())
	assert.Equal(t, BackendFirestore, cfg.Store.Backend)
	assert.Equal(t, "demo", cfg.Store.ProjectID)
	assert.Equal(t, "auto", cfg.Store.Transport)
	assert.False(t, cfg.Store.FallbackOnError)
	assert.Equal(t, 2*time.Second, cfg.Store.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Store.ProbeTimeout)
	assert.Equal(t, 20.0, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.Line.Enabled())
}

func TestFromEnvOverrides(t *testing.T) {
	setEnv(t, map[string]string{
		"PORT":                        "9000",
		"GOOGLE_CLOUD_PROJECT":        "demo",
		"FIRESTORE_TRANSPORT":         "REST",
		"FIRESTORE_FALLBACK_ON_ERROR": "true",
		"FIRESTORE_POLL_INTERVAL":     "500ms",
		"RATE_LIMIT_RPS":              "2.5",
		"LINE_CHANNEL_TOKEN":          "token",
		"LINE_CHANNEL_SECRET":         "secret",
	})

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "rest", cfg.Store.Transport)
	assert.True(t, cfg.Store.FallbackOnError)
	assert.Equal(t, 500*time.Millisecond, cfg.Store.PollInterval)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.True(t, cfg.Line.Enabled())

	opts := cfg.StoreOptions()
	assert.Equal(t, "demo", opts.ProjectID)
	assert.Equal(t, services.TransportREST, opts.Transport)
	assert.True(t, opts.FallbackOnError)
	assert.False(t, cfg.UsesMemoryStore())
}

func TestFromEnvInvalidValuesFallBackToDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"STORE_BACKEND":           "memory",
		"FIRESTORE_POLL_INTERVAL": "soon",
		"LOG_MAX_BACKUPS":         "many",
	})

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Store.PollInterval)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
}

func TestFromEnvValidation(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"missing project", map[string]string{}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "postgres"}},
		{"unknown transport", map[string]string{"GOOGLE_CLOUD_PROJECT": "demo", "FIRESTORE_TRANSPORT": "http3"}},
		{"line token without secret", map[string]string{"STORE_BACKEND": "memory", "LINE_CHANNEL_TOKEN": "token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.vars)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestMemoryBackendNeedsNoProject(t *testing.T) {
	setEnv(t, map[string]string{"STORE_BACKEND": "Memory"})

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.True(t, cfg.UsesMemoryStore())
}

func TestSetupLoggingWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "todo-sync.log")
	cfg := &Config{Log: LogConfig{File: path, MaxSizeMB: 1}}

	defer log.SetOutput(os.Stderr)
	cfg.SetupLogging()
	log.Printf("hello from the server")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the server")
}
