package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	bridge "github.com/wippyai/simplicity-bridge"
	bridgeerrors "github.com/wippyai/simplicity-bridge/errors"
	"github.com/wippyai/simplicity-bridge/registry"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "dist", cfg.DistDir)
	assert.Equal(t, "newest", cfg.Selection)
	assert.Equal(t, bridge.ModeRelease, cfg.Mode)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, uint32(0), cfg.MemoryLimitPages)
	assert.Equal(t, FormatConsole, cfg.LogFormat)
	assert.False(t, cfg.Watch)
	require.NoError(t, cfg.Validate())

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, registry.Newest, p)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(map[string]string{
		"SIMPLICITY_DIST_DIR":           "/srv/dist",
		"SIMPLICITY_SELECTION":          "strict",
		"SIMPLICITY_MODE":               "debug",
		"SIMPLICITY_CALL_TIMEOUT":       "2s",
		"SIMPLICITY_MEMORY_LIMIT_PAGES": "256",
		"SIMPLICITY_WATCH":              "true",
		"SIMPLICITY_LOG_LEVEL":          "debug",
		"DIST_DIR":                      "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t, "/srv/dist", cfg.DistDir)
	assert.Equal(t, "strict", cfg.Selection)
	assert.Equal(t, bridge.ModeDebug, cfg.Mode)
	assert.Equal(t, 2*time.Second, cfg.CallTimeout)
	assert.Equal(t, uint32(256), cfg.MemoryLimitPages)
	assert.True(t, cfg.Watch)

	lvl, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestFromEnv_BadValue(t *testing.T) {
	_, err := FromEnv(map[string]string{"SIMPLICITY_CALL_TIMEOUT": "soon"})
	assert.ErrorIs(t, err, bridgeerrors.ErrInvalidInput)
}

func TestOverlay(t *testing.T) {
	cfg, err := FromEnv(map[string]string{"SIMPLICITY_MODE": "debug"})
	require.NoError(t, err)

	doc := `
dist_dir: ./build
call_timeout: 5s
relay_url: http://relay.internal:8080
`
	require.NoError(t, cfg.Overlay(strings.NewReader(doc)))
	assert.Equal(t, "./build", cfg.DistDir)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, "http://relay.internal:8080", cfg.RelayURL)
	assert.Equal(t, bridge.ModeDebug, cfg.Mode, "keys absent from the file keep their value")
}

func TestOverlay_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "dist: x\n"},
		{"wrong type", "watch: [1]\n"},
		{"too large", "dist_dir: " + strings.Repeat("a", maxFileSize) + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			assert.ErrorIs(t, cfg.Overlay(strings.NewReader(tt.doc)), bridgeerrors.ErrInvalidInput)
		})
	}
}

func TestOverlay_Empty(t *testing.T) {
	cfg := &Config{DistDir: "keep"}
	require.NoError(t, cfg.Overlay(strings.NewReader("")))
	assert.Equal(t, "keep", cfg.DistDir)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("selection: strict\nlog_format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Selection)
	assert.Equal(t, FormatJSON, cfg.LogFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, bridgeerrors.ErrInvalidInput)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := FromEnv(map[string]string{})
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"selection", func(c *Config) { c.Selection = "oldest" }, "selection"},
		{"mode", func(c *Config) { c.Mode = "fast" }, "mode"},
		{"timeout", func(c *Config) { c.CallTimeout = -time.Second }, "call_timeout"},
		{"level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"dist", func(c *Config) { c.DistDir = " " }, "dist_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, bridgeerrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := &Config{Selection: "x", Mode: "y", LogLevel: "info", LogFormat: "json", DistDir: "d"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selection")
	assert.Contains(t, err.Error(), "mode")
}

func TestValidateServe(t *testing.T) {
	cfg, err := FromEnv(map[string]string{})
	require.NoError(t, err)
	require.NoError(t, cfg.ValidateServe())

	cfg.HTTPAddr = ""
	err = cfg.ValidateServe()
	assert.ErrorIs(t, err, bridgeerrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "http_addr")
}
