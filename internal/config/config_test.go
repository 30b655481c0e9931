package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:7878", cfg.Server.ListenAddress)
	assert.Equal(t, 5*time.Minute, cfg.Server.IdleTimeout.AsDuration())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rocketd.toml")
	contents := `
[server]
listen_address = "0.0.0.0:9999"
idle_timeout = "1m"
max_buffered_items_per_stream = 64

[logging]
level = "DEBUG"
target = "stdout"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Server.ListenAddress)
	assert.Equal(t, time.Minute, cfg.Server.IdleTimeout.AsDuration())
	assert.Equal(t, uint32(64), cfg.Server.MaxBufferedItemsPerStream)
	assert.Equal(t, LogLevelDebug, cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Logging.Target)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsEmptyListenAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.ListenAddress = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveIdleTimeout(t *testing.T) {
	cfg := Default()
	cfg.Server.IdleTimeout = Duration(0)
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "VERBOSE"
	assert.Error(t, cfg.Validate())
}

func TestDurationMarshalUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, d.AsDuration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "250ms", string(text))
}

func TestDurationUnmarshalTextInvalid(t *testing.T) {
	var d Duration
	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
}
