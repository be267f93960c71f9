package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simmer.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaultsForUnsetFields(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
shell = "/bin/bash"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", cfg.Shell)
	require.Equal(t, LogLevelInfo, cfg.Logging.Level)
	require.Equal(t, LogFormatText, cfg.Logging.Format)
	require.Equal(t, 10<<20, cfg.MaxOutputSize)
}

func TestLoad_FullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
shell = "/bin/sh"
max_output_size = 1024
db_path = "state.db"

[logging]
level = "debug"
format = "json"

[agent]
command = ["claude", "-p"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.MaxOutputSize)
	require.Equal(t, "state.db", cfg.DBPath)
	require.Equal(t, LogLevelDebug, cfg.Logging.Level)
	require.Equal(t, LogFormatJSON, cfg.Logging.Format)
	require.Equal(t, []string{"claude", "-p"}, cfg.Agent.Command)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
shelll = "/bin/sh"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown key")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[logging]
level = "loud"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid log level")

	path = writeConfig(t, `max_output_size = -1`)
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	path := writeConfig(t, `shell = "/bin/zsh"`)
	cfg, err = LoadOrDefault(path)
	require.NoError(t, err)
	require.Equal(t, "/bin/zsh", cfg.Shell)
}
