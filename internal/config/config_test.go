package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[runtime]
energy = 50
error_limit = 3
debug = true
delayed_spaces = ["shared", "admin"]
id_prefix = "bot"

[modules]
allow_remote = false
fetch_timeout = "2s"

[journal]
path = "run.db"

[log]
level = "debug"
format = "json"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Runtime.Energy)
	assert.Equal(t, 3, cfg.Runtime.ErrorLimit)
	assert.True(t, cfg.Runtime.Debug)
	assert.Equal(t, []string{"shared", "admin"}, cfg.Runtime.DelayedSpaces)
	assert.Equal(t, "bot", cfg.Runtime.IDPrefix)
	assert.False(t, cfg.Modules.AllowRemote)
	assert.Equal(t, 2*time.Second, cfg.Modules.FetchTimeout)
	assert.Equal(t, "run.db", cfg.Journal.Path)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "[runtime]\ndebug = true\n"))
	require.NoError(t, err)
	assert.Equal(t, New().Runtime.Energy, cfg.Runtime.Energy)
	assert.Equal(t, 1000, cfg.Runtime.ErrorLimit)
	assert.True(t, cfg.Modules.AllowRemote)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadFileRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "[runtime]\nenergie = 5\n"},
		{"zero energy", "[runtime]\nenergy = 0\n"},
		{"negative limit", "[runtime]\nerror_limit = -1\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad format", "[log]\nformat = \"xml\"\n"},
		{"syntax", "[runtime\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadDefault(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)

	require.NoError(t, os.WriteFile(DefaultFile, []byte("[journal]\npath = \"x.db\"\n"), 0o644))
	cfg, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "x.db", cfg.Journal.Path)
}
