package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "lorekeep.db", filepath.Base(cfg.Storage.Path))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Reindex.Async)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
storage:
  driver: json
  path: /tmp/world.json
log:
  level: debug
reindex:
  async: true
`)
	t.Setenv("LOREKEEP_LOG_FORMAT", "json")
	t.Setenv("LOREKEEP_STORAGE_PATH", "/tmp/other.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverJSON, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/other.json", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Reindex.Async)
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOREKEEP_STORAGE_DRIVER", "memory")
	t.Setenv("LOREKEEP_REINDEX_ASYNC", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.True(t, cfg.Reindex.Async)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		env  map[string]string
		want string
	}{
		{
			name: "missing explicit file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			want: "read config",
		},
		{
			name: "bad yaml",
			path: func(t *testing.T) string { return writeFile(t, "storage: [") },
			want: "parse config",
		},
		{
			name: "bad env bool",
			path: func(t *testing.T) string { return writeFile(t, "") },
			env:  map[string]string{"LOREKEEP_REINDEX_ASYNC": "maybe"},
			want: "parse env",
		},
		{
			name: "unknown driver",
			path: func(t *testing.T) string { return writeFile(t, "storage: {driver: postgres}") },
			want: `unknown storage driver "postgres"`,
		},
		{
			name: "driver without path",
			path: func(t *testing.T) string { return writeFile(t, "storage: {driver: json, path: ''}") },
			want: "needs a path",
		},
		{
			name: "unknown level",
			path: func(t *testing.T) string { return writeFile(t, "log: {level: loud}") },
			want: "log level",
		},
		{
			name: "unknown format",
			path: func(t *testing.T) string { return writeFile(t, "log: {format: xml}") },
			want: `unknown log format "xml"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := Log{Level: "info", Format: "json"}.Logger(&buf)
	log.Debug("hidden")
	log.Info("shown", "item", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, float64(7), rec["item"])

	buf.Reset()
	Log{Level: "warn", Format: "text"}.Logger(&buf).Info("quiet")
	assert.Empty(t, buf.String())
}
