package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv() []string { return nil }

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", noEnv)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Addr)
	assert.Equal(t, int64(10<<20), cfg.Server.RequestSizeLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, KeyStorageKeyring, cfg.Auth.Storage)
	assert.Equal(t, 10, cfg.Engine.MaxParallelCalls)
	assert.Equal(t, 4, cfg.Engine.MaxInFlight)
	assert.Equal(t, 30*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.StateMaxAge)
	assert.False(t, cfg.Engine.Strict)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.toml")
	content := `
[server]
addr = "0.0.0.0:8080"

[engine]
max_parallel_calls = 6
max_in_flight = 2
strict = true

[tools]
disallowed = ["rm_rf"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr)
	assert.Equal(t, 6, cfg.Engine.MaxParallelCalls)
	assert.Equal(t, 2, cfg.Engine.MaxInFlight)
	assert.True(t, cfg.Engine.Strict)
	assert.Equal(t, []string{"rm_rf"}, cfg.Tools.Disallowed)
	// untouched sections keep their defaults
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), noEnv)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	environ := func() []string {
		return []string{
			"TOOLGATE_SERVER_ADDR=127.0.0.1:9000",
			"TOOLGATE_LOG_LEVEL=debug",
			"TOOLGATE_ENGINE_CALL_TIMEOUT=45s",
			"TOOLGATE_ENGINE_MAX_PARALLEL_CALLS=8",
			"TOOLGATE_AUTH_STORAGE=env",
			"UNRELATED_VAR=ignored",
		}
	}

	cfg, err := Load("", environ)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Engine.CallTimeout)
	assert.Equal(t, 8, cfg.Engine.MaxParallelCalls)
	assert.Equal(t, KeyStorageEnv, cfg.Auth.Storage)
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolgate.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"warn\"\n"), 0o600))

	environ := func() []string { return []string{"TOOLGATE_LOG_LEVEL=error"} }

	cfg, err := Load(path, environ)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		env  []string
	}{
		{name: "empty addr", env: []string{"TOOLGATE_SERVER_ADDR="}},
		{name: "unknown key storage", env: []string{"TOOLGATE_AUTH_STORAGE=vault"}},
		{name: "zero parallel calls", env: []string{"TOOLGATE_ENGINE_MAX_PARALLEL_CALLS=0"}},
		{name: "in-flight above parallel limit", env: []string{
			"TOOLGATE_ENGINE_MAX_PARALLEL_CALLS=2",
			"TOOLGATE_ENGINE_MAX_IN_FLIGHT=5",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", func() []string { return tt.env })
			assert.Error(t, err)
		})
	}
}
