// Package config loads gateway configuration from defaults, an optional
// TOML file and TOOLGATE_-prefixed environment variables, in that order of
// precedence (later sources win).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TOOLGATE_"

// Config is the full gateway configuration.
type Config struct {
	Server ServerConfig `koanf:"server"`
	Log    LogConfig    `koanf:"log"`
	Auth   AuthConfig   `koanf:"auth"`
	Engine EngineConfig `koanf:"engine"`
	Tools  ToolsConfig  `koanf:"tools"`
}

// ServerConfig bounds the HTTP listener.
type ServerConfig struct {
	Addr             string        `koanf:"addr"`
	RequestSizeLimit int64         `koanf:"request_size_limit"`
	ReadTimeout      time.Duration `koanf:"read_timeout"`
	WriteTimeout     time.Duration `koanf:"write_timeout"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig selects log level, format and the optional OTLP log endpoint.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	// OTLPEndpoint enables the OTLP log exporter when set; scheme selects
	// the protocol (grpc:// or http(s)://).
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// Key storage backends.
const (
	KeyStorageKeyring = "keyring"
	KeyStorageEnv     = "env"
)

// AuthConfig selects where the Anthropic API key lives.
type AuthConfig struct {
	Storage string `koanf:"storage"`
}

// EngineConfig bounds the tool engine.
type EngineConfig struct {
	MaxParallelCalls    int           `koanf:"max_parallel_calls"`
	MaxInFlight         int           `koanf:"max_in_flight"`
	CallTimeout         time.Duration `koanf:"call_timeout"`
	ChoiceBudget        time.Duration `koanf:"choice_budget"`
	SchemaCacheCapacity int           `koanf:"schema_cache_capacity"`
	SchemaCacheTTL      time.Duration `koanf:"schema_cache_ttl"`
	SchemaTimeBudget    time.Duration `koanf:"schema_time_budget"`
	MaxIDsPerSession    int           `koanf:"max_ids_per_session"`
	StateMaxAge         time.Duration `koanf:"state_max_age"`
	CleanupInterval     time.Duration `koanf:"cleanup_interval"`
	Strict              bool          `koanf:"strict"`
}

// ToolsConfig is the default tool policy; per-request headers can narrow it.
type ToolsConfig struct {
	Enabled        []string `koanf:"enabled"`
	Disallowed     []string `koanf:"disallowed"`
	PermissionMode string   `koanf:"permission_mode"`
	MaxTurns       int      `koanf:"max_turns"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":                  "127.0.0.1:4000",
		"server.request_size_limit":    int64(10 << 20),
		"server.read_timeout":          time.Minute,
		"server.write_timeout":         10 * time.Minute,
		"server.shutdown_timeout":      5 * time.Second,
		"log.level":                    "info",
		"log.format":                   "text",
		"auth.storage":                 KeyStorageKeyring,
		"engine.max_parallel_calls":    10,
		"engine.max_in_flight":         4,
		"engine.call_timeout":          30 * time.Second,
		"engine.choice_budget":         5 * time.Millisecond,
		"engine.schema_cache_capacity": 256,
		"engine.schema_cache_ttl":      5 * time.Minute,
		"engine.schema_time_budget":    5 * time.Millisecond,
		"engine.max_ids_per_session":   1000,
		"engine.state_max_age":         5 * time.Minute,
		"engine.cleanup_interval":      time.Minute,
		"engine.strict":                false,
		"tools.permission_mode":        "default",
		"tools.max_turns":              10,
	}
}

// Load assembles the configuration. path may be empty (no file); environ is
// injected so tests can run without touching the process environment.
func Load(path string, environ func() []string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix:      envPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			// Keys are two levels deep, so only the first underscore
			// separates the section: TOOLGATE_ENGINE_CALL_TIMEOUT maps
			// to engine.call_timeout.
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			section, rest, found := strings.Cut(key, "_")
			if !found {
				return key, value
			}
			return section + "." + rest, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if c.Auth.Storage != KeyStorageKeyring && c.Auth.Storage != KeyStorageEnv {
		return fmt.Errorf("auth.storage must be %q or %q, got %q", KeyStorageKeyring, KeyStorageEnv, c.Auth.Storage)
	}
	if c.Engine.MaxParallelCalls <= 0 {
		return fmt.Errorf("engine.max_parallel_calls must be positive")
	}
	if c.Engine.MaxInFlight <= 0 || c.Engine.MaxInFlight > c.Engine.MaxParallelCalls {
		return fmt.Errorf("engine.max_in_flight must be in 1..max_parallel_calls")
	}
	return nil
}
