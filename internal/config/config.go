// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package config loads the sync core configuration with layered sources:
// struct defaults, then an optional YAML config file, then REPSYNC_*
// environment variables (highest priority). The resulting struct is
// validated with go-playground/validator before use.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/repsync/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "REPSYNC_CONFIG_PATH"

// envPrefix is stripped from environment variables before mapping them to
// config paths: REPSYNC_SERVER_BASE_URL -> server.base_url.
const envPrefix = "REPSYNC_"

// Config is the full sync core configuration.
type Config struct {
	User     UserConfig     `koanf:"user"`
	Server   ServerConfig   `koanf:"server"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Storage  StorageConfig  `koanf:"storage"`
	Sync     SyncConfig     `koanf:"sync"`
	Joint    JointConfig    `koanf:"joint"`
	API      APIConfig      `koanf:"api"`
	Log      LogConfig      `koanf:"log"`
}

// UserConfig identifies the authenticated user this core instance serves.
type UserConfig struct {
	ID       string `koanf:"id" validate:"required"`
	Username string `koanf:"username" validate:"required"`
	// Person is the selected profile within the shared program.
	Person string `koanf:"person" validate:"required"`
	// Token is the opaque auth token presented to the server. Token
	// acquisition and refresh live outside the core.
	Token string `koanf:"token"`
}

// ServerConfig points at the training server's REST API.
type ServerConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"min=1s,max=5m"`
	// RequestsPerSecond caps outbound API calls; bursts up to Burst.
	RequestsPerSecond float64 `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int     `koanf:"burst" validate:"min=1"`
}

// RealtimeConfig controls the websocket transport.
type RealtimeConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url" validate:"required_if=Enabled true,omitempty,url"`
	// BackoffFloor is the initial reconnect delay; it doubles per failed
	// attempt up to BackoffCeiling.
	BackoffFloor   time.Duration `koanf:"backoff_floor" validate:"min=100ms"`
	BackoffCeiling time.Duration `koanf:"backoff_ceiling" validate:"gtefield=BackoffFloor"`
	PingInterval   time.Duration `koanf:"ping_interval" validate:"min=5s"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"min=1s"`
}

// StorageConfig controls the local BadgerDB store.
type StorageConfig struct {
	Path string `koanf:"path" validate:"required"`
	// SyncWrites forces fsync on every write. The pending queue and the
	// completed-days view are the user's source of truth while offline,
	// so this defaults to on.
	SyncWrites bool          `koanf:"sync_writes"`
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=1m"`
}

// SyncConfig controls the pending-queue drain loop and reconciliation.
type SyncConfig struct {
	DrainInterval time.Duration `koanf:"drain_interval" validate:"min=1s"`
	// PostEndDrainDelay is how long after ending a workout a drain is
	// scheduled when pending operations exist.
	PostEndDrainDelay time.Duration `koanf:"post_end_drain_delay" validate:"min=100ms"`
	HistoryLimit      int           `koanf:"history_limit" validate:"min=1,max=500"`
}

// JointConfig controls the joint-session coordinator.
type JointConfig struct {
	// SyncPulseDuration is how long the partner-ready pulse stays raised
	// before auto-clearing.
	SyncPulseDuration time.Duration `koanf:"sync_pulse_duration" validate:"min=200ms,max=30s"`
}

// APIConfig controls the loopback HTTP facade for the UI layer.
type APIConfig struct {
	ListenAddr        string `koanf:"listen_addr" validate:"required"`
	RequestsPerMinute int    `koanf:"requests_per_minute" validate:"min=1"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns the defaults applied before file and env layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			RequestTimeout:    15 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Realtime: RealtimeConfig{
			Enabled:        true,
			BackoffFloor:   1 * time.Second,
			BackoffCeiling: 30 * time.Second,
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Storage: StorageConfig{
			Path:       "/data/repsync",
			SyncWrites: true,
			GCInterval: 30 * time.Minute,
		},
		Sync: SyncConfig{
			DrainInterval:     30 * time.Second,
			PostEndDrainDelay: 2 * time.Second,
			HistoryLimit:      50,
		},
		Joint: JointConfig{
			SyncPulseDuration: 2 * time.Second,
		},
		API: APIConfig{
			ListenAddr:        "127.0.0.1:7333",
			RequestsPerMinute: 600,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// REPSYNC_* environment variables, then validates it.
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile loads configuration with an explicit config file path. An empty
// path skips the file layer.
func LoadFile(path string) (*Config, error) {
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration with validator struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// findConfigFile returns the first existing config file path, honoring the
// REPSYNC_CONFIG_PATH override. Empty means no config file.
func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps REPSYNC_SECTION_SOME_KEY to section.some_key. The first
// underscore separates the section; the rest is the key.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}
