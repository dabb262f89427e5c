// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the core's ambient settings (data directory,
// pool sizing, logging) from a TOML file with environment variable
// overrides, the way the rest of the corpus configures its daemons.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the ambient configuration for a process hosting one or
// more database identities. The reader pool, timeout, broadcast and
// capture-values fields are loaded and defaulted here, but no caller
// in this repository passes them on to sqlitepool.Load: a loaded
// database uses sqlitepool's package defaults plus whatever the load
// command's custom config sets.
type Config struct {
	DataDir string `toml:"dataDir" mapstructure:"dataDir"`

	LogLevel string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath  string `toml:"logPath" mapstructure:"logPath"`

	LogMaxSize    int `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	ReaderPoolSize      int  `toml:"readerPoolSize" mapstructure:"readerPoolSize"`
	IdleTimeoutSecs     int  `toml:"idleTimeoutSecs" mapstructure:"idleTimeoutSecs"`
	BusyTimeoutMillis   int  `toml:"busyTimeoutMillis" mapstructure:"busyTimeoutMillis"`
	BroadcastBufferSize int  `toml:"broadcastBufferSize" mapstructure:"broadcastBufferSize"`
	CaptureValues       bool `toml:"captureValues" mapstructure:"captureValues"`
}

const envPrefix = "SQLITECORE"

// New loads configuration from configPath (created with defaults if
// absent) layered under environment variable overrides of the form
// SQLITECORE_DATADIR, SQLITECORE_READERPOOLSIZE, and so on.
func New(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := writeDefaultConfig(configPath); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		if configPath != "" {
			cfg.DataDir = filepath.Dir(configPath)
		} else {
			cfg.DataDir = "."
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataDir", "")
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
	v.SetDefault("readerPoolSize", 6)
	v.SetDefault("idleTimeoutSecs", 30)
	v.SetDefault("busyTimeoutMillis", 5000)
	v.SetDefault("broadcastBufferSize", 256)
	v.SetDefault("captureValues", true)
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigTOML), 0o644)
}

// IdleTimeout returns IdleTimeoutSecs as a time.Duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

const defaultConfigTOML = `# config.toml - generated on first run

# Directory holding database files, their WAL/SHM sidecars.
#dataDir = ""

# Log level: "ERROR", "WARN", "INFO", "DEBUG", "TRACE"
logLevel = "INFO"

# If unset, logs to stdout.
#logPath = ""

# Log rotation
logMaxSize = 50
logMaxBackups = 3

# Reader pool
readerPoolSize = 6
idleTimeoutSecs = 30
busyTimeoutMillis = 5000

# Change observer
broadcastBufferSize = 256
captureValues = true

# Metrics
metricsEnabled = false
metricsHost = "127.0.0.1"
metricsPort = 9074
`
