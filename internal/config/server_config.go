package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the collector configuration.
type AppConfig struct {
	Server   ServerSettings   `yaml:"server"`
	Storage  StorageSettings  `yaml:"storage"`
	Database DatabaseSettings `yaml:"database"`
	Logging  LoggingConfig    `yaml:"logging"`
}

// ServerSettings contains HTTP server configuration
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings sizes the in-memory store.
type StorageSettings struct {
	BufferSize int `yaml:"buffer_size"`
}

// DatabaseSettings configures SQLite history.
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// LoadAppConfig loads collector configuration from a YAML file.
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for server config
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Storage.BufferSize == 0 {
		ac.Storage.BufferSize = 100
	}
	if ac.Database.Path == "" {
		ac.Database.Path = "./data/env-logger.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 50
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 1000
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 30
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = 24 * time.Hour
	}
	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config from environment variables
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("SERVER_AUTH_TOKEN"); v != "" {
		ac.Server.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	return nil
}

// Validate checks if server configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if ac.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if ac.Storage.BufferSize < 10 {
		return fmt.Errorf("buffer size must be at least 10")
	}
	if ac.Database.Enabled {
		if ac.Database.RetentionDays < 1 {
			return fmt.Errorf("retention days must be at least 1")
		}
		if ac.Database.BatchSize < 1 {
			return fmt.Errorf("database batch size must be at least 1")
		}
	}
	return nil
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: [Host=%s, Port=%d, Token=%s, Origins=%v], Storage: %+v, Database: %+v, Logging: %+v}",
		ac.Server.Host,
		ac.Server.Port,
		maskToken(ac.Server.AuthToken),
		ac.Server.AllowedOrigins,
		ac.Storage,
		ac.Database,
		ac.Logging,
	)
}
