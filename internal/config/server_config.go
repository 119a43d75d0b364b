package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CollectorConfig configures the collector service that receives streamed
// sessions from one or more samplers
type CollectorConfig struct {
	Server   ServerSettings `yaml:"server"`
	Live     LiveSettings   `yaml:"live"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
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

// LiveSettings sizes the in-memory view of recent readings
type LiveSettings struct {
	// PerChannel is the number of readings kept per session channel
	PerChannel int `yaml:"per_channel"`
}

// LoadCollectorConfig loads the collector configuration from a YAML file
func LoadCollectorConfig(path string) (*CollectorConfig, error) {
	var config CollectorConfig
	if path != "" {
		yamlData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(yamlData, &config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for collector config
func (cc *CollectorConfig) ApplyDefaults() {
	if cc.Server.Port == 0 {
		cc.Server.Port = 8080
	}
	if cc.Server.Host == "" {
		cc.Server.Host = "localhost"
	}
	if cc.Server.ReadTimeout == 0 {
		cc.Server.ReadTimeout = 60 * time.Second
	}
	if cc.Server.WriteTimeout == 0 {
		cc.Server.WriteTimeout = 10 * time.Second
	}
	if cc.Live.PerChannel == 0 {
		cc.Live.PerChannel = 300
	}
	if cc.Database.Path == "" {
		cc.Database.Path = "./data/collector.db"
	}
	if cc.Database.BatchSize == 0 {
		cc.Database.BatchSize = 100
	}
	if cc.Database.FlushPeriod == 0 {
		cc.Database.FlushPeriod = 5 * time.Second
	}
	if cc.Database.ChannelSize == 0 {
		cc.Database.ChannelSize = 1000
	}
	if cc.Database.RetentionDays == 0 {
		cc.Database.RetentionDays = 30
	}
	if cc.Database.CleanupPeriod == 0 {
		cc.Database.CleanupPeriod = 1 * time.Hour
	}
	if cc.Logging.Level == "" {
		cc.Logging.Level = "info"
	}
	if cc.Logging.Format == "" {
		cc.Logging.Format = "json"
	}
}

// OverrideFromEnv overrides config from environment variables
func (cc *CollectorConfig) OverrideFromEnv() error {
	if v := os.Getenv("COLLECTOR_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COLLECTOR_PORT %q: %w", v, err)
		}
		cc.Server.Port = port
	}
	if v := os.Getenv("COLLECTOR_HOST"); v != "" {
		cc.Server.Host = v
	}
	if v := os.Getenv("COLLECTOR_AUTH_TOKEN"); v != "" {
		cc.Server.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cc.Logging.Level = v
	}
	return nil
}

// Validate checks if collector configuration is valid
func (cc *CollectorConfig) Validate() error {
	if cc.Server.Port < 1 || cc.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cc.Server.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if cc.Live.PerChannel < 10 {
		return fmt.Errorf("live per_channel must be at least 10")
	}
	if cc.Database.Enabled && cc.Database.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be greater than 0")
	}
	return nil
}

// Addr returns the listen address
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// String returns a safe string representation (hides auth token)
func (cc *CollectorConfig) String() string {
	return fmt.Sprintf("CollectorConfig{Server: [Addr=%s, Token=%s, Origins=%v], Live: %+v, Database: %+v, Logging: %+v}",
		cc.Server.Addr(),
		maskToken(cc.Server.AuthToken),
		cc.Server.AllowedOrigins,
		cc.Live,
		cc.Database,
		cc.Logging,
	)
}
