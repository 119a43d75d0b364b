package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sampling modes
const (
	ModePeriodic = "periodic"
	ModeEvents   = "events"
)

// Sensor backends
const (
	BackendSimulated = "simulated"
	BackendDHT11     = "dht11"
	BackendI2C       = "i2c"
)

// Config holds all configuration for a sampling run
type Config struct {
	Session  SessionConfig  `yaml:"session"`
	Sensor   SensorConfig   `yaml:"sensor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SessionConfig controls the sampling loop
type SessionConfig struct {
	Channels      []int         `yaml:"channels"`
	FrequencyHz   float64       `yaml:"frequency_hz"`
	AttachTimeout time.Duration `yaml:"attach_timeout"`
	StartDelay    time.Duration `yaml:"start_delay"`
	StatsPolicy   string        `yaml:"stats_policy"`
	Mode          string        `yaml:"mode"`
	// ChangeTrigger is the minimum change in °C reported in events mode
	ChangeTrigger float64 `yaml:"change_trigger"`
}

// SensorConfig selects and configures the sensor backend
type SensorConfig struct {
	Backend string `yaml:"backend"`
	// GPIOPins maps channel -> GPIO pin for the dht11 backend
	GPIOPins map[int]int `yaml:"gpio_pins"`
	// I2CBus and I2CAddresses configure the i2c backend (channel -> address)
	I2CBus       string          `yaml:"i2c_bus"`
	I2CAddresses map[int]int     `yaml:"i2c_addresses"`
	Simulated    SimulatedConfig `yaml:"simulated"`
}

// SimulatedConfig shapes the values produced by the simulated backend
type SimulatedConfig struct {
	Base        float64       `yaml:"base"`
	Jitter      float64       `yaml:"jitter"`
	AttachDelay time.Duration `yaml:"attach_delay"`
	Seed        int64         `yaml:"seed"`
}

// MQTTConfig contains broker settings for the reading publisher
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Server   string `yaml:"server"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`

	// DiscoveryPrefix enables Home Assistant discovery, e.g. "homeassistant"
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

// StreamConfig contains connection settings for the remote collector
type StreamConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	FlushInterval        time.Duration `yaml:"flush_interval"`
	BatchSize            int           `yaml:"batch_size"`
	BufferSize           int           `yaml:"buffer_size"`
	DropOldest           bool          `yaml:"drop_oldest"`
}

// DatabaseConfig contains settings for local reading persistence
type DatabaseConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// LoadConfig loads configuration from a YAML file. An empty path yields
// the defaults, still subject to environment overrides.
func LoadConfig(path string) (*Config, error) {
	var config Config
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

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if len(c.Session.Channels) == 0 {
		// port 4 is the hub's built-in IC
		c.Session.Channels = []int{0, 1, 2, 4}
	}
	if c.Session.FrequencyHz == 0 {
		c.Session.FrequencyHz = 1
	}
	if c.Session.AttachTimeout == 0 {
		c.Session.AttachTimeout = 5 * time.Second
	}
	if c.Session.StartDelay == 0 {
		c.Session.StartDelay = 1 * time.Second
	}
	if c.Session.StatsPolicy == "" {
		c.Session.StatsPolicy = "independent"
	}
	if c.Session.Mode == "" {
		c.Session.Mode = ModePeriodic
	}
	if c.Sensor.Backend == "" {
		c.Sensor.Backend = BackendSimulated
	}
	if c.Sensor.I2CBus == "" {
		c.Sensor.I2CBus = "1"
	}
	if c.Sensor.Simulated.Base == 0 {
		c.Sensor.Simulated.Base = 22.0
	}
	if c.Sensor.Simulated.Jitter == 0 {
		c.Sensor.Simulated.Jitter = 0.25
	}
	if c.MQTT.Server == "" {
		c.MQTT.Server = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "thermolog"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "thermolog"
	}
	if c.Stream.ReconnectInterval == 0 {
		c.Stream.ReconnectInterval = 1 * time.Second
	}
	if c.Stream.MaxReconnectInterval == 0 {
		c.Stream.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = 30 * time.Second
	}
	if c.Stream.PongTimeout == 0 {
		c.Stream.PongTimeout = 90 * time.Second
	}
	if c.Stream.FlushInterval == 0 {
		c.Stream.FlushInterval = 5 * time.Second
	}
	if c.Stream.BatchSize == 0 {
		c.Stream.BatchSize = 50
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = 1000
		c.Stream.DropOldest = true
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/thermolog.db"
	}
	if c.Database.BatchSize == 0 {
		c.Database.BatchSize = 100
	}
	if c.Database.FlushPeriod == 0 {
		c.Database.FlushPeriod = 5 * time.Second
	}
	if c.Database.ChannelSize == 0 {
		c.Database.ChannelSize = 1000
	}
	if c.Database.RetentionDays == 0 {
		c.Database.RetentionDays = 30
	}
	if c.Database.CleanupPeriod == 0 {
		c.Database.CleanupPeriod = 1 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() error {
	// Only override if environment variable is set (non-empty)
	if v := os.Getenv("THERMOLOG_BACKEND"); v != "" {
		c.Sensor.Backend = v
	}
	if v := os.Getenv("THERMOLOG_CHANNELS"); v != "" {
		channels, err := ParseChannels(v)
		if err != nil {
			return fmt.Errorf("THERMOLOG_CHANNELS: %w", err)
		}
		c.Session.Channels = channels
	}
	if v := os.Getenv("THERMOLOG_FREQUENCY_HZ"); v != "" {
		hz, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("THERMOLOG_FREQUENCY_HZ: %w", err)
		}
		c.Session.FrequencyHz = hz
	}
	if v := os.Getenv("MQTT_SERVER"); v != "" {
		c.MQTT.Server = v
	}
	if v := os.Getenv("STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("STREAM_AUTH_TOKEN"); v != "" {
		c.Stream.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Session.Channels) == 0 {
		return fmt.Errorf("at least one channel is required")
	}
	seen := make(map[int]bool, len(c.Session.Channels))
	for _, ch := range c.Session.Channels {
		if ch < 0 {
			return fmt.Errorf("channel %d must not be negative", ch)
		}
		if seen[ch] {
			return fmt.Errorf("channel %d is listed twice", ch)
		}
		seen[ch] = true
	}
	if c.Session.FrequencyHz <= 0 {
		return fmt.Errorf("frequency must be greater than 0")
	}
	if c.Session.AttachTimeout <= 0 {
		return fmt.Errorf("attach timeout must be greater than 0")
	}
	if c.Session.StartDelay < 0 {
		return fmt.Errorf("start delay must not be negative")
	}
	if c.Session.ChangeTrigger < 0 {
		return fmt.Errorf("change trigger must not be negative")
	}
	switch c.Session.StatsPolicy {
	case "independent", "legacy":
	default:
		return fmt.Errorf("unknown stats policy %q", c.Session.StatsPolicy)
	}
	switch c.Session.Mode {
	case ModePeriodic, ModeEvents:
	default:
		return fmt.Errorf("unknown mode %q", c.Session.Mode)
	}

	switch c.Sensor.Backend {
	case BackendSimulated:
	case BackendDHT11:
		for _, ch := range c.Session.Channels {
			if pin, ok := c.Sensor.GPIOPins[ch]; !ok || pin <= 0 {
				return fmt.Errorf("channel %d has no GPIO pin configured", ch)
			}
		}
	case BackendI2C:
		for _, ch := range c.Session.Channels {
			addr, ok := c.Sensor.I2CAddresses[ch]
			if !ok {
				return fmt.Errorf("channel %d has no I2C address configured", ch)
			}
			if addr < 0x03 || addr > 0x77 {
				return fmt.Errorf("channel %d: I2C address 0x%02X out of range", ch, addr)
			}
		}
	default:
		return fmt.Errorf("unknown sensor backend %q", c.Sensor.Backend)
	}

	if c.MQTT.Enabled && c.MQTT.Server == "" {
		return fmt.Errorf("mqtt server is required when mqtt is enabled")
	}
	if c.Stream.Enabled {
		if c.Stream.URL == "" {
			return fmt.Errorf("stream URL is required when streaming is enabled")
		}
		if !strings.HasPrefix(c.Stream.URL, "ws://") && !strings.HasPrefix(c.Stream.URL, "wss://") {
			return fmt.Errorf("stream URL must start with ws:// or wss://")
		}
		if c.Stream.AuthToken == "" {
			return fmt.Errorf("stream auth token is required when streaming is enabled")
		}
		if c.Stream.BufferSize < 10 || c.Stream.BufferSize > 100000 {
			return fmt.Errorf("stream buffer size must be between 10 and 100000")
		}
	}
	if c.Database.Enabled && c.Database.RetentionDays <= 0 {
		return fmt.Errorf("retention days must be greater than 0")
	}
	return nil
}

// Interval returns the pause between two ticks
func (s SessionConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / s.FrequencyHz)
}

// ParseChannels parses a comma-separated channel list such as "0,1,2,4"
func ParseChannels(s string) ([]int, error) {
	var channels []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ch, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("no channels in %q", s)
	}
	return channels, nil
}

// String returns a safe string representation (hides secrets)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Session: %+v, Sensor: [Backend=%s], MQTT: [Enabled=%t, Server=%s, Password=%s], Stream: [Enabled=%t, URL=%s, Token=%s], Database: %+v, Logging: %+v}",
		c.Session,
		c.Sensor.Backend,
		c.MQTT.Enabled,
		c.MQTT.Server,
		maskToken(c.MQTT.Password),
		c.Stream.Enabled,
		c.Stream.URL,
		maskToken(c.Stream.AuthToken),
		c.Database,
		c.Logging,
	)
}

// maskToken masks all but first 4 characters of a token
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
