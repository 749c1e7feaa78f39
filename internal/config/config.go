package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sensor types accepted in climate_sensors.
const (
	SensorTypeSHT1x = "SHT1x"
	SensorTypeDHT11 = "DHT11"
)

// Config holds all configuration for the logger device.
type Config struct {
	Device         DeviceConfig          `yaml:"device"`
	GPIO           GPIOConfig            `yaml:"gpio"`
	ClimateSensors []ClimateSensorConfig `yaml:"climate_sensors"`
	DustSensor     DustSensorConfig      `yaml:"dust_sensor"`
	Measurement    MeasurementConfig     `yaml:"measurement"`
	HTTP           HTTPConfig            `yaml:"http"`
	Uplink         UplinkConfig          `yaml:"uplink"`
	Buffer         BufferConfig          `yaml:"buffer"`
	Logging        LoggingConfig         `yaml:"logging"`
}

// DeviceConfig identifies the logger.
type DeviceConfig struct {
	ID       string `yaml:"id"`
	Location string `yaml:"location"`
}

// GPIOConfig selects the pin driver.
type GPIOConfig struct {
	Driver string `yaml:"driver"` // gpiocdev or periph
	Chip   string `yaml:"chip"`
}

// ClimateSensorConfig describes one temperature/humidity sensor. SHT1x
// sensors use ClockPin/DataPin, DHT11 sensors use Pin.
type ClimateSensorConfig struct {
	ID             string        `yaml:"id"`
	Type           string        `yaml:"type"`
	ClockPin       int           `yaml:"clock_pin"`
	DataPin        int           `yaml:"data_pin"`
	Pin            int           `yaml:"pin"`
	BitDelay       time.Duration `yaml:"bit_delay"`
	MeasureTimeout time.Duration `yaml:"measure_timeout"`
	DataPull       string        `yaml:"data_pull"` // up, down or floating (default)
}

// DustSensorConfig describes the PM1006 UART.
type DustSensorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	ID           string        `yaml:"id"`
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// Replay feeds a recorded frame instead of opening Port.
	Replay bool `yaml:"replay"`
}

// MeasurementConfig controls the polling loop.
type MeasurementConfig struct {
	Interval time.Duration `yaml:"interval"`
	History  int           `yaml:"history"`
}

// HTTPConfig is the local REST API.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UplinkConfig contains connection settings for the collector.
type UplinkConfig struct {
	Enabled              bool          `yaml:"enabled"`
	URL                  string        `yaml:"url"`
	AuthToken            string        `yaml:"auth_token"`
	PushInterval         time.Duration `yaml:"push_interval"`
	BatchSize            int           `yaml:"batch_size"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
}

// BufferConfig contains settings for the uplink reading buffer.
type BufferConfig struct {
	Size       int  `yaml:"size"`
	DropOldest bool `yaml:"drop_oldest"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`    // json or text
	FilePath string `yaml:"file_path"` // empty = stdout only
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.GPIO.Driver == "" {
		c.GPIO.Driver = "gpiocdev"
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = "gpiochip0"
	}
	for i := range c.ClimateSensors {
		s := &c.ClimateSensors[i]
		if s.Type == "" {
			s.Type = SensorTypeSHT1x
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("climate-%d", i+1)
		}
		if s.BitDelay == 0 {
			s.BitDelay = 50 * time.Microsecond
		}
		if s.MeasureTimeout == 0 {
			s.MeasureTimeout = 250 * time.Millisecond
		}
	}
	if c.DustSensor.ID == "" {
		c.DustSensor.ID = "dust-1"
	}
	if c.DustSensor.BaudRate == 0 {
		c.DustSensor.BaudRate = 9600
	}
	if c.DustSensor.ReadTimeout == 0 {
		c.DustSensor.ReadTimeout = 20 * time.Millisecond
	}
	if c.DustSensor.PollInterval == 0 {
		c.DustSensor.PollInterval = 3 * time.Second
	}
	if c.Measurement.Interval == 0 {
		c.Measurement.Interval = 5 * time.Second
	}
	if c.Measurement.History == 0 {
		c.Measurement.History = 720
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Uplink.PushInterval == 0 {
		c.Uplink.PushInterval = 30 * time.Second
	}
	if c.Uplink.BatchSize == 0 {
		c.Uplink.BatchSize = 100
	}
	if c.Uplink.ConnectTimeout == 0 {
		c.Uplink.ConnectTimeout = 10 * time.Second
	}
	if c.Uplink.ReconnectInterval == 0 {
		c.Uplink.ReconnectInterval = 1 * time.Second
	}
	if c.Uplink.MaxReconnectInterval == 0 {
		c.Uplink.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Uplink.PingInterval == 0 {
		c.Uplink.PingInterval = 30 * time.Second
	}
	if c.Uplink.PongTimeout == 0 {
		c.Uplink.PongTimeout = 10 * time.Second
	}
	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
		c.Buffer.DropOldest = true
	}
	c.Logging.applyDefaults()
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("DEVICE_ID"); v != "" {
		c.Device.ID = v
	}
	if v := os.Getenv("DEVICE_LOCATION"); v != "" {
		c.Device.Location = v
	}
	if v := os.Getenv("UPLINK_URL"); v != "" {
		c.Uplink.URL = v
	}
	if v := os.Getenv("UPLINK_AUTH_TOKEN"); v != "" {
		c.Uplink.AuthToken = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("device ID is required")
	}
	switch c.GPIO.Driver {
	case "gpiocdev", "periph":
	default:
		return fmt.Errorf("gpio driver %q must be gpiocdev or periph", c.GPIO.Driver)
	}
	if len(c.ClimateSensors) == 0 && !c.DustSensor.Enabled {
		return fmt.Errorf("at least one climate sensor or the dust sensor must be configured")
	}

	seen := make(map[string]bool)
	for i, s := range c.ClimateSensors {
		if seen[s.ID] {
			return fmt.Errorf("climate sensor %d: duplicate id %q", i+1, s.ID)
		}
		seen[s.ID] = true

		switch s.Type {
		case SensorTypeSHT1x:
			if s.ClockPin < 0 || s.DataPin < 0 || s.ClockPin == s.DataPin {
				return fmt.Errorf("climate sensor %s: clock and data pins must be distinct and non-negative", s.ID)
			}
			if s.MeasureTimeout < 10*time.Millisecond {
				return fmt.Errorf("climate sensor %s: measure timeout must be at least 10ms", s.ID)
			}
			switch strings.ToLower(strings.TrimSpace(s.DataPull)) {
			case "", "floating", "up", "pullup", "down", "pulldown":
			default:
				return fmt.Errorf("climate sensor %s: data pull %q must be up, down or floating", s.ID, s.DataPull)
			}
		case SensorTypeDHT11:
			if s.Pin <= 0 {
				return fmt.Errorf("climate sensor %s: GPIO pin must be greater than 0", s.ID)
			}
		default:
			return fmt.Errorf("climate sensor %s: unknown type %q", s.ID, s.Type)
		}
	}

	if c.DustSensor.Enabled {
		if seen[c.DustSensor.ID] {
			return fmt.Errorf("dust sensor: duplicate id %q", c.DustSensor.ID)
		}
		if c.DustSensor.Port == "" && !c.DustSensor.Replay {
			return fmt.Errorf("dust sensor: port is required unless replay is set")
		}
	}

	if c.Measurement.Interval < 1*time.Second {
		return fmt.Errorf("measurement interval must be at least 1 second")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 0 and 65535")
	}

	if c.Uplink.Enabled {
		if !strings.HasPrefix(c.Uplink.URL, "ws://") && !strings.HasPrefix(c.Uplink.URL, "wss://") {
			return fmt.Errorf("uplink URL must start with ws:// or wss://")
		}
		if c.Uplink.AuthToken == "" {
			return fmt.Errorf("uplink auth token is required")
		}
		if c.Uplink.ReconnectInterval < 1*time.Second {
			return fmt.Errorf("uplink reconnect interval must be at least 1 second")
		}
		if c.Uplink.PingInterval < 1*time.Second {
			return fmt.Errorf("uplink ping interval must be at least 1 second")
		}
		if c.Uplink.PongTimeout < 1*time.Second {
			return fmt.Errorf("uplink pong timeout must be at least 1 second")
		}
		if c.Uplink.PushInterval <= 0 {
			return fmt.Errorf("uplink push interval must be positive")
		}
	}
	if c.Buffer.Size < 10 || c.Buffer.Size > 100000 {
		return fmt.Errorf("buffer size must be between 10 and 100000")
	}
	return nil
}

// String returns a safe string representation (hides auth token)
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %+v, GPIO: %+v, ClimateSensors: %+v, Dust: %+v, Measurement: %+v, Uplink: [Enabled=%t, URL=%s, Token=%s], Buffer: %+v, Logging: %+v}",
		c.Device,
		c.GPIO,
		c.ClimateSensors,
		c.DustSensor,
		c.Measurement,
		c.Uplink.Enabled,
		c.Uplink.URL,
		maskToken(c.Uplink.AuthToken),
		c.Buffer,
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
