package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Resolution policies for pending shade commands.
const (
	// PolicyLastWriteWins accepts whatever the device reports last.
	PolicyLastWriteWins = "last_write_wins"

	// PolicyReassertLatest republishes the most recent command when the
	// device disagrees with it or never confirms it.
	PolicyReassertLatest = "reassert_latest"
)

// Config is the root configuration structure for Shade Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Shade     ShadeConfig     `yaml:"shade"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	TLS  bool   `yaml:"tls"`

	// ClientID is the prefix of the session identifier. A random suffix is
	// appended on every connection attempt.
	ClientID string `yaml:"client_id"`

	// ConnectTimeout is the handshake timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	// Delay is the fixed wait in seconds between connection attempts.
	// Attempts are never capped.
	Delay int `yaml:"delay"`
}

// ShadeConfig describes the controlled actuator and its topic namespace.
type ShadeConfig struct {
	// Namespace is the topic prefix of the actuator, e.g. "sensores/motor".
	// Older device generations use "sensores/servo".
	Namespace string `yaml:"namespace"`

	// SensorRoot is the prefix of the ambient sensor topics, e.g. "sensores".
	SensorRoot string `yaml:"sensor_root"`

	// ConfirmDelayMS is how long after a command the state is re-requested.
	ConfirmDelayMS int `yaml:"confirm_delay_ms"`

	// ConfirmTimeoutMS is how long a command may stay unconfirmed.
	ConfirmTimeoutMS int `yaml:"confirm_timeout_ms"`

	// ResolutionPolicy is one of PolicyLastWriteWins or PolicyReassertLatest.
	ResolutionPolicy string `yaml:"resolution_policy"`

	// DefaultPresets are used when no preset list has been persisted yet.
	DefaultPresets []PresetConfig `yaml:"default_presets"`
}

// PresetConfig is a named target position.
type PresetConfig struct {
	Name  string `yaml:"name"`
	Value int    `yaml:"value"`
}

// ScheduleConfig contains the preset schedule applied in Scheduled mode.
type ScheduleConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Timezone string                `yaml:"timezone"`
	Entries  []ScheduleEntryConfig `yaml:"entries"`
}

// ScheduleEntryConfig is a single cron-triggered target.
// Exactly one of Preset or Position must be set.
type ScheduleEntryConfig struct {
	Cron     string `yaml:"cron"`
	Preset   string `yaml:"preset,omitempty"`
	Position *int   `yaml:"position,omitempty"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SHADECORE_SECTION_KEY
// For example: SHADECORE_DATABASE_PATH, SHADECORE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Shade Core",
		},
		Database: DatabaseConfig{
			Path:        "./data/shadecore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ClientID:       "shadecore",
				ConnectTimeout: 3,
				KeepAlive:      60,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Delay: 5,
			},
		},
		Shade: ShadeConfig{
			Namespace:        "sensores/motor",
			SensorRoot:       "sensores",
			ConfirmDelayMS:   500,
			ConfirmTimeoutMS: 5000,
			ResolutionPolicy: PolicyLastWriteWins,
			DefaultPresets: []PresetConfig{
				{Name: "Cerrada", Value: 0},
				{Name: "Media", Value: 50},
				{Name: "Abierta", Value: 100},
			},
		},
		Schedule: ScheduleConfig{
			Timezone: "Local",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SHADECORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SHADECORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SHADECORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SHADECORE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SHADECORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SHADECORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Shade
	if v := os.Getenv("SHADECORE_SHADE_NAMESPACE"); v != "" {
		cfg.Shade.Namespace = v
	}

	// API
	if v := os.Getenv("SHADECORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SHADECORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.Delay <= 0 {
		errs = append(errs, "mqtt.reconnect.delay must be positive")
	}

	// Shade validation
	errs = append(errs, c.Shade.validate()...)

	// Schedule validation
	if c.Schedule.Enabled {
		for i, e := range c.Schedule.Entries {
			if strings.TrimSpace(e.Cron) == "" {
				errs = append(errs, fmt.Sprintf("schedule.entries[%d].cron is required", i))
			}
			if (e.Preset == "") == (e.Position == nil) {
				errs = append(errs, fmt.Sprintf("schedule.entries[%d] needs exactly one of preset or position", i))
			}
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s ShadeConfig) validate() []string {
	var errs []string
	if s.Namespace == "" {
		errs = append(errs, "shade.namespace is required")
	} else if strings.ContainsAny(s.Namespace, "+#") {
		errs = append(errs, "shade.namespace must not contain MQTT wildcards")
	}
	if strings.ContainsAny(s.SensorRoot, "+#") {
		errs = append(errs, "shade.sensor_root must not contain MQTT wildcards")
	}
	if s.ConfirmDelayMS <= 0 {
		errs = append(errs, "shade.confirm_delay_ms must be positive")
	}
	if s.ConfirmTimeoutMS < s.ConfirmDelayMS {
		errs = append(errs, "shade.confirm_timeout_ms must not be shorter than confirm_delay_ms")
	}
	switch s.ResolutionPolicy {
	case PolicyLastWriteWins, PolicyReassertLatest:
	default:
		errs = append(errs, fmt.Sprintf("shade.resolution_policy %q is not supported", s.ResolutionPolicy))
	}
	for i, p := range s.DefaultPresets {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("shade.default_presets[%d].name is required", i))
		}
	}
	return errs
}

// ReconnectDelay returns the fixed delay between MQTT connection attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.MQTT.Reconnect.Delay) * time.Second
}

// ConfirmDelay returns the delay before a command's state is re-requested.
func (s ShadeConfig) ConfirmDelay() time.Duration {
	return time.Duration(s.ConfirmDelayMS) * time.Millisecond
}

// ConfirmTimeout returns how long a command may remain unconfirmed.
func (s ShadeConfig) ConfirmTimeout() time.Duration {
	return time.Duration(s.ConfirmTimeoutMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
