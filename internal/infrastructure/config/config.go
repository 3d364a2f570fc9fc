package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for homenet.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	KSX      KSXConfig      `yaml:"ksx"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	// Enabled turns on the state history store.
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays prunes state history older than this. 0 keeps
	// everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
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
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// KSXConfig contains KS X 4506 network settings.
type KSXConfig struct {
	// Role is "master" (poll and control peers) or "slave" (answer a
	// master on behalf of the configured devices).
	Role string `yaml:"role"`

	Transport TransportConfig `yaml:"transport"`

	// PollInterval is the base status poll interval in milliseconds.
	// 0 polls from the working interval.
	PollInterval int `yaml:"poll_interval"`

	// DiscoveryTimeout is the scan deadline in seconds.
	DiscoveryTimeout int `yaml:"discovery_timeout"`

	// AutoAddDiscovered adds devices found by a scan to the network.
	AutoAddDiscovered bool `yaml:"auto_add_discovered"`

	// RangePolicy is "clamp" or "reject" for out-of-range frame fields.
	RangePolicy string `yaml:"range_policy"`

	// HealthInterval is the health publish interval in seconds.
	HealthInterval int `yaml:"health_interval"`

	// Devices lists the devices on the line.
	Devices []KSXDeviceConfig `yaml:"devices"`

	// Discovery lists addresses a discover request scans by default.
	Discovery []string `yaml:"discovery"`
}

// TransportConfig selects the byte stream to the RS-485 line.
type TransportConfig struct {
	// Type is "serial", "websocket" or "tcp".
	Type string `yaml:"type"`

	// Serial settings.
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	Parity   string `yaml:"parity"`

	// URL is the ws://, wss:// or tcp host:port endpoint.
	URL           string `yaml:"url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`

	// ReconnectInterval is the initial reconnect delay in seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`
}

// KSXDeviceConfig is one configured device.
type KSXDeviceConfig struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
	Area    int    `yaml:"area"`
}

// Transport types.
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportTCP       = "tcp"
)

// KSX roles.
const (
	RoleMaster = "master"
	RoleSlave  = "slave"
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMENET_SECTION_KEY
// For example: HOMENET_DATABASE_PATH, HOMENET_KSX_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "homenet",
		},
		Database: DatabaseConfig{
			Path:                 "./data/homenet.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homenet-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		KSX: KSXConfig{
			Role: RoleMaster,
			Transport: TransportConfig{
				Type:              TransportSerial,
				Port:              "/dev/ttyUSB0",
				BaudRate:          9600,
				Parity:            "none",
				ReconnectInterval: 5,
			},
			DiscoveryTimeout: 10,
			RangePolicy:      "clamp",
			HealthInterval:   30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HOMENET_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("HOMENET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("HOMENET_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMENET_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HOMENET_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMENET_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("HOMENET_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMENET_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("HOMENET_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("HOMENET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// KSX
	if v := os.Getenv("HOMENET_KSX_ROLE"); v != "" {
		cfg.KSX.Role = v
	}
	if v := os.Getenv("HOMENET_KSX_TRANSPORT"); v != "" {
		cfg.KSX.Transport.Type = v
	}
	if v := os.Getenv("HOMENET_KSX_PORT"); v != "" {
		cfg.KSX.Transport.Port = v
	}
	if v := os.Getenv("HOMENET_KSX_BAUD"); v != "" {
		if baud, err := strconv.Atoi(v); err == nil {
			cfg.KSX.Transport.BaudRate = baud
		}
	}
	if v := os.Getenv("HOMENET_KSX_URL"); v != "" {
		cfg.KSX.Transport.URL = v
	}
	if v := os.Getenv("HOMENET_KSX_PASSWORD"); v != "" {
		cfg.KSX.Transport.Password = v
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

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.KSX.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (k *KSXConfig) validate() []string {
	var errs []string

	switch k.Role {
	case RoleMaster, RoleSlave:
	default:
		errs = append(errs, "ksx.role must be master or slave")
	}

	switch k.Transport.Type {
	case TransportSerial:
		if k.Transport.Port == "" {
			errs = append(errs, "ksx.transport.port is required for serial")
		}
		if k.Transport.BaudRate <= 0 {
			errs = append(errs, "ksx.transport.baud_rate must be positive")
		}
		switch k.Transport.Parity {
		case "", "none", "even", "odd":
		default:
			errs = append(errs, "ksx.transport.parity must be none, even or odd")
		}
	case TransportWebSocket, TransportTCP:
		if k.Transport.URL == "" {
			errs = append(errs, "ksx.transport.url is required for "+k.Transport.Type)
		}
	default:
		errs = append(errs, "ksx.transport.type must be serial, websocket or tcp")
	}

	switch k.RangePolicy {
	case "", "clamp", "reject":
	default:
		errs = append(errs, "ksx.range_policy must be clamp or reject")
	}

	if k.PollInterval < 0 {
		errs = append(errs, "ksx.poll_interval must not be negative")
	}

	seen := make(map[string]bool, len(k.Devices))
	for i, d := range k.Devices {
		if d.Address == "" {
			errs = append(errs, fmt.Sprintf("ksx.devices[%d].address is required", i))
			continue
		}
		key := strings.ToUpper(d.Address)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("ksx.devices[%d].address %s is duplicated", i, d.Address))
		}
		seen[key] = true
	}

	return errs
}

// GetPollInterval returns the base poll interval as a Duration.
func (k *KSXConfig) GetPollInterval() time.Duration {
	return time.Duration(k.PollInterval) * time.Millisecond
}

// GetDiscoveryTimeout returns the discovery deadline as a Duration.
func (k *KSXConfig) GetDiscoveryTimeout() time.Duration {
	return time.Duration(k.DiscoveryTimeout) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (k *KSXConfig) GetHealthInterval() time.Duration {
	return time.Duration(k.HealthInterval) * time.Second
}

// GetReconnectInterval returns the initial transport reconnect delay.
func (t *TransportConfig) GetReconnectInterval() time.Duration {
	return time.Duration(t.ReconnectInterval) * time.Second
}

// GetHistoryRetention returns the history retention as a Duration.
func (d *DatabaseConfig) GetHistoryRetention() time.Duration {
	return time.Duration(d.HistoryRetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a *APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a *APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a *APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
