package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when neither -config nor
// AUFBAU_CONFIG is given.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure of the enrollment station.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Bus       BusConfig       `yaml:"bus"`
	Probe     ProbeConfig     `yaml:"probe"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Light     LightConfig     `yaml:"light"`
	Workbook  WorkbookConfig  `yaml:"workbook"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the enrollment station.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BusConfig contains serial bus settings.
type BusConfig struct {
	// Port is the serial device, e.g. /dev/ttyUSB0 or COM3. Empty means
	// the operator picks one at runtime.
	Port string `yaml:"port"`

	// AutoConnect opens Port at startup.
	AutoConnect bool `yaml:"auto_connect"`

	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Retries          int           `yaml:"retries"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

// ProbeConfig selects the factory address and presence registers.
type ProbeConfig struct {
	DefaultAddress   int `yaml:"default_address"`
	PresenceRegister int `yaml:"presence_register"`
	TypeRegister     int `yaml:"type_register"`
}

// SensorConfig contains the gas sensor workflow timing.
type SensorConfig struct {
	PollInterval                time.Duration `yaml:"poll_interval"`
	StableWindow                time.Duration `yaml:"stable_window"`
	PresenceTimeout             time.Duration `yaml:"presence_timeout"`
	IdentifierTimeout           time.Duration `yaml:"identifier_timeout"`
	IdentifierAttempts          int           `yaml:"identifier_attempts"`
	IdentifierTimeoutAfterMove  time.Duration `yaml:"identifier_timeout_after_move"`
	IdentifierAttemptsAfterMove int           `yaml:"identifier_attempts_after_move"`
	IdentifierWords             int           `yaml:"identifier_words"`
	FrameGap                    time.Duration `yaml:"frame_gap"`
	RebootSettle                time.Duration `yaml:"reboot_settle"`
	GoneTimeout                 time.Duration `yaml:"gone_timeout"`
	AliveTimeout                time.Duration `yaml:"alive_timeout"`
}

// LightConfig contains the indicator light workflow timing.
type LightConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	StableWindow    time.Duration `yaml:"stable_window"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	FrameGap        time.Duration `yaml:"frame_gap"`
	VerifyTimeout   time.Duration `yaml:"verify_timeout"`
}

// WorkbookConfig locates the project workbook.
type WorkbookConfig struct {
	// Path is an explicit workbook file. It wins over ProjectRoot.
	Path string `yaml:"path"`

	// ProjectRoot is the share holding the per-year project folders.
	ProjectRoot string `yaml:"project_root"`
}

// DatabaseConfig contains SQLite journal settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
	HealthInterval time.Duration       `yaml:"health_interval"`
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
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty Secret leaves the API open,
// which is acceptable on an isolated commissioning bench.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
	Operator       string `yaml:"operator"`
	Password       string `yaml:"password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AUFBAU_SECTION_KEY
// For example: AUFBAU_BUS_PORT, AUFBAU_DATABASE_PATH
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
// applied. It is used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// ResolvePath picks the config file: flag value, then AUFBAU_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("AUFBAU_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with the field-tuned defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "bench-01",
			Name: "Anlage Aufbau",
		},
		Bus: BusConfig{
			ReadTimeout:      time.Second,
			WriteTimeout:     time.Second,
			Retries:          1,
			WatchdogInterval: 5 * time.Second,
		},
		Probe: ProbeConfig{
			DefaultAddress:   1,
			PresenceRegister: 2,
			TypeRegister:     1,
		},
		Sensor: SensorConfig{
			PollInterval:                60 * time.Millisecond,
			StableWindow:                180 * time.Millisecond,
			PresenceTimeout:             140 * time.Millisecond,
			IdentifierTimeout:           170 * time.Millisecond,
			IdentifierAttempts:          6,
			IdentifierTimeoutAfterMove:  260 * time.Millisecond,
			IdentifierAttemptsAfterMove: 8,
			IdentifierWords:             1,
			FrameGap:                    110 * time.Millisecond,
			RebootSettle:                450 * time.Millisecond,
			GoneTimeout:                 1800 * time.Millisecond,
			AliveTimeout:                1400 * time.Millisecond,
		},
		Light: LightConfig{
			PollInterval:    70 * time.Millisecond,
			StableWindow:    180 * time.Millisecond,
			PresenceTimeout: 150 * time.Millisecond,
			FrameGap:        110 * time.Millisecond,
			VerifyTimeout:   1500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/aufbau.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "aufbau",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/aufbau.log",
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 480,
				Operator:       "operator",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AUFBAU_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUFBAU_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// Bus
	if v := os.Getenv("AUFBAU_BUS_PORT"); v != "" {
		cfg.Bus.Port = v
	}
	if v := os.Getenv("AUFBAU_BUS_AUTO_CONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Bus.AutoConnect = b
		}
	}

	// Workbook
	if v := os.Getenv("AUFBAU_WORKBOOK_PATH"); v != "" {
		cfg.Workbook.Path = v
	}
	if v := os.Getenv("AUFBAU_WORKBOOK_PROJECT_ROOT"); v != "" {
		cfg.Workbook.ProjectRoot = v
	}

	// Database
	if v := os.Getenv("AUFBAU_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AUFBAU_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AUFBAU_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AUFBAU_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AUFBAU_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AUFBAU_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	// InfluxDB
	if v := os.Getenv("AUFBAU_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("AUFBAU_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("AUFBAU_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("AUFBAU_JWT_PASSWORD"); v != "" {
		cfg.Security.JWT.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of all validation failures, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Bus
	if c.Bus.ReadTimeout <= 0 || c.Bus.WriteTimeout <= 0 {
		errs = append(errs, "bus.read_timeout and bus.write_timeout must be positive")
	}
	if c.Bus.Retries < 0 {
		errs = append(errs, "bus.retries must not be negative")
	}
	if c.Bus.AutoConnect && c.Bus.Port == "" {
		errs = append(errs, "bus.auto_connect requires bus.port")
	}

	// Probe
	if c.Probe.DefaultAddress < 1 || c.Probe.DefaultAddress > 247 {
		errs = append(errs, "probe.default_address must be between 1 and 247")
	}
	if !validRegister(c.Probe.PresenceRegister) || !validRegister(c.Probe.TypeRegister) {
		errs = append(errs, "probe registers must be between 0 and 65535")
	}

	// Sensor
	s := c.Sensor
	if s.PollInterval <= 0 || s.StableWindow <= 0 || s.PresenceTimeout <= 0 {
		errs = append(errs, "sensor.poll_interval, stable_window and presence_timeout must be positive")
	}
	if s.StableWindow <= s.PollInterval {
		errs = append(errs, "sensor.stable_window must be longer than sensor.poll_interval")
	}
	if s.IdentifierAttempts < 1 || s.IdentifierAttemptsAfterMove < 0 {
		errs = append(errs, "sensor.identifier_attempts must be at least 1")
	}
	if s.IdentifierWords != 1 && s.IdentifierWords != 2 {
		errs = append(errs, "sensor.identifier_words must be 1 or 2")
	}
	if s.GoneTimeout <= 0 || s.AliveTimeout <= 0 {
		errs = append(errs, "sensor.gone_timeout and alive_timeout must be positive")
	}

	// Light
	l := c.Light
	if l.PollInterval <= 0 || l.StableWindow <= 0 || l.PresenceTimeout <= 0 || l.VerifyTimeout <= 0 {
		errs = append(errs, "light timings must be positive")
	}
	if l.StableWindow <= l.PollInterval {
		errs = append(errs, "light.stable_window must be longer than light.poll_interval")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	// Security: the secret is optional, but a set secret must be strong.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" {
		if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
		if c.Security.JWT.Password == "" {
			errs = append(errs, "security.jwt.password is required when a secret is set (set AUFBAU_JWT_PASSWORD)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validRegister(r int) bool {
	return r >= 0 && r <= 0xFFFF
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
