package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for meinHeim Core.
// Values come from YAML and may be overridden by MEINHEIM_* environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tinkerforge TinkerforgeConfig `yaml:"tinkerforge"`
	Sockets     []SocketConfig    `yaml:"sockets"`
	Rules       RulesConfig       `yaml:"rules"`
	Transit     TransitConfig     `yaml:"transit"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	StaticDir string           `yaml:"static_dir"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains settings for the live event feed.
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file"; rotation is handled by lumberjack.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// TinkerforgeConfig contains the brickd connection settings.
type TinkerforgeConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// ConnectTimeout, RequestTimeout and ReconnectInterval are in milliseconds.
	ConnectTimeout    int `yaml:"connect_timeout"`
	RequestTimeout    int `yaml:"request_timeout"`
	ReconnectInterval int `yaml:"reconnect_interval"`

	// Serialize routes every gateway call through a single mutex.
	Serialize bool `yaml:"serialize"`

	Brickd BrickdConfig `yaml:"brickd"`
}

// BrickdConfig controls supervision of a local brickd daemon.
// If Managed is false, brickd is expected to run as a system service.
type BrickdConfig struct {
	Managed             bool     `yaml:"managed"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	RestartOnFailure    bool     `yaml:"restart_on_failure"`
	RestartDelaySeconds int      `yaml:"restart_delay_seconds"`
	MaxRestartAttempts  int      `yaml:"max_restart_attempts"`
}

// SocketConfig describes one remote-controlled power socket.
type SocketConfig struct {
	ID        string `yaml:"id"`
	Label     string `yaml:"label"`
	DeviceUID string `yaml:"device_uid"`
	Address   uint32 `yaml:"address"`
	Unit      uint8  `yaml:"unit"`
}

// RulesConfig contains settings for the automation rules.
type RulesConfig struct {
	Watering WateringRuleConfig `yaml:"watering"`
	DeskLamp DeskLampRuleConfig `yaml:"desk_lamp"`
}

// WateringRuleConfig configures the time-triggered watering rule.
type WateringRuleConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Socket   string   `yaml:"socket"`
	Times    []string `yaml:"times"`
	Interval int      `yaml:"interval"` // seconds
	Duration int      `yaml:"duration"` // seconds
}

// DeskLampRuleConfig configures the sensor-triggered desk lamp rule.
type DeskLampRuleConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Socket         string `yaml:"socket"`
	DistanceUID    string `yaml:"distance_uid"`
	IlluminanceUID string `yaml:"illuminance_uid"`
	OnCondition    string `yaml:"on_condition"`
	OffCondition   string `yaml:"off_condition"`
	Interval       int    `yaml:"interval"` // seconds
}

// TransitConfig configures the BVG departure lookup.
type TransitConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Station  string `yaml:"station"`
	Limit    int    `yaml:"limit"`
	Timeout  int    `yaml:"timeout"` // seconds
	RetryMax int    `yaml:"retry_max"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (MEINHEIM_SECTION_KEY)
//
// The result is validated before it is returned.
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

// Default returns the built-in configuration. It matches the original
// installation: brickd on localhost, web UI on port 8081, both rules on.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "home",
			Name:     "meinHeim",
			Timezone: "Europe/Berlin",
		},
		Database: DatabaseConfig{
			Path:        "./data/meinheim.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meinheim-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host:      "0.0.0.0",
			Port:      8081,
			StaticDir: "./website",
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "error.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
		Tinkerforge: TinkerforgeConfig{
			Host:              "localhost",
			Port:              4223,
			ConnectTimeout:    5000,
			RequestTimeout:    2500,
			ReconnectInterval: 2000,
			Serialize:         true,
			Brickd: BrickdConfig{
				Binary:              "/usr/bin/brickd",
				RestartOnFailure:    true,
				RestartDelaySeconds: 5,
				MaxRestartAttempts:  10,
			},
		},
		Sockets: defaultSockets(),
		Rules: RulesConfig{
			Watering: WateringRuleConfig{
				Enabled:  true,
				Socket:   "31_1",
				Times:    []string{"09:00", "19:00"},
				Interval: 50,
				Duration: 60,
			},
			DeskLamp: DeskLampRuleConfig{
				Enabled:        true,
				Socket:         "30_3",
				DistanceUID:    "iTm",
				IlluminanceUID: "amm",
				OnCondition:    "distance <= 1500 && illuminance <= 30",
				OffCondition:   "distance > 1500 || illuminance > 30",
				Interval:       10,
			},
		},
		Transit: TransitConfig{
			Enabled:  true,
			Endpoint: "http://mobil.bvg.de/Fahrinfo/bin/stboard.bin/dox?&boardType=depRT",
			Station:  "Seesener Str. (Berlin)",
			Limit:    4,
			Timeout:  10,
		},
	}
}

// defaultSockets is the socket catalogue behind remote switch bricklet nXN.
func defaultSockets() []SocketConfig {
	pairs := []struct {
		address uint32
		unit    uint8
	}{{29, 1}, {30, 1}, {30, 2}, {30, 3}, {31, 1}, {31, 2}}

	sockets := make([]SocketConfig, 0, len(pairs))
	for _, p := range pairs {
		id := fmt.Sprintf("%d_%d", p.address, p.unit)
		sockets = append(sockets, SocketConfig{
			ID:        id,
			Label:     id,
			DeviceUID: "nXN",
			Address:   p.address,
			Unit:      p.unit,
		})
	}
	return sockets
}

// applyEnvOverrides applies MEINHEIM_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MEINHEIM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MEINHEIM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MEINHEIM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MEINHEIM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("MEINHEIM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("MEINHEIM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("MEINHEIM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("MEINHEIM_TINKERFORGE_HOST"); v != "" {
		cfg.Tinkerforge.Host = v
	}

	if v := os.Getenv("MEINHEIM_TRANSIT_STATION"); v != "" {
		cfg.Transit.Station = v
	}

	if v := os.Getenv("MEINHEIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.Timezone != "" {
		if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("site.timezone %q is not a known zone", c.Site.Timezone))
		}
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Tinkerforge.Host == "" {
		errs = append(errs, "tinkerforge.host is required")
	}
	if c.Tinkerforge.Port < 1 || c.Tinkerforge.Port > 65535 {
		errs = append(errs, "tinkerforge.port must be between 1 and 65535")
	}
	if c.Tinkerforge.Brickd.Managed && c.Tinkerforge.Brickd.Binary == "" {
		errs = append(errs, "tinkerforge.brickd.binary is required when managed")
	}

	errs = append(errs, c.validateSockets()...)
	errs = append(errs, c.validateRules()...)

	if c.Transit.Enabled {
		if c.Transit.Station == "" {
			errs = append(errs, "transit.station is required")
		}
		if c.Transit.Limit < 1 {
			errs = append(errs, "transit.limit must be at least 1")
		}
		if c.Transit.RetryMax < 0 {
			errs = append(errs, "transit.retry_max must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSockets() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Sockets))
	for i, s := range c.Sockets {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Sprintf("sockets[%d].id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Sprintf("sockets[%d].id %q is duplicated", i, s.ID))
		}
		seen[s.ID] = true
		if s.DeviceUID == "" {
			errs = append(errs, fmt.Sprintf("sockets[%d].device_uid is required", i))
		}
	}
	return errs
}

func (c *Config) validateRules() []string {
	var errs []string

	w := c.Rules.Watering
	if w.Enabled {
		if _, ok := c.Socket(w.Socket); !ok {
			errs = append(errs, fmt.Sprintf("rules.watering.socket %q is not a configured socket", w.Socket))
		}
		for _, t := range w.Times {
			if _, err := time.Parse("15:04", t); err != nil {
				errs = append(errs, fmt.Sprintf("rules.watering.times: %q is not HH:MM", t))
			}
		}
		if w.Interval < 1 {
			errs = append(errs, "rules.watering.interval must be at least 1")
		}
	}

	d := c.Rules.DeskLamp
	if d.Enabled {
		if _, ok := c.Socket(d.Socket); !ok {
			errs = append(errs, fmt.Sprintf("rules.desk_lamp.socket %q is not a configured socket", d.Socket))
		}
		if d.OnCondition == "" || d.OffCondition == "" {
			errs = append(errs, "rules.desk_lamp.on_condition and off_condition are required")
		}
		if d.Interval < 1 {
			errs = append(errs, "rules.desk_lamp.interval must be at least 1")
		}
	}

	return errs
}

// Socket looks up a configured socket by ID.
func (c *Config) Socket(id string) (SocketConfig, bool) {
	for _, s := range c.Sockets {
		if s.ID == id {
			return s, true
		}
	}
	return SocketConfig{}, false
}

// Location returns the site time zone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Site.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
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

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// BrickdAddr returns the host:port of the brick daemon.
func (c *Config) BrickdAddr() string {
	return fmt.Sprintf("%s:%d", c.Tinkerforge.Host, c.Tinkerforge.Port)
}
