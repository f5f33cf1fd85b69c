package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device" toml:"device"`
	WiFi     WiFiConfig     `yaml:"wifi" toml:"wifi"`
	Clock    ClockConfig    `yaml:"clock" toml:"clock"`
	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Provider ProviderConfig `yaml:"provider" toml:"provider"`
	Battery  BatteryConfig  `yaml:"battery" toml:"battery"`
	Display  DisplayConfig  `yaml:"display" toml:"display"`
	Power    PowerConfig    `yaml:"power" toml:"power"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger" toml:"ledger"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// DeviceConfig identifies the device in logs, the ledger and published state
type DeviceConfig struct {
	Name string `yaml:"name" toml:"name"`
}

// WiFiConfig contains network association settings
type WiFiConfig struct {
	SSID         string   `yaml:"ssid" toml:"ssid"`
	Key          string   `yaml:"key" toml:"key"`
	ConnectionID string   `yaml:"connection_id" toml:"connection_id"` // nmcli connection name, preferred over ssid/key when set
	ProbeHost    string   `yaml:"probe_host" toml:"probe_host"`       // Host pinged to decide "connected"
	Timeout      Duration `yaml:"timeout" toml:"timeout"`
	Settle       Duration `yaml:"settle" toml:"settle"` // Wait after association before probing
}

// ClockConfig contains time resolution settings
type ClockConfig struct {
	Timezone     string   `yaml:"timezone" toml:"timezone"`
	NTPServer    string   `yaml:"ntp_server" toml:"ntp_server"`
	NTPTimeout   Duration `yaml:"ntp_timeout" toml:"ntp_timeout"`
	SyncAttempts int      `yaml:"sync_attempts" toml:"sync_attempts"`
	SyncSpacing  Duration `yaml:"sync_spacing" toml:"sync_spacing"`
	MinYear      int      `yaml:"min_year" toml:"min_year"` // Readings must be strictly after this year
}

// ScheduleConfig contains the daily wake slot table
type ScheduleConfig struct {
	Slots []string `yaml:"slots" toml:"slots"` // "HH:MM", strictly increasing
}

// ProviderConfig selects and configures the color data provider
type ProviderConfig struct {
	Strategy     string   `yaml:"strategy" toml:"strategy"` // "preview" or "contract"
	Timeout      Duration `yaml:"timeout" toml:"timeout"`
	PreviewURL   string   `yaml:"preview_url" toml:"preview_url"`
	TokenURL     string   `yaml:"token_url" toml:"token_url"`
	CalendarURL  string   `yaml:"calendar_url" toml:"calendar_url"`
	ClientID     string   `yaml:"client_id" toml:"client_id"`
	ClientSecret string   `yaml:"client_secret" toml:"client_secret"`
}

// BatteryConfig contains ADC and calibration settings
type BatteryConfig struct {
	RawPath      string  `yaml:"raw_path" toml:"raw_path"` // sysfs file holding the raw ADC sample, empty disables
	ScaleFactor  float64 `yaml:"scale_factor" toml:"scale_factor"`
	VoltageFull  float64 `yaml:"voltage_full" toml:"voltage_full"`
	VoltageEmpty float64 `yaml:"voltage_empty" toml:"voltage_empty"`
}

// DisplayConfig selects the rendering sink
type DisplayConfig struct {
	Driver     string `yaml:"driver" toml:"driver"` // "png" or "epaper"
	OutputPath string `yaml:"output_path" toml:"output_path"`
	SPIPort    string `yaml:"spi_port" toml:"spi_port"`
}

// PowerConfig contains low-power entry settings
type PowerConfig struct {
	Timer            string   `yaml:"timer" toml:"timer"` // "process" or "rtcwake"
	FallbackDuration Duration `yaml:"fallback_duration" toml:"fallback_duration"`
	RTCWakeMode      string   `yaml:"rtcwake_mode" toml:"rtcwake_mode"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LedgerConfig contains cycle ledger settings
type LedgerConfig struct {
	Enabled       *bool `yaml:"enabled" toml:"enabled"` // default: true
	RetentionDays int   `yaml:"retention_days" toml:"retention_days"`
}

// IsEnabled returns whether the cycle ledger is enabled (default: true)
func (c *LedgerConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// RetentionPeriod returns how long ledger entries are kept
func (c *LedgerConfig) RetentionPeriod() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// MQTTConfig contains optional state publishing settings
type MQTTConfig struct {
	Broker      string   `yaml:"broker" toml:"broker"` // empty disables publishing
	ClientID    string   `yaml:"client_id" toml:"client_id"`
	Username    string   `yaml:"username" toml:"username"`
	Password    string   `yaml:"password" toml:"password"`
	TopicPrefix string   `yaml:"topic_prefix" toml:"topic_prefix"`
	Timeout     Duration `yaml:"timeout" toml:"timeout"`
}

// IsEnabled returns whether a broker is configured
func (c *MQTTConfig) IsEnabled() bool {
	return c.Broker != ""
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level" toml:"level"`
	Colors  bool   `yaml:"colors" toml:"colors"`
	UseJSON bool   `yaml:"json" toml:"json"`
}

// Duration is a wrapper around time.Duration for YAML and TOML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode toml config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode yaml config: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Device.Name == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "tempod"
		}
		cfg.Device.Name = host
	}

	// WiFi defaults
	if cfg.WiFi.ProbeHost == "" {
		cfg.WiFi.ProbeHost = "1.1.1.1"
	}
	if cfg.WiFi.Timeout == 0 {
		cfg.WiFi.Timeout = Duration(30 * time.Second)
	}
	if cfg.WiFi.Settle == 0 {
		cfg.WiFi.Settle = Duration(3 * time.Second)
	}

	// Clock defaults - 5 attempts spaced 2s apart caps the sync at ~10s
	if cfg.Clock.Timezone == "" {
		cfg.Clock.Timezone = "Europe/Paris"
	}
	if cfg.Clock.NTPServer == "" {
		cfg.Clock.NTPServer = "pool.ntp.org"
	}
	if cfg.Clock.NTPTimeout == 0 {
		cfg.Clock.NTPTimeout = Duration(3 * time.Second)
	}
	if cfg.Clock.SyncAttempts == 0 {
		cfg.Clock.SyncAttempts = 5
	}
	if cfg.Clock.SyncSpacing == 0 {
		cfg.Clock.SyncSpacing = Duration(2 * time.Second)
	}
	if cfg.Clock.MinYear == 0 {
		cfg.Clock.MinYear = 2016
	}

	// Schedule defaults
	if len(cfg.Schedule.Slots) == 0 {
		cfg.Schedule.Slots = []string{"00:05", "06:05", "11:05", "17:05"}
	}

	// Provider defaults
	if cfg.Provider.Strategy == "" {
		cfg.Provider.Strategy = "preview"
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = Duration(15 * time.Second)
	}
	if cfg.Provider.PreviewURL == "" {
		cfg.Provider.PreviewURL = "https://www.services-rte.com/cms/open_data/v1/tempoLight"
	}
	if cfg.Provider.TokenURL == "" {
		cfg.Provider.TokenURL = "https://digital.iservices.rte-france.com/token/oauth/"
	}
	if cfg.Provider.CalendarURL == "" {
		cfg.Provider.CalendarURL = "https://digital.iservices.rte-france.com/open_api/tempo_like_supply_contract/v1/tempo_like_calendars"
	}

	// Battery defaults (Li-ion cell behind a divider on a 12-bit ADC)
	if cfg.Battery.ScaleFactor == 0 {
		cfg.Battery.ScaleFactor = 7.05
	}
	if cfg.Battery.VoltageFull == 0 {
		cfg.Battery.VoltageFull = 4.2
	}
	if cfg.Battery.VoltageEmpty == 0 {
		cfg.Battery.VoltageEmpty = 3.5
	}

	// Display defaults
	if cfg.Display.Driver == "" {
		cfg.Display.Driver = "png"
	}
	if cfg.Display.OutputPath == "" {
		cfg.Display.OutputPath = "./tempod.png"
	}

	// Power defaults
	if cfg.Power.Timer == "" {
		cfg.Power.Timer = "process"
	}
	if cfg.Power.FallbackDuration == 0 {
		cfg.Power.FallbackDuration = Duration(6 * time.Hour)
	}
	if cfg.Power.RTCWakeMode == "" {
		cfg.Power.RTCWakeMode = "mem"
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./tempod.sqlite"
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// MQTT defaults
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "tempod/" + cfg.Device.Name
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "tempod-" + cfg.Device.Name
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}
}

// Validate checks enumerated settings and required credentials
func (cfg *Config) Validate() error {
	switch cfg.Provider.Strategy {
	case "preview":
	case "contract":
		if cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" {
			return fmt.Errorf("provider.strategy %q requires client_id and client_secret", cfg.Provider.Strategy)
		}
	default:
		return fmt.Errorf("unknown provider.strategy %q (want preview or contract)", cfg.Provider.Strategy)
	}

	switch cfg.Display.Driver {
	case "png", "epaper":
	default:
		return fmt.Errorf("unknown display.driver %q (want png or epaper)", cfg.Display.Driver)
	}

	switch cfg.Power.Timer {
	case "process", "rtcwake":
	default:
		return fmt.Errorf("unknown power.timer %q (want process or rtcwake)", cfg.Power.Timer)
	}

	if cfg.Clock.SyncAttempts < 0 {
		return fmt.Errorf("clock.sync_attempts must not be negative")
	}
	if cfg.Battery.VoltageEmpty >= cfg.Battery.VoltageFull {
		return fmt.Errorf("battery.voltage_empty (%.2f) must be below voltage_full (%.2f)",
			cfg.Battery.VoltageEmpty, cfg.Battery.VoltageFull)
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
