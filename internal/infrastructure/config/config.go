package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the microphone monitor.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Audio     AudioConfig     `yaml:"audio"`
	UI        UIConfig        `yaml:"ui"`
	History   HistoryConfig   `yaml:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
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

// MQTTTopicsConfig contains the per-channel state topics.
// Status and ping topics are fixed (see the mqtt package topic helpers).
type MQTTTopicsConfig struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
//
// InitialDelay and MaxDelay bound the transport's own exponential backoff.
// ForcedMaxDelay is the widened upper bound used after a forced reconnection,
// when the broker-side session may still be draining.
type MQTTReconnectConfig struct {
	InitialDelay   int `yaml:"initial_delay"`
	MaxDelay       int `yaml:"max_delay"`
	ForcedMaxDelay int `yaml:"forced_max_delay"`
}

// AudioConfig contains capture and level-detection settings.
type AudioConfig struct {
	// LeftDevice and RightDevice are ALSA device identifiers (e.g. "hw:1,0").
	// Empty means not yet selected; chosen devices are persisted via Save.
	LeftDevice  string `yaml:"left_device"`
	RightDevice string `yaml:"right_device"`

	// SampleRate is the capture rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// ChunkSize is the number of samples averaged into one level reading.
	ChunkSize int `yaml:"chunk_size"`

	// Threshold is the mean-amplitude level above which a channel is active.
	Threshold float64 `yaml:"threshold"`

	// CheckInterval is the sampling cadence in seconds.
	CheckInterval float64 `yaml:"check_interval"`

	// CaptureBinary is the capture executable. Default: "arecord".
	CaptureBinary string `yaml:"capture_binary"`

	// Simulate replaces hardware capture with a synthetic source.
	Simulate bool `yaml:"simulate"`
}

// UIConfig contains terminal interface settings.
type UIConfig struct {
	RefreshRate float64 `yaml:"refresh_rate"`
}

// HistoryConfig contains the SQLite transition-log settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds how long transitions are kept; older rows are
	// pruned at startup. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// TelemetryConfig contains InfluxDB level-telemetry settings.
type TelemetryConfig struct {
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
// A missing file is not an error: the monitor runs on defaults until a config
// is persisted via Save. Environment variables follow the pattern
// MICMON_SECTION_KEY, for example MICMON_MQTT_HOST.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be parsed or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration back to a YAML file.
//
// Used to persist interactively chosen capture devices so the next run does
// not prompt again. The directory is created if needed and the file is
// written with restricted permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
// Values mirror a single local Mosquitto broker and typical USB microphones.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "micmon",
			},
			QoS: 0,
			Topics: MQTTTopicsConfig{
				Left:  "microphones/left",
				Right: "microphones/right",
			},
			Reconnect: MQTTReconnectConfig{
				InitialDelay:   1,
				MaxDelay:       10,
				ForcedMaxDelay: 30,
			},
		},
		Audio: AudioConfig{
			SampleRate:    44100,
			ChunkSize:     1024,
			Threshold:     500,
			CheckInterval: 0.2,
			CaptureBinary: "arecord",
		},
		UI: UIConfig{
			RefreshRate: 0.1,
		},
		History: HistoryConfig{
			Enabled:       false,
			Path:          "./data/micmon.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MICMON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("MICMON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MICMON_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MICMON_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("MICMON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MICMON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Audio
	if v := os.Getenv("MICMON_AUDIO_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Audio.Threshold = threshold
		}
	}

	// History
	if v := os.Getenv("MICMON_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// Telemetry
	if v := os.Getenv("MICMON_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Topics.Left == "" || c.MQTT.Topics.Right == "" {
		errs = append(errs, "mqtt.topics.left and mqtt.topics.right are required")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}

	// Audio validation
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, "audio.sample_rate must be positive")
	}
	if c.Audio.ChunkSize <= 0 {
		errs = append(errs, "audio.chunk_size must be positive")
	}
	if c.Audio.Threshold < 0 {
		errs = append(errs, "audio.threshold must not be negative")
	}
	if c.Audio.CheckInterval <= 0 {
		errs = append(errs, "audio.check_interval must be positive")
	}

	// UI validation
	if c.UI.RefreshRate <= 0 {
		errs = append(errs, "ui.refresh_rate must be positive")
	}

	// History validation
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Token == "" {
			errs = append(errs, "telemetry.token is required when telemetry is enabled (set MICMON_TELEMETRY_TOKEN)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCheckInterval returns the sampling cadence as a Duration.
func (c *Config) GetCheckInterval() time.Duration {
	return time.Duration(c.Audio.CheckInterval * float64(time.Second))
}

// GetRefreshRate returns the UI refresh cadence as a Duration.
func (c *Config) GetRefreshRate() time.Duration {
	return time.Duration(c.UI.RefreshRate * float64(time.Second))
}
