package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RadioDriver identifies which radio backend the engine drives.
type RadioDriver string

const (
	RadioDriverSim    RadioDriver = "sim"
	RadioDriverSerial RadioDriver = "serial"
	RadioDriverIP     RadioDriver = "ip"

	DefaultSerialBaud     = 115200
	DefaultIPPort         = 4001
	DefaultLoopIntervalMS = 10
	DefaultHistoryLimit   = 100
	DefaultAPIListen      = "127.0.0.1:8470"
	DefaultSubjectPrefix  = "meshola"

	EnvDataDir  = "MESHOLA_DATA_DIR"
	EnvLogLevel = "MESHOLA_LOG_LEVEL"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"`
	LogToFile bool   `json:"log_to_file" yaml:"log_to_file"`
}

type StorageConfig struct {
	// DataDir overrides the default per-user data directory.
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// RadioConfig selects and parameterizes the radio link.
type RadioConfig struct {
	Driver         RadioDriver `json:"driver" yaml:"driver"`
	SerialPort     string      `json:"serial_port" yaml:"serial_port"`
	SerialBaud     int         `json:"serial_baud" yaml:"serial_baud"`
	Host           string      `json:"host" yaml:"host"`
	Port           int         `json:"port" yaml:"port"`
	Autostart      bool        `json:"autostart" yaml:"autostart"`
	LoopIntervalMS int         `json:"loop_interval_ms" yaml:"loop_interval_ms"`
}

type HistoryConfig struct {
	LoadLimit int `json:"load_limit" yaml:"load_limit"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen" yaml:"listen"`
}

type NotificationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// BridgeConfig configures the optional NATS event bridge. An empty URL disables it.
type BridgeConfig struct {
	NATSURL       string `json:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
	Storage       StorageConfig      `json:"storage" yaml:"storage"`
	Radio         RadioConfig        `json:"radio" yaml:"radio"`
	History       HistoryConfig      `json:"history" yaml:"history"`
	API           APIConfig          `json:"api" yaml:"api"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
	Bridge        BridgeConfig       `json:"bridge" yaml:"bridge"`
}

func Default() AppConfig {
	return AppConfig{
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
		Radio: RadioConfig{
			Driver:         RadioDriverSim,
			SerialBaud:     DefaultSerialBaud,
			Port:           DefaultIPPort,
			Autostart:      true,
			LoopIntervalMS: DefaultLoopIntervalMS,
		},
		History: HistoryConfig{
			LoadLimit: DefaultHistoryLimit,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  DefaultAPIListen,
		},
		Notifications: NotificationConfig{
			Enabled: false,
		},
		Bridge: BridgeConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads path as JSON, or YAML for .yaml/.yml files. A missing file yields
// the defaults. Environment overrides are applied last.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime or passed on the command line.
	raw, err := os.ReadFile(cleanPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err == nil {
		if isYAML(cleanPath) {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return AppConfig{}, fmt.Errorf("decode config yaml: %w", err)
			}
		} else if err := json.Unmarshal(raw, &cfg); err != nil {
			return AppConfig{}, fmt.Errorf("decode config json: %w", err)
		}
	}

	cfg.FillMissingDefaults()
	cfg.ApplyEnv(os.LookupEnv)

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Radio.Driver == "" {
		c.Radio.Driver = RadioDriverSim
	}
	if c.Radio.SerialBaud <= 0 {
		c.Radio.SerialBaud = DefaultSerialBaud
	}
	if c.Radio.Port <= 0 {
		c.Radio.Port = DefaultIPPort
	}
	if c.Radio.LoopIntervalMS <= 0 {
		c.Radio.LoopIntervalMS = DefaultLoopIntervalMS
	}
	if c.History.LoadLimit < 0 {
		c.History.LoadLimit = DefaultHistoryLimit
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	if c.Bridge.SubjectPrefix == "" {
		c.Bridge.SubjectPrefix = DefaultSubjectPrefix
	}
}

// ApplyEnv overrides fields from the environment through lookup.
func (c *AppConfig) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDataDir); ok && strings.TrimSpace(v) != "" {
		c.Storage.DataDir = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = strings.TrimSpace(v)
	}
}

func (c AppConfig) Validate() error {
	switch c.Radio.Driver {
	case RadioDriverSim:
	case RadioDriverIP:
		if strings.TrimSpace(c.Radio.Host) == "" {
			return errors.New("radio host is required")
		}
		if c.Radio.Port <= 0 || c.Radio.Port > 65535 {
			return fmt.Errorf("radio port %d out of range", c.Radio.Port)
		}
	case RadioDriverSerial:
		if strings.TrimSpace(c.Radio.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Radio.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown radio driver: %s", c.Radio.Driver)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %s", c.Logging.Format)
	}
	if c.API.Enabled && strings.TrimSpace(c.API.Listen) == "" {
		return errors.New("api listen address is required")
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		raw []byte
		err error
	)
	if isYAML(path) {
		raw, err = yaml.Marshal(cfg)
	} else {
		raw, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
