// Package config loads station configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lightera/checkin-station/internal/errors"
	"github.com/lightera/checkin-station/internal/scanner"
	syncpkg "github.com/lightera/checkin-station/internal/sync"
	"github.com/lightera/checkin-station/internal/sync/queue"
	"github.com/lightera/checkin-station/internal/sync/scheduler"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHECKIN_"

// Config represents the station configuration.
type Config struct {
	Station StationConfig `yaml:"station"`
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	API     APIConfig     `yaml:"api"`
	DataDir string        `yaml:"data_dir"`
	Log     LogConfig     `yaml:"log"`

	// ConfigPath is the file the configuration was read from (not serialized)
	ConfigPath string `yaml:"-"`
}

// StationConfig identifies this station on check-in records.
type StationConfig struct {
	Name           string `yaml:"name"`
	Operator       string `yaml:"operator"`
	ManualStation  string `yaml:"manual_station"`
	ManualOperator string `yaml:"manual_operator"`
	RecentLimit    int    `yaml:"recent_limit"`
}

// ServerConfig describes the check-in server connection.
type ServerConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	RateBurst int           `yaml:"rate_burst"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// SyncConfig controls connectivity probing and queue replay.
type SyncConfig struct {
	Mode                 string        `yaml:"mode"` // auto, online or offline
	ProbeInterval        time.Duration `yaml:"probe_interval"`
	ProbeTTL             time.Duration `yaml:"probe_ttl"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
	RetryInterval        time.Duration `yaml:"retry_interval"`
	InitialSyncDelay     time.Duration `yaml:"initial_sync_delay"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxQueueSize         int           `yaml:"max_queue_size"`
	RetryNetworkFailures bool          `yaml:"retry_network_failures"`
}

// APIConfig is the local HTTP API the station UI talks to.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SearchPaths lists where Load looks when no path is given.
var SearchPaths = []string{
	"checkin-station.yaml",
	"configs/checkin-station.yaml",
	"/etc/checkin-station/config.yaml",
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			Name:           "scanner",
			Operator:       "Sistema Scanner",
			ManualStation:  "manual-search",
			ManualOperator: "Busca Manual",
			RecentLimit:    10,
		},
		Server: ServerConfig{
			URL:       "http://localhost:5000",
			Timeout:   10 * time.Second,
			RateLimit: 5,
			RateBurst: 5,
			CacheTTL:  10 * time.Minute,
		},
		Sync: SyncConfig{
			Mode:                 "auto",
			ProbeInterval:        10 * time.Second,
			ProbeTTL:             5 * time.Second,
			ProbeTimeout:         3 * time.Second,
			RetryInterval:        30 * time.Second,
			InitialSyncDelay:     2 * time.Second,
			Timeout:              5 * time.Minute,
			MaxQueueSize:         10000,
			RetryNetworkFailures: true,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		DataDir: "./data",
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the configuration from path, or from the first file found in
// SearchPaths when path is empty. Missing search-path files yield the
// defaults; a missing explicit path is an error. Environment overrides are
// applied and the result validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	candidates := SearchPaths
	if path != "" {
		candidates = []string{path}
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if path != "" {
				return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, fmt.Sprintf("failed to parse %s", candidate), err)
		}
		cfg.ConfigPath = candidate
		break
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CHECKIN_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("SERVER_URL", &c.Server.URL)
	str("STATION", &c.Station.Name)
	str("OPERATOR", &c.Station.Operator)
	str("MODE", &c.Sync.Mode)
	str("DATA_DIR", &c.DataDir)
	str("API_HOST", &c.API.Host)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup(EnvPrefix + "API_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrConfig, EnvPrefix+"API_PORT must be a number", err)
		}
		c.API.Port = port
	}
	if v, ok := lookup(EnvPrefix + "PROBE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(errors.ErrConfig, EnvPrefix+"PROBE_INTERVAL must be a duration", err)
		}
		c.Sync.ProbeInterval = d
	}
	return nil
}

// Validate checks the configuration for values the station cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New(errors.ErrConfig, fmt.Sprintf("server.url %q must be an http(s) URL", c.Server.URL))
	}
	if strings.TrimSpace(c.Station.Name) == "" {
		return errors.New(errors.ErrConfig, "station.name is required")
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("api.port %d out of range", c.API.Port))
	}
	if _, ok := syncpkg.ParseMode(c.Sync.Mode); !ok {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync.mode %q must be auto, online or offline", c.Sync.Mode))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.New(errors.ErrConfig, fmt.Sprintf("log.level %q is not a level", c.Log.Level))
	}
	for name, d := range map[string]time.Duration{
		"sync.probe_interval": c.Sync.ProbeInterval,
		"sync.retry_interval": c.Sync.RetryInterval,
		"server.timeout":      c.Server.Timeout,
	} {
		if d <= 0 {
			return errors.New(errors.ErrConfig, fmt.Sprintf("%s must be positive", name))
		}
	}
	if c.Sync.MaxQueueSize < 0 {
		return errors.New(errors.ErrConfig, "sync.max_queue_size must not be negative")
	}
	if c.DataDir == "" {
		return errors.New(errors.ErrConfig, "data_dir is required")
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to encode config", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(errors.ErrConfig, "failed to write config file", err)
	}
	return nil
}

// Addr returns the local API listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Mode returns the parsed connectivity mode.
func (c *Config) Mode() syncpkg.Mode {
	mode, _ := syncpkg.ParseMode(c.Sync.Mode)
	return mode
}

// ClientConfig returns the server client settings.
func (c *Config) ClientConfig() *syncpkg.ClientConfig {
	return &syncpkg.ClientConfig{
		BaseURL:         c.Server.URL,
		Timeout:         c.Server.Timeout,
		RateLimitPerSec: c.Server.RateLimit,
		RateBurst:       c.Server.RateBurst,
		CacheTTL:        c.Server.CacheTTL,
	}
}

// QueueConfig returns the offline queue settings.
func (c *Config) QueueConfig() *queue.Config {
	return &queue.Config{
		StorageKey:           queue.DefaultStorageKey,
		MaxSize:              c.Sync.MaxQueueSize,
		RetryNetworkFailures: c.Sync.RetryNetworkFailures,
	}
}

// SchedulerConfig returns the background sync settings.
func (c *Config) SchedulerConfig() *scheduler.SchedulerConfig {
	return &scheduler.SchedulerConfig{
		ProbeInterval:    c.Sync.ProbeInterval,
		RetryInterval:    c.Sync.RetryInterval,
		InitialSyncDelay: c.Sync.InitialSyncDelay,
		SyncTimeout:      c.Sync.Timeout,
	}
}

// StationConfig returns the scanner station settings.
func (c *Config) StationConfig() *scanner.Config {
	return &scanner.Config{
		Station:        c.Station.Name,
		Operator:       c.Station.Operator,
		ManualStation:  c.Station.ManualStation,
		ManualOperator: c.Station.ManualOperator,
		RecentLimit:    c.Station.RecentLimit,
	}
}
