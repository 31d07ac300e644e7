package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/lightera/checkin-station/internal/errors"
	syncpkg "github.com/lightera/checkin-station/internal/sync"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkin-station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_isValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "scanner", cfg.Station.Name)
	assert.Equal(t, 10, cfg.Station.RecentLimit)
	assert.Equal(t, "127.0.0.1:8090", cfg.Addr())
	assert.Equal(t, syncpkg.ModeAuto, cfg.Mode())
}

// The shipped example must stay in step with Default.
func TestExampleConfig_matchesDefault(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "checkin-station.yaml"))
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, *Default(), cfg)
}

func TestLoad_file(t *testing.T) {
	path := writeFile(t, `
station:
  name: kiosk1
  operator: op1
server:
  url: https://checkin.example.org
  timeout: 4s
sync:
  mode: offline
  probe_interval: 15s
  max_queue_size: 50
api:
  port: 9000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigPath)
	assert.Equal(t, "kiosk1", cfg.Station.Name)
	assert.Equal(t, "op1", cfg.Station.Operator)
	assert.Equal(t, "manual-search", cfg.Station.ManualStation, "unset fields keep defaults")
	assert.Equal(t, 4*time.Second, cfg.Server.Timeout)
	assert.Equal(t, 15*time.Second, cfg.Sync.ProbeInterval)
	assert.Equal(t, syncpkg.ModeForceOffline, cfg.Mode())
	assert.Equal(t, 9000, cfg.API.Port)

	assert.Equal(t, 50, cfg.QueueConfig().MaxSize)
	assert.Equal(t, "https://checkin.example.org", cfg.ClientConfig().BaseURL)
	assert.Equal(t, 15*time.Second, cfg.SchedulerConfig().ProbeInterval)
	assert.Equal(t, "kiosk1", cfg.StationConfig().Station)
}

func TestLoad_missingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoad_noFileUsesDefaults(t *testing.T) {
	orig := SearchPaths
	SearchPaths = []string{filepath.Join(t.TempDir(), "absent.yaml")}
	defer func() { SearchPaths = orig }()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfigPath)
	assert.Equal(t, Default().Server.URL, cfg.Server.URL)
}

func TestLoad_badYAML(t *testing.T) {
	_, err := Load(writeFile(t, "station: [unterminated"))
	assert.True(t, errors.Is(err, errors.ErrConfig))
}

func TestLoad_envOverrides(t *testing.T) {
	t.Setenv("CHECKIN_SERVER_URL", "http://10.0.0.5:5000")
	t.Setenv("CHECKIN_STATION", "gate-b")
	t.Setenv("CHECKIN_API_PORT", "8181")

	cfg, err := Load(writeFile(t, "station:\n  name: kiosk1\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:5000", cfg.Server.URL)
	assert.Equal(t, "gate-b", cfg.Station.Name, "env wins over file")
	assert.Equal(t, 8181, cfg.API.Port)
}

func TestApplyEnv_invalid(t *testing.T) {
	tests := map[string]string{
		"CHECKIN_API_PORT":       "eighty",
		"CHECKIN_PROBE_INTERVAL": "soon",
	}
	for key, value := range tests {
		cfg := Default()
		err := cfg.ApplyEnv(func(k string) (string, bool) {
			if k == key {
				return value, true
			}
			return "", false
		})
		assert.True(t, errors.Is(err, errors.ErrConfig), key)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad url", func(c *Config) { c.Server.URL = "localhost:5000" }},
		{"ftp url", func(c *Config) { c.Server.URL = "ftp://host" }},
		{"empty station", func(c *Config) { c.Station.Name = " " }},
		{"port", func(c *Config) { c.API.Port = 70000 }},
		{"mode", func(c *Config) { c.Sync.Mode = "sometimes" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"probe interval", func(c *Config) { c.Sync.ProbeInterval = 0 }},
		{"queue size", func(c *Config) { c.Sync.MaxQueueSize = -1 }},
		{"data dir", func(c *Config) { c.DataDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.True(t, errors.Is(cfg.Validate(), errors.ErrConfig))
		})
	}
}

func TestSave_roundTrip(t *testing.T) {
	cfg := Default()
	cfg.Station.Name = "kiosk9"
	cfg.Sync.ProbeInterval = 42 * time.Second

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kiosk9", loaded.Station.Name)
	assert.Equal(t, 42*time.Second, loaded.Sync.ProbeInterval)
}
