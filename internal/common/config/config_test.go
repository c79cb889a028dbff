package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Schedule.DepartureLimit)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", ":memory:")
	t.Setenv("SCHEDULE_DEPARTURE_LIMIT", "25")
	t.Setenv("HTTP_READ_TIMEOUT", "3s")
	t.Setenv("LOAD_ON_START", "true")
	t.Setenv("GTFS_DIR", "/srv/gtfs")
	t.Setenv("FEED_URL", "https://example.com/gtfs.zip")
	t.Setenv("GTFS_ZIP", "/srv/gtfs.zip")

	cfg := Defaults()
	cfg.applyEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, ":memory:", cfg.Database.ConnectionString())
	assert.Equal(t, 25, cfg.Schedule.DepartureLimit)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Feed.LoadOnStart)
	assert.Equal(t, "/srv/gtfs", cfg.Feed.GTFSDir)
	assert.Equal(t, "https://example.com/gtfs.zip", cfg.Feed.GTFSURL)
}

func TestMalformedEnvKeepsDefault(t *testing.T) {
	t.Setenv("SCHEDULE_DEPARTURE_LIMIT", "ten")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")

	cfg := Defaults()
	cfg.applyEnv()
	assert.Equal(t, 10, cfg.Schedule.DepartureLimit)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
}

func TestYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := []byte(`
database:
  driver: memory
feed:
  json_dir: /data/json
  default_region_name: Managua
schedule:
  departure_limit: 5
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SCHEDULE_DEPARTURE_LIMIT", "7")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "/data/json", cfg.Feed.JSONDir)
	assert.Equal(t, "Managua", cfg.Feed.DefaultRegionName)
	assert.Equal(t, "1", cfg.Feed.DefaultRegionID)
	assert.Equal(t, 7, cfg.Schedule.DepartureLimit)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"zero limit", func(c *Config) { c.Schedule.DepartureLimit = 0 }},
		{"postgres without host", func(c *Config) { c.Database.Host = "" }},
		{"sqlite without path", func(c *Config) {
			c.Database.Driver = DriverSQLite
			c.Database.Path = ""
		}},
		{"no default region", func(c *Config) { c.Feed.DefaultRegionID = "" }},
		{"malformed feed url", func(c *Config) {
			c.Feed.GTFSURL = "not a url"
			c.Feed.GTFSZip = "data/gtfs.zip"
		}},
		{"feed url without zip", func(c *Config) { c.Feed.GTFSURL = "https://example.com/gtfs.zip" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
