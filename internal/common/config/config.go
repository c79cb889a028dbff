package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Server   ServerConfig   `yaml:"server"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Logging  LoggingConfig  `yaml:"logging"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres sqlite memory"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	// Path is the SQLite database file; ":memory:" keeps it in process.
	Path string `yaml:"path"`
}

// FeedConfig points the loader at its sources. Empty paths are skipped.
type FeedConfig struct {
	// GTFSURL, when set, is downloaded into GTFSZip before each load.
	GTFSURL           string `yaml:"gtfs_url" validate:"omitempty,url"`
	GTFSDir           string `yaml:"gtfs_dir"`
	GTFSZip           string `yaml:"gtfs_zip"`
	JSONDir           string `yaml:"json_dir"`
	DefaultRegionID   string `yaml:"default_region_id" validate:"required"`
	DefaultRegionName string `yaml:"default_region_name" validate:"required"`
	LoadOnStart       bool   `yaml:"load_on_start"`

	// RefreshInterval re-runs the incremental load periodically; 0 disables it.
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gte=0"`
}

type ServerConfig struct {
	Addr        string        `yaml:"addr" validate:"required"`
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"gte=0"`
}

type ScheduleConfig struct {
	DepartureLimit int `yaml:"departure_limit" validate:"gt=0"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	FilePath string `yaml:"file_path"`
	Console  bool   `yaml:"console"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: DriverPostgres,
			Host:   "localhost",
			Port:   "5432",
			User:   "postgres",
			DBName: "horarios",
			Path:   "horarios.db",
		},
		Feed: FeedConfig{
			GTFSDir:           "data/gtfs",
			JSONDir:           "data/json_routes",
			DefaultRegionID:   "1",
			DefaultRegionName: "default",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			ReadTimeout: 15 * time.Second,
		},
		Schedule: ScheduleConfig{
			DepartureLimit: 10,
		},
		Logging: LoggingConfig{
			Level:    "info",
			FilePath: "horarios.log",
			Console:  true,
		},
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE (if
// set), then applies environment overrides and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Database = DatabaseConfig{
		Driver:   getEnv("DB_DRIVER", c.Database.Driver),
		Host:     getEnv("DB_HOST", c.Database.Host),
		Port:     getEnv("DB_PORT", c.Database.Port),
		User:     getEnv("DB_USER", c.Database.User),
		Password: getEnv("DB_PASSWORD", c.Database.Password),
		DBName:   getEnv("DB_NAME", c.Database.DBName),
		Path:     getEnv("DB_PATH", c.Database.Path),
	}
	c.Feed = FeedConfig{
		GTFSURL:           getEnv("FEED_URL", c.Feed.GTFSURL),
		GTFSDir:           getEnv("GTFS_DIR", c.Feed.GTFSDir),
		GTFSZip:           getEnv("GTFS_ZIP", c.Feed.GTFSZip),
		JSONDir:           getEnv("JSON_ROUTES_DIR", c.Feed.JSONDir),
		DefaultRegionID:   getEnv("DEFAULT_REGION_ID", c.Feed.DefaultRegionID),
		DefaultRegionName: getEnv("DEFAULT_REGION_NAME", c.Feed.DefaultRegionName),
		LoadOnStart:       getBoolEnv("LOAD_ON_START", c.Feed.LoadOnStart),
		RefreshInterval:   getDurationEnv("FEED_REFRESH_INTERVAL", c.Feed.RefreshInterval),
	}
	c.Server = ServerConfig{
		Addr:        getEnv("HTTP_ADDR", c.Server.Addr),
		ReadTimeout: getDurationEnv("HTTP_READ_TIMEOUT", c.Server.ReadTimeout),
	}
	c.Schedule.DepartureLimit = getIntEnv("SCHEDULE_DEPARTURE_LIMIT", c.Schedule.DepartureLimit)
	c.Logging = LoggingConfig{
		Level:    getEnv("LOG_LEVEL", c.Logging.Level),
		FilePath: getEnv("LOG_FILE", c.Logging.FilePath),
		Console:  getBoolEnv("LOG_CONSOLE", c.Logging.Console),
	}
}

// Validate checks every section; PostgreSQL connections also need a host
// and database name.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Feed.GTFSURL != "" && c.Feed.GTFSZip == "" {
		return fmt.Errorf("invalid configuration: FEED_URL needs GTFS_ZIP as download destination")
	}
	return c.Database.Validate()
}

func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case DriverPostgres:
		if c.Host == "" || c.DBName == "" {
			return fmt.Errorf("invalid database configuration: postgres needs DB_HOST and DB_NAME")
		}
	case DriverSQLite:
		if c.Path == "" {
			return fmt.Errorf("invalid database configuration: sqlite needs DB_PATH")
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
