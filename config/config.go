// Package config loads process settings from the environment, an optional
// .env file and an optional YAML config file, in increasing precedence of
// environment over file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"prism-gtd/domain"
)

const (
	BackendMemory   = "memory"
	BackendTables   = "tables"
	BackendPostgres = "postgres"
)

type Config struct {
	Debug      bool
	ListenAddr string

	Backend                 string
	StorageConnectionString string
	TasksTable              string
	SettingsTable           string
	EventsQueue             string
	PostgresDSN             string
	DataFile                string

	RedisConnectionString string
	DeduperTTL            time.Duration
	SettingsCacheTTL      time.Duration

	PageSize            int
	UpcomingHorizonDays int

	Auth Auth
}

// Defaults are the settings applied where a user has not chosen a value.
func (c *Config) Defaults() domain.Settings {
	return domain.Settings{UpcomingHorizonDays: c.UpcomingHorizonDays, PageSize: c.PageSize}
}

type Auth struct {
	// TestMode accepts HS256 tokens signed with TestSecret instead of
	// fetching the JWKS.
	TestMode   bool
	TestSecret string
	Audience   string
	Domain     string
}

// JWKSURL is the key set endpoint of the configured Auth0 tenant.
func (a Auth) JWKSURL() string { return fmt.Sprintf("https://%s/.well-known/jwks.json", a.Domain) }

func (a Auth) Issuer() string { return "https://" + a.Domain + "/" }

func defaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("functions_customhandler_port", "8080")
	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("storage_connection_string", "")
	v.SetDefault("tasks_table", "Tasks")
	v.SetDefault("settings_table", "UserSettings")
	v.SetDefault("events_queue", "")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("data_file", "")
	v.SetDefault("redis_connection_string", "")
	v.SetDefault("deduper_ttl", "24h")
	v.SetDefault("settings_cache_ttl", "5m")
	v.SetDefault("tasks_page_size", 30)
	v.SetDefault("upcoming_horizon_days", domain.DefaultUpcomingHorizonDays)
	v.SetDefault("auth0_test_mode", false)
	v.SetDefault("auth0_test_secret", "")
	v.SetDefault("auth0_audience", "")
	v.SetDefault("auth0_domain", "")
}

// Load reads configuration. A missing .env file is ignored; a configFile
// that cannot be read is an error.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	v := viper.New()
	defaults(v)
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Debug:                   v.GetBool("debug"),
		ListenAddr:              ":" + v.GetString("functions_customhandler_port"),
		Backend:                 strings.ToLower(v.GetString("store_backend")),
		StorageConnectionString: v.GetString("storage_connection_string"),
		TasksTable:              v.GetString("tasks_table"),
		SettingsTable:           v.GetString("settings_table"),
		EventsQueue:             v.GetString("events_queue"),
		PostgresDSN:             v.GetString("postgres_dsn"),
		DataFile:                v.GetString("data_file"),
		RedisConnectionString:   v.GetString("redis_connection_string"),
		PageSize:                v.GetInt("tasks_page_size"),
		UpcomingHorizonDays:     v.GetInt("upcoming_horizon_days"),
		Auth: Auth{
			TestMode:   v.GetBool("auth0_test_mode"),
			TestSecret: v.GetString("auth0_test_secret"),
			Audience:   v.GetString("auth0_audience"),
			Domain:     v.GetString("auth0_domain"),
		},
	}
	var err error
	if cfg.DeduperTTL, err = positiveDuration(v, "deduper_ttl"); err != nil {
		return nil, err
	}
	if cfg.SettingsCacheTTL, err = positiveDuration(v, "settings_cache_ttl"); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s: %q", strings.ToUpper(key), v.GetString(key))
	}
	return d, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendTables:
		if c.StorageConnectionString == "" || c.TasksTable == "" || c.SettingsTable == "" {
			return errors.New("config: missing storage config")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return errors.New("config: missing POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Backend)
	}
	if c.EventsQueue != "" && c.StorageConnectionString == "" {
		return errors.New("config: EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	if c.PageSize <= 0 {
		return errors.New("config: invalid TASKS_PAGE_SIZE: must be greater than zero")
	}
	if c.UpcomingHorizonDays < 1 || c.UpcomingHorizonDays > domain.MaxUpcomingHorizonDays {
		return fmt.Errorf("config: invalid UPCOMING_HORIZON_DAYS: must be between 1 and %d", domain.MaxUpcomingHorizonDays)
	}
	if c.Auth.TestMode {
		if c.Auth.TestSecret == "" {
			return errors.New("config: AUTH0_TEST_MODE requires AUTH0_TEST_SECRET")
		}
	} else if c.Auth.Audience == "" || c.Auth.Domain == "" {
		return errors.New("config: missing Auth0 config")
	}
	return nil
}

// RedisOptions parses either a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("config: empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
