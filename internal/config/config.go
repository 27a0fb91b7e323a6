package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration: YAML file first, environment
// variables override.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	NATS struct {
		URL   string `yaml:"url"`
		Queue string `yaml:"queue"`
	} `yaml:"nats"`

	DB struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"db"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`

	Engine struct {
		StaleCallDeadline       time.Duration `yaml:"stale_call_deadline"`
		ReaperInterval          time.Duration `yaml:"reaper_interval"`
		MaxLedgerEntriesPerCall int           `yaml:"max_ledger_entries_per_call"`
		ClosedCacheSize         int           `yaml:"closed_cache_size"`
		ClosedCacheTTL          time.Duration `yaml:"closed_cache_ttl"`
	} `yaml:"engine"`

	// WatchDir enables the filesystem audio watcher when set.
	WatchDir string `yaml:"watch_dir"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.HTTPAddr = ":8080"
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.Queue = "ts-radio"
	cfg.DB.Host = "localhost"
	cfg.DB.Port = "5432"
	cfg.DB.SSLMode = "disable"
	cfg.Engine.StaleCallDeadline = 5 * time.Minute
	cfg.Engine.ReaperInterval = 30 * time.Second
	cfg.Engine.MaxLedgerEntriesPerCall = 500
	cfg.Engine.ClosedCacheSize = 8192
	cfg.Engine.ClosedCacheTTL = 15 * time.Minute
	return cfg
}

// Load reads path (optional, "" = skip) then applies env overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	envStr(&cfg.HTTPAddr, "HTTP_ADDR")
	envStr(&cfg.NATS.URL, "NATS_URL")
	envStr(&cfg.NATS.Queue, "NATS_QUEUE")
	envStr(&cfg.DB.Host, "DB_HOST")
	envStr(&cfg.DB.Port, "DB_PORT")
	envStr(&cfg.DB.User, "DB_USER")
	envStr(&cfg.DB.Password, "DB_PASSWORD")
	envStr(&cfg.DB.Name, "DB_NAME")
	envStr(&cfg.DB.SSLMode, "DB_SSLMODE")
	envStr(&cfg.Redis.Addr, "REDIS_ADDR")
	envStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	envStr(&cfg.WatchDir, "WATCH_DIR")
	envDur(&cfg.Engine.StaleCallDeadline, "STALE_CALL_DEADLINE")
	envDur(&cfg.Engine.ReaperInterval, "REAPER_INTERVAL")
	envInt(&cfg.Engine.MaxLedgerEntriesPerCall, "MAX_LEDGER_ENTRIES_PER_CALL")

	if cfg.Engine.StaleCallDeadline <= 0 {
		return nil, fmt.Errorf("stale_call_deadline must be positive")
	}
	if cfg.Engine.ReaperInterval <= 0 {
		return nil, fmt.Errorf("reaper_interval must be positive")
	}

	return cfg, nil
}

// ConnString builds the Postgres DSN.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDur(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
