package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration. Values come from an optional
// YAML file (CONFIG_FILE) and are then overridden by environment variables.
type Config struct {
	// HTTP
	ListenAddr string `yaml:"listen_addr"`

	// Market-data provider
	ProviderBaseURL string        `yaml:"provider_base_url"`
	ProviderAPIKey  string        `yaml:"provider_api_key"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	ListPerPage     int           `yaml:"list_per_page"`

	// Cache: "redis" (falls back to memory when unreachable) or "memory"
	CacheBackend  string `yaml:"cache_backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Ledger / users: "sqlite3" or "postgres"
	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	LogLevel   string `yaml:"log_level"`
	TOTPIssuer string `yaml:"totp_issuer"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		ListenAddr:      ":8000",
		ProviderBaseURL: "https://api.coingecko.com/api/v3",
		ProviderTimeout: 10 * time.Second,
		ListPerPage:     20,
		CacheBackend:    "redis",
		RedisAddr:       "localhost:6379",
		DBDriver:        "sqlite3",
		DBDSN:           "data/coinfeed.db",
		LogLevel:        "info",
		TOTPIssuer:      "coinfeed",
	}
}

// Load reads CONFIG_FILE (if set) and then environment variables.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config from YAML: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("GATEWAY_ADDR", c.ListenAddr)
	c.ProviderBaseURL = getEnv("PROVIDER_BASE_URL", c.ProviderBaseURL)
	c.ProviderAPIKey = getEnv("PROVIDER_API_KEY", c.ProviderAPIKey)
	c.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", c.ProviderTimeout)
	c.ListPerPage = getEnvInt("LIST_PER_PAGE", c.ListPerPage)
	c.CacheBackend = getEnv("CACHE_BACKEND", c.CacheBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.DBDriver = getEnv("DB_DRIVER", c.DBDriver)
	c.DBDSN = getEnv("DB_DSN", c.DBDSN)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.TOTPIssuer = getEnv("TOTP_ISSUER", c.TOTPIssuer)
}

// Validate performs basic configuration validation.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.ProviderBaseURL == "" {
		return fmt.Errorf("provider base url cannot be empty")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be greater than 0")
	}
	if c.ListPerPage <= 0 || c.ListPerPage > 250 {
		return fmt.Errorf("list per page must be between 1 and 250, got %d", c.ListPerPage)
	}
	switch c.CacheBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", c.CacheBackend)
	}
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("db dsn cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
