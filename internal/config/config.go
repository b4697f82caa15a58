package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// OperatorToken gates the manual run-trigger endpoint. Empty disables
	// the endpoint entirely rather than leaving it open.
	OperatorToken string
}

type ScraperConfig struct {
	MaxRetries      int
	RetryDelay      time.Duration
	ConcurrentLimit int
	MaxPages        int
	RateLimitMin    time.Duration
	RateLimitMax    time.Duration
	// Schedule is a cron spec for the nightly full run.
	Schedule string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Name        string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			OperatorToken:   os.Getenv("SCRAPER_OPERATOR_TOKEN"),
		},
		Scraper: ScraperConfig{
			MaxRetries:      getIntOrDefault("SCRAPER_MAX_RETRIES", 2),
			RetryDelay:      getDurationOrDefault("SCRAPER_RETRY_DELAY", 5*time.Second),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 3),
			MaxPages:        getIntOrDefault("SCRAPER_MAX_PAGES", 5),
			RateLimitMin:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", 2*time.Second),
			RateLimitMax:    getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", 6*time.Second),
			Schedule:        getEnvOrDefault("SCRAPER_SCHEDULE", "50 23 * * *"),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "uk-UA,uk;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Kyiv"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "uk-UA"),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("DB_HOST", "localhost"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    getEnvOrDefault("DB_PASSWORD", ""),
			Name:        getEnvOrDefault("DB_NAME", "grocery_prices"),
			MaxConns:    int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns:    int32(getIntOrDefault("DB_MIN_CONNS", 2)),
			MaxConnLife: getDurationOrDefault("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxConnIdle: getDurationOrDefault("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("SCRAPER_MAX_PAGES must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
