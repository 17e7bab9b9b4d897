package config

import (
	"fmt"
	"time"
)

// Config holds engine, storage and transport configuration.
type Config struct {
	AdapterMode     string // mock or crawler
	AdapterTimeout  time.Duration
	DispatchTimeout time.Duration
	MockLatency     time.Duration
	UserAgent       string
	CrawlerRate     float64 // requests per second per retailer, 0 disables
	CrawlerBurst    int

	CrawlerMaxRetries      int
	CrawlerRetryBackoff    time.Duration
	CrawlerRetryBackoffMax time.Duration

	SearchLimit int
	PriceLimit  int

	RefreshInterval     time.Duration
	RefreshParallelism  int
	RefreshProductLimit int
	RefreshMemoSize     int
	RefreshRunOnStart   bool
	RefreshLockTTL      time.Duration

	StoreDriver string // memory, sqlite, or postgres
	SQLitePath  string
	DatabaseURL string
	RedisAddr   string

	JournalFile   string
	JournalFormat string // csv, json, or dual

	HTTPAddr  string
	JWTSecret string
	Verbose   bool
}

// DefaultConfig returns defaults matching the reference deployment.
func DefaultConfig() *Config {
	return &Config{
		AdapterMode:     "mock",
		AdapterTimeout:  5 * time.Second,
		DispatchTimeout: 15 * time.Second,
		MockLatency:     100 * time.Millisecond,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		CrawlerRate:     2,
		CrawlerBurst:    2,

		CrawlerMaxRetries:      2,
		CrawlerRetryBackoff:    200 * time.Millisecond,
		CrawlerRetryBackoffMax: 2 * time.Second,

		SearchLimit: 20,
		PriceLimit:  100,

		RefreshInterval:     12 * time.Hour,
		RefreshParallelism:  8,
		RefreshProductLimit: 1000,
		RefreshMemoSize:     4096,
		RefreshRunOnStart:   false,
		RefreshLockTTL:      time.Hour,

		StoreDriver: "sqlite",
		SQLitePath:  "data/prices.db",

		JournalFormat: "json",

		HTTPAddr:  ":8000",
		JWTSecret: "uk_grocery_comparison_app_secret_key",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.AdapterMode != "mock" && c.AdapterMode != "crawler" {
		return fmt.Errorf("adapter mode must be mock or crawler")
	}
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter timeout must be positive")
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be positive")
	}
	if c.DispatchTimeout < c.AdapterTimeout {
		return fmt.Errorf("dispatch timeout (%s) cannot be shorter than adapter timeout (%s)", c.DispatchTimeout, c.AdapterTimeout)
	}
	if c.MockLatency < 0 {
		return fmt.Errorf("mock latency cannot be negative")
	}
	if c.AdapterMode == "crawler" && c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.CrawlerRate < 0 {
		return fmt.Errorf("crawler rate cannot be negative")
	}
	if c.CrawlerRate > 0 && c.CrawlerBurst <= 0 {
		return fmt.Errorf("crawler burst must be positive when crawler rate is set")
	}
	if c.CrawlerMaxRetries < 0 {
		return fmt.Errorf("crawler max retries cannot be negative")
	}
	if c.CrawlerRetryBackoff < 0 || c.CrawlerRetryBackoffMax < 0 {
		return fmt.Errorf("crawler retry backoff cannot be negative")
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("search limit must be positive")
	}
	if c.PriceLimit <= 0 {
		return fmt.Errorf("price limit must be positive")
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.RefreshParallelism <= 0 {
		return fmt.Errorf("refresh parallelism must be positive")
	}
	if c.RefreshProductLimit <= 0 {
		return fmt.Errorf("refresh product limit must be positive")
	}
	if c.RefreshMemoSize <= 0 {
		return fmt.Errorf("refresh memo size must be positive")
	}
	if c.RedisAddr != "" && c.RefreshLockTTL <= 0 {
		return fmt.Errorf("refresh lock ttl must be positive when redis is configured")
	}
	switch c.StoreDriver {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path cannot be empty")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database url cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("store driver must be memory, sqlite, or postgres")
	}
	if c.JournalFile != "" {
		switch c.JournalFormat {
		case "csv", "json", "dual":
		default:
			return fmt.Errorf("journal format must be csv, json, or dual")
		}
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http address cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}

	return nil
}
