package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given files without overriding values
// already present in the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a time.Duration such as "12h" or "250ms".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, true, nil
}

// ApplyEnv overlays PRICES_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if v, ok := EnvString("PRICES_ADAPTER_MODE"); ok {
		cfg.AdapterMode = strings.ToLower(v)
	}
	if v, ok := EnvString("PRICES_STORE_DRIVER"); ok {
		cfg.StoreDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("PRICES_SQLITE_PATH"); ok {
		cfg.SQLitePath = v
	}
	if v, ok := EnvString("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := EnvString("REDIS_ADDR"); ok {
		cfg.RedisAddr = v
	}
	if v, ok := EnvString("SECRET_KEY"); ok {
		cfg.JWTSecret = v
	}
	if v, ok := EnvString("PRICES_HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := EnvString("PRICES_JOURNAL"); ok {
		cfg.JournalFile = v
	}
	if v, ok := EnvString("PRICES_JOURNAL_FORMAT"); ok {
		cfg.JournalFormat = strings.ToLower(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PRICES_ADAPTER_TIMEOUT", &cfg.AdapterTimeout},
		{"PRICES_DISPATCH_TIMEOUT", &cfg.DispatchTimeout},
		{"PRICES_MOCK_LATENCY", &cfg.MockLatency},
		{"PRICES_REFRESH_INTERVAL", &cfg.RefreshInterval},
		{"PRICES_REFRESH_LOCK_TTL", &cfg.RefreshLockTTL},
		{"PRICES_CRAWLER_RETRY_BACKOFF", &cfg.CrawlerRetryBackoff},
		{"PRICES_CRAWLER_RETRY_BACKOFF_MAX", &cfg.CrawlerRetryBackoffMax},
	}
	for _, d := range durations {
		value, ok, err := EnvDuration(d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = value
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PRICES_SEARCH_LIMIT", &cfg.SearchLimit},
		{"PRICES_PRICE_LIMIT", &cfg.PriceLimit},
		{"PRICES_REFRESH_PARALLEL", &cfg.RefreshParallelism},
		{"PRICES_REFRESH_PRODUCT_LIMIT", &cfg.RefreshProductLimit},
		{"PRICES_CRAWLER_MAX_RETRIES", &cfg.CrawlerMaxRetries},
	}
	for _, i := range ints {
		value, ok, err := EnvInt(i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = value
		}
	}

	if value, ok, err := EnvBool("PRICES_REFRESH_ON_START"); err != nil {
		return err
	} else if ok {
		cfg.RefreshRunOnStart = value
	}
	return nil
}
