package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "unknown adapter mode",
			mutate: func(cfg *Config) {
				cfg.AdapterMode = "selenium"
			},
			wantErr: "adapter mode",
		},
		{
			name: "zero adapter timeout",
			mutate: func(cfg *Config) {
				cfg.AdapterTimeout = 0
			},
			wantErr: "adapter timeout",
		},
		{
			name: "dispatch shorter than adapter",
			mutate: func(cfg *Config) {
				cfg.AdapterTimeout = 10 * time.Second
				cfg.DispatchTimeout = time.Second
			},
			wantErr: "dispatch timeout",
		},
		{
			name: "negative refresh parallelism",
			mutate: func(cfg *Config) {
				cfg.RefreshParallelism = -1
			},
			wantErr: "refresh parallelism",
		},
		{
			name: "negative crawler retries",
			mutate: func(cfg *Config) {
				cfg.CrawlerMaxRetries = -1
			},
			wantErr: "crawler max retries",
		},
		{
			name: "zero refresh interval",
			mutate: func(cfg *Config) {
				cfg.RefreshInterval = 0
			},
			wantErr: "refresh interval",
		},
		{
			name: "postgres without url",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "postgres"
				cfg.DatabaseURL = ""
			},
			wantErr: "database url",
		},
		{
			name: "unknown store driver",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "mongo"
			},
			wantErr: "store driver",
		},
		{
			name: "bad journal format",
			mutate: func(cfg *Config) {
				cfg.JournalFile = "out/prices.log"
				cfg.JournalFormat = "xml"
			},
			wantErr: "journal format",
		},
		{
			name: "redis lock without ttl",
			mutate: func(cfg *Config) {
				cfg.RedisAddr = "localhost:6379"
				cfg.RefreshLockTTL = 0
			},
			wantErr: "lock ttl",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.RefreshInterval != 12*time.Hour {
		t.Fatalf("refresh interval = %v, want 12h", cfg.RefreshInterval)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PRICES_STORE_DRIVER", "MEMORY")
	t.Setenv("PRICES_REFRESH_INTERVAL", "30m")
	t.Setenv("PRICES_REFRESH_PARALLEL", "3")
	t.Setenv("PRICES_REFRESH_ON_START", "true")
	t.Setenv("PRICES_CRAWLER_MAX_RETRIES", "4")
	t.Setenv("PRICES_CRAWLER_RETRY_BACKOFF", "50ms")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.StoreDriver != "memory" {
		t.Fatalf("store driver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.RefreshInterval != 30*time.Minute {
		t.Fatalf("refresh interval = %v, want 30m", cfg.RefreshInterval)
	}
	if cfg.RefreshParallelism != 3 {
		t.Fatalf("refresh parallelism = %d, want 3", cfg.RefreshParallelism)
	}
	if !cfg.RefreshRunOnStart {
		t.Fatalf("refresh on start should be enabled")
	}
	if cfg.CrawlerMaxRetries != 4 || cfg.CrawlerRetryBackoff != 50*time.Millisecond {
		t.Fatalf("crawler retry = %d/%v, want 4/50ms", cfg.CrawlerMaxRetries, cfg.CrawlerRetryBackoff)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("PRICES_SEARCH_LIMIT", "twenty")
	if err := ApplyEnv(DefaultConfig()); err == nil || !strings.Contains(err.Error(), "PRICES_SEARCH_LIMIT") {
		t.Fatalf("expected parse error for PRICES_SEARCH_LIMIT, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PRICES_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("PRICES_TEST_DOTENV") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got, ok := EnvString("PRICES_TEST_DOTENV"); !ok || got != "loaded" {
		t.Fatalf("PRICES_TEST_DOTENV = %q, want loaded", got)
	}
}
