package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProviderTimeout != 10*time.Second {
		t.Errorf("timeout: got %v", cfg.ProviderTimeout)
	}
	if cfg.CacheBackend != "redis" || cfg.DBDriver != "sqlite3" {
		t.Errorf("backends: %s / %s", cfg.CacheBackend, cfg.DBDriver)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinfeed.yaml")
	doc := "listen_addr: \":9000\"\nprovider_timeout: 3s\ncache_backend: memory\nlist_per_page: 50\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LIST_PER_PAGE", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen addr from file: got %q", cfg.ListenAddr)
	}
	if cfg.ProviderTimeout != 3*time.Second {
		t.Errorf("timeout from file: got %v", cfg.ProviderTimeout)
	}
	if cfg.CacheBackend != "memory" {
		t.Errorf("backend from file: got %q", cfg.CacheBackend)
	}
	if cfg.ListPerPage != 25 {
		t.Errorf("env should override file: got %d", cfg.ListPerPage)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"backend", func(c *Config) { c.CacheBackend = "memcached" }},
		{"driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"timeout", func(c *Config) { c.ProviderTimeout = 0 }},
		{"per page", func(c *Config) { c.ListPerPage = 0 }},
	}
	for _, tt := range tests {
		cfg := Defaults()
		tt.mut(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
