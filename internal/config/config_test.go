package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxThreads != 8 {
		t.Errorf("expected default max threads 8, got %d", cfg.MaxThreads)
	}
	if cfg.CrawlDelay != 2*time.Second {
		t.Errorf("expected default crawl delay 2s, got %v", cfg.CrawlDelay)
	}
	if cfg.UserAgent == "" {
		t.Error("expected a default user agent")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "burrowler.yaml")
	contents := "sites:\n  - http://example.test\nmax_threads: 3\ncrawl_depth: 2\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Sites) != 1 || cfg.Sites[0] != "http://example.test" {
		t.Errorf("unexpected sites: %v", cfg.Sites)
	}
	if cfg.MaxThreads != 3 {
		t.Errorf("expected max threads 3, got %d", cfg.MaxThreads)
	}
	if cfg.CrawlDepth != 2 {
		t.Errorf("expected crawl depth 2, got %d", cfg.CrawlDepth)
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := Load("")
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid default config, got %v", err)
	}

	cfg.MaxThreads = 0
	if err := Validate(cfg); err == nil {
		t.Error("expected error for zero max threads")
	}
}
