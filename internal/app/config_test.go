package app

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDR", "CACHE_BACKEND", "MATCH_MODE", "CRAWL_PAGE_WAIT_MS", "CRAWL_ON_START"} {
		t.Setenv(key, "")
	}
	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8091" || cfg.CacheBackend != "memory" || cfg.MatchMode != "thorough" {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.CrawlPageWait != time.Second || cfg.CrawlOnStart {
		t.Fatalf("unexpected crawl defaults %v %v", cfg.CrawlPageWait, cfg.CrawlOnStart)
	}
	if cfg.SourceTTL != time.Hour || cfg.ContentTTL != 12*time.Hour {
		t.Fatalf("unexpected ttl defaults %v %v", cfg.SourceTTL, cfg.ContentTTL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "SQLite")
	t.Setenv("SOURCE_TTL_MINUTES", "5")
	t.Setenv("CRAWL_ID_WAIT_MS", "0")
	t.Setenv("CRAWL_PAGE_WAIT_MS", "-4")
	t.Setenv("CRAWL_ON_START", "yes")
	t.Setenv("CRAWL_TYPE", "manga")
	t.Setenv("MAX_CANDIDATES", "nope")

	cfg := LoadConfig()
	if cfg.CacheBackend != "sqlite" || cfg.SourceTTL != 5*time.Minute || cfg.CrawlType != "MANGA" {
		t.Fatalf("unexpected overrides %#v", cfg)
	}
	if cfg.CrawlIDWait != 0 || cfg.CrawlPageWait != time.Second || !cfg.CrawlOnStart {
		t.Fatalf("unexpected crawl overrides %v %v %v", cfg.CrawlIDWait, cfg.CrawlPageWait, cfg.CrawlOnStart)
	}
	if cfg.MaxCandidates != 10 {
		t.Fatalf("malformed int should keep fallback, got %d", cfg.MaxCandidates)
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "providers.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write providers file: %v", err)
	}
	return path
}

func TestLoadProvidersFile(t *testing.T) {
	path := writeFile(t, `
[providers.MangaDex]
accept_threshold = 0.75
rate_limit_wait_ms = 250
timeout_seconds = 3

[providers.animesite]
enabled = false
use_partial_query = true

[site_aliases]
Zoro = "animesite"
`)
	file, err := LoadProvidersFile(path)
	if err != nil {
		t.Fatalf("LoadProvidersFile: %v", err)
	}
	mangadex := file.ConfigFor("mangadex")
	if mangadex.AcceptThreshold != 0.75 || mangadex.RateLimitWait != 250*time.Millisecond || mangadex.Timeout != 3*time.Second {
		t.Fatalf("unexpected mangadex config %#v", mangadex)
	}
	if mangadex.MatchThreshold != 0.5 || !mangadex.Enabled {
		t.Fatalf("unset fields must keep defaults, got %#v", mangadex)
	}
	animesite := file.ConfigFor("animesite")
	if animesite.Enabled || !animesite.UsePartialQuery {
		t.Fatalf("unexpected animesite config %#v", animesite)
	}
	if file.SiteAliases["Zoro"] != "animesite" {
		t.Fatalf("unexpected aliases %#v", file.SiteAliases)
	}
	if other := file.ConfigFor("unknown"); other.AcceptThreshold != 0.6 {
		t.Fatalf("unknown provider should get defaults, got %#v", other)
	}
}

func TestLoadProvidersFileMissingIsEmpty(t *testing.T) {
	file, err := LoadProvidersFile(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil || len(file.Providers) != 0 {
		t.Fatalf("expected empty tuning, got %#v %v", file, err)
	}
}

func TestLoadProvidersFileRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"threshold": "[providers.x]\naccept_threshold = 1.5\n",
		"unknown":   "[providers.x]\nspeed = 3\n",
		"timeout":   "[providers.x]\ntimeout_seconds = 0\n",
	}
	for name, content := range tests {
		if _, err := LoadProvidersFile(writeFile(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "providers") {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
	}
}
