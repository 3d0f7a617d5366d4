package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"animestream/catalogservice/internal/domain"
)

func TestBuildWiresMemoryRuntime(t *testing.T) {
	cfg := Config{
		CacheBackend:       "memory",
		AuthoritativeAnime: "animesite",
		MatchMode:          "fast",
		ProvidersFile: writeFile(t, `
[providers.mangadex]
enabled = false
`),
	}
	rt, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	if rt.Engine.Mode() != "fast" {
		t.Fatalf("unexpected mode %q", rt.Engine.Mode())
	}
	if rt.Registry.Authoritative(domain.MediaTypeAnime) != "animesite" {
		t.Fatal("authoritative anime provider not set")
	}
	if entries := rt.Registry.For(domain.MediaTypeManga); len(entries) != 0 {
		t.Fatalf("disabled provider must not answer, got %#v", entries)
	}
	stats, err := rt.Engine.CacheStats(context.Background())
	if err != nil || stats.Backend != "memory" {
		t.Fatalf("unexpected stats %#v %v", stats, err)
	}
}

func TestBuildWiresSQLite(t *testing.T) {
	cfg := Config{CacheBackend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "catalog.db")}
	rt, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()
	if stats, err := rt.Cache.Stats(context.Background()); err != nil || stats.Backend != "sqlite" {
		t.Fatalf("unexpected stats %#v %v", stats, err)
	}
}

func TestBuildRejectsBadConfiguration(t *testing.T) {
	tests := map[string]Config{
		"unknown backend":       {CacheBackend: "etcd"},
		"redis without url":     {CacheBackend: "redis"},
		"unknown authoritative": {CacheBackend: "memory", AuthoritativeManga: "zoro"},
	}
	for name, cfg := range tests {
		if _, err := Build(context.Background(), cfg, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	_, err := Build(context.Background(), Config{CacheBackend: "memory", AuthoritativeManga: "zoro"}, nil)
	if !errors.Is(err, domain.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
