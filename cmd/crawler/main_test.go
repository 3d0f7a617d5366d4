package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"animestream/catalogservice/internal/crawl"
	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/provider"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"crawl", "get", "search", "providers"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q not registered: %v", name, err)
		}
	}
}

func TestProvidersCommandJSON(t *testing.T) {
	t.Setenv("AUTHORITATIVE_ANIME", "animesite")
	t.Setenv("PROVIDERS_FILE", "")
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"providers", "--backend", "memory", "--json"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var infos []provider.Info
	if err := json.Unmarshal(out.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v (%s)", err, out.String())
	}
	if len(infos) != 2 || infos[0].Name != "animesite" || !infos[0].Authoritative || infos[1].Capability != domain.MediaTypeManga {
		t.Fatalf("unexpected providers %#v", infos)
	}
}

func TestGetCommandRequiresID(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"get"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, crawl.Report{Type: domain.MediaTypeAnime, Pages: 2, TotalPages: 10, LastPage: 3, Processed: 7, Skipped: 1}, 6)
	text := out.String()
	if !strings.Contains(text, "Processed: 7") || !strings.Contains(text, "--start-page 4") {
		t.Fatalf("unexpected report output:\n%s", text)
	}

	out.Reset()
	printReport(&out, crawl.Report{Type: domain.MediaTypeManga, Exhausted: true}, 0)
	if !strings.Contains(out.String(), "exhausted") {
		t.Fatalf("expected exhausted note, got:\n%s", out.String())
	}

	out.Reset()
	printReport(&out, crawl.Report{Type: domain.MediaTypeAnime, Pages: 1, TotalPages: 4, LastPage: 3}, 0)
	if !strings.Contains(out.String(), "Last page reached") {
		t.Fatalf("expected wrap note after the final page, got:\n%s", out.String())
	}
}

func TestPrintRecords(t *testing.T) {
	record := domain.NewRecord(domain.CanonicalMedia{ID: "1", Type: domain.MediaTypeAnime, Title: domain.Title{Romaji: "Cowboy Bebop"}})
	var out bytes.Buffer
	printRecords(&out, []domain.UnifiedRecord{record})
	if !strings.Contains(out.String(), "Cowboy Bebop") || !strings.Contains(out.String(), "no connectors") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
}
