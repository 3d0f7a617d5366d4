package mangadex

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"animestream/catalogservice/internal/provider"
)

func TestSearchMapsTitles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manga" || r.URL.Query().Get("title") != "berserk" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"result":"ok","data":[
			{"id":"801513ba","attributes":{"title":{"en":"Berserk"},"altTitles":[{"ja":"ベルセルク"},{"ja-ro":"Beruseruku"},{"en":"berserk"}],"year":1989}},
			{"id":"","attributes":{"title":{"en":"No id"}}},
			{"id":"abc","attributes":{"title":{"ko":"베르세르크"}}}
		]}`))
	}))
	defer server.Close()

	hits, err := NewProvider(Config{Endpoint: server.URL, Client: server.Client()}).Search(context.Background(), "berserk")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %#v", hits)
	}
	first := hits[0]
	if first.ID != "801513ba" || first.Title != "Berserk" || first.Year != 1989 {
		t.Fatalf("unexpected hit %#v", first)
	}
	if first.Romaji != "Beruseruku" || first.Native != "ベルセルク" || len(first.AltTitles) != 2 {
		t.Fatalf("unexpected alt titles %#v", first)
	}
	if hits[1].Title != "베르세르크" {
		t.Fatalf("expected fallback language title, got %q", hits[1].Title)
	}
}

func TestChaptersWalksFeed(t *testing.T) {
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/manga/801513ba/feed") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("translatedLanguage[]") != "en" {
			t.Errorf("missing language filter: %s", r.URL.RawQuery)
		}
		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)
		if offset == "0" {
			_, _ = w.Write([]byte(`{"data":[
				{"id":"c1","attributes":{"chapter":"1","title":"The Black Swordsman","pages":48,"updatedAt":"2020-01-02T03:04:05+00:00"}},
				{"id":"c2","attributes":{"chapter":"1.5","externalUrl":"https://elsewhere","pages":0}}
			],"limit":500,"offset":0,"total":501}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"c3","attributes":{"chapter":"2","pages":20}}],"limit":500,"offset":500,"total":501}`))
	}))
	defer server.Close()

	entries, err := NewProvider(Config{Endpoint: server.URL, Client: server.Client()}).Chapters(context.Background(), "801513ba")
	if err != nil {
		t.Fatalf("Chapters: %v", err)
	}
	if strings.Join(offsets, ",") != "0,500" {
		t.Fatalf("unexpected offsets %v", offsets)
	}
	if len(entries) != 2 || entries[0].ID != "c1" || entries[1].Number != 2 {
		t.Fatalf("unexpected entries %#v", entries)
	}
	if entries[0].Title != "The Black Swordsman" || entries[0].Updated == 0 {
		t.Fatalf("unexpected first entry %#v", entries[0])
	}
}

func TestPagesBuildsURLs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/at-home/server/c1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"baseUrl":"https://uploads.example/","chapter":{"hash":"h4sh","data":["1.png","2.png"]}}`))
	}))
	defer server.Close()

	pages, err := NewProvider(Config{Endpoint: server.URL, Client: server.Client()}).Pages(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Pages: %v", err)
	}
	if len(pages) != 2 || pages[1].Index != 2 || pages[1].URL != "https://uploads.example/data/h4sh/2.png" {
		t.Fatalf("unexpected pages %#v", pages)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewProvider(Config{Endpoint: server.URL, Client: server.Client()}).Search(context.Background(), "berserk")
	var status *provider.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected StatusError, got %v", err)
	}
}
