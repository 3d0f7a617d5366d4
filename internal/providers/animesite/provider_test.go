package animesite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const searchHTML = `<html><body><div class="film_list-wrap">
<div class="flw-item">
  <div class="film-detail">
    <h3 class="film-name"><a href="/kaguya-sama-love-is-war-2141?ref=search" title="Kaguya-sama: Love is War" data-jname="Kaguya-sama wa Kokurasetai">Kaguya-sama</a></h3>
    <div class="fd-infor"><span class="fdi-item">TV</span><span class="fdi-item">2019</span></div>
  </div>
</div>
<div class="flw-item">
  <h3 class="film-name"><a href="https://mirror.example/kaguya-sama-love-is-war-2141">Duplicate</a></h3>
</div>
<div class="flw-item">
  <h3 class="film-name"><a href="/kaguya-sama-movie-17460">Kaguya-sama: The First Kiss &amp; More</a></h3>
  <div class="fd-infor"><span class="fdi-item">Movie</span></div>
</div>
<div class="flw-item"><h3 class="film-name"><span>no link</span></h3></div>
</div></body></html>`

func TestParseSearchHits(t *testing.T) {
	hits, err := parseSearchHits([]byte(searchHTML))
	if err != nil {
		t.Fatalf("parseSearchHits: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %#v", hits)
	}
	first := hits[0]
	if first.ID != "/kaguya-sama-love-is-war-2141" || first.Title != "Kaguya-sama: Love is War" {
		t.Fatalf("unexpected first hit %#v", first)
	}
	if first.Romaji != "Kaguya-sama wa Kokurasetai" || first.Format != "TV" || first.Year != 2019 {
		t.Fatalf("unexpected first hit details %#v", first)
	}
	if hits[1].Title != "Kaguya-sama: The First Kiss & More" || hits[1].Format != "MOVIE" || hits[1].Romaji != "" {
		t.Fatalf("unexpected second hit %#v", hits[1])
	}
}

func TestParseEpisodes(t *testing.T) {
	fragment := `<div class="ss-list">
<a class="ep-item" data-number="1" data-id="10001" href="/watch/kaguya-sama-love-is-war-2141?ep=10001" title="I Want to Be Invited to a Movie">1</a>
<a class="ep-item" data-id="10002" href="/watch/kaguya-sama-love-is-war-2141?ep=10002">Episode 2</a>
<a class="ep-item" data-number="3">missing id</a>
</div>`
	entries, err := parseEpisodes(fragment)
	if err != nil {
		t.Fatalf("parseEpisodes: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %#v", entries)
	}
	if entries[0].ID != "10001" || entries[0].Number != 1 || entries[0].Title != "I Want to Be Invited to a Movie" {
		t.Fatalf("unexpected first entry %#v", entries[0])
	}
	if entries[1].Number != 2 || entries[1].URL != "/watch/kaguya-sama-love-is-war-2141" {
		t.Fatalf("unexpected second entry %#v", entries[1])
	}
}

func TestSiteIDFromPath(t *testing.T) {
	cases := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"/kaguya-sama-love-is-war-2141", "2141", false},
		{"https://mirror.example/one-piece-100/", "100", false},
		{"/no-number", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := siteIDFromPath(tc.input)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Errorf("siteIDFromPath(%q) = %q, %v", tc.input, got, err)
		}
	}
}

func TestEpisodesAndSourcesOverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/ajax/episode/list/2141":
			_, _ = w.Write([]byte(`{"status":true,"html":"<a class=\"ep-item\" data-number=\"1\" data-id=\"10001\">1</a>"}`))
		case "/ajax/episode/sources":
			if r.URL.Query().Get("id") != "10001" {
				t.Errorf("unexpected episode id %q", r.URL.Query().Get("id"))
			}
			_, _ = w.Write([]byte(`{"sources":[{"file":"https://cdn.example/master.m3u8","type":"hls"},{"file":""}],
				"tracks":[{"file":"https://cdn.example/en.vtt","label":"English","kind":"captions"},{"file":"https://cdn.example/thumbs.vtt","kind":"thumbnails"}],
				"intro":{"start":31,"end":120},"outro":{"start":0,"end":0}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	p := NewProvider(Config{Endpoint: "http://127.0.0.1:1," + server.URL, Client: server.Client()})
	ctx := context.Background()

	entries, err := p.Episodes(ctx, "/kaguya-sama-love-is-war-2141")
	if err != nil {
		t.Fatalf("Episodes: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "10001" {
		t.Fatalf("unexpected entries %#v", entries)
	}

	sources, err := p.Sources(ctx, "10001")
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(sources.Sources) != 1 || !sources.Sources[0].IsM3U8 || sources.Sources[0].Quality != "auto" {
		t.Fatalf("unexpected sources %#v", sources.Sources)
	}
	if len(sources.Subtitles) != 1 || sources.Subtitles[0].Lang != "English" {
		t.Fatalf("unexpected subtitles %#v", sources.Subtitles)
	}
	if sources.Intro == nil || sources.Intro.End != 120 || sources.Outro != nil {
		t.Fatalf("unexpected ranges %#v %#v", sources.Intro, sources.Outro)
	}
	if sources.Headers["Referer"] != server.URL+"/" {
		t.Fatalf("unexpected headers %#v", sources.Headers)
	}
}
