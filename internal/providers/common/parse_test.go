package common

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"animestream/catalogservice/internal/provider"
)

func TestCleanHTMLText(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"  <b>Kaguya-sama</b>  wa <i>Kokurasetai</i> ", "Kaguya-sama wa Kokurasetai"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"\n\t", ""},
	}
	for _, tc := range cases {
		if got := CleanHTMLText(tc.input); got != tc.want {
			t.Errorf("CleanHTMLText(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	cases := []struct {
		input string
		want  float64
	}{
		{"Episode 12", 12},
		{"Ch. 10.5", 10.5},
		{"Chapter 7,5 - Extra", 7.5},
		{"Special", 0},
		{"", 0},
	}
	for _, tc := range cases {
		if got := ParseNumber(tc.input); got != tc.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestParseYear(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"Released: 2019", 2019},
		{"Spring 1998 TV", 1998},
		{"Episode 2100", 0},
		{"12345", 0},
	}
	for _, tc := range cases {
		if got := ParseYear(tc.input); got != tc.want {
			t.Errorf("ParseYear(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestParseEndpoints(t *testing.T) {
	got := ParseEndpoints(" https://a.example/, ,https://b.example,https://a.example", "https://fallback")
	if strings.Join(got, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected endpoints %v", got)
	}
	if got := ParseEndpoints("", "https://fallback/"); len(got) != 1 || got[0] != "https://fallback" {
		t.Fatalf("expected fallback endpoint, got %v", got)
	}
}

func TestCompactSnippet(t *testing.T) {
	if got := CompactSnippet("", 10); got != "empty response body" {
		t.Fatalf("unexpected empty snippet %q", got)
	}
	if got := CompactSnippet("<p>abcdefghijkl</p>", 8); got != "abcde..." {
		t.Fatalf("unexpected truncated snippet %q", got)
	}
}

func TestFetchClassifiesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("User-Agent") != "catalog-test" {
				t.Errorf("missing user agent, got %q", r.Header.Get("User-Agent"))
			}
			_, _ = w.Write([]byte("payload"))
		case "/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	body, err := Fetch(ctx, server.Client(), "site", server.URL+"/ok", "catalog-test", "text/html")
	if err != nil || string(body) != "payload" {
		t.Fatalf("unexpected ok response %q %v", body, err)
	}

	_, err = Fetch(ctx, server.Client(), "site", server.URL+"/busy", "", "")
	var status *provider.StatusError
	if !errors.As(err, &status) || status.Code != http.StatusTooManyRequests || status.Provider != "site" {
		t.Fatalf("expected StatusError 429, got %v", err)
	}

	_, err = Fetch(ctx, server.Client(), "site", server.URL+"/missing", "", "")
	if err == nil || errors.As(err, &status) {
		t.Fatalf("expected plain error for 404, got %v", err)
	}
}
