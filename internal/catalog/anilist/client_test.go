package anilist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"animestream/catalogservice/internal/domain"
)

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type recordingServer struct {
	mu       sync.Mutex
	requests []graphqlRequest
}

func (s *recordingServer) last() graphqlRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, req graphqlRequest)) (*Client, *recordingServer) {
	t.Helper()
	recorder := &recordingServer{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		recorder.mu.Lock()
		recorder.requests = append(recorder.requests, req)
		recorder.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		handler(w, req)
	}))
	t.Cleanup(server.Close)
	client := New(Config{
		Endpoint:          server.URL,
		Client:            server.Client(),
		RequestsPerMinute: 60000,
		Burst:             10,
		Now:               func() time.Time { return time.Date(2026, time.October, 14, 12, 0, 0, 0, time.UTC) },
	})
	return client, recorder
}

func TestSearchMapsMedia(t *testing.T) {
	client, recorder := newTestClient(t, func(w http.ResponseWriter, _ graphqlRequest) {
		_, _ = w.Write([]byte(`{"data":{"Page":{"media":[
			{"id":101921,"idMal":37999,"type":"ANIME","title":{"romaji":"Kaguya-sama wa Kokurasetai","english":"Kaguya-sama: Love is War","native":"かぐや様は告らせたい","userPreferred":"Kaguya-sama wa Kokurasetai"},
			 "synonyms":["Kaguya Wants to be Confessed To"],"format":"TV","season":"WINTER","seasonYear":2019,"startDate":{"year":2019},"coverImage":{"large":"https://img/koku.jpg"}},
			{"id":0}
		]}}}`))
	})

	media, err := client.Search(context.Background(), "kaguya", domain.MediaTypeAnime)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(media) != 1 {
		t.Fatalf("expected one media, got %d", len(media))
	}
	got := media[0]
	if got.ID != "101921" || got.IDMal != "37999" || got.Year != 2019 || got.Format != "TV" {
		t.Fatalf("unexpected media %#v", got)
	}
	if got.Title.English != "Kaguya-sama: Love is War" || len(got.Synonyms) != 1 || got.CoverURL != "https://img/koku.jpg" {
		t.Fatalf("unexpected titles %#v", got)
	}

	req := recorder.last()
	if !strings.Contains(req.Query, "$type:MediaType!") || !strings.Contains(req.Query, "media(search: $search") {
		t.Fatalf("unexpected query %s", req.Query)
	}
	if req.Variables["search"] != "kaguya" || req.Variables["type"] != "ANIME" {
		t.Fatalf("unexpected variables %#v", req.Variables)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ graphqlRequest) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Not Found.","status":404}],"data":{"Media":null}}`))
	})

	_, err := client.GetByID(context.Background(), "999999999", domain.MediaTypeAnime)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.GetByID(context.Background(), "abc", domain.MediaTypeAnime); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-numeric id, got %v", err)
	}
}

func TestGetByIDIncludesRelations(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ graphqlRequest) {
		_, _ = w.Write([]byte(`{"data":{"Media":{"id":1,"type":"ANIME","title":{"romaji":"Cowboy Bebop"},"format":"TV","startDate":{"year":1998},
			"relations":{"edges":[{"relationType":"SIDE_STORY","node":{"id":5,"type":"ANIME","format":"MOVIE","title":{"romaji":"Cowboy Bebop: Tengoku no Tobira"}}},
			{"relationType":"ADAPTATION","node":{"id":30173,"type":"MANGA","format":"MANGA","title":{"romaji":"Cowboy Bebop"}}}]}}}}`))
	})

	media, err := client.GetByID(context.Background(), "1", domain.MediaTypeAnime)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if media.Year != 1998 || len(media.Relations) != 2 {
		t.Fatalf("unexpected media %#v", media)
	}
	if media.Relations[1].Type != domain.MediaTypeManga || media.Relations[1].ID != "30173" || media.Relations[0].Format != "MOVIE" {
		t.Fatalf("unexpected relations %#v", media.Relations)
	}
}

func TestListAllIDsPages(t *testing.T) {
	client, recorder := newTestClient(t, func(w http.ResponseWriter, req graphqlRequest) {
		switch req.Variables["page"] {
		case float64(1):
			_, _ = w.Write([]byte(`{"data":{"Page":{"pageInfo":{"hasNextPage":true},"media":[{"id":1},{"id":5}]}}}`))
		default:
			_, _ = w.Write([]byte(`{"data":{"Page":{"pageInfo":{"hasNextPage":false},"media":[{"id":6}]}}}`))
		}
	})

	ids, err := client.ListAllIDs(context.Background(), domain.MediaTypeManga)
	if err != nil {
		t.Fatalf("ListAllIDs: %v", err)
	}
	if strings.Join(ids, ",") != "1,5,6" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if len(recorder.requests) != 2 {
		t.Fatalf("expected two page requests, got %d", len(recorder.requests))
	}
	if !strings.Contains(recorder.last().Query, "sort: ID") {
		t.Fatalf("ids must be requested in id order: %s", recorder.last().Query)
	}
}

func TestSeasonalUsesAliasedPages(t *testing.T) {
	client, recorder := newTestClient(t, func(w http.ResponseWriter, _ graphqlRequest) {
		_, _ = w.Write([]byte(`{"data":{
			"trending":{"media":[{"id":1,"title":{"romaji":"A"}}]},
			"season":{"media":[{"id":2,"title":{"romaji":"B"}},{"id":3,"title":{"romaji":"C"}}]},
			"nextSeason":{"media":[]},
			"popular":{"media":[{"id":4,"title":{"romaji":"D"}}]},
			"top":{"media":[{"id":5,"title":{"romaji":"E"}}]}}}`))
	})

	seasonal, err := client.Seasonal(context.Background(), domain.MediaTypeAnime, 5)
	if err != nil {
		t.Fatalf("Seasonal: %v", err)
	}
	if len(seasonal.Trending) != 1 || len(seasonal.Season) != 2 || len(seasonal.NextSeason) != 0 || len(seasonal.Popular) != 1 || len(seasonal.Top) != 1 {
		t.Fatalf("unexpected buckets %#v", seasonal)
	}
	req := recorder.last()
	if req.Variables["season"] != "FALL" || req.Variables["nextSeason"] != "WINTER" || req.Variables["nextYear"] != float64(2027) {
		t.Fatalf("unexpected season variables %#v", req.Variables)
	}
	if !strings.Contains(req.Query, "trending: Page") || !strings.Contains(req.Query, "$season:MediaSeason!") {
		t.Fatalf("unexpected query %s", req.Query)
	}
}

func TestSeasonFor(t *testing.T) {
	tests := []struct {
		month      time.Month
		wantSeason string
		wantYear   int
	}{
		{time.January, "WINTER", 2026},
		{time.March, "SPRING", 2026},
		{time.July, "SUMMER", 2026},
		{time.October, "FALL", 2026},
		{time.December, "WINTER", 2027},
	}
	for _, tc := range tests {
		season, year := seasonFor(time.Date(2026, tc.month, 10, 0, 0, 0, 0, time.UTC))
		if season != tc.wantSeason || year != tc.wantYear {
			t.Fatalf("%s: got %s %d, want %s %d", tc.month, season, year, tc.wantSeason, tc.wantYear)
		}
	}
	if season, year := followingSeason("FALL", 2026); season != "WINTER" || year != 2027 {
		t.Fatalf("unexpected following season %s %d", season, year)
	}
}
