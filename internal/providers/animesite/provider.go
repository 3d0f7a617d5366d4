package animesite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/providers/common"
)

const (
	defaultEndpoint  = "https://aniwatch.to"
	defaultUserAgent = "animestream-catalog/1.0"
	htmlAccept       = "text/html,application/xhtml+xml"
)

type Config struct {
	// Endpoint accepts a comma separated mirror list tried in order.
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoints []string
	userAgent string
}

type episodeListResponse struct {
	Status bool   `json:"status"`
	HTML   string `json:"html"`
}

type sourcesResponse struct {
	Sources []struct {
		File    string `json:"file"`
		Type    string `json:"type"`
		Quality string `json:"quality"`
	} `json:"sources"`
	Tracks []struct {
		File  string `json:"file"`
		Label string `json:"label"`
		Kind  string `json:"kind"`
	} `json:"tracks"`
	Intro *domain.TimeRange `json:"intro"`
	Outro *domain.TimeRange `json:"outro"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoints: common.ParseEndpoints(cfg.Endpoint, defaultEndpoint),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return "animesite"
}

// Search scrapes the site's search result grid. Hit ids are the watch page
// paths, e.g. "/kaguya-sama-love-is-war-2141".
func (p *Provider) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.SearchHit{}, nil
	}
	payload, _, err := p.fetch(ctx, "/search?keyword="+url.QueryEscape(query), htmlAccept)
	if err != nil {
		return nil, err
	}
	return parseSearchHits(payload)
}

func (p *Provider) Episodes(ctx context.Context, id string) ([]domain.Entry, error) {
	siteID, err := siteIDFromPath(id)
	if err != nil {
		return nil, err
	}
	payload, _, err := p.fetch(ctx, "/ajax/episode/list/"+siteID, "application/json")
	if err != nil {
		return nil, err
	}
	var response episodeListResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("animesite decode: %w", err)
	}
	return parseEpisodes(response.HTML)
}

func (p *Provider) Sources(ctx context.Context, watchID string) (domain.SubbedSource, error) {
	watchID = strings.TrimSpace(watchID)
	if watchID == "" {
		return domain.SubbedSource{}, fmt.Errorf("animesite: empty episode id")
	}
	payload, base, err := p.fetch(ctx, "/ajax/episode/sources?id="+url.QueryEscape(watchID), "application/json")
	if err != nil {
		return domain.SubbedSource{}, err
	}
	var response sourcesResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		return domain.SubbedSource{}, fmt.Errorf("animesite decode: %w", err)
	}
	return toSubbedSource(response, base), nil
}

// fetch tries each mirror in order and returns the first successful body
// together with the mirror that served it.
func (p *Provider) fetch(ctx context.Context, path, accept string) ([]byte, string, error) {
	var lastErr error
	for _, endpoint := range p.endpoints {
		payload, err := common.Fetch(ctx, p.client, p.Name(), endpoint+path, p.userAgent, accept)
		if err == nil {
			return payload, endpoint, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func parseSearchHits(payload []byte) ([]domain.SearchHit, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("animesite parse: %w", err)
	}
	hits := make([]domain.SearchHit, 0, 20)
	seen := make(map[string]struct{})
	doc.Find("div.flw-item").Each(func(_ int, s *goquery.Selection) {
		link := s.Find(".film-name a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		path := normalizePath(href)
		if path == "" {
			return
		}
		if _, exists := seen[path]; exists {
			return
		}
		title := common.CleanHTMLText(link.AttrOr("title", link.Text()))
		if title == "" {
			return
		}
		seen[path] = struct{}{}
		hit := domain.SearchHit{ID: path, Title: title}
		if jname := common.CleanHTMLText(link.AttrOr("data-jname", "")); jname != "" && !strings.EqualFold(jname, title) {
			hit.Romaji = jname
			hit.AltTitles = []string{jname}
		}
		info := s.Find(".fd-infor .fdi-item")
		if info.Length() > 0 {
			hit.Format = strings.ToUpper(common.CleanHTMLText(info.First().Text()))
		}
		info.EachWithBreak(func(_ int, item *goquery.Selection) bool {
			hit.Year = common.ParseYear(item.Text())
			return hit.Year == 0
		})
		hits = append(hits, hit)
	})
	return hits, nil
}

func parseEpisodes(fragment string) ([]domain.Entry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return nil, fmt.Errorf("animesite parse: %w", err)
	}
	entries := make([]domain.Entry, 0, 24)
	doc.Find("a.ep-item").Each(func(_ int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("data-id", ""))
		if id == "" {
			return
		}
		number, err := strconv.ParseFloat(strings.TrimSpace(s.AttrOr("data-number", "")), 64)
		if err != nil {
			number = common.ParseNumber(s.Text())
		}
		entries = append(entries, domain.Entry{
			ID:     id,
			Number: number,
			Title:  common.CleanHTMLText(s.AttrOr("title", "")),
			URL:    normalizePath(s.AttrOr("href", "")),
		})
	})
	return entries, nil
}

func toSubbedSource(response sourcesResponse, base string) domain.SubbedSource {
	out := domain.SubbedSource{
		Sources: make([]domain.Source, 0, len(response.Sources)),
		Intro:   validRange(response.Intro),
		Outro:   validRange(response.Outro),
	}
	for _, source := range response.Sources {
		file := strings.TrimSpace(source.File)
		if file == "" {
			continue
		}
		quality := strings.TrimSpace(source.Quality)
		if quality == "" {
			quality = "auto"
		}
		out.Sources = append(out.Sources, domain.Source{
			URL:     file,
			Quality: quality,
			IsM3U8:  strings.EqualFold(source.Type, "hls") || strings.Contains(strings.ToLower(file), ".m3u8"),
		})
	}
	for _, track := range response.Tracks {
		if track.File == "" || !strings.EqualFold(track.Kind, "captions") {
			continue
		}
		out.Subtitles = append(out.Subtitles, domain.Subtitle{URL: track.File, Lang: track.Label})
	}
	if base != "" {
		out.Headers = map[string]string{"Referer": base + "/"}
	}
	return out
}

func validRange(r *domain.TimeRange) *domain.TimeRange {
	if r == nil || r.End <= r.Start {
		return nil
	}
	return r
}

// normalizePath strips scheme, host and query so hits from any mirror
// share one id.
func normalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	path := strings.TrimRight(parsed.Path, "/")
	if path == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// siteIDFromPath returns the trailing numeric id of a watch page slug.
func siteIDFromPath(id string) (string, error) {
	path := normalizePath(id)
	if path == "" {
		return "", fmt.Errorf("animesite: empty anime id")
	}
	slug := path[strings.LastIndex(path, "/")+1:]
	if dash := strings.LastIndex(slug, "-"); dash >= 0 {
		slug = slug[dash+1:]
	}
	if _, err := strconv.Atoi(slug); err != nil {
		return "", fmt.Errorf("animesite: no numeric id in %q", id)
	}
	return slug, nil
}
