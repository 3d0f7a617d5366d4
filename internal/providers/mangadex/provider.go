package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/providers/common"
)

const (
	defaultEndpoint  = "https://api.mangadex.org"
	defaultUserAgent = "animestream-catalog/1.0"
	defaultLanguage  = "en"
	searchLimit      = 20
	feedPageSize     = 500
	maxFeedPages     = 20
)

type Config struct {
	Endpoint  string
	UserAgent string
	// Language filters chapter translations.
	Language string
	Client   *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
	language  string
}

type localized map[string]string

type mangaItem struct {
	ID         string `json:"id"`
	Attributes struct {
		Title     localized   `json:"title"`
		AltTitles []localized `json:"altTitles"`
		Year      int         `json:"year"`
	} `json:"attributes"`
}

type searchResponse struct {
	Result string      `json:"result"`
	Data   []mangaItem `json:"data"`
}

type chapterItem struct {
	ID         string `json:"id"`
	Attributes struct {
		Chapter     string    `json:"chapter"`
		Title       string    `json:"title"`
		ExternalURL string    `json:"externalUrl"`
		Pages       int       `json:"pages"`
		UpdatedAt   time.Time `json:"updatedAt"`
	} `json:"attributes"`
}

type feedResponse struct {
	Data   []chapterItem `json:"data"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	Total  int           `json:"total"`
}

type atHomeResponse struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	language := strings.TrimSpace(cfg.Language)
	if language == "" {
		language = defaultLanguage
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		userAgent: userAgent,
		language:  language,
	}
}

func (p *Provider) Name() string {
	return "mangadex"
}

func (p *Provider) Search(ctx context.Context, query string) ([]domain.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.SearchHit{}, nil
	}
	params := url.Values{}
	params.Set("title", query)
	params.Set("limit", strconv.Itoa(searchLimit))
	params.Add("contentRating[]", "safe")
	params.Add("contentRating[]", "suggestive")

	var response searchResponse
	if err := p.getJSON(ctx, "/manga?"+params.Encode(), &response); err != nil {
		return nil, err
	}
	return toHits(response.Data), nil
}

// Chapters walks the translated feed in chapter order. Chapters hosted
// off-site carry no pages and are skipped.
func (p *Provider) Chapters(ctx context.Context, id string) ([]domain.Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("mangadex: empty manga id")
	}
	entries := make([]domain.Entry, 0, 64)
	for page := 0; page < maxFeedPages; page++ {
		params := url.Values{}
		params.Add("translatedLanguage[]", p.language)
		params.Set("order[chapter]", "asc")
		params.Set("limit", strconv.Itoa(feedPageSize))
		params.Set("offset", strconv.Itoa(page*feedPageSize))

		var response feedResponse
		if err := p.getJSON(ctx, "/manga/"+url.PathEscape(id)+"/feed?"+params.Encode(), &response); err != nil {
			return nil, err
		}
		entries = append(entries, toEntries(response.Data)...)
		if len(response.Data) == 0 || response.Offset+len(response.Data) >= response.Total {
			break
		}
	}
	return entries, nil
}

func (p *Provider) Pages(ctx context.Context, readID string) ([]domain.Page, error) {
	readID = strings.TrimSpace(readID)
	if readID == "" {
		return nil, fmt.Errorf("mangadex: empty chapter id")
	}
	var response atHomeResponse
	if err := p.getJSON(ctx, "/at-home/server/"+url.PathEscape(readID), &response); err != nil {
		return nil, err
	}
	return toPages(response), nil
}

func (p *Provider) getJSON(ctx context.Context, path string, target any) error {
	payload, err := common.Fetch(ctx, p.client, p.Name(), p.endpoint+path, p.userAgent, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("mangadex decode: %w", err)
	}
	return nil
}

func toHits(items []mangaItem) []domain.SearchHit {
	hits := make([]domain.SearchHit, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			continue
		}
		title := item.Attributes.Title.preferred()
		if title == "" {
			continue
		}
		hit := domain.SearchHit{
			ID:     item.ID,
			Title:  title,
			Romaji: item.Attributes.Title["ja-ro"],
			Native: item.Attributes.Title["ja"],
			Year:   item.Attributes.Year,
			Format: "MANGA",
		}
		seen := map[string]struct{}{strings.ToLower(title): {}}
		for _, alt := range item.Attributes.AltTitles {
			for _, lang := range alt.languages() {
				value := strings.TrimSpace(alt[lang])
				if value == "" {
					continue
				}
				key := strings.ToLower(value)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				hit.AltTitles = append(hit.AltTitles, value)
				switch {
				case lang == "ja-ro" && hit.Romaji == "":
					hit.Romaji = value
				case lang == "ja" && hit.Native == "":
					hit.Native = value
				}
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func toEntries(items []chapterItem) []domain.Entry {
	entries := make([]domain.Entry, 0, len(items))
	for _, item := range items {
		if item.ID == "" || (item.Attributes.ExternalURL != "" && item.Attributes.Pages == 0) {
			continue
		}
		entry := domain.Entry{
			ID:     item.ID,
			Number: common.ParseNumber(item.Attributes.Chapter),
			Title:  strings.TrimSpace(item.Attributes.Title),
		}
		if !item.Attributes.UpdatedAt.IsZero() {
			entry.Updated = item.Attributes.UpdatedAt.UnixMilli()
		}
		entries = append(entries, entry)
	}
	return entries
}

func toPages(response atHomeResponse) []domain.Page {
	base := strings.TrimRight(response.BaseURL, "/")
	pages := make([]domain.Page, 0, len(response.Chapter.Data))
	if base == "" || response.Chapter.Hash == "" {
		return pages
	}
	for i, file := range response.Chapter.Data {
		pages = append(pages, domain.Page{
			Index: i + 1,
			URL:   base + "/data/" + response.Chapter.Hash + "/" + file,
		})
	}
	return pages
}

// preferred picks English, then romanized Japanese, then the first language
// in sorted order.
func (l localized) preferred() string {
	for _, lang := range []string{"en", "ja-ro"} {
		if value := strings.TrimSpace(l[lang]); value != "" {
			return value
		}
	}
	for _, lang := range l.languages() {
		if value := strings.TrimSpace(l[lang]); value != "" {
			return value
		}
	}
	return ""
}

func (l localized) languages() []string {
	keys := make([]string, 0, len(l))
	for key := range l {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
