package malsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"animestream/catalogservice/internal/domain"
)

const (
	defaultBaseURL = "https://api.malsync.moe"
	redisCacheKey  = "catalog:malsync:"
)

type Client struct {
	baseURL  string
	http     *http.Client
	redis    *redis.Client
	cacheTTL time.Duration
	aliases  map[string]string
}

type Config struct {
	BaseURL string
	Client  *http.Client
	// Redis caches link lists when set.
	Redis    *redis.Client
	CacheTTL time.Duration
	// SiteAliases maps MALSync site names to registered provider names.
	// Unmapped sites use their lowercased name.
	SiteAliases map[string]string
}

type siteEntry struct {
	Identifier json.RawMessage `json:"identifier"`
	Title      string          `json:"title"`
	URL        string          `json:"url"`
	Page       string          `json:"page"`
}

type malResponse struct {
	ID    int                             `json:"id"`
	Title string                          `json:"title"`
	Sites map[string]map[string]siteEntry `json:"Sites"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	aliases := make(map[string]string, len(cfg.SiteAliases))
	for site, name := range cfg.SiteAliases {
		aliases[strings.ToLower(strings.TrimSpace(site))] = strings.ToLower(strings.TrimSpace(name))
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		redis:    cfg.Redis,
		cacheTTL: cacheTTL,
		aliases:  aliases,
	}
}

// Links returns the provider links MALSync curates for a MyAnimeList id.
// Unknown ids yield no links.
func (c *Client) Links(ctx context.Context, mediaType domain.MediaType, malID string) ([]domain.CrossRefLink, error) {
	malID = strings.TrimSpace(malID)
	if malID == "" {
		return nil, nil
	}
	kind := "anime"
	if mediaType == domain.MediaTypeManga {
		kind = "manga"
	}
	cacheKey := kind + ":" + malID

	if c.redis != nil {
		data, err := c.redis.Get(ctx, redisCacheKey+cacheKey).Bytes()
		if err == nil {
			var links []domain.CrossRefLink
			if json.Unmarshal(data, &links) == nil {
				return links, nil
			}
		}
	}

	reqURL := c.baseURL + "/mal/" + kind + "/" + url.PathEscape(malID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return []domain.CrossRefLink{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("malsync HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, err
	}
	var response malResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("malsync decode: %w", err)
	}
	links := c.toLinks(response)

	if c.redis != nil {
		if data, err := json.Marshal(links); err == nil {
			_ = c.redis.Set(ctx, redisCacheKey+cacheKey, data, c.cacheTTL).Err()
		}
	}
	return links, nil
}

// toLinks flattens the Sites map in a stable order: site name, then the
// site's own key.
func (c *Client) toLinks(response malResponse) []domain.CrossRefLink {
	sites := make([]string, 0, len(response.Sites))
	for site := range response.Sites {
		sites = append(sites, site)
	}
	sort.Strings(sites)

	links := make([]domain.CrossRefLink, 0, len(sites))
	for _, site := range sites {
		providerID := strings.ToLower(site)
		if alias, ok := c.aliases[providerID]; ok {
			providerID = alias
		}
		entries := response.Sites[site]
		keys := make([]string, 0, len(entries))
		for key := range entries {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			entry := entries[key]
			id := identifier(entry.Identifier)
			if id == "" {
				id = key
			}
			links = append(links, domain.CrossRefLink{ProviderID: providerID, ID: id, Title: entry.Title})
		}
	}
	return links
}

// identifier accepts both string and numeric site identifiers.
func identifier(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}
