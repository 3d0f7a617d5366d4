package anilist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shurcooL/graphql"
	"golang.org/x/time/rate"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
)

const (
	DefaultEndpoint          = "https://graphql.anilist.co"
	DefaultRequestsPerMinute = 90
	defaultPerPage           = 20
	idPageSize               = 50
)

// MediaType, MediaSeason and the other named types give query variables
// the GraphQL type names AniList expects.
type (
	MediaType   string
	MediaSeason string
)

type Config struct {
	Endpoint          string
	Client            *http.Client
	RequestsPerMinute int
	Burst             int
	PerPage           int
	// MaxIDPages bounds ListAllIDs. Zero walks every page.
	MaxIDPages int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client implements the canonical catalog over the AniList GraphQL API.
type Client struct {
	gql        *graphql.Client
	limiter    *rate.Limiter
	perPage    int
	maxIDPages int
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config) *Client {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		gql:        graphql.NewClient(endpoint, httpClient),
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60), burst),
		perPage:    perPage,
		maxIDPages: cfg.MaxIDPages,
		logger:     logger,
		now:        now,
	}
}

type title struct {
	Romaji        *string `graphql:"romaji"`
	English       *string `graphql:"english"`
	Native        *string `graphql:"native"`
	UserPreferred *string `graphql:"userPreferred"`
}

type media struct {
	ID         int       `graphql:"id"`
	IDMal      *int      `graphql:"idMal"`
	Type       string    `graphql:"type"`
	Title      title     `graphql:"title"`
	Synonyms   []string  `graphql:"synonyms"`
	Format     *string   `graphql:"format"`
	Season     *string   `graphql:"season"`
	SeasonYear *int      `graphql:"seasonYear"`
	StartDate  struct {
		Year *int `graphql:"year"`
	} `graphql:"startDate"`
	CoverImage struct {
		Large *string `graphql:"large"`
	} `graphql:"coverImage"`
}

type relationEdge struct {
	RelationType string `graphql:"relationType"`
	Node         struct {
		ID     int     `graphql:"id"`
		Type   string  `graphql:"type"`
		Format *string `graphql:"format"`
		Title  title   `graphql:"title"`
	} `graphql:"node"`
}

type detailedMedia struct {
	media
	Relations struct {
		Edges []relationEdge `graphql:"edges"`
	} `graphql:"relations"`
}

type searchQuery struct {
	Page struct {
		Media []media `graphql:"media(search: $search, type: $type, sort: SEARCH_MATCH)"`
	} `graphql:"Page(page: 1, perPage: $perPage)"`
}

type mediaQuery struct {
	Media detailedMedia `graphql:"Media(id: $id, type: $type)"`
}

type idsQuery struct {
	Page struct {
		PageInfo struct {
			HasNextPage bool `graphql:"hasNextPage"`
		} `graphql:"pageInfo"`
		Media []struct {
			ID int `graphql:"id"`
		} `graphql:"media(type: $type, sort: ID)"`
	} `graphql:"Page(page: $page, perPage: $perPage)"`
}

type seasonalQuery struct {
	Trending struct {
		Media []media `graphql:"media(sort: TRENDING_DESC, type: $type, isAdult: false)"`
	} `graphql:"trending: Page(page: 1, perPage: $perPage)"`
	Season struct {
		Media []media `graphql:"media(season: $season, seasonYear: $seasonYear, sort: POPULARITY_DESC, type: $type, isAdult: false)"`
	} `graphql:"season: Page(page: 1, perPage: $perPage)"`
	NextSeason struct {
		Media []media `graphql:"media(season: $nextSeason, seasonYear: $nextYear, sort: POPULARITY_DESC, type: $type, isAdult: false)"`
	} `graphql:"nextSeason: Page(page: 1, perPage: $perPage)"`
	Popular struct {
		Media []media `graphql:"media(sort: POPULARITY_DESC, type: $type, isAdult: false)"`
	} `graphql:"popular: Page(page: 1, perPage: $perPage)"`
	Top struct {
		Media []media `graphql:"media(sort: SCORE_DESC, type: $type, isAdult: false)"`
	} `graphql:"top: Page(page: 1, perPage: $perPage)"`
}

func (c *Client) query(ctx context.Context, operation string, q any, variables map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	startedAt := time.Now()
	err := c.gql.Query(ctx, q, variables)
	status := "ok"
	if err != nil {
		status = "error"
		if isNotFound(err) {
			status = "not_found"
		}
	}
	metrics.CatalogRequestsTotal.WithLabelValues(operation, status).Inc()
	c.logger.Debug("anilist query",
		slog.String("operation", operation),
		slog.String("status", status),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	return err
}

// AniList answers unknown ids with HTTP 404 and a "Not Found." error.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "404") || strings.Contains(message, "Not Found")
}

func (c *Client) Search(ctx context.Context, query string, mediaType domain.MediaType) ([]domain.CanonicalMedia, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrInvalidQuery
	}
	var q searchQuery
	err := c.query(ctx, "search", &q, map[string]any{
		"search":  graphql.String(query),
		"type":    MediaType(mediaType),
		"perPage": graphql.Int(c.perPage),
	})
	if err != nil {
		if isNotFound(err) {
			return []domain.CanonicalMedia{}, nil
		}
		return nil, fmt.Errorf("anilist search: %w", err)
	}
	return toDomainList(q.Page.Media, mediaType), nil
}

func (c *Client) GetByID(ctx context.Context, id string, mediaType domain.MediaType) (domain.CanonicalMedia, error) {
	numeric, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || numeric <= 0 {
		return domain.CanonicalMedia{}, fmt.Errorf("anilist id %q: %w", id, domain.ErrNotFound)
	}
	var q mediaQuery
	err = c.query(ctx, "get", &q, map[string]any{
		"id":   graphql.Int(numeric),
		"type": MediaType(mediaType),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.CanonicalMedia{}, fmt.Errorf("anilist id %d: %w", numeric, domain.ErrNotFound)
		}
		return domain.CanonicalMedia{}, fmt.Errorf("anilist get %d: %w", numeric, err)
	}
	if q.Media.ID == 0 {
		return domain.CanonicalMedia{}, fmt.Errorf("anilist id %d: %w", numeric, domain.ErrNotFound)
	}

	out := toDomain(q.Media.media, mediaType)
	out.Relations = make([]domain.Relation, 0, len(q.Media.Relations.Edges))
	for _, edge := range q.Media.Relations.Edges {
		out.Relations = append(out.Relations, domain.Relation{
			ID:           strconv.Itoa(edge.Node.ID),
			Type:         domain.ParseMediaType(edge.Node.Type),
			RelationType: edge.RelationType,
			Format:       deref(edge.Node.Format),
			Title:        toTitle(edge.Node.Title),
		})
	}
	return out, nil
}

func (c *Client) Seasonal(ctx context.Context, mediaType domain.MediaType, amount int) (domain.SeasonalMedia, error) {
	if amount <= 0 {
		amount = c.perPage
	}
	season, year := seasonFor(c.now())
	nextSeason, nextYear := followingSeason(season, year)

	var q seasonalQuery
	err := c.query(ctx, "seasonal", &q, map[string]any{
		"type":       MediaType(mediaType),
		"perPage":    graphql.Int(amount),
		"season":     MediaSeason(season),
		"seasonYear": graphql.Int(year),
		"nextSeason": MediaSeason(nextSeason),
		"nextYear":   graphql.Int(nextYear),
	})
	if err != nil {
		return domain.SeasonalMedia{}, fmt.Errorf("anilist seasonal: %w", err)
	}
	return domain.SeasonalMedia{
		Trending:   toDomainList(q.Trending.Media, mediaType),
		Season:     toDomainList(q.Season.Media, mediaType),
		NextSeason: toDomainList(q.NextSeason.Media, mediaType),
		Popular:    toDomainList(q.Popular.Media, mediaType),
		Top:        toDomainList(q.Top.Media, mediaType),
	}, nil
}

// ListAllIDs pages through every media id of a type in ascending order.
func (c *Client) ListAllIDs(ctx context.Context, mediaType domain.MediaType) ([]string, error) {
	ids := make([]string, 0, idPageSize)
	for page := 1; ; page++ {
		if c.maxIDPages > 0 && page > c.maxIDPages {
			break
		}
		var q idsQuery
		err := c.query(ctx, "ids", &q, map[string]any{
			"type":    MediaType(mediaType),
			"page":    graphql.Int(page),
			"perPage": graphql.Int(idPageSize),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("anilist ids page %d: %w", page, err)
		}
		for _, item := range q.Page.Media {
			ids = append(ids, strconv.Itoa(item.ID))
		}
		if !q.Page.PageInfo.HasNextPage || len(q.Page.Media) == 0 {
			break
		}
	}
	c.logger.Info("anilist ids listed",
		slog.String("type", string(mediaType)),
		slog.Int("ids", len(ids)),
	)
	return ids, nil
}

func toDomainList(items []media, mediaType domain.MediaType) []domain.CanonicalMedia {
	out := make([]domain.CanonicalMedia, 0, len(items))
	for _, item := range items {
		if item.ID == 0 {
			continue
		}
		out = append(out, toDomain(item, mediaType))
	}
	return out
}

func toDomain(item media, mediaType domain.MediaType) domain.CanonicalMedia {
	out := domain.CanonicalMedia{
		ID:       strconv.Itoa(item.ID),
		Type:     mediaType,
		Title:    toTitle(item.Title),
		Synonyms: item.Synonyms,
		Format:   deref(item.Format),
		Season:   deref(item.Season),
		CoverURL: deref(item.CoverImage.Large),
	}
	if item.Type != "" {
		out.Type = domain.ParseMediaType(item.Type)
	}
	if item.IDMal != nil && *item.IDMal > 0 {
		out.IDMal = strconv.Itoa(*item.IDMal)
	}
	switch {
	case item.SeasonYear != nil && *item.SeasonYear > 0:
		out.Year = *item.SeasonYear
	case item.StartDate.Year != nil:
		out.Year = *item.StartDate.Year
	}
	return out
}

func toTitle(t title) domain.Title {
	return domain.Title{
		Romaji:        deref(t.Romaji),
		English:       deref(t.English),
		Native:        deref(t.Native),
		UserPreferred: deref(t.UserPreferred),
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// seasonFor maps a date to the AniList season. December belongs to the
// next year's winter.
func seasonFor(now time.Time) (string, int) {
	year := now.Year()
	switch now.Month() {
	case time.December:
		return "WINTER", year + 1
	case time.January, time.February:
		return "WINTER", year
	case time.March, time.April, time.May:
		return "SPRING", year
	case time.June, time.July, time.August:
		return "SUMMER", year
	default:
		return "FALL", year
	}
}

func followingSeason(season string, year int) (string, int) {
	switch season {
	case "WINTER":
		return "SPRING", year
	case "SPRING":
		return "SUMMER", year
	case "SUMMER":
		return "FALL", year
	default:
		return "WINTER", year + 1
	}
}
