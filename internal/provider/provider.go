package provider

import (
	"context"
	"math"
	"strings"
	"time"

	"animestream/catalogservice/internal/domain"
)

// Provider is the capability every metadata source implements.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]domain.SearchHit, error)
}

type AnimeProvider interface {
	Provider
	Episodes(ctx context.Context, id string) ([]domain.Entry, error)
	Sources(ctx context.Context, watchID string) (domain.SubbedSource, error)
}

type MangaProvider interface {
	Provider
	Chapters(ctx context.Context, id string) ([]domain.Entry, error)
	Pages(ctx context.Context, readID string) ([]domain.Page, error)
}

// Config tunes how a single provider is queried and matched.
type Config struct {
	Enabled           bool          `json:"enabled"`
	MatchThreshold    float64       `json:"matchThreshold"`
	AcceptThreshold   float64       `json:"acceptThreshold"`
	RateLimitWait     time.Duration `json:"rateLimitWait"`
	UsePartialQuery   bool          `json:"usePartialQuery"`
	PartialQueryRatio float64       `json:"partialQueryRatio"`
	Timeout           time.Duration `json:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		MatchThreshold:    0.5,
		AcceptThreshold:   0.6,
		PartialQueryRatio: 0.5,
		Timeout:           10 * time.Second,
	}
}

// partialQuery keeps the leading ceil(words*ratio) words, at least one.
func partialQuery(query string, ratio float64) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return strings.TrimSpace(query)
	}
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	keep := int(math.Ceil(float64(len(words)) * ratio))
	if keep < 1 {
		keep = 1
	}
	if keep > len(words) {
		keep = len(words)
	}
	return strings.Join(words[:keep], " ")
}
