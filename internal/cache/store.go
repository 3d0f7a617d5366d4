package cache

import (
	"context"
	"sort"
	"strings"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/similarity"
)

// Store persists unified records and derivatives. Implementations make each
// per-key write atomic; the policy on top lives in Cache.
type Store interface {
	GetRecord(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error)
	// InsertRecord stores record only when no record with its id and type
	// exists. It reports whether the write happened.
	InsertRecord(ctx context.Context, record domain.UnifiedRecord) (bool, error)
	ReplaceRecord(ctx context.Context, record domain.UnifiedRecord) error
	FindRecords(ctx context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error)
	GetDerivative(ctx context.Context, key domain.DerivativeKey) (domain.CachedDerivative, bool, error)
	PutDerivative(ctx context.Context, derivative domain.CachedDerivative) error
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

type Stats struct {
	Backend     string         `json:"backend"`
	Records     map[string]int `json:"records"`
	Derivatives int            `json:"derivatives"`
}

const defaultFindLimit = 20

// scanLimit caps how many substring matches a backend hands back for ranking.
const scanLimit = 200

// searchText is the folded, newline-joined title set stored next to a record
// for substring lookups.
func searchText(record domain.UnifiedRecord) string {
	titles := record.Media.AllTitles()
	parts := make([]string, 0, len(titles))
	seen := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		value := similarity.Normalize(title)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		parts = append(parts, value)
	}
	return strings.Join(parts, "\n")
}

// matchRank is 0 for an exact title match, 1 for a substring match.
func matchRank(record domain.UnifiedRecord, query string) (int, bool) {
	if query == "" {
		return 0, false
	}
	matched := false
	for _, title := range strings.Split(searchText(record), "\n") {
		if title == query {
			return 0, true
		}
		if strings.Contains(title, query) {
			matched = true
		}
	}
	if matched {
		return 1, true
	}
	return 0, false
}

// rankRecords filters candidates by query, orders exact matches before
// substring matches (then by id) and truncates to limit.
func rankRecords(candidates []domain.UnifiedRecord, query string, limit int) []domain.UnifiedRecord {
	query = similarity.Normalize(query)
	if limit <= 0 {
		limit = defaultFindLimit
	}
	type ranked struct {
		rank   int
		record domain.UnifiedRecord
	}
	matches := make([]ranked, 0, len(candidates))
	for _, record := range candidates {
		if rank, ok := matchRank(record, query); ok {
			matches = append(matches, ranked{rank: rank, record: record})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		return matches[i].record.ID < matches[j].record.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]domain.UnifiedRecord, 0, len(matches))
	for _, match := range matches {
		out = append(out, match.record)
	}
	return out
}

func recordKey(mediaType domain.MediaType, id string) string {
	return string(mediaType) + ":" + id
}
