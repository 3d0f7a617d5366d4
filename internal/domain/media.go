package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrAmbiguousID           = errors.New("no connector for requested provider")
	ErrInvalidQuery          = errors.New("query is required")
	ErrUnknownProvider       = errors.New("unknown provider")
	ErrUnsupportedCapability = errors.New("provider does not support this operation")
	ErrProviderUnavailable   = errors.New("provider unavailable")

	// ErrCatalog wraps failures of the canonical catalog.
	ErrCatalog = errors.New("catalog")
)

type MediaType string

const (
	MediaTypeAnime MediaType = "ANIME"
	MediaTypeManga MediaType = "MANGA"
	// MediaTypeMeta is only a provider capability; it answers for both media types.
	MediaTypeMeta MediaType = "META"
)

// ParseMediaType accepts any casing and defaults to ANIME.
func ParseMediaType(raw string) MediaType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(MediaTypeManga), "NOVEL":
		return MediaTypeManga
	case string(MediaTypeMeta):
		return MediaTypeMeta
	default:
		return MediaTypeAnime
	}
}

func (t MediaType) Valid() bool {
	return t == MediaTypeAnime || t == MediaTypeManga
}

type Title struct {
	Romaji        string `json:"romaji,omitempty" bson:"romaji,omitempty"`
	English       string `json:"english,omitempty" bson:"english,omitempty"`
	Native        string `json:"native,omitempty" bson:"native,omitempty"`
	UserPreferred string `json:"userPreferred,omitempty" bson:"userPreferred,omitempty"`
}

// Primary returns the first non-empty title, preferring romaji.
func (t Title) Primary() string {
	for _, value := range []string{t.Romaji, t.English, t.UserPreferred, t.Native} {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Variants lists every non-empty title without duplicates.
func (t Title) Variants() []string {
	out := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, value := range []string{t.Romaji, t.English, t.UserPreferred, t.Native} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, value)
	}
	return out
}

type Relation struct {
	ID           string    `json:"id" bson:"id"`
	Type         MediaType `json:"type" bson:"type"`
	RelationType string    `json:"relationType" bson:"relationType"`
	Format       string    `json:"format,omitempty" bson:"format,omitempty"`
	Title        Title     `json:"title" bson:"title"`
}

// CanonicalMedia is owned by the catalog; the service never mutates it.
type CanonicalMedia struct {
	ID        string     `json:"id" bson:"id"`
	IDMal     string     `json:"idMal,omitempty" bson:"idMal,omitempty"`
	Type      MediaType  `json:"type" bson:"type"`
	Title     Title      `json:"title" bson:"title"`
	Synonyms  []string   `json:"synonyms,omitempty" bson:"synonyms,omitempty"`
	Format    string     `json:"format,omitempty" bson:"format,omitempty"`
	Season    string     `json:"season,omitempty" bson:"season,omitempty"`
	Year      int        `json:"year,omitempty" bson:"year,omitempty"`
	CoverURL  string     `json:"coverImage,omitempty" bson:"coverImage,omitempty"`
	Relations []Relation `json:"relations,omitempty" bson:"relations,omitempty"`
}

// AllTitles returns the title variants followed by synonyms.
func (m CanonicalMedia) AllTitles() []string {
	titles := m.Title.Variants()
	seen := make(map[string]struct{}, len(titles)+len(m.Synonyms))
	for _, title := range titles {
		seen[strings.ToLower(title)] = struct{}{}
	}
	for _, synonym := range m.Synonyms {
		synonym = strings.TrimSpace(synonym)
		if synonym == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(synonym)]; ok {
			continue
		}
		seen[strings.ToLower(synonym)] = struct{}{}
		titles = append(titles, synonym)
	}
	return titles
}

// SearchHit is one search result from a provider adapter. ID is opaque to
// the service (usually a URL path fragment).
type SearchHit struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	AltTitles []string `json:"altTitles,omitempty"`
	Romaji    string   `json:"romaji,omitempty"`
	Native    string   `json:"native,omitempty"`
	Year      int      `json:"year,omitempty"`
	Format    string   `json:"format,omitempty"`
}

type Similarity struct {
	Score    float64 `json:"score" bson:"score"`
	Accepted bool    `json:"accepted" bson:"accepted"`
}

type Connector struct {
	ProviderID string     `json:"providerId" bson:"providerId"`
	ID         string     `json:"id" bson:"id"`
	Similarity Similarity `json:"similarity" bson:"similarity"`
}

type UnifiedRecord struct {
	ID         string         `json:"id" bson:"id"`
	Type       MediaType      `json:"type" bson:"type"`
	Media      CanonicalMedia `json:"media" bson:"media"`
	Connectors []Connector    `json:"connectors" bson:"connectors"`
}

// NewRecord builds a record without connectors.
func NewRecord(media CanonicalMedia) UnifiedRecord {
	return UnifiedRecord{
		ID:         media.ID,
		Type:       media.Type,
		Media:      media,
		Connectors: []Connector{},
	}
}

// Connector returns the connector for providerID, case-insensitively.
func (r UnifiedRecord) Connector(providerID string) (Connector, bool) {
	for _, connector := range r.Connectors {
		if strings.EqualFold(connector.ProviderID, providerID) {
			return connector, true
		}
	}
	return Connector{}, false
}

type DerivativeKind string

const (
	KindEpisodes DerivativeKind = "episodes"
	KindChapters DerivativeKind = "chapters"
	KindSources  DerivativeKind = "sources"
	KindPages    DerivativeKind = "pages"
)

// IsSource reports whether the kind holds stream/page links rather than lists.
func (k DerivativeKind) IsSource() bool {
	return k == KindSources || k == KindPages
}

// DerivativeKey addresses one cached derivative. Source and page entries
// are per provider; episode and chapter lists aggregate every provider and
// leave ProviderID empty.
type DerivativeKey struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"providerId,omitempty"`
	SubKey     string         `json:"subKey,omitempty"`
	Kind       DerivativeKind `json:"kind"`
}

func (k DerivativeKey) String() string {
	key := string(k.Kind) + ":" + k.ID
	if k.ProviderID != "" {
		key += "@" + k.ProviderID
	}
	if k.SubKey != "" {
		key += ":" + k.SubKey
	}
	return key
}

type CachedDerivative struct {
	Key          DerivativeKey   `json:"key"`
	ProviderID   string          `json:"providerId,omitempty"`
	Data         json.RawMessage `json:"data"`
	LastCachedAt time.Time       `json:"lastCachedAt"`
}

type Entry struct {
	ID      string  `json:"id"`
	Number  float64 `json:"number"`
	Title   string  `json:"title,omitempty"`
	URL     string  `json:"url,omitempty"`
	Updated int64   `json:"updatedAt,omitempty"`
}

// Content groups the episode or chapter list one provider returned.
type Content struct {
	ProviderID string  `json:"providerId"`
	Entries    []Entry `json:"entries"`
}

type Source struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	IsM3U8  bool   `json:"isM3U8"`
}

type Subtitle struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

type TimeRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type SubbedSource struct {
	Sources   []Source          `json:"sources"`
	Subtitles []Subtitle        `json:"subtitles,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Intro     *TimeRange        `json:"intro,omitempty"`
	Outro     *TimeRange        `json:"outro,omitempty"`
}

type Page struct {
	Index   int               `json:"index"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type SeasonalMedia struct {
	Trending   []CanonicalMedia
	Season     []CanonicalMedia
	NextSeason []CanonicalMedia
	Popular    []CanonicalMedia
	Top        []CanonicalMedia
}

type Seasonal struct {
	Trending   []UnifiedRecord `json:"trending"`
	Season     []UnifiedRecord `json:"seasonal"`
	NextSeason []UnifiedRecord `json:"nextSeason,omitempty"`
	Popular    []UnifiedRecord `json:"popular"`
	Top        []UnifiedRecord `json:"top,omitempty"`
}

type RelationResult struct {
	ID           string         `json:"id"`
	RelationType string         `json:"relationType"`
	Type         MediaType      `json:"type"`
	Format       string         `json:"format,omitempty"`
	Title        Title          `json:"title"`
	Record       *UnifiedRecord `json:"data,omitempty"`
}

// CrossRefLink is a curated provider link from the cross-reference source.
type CrossRefLink struct {
	ProviderID string `json:"providerId"`
	ID         string `json:"id"`
	Title      string `json:"title,omitempty"`
}
