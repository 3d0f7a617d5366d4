package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
)

const (
	DefaultContentTTL = 12 * time.Hour
	DefaultSourceTTL  = time.Hour
)

type Options struct {
	ContentTTL time.Duration
	SourceTTL  time.Duration
	// Authoritative returns the provider whose source links never expire for
	// a media type, or "".
	Authoritative func(domain.MediaType) string
	Logger        *slog.Logger
	Now           func() time.Time
}

// Cache applies freshness and persistence rules over a Store.
type Cache struct {
	store         Store
	contentTTL    time.Duration
	sourceTTL     time.Duration
	authoritative func(domain.MediaType) string
	logger        *slog.Logger
	now           func() time.Time
}

func New(store Store, opts Options) *Cache {
	c := &Cache{
		store:         store,
		contentTTL:    opts.ContentTTL,
		sourceTTL:     opts.SourceTTL,
		authoritative: opts.Authoritative,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if c.contentTTL <= 0 {
		c.contentTTL = DefaultContentTTL
	}
	if c.sourceTTL <= 0 {
		c.sourceTTL = DefaultSourceTTL
	}
	if c.authoritative == nil {
		c.authoritative = func(domain.MediaType) string { return "" }
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Cache) Store() Store {
	return c.store
}

func (c *Cache) Record(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, bool, error) {
	record, ok, err := c.store.GetRecord(ctx, id, mediaType)
	if err != nil {
		return domain.UnifiedRecord{}, false, fmt.Errorf("cache: get record %s: %w", id, err)
	}
	observe("record", ok)
	return record, ok, nil
}

func (c *Cache) FindRecords(ctx context.Context, query string, mediaType domain.MediaType, limit int) ([]domain.UnifiedRecord, error) {
	records, err := c.store.FindRecords(ctx, query, mediaType, limit)
	if err != nil {
		return nil, fmt.Errorf("cache: find records: %w", err)
	}
	observe("search", len(records) > 0)
	return records, nil
}

// InsertRecords stores each record unless one with the same id exists and
// returns how many were written.
func (c *Cache) InsertRecords(ctx context.Context, records []domain.UnifiedRecord) (int, error) {
	inserted := 0
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		ok, err := c.store.InsertRecord(ctx, record)
		if err != nil {
			return inserted, fmt.Errorf("cache: insert record %s: %w", record.ID, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func (c *Cache) ReplaceRecord(ctx context.Context, record domain.UnifiedRecord) error {
	if err := c.store.ReplaceRecord(ctx, record); err != nil {
		return fmt.Errorf("cache: replace record %s: %w", record.ID, err)
	}
	return nil
}

func (c *Cache) ttl(kind domain.DerivativeKind) time.Duration {
	if kind.IsSource() {
		return c.sourceTTL
	}
	return c.contentTTL
}

func kindMediaType(kind domain.DerivativeKind) domain.MediaType {
	if kind == domain.KindPages || kind == domain.KindChapters {
		return domain.MediaTypeManga
	}
	return domain.MediaTypeAnime
}

// Fresh reports whether a cached derivative is still within its TTL. Source
// links from the authoritative provider never expire; the provider named in
// the key decides, the writer recorded on the entry is the fallback.
func (c *Cache) Fresh(derivative domain.CachedDerivative) bool {
	kind := derivative.Key.Kind
	providerID := derivative.Key.ProviderID
	if providerID == "" {
		providerID = derivative.ProviderID
	}
	if kind.IsSource() && providerID != "" {
		if authoritative := c.authoritative(kindMediaType(kind)); authoritative != "" && authoritative == providerID {
			return true
		}
	}
	return c.now().Sub(derivative.LastCachedAt) < c.ttl(kind)
}

// lookup decodes a fresh derivative into out. Stale, missing and empty
// entries are misses.
func (c *Cache) lookup(ctx context.Context, key domain.DerivativeKey, out any, empty func() bool) (bool, error) {
	derivative, ok, err := c.store.GetDerivative(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if !ok || len(derivative.Data) == 0 || !c.Fresh(derivative) {
		observe(string(key.Kind), false)
		return false, nil
	}
	if err := json.Unmarshal(derivative.Data, out); err != nil {
		c.logger.Warn("cache: discarding undecodable entry",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
		observe(string(key.Kind), false)
		return false, nil
	}
	if empty() {
		observe(string(key.Kind), false)
		return false, nil
	}
	observe(string(key.Kind), true)
	return true, nil
}

func (c *Cache) put(ctx context.Context, key domain.DerivativeKey, providerID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	derivative := domain.CachedDerivative{
		Key:          key,
		ProviderID:   providerID,
		Data:         data,
		LastCachedAt: c.now().UTC(),
	}
	if err := c.store.PutDerivative(ctx, derivative); err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Content(ctx context.Context, key domain.DerivativeKey) ([]domain.Content, bool, error) {
	var contents []domain.Content
	ok, err := c.lookup(ctx, key, &contents, func() bool { return !hasEntries(contents) })
	if err != nil || !ok {
		return nil, ok, err
	}
	return contents, true, nil
}

// PutContent is a no-op for lists without entries.
func (c *Cache) PutContent(ctx context.Context, key domain.DerivativeKey, contents []domain.Content) error {
	if !hasEntries(contents) {
		return nil
	}
	return c.put(ctx, key, "", contents)
}

func (c *Cache) Sources(ctx context.Context, key domain.DerivativeKey) (domain.SubbedSource, bool, error) {
	var sources domain.SubbedSource
	ok, err := c.lookup(ctx, key, &sources, func() bool { return len(sources.Sources) == 0 })
	if err != nil || !ok {
		return domain.SubbedSource{}, ok, err
	}
	return sources, true, nil
}

func (c *Cache) PutSources(ctx context.Context, key domain.DerivativeKey, providerID string, sources domain.SubbedSource) error {
	if len(sources.Sources) == 0 {
		return nil
	}
	return c.put(ctx, key, providerID, sources)
}

func (c *Cache) Pages(ctx context.Context, key domain.DerivativeKey) ([]domain.Page, bool, error) {
	var pages []domain.Page
	ok, err := c.lookup(ctx, key, &pages, func() bool { return len(pages) == 0 })
	if err != nil || !ok {
		return nil, ok, err
	}
	return pages, true, nil
}

func (c *Cache) PutPages(ctx context.Context, key domain.DerivativeKey, providerID string, pages []domain.Page) error {
	if len(pages) == 0 {
		return nil
	}
	return c.put(ctx, key, providerID, pages)
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return stats, nil
}

func (c *Cache) Close() error {
	return c.store.Close()
}

func hasEntries(contents []domain.Content) bool {
	for _, content := range contents {
		if len(content.Entries) > 0 {
			return true
		}
	}
	return false
}

func observe(kind string, hit bool) {
	if hit {
		metrics.CacheHitsTotal.WithLabelValues(kind).Inc()
		return
	}
	metrics.CacheMissesTotal.WithLabelValues(kind).Inc()
}
