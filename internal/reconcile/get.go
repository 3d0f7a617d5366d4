package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
)

const (
	defaultSeasonalAmount = 20
	resolveTimeout        = 2 * time.Minute
)

// Get returns the unified record for a canonical id, reconciling and
// persisting it on a cache miss. Concurrent calls for one id share a single
// reconciliation, which outlives any one caller's cancellation.
func (e *Engine) Get(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.UnifiedRecord{}, fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	if !mediaType.Valid() {
		return domain.UnifiedRecord{}, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidQuery, mediaType)
	}

	record, ok, err := e.cache.Record(ctx, id, mediaType)
	if err != nil {
		return domain.UnifiedRecord{}, err
	}
	if ok {
		return record, nil
	}

	result := e.inflight.DoChan(string(mediaType)+":"+id, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		return e.resolve(shared, id, mediaType)
	})
	select {
	case <-ctx.Done():
		return domain.UnifiedRecord{}, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return domain.UnifiedRecord{}, res.Err
		}
		return res.Val.(domain.UnifiedRecord), nil
	}
}

func (e *Engine) resolve(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, error) {
	ctx, span := e.tracer.Start(ctx, "reconcile.get", trace.WithAttributes(
		attribute.String("id", id),
		attribute.String("type", string(mediaType)),
	))
	defer span.End()

	media, err := e.fetch(ctx, id, mediaType)
	if err != nil {
		return domain.UnifiedRecord{}, err
	}
	record, err := e.ReconcileMedia(ctx, media)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("get", "error").Inc()
		return domain.UnifiedRecord{}, err
	}
	if _, err := e.Persist(ctx, record); err != nil {
		return domain.UnifiedRecord{}, err
	}
	metrics.ReconcileTotal.WithLabelValues("get", "ok").Inc()
	return record, nil
}

func (e *Engine) fetch(ctx context.Context, id string, mediaType domain.MediaType) (domain.CanonicalMedia, error) {
	media, err := e.catalog.GetByID(ctx, id, mediaType)
	if err != nil {
		return domain.CanonicalMedia{}, fmt.Errorf("%w: get %s: %w", domain.ErrCatalog, id, err)
	}
	if media.ID == "" {
		return domain.CanonicalMedia{}, fmt.Errorf("catalog: get %s: %w", id, domain.ErrNotFound)
	}
	if media.Type == "" {
		media.Type = mediaType
	}
	return media, nil
}

// ReconcileMedia builds the unified record for media fetched from the
// catalog. The media's title is searched through the uncached pipeline; when
// that search does not surface the id, the media is matched on its own.
func (e *Engine) ReconcileMedia(ctx context.Context, media domain.CanonicalMedia) (domain.UnifiedRecord, error) {
	if !media.Type.Valid() {
		media.Type = domain.MediaTypeAnime
	}
	if title := media.Title.Primary(); title != "" {
		records, err := e.reconcileQuery(ctx, title, media.Type)
		if err != nil {
			return domain.UnifiedRecord{}, err
		}
		for _, record := range records {
			if record.ID == media.ID {
				record.Media = media
				return record, nil
			}
		}
	}

	record := domain.NewRecord(media)
	record.Connectors = MergeConnectors(e.matchCandidate(ctx, media.Type, media), nil)
	records := []domain.UnifiedRecord{record}
	e.applyCrossRef(ctx, media.Type, records)
	return records[0], nil
}

// Refresh re-runs reconciliation for one id and replaces the stored record.
func (e *Engine) Refresh(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.UnifiedRecord{}, fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	if !mediaType.Valid() {
		return domain.UnifiedRecord{}, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidQuery, mediaType)
	}
	media, err := e.fetch(ctx, id, mediaType)
	if err != nil {
		return domain.UnifiedRecord{}, err
	}
	record, err := e.ReconcileMedia(ctx, media)
	if err != nil {
		return domain.UnifiedRecord{}, err
	}
	if err := e.cache.ReplaceRecord(ctx, record); err != nil {
		return domain.UnifiedRecord{}, err
	}
	e.logger.Info("record refreshed",
		slog.String("id", id),
		slog.String("type", string(mediaType)),
		slog.Int("connectors", len(record.Connectors)),
	)
	return record, nil
}

// Seasonal resolves each catalog bucket to cached records where present.
// Uncached media are returned with no connectors and are not reconciled.
func (e *Engine) Seasonal(ctx context.Context, mediaType domain.MediaType, amount int, omitTop, omitNextSeason bool) (domain.Seasonal, error) {
	if !mediaType.Valid() {
		return domain.Seasonal{}, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidQuery, mediaType)
	}
	if amount <= 0 {
		amount = defaultSeasonalAmount
	}
	buckets, err := e.catalog.Seasonal(ctx, mediaType, amount)
	if err != nil {
		return domain.Seasonal{}, fmt.Errorf("%w: seasonal: %w", domain.ErrCatalog, err)
	}

	resolved := make(map[string]domain.UnifiedRecord)
	resolve := func(media []domain.CanonicalMedia) ([]domain.UnifiedRecord, error) {
		out := make([]domain.UnifiedRecord, 0, len(media))
		for _, item := range media {
			if record, ok := resolved[item.ID]; ok {
				out = append(out, record)
				continue
			}
			record, ok, err := e.cache.Record(ctx, item.ID, mediaType)
			if err != nil {
				return nil, err
			}
			if !ok {
				if item.Type == "" {
					item.Type = mediaType
				}
				record = domain.NewRecord(item)
			}
			resolved[item.ID] = record
			out = append(out, record)
		}
		return out, nil
	}

	var seasonal domain.Seasonal
	if seasonal.Trending, err = resolve(buckets.Trending); err != nil {
		return domain.Seasonal{}, err
	}
	if seasonal.Season, err = resolve(buckets.Season); err != nil {
		return domain.Seasonal{}, err
	}
	if seasonal.Popular, err = resolve(buckets.Popular); err != nil {
		return domain.Seasonal{}, err
	}
	if !omitNextSeason {
		if seasonal.NextSeason, err = resolve(buckets.NextSeason); err != nil {
			return domain.Seasonal{}, err
		}
	}
	if !omitTop {
		if seasonal.Top, err = resolve(buckets.Top); err != nil {
			return domain.Seasonal{}, err
		}
	}
	return seasonal, nil
}

// Relations lists the relation edges of a media, each carrying the cached
// record of the related id when one exists.
func (e *Engine) Relations(ctx context.Context, id string, mediaType domain.MediaType) ([]domain.RelationResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	if !mediaType.Valid() {
		return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidQuery, mediaType)
	}

	var media domain.CanonicalMedia
	record, ok, err := e.cache.Record(ctx, id, mediaType)
	if err != nil {
		return nil, err
	}
	if ok {
		media = record.Media
	} else {
		if media, err = e.fetch(ctx, id, mediaType); err != nil {
			return nil, err
		}
	}

	results := make([]domain.RelationResult, 0, len(media.Relations))
	for _, relation := range media.Relations {
		relationType := relation.Type
		if !relationType.Valid() {
			relationType = mediaType
		}
		result := domain.RelationResult{
			ID:           relation.ID,
			RelationType: relation.RelationType,
			Type:         relationType,
			Format:       relation.Format,
			Title:        relation.Title,
		}
		related, ok, err := e.cache.Record(ctx, relation.ID, relationType)
		if err != nil {
			return nil, err
		}
		if ok {
			result.Record = &related
		}
		results = append(results, result)
	}
	return results, nil
}
