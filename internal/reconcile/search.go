package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
	"animestream/catalogservice/internal/provider"
	"animestream/catalogservice/internal/similarity"
)

// Search answers a free-text query with unified records. Cached records that
// match the query are returned without contacting the catalog or any
// provider. New records are persisted insert-if-absent.
func (e *Engine) Search(ctx context.Context, query string, mediaType domain.MediaType) ([]domain.UnifiedRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.ErrInvalidQuery
	}
	if !mediaType.Valid() {
		return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidQuery, mediaType)
	}

	ctx, span := e.tracer.Start(ctx, "reconcile.search", trace.WithAttributes(
		attribute.String("query", query),
		attribute.String("type", string(mediaType)),
		attribute.String("mode", string(e.mode)),
	))
	defer span.End()

	cached, err := e.cache.FindRecords(ctx, query, mediaType, 0)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		span.SetAttributes(attribute.Bool("cached", true))
		return cached, nil
	}

	startedAt := time.Now()
	records, err := e.reconcileQuery(ctx, query, mediaType)
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("search", "error").Inc()
		return nil, err
	}
	if _, err := e.cache.InsertRecords(ctx, records); err != nil {
		return nil, err
	}
	metrics.ReconcileTotal.WithLabelValues("search", "ok").Inc()

	e.logger.Info("search reconciled",
		slog.String("query", query),
		slog.String("type", string(mediaType)),
		slog.String("mode", string(e.mode)),
		slog.Int("records", len(records)),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	return records, nil
}

// reconcileQuery runs the uncached pipeline: catalog search, provider
// matching in the configured mode, then the cross-reference fallback.
func (e *Engine) reconcileQuery(ctx context.Context, query string, mediaType domain.MediaType) ([]domain.UnifiedRecord, error) {
	media, err := e.catalog.Search(ctx, query, mediaType)
	if err != nil {
		return nil, fmt.Errorf("%w: search %q: %w", domain.ErrCatalog, query, err)
	}
	if len(media) > e.candidates {
		media = media[:e.candidates]
	}
	records := make([]domain.UnifiedRecord, 0, len(media))
	if len(media) == 0 {
		return records, nil
	}

	var connectors [][]domain.Connector
	if e.mode == ModeFast {
		connectors = e.matchFast(ctx, query, mediaType, media)
	} else {
		connectors = e.matchCandidates(ctx, mediaType, media)
	}
	for i, item := range media {
		record := domain.NewRecord(item)
		record.Type = mediaType
		record.Connectors = MergeConnectors(connectors[i], nil)
		records = append(records, record)
	}

	if e.mode == ModeThorough {
		records = MergeRecords(records, e.pageSearch(ctx, query, mediaType, records))
	}

	e.applyCrossRef(ctx, mediaType, records)
	return records, nil
}

func hitAlts(hit domain.SearchHit) []string {
	alts := make([]string, 0, len(hit.AltTitles)+2)
	alts = append(alts, hit.AltTitles...)
	if hit.Romaji != "" {
		alts = append(alts, hit.Romaji)
	}
	if hit.Native != "" {
		alts = append(alts, hit.Native)
	}
	return alts
}

// matchFast dispatches the raw query once and assigns every hit to the
// candidate it scores best against. Per candidate and provider the best
// accepted hit is kept.
func (e *Engine) matchFast(ctx context.Context, query string, mediaType domain.MediaType, media []domain.CanonicalMedia) [][]domain.Connector {
	out := make([][]domain.Connector, len(media))
	titles := make([][]string, len(media))
	for i, item := range media {
		titles[i] = item.AllTitles()
	}

	for _, result := range e.dispatcher.Dispatch(ctx, query, mediaType) {
		best := make(map[int]domain.Connector)
		for _, hit := range result.Hits {
			candidate := -1
			var score similarity.Result
			for i := range media {
				if scored := similarity.BestOf(result.Config.AcceptThreshold, titles[i], hit.Title, hitAlts(hit)...); scored.Score > score.Score {
					candidate, score = i, scored
				}
			}
			if candidate < 0 || !score.Accepted {
				continue
			}
			if existing, ok := best[candidate]; ok && existing.Similarity.Score >= score.Score {
				continue
			}
			best[candidate] = domain.Connector{
				ProviderID: result.Provider,
				ID:         hit.ID,
				Similarity: domain.Similarity{Score: score.Score, Accepted: true},
			}
		}
		for i := range media {
			if connector, ok := best[i]; ok {
				out[i] = append(out[i], connector)
			}
		}
	}
	return out
}

// matchCandidates runs one dispatch round per candidate with the candidate's
// own title. Rounds run with bounded concurrency.
func (e *Engine) matchCandidates(ctx context.Context, mediaType domain.MediaType, media []domain.CanonicalMedia) [][]domain.Connector {
	out := make([][]domain.Connector, len(media))
	var group errgroup.Group
	group.SetLimit(e.concurrency)
	for i, item := range media {
		group.Go(func() error {
			out[i] = e.matchCandidate(ctx, mediaType, item)
			return nil
		})
	}
	_ = group.Wait()
	return out
}

// matchCandidate keeps, per provider, the best hit whose score clears the
// provider's accept threshold.
func (e *Engine) matchCandidate(ctx context.Context, mediaType domain.MediaType, media domain.CanonicalMedia) []domain.Connector {
	title := media.Title.Primary()
	if title == "" {
		return nil
	}
	titles := media.AllTitles()
	connectors := make([]domain.Connector, 0)
	for _, result := range e.dispatcher.Dispatch(ctx, title, mediaType) {
		var best *domain.Connector
		for _, hit := range result.Hits {
			scored := similarity.BestOf(result.Config.AcceptThreshold, titles, hit.Title, hitAlts(hit)...)
			if !scored.Accepted {
				continue
			}
			if best != nil && best.Similarity.Score >= scored.Score {
				continue
			}
			best = &domain.Connector{
				ProviderID: result.Provider,
				ID:         hit.ID,
				Similarity: domain.Similarity{Score: scored.Score, Accepted: true},
			}
		}
		if best != nil {
			connectors = append(connectors, *best)
		}
	}
	return connectors
}

type pendingHit struct {
	result provider.Result
	hit    domain.SearchHit
}

// pageSearch dispatches the raw query and re-identifies every provider hit
// not already attached to a record against the catalog. It returns records
// for the re-identified media; catalog failures only drop the hit.
func (e *Engine) pageSearch(ctx context.Context, query string, mediaType domain.MediaType, records []domain.UnifiedRecord) []domain.UnifiedRecord {
	ctx, span := e.tracer.Start(ctx, "reconcile.pageSearch")
	defer span.End()

	matched := make(map[string]struct{})
	for _, record := range records {
		for _, connector := range record.Connectors {
			matched[strings.ToLower(connector.ProviderID)+"\x00"+connector.ID] = struct{}{}
		}
	}

	pending := make([]pendingHit, 0)
	titles := make([]string, 0)
	titleIndex := make(map[string]int)
	for _, result := range e.dispatcher.Dispatch(ctx, query, mediaType) {
		for _, hit := range result.Hits {
			if _, ok := matched[result.Provider+"\x00"+hit.ID]; ok {
				continue
			}
			key := similarity.Normalize(similarity.SanitizeTitle(hit.Title))
			if key == "" {
				continue
			}
			if _, ok := titleIndex[key]; !ok {
				if len(titles) >= maxReidentify {
					continue
				}
				titleIndex[key] = len(titles)
				titles = append(titles, hit.Title)
			}
			pending = append(pending, pendingHit{result: result, hit: hit})
		}
	}
	if len(pending) == 0 {
		return nil
	}

	lookups := make([][]domain.CanonicalMedia, len(titles))
	var group errgroup.Group
	group.SetLimit(e.concurrency)
	for i, title := range titles {
		group.Go(func() error {
			media, err := e.catalog.Search(ctx, similarity.SanitizeTitle(title), mediaType)
			if err != nil {
				e.logger.Warn("catalog re-identification failed",
					slog.String("title", title),
					slog.String("error", err.Error()),
				)
				return nil
			}
			lookups[i] = media
			return nil
		})
	}
	_ = group.Wait()

	byID := make(map[string]int)
	out := make([]domain.UnifiedRecord, 0)
	for _, item := range pending {
		index := titleIndex[similarity.Normalize(similarity.SanitizeTitle(item.hit.Title))]
		media, ok := reidentify(item.hit, lookups[index], mediaType, item.result.Config)
		if !ok {
			continue
		}
		// The field match above already cleared MatchThreshold; the score
		// is kept for ranking only.
		scored := similarity.BestOf(item.result.Config.AcceptThreshold, media.AllTitles(), item.hit.Title, hitAlts(item.hit)...)
		connector := domain.Connector{
			ProviderID: item.result.Provider,
			ID:         item.hit.ID,
			Similarity: domain.Similarity{Score: scored.Score, Accepted: true},
		}

		i, exists := byID[media.ID]
		if !exists {
			record := domain.NewRecord(media)
			record.Type = mediaType
			i = len(out)
			byID[media.ID] = i
			out = append(out, record)
		}
		out[i].Connectors = MergeConnectors(out[i].Connectors, []domain.Connector{connector})
	}
	return out
}

// reidentify picks the catalog entry whose field-by-field agreement with the
// hit exceeds the provider's match threshold.
func reidentify(hit domain.SearchHit, candidates []domain.CanonicalMedia, mediaType domain.MediaType, cfg provider.Config) (domain.CanonicalMedia, bool) {
	thresholds := similarity.DefaultThresholds()
	thresholds.Title = cfg.MatchThreshold
	thresholds.Romaji = cfg.MatchThreshold
	thresholds.Native = cfg.MatchThreshold

	hitFields := similarity.Fields{
		Title:  similarity.SanitizeTitle(hit.Title),
		Romaji: hit.Romaji,
		Native: hit.Native,
		Year:   hit.Year,
		Format: hit.Format,
	}

	var best domain.CanonicalMedia
	bestRatio := 0.0
	for _, candidate := range candidates {
		if candidate.Type != "" && candidate.Type != mediaType {
			continue
		}
		ratio := similarity.CheckItem(hitFields, similarity.Fields{
			Title:  closestTitle(hitFields.Title, candidate.AllTitles()),
			Romaji: candidate.Title.Romaji,
			Native: candidate.Title.Native,
			Year:   candidate.Year,
			Format: candidate.Format,
		}, thresholds)
		if ratio > bestRatio {
			best, bestRatio = candidate, ratio
		}
	}
	if best.ID == "" || bestRatio <= cfg.MatchThreshold {
		return domain.CanonicalMedia{}, false
	}
	return best, true
}

func closestTitle(target string, titles []string) string {
	normalized := similarity.Normalize(target)
	closest := ""
	bestScore := -1.0
	for _, title := range titles {
		if score := similarity.CompareStrings(normalized, similarity.Normalize(title)); score > bestScore {
			closest, bestScore = title, score
		}
	}
	return closest
}

// applyCrossRef attaches curated links to records that no provider pass
// matched. Links carry full confidence.
func (e *Engine) applyCrossRef(ctx context.Context, mediaType domain.MediaType, records []domain.UnifiedRecord) {
	if e.crossref == nil {
		return
	}
	var group errgroup.Group
	group.SetLimit(e.concurrency)
	for i := range records {
		if len(records[i].Connectors) > 0 || records[i].Media.IDMal == "" {
			continue
		}
		group.Go(func() error {
			links, err := e.crossref.Links(ctx, mediaType, records[i].Media.IDMal)
			if err != nil {
				e.logger.Warn("cross-reference lookup failed",
					slog.String("id", records[i].ID),
					slog.String("malId", records[i].Media.IDMal),
					slog.String("error", err.Error()),
				)
				return nil
			}
			connectors := make([]domain.Connector, 0, len(links))
			for _, link := range links {
				entry, ok := e.registry.Lookup(link.ProviderID)
				if !ok || !entry.Config.Enabled {
					continue
				}
				connectors = append(connectors, domain.Connector{
					ProviderID: entry.Name,
					ID:         link.ID,
					Similarity: domain.Similarity{Score: 1, Accepted: true},
				})
			}
			records[i].Connectors = MergeConnectors(records[i].Connectors, connectors)
			return nil
		})
	}
	_ = group.Wait()
}
