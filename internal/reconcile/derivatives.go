package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/provider"
)

// Episodes returns the episode lists of every connected anime provider.
func (e *Engine) Episodes(ctx context.Context, id string) ([]domain.Content, error) {
	return e.content(ctx, id, domain.MediaTypeAnime, domain.KindEpisodes)
}

// Chapters returns the chapter lists of every connected manga provider.
func (e *Engine) Chapters(ctx context.Context, id string) ([]domain.Content, error) {
	return e.content(ctx, id, domain.MediaTypeManga, domain.KindChapters)
}

type listFunc func(ctx context.Context, localID string) ([]domain.Entry, error)

func (e *Engine) lister(kind domain.DerivativeKind, providerID string) (listFunc, provider.Entry, bool) {
	if kind == domain.KindEpisodes {
		adapter, entry, err := e.registry.Anime(providerID)
		if err != nil {
			return nil, provider.Entry{}, false
		}
		return adapter.Episodes, entry, true
	}
	adapter, entry, err := e.registry.Manga(providerID)
	if err != nil {
		return nil, provider.Entry{}, false
	}
	return adapter.Chapters, entry, true
}

func (e *Engine) content(ctx context.Context, id string, mediaType domain.MediaType, kind domain.DerivativeKind) ([]domain.Content, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	key := domain.DerivativeKey{ID: id, Kind: kind}
	if cached, ok, err := e.cache.Content(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	record, err := e.Get(ctx, id, mediaType)
	if err != nil {
		return nil, err
	}

	fetched := make([]domain.Content, len(record.Connectors))
	var group errgroup.Group
	for i, connector := range record.Connectors {
		list, entry, ok := e.lister(kind, connector.ProviderID)
		if !ok || !entry.Config.Enabled {
			continue
		}
		group.Go(func() error {
			var entries []domain.Entry
			err := e.dispatcher.Invoke(ctx, entry, connector.ID, func(callCtx context.Context) error {
				var listErr error
				entries, listErr = list(callCtx, connector.ID)
				return listErr
			})
			if err != nil {
				e.logger.Debug("provider content fetch failed",
					slog.String("provider", entry.Name),
					slog.String("kind", string(kind)),
					slog.String("id", connector.ID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			fetched[i] = domain.Content{ProviderID: entry.Name, Entries: entries}
			return nil
		})
	}
	_ = group.Wait()

	contents := make([]domain.Content, 0, len(fetched))
	for _, content := range fetched {
		if len(content.Entries) > 0 {
			contents = append(contents, content)
		}
	}
	if err := e.cache.PutContent(ctx, key, contents); err != nil {
		return nil, err
	}
	return contents, nil
}

// Sources returns stream links for one episode from the named provider. An
// empty provider name selects the authoritative anime provider.
func (e *Engine) Sources(ctx context.Context, id, providerID, watchID string) (domain.SubbedSource, error) {
	providerID, err := e.derivativeTarget(id, providerID, watchID, domain.MediaTypeAnime)
	if err != nil {
		return domain.SubbedSource{}, err
	}
	adapter, entry, err := e.registry.Anime(providerID)
	if err != nil {
		return domain.SubbedSource{}, err
	}
	if _, err := e.connector(ctx, id, entry.Name, domain.MediaTypeAnime); err != nil {
		return domain.SubbedSource{}, err
	}
	key := domain.DerivativeKey{ID: id, ProviderID: entry.Name, SubKey: watchID, Kind: domain.KindSources}
	if cached, ok, err := e.cache.Sources(ctx, key); err != nil {
		return domain.SubbedSource{}, err
	} else if ok {
		return cached, nil
	}

	var sources domain.SubbedSource
	err = e.dispatcher.Invoke(ctx, entry, watchID, func(callCtx context.Context) error {
		var sourceErr error
		sources, sourceErr = adapter.Sources(callCtx, watchID)
		return sourceErr
	})
	if err != nil {
		return domain.SubbedSource{}, fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, entry.Name, err)
	}
	if err := e.cache.PutSources(ctx, key, entry.Name, sources); err != nil {
		return domain.SubbedSource{}, err
	}
	return sources, nil
}

// Pages returns the page images of one chapter from the named provider. An
// empty provider name selects the authoritative manga provider.
func (e *Engine) Pages(ctx context.Context, id, providerID, readID string) ([]domain.Page, error) {
	providerID, err := e.derivativeTarget(id, providerID, readID, domain.MediaTypeManga)
	if err != nil {
		return nil, err
	}
	adapter, entry, err := e.registry.Manga(providerID)
	if err != nil {
		return nil, err
	}
	if _, err := e.connector(ctx, id, entry.Name, domain.MediaTypeManga); err != nil {
		return nil, err
	}
	key := domain.DerivativeKey{ID: id, ProviderID: entry.Name, SubKey: readID, Kind: domain.KindPages}
	if cached, ok, err := e.cache.Pages(ctx, key); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	var pages []domain.Page
	err = e.dispatcher.Invoke(ctx, entry, readID, func(callCtx context.Context) error {
		var pageErr error
		pages, pageErr = adapter.Pages(callCtx, readID)
		return pageErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrProviderUnavailable, entry.Name, err)
	}
	if err := e.cache.PutPages(ctx, key, entry.Name, pages); err != nil {
		return nil, err
	}
	if pages == nil {
		pages = []domain.Page{}
	}
	return pages, nil
}

func (e *Engine) derivativeTarget(id, providerID, subKey string, mediaType domain.MediaType) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: id is required", domain.ErrInvalidQuery)
	}
	if strings.TrimSpace(subKey) == "" {
		return "", fmt.Errorf("%w: episode or chapter id is required", domain.ErrInvalidQuery)
	}
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	if providerID == "" {
		providerID = e.registry.Authoritative(mediaType)
	}
	if providerID == "" {
		return "", fmt.Errorf("%w: provider is required", domain.ErrInvalidQuery)
	}
	return providerID, nil
}

func (e *Engine) connector(ctx context.Context, id, providerID string, mediaType domain.MediaType) (domain.Connector, error) {
	record, err := e.Get(ctx, id, mediaType)
	if err != nil {
		return domain.Connector{}, err
	}
	connector, ok := record.Connector(providerID)
	if !ok {
		return domain.Connector{}, fmt.Errorf("%w: %s has no %s connector", domain.ErrAmbiguousID, id, providerID)
	}
	return connector, nil
}
