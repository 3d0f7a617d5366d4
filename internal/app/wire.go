package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"animestream/catalogservice/internal/cache"
	"animestream/catalogservice/internal/catalog/anilist"
	"animestream/catalogservice/internal/crossref/malsync"
	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/provider"
	"animestream/catalogservice/internal/providers/animesite"
	"animestream/catalogservice/internal/providers/mangadex"
	"animestream/catalogservice/internal/reconcile"
)

// Runtime is the assembled service shared by the server and the crawler CLI.
type Runtime struct {
	Engine   *reconcile.Engine
	Cache    *cache.Cache
	Registry *provider.Registry
}

func (r *Runtime) Close() error {
	if r == nil || r.Cache == nil {
		return nil
	}
	return r.Cache.Close()
}

func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tuning, err := LoadProvidersFile(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, tuning)
	if err != nil {
		return nil, err
	}

	store, redisClient, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("cache store opened", slog.String("backend", cfg.CacheBackend))

	records := cache.New(store, cache.Options{
		ContentTTL:    cfg.ContentTTL,
		SourceTTL:     cfg.SourceTTL,
		Authoritative: registry.Authoritative,
		Logger:        logger,
	})

	catalog := anilist.New(anilist.Config{
		Endpoint:          cfg.AniListURL,
		Client:            newHTTPClient(cfg),
		RequestsPerMinute: cfg.AniListRPM,
		Logger:            logger,
	})
	crossref := malsync.NewClient(malsync.Config{
		BaseURL:     cfg.MALSyncURL,
		Client:      newHTTPClient(cfg),
		Redis:       redisClient,
		CacheTTL:    cfg.MALSyncCacheTTL,
		SiteAliases: tuning.SiteAliases,
	})

	dispatcher := provider.NewDispatcher(registry, provider.WithLogger(logger))
	engine := reconcile.New(catalog, dispatcher, records, reconcile.Options{
		Mode:                 reconcile.ParseMode(cfg.MatchMode),
		CrossRef:             crossref,
		Logger:               logger,
		MaxCandidates:        cfg.MaxCandidates,
		CandidateConcurrency: cfg.CandidateConcurrency,
	})

	return &Runtime{Engine: engine, Cache: records, Registry: registry}, nil
}

func buildRegistry(cfg Config, tuning ProvidersFile) (*provider.Registry, error) {
	site := animesite.NewProvider(animesite.Config{
		Endpoint:  cfg.AnimeSiteURL,
		UserAgent: cfg.UserAgent,
		Client:    newHTTPClient(cfg),
	})
	dex := mangadex.NewProvider(mangadex.Config{
		Endpoint:  cfg.MangaDexURL,
		UserAgent: cfg.UserAgent,
		Language:  cfg.MangaDexLanguage,
		Client:    newHTTPClient(cfg),
	})

	registry, err := provider.NewRegistry(
		provider.Entry{Name: site.Name(), Capability: domain.MediaTypeAnime, Config: tuning.ConfigFor(site.Name()), Adapter: site},
		provider.Entry{Name: dex.Name(), Capability: domain.MediaTypeManga, Config: tuning.ConfigFor(dex.Name()), Adapter: dex},
	)
	if err != nil {
		return nil, err
	}
	if err := registry.SetAuthoritative(domain.MediaTypeAnime, cfg.AuthoritativeAnime); err != nil {
		return nil, fmt.Errorf("authoritative anime provider: %w", err)
	}
	if err := registry.SetAuthoritative(domain.MediaTypeManga, cfg.AuthoritativeManga); err != nil {
		return nil, fmt.Errorf("authoritative manga provider: %w", err)
	}
	return registry, nil
}

// openStore returns the configured backend. The redis client is handed back
// so the cross-reference client can share the connection.
func openStore(ctx context.Context, cfg Config) (cache.Store, *redis.Client, error) {
	switch cfg.CacheBackend {
	case "", "memory":
		return cache.NewMemoryStore(), nil, nil
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, nil, errors.New("CACHE_BACKEND=redis requires REDIS_URL")
		}
		store, err := cache.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Client(), nil
	case "mongo", "mongodb":
		client, err := cache.ConnectMongo(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
		if err != nil {
			return nil, nil, err
		}
		store := cache.NewMongoStore(client, cfg.MongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, nil, nil
	case "sqlite":
		store, err := cache.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{Timeout: cfg.RequestTimeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
}
