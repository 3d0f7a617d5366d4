package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"animestream/catalogservice/internal/cache"
	"animestream/catalogservice/internal/crawl"
	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/provider"
)

// Catalog is the canonical metadata source. GetByID returns
// domain.ErrNotFound for unknown ids.
type Catalog interface {
	Search(ctx context.Context, query string, mediaType domain.MediaType) ([]domain.CanonicalMedia, error)
	GetByID(ctx context.Context, id string, mediaType domain.MediaType) (domain.CanonicalMedia, error)
	Seasonal(ctx context.Context, mediaType domain.MediaType, amount int) (domain.SeasonalMedia, error)
	ListAllIDs(ctx context.Context, mediaType domain.MediaType) ([]string, error)
}

// CrossRef maps a MyAnimeList id to curated provider links.
type CrossRef interface {
	Links(ctx context.Context, mediaType domain.MediaType, malID string) ([]domain.CrossRefLink, error)
}

type Mode string

const (
	ModeFast     Mode = "fast"
	ModeThorough Mode = "thorough"
)

// ParseMode defaults to thorough.
func ParseMode(raw string) Mode {
	if strings.EqualFold(strings.TrimSpace(raw), string(ModeFast)) {
		return ModeFast
	}
	return ModeThorough
}

const (
	defaultMaxCandidates        = 10
	defaultCandidateConcurrency = 4
	maxReidentify               = 20
)

type Options struct {
	Mode                 Mode
	CrossRef             CrossRef
	Logger               *slog.Logger
	MaxCandidates        int
	CandidateConcurrency int
}

// Engine reconciles catalog media with provider hits and serves the
// derivative data attached to unified records.
type Engine struct {
	catalog     Catalog
	crossref    CrossRef
	dispatcher  *provider.Dispatcher
	registry    *provider.Registry
	cache       *cache.Cache
	mode        Mode
	logger      *slog.Logger
	tracer      trace.Tracer
	candidates  int
	concurrency int
	inflight    singleflight.Group
	crawler     *crawl.Controller
}

func New(catalog Catalog, dispatcher *provider.Dispatcher, store *cache.Cache, opts Options) *Engine {
	e := &Engine{
		catalog:     catalog,
		crossref:    opts.CrossRef,
		dispatcher:  dispatcher,
		registry:    dispatcher.Registry(),
		cache:       store,
		mode:        opts.Mode,
		logger:      opts.Logger,
		tracer:      otel.Tracer("animestream/catalogservice/reconcile"),
		candidates:  opts.MaxCandidates,
		concurrency: opts.CandidateConcurrency,
	}
	if e.mode == "" {
		e.mode = ModeThorough
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.candidates <= 0 {
		e.candidates = defaultMaxCandidates
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultCandidateConcurrency
	}
	e.crawler = crawl.New(catalog, e, crawl.WithLogger(e.logger))
	return e
}

func (e *Engine) Mode() Mode {
	return e.mode
}

func (e *Engine) Registry() *provider.Registry {
	return e.registry
}

func (e *Engine) Providers() []provider.Info {
	return e.registry.Infos()
}

func (e *Engine) Diagnostics() []provider.Diagnostics {
	return e.dispatcher.Diagnostics()
}

func (e *Engine) CacheStats(ctx context.Context) (cache.Stats, error) {
	return e.cache.Stats(ctx)
}

// Cached reports whether a record for id is already stored.
func (e *Engine) Cached(ctx context.Context, id string, mediaType domain.MediaType) (bool, error) {
	_, ok, err := e.cache.Record(ctx, id, mediaType)
	return ok, err
}

// Persist stores record unless one with the same id exists.
func (e *Engine) Persist(ctx context.Context, record domain.UnifiedRecord) (bool, error) {
	inserted, err := e.cache.InsertRecords(ctx, []domain.UnifiedRecord{record})
	return inserted > 0, err
}

// Crawl walks the catalog id space and stores a record for every id not yet
// cached.
func (e *Engine) Crawl(ctx context.Context, opts crawl.Options) ([]domain.UnifiedRecord, crawl.Report, error) {
	return e.crawler.Run(ctx, opts)
}
