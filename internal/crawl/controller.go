package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/metrics"
)

// ExhaustionLimit is how many consecutive empty catalog responses end a crawl.
const ExhaustionLimit = 3

const defaultIDsPerPage = 50

type Catalog interface {
	ListAllIDs(ctx context.Context, mediaType domain.MediaType) ([]string, error)
	GetByID(ctx context.Context, id string, mediaType domain.MediaType) (domain.CanonicalMedia, error)
}

// Reconciler turns fetched canonical media into stored unified records.
type Reconciler interface {
	Cached(ctx context.Context, id string, mediaType domain.MediaType) (bool, error)
	ReconcileMedia(ctx context.Context, media domain.CanonicalMedia) (domain.UnifiedRecord, error)
	Persist(ctx context.Context, record domain.UnifiedRecord) (bool, error)
}

type Options struct {
	Type          domain.MediaType
	StartPage     int
	MaxPages      int
	IDsPerPage    int
	InterPageWait time.Duration
	PerIDWait     time.Duration
	// MaxIDs caps catalog fetch attempts, failed ones included. Zero means no limit.
	MaxIDs int
}

// Report summarises one run. Fetched counts catalog lookups, successful or
// not; TotalPages is the page count of the whole id list.
type Report struct {
	Type       domain.MediaType `json:"type"`
	Pages      int              `json:"pages"`
	TotalPages int              `json:"totalPages"`
	Fetched    int              `json:"fetched"`
	Processed  int              `json:"processed"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Exhausted  bool             `json:"exhausted"`
	LastPage   int              `json:"lastPage"`
}

// NextStartPage is where a follow-up run should begin: page 0 once the
// catalog is exhausted or the last page was visited.
func (r Report) NextStartPage() int {
	next := r.LastPage + 1
	if r.Exhausted || next <= 0 || next >= r.TotalPages {
		return 0
	}
	return next
}

type Controller struct {
	catalog    Catalog
	reconciler Reconciler
	logger     *slog.Logger
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(catalog Catalog, reconciler Reconciler, opts ...Option) *Controller {
	c := &Controller{
		catalog:    catalog,
		reconciler: reconciler,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run walks the catalog id list page by page starting at opts.StartPage and
// returns the records it created. Per-id failures are counted and skipped;
// catalog exhaustion ends the run without an error.
func (c *Controller) Run(ctx context.Context, opts Options) ([]domain.UnifiedRecord, Report, error) {
	if !opts.Type.Valid() {
		opts.Type = domain.MediaTypeAnime
	}
	if opts.IDsPerPage <= 0 {
		opts.IDsPerPage = defaultIDsPerPage
	}
	if opts.StartPage < 0 {
		opts.StartPage = 0
	}
	report := Report{Type: opts.Type, LastPage: opts.StartPage - 1}

	ids, err := c.catalog.ListAllIDs(ctx, opts.Type)
	if err != nil {
		return nil, report, fmt.Errorf("%w: list ids: %w", domain.ErrCatalog, err)
	}

	totalPages := (len(ids) + opts.IDsPerPage - 1) / opts.IDsPerPage
	report.TotalPages = totalPages
	created := make([]domain.UnifiedRecord, 0)
	empty := 0
	startedAt := time.Now()

	c.logger.Info("crawl started",
		slog.String("type", string(opts.Type)),
		slog.Int("ids", len(ids)),
		slog.Int("startPage", opts.StartPage),
		slog.Int("pages", totalPages),
	)

	for page := opts.StartPage; page < totalPages; page++ {
		if opts.MaxPages > 0 && page-opts.StartPage >= opts.MaxPages {
			break
		}
		if page > opts.StartPage {
			if err := wait(ctx, opts.InterPageWait); err != nil {
				return created, report, err
			}
		}

		start := page * opts.IDsPerPage
		end := start + opts.IDsPerPage
		if end > len(ids) {
			end = len(ids)
		}

		for _, id := range ids[start:end] {
			if err := ctx.Err(); err != nil {
				return created, report, err
			}

			cached, err := c.reconciler.Cached(ctx, id, opts.Type)
			if err != nil {
				c.fail(&report, id, err)
				continue
			}
			if cached {
				report.Skipped++
				metrics.CrawlIDsTotal.WithLabelValues("skipped").Inc()
				continue
			}

			if opts.MaxIDs > 0 && report.Fetched >= opts.MaxIDs {
				c.finish(report, startedAt)
				return created, report, nil
			}
			if err := wait(ctx, opts.PerIDWait); err != nil {
				return created, report, err
			}
			report.Fetched++
			media, err := c.catalog.GetByID(ctx, id, opts.Type)
			if errors.Is(err, domain.ErrNotFound) {
				empty++
				metrics.CrawlIDsTotal.WithLabelValues("empty").Inc()
				if empty >= ExhaustionLimit {
					report.Exhausted = true
					c.logger.Info("crawl exhausted",
						slog.String("type", string(opts.Type)),
						slog.String("id", id),
						slog.Int("page", page),
					)
					c.finish(report, startedAt)
					return created, report, nil
				}
				continue
			}
			if err != nil {
				c.fail(&report, id, err)
				continue
			}
			empty = 0

			record, err := c.reconciler.ReconcileMedia(ctx, media)
			if err != nil {
				c.fail(&report, id, err)
				continue
			}
			inserted, err := c.reconciler.Persist(ctx, record)
			if err != nil {
				c.fail(&report, id, err)
				continue
			}
			report.Processed++
			metrics.CrawlIDsTotal.WithLabelValues("processed").Inc()
			if inserted {
				created = append(created, record)
			}
		}

		report.Pages++
		report.LastPage = page
		c.logger.Debug("crawl page done",
			slog.String("type", string(opts.Type)),
			slog.Int("page", page),
			slog.Int("processed", report.Processed),
			slog.Int("skipped", report.Skipped),
		)
	}

	c.finish(report, startedAt)
	return created, report, nil
}

func (c *Controller) fail(report *Report, id string, err error) {
	report.Failed++
	metrics.CrawlIDsTotal.WithLabelValues("failed").Inc()
	c.logger.Warn("crawl id failed",
		slog.String("type", string(report.Type)),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
}

func (c *Controller) finish(report Report, startedAt time.Time) {
	c.logger.Info("crawl finished",
		slog.String("type", string(report.Type)),
		slog.Int("pages", report.Pages),
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Bool("exhausted", report.Exhausted),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
