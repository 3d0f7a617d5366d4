package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"animestream/catalogservice/internal/domain"
)

// ErrProviderBlocked is returned by Invoke while the circuit breaker is open.
var ErrProviderBlocked = errors.New("provider temporarily unhealthy")

// Result is what one provider answered for a dispatched query. Failed
// providers report no hits.
type Result struct {
	Provider string             `json:"provider"`
	Config   Config             `json:"-"`
	Query    string             `json:"query"`
	Hits     []domain.SearchHit `json:"hits"`
}

type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	retry    RetryConfig
	health   *healthTracker
	tracer   trace.Tracer
	now      func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithRetryConfig(cfg RetryConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.retry = cfg
	}
}

func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
		retry:    DefaultRetryConfig(),
		health:   newHealthTracker(),
		tracer:   otel.Tracer("animestream/catalogservice/provider"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch sends query to every enabled provider for mediaType concurrently
// and returns one Result per provider in registry order. Provider failures
// never surface as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, query string, mediaType domain.MediaType) []Result {
	entries := d.registry.For(mediaType)
	results := make([]Result, len(entries))
	if len(entries) == 0 {
		return results
	}

	ctx, span := d.tracer.Start(ctx, "provider.dispatch", trace.WithAttributes(
		attribute.String("query", query),
		attribute.String("type", string(mediaType)),
		attribute.Int("providers", len(entries)),
	))
	defer span.End()

	startedAt := time.Now()
	var group errgroup.Group
	for i, entry := range entries {
		results[i] = Result{Provider: entry.Name, Config: entry.Config, Hits: []domain.SearchHit{}}
		group.Go(func() error {
			providerQuery := query
			if entry.Config.UsePartialQuery {
				providerQuery = partialQuery(query, entry.Config.PartialQueryRatio)
			}
			results[i].Query = providerQuery

			var hits []domain.SearchHit
			err := d.Invoke(ctx, entry, providerQuery, func(callCtx context.Context) error {
				var searchErr error
				hits, searchErr = entry.Adapter.Search(callCtx, providerQuery)
				return searchErr
			})
			if err != nil {
				d.logger.Debug("provider search failed",
					slog.String("provider", entry.Name),
					slog.String("query", providerQuery),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if hits != nil {
				results[i].Hits = hits
			}
			return nil
		})
	}
	_ = group.Wait()

	d.logger.Debug("provider dispatch completed",
		slog.String("query", query),
		slog.String("type", string(mediaType)),
		slog.Int("providers", len(entries)),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
	return results
}

// Invoke runs fn against one provider with its circuit breaker, rate-limit
// wait, timeout and retry policy applied, and records the outcome.
func (d *Dispatcher) Invoke(ctx context.Context, entry Entry, label string, fn func(ctx context.Context) error) error {
	if blocked, until, lastErr := d.health.blocked(entry.Name, d.now()); blocked {
		return fmt.Errorf("%w until %s: %s", ErrProviderBlocked, until.UTC().Format(time.RFC3339), lastErr)
	}
	if err := waitRateLimit(ctx, entry.Config.RateLimitWait); err != nil {
		return err
	}

	startedAt := time.Now()
	err := RetryWithBackoff(ctx, d.retry, func() error {
		callCtx := ctx
		if entry.Config.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, entry.Config.Timeout)
			defer cancel()
		}
		return fn(callCtx)
	})
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Caller cancellation is not a provider failure.
		return err
	}
	d.health.record(entry.Name, label, err, time.Since(startedAt), d.now())
	return err
}

func (d *Dispatcher) Diagnostics() []Diagnostics {
	return d.health.snapshot(d.registry.Entries())
}

func waitRateLimit(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
