package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"animestream/catalogservice/internal/metrics"
)

const (
	failureThreshold = 3
	blockBase        = 2 * time.Minute
	blockMax         = 15 * time.Minute
)

// Diagnostics is a snapshot of one provider's recent behaviour.
type Diagnostics struct {
	Name                string     `json:"name"`
	Capability          string     `json:"capability"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	LastQuery           string     `json:"lastQuery,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}

type healthState struct {
	consecutiveFailures int
	blockedUntil        time.Time
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	lastQuery           string
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// healthTracker is a per-provider circuit breaker. It is advisory: readers
// tolerate a slightly stale view.
type healthTracker struct {
	mu     sync.Mutex
	states map[string]*healthState
}

func newHealthTracker() *healthTracker {
	return &healthTracker{states: make(map[string]*healthState)}
}

func (h *healthTracker) blocked(name string, now time.Time) (bool, time.Time, string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[name]
	if state == nil {
		return false, time.Time{}, ""
	}
	if state.blockedUntil.IsZero() || now.After(state.blockedUntil) {
		return false, time.Time{}, ""
	}
	return true, state.blockedUntil, state.lastError
}

func (h *healthTracker) record(name, query string, err error, latency time.Duration, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	state := h.states[name]
	if state == nil {
		state = &healthState{}
		h.states[name] = state
	}
	state.totalRequests++
	state.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		state.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.blockedUntil = time.Time{}
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.ProviderRequestsTotal.WithLabelValues(name, "ok").Inc()
		metrics.ProviderAvailable.WithLabelValues(name).Set(1)
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(name, status).Inc()

	until := time.Time{}
	if state.consecutiveFailures >= failureThreshold {
		until = now.Add(blockDuration(state.consecutiveFailures))
	}
	// A throttled provider stays closed for as long as it asked, even
	// below the failure threshold.
	if hint := retryAfter(err); hint > 0 && now.Add(min(hint, blockMax)).After(until) {
		until = now.Add(min(hint, blockMax))
	}
	if !until.IsZero() {
		state.blockedUntil = until
		metrics.ProviderAvailable.WithLabelValues(name).Set(0)
	}
}

// blockDuration is blockBase × 2^(failures - threshold), capped at blockMax.
func blockDuration(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - failureThreshold
	if exponent < 0 {
		exponent = 0
	}
	d := blockBase
	for i := 0; i < exponent; i++ {
		d *= 2
		if d > blockMax {
			return blockMax
		}
	}
	return d
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

func (h *healthTracker) snapshot(entries []Entry) []Diagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]Diagnostics, 0, len(entries))
	for _, entry := range entries {
		item := Diagnostics{
			Name:       entry.Name,
			Capability: string(entry.Capability),
			Enabled:    entry.Config.Enabled,
		}
		if state := h.states[entry.Name]; state != nil {
			item.ConsecutiveFailures = state.consecutiveFailures
			if !state.blockedUntil.IsZero() {
				blockedUntil := state.blockedUntil
				item.BlockedUntil = &blockedUntil
			}
			item.LastError = state.lastError
			if !state.lastSuccessAt.IsZero() {
				lastSuccessAt := state.lastSuccessAt
				item.LastSuccessAt = &lastSuccessAt
			}
			if !state.lastFailureAt.IsZero() {
				lastFailureAt := state.lastFailureAt
				item.LastFailureAt = &lastFailureAt
			}
			item.LastLatencyMS = state.lastLatency.Milliseconds()
			item.LastTimeout = state.lastTimeout
			item.LastQuery = state.lastQuery
			item.TotalRequests = state.totalRequests
			item.TotalFailures = state.totalFailures
			item.TimeoutCount = state.timeoutCount
		}
		items = append(items, item)
	}
	return items
}
