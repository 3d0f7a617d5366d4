package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"animestream/catalogservice/internal/cache"
	"animestream/catalogservice/internal/crawl"
	"animestream/catalogservice/internal/domain"
	"animestream/catalogservice/internal/provider"
)

type CatalogService interface {
	Search(ctx context.Context, query string, mediaType domain.MediaType) ([]domain.UnifiedRecord, error)
	Get(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, error)
	Refresh(ctx context.Context, id string, mediaType domain.MediaType) (domain.UnifiedRecord, error)
	Seasonal(ctx context.Context, mediaType domain.MediaType, amount int, omitTop, omitNextSeason bool) (domain.Seasonal, error)
	Episodes(ctx context.Context, id string) ([]domain.Content, error)
	Chapters(ctx context.Context, id string) ([]domain.Content, error)
	Sources(ctx context.Context, id, providerID, watchID string) (domain.SubbedSource, error)
	Pages(ctx context.Context, id, providerID, readID string) ([]domain.Page, error)
	Relations(ctx context.Context, id string, mediaType domain.MediaType) ([]domain.RelationResult, error)
	Crawl(ctx context.Context, opts crawl.Options) ([]domain.UnifiedRecord, crawl.Report, error)
	Providers() []provider.Info
	Diagnostics() []provider.Diagnostics
	CacheStats(ctx context.Context) (cache.Stats, error)
}

type Server struct {
	catalog CatalogService
	logger  *slog.Logger
	images  *http.Client
	rps     float64
	burst   int
}

const (
	maxQueryLength    = 500
	maxSeasonalAmount = 50
	maxCrawlPages     = 20
)

type crawlRequest struct {
	Type       string `json:"type"`
	StartPage  int    `json:"startPage"`
	MaxPages   int    `json:"maxPages"`
	IDsPerPage int    `json:"idsPerPage"`
	MaxIDs     int    `json:"maxIds"`
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit sets the global token bucket applied to API routes.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rps = rps
			s.burst = burst
		}
	}
}

func NewServer(catalog CatalogService, options ...ServerOption) *Server {
	server := &Server{
		catalog: catalog,
		logger:  slog.Default(),
		images:  newImageClient(),
		rps:     50,
		burst:   100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.HandleFunc("GET /providers/health", s.handleProvidersHealth)
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /info/{id}", s.handleInfo)
	mux.HandleFunc("GET /seasonal/{type}", s.handleSeasonal)
	mux.HandleFunc("GET /episodes/{id}", s.handleEpisodes)
	mux.HandleFunc("GET /chapters/{id}", s.handleChapters)
	mux.HandleFunc("GET /sources/{id}", s.handleSources)
	mux.HandleFunc("GET /pages/{id}", s.handlePages)
	mux.HandleFunc("GET /relations/{id}", s.handleRelations)
	mux.HandleFunc("GET /proxy/image", s.handleImageProxy)
	mux.HandleFunc("POST /admin/crawl", s.handleCrawl)
	traced := otelhttp.NewHandler(instrument(s.logger, mux), "catalog",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoverPanics(s.logger, withRequestID(throttle(s.rps, s.burst, traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.catalog.CacheStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "degraded",
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"cache":     stats,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.catalog.Providers(),
	})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     s.catalog.Diagnostics(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	mediaType, err := parseMediaType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	records, err := s.catalog.Search(r.Context(), query, mediaType)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": query,
		"type":  mediaType,
		"items": records,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	mediaType, err := parseMediaType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	var record domain.UnifiedRecord
	if parseOptionalBool(r.URL.Query().Get("refresh")) {
		record, err = s.catalog.Refresh(r.Context(), id, mediaType)
	} else {
		record, err = s.catalog.Get(r.Context(), id, mediaType)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSeasonal(w http.ResponseWriter, r *http.Request) {
	mediaType, err := parseMediaType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	amount, err := parsePositiveInt(r, "amount", 20)
	if err != nil || amount > maxSeasonalAmount {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid amount")
		return
	}
	seasonal, err := s.catalog.Seasonal(r.Context(), mediaType, amount,
		parseOptionalBool(r.URL.Query().Get("omitTop")),
		parseOptionalBool(r.URL.Query().Get("omitNextSeason")),
	)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seasonal)
}

func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	contents, err := s.catalog.Episodes(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "items": contents})
}

func (s *Server) handleChapters(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	contents, err := s.catalog.Chapters(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "items": contents})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	watchID := strings.TrimSpace(r.URL.Query().Get("watchId"))
	if watchID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "watchId is required")
		return
	}
	sources, err := s.catalog.Sources(r.Context(), r.PathValue("id"), r.URL.Query().Get("provider"), watchID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	readID := strings.TrimSpace(r.URL.Query().Get("readId"))
	if readID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "readId is required")
		return
	}
	pages, err := s.catalog.Pages(r.Context(), r.PathValue("id"), r.URL.Query().Get("provider"), readID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": pages})
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	mediaType, err := parseMediaType(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	relations, err := s.catalog.Relations(r.Context(), r.PathValue("id"), mediaType)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": relations})
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var request crawlRequest
	if err := decodeJSONBody(r, &request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mediaType, err := parseMediaType(request.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if request.StartPage < 0 || request.MaxPages < 0 || request.MaxPages > maxCrawlPages || request.IDsPerPage < 0 || request.MaxIDs < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid crawl bounds")
		return
	}
	maxPages := request.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	records, report, err := s.catalog.Crawl(r.Context(), crawl.Options{
		Type:       mediaType,
		StartPage:  request.StartPage,
		MaxPages:   maxPages,
		IDsPerPage: request.IDsPerPage,
		MaxIDs:     request.MaxIDs,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":  report,
		"created": len(records),
	})
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, domain.ErrInvalidQuery),
		errors.Is(err, domain.ErrUnknownProvider),
		errors.Is(err, domain.ErrUnsupportedCapability):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAmbiguousID):
		status, code = http.StatusNotFound, "no_connector"
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrCatalog):
		status, code = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	}

	level := slog.LevelWarn
	if status >= 500 {
		level = slog.LevelError
	}
	s.logger.LogAttrs(r.Context(), level, "request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	writeError(w, status, code, message)
}

// parseMediaType accepts ANIME or MANGA in any case; empty means ANIME.
func parseMediaType(raw string) (domain.MediaType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.MediaTypeAnime, nil
	}
	mediaType := domain.MediaType(strings.ToUpper(raw))
	if !mediaType.Valid() {
		return "", fmt.Errorf("unsupported type %q", raw)
	}
	return mediaType, nil
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
