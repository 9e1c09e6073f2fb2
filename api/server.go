// Package api exposes the search orchestrator and intent router over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aluiziolira/go-scrape-market/intent"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/scraper"
	"github.com/aluiziolira/go-scrape-market/search"
	"github.com/aluiziolira/go-scrape-market/store"
)

const maxBodySize = 5 << 20 // 5MB

const requestIDHeader = "X-Request-Id"

// Products is the product surface of the orchestrator.
// *search.Orchestrator implements it.
type Products interface {
	Search(ctx context.Context, query string, opts models.SearchOptions) (search.Outcome, error)
	CacheProducts(ctx context.Context, products []models.ScrapedProduct) store.Report
	GetProductByMarketplaceID(ctx context.Context, marketplace, productID string) (models.CachedProduct, error)
	RefreshProductData(ctx context.Context, marketplace, productID string) (models.CachedProduct, error)
	IsFresh(p models.CachedProduct) bool
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Products Products
	Intents  *intent.Router
	// Timeout bounds each request. Zero means 60s.
	Timeout time.Duration
}

// NewHandler builds the chi router.
func NewHandler(deps Deps) http.Handler {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/products/search", handleSearch(deps))
		r.Post("/products/cache", handleCacheProducts(deps))
		r.Get("/products/{marketplace}/{productID}", handleGetProduct(deps))
		r.Post("/products/{marketplace}/{productID}/refresh", handleRefreshProduct(deps))
		r.Post("/intents", handleIntent(deps))
	})

	return r
}

type searchResponse struct {
	Query    string                  `json:"query"`
	Source   search.Source           `json:"source"`
	Count    int                     `json:"count"`
	Products []models.ScrapedProduct `json:"products"`
	Notice   string                  `json:"notice,omitempty"`
}

type productResponse struct {
	Product models.CachedProduct `json:"product"`
	Fresh   bool                 `json:"fresh"`
}

type cacheRequest struct {
	Products []models.ScrapedProduct `json:"products"`
}

type cacheResponse struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

type intentRequest struct {
	// Raw is the unparsed model output. When set, the structured fields are
	// ignored.
	Raw    string `json:"raw"`
	Action string `json:"action"`
	Query  string `json:"query"`
	Reply  string `json:"reply"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := models.SearchOptions{Marketplace: q.Get("marketplace")}

		var err error
		if opts.Page, err = intParam(q.Get("page"), "page"); err != nil {
			writeError(w, r, err)
			return
		}
		if opts.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
			writeError(w, r, err)
			return
		}

		outcome, err := deps.Products.Search(r.Context(), q.Get("q"), opts)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := searchResponse{
			Query:    q.Get("q"),
			Source:   outcome.Source,
			Count:    len(outcome.Products),
			Products: outcome.Products,
		}
		if resp.Products == nil {
			resp.Products = []models.ScrapedProduct{}
		}
		if outcome.LiveErr != nil {
			resp.Notice = scraper.UserMessage(outcome.LiveErr)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleCacheProducts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req cacheRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, scraper.ValidationError{Field: "body", Reason: "must be a JSON object with a products array"})
			return
		}

		report := deps.Products.CacheProducts(r.Context(), req.Products)
		writeJSON(w, http.StatusOK, cacheResponse{Written: report.Written, Failed: report.Failed})
	}
}

func handleGetProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Products.GetProductByMarketplaceID(r.Context(),
			chi.URLParam(r, "marketplace"), chi.URLParam(r, "productID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, productResponse{Product: p, Fresh: deps.Products.IsFresh(p)})
	}
}

func handleRefreshProduct(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Products.RefreshProductData(r.Context(),
			chi.URLParam(r, "marketplace"), chi.URLParam(r, "productID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, productResponse{Product: p, Fresh: deps.Products.IsFresh(p)})
	}
}

func handleIntent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		defer r.Body.Close()

		var req intentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, scraper.ValidationError{Field: "body", Reason: "must be a JSON object"})
			return
		}

		in := intent.Intent{Action: req.Action, Query: req.Query, Reply: req.Reply}
		if req.Raw != "" {
			parsed, err := intent.Parse(req.Raw)
			if err != nil {
				slog.Warn("unparseable intent", slog.String("request_id", requestIDFrom(r.Context())), slog.Any("error", err))
				writeError(w, r, scraper.ValidationError{Field: "raw", Reason: "is not a valid intent"})
				return
			}
			in = parsed
		}
		if in.Action == "" {
			writeError(w, r, scraper.ValidationError{Field: "action", Reason: "is required"})
			return
		}

		writeJSON(w, http.StatusOK, deps.Intents.Route(r.Context(), in))
	}
}

func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, scraper.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return n, nil
}

// statusFor maps a domain error onto an HTTP status.
func statusFor(err error) int {
	var (
		validation    scraper.ValidationError
		configuration scraper.ConfigurationError
		rateLimited   scraper.RateLimitedError
		external      scraper.ExternalServiceError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &configuration):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &external):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := scraper.UserMessage(err)
	if errors.Is(err, store.ErrNotFound) {
		msg = "product not found"
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed",
		slog.String("request_id", requestIDFrom(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err),
	)

	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"status":  status,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", slog.Any("error", err))
	}
}
