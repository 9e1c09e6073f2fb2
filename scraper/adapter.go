package scraper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-market/config"
	"github.com/aluiziolira/go-scrape-market/models"
)

// Adapter hides everything marketplace-specific behind one contract.
type Adapter interface {
	// Name is the registry key, e.g. "jumia".
	Name() string
	// BuildSearchURL returns the search page URL for query and page.
	BuildSearchURL(query string, page int) string
	// Search fetches and parses one page of results, returning at most
	// opts.Limit listings in source order.
	Search(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScrapedProduct, error)
	// ParseSearchResults extracts listings from a search page. It never
	// fails; malformed nodes are reported in ParseResult.Skipped.
	ParseSearchResults(html []byte) ParseResult
	// ProductDetails scrapes a single listing.
	ProductDetails(ctx context.Context, ref models.ProductRef) (*models.ScrapedProduct, error)
}

// ParseResult is the outcome of parsing one page.
type ParseResult struct {
	Products []models.ScrapedProduct
	Skipped  []ParseIssue
}

// ParseIssue describes a listing node that was dropped.
type ParseIssue struct {
	Index  int
	Reason string
}

// ValidateQuery trims query and rejects it when nothing is left.
func ValidateQuery(query string) (string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", ValidationError{Field: "query", Reason: "must not be empty"}
	}
	return trimmed, nil
}

// NormalizeOptions applies defaults to opts: page 1, defaultLimit, and a
// limit capped at maxLimit. Negative values are rejected.
func NormalizeOptions(opts models.SearchOptions, defaultLimit, maxLimit int) (models.SearchOptions, error) {
	if opts.Page < 0 {
		return opts, ValidationError{Field: "page", Reason: "must be at least 1"}
	}
	if opts.Limit < 0 {
		return opts, ValidationError{Field: "limit", Reason: "must be positive"}
	}
	if opts.Page == 0 {
		opts.Page = 1
	}
	if opts.Limit == 0 {
		opts.Limit = defaultLimit
	}
	if maxLimit > 0 && opts.Limit > maxLimit {
		opts.Limit = maxLimit
	}
	return opts, nil
}

// Registry maps marketplace names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// DefaultRegistry builds every adapter known to this build from cfg. It is
// the one place marketplaces are wired up.
func DefaultRegistry(cfg *config.Config, metrics *Metrics) (*Registry, error) {
	jumia, err := NewJumia(cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("jumia adapter: %w", err)
	}

	r := NewRegistry()
	r.Register(jumia)
	return r, nil
}

// Register adds or replaces the adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Name())] = a
}

// Get returns the adapter for name, or a ConfigurationError.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ConfigurationError{Marketplace: name}
	}
	return a, nil
}

// Names lists the registered marketplaces in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
