// Package search is the single entry point for product searches. It owns the
// live-versus-cache decision: results come from the marketplace when it
// answers and from the product cache when it does not.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/go-scrape-market/config"
	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/parser"
	"github.com/aluiziolira/go-scrape-market/scraper"
	"github.com/aluiziolira/go-scrape-market/store"
)

// Source says where a result set came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// Adapters resolves marketplace names. *scraper.Registry implements it.
type Adapters interface {
	Get(name string) (scraper.Adapter, error)
}

// Cache is the product cache as seen by the orchestrator. *store.Cache
// implements it.
type Cache interface {
	Upsert(ctx context.Context, products []models.ScrapedProduct) store.Report
	QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error)
	FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error)
	IsFresh(p models.CachedProduct) bool
}

// Dispatcher accepts products for a background cache write.
// *pipeline.Pipeline implements it.
type Dispatcher interface {
	Process(products ...models.ScrapedProduct) error
}

// Outcome is the full result of a search.
type Outcome struct {
	Products []models.ScrapedProduct
	Source   Source
	// Cache reports the awaited upsert of live results. It is zero when the
	// write was dispatched asynchronously or results came from the cache.
	Cache store.Report
	// LiveErr is the scrape failure that a cache fallback recovered from.
	LiveErr error
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithAsyncCache hands live results to d instead of awaiting the upsert.
// Results are returned before they are durable.
func WithAsyncCache(d Dispatcher) Option {
	return func(o *Orchestrator) {
		o.async = d
	}
}

// Orchestrator coordinates adapters and the cache.
type Orchestrator struct {
	adapters           Adapters
	cache              Cache
	defaultMarketplace string
	defaultLimit       int
	maxLimit           int
	async              Dispatcher
	metrics            *scraper.Metrics

	flights singleflight.Group
}

// New builds an orchestrator. metrics may be nil.
func New(adapters Adapters, cache Cache, cfg *config.Config, metrics *scraper.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:           adapters,
		cache:              cache,
		defaultMarketplace: strings.ToLower(cfg.DefaultMarketplace),
		defaultLimit:       cfg.DefaultLimit,
		maxLimit:           cfg.MaxProductsPerSearch,
		metrics:            metrics,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SearchProducts returns products for query, live when possible and from
// the cache when the marketplace fails. It errors only when both are empty
// handed, returning the scrape error.
func (o *Orchestrator) SearchProducts(ctx context.Context, query string, opts models.SearchOptions) ([]models.ScrapedProduct, error) {
	outcome, err := o.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return outcome.Products, nil
}

// Search is SearchProducts with result metadata. Identical concurrent
// searches share one scrape. The scrape is detached from ctx cancellation
// so an abandoned request still populates the cache.
func (o *Orchestrator) Search(ctx context.Context, query string, opts models.SearchOptions) (Outcome, error) {
	marketplace := o.marketplace(opts.Marketplace)
	adapter, err := o.adapters.Get(marketplace)
	if err != nil {
		return Outcome{}, err
	}

	q, err := scraper.ValidateQuery(query)
	if err != nil {
		return Outcome{}, err
	}
	opts, err = scraper.NormalizeOptions(opts, o.defaultLimit, o.maxLimit)
	if err != nil {
		return Outcome{}, err
	}
	opts.Marketplace = marketplace

	key := flightKey(marketplace, q, opts)
	v, err, shared := o.flights.Do(key, func() (any, error) {
		return o.live(context.WithoutCancel(ctx), adapter, q, opts)
	})
	if err == nil {
		outcome := v.(Outcome)
		outcome.Products = cloneProducts(outcome.Products)
		if shared {
			slog.Debug("search shared in-flight scrape", slog.String("key", key))
		}
		o.metrics.IncSearch(marketplace, string(SourceLive))
		return outcome, nil
	}

	return o.fallback(ctx, q, opts, err)
}

func (o *Orchestrator) live(ctx context.Context, adapter scraper.Adapter, query string, opts models.SearchOptions) (Outcome, error) {
	products, err := adapter.Search(ctx, query, opts)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Products: products, Source: SourceLive}
	if o.async != nil {
		if err := o.async.Process(products...); err != nil {
			slog.Warn("async cache dispatch failed",
				slog.String("marketplace", opts.Marketplace),
				slog.Int("products", len(products)),
				slog.Any("error", err),
			)
		}
		return outcome, nil
	}
	outcome.Cache = o.cache.Upsert(ctx, products)
	return outcome, nil
}

func (o *Orchestrator) fallback(ctx context.Context, query string, opts models.SearchOptions, liveErr error) (Outcome, error) {
	cached, err := o.cache.QueryByText(ctx, query, opts.Marketplace, opts.Limit)
	if err != nil {
		slog.Error("cache fallback query failed",
			slog.String("marketplace", opts.Marketplace),
			slog.String("query", query),
			slog.Any("error", err),
		)
	}
	if len(cached) == 0 {
		o.metrics.IncSearch(opts.Marketplace, "failed")
		return Outcome{}, liveErr
	}

	products := make([]models.ScrapedProduct, len(cached))
	for i, c := range cached {
		products[i] = parser.FromCached(c)
	}

	slog.Warn("live search failed, serving cached results",
		slog.String("marketplace", opts.Marketplace),
		slog.String("query", query),
		slog.Int("results", len(products)),
		slog.Any("error", liveErr),
	)
	o.metrics.IncSearch(opts.Marketplace, string(SourceCache))
	return Outcome{Products: products, Source: SourceCache, LiveErr: liveErr}, nil
}

// CacheProducts upserts products into the cache. It never fails; the report
// counts what was written and what was swallowed.
func (o *Orchestrator) CacheProducts(ctx context.Context, products []models.ScrapedProduct) store.Report {
	return o.cache.Upsert(ctx, products)
}

// GetProductByMarketplaceID returns the cached product or a
// store.NotFoundError.
func (o *Orchestrator) GetProductByMarketplaceID(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return models.CachedProduct{}, scraper.ValidationError{Field: "productId", Reason: "must not be empty"}
	}
	return o.cache.FindByKey(ctx, o.marketplace(marketplace), productID)
}

// IsFresh reports whether p is within the configured product TTL.
func (o *Orchestrator) IsFresh(p models.CachedProduct) bool {
	return o.cache.IsFresh(p)
}

// RefreshProductData re-scrapes a cached product and stores the result. The
// product must already be cached. When the scrape fails the cached record
// is left as it was and the error is returned.
func (o *Orchestrator) RefreshProductData(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	existing, err := o.GetProductByMarketplaceID(ctx, marketplace, productID)
	if err != nil {
		return models.CachedProduct{}, err
	}
	adapter, err := o.adapters.Get(existing.Marketplace)
	if err != nil {
		return models.CachedProduct{}, err
	}

	fresh, err := adapter.ProductDetails(ctx, models.ProductRef{ID: existing.ProductID, URL: existing.ProductURL})
	if err != nil {
		slog.Warn("product refresh failed, keeping cached record",
			slog.String("product", existing.Key().String()),
			slog.Any("error", err),
		)
		return models.CachedProduct{}, err
	}

	refreshed := carryOver(existing, *fresh)
	report := o.cache.Upsert(ctx, []models.ScrapedProduct{refreshed})
	if report.Failed > 0 {
		return models.CachedProduct{}, fmt.Errorf("refresh %s: %w", existing.Key(), report.Err())
	}
	return o.cache.FindByKey(ctx, existing.Marketplace, existing.ProductID)
}

func (o *Orchestrator) marketplace(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return o.defaultMarketplace
	}
	return name
}

// carryOver pins the identity of a refreshed product to the cached record
// and keeps cached values the detail page did not provide.
func carryOver(existing models.CachedProduct, fresh models.ScrapedProduct) models.ScrapedProduct {
	fresh.Marketplace = existing.Marketplace
	fresh.ProductID = existing.ProductID
	if fresh.ProductURL == "" {
		fresh.ProductURL = existing.ProductURL
	}
	if fresh.Image == "" && len(existing.Images) > 0 {
		fresh.Image = existing.Images[0]
	}
	if fresh.Currency == "" {
		fresh.Currency = existing.Currency
	}

	raw := make(map[string]string, len(fresh.Raw)+2)
	for k, v := range fresh.Raw {
		raw[k] = v
	}
	if raw["category"] == "" && existing.Category != "" && existing.Category != parser.DefaultCategory {
		raw["category"] = existing.Category
	}
	if raw["availability"] == "" && existing.Availability != "" && existing.Availability != parser.DefaultAvailability {
		raw["availability"] = existing.Availability
	}
	fresh.Raw = raw
	return fresh
}

func flightKey(marketplace, query string, opts models.SearchOptions) string {
	return strings.Join([]string{
		marketplace,
		strings.ToLower(query),
		strconv.Itoa(opts.Page),
		strconv.Itoa(opts.Limit),
	}, "\x00")
}

func cloneProducts(in []models.ScrapedProduct) []models.ScrapedProduct {
	if in == nil {
		return nil
	}
	out := make([]models.ScrapedProduct, len(in))
	copy(out, in)
	return out
}
