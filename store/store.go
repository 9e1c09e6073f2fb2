// Package store persists normalized products keyed by (marketplace,
// productId) and serves them back as a fallback when live scraping fails.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/aluiziolira/go-scrape-market/models"
	"github.com/aluiziolira/go-scrape-market/parser"
)

// ErrNotFound matches every NotFoundError via errors.Is.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a lookup for a product that was never cached.
type NotFoundError struct {
	Marketplace string
	ProductID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("product %s/%s not found", e.Marketplace, e.ProductID)
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Store is a durable product cache. Upsert is keyed by (marketplace,
// productId): an existing record has its mutable fields and timestamps
// overwritten, and a missing one is created. Implementations must be safe
// for concurrent use.
type Store interface {
	Upsert(ctx context.Context, products []models.CachedProduct) error
	// QueryByText matches any query token as a prefix of a word in the
	// name or description, newest scrape first.
	QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error)
	FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error)
	Close() error
}

// Recorder receives cache write counts. *scraper.Metrics implements it.
type Recorder interface {
	AddCacheWrites(written, failed int)
}

// Report summarises a best-effort upsert.
type Report struct {
	Written int
	Failed  int
	Errors  []error
}

// Err joins the swallowed errors, or returns nil when there were none.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// IsFresh reports whether p was scraped less than ttl before now.
func IsFresh(p models.CachedProduct, ttl time.Duration, now time.Time) bool {
	return now.Sub(p.ScrapedAt) < ttl
}

// Cache wraps a Store with normalization and the never-fail write policy.
type Cache struct {
	store    Store
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder
}

// NewCache returns a cache over s. recorder may be nil.
func NewCache(s Store, ttl time.Duration, recorder Recorder) *Cache {
	return &Cache{
		store:    s,
		ttl:      ttl,
		now:      time.Now,
		recorder: recorder,
	}
}

// Upsert normalizes products and writes them. Persistence failures are
// logged and counted in the returned Report, never returned to the caller.
func (c *Cache) Upsert(ctx context.Context, products []models.ScrapedProduct) Report {
	var report Report
	if len(products) == 0 {
		return report
	}

	now := c.now().UTC()
	records := make([]models.CachedProduct, 0, len(products))
	for _, p := range products {
		// Reads look marketplaces up lowercased, so writes must store them that way.
		p.Marketplace = strings.ToLower(strings.TrimSpace(p.Marketplace))
		if err := parser.ValidateProduct(&p); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			continue
		}
		records = append(records, parser.Normalize(p, now))
	}

	if len(records) > 0 {
		if err := c.store.Upsert(ctx, records); err != nil {
			report.Failed += len(records)
			report.Errors = append(report.Errors, err)
		} else {
			report.Written = len(records)
		}
	}

	if c.recorder != nil {
		c.recorder.AddCacheWrites(report.Written, report.Failed)
	}
	if report.Failed > 0 {
		slog.Warn("cache upsert incomplete",
			slog.Int("written", report.Written),
			slog.Int("failed", report.Failed),
			slog.Any("error", report.Err()),
		)
	} else {
		slog.Debug("cache upsert", slog.Int("written", report.Written))
	}
	return report
}

// QueryByText searches cached products. A blank query matches nothing.
func (c *Cache) QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error) {
	if len(searchTokens(query)) == 0 || limit <= 0 {
		return nil, nil
	}
	products, err := c.store.QueryByText(ctx, query, strings.ToLower(marketplace), limit)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	return products, nil
}

// FindByKey returns the cached product or a NotFoundError.
func (c *Cache) FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	return c.store.FindByKey(ctx, strings.ToLower(marketplace), productID)
}

// IsFresh reports whether p is within the cache TTL.
func (c *Cache) IsFresh(p models.CachedProduct) bool {
	return IsFresh(p, c.ttl, c.now())
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}

// searchTokens lowercases query and splits it into alphanumeric words. The
// drivers build their text queries from these, so no user punctuation
// reaches a query language.
func searchTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func sortNewestFirst(products []models.CachedProduct) {
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].ScrapedAt.After(products[j].ScrapedAt)
	})
}
