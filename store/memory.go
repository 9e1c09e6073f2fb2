package store

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-market/models"
)

// Memory is a bounded in-process Store. Once size records are held, the
// least recently written one is evicted. It is the only driver that ever
// drops cached products, so it suits tests and throwaway runs rather than
// the durable fallback the sqlite and postgres drivers provide.
type Memory struct {
	products *lru.Cache[models.ProductKey, models.CachedProduct]
}

// NewMemory returns a memory store holding at most size products.
func NewMemory(size int) (*Memory, error) {
	c, err := lru.New[models.ProductKey, models.CachedProduct](size)
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	return &Memory{products: c}, nil
}

// Upsert implements Store.
func (m *Memory) Upsert(ctx context.Context, products []models.CachedProduct) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range products {
		key := p.Key()
		if existing, ok := m.products.Peek(key); ok {
			p = mergeExisting(existing, p)
		}
		m.products.Add(key, p)
	}
	return nil
}

// QueryByText implements Store.
func (m *Memory) QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	var matches []models.CachedProduct
	for _, key := range m.products.Keys() {
		if key.Marketplace != marketplace {
			continue
		}
		p, ok := m.products.Peek(key)
		if !ok {
			continue
		}
		if matchesAny(tokens, p.Name, p.Description) {
			matches = append(matches, p)
		}
	}

	sortNewestFirst(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindByKey implements Store.
func (m *Memory) FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	if err := ctx.Err(); err != nil {
		return models.CachedProduct{}, err
	}
	p, ok := m.products.Peek(models.ProductKey{Marketplace: marketplace, ProductID: productID})
	if !ok {
		return models.CachedProduct{}, NotFoundError{Marketplace: marketplace, ProductID: productID}
	}
	return p, nil
}

// Len returns the number of cached products.
func (m *Memory) Len() int {
	return m.products.Len()
}

// Close implements Store.
func (m *Memory) Close() error {
	m.products.Purge()
	return nil
}

// mergeExisting keeps the identity fields of the stored record and takes the
// mutable ones from the incoming record, matching the SQL drivers.
func mergeExisting(existing, incoming models.CachedProduct) models.CachedProduct {
	merged := existing
	merged.Price = incoming.Price
	merged.Currency = incoming.Currency
	merged.ProductURL = incoming.ProductURL
	merged.Images = incoming.Images
	merged.Rating = incoming.Rating
	merged.NumReviews = incoming.NumReviews
	merged.Availability = incoming.Availability
	merged.Category = incoming.Category
	merged.Raw = incoming.Raw
	merged.ScrapedAt = incoming.ScrapedAt
	merged.LastSyncedAt = incoming.LastSyncedAt
	return merged
}

func matchesAny(tokens []string, fields ...string) bool {
	for _, field := range fields {
		for _, word := range searchTokens(field) {
			for _, token := range tokens {
				if strings.HasPrefix(word, token) {
					return true
				}
			}
		}
	}
	return false
}
