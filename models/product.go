// Package models defines data structures shared by the scraper, cache and
// search layers.
package models

import "time"

// ScrapedProduct is a single listing as extracted from a marketplace page.
// Rating is nil when the listing carried no rating markup.
type ScrapedProduct struct {
	Marketplace  string            `json:"marketplace" csv:"marketplace"`
	ProductID    string            `json:"productId" csv:"product_id"`
	Title        string            `json:"title" csv:"title"`
	Price        float64           `json:"price" csv:"price"`
	Currency     string            `json:"currency" csv:"currency"`
	Image        string            `json:"image" csv:"image"`
	Rating       *float64          `json:"rating" csv:"rating"`
	ReviewsCount int               `json:"reviewsCount" csv:"reviews_count"`
	ProductURL   string            `json:"productUrl" csv:"product_url"`
	Raw          map[string]string `json:"raw,omitempty" csv:"-"`
}

// Key returns the natural identity of the product.
func (p ScrapedProduct) Key() ProductKey {
	return ProductKey{Marketplace: p.Marketplace, ProductID: p.ProductID}
}

// CachedProduct is the persisted form of a ScrapedProduct.
type CachedProduct struct {
	Marketplace  string            `json:"marketplace"`
	ProductID    string            `json:"productId"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Price        float64           `json:"price"`
	Currency     string            `json:"currency"`
	ProductURL   string            `json:"productUrl"`
	Images       []string          `json:"images"`
	Rating       *float64          `json:"rating"`
	NumReviews   int               `json:"numReviews"`
	Availability string            `json:"availability"`
	Category     string            `json:"category"`
	ScrapedAt    time.Time         `json:"scrapedAt"`
	LastSyncedAt time.Time         `json:"lastSyncedAt"`
	Raw          map[string]string `json:"raw,omitempty"`
}

// Key returns the natural identity of the product.
func (p CachedProduct) Key() ProductKey {
	return ProductKey{Marketplace: p.Marketplace, ProductID: p.ProductID}
}

// ProductKey is the (marketplace, productId) pair that identifies a product.
type ProductKey struct {
	Marketplace string
	ProductID   string
}

func (k ProductKey) String() string {
	return k.Marketplace + "/" + k.ProductID
}

// SearchOptions narrows a search. Zero values are replaced with defaults.
type SearchOptions struct {
	Marketplace string `json:"marketplace,omitempty"`
	Page        int    `json:"page,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ProductRef points at a single listing for detail scraping.
type ProductRef struct {
	ID  string
	URL string
}
