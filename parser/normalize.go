package parser

import (
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-market/models"
)

// Defaults for fields the listing pages do not carry.
const (
	DefaultCategory     = "Other"
	DefaultAvailability = "Unknown"
)

// Normalize maps a scraped listing onto the cached shape, stamping both
// timestamps with now. Missing optional fields are defaulted, never rejected.
func Normalize(p models.ScrapedProduct, now time.Time) models.CachedProduct {
	images := make([]string, 0, 1)
	if img := strings.TrimSpace(p.Image); img != "" {
		images = append(images, img)
	}

	category := DefaultCategory
	if value := strings.TrimSpace(p.Raw["category"]); value != "" {
		category = value
	}
	availability := DefaultAvailability
	if value := strings.TrimSpace(p.Raw["availability"]); value != "" {
		availability = value
	}

	return models.CachedProduct{
		Marketplace:  p.Marketplace,
		ProductID:    p.ProductID,
		Name:         p.Title,
		Description:  p.Title,
		Price:        p.Price,
		Currency:     p.Currency,
		ProductURL:   p.ProductURL,
		Images:       images,
		Rating:       copyRating(p.Rating),
		NumReviews:   p.ReviewsCount,
		Availability: availability,
		Category:     category,
		ScrapedAt:    now,
		LastSyncedAt: now,
		Raw:          copyRaw(p.Raw),
	}
}

// FromCached converts a cached record back to the listing shape returned by
// searches, so callers see one type whether results are live or cached.
func FromCached(c models.CachedProduct) models.ScrapedProduct {
	image := ""
	if len(c.Images) > 0 {
		image = c.Images[0]
	}
	return models.ScrapedProduct{
		Marketplace:  c.Marketplace,
		ProductID:    c.ProductID,
		Title:        c.Name,
		Price:        c.Price,
		Currency:     c.Currency,
		Image:        image,
		Rating:       copyRating(c.Rating),
		ReviewsCount: c.NumReviews,
		ProductURL:   c.ProductURL,
		Raw:          copyRaw(c.Raw),
	}
}

func copyRating(r *float64) *float64 {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

func copyRaw(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
