package parser

import (
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-market/models"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rating := 4.5
	p := models.ScrapedProduct{
		Marketplace:  "jumia",
		ProductID:    "TE298MP4AB",
		Title:        "Tecno Spark 20",
		Price:        1899,
		Currency:     "GHS",
		Image:        "https://img.example/spark.jpg",
		Rating:       &rating,
		ReviewsCount: 42,
		ProductURL:   "https://www.jumia.com.gh/tecno-spark-20-TE298MP4AB.html",
		Raw:          map[string]string{"brand": "Tecno"},
	}

	got := Normalize(p, now)

	if got.Name != p.Title || got.Description != p.Title {
		t.Errorf("name/description = %q/%q, want title %q", got.Name, got.Description, p.Title)
	}
	if len(got.Images) != 1 || got.Images[0] != p.Image {
		t.Errorf("images = %v, want [%s]", got.Images, p.Image)
	}
	if got.Rating == nil || *got.Rating != 4.5 {
		t.Errorf("rating = %v, want 4.5", got.Rating)
	}
	if got.NumReviews != 42 {
		t.Errorf("num reviews = %d, want 42", got.NumReviews)
	}
	if got.Category != DefaultCategory || got.Availability != DefaultAvailability {
		t.Errorf("category/availability = %q/%q, want defaults", got.Category, got.Availability)
	}
	if !got.ScrapedAt.Equal(now) || !got.LastSyncedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", got.ScrapedAt, got.LastSyncedAt, now)
	}

	p.Raw["brand"] = "mutated"
	if got.Raw["brand"] != "Tecno" {
		t.Errorf("raw should be copied, got %q", got.Raw["brand"])
	}
}

func TestNormalizeKeepsMissingRatingNil(t *testing.T) {
	got := Normalize(models.ScrapedProduct{Marketplace: "jumia", ProductID: "X1", Title: "Kettle"}, time.Now())
	if got.Rating != nil {
		t.Fatalf("rating = %v, want nil", *got.Rating)
	}
	if len(got.Images) != 0 {
		t.Fatalf("images = %v, want empty", got.Images)
	}

	back := FromCached(got)
	if back.Rating != nil {
		t.Fatalf("round-tripped rating = %v, want nil", *back.Rating)
	}
}

func TestNormalizeUsesRawDetailFields(t *testing.T) {
	got := Normalize(models.ScrapedProduct{
		Marketplace: "jumia",
		ProductID:   "X1",
		Title:       "Kettle",
		Raw:         map[string]string{"category": "Home", "availability": "In stock"},
	}, time.Now())
	if got.Category != "Home" || got.Availability != "In stock" {
		t.Fatalf("category/availability = %q/%q, want Home/In stock", got.Category, got.Availability)
	}
}

func TestFromCached(t *testing.T) {
	c := models.CachedProduct{
		Marketplace: "jumia",
		ProductID:   "X1",
		Name:        "Kettle",
		Price:       120,
		Currency:    "GHS",
		Images:      []string{"a.jpg", "b.jpg"},
		NumReviews:  3,
		ProductURL:  "https://shop.example/kettle-X1.html",
	}
	got := FromCached(c)
	if got.Title != "Kettle" || got.Image != "a.jpg" || got.ReviewsCount != 3 || got.Price != 120 {
		t.Fatalf("unexpected conversion: %+v", got)
	}
}
