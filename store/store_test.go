package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-market/models"
)

type driver struct {
	name string
	open func(t *testing.T) Store
}

var drivers = []driver{
	{name: "memory", open: func(t *testing.T) Store {
		s, err := NewMemory(100)
		if err != nil {
			t.Fatalf("NewMemory: %v", err)
		}
		return s
	}},
	{name: "sqlite", open: func(t *testing.T) Store {
		s, err := OpenSQLite(":memory:")
		if err != nil {
			t.Fatalf("OpenSQLite(:memory:) failed: %v", err)
		}
		return s
	}},
}

func forEachDriver(t *testing.T, fn func(t *testing.T, c *Cache, clock *testClock)) {
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			s := d.open(t)
			clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
			c := NewCache(s, 24*time.Hour, nil)
			c.now = clock.Now
			t.Cleanup(func() { c.Close() })
			fn(t, c, clock)
		})
	}
}

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func rating(v float64) *float64 { return &v }

func phone(id string, price float64) models.ScrapedProduct {
	return models.ScrapedProduct{
		Marketplace:  "jumia",
		ProductID:    id,
		Title:        "Tecno Spark Phone " + id,
		Price:        price,
		Currency:     "GHS",
		Image:        "https://img.jumia.test/" + id + ".jpg",
		Rating:       rating(4.5),
		ReviewsCount: 12,
		ProductURL:   "https://www.jumia.test/" + id + ".html",
		Raw:          map[string]string{"category": "Phones"},
	}
}

func TestCacheUpsertIsIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, clock *testClock) {
		ctx := context.Background()

		if r := c.Upsert(ctx, []models.ScrapedProduct{phone("TE1", 1000)}); r.Written != 1 || r.Failed != 0 {
			t.Fatalf("first upsert report = %+v", r)
		}
		first, err := c.FindByKey(ctx, "jumia", "TE1")
		if err != nil {
			t.Fatalf("find after first upsert: %v", err)
		}

		clock.Advance(time.Hour)
		if r := c.Upsert(ctx, []models.ScrapedProduct{phone("TE1", 899.99)}); r.Written != 1 {
			t.Fatalf("second upsert report = %+v", r)
		}

		got, err := c.QueryByText(ctx, "tecno", "jumia", 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("records = %d, want exactly one after repeated upsert", len(got))
		}
		p := got[0]
		if p.Price != 899.99 {
			t.Fatalf("price = %v, want latest 899.99", p.Price)
		}
		if !p.ScrapedAt.Equal(first.ScrapedAt.Add(time.Hour)) || !p.LastSyncedAt.Equal(p.ScrapedAt) {
			t.Fatalf("timestamps not restamped: scraped=%v synced=%v", p.ScrapedAt, p.LastSyncedAt)
		}
	})
}

func TestCacheUpsertNormalizes(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, clock *testClock) {
		ctx := context.Background()
		in := phone("TE2", 450)
		in.Image = ""
		in.Rating = nil
		in.Raw = nil

		c.Upsert(ctx, []models.ScrapedProduct{in})

		p, err := c.FindByKey(ctx, "jumia", "TE2")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if p.Name != in.Title || p.Description != in.Title {
			t.Errorf("name/description = %q/%q, want title", p.Name, p.Description)
		}
		if len(p.Images) != 0 {
			t.Errorf("images = %v, want empty", p.Images)
		}
		if p.Rating != nil {
			t.Errorf("rating = %v, want nil preserved", *p.Rating)
		}
		if p.Category != "Other" || p.Availability != "Unknown" {
			t.Errorf("category/availability = %q/%q, want defaults", p.Category, p.Availability)
		}
		if p.NumReviews != 12 || p.Currency != "GHS" {
			t.Errorf("unexpected record: %+v", p)
		}
		if !p.ScrapedAt.Equal(clock.Now()) {
			t.Errorf("scraped_at = %v, want %v", p.ScrapedAt, clock.Now())
		}
	})
}

func TestCacheUpsertEmpty(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, _ *testClock) {
		if r := c.Upsert(context.Background(), nil); r.Written != 0 || r.Failed != 0 || r.Err() != nil {
			t.Fatalf("empty upsert report = %+v", r)
		}
	})
}

func TestCacheUpsertCountsInvalidProducts(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, _ *testClock) {
		bad := phone("", 10)
		r := c.Upsert(context.Background(), []models.ScrapedProduct{phone("TE3", 10), bad})
		if r.Written != 1 || r.Failed != 1 || len(r.Errors) != 1 {
			t.Fatalf("report = %+v, want 1 written and 1 failed", r)
		}
	})
}

func TestCacheUpsertCanonicalizesMarketplace(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, _ *testClock) {
		ctx := context.Background()
		mixed := phone("X1", 100)
		mixed.Marketplace = " Jumia "
		lower := phone("X1", 90)

		if r := c.Upsert(ctx, []models.ScrapedProduct{mixed}); r.Written != 1 {
			t.Fatalf("report = %+v, want 1 written", r)
		}
		got, err := c.FindByKey(ctx, "jumia", "X1")
		if err != nil {
			t.Fatalf("find mixed-case write: %v", err)
		}
		if got.Marketplace != "jumia" {
			t.Errorf("marketplace = %q, want jumia", got.Marketplace)
		}
		if mixed.Marketplace != " Jumia " {
			t.Errorf("caller's product was modified: %q", mixed.Marketplace)
		}

		c.Upsert(ctx, []models.ScrapedProduct{lower})
		results, err := c.QueryByText(ctx, "tecno", "JUMIA", 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 1 || results[0].Price != 90 {
			t.Fatalf("results = %+v, want one record updated to price 90", results)
		}

		blank := phone("X2", 50)
		blank.Marketplace = ""
		r := c.Upsert(ctx, []models.ScrapedProduct{blank})
		if r.Written != 0 || r.Failed != 1 {
			t.Fatalf("report = %+v, want the blank marketplace counted as failed", r)
		}
	})
}

func TestCacheQueryByText(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, clock *testClock) {
		ctx := context.Background()

		older := phone("OLD1", 100)
		c.Upsert(ctx, []models.ScrapedProduct{older})
		clock.Advance(time.Minute)

		newer := phone("NEW1", 200)
		kettle := phone("KT1", 50)
		kettle.Title = "Electric Kettle 1.7L"
		other := phone("KN1", 300)
		other.Marketplace = "konga"
		c.Upsert(ctx, []models.ScrapedProduct{newer, kettle, other})

		got, err := c.QueryByText(ctx, "phone", "jumia", 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("results = %d, want 2 jumia phones", len(got))
		}
		if got[0].ProductID != "NEW1" || got[1].ProductID != "OLD1" {
			t.Fatalf("order = %s, %s, want newest first", got[0].ProductID, got[1].ProductID)
		}

		limited, err := c.QueryByText(ctx, "phone", "JUMIA", 1)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(limited) != 1 || limited[0].ProductID != "NEW1" {
			t.Fatalf("limited = %+v, want only NEW1", limited)
		}

		prefix, err := c.QueryByText(ctx, "kett", "jumia", 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(prefix) != 1 || prefix[0].ProductID != "KT1" {
			t.Fatalf("prefix match = %+v, want KT1", prefix)
		}

		none, err := c.QueryByText(ctx, "xyzzy-nonexistent", "jumia", 10)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(none) != 0 {
			t.Fatalf("results = %d, want none", len(none))
		}

		blank, err := c.QueryByText(ctx, " \"*() ", "jumia", 10)
		if err != nil || len(blank) != 0 {
			t.Fatalf("blank query = %v, %v, want nothing", blank, err)
		}
	})
}

func TestCacheFindByKeyNotFound(t *testing.T) {
	forEachDriver(t, func(t *testing.T, c *Cache, _ *testClock) {
		_, err := c.FindByKey(context.Background(), "jumia", "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		var notFound NotFoundError
		if !errors.As(err, &notFound) || notFound.ProductID != "missing" {
			t.Fatalf("err = %v, want NotFoundError for missing", err)
		}
	})
}

func TestIsFresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{name: "just scraped", age: 0, want: true},
		{name: "within ttl", age: 23 * time.Hour, want: true},
		{name: "at ttl", age: 24 * time.Hour, want: false},
		{name: "stale", age: 48 * time.Hour, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := models.CachedProduct{ScrapedAt: now.Add(-tt.age)}
			if got := IsFresh(p, 24*time.Hour, now); got != tt.want {
				t.Fatalf("IsFresh(age=%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Upsert(context.Context, []models.CachedProduct) error { return f.err }

type countingRecorder struct {
	written, failed int
}

func (r *countingRecorder) AddCacheWrites(written, failed int) {
	r.written += written
	r.failed += failed
}

func TestCacheUpsertSwallowsStoreFailure(t *testing.T) {
	recorder := &countingRecorder{}
	boom := errors.New("disk full")
	c := NewCache(failingStore{err: boom}, time.Hour, recorder)

	r := c.Upsert(context.Background(), []models.ScrapedProduct{phone("A1", 1), phone("A2", 2)})

	if r.Written != 0 || r.Failed != 2 {
		t.Fatalf("report = %+v, want 2 failed", r)
	}
	if !errors.Is(r.Err(), boom) {
		t.Fatalf("report error = %v, want %v", r.Err(), boom)
	}
	if recorder.failed != 2 || recorder.written != 0 {
		t.Fatalf("recorder = %+v", recorder)
	}
}

func TestSearchTokens(t *testing.T) {
	got := searchTokens(`Samsung "Galaxy" A15, samsung 128GB!`)
	want := []string{"samsung", "galaxy", "a15", "128gb"}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", got, want)
		}
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	m, err := NewMemory(2)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		if err := m.Upsert(ctx, []models.CachedProduct{{Marketplace: "jumia", ProductID: id, Name: id}}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if m.Len() != 2 {
		t.Fatalf("len = %d, want 2", m.Len())
	}
	if _, err := m.FindByKey(ctx, "jumia", "A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest record should be evicted, err = %v", err)
	}
}
