package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-market/models"
)

// TestSQLiteMigrationsIdempotent opens the same file twice and checks the
// migration is not re-applied.
func TestSQLiteMigrationsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cache", "products.db")

	s1, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) == 0 || len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "products.db")
	ctx := context.Background()
	scraped := time.Date(2026, 2, 14, 9, 30, 0, 123456789, time.UTC)

	s1, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	err = s1.Upsert(ctx, []models.CachedProduct{{
		Marketplace:  "jumia",
		ProductID:    "TE9",
		Name:         "Rice Cooker",
		Description:  "Rice Cooker",
		Price:        350,
		Images:       []string{"https://img.jumia.test/te9.jpg"},
		Rating:       rating(3.5),
		Raw:          map[string]string{"brand": "Nasco"},
		ScrapedAt:    scraped,
		LastSyncedAt: scraped,
	}})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	p, err := s2.FindByKey(ctx, "jumia", "TE9")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !p.ScrapedAt.Equal(scraped) {
		t.Fatalf("scraped_at = %v, want %v", p.ScrapedAt, scraped)
	}
	if p.Rating == nil || *p.Rating != 3.5 {
		t.Fatalf("rating = %v, want 3.5", p.Rating)
	}
	if len(p.Images) != 1 || p.Raw["brand"] != "Nasco" {
		t.Fatalf("unexpected record: %+v", p)
	}

	got, err := s2.QueryByText(ctx, "rice", "jumia", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("text index lost on reopen: %d results", len(got))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	if v, err := parseMigrationVersion("001_products.sql"); err != nil || v != 1 {
		t.Fatalf("parseMigrationVersion = %d, %v", v, err)
	}
	if _, err := parseMigrationVersion("products.sql"); err == nil {
		t.Fatalf("expected error for unnumbered file")
	}
}

func TestLoadMigrationsOrdered(t *testing.T) {
	for _, dir := range []string{"migrations/sqlite", "migrations/postgres"} {
		ms, err := loadMigrations(migrationsFS, dir)
		if err != nil {
			t.Fatalf("%s: %v", dir, err)
		}
		if len(ms) == 0 {
			t.Fatalf("%s: no migrations embedded", dir)
		}
		for i := 1; i < len(ms); i++ {
			if ms[i].version <= ms[i-1].version {
				t.Fatalf("%s: versions out of order: %d then %d", dir, ms[i-1].version, ms[i].version)
			}
		}
	}
}
