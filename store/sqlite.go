package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-market/models"
)

// Fixed-width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const productColumns = `marketplace, product_id, name, description, price, currency, product_url,
	images, rating, num_reviews, availability, category, raw, scraped_at, last_synced_at`

// SQLite is a Store on an embedded SQLite database with an FTS5 index over
// name and description.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and runs pending
// migrations. Pass ":memory:" for an in-memory database.
func OpenSQLite(dsn string) (*SQLite, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: avoids "database is locked" and keeps a :memory:
	// database alive across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	migrations, err := loadMigrations(migrationsFS, "migrations/sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", m.version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *SQLite) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Upsert implements Store. All records are written in one transaction.
func (s *SQLite) Upsert(ctx context.Context, products []models.CachedProduct) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (marketplace, product_id) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			product_url = excluded.product_url,
			images = excluded.images,
			rating = excluded.rating,
			num_reviews = excluded.num_reviews,
			availability = excluded.availability,
			category = excluded.category,
			raw = excluded.raw,
			scraped_at = excluded.scraped_at,
			last_synced_at = excluded.last_synced_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range products {
		images, err := json.Marshal(nonNilImages(p.Images))
		if err != nil {
			return fmt.Errorf("encode images for %s: %w", p.Key(), err)
		}
		raw, err := json.Marshal(p.Raw)
		if err != nil {
			return fmt.Errorf("encode raw for %s: %w", p.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx,
			p.Marketplace, p.ProductID, p.Name, p.Description, p.Price, p.Currency, p.ProductURL,
			string(images), nullRating(p.Rating), p.NumReviews, p.Availability, p.Category, string(raw),
			p.ScrapedAt.UTC().Format(sqliteTimeLayout), p.LastSyncedAt.UTC().Format(sqliteTimeLayout),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", p.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// QueryByText implements Store using an FTS5 prefix query per token.
func (s *SQLite) QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error) {
	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = `"` + t + `"*`
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE marketplace = ?
		  AND rowid IN (SELECT rowid FROM products_fts WHERE products_fts MATCH ?)
		ORDER BY scraped_at DESC
		LIMIT ?`,
		marketplace, strings.Join(terms, " OR "), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("text query: %w", err)
	}
	defer rows.Close()

	var products []models.CachedProduct
	for rows.Next() {
		p, err := scanSQLiteProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// FindByKey implements Store.
func (s *SQLite) FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE marketplace = ? AND product_id = ?`,
		marketplace, productID,
	)
	p, err := scanSQLiteProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedProduct{}, NotFoundError{Marketplace: marketplace, ProductID: productID}
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProduct(row rowScanner) (models.CachedProduct, error) {
	var (
		p                   models.CachedProduct
		images, raw         string
		rating              sql.NullFloat64
		scrapedAt, syncedAt string
	)
	if err := row.Scan(
		&p.Marketplace, &p.ProductID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.ProductURL,
		&images, &rating, &p.NumReviews, &p.Availability, &p.Category, &raw, &scrapedAt, &syncedAt,
	); err != nil {
		return models.CachedProduct{}, err
	}

	if rating.Valid {
		v := rating.Float64
		p.Rating = &v
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return models.CachedProduct{}, fmt.Errorf("decode images for %s: %w", p.Key(), err)
	}
	if err := json.Unmarshal([]byte(raw), &p.Raw); err != nil {
		return models.CachedProduct{}, fmt.Errorf("decode raw for %s: %w", p.Key(), err)
	}

	var err error
	if p.ScrapedAt, err = time.Parse(sqliteTimeLayout, scrapedAt); err != nil {
		return models.CachedProduct{}, fmt.Errorf("parse scraped_at: %w", err)
	}
	if p.LastSyncedAt, err = time.Parse(sqliteTimeLayout, syncedAt); err != nil {
		return models.CachedProduct{}, fmt.Errorf("parse last_synced_at: %w", err)
	}
	return p, nil
}

func nullRating(r *float64) sql.NullFloat64 {
	if r == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *r, Valid: true}
}

func nonNilImages(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}
