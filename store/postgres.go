package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aluiziolira/go-scrape-market/models"
)

// Postgres is a Store on PostgreSQL with a generated tsvector column for
// text search.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to connStr and runs pending migrations.
func OpenPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Postgres{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Ping checks the connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMPTZ DEFAULT NOW()
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	migrations, err := loadMigrations(migrationsFS, "migrations/postgres")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if err := s.apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Postgres) apply(ctx context.Context, m migration) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", m.version, err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_version WHERE version = $1)`, m.version).Scan(&exists); err != nil {
		return fmt.Errorf("checking migration %d: %w", m.version, err)
	}
	if exists {
		return nil
	}
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("applying migration %d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("recording migration %d: %w", m.version, err)
	}
	return tx.Commit(ctx)
}

// Upsert implements Store with one batched round trip inside a transaction.
func (s *Postgres) Upsert(ctx context.Context, products []models.CachedProduct) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range products {
		batch.Queue(`INSERT INTO products (`+productColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (marketplace, product_id) DO UPDATE SET
				price = EXCLUDED.price,
				currency = EXCLUDED.currency,
				product_url = EXCLUDED.product_url,
				images = EXCLUDED.images,
				rating = EXCLUDED.rating,
				num_reviews = EXCLUDED.num_reviews,
				availability = EXCLUDED.availability,
				category = EXCLUDED.category,
				raw = EXCLUDED.raw,
				scraped_at = EXCLUDED.scraped_at,
				last_synced_at = EXCLUDED.last_synced_at`,
			p.Marketplace, p.ProductID, p.Name, p.Description, p.Price, p.Currency, p.ProductURL,
			nonNilImages(p.Images), p.Rating, p.NumReviews, p.Availability, p.Category, nonNilRaw(p.Raw),
			p.ScrapedAt, p.LastSyncedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// QueryByText implements Store with a prefix tsquery per token.
func (s *Postgres) QueryByText(ctx context.Context, query, marketplace string, limit int) ([]models.CachedProduct, error) {
	tokens := searchTokens(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	terms := make([]string, len(tokens))
	for i, t := range tokens {
		terms[i] = t + ":*"
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE marketplace = $1 AND search_vector @@ to_tsquery('simple', $2)
		ORDER BY scraped_at DESC
		LIMIT $3`,
		marketplace, strings.Join(terms, " | "), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("text query: %w", err)
	}
	defer rows.Close()

	var products []models.CachedProduct
	for rows.Next() {
		p, err := scanPostgresProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// FindByKey implements Store.
func (s *Postgres) FindByKey(ctx context.Context, marketplace, productID string) (models.CachedProduct, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE marketplace = $1 AND product_id = $2`,
		marketplace, productID,
	)
	p, err := scanPostgresProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CachedProduct{}, NotFoundError{Marketplace: marketplace, ProductID: productID}
	}
	return p, err
}

func scanPostgresProduct(row rowScanner) (models.CachedProduct, error) {
	var p models.CachedProduct
	err := row.Scan(
		&p.Marketplace, &p.ProductID, &p.Name, &p.Description, &p.Price, &p.Currency, &p.ProductURL,
		&p.Images, &p.Rating, &p.NumReviews, &p.Availability, &p.Category, &p.Raw, &p.ScrapedAt, &p.LastSyncedAt,
	)
	if err != nil {
		return models.CachedProduct{}, err
	}
	p.ScrapedAt = p.ScrapedAt.UTC()
	p.LastSyncedAt = p.LastSyncedAt.UTC()
	return p, nil
}

func nonNilRaw(raw map[string]string) map[string]string {
	if raw == nil {
		return map[string]string{}
	}
	return raw
}
