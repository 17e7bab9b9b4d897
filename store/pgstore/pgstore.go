// Package pgstore is the PostgreSQL Catalog built on a pgx connection pool.
package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		category   TEXT NOT NULL,
		weight     TEXT,
		quantity   INTEGER,
		unit       TEXT,
		image_url  TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS products_name_idx ON products (name)`,
	`CREATE TABLE IF NOT EXISTS prices (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		product_id TEXT NOT NULL,
		store      TEXT NOT NULL,
		price      NUMERIC NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS prices_product_id_idx ON prices (product_id)`,
	// Earlier schemas capped prices at two decimal places.
	`ALTER TABLE prices ALTER COLUMN price TYPE NUMERIC`,
}

const productColumns = `id, name, category, weight, quantity, unit, image_url, created_at, updated_at`

// Store implements store.Catalog on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Catalog = (*Store)(nil)

// Open connects to databaseURL, verifies the connection and creates the
// schema when missing.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool without touching the schema.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindByNameSubstring implements store.Catalog.
func (s *Store) FindByNameSubstring(ctx context.Context, text string, limit int) ([]models.Product, error) {
	pattern := "%" + likeEscaper.Replace(text) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE name ILIKE $1 ESCAPE '\' ORDER BY seq LIMIT $2`,
		pattern, limitOrAll(limit))
	if err != nil {
		return nil, store.Wrap("find_by_name", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, store.Wrap("find_by_name", err)
	}
	return products, nil
}

// InsertProduct implements store.Catalog.
func (s *Store) InsertProduct(ctx context.Context, p models.Product) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Name, p.Category, p.Weight, p.Quantity, p.Unit, p.ImageURL, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return store.Wrap("insert_product", err)
	}
	return nil
}

// FindPricesByProductIDs implements store.Catalog.
func (s *Store) FindPricesByProductIDs(ctx context.Context, ids []string, limit int) ([]models.Price, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, store, price::text, created_at FROM prices
		 WHERE product_id = ANY($1) ORDER BY seq LIMIT $2`,
		ids, limitOrAll(limit))
	if err != nil {
		return nil, store.Wrap("find_prices", err)
	}
	prices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Price, error) {
		var (
			p      models.Price
			amount string
		)
		if err := row.Scan(&p.ID, &p.ProductID, &p.Store, &amount, &p.CreatedAt); err != nil {
			return p, err
		}
		value, err := decimal.NewFromString(amount)
		if err != nil {
			return p, fmt.Errorf("parse price %q: %w", amount, err)
		}
		p.Price = value
		return p, nil
	})
	if err != nil {
		return nil, store.Wrap("find_prices", err)
	}
	return prices, nil
}

// InsertPrice implements store.Catalog.
func (s *Store) InsertPrice(ctx context.Context, p models.Price) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prices (id, product_id, store, price, created_at) VALUES ($1, $2, $3, $4::numeric, $5)`,
		p.ID, p.ProductID, p.Store, p.Price.String(), p.CreatedAt)
	if err != nil {
		return store.Wrap("insert_price", err)
	}
	return nil
}

// FindAllProducts implements store.Catalog.
func (s *Store) FindAllProducts(ctx context.Context, limit int) ([]models.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY seq LIMIT $1`, limitOrAll(limit))
	if err != nil {
		return nil, store.Wrap("find_all", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return nil, store.Wrap("find_all", err)
	}
	return products, nil
}

// Close releases every pooled connection.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectProducts(rows pgx.Rows) ([]models.Product, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Product, error) {
		var (
			p                models.Product
			created, updated time.Time
		)
		err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Weight, &p.Quantity, &p.Unit, &p.ImageURL, &created, &updated)
		p.CreatedAt = created.UTC()
		p.UpdatedAt = updated.UTC()
		return p, err
	})
}

// limitOrAll maps a non-positive limit to NULL, which LIMIT treats as no limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
