// Package sqlstore is the gorm-backed Catalog running on SQLite.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// productRecord is the products table row. Seq fixes insertion order.
// NameFolded holds the Unicode case-folded name; SQLite's LOWER only folds
// ASCII.
type productRecord struct {
	Seq        int64   `gorm:"primaryKey;autoIncrement"`
	ID         string  `gorm:"size:36;not null;uniqueIndex"`
	Name       string  `gorm:"size:255;not null"`
	NameFolded string  `gorm:"size:255;not null;default:'';index"`
	Category   string  `gorm:"size:100;not null"`
	Weight     *string `gorm:"size:50"`
	Quantity   *int
	Unit       *string `gorm:"size:50"`
	ImageURL   *string `gorm:"size:500"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (productRecord) TableName() string {
	return "products"
}

// priceRecord is the prices table row. Amounts are stored as text so the
// decimal survives SQLite's numeric affinity unchanged.
type priceRecord struct {
	Seq       int64           `gorm:"primaryKey;autoIncrement"`
	ID        string          `gorm:"size:36;not null;uniqueIndex"`
	ProductID string          `gorm:"size:36;not null;index"`
	Store     string          `gorm:"size:100;not null"`
	Price     decimal.Decimal `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (priceRecord) TableName() string {
	return "prices"
}

// Store implements store.Catalog on a gorm connection.
type Store struct {
	db *gorm.DB
}

var _ store.Catalog = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path and migrates
// the schema. Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %q: %w", dir, err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&productRecord{}, &priceRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	if err := backfillFolded(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("backfill folded names: %w", err)
	}
	return &Store{db: db}, nil
}

// backfillFolded fills name_folded for rows written before the column
// existed.
func backfillFolded(db *gorm.DB) error {
	var rows []productRecord
	if err := db.Where("name_folded = ''").Find(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		if err := db.Model(&productRecord{}).Where("seq = ?", r.Seq).Update("name_folded", foldName(r.Name)).Error; err != nil {
			return err
		}
	}
	return nil
}

func foldName(s string) string {
	return cases.Fold().String(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindByNameSubstring implements store.Catalog.
func (s *Store) FindByNameSubstring(ctx context.Context, text string, limit int) ([]models.Product, error) {
	pattern := "%" + likeEscaper.Replace(foldName(text)) + "%"
	q := s.db.WithContext(ctx).
		Where(`name_folded LIKE ? ESCAPE '\'`, pattern).
		Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []productRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.Wrap("find_by_name", err)
	}
	return toProducts(rows), nil
}

// InsertProduct implements store.Catalog.
func (s *Store) InsertProduct(ctx context.Context, p models.Product) error {
	row := productRecord{
		ID:         p.ID,
		Name:       p.Name,
		NameFolded: foldName(p.Name),
		Category:   p.Category,
		Weight:     p.Weight,
		Quantity:   p.Quantity,
		Unit:       p.Unit,
		ImageURL:   p.ImageURL,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.Wrap("insert_product", err)
	}
	return nil
}

// FindPricesByProductIDs implements store.Catalog.
func (s *Store) FindPricesByProductIDs(ctx context.Context, ids []string, limit int) ([]models.Price, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).
		Where("product_id IN ?", ids).
		Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []priceRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.Wrap("find_prices", err)
	}
	out := make([]models.Price, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Price{
			ID:        r.ID,
			ProductID: r.ProductID,
			Store:     r.Store,
			Price:     r.Price,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// InsertPrice implements store.Catalog.
func (s *Store) InsertPrice(ctx context.Context, p models.Price) error {
	row := priceRecord{
		ID:        p.ID,
		ProductID: p.ProductID,
		Store:     p.Store,
		Price:     p.Price,
		CreatedAt: p.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return store.Wrap("insert_price", err)
	}
	return nil
}

// FindAllProducts implements store.Catalog.
func (s *Store) FindAllProducts(ctx context.Context, limit int) ([]models.Product, error) {
	q := s.db.WithContext(ctx).Order("seq")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []productRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, store.Wrap("find_all", err)
	}
	return toProducts(rows), nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.Wrap("close", err)
	}
	return sqlDB.Close()
}

func toProducts(rows []productRecord) []models.Product {
	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Product{
			ID:        r.ID,
			Name:      r.Name,
			Category:  r.Category,
			Weight:    r.Weight,
			Quantity:  r.Quantity,
			Unit:      r.Unit,
			ImageURL:  r.ImageURL,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return out
}
