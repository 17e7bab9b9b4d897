// Package memory is an in-process Catalog used by tests and the memory
// store driver.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/store"
	"golang.org/x/text/cases"
)

// Operation names accepted by Fail.
const (
	OpFindByName    = "find_by_name"
	OpInsertProduct = "insert_product"
	OpFindPrices    = "find_prices"
	OpInsertPrice   = "insert_price"
	OpFindAll       = "find_all"
)

// Store keeps products and prices in insertion order.
type Store struct {
	mu       sync.Mutex
	fold     cases.Caser
	products []models.Product
	folded   []string
	prices   []models.Price
	ids      map[string]struct{}
	faults   map[string]error
	closed   bool
}

var _ store.Catalog = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		fold:   cases.Fold(),
		ids:    make(map[string]struct{}),
		faults: make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears the fault.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return store.Wrap(op, err)
	}
	if s.closed {
		return store.Wrap(op, fmt.Errorf("store closed"))
	}
	if err, ok := s.faults[op]; ok {
		return store.Wrap(op, err)
	}
	return nil
}

// FindByNameSubstring implements store.Catalog.
func (s *Store) FindByNameSubstring(ctx context.Context, text string, limit int) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpFindByName); err != nil {
		return nil, err
	}

	needle := s.fold.String(text)
	var out []models.Product
	for i, p := range s.products {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.Contains(s.folded[i], needle) {
			out = append(out, p)
		}
	}
	return out, nil
}

// InsertProduct implements store.Catalog.
func (s *Store) InsertProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpInsertProduct); err != nil {
		return err
	}
	if _, ok := s.ids[p.ID]; ok {
		return store.Wrap(OpInsertProduct, fmt.Errorf("duplicate product id %s", p.ID))
	}
	s.ids[p.ID] = struct{}{}
	s.products = append(s.products, p)
	s.folded = append(s.folded, s.fold.String(p.Name))
	return nil
}

// FindPricesByProductIDs implements store.Catalog.
func (s *Store) FindPricesByProductIDs(ctx context.Context, ids []string, limit int) ([]models.Price, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpFindPrices); err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	var out []models.Price
	for _, p := range s.prices {
		if limit > 0 && len(out) >= limit {
			break
		}
		if _, ok := wanted[p.ProductID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// InsertPrice implements store.Catalog.
func (s *Store) InsertPrice(ctx context.Context, p models.Price) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpInsertPrice); err != nil {
		return err
	}
	if _, ok := s.ids[p.ID]; ok {
		return store.Wrap(OpInsertPrice, fmt.Errorf("duplicate price id %s", p.ID))
	}
	s.ids[p.ID] = struct{}{}
	s.prices = append(s.prices, p)
	return nil
}

// FindAllProducts implements store.Catalog.
func (s *Store) FindAllProducts(ctx context.Context, limit int) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, OpFindAll); err != nil {
		return nil, err
	}
	n := len(s.products)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Product, n)
	copy(out, s.products[:n])
	return out, nil
}

// Prices returns every recorded price in insertion order.
func (s *Store) Prices() []models.Price {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Price, len(s.prices))
	copy(out, s.prices)
	return out
}

// Close implements store.Catalog. Later calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
