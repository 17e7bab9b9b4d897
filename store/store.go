// Package store defines the catalog persistence contract shared by the
// memory, sqlite and postgres backends.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-grocery-prices/models"
)

// ErrPersistence matches every error returned by a catalog backend.
var ErrPersistence = errors.New("store: persistence failure")

// PersistenceError wraps a failed catalog read or write. Callers may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence as a match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Retryable is always true; backends do not distinguish permanent faults.
func (e *PersistenceError) Retryable() bool {
	return true
}

// Wrap returns err as a *PersistenceError for op. Nil stays nil and an
// existing PersistenceError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// Catalog is the persistent product and price catalog.
type Catalog interface {
	// FindByNameSubstring returns up to limit products whose name contains
	// text, case-insensitively, in insertion order.
	FindByNameSubstring(ctx context.Context, text string, limit int) ([]models.Product, error)
	InsertProduct(ctx context.Context, p models.Product) error
	// FindPricesByProductIDs returns up to limit prices whose product id is
	// in ids, in insertion order.
	FindPricesByProductIDs(ctx context.Context, ids []string, limit int) ([]models.Price, error)
	InsertPrice(ctx context.Context, p models.Price) error
	// FindAllProducts returns up to limit products in insertion order.
	FindAllProducts(ctx context.Context, limit int) ([]models.Product, error)
	Close() error
}
