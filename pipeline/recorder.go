package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidObservation is returned for a price that cannot be recorded.
var ErrInvalidObservation = errors.New("pipeline: invalid price observation")

// PriceStore persists price observations.
type PriceStore interface {
	InsertPrice(ctx context.Context, p models.Price) error
}

// Recorder appends immutable price observations to a PriceStore and,
// optionally, to a Journal.
type Recorder struct {
	prices  PriceStore
	journal *Journal
	now     func() time.Time
	newID   func() string
}

// NewRecorder builds a recorder. journal may be nil; a nil now uses time.Now.
func NewRecorder(prices PriceStore, journal *Journal, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		prices:  prices,
		journal: journal,
		now:     now,
		newID:   uuid.NewString,
	}
}

// Record stores one observation of price for productID at storeName. Store
// failures come back as *store.PersistenceError. Journal failures are only
// logged.
func (r *Recorder) Record(ctx context.Context, productID, storeName string, price decimal.Decimal) (models.Price, error) {
	if strings.TrimSpace(productID) == "" || strings.TrimSpace(storeName) == "" {
		return models.Price{}, fmt.Errorf("%w: product id and store are required", ErrInvalidObservation)
	}
	if price.IsNegative() {
		return models.Price{}, fmt.Errorf("%w: negative price %s", ErrInvalidObservation, price)
	}

	obs := models.Price{
		ID:        r.newID(),
		ProductID: productID,
		Store:     storeName,
		Price:     price,
		CreatedAt: r.now().UTC(),
	}
	if err := r.prices.InsertPrice(ctx, obs); err != nil {
		return models.Price{}, store.Wrap("insert_price", err)
	}

	if r.journal != nil {
		if err := r.journal.Process(obs); err != nil {
			slog.Warn("journal rejected price",
				slog.String("price_id", obs.ID),
				slog.String("store", obs.Store),
				slog.Any("error", err),
			)
		}
	}
	return obs, nil
}
