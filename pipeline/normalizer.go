// Package pipeline turns raw listings into canonical products, records price
// observations and journals them to disk.
package pipeline

import (
	"sync"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Candidate is a freshly minted product together with the price of the
// listing that produced it.
type Candidate struct {
	Product models.Product
	Store   string
	Price   decimal.Decimal
}

// Normalizer collapses listings that share an exact display name into one
// product. Matching is case-sensitive and never fuzzy.
type Normalizer struct {
	now     func() time.Time
	newID   func() string
	metrics normalizerMetrics
}

// NewNormalizer returns a normalizer stamping products with now. A nil now
// uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		now:   now,
		newID: uuid.NewString,
	}
}

// Normalize returns one candidate per distinct listing name, in order of
// first appearance. The first listing with a given name supplies every
// attribute; later ones are dropped. Each call mints new ids.
func (n *Normalizer) Normalize(listings []models.RawListing) []Candidate {
	if len(listings) == 0 {
		return nil
	}

	now := n.now().UTC()
	seen := make(map[string]struct{}, len(listings))
	out := make([]Candidate, 0, len(listings))
	for _, l := range listings {
		n.metrics.incrementProcessed()
		if _, ok := seen[l.Name]; ok {
			n.metrics.addDuplicate()
			continue
		}
		seen[l.Name] = struct{}{}

		out = append(out, Candidate{
			Product: models.Product{
				ID:        n.newID(),
				Name:      l.Name,
				Category:  l.Category,
				Weight:    cloneString(l.Weight),
				Quantity:  cloneInt(l.Quantity),
				Unit:      cloneString(l.Unit),
				ImageURL:  models.StringPtr(l.ImageURL),
				CreatedAt: now,
				UpdatedAt: now,
			},
			Store: l.Store,
			Price: l.Price,
		})
	}
	n.metrics.addCreated(len(out))
	return out
}

// GetMetrics returns a snapshot of the internal counters.
func (n *Normalizer) GetMetrics() map[string]interface{} {
	return n.metrics.snapshot()
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

type normalizerMetrics struct {
	mu         sync.Mutex
	processed  int64
	created    int64
	duplicates int64
}

func (m *normalizerMetrics) incrementProcessed() {
	m.mu.Lock()
	m.processed++
	m.mu.Unlock()
}

func (m *normalizerMetrics) addDuplicate() {
	m.mu.Lock()
	m.duplicates++
	m.mu.Unlock()
}

func (m *normalizerMetrics) addCreated(n int) {
	m.mu.Lock()
	m.created += int64(n)
	m.mu.Unlock()
}

func (m *normalizerMetrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]interface{}{
		"processed_listings": m.processed,
		"products_created":   m.created,
		"duplicate_name":     m.duplicates,
	}
}
