package retailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/shopspring/decimal"
)

// Style selects how a mock profile shapes listing names.
type Style int

const (
	// StyleRich derives category, size and unit from the query.
	StyleRich Style = iota
	// StyleSimple prefixes the query with a variant label only.
	StyleSimple
)

// Profile is the per-retailer data table driving MockAdapter.
type Profile struct {
	Store    string
	Variants []string
	Prices   []decimal.Decimal
	Count    int
	Style    Style

	// Placeholder image colours for StyleRich.
	ImageBackground string
	ImageForeground string
	// Image path segment for StyleSimple.
	ImageSlug string
}

// MockAdapter generates deterministic listings from a Profile after a
// simulated network delay.
type MockAdapter struct {
	profile Profile
	latency time.Duration
}

// NewMockAdapter builds an adapter for p.
func NewMockAdapter(p Profile, latency time.Duration) *MockAdapter {
	return &MockAdapter{profile: p, latency: latency}
}

// Fetch implements Adapter.
func (m *MockAdapter) Fetch(ctx context.Context, query string) ([]models.RawListing, error) {
	if m.latency > 0 {
		timer := time.NewTimer(m.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ErrTimeout{Err: ctx.Err()}
		case <-timer.C:
		}
	}
	if len(m.profile.Variants) == 0 || len(m.profile.Prices) == 0 {
		return nil, ErrMalformed{Err: fmt.Errorf("profile %q has no variants or prices", m.profile.Store)}
	}

	listings := make([]models.RawListing, 0, m.profile.Count)
	for i := 0; i < m.profile.Count; i++ {
		variant := m.profile.Variants[i%len(m.profile.Variants)]
		listing := models.RawListing{
			Price: m.profile.Prices[i%len(m.profile.Prices)],
			Store: m.profile.Store,
		}
		switch m.profile.Style {
		case StyleSimple:
			listing.Name = joinName(variant, query)
			listing.Category = "Groceries"
			listing.ImageURL = fmt.Sprintf("https://example.com/%s/%s_%d.jpg",
				m.profile.ImageSlug, strings.ReplaceAll(query, " ", "_"), i)
		default:
			shapeListing(&listing, query, variant, i)
			listing.ImageURL = fmt.Sprintf("https://placehold.co/400x400/%s/%s?text=%s+%s",
				m.profile.ImageBackground, m.profile.ImageForeground,
				strings.ReplaceAll(query, " ", "+"), strings.ReplaceAll(variant, " ", "+"))
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

var (
	packWeights  = []string{"500g", "1kg", "250g", "750g"}
	packCounts   = []int{1, 4, 6, 12}
	packUnits    = []string{"pack", "box", "bag", "carton"}
	eggCounts    = []int{6, 12, 15, 10}
	milkVolumes  = []string{"1 pint", "2 pints", "4 pints", "6 pints"}
	loafWeights  = []string{"400g", "800g", "600g"}
	multiCounts  = []int{4, 6, 8}
	dryWeights   = []string{"500g", "1kg", "750g"}
	treatWeights = []string{"30g", "45g", "50g"}
	barWeights   = []string{"100g", "200g", "150g"}
	drinkVolumes = []string{"330ml", "500ml", "1L", "2L"}
)

// shapeListing fills name, category and size fields from keywords in query.
func shapeListing(l *models.RawListing, query, variant string, i int) {
	q := strings.ToLower(query)
	switch {
	case containsAny(q, "egg"):
		qty := eggCounts[i%len(eggCounts)]
		l.Name = joinName(variant, query, fmt.Sprint(qty), "pack")
		l.Category = "Dairy & Eggs"
		l.Quantity = models.IntPtr(qty)
		l.Unit = models.StringPtr("pack")
	case containsAny(q, "milk"):
		l.Name = joinName(variant, query, milkVolumes[i%len(milkVolumes)])
		l.Category = "Dairy"
		l.Unit = models.StringPtr("bottle")
	case containsAny(q, "bread"):
		weight := loafWeights[i%len(loafWeights)]
		l.Name = joinName(variant, query, weight, "loaf")
		l.Category = "Bakery"
		l.Weight = models.StringPtr(weight)
		l.Unit = models.StringPtr("loaf")
	case containsAny(q, "apple", "banana", "fruit"):
		if containsAny(q, "apple", "orange") {
			qty := multiCounts[i%len(multiCounts)]
			l.Name = joinName(variant, query, fmt.Sprint(qty), "pack")
			l.Quantity = models.IntPtr(qty)
			l.Unit = models.StringPtr("pack")
		} else {
			weight := packWeights[i%len(packWeights)]
			l.Name = joinName(variant, query, weight)
			l.Weight = models.StringPtr(weight)
			l.Unit = models.StringPtr("bag")
		}
		l.Category = "Produce"
	case containsAny(q, "chicken", "beef", "pork"):
		weight := packWeights[i%len(packWeights)]
		l.Name = joinName(variant, query, weight)
		l.Category = "Meat"
		l.Weight = models.StringPtr(weight)
		l.Unit = models.StringPtr("package")
	case containsAny(q, "pasta", "rice"):
		weight := dryWeights[i%len(dryWeights)]
		l.Name = joinName(variant, query, weight)
		l.Category = "Pantry"
		l.Weight = models.StringPtr(weight)
		l.Unit = models.StringPtr("pack")
	case containsAny(q, "chocolate", "biscuit", "cookie"):
		if i%2 == 0 {
			qty := multiCounts[i%len(multiCounts)]
			weight := treatWeights[i%len(treatWeights)]
			l.Name = joinName(variant, query, fmt.Sprintf("%dx", qty), weight)
			l.Quantity = models.IntPtr(qty)
			l.Weight = models.StringPtr(weight)
		} else {
			weight := barWeights[i%len(barWeights)]
			l.Name = joinName(variant, query, weight)
			l.Weight = models.StringPtr(weight)
		}
		l.Category = "Confectionery"
		l.Unit = models.StringPtr("pack")
	case containsAny(q, "drink", "soda", "juice"):
		volume := drinkVolumes[i%len(drinkVolumes)]
		if i%2 == 0 {
			qty := multiCounts[i%len(multiCounts)]
			l.Name = joinName(variant, query, fmt.Sprintf("%dx", qty), volume)
			l.Quantity = models.IntPtr(qty)
		} else {
			l.Name = joinName(variant, query, volume)
		}
		l.Category = "Beverages"
		l.Unit = models.StringPtr("bottle")
	default:
		weight := packWeights[i%len(packWeights)]
		if i%2 == 0 {
			qty := packCounts[i%len(packCounts)]
			l.Name = joinName(variant, query, fmt.Sprintf("%dx", qty), weight)
			l.Quantity = models.IntPtr(qty)
		} else {
			l.Name = joinName(variant, query, weight)
		}
		l.Category = "Groceries"
		l.Weight = models.StringPtr(weight)
		l.Unit = models.StringPtr(packUnits[i%len(packUnits)])
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// joinName mirrors "<variant> <query> <suffix...>" with outer space trimmed.
func joinName(parts ...string) string {
	return strings.TrimSpace(strings.Join(parts, " "))
}
