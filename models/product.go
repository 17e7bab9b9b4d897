// Package models defines data structures shared by the price engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the canonical, persisted representation of a sellable item.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Weight    *string   `json:"weight"`
	Quantity  *int      `json:"quantity"`
	Unit      *string   `json:"unit"`
	ImageURL  *string   `json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Price is one immutable observation of a product's price at a store.
type Price struct {
	ID        string          `json:"id" csv:"id"`
	ProductID string          `json:"product_id" csv:"product_id"`
	Store     string          `json:"store" csv:"store"`
	Price     decimal.Decimal `json:"price" csv:"price"`
	CreatedAt time.Time       `json:"created_at" csv:"created_at"`
}

// RawListing is an unprocessed candidate returned by one retailer for one query.
type RawListing struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Store    string          `json:"store"`
	Category string          `json:"category"`
	Weight   *string         `json:"weight,omitempty"`
	Quantity *int            `json:"quantity,omitempty"`
	Unit     *string         `json:"unit,omitempty"`
	ImageURL string          `json:"image_url"`
}

// SearchResult is the materialised view returned to search callers.
type SearchResult struct {
	Products []Product          `json:"products"`
	Prices   map[string][]Price `json:"prices"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns a pointer to n, or nil when n is not positive.
func IntPtr(n int) *int {
	if n <= 0 {
		return nil
	}
	return &n
}
