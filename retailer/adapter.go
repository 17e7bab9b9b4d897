// Package retailer holds the retailer catalogue and the source adapters that
// turn a free-text query into raw listings.
package retailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-grocery-prices/models"
)

// Adapter fetches raw listings for a query from one retailer. Implementations
// may block on I/O and may fail; callers bound them with ctx.
type Adapter interface {
	Fetch(ctx context.Context, query string) ([]models.RawListing, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, query string) ([]models.RawListing, error)

// Fetch calls f(ctx, query).
func (f AdapterFunc) Fetch(ctx context.Context, query string) ([]models.RawListing, error) {
	return f(ctx, query)
}

// Descriptor binds a retailer to the adapter that serves it.
type Descriptor struct {
	Name    string
	URL     string
	Adapter Adapter
}

// StoreInfo is the caller-facing view of a retailer.
type StoreInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Registry is the static, ordered catalogue of known retailers.
type Registry struct {
	retailers []Descriptor
}

// NewRegistry validates descs and keeps them in the given order.
func NewRegistry(descs ...Descriptor) (*Registry, error) {
	seen := make(map[string]struct{}, len(descs))
	retailers := make([]Descriptor, 0, len(descs))
	for _, d := range descs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("retailer name cannot be empty")
		}
		if d.Adapter == nil {
			return nil, fmt.Errorf("retailer %q has no adapter", name)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate retailer %q", name)
		}
		seen[name] = struct{}{}
		d.Name = name
		retailers = append(retailers, d)
	}
	return &Registry{retailers: retailers}, nil
}

// Retailers returns a copy of the descriptors in registry order.
func (r *Registry) Retailers() []Descriptor {
	out := make([]Descriptor, len(r.retailers))
	copy(out, r.retailers)
	return out
}

// Stores lists retailer names and sites in registry order.
func (r *Registry) Stores() []StoreInfo {
	out := make([]StoreInfo, 0, len(r.retailers))
	for _, d := range r.retailers {
		out = append(out, StoreInfo{Name: d.Name, URL: d.URL})
	}
	return out
}

// Len returns the number of registered retailers.
func (r *Registry) Len() int {
	return len(r.retailers)
}
