package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-grocery-prices/aggregator"
	"github.com/aluiziolira/go-grocery-prices/config"
	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/pipeline"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/aluiziolira/go-grocery-prices/store/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
)

// countingAdapter records how many times it was asked for listings.
type countingAdapter struct {
	calls    atomic.Int32
	listings []models.RawListing
	err      error
}

func (a *countingAdapter) Fetch(context.Context, string) ([]models.RawListing, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return a.listings, nil
}

type fixture struct {
	svc      *Service
	catalog  *memory.Store
	recorder *pipeline.Recorder
	metrics  *aggregator.Metrics
}

func newFixture(t *testing.T, descs ...retailer.Descriptor) fixture {
	t.Helper()
	reg, err := retailer.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.AdapterTimeout = time.Second
	cfg.DispatchTimeout = 2 * time.Second

	catalog := memory.New()
	metrics := aggregator.NewMetrics()
	recorder := pipeline.NewRecorder(catalog, nil, nil)
	dispatcher := aggregator.NewDispatcher(reg, cfg.AdapterTimeout, metrics)
	return fixture{
		svc:      NewService(cfg, catalog, dispatcher, recorder, metrics),
		catalog:  catalog,
		recorder: recorder,
		metrics:  metrics,
	}
}

func eggs() models.RawListing {
	return models.RawListing{
		Name:     "Tesco Free Range Eggs 12 pack",
		Price:    decimal.RequireFromString("2.10"),
		Store:    "Tesco",
		Category: "Dairy & Eggs",
		Quantity: models.IntPtr(12),
		Unit:     models.StringPtr("pack"),
	}
}

func TestSearchMissDiscoversThenHitServesFromCatalog(t *testing.T) {
	r1 := &countingAdapter{listings: []models.RawListing{eggs()}}
	r2 := &countingAdapter{err: retailer.ErrConnection{Err: errors.New("refused")}}
	f := newFixture(t,
		retailer.Descriptor{Name: "Tesco", URL: "https://www.tesco.com", Adapter: r1},
		retailer.Descriptor{Name: "Asda", URL: "https://www.asda.com", Adapter: r2},
	)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "eggs")
	if err != nil {
		t.Fatalf("first search: %v", err)
	}
	if len(first.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(first.Products))
	}
	product := first.Products[0]
	if product.Name != "Tesco Free Range Eggs 12 pack" || product.Quantity == nil || *product.Quantity != 12 {
		t.Fatalf("product = %+v", product)
	}
	if product.Unit == nil || *product.Unit != "pack" || product.Category != "Dairy & Eggs" {
		t.Fatalf("product unit/category = %v/%q, want pack/Dairy & Eggs", product.Unit, product.Category)
	}
	prices := first.Prices[product.ID]
	if len(prices) != 1 || prices[0].Store != "Tesco" || !prices[0].Price.Equal(decimal.RequireFromString("2.10")) {
		t.Fatalf("prices = %+v", prices)
	}

	second, err := f.svc.Search(ctx, "EGGS")
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if r1.calls.Load() != 1 || r2.calls.Load() != 1 {
		t.Fatalf("catalog hit must not dispatch: calls r1=%d r2=%d", r1.calls.Load(), r2.calls.Load())
	}
	if len(second.Products) != 1 || second.Products[0].ID != product.ID {
		t.Fatalf("second search = %+v, want the stored product", second.Products)
	}
	if len(second.Prices[product.ID]) != 1 {
		t.Fatalf("second search prices = %+v", second.Prices)
	}

	if got := testutil.ToFloat64(f.metrics.CatalogLookups.WithLabelValues("hit")); got != 1 {
		t.Fatalf("hit lookups = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.ProductsCreated); got != 1 {
		t.Fatalf("products created = %v, want 1", got)
	}
}

func TestSearchDeduplicatesAcrossRetailers(t *testing.T) {
	milk := func(store, price string) models.RawListing {
		return models.RawListing{Name: "Milk 1 pint", Price: decimal.RequireFromString(price), Store: store, Category: "Dairy"}
	}
	f := newFixture(t,
		retailer.Descriptor{Name: "Tesco", Adapter: &countingAdapter{listings: []models.RawListing{milk("Tesco", "1.00")}}},
		retailer.Descriptor{Name: "Asda", Adapter: &countingAdapter{listings: []models.RawListing{milk("Asda", "0.90")}}},
	)

	result, err := f.svc.Search(context.Background(), "milk")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(result.Products))
	}
	prices := result.Prices[result.Products[0].ID]
	if len(prices) != 1 || prices[0].Store != "Tesco" {
		t.Fatalf("seed price should come from the first retailer in registry order: %+v", prices)
	}
}

func TestSearchAllRetailersFail(t *testing.T) {
	f := newFixture(t,
		retailer.Descriptor{Name: "A", Adapter: &countingAdapter{err: errors.New("down")}},
		retailer.Descriptor{Name: "B", Adapter: &countingAdapter{err: errors.New("down")}},
	)

	result, err := f.svc.Search(context.Background(), "bread")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Products) != 0 || len(result.Prices) != 0 {
		t.Fatalf("result = %+v, want empty", result)
	}
	if result.Products == nil {
		t.Fatalf("products should be an empty slice, not nil")
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	a := &countingAdapter{}
	f := newFixture(t, retailer.Descriptor{Name: "A", Adapter: a})
	for _, q := range []string{"", "   "} {
		if _, err := f.svc.Search(context.Background(), q); !errors.Is(err, ErrEmptyQuery) {
			t.Fatalf("Search(%q) err = %v, want ErrEmptyQuery", q, err)
		}
	}
	if a.calls.Load() != 0 {
		t.Fatalf("blank query must not dispatch")
	}
}

func TestSearchPersistenceFailures(t *testing.T) {
	tests := []struct {
		name         string
		op           string
		wantDispatch bool
	}{
		{name: "lookup", op: memory.OpFindByName, wantDispatch: false},
		{name: "insert product", op: memory.OpInsertProduct, wantDispatch: true},
		{name: "insert price", op: memory.OpInsertPrice, wantDispatch: true},
		{name: "enrich", op: memory.OpFindPrices, wantDispatch: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &countingAdapter{listings: []models.RawListing{eggs()}}
			f := newFixture(t, retailer.Descriptor{Name: "Tesco", Adapter: a})
			f.catalog.Fail(tt.op, errors.New("database is locked"))

			_, err := f.svc.Search(context.Background(), "eggs")
			if !errors.Is(err, store.ErrPersistence) {
				t.Fatalf("err = %v, want persistence error", err)
			}
			if dispatched := a.calls.Load() > 0; dispatched != tt.wantDispatch {
				t.Fatalf("dispatched = %v, want %v", dispatched, tt.wantDispatch)
			}
		})
	}
}

func TestSearchGroupsPricesInPersistedOrder(t *testing.T) {
	f := newFixture(t, retailer.Descriptor{Name: "Tesco", Adapter: &countingAdapter{listings: []models.RawListing{eggs()}}})
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "eggs")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	id := first.Products[0].ID
	for _, amount := range []string{"2.20", "1.95"} {
		if _, err := f.recorder.Record(ctx, id, "Tesco", decimal.RequireFromString(amount)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	again, err := f.svc.Search(ctx, "free range")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	prices := again.Prices[id]
	want := []string{"2.10", "2.20", "1.95"}
	if len(prices) != len(want) {
		t.Fatalf("prices = %d, want %d", len(prices), len(want))
	}
	for i, amount := range want {
		if !prices[i].Price.Equal(decimal.RequireFromString(amount)) {
			t.Fatalf("price[%d] = %s, want %s", i, prices[i].Price, amount)
		}
	}
}

// A listing found again under a differently worded query is minted as a new
// product: identity only holds within one discovery pass.
func TestSearchDifferentQueryMintsDuplicateProduct(t *testing.T) {
	milk := models.RawListing{Name: "Tesco Milk 1 pint", Price: decimal.RequireFromString("1.00"), Store: "Tesco", Category: "Dairy"}
	f := newFixture(t, retailer.Descriptor{Name: "Tesco", Adapter: &countingAdapter{listings: []models.RawListing{milk}}})
	ctx := context.Background()

	if _, err := f.svc.Search(ctx, "milk"); err != nil {
		t.Fatalf("search milk: %v", err)
	}
	if _, err := f.svc.Search(ctx, "dairy"); err != nil {
		t.Fatalf("search dairy: %v", err)
	}

	all, err := f.catalog.FindAllProducts(ctx, 0)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 2 || all[0].Name != all[1].Name || all[0].ID == all[1].ID {
		t.Fatalf("products = %+v, want two products sharing one name", all)
	}
}

func TestStores(t *testing.T) {
	reg, err := retailer.NewRegistry(retailer.UKRetailers(0)...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg := config.DefaultConfig()
	catalog := memory.New()
	svc := NewService(cfg, catalog, aggregator.NewDispatcher(reg, time.Second, nil), pipeline.NewRecorder(catalog, nil, nil), nil)

	stores := svc.Stores()
	if len(stores) != 11 || stores[0].Name != "Tesco" || stores[10].Name != "Amazon" {
		t.Fatalf("stores = %+v", stores)
	}
}

func TestSearchWithMockRetailers(t *testing.T) {
	reg, err := retailer.NewRegistry(retailer.UKRetailers(0)...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg := config.DefaultConfig()
	catalog := memory.New()
	svc := NewService(cfg, catalog, aggregator.NewDispatcher(reg, time.Second, nil), pipeline.NewRecorder(catalog, nil, nil), nil)

	result, err := svc.Search(context.Background(), "eggs")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// Rich-style retailers share "eggs 6 pack" style names, so far fewer
	// products than listings come back.
	if len(result.Products) == 0 || len(result.Products) >= 29 {
		t.Fatalf("products = %d", len(result.Products))
	}
	seen := map[string]bool{}
	for _, p := range result.Products {
		if seen[p.Name] {
			t.Fatalf("duplicate product name %q in one pass", p.Name)
		}
		seen[p.Name] = true
		if len(result.Prices[p.ID]) != 1 {
			t.Fatalf("product %q has %d prices, want 1 seed price", p.Name, len(result.Prices[p.ID]))
		}
	}
}
