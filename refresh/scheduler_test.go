package refresh

import (
	"context"
	"errors"
	"sync"
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

// fakeAdapter answers every query with fixed listings and remembers what it
// was asked.
type fakeAdapter struct {
	mu       sync.Mutex
	queries  []string
	listings []models.RawListing
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (a *fakeAdapter) Fetch(ctx context.Context, query string) ([]models.RawListing, error) {
	a.mu.Lock()
	a.queries = append(a.queries, query)
	a.mu.Unlock()
	if a.entered != nil {
		select {
		case a.entered <- struct{}{}:
		default:
		}
	}
	if a.gate != nil {
		select {
		case <-a.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.listings, nil
}

func (a *fakeAdapter) calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.queries...)
}

func priced(amount string) models.RawListing {
	return models.RawListing{Name: "anything", Price: decimal.RequireFromString(amount), Store: "x", Category: "Grocery"}
}

type fixture struct {
	scheduler *Scheduler
	catalog   *memory.Store
	metrics   *aggregator.Metrics
}

func newFixture(t *testing.T, cfg *config.Config, descs ...retailer.Descriptor) fixture {
	t.Helper()
	reg, err := retailer.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	catalog := memory.New()
	metrics := aggregator.NewMetrics()
	dispatcher := aggregator.NewDispatcher(reg, time.Second, metrics)
	recorder := pipeline.NewRecorder(catalog, nil, nil)
	return fixture{
		scheduler: NewScheduler(cfg, catalog, dispatcher, recorder, metrics),
		catalog:   catalog,
		metrics:   metrics,
	}
}

func seed(t *testing.T, catalog *memory.Store, products ...models.Product) {
	t.Helper()
	for _, p := range products {
		if err := catalog.InsertProduct(context.Background(), p); err != nil {
			t.Fatalf("insert product: %v", err)
		}
	}
}

func TestRunOnceIsolatesFailingRetailer(t *testing.T) {
	down := &fakeAdapter{err: retailer.ErrConnection{Err: errors.New("refused")}}
	up := &fakeAdapter{listings: []models.RawListing{priced("1.23")}}
	f := newFixture(t, nil,
		retailer.Descriptor{Name: "R1", Adapter: down},
		retailer.Descriptor{Name: "R2", Adapter: up},
	)
	seed(t, f.catalog,
		models.Product{ID: "p1", Name: "Milk", Category: "Dairy"},
		models.Product{ID: "p2", Name: "Bread", Category: "Bakery"},
	)

	report, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.PairCount != 4 || report.Recorded != 2 || report.Failed != 2 {
		t.Fatalf("report = %+v", report)
	}
	if report.ErrorsByType["connection"] != 2 {
		t.Fatalf("errors by type = %v", report.ErrorsByType)
	}

	prices := f.catalog.Prices()
	if len(prices) != 2 {
		t.Fatalf("prices = %d, want 2", len(prices))
	}
	byProduct := map[string]models.Price{}
	for _, p := range prices {
		if p.Store != "R2" || !p.Price.Equal(decimal.RequireFromString("1.23")) {
			t.Fatalf("price = %+v", p)
		}
		byProduct[p.ProductID] = p
	}
	if _, ok := byProduct["p1"]; !ok {
		t.Fatalf("missing price for p1")
	}
	if _, ok := byProduct["p2"]; !ok {
		t.Fatalf("missing price for p2")
	}
	if got := testutil.ToFloat64(f.metrics.PricesRecorded.WithLabelValues("refresh")); got != 2 {
		t.Fatalf("refresh prices metric = %v, want 2", got)
	}
}

func TestRunOnceQueriesByProductName(t *testing.T) {
	a := &fakeAdapter{listings: []models.RawListing{priced("1.00")}}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Semi Skimmed Milk", Category: "Dairy"})

	if _, err := f.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if got := a.calls(); len(got) != 1 || got[0] != "Semi Skimmed Milk" {
		t.Fatalf("queries = %v", got)
	}
}

func TestRunOnceRecordsFirstListing(t *testing.T) {
	a := &fakeAdapter{listings: []models.RawListing{priced("1.00"), priced("0.50")}}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Asda", Adapter: a})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Tea", Category: "Drinks"})

	if _, err := f.scheduler.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	prices := f.catalog.Prices()
	if len(prices) != 1 || !prices[0].Price.Equal(decimal.RequireFromString("1.00")) {
		t.Fatalf("prices = %+v", prices)
	}
}

func TestRunOnceAppendsEveryTick(t *testing.T) {
	a := &fakeAdapter{listings: []models.RawListing{priced("2.00")}}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Eggs", Category: "Dairy"})

	const ticks = 3
	for i := 0; i < ticks; i++ {
		if _, err := f.scheduler.RunOnce(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	prices := f.catalog.Prices()
	if len(prices) != ticks {
		t.Fatalf("prices = %d, want %d", len(prices), ticks)
	}
	ids := map[string]bool{}
	for _, p := range prices {
		if ids[p.ID] {
			t.Fatalf("price id %s reused", p.ID)
		}
		ids[p.ID] = true
	}
}

func TestRunOnceNoProducts(t *testing.T) {
	a := &fakeAdapter{}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})

	report, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Skipped || report.PairCount != 0 || report.Recorded != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(a.calls()) != 0 {
		t.Fatalf("no products must mean no adapter calls")
	}
}

func TestRunOnceEmptyListings(t *testing.T) {
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: &fakeAdapter{}})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Rice", Category: "Pantry"})

	report, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Empty != 1 || report.Recorded != 0 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRunOnceReusesFetchForSameName(t *testing.T) {
	a := &fakeAdapter{listings: []models.RawListing{priced("1.00")}}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})
	seed(t, f.catalog,
		models.Product{ID: "p1", Name: "Milk", Category: "Dairy"},
		models.Product{ID: "p2", Name: "Milk", Category: "Dairy"},
	)

	report, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Recorded != 2 {
		t.Fatalf("report = %+v", report)
	}
	if got := len(a.calls()); got != 1 {
		t.Fatalf("adapter calls = %d, want 1", got)
	}
}

func TestRunOnceLoadFailure(t *testing.T) {
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: &fakeAdapter{}})
	f.catalog.Fail(memory.OpFindAll, errors.New("disk I/O error"))

	report, err := f.scheduler.RunOnce(context.Background())
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("err = %v, want persistence error", err)
	}
	if report != nil {
		t.Fatalf("report = %+v, want nil", report)
	}
	if got := testutil.ToFloat64(f.metrics.RefreshTicks.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed ticks = %v, want 1", got)
	}
}

func TestRunOnceRecordFailureIsCounted(t *testing.T) {
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: &fakeAdapter{listings: []models.RawListing{priced("1.00")}}})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Milk", Category: "Dairy"})
	f.catalog.Fail(memory.OpInsertPrice, errors.New("database is locked"))

	report, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Failed != 1 || report.ErrorsByType["persistence"] != 1 {
		t.Fatalf("report = %+v", report)
	}
}

func TestRunOnceSkipsOverlap(t *testing.T) {
	a := &fakeAdapter{
		listings: []models.RawListing{priced("1.00")},
		gate:     make(chan struct{}),
		entered:  make(chan struct{}, 1),
	}
	f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Milk", Category: "Dairy"})

	done := make(chan *models.RefreshReport, 1)
	go func() {
		report, _ := f.scheduler.RunOnce(context.Background())
		done <- report
	}()
	<-a.entered

	second, err := f.scheduler.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("overlapping run: %v", err)
	}
	if !second.Skipped {
		t.Fatalf("overlapping run should be skipped: %+v", second)
	}

	close(a.gate)
	first := <-done
	if first.Skipped || first.Recorded != 1 {
		t.Fatalf("first run = %+v", first)
	}
	if got := testutil.ToFloat64(f.metrics.RefreshTicks.WithLabelValues("skipped")); got != 1 {
		t.Fatalf("skipped ticks = %v, want 1", got)
	}
}

type fakeLocker struct {
	ok       bool
	err      error
	released atomic.Int32
}

func (l *fakeLocker) TryLock(context.Context) (func(context.Context), bool, error) {
	if l.err != nil || !l.ok {
		return nil, false, l.err
	}
	return func(context.Context) { l.released.Add(1) }, true, nil
}

func TestRunOnceLocker(t *testing.T) {
	tests := []struct {
		name        string
		locker      *fakeLocker
		wantSkipped bool
		wantErr     bool
		wantRelease int32
	}{
		{name: "acquired", locker: &fakeLocker{ok: true}, wantRelease: 1},
		{name: "held elsewhere", locker: &fakeLocker{}, wantSkipped: true},
		{name: "unreachable", locker: &fakeLocker{err: errors.New("dial tcp: refused")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &fakeAdapter{listings: []models.RawListing{priced("1.00")}}
			f := newFixture(t, nil, retailer.Descriptor{Name: "Tesco", Adapter: a})
			seed(t, f.catalog, models.Product{ID: "p1", Name: "Milk", Category: "Dairy"})
			f.scheduler.WithLocker(tt.locker)

			report, err := f.scheduler.RunOnce(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && report.Skipped != tt.wantSkipped {
				t.Fatalf("skipped = %v, want %v", report.Skipped, tt.wantSkipped)
			}
			if got := tt.locker.released.Load(); got != tt.wantRelease {
				t.Fatalf("released = %d, want %d", got, tt.wantRelease)
			}
			if (len(a.calls()) > 0) != (tt.wantRelease == 1) {
				t.Fatalf("adapter calls = %d", len(a.calls()))
			}
		})
	}
}

func TestSchedulerStartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RefreshInterval = 10 * time.Millisecond
	cfg.RefreshRunOnStart = true

	f := newFixture(t, cfg, retailer.Descriptor{Name: "Tesco", Adapter: &fakeAdapter{listings: []models.RawListing{priced("1.00")}}})
	seed(t, f.catalog, models.Product{ID: "p1", Name: "Milk", Category: "Dairy"})

	if err := f.scheduler.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.scheduler.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v, want ErrAlreadyStarted", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.catalog.Prices()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler recorded %d prices, want at least 2", len(f.catalog.Prices()))
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.scheduler.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := f.scheduler.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	after := len(f.catalog.Prices())
	time.Sleep(30 * time.Millisecond)
	if got := len(f.catalog.Prices()); got != after {
		t.Fatalf("prices grew after stop: %d -> %d", after, got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.scheduler.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
