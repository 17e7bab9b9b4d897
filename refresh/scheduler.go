// Package refresh re-prices every stored product against every retailer on
// a fixed interval.
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-grocery-prices/aggregator"
	"github.com/aluiziolira/go-grocery-prices/config"
	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/pipeline"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"github.com/aluiziolira/go-grocery-prices/store"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("refresh: scheduler already started")

// ProductSource lists the products to refresh.
type ProductSource interface {
	FindAllProducts(ctx context.Context, limit int) ([]models.Product, error)
}

// Scheduler runs refresh sweeps on a ticker.
type Scheduler struct {
	products   ProductSource
	dispatcher *aggregator.Dispatcher
	recorder   *pipeline.Recorder
	metrics    *aggregator.Metrics
	locker     Locker

	interval     time.Duration
	parallelism  int
	productLimit int
	memoSize     int
	runOnStart   bool

	running atomic.Bool

	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	ticks    sync.WaitGroup
}

// NewScheduler builds a scheduler from cfg. metrics may be nil.
func NewScheduler(cfg *config.Config, products ProductSource, dispatcher *aggregator.Dispatcher, recorder *pipeline.Recorder, metrics *aggregator.Metrics) *Scheduler {
	parallelism := cfg.RefreshParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	memoSize := cfg.RefreshMemoSize
	if memoSize <= 0 {
		memoSize = 1
	}
	return &Scheduler{
		products:     products,
		dispatcher:   dispatcher,
		recorder:     recorder,
		metrics:      metrics,
		interval:     cfg.RefreshInterval,
		parallelism:  parallelism,
		productLimit: cfg.RefreshProductLimit,
		memoSize:     memoSize,
		runOnStart:   cfg.RefreshRunOnStart,
	}
}

// WithLocker makes every sweep hold l for its duration.
func (s *Scheduler) WithLocker(l Locker) *Scheduler {
	s.locker = l
	return s
}

// Start launches the ticker loop. Sweeps run until Stop or until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopChan != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})

	go s.run(runCtx)

	slog.Info("refresh scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("parallelism", s.parallelism),
		slog.Bool("run_on_start", s.runOnStart),
	)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneChan)
	defer s.ticks.Wait()

	if s.runOnStart {
		s.fire(ctx)
	}
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx)
		}
	}
}

// fire runs a sweep without blocking the ticker, so a slow sweep causes the
// next tick to be skipped rather than queued.
func (s *Scheduler) fire(ctx context.Context) {
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		report, err := s.RunOnce(ctx)
		if err != nil {
			slog.Error("refresh sweep failed", slog.Any("error", err))
			return
		}
		if report.Skipped {
			slog.Info("refresh sweep skipped, previous sweep still running")
			return
		}
		slog.Info("refresh sweep complete",
			slog.Int("products", report.ProductCount),
			slog.Int("pairs", report.PairCount),
			slog.Int("recorded", report.Recorded),
			slog.Int("failed", report.Failed),
			slog.Int("empty", report.Empty),
			slog.Any("errors_by_type", report.ErrorsByType),
			slog.Duration("duration", report.EndTime.Sub(report.StartTime)),
		)
	}()
}

// Stop ends the loop and waits for the sweep in flight. When ctx ends first
// the sweep is cancelled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	stopChan, doneChan, cancel := s.stopChan, s.doneChan, s.cancel
	s.mu.Unlock()
	if stopChan == nil {
		return nil
	}

	s.stopOnce.Do(func() {
		close(stopChan)
	})

	select {
	case <-doneChan:
		cancel()
		slog.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		slog.Warn("refresh scheduler stop timed out, cancelling sweep")
		return ctx.Err()
	}
}

// memoEntry holds one adapter answer shared by products with the same name.
type memoEntry struct {
	once     sync.Once
	listings []models.RawListing
	status   models.RetailerStatus
}

// RunOnce performs one sweep: for every stored product and every retailer it
// fetches fresh listings for the product name and records the first
// listing's price under that retailer. Pair failures are counted, never
// fatal. A sweep that starts while another is running is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.RefreshReport, error) {
	report := &models.RefreshReport{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}

	if !s.running.CompareAndSwap(false, true) {
		return s.skip(report), nil
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx)
		if err != nil {
			s.metrics.IncRefreshTick("failed")
			return nil, err
		}
		if !ok {
			return s.skip(report), nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	products, err := s.products.FindAllProducts(ctx, s.productLimit)
	if err != nil {
		s.metrics.IncPersistenceError("find_all")
		s.metrics.IncRefreshTick("failed")
		return nil, store.Wrap("find_all", err)
	}

	retailers := s.dispatcher.Registry().Retailers()
	report.ProductCount = len(products)
	report.PairCount = len(products) * len(retailers)

	if report.PairCount > 0 {
		s.sweep(ctx, products, retailers, report)
	}

	report.EndTime = time.Now()
	s.metrics.IncRefreshTick("completed")
	s.metrics.ObserveRefresh(report.EndTime.Sub(report.StartTime))
	return report, nil
}

func (s *Scheduler) skip(report *models.RefreshReport) *models.RefreshReport {
	s.metrics.IncRefreshTick("skipped")
	report.Skipped = true
	report.EndTime = time.Now()
	return report
}

func (s *Scheduler) sweep(ctx context.Context, products []models.Product, retailers []retailer.Descriptor, report *models.RefreshReport) {
	memo, err := lru.New[string, *memoEntry](s.memoSize)
	if err != nil {
		// Only reachable with a non-positive size, which NewScheduler rules out.
		panic(err)
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	count := func(fn func()) {
		mu.Lock()
		fn()
		mu.Unlock()
	}

	sem := semaphore.NewWeighted(int64(s.parallelism))
	scheduled := 0
schedule:
	for _, p := range products {
		for _, r := range retailers {
			if err := sem.Acquire(ctx, 1); err != nil {
				break schedule
			}
			scheduled++
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sem.Release(1)

				entry := &memoEntry{}
				if prev, found, _ := memo.PeekOrAdd(r.Name+"\x00"+p.Name, entry); found {
					entry = prev
				}
				entry.once.Do(func() {
					entry.listings, entry.status = s.dispatcher.FetchOne(ctx, r, p.Name)
				})
				s.refreshPair(ctx, p, r, entry, count, report)
			}()
		}
	}
	wg.Wait()

	if missed := report.PairCount - scheduled; missed > 0 {
		report.Failed += missed
		report.ErrorsByType["canceled"] += missed
	}
}

func (s *Scheduler) refreshPair(ctx context.Context, p models.Product, r retailer.Descriptor, entry *memoEntry, count func(func()), report *models.RefreshReport) {
	if !entry.status.OK {
		count(func() {
			report.Failed++
			report.ErrorsByType[entry.status.ErrorType]++
		})
		return
	}
	if len(entry.listings) == 0 {
		count(func() { report.Empty++ })
		return
	}

	if _, err := s.recorder.Record(ctx, p.ID, r.Name, entry.listings[0].Price); err != nil {
		s.metrics.IncPersistenceError("insert_price")
		slog.Error("refresh record failed",
			slog.String("product", p.Name),
			slog.String("retailer", r.Name),
			slog.Any("error", err),
		)
		count(func() {
			report.Failed++
			report.ErrorsByType["persistence"]++
		})
		return
	}
	s.metrics.IncPrices("refresh")
	count(func() { report.Recorded++ })
}
