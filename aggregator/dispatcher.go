// Package aggregator fans a query out to every registered retailer and
// merges what comes back, isolating each retailer's failures.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/parser"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"golang.org/x/sync/singleflight"
)

// DefaultAdapterTimeout bounds a single adapter call when none is configured.
const DefaultAdapterTimeout = 5 * time.Second

// PanicError reports an adapter that panicked instead of returning.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("adapter panic: %v", e.Value)
}

// Dispatcher queries all retailers of a registry concurrently.
type Dispatcher struct {
	registry       *retailer.Registry
	adapterTimeout time.Duration
	metrics        *Metrics
	group          singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// NewDispatcher builds a dispatcher over registry. A non-positive
// adapterTimeout falls back to DefaultAdapterTimeout; metrics may be nil.
func NewDispatcher(registry *retailer.Registry, adapterTimeout time.Duration, metrics *Metrics) *Dispatcher {
	if adapterTimeout <= 0 {
		adapterTimeout = DefaultAdapterTimeout
	}
	return &Dispatcher{
		registry:       registry,
		adapterTimeout: adapterTimeout,
		metrics:        metrics,
		flights:        make(map[string]*flight),
	}
}

// Registry returns the retailers this dispatcher fans out to.
func (d *Dispatcher) Registry() *retailer.Registry {
	return d.registry
}

// Dispatch asks every retailer for query and returns the union of valid
// listings in registry order plus a status per retailer. It never fails as a
// whole: a retailer that errors, panics, times out or returns an invalid
// listing is reported in the outcome and contributes nothing.
//
// Concurrent calls for the same query share one fan-out. The shared run is
// detached from every caller's cancellation and bounded only by the adapter
// timeout. Each caller waits on its own ctx; one that gives up early gets the
// retailers answered so far, the rest marked as timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, query string) models.AggregationOutcome {
	key := strings.TrimSpace(query)
	retailers := d.registry.Retailers()
	ch := d.group.DoChan(key, func() (any, error) {
		f := d.startFlight(key, len(retailers))
		defer d.endFlight(key, f)
		return d.dispatch(context.WithoutCancel(ctx), query, retailers, f), nil
	})

	select {
	case res := <-ch:
		return cloneOutcome(res.Val.(models.AggregationOutcome))
	case <-ctx.Done():
	}

	select {
	case res := <-ch:
		return cloneOutcome(res.Val.(models.AggregationOutcome))
	default:
	}
	if f := d.lookupFlight(key); f != nil {
		return cloneOutcome(f.outcome(query, retailers, ctx.Err()))
	}
	return d.abandoned(query, ctx.Err())
}

func (d *Dispatcher) dispatch(ctx context.Context, query string, retailers []retailer.Descriptor, f *flight) models.AggregationOutcome {
	var wg sync.WaitGroup
	for i, desc := range retailers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listings, status := d.FetchOne(ctx, desc, query)
			f.set(i, listings, status)
		}()
	}
	wg.Wait()

	outcome := f.outcome(query, retailers, nil)
	slog.Debug("dispatch complete",
		slog.String("query", query),
		slog.Int("listings", len(outcome.Listings)),
		slog.Int("retailers", len(retailers)),
		slog.Int("failed", len(outcome.Failed())),
	)
	return outcome
}

func (d *Dispatcher) startFlight(key string, n int) *flight {
	f := &flight{
		listings: make([][]models.RawListing, n),
		statuses: make([]models.RetailerStatus, n),
		done:     make([]bool, n),
	}
	d.mu.Lock()
	d.flights[key] = f
	d.mu.Unlock()
	return f
}

func (d *Dispatcher) endFlight(key string, f *flight) {
	d.mu.Lock()
	if d.flights[key] == f {
		delete(d.flights, key)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) lookupFlight(key string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flights[key]
}

// flight collects per-retailer answers of one shared fan-out as they land.
type flight struct {
	mu       sync.Mutex
	listings [][]models.RawListing
	statuses []models.RetailerStatus
	done     []bool
}

func (f *flight) set(i int, listings []models.RawListing, status models.RetailerStatus) {
	f.mu.Lock()
	f.listings[i] = listings
	f.statuses[i] = status
	f.done[i] = true
	f.mu.Unlock()
}

// outcome merges the answers so far in registry order. Retailers still
// pending are reported as timed out with cause.
func (f *flight) outcome(query string, retailers []retailer.Descriptor, cause error) models.AggregationOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	outcome := models.AggregationOutcome{
		Query:     query,
		Retailers: make(map[string]models.RetailerStatus, len(retailers)),
	}
	for i, desc := range retailers {
		if !f.done[i] {
			outcome.Retailers[desc.Name] = timedOut(cause)
			continue
		}
		outcome.Retailers[desc.Name] = f.statuses[i]
		outcome.Listings = append(outcome.Listings, f.listings[i]...)
	}
	return outcome
}

// FetchOne performs one bounded adapter call for desc. Listings are returned
// only when the call succeeded and every listing is valid.
func (d *Dispatcher) FetchOne(ctx context.Context, desc retailer.Descriptor, query string) ([]models.RawListing, models.RetailerStatus) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.adapterTimeout)
	defer cancel()

	type reply struct {
		listings []models.RawListing
		err      error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- reply{err: &PanicError{Value: r}}
			}
		}()
		listings, err := desc.Adapter.Fetch(callCtx, query)
		done <- reply{listings: listings, err: err}
	}()

	var rep reply
	select {
	case rep = <-done:
	case <-callCtx.Done():
		// The adapter goroutine is abandoned; its late reply lands in the
		// buffered channel and is dropped.
		rep = reply{err: retailer.ErrTimeout{Err: callCtx.Err()}}
	}

	if rep.err == nil {
		rep.err = validate(rep.listings)
	}

	elapsed := time.Since(start)
	d.metrics.ObserveAdapterDuration(desc.Name, elapsed)

	if rep.err != nil {
		errType := errorType(rep.err)
		d.metrics.IncAdapterCall(desc.Name, "error")
		d.metrics.IncError(desc.Name, errType)
		slog.Warn("adapter failed",
			slog.String("retailer", desc.Name),
			slog.String("query", query),
			slog.String("error_type", errType),
			slog.Any("error", rep.err),
		)
		return nil, models.RetailerStatus{
			Error:     rep.err.Error(),
			ErrorType: errType,
			Duration:  elapsed,
		}
	}

	d.metrics.IncAdapterCall(desc.Name, "ok")
	return rep.listings, models.RetailerStatus{
		OK:       true,
		Count:    len(rep.listings),
		Duration: elapsed,
	}
}

func (d *Dispatcher) abandoned(query string, cause error) models.AggregationOutcome {
	outcome := models.AggregationOutcome{
		Query:     query,
		Retailers: make(map[string]models.RetailerStatus, d.registry.Len()),
	}
	for _, desc := range d.registry.Retailers() {
		outcome.Retailers[desc.Name] = timedOut(cause)
	}
	return outcome
}

func timedOut(cause error) models.RetailerStatus {
	err := retailer.ErrTimeout{Err: cause}
	return models.RetailerStatus{
		Error:     err.Error(),
		ErrorType: "timeout",
	}
}

func validate(listings []models.RawListing) error {
	for i := range listings {
		if err := parser.ValidateListing(&listings[i]); err != nil {
			return retailer.ErrMalformed{Err: fmt.Errorf("listing %d: %w", i, err)}
		}
	}
	return nil
}

func errorType(err error) string {
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return "panic"
	}
	return retailer.ErrorType(err)
}

func cloneOutcome(o models.AggregationOutcome) models.AggregationOutcome {
	return models.AggregationOutcome{
		Query:     o.Query,
		Listings:  slices.Clone(o.Listings),
		Retailers: maps.Clone(o.Retailers),
	}
}
