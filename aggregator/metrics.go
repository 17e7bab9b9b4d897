package aggregator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for dispatch, search and refresh.
type Metrics struct {
	Registry          *prometheus.Registry
	AdapterCalls      *prometheus.CounterVec
	AdapterDuration   *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	CatalogLookups    *prometheus.CounterVec
	ProductsCreated   prometheus.Counter
	PricesRecorded    *prometheus.CounterVec
	PersistenceErrors *prometheus.CounterVec
	RefreshTicks      *prometheus.CounterVec
	RefreshDuration   prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	adapterCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_adapter_calls_total",
			Help: "Total adapter calls by retailer and outcome.",
		},
		[]string{"retailer", "outcome"},
	)
	adapterDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prices_adapter_duration_seconds",
			Help:    "Adapter call latency by retailer.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"retailer"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_adapter_errors_total",
			Help: "Total adapter failures by retailer and error type.",
		},
		[]string{"retailer", "error_type"},
	)
	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_catalog_lookups_total",
			Help: "Search lookups against the catalog by result (hit or miss).",
		},
		[]string{"result"},
	)
	productsCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "prices_products_created_total",
			Help: "Total canonical products persisted.",
		},
	)
	pricesRecorded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_observations_recorded_total",
			Help: "Total price observations persisted by source.",
		},
		[]string{"source"},
	)
	persistenceErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_persistence_errors_total",
			Help: "Total catalog read or write failures by operation.",
		},
		[]string{"op"},
	)
	refreshTicks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prices_refresh_ticks_total",
			Help: "Refresh ticks by outcome (completed, skipped, failed).",
		},
		[]string{"outcome"},
	)
	refreshDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "prices_refresh_duration_seconds",
			Help:    "Wall time of completed refresh sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)

	registry.MustRegister(adapterCalls, adapterDuration, errorsTotal, lookups,
		productsCreated, pricesRecorded, persistenceErrors, refreshTicks, refreshDuration)

	return &Metrics{
		Registry:          registry,
		AdapterCalls:      adapterCalls,
		AdapterDuration:   adapterDuration,
		ErrorsTotal:       errorsTotal,
		CatalogLookups:    lookups,
		ProductsCreated:   productsCreated,
		PricesRecorded:    pricesRecorded,
		PersistenceErrors: persistenceErrors,
		RefreshTicks:      refreshTicks,
		RefreshDuration:   refreshDuration,
	}
}

// IncAdapterCall increments the adapter call counter.
func (m *Metrics) IncAdapterCall(retailer, outcome string) {
	if m == nil {
		return
	}
	m.AdapterCalls.WithLabelValues(retailer, outcome).Inc()
}

// ObserveAdapterDuration records how long one adapter call took.
func (m *Metrics) ObserveAdapterDuration(retailer string, d time.Duration) {
	if m == nil {
		return
	}
	m.AdapterDuration.WithLabelValues(retailer).Observe(d.Seconds())
}

// IncError increments the errors counter for a retailer and type label.
func (m *Metrics) IncError(retailer, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(retailer, errorType).Inc()
}

// IncLookup counts a catalog lookup as a hit or a miss.
func (m *Metrics) IncLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CatalogLookups.WithLabelValues(result).Inc()
}

// IncProducts adds n to the products created counter.
func (m *Metrics) IncProducts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ProductsCreated.Add(float64(n))
}

// IncPrices increments the recorded price counter for source ("search" or "refresh").
func (m *Metrics) IncPrices(source string) {
	if m == nil {
		return
	}
	m.PricesRecorded.WithLabelValues(source).Inc()
}

// IncPersistenceError increments the persistence failure counter.
func (m *Metrics) IncPersistenceError(op string) {
	if m == nil {
		return
	}
	m.PersistenceErrors.WithLabelValues(op).Inc()
}

// IncRefreshTick increments the refresh tick counter.
func (m *Metrics) IncRefreshTick(outcome string) {
	if m == nil {
		return
	}
	m.RefreshTicks.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records a completed sweep duration.
func (m *Metrics) ObserveRefresh(d time.Duration) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(d.Seconds())
}
