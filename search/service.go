// Package search answers product queries from the catalog and falls back to
// live retailer discovery on a miss.
package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-grocery-prices/aggregator"
	"github.com/aluiziolira/go-grocery-prices/config"
	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/pipeline"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"github.com/aluiziolira/go-grocery-prices/store"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("search: query cannot be empty")

// Service is the search orchestrator.
type Service struct {
	catalog         store.Catalog
	dispatcher      *aggregator.Dispatcher
	normalizer      *pipeline.Normalizer
	recorder        *pipeline.Recorder
	metrics         *aggregator.Metrics
	searchLimit     int
	priceLimit      int
	dispatchTimeout time.Duration
}

// NewService wires a search service. metrics may be nil.
func NewService(cfg *config.Config, catalog store.Catalog, dispatcher *aggregator.Dispatcher, recorder *pipeline.Recorder, metrics *aggregator.Metrics) *Service {
	return &Service{
		catalog:         catalog,
		dispatcher:      dispatcher,
		normalizer:      pipeline.NewNormalizer(nil),
		recorder:        recorder,
		metrics:         metrics,
		searchLimit:     cfg.SearchLimit,
		priceLimit:      cfg.PriceLimit,
		dispatchTimeout: cfg.DispatchTimeout,
	}
}

// Search returns products whose name contains query, with their recorded
// prices grouped by product id. Products already in the catalog are served
// without contacting any retailer; otherwise every retailer is queried and
// the distinct listings become new products, each with one seed price.
func (s *Service) Search(ctx context.Context, query string) (models.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return models.SearchResult{}, ErrEmptyQuery
	}

	products, err := s.catalog.FindByNameSubstring(ctx, q, s.searchLimit)
	if err != nil {
		s.metrics.IncPersistenceError("find_by_name")
		return models.SearchResult{}, store.Wrap("find_by_name", err)
	}
	s.metrics.IncLookup(len(products) > 0)

	if len(products) == 0 {
		products, err = s.discover(ctx, q)
		if err != nil {
			return models.SearchResult{}, err
		}
	}
	return s.enrich(ctx, products)
}

// Stores lists the retailers searched on a miss.
func (s *Service) Stores() []retailer.StoreInfo {
	return s.dispatcher.Registry().Stores()
}

func (s *Service) discover(ctx context.Context, q string) ([]models.Product, error) {
	dctx := ctx
	if s.dispatchTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, s.dispatchTimeout)
		defer cancel()
	}
	outcome := s.dispatcher.Dispatch(dctx, q)
	if failed := outcome.Failed(); len(failed) > 0 {
		slog.Warn("retailers failed during search",
			slog.String("query", q),
			slog.Any("retailers", failed),
		)
	}

	candidates := s.normalizer.Normalize(outcome.Listings)
	products := make([]models.Product, 0, len(candidates))
	for _, c := range candidates {
		if err := s.catalog.InsertProduct(ctx, c.Product); err != nil {
			s.metrics.IncPersistenceError("insert_product")
			return nil, store.Wrap("insert_product", err)
		}
		s.metrics.IncProducts(1)

		if _, err := s.recorder.Record(ctx, c.Product.ID, c.Store, c.Price); err != nil {
			s.metrics.IncPersistenceError("insert_price")
			return nil, err
		}
		s.metrics.IncPrices("search")
		products = append(products, c.Product)
	}

	slog.Info("search discovered products",
		slog.String("query", q),
		slog.Int("listings", len(outcome.Listings)),
		slog.Int("products", len(products)),
	)
	return products, nil
}

func (s *Service) enrich(ctx context.Context, products []models.Product) (models.SearchResult, error) {
	if products == nil {
		products = []models.Product{}
	}
	result := models.SearchResult{
		Products: products,
		Prices:   make(map[string][]models.Price),
	}
	if len(products) == 0 {
		return result, nil
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	prices, err := s.catalog.FindPricesByProductIDs(ctx, ids, s.priceLimit)
	if err != nil {
		s.metrics.IncPersistenceError("find_prices")
		return models.SearchResult{}, store.Wrap("find_prices", err)
	}
	for _, p := range prices {
		result.Prices[p.ProductID] = append(result.Prices[p.ProductID], p)
	}
	return result, nil
}
