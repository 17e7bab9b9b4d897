// Package api exposes search and the retailer list over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/retailer"
	"github.com/aluiziolira/go-grocery-prices/search"
	"github.com/aluiziolira/go-grocery-prices/store"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Banner is returned by the API root.
const Banner = "UK Grocery Price Comparison API"

// Searcher is the search surface the handlers need.
type Searcher interface {
	Search(ctx context.Context, query string) (models.SearchResult, error)
	Stores() []retailer.StoreInfo
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Server owns the fiber app.
type Server struct {
	app      *fiber.App
	searcher Searcher
}

// NewServer builds the app and its routes. registry may be nil, in which
// case /metrics is not mounted.
func NewServer(searcher Searcher, secret string, registry *prometheus.Registry) *Server {
	s := &Server{searcher: searcher}
	s.app = fiber.New(fiber.Config{
		AppName:               Banner,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.app.Use(requestLogger)

	if registry != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := s.app.Group("/api")
	api.Get("/", s.root)
	api.Get("/stores", s.stores)
	api.Get("/guest/search", s.search)
	api.Get("/guest-search", s.search)
	api.Get("/search", RequireToken([]byte(secret)), s.search)
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	slog.Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": Banner})
}

func (s *Server) stores(c *fiber.Ctx) error {
	return c.JSON(s.searcher.Stores())
}

func (s *Server) search(c *fiber.Ctx) error {
	result, err := s.searcher.Search(c.UserContext(), c.Query("query"))
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	resp := ErrorResponse{Error: "internal", Message: "Internal Server Error"}

	var fe *fiber.Error
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		code = fiber.StatusBadRequest
		resp = ErrorResponse{Error: "bad_request", Message: "query cannot be empty"}
	case errors.Is(err, store.ErrPersistence):
		code = fiber.StatusServiceUnavailable
		resp = ErrorResponse{Error: "unavailable", Message: "price store unavailable, retry later"}
		slog.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
	case errors.As(err, &fe):
		code = fe.Code
		resp = ErrorResponse{Error: "http", Message: fe.Message}
	default:
		slog.Error("request failed", slog.String("path", c.Path()), slog.Any("error", err))
	}
	return c.Status(code).JSON(resp)
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	slog.Debug("http request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", c.Response().StatusCode()),
		slog.Duration("latency", time.Since(start)),
	)
	return err
}
