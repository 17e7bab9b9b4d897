package retailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-grocery-prices/models"
	"github.com/aluiziolira/go-grocery-prices/parser"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Selectors locate listing fields in a retailer's search results page.
type Selectors struct {
	Item     string
	Name     string
	Price    string
	Image    string
	Category string
}

// DefaultSelectors targets schema.org Product microdata.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:     `[itemtype$="schema.org/Product"]`,
		Name:     `[itemprop="name"]`,
		Price:    `[itemprop="price"]`,
		Image:    `img`,
		Category: `[itemprop="category"]`,
	}
}

// CrawlerConfig configures a CrawlerAdapter.
type CrawlerConfig struct {
	Store     string
	SearchURL string // fmt template with one %s for the escaped query
	Selectors Selectors
	Timeout   time.Duration
	UserAgent string
	Rate      float64 // requests per second, 0 disables limiting
	Burst     int
	MaxItems  int

	// MaxRetries bounds extra attempts after a rate-limited or connection
	// failure. Retries never outlive the Fetch context.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// CrawlerAdapter fetches listings by crawling a retailer search page.
type CrawlerAdapter struct {
	cfg       CrawlerConfig
	collector *colly.Collector
	limiter   *rate.Limiter
}

// NewCrawlerAdapter builds a colly-backed adapter for cfg.
func NewCrawlerAdapter(cfg CrawlerConfig) (*CrawlerAdapter, error) {
	if cfg.Store == "" {
		return nil, fmt.Errorf("crawler store cannot be empty")
	}
	if strings.Count(cfg.SearchURL, "%s") != 1 {
		return nil, fmt.Errorf("search url must contain exactly one %%s")
	}
	parsed, err := url.Parse(fmt.Sprintf(cfg.SearchURL, "query"))
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("search url must include a host")
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []colly.CollectorOption{
		colly.AllowedDomains(parsed.Hostname()),
		colly.AllowURLRevisit(),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	a := &CrawlerAdapter{cfg: cfg, collector: collector}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return a, nil
}

// WithTransport swaps the HTTP transport, mainly for tests.
func (a *CrawlerAdapter) WithTransport(rt http.RoundTripper) {
	a.collector.WithTransport(rt)
}

// Fetch implements Adapter. Rate-limited and connection failures are retried
// with exponential backoff up to MaxRetries. The crawl itself is not
// interruptible; callers abandon it through ctx and the dispatcher treats it
// as timed out.
func (a *CrawlerAdapter) Fetch(ctx context.Context, query string) ([]models.RawListing, error) {
	for attempt := 0; ; attempt++ {
		listings, err := a.fetchOnce(ctx, query)
		if err == nil || attempt >= a.cfg.MaxRetries || !retryable(err) {
			return listings, err
		}

		delay := a.backoff(attempt + 1)
		slog.Debug("retrying retailer fetch",
			slog.String("store", a.cfg.Store),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

func retryable(err error) bool {
	var limited ErrRateLimited
	var conn ErrConnection
	return errors.As(err, &limited) || errors.As(err, &conn)
}

func (a *CrawlerAdapter) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := a.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := a.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (a *CrawlerAdapter) fetchOnce(ctx context.Context, query string) ([]models.RawListing, error) {
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, ErrRateLimited{Err: err}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout{Err: err}
	}

	target := fmt.Sprintf(a.cfg.SearchURL, url.QueryEscape(query))
	c := a.collector.Clone()

	var (
		mu       sync.Mutex
		listings []models.RawListing
		parseErr error
		fetchErr error
	)

	c.OnHTML(a.cfg.Selectors.Item, func(e *colly.HTMLElement) {
		listing, err := a.extract(e)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if parseErr == nil {
				parseErr = err
			}
			return
		}
		if a.cfg.MaxItems > 0 && len(listings) >= a.cfg.MaxItems {
			return
		}
		listings = append(listings, listing)
	})

	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		mu.Lock()
		fetchErr = classifyError(err, statusCode)
		mu.Unlock()
	})

	visitErr := c.Visit(target)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, fetchErr
	}
	if visitErr != nil {
		return nil, classifyError(visitErr, 0)
	}
	if parseErr != nil {
		return nil, ErrMalformed{Err: parseErr}
	}
	return listings, nil
}

func (a *CrawlerAdapter) extract(e *colly.HTMLElement) (models.RawListing, error) {
	sel := a.cfg.Selectors

	name := parser.NormalizeText(e.ChildText(sel.Name))
	if name == "" {
		name = parser.NormalizeText(e.ChildAttr(sel.Name, "content"))
	}
	if name == "" {
		return models.RawListing{}, fmt.Errorf("listing without name")
	}

	priceText := e.ChildAttr(sel.Price, "content")
	if strings.TrimSpace(priceText) == "" {
		priceText = e.ChildText(sel.Price)
	}
	price, err := parser.ParsePrice(priceText)
	if err != nil {
		return models.RawListing{}, fmt.Errorf("listing %q: %w", name, err)
	}

	category := parser.NormalizeText(e.ChildText(sel.Category))
	if category == "" {
		category = "Groceries"
	}

	image := e.ChildAttr(sel.Image, "src")
	if image != "" {
		image = e.Request.AbsoluteURL(image)
	}

	measure := parser.ParseMeasure(name)
	return models.RawListing{
		Name:     name,
		Price:    price,
		Store:    a.cfg.Store,
		Category: category,
		Weight:   models.StringPtr(measure.Weight),
		Quantity: models.IntPtr(measure.Quantity),
		Unit:     models.StringPtr(measure.Unit),
		ImageURL: image,
	}, nil
}
