package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"stock-portfolio-go/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const dateLayout = "2006-01-02"

var (
	// ErrNotConfigured means no API key is set. Retrying will not help.
	ErrNotConfigured = errors.New("finnhub API key not configured")
	// ErrUpstream wraps failures reported by, or reaching, the provider.
	ErrUpstream = errors.New("market data provider error")
	// ErrInvalidRequest rejects a query before it reaches the provider.
	ErrInvalidRequest = errors.New("invalid market data request")
)

// Provider defines the market data operations the service relies on.
type Provider interface {
	Configured() bool
	Quote(ctx context.Context, symbol string) (Quote, error)
	CompanyProfile(ctx context.Context, symbol string) (CompanyProfile, error)
	BasicFinancials(ctx context.Context, symbol string) (BasicFinancials, error)
	MarketNews(ctx context.Context, category string) ([]NewsItem, error)
	CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]NewsItem, error)
	SymbolSearch(ctx context.Context, query string) (SymbolSearch, error)
	Candles(ctx context.Context, symbol, resolution string, from, to time.Time) (Candles, error)
}

// Quote is the latest price snapshot for a symbol.
type Quote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	PercentChange float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// CompanyProfile is the provider's general description of a listed company.
type CompanyProfile struct {
	Country              string  `json:"country"`
	Currency             string  `json:"currency"`
	Exchange             string  `json:"exchange"`
	Industry             string  `json:"finnhubIndustry"`
	IPO                  string  `json:"ipo"`
	Logo                 string  `json:"logo"`
	MarketCapitalization float64 `json:"marketCapitalization"`
	Name                 string  `json:"name"`
	Phone                string  `json:"phone"`
	ShareOutstanding     float64 `json:"shareOutstanding"`
	Ticker               string  `json:"ticker"`
	Weburl               string  `json:"weburl"`
}

// BasicFinancials carries the provider's metric set for a symbol as returned.
type BasicFinancials struct {
	Symbol     string                 `json:"symbol"`
	MetricType string                 `json:"metricType"`
	Metric     map[string]interface{} `json:"metric"`
	Series     map[string]interface{} `json:"series,omitempty"`
}

// NewsItem is a single headline.
type NewsItem struct {
	ID       int64  `json:"id"`
	Category string `json:"category"`
	Datetime int64  `json:"datetime"`
	Headline string `json:"headline"`
	Image    string `json:"image"`
	Related  string `json:"related"`
	Source   string `json:"source"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
}

// SymbolMatch is one instrument returned by a symbol lookup.
type SymbolMatch struct {
	Description   string `json:"description"`
	DisplaySymbol string `json:"displaySymbol"`
	Symbol        string `json:"symbol"`
	Type          string `json:"type"`
}

// SymbolSearch is the result of a symbol lookup.
type SymbolSearch struct {
	Count  int           `json:"count"`
	Result []SymbolMatch `json:"result"`
}

// Candles is an OHLCV series in the provider's column layout.
// Status is "ok" or "no_data"; the slices share one index.
type Candles struct {
	Status string    `json:"s"`
	Time   []int64   `json:"t"`
	Open   []float64 `json:"o"`
	High   []float64 `json:"h"`
	Low    []float64 `json:"l"`
	Close  []float64 `json:"c"`
	Volume []float64 `json:"v"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client is a client for the Finnhub REST API.
// It implements the Provider interface.
type Client struct {
	client     *resty.Client
	apiKey     string
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// ensure Client implements the interface
var _ Provider = (*Client)(nil)

// NewClient creates a new Finnhub client.
func NewClient(cfg config.Finnhub, logger *zap.Logger) *Client {
	logger = logger.Named("finnhub")
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.ApiKey != "" {
		client.SetHeader("X-Finnhub-Token", cfg.ApiKey)
	} else {
		logger.Warn("Finnhub API key not set, market data endpoints are disabled")
	}

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:     client,
		apiKey:     cfg.ApiKey,
		logger:     logger,
		limiter:    limiter,
		maxRetries: 3,
		backoff:    exponentialBackoff,
	}
}

// exponentialBackoff waits 1s, 2s, 4s, ...
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return strings.TrimSpace(c.apiKey) != ""
}

// Quote fetches the latest quote for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	var q Quote
	if err := c.get(ctx, "/quote", map[string]string{"symbol": symbol}, &q); err != nil {
		return Quote{}, fmt.Errorf("failed to get quote for %s: %w", symbol, err)
	}
	return q, nil
}

// CompanyProfile fetches the company profile for symbol.
func (c *Client) CompanyProfile(ctx context.Context, symbol string) (CompanyProfile, error) {
	var p CompanyProfile
	if err := c.get(ctx, "/stock/profile2", map[string]string{"symbol": symbol}, &p); err != nil {
		return CompanyProfile{}, fmt.Errorf("failed to get profile for %s: %w", symbol, err)
	}
	return p, nil
}

// BasicFinancials fetches all basic financial metrics for symbol.
func (c *Client) BasicFinancials(ctx context.Context, symbol string) (BasicFinancials, error) {
	var f BasicFinancials
	params := map[string]string{"symbol": symbol, "metric": "all"}
	if err := c.get(ctx, "/stock/metric", params, &f); err != nil {
		return BasicFinancials{}, fmt.Errorf("failed to get financials for %s: %w", symbol, err)
	}
	if f.Metric == nil {
		f.Metric = map[string]interface{}{}
	}
	return f, nil
}

// MarketNews fetches the latest headlines in category.
func (c *Client) MarketNews(ctx context.Context, category string) ([]NewsItem, error) {
	news := make([]NewsItem, 0)
	if err := c.get(ctx, "/news", map[string]string{"category": category}, &news); err != nil {
		return nil, fmt.Errorf("failed to get %s news: %w", category, err)
	}
	return news, nil
}

// CompanyNews fetches headlines about symbol published between from and to.
func (c *Client) CompanyNews(ctx context.Context, symbol string, from, to time.Time) ([]NewsItem, error) {
	news := make([]NewsItem, 0)
	params := map[string]string{
		"symbol": symbol,
		"from":   from.Format(dateLayout),
		"to":     to.Format(dateLayout),
	}
	if err := c.get(ctx, "/company-news", params, &news); err != nil {
		return nil, fmt.Errorf("failed to get news for %s: %w", symbol, err)
	}
	return news, nil
}

// SymbolSearch looks up instruments matching query.
func (c *Client) SymbolSearch(ctx context.Context, query string) (SymbolSearch, error) {
	var r SymbolSearch
	if err := c.get(ctx, "/search", map[string]string{"q": query}, &r); err != nil {
		return SymbolSearch{}, fmt.Errorf("failed to search symbols for %q: %w", query, err)
	}
	if r.Result == nil {
		r.Result = []SymbolMatch{}
	}
	return r, nil
}

// Candles fetches price candles for symbol at resolution between from and to.
func (c *Client) Candles(ctx context.Context, symbol, resolution string, from, to time.Time) (Candles, error) {
	var r Candles
	params := map[string]string{
		"symbol":     symbol,
		"resolution": resolution,
		"from":       strconv.FormatInt(from.Unix(), 10),
		"to":         strconv.FormatInt(to.Unix(), 10),
	}
	if err := c.get(ctx, "/stock/candle", params, &r); err != nil {
		return Candles{}, fmt.Errorf("failed to get candles for %s: %w", symbol, err)
	}
	return r, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	req := c.client.R().
		SetQueryParams(params).
		SetResult(out).
		SetError(&apiError{})

	resp, err := c.doRequest(ctx, http.MethodGet, path, req)
	if err != nil {
		return err
	}

	// Finnhub sometimes reports failures inside a 200 body.
	var probe apiError
	if json.Unmarshal(resp.Body(), &probe) == nil && probe.Error != "" {
		return fmt.Errorf("%w: %s", ErrUpstream, probe.Error)
	}
	return nil
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			// Network or other client-side errors
			shouldRetry = true
		} else {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
			err = fmt.Errorf("status %s: %s", resp.Status(), upstreamMessage(resp))
		}

		if !shouldRetry {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		if i == c.maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", url),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: request failed after %d attempts: %v", ErrUpstream, c.maxRetries, err)
}

func upstreamMessage(resp *resty.Response) string {
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		return e.Error
	}
	return resp.String()
}
