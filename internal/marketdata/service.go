package marketdata

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"stock-portfolio-go/internal/cache"
	"stock-portfolio-go/internal/config"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const (
	topMoversCount  = 5
	companyNewsDays = 7
	newsCategory    = "general"

	// DefaultInterval is the price series interval used when none is given.
	DefaultInterval = "1h"
)

const day = 24 * time.Hour

// intervals maps the supported series intervals to a provider resolution and
// the window of history returned for it.
var intervals = map[string]struct {
	resolution string
	lookback   time.Duration
}{
	"1min":   {"1", day},
	"5min":   {"5", 3 * day},
	"15min":  {"15", 7 * day},
	"30min":  {"30", 14 * day},
	"1h":     {"60", 30 * day},
	"1day":   {"D", 365 * day},
	"1week":  {"W", 5 * 365 * day},
	"1month": {"M", 10 * 365 * day},
}

// Fundamentals is a summary of a company's profile and key metrics.
// Metrics the provider does not report are null.
type Fundamentals struct {
	CompanyName          string   `json:"CompanyName"`
	Industry             string   `json:"Industry"`
	Weburl               string   `json:"Weburl"`
	Country              string   `json:"Country"`
	MarketCapitalization *float64 `json:"MarketCapitalization"`
	PERatio              *float64 `json:"PERatio"`
	DividendYield        *float64 `json:"DividendYield"`
	Beta                 *float64 `json:"Beta"`
	BookValue            *float64 `json:"BookValue"`
	EPS                  *float64 `json:"EPS"`
}

// Mover is one entry of the top movers board.
type Mover struct {
	Ticker           string  `json:"ticker"`
	Price            float64 `json:"price"`
	ChangePercentage float64 `json:"change_percentage"`
	Volume           int64   `json:"volume"`
}

// TopMovers lists the biggest gainers and losers of the day.
type TopMovers struct {
	TopGainers []Mover `json:"top_gainers"`
	TopLosers  []Mover `json:"top_losers"`
}

// PricePoint is one bar of a price series.
type PricePoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// PriceSeries is the price history of a symbol at one interval, oldest first.
type PriceSeries struct {
	Symbol   string       `json:"symbol"`
	Interval string       `json:"interval"`
	Points   []PricePoint `json:"points"`
}

// Service exposes market data to the API, caching the expensive views.
type Service struct {
	provider Provider
	cache    *cache.Cache
	pool     *ants.Pool
	logger   *zap.Logger

	symbols        []string
	topMoversTTL   time.Duration
	marketNewsTTL  time.Duration
	companyNewsTTL time.Duration
	candlesTTL     time.Duration
	now            func() time.Time
}

// NewService creates a Service. The pool bounds concurrent upstream quote
// requests made while building the top movers board.
func NewService(provider Provider, c *cache.Cache, pool *ants.Pool, market config.Market, cacheCfg config.Cache, logger *zap.Logger) *Service {
	return &Service{
		provider:       provider,
		cache:          c,
		pool:           pool,
		logger:         logger.Named("marketdata"),
		symbols:        market.TopMoversSymbols,
		topMoversTTL:   cacheCfg.TopMoversTTL,
		marketNewsTTL:  cacheCfg.MarketNewsTTL,
		companyNewsTTL: cacheCfg.CompanyNewsTTL,
		candlesTTL:     cacheCfg.CandlesTTL,
		now:            time.Now,
	}
}

// Configured reports whether the upstream provider has credentials.
func (s *Service) Configured() bool {
	return s.provider.Configured()
}

// Quote returns the latest quote for symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (Quote, error) {
	if !s.provider.Configured() {
		return Quote{}, ErrNotConfigured
	}
	return s.provider.Quote(ctx, normalize(symbol))
}

// Fundamentals combines the company profile with headline metrics.
func (s *Service) Fundamentals(ctx context.Context, symbol string) (Fundamentals, error) {
	if !s.provider.Configured() {
		return Fundamentals{}, ErrNotConfigured
	}
	symbol = normalize(symbol)
	profile, err := s.provider.CompanyProfile(ctx, symbol)
	if err != nil {
		return Fundamentals{}, err
	}
	financials, err := s.provider.BasicFinancials(ctx, symbol)
	if err != nil {
		return Fundamentals{}, err
	}

	m := financials.Metric
	f := Fundamentals{
		CompanyName:          profile.Name,
		Industry:             profile.Industry,
		Weburl:               profile.Weburl,
		Country:              profile.Country,
		MarketCapitalization: metric(m, "marketCapitalization"),
		PERatio:              metric(m, "peBasicExclExtraTTM"),
		DividendYield:        metric(m, "dividendYieldIndicatedAnnual"),
		Beta:                 metric(m, "beta"),
		BookValue:            metric(m, "bookValuePerShareAnnual"),
		EPS:                  metric(m, "epsTTM"),
	}
	if f.MarketCapitalization == nil && profile.MarketCapitalization != 0 {
		mc := profile.MarketCapitalization
		f.MarketCapitalization = &mc
	}
	return f, nil
}

// Financials returns the provider's basic financials unchanged.
func (s *Service) Financials(ctx context.Context, symbol string) (BasicFinancials, error) {
	if !s.provider.Configured() {
		return BasicFinancials{}, ErrNotConfigured
	}
	return s.provider.BasicFinancials(ctx, normalize(symbol))
}

// MarketNews returns general market headlines.
func (s *Service) MarketNews(ctx context.Context) ([]NewsItem, error) {
	if !s.provider.Configured() {
		return nil, ErrNotConfigured
	}
	return cache.Fetch(ctx, s.cache, "market-news", s.marketNewsTTL, func(ctx context.Context) ([]NewsItem, error) {
		s.logger.Info("Fetching market news")
		return s.provider.MarketNews(ctx, newsCategory)
	})
}

// CompanyNews returns headlines about symbol from the last week.
func (s *Service) CompanyNews(ctx context.Context, symbol string) ([]NewsItem, error) {
	if !s.provider.Configured() {
		return nil, ErrNotConfigured
	}
	symbol = normalize(symbol)
	return cache.Fetch(ctx, s.cache, "company-news:"+symbol, s.companyNewsTTL, func(ctx context.Context) ([]NewsItem, error) {
		s.logger.Info("Fetching company news", zap.String("symbol", symbol))
		to := s.now().UTC()
		return s.provider.CompanyNews(ctx, symbol, to.AddDate(0, 0, -companyNewsDays), to)
	})
}

// Search looks up listed instruments by symbol or name.
func (s *Service) Search(ctx context.Context, query string) (SymbolSearch, error) {
	if !s.provider.Configured() {
		return SymbolSearch{}, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return SymbolSearch{}, fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	return s.provider.SymbolSearch(ctx, query)
}

// PriceSeries returns the recent price history of symbol at interval.
// An empty interval means DefaultInterval.
func (s *Service) PriceSeries(ctx context.Context, symbol, interval string) (PriceSeries, error) {
	if !s.provider.Configured() {
		return PriceSeries{}, ErrNotConfigured
	}
	if interval == "" {
		interval = DefaultInterval
	}
	iv, ok := intervals[interval]
	if !ok {
		return PriceSeries{}, fmt.Errorf("%w: unsupported interval %q", ErrInvalidRequest, interval)
	}
	symbol = normalize(symbol)
	key := "candles:" + symbol + ":" + interval
	return cache.Fetch(ctx, s.cache, key, s.candlesTTL, func(ctx context.Context) (PriceSeries, error) {
		s.logger.Info("Fetching price series", zap.String("symbol", symbol), zap.String("interval", interval))
		to := s.now().UTC()
		candles, err := s.provider.Candles(ctx, symbol, iv.resolution, to.Add(-iv.lookback), to)
		if err != nil {
			return PriceSeries{}, err
		}
		return toSeries(symbol, interval, candles)
	})
}

func toSeries(symbol, interval string, c Candles) (PriceSeries, error) {
	series := PriceSeries{Symbol: symbol, Interval: interval, Points: []PricePoint{}}
	if c.Status == "no_data" {
		return series, nil
	}
	n := len(c.Time)
	if len(c.Open) != n || len(c.High) != n || len(c.Low) != n || len(c.Close) != n {
		return PriceSeries{}, fmt.Errorf("%w: malformed candles for %s", ErrUpstream, symbol)
	}
	for i := range n {
		p := PricePoint{Time: c.Time[i], Open: c.Open[i], High: c.High[i], Low: c.Low[i], Close: c.Close[i]}
		if i < len(c.Volume) {
			p.Volume = c.Volume[i]
		}
		series.Points = append(series.Points, p)
	}
	return series, nil
}

// TopMovers quotes the tracked symbols and ranks them by daily change.
// Symbols whose quote fails are skipped; if none succeed the call fails.
func (s *Service) TopMovers(ctx context.Context) (TopMovers, error) {
	if !s.provider.Configured() {
		return TopMovers{}, ErrNotConfigured
	}
	return cache.Fetch(ctx, s.cache, "top-movers", s.topMoversTTL, s.loadTopMovers)
}

func (s *Service) loadTopMovers(ctx context.Context) (TopMovers, error) {
	s.logger.Info("Fetching top movers", zap.Int("symbols", len(s.symbols)))

	quotes := make([]*Mover, len(s.symbols))
	var wg sync.WaitGroup
	for i, symbol := range s.symbols {
		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			q, err := s.provider.Quote(ctx, symbol)
			if err != nil {
				s.logger.Warn("Skipping symbol due to quote error", zap.String("symbol", symbol), zap.Error(err))
				return
			}
			quotes[i] = &Mover{Ticker: symbol, Price: q.Current, ChangePercentage: q.PercentChange}
		})
		if err != nil {
			wg.Done()
			s.logger.Warn("Failed to schedule quote", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	wg.Wait()

	movers := make([]Mover, 0, len(quotes))
	for _, m := range quotes {
		if m != nil {
			movers = append(movers, *m)
		}
	}
	if len(movers) == 0 {
		return TopMovers{}, fmt.Errorf("%w: no quotes returned, check API key or rate limits", ErrUpstream)
	}

	losers := slices.Clone(movers)
	slices.SortStableFunc(losers, func(a, b Mover) int {
		return cmp.Compare(a.ChangePercentage, b.ChangePercentage)
	})
	gainers := slices.Clone(movers)
	slices.SortStableFunc(gainers, func(a, b Mover) int {
		return cmp.Compare(b.ChangePercentage, a.ChangePercentage)
	})

	return TopMovers{
		TopGainers: gainers[:min(topMoversCount, len(gainers))],
		TopLosers:  losers[:min(topMoversCount, len(losers))],
	}, nil
}

func metric(m map[string]interface{}, key string) *float64 {
	if v, ok := m[key].(float64); ok {
		return &v
	}
	return nil
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
