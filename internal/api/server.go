package api

import (
	"context"
	"time"

	"stock-portfolio-go/internal/config"
	"stock-portfolio-go/internal/ledger"
	"stock-portfolio-go/internal/marketdata"
	"stock-portfolio-go/internal/models"

	"github.com/cloudwego/hertz/pkg/app/server"
	hertzconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/hertz-contrib/gzip"
	"github.com/hertz-contrib/logger/accesslog"
	"github.com/hertz-contrib/pprof"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the portfolio ledger as used by the HTTP layer.
type Ledger interface {
	Buy(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (models.Transaction, models.Account, error)
	Sell(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (models.Transaction, models.Account, error)
	TopUp(ctx context.Context, userID string, amount decimal.Decimal) (models.Account, error)
	SetSharing(ctx context.Context, userID string, enabled bool) (models.Account, error)
	Account(ctx context.Context, callerID, userID string) (models.Account, error)
	Transactions(ctx context.Context, userID string) ([]models.Transaction, error)
	Statistics(ctx context.Context, userID string) (ledger.Statistics, error)
	Holdings(ctx context.Context, userID string) ([]models.Holding, error)
	Holding(ctx context.Context, userID, symbol string) (models.Holding, error)
	SharedHoldings(ctx context.Context, callerID, ownerID string) ([]models.Holding, error)
}

// Market is the market data service as used by the HTTP layer.
type Market interface {
	Configured() bool
	Quote(ctx context.Context, symbol string) (marketdata.Quote, error)
	Fundamentals(ctx context.Context, symbol string) (marketdata.Fundamentals, error)
	Financials(ctx context.Context, symbol string) (marketdata.BasicFinancials, error)
	MarketNews(ctx context.Context) ([]marketdata.NewsItem, error)
	CompanyNews(ctx context.Context, symbol string) ([]marketdata.NewsItem, error)
	TopMovers(ctx context.Context) (marketdata.TopMovers, error)
	Search(ctx context.Context, query string) (marketdata.SymbolSearch, error)
	PriceSeries(ctx context.Context, symbol, interval string) (marketdata.PriceSeries, error)
}

var (
	_ Ledger = (*ledger.Processor)(nil)
	_ Market = (*marketdata.Service)(nil)
)

// Server provides the HTTP interface of the portfolio service.
type Server struct {
	h         *server.Hertz
	ledger    Ledger
	market    Market
	logger    *zap.Logger
	startTime time.Time
}

// NewServer creates a Server and registers all routes.
func NewServer(cfg config.Server, l Ledger, m Market, logger *zap.Logger) *Server {
	opts := []hertzconfig.Option{server.WithHostPorts(cfg.Address)}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, server.WithMaxRequestBodySize(cfg.MaxBodySize))
	}
	h := server.Default(opts...)

	if cfg.EnableAccessLog {
		h.Use(accesslog.New())
	}
	if cfg.EnableGzip {
		h.Use(gzip.Gzip(gzip.DefaultCompression))
	}
	if cfg.EnablePprof {
		pprof.Register(h)
	}

	s := &Server{
		h:         h,
		ledger:    l,
		market:    m,
		logger:    logger.Named("api"),
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.h.Group("/api")
	api.GET("/health", s.health)

	stocks := api.Group("/stocks")
	stocks.GET("/news", s.marketNews)
	stocks.GET("/top-movers", s.topMovers)
	stocks.GET("/search", s.search)
	stocks.GET("/:symbol/data", s.priceSeries)
	stocks.GET("/:symbol/quote", s.quote)
	stocks.GET("/:symbol/fundamentals", s.fundamentals)
	stocks.GET("/:symbol/financials", s.financials)
	stocks.GET("/:symbol/news", s.companyNews)

	transactions := api.Group("/transactions", s.requireUser)
	transactions.GET("", s.listTransactions)
	transactions.GET("/statistics", s.statistics)
	transactions.POST("/buy", s.buy)
	transactions.POST("/sell", s.sell)

	holdings := api.Group("/holdings", s.requireUser)
	holdings.GET("", s.listHoldings)
	holdings.GET("/shared/:userId", s.sharedHoldings)
	holdings.GET("/:symbol", s.getHolding)

	users := api.Group("/users", s.requireUser)
	users.POST("/topup", s.topUp)
	users.POST("/sharing", s.setSharing)
	users.GET("/:userId", s.getUser)
}

// Spin serves requests until the process receives a shutdown signal.
func (s *Server) Spin() {
	s.logger.Info("Starting API server")
	s.h.Spin()
}

// OnShutdown registers hook to run when the server shuts down.
func (s *Server) OnShutdown(hook func(ctx context.Context)) {
	s.h.OnShutdown = append(s.h.OnShutdown, hook)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.h.Shutdown(ctx)
}
