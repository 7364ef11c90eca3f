package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"stock-portfolio-go/internal/config"
	"stock-portfolio-go/internal/database"
	"stock-portfolio-go/internal/ledger"
	"stock-portfolio-go/internal/marketdata"

	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockMarket is a mock implementation of the Market interface.
type MockMarket struct {
	mock.Mock
}

func (m *MockMarket) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockMarket) Quote(ctx context.Context, symbol string) (marketdata.Quote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(marketdata.Quote), args.Error(1)
}

func (m *MockMarket) Fundamentals(ctx context.Context, symbol string) (marketdata.Fundamentals, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(marketdata.Fundamentals), args.Error(1)
}

func (m *MockMarket) Financials(ctx context.Context, symbol string) (marketdata.BasicFinancials, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(marketdata.BasicFinancials), args.Error(1)
}

func (m *MockMarket) MarketNews(ctx context.Context) ([]marketdata.NewsItem, error) {
	args := m.Called(ctx)
	return args.Get(0).([]marketdata.NewsItem), args.Error(1)
}

func (m *MockMarket) CompanyNews(ctx context.Context, symbol string) ([]marketdata.NewsItem, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]marketdata.NewsItem), args.Error(1)
}

func (m *MockMarket) TopMovers(ctx context.Context) (marketdata.TopMovers, error) {
	args := m.Called(ctx)
	return args.Get(0).(marketdata.TopMovers), args.Error(1)
}

func (m *MockMarket) Search(ctx context.Context, query string) (marketdata.SymbolSearch, error) {
	args := m.Called(ctx, query)
	return args.Get(0).(marketdata.SymbolSearch), args.Error(1)
}

func (m *MockMarket) PriceSeries(ctx context.Context, symbol, interval string) (marketdata.PriceSeries, error) {
	args := m.Called(ctx, symbol, interval)
	return args.Get(0).(marketdata.PriceSeries), args.Error(1)
}

func newTestServer(t *testing.T, market Market) *Server {
	t.Helper()
	return newLoggedTestServer(t, market, zap.NewNop())
}

func newLoggedTestServer(t *testing.T, market Market, logger *zap.Logger) *Server {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	processor := ledger.NewProcessor(
		zap.NewNop(),
		db,
		ledger.NewAccountLedger(db, decimal.NewFromInt(1000)),
		ledger.NewHoldingsStore(db),
		ledger.NewTransactionLog(db),
		nil,
		5*time.Second,
	)
	return NewServer(config.Server{Address: "127.0.0.1:0"}, processor, market, logger)
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), string(r.body))
}

func perform(s *Server, method, url, user, body string) response {
	var headers []ut.Header
	if user != "" {
		headers = append(headers, ut.Header{Key: userIDHeader, Value: user})
	}
	var b *ut.Body
	if body != "" {
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
	}
	w := ut.PerformRequest(s.h.Engine, method, url, b, headers...)
	resp := w.Result()
	return response{status: resp.StatusCode(), body: resp.Body()}
}

func TestServer_Trading(t *testing.T) {
	s := newTestServer(t, new(MockMarket))

	t.Run("BuyReturnsTransactionAndUser", func(t *testing.T) {
		// Act
		resp := perform(s, consts.MethodPost, "/api/transactions/buy", "alice", `{"symbol":"aapl","quantity":2,"price":"100.50"}`)

		// Assert
		require.Equal(t, consts.StatusOK, resp.status, string(resp.body))
		var out struct {
			Transaction struct {
				Symbol      string `json:"symbol"`
				Side        string `json:"side"`
				TotalAmount string `json:"total_amount"`
			} `json:"transaction"`
			User userResponse `json:"user"`
		}
		resp.decode(t, &out)
		assert.Equal(t, "AAPL", out.Transaction.Symbol)
		assert.Equal(t, "BUY", out.Transaction.Side)
		assert.Equal(t, "201", out.Transaction.TotalAmount)
		assert.Equal(t, "alice", out.User.ID)
		assert.True(t, decimal.NewFromInt(799).Equal(out.User.Balance))
		assert.Equal(t, "$799.00", out.User.BalanceDisplay)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/transactions/buy", "alice", `{"symbol":"AAPL","quantity":100,"price":100}`)

		assert.Equal(t, consts.StatusBadRequest, resp.status)
		assert.Contains(t, string(resp.body), "insufficient funds")
	})

	t.Run("SellWithoutHolding", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/transactions/sell", "alice", `{"symbol":"TSLA","quantity":1,"price":1}`)

		assert.Equal(t, consts.StatusNotFound, resp.status)
	})

	t.Run("OversellIsRejected", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/transactions/sell", "alice", `{"symbol":"AAPL","quantity":3,"price":1}`)

		assert.Equal(t, consts.StatusBadRequest, resp.status)
		assert.Contains(t, string(resp.body), "insufficient holdings")
	})

	t.Run("MissingFields", func(t *testing.T) {
		for _, body := range []string{`{"symbol":"AAPL","price":1}`, `{"quantity":1,"price":1}`, `{}`, `not json`, `{"symbol":"AAPL","quantity":"abc","price":1}`} {
			resp := perform(s, consts.MethodPost, "/api/transactions/buy", "alice", body)
			assert.Equal(t, consts.StatusBadRequest, resp.status, body)
		}
	})

	t.Run("NonPositiveQuantity", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/transactions/buy", "alice", `{"symbol":"AAPL","quantity":0,"price":1}`)

		assert.Equal(t, consts.StatusBadRequest, resp.status)
	})

	t.Run("OutOfRangeDecimalsAreRejected", func(t *testing.T) {
		bodies := []string{
			`{"symbol":"AAPL","quantity":"1e-2000000","price":1}`,
			`{"symbol":"AAPL","quantity":"1234567890123456789012345678901234567890123456789012345678901234567890","price":1}`,
			`{"symbol":"AAPL","quantity":1,"price":"0.000000001"}`,
		}
		for _, body := range bodies {
			resp := perform(s, consts.MethodPost, "/api/transactions/buy", "mallory", body)

			assert.Equal(t, consts.StatusBadRequest, resp.status, body)
		}

		resp := perform(s, consts.MethodPost, "/api/users/topup", "mallory", `{"amount":"1e-2000000"}`)
		assert.Equal(t, consts.StatusBadRequest, resp.status)
		resp = perform(s, consts.MethodPost, "/api/users/topup", "mallory", `{"amount":5}`)
		require.Equal(t, consts.StatusOK, resp.status)
		var user userResponse
		resp.decode(t, &user)
		assert.Equal(t, "1005", user.Balance.String())
	})

	t.Run("HoldingsAndHistory", func(t *testing.T) {
		resp := perform(s, consts.MethodGet, "/api/holdings", "alice", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var holdings []map[string]interface{}
		resp.decode(t, &holdings)
		require.Len(t, holdings, 1)
		assert.Equal(t, "AAPL", holdings[0]["symbol"])
		assert.Equal(t, "100.5", holdings[0]["average_cost"])

		resp = perform(s, consts.MethodGet, "/api/holdings/aapl", "alice", "")
		assert.Equal(t, consts.StatusOK, resp.status)

		resp = perform(s, consts.MethodGet, "/api/holdings/MSFT", "alice", "")
		assert.Equal(t, consts.StatusNotFound, resp.status)

		resp = perform(s, consts.MethodGet, "/api/transactions", "alice", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var txns []map[string]interface{}
		resp.decode(t, &txns)
		assert.Len(t, txns, 1)

		resp = perform(s, consts.MethodGet, "/api/transactions/statistics", "alice", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var stats ledger.Statistics
		resp.decode(t, &stats)
		assert.Equal(t, int64(1), stats.AllTime.TotalTrades)
	})
}

func TestServer_Users(t *testing.T) {
	s := newTestServer(t, new(MockMarket))

	t.Run("MissingIdentity", func(t *testing.T) {
		for _, path := range []string{"/api/holdings", "/api/transactions", "/api/users/bob"} {
			resp := perform(s, consts.MethodGet, path, "", "")
			assert.Equal(t, consts.StatusUnauthorized, resp.status, path)
		}
	})

	t.Run("TopUp", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/users/topup", "bob", `{"amount":"250.255"}`)

		require.Equal(t, consts.StatusOK, resp.status, string(resp.body))
		var user userResponse
		resp.decode(t, &user)
		assert.True(t, decimal.RequireFromString("1250.255").Equal(user.Balance))
		assert.Equal(t, "$1,250.26", user.BalanceDisplay)
	})

	t.Run("TopUpRejectsNonPositive", func(t *testing.T) {
		for _, body := range []string{`{"amount":0}`, `{"amount":-3}`, `{}`} {
			resp := perform(s, consts.MethodPost, "/api/users/topup", "bob", body)
			assert.Equal(t, consts.StatusBadRequest, resp.status, body)
		}
	})

	t.Run("SharingGatesOtherUsers", func(t *testing.T) {
		resp := perform(s, consts.MethodGet, "/api/holdings/shared/bob", "carol", "")
		assert.Equal(t, consts.StatusForbidden, resp.status)
		resp = perform(s, consts.MethodGet, "/api/users/bob", "carol", "")
		assert.Equal(t, consts.StatusForbidden, resp.status)

		resp = perform(s, consts.MethodPost, "/api/users/sharing", "bob", `{"enabled":true}`)
		require.Equal(t, consts.StatusOK, resp.status)

		resp = perform(s, consts.MethodGet, "/api/holdings/shared/bob", "carol", "")
		assert.Equal(t, consts.StatusOK, resp.status)
		resp = perform(s, consts.MethodGet, "/api/users/bob", "carol", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var user userResponse
		resp.decode(t, &user)
		assert.True(t, user.SharePortfolio)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		resp := perform(s, consts.MethodGet, "/api/holdings/shared/nobody", "carol", "")
		assert.Equal(t, consts.StatusNotFound, resp.status)
	})

	t.Run("SharingRequiresFlag", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/users/sharing", "bob", `{}`)
		assert.Equal(t, consts.StatusBadRequest, resp.status)
	})
}

func TestServer_Stocks(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Configured").Return(false)
		s := newTestServer(t, market)

		resp := perform(s, consts.MethodGet, "/api/health", "", "")

		require.Equal(t, consts.StatusOK, resp.status)
		var out map[string]interface{}
		resp.decode(t, &out)
		assert.Equal(t, "UP", out["status"])
		assert.Equal(t, false, out["finnhubKeySet"])
	})

	t.Run("QuoteIsPublic", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Quote", mock.Anything, "AAPL").Return(marketdata.Quote{Current: 190.1, PercentChange: 1.1}, nil)
		s := newTestServer(t, market)

		resp := perform(s, consts.MethodGet, "/api/stocks/AAPL/quote", "", "")

		require.Equal(t, consts.StatusOK, resp.status)
		var q marketdata.Quote
		resp.decode(t, &q)
		assert.Equal(t, 190.1, q.Current)
	})

	t.Run("StaticRoutesWinOverSymbol", func(t *testing.T) {
		market := new(MockMarket)
		market.On("MarketNews", mock.Anything).Return([]marketdata.NewsItem{{ID: 1, Headline: "Stocks rally"}}, nil)
		market.On("TopMovers", mock.Anything).Return(marketdata.TopMovers{TopGainers: []marketdata.Mover{{Ticker: "NVDA"}}}, nil)
		market.On("CompanyNews", mock.Anything, "NEWS").Return([]marketdata.NewsItem{}, nil)
		s := newTestServer(t, market)

		resp := perform(s, consts.MethodGet, "/api/stocks/news", "", "")
		assert.Equal(t, consts.StatusOK, resp.status)
		assert.Contains(t, string(resp.body), "Stocks rally")

		resp = perform(s, consts.MethodGet, "/api/stocks/top-movers", "", "")
		assert.Equal(t, consts.StatusOK, resp.status)
		assert.Contains(t, string(resp.body), "NVDA")

		resp = perform(s, consts.MethodGet, "/api/stocks/NEWS/news", "", "")
		assert.Equal(t, consts.StatusOK, resp.status)
	})

	t.Run("Search", func(t *testing.T) {
		market := new(MockMarket)
		market.On("Search", mock.Anything, "apple").Return(marketdata.SymbolSearch{
			Count:  1,
			Result: []marketdata.SymbolMatch{{Symbol: "AAPL", Description: "APPLE INC"}},
		}, nil)
		market.On("Search", mock.Anything, "").Return(marketdata.SymbolSearch{}, fmt.Errorf("%w: symbol is required", marketdata.ErrInvalidRequest))
		s := newTestServer(t, market)

		resp := perform(s, consts.MethodGet, "/api/stocks/search?symbol=apple", "", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var out marketdata.SymbolSearch
		resp.decode(t, &out)
		require.Len(t, out.Result, 1)
		assert.Equal(t, "AAPL", out.Result[0].Symbol)

		resp = perform(s, consts.MethodGet, "/api/stocks/search", "", "")
		assert.Equal(t, consts.StatusBadRequest, resp.status)
	})

	t.Run("PriceSeries", func(t *testing.T) {
		market := new(MockMarket)
		market.On("PriceSeries", mock.Anything, "AAPL", "1day").Return(marketdata.PriceSeries{
			Symbol:   "AAPL",
			Interval: "1day",
			Points:   []marketdata.PricePoint{{Time: 1715000000, Close: 182.5}},
		}, nil)
		market.On("PriceSeries", mock.Anything, "AAPL", "2h").Return(marketdata.PriceSeries{}, fmt.Errorf("%w: unsupported interval", marketdata.ErrInvalidRequest))
		s := newTestServer(t, market)

		resp := perform(s, consts.MethodGet, "/api/stocks/AAPL/data?interval=1day", "", "")
		require.Equal(t, consts.StatusOK, resp.status)
		var out marketdata.PriceSeries
		resp.decode(t, &out)
		require.Len(t, out.Points, 1)
		assert.Equal(t, 182.5, out.Points[0].Close)

		resp = perform(s, consts.MethodGet, "/api/stocks/AAPL/data?interval=2h", "", "")
		assert.Equal(t, consts.StatusBadRequest, resp.status)
	})

	t.Run("ErrorMapping", func(t *testing.T) {
		cases := []struct {
			err    error
			status int
		}{
			{marketdata.ErrNotConfigured, consts.StatusServiceUnavailable},
			{fmt.Errorf("quote: %w", marketdata.ErrUpstream), consts.StatusBadGateway},
			{errors.New("boom"), consts.StatusInternalServerError},
		}
		for _, tc := range cases {
			market := new(MockMarket)
			market.On("Fundamentals", mock.Anything, "IBM").Return(marketdata.Fundamentals{}, tc.err)
			s := newTestServer(t, market)

			resp := perform(s, consts.MethodGet, "/api/stocks/IBM/fundamentals", "", "")

			assert.Equal(t, tc.status, resp.status, tc.err.Error())
		}
	})
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		ledger.ErrValidation:           consts.StatusBadRequest,
		ledger.ErrInvalidAmount:        consts.StatusBadRequest,
		ledger.ErrInsufficientFunds:    consts.StatusBadRequest,
		ledger.ErrInsufficientHoldings: consts.StatusBadRequest,
		ledger.ErrNoSuchHolding:        consts.StatusNotFound,
		ledger.ErrNotFound:             consts.StatusNotFound,
		ledger.ErrAuthorization:        consts.StatusForbidden,
		ledger.ErrTimeout:              consts.StatusServiceUnavailable,
		marketdata.ErrNotConfigured:    consts.StatusServiceUnavailable,
		marketdata.ErrUpstream:         consts.StatusBadGateway,
		marketdata.ErrInvalidRequest:   consts.StatusBadRequest,
		errors.New("disk full"):        consts.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

func TestServer_LogsRejections(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	market := new(MockMarket)
	market.On("Quote", mock.Anything, "AAPL").Return(marketdata.Quote{}, fmt.Errorf("quote: %w", marketdata.ErrUpstream))
	s := newLoggedTestServer(t, market, zap.New(core))

	t.Run("MalformedBody", func(t *testing.T) {
		resp := perform(s, consts.MethodPost, "/api/users/topup", "alice", `{"amount":`)

		require.Equal(t, consts.StatusBadRequest, resp.status)
		entries := logs.FilterMessage("Malformed request").TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "topup", fields["operation"])
		assert.Equal(t, "alice", fields["user_id"])
	})

	t.Run("UpstreamFailure", func(t *testing.T) {
		resp := perform(s, consts.MethodGet, "/api/stocks/AAPL/quote", "", "")

		require.Equal(t, consts.StatusBadGateway, resp.status)
		entries := logs.FilterMessage("Request rejected").TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
		assert.Equal(t, "quote", entries[0].ContextMap()["operation"])
	})

	t.Run("MissingIdentity", func(t *testing.T) {
		resp := perform(s, consts.MethodGet, "/api/holdings", "", "")

		require.Equal(t, consts.StatusUnauthorized, resp.status)
		assert.Equal(t, 1, logs.FilterMessage("Request without user identity").Len())
	})
}
