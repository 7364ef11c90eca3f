package api

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

func (s *Server) health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":        "UP",
		"finnhubKeySet": s.market.Configured(),
		"start_time":    s.startTime.Format(time.RFC3339),
		"uptime":        time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) quote(ctx context.Context, c *app.RequestContext) {
	q, err := s.market.Quote(ctx, c.Param("symbol"))
	if err != nil {
		s.writeError(c, "quote", err)
		return
	}
	c.JSON(consts.StatusOK, q)
}

func (s *Server) fundamentals(ctx context.Context, c *app.RequestContext) {
	f, err := s.market.Fundamentals(ctx, c.Param("symbol"))
	if err != nil {
		s.writeError(c, "fundamentals", err)
		return
	}
	c.JSON(consts.StatusOK, f)
}

func (s *Server) financials(ctx context.Context, c *app.RequestContext) {
	f, err := s.market.Financials(ctx, c.Param("symbol"))
	if err != nil {
		s.writeError(c, "financials", err)
		return
	}
	c.JSON(consts.StatusOK, f)
}

func (s *Server) marketNews(ctx context.Context, c *app.RequestContext) {
	news, err := s.market.MarketNews(ctx)
	if err != nil {
		s.writeError(c, "market_news", err)
		return
	}
	c.JSON(consts.StatusOK, news)
}

func (s *Server) companyNews(ctx context.Context, c *app.RequestContext) {
	news, err := s.market.CompanyNews(ctx, c.Param("symbol"))
	if err != nil {
		s.writeError(c, "company_news", err)
		return
	}
	c.JSON(consts.StatusOK, news)
}

func (s *Server) topMovers(ctx context.Context, c *app.RequestContext) {
	movers, err := s.market.TopMovers(ctx)
	if err != nil {
		s.writeError(c, "top_movers", err)
		return
	}
	c.JSON(consts.StatusOK, movers)
}

func (s *Server) search(ctx context.Context, c *app.RequestContext) {
	result, err := s.market.Search(ctx, c.Query("symbol"))
	if err != nil {
		s.writeError(c, "search", err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

func (s *Server) priceSeries(ctx context.Context, c *app.RequestContext) {
	series, err := s.market.PriceSeries(ctx, c.Param("symbol"), c.Query("interval"))
	if err != nil {
		s.writeError(c, "price_series", err)
		return
	}
	c.JSON(consts.StatusOK, series)
}
