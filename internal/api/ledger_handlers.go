package api

import (
	"context"
	"strings"

	"stock-portfolio-go/internal/models"

	"github.com/Rhymond/go-money"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/json"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	userIDHeader = "X-User-ID"
	userIDKey    = "user_id"
)

type tradeRequest struct {
	Symbol   string           `json:"symbol"`
	Quantity *decimal.Decimal `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

type topUpRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type sharingRequest struct {
	Enabled *bool `json:"enabled"`
}

// userResponse is the public view of an account.
type userResponse struct {
	ID             string          `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	BalanceDisplay string          `json:"balance_display"`
	SharePortfolio bool            `json:"share_portfolio"`
}

func newUserResponse(acct models.Account) userResponse {
	cents := acct.Balance.Shift(2).Round(0).IntPart()
	return userResponse{
		ID:             acct.UserID,
		Balance:        acct.Balance,
		BalanceDisplay: money.New(cents, money.USD).Display(),
		SharePortfolio: acct.SharePortfolio,
	}
}

// requireUser rejects requests without a resolved caller identity.
func (s *Server) requireUser(ctx context.Context, c *app.RequestContext) {
	id := strings.TrimSpace(string(c.GetHeader(userIDHeader)))
	if id == "" {
		s.logger.Warn("Request without user identity", zap.String("path", string(c.Path())))
		c.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "missing user identity"})
		return
	}
	c.Set(userIDKey, id)
	c.Next(ctx)
}

func userID(c *app.RequestContext) string {
	return c.GetString(userIDKey)
}

func (s *Server) buy(ctx context.Context, c *app.RequestContext) {
	s.trade(ctx, c, "buy", s.ledger.Buy)
}

func (s *Server) sell(ctx context.Context, c *app.RequestContext) {
	s.trade(ctx, c, "sell", s.ledger.Sell)
}

type tradeFunc func(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (models.Transaction, models.Account, error)

func (s *Server) trade(ctx context.Context, c *app.RequestContext, op string, execute tradeFunc) {
	var req tradeRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		s.badRequest(c, op, "malformed request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Symbol) == "" || req.Quantity == nil || req.Price == nil {
		s.badRequest(c, op, "symbol, quantity and price are required")
		return
	}

	txn, acct, err := execute(ctx, userID(c), req.Symbol, *req.Quantity, *req.Price)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"transaction": txn,
		"user":        newUserResponse(acct),
	})
}

func (s *Server) listTransactions(ctx context.Context, c *app.RequestContext) {
	txns, err := s.ledger.Transactions(ctx, userID(c))
	if err != nil {
		s.writeError(c, "list_transactions", err)
		return
	}
	c.JSON(consts.StatusOK, txns)
}

func (s *Server) statistics(ctx context.Context, c *app.RequestContext) {
	stats, err := s.ledger.Statistics(ctx, userID(c))
	if err != nil {
		s.writeError(c, "statistics", err)
		return
	}
	c.JSON(consts.StatusOK, stats)
}

func (s *Server) listHoldings(ctx context.Context, c *app.RequestContext) {
	holdings, err := s.ledger.Holdings(ctx, userID(c))
	if err != nil {
		s.writeError(c, "list_holdings", err)
		return
	}
	c.JSON(consts.StatusOK, holdings)
}

func (s *Server) getHolding(ctx context.Context, c *app.RequestContext) {
	h, err := s.ledger.Holding(ctx, userID(c), c.Param("symbol"))
	if err != nil {
		s.writeError(c, "get_holding", err)
		return
	}
	c.JSON(consts.StatusOK, h)
}

func (s *Server) sharedHoldings(ctx context.Context, c *app.RequestContext) {
	holdings, err := s.ledger.SharedHoldings(ctx, userID(c), c.Param("userId"))
	if err != nil {
		s.writeError(c, "shared_holdings", err)
		return
	}
	c.JSON(consts.StatusOK, holdings)
}

func (s *Server) topUp(ctx context.Context, c *app.RequestContext) {
	var req topUpRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		s.badRequest(c, "topup", "malformed request body: "+err.Error())
		return
	}
	if req.Amount == nil {
		s.badRequest(c, "topup", "amount is required")
		return
	}

	acct, err := s.ledger.TopUp(ctx, userID(c), *req.Amount)
	if err != nil {
		s.writeError(c, "topup", err)
		return
	}
	c.JSON(consts.StatusOK, newUserResponse(acct))
}

func (s *Server) setSharing(ctx context.Context, c *app.RequestContext) {
	var req sharingRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		s.badRequest(c, "set_sharing", "malformed request body: "+err.Error())
		return
	}
	if req.Enabled == nil {
		s.badRequest(c, "set_sharing", "enabled is required")
		return
	}

	acct, err := s.ledger.SetSharing(ctx, userID(c), *req.Enabled)
	if err != nil {
		s.writeError(c, "set_sharing", err)
		return
	}
	c.JSON(consts.StatusOK, newUserResponse(acct))
}

func (s *Server) getUser(ctx context.Context, c *app.RequestContext) {
	acct, err := s.ledger.Account(ctx, userID(c), c.Param("userId"))
	if err != nil {
		s.writeError(c, "get_user", err)
		return
	}
	c.JSON(consts.StatusOK, newUserResponse(acct))
}
