package ledger

import (
	"context"
	"errors"
	"fmt"

	"stock-portfolio-go/internal/models"

	"go.uber.org/zap"
)

// Account returns userID's account as seen by callerID. Other users' accounts
// are visible only when their owner shares the portfolio.
func (p *Processor) Account(ctx context.Context, callerID, userID string) (models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	acct, err := p.visibleAccount(ctx, callerID, userID)
	if errors.Is(err, ErrNotFound) && callerID == userID {
		// Not opened yet; report the balance the first operation would start with.
		return models.Account{UserID: userID, Balance: p.accounts.initialBalance}, nil
	}
	if err != nil {
		return models.Account{}, p.readFailed(ctx, "get_account", callerID, err)
	}
	return acct, nil
}

// Transactions returns the user's trade history, newest first.
func (p *Processor) Transactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	txns, err := p.log.List(ctx, userID)
	if err != nil {
		return nil, p.readFailed(ctx, "list_transactions", userID, err)
	}
	return txns, nil
}

// Holdings returns the user's open positions ordered by symbol.
func (p *Processor) Holdings(ctx context.Context, userID string) ([]models.Holding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	holdings, err := p.holdings.List(ctx, userID)
	if err != nil {
		return nil, p.readFailed(ctx, "list_holdings", userID, err)
	}
	return holdings, nil
}

// Holding returns one position, or ErrNoSuchHolding.
func (p *Processor) Holding(ctx context.Context, userID, symbol string) (models.Holding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	h, err := p.holdings.Get(ctx, userID, symbol)
	if err != nil {
		return models.Holding{}, p.readFailed(ctx, "get_holding", userID, err)
	}
	return h, nil
}

// SharedHoldings returns ownerID's positions to callerID if the owner shares
// the portfolio or the caller is the owner.
func (p *Processor) SharedHoldings(ctx context.Context, callerID, ownerID string) ([]models.Holding, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.visibleAccount(ctx, callerID, ownerID); err != nil {
		return nil, p.readFailed(ctx, "shared_holdings", callerID, err)
	}
	holdings, err := p.holdings.List(ctx, ownerID)
	if err != nil {
		return nil, p.readFailed(ctx, "shared_holdings", callerID, err)
	}
	return holdings, nil
}

func (p *Processor) visibleAccount(ctx context.Context, callerID, ownerID string) (models.Account, error) {
	acct, err := p.accounts.Get(ctx, ownerID)
	if err != nil {
		return models.Account{}, err
	}
	if callerID != ownerID && !acct.SharePortfolio {
		return models.Account{}, fmt.Errorf("%s may not view portfolio of %s: %w", callerID, ownerID, ErrAuthorization)
	}
	return acct, nil
}

// readFailed translates an expired deadline into ErrTimeout and logs the failure.
func (p *Processor) readFailed(ctx context.Context, op, userID string, err error) error {
	if !IsRejection(err) && (ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded)) {
		err = fmt.Errorf("%s: %w (%v)", op, ErrTimeout, err)
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoSuchHolding) {
		p.logger.Debug("Ledger lookup missed", zap.String("operation", op), zap.String("user_id", userID), zap.Error(err))
		return err
	}
	return p.fail(op, userID, err)
}
