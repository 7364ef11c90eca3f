package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-portfolio-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opBuy        = "buy"
	opSell       = "sell"
	opTopUp      = "topup"
	opSetSharing = "set_sharing"

	divisionPrecision = 16
)

// Publisher receives transactions after they are committed.
type Publisher interface {
	PublishTransaction(ctx context.Context, txn models.Transaction) error
}

// Processor executes buy, sell and top-up requests. Each one runs under the
// user's lock and inside a single database transaction, so balance, holding
// and transaction log change together or not at all.
type Processor struct {
	logger    *zap.Logger
	db        *gorm.DB
	accounts  *AccountLedger
	holdings  *HoldingsStore
	log       *TransactionLog
	locks     *UserLocker
	publisher Publisher
	timeout   time.Duration

	now   func() time.Time
	newID func() (uuid.UUID, error)
}

// NewProcessor creates a Processor. publisher may be nil.
// timeout bounds every operation, including the wait for the user's lock.
func NewProcessor(logger *zap.Logger, db *gorm.DB, accounts *AccountLedger, holdings *HoldingsStore, txLog *TransactionLog, publisher Publisher, timeout time.Duration) *Processor {
	return &Processor{
		logger:    logger.Named("ledger"),
		db:        db,
		accounts:  accounts,
		holdings:  holdings,
		log:       txLog,
		locks:     NewUserLocker(),
		publisher: publisher,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:     uuid.NewV7,
	}
}

// stores groups the ledger components bound to one database transaction.
type stores struct {
	accounts *AccountLedger
	holdings *HoldingsStore
	log      *TransactionLog
}

// Buy debits quantity*price and adds quantity to the position at a weighted
// average cost. It returns the recorded transaction and the account afterwards.
func (p *Processor) Buy(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (models.Transaction, models.Account, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateTrade(userID, symbol, quantity, price); err != nil {
		return models.Transaction{}, models.Account{}, p.fail(opBuy, userID, err)
	}

	var txn models.Transaction
	var acct models.Account
	err := p.execute(ctx, userID, opBuy, func(ctx context.Context, s stores) error {
		if _, err := s.accounts.Open(ctx, userID); err != nil {
			return err
		}
		var err error
		acct, err = s.accounts.Debit(ctx, userID, quantity.Mul(price))
		if err != nil {
			return err
		}

		now := p.now()
		h, err := s.holdings.get(ctx, userID, symbol, true)
		switch {
		case errors.Is(err, ErrNoSuchHolding):
			h = models.Holding{UserID: userID, Symbol: symbol, Quantity: quantity, AverageCost: price}
		case err != nil:
			return err
		default:
			h.AverageCost = weightedAverage(h.Quantity, h.AverageCost, quantity, price)
			h.Quantity = h.Quantity.Add(quantity)
		}
		h.UpdatedAt = now
		if err := s.holdings.Put(ctx, h); err != nil {
			return err
		}

		txn, err = p.newTransaction(userID, symbol, models.SideBuy, quantity, price, now)
		if err != nil {
			return err
		}
		return s.log.Append(ctx, txn)
	})
	if err != nil {
		return models.Transaction{}, models.Account{}, err
	}

	p.logger.Info("Executed buy",
		zap.String("user_id", userID),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", quantity),
		zap.Stringer("price", price),
		zap.Stringer("balance", acct.Balance),
	)
	p.publish(ctx, txn)
	return txn, acct, nil
}

// Sell credits quantity*price and reduces the position. The average cost of
// the remaining position is unchanged; a position that reaches zero is removed.
func (p *Processor) Sell(ctx context.Context, userID, symbol string, quantity, price decimal.Decimal) (models.Transaction, models.Account, error) {
	symbol = NormalizeSymbol(symbol)
	if err := validateTrade(userID, symbol, quantity, price); err != nil {
		return models.Transaction{}, models.Account{}, p.fail(opSell, userID, err)
	}

	var txn models.Transaction
	var acct models.Account
	err := p.execute(ctx, userID, opSell, func(ctx context.Context, s stores) error {
		// Account row first, then holding, the same order as Buy.
		if _, err := s.accounts.Open(ctx, userID); err != nil {
			return err
		}
		h, err := s.holdings.get(ctx, userID, symbol, true)
		if err != nil {
			return err
		}
		if quantity.GreaterThan(h.Quantity) {
			return fmt.Errorf("selling %s %s but holding %s: %w", quantity, symbol, h.Quantity, ErrInsufficientHoldings)
		}

		acct, err = s.accounts.Credit(ctx, userID, quantity.Mul(price))
		if err != nil {
			return err
		}

		now := p.now()
		h.Quantity = h.Quantity.Sub(quantity)
		h.UpdatedAt = now
		if h.Quantity.IsZero() {
			err = s.holdings.Delete(ctx, userID, symbol)
		} else {
			err = s.holdings.Put(ctx, h)
		}
		if err != nil {
			return err
		}

		txn, err = p.newTransaction(userID, symbol, models.SideSell, quantity, price, now)
		if err != nil {
			return err
		}
		return s.log.Append(ctx, txn)
	})
	if err != nil {
		return models.Transaction{}, models.Account{}, err
	}

	p.logger.Info("Executed sell",
		zap.String("user_id", userID),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", quantity),
		zap.Stringer("price", price),
		zap.Stringer("balance", acct.Balance),
	)
	p.publish(ctx, txn)
	return txn, acct, nil
}

// TopUp credits amount to the user's cash balance. It is not a trade and
// leaves no transaction record.
func (p *Processor) TopUp(ctx context.Context, userID string, amount decimal.Decimal) (models.Account, error) {
	if err := validateUser(userID); err != nil {
		return models.Account{}, p.fail(opTopUp, userID, err)
	}
	if err := checkBounds(amount); err != nil {
		return models.Account{}, p.fail(opTopUp, userID, fmt.Errorf("top-up amount has %v: %w", err, ErrInvalidAmount))
	}
	if !amount.IsPositive() {
		return models.Account{}, p.fail(opTopUp, userID, fmt.Errorf("top-up of %s: %w", amount, ErrInvalidAmount))
	}

	var acct models.Account
	err := p.execute(ctx, userID, opTopUp, func(ctx context.Context, s stores) error {
		if _, err := s.accounts.Open(ctx, userID); err != nil {
			return err
		}
		var err error
		acct, err = s.accounts.Credit(ctx, userID, amount)
		return err
	})
	if err != nil {
		return models.Account{}, err
	}
	p.logger.Info("Topped up balance",
		zap.String("user_id", userID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acct.Balance),
	)
	return acct, nil
}

// SetSharing opts the user's portfolio in or out of the shared view.
func (p *Processor) SetSharing(ctx context.Context, userID string, enabled bool) (models.Account, error) {
	if err := validateUser(userID); err != nil {
		return models.Account{}, p.fail(opSetSharing, userID, err)
	}
	var acct models.Account
	err := p.execute(ctx, userID, opSetSharing, func(ctx context.Context, s stores) error {
		if _, err := s.accounts.Open(ctx, userID); err != nil {
			return err
		}
		var err error
		acct, err = s.accounts.SetSharing(ctx, userID, enabled)
		return err
	})
	return acct, err
}

// execute runs fn under the user's lock inside one database transaction,
// bounded by the processor timeout. Any error rolls the transaction back.
func (p *Processor) execute(ctx context.Context, userID, op string, fn func(ctx context.Context, s stores) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	unlock, err := p.locks.Lock(ctx, userID)
	if err != nil {
		return p.fail(op, userID, fmt.Errorf("%s waiting for user lock: %w", op, ErrTimeout))
	}
	defer unlock()

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, stores{
			accounts: p.accounts.WithTx(tx),
			holdings: p.holdings.WithTx(tx),
			log:      p.log.WithTx(tx),
		})
	})
	if err == nil {
		return nil
	}
	if !IsRejection(err) && ctx.Err() != nil {
		err = fmt.Errorf("%s: %w (%v)", op, ErrTimeout, err)
	}
	return p.fail(op, userID, err)
}

// publish hands a committed transaction to the publisher. Failures are logged
// only: the trade is already durable.
func (p *Processor) publish(ctx context.Context, txn models.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishTransaction(ctx, txn); err != nil {
		p.logger.Error("Failed to publish transaction",
			zap.String("user_id", txn.UserID),
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}
}

// fail logs err with the acting user and operation, then returns it.
func (p *Processor) fail(op, userID string, err error) error {
	l := p.logger.With(zap.String("operation", op), zap.String("user_id", userID), zap.Error(err))
	if IsRejection(err) {
		l.Warn("Ledger operation rejected")
	} else {
		l.Error("Ledger operation failed")
	}
	return err
}

func (p *Processor) newTransaction(userID, symbol string, side models.Side, quantity, price decimal.Decimal, at time.Time) (models.Transaction, error) {
	id, err := p.newID()
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to generate transaction id: %w", err)
	}
	return models.Transaction{
		ID:          id.String(),
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Quantity:    quantity,
		Price:       price,
		TotalAmount: quantity.Mul(price),
		Timestamp:   at,
	}, nil
}

// weightedAverage is the cost basis after adding q units at price to a
// position of oldQ units at oldAvg.
func weightedAverage(oldQ, oldAvg, q, price decimal.Decimal) decimal.Decimal {
	total := oldQ.Add(q)
	if total.IsZero() {
		return price
	}
	return oldQ.Mul(oldAvg).Add(q.Mul(price)).DivRound(total, divisionPrecision)
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("missing user id: %w", ErrValidation)
	}
	return nil
}

func validateTrade(userID, symbol string, quantity, price decimal.Decimal) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if symbol == "" {
		return fmt.Errorf("symbol is required: %w", ErrValidation)
	}
	if err := checkBounds(quantity); err != nil {
		return fmt.Errorf("quantity has %v: %w", err, ErrValidation)
	}
	if err := checkBounds(price); err != nil {
		return fmt.Errorf("price has %v: %w", err, ErrValidation)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s: %w", quantity, ErrValidation)
	}
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s: %w", price, ErrValidation)
	}
	return nil
}
