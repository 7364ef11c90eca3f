package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountLedger is the single source of truth for cash balances.
// Only the Processor calls its mutating methods, inside its own transaction.
type AccountLedger struct {
	db             *gorm.DB
	initialBalance decimal.Decimal
}

// NewAccountLedger creates an AccountLedger. Accounts opened through it start
// with initialBalance.
func NewAccountLedger(db *gorm.DB, initialBalance decimal.Decimal) *AccountLedger {
	return &AccountLedger{db: db, initialBalance: initialBalance}
}

// WithTx returns a copy bound to tx.
func (l *AccountLedger) WithTx(tx *gorm.DB) *AccountLedger {
	return &AccountLedger{db: tx, initialBalance: l.initialBalance}
}

// Open makes sure an account exists for userID and returns it locked for update.
func (l *AccountLedger) Open(ctx context.Context, userID string) (models.Account, error) {
	now := time.Now().UTC()
	acct := models.Account{
		UserID:    userID,
		Balance:   l.initialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&acct).Error
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to open account %s: %w", userID, err)
	}
	return l.get(ctx, userID, true)
}

// Get returns a snapshot of the account, or ErrNotFound.
func (l *AccountLedger) Get(ctx context.Context, userID string) (models.Account, error) {
	return l.get(ctx, userID, false)
}

// Credit adds amount to the balance.
func (l *AccountLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal) (models.Account, error) {
	if !amount.IsPositive() {
		return models.Account{}, fmt.Errorf("credit of %s: %w", amount, ErrInvalidAmount)
	}
	acct, err := l.get(ctx, userID, true)
	if err != nil {
		return models.Account{}, err
	}
	acct.Balance = acct.Balance.Add(amount)
	return acct, l.saveBalance(ctx, &acct)
}

// Debit removes amount from the balance. It never drives the balance negative.
func (l *AccountLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal) (models.Account, error) {
	if !amount.IsPositive() {
		return models.Account{}, fmt.Errorf("debit of %s: %w", amount, ErrInvalidAmount)
	}
	acct, err := l.get(ctx, userID, true)
	if err != nil {
		return models.Account{}, err
	}
	if acct.Balance.LessThan(amount) {
		return models.Account{}, fmt.Errorf("balance %s is below %s: %w", acct.Balance, amount, ErrInsufficientFunds)
	}
	acct.Balance = acct.Balance.Sub(amount)
	return acct, l.saveBalance(ctx, &acct)
}

// SetSharing toggles whether other users may view this account's portfolio.
func (l *AccountLedger) SetSharing(ctx context.Context, userID string, enabled bool) (models.Account, error) {
	acct, err := l.get(ctx, userID, true)
	if err != nil {
		return models.Account{}, err
	}
	acct.SharePortfolio = enabled
	acct.UpdatedAt = time.Now().UTC()
	err = l.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"share_portfolio": enabled, "updated_at": acct.UpdatedAt}).Error
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to update sharing for %s: %w", userID, err)
	}
	return acct, nil
}

func (l *AccountLedger) get(ctx context.Context, userID string, forUpdate bool) (models.Account, error) {
	var acct models.Account
	q := l.db.WithContext(ctx)
	if forUpdate && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("user_id = ?", userID).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Account{}, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to load account %s: %w", userID, err)
	}
	return acct, nil
}

func (l *AccountLedger) saveBalance(ctx context.Context, acct *models.Account) error {
	acct.UpdatedAt = time.Now().UTC()
	err := l.db.WithContext(ctx).Model(&models.Account{}).
		Where("user_id = ?", acct.UserID).
		Updates(map[string]interface{}{"balance": acct.Balance, "updated_at": acct.UpdatedAt}).Error
	if err != nil {
		return fmt.Errorf("failed to save balance for %s: %w", acct.UserID, err)
	}
	return nil
}
