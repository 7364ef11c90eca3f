package ledger

import (
	"context"
	"fmt"

	"stock-portfolio-go/internal/models"

	"gorm.io/gorm"
)

// TransactionLog is the append-only history of executed trades.
type TransactionLog struct {
	db *gorm.DB
}

// NewTransactionLog creates a TransactionLog.
func NewTransactionLog(db *gorm.DB) *TransactionLog {
	return &TransactionLog{db: db}
}

// WithTx returns a copy bound to tx.
func (l *TransactionLog) WithTx(tx *gorm.DB) *TransactionLog {
	return &TransactionLog{db: tx}
}

// Append records txn. Records are never updated afterwards.
func (l *TransactionLog) Append(ctx context.Context, txn models.Transaction) error {
	if err := l.db.WithContext(ctx).Create(&txn).Error; err != nil {
		return fmt.Errorf("failed to append transaction %s: %w", txn.ID, err)
	}
	return nil
}

// List returns the user's transactions, newest first.
func (l *TransactionLog) List(ctx context.Context, userID string) ([]models.Transaction, error) {
	return l.list(ctx, userID, "timestamp desc, id desc")
}

// Replay returns the user's transactions in execution order.
func (l *TransactionLog) Replay(ctx context.Context, userID string) ([]models.Transaction, error) {
	return l.list(ctx, userID, "timestamp asc, id asc")
}

func (l *TransactionLog) list(ctx context.Context, userID, order string) ([]models.Transaction, error) {
	txns := make([]models.Transaction, 0)
	err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(order).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s: %w", userID, err)
	}
	return txns, nil
}
