package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Transaction is an executed trade record. Rows are append-only.
type Transaction struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	UserID      string          `gorm:"size:64;not null;index:idx_transactions_user_time" json:"user_id"`
	Symbol      string          `gorm:"size:32;not null" json:"symbol"`
	Side        Side            `gorm:"size:4;not null" json:"side"`
	Quantity    decimal.Decimal `gorm:"type:varchar(64);not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:varchar(64);not null" json:"price"`
	TotalAmount decimal.Decimal `gorm:"type:varchar(64);not null" json:"total_amount"`
	Timestamp   time.Time       `gorm:"not null;index:idx_transactions_user_time" json:"timestamp"`
}
