package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a user's position in one symbol.
// A row exists only while Quantity is positive.
type Holding struct {
	ID          uint            `gorm:"primaryKey" json:"-"`
	UserID      string          `gorm:"size:64;not null;uniqueIndex:idx_holdings_user_symbol" json:"user_id"`
	Symbol      string          `gorm:"size:32;not null;uniqueIndex:idx_holdings_user_symbol" json:"symbol"`
	Quantity    decimal.Decimal `gorm:"type:varchar(64);not null" json:"quantity"`
	AverageCost decimal.Decimal `gorm:"type:varchar(64);not null" json:"average_cost"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
