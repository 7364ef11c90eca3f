package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's cash balance.
// Balance is never negative; only the ledger mutates it.
type Account struct {
	UserID         string          `gorm:"primaryKey;size:64" json:"id"`
	Balance        decimal.Decimal `gorm:"type:varchar(64);not null" json:"balance"`
	SharePortfolio bool            `gorm:"not null;default:false" json:"share_portfolio"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
