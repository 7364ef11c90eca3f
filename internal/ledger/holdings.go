package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"stock-portfolio-go/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// HoldingsStore keeps positions keyed by (user, symbol). It enforces key
// uniqueness and nothing else.
type HoldingsStore struct {
	db *gorm.DB
}

// NewHoldingsStore creates a HoldingsStore.
func NewHoldingsStore(db *gorm.DB) *HoldingsStore {
	return &HoldingsStore{db: db}
}

// WithTx returns a copy bound to tx.
func (s *HoldingsStore) WithTx(tx *gorm.DB) *HoldingsStore {
	return &HoldingsStore{db: tx}
}

// Get returns the user's position in symbol, or ErrNoSuchHolding.
func (s *HoldingsStore) Get(ctx context.Context, userID, symbol string) (models.Holding, error) {
	return s.get(ctx, userID, symbol, false)
}

// List returns all positions of a user ordered by symbol.
func (s *HoldingsStore) List(ctx context.Context, userID string) ([]models.Holding, error) {
	holdings := make([]models.Holding, 0)
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("symbol asc").
		Find(&holdings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings for %s: %w", userID, err)
	}
	return holdings, nil
}

// Put inserts or replaces the position identified by (UserID, Symbol).
func (s *HoldingsStore) Put(ctx context.Context, h models.Holding) error {
	h.ID = 0
	h.Symbol = NormalizeSymbol(h.Symbol)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "average_cost", "updated_at"}),
	}).Create(&h).Error
	if err != nil {
		return fmt.Errorf("failed to save holding %s/%s: %w", h.UserID, h.Symbol, err)
	}
	return nil
}

// Delete removes the position. Deleting a missing position is not an error.
func (s *HoldingsStore) Delete(ctx context.Context, userID, symbol string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND symbol = ?", userID, NormalizeSymbol(symbol)).
		Delete(&models.Holding{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete holding %s/%s: %w", userID, symbol, err)
	}
	return nil
}

func (s *HoldingsStore) get(ctx context.Context, userID, symbol string, forUpdate bool) (models.Holding, error) {
	symbol = NormalizeSymbol(symbol)
	var h models.Holding
	q := s.db.WithContext(ctx)
	if forUpdate && q.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("user_id = ? AND symbol = ?", userID, symbol).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Holding{}, fmt.Errorf("holding %s for %s: %w", symbol, userID, ErrNoSuchHolding)
	}
	if err != nil {
		return models.Holding{}, fmt.Errorf("failed to load holding %s/%s: %w", userID, symbol, err)
	}
	return h, nil
}
