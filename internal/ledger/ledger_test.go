package ledger

import (
	"context"
	"testing"
	"time"

	"stock-portfolio-go/internal/config"
	"stock-portfolio-go/internal/database"
	"stock-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MockPublisher is a mock implementation of the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishTransaction(ctx context.Context, txn models.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

// newTestDB opens a fresh in-memory database; every call is isolated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(config.Database{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	return db
}

func newTestProcessor(t *testing.T, initialBalance string, publisher Publisher) (*Processor, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	p := NewProcessor(
		zap.NewNop(),
		db,
		NewAccountLedger(db, decimal.RequireFromString(initialBalance)),
		NewHoldingsStore(db),
		NewTransactionLog(db),
		publisher,
		5*time.Second,
	)
	return p, db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
