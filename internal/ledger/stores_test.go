package ledger

import (
	"context"
	"testing"
	"time"

	"stock-portfolio-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("OpenIsIdempotent", func(t *testing.T) {
		accounts := NewAccountLedger(newTestDB(t), dec("100"))
		_, err := accounts.Open(ctx, "u1")
		require.NoError(t, err)
		_, err = accounts.Credit(ctx, "u1", dec("5"))
		require.NoError(t, err)

		acct, err := accounts.Open(ctx, "u1")

		require.NoError(t, err)
		assertDecimal(t, "105", acct.Balance)
	})

	t.Run("GetMissing", func(t *testing.T) {
		accounts := NewAccountLedger(newTestDB(t), dec("0"))

		_, err := accounts.Get(ctx, "nobody")

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DebitNeverGoesNegative", func(t *testing.T) {
		accounts := NewAccountLedger(newTestDB(t), dec("10"))
		_, err := accounts.Open(ctx, "u1")
		require.NoError(t, err)

		_, err = accounts.Debit(ctx, "u1", dec("10.01"))
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		acct, err := accounts.Debit(ctx, "u1", dec("10"))
		require.NoError(t, err)
		assert.True(t, acct.Balance.IsZero())
	})

	t.Run("NonPositiveAmounts", func(t *testing.T) {
		accounts := NewAccountLedger(newTestDB(t), dec("10"))
		_, err := accounts.Open(ctx, "u1")
		require.NoError(t, err)

		_, err = accounts.Credit(ctx, "u1", dec("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = accounts.Debit(ctx, "u1", dec("-1"))
		assert.ErrorIs(t, err, ErrInvalidAmount)

		acct, err := accounts.Get(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "10", acct.Balance)
	})

	t.Run("BalanceKeepsFullPrecision", func(t *testing.T) {
		accounts := NewAccountLedger(newTestDB(t), dec("0"))
		_, err := accounts.Open(ctx, "u1")
		require.NoError(t, err)

		_, err = accounts.Credit(ctx, "u1", dec("0.1"))
		require.NoError(t, err)
		_, err = accounts.Credit(ctx, "u1", dec("0.2"))
		require.NoError(t, err)

		acct, err := accounts.Get(ctx, "u1")
		require.NoError(t, err)
		assertDecimal(t, "0.3", acct.Balance)
	})
}

func TestHoldingsStore(t *testing.T) {
	ctx := context.Background()

	t.Run("PutUpsertsOnUserAndSymbol", func(t *testing.T) {
		// Arrange
		store := NewHoldingsStore(newTestDB(t))
		require.NoError(t, store.Put(ctx, models.Holding{UserID: "u1", Symbol: " aapl ", Quantity: dec("1"), AverageCost: dec("10"), UpdatedAt: time.Now()}))

		// Act
		err := store.Put(ctx, models.Holding{UserID: "u1", Symbol: "AAPL", Quantity: dec("3"), AverageCost: dec("12"), UpdatedAt: time.Now()})

		// Assert
		require.NoError(t, err)
		holdings, err := store.List(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, holdings, 1)
		assert.Equal(t, "AAPL", holdings[0].Symbol)
		assertDecimal(t, "3", holdings[0].Quantity)
		assertDecimal(t, "12", holdings[0].AverageCost)
	})

	t.Run("ListIsSortedAndScopedToUser", func(t *testing.T) {
		store := NewHoldingsStore(newTestDB(t))
		for _, h := range []models.Holding{
			{UserID: "u1", Symbol: "MSFT", Quantity: dec("1"), AverageCost: dec("1")},
			{UserID: "u1", Symbol: "AAPL", Quantity: dec("1"), AverageCost: dec("1")},
			{UserID: "u2", Symbol: "GOOG", Quantity: dec("1"), AverageCost: dec("1")},
		} {
			require.NoError(t, store.Put(ctx, h))
		}

		holdings, err := store.List(ctx, "u1")

		require.NoError(t, err)
		require.Len(t, holdings, 2)
		assert.Equal(t, "AAPL", holdings[0].Symbol)
		assert.Equal(t, "MSFT", holdings[1].Symbol)
	})

	t.Run("EmptyListIsNotNil", func(t *testing.T) {
		store := NewHoldingsStore(newTestDB(t))

		holdings, err := store.List(ctx, "u1")

		require.NoError(t, err)
		assert.NotNil(t, holdings)
		assert.Empty(t, holdings)
	})

	t.Run("GetNormalizesAndDeleteRemoves", func(t *testing.T) {
		store := NewHoldingsStore(newTestDB(t))
		require.NoError(t, store.Put(ctx, models.Holding{UserID: "u1", Symbol: "TSLA", Quantity: dec("2"), AverageCost: dec("5")}))

		h, err := store.Get(ctx, "u1", "tsla")
		require.NoError(t, err)
		assertDecimal(t, "2", h.Quantity)

		require.NoError(t, store.Delete(ctx, "u1", "tsla"))
		_, err = store.Get(ctx, "u1", "TSLA")
		assert.ErrorIs(t, err, ErrNoSuchHolding)
	})
}

func TestTransactionLog(t *testing.T) {
	ctx := context.Background()
	log := NewTransactionLog(newTestDB(t))
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"0001", "0002", "0003"} {
		require.NoError(t, log.Append(ctx, models.Transaction{
			ID:          id,
			UserID:      "u1",
			Symbol:      "AAPL",
			Side:        models.SideBuy,
			Quantity:    dec("1"),
			Price:       dec("1"),
			TotalAmount: dec("1"),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}))
	}

	newest, err := log.List(ctx, "u1")
	require.NoError(t, err)
	oldest, err := log.Replay(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, newest, 3)
	assert.Equal(t, "0003", newest[0].ID)
	assert.Equal(t, "0001", oldest[0].ID)

	err = log.Append(ctx, models.Transaction{ID: "0001", UserID: "u1", Symbol: "AAPL", Side: models.SideBuy, Timestamp: base})
	assert.Error(t, err, "transaction ids are unique")
}
