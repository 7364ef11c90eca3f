package ledger

import (
	"context"
	"time"

	"stock-portfolio-go/internal/models"

	"github.com/shopspring/decimal"
)

// StatsDetail holds trade statistics for one period.
type StatsDetail struct {
	TotalTrades     int64           `json:"total_trades"`
	BuyVolume       decimal.Decimal `json:"buy_volume"`
	SellVolume      decimal.Decimal `json:"sell_volume"`
	RealizedProfit  decimal.Decimal `json:"realized_profit"`
	Sells           int64           `json:"sells"`
	ProfitableSells int64           `json:"profitable_sells"`
	WinRate         float64         `json:"win_rate"`
}

// Statistics summarises a user's trading for the last day and all time.
type Statistics struct {
	Since24h StatsDetail `json:"since_24h"`
	AllTime  StatsDetail `json:"all_time"`
}

// Statistics replays the user's history oldest first. Profit of a sell is
// measured against the average cost held at the time of the sale.
func (p *Processor) Statistics(ctx context.Context, userID string) (Statistics, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	txns, err := p.log.Replay(ctx, userID)
	if err != nil {
		return Statistics{}, p.readFailed(ctx, "statistics", userID, err)
	}
	return computeStatistics(txns, p.now().Add(-24*time.Hour)), nil
}

type position struct {
	quantity decimal.Decimal
	avgCost  decimal.Decimal
}

func computeStatistics(txns []models.Transaction, since time.Time) Statistics {
	var stats Statistics
	positions := make(map[string]position)

	for _, txn := range txns {
		pos := positions[txn.Symbol]
		var profit decimal.Decimal
		switch txn.Side {
		case models.SideBuy:
			pos.avgCost = weightedAverage(pos.quantity, pos.avgCost, txn.Quantity, txn.Price)
			pos.quantity = pos.quantity.Add(txn.Quantity)
		case models.SideSell:
			profit = txn.Price.Sub(pos.avgCost).Mul(txn.Quantity)
			pos.quantity = pos.quantity.Sub(txn.Quantity)
		}
		positions[txn.Symbol] = pos

		stats.AllTime.add(txn, profit)
		if txn.Timestamp.After(since) {
			stats.Since24h.add(txn, profit)
		}
	}

	stats.AllTime.finish()
	stats.Since24h.finish()
	return stats
}

func (d *StatsDetail) add(txn models.Transaction, profit decimal.Decimal) {
	d.TotalTrades++
	if txn.Side == models.SideBuy {
		d.BuyVolume = d.BuyVolume.Add(txn.TotalAmount)
		return
	}
	d.SellVolume = d.SellVolume.Add(txn.TotalAmount)
	d.RealizedProfit = d.RealizedProfit.Add(profit)
	d.Sells++
	if profit.IsPositive() {
		d.ProfitableSells++
	}
}

func (d *StatsDetail) finish() {
	if d.Sells > 0 {
		d.WinRate = float64(d.ProfitableSells) / float64(d.Sells)
	}
}
