package stats

import (
	"testing"
	"time"

	"tradelens/internal/fill"
	"tradelens/internal/position"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closed(symbol string, pnl string, fees string, open, close time.Time) position.Position {
	ct := close
	return position.Position{
		Symbol:        symbol,
		OpenTime:      open,
		CloseTime:     &ct,
		RealizedPnl:   decimal.RequireFromString(pnl),
		TotalFees:     decimal.RequireFromString(fees),
		OpenFees:      decimal.RequireFromString(fees),
		CloseFees:     decimal.Zero,
		PnlBeforeFees: decimal.RequireFromString(pnl).Add(decimal.RequireFromString(fees)),
	}
}

func TestAggregateEmpty(t *testing.T) {
	s := Aggregate(nil)
	assert.Equal(t, 0, s.Total)
	assert.Equal(t, 0.0, s.WinRate)
	assert.True(t, s.RealizedPnl.IsZero())
	assert.True(t, s.TotalFees.IsZero())
	assert.Equal(t, time.Duration(0), s.AvgHolding)
}

func TestAggregate(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	positions := []position.Position{
		closed("BTC", "10", "1", base, base.Add(time.Hour)),
		closed("BTC", "-4", "0.5", base.Add(2*time.Hour), base.Add(5*time.Hour)),
		closed("ETH", "0", "0", base, base.Add(2*time.Hour)),
		{
			Symbol:        "ETH",
			OpenTime:      base,
			IsOpen:        true,
			RealizedPnl:   decimal.NewFromInt(3),
			PnlBeforeFees: decimal.NewFromInt(3),
			ClosedPnl:     decimal.NewFromInt(5),
			TotalFees:     decimal.Zero,
			OpenFees:      decimal.Zero,
			CloseFees:     decimal.Zero,
		},
	}
	s := Aggregate(positions)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 3, s.Closed)
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 1.0/3.0, s.WinRate, 1e-9)
	assert.True(t, s.RealizedPnl.Equal(decimal.NewFromInt(6)))
	assert.True(t, s.UnrealizedPnl.Equal(decimal.NewFromInt(3)))
	assert.True(t, s.PartialPnl.Equal(decimal.NewFromInt(5)))
	assert.True(t, s.TotalFees.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, s.LargestWin.Equal(decimal.NewFromInt(10)))
	assert.True(t, s.LargestLoss.Equal(decimal.NewFromInt(-4)))
	assert.InDelta(t, 2.5, s.ProfitFactor, 1e-9)
	assert.Equal(t, 2*time.Hour, s.AvgHolding)

	by := BySymbol(positions)
	require.Len(t, by, 2)
	assert.Equal(t, []string{"BTC", "ETH"}, Symbols(by))
	assert.Equal(t, 2, by["BTC"].Closed)
	assert.Equal(t, 1, by["ETH"].Open)
}

func TestAggregateFromEngine(t *testing.T) {
	fills := []fill.Fill{
		{ID: "1", Symbol: "X", Side: fill.Buy, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(100), Timestamp: 0},
		{ID: "2", Symbol: "X", Side: fill.Sell, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(110), Timestamp: 60_000},
	}
	s := Aggregate(position.Reconstruct(fills, decimal.Zero))
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1.0, s.WinRate)
	assert.Equal(t, time.Minute, s.AvgHolding)
	assert.True(t, s.Volume.Equal(decimal.NewFromInt(210)))
}

func TestAggregatePartiallyClosedOpenPosition(t *testing.T) {
	fills := []fill.Fill{
		{ID: "1", Symbol: "X", Side: fill.Buy, Amount: decimal.NewFromInt(2), Price: decimal.NewFromInt(100), Timestamp: 0},
		{ID: "2", Symbol: "X", Side: fill.Sell, Amount: decimal.NewFromInt(1), Price: decimal.NewFromInt(120), Timestamp: 60_000},
	}
	s := Aggregate(position.Reconstruct(fills, decimal.NewFromInt(110)))
	assert.Equal(t, 0, s.Closed)
	assert.Equal(t, 1, s.Open)
	assert.True(t, s.RealizedPnl.IsZero())
	assert.True(t, s.UnrealizedPnl.Equal(decimal.NewFromInt(20)), s.UnrealizedPnl.String())
	assert.True(t, s.PartialPnl.Equal(decimal.NewFromInt(20)), s.PartialPnl.String())
}
