package position

import (
	"testing"

	"tradelens/internal/fill"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.Truef(t, got.Equal(d(want)), "want %s got %s %v", want, got, msgAndArgs)
}

func mk(id string, side fill.Side, amount, price string, ts int64) fill.Fill {
	return fill.Fill{
		ID:        id,
		Symbol:    "BTC/USDT",
		Side:      side,
		Amount:    d(amount),
		Price:     d(price),
		Fee:       fill.Fee{Cost: decimal.Zero},
		Timestamp: ts,
	}
}

func withFee(f fill.Fill, cost, currency string) fill.Fill {
	f.Fee = fill.Fee{Cost: d(cost), Currency: currency}
	return f
}

func TestReconstructScenarios(t *testing.T) {
	t.Run("closed long", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Sell, "1", "110", 2000),
		}, d("0"))
		require.Len(t, out, 1)
		p := out[0]
		assert.Equal(t, Long, p.Side)
		assert.False(t, p.IsOpen)
		require.NotNil(t, p.CloseTime)
		assert.Equal(t, int64(2000), p.CloseTime.UnixMilli())
		assertDec(t, "100", p.EntryPrice)
		assertDec(t, "110", p.ExitPrice)
		assertDec(t, "10", p.RealizedPnl)
		assertDec(t, "0", p.Remaining)
		assert.Equal(t, "BTC/USDT_1000", p.ID)
	})

	t.Run("partial close stays open", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "2", "100", 1000),
			mk("2", fill.Sell, "1", "120", 2000),
		}, d("110"))
		require.Len(t, out, 1)
		p := out[0]
		assert.True(t, p.IsOpen)
		assert.Nil(t, p.CloseTime)
		assertDec(t, "2", p.Amount)
		assertDec(t, "1", p.Remaining)
		assertDec(t, "100", p.EntryPrice)
		assertDec(t, "110", p.ExitPrice)
		// 未平仓位整体按标记价估值：(110-100)*2
		assertDec(t, "20", p.PnlBeforeFees)
		assertDec(t, "20", p.RealizedPnl)
		assertDec(t, "20", p.ClosedPnl)
	})

	t.Run("reversal", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Sell, "3", "90", 2000),
		}, d("80"))
		require.Len(t, out, 2)
		long, short := out[0], out[1]
		assert.Equal(t, Long, long.Side)
		assert.False(t, long.IsOpen)
		assertDec(t, "100", long.EntryPrice)
		assertDec(t, "90", long.ExitPrice)
		assertDec(t, "-10", long.RealizedPnl)

		assert.Equal(t, Short, short.Side)
		assert.True(t, short.IsOpen)
		assert.True(t, short.Reversal)
		assertDec(t, "2", short.Amount)
		assertDec(t, "90", short.EntryPrice)
		assertDec(t, "20", short.RealizedPnl)
		assert.Equal(t, "BTC/USDT_2000_reverse", short.ID)
		require.Len(t, short.Legs, 1)
		assertDec(t, "2", short.Legs[0].Amount)
	})

	t.Run("accumulation", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Buy, "1", "110", 2000),
			mk("3", fill.Sell, "2", "120", 3000),
		}, d("0"))
		require.Len(t, out, 1)
		p := out[0]
		assertDec(t, "105", p.EntryPrice)
		assertDec(t, "120", p.ExitPrice)
		assertDec(t, "30", p.RealizedPnl)
		assert.Equal(t, int64(1000), p.OpenTime.UnixMilli())
		assert.Len(t, p.Legs, 3)
	})

	t.Run("empty", func(t *testing.T) {
		out := Reconstruct(nil, d("100"))
		assert.NotNil(t, out)
		assert.Empty(t, out)
	})
}

func TestReconstructEdgeCases(t *testing.T) {
	t.Run("exact match opens nothing", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Sell, "2", "100", 1000),
			mk("2", fill.Buy, "2", "90", 2000),
		}, d("0"))
		require.Len(t, out, 1)
		assert.Equal(t, Short, out[0].Side)
		assertDec(t, "20", out[0].RealizedPnl)
	})

	t.Run("unsorted input is sorted stably", func(t *testing.T) {
		sorted := []fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Sell, "1", "110", 1000),
			mk("3", fill.Buy, "1", "105", 3000),
		}
		shuffled := []fill.Fill{sorted[2], sorted[0], sorted[1]}
		assert.Equal(t, Reconstruct(sorted, d("120")), Reconstruct(shuffled, d("120")))
		assert.Equal(t, "1", shuffled[1].ID)
	})

	t.Run("ties keep input order", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Sell, "1", "110", 1000),
			mk("2", fill.Buy, "1", "100", 1000),
		}, d("0"))
		require.Len(t, out, 1)
		assert.Equal(t, Short, out[0].Side)
		assertDec(t, "10", out[0].RealizedPnl)
	})

	t.Run("mark falls back to last fill price", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Buy, "1", "104", 2000),
		}, decimal.Zero)
		require.Len(t, out, 1)
		assertDec(t, "104", out[0].ExitPrice)
		assertDec(t, "4", out[0].RealizedPnl)
	})

	t.Run("mixed symbols panic", func(t *testing.T) {
		other := mk("2", fill.Sell, "1", "100", 2000)
		other.Symbol = "ETH/USDT"
		assert.Panics(t, func() {
			Reconstruct([]fill.Fill{mk("1", fill.Buy, "1", "100", 1000), other}, d("0"))
		})
	})

	t.Run("duplicate ids get a suffix", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			mk("1", fill.Buy, "1", "100", 1000),
			mk("2", fill.Sell, "1", "100", 1000),
			mk("3", fill.Buy, "1", "100", 1000),
		}, d("0"))
		require.Len(t, out, 2)
		assert.Equal(t, "BTC/USDT_1000", out[0].ID)
		assert.Equal(t, "BTC/USDT_1000_2", out[1].ID)
	})
}

func TestReconstructFees(t *testing.T) {
	fills := []fill.Fill{
		withFee(mk("1", fill.Buy, "1", "100", 1000), "1", "USDT"),
		withFee(mk("2", fill.Sell, "1", "110", 2000), "2", "USDT"),
	}
	cases := []struct {
		mode FeeMode
		fees string
		pnl  string
	}{
		{FeesNone, "0", "10"},
		{FeesOpening, "1", "9"},
		{FeesClosing, "2", "8"},
		{FeesBoth, "3", "7"},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			out := New(Policy{Fees: tc.mode}).Reconstruct(fills, d("0"))
			require.Len(t, out, 1)
			p := out[0]
			assertDec(t, "10", p.PnlBeforeFees)
			assertDec(t, tc.fees, p.TotalFees)
			assertDec(t, tc.pnl, p.RealizedPnl)
			assertDec(t, "1", p.OpenFees)
			assertDec(t, "2", p.CloseFees)
		})
	}

	t.Run("reversal splits fee pro rata", func(t *testing.T) {
		out := Reconstruct([]fill.Fill{
			withFee(mk("1", fill.Buy, "1", "100", 1000), "0.1", "USDT"),
			withFee(mk("2", fill.Sell, "3", "90", 2000), "0.3", "USDT"),
		}, d("90"))
		require.Len(t, out, 2)
		assertDec(t, "0.1", out[0].CloseFees)
		assertDec(t, "0.2", out[0].TotalFees)
		assertDec(t, "-10.2", out[0].RealizedPnl)
		assertDec(t, "0.2", out[1].OpenFees)
		assertDec(t, "-0.2", out[1].RealizedPnl)
	})

	t.Run("foreign fees are tracked separately", func(t *testing.T) {
		out := New(Policy{Fees: FeesBoth, QuoteAsset: "usdt"}).Reconstruct([]fill.Fill{
			withFee(mk("1", fill.Buy, "1", "100", 1000), "0.001", "BNB"),
			withFee(mk("2", fill.Sell, "1", "110", 2000), "0.5", "USDT"),
		}, d("0"))
		require.Len(t, out, 1)
		p := out[0]
		assertDec(t, "0.5", p.TotalFees)
		assertDec(t, "9.5", p.RealizedPnl)
		require.Contains(t, p.ForeignFees, "BNB")
		assertDec(t, "0.001", p.ForeignFees["BNB"])
	})
}

func TestReconstructRunningCostBasis(t *testing.T) {
	fills := []fill.Fill{
		mk("1", fill.Buy, "2", "100", 1000),
		mk("2", fill.Sell, "1", "110", 2000),
		mk("3", fill.Buy, "1", "130", 3000),
	}

	t.Run("open", func(t *testing.T) {
		total := New(Policy{CostBasis: CostBasisTotal}).Reconstruct(fills, d("120"))
		running := New(Policy{CostBasis: CostBasisRunning}).Reconstruct(fills, d("120"))
		require.Len(t, total, 1)
		require.Len(t, running, 1)

		for _, p := range []Position{total[0], running[0]} {
			assertDec(t, "110", p.EntryPrice)
			assertDec(t, "3", p.Amount)
			assertDec(t, "2", p.Remaining)
			assertDec(t, "30", p.PnlBeforeFees)
		}
		// running 按卖出时均价 100 结算，total 按全部开仓均价 110 结算
		assertDec(t, "10", running[0].ClosedPnl)
		assertDec(t, "0", total[0].ClosedPnl)
	})

	t.Run("closed", func(t *testing.T) {
		closing := append(append([]fill.Fill(nil), fills...), mk("4", fill.Sell, "2", "120", 4000))
		for _, cb := range []CostBasis{CostBasisTotal, CostBasisRunning} {
			out := New(Policy{CostBasis: cb}).Reconstruct(closing, d("0"))
			require.Len(t, out, 1)
			p := out[0]
			assert.False(t, p.IsOpen)
			assertDec(t, "110", p.EntryPrice, cb)
			assertDec(t, "330", p.EntryPrice.Mul(p.Amount), cb)
			assertDec(t, "20", p.PnlBeforeFees, cb)
			assertDec(t, "20", p.ClosedPnl, cb)
			implied := p.ExitPrice.Sub(p.EntryPrice).Mul(p.Amount)
			assert.True(t, implied.Sub(p.PnlBeforeFees).Abs().LessThan(d("0.000001")), "%s implied=%s", cb, implied)
		}
	})
}

func TestPolicyParsing(t *testing.T) {
	cb, err := ParseCostBasis("Running")
	require.NoError(t, err)
	assert.Equal(t, CostBasisRunning, cb)
	fm, err := ParseFeeMode("")
	require.NoError(t, err)
	assert.Equal(t, FeesBoth, fm)
	assert.Error(t, Policy{Fees: "sometimes"}.Validate())
	assert.NoError(t, DefaultPolicy().Validate())
}
