package stats

import (
	"sort"
	"time"

	"tradelens/internal/position"

	"github.com/shopspring/decimal"
)

// Statistics 汇总一组仓位。已实现类指标只统计已平仓位。
type Statistics struct {
	Total  int `json:"total"`
	Closed int `json:"closed"`
	Open   int `json:"open"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`

	RealizedPnl   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `json:"unrealized_pnl"`
	PartialPnl    decimal.Decimal `json:"partial_pnl"` // 未平仓位中已部分平仓的毛利
	PnlBeforeFees decimal.Decimal `json:"pnl_before_fees"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	GrossProfit   decimal.Decimal `json:"gross_profit"`
	GrossLoss     decimal.Decimal `json:"gross_loss"`
	LargestWin    decimal.Decimal `json:"largest_win"`
	LargestLoss   decimal.Decimal `json:"largest_loss"`
	Volume        decimal.Decimal `json:"volume"`

	WinRate      float64       `json:"win_rate"`
	ProfitFactor float64       `json:"profit_factor"`
	AvgHolding   time.Duration `json:"avg_holding"`
}

func zero() Statistics {
	return Statistics{
		RealizedPnl:   decimal.Zero,
		UnrealizedPnl: decimal.Zero,
		PartialPnl:    decimal.Zero,
		PnlBeforeFees: decimal.Zero,
		TotalFees:     decimal.Zero,
		FeesPaid:      decimal.Zero,
		GrossProfit:   decimal.Zero,
		GrossLoss:     decimal.Zero,
		LargestWin:    decimal.Zero,
		LargestLoss:   decimal.Zero,
		Volume:        decimal.Zero,
	}
}

// Aggregate 对任意仓位列表（包括空列表）都返回结果。
func Aggregate(positions []position.Position) Statistics {
	s := zero()
	var holding time.Duration
	for _, p := range positions {
		s.Total++
		s.TotalFees = s.TotalFees.Add(p.TotalFees)
		s.FeesPaid = s.FeesPaid.Add(p.OpenFees).Add(p.CloseFees)
		s.PnlBeforeFees = s.PnlBeforeFees.Add(p.PnlBeforeFees)
		for _, leg := range p.Legs {
			s.Volume = s.Volume.Add(leg.Amount.Mul(leg.Fill.Price))
		}
		if p.IsOpen {
			s.Open++
			s.UnrealizedPnl = s.UnrealizedPnl.Add(p.RealizedPnl)
			s.PartialPnl = s.PartialPnl.Add(p.ClosedPnl)
			continue
		}
		s.Closed++
		s.RealizedPnl = s.RealizedPnl.Add(p.RealizedPnl)
		holding += p.HoldingDuration(p.OpenTime)
		switch p.RealizedPnl.Sign() {
		case 1:
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(p.RealizedPnl)
			if p.RealizedPnl.GreaterThan(s.LargestWin) {
				s.LargestWin = p.RealizedPnl
			}
		case -1:
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(p.RealizedPnl.Neg())
			if p.RealizedPnl.LessThan(s.LargestLoss) {
				s.LargestLoss = p.RealizedPnl
			}
		}
	}
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed)
		s.AvgHolding = holding / time.Duration(s.Closed)
	}
	if s.GrossLoss.IsPositive() {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss).InexactFloat64()
	}
	return s
}

// BySymbol 按交易对分别汇总。
func BySymbol(positions []position.Position) map[string]Statistics {
	groups := make(map[string][]position.Position)
	for _, p := range positions {
		groups[p.Symbol] = append(groups[p.Symbol], p)
	}
	out := make(map[string]Statistics, len(groups))
	for sym, list := range groups {
		out[sym] = Aggregate(list)
	}
	return out
}

// Symbols 返回 BySymbol 结果的有序键。
func Symbols(m map[string]Statistics) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
