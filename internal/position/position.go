package position

import (
	"time"

	"tradelens/internal/fill"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func sideOf(s fill.Side) Side {
	if s == fill.Buy {
		return Long
	}
	return Short
}

// Role 标记一条成交在仓位中的作用。
type Role string

const (
	RoleOpen  Role = "open"
	RoleClose Role = "close"
)

// Leg 是仓位内的一段成交；反手成交会被拆成平仓段与开仓段。
type Leg struct {
	Fill   fill.Fill       `json:"fill"`
	Role   Role            `json:"role"`
	Amount decimal.Decimal `json:"amount"`
	Fee    fill.Fee        `json:"fee"`
}

type Position struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  *time.Time      `json:"close_time,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Remaining  decimal.Decimal `json:"remaining"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`

	PnlBeforeFees decimal.Decimal            `json:"pnl_before_fees"`
	ClosedPnl     decimal.Decimal            `json:"closed_pnl"` // 已平部分按成交价结算的毛利
	TotalFees     decimal.Decimal            `json:"total_fees"`
	RealizedPnl   decimal.Decimal            `json:"realized_pnl"`
	OpenFees      decimal.Decimal            `json:"open_fees"`
	CloseFees     decimal.Decimal            `json:"close_fees"`
	ForeignFees   map[string]decimal.Decimal `json:"foreign_fees,omitempty"`

	Legs     []Leg `json:"legs"`
	IsOpen   bool  `json:"is_open"`
	Reversal bool  `json:"reversal"`
}

func (p Position) Status() string {
	if p.IsOpen {
		return "open"
	}
	return "closed"
}

// HoldingDuration 对未平仓位以 now 作为结束时间。
func (p Position) HoldingDuration(now time.Time) time.Duration {
	end := now
	if p.CloseTime != nil {
		end = *p.CloseTime
	}
	if end.Before(p.OpenTime) {
		return 0
	}
	return end.Sub(p.OpenTime)
}

func (p Position) OpeningAmount() decimal.Decimal {
	sum := decimal.Zero
	for _, leg := range p.Legs {
		if leg.Role == RoleOpen {
			sum = sum.Add(leg.Amount)
		}
	}
	return sum
}

func (p Position) OpeningCost() decimal.Decimal {
	sum := decimal.Zero
	for _, leg := range p.Legs {
		if leg.Role == RoleOpen {
			sum = sum.Add(leg.Amount.Mul(leg.Fill.Price))
		}
	}
	return sum
}

// LastTime 返回仓位最后一笔成交的时间。
func (p Position) LastTime() time.Time {
	if p.CloseTime != nil {
		return *p.CloseTime
	}
	if n := len(p.Legs); n > 0 {
		return p.Legs[n-1].Fill.Time()
	}
	return p.OpenTime
}
