package position

import (
	"fmt"
	"time"

	"tradelens/internal/fill"

	"github.com/shopspring/decimal"
)

// Engine 把单一交易对的成交流还原为仓位序列。
// Engine 无状态，可在多个 goroutine 中并发使用。
type Engine struct {
	policy Policy
}

func New(policy Policy) *Engine {
	return &Engine{policy: policy.normalized()}
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Reconstruct 使用默认策略还原仓位。
func Reconstruct(fills []fill.Fill, markPrice decimal.Decimal) []Position {
	return New(DefaultPolicy()).Reconstruct(fills, markPrice)
}

// Reconstruct 按时间稳定排序后逐笔处理；markPrice<=0 时用最后成交价估值未平仓位。
// 成交混有多个交易对或出现负剩余量时 panic。
func (e *Engine) Reconstruct(fills []fill.Fill, markPrice decimal.Decimal) []Position {
	if len(fills) == 0 {
		return []Position{}
	}
	sorted := fill.SortByTime(fills)
	symbol := sorted[0].Symbol
	for _, f := range sorted[1:] {
		if f.Symbol != symbol {
			panic(fmt.Sprintf("position: mixed symbols in one stream: %q and %q", symbol, f.Symbol))
		}
	}
	if !markPrice.IsPositive() {
		markPrice = sorted[len(sorted)-1].Price
	}

	r := &run{
		policy: e.policy,
		symbol: symbol,
		ids:    make(map[string]int),
	}
	r.books[0] = newBook(Long)
	r.books[1] = newBook(Short)

	for _, f := range sorted {
		r.apply(f)
	}
	for _, b := range r.books {
		if b.remaining.IsPositive() {
			r.emit(b, markPrice, true)
		}
	}
	return r.out
}

type run struct {
	policy Policy
	symbol string
	books  [2]*book
	out    []Position
	ids    map[string]int
}

func (r *run) book(side Side) *book {
	if side == Long {
		return r.books[0]
	}
	return r.books[1]
}

func (r *run) apply(f fill.Fill) {
	own := sideOf(f.Side)
	opposite := r.book(oppositeOf(own))

	amount := f.Amount
	fee := f.Fee
	reversal := false
	if opposite.remaining.IsPositive() {
		closeAmount := decimal.Min(amount, opposite.remaining)
		closeFee := fee
		if closeAmount.LessThan(amount) {
			closeFee.Cost = fee.Cost.Mul(closeAmount).Div(amount)
		}
		opposite.close(f, closeAmount, closeFee, r.policy)
		if opposite.remaining.IsZero() {
			r.emit(opposite, decimal.Zero, false)
			opposite.reset()
		}
		amount = amount.Sub(closeAmount)
		if !amount.IsPositive() {
			return
		}
		fee.Cost = fee.Cost.Sub(closeFee.Cost)
		reversal = true
	}
	r.book(own).open(f, amount, fee, reversal, r.policy)
}

func (r *run) emit(b *book, markPrice decimal.Decimal, open bool) {
	if b.remaining.IsNegative() {
		panic(fmt.Sprintf("position: negative remaining %s on %s book", b.remaining, b.side))
	}
	p := Position{
		Symbol:    r.symbol,
		Side:      b.side,
		OpenTime:  time.UnixMilli(b.openTS).UTC(),
		Amount:    b.openedTotal,
		Remaining: b.remaining,
		OpenFees:  b.openFees,
		CloseFees: b.closeFees,
		Legs:      append([]Leg(nil), b.legs...),
		IsOpen:    open,
		Reversal:  b.reversal,
	}
	p.ID = r.nextID(b)
	if len(b.foreign) > 0 {
		p.ForeignFees = make(map[string]decimal.Decimal, len(b.foreign))
		for k, v := range b.foreign {
			p.ForeignFees[k] = v
		}
	}

	// 两种口径下开仓成本守恒，入场价都是全部开仓腿的加权均价。
	p.EntryPrice = b.costTotal.Div(b.openedTotal)

	if open {
		p.ExitPrice = markPrice
		p.PnlBeforeFees = pnlOf(b.side, p.EntryPrice, markPrice, p.Amount)
		// 已平部分：running 逐笔按当时均价结算，total 按全部开仓均价结算。
		p.ClosedPnl = b.slicePnl
		if r.policy.CostBasis != CostBasisRunning {
			p.ClosedPnl = signed(b.side, b.closeValue.Sub(p.EntryPrice.Mul(b.closedAmount)))
		}
	} else {
		p.ExitPrice = b.closeValue.Div(b.closedAmount)
		ct := time.UnixMilli(b.lastTS).UTC()
		p.CloseTime = &ct
		p.Remaining = decimal.Zero
		p.PnlBeforeFees = signed(b.side, b.closeValue.Sub(b.costTotal))
		p.ClosedPnl = p.PnlBeforeFees
	}
	p.TotalFees = r.policy.attributed(b.openFees, b.closeFees)
	p.RealizedPnl = p.PnlBeforeFees.Sub(p.TotalFees)
	r.out = append(r.out, p)
}

func (r *run) nextID(b *book) string {
	id := fmt.Sprintf("%s_%d", r.symbol, b.openTS)
	if b.reversal {
		id += "_reverse"
	}
	n := r.ids[id]
	r.ids[id] = n + 1
	if n > 0 {
		id = fmt.Sprintf("%s_%d", id, n+1)
	}
	return id
}

// pnlOf 多头 (exit-entry)*amount，空头取反。
func pnlOf(side Side, entry, exit, amount decimal.Decimal) decimal.Decimal {
	return signed(side, exit.Sub(entry).Mul(amount))
}

func signed(side Side, v decimal.Decimal) decimal.Decimal {
	if side == Short {
		return v.Neg()
	}
	return v
}

func oppositeOf(s Side) Side {
	if s == Long {
		return Short
	}
	return Long
}

// book 是单边累加器。
type book struct {
	side        Side
	started     bool
	reversal    bool
	openTS      int64
	lastTS      int64
	openedTotal decimal.Decimal
	remaining   decimal.Decimal
	costTotal   decimal.Decimal
	avgEntry    decimal.Decimal

	closedAmount decimal.Decimal
	closeValue   decimal.Decimal
	slicePnl     decimal.Decimal

	openFees  decimal.Decimal
	closeFees decimal.Decimal
	foreign   map[string]decimal.Decimal
	legs      []Leg
}

func newBook(side Side) *book {
	b := &book{side: side}
	b.reset()
	return b
}

func (b *book) reset() {
	side := b.side
	*b = book{
		side:         side,
		openedTotal:  decimal.Zero,
		remaining:    decimal.Zero,
		costTotal:    decimal.Zero,
		avgEntry:     decimal.Zero,
		closedAmount: decimal.Zero,
		closeValue:   decimal.Zero,
		slicePnl:     decimal.Zero,
		openFees:     decimal.Zero,
		closeFees:    decimal.Zero,
	}
}

func (b *book) open(f fill.Fill, amount decimal.Decimal, fee fill.Fee, reversal bool, policy Policy) {
	if !b.started {
		b.started = true
		b.openTS = f.Timestamp
		b.reversal = reversal
	}
	cost := amount.Mul(f.Price)
	if policy.CostBasis == CostBasisRunning {
		held := b.avgEntry.Mul(b.remaining)
		b.avgEntry = held.Add(cost).Div(b.remaining.Add(amount))
	}
	b.openedTotal = b.openedTotal.Add(amount)
	b.remaining = b.remaining.Add(amount)
	b.costTotal = b.costTotal.Add(cost)
	if policy.CostBasis != CostBasisRunning {
		b.avgEntry = b.costTotal.Div(b.openedTotal)
	}
	b.openFees = b.openFees.Add(b.chargeFee(fee, policy))
	b.lastTS = f.Timestamp
	b.legs = append(b.legs, Leg{Fill: f, Role: RoleOpen, Amount: amount, Fee: fee})
}

func (b *book) close(f fill.Fill, amount decimal.Decimal, fee fill.Fee, policy Policy) {
	b.remaining = b.remaining.Sub(amount)
	if b.remaining.IsNegative() {
		panic(fmt.Sprintf("position: close of %s exceeds %s book", amount, b.side))
	}
	b.closedAmount = b.closedAmount.Add(amount)
	b.closeValue = b.closeValue.Add(amount.Mul(f.Price))
	b.slicePnl = b.slicePnl.Add(pnlOf(b.side, b.avgEntry, f.Price, amount))
	b.closeFees = b.closeFees.Add(b.chargeFee(fee, policy))
	b.lastTS = f.Timestamp
	b.legs = append(b.legs, Leg{Fill: f, Role: RoleClose, Amount: amount, Fee: fee})
}

// chargeFee 返回计入报价币种的手续费；外币手续费单独累计。
func (b *book) chargeFee(fee fill.Fee, policy Policy) decimal.Decimal {
	if !policy.isForeign(fee) {
		return fee.Cost
	}
	if fee.Cost.IsZero() {
		return decimal.Zero
	}
	if b.foreign == nil {
		b.foreign = make(map[string]decimal.Decimal)
	}
	cur := b.foreign[fee.Currency]
	b.foreign[fee.Currency] = cur.Add(fee.Cost)
	return decimal.Zero
}
