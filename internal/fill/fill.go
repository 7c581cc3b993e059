package fill

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示成交方向。
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Fee 为单笔成交的手续费，Currency 可能为空。
type Fee struct {
	Cost     decimal.Decimal `json:"cost"`
	Currency string          `json:"currency,omitempty"`
}

// Fill 是归一化后的单笔成交记录。
type Fill struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Fee       Fee             `json:"fee"`
	Timestamp int64           `json:"timestamp"`
}

func (f Fill) Time() time.Time {
	return time.UnixMilli(f.Timestamp).UTC()
}

func (f Fill) Notional() decimal.Decimal {
	return f.Amount.Mul(f.Price)
}

// SortByTime 按时间戳稳定排序，返回新切片。
func SortByTime(fills []Fill) []Fill {
	out := make([]Fill, len(fills))
	copy(out, fills)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// GroupBySymbol 按交易对分组，组内保持输入顺序。
func GroupBySymbol(fills []Fill) map[string][]Fill {
	out := make(map[string][]Fill)
	for _, f := range fills {
		out[f.Symbol] = append(out[f.Symbol], f)
	}
	return out
}
