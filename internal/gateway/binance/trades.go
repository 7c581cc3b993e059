package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradelens/internal/fill"
	symbolpkg "tradelens/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

// FetchFills 拉取 [start, end) 内的全部成交，返回 ccxt 风格的原始记录，按时间升序。
//
// userTrades 单次查询不能跨 7 天，区间按 Window 切片；窗口内以最后成交时间为游标翻页并按 id 去重。
// 若整页成交落在同一毫秒，游标无法前进，改用 fromId 继续翻页直到离开该窗口。
func (s *Source) FetchFills(ctx context.Context, symbol string, start, end time.Time) ([]fill.Raw, error) {
	sym := symbolpkg.Parse(symbol)
	clean := sym.Binance()
	if clean == "" {
		return nil, fmt.Errorf("invalid symbol: %s", symbol)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end must be after start")
	}
	internal := sym.Internal()
	seen := make(map[int64]struct{})
	var out []fill.Raw
	collect := func(trades []*futures.AccountTrade, windowEnd int64) {
		for _, tr := range trades {
			if tr == nil || tr.Time > windowEnd {
				continue
			}
			if _, ok := seen[tr.ID]; ok {
				continue
			}
			seen[tr.ID] = struct{}{}
			out = append(out, toRaw(internal, tr))
		}
	}

	windowMs := s.cfg.Window.Milliseconds()
	endMs := end.UnixMilli()
	for winStart := start.UnixMilli(); winStart < endMs; winStart += windowMs {
		winEnd := winStart + windowMs - 1
		if winEnd >= endMs {
			winEnd = endMs - 1
		}
		cursor := winStart
		for {
			trades, err := s.listTrades(ctx, clean, tradeQuery{start: cursor, end: winEnd})
			if err != nil {
				return nil, fmt.Errorf("fetch %s trades %d-%d: %w", clean, cursor, winEnd, err)
			}
			collect(trades, winEnd)
			if len(trades) < s.cfg.PageLimit {
				break
			}
			last := trades[len(trades)-1]
			if last.Time > cursor {
				cursor = last.Time
				continue
			}
			binanceLog.Debugf("%s 整页成交同一毫秒 %d，改用 fromId 翻页", clean, cursor)
			if err := s.pageByID(ctx, clean, last.ID+1, winEnd, collect); err != nil {
				return nil, err
			}
			break
		}
	}
	binanceLog.Debugf("%s 拉取成交 %d 条", clean, len(out))
	return out, nil
}

func (s *Source) pageByID(ctx context.Context, clean string, fromID, winEnd int64, collect func([]*futures.AccountTrade, int64)) error {
	for {
		trades, err := s.listTrades(ctx, clean, tradeQuery{fromID: fromID})
		if err != nil {
			return fmt.Errorf("fetch %s trades from id %d: %w", clean, fromID, err)
		}
		collect(trades, winEnd)
		if len(trades) < s.cfg.PageLimit {
			return nil
		}
		last := trades[len(trades)-1]
		if last.Time > winEnd {
			return nil
		}
		fromID = last.ID + 1
	}
}

type tradeQuery struct {
	start  int64
	end    int64
	fromID int64
}

func (s *Source) listTrades(ctx context.Context, clean string, q tradeQuery) ([]*futures.AccountTrade, error) {
	var trades []*futures.AccountTrade
	err := s.call(ctx, "user_trades", func() error {
		svc := s.client.NewListAccountTradeService().Symbol(clean).Limit(s.cfg.PageLimit)
		// fromId 与时间区间互斥
		if q.fromID > 0 {
			svc = svc.FromID(q.fromID)
		} else {
			svc = svc.StartTime(q.start).EndTime(q.end)
		}
		var err error
		trades, err = svc.Do(ctx)
		return err
	})
	return trades, err
}

func toRaw(symbol string, tr *futures.AccountTrade) fill.Raw {
	return fill.Raw{
		"id":        strconv.FormatInt(tr.ID, 10),
		"order":     strconv.FormatInt(tr.OrderID, 10),
		"symbol":    symbol,
		"side":      strings.ToLower(string(tr.Side)),
		"amount":    tr.Quantity,
		"price":     tr.Price,
		"timestamp": tr.Time,
		"fee": map[string]any{
			"cost":     tr.Commission,
			"currency": tr.CommissionAsset,
		},
		"info": map[string]any{
			"positionSide": string(tr.PositionSide),
			"realizedPnl":  tr.RealizedPnl,
			"quoteQty":     tr.QuoteQuantity,
			"maker":        tr.Maker,
		},
	}
}
