package market

import (
	"context"
	"time"
)

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// CandleSource 按时间区间拉取历史 K 线，[start, end] 均为毫秒。
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]Candle, error)
}

// PriceSource 提供最新标记价格。
type PriceSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}
