package candlestore

import (
	"context"
	"fmt"
	"time"

	"tradelens/internal/logger"
	"tradelens/internal/market"
	"tradelens/internal/metrics"
)

const fetchBatch = 1000

// Cache 在读取前用 CandleSource 补齐本地缺失的 K 线。
type Cache struct {
	store  *Store
	source market.CandleSource
}

func NewCache(store *Store, source market.CandleSource) *Cache {
	return &Cache{store: store, source: source}
}

// Candles 返回 [start, end] 内的 K 线；source 为空时只读本地缓存。
func (c *Cache) Candles(ctx context.Context, sym, timeframe string, start, end time.Time) ([]market.Candle, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if now := time.Now(); end.After(now) {
		end = now
	}
	from, to := tf.AlignRange(start.UnixMilli(), end.UnixMilli())
	if c.source != nil {
		if err := c.fill(ctx, sym, tf, from, to); err != nil {
			return nil, err
		}
	}
	return c.store.Range(ctx, sym, tf.Key, from, to)
}

func (c *Cache) fill(ctx context.Context, sym string, tf Timeframe, from, to int64) error {
	present, err := c.store.OpenTimes(ctx, sym, tf.Key, from, to)
	if err != nil {
		return err
	}
	if int64(len(present)) >= tf.Expected(from, to) {
		return nil
	}
	step := tf.step()
	for _, gap := range tf.FindGaps(from, to, present) {
		for batchStart := gap.Start; batchStart <= gap.End; batchStart += step * fetchBatch {
			batchEnd := batchStart + step*(fetchBatch-1)
			if batchEnd > gap.End {
				batchEnd = gap.End
			}
			candles, err := c.source.FetchCandles(ctx, sym, tf.Interval, batchStart, batchEnd+step-1, fetchBatch)
			if err != nil {
				return fmt.Errorf("fill %s@%s %d-%d: %w", sym, tf.Key, batchStart, batchEnd, err)
			}
			n, err := c.store.Upsert(ctx, sym, tf.Key, candles)
			if err != nil {
				return err
			}
			metrics.AddCandlesFilled(sym, tf.Key, n)
			logger.Debugf("[candles] %s@%s 补齐 %d 根 (%d-%d)", sym, tf.Key, n, batchStart, batchEnd)
		}
	}
	return nil
}
