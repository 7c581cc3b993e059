package review

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradelens/internal/candlestore"
	"tradelens/internal/chart"
	"tradelens/internal/pkg/symbol"
	"tradelens/internal/position"
	"tradelens/internal/stats"
)

// 图表在仓位时间范围两侧各多留的 K 线数
const chartPaddingBars = 30

// ChartWriter 把仓位画到 K 线图上，写成 HTML（可选 PNG）。
type ChartWriter struct {
	Candles   CandleProvider
	Timeframe string
	Dir       string
	RenderPNG bool
	Width     int
	Height    int
	Location  *time.Location
}

// Page 生成单个交易对的图表 HTML；timeframe 为空时使用默认周期。
func (w *ChartWriter) Page(ctx context.Context, sym, timeframe string, positions []position.Position, st stats.Statistics) ([]byte, error) {
	if w == nil || w.Candles == nil {
		return nil, fmt.Errorf("chart 未启用")
	}
	if timeframe == "" {
		timeframe = w.Timeframe
	}
	tf, err := candlestore.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	start, end, ok := positionSpan(positions)
	if !ok {
		return nil, fmt.Errorf("%s 没有仓位可画", sym)
	}
	pad := time.Duration(chartPaddingBars) * tf.Duration
	candles, err := w.Candles.Candles(ctx, sym, tf.Key, start.Add(-pad), end.Add(pad))
	if err != nil {
		return nil, fmt.Errorf("load candles %s@%s: %w", sym, tf.Key, err)
	}
	return chart.BuildPage(chart.Input{
		Symbol:    sym,
		Timeframe: tf.Key,
		Candles:   candles,
		Positions: positions,
		Stats:     st,
		Location:  w.Location,
	})
}

// Write 生成并落盘，返回文件路径：<dir>/<run>/<SYMBOL>_<tf>.html|png。
func (w *ChartWriter) Write(ctx context.Context, runID, sym string, positions []position.Position, st stats.Statistics) ([]string, error) {
	html, err := w.Page(ctx, sym, "", positions, st)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(w.Dir, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	base := filepath.Join(dir, fmt.Sprintf("%s_%s", symbol.FileSafe(sym), w.Timeframe))
	paths := []string{base + ".html"}
	if err := os.WriteFile(paths[0], html, 0o644); err != nil {
		return nil, err
	}
	if w.RenderPNG {
		png, err := chart.RenderPNG(ctx, html, w.Width, w.Height)
		if err != nil {
			return paths, fmt.Errorf("render png: %w", err)
		}
		if err := os.WriteFile(base+".png", png, 0o644); err != nil {
			return paths, err
		}
		paths = append(paths, base+".png")
	}
	return paths, nil
}

func positionSpan(positions []position.Position) (time.Time, time.Time, bool) {
	if len(positions) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start := positions[0].OpenTime
	end := positions[0].LastTime()
	for _, p := range positions[1:] {
		if p.OpenTime.Before(start) {
			start = p.OpenTime
		}
		if last := p.LastTime(); last.After(end) {
			end = last
		}
	}
	return start, end, true
}
