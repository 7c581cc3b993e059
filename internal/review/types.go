package review

import (
	"context"
	"time"

	"tradelens/internal/export"
	"tradelens/internal/fill"
	"tradelens/internal/market"
	"tradelens/internal/position"
	"tradelens/internal/stats"
	"tradelens/internal/store"

	"github.com/shopspring/decimal"
)

// FillSource 拉取某交易对在 [start, end) 内的原始成交。
type FillSource interface {
	FetchFills(ctx context.Context, symbol string, start, end time.Time) ([]fill.Raw, error)
}

// MarkSource 提供未平仓位估值用的标记价格。
type MarkSource interface {
	MarkPrice(ctx context.Context, symbol string) (float64, error)
}

// SymbolLister 在未配置交易对时列出可复盘的合约。
type SymbolLister interface {
	Symbols(ctx context.Context, quote string) ([]string, error)
}

// CandleProvider 为图表提供 K 线，通常是 candlestore.Cache。
type CandleProvider interface {
	Candles(ctx context.Context, sym, timeframe string, start, end time.Time) ([]market.Candle, error)
}

// Store 是复盘结果的持久化接口，由 store.Store 实现。
type Store interface {
	SaveRun(ctx context.Context, run store.Run) error
	UpdateRun(ctx context.Context, id string, status store.RunStatus, message string) error
	SaveSymbolResult(ctx context.Context, runID string, res store.SymbolResult) error
	GetRun(ctx context.Context, id string) (store.Run, error)
	ListSymbols(ctx context.Context, runID string) ([]store.SymbolResult, error)
	ListFills(ctx context.Context, runID, symbol string) ([]fill.Fill, error)
}

// Exporter 把一次复盘写成文件。
type Exporter interface {
	Export(r export.Report) ([]string, error)
}

const (
	MarkExchange = "exchange"
	MarkLastFill = "last_fill"

	SourceFile = "file"
)

// Request 描述一次复盘。零值字段使用服务默认值。
type Request struct {
	RunID      string           `json:"run_id,omitempty"`
	Symbols    []string         `json:"symbols,omitempty"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Policy     *position.Policy `json:"policy,omitempty"`
	MarkSource string           `json:"mark_source,omitempty"`
	// FillsFile 非空时从本地 JSON 导入成交，不访问交易所。
	FillsFile string `json:"fills_file,omitempty"`
}

// SymbolOutcome 是单个交易对的处理结果。
type SymbolOutcome struct {
	Symbol    string              `json:"symbol"`
	Fills     int                 `json:"fills"`
	Rejected  int                 `json:"rejected"`
	Mark      decimal.Decimal     `json:"mark_price"`
	Positions []position.Position `json:"positions"`
	Stats     stats.Statistics    `json:"stats"`
	Charts    []string            `json:"charts,omitempty"`
	Error     string              `json:"error,omitempty"`

	fills []fill.Fill
}

func (o SymbolOutcome) failed() bool {
	return o.Error != ""
}

// Result 汇总一次复盘。
type Result struct {
	RunID    string                      `json:"run_id"`
	Source   string                      `json:"source"`
	Start    time.Time                   `json:"start"`
	End      time.Time                   `json:"end"`
	Policy   position.Policy             `json:"policy"`
	Symbols  []SymbolOutcome             `json:"symbols"`
	Failed   []string                    `json:"failed,omitempty"`
	Summary  stats.Statistics            `json:"summary"`
	BySymbol map[string]stats.Statistics `json:"by_symbol"`
	Files    []string                    `json:"files,omitempty"`
}

// Positions 返回所有交易对的仓位（按交易对排序）。
func (r Result) Positions() []position.Position {
	var out []position.Position
	for _, o := range r.Symbols {
		out = append(out, o.Positions...)
	}
	return out
}
