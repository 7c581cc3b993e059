package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"tradelens/internal/config"
	"tradelens/internal/review"
	"tradelens/internal/stats"
)

type StartupSummary struct {
	Env         string
	HTTPAddr    string
	DBPath      string
	Timezone    string
	Credentials bool
	Symbols     []string
	MarkSource  string
	CostBasis   string
	Fees        string
	QuoteAsset  string
	Timeframe   string
	Charts      bool
	ExportDir   string
	Formats     []string
	Telegram    bool
}

func newStartupSummary(cfg *config.Config, credentials bool) *StartupSummary {
	var formats []string
	if cfg.Export.CSV {
		formats = append(formats, "csv")
	}
	if cfg.Export.XLSX {
		formats = append(formats, "xlsx")
	}
	if cfg.Export.YAML {
		formats = append(formats, "yaml")
	}
	return &StartupSummary{
		Env:         cfg.App.Env,
		HTTPAddr:    cfg.App.HTTPAddr,
		DBPath:      absOrSelf(cfg.App.DBPath),
		Timezone:    cfg.App.Location().String(),
		Credentials: credentials,
		Symbols:     cfg.Review.Symbols,
		MarkSource:  cfg.Review.MarkSource,
		CostBasis:   cfg.Review.CostBasis,
		Fees:        cfg.Review.Fees,
		QuoteAsset:  cfg.Review.QuoteAsset,
		Timeframe:   cfg.Candles.Timeframe,
		Charts:      cfg.Chart.Enabled,
		ExportDir:   absOrSelf(cfg.Export.Dir),
		Formats:     formats,
		Telegram:    cfg.Notify.Telegram.Enabled,
	}
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	if s == nil {
		return
	}
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[运行环境 (APP)]")
	fmt.Fprintf(w, "  环境: %s\n", orDash(s.Env))
	fmt.Fprintf(w, "  看板: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintf(w, "  数据库: %s\n", s.DBPath)
	fmt.Fprintf(w, "  时区: %s\n", s.Timezone)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[复盘口径 (REVIEW)]")
	if s.Credentials {
		fmt.Fprintln(w, "  成交来源: binance")
	} else {
		fmt.Fprintln(w, "  成交来源: 仅离线导入（未配置 API key）")
	}
	fmt.Fprintf(w, "  交易对: %s\n", formatList(s.Symbols))
	fmt.Fprintf(w, "  均价口径: %s\n", s.CostBasis)
	fmt.Fprintf(w, "  手续费: %s\n", s.Fees)
	fmt.Fprintf(w, "  计价币: %s\n", orDash(s.QuoteAsset))
	fmt.Fprintf(w, "  标记价: %s\n", s.MarkSource)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[输出 (OUTPUT)]")
	fmt.Fprintf(w, "  导出目录: %s (%s)\n", s.ExportDir, formatList(s.Formats))
	if s.Charts {
		fmt.Fprintf(w, "  图表: 开启 (%s)\n", s.Timeframe)
	} else {
		fmt.Fprintln(w, "  图表: 关闭")
	}
	if s.Telegram {
		fmt.Fprintln(w, "  推送: telegram")
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

// PrintResult 输出一次复盘的汇总表。
func PrintResult(w io.Writer, res review.Result) {
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "run %s  source=%s  %s ~ %s  policy=%s/%s\n",
		res.RunID, res.Source, res.Start.Format("2006-01-02 15:04"), res.End.Format("2006-01-02 15:04"),
		res.Policy.CostBasis, res.Policy.Fees)
	fmt.Fprintf(w, "%-14s %6s %6s %6s %8s %14s %14s %12s\n",
		"SYMBOL", "FILLS", "CLOSED", "OPEN", "WIN%", "PNL", "UNREALIZED", "FEES")
	for _, o := range res.Symbols {
		if o.Error != "" {
			fmt.Fprintf(w, "%-14s 失败: %s\n", o.Symbol, o.Error)
			continue
		}
		printStatsRow(w, o.Symbol, o.Fills, o.Stats)
	}
	if len(res.Symbols) > 1 {
		fills := 0
		for _, o := range res.Symbols {
			fills += o.Fills
		}
		printStatsRow(w, "TOTAL", fills, res.Summary)
	}
	for _, f := range res.Files {
		fmt.Fprintf(w, "  -> %s\n", f)
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
}

func printStatsRow(w io.Writer, name string, fills int, st stats.Statistics) {
	fmt.Fprintf(w, "%-14s %6d %6d %6d %7.1f%% %14s %14s %12s\n",
		name, fills, st.Closed, st.Open, st.WinRate*100,
		st.RealizedPnl.StringFixed(4), st.UnrealizedPnl.StringFixed(4), st.TotalFees.StringFixed(4))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
