package export

import (
	"io"
	"time"

	"tradelens/internal/position"
	"tradelens/internal/stats"

	"gopkg.in/yaml.v3"
)

type summaryDoc struct {
	Run       string              `yaml:"run,omitempty"`
	Exchange  string              `yaml:"exchange"`
	Start     string              `yaml:"start"`
	End       string              `yaml:"end"`
	Generated string              `yaml:"generated_at"`
	Policy    position.Policy     `yaml:"policy"`
	Failed    []string            `yaml:"failed,omitempty"`
	Total     statsDoc            `yaml:"total"`
	Symbols   map[string]statsDoc `yaml:"symbols"`
}

// statsDoc 把 decimal 转成字符串，避免 yaml 序列化出空对象。
type statsDoc struct {
	Positions     int     `yaml:"positions"`
	Closed        int     `yaml:"closed"`
	Open          int     `yaml:"open"`
	Wins          int     `yaml:"wins"`
	Losses        int     `yaml:"losses"`
	WinRate       float64 `yaml:"win_rate"`
	RealizedPnl   string  `yaml:"realized_pnl"`
	UnrealizedPnl string  `yaml:"unrealized_pnl"`
	PnlBeforeFees string  `yaml:"pnl_before_fees"`
	TotalFees     string  `yaml:"total_fees"`
	FeesPaid      string  `yaml:"fees_paid"`
	ProfitFactor  float64 `yaml:"profit_factor"`
	LargestWin    string  `yaml:"largest_win"`
	LargestLoss   string  `yaml:"largest_loss"`
	Volume        string  `yaml:"volume"`
	AvgHolding    string  `yaml:"avg_holding"`
}

func toStatsDoc(s stats.Statistics) statsDoc {
	return statsDoc{
		Positions:     s.Total,
		Closed:        s.Closed,
		Open:          s.Open,
		Wins:          s.Wins,
		Losses:        s.Losses,
		WinRate:       s.WinRate,
		RealizedPnl:   s.RealizedPnl.String(),
		UnrealizedPnl: s.UnrealizedPnl.String(),
		PnlBeforeFees: s.PnlBeforeFees.String(),
		TotalFees:     s.TotalFees.String(),
		FeesPaid:      s.FeesPaid.String(),
		ProfitFactor:  s.ProfitFactor,
		LargestWin:    s.LargestWin.String(),
		LargestLoss:   s.LargestLoss.String(),
		Volume:        s.Volume.String(),
		AvgHolding:    s.AvgHolding.String(),
	}
}

// WriteSummaryYAML 输出一次复盘的汇总（不含逐笔仓位）。
func WriteSummaryYAML(w io.Writer, r Report) error {
	bySymbol := r.BySymbol
	if bySymbol == nil {
		bySymbol = stats.BySymbol(r.Positions)
	}
	doc := summaryDoc{
		Run:       r.RunID,
		Exchange:  r.Exchange,
		Start:     r.Start.UTC().Format(time.RFC3339),
		End:       r.End.UTC().Format(time.RFC3339),
		Generated: r.GeneratedAt.UTC().Format(time.RFC3339),
		Policy:    r.Policy,
		Failed:    r.Failed,
		Total:     toStatsDoc(r.Summary),
		Symbols:   make(map[string]statsDoc, len(bySymbol)),
	}
	for sym, s := range bySymbol {
		doc.Symbols[sym] = toStatsDoc(s)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
