package chart

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"tradelens/internal/market"
	"tradelens/internal/position"
	"tradelens/internal/stats"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEma           = "#fbbf24"
	colorBand          = "#60a5fa"
	colorLong          = "#22c55e"
	colorShort         = "#ef4444"

	chartWidthPx   = 1600
	klineHeightPx  = 640
	volumeHeightPx = 240
)

// Input 描述一张复盘图所需的数据。
type Input struct {
	Symbol    string
	Timeframe string
	Candles   []market.Candle
	Positions []position.Position
	Stats     stats.Statistics
	Location  *time.Location
}

// BuildPage 生成 K 线 + EMA20 + 布林带 + 成交量 + 开平仓标记的 HTML 页面。
func BuildPage(in Input) ([]byte, error) {
	if in.Symbol == "" {
		return nil, fmt.Errorf("symbol required for chart")
	}
	if len(in.Candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", in.Symbol, in.Timeframe)
	}
	if in.Location == nil {
		in.Location = time.UTC
	}
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %s review", in.Symbol, in.Timeframe)
	page.SetLayout(components.PageFlexLayout)

	xAxis := buildXAxis(in.Candles, in.Location)
	kline := buildKline(in, xAxis)
	overlay := buildIndicatorLines(in.Candles)
	overlay.SetXAxis(xAxis)
	kline.Overlap(overlay)
	for _, s := range buildMarkerSeries(in.Candles, in.Positions) {
		s.SetXAxis(xAxis)
		kline.Overlap(s)
	}
	page.AddCharts(kline, buildVolumeChart(in, xAxis))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildKline(in Input, xAxis []string) *charts.Kline {
	minPrice, maxPrice := priceBounds(in.Candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", klineHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", strings.ToUpper(in.Symbol), in.Timeframe),
			Subtitle:      subtitle(in.Stats),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 4),
			Max:       round(maxPrice+padding, 4),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)
	data := make([]opts.KlineData, 0, len(in.Candles))
	for _, c := range in.Candles {
		data = append(data, opts.KlineData{Value: [4]float64{c.Open, c.Close, c.Low, c.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", data)
	return kline
}

func buildIndicatorLines(candles []market.Candle) *charts.Line {
	line := charts.NewLine()
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	ind := computeIndicators(candles)
	line.AddSeries("EMA20", toLineData(ind.ema, ind.warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorEma, Width: 2}))
	line.AddSeries("BB Upper", toLineData(ind.upper, ind.warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBand, Width: 1, Type: "dashed"}))
	line.AddSeries("BB Mid", toLineData(ind.middle, ind.warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBand, Width: 1, Opacity: opts.Float(0.6)}))
	line.AddSeries("BB Lower", toLineData(ind.lower, ind.warmup), charts.WithLineStyleOpts(opts.LineStyle{Color: colorBand, Width: 1, Type: "dashed"}))
	return line
}

func buildMarkerSeries(candles []market.Candle, positions []position.Position) []*charts.Scatter {
	groups := groupMarkers(Markers(candles, positions))
	out := make([]*charts.Scatter, 0, len(groups))
	for _, g := range groups {
		scatter := charts.NewScatter()
		color := colorLong
		if g.side == position.Short {
			color = colorShort
		}
		data := make([]opts.ScatterData, 0, len(g.markers))
		for _, m := range g.markers {
			data = append(data, opts.ScatterData{
				Name:       m.PositionID,
				Value:      []any{m.Index, round(m.Price, 6)},
				Symbol:     m.symbol(),
				SymbolSize: 14,
			})
		}
		scatter.AddSeries(g.name, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: color, BorderColor: color}))
		out = append(out, scatter)
	}
	return out
}

func buildVolumeChart(in Input, xAxis []string) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", volumeHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Volume %s", in.Timeframe), Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(in.Candles))
	for i, c := range in.Candles {
		color := colorBear
		if c.Close >= c.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{Value: c.Volume, ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.6)}}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func subtitle(s stats.Statistics) string {
	return fmt.Sprintf("positions %d (closed %d / open %d) | win %.1f%% | pnl %s | unrealized %s | fees %s",
		s.Total, s.Closed, s.Open, s.WinRate*100,
		s.RealizedPnl.StringFixed(2), s.UnrealizedPnl.StringFixed(2), s.TotalFees.StringFixed(4))
}

func buildXAxis(candles []market.Candle, loc *time.Location) []string {
	x := make([]string, len(candles))
	for i, c := range candles {
		x[i] = time.UnixMilli(c.OpenTime).In(loc).Format("01-02 15:04")
	}
	return x
}

func toLineData(series []float64, warmup int) []opts.LineData {
	line := make([]opts.LineData, len(series))
	for i, v := range series {
		if i < warmup || math.IsNaN(v) {
			line[i] = opts.LineData{Value: nil}
			continue
		}
		line[i] = opts.LineData{Value: round(v, 6)}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles []market.Candle) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, c := range candles {
		if c.Low < minVal {
			minVal = c.Low
		}
		if c.High > maxVal {
			maxVal = c.High
		}
	}
	return minVal, maxVal
}
