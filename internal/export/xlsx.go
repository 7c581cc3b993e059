package export

import (
	"fmt"
	"time"

	"tradelens/internal/pkg/symbol"
	"tradelens/internal/position"
	"tradelens/internal/stats"

	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx"
)

const summarySheet = "Summary"

var summaryColumns = []string{
	"symbol", "positions", "closed", "open", "wins", "losses", "win_rate",
	"realized_pnl", "unrealized_pnl", "pnl_before_fees", "fees", "profit_factor",
	"largest_win", "largest_loss", "volume", "avg_holding",
}

// WriteXLSX 每个交易对一个 sheet，外加一个 Summary sheet。
func WriteXLSX(path string, r Report, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	file := xlsx.NewFile()
	summary, err := file.AddSheet(summarySheet)
	if err != nil {
		return err
	}
	addHeader(summary, summaryColumns)

	bySymbol := r.BySymbol
	if bySymbol == nil {
		bySymbol = stats.BySymbol(r.Positions)
	}
	grouped := make(map[string][]position.Position)
	for _, p := range sortedPositions(r.Positions) {
		grouped[p.Symbol] = append(grouped[p.Symbol], p)
	}
	for _, sym := range stats.Symbols(bySymbol) {
		addSummaryRow(summary, sym, bySymbol[sym])
		sheet, err := file.AddSheet(SheetName(sym))
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sym, err)
		}
		addHeader(sheet, columns)
		for _, p := range grouped[sym] {
			addPositionRow(sheet, p, loc)
		}
	}
	if len(bySymbol) > 1 {
		addSummaryRow(summary, "TOTAL", r.Summary)
	}
	return file.Save(path)
}

// SheetName 把交易对转换成合法的 sheet 名（不含 '/'，最长 31 字符）。
func SheetName(sym string) string {
	name := symbol.FileSafe(sym)
	if len(name) > 31 {
		name = name[:31]
	}
	return name
}

func addHeader(sheet *xlsx.Sheet, cols []string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func addPositionRow(sheet *xlsx.Sheet, p position.Position, loc *time.Location) {
	open := p.OpenTime
	row := sheet.AddRow()
	row.AddCell().SetString(p.ID)
	row.AddCell().SetString(p.Symbol)
	row.AddCell().SetString(string(p.Side))
	setDecimal(row.AddCell(), p.Amount)
	setDecimal(row.AddCell(), p.EntryPrice)
	row.AddCell().SetString(formatTime(&open, loc))
	setDecimal(row.AddCell(), p.ExitPrice)
	row.AddCell().SetString(formatTime(p.CloseTime, loc))
	row.AddCell().SetString(p.Status())
	setDecimal(row.AddCell(), p.PnlBeforeFees)
	setDecimal(row.AddCell(), p.TotalFees)
	setDecimal(row.AddCell(), p.RealizedPnl)
	row.AddCell().SetInt(len(p.Legs))
	row.AddCell().SetString(unixMilli(&open))
	row.AddCell().SetString(unixMilli(p.CloseTime))
}

func addSummaryRow(sheet *xlsx.Sheet, name string, s stats.Statistics) {
	row := sheet.AddRow()
	row.AddCell().SetString(name)
	row.AddCell().SetInt(s.Total)
	row.AddCell().SetInt(s.Closed)
	row.AddCell().SetInt(s.Open)
	row.AddCell().SetInt(s.Wins)
	row.AddCell().SetInt(s.Losses)
	row.AddCell().SetFloat(s.WinRate)
	setDecimal(row.AddCell(), s.RealizedPnl)
	setDecimal(row.AddCell(), s.UnrealizedPnl)
	setDecimal(row.AddCell(), s.PnlBeforeFees)
	setDecimal(row.AddCell(), s.TotalFees)
	row.AddCell().SetFloat(s.ProfitFactor)
	setDecimal(row.AddCell(), s.LargestWin)
	setDecimal(row.AddCell(), s.LargestLoss)
	setDecimal(row.AddCell(), s.Volume)
	row.AddCell().SetString(s.AvgHolding.String())
}

func setDecimal(cell *xlsx.Cell, d decimal.Decimal) {
	cell.SetFloat(d.InexactFloat64())
}
