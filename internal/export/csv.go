package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"tradelens/internal/position"
)

var columns = []string{
	"position_id", "symbol", "side", "amount",
	"entry_price", "open_time", "exit_price", "close_time",
	"status", "pnl_before_fees", "fees", "pnl",
	"legs", "open_ts", "close_ts",
}

func row(p position.Position, loc *time.Location) []string {
	open := p.OpenTime
	return []string{
		p.ID,
		p.Symbol,
		string(p.Side),
		p.Amount.String(),
		p.EntryPrice.String(),
		formatTime(&open, loc),
		p.ExitPrice.String(),
		formatTime(p.CloseTime, loc),
		p.Status(),
		p.PnlBeforeFees.String(),
		p.TotalFees.String(),
		p.RealizedPnl.String(),
		strconv.Itoa(len(p.Legs)),
		unixMilli(&open),
		unixMilli(p.CloseTime),
	}
}

// WriteCSV 每个仓位一行。
func WriteCSV(w io.Writer, positions []position.Position, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, p := range sortedPositions(positions) {
		if err := cw.Write(row(p, loc)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
