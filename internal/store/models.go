package store

import (
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

type RunModel struct {
	ID        string         `gorm:"column:id;primaryKey"`
	Status    string         `gorm:"column:status;index"`
	Source    string         `gorm:"column:source"`
	StartTime int64          `gorm:"column:start_time"`
	EndTime   int64          `gorm:"column:end_time"`
	Policy    datatypes.JSON `gorm:"column:policy"`
	Symbols   datatypes.JSON `gorm:"column:symbols"`
	Failed    datatypes.JSON `gorm:"column:failed"`
	Stats     datatypes.JSON `gorm:"column:stats"`
	Message   string         `gorm:"column:message"`
	CreatedAt int64          `gorm:"column:created_at;index;autoCreateTime:false"`
	UpdatedAt int64          `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (RunModel) TableName() string { return "review_runs" }

type SymbolResultModel struct {
	ID       int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string         `gorm:"column:run_id;uniqueIndex:idx_run_symbol"`
	Symbol   string         `gorm:"column:symbol;uniqueIndex:idx_run_symbol"`
	Fills    int            `gorm:"column:fills"`
	Rejected int            `gorm:"column:rejected"`
	Mark     string         `gorm:"column:mark_price"`
	Stats    datatypes.JSON `gorm:"column:stats"`
	Error    string         `gorm:"column:error"`
}

func (SymbolResultModel) TableName() string { return "review_symbols" }

type FillModel struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string `gorm:"column:run_id;index:idx_fill_run_symbol"`
	Symbol      string `gorm:"column:symbol;index:idx_fill_run_symbol"`
	Seq         int    `gorm:"column:seq"`
	FillID      string `gorm:"column:fill_id"`
	OrderID     string `gorm:"column:order_id"`
	Side        string `gorm:"column:side"`
	Amount      string `gorm:"column:amount"`
	Price       string `gorm:"column:price"`
	FeeCost     string `gorm:"column:fee_cost"`
	FeeCurrency string `gorm:"column:fee_currency"`
	Timestamp   int64  `gorm:"column:timestamp"`
}

func (FillModel) TableName() string { return "review_fills" }

type PositionModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID         string         `gorm:"column:run_id;index:idx_pos_run_symbol"`
	Symbol        string         `gorm:"column:symbol;index:idx_pos_run_symbol"`
	Seq           int            `gorm:"column:seq"`
	PositionID    string         `gorm:"column:position_id"`
	Side          string         `gorm:"column:side"`
	OpenTime      int64          `gorm:"column:open_time"`
	CloseTime     int64          `gorm:"column:close_time"`
	Amount        string         `gorm:"column:amount"`
	Remaining     string         `gorm:"column:remaining"`
	EntryPrice    string         `gorm:"column:entry_price"`
	ExitPrice     string         `gorm:"column:exit_price"`
	PnlBeforeFees string         `gorm:"column:pnl_before_fees"`
	ClosedPnl     string         `gorm:"column:closed_pnl"`
	TotalFees     string         `gorm:"column:total_fees"`
	RealizedPnl   string         `gorm:"column:realized_pnl"`
	OpenFees      string         `gorm:"column:open_fees"`
	CloseFees     string         `gorm:"column:close_fees"`
	ForeignFees   datatypes.JSON `gorm:"column:foreign_fees"`
	Legs          datatypes.JSON `gorm:"column:legs"`
	IsOpen        bool           `gorm:"column:is_open"`
	Reversal      bool           `gorm:"column:reversal"`
}

func (PositionModel) TableName() string { return "review_positions" }
