package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradelens/internal/fill"
	"tradelens/internal/position"
	"tradelens/internal/stats"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Run 是一次复盘任务的元数据。
type Run struct {
	ID        string           `json:"id"`
	Status    RunStatus        `json:"status"`
	Source    string           `json:"source"`
	Start     time.Time        `json:"start"`
	End       time.Time        `json:"end"`
	Policy    position.Policy  `json:"policy"`
	Symbols   []string         `json:"symbols"`
	Failed    []string         `json:"failed,omitempty"`
	Stats     stats.Statistics `json:"stats"`
	Message   string           `json:"message,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// SymbolResult 是单个交易对的复盘结果。
type SymbolResult struct {
	Symbol    string              `json:"symbol"`
	Fills     []fill.Fill         `json:"-"`
	Positions []position.Position `json:"-"`
	Rejected  int                 `json:"rejected"`
	FillCount int                 `json:"fills"`
	Mark      decimal.Decimal     `json:"mark_price"`
	Stats     stats.Statistics    `json:"stats"`
	Error     string              `json:"error,omitempty"`
}

// Store 基于 Gorm + SQLite 持久化复盘结果。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("review store 路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &SymbolResultModel{}, &FillModel{}, &PositionModel{}); err != nil {
		return nil, fmt.Errorf("migrate review store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRun 新建或整体覆盖一条任务记录。
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id 不能为空")
	}
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m, err := runToModel(run)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&m).Error
}

// UpdateRun 只更新状态与消息，不动其它字段。
func (s *Store) UpdateRun(ctx context.Context, id string, status RunStatus, message string) error {
	res := s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSymbolResult 替换某任务下某交易对的全部成交、仓位与汇总。
func (s *Store) SaveSymbolResult(ctx context.Context, runID string, res SymbolResult) error {
	statsJSON, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	summary := SymbolResultModel{
		RunID:    runID,
		Symbol:   res.Symbol,
		Fills:    res.FillCount,
		Rejected: res.Rejected,
		Mark:     res.Mark.String(),
		Stats:    datatypes.JSON(statsJSON),
		Error:    res.Error,
	}
	fills := make([]FillModel, 0, len(res.Fills))
	for i, f := range res.Fills {
		fills = append(fills, FillModel{
			RunID:       runID,
			Symbol:      res.Symbol,
			Seq:         i,
			FillID:      f.ID,
			OrderID:     f.OrderID,
			Side:        string(f.Side),
			Amount:      f.Amount.String(),
			Price:       f.Price.String(),
			FeeCost:     f.Fee.Cost.String(),
			FeeCurrency: f.Fee.Currency,
			Timestamp:   f.Timestamp,
		})
	}
	positions := make([]PositionModel, 0, len(res.Positions))
	for i, p := range res.Positions {
		m, err := positionToModel(runID, i, p)
		if err != nil {
			return err
		}
		positions = append(positions, m)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&SymbolResultModel{}, &FillModel{}, &PositionModel{}} {
			if err := tx.Where("run_id = ? AND symbol = ?", runID, res.Symbol).Delete(model).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&summary).Error; err != nil {
			return err
		}
		if len(fills) > 0 {
			if err := tx.CreateInBatches(&fills, 500).Error; err != nil {
				return err
			}
		}
		if len(positions) > 0 {
			if err := tx.CreateInBatches(&positions, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var m RunModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return modelToRun(m)
}

// LatestRun 返回最近一次完成的任务。
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var m RunModel
	err := s.db.WithContext(ctx).Where("status = ?", string(RunStatusDone)).Order("created_at DESC").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}
	return modelToRun(m)
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := modelToRun(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListSymbols 返回任务下各交易对的汇总（不含成交与仓位明细）。
func (s *Store) ListSymbols(ctx context.Context, runID string) ([]SymbolResult, error) {
	var models []SymbolResultModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("symbol ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]SymbolResult, 0, len(models))
	for _, m := range models {
		res := SymbolResult{
			Symbol:    m.Symbol,
			FillCount: m.Fills,
			Rejected:  m.Rejected,
			Error:     m.Error,
		}
		res.Mark, _ = decimal.NewFromString(m.Mark)
		if len(m.Stats) > 0 {
			if err := json.Unmarshal(m.Stats, &res.Stats); err != nil {
				return nil, fmt.Errorf("decode stats of %s: %w", m.Symbol, err)
			}
		}
		out = append(out, res)
	}
	return out, nil
}

// ListPositions symbol 为空时返回任务下全部仓位。
func (s *Store) ListPositions(ctx context.Context, runID, symbol string) ([]position.Position, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var models []PositionModel
	if err := q.Order("symbol ASC, seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(models))
	for _, m := range models {
		p, err := modelToPosition(m)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) ListFills(ctx context.Context, runID, symbol string) ([]fill.Fill, error) {
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var models []FillModel
	if err := q.Order("symbol ASC, seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]fill.Fill, 0, len(models))
	for _, m := range models {
		out = append(out, fill.Fill{
			ID:        m.FillID,
			OrderID:   m.OrderID,
			Symbol:    m.Symbol,
			Side:      fill.Side(m.Side),
			Amount:    parseDecimal(m.Amount),
			Price:     parseDecimal(m.Price),
			Fee:       fill.Fee{Cost: parseDecimal(m.FeeCost), Currency: m.FeeCurrency},
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

func runToModel(run Run) (RunModel, error) {
	policy, err := json.Marshal(run.Policy)
	if err != nil {
		return RunModel{}, err
	}
	symbols, err := json.Marshal(nonNil(run.Symbols))
	if err != nil {
		return RunModel{}, err
	}
	failed, err := json.Marshal(nonNil(run.Failed))
	if err != nil {
		return RunModel{}, err
	}
	st, err := json.Marshal(run.Stats)
	if err != nil {
		return RunModel{}, err
	}
	return RunModel{
		ID:        run.ID,
		Status:    string(run.Status),
		Source:    run.Source,
		StartTime: run.Start.UnixMilli(),
		EndTime:   run.End.UnixMilli(),
		Policy:    datatypes.JSON(policy),
		Symbols:   datatypes.JSON(symbols),
		Failed:    datatypes.JSON(failed),
		Stats:     datatypes.JSON(st),
		Message:   run.Message,
		CreatedAt: run.CreatedAt.UnixMilli(),
		UpdatedAt: run.UpdatedAt.UnixMilli(),
	}, nil
}

func modelToRun(m RunModel) (Run, error) {
	run := Run{
		ID:        m.ID,
		Status:    RunStatus(m.Status),
		Source:    m.Source,
		Start:     time.UnixMilli(m.StartTime).UTC(),
		End:       time.UnixMilli(m.EndTime).UTC(),
		Message:   m.Message,
		CreatedAt: time.UnixMilli(m.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
	}
	fields := []struct {
		raw datatypes.JSON
		dst any
	}{
		{m.Policy, &run.Policy},
		{m.Symbols, &run.Symbols},
		{m.Failed, &run.Failed},
		{m.Stats, &run.Stats},
	}
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return Run{}, fmt.Errorf("decode run %s: %w", m.ID, err)
		}
	}
	return run, nil
}

func positionToModel(runID string, seq int, p position.Position) (PositionModel, error) {
	legs, err := json.Marshal(p.Legs)
	if err != nil {
		return PositionModel{}, err
	}
	foreign, err := json.Marshal(p.ForeignFees)
	if err != nil {
		return PositionModel{}, err
	}
	m := PositionModel{
		RunID:         runID,
		Symbol:        p.Symbol,
		Seq:           seq,
		PositionID:    p.ID,
		Side:          string(p.Side),
		OpenTime:      p.OpenTime.UnixMilli(),
		Amount:        p.Amount.String(),
		Remaining:     p.Remaining.String(),
		EntryPrice:    p.EntryPrice.String(),
		ExitPrice:     p.ExitPrice.String(),
		PnlBeforeFees: p.PnlBeforeFees.String(),
		ClosedPnl:     p.ClosedPnl.String(),
		TotalFees:     p.TotalFees.String(),
		RealizedPnl:   p.RealizedPnl.String(),
		OpenFees:      p.OpenFees.String(),
		CloseFees:     p.CloseFees.String(),
		ForeignFees:   datatypes.JSON(foreign),
		Legs:          datatypes.JSON(legs),
		IsOpen:        p.IsOpen,
		Reversal:      p.Reversal,
	}
	if p.CloseTime != nil {
		m.CloseTime = p.CloseTime.UnixMilli()
	}
	return m, nil
}

func modelToPosition(m PositionModel) (position.Position, error) {
	p := position.Position{
		ID:            m.PositionID,
		Symbol:        m.Symbol,
		Side:          position.Side(m.Side),
		OpenTime:      time.UnixMilli(m.OpenTime).UTC(),
		Amount:        parseDecimal(m.Amount),
		Remaining:     parseDecimal(m.Remaining),
		EntryPrice:    parseDecimal(m.EntryPrice),
		ExitPrice:     parseDecimal(m.ExitPrice),
		PnlBeforeFees: parseDecimal(m.PnlBeforeFees),
		ClosedPnl:     parseDecimal(m.ClosedPnl),
		TotalFees:     parseDecimal(m.TotalFees),
		RealizedPnl:   parseDecimal(m.RealizedPnl),
		OpenFees:      parseDecimal(m.OpenFees),
		CloseFees:     parseDecimal(m.CloseFees),
		IsOpen:        m.IsOpen,
		Reversal:      m.Reversal,
	}
	if !m.IsOpen {
		ct := time.UnixMilli(m.CloseTime).UTC()
		p.CloseTime = &ct
	}
	if len(m.Legs) > 0 {
		if err := json.Unmarshal(m.Legs, &p.Legs); err != nil {
			return position.Position{}, fmt.Errorf("decode legs of %s: %w", m.PositionID, err)
		}
	}
	if len(m.ForeignFees) > 0 && string(m.ForeignFees) != "null" {
		if err := json.Unmarshal(m.ForeignFees, &p.ForeignFees); err != nil {
			return position.Position{}, fmt.Errorf("decode foreign fees of %s: %w", m.PositionID, err)
		}
	}
	return p, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
