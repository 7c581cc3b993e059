package review

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradelens/internal/export"
	"tradelens/internal/fill"
	"tradelens/internal/gateway/notifier"
	"tradelens/internal/logger"
	"tradelens/internal/metrics"
	"tradelens/internal/pkg/symbol"
	"tradelens/internal/position"
	"tradelens/internal/stats"
	"tradelens/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var reviewLog = logger.Tag("review")

// Options 配置 Service。Fills/Marks/Lister 可为空（离线导入模式）。
type Options struct {
	Fills    FillSource
	Marks    MarkSource
	Lister   SymbolLister
	Store    Store
	Exporter Exporter
	Charts   *ChartWriter
	Notifier notifier.TextNotifier

	SourceName string
	Policy     position.Policy
	MarkSource string
	Workers    int
	Quote      string
	// Location 只用于推送消息里的时间展示。
	Location   *time.Location
}

// Service 负责一次复盘的拉取、重建、汇总、落库与导出。
type Service struct {
	opts Options

	sem chan struct{}

	mu   sync.RWMutex
	jobs map[string]*Job

	baseCtx context.Context
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("review store 不能为空")
	}
	if opts.Policy == (position.Policy{}) {
		opts.Policy = position.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SourceName == "" {
		opts.SourceName = "binance"
	}
	if opts.Quote == "" {
		opts.Quote = "USDT"
	}
	switch opts.MarkSource {
	case "":
		opts.MarkSource = MarkExchange
	case MarkExchange, MarkLastFill:
	default:
		return nil, fmt.Errorf("未知 mark source: %s", opts.MarkSource)
	}
	return &Service{
		opts:    opts,
		sem:     make(chan struct{}, 1),
		jobs:    make(map[string]*Job),
		baseCtx: context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于异步任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// DefaultPolicy 返回服务配置的重建口径。
func (s *Service) DefaultPolicy() position.Policy {
	return s.opts.Policy
}

// ChartWriter 返回图表生成器，未启用时为 nil。
func (s *Service) ChartWriter() *ChartWriter {
	return s.opts.Charts
}

type plan struct {
	runID  string
	source string
	start  time.Time
	end    time.Time
	policy position.Policy
	mark   string
	// 离线导入时按交易对预先分好的成交
	imported map[string][]fill.Fill
	rejected map[string][]error
	symbols  []string
}

func (s *Service) prepare(ctx context.Context, req Request) (plan, error) {
	p := plan{
		runID:  req.RunID,
		source: s.opts.SourceName,
		start:  req.Start,
		end:    req.End,
		policy: s.opts.Policy,
		mark:   s.opts.MarkSource,
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return plan{}, err
		}
		p.policy = *req.Policy
	}
	if req.MarkSource != "" {
		if req.MarkSource != MarkExchange && req.MarkSource != MarkLastFill {
			return plan{}, fmt.Errorf("未知 mark source: %s", req.MarkSource)
		}
		p.mark = req.MarkSource
	}
	wanted := symbol.NormalizeList(req.Symbols)

	if req.FillsFile != "" {
		p.source = SourceFile
		fills, rejects, err := fill.ImportFile(req.FillsFile)
		if err != nil {
			return plan{}, err
		}
		p.imported, p.rejected = groupImported(fills, rejects)
		p.symbols = filterSymbols(sortedKeys(p.imported), wanted)
		if p.start.IsZero() || p.end.IsZero() {
			p.start, p.end = fillRange(fills)
		}
		return p, nil
	}

	if !p.end.After(p.start) {
		return plan{}, fmt.Errorf("start 必须早于 end")
	}
	if s.opts.Fills == nil {
		return plan{}, fmt.Errorf("未配置成交数据源，只能使用 fills 文件导入")
	}
	p.symbols = wanted
	if len(p.symbols) == 0 {
		if s.opts.Lister == nil {
			return plan{}, fmt.Errorf("未指定交易对且无法从交易所列出")
		}
		list, err := s.opts.Lister.Symbols(ctx, s.opts.Quote)
		if err != nil {
			return plan{}, fmt.Errorf("list symbols: %w", err)
		}
		p.symbols = symbol.NormalizeList(list)
	}
	if len(p.symbols) == 0 {
		return plan{}, fmt.Errorf("没有可复盘的交易对")
	}
	return p, nil
}

// Run 同步执行一次复盘。单个交易对失败只记入 Failed，不影响其它交易对。
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		metrics.RecordReviewRun(string(store.RunStatusFailed))
		return Result{}, err
	}
	run := store.Run{
		ID:        p.runID,
		Status:    store.RunStatusRunning,
		Source:    p.source,
		Start:     p.start,
		End:       p.end,
		Policy:    p.policy,
		Symbols:   p.symbols,
		CreatedAt: time.Now(),
	}
	if err := s.opts.Store.SaveRun(ctx, run); err != nil {
		return Result{}, fmt.Errorf("save run: %w", err)
	}
	reviewLog.Infof("任务 %s 开始: source=%s symbols=%d 区间=%s~%s policy=%s/%s mark=%s",
		p.runID, p.source, len(p.symbols), p.start.Format(time.RFC3339), p.end.Format(time.RFC3339),
		p.policy.CostBasis, p.policy.Fees, p.mark)

	outcomes := make([]SymbolOutcome, len(p.symbols))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.opts.Workers)
	for i, sym := range p.symbols {
		i, sym := i, sym
		group.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.processSymbol(gctx, p, sym)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.finishFailed(run, err)
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		s.finishFailed(run, err)
		return Result{}, err
	}

	res := s.assemble(p, outcomes)
	for _, o := range outcomes {
		if err := s.opts.Store.SaveSymbolResult(ctx, p.runID, store.SymbolResult{
			Symbol:    o.Symbol,
			Fills:     o.fills,
			Positions: o.Positions,
			Rejected:  o.Rejected,
			FillCount: o.Fills,
			Mark:      o.Mark,
			Stats:     o.Stats,
			Error:     o.Error,
		}); err != nil {
			s.finishFailed(run, err)
			return Result{}, fmt.Errorf("save %s: %w", o.Symbol, err)
		}
	}

	if s.opts.Exporter != nil {
		files, err := s.opts.Exporter.Export(res.report())
		if err != nil {
			reviewLog.Errorf("任务 %s 导出失败: %v", p.runID, err)
		}
		res.Files = files
	}
	if s.opts.Charts != nil {
		for i := range res.Symbols {
			o := &res.Symbols[i]
			if o.failed() || len(o.Positions) == 0 {
				continue
			}
			paths, err := s.opts.Charts.Write(ctx, p.runID, o.Symbol, o.Positions, o.Stats)
			if err != nil {
				reviewLog.Warnf("%s 图表生成失败: %v", o.Symbol, err)
				continue
			}
			o.Charts = paths
			res.Files = append(res.Files, paths...)
		}
	}

	status := store.RunStatusDone
	message := fmt.Sprintf("%d 个交易对，%d 个仓位", len(res.Symbols), res.Summary.Total)
	if len(res.Failed) > 0 {
		message += fmt.Sprintf("，失败 %d: %s", len(res.Failed), strings.Join(res.Failed, ","))
		if len(res.Failed) == len(res.Symbols) {
			status = store.RunStatusFailed
		}
	}
	run.Status = status
	run.Failed = res.Failed
	run.Stats = res.Summary
	run.Message = message
	if err := s.opts.Store.SaveRun(ctx, run); err != nil {
		return res, fmt.Errorf("save run: %w", err)
	}
	metrics.RecordReviewRun(string(status))
	s.notify(res)
	reviewLog.Infof("任务 %s 完成: %s realized=%s unrealized=%s fees=%s",
		p.runID, message, res.Summary.RealizedPnl.StringFixed(4),
		res.Summary.UnrealizedPnl.StringFixed(4), res.Summary.TotalFees.StringFixed(4))
	return res, nil
}

func (s *Service) finishFailed(run store.Run, cause error) {
	metrics.RecordReviewRun(string(store.RunStatusFailed))
	// 原 ctx 可能已取消，用独立 ctx 写失败状态
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Store.UpdateRun(ctx, run.ID, store.RunStatusFailed, cause.Error()); err != nil {
		reviewLog.Errorf("任务 %s 写入失败状态出错: %v", run.ID, err)
	}
	reviewLog.Errorf("任务 %s 失败: %v", run.ID, cause)
}

func (s *Service) processSymbol(ctx context.Context, p plan, sym string) SymbolOutcome {
	out := SymbolOutcome{Symbol: sym, Mark: decimal.Zero}
	var (
		fills   []fill.Fill
		rejects []error
	)
	if p.imported != nil {
		fills, rejects = p.imported[sym], p.rejected[sym]
	} else {
		raws, err := s.opts.Fills.FetchFills(ctx, sym, p.start, p.end)
		if err != nil {
			out.Error = err.Error()
			reviewLog.Errorf("%s 拉取成交失败: %v", sym, err)
			return out
		}
		metrics.AddFillsFetched(sym, len(raws))
		fills, rejects = fill.NormalizeAll(raws)
	}
	for _, err := range rejects {
		raw, _ := fill.RawOf(err)
		reviewLog.Warnf("%s 丢弃成交: %v raw=%v", sym, err, raw)
		metrics.RecordFillRejected(sym, rejectReason(err))
	}
	out.Fills = len(fills)
	out.Rejected = len(rejects)
	out.fills = fills
	if len(fills) == 0 {
		out.Stats = stats.Aggregate(nil)
		return out
	}
	out.Mark = s.markPrice(ctx, p.mark, sym)

	started := time.Now()
	out.Positions = reconstruct(position.New(p.policy), fills, out.Mark)
	metrics.ObserveReconstruct(time.Since(started))
	out.Stats = stats.Aggregate(out.Positions)
	metrics.RecordPositions(sym, out.Stats.Closed, out.Stats.Open)
	metrics.SetRealizedPnl(sym, out.Stats.RealizedPnl.InexactFloat64())
	reviewLog.Infof("%s 成交=%d 丢弃=%d 仓位=%d (平 %d / 未平 %d) pnl=%s",
		sym, out.Fills, out.Rejected, out.Stats.Total, out.Stats.Closed, out.Stats.Open, out.Stats.RealizedPnl.StringFixed(4))
	return out
}

// markPrice 取不到交易所标记价时返回 0，由引擎回退到最后成交价。
func (s *Service) markPrice(ctx context.Context, mode, sym string) decimal.Decimal {
	if mode != MarkExchange || s.opts.Marks == nil {
		return decimal.Zero
	}
	price, err := s.opts.Marks.MarkPrice(ctx, sym)
	if err != nil {
		reviewLog.Warnf("%s 获取标记价格失败，改用最后成交价: %v", sym, err)
		return decimal.Zero
	}
	return decimal.NewFromFloat(price)
}

// reconstruct 按交易对分组后逐组重建，引擎要求单一交易对输入。
func reconstruct(engine *position.Engine, fills []fill.Fill, mark decimal.Decimal) []position.Position {
	groups := fill.GroupBySymbol(fills)
	if len(groups) == 1 {
		return engine.Reconstruct(fills, mark)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []position.Position
	for _, k := range keys {
		out = append(out, engine.Reconstruct(groups[k], mark)...)
	}
	return out
}

func (s *Service) assemble(p plan, outcomes []SymbolOutcome) Result {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Symbol < outcomes[j].Symbol })
	res := Result{
		RunID:    p.runID,
		Source:   p.source,
		Start:    p.start,
		End:      p.end,
		Policy:   p.policy,
		Symbols:  outcomes,
		BySymbol: make(map[string]stats.Statistics, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.failed() {
			res.Failed = append(res.Failed, o.Symbol)
			continue
		}
		res.BySymbol[o.Symbol] = o.Stats
	}
	res.Summary = stats.Aggregate(res.Positions())
	return res
}

func (r Result) report() export.Report {
	return export.Report{
		RunID:       r.RunID,
		Exchange:    r.Source,
		Start:       r.Start,
		End:         r.End,
		GeneratedAt: time.Now(),
		Policy:      r.Policy,
		Positions:   r.Positions(),
		Summary:     r.Summary,
		BySymbol:    r.BySymbol,
		Failed:      r.Failed,
	}
}

// Rebuild 用已落库的成交按新口径重算，不访问网络也不写库。
func (s *Service) Rebuild(ctx context.Context, runID string, policy position.Policy) (Result, error) {
	if err := policy.Validate(); err != nil {
		return Result{}, err
	}
	run, err := s.opts.Store.GetRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	symbols, err := s.opts.Store.ListSymbols(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	engine := position.New(policy)
	outcomes := make([]SymbolOutcome, 0, len(symbols))
	for _, sr := range symbols {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		o := SymbolOutcome{Symbol: sr.Symbol, Mark: sr.Mark, Rejected: sr.Rejected, Error: sr.Error}
		if !o.failed() {
			fills, err := s.opts.Store.ListFills(ctx, runID, sr.Symbol)
			if err != nil {
				return Result{}, err
			}
			o.Fills = len(fills)
			o.Positions = reconstruct(engine, fills, sr.Mark)
			o.Stats = stats.Aggregate(o.Positions)
		}
		outcomes = append(outcomes, o)
	}
	p := plan{runID: run.ID, source: run.Source, start: run.Start, end: run.End, policy: policy}
	return s.assemble(p, outcomes), nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, fill.ErrUnknownSide):
		return "unknown_side"
	case errors.Is(err, fill.ErrMalformedFill):
		return "malformed"
	default:
		return "other"
	}
}

func groupImported(fills []fill.Fill, rejects []error) (map[string][]fill.Fill, map[string][]error) {
	grouped := make(map[string][]fill.Fill)
	for _, f := range fills {
		sym := symbol.Normalize(f.Symbol)
		f.Symbol = sym
		grouped[sym] = append(grouped[sym], f)
	}
	rejected := make(map[string][]error)
	for _, err := range rejects {
		sym := ""
		if raw, ok := fill.RawOf(err); ok {
			if v, ok := raw["symbol"].(string); ok {
				sym = symbol.Normalize(v)
			}
		}
		rejected[sym] = append(rejected[sym], err)
	}
	return grouped, rejected
}

func sortedKeys(m map[string][]fill.Fill) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func filterSymbols(all, wanted []string) []string {
	if len(wanted) == 0 {
		return all
	}
	set := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		set[w] = true
	}
	var out []string
	for _, s := range all {
		if set[s] {
			out = append(out, s)
		}
	}
	return out
}

func fillRange(fills []fill.Fill) (time.Time, time.Time) {
	if len(fills) == 0 {
		now := time.Now().UTC()
		return now, now
	}
	minTs, maxTs := fills[0].Timestamp, fills[0].Timestamp
	for _, f := range fills[1:] {
		if f.Timestamp < minTs {
			minTs = f.Timestamp
		}
		if f.Timestamp > maxTs {
			maxTs = f.Timestamp
		}
	}
	return time.UnixMilli(minTs).UTC(), time.UnixMilli(maxTs + 1).UTC()
}
