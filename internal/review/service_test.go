package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tradelens/internal/export"
	"tradelens/internal/fill"
	"tradelens/internal/market"
	"tradelens/internal/position"
	"tradelens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockFillSource struct {
	mock.Mock
}

func (m *MockFillSource) FetchFills(ctx context.Context, symbol string, start, end time.Time) ([]fill.Raw, error) {
	args := m.Called(ctx, symbol, start, end)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fill.Raw), args.Error(1)
}

type MockMarkSource struct {
	mock.Mock
}

func (m *MockMarkSource) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

type MockLister struct {
	mock.Mock
}

func (m *MockLister) Symbols(ctx context.Context, quote string) ([]string, error) {
	args := m.Called(ctx, quote)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

type fakeCandles struct{}

func (fakeCandles) Candles(_ context.Context, _, _ string, start, end time.Time) ([]market.Candle, error) {
	var out []market.Candle
	step := int64(15 * 60 * 1000)
	open := start.UnixMilli() - start.UnixMilli()%step
	price := 100.0
	for ; open <= end.UnixMilli(); open += step {
		out = append(out, market.Candle{OpenTime: open, CloseTime: open + step - 1, Open: price, High: price + 1, Low: price - 1, Close: price + 0.5, Volume: 5})
		price += 0.5
	}
	return out, nil
}

var base = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func raw(id, sym, side, amount, price string, offset time.Duration) fill.Raw {
	return fill.Raw{
		"id": id, "order": "o" + id, "symbol": sym, "side": side,
		"amount": amount, "price": price, "timestamp": base.Add(offset).UnixMilli(),
		"fee": map[string]any{"cost": "0.1", "currency": "USDT"},
	}
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunFetchesReconstructsAndPersists(t *testing.T) {
	st := openStore(t)
	src := new(MockFillSource)
	marks := new(MockMarkSource)
	exportDir := t.TempDir()

	src.On("FetchFills", mock.Anything, "BTC/USDT", base, base.Add(24*time.Hour)).Return([]fill.Raw{
		raw("1", "BTC/USDT", "buy", "1", "100", time.Hour),
		raw("2", "BTC/USDT", "sell", "1", "110", 2*time.Hour),
		raw("3", "BTC/USDT", "hold", "1", "110", 3*time.Hour),
		raw("4", "BTC/USDT", "buy", "2", "105", 4*time.Hour),
	}, nil)
	src.On("FetchFills", mock.Anything, "ETH/USDT", base, base.Add(24*time.Hour)).Return(nil, errors.New("boom"))
	marks.On("MarkPrice", mock.Anything, "BTC/USDT").Return(107.0, nil)

	svc, err := New(Options{
		Fills:    src,
		Marks:    marks,
		Store:    st,
		Exporter: export.New(export.Options{Dir: exportDir, CSV: true}),
		Workers:  2,
	})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), Request{
		Symbols: []string{"ETHUSDT", "BTC/USDT"},
		Start:   base,
		End:     base.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	src.AssertExpectations(t)
	marks.AssertExpectations(t)

	require.Len(t, res.Symbols, 2)
	assert.Equal(t, "BTC/USDT", res.Symbols[0].Symbol)
	assert.Equal(t, []string{"ETH/USDT"}, res.Failed)
	btc := res.Symbols[0]
	assert.Equal(t, 3, btc.Fills)
	assert.Equal(t, 1, btc.Rejected)
	require.Len(t, btc.Positions, 2)
	assert.True(t, btc.Mark.Equal(decimal.NewFromInt(107)))

	// 已平：10 - 0.2；未平：2*(107-105) - 0.1
	assert.True(t, res.Summary.RealizedPnl.Equal(decimal.RequireFromString("9.8")), res.Summary.RealizedPnl.String())
	assert.True(t, res.Summary.UnrealizedPnl.Equal(decimal.RequireFromString("3.9")), res.Summary.UnrealizedPnl.String())
	assert.Equal(t, 1, res.Summary.Closed)
	assert.Equal(t, 1, res.Summary.Open)

	require.Len(t, res.Files, 1)
	_, err = os.Stat(res.Files[0])
	require.NoError(t, err)

	run, err := st.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusDone, run.Status)
	assert.Equal(t, []string{"ETH/USDT"}, run.Failed)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT"}, run.Symbols)

	positions, err := st.ListPositions(context.Background(), res.RunID, "BTC/USDT")
	require.NoError(t, err)
	assert.Len(t, positions, 2)
	symbols, err := st.ListSymbols(context.Background(), res.RunID)
	require.NoError(t, err)
	require.Len(t, symbols, 2)
}

func TestRunListsSymbolsWhenNoneRequested(t *testing.T) {
	src := new(MockFillSource)
	lister := new(MockLister)
	lister.On("Symbols", mock.Anything, "USDT").Return([]string{"SOLUSDT"}, nil)
	src.On("FetchFills", mock.Anything, "SOL/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{}, nil)

	svc, err := New(Options{Fills: src, Lister: lister, Store: openStore(t), MarkSource: MarkLastFill})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), Request{Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, "SOL/USDT", res.Symbols[0].Symbol)
	assert.Empty(t, res.Symbols[0].Positions)
	assert.Equal(t, 0, res.Summary.Total)
	lister.AssertExpectations(t)
}

func TestRunMarkFallsBackToLastFill(t *testing.T) {
	src := new(MockFillSource)
	marks := new(MockMarkSource)
	src.On("FetchFills", mock.Anything, "BTC/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{
		raw("1", "BTC/USDT", "sell", "1", "100", time.Minute),
		raw("2", "BTC/USDT", "sell", "1", "96", 2*time.Minute),
	}, nil)
	marks.On("MarkPrice", mock.Anything, "BTC/USDT").Return(0.0, errors.New("timeout"))

	svc, err := New(Options{Fills: src, Marks: marks, Store: openStore(t), Policy: position.Policy{Fees: position.FeesNone}})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Symbols[0].Positions, 1)
	p := res.Symbols[0].Positions[0]
	assert.True(t, p.IsOpen)
	// 空 2 @ 均价 98，按最后成交 96 估值
	assert.True(t, p.RealizedPnl.Equal(decimal.NewFromInt(4)), p.RealizedPnl.String())
	assert.True(t, res.Symbols[0].Mark.IsZero())
}

func TestRunValidation(t *testing.T) {
	svc, err := New(Options{Store: openStore(t)})
	require.NoError(t, err)
	_, err = svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base})
	assert.Error(t, err)
	_, err = svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(time.Hour)})
	assert.ErrorContains(t, err, "fills")
	_, err = svc.Run(context.Background(), Request{Start: base, End: base.Add(time.Hour), MarkSource: "oracle"})
	assert.Error(t, err)

	_, err = New(Options{})
	assert.Error(t, err)
	_, err = New(Options{Store: openStore(t), MarkSource: "oracle"})
	assert.Error(t, err)
}

const importJSON = `[
 {"id":"1","symbol":"ETH/USDT","side":"buy","amount":"2","price":"50","timestamp":1714521600000,"fee":{"cost":"0","currency":"USDT"}},
 {"id":"2","symbol":"ETHUSDT","side":"sell","amount":"2","price":"55","timestamp":1714525200000,"fee":{"cost":"0","currency":"USDT"}},
 {"id":"3","symbol":"BTC/USDT","side":"sell","amount":"1","price":"100","timestamp":1714521600000},
 {"id":"4","symbol":"BTC/USDT","side":"flat","amount":"1","price":"100","timestamp":1714521600000}
]`

func TestRunImportsFillsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills.json")
	require.NoError(t, os.WriteFile(path, []byte(importJSON), 0o644))
	st := openStore(t)
	svc, err := New(Options{Store: st, MarkSource: MarkLastFill})
	require.NoError(t, err)

	res, err := svc.Run(context.Background(), Request{FillsFile: path})
	require.NoError(t, err)
	assert.Equal(t, SourceFile, res.Source)
	require.Len(t, res.Symbols, 2)
	assert.Equal(t, "BTC/USDT", res.Symbols[0].Symbol)
	assert.Equal(t, 1, res.Symbols[0].Rejected)
	eth := res.Symbols[1]
	require.Len(t, eth.Positions, 1)
	assert.True(t, eth.Positions[0].RealizedPnl.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, time.UnixMilli(1714521600000).UTC(), res.Start)

	only, err := svc.Run(context.Background(), Request{FillsFile: path, Symbols: []string{"ETH/USDT"}})
	require.NoError(t, err)
	require.Len(t, only.Symbols, 1)
}

func TestRebuildUsesStoredFills(t *testing.T) {
	src := new(MockFillSource)
	src.On("FetchFills", mock.Anything, "BTC/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{
		raw("1", "BTC/USDT", "buy", "1", "100", time.Minute),
		raw("2", "BTC/USDT", "sell", "1", "110", 2*time.Minute),
	}, nil)
	svc, err := New(Options{Fills: src, Store: openStore(t), MarkSource: MarkLastFill})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.Summary.RealizedPnl.Equal(decimal.RequireFromString("9.8")))

	rebuilt, err := svc.Rebuild(context.Background(), res.RunID, position.Policy{Fees: position.FeesNone})
	require.NoError(t, err)
	assert.True(t, rebuilt.Summary.RealizedPnl.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, position.FeesNone, rebuilt.Policy.Fees)
	src.AssertNumberOfCalls(t, "FetchFills", 1)

	_, err = svc.Rebuild(context.Background(), "missing", position.DefaultPolicy())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.Rebuild(context.Background(), res.RunID, position.Policy{Fees: "odd"})
	assert.Error(t, err)
}

func TestSubmitRunsAsync(t *testing.T) {
	src := new(MockFillSource)
	src.On("FetchFills", mock.Anything, "BTC/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{
		raw("1", "BTC/USDT", "buy", "1", "100", time.Minute),
	}, nil)
	svc, err := New(Options{Fills: src, Store: openStore(t), MarkSource: MarkLastFill})
	require.NoError(t, err)

	job, err := svc.Submit(Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	assert.Eventually(t, func() bool {
		j, ok := svc.Job(job.ID)
		return ok && j.Status == JobStatusDone
	}, 5*time.Second, 20*time.Millisecond)
	j, _ := svc.Job(job.ID)
	require.NotNil(t, j.Summary)
	assert.Equal(t, 1, j.Summary.Open)
	assert.Len(t, svc.Jobs(), 1)

	_, err = svc.Submit(Request{RunID: job.ID, Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(time.Hour)})
	assert.Error(t, err)
	_, err = svc.Submit(Request{Start: base, End: base})
	assert.Error(t, err)
	_, ok := svc.Job("nope")
	assert.False(t, ok)
}

func TestRunWritesCharts(t *testing.T) {
	src := new(MockFillSource)
	src.On("FetchFills", mock.Anything, "BTC/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{
		raw("1", "BTC/USDT", "buy", "1", "100", time.Hour),
		raw("2", "BTC/USDT", "sell", "1", "104", 5*time.Hour),
	}, nil)
	dir := t.TempDir()
	svc, err := New(Options{
		Fills: src, Store: openStore(t), MarkSource: MarkLastFill,
		Charts: &ChartWriter{Candles: fakeCandles{}, Timeframe: "15m", Dir: dir},
	})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT"}, Start: base, End: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Symbols[0].Charts, 1)
	assert.Equal(t, filepath.Join(dir, res.RunID, "BTC_USDT_15m.html"), res.Symbols[0].Charts[0])
	body, err := os.ReadFile(res.Symbols[0].Charts[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "Long open")

	var nilWriter *ChartWriter
	_, err = nilWriter.Page(context.Background(), "BTC/USDT", "", res.Symbols[0].Positions, res.Summary)
	assert.Error(t, err)
}

func TestRunSendsSummaryNotification(t *testing.T) {
	src := new(MockFillSource)
	src.On("FetchFills", mock.Anything, "BTC/USDT", mock.Anything, mock.Anything).Return([]fill.Raw{
		raw("1", "BTC/USDT", "buy", "1", "100", time.Minute),
		raw("2", "BTC/USDT", "sell", "1", "110", 2*time.Minute),
	}, nil)
	src.On("FetchFills", mock.Anything, "ETH/USDT", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))
	note := new(MockNotifier)
	note.On("SendText", mock.Anything, mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "BTC/USDT pnl=9.8000") && strings.Contains(text, "ETH/USDT 失败: timeout")
	})).Return(errors.New("telegram down")).Once()

	svc, err := New(Options{Fills: src, Store: openStore(t), MarkSource: MarkLastFill, Notifier: note})
	require.NoError(t, err)
	res, err := svc.Run(context.Background(), Request{Symbols: []string{"BTC/USDT", "ETH/USDT"}, Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err, "推送失败不影响复盘")
	assert.Equal(t, []string{"ETH/USDT"}, res.Failed)
	note.AssertExpectations(t)
}
