package reviewhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tradelens/internal/fill"
	"tradelens/internal/market"
	"tradelens/internal/position"
	"tradelens/internal/review"
	"tradelens/internal/stats"
	"tradelens/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockReviewer struct {
	mock.Mock
}

func (m *MockReviewer) Submit(req review.Request) (review.Job, error) {
	args := m.Called(req)
	return args.Get(0).(review.Job), args.Error(1)
}

func (m *MockReviewer) Job(id string) (review.Job, bool) {
	args := m.Called(id)
	return args.Get(0).(review.Job), args.Bool(1)
}

func (m *MockReviewer) Jobs() []review.Job {
	return m.Called().Get(0).([]review.Job)
}

func (m *MockReviewer) Rebuild(ctx context.Context, runID string, policy position.Policy) (review.Result, error) {
	args := m.Called(ctx, runID, policy)
	return args.Get(0).(review.Result), args.Error(1)
}

func (m *MockReviewer) DefaultPolicy() position.Policy {
	return position.DefaultPolicy()
}

type stubCandles struct {
	candles []market.Candle
}

func (s stubCandles) Candles(_ context.Context, _, _ string, _, _ time.Time) ([]market.Candle, error) {
	return s.candles, nil
}

func mkFill(id, sym string, side fill.Side, amount, price string, ts int64) fill.Fill {
	return fill.Fill{
		ID: id, Symbol: sym, Side: side,
		Amount: decimal.RequireFromString(amount), Price: decimal.RequireFromString(price),
		Fee: fill.Fee{Cost: decimal.RequireFromString("0.1"), Currency: "USDT"}, Timestamp: ts,
	}
}

const t0 = int64(1_714_521_600_000)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	btc := []fill.Fill{
		mkFill("1", "BTC/USDT", fill.Buy, "1", "100", t0),
		mkFill("2", "BTC/USDT", fill.Sell, "1", "110", t0+3_600_000),
		mkFill("3", "BTC/USDT", fill.Sell, "1", "108", t0+7_200_000),
	}
	eth := []fill.Fill{
		mkFill("4", "ETH/USDT", fill.Sell, "2", "50", t0),
		mkFill("5", "ETH/USDT", fill.Buy, "2", "52", t0+3_600_000),
	}
	btcPos := position.Reconstruct(btc, decimal.NewFromInt(105))
	ethPos := position.Reconstruct(eth, decimal.Zero)
	all := append(append([]position.Position{}, btcPos...), ethPos...)

	run := store.Run{
		ID:        "run-1",
		Status:    store.RunStatusDone,
		Source:    "binance",
		Start:     time.UnixMilli(t0).UTC(),
		End:       time.UnixMilli(t0 + 86_400_000).UTC(),
		Policy:    position.DefaultPolicy(),
		Symbols:   []string{"BTC/USDT", "ETH/USDT"},
		Stats:     stats.Aggregate(all),
		CreatedAt: time.UnixMilli(t0),
	}
	require.NoError(t, st.SaveRun(ctx, run))
	require.NoError(t, st.SaveSymbolResult(ctx, run.ID, store.SymbolResult{
		Symbol: "BTC/USDT", Fills: btc, Positions: btcPos, FillCount: len(btc),
		Mark: decimal.NewFromInt(105), Stats: stats.Aggregate(btcPos),
	}))
	require.NoError(t, st.SaveSymbolResult(ctx, run.ID, store.SymbolResult{
		Symbol: "ETH/USDT", Fills: eth, Positions: ethPos, FillCount: len(eth),
		Mark: decimal.Zero, Stats: stats.Aggregate(ethPos),
	}))
	return st
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Runs == nil {
		cfg.Runs = seedStore(t)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServerRequiresStore(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	rec := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradelens")

	rec = do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunRoutes(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []store.Run
	require.NoError(t, json.Unmarshal(decode(t, rec)["runs"], &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	rec = do(t, s, http.MethodGet, "/api/runs/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run store.Run
	require.NoError(t, json.Unmarshal(decode(t, rec)["run"], &run))
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, run.Symbols)

	rec = do(t, s, http.MethodGet, "/api/runs/run-1/symbols", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var symbols []store.SymbolResult
	require.NoError(t, json.Unmarshal(decode(t, rec)["symbols"], &symbols))
	require.Len(t, symbols, 2)
	assert.Equal(t, "BTC/USDT", symbols[0].Symbol)
	assert.Equal(t, 3, symbols[0].FillCount)

	rec = do(t, s, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec), "error")
	rec = do(t, s, http.MethodGet, "/api/runs/missing/positions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPositionRoutes(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/api/runs/run-1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var positions []position.Position
	require.NoError(t, json.Unmarshal(decode(t, rec)["positions"], &positions))
	// BTC: 平多 + 反手空（未平）；ETH: 平空
	require.Len(t, positions, 3)

	rec = do(t, s, http.MethodGet, "/api/runs/run-1/positions?symbol=btcusdt&status=open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(decode(t, rec)["positions"], &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, position.Short, positions[0].Side)
	assert.True(t, positions[0].IsOpen)

	rec = do(t, s, http.MethodGet, "/api/runs/run-1/stats?symbol=ETH/USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st stats.Statistics
	require.NoError(t, json.Unmarshal(decode(t, rec)["stats"], &st))
	assert.Equal(t, 1, st.Closed)
	assert.Equal(t, 1, st.Losses)
	assert.True(t, st.RealizedPnl.Equal(decimal.RequireFromString("-4.2")), st.RealizedPnl.String())

	rec = do(t, s, http.MethodGet, "/api/runs/run-1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	var bySymbol map[string]stats.Statistics
	require.NoError(t, json.Unmarshal(body["by_symbol"], &bySymbol))
	assert.Len(t, bySymbol, 2)
	require.NoError(t, json.Unmarshal(body["stats"], &st))
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Open)
}

func TestSubmitAndJobRoutes(t *testing.T) {
	reviewer := new(MockReviewer)
	s := newTestServer(t, Config{Reviewer: reviewer})

	reviewer.On("Submit", mock.MatchedBy(func(req review.Request) bool {
		return len(req.Symbols) == 1 && req.Policy != nil && req.Policy.Fees == position.FeesNone &&
			req.Start.Equal(time.UnixMilli(t0)) && req.End.Equal(time.UnixMilli(t0+60_000))
	})).Return(review.Job{ID: "job-1", Status: review.JobStatusPending}, nil).Once()

	rec := do(t, s, http.MethodPost, "/api/reviews", map[string]any{
		"symbols": []string{"BTCUSDT"}, "start_ts": t0, "end_ts": t0 + 60_000, "fees": "none",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job review.Job
	require.NoError(t, json.Unmarshal(decode(t, rec)["job"], &job))
	assert.Equal(t, "job-1", job.ID)

	rec = do(t, s, http.MethodPost, "/api/reviews", map[string]any{"start_ts": t0, "end_ts": t0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/reviews", map[string]any{"start_ts": t0, "end_ts": t0 + 1, "fees": "half"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/reviews", map[string]any{"symbols": []string{"??"}, "start_ts": t0, "end_ts": t0 + 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	reviewer.On("Job", "job-1").Return(review.Job{ID: "job-1", Status: review.JobStatusDone}, true)
	reviewer.On("Job", "nope").Return(review.Job{}, false)
	rec = do(t, s, http.MethodGet, "/api/reviews/job-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/reviews/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	reviewer.On("Jobs").Return([]review.Job{{ID: "job-1"}})
	rec = do(t, s, http.MethodGet, "/api/reviews", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	reviewer.AssertExpectations(t)
}

func TestRebuildRoute(t *testing.T) {
	reviewer := new(MockReviewer)
	s := newTestServer(t, Config{Reviewer: reviewer})
	want := position.Policy{CostBasis: position.CostBasisRunning, Fees: position.FeesBoth}
	reviewer.On("Rebuild", mock.Anything, "run-1", want).
		Return(review.Result{RunID: "run-1", Policy: want}, nil)
	reviewer.On("Rebuild", mock.Anything, "missing", position.DefaultPolicy()).
		Return(review.Result{}, store.ErrNotFound)

	rec := do(t, s, http.MethodPost, "/api/runs/run-1/rebuild", map[string]any{"cost_basis": "running"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/api/runs/missing/rebuild", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	reviewer.AssertExpectations(t)
}

func TestServiceUnavailableWithoutCollaborators(t *testing.T) {
	s := newTestServer(t, Config{})
	for _, path := range []string{"/api/reviews/x", "/api/candles?symbol=BTC/USDT&timeframe=15m&start=1&end=2", "/chart/run-1/BTC_USDT"} {
		rec := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestCandlesRoute(t *testing.T) {
	candles := stubCandles{candles: []market.Candle{{OpenTime: t0, CloseTime: t0 + 899_999, Open: 1, High: 2, Low: 1, Close: 2}}}
	s := newTestServer(t, Config{Candles: candles})

	rec := do(t, s, http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=15m&start=1&end=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []market.Candle
	require.NoError(t, json.Unmarshal(decode(t, rec)["candles"], &got))
	assert.Len(t, got, 1)

	rec = do(t, s, http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=7m&start=1&end=2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/candles?symbol=BTCUSDT&timeframe=15m&start=5&end=2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChartRoute(t *testing.T) {
	var candles []market.Candle
	for i := int64(0); i < 40; i++ {
		open := t0 - 10*900_000 + i*900_000
		candles = append(candles, market.Candle{OpenTime: open, CloseTime: open + 899_999, Open: 100, High: 112, Low: 99, Close: 105, Volume: 1})
	}
	writer := &review.ChartWriter{Candles: stubCandles{candles: candles}, Timeframe: "15m"}
	s := newTestServer(t, Config{Charts: writer})

	rec := do(t, s, http.MethodGet, "/chart/run-1/BTC_USDT", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "BTC/USDT")

	rec = do(t, s, http.MethodGet, "/chart/run-1/SOLUSDT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodGet, "/chart/run-1/BTCUSDT?timeframe=2m", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
