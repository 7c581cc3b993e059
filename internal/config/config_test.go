package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradelens/internal/position"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, defaultAppLogLevel, cfg.App.LogLevel)
	assert.Equal(t, defaultBinanceREST, cfg.Binance.RESTBaseURL)
	assert.Equal(t, defaultBinanceRetries, cfg.Binance.MaxRetries)
	assert.Equal(t, defaultBreakerFailures, cfg.Binance.BreakerThreshold)
	assert.False(t, cfg.Notify.Telegram.Enabled)
	assert.Equal(t, MarkSourceExchange, cfg.Review.MarkSource)
	assert.Equal(t, defaultReviewWorkers, cfg.Review.Workers)
	assert.Equal(t, "15m", cfg.Candles.Timeframe)
	assert.True(t, cfg.Export.CSV)
	assert.True(t, cfg.Export.XLSX)
	assert.True(t, cfg.Chart.Enabled)

	policy, err := cfg.Review.Policy()
	require.NoError(t, err)
	assert.Equal(t, position.DefaultPolicy(), policy)
}

func TestExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", `
export:
  csv: false
  xlsx: false
chart:
  enabled: false
review:
  symbols: ["BTC/USDT", "BTC/USDT", " ETH/USDT "]
  cost_basis: running
  fees: closing
  quote_asset: usdt
  mark_source: LAST_FILL
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Export.CSV)
	assert.False(t, cfg.Export.XLSX)
	assert.True(t, cfg.Export.YAML)
	assert.False(t, cfg.Chart.Enabled)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Review.Symbols)
	assert.Equal(t, MarkSourceLastFill, cfg.Review.MarkSource)

	policy, err := cfg.Review.Policy()
	require.NoError(t, err)
	assert.Equal(t, position.CostBasisRunning, policy.CostBasis)
	assert.Equal(t, position.FeesClosing, policy.Fees)
	assert.Equal(t, "USDT", policy.QuoteAsset)
}

func TestIncludeMergeOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "app:\n  log_level: debug\n  http_addr: ':1111'\n")
	path := writeFile(t, dir, "main.yaml", "include: [base.yaml]\napp:\n  http_addr: ':2222'\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, ":2222", cfg.App.HTTPAddr)
}

func TestIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestValidationNamesKey(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	cases := []struct {
		body string
		key  string
	}{
		{"review:\n  mark_source: oracle\n", "review.mark_source"},
		{"review:\n  fees: sometimes\n", "review.fees"},
		{"review:\n  symbols: [\"???\"]\n", "review.symbols"},
		{"app:\n  log_level: loud\n", "app.log_level"},
		{"binance:\n  page_limit: 5000\n", "binance.page_limit"},
		{"candles:\n  timeframe: 7m\n", "candles.timeframe"},
		{"review:\n  start: yesterday\n", "review.start"},
		{"binance:\n  proxy:\n    enabled: true\n", "binance.proxy.rest_url"},
		{"review:\n  start: '2024-02-01'\n  end: '2024-01-01'\n", "review.start"},
		{"binance:\n  breaker_threshold: -1\n", "binance.breaker_threshold"},
		{"notify:\n  telegram:\n    enabled: true\n", "notify.telegram"},
	}
	for _, tc := range cases {
		path := writeFile(t, t.TempDir(), "cfg.yaml", tc.body)
		_, err := Load(path)
		require.Error(t, err, tc.body)
		assert.Contains(t, err.Error(), tc.key, tc.body)
	}
}

func TestCredentialsFromEnvFile(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	os.Unsetenv("BINANCE_API_KEY")
	os.Unsetenv("BINANCE_API_SECRET")
	dir := t.TempDir()
	writeFile(t, dir, "keys.env", "BINANCE_API_KEY=k-123\nBINANCE_API_SECRET=s-456\n")
	path := writeFile(t, dir, "cfg.yaml", "app:\n  env_file: keys.env\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k-123", cfg.Binance.APIKey)
	assert.Equal(t, "s-456", cfg.Binance.SecretKey)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TRADELENS_APP_HTTP_ADDR", ":7777")
	t.Setenv("TRADELENS_REVIEW_SYMBOLS", "BTC/USDT,SOL/USDT")
	path := writeFile(t, t.TempDir(), "cfg.yaml", "app:\n  http_addr: ':1'\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.App.HTTPAddr)
	assert.Equal(t, []string{"BTC/USDT", "SOL/USDT"}, cfg.Review.Symbols)
}

func TestReviewRange(t *testing.T) {
	now := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	r := ReviewConfig{LookbackDays: 30}
	start, end, err := r.Range(now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, now, end)
	assert.Equal(t, now.AddDate(0, 0, -30), start)

	loc := time.FixedZone("UTC+8", 8*3600)
	r = ReviewConfig{Start: "2024-01-01", End: "2024-01-02 08:00"}
	start, end, err = r.Range(now, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 16, 0, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), end.UTC())
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, AppConfig{Timezone: "Mars/Base"}.Location())
	assert.Equal(t, "UTC", AppConfig{Timezone: "UTC"}.Location().String())
}
