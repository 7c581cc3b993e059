package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9992"
	defaultAppLogPath      = "data/logs/tradelens.log"
	defaultAppLogMaxSize   = 50
	defaultAppLogBackups   = 5
	defaultAppLogMaxAge    = 30
	defaultAppDBPath       = "data/db/reviews.db"
	defaultAppTimezone     = "UTC"
	defaultAppEnvFile      = ".env"
	defaultBinanceREST     = "https://fapi.binance.com"
	defaultBinanceTimeout  = 15
	defaultBinanceRate     = 1200
	defaultBinancePage     = 1000
	defaultBinanceWindow   = 7
	defaultBinanceRetries  = 3
	defaultBinanceBackoff  = 500
	defaultBinanceWait     = 60
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30
	defaultReviewQuote     = "USDT"
	defaultReviewLookback  = 30
	defaultReviewWorkers   = 4
	defaultReviewMark      = MarkSourceExchange
	defaultReviewCostBasis = "total"
	defaultReviewFees      = "both"
	defaultCandleDir       = "data/candles"
	defaultCandleTimeframe = "15m"
	defaultChartDir        = "data/charts"
	defaultChartWidth      = 1600
	defaultChartHeight     = 960
	defaultExportDir       = "data/exports"
)

// applyDefaults 为所有子配置应用默认值；显式写出的键不会被覆盖。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Review.applyDefaults(keys)
	c.Candles.applyDefaults(keys)
	c.Chart.applyDefaults(keys)
	c.Export.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.db_path", &a.DBPath, defaultAppDBPath),
		stringFieldDefault("app.timezone", &a.Timezone, defaultAppTimezone),
		stringFieldDefault("app.env_file", &a.EnvFile, defaultAppEnvFile),
		intFieldDefault("app.log_max_size_mb", &a.LogMaxSizeMB, defaultAppLogMaxSize),
		intFieldDefault("app.log_max_backups", &a.LogMaxBackups, defaultAppLogBackups),
		intFieldDefault("app.log_max_age_days", &a.LogMaxAgeDays, defaultAppLogMaxAge),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	b.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("binance.http_timeout_seconds", &b.HTTPTimeoutSeconds, defaultBinanceTimeout),
		intFieldDefault("binance.rate_limit_per_min", &b.RateLimitPerMin, defaultBinanceRate),
		intFieldDefault("binance.page_limit", &b.PageLimit, defaultBinancePage),
		intFieldDefault("binance.window_days", &b.WindowDays, defaultBinanceWindow),
		intFieldDefault("binance.retry_backoff_ms", &b.RetryBackoffMs, defaultBinanceBackoff),
		intFieldDefault("binance.rate_limit_wait_seconds", &b.RateLimitWaitSec, defaultBinanceWait),
		intFieldDefault("binance.breaker_cooldown_seconds", &b.BreakerCooldownSec, defaultBreakerCooldown),
		fieldDefault{
			key:   "binance.breaker_threshold",
			need:  func() bool { return b.BreakerThreshold <= 0 },
			apply: func() { b.BreakerThreshold = defaultBreakerFailures },
		},
		// max_retries 允许显式写 0 表示不重试
		fieldDefault{
			key:   "binance.max_retries",
			need:  func() bool { return b.MaxRetries <= 0 },
			apply: func() { b.MaxRetries = defaultBinanceRetries },
		},
	)
}

func (r *ReviewConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	r.Symbols = normalizeList(r.Symbols)
	applyFieldDefaults(keys,
		stringFieldDefault("review.quote", &r.Quote, defaultReviewQuote),
		stringFieldDefault("review.mark_source", &r.MarkSource, defaultReviewMark),
		stringFieldDefault("review.cost_basis", &r.CostBasis, defaultReviewCostBasis),
		stringFieldDefault("review.fees", &r.Fees, defaultReviewFees),
		intFieldDefault("review.lookback_days", &r.LookbackDays, defaultReviewLookback),
		intFieldDefault("review.workers", &r.Workers, defaultReviewWorkers),
	)
	r.Quote = strings.ToUpper(strings.TrimSpace(r.Quote))
	r.QuoteAsset = strings.ToUpper(strings.TrimSpace(r.QuoteAsset))
	r.MarkSource = strings.ToLower(strings.TrimSpace(r.MarkSource))
}

func (c *CandleConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("candles.dir", &c.Dir, defaultCandleDir),
		stringFieldDefault("candles.timeframe", &c.Timeframe, defaultCandleTimeframe),
	)
}

func (c *ChartConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("chart.dir", &c.Dir, defaultChartDir),
		intFieldDefault("chart.width", &c.Width, defaultChartWidth),
		intFieldDefault("chart.height", &c.Height, defaultChartHeight),
		boolFieldDefault("chart.enabled", &c.Enabled, true),
	)
}

func (e *ExportConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("export.dir", &e.Dir, defaultExportDir),
		boolFieldDefault("export.csv", &e.CSV, true),
		boolFieldDefault("export.xlsx", &e.XLSX, true),
		boolFieldDefault("export.yaml", &e.YAML, true),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
