package config

import (
	"fmt"
	"strings"
	"time"

	"tradelens/internal/candlestore"
	"tradelens/internal/logger"
	"tradelens/internal/pkg/symbol"
	"tradelens/internal/position"
)

// validate 对配置进行基础校验，错误信息带上键名。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Binance.validate(); err != nil {
		return err
	}
	if err := c.Review.validate(); err != nil {
		return err
	}
	if _, err := candlestore.ParseTimeframe(c.Candles.Timeframe); err != nil {
		return fmt.Errorf("candles.timeframe: %w", err)
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart.width/chart.height must be > 0")
	}
	if tg := c.Notify.Telegram; tg.Enabled && (tg.BotToken == "" || tg.ChatID == "") {
		return fmt.Errorf("notify.telegram.bot_token/chat_id required when telegram enabled")
	}
	return nil
}

func (a *AppConfig) validate() error {
	if _, err := logger.ParseLevel(a.LogLevel); err != nil {
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if _, err := time.LoadLocation(strings.TrimSpace(a.Timezone)); err != nil {
		return fmt.Errorf("app.timezone invalid: %w", err)
	}
	if strings.TrimSpace(a.DBPath) == "" {
		return fmt.Errorf("app.db_path cannot be empty")
	}
	return nil
}

func (b *BinanceConfig) validate() error {
	if strings.TrimSpace(b.RESTBaseURL) == "" {
		return fmt.Errorf("binance.rest_base_url cannot be empty")
	}
	if b.PageLimit > 1000 {
		return fmt.Errorf("binance.page_limit must be <= 1000")
	}
	if b.WindowDays > 7 {
		return fmt.Errorf("binance.window_days must be <= 7")
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("binance.max_retries must be >= 0")
	}
	if b.BreakerThreshold < 0 {
		return fmt.Errorf("binance.breaker_threshold must be >= 0")
	}
	if b.Proxy.Enabled && b.Proxy.RESTURL == "" {
		return fmt.Errorf("binance.proxy.rest_url required when proxy enabled")
	}
	return nil
}

func (r *ReviewConfig) validate() error {
	for _, s := range r.Symbols {
		if !symbol.IsValid(s) {
			return fmt.Errorf("review.symbols contains invalid symbol: %s", s)
		}
	}
	switch r.MarkSource {
	case MarkSourceExchange, MarkSourceLastFill:
	default:
		return fmt.Errorf("review.mark_source must be exchange or last_fill, got %q", r.MarkSource)
	}
	if r.Workers <= 0 {
		return fmt.Errorf("review.workers must be > 0")
	}
	if _, err := r.Policy(); err != nil {
		return err
	}
	if _, _, err := r.Range(time.Now(), time.UTC); err != nil {
		return err
	}
	return nil
}

// Policy 把配置转换为重建口径。
func (r ReviewConfig) Policy() (position.Policy, error) {
	basis, err := position.ParseCostBasis(r.CostBasis)
	if err != nil {
		return position.Policy{}, fmt.Errorf("review.cost_basis: %w", err)
	}
	fees, err := position.ParseFeeMode(r.Fees)
	if err != nil {
		return position.Policy{}, fmt.Errorf("review.fees: %w", err)
	}
	return position.Policy{CostBasis: basis, Fees: fees, QuoteAsset: r.QuoteAsset}, nil
}

// Range 解析复盘区间；end 缺省为 now，start 缺省为 end 往前 lookback_days。
func (r ReviewConfig) Range(now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	end := now
	if strings.TrimSpace(r.End) != "" {
		t, err := ParseTime(r.End, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("review.end: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -r.LookbackDays)
	if strings.TrimSpace(r.Start) != "" {
		t, err := ParseTime(r.Start, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("review.start: %w", err)
		}
		start = t
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("review.start must be before review.end")
	}
	return start, end, nil
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime 支持 RFC3339、日期、日期+时间；无时区的值按 loc 解释。
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format %q", s)
}
