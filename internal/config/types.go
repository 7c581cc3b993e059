package config

import (
	"strings"
	"time"
)

// Config 是 tradelens 的主配置载体。
type Config struct {
	App     AppConfig     `toml:"app"`
	Binance BinanceConfig `toml:"binance"`
	Review  ReviewConfig  `toml:"review"`
	Candles CandleConfig  `toml:"candles"`
	Chart   ChartConfig   `toml:"chart"`
	Export  ExportConfig  `toml:"export"`
	Notify  NotifyConfig  `toml:"notify"`
}

type AppConfig struct {
	Env           string `toml:"env"`
	LogLevel      string `toml:"log_level"`
	HTTPAddr      string `toml:"http_addr"`
	LogPath       string `toml:"log_path"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days"`
	DBPath        string `toml:"db_path"`
	// Timezone 只影响导出与图表的时间显示。
	Timezone string `toml:"timezone"`
	EnvFile  string `toml:"env_file"`
}

// Location 返回展示用时区，非法值回退到 UTC。
func (a AppConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(strings.TrimSpace(a.Timezone)); err == nil {
		return loc
	}
	return time.UTC
}

type BinanceConfig struct {
	APIKey             string      `toml:"api_key"`
	SecretKey          string      `toml:"secret_key"`
	RESTBaseURL        string      `toml:"rest_base_url"`
	HTTPTimeoutSeconds int         `toml:"http_timeout_seconds"`
	RateLimitPerMin    int         `toml:"rate_limit_per_min"`
	PageLimit          int         `toml:"page_limit"`
	WindowDays         int         `toml:"window_days"`
	MaxRetries         int         `toml:"max_retries"`
	RetryBackoffMs     int         `toml:"retry_backoff_ms"`
	RateLimitWaitSec   int         `toml:"rate_limit_wait_seconds"`
	// BreakerThreshold 为 0 时关闭熔断。
	BreakerThreshold   int         `toml:"breaker_threshold"`
	BreakerCooldownSec int         `toml:"breaker_cooldown_seconds"`
	Proxy              ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// ReviewConfig 描述一次复盘的范围与计算口径。
type ReviewConfig struct {
	Symbols      []string `toml:"symbols"`
	Quote        string   `toml:"quote"`
	Start        string   `toml:"start"`
	End          string   `toml:"end"`
	LookbackDays int      `toml:"lookback_days"`
	Workers      int      `toml:"workers"`
	MarkSource   string   `toml:"mark_source"` // exchange | last_fill
	CostBasis    string   `toml:"cost_basis"`  // total | running
	Fees         string   `toml:"fees"`        // none | opening | closing | both
	QuoteAsset   string   `toml:"quote_asset"`
}

const (
	MarkSourceExchange = "exchange"
	MarkSourceLastFill = "last_fill"
)

type CandleConfig struct {
	Dir       string `toml:"dir"`
	Timeframe string `toml:"timeframe"`
}

type ChartConfig struct {
	Enabled   bool   `toml:"enabled"`
	Dir       string `toml:"dir"`
	RenderPNG bool   `toml:"render_png"`
	Width     int    `toml:"width"`
	Height    int    `toml:"height"`
}

type ExportConfig struct {
	Dir  string `toml:"dir"`
	CSV  bool   `toml:"csv"`
	XLSX bool   `toml:"xlsx"`
	YAML bool   `toml:"yaml"`
}

// NotifyConfig 控制复盘完成后的推送。
type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
