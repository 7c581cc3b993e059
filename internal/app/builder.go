package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"tradelens/internal/candlestore"
	"tradelens/internal/chart"
	"tradelens/internal/config"
	"tradelens/internal/export"
	"tradelens/internal/gateway/binance"
	"tradelens/internal/gateway/notifier"
	"tradelens/internal/logger"
	"tradelens/internal/review"
	"tradelens/internal/store"
	reviewhttp "tradelens/internal/transport/http/review"
)

// Builder 按配置组装依赖；各 xxxFn 可在测试中替换。
type Builder struct {
	cfg *config.Config

	exchangeFn func(config.BinanceConfig) (*binance.Source, error)
	storeFn    func(string) (*store.Store, error)
}

type BuilderOption func(*Builder)

// WithExchange 替换交易所客户端构造，测试时指向 httptest。
func WithExchange(fn func(config.BinanceConfig) (*binance.Source, error)) BuilderOption {
	return func(b *Builder) { b.exchangeFn = fn }
}

func NewBuilder(cfg *config.Config, opts ...BuilderOption) *Builder {
	b := &Builder{
		cfg:        cfg,
		exchangeFn: buildExchange,
		storeFn:    store.Open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// binanceConfig 把秒/毫秒配置转换成 gateway 参数；max_retries/breaker_threshold 为 0 表示关闭。
func binanceConfig(c config.BinanceConfig) binance.Config {
	retries := c.MaxRetries
	if retries == 0 {
		retries = -1
	}
	breaker := c.BreakerThreshold
	if breaker == 0 {
		breaker = -1
	}
	return binance.Config{
		APIKey:          c.APIKey,
		SecretKey:       c.SecretKey,
		RESTBaseURL:     c.RESTBaseURL,
		HTTPTimeout:     time.Duration(c.HTTPTimeoutSeconds) * time.Second,
		ProxyEnabled:    c.Proxy.Enabled,
		RESTProxyURL:    c.Proxy.RESTURL,
		RateLimitPerMin: c.RateLimitPerMin,
		PageLimit:       c.PageLimit,
		Window:          time.Duration(c.WindowDays) * 24 * time.Hour,
		MaxRetries:      retries,
		RetryBackoff:    time.Duration(c.RetryBackoffMs) * time.Millisecond,
		RateLimitWait:   time.Duration(c.RateLimitWaitSec) * time.Second,

		BreakerThreshold: breaker,
		BreakerCooldown:  time.Duration(c.BreakerCooldownSec) * time.Second,
	}
}

func buildExchange(c config.BinanceConfig) (*binance.Source, error) {
	return binance.New(binanceConfig(c))
}

func (b *Builder) Build() (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	loc := cfg.App.Location()

	policy, err := cfg.Review.Policy()
	if err != nil {
		return nil, err
	}
	src, err := b.exchangeFn(cfg.Binance)
	if err != nil {
		return nil, fmt.Errorf("init binance: %w", err)
	}
	st, err := b.storeFn(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open review db: %w", err)
	}
	candles, err := candlestore.NewStore(cfg.Candles.Dir)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open candle store: %w", err)
	}
	cache := candlestore.NewCache(candles, src)

	var charts *review.ChartWriter
	if cfg.Chart.Enabled {
		renderPNG := cfg.Chart.RenderPNG && headlessReady()
		charts = &review.ChartWriter{
			Candles:   cache,
			Timeframe: cfg.Candles.Timeframe,
			Dir:       cfg.Chart.Dir,
			RenderPNG: renderPNG,
			Width:     cfg.Chart.Width,
			Height:    cfg.Chart.Height,
			Location:  loc,
		}
	}

	opts := review.Options{
		Marks:      src,
		Lister:     src,
		Store:      st,
		Exporter:   export.New(export.Options{Dir: cfg.Export.Dir, CSV: cfg.Export.CSV, XLSX: cfg.Export.XLSX, YAML: cfg.Export.YAML, Location: loc}),
		Charts:     charts,
		SourceName: "binance",
		Policy:     policy,
		MarkSource: cfg.Review.MarkSource,
		Workers:    cfg.Review.Workers,
		Quote:      cfg.Review.Quote,
		Location:   loc,
	}
	if tg := cfg.Notify.Telegram; tg.Enabled {
		opts.Notifier = notifier.NewTelegram(tg.BotToken, tg.ChatID)
	}
	// 没有 API key 时只能离线导入成交，K 线与标记价格走公开接口
	if src.HasCredentials() {
		opts.Fills = src
	} else {
		logger.Warnf("[app] 未配置 Binance API key，仅支持 -fills 离线导入")
	}
	svc, err := review.New(opts)
	if err != nil {
		_ = candles.Close()
		_ = st.Close()
		return nil, err
	}

	server, err := reviewhttp.NewServer(reviewhttp.Config{
		Addr:     cfg.App.HTTPAddr,
		Runs:     st,
		Reviewer: svc,
		Candles:  cache,
		Charts:   charts,
	})
	if err != nil {
		_ = candles.Close()
		_ = st.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		exchange: src,
		store:    st,
		candles:  candles,
		review:   svc,
		http:     server,
		Summary:  newStartupSummary(cfg, src.HasCredentials()),
	}, nil
}

// headlessReady 找不到 Chrome 时只输出 HTML 图表。
func headlessReady() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := chart.EnsureHeadlessAvailable(ctx); err != nil {
		logger.Warnf("[app] headless Chrome 不可用，跳过 PNG 渲染: %v", err)
		return false
	}
	return true
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
