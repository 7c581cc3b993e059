package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"tradelens/internal/market"
	"tradelens/internal/pkg/circuit"
	symbolpkg "tradelens/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const maxKlineLimit = 1500

// Source 基于 go-binance SDK 访问 U 本位合约 REST 接口。
type Source struct {
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter
	breaker *circuit.Breaker
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	perSec := rate.Limit(float64(final.RateLimitPerMin) / 60.0)
	return &Source{
		cfg:     final,
		client:  client,
		limiter: rate.NewLimiter(perSec, 5),
		breaker: circuit.New("binance", final.BreakerThreshold, final.BreakerCooldown),
	}, nil
}

func (s *Source) Config() Config {
	return s.cfg
}

// HasCredentials 报告是否配置了 API key，userTrades 需要签名。
func (s *Source) HasCredentials() bool {
	return s.cfg.APIKey != "" && s.cfg.SecretKey != ""
}

// FetchCandles 拉取 [start, end] 区间内的 K 线，未收盘的最后一根会被丢弃。
func (s *Source) FetchCandles(ctx context.Context, symbol, interval string, start, end int64, limit int) ([]market.Candle, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	clean := symbolpkg.Parse(symbol).Binance()
	if clean == "" {
		return nil, fmt.Errorf("invalid symbol: %s", symbol)
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	var kls []*futures.Kline
	err := s.call(ctx, "klines", func() error {
		svc := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		var err error
		kls, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime >= now {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func (s *Source) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	clean := symbolpkg.Parse(symbol).Binance()
	if clean == "" {
		return 0, fmt.Errorf("invalid symbol: %s", symbol)
	}
	var res []*futures.PremiumIndex
	err := s.call(ctx, "premium_index", func() error {
		var err error
		res, err = s.client.NewPremiumIndexService().Symbol(clean).Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, entry := range res {
		if entry != nil && strings.EqualFold(entry.Symbol, clean) {
			return parseFloat(entry.MarkPrice), nil
		}
	}
	return 0, fmt.Errorf("mark price not available for %s", symbol)
}

// Symbols 返回指定计价币的在售永续合约，格式 BASE/QUOTE。
func (s *Source) Symbols(ctx context.Context, quote string) ([]string, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "USDT"
	}
	var info *futures.ExchangeInfo
	err := s.call(ctx, "exchange_info", func() error {
		var err error
		info, err = s.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status != "TRADING" || !strings.EqualFold(sym.QuoteAsset, quote) {
			continue
		}
		if string(sym.ContractType) != "PERPETUAL" {
			continue
		}
		out = append(out, sym.BaseAsset+"/"+sym.QuoteAsset)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Source) ServerTime(ctx context.Context) (time.Time, error) {
	var ms int64
	err := s.call(ctx, "server_time", func() error {
		var err error
		ms, err = s.client.NewServerTimeService().Do(ctx)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
