package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey      string
	SecretKey   string
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	RateLimitPerMin int
	// PageLimit 为 userTrades 单页条数，上限 1000。
	PageLimit int
	// Window 为单次查询的时间跨度，userTrades 不允许超过 7 天。
	Window       time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// RateLimitWait 为收到 429/-1003 后的等待时长。
	RateLimitWait time.Duration
	// 连续 BreakerThreshold 次调用失败后熔断 BreakerCooldown；负数关闭熔断。
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

const (
	maxPageLimit = 1000
	maxWindow    = 7 * 24 * time.Hour
)

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.SecretKey = strings.TrimSpace(out.SecretKey)
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RateLimitPerMin <= 0 {
		out.RateLimitPerMin = 600
	}
	if out.PageLimit <= 0 || out.PageLimit > maxPageLimit {
		out.PageLimit = maxPageLimit
	}
	if out.Window <= 0 || out.Window > maxWindow {
		out.Window = maxWindow
	}
	// 负数表示关闭重试。
	switch {
	case out.MaxRetries == 0:
		out.MaxRetries = 3
	case out.MaxRetries < 0:
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = 500 * time.Millisecond
	}
	if out.RateLimitWait <= 0 {
		out.RateLimitWait = 2 * time.Second
	}
	if out.BreakerThreshold == 0 {
		out.BreakerThreshold = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}
