package symbol

import (
	"strings"
)

// 识别无分隔符写法（如 ETHUSDT）时依次尝试的计价币。
var knownQuotes = []string{"USDT", "USDC", "BUSD", "FDUSD", "TUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base   string
	Quote  string
	Settle string
}

// Internal 返回 BASE/QUOTE。
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Binance 返回 BASEQUOTE。
func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Contract 返回 ccxt 风格的永续合约写法 BASE/QUOTE:SETTLE。
func (s Symbol) Contract() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	settle := s.Settle
	if settle == "" {
		settle = s.Quote
	}
	return s.Base + "/" + s.Quote + ":" + settle
}

// Parse 支持 BTC/USDT、BTC/USDT:USDT、BTCUSDT 与 btc-usdt。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	settle := ""
	if idx := strings.Index(s, ":"); idx >= 0 {
		settle = strings.TrimSpace(s[idx+1:])
		s = s[:idx]
	}
	s = strings.ReplaceAll(s, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:   strings.TrimSpace(parts[0]),
			Quote:  strings.TrimSpace(parts[1]),
			Settle: settle,
		}
	}
	for _, quote := range knownQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote, Settle: settle}
		}
	}
	return Symbol{}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// NormalizeList 归一化并去重，保持输入顺序；无法解析的写法原样大写保留。
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			norm = strings.ToUpper(strings.TrimSpace(s))
			if norm == "" {
				continue
			}
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}

// FileSafe 用于文件/目录名，例如 BTC/USDT -> BTC_USDT。
func FileSafe(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Base + "_" + sym.Quote
	}
	r := strings.NewReplacer("/", "_", ":", "_", " ", "")
	return r.Replace(strings.ToUpper(strings.TrimSpace(s)))
}
