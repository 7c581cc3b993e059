package chart

import (
	talib "github.com/markcheno/go-talib"

	"tradelens/internal/market"
)

const (
	emaPeriod  = 20
	bandPeriod = 20
	bandDev    = 2.0
)

type indicators struct {
	ema    []float64
	upper  []float64
	middle []float64
	lower  []float64
	// warmup 之前的点不画（talib 在这里填 0）
	warmup int
}

func computeIndicators(candles []market.Candle) indicators {
	n := len(candles)
	if n < emaPeriod {
		empty := make([]float64, n)
		return indicators{ema: empty, upper: empty, middle: empty, lower: empty, warmup: n}
	}
	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
	}
	upper, middle, lower := talib.BBands(closes, bandPeriod, bandDev, bandDev, talib.SMA)
	return indicators{
		ema:    talib.Ema(closes, emaPeriod),
		upper:  upper,
		middle: middle,
		lower:  lower,
		warmup: emaPeriod - 1,
	}
}
