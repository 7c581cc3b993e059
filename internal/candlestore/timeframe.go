package candlestore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 对应交易所 interval 与本地网格步长。
type Timeframe struct {
	Key      string
	Duration time.Duration
	Interval string
}

var timeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, Interval: "1m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, Interval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, Interval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, Interval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, Interval: "1h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, Interval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, Interval: "1d"},
}

func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := timeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

func Timeframes() []string {
	keys := make([]string, 0, len(timeframes))
	for k := range timeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return timeframes[keys[i]].Duration < timeframes[keys[j]].Duration
	})
	return keys
}

func (tf Timeframe) step() int64 {
	return tf.Duration.Milliseconds()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignRange 把毫秒区间对齐到周期网格，保证 start<=end。
func (tf Timeframe) AlignRange(start, end int64) (int64, int64) {
	if end < start {
		start, end = end, start
	}
	s := alignDown(start, tf.step())
	e := alignDown(end, tf.step())
	if e < s {
		e = s
	}
	return s, e
}

// Expected 返回闭区间 [start, end] 内的网格点数量。
func (tf Timeframe) Expected(start, end int64) int64 {
	if end < start || tf.step() == 0 {
		return 0
	}
	return (end-start)/tf.step() + 1
}

// Gap 为缺失的闭区间 [Start, End]。
type Gap struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// FindGaps 在对齐后的网格上找出 present 中缺失的连续区段，present 须升序。
func (tf Timeframe) FindGaps(start, end int64, present []int64) []Gap {
	step := tf.step()
	var gaps []Gap
	cursor := start
	for _, ts := range present {
		if ts < cursor {
			continue
		}
		if ts > end {
			break
		}
		if ts > cursor {
			gaps = append(gaps, Gap{Start: cursor, End: ts - step})
		}
		cursor = ts + step
	}
	if cursor <= end {
		gaps = append(gaps, Gap{Start: cursor, End: end})
	}
	return gaps
}
