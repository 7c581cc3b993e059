package chart

import (
	"sort"

	"tradelens/internal/market"
	"tradelens/internal/position"
)

// Marker 是一个仓位在图上的开仓或平仓点。
type Marker struct {
	PositionID string
	Side       position.Side
	Role       position.Role
	Index      int
	Price      float64
	Time       int64
}

func (m Marker) symbol() string {
	if m.Role == position.RoleClose {
		return "emptyCircle"
	}
	if m.Side == position.Short {
		return "triangle"
	}
	return "circle"
}

// Markers 把仓位的开/平仓时间映射到所在 K 线的下标；区间外的点被丢弃。
// 平仓价取出场均价，开仓价取入场均价。
func Markers(candles []market.Candle, positions []position.Position) []Marker {
	if len(candles) == 0 {
		return nil
	}
	var out []Marker
	for _, p := range positions {
		if idx, ok := candleIndex(candles, p.OpenTime.UnixMilli()); ok {
			out = append(out, Marker{
				PositionID: p.ID, Side: p.Side, Role: position.RoleOpen,
				Index: idx, Price: p.EntryPrice.InexactFloat64(), Time: p.OpenTime.UnixMilli(),
			})
		}
		if p.IsOpen || p.CloseTime == nil {
			continue
		}
		if idx, ok := candleIndex(candles, p.CloseTime.UnixMilli()); ok {
			out = append(out, Marker{
				PositionID: p.ID, Side: p.Side, Role: position.RoleClose,
				Index: idx, Price: p.ExitPrice.InexactFloat64(), Time: p.CloseTime.UnixMilli(),
			})
		}
	}
	return out
}

// candleIndex 返回 open_time <= ts 的最后一根 K 线。
func candleIndex(candles []market.Candle, ts int64) (int, bool) {
	if ts < candles[0].OpenTime {
		return 0, false
	}
	last := candles[len(candles)-1]
	end := last.CloseTime
	if end <= last.OpenTime {
		end = last.OpenTime
	}
	if ts > end {
		return 0, false
	}
	i := sort.Search(len(candles), func(i int) bool { return candles[i].OpenTime > ts })
	return i - 1, true
}

type markerGroup struct {
	name    string
	side    position.Side
	markers []Marker
}

func groupMarkers(markers []Marker) []markerGroup {
	order := []struct {
		name string
		side position.Side
		role position.Role
	}{
		{"Long open", position.Long, position.RoleOpen},
		{"Long close", position.Long, position.RoleClose},
		{"Short open", position.Short, position.RoleOpen},
		{"Short close", position.Short, position.RoleClose},
	}
	var out []markerGroup
	for _, o := range order {
		g := markerGroup{name: o.name, side: o.side}
		for _, m := range markers {
			if m.Side == o.side && m.Role == o.role {
				g.markers = append(g.markers, m)
			}
		}
		if len(g.markers) > 0 {
			out = append(out, g)
		}
	}
	return out
}
