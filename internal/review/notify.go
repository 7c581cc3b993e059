package review

import (
	"context"
	"fmt"
	"time"

	"tradelens/internal/gateway/notifier"
)

const notifyTimeout = 20 * time.Second

func runMessage(res Result, loc *time.Location) notifier.Message {
	sum := res.Summary
	msg := notifier.Message{
		Title: fmt.Sprintf("复盘完成 %s", res.RunID),
		Sections: []notifier.Section{{
			Title: "汇总",
			Lines: []string{
				fmt.Sprintf("区间 %s ~ %s", res.Start.In(loc).Format("2006-01-02 15:04"), res.End.In(loc).Format("2006-01-02 15:04")),
				fmt.Sprintf("口径 %s / fees=%s", res.Policy.CostBasis, res.Policy.Fees),
				fmt.Sprintf("仓位 %d (平 %d / 未平 %d) 胜率 %.1f%%", sum.Total, sum.Closed, sum.Open, sum.WinRate*100),
				fmt.Sprintf("已实现 %s  未实现 %s  手续费 %s",
					sum.RealizedPnl.StringFixed(4), sum.UnrealizedPnl.StringFixed(4), sum.TotalFees.StringFixed(4)),
			},
		}},
		Time:     time.Now(),
		Location: loc,
	}
	var lines []string
	for _, o := range res.Symbols {
		if o.failed() {
			lines = append(lines, fmt.Sprintf("%s 失败: %s", o.Symbol, o.Error))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s pnl=%s open=%d", o.Symbol, o.Stats.RealizedPnl.StringFixed(4), o.Stats.Open))
	}
	msg.Sections = append(msg.Sections, notifier.Section{Title: "交易对", Lines: lines})
	if len(res.Files) > 0 {
		msg.Footer = fmt.Sprintf("输出文件 %d 个", len(res.Files))
	}
	return msg
}

// notify 推送失败只记日志，不影响复盘结果。
func (s *Service) notify(res Result) {
	if s.opts.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx(), notifyTimeout)
	defer cancel()
	loc := s.opts.Location
	if loc == nil {
		loc = time.UTC
	}
	if err := s.opts.Notifier.SendText(ctx, runMessage(res, loc).Markdown()); err != nil {
		reviewLog.Warnf("任务 %s 推送失败: %v", res.RunID, err)
	}
}
