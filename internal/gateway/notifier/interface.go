package notifier

import "context"

// TextNotifier 是推送文本消息的最小接口。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
