package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 全局 slog 文本日志。消息统一写成 "[模块] 内容"，各包可用 Tag 固定前缀。

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger = newLogger(os.Stdout)
)

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar}))
}

// SetOutput 替换输出目标，SetupFile 用它挂上滚动文件。
func SetOutput(w io.Writer) {
	l := newLogger(w)
	loggerMu.Lock()
	baseLogger = l
	loggerMu.Unlock()
}

// ParseLevel 接受 debug/info/warn(warning)/error，大小写不敏感。
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// SetLevel 无法识别的级别回落到 info。
func SetLevel(level string) {
	lv, err := ParseLevel(level)
	if err != nil {
		lv = slog.LevelInfo
	}
	levelVar.Set(lv)
}

// Level 返回当前日志级别的名称（小写）。
func Level() string {
	return strings.ToLower(levelVar.Level().String())
}

func logf(level slog.Level, format string, v ...any) {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	l.Log(ctx, level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

// Tagged 给每条消息加上 "[name] " 前缀。
type Tagged struct {
	prefix string
}

func Tag(name string) Tagged {
	return Tagged{prefix: "[" + strings.ReplaceAll(name, "%", "%%") + "] "}
}

func (t Tagged) Debugf(format string, v ...any) { logf(slog.LevelDebug, t.prefix+format, v...) }
func (t Tagged) Infof(format string, v ...any)  { logf(slog.LevelInfo, t.prefix+format, v...) }
func (t Tagged) Warnf(format string, v ...any)  { logf(slog.LevelWarn, t.prefix+format, v...) }
func (t Tagged) Errorf(format string, v ...any) { logf(slog.LevelError, t.prefix+format, v...) }
