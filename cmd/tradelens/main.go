package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradelens/internal/app"
	"tradelens/internal/config"
	"tradelens/internal/logger"
	"tradelens/internal/review"
)

func main() {
	var (
		cfgPath = flag.String("config", envOr("TRADELENS_CONFIG", "configs/tradelens.yaml"), "配置文件路径")
		mode    = flag.String("mode", "review", "运行模式: review | serve")
		start   = flag.String("start", "", "复盘起点，覆盖 review.start")
		end     = flag.String("end", "", "复盘终点，覆盖 review.end")
		symbols = flag.String("symbols", "", "逗号分隔的交易对，覆盖 review.symbols")
		fills   = flag.String("fills", "", "从本地 JSON 导入成交，不访问交易所")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	closer, err := logger.SetupFile(logger.FileOptions{
		Path:       cfg.App.LogPath,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，模式=%s）", cfg.App.Env, *mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()

	switch *mode {
	case "serve":
		if err := config.Watch(*cfgPath, func(next *config.Config) {
			if next.App.LogLevel != logger.Level() {
				logger.SetLevel(next.App.LogLevel)
				logger.Infof("[config] 日志级别调整为 %s", next.App.LogLevel)
			}
		}); err != nil {
			logger.Warnf("[config] 无法监听配置变更: %v", err)
		}
		if err := a.Serve(ctx); err != nil {
			log.Fatalf("运行失败: %v", err)
		}
	case "review":
		req, err := buildRequest(cfg, *start, *end, *symbols, *fills)
		if err != nil {
			log.Fatalf("参数错误: %v", err)
		}
		res, err := a.Review(ctx, req)
		if err != nil {
			log.Fatalf("复盘失败: %v", err)
		}
		app.PrintResult(os.Stdout, res)
		if len(res.Symbols) > 0 && len(res.Failed) == len(res.Symbols) {
			a.Close()
			os.Exit(1)
		}
	default:
		log.Fatalf("未知模式: %s", *mode)
	}
}

// buildRequest 合并配置与命令行参数；导入文件时区间由成交时间决定，除非显式指定。
func buildRequest(cfg *config.Config, start, end, symbols, fills string) (review.Request, error) {
	rc := cfg.Review
	if start != "" {
		rc.Start = start
	}
	if end != "" {
		rc.End = end
	}
	req := review.Request{Symbols: rc.Symbols, FillsFile: strings.TrimSpace(fills)}
	if symbols != "" {
		req.Symbols = strings.Split(symbols, ",")
	}
	if req.FillsFile != "" && rc.Start == "" && rc.End == "" {
		return req, nil
	}
	from, to, err := rc.Range(time.Now(), cfg.App.Location())
	if err != nil {
		return review.Request{}, err
	}
	req.Start, req.End = from, to
	return req, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
