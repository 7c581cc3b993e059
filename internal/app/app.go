package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradelens/internal/candlestore"
	"tradelens/internal/config"
	"tradelens/internal/gateway/binance"
	"tradelens/internal/logger"
	"tradelens/internal/review"
	"tradelens/internal/store"
	reviewhttp "tradelens/internal/transport/http/review"

	"golang.org/x/sync/errgroup"
)

const maxClockSkew = time.Second

// App 负责应用级编排：加载配置→初始化依赖→执行复盘或启动看板。
type App struct {
	cfg      *config.Config
	exchange *binance.Source
	store    *store.Store
	candles  *candlestore.Store
	review   *review.Service
	http     *reviewhttp.Server
	Summary  *StartupSummary
}

// New 根据配置构建应用对象（不启动）。
func New(cfg *config.Config, opts ...BuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewBuilder(cfg, opts...).Build()
}

// Serve 启动看板，直到 ctx 取消。
func (a *App) Serve(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	a.review.SetContext(ctx)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		a.checkClock(ctx)
		return nil
	})
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// checkClock 本机时钟与交易所偏差过大时签名请求会被拒绝，启动时提示一次。
func (a *App) checkClock(ctx context.Context) {
	if a.exchange == nil || !a.exchange.HasCredentials() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	serverTime, err := a.exchange.ServerTime(ctx)
	if err != nil {
		logger.Warnf("[app] 获取交易所时间失败: %v", err)
		return
	}
	skew := time.Since(serverTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		logger.Warnf("[app] 本机时钟与 Binance 相差 %s，签名请求可能被拒绝", skew.Round(time.Millisecond))
		return
	}
	logger.Debugf("[app] 时钟偏差 %s", skew.Round(time.Millisecond))
}

// Review 同步执行一次复盘。
func (a *App) Review(ctx context.Context, req review.Request) (review.Result, error) {
	if a == nil || a.review == nil {
		return review.Result{}, fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	return a.review.Run(ctx, req)
}

// Service 暴露复盘服务，便于测试直接驱动。
func (a *App) Service() *review.Service {
	if a == nil {
		return nil
	}
	return a.review
}

func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.candles != nil {
		errs = append(errs, a.candles.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
