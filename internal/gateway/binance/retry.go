package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradelens/internal/logger"
	"tradelens/internal/metrics"
	"tradelens/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/common"
)

var binanceLog = logger.Tag("binance")

const (
	codeTooManyRequests = -1003
	codeIPBanned        = -1015
	// 连续限流等待次数上限，避免在封禁期间无限等待。
	maxRateLimitWaits = 20
)

// call 串起熔断、限速、429 等待与线性退避重试。
// 业务类错误（签名、参数）不重试，也不计入熔断。
func (s *Source) call(ctx context.Context, op string, fn func() error) error {
	if !s.breaker.Allow() {
		return fmt.Errorf("%s: %w", op, circuit.ErrOpen)
	}
	attempt := 0
	waits := 0
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		started := time.Now()
		err := fn()
		metrics.RecordExchangeRequest(op, err, time.Since(started))
		if err == nil {
			s.breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isRateLimited(err) {
			waits++
			metrics.RecordRateLimited(op)
			if waits > maxRateLimitWaits {
				s.breaker.RecordFailure()
				return fmt.Errorf("%s: rate limited too many times: %w", op, err)
			}
			binanceLog.Warnf("%s 触发限流，等待 %s 后重试", op, s.cfg.RateLimitWait)
			if !sleepWithContext(ctx, s.cfg.RateLimitWait) {
				return ctx.Err()
			}
			continue
		}
		if !retryable(err) {
			return fmt.Errorf("%s: %w", op, err)
		}
		attempt++
		if attempt > s.cfg.MaxRetries {
			s.breaker.RecordFailure()
			return fmt.Errorf("%s: giving up after %d retries: %w", op, s.cfg.MaxRetries, err)
		}
		delay := time.Duration(attempt) * s.cfg.RetryBackoff
		binanceLog.Warnf("%s 失败 (%v)，%s 后第 %d 次重试", op, err, delay, attempt)
		if !sleepWithContext(ctx, delay) {
			return ctx.Err()
		}
	}
}

func isRateLimited(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeTooManyRequests || apiErr.Code == codeIPBanned
	}
	return false
}

// retryable 只重试网络错误、无错误码的 5xx 以及交易所的内部/超时错误码。
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.Code {
	case 0, -1000, -1001, -1007:
		return true
	}
	return false
}
