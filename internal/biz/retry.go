package biz

import (
	"context"
	"math/rand/v2"
	"time"

	creditErrors "credit-service/internal/errors"
	"credit-service/internal/metrics"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// retryOnConflict 冲突时从头重试整个操作
// 每次尝试都有独立的 TxTimeout；非冲突错误直接返回，次数耗尽返回最后一次冲突错误
func retryOnConflict(ctx context.Context, cfg *CreditConfig, logger *log.Helper, op string, fn func(ctx context.Context) error) error {
	m := metrics.GetMetrics()
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.TxTimeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil || !creditErrors.IsRetryable(err) {
			return err
		}

		if m != nil {
			m.ConflictTotal.WithLabelValues(op, errors.Reason(err)).Inc()
		}
		if attempt == attempts {
			break
		}
		logger.Debugf("%s conflict on attempt %d/%d: %v", op, attempt, attempts, err)
		if m != nil {
			m.RetryTotal.WithLabelValues(op).Inc()
		}

		if err := sleepBackoff(ctx, cfg.RetryBackoff, attempt); err != nil {
			return err
		}
	}

	logger.Warnf("%s gave up after %d attempts: %v", op, attempts, err)
	return err
}

// sleepBackoff 线性退避 + 随机抖动
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) error {
	if base <= 0 {
		return ctx.Err()
	}
	d := base*time.Duration(attempt) + time.Duration(rand.Int64N(int64(base)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
