package utils

import (
	"context"
	"time"
)

// RetryFunc 重试函数类型
type RetryFunc func() error

// Retry 重试执行函数，maxRetries小于0时按0处理，至少执行一次
func Retry(ctx context.Context, maxRetries int, initialBackoff time.Duration, fn RetryFunc) error {
	return RetryIf(ctx, maxRetries, initialBackoff, nil, fn)
}

// RetryIf 重试执行函数，retryable返回false时立即放弃；retryable为nil表示总是重试
func RetryIf(ctx context.Context, maxRetries int, initialBackoff time.Duration, retryable func(error) bool, fn RetryFunc) error {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var err error
	backoff := initialBackoff

	for i := 0; i <= maxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// 最后一次重试失败或错误不可重试，直接返回
		if i == maxRetries || (retryable != nil && !retryable(err)) {
			return err
		}

		// 等待后重试
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			// 指数退避
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}
	}

	return err
}

// SleepContext 休眠指定时间，ctx取消或stop关闭时提前返回false
func SleepContext(ctx context.Context, d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
