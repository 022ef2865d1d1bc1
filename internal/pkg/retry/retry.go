// Package retry 带指数退避的通用重试。存储层用它吸收 sqlite 的
// busy/locked 抖动，LLM 网关用它处理限流与 5xx。
package retry

import (
	"context"
	"errors"
	"time"
)

const maxDelay = 60 * time.Second

// Fatal 包住一个不应重试的错误。
type Fatal struct {
	Err error
}

func (f Fatal) Error() string { return f.Err.Error() }

func (f Fatal) Unwrap() error { return f.Err }

// Permanent 将 err 标记为不可重试。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return Fatal{Err: err}
}

// Backoff 返回第 attempt 次重试前的等待时长：baseDelay * 2^attempt，上限 60s。
func Backoff(baseDelay time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Do 最多执行 fn attempts 次，两次之间等待 Backoff(baseDelay, i)。
// Fatal 错误或 context 取消会立即终止重试。
func Do(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var fatal Fatal
		if errors.As(lastErr, &fatal) {
			return fatal.Err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(baseDelay, i)):
		}
	}
	return lastErr
}
