package gormstore

import (
	"context"
	"strings"
	"time"

	"aquant/internal/pkg/retry"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// withRetry 包住一次写操作。WAL 下写锁竞争会短暂报 busy/locked，
// 这类错误退避重试；其余错误（含唯一索引冲突与记录不存在）立即返回。
func withRetry(ctx context.Context, op func() error) error {
	return retry.Do(ctx, writeAttempts, writeBaseDelay, func() error {
		err := op()
		if err == nil || isBusy(err) {
			return err
		}
		return retry.Permanent(err)
	})
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
