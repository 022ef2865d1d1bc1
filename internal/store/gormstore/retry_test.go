package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetryRecoversFromBusy(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonBusyError(t *testing.T) {
	calls := 0
	sentinel := errors.New("UNIQUE constraint failed: trades.id")
	err := withRetry(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls, "唯一索引冲突不属于抖动，不重试")
}

func TestWithRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return errors.New("database table is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, writeAttempts, calls)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(errors.New("database is locked")))
	assert.True(t, isBusy(errors.New("database table is locked: trades")))
	assert.True(t, isBusy(errors.New("sqlite3: SQLITE_BUSY")))
	assert.False(t, isBusy(nil))
	assert.False(t, isBusy(errors.New("UNIQUE constraint failed")))
}
