package engine

import (
	"context"
	"testing"
	"time"

	storemodel "aquant/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRiskFixture(now time.Time) (*RiskGate, *memSnapshots, *memTrades) {
	snapshots := newMemSnapshots()
	trades := &memTrades{}
	return NewRiskGate(snapshots, trades, &fakeClock{now: now}), snapshots, trades
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 8, 30, hour, minute, 0, 0, time.Local)
}

func TestForbiddenWindowBlocksBuy(t *testing.T) {
	gate, _, _ := newRiskFixture(at(22, 30))
	m := &storemodel.Model{ID: 1, ForbidBuyStart: "22:00", ForbidBuyEnd: "23:00"}

	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonForbiddenWindow, reason)
}

func TestForbiddenWindowBoundsAreHalfOpen(t *testing.T) {
	m := &storemodel.Model{ID: 1, ForbidBuyStart: "22:00", ForbidBuyEnd: "23:00"}

	gate, _, _ := newRiskFixture(at(22, 0))
	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonForbiddenWindow, reason, "起点含")

	gate, _, _ = newRiskFixture(at(23, 0))
	reason, err = gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason, "终点不含")
}

func TestForbiddenWindowWrapsMidnight(t *testing.T) {
	m := &storemodel.Model{ID: 1, ForbidBuyStart: "23:00", ForbidBuyEnd: "01:00"}

	gate, _, _ := newRiskFixture(at(23, 30))
	reason, _ := gate.Check(context.Background(), m, nil)
	assert.Equal(t, SkipReasonForbiddenWindow, reason)

	gate, _, _ = newRiskFixture(at(0, 30))
	reason, _ = gate.Check(context.Background(), m, nil)
	assert.Equal(t, SkipReasonForbiddenWindow, reason)

	gate, _, _ = newRiskFixture(at(12, 0))
	reason, _ = gate.Check(context.Background(), m, nil)
	assert.Empty(t, reason)
}

func TestForbiddenWindowNeedsBothBounds(t *testing.T) {
	gate, _, _ := newRiskFixture(at(22, 30))
	m := &storemodel.Model{ID: 1, ForbidBuyStart: "22:00"}
	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestDailyReturnCapUsesFirstSnapshotToday(t *testing.T) {
	gate, snapshots, _ := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1, DailyReturn: 5}
	snapshots.setCurrent(storemodel.AccountSnapshot{ModelID: 1, Balance: 1050, UnrealizedPnL: 10})
	snapshots.firstToday[1] = &storemodel.AccountSnapshotHistory{ModelID: 1, Balance: 1000}

	// (1060-1000)/1000 = 6% >= 5%
	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonDailyReturn, reason)

	// 提高上限后放行
	m.DailyReturn = 10
	reason, err = gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestDailyReturnFallsBackToInitialCapital(t *testing.T) {
	gate, snapshots, _ := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1, DailyReturn: 5, InitialCapital: 1000}
	snapshots.setCurrent(storemodel.AccountSnapshot{ModelID: 1, Balance: 1100})

	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonDailyReturn, reason)
}

func TestDailyReturnNoControlWhenHistoryExistsButNotToday(t *testing.T) {
	gate, snapshots, _ := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1, DailyReturn: 5, InitialCapital: 100}
	snapshots.setCurrent(storemodel.AccountSnapshot{ModelID: 1, Balance: 99999})
	// 有历史但今日还没有快照：当日不控制
	require.NoError(t, snapshots.Save(context.Background(), &storemodel.AccountSnapshot{ModelID: 1, Balance: 500}))
	snapshots.firstToday[1] = nil

	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestLossStreakBlocksAfterNConsecutiveLosses(t *testing.T) {
	gate, _, trades := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1, LossesNum: 3}

	trades.sellsToday = []storemodel.Trade{{PnL: -1}, {PnL: -2}, {PnL: -0.5}}
	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonLossStreak, reason)

	// 其中一笔盈利即解除
	trades.sellsToday = []storemodel.Trade{{PnL: -1}, {PnL: 3}, {PnL: -0.5}}
	reason, err = gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason)

	// 数量不足 N 不拦截
	trades.sellsToday = []storemodel.Trade{{PnL: -1}, {PnL: -2}}
	reason, err = gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason)
}

func TestMaxPositionsCountsDistinctSymbols(t *testing.T) {
	gate, _, _ := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1, MaxPositions: 2}
	portfolio := []storemodel.Position{
		{Symbol: "BTCUSDT", PositionSide: storemodel.PositionSideLong},
		{Symbol: "BTCUSDT", PositionSide: storemodel.PositionSideShort},
		{Symbol: "ETHUSDT", PositionSide: storemodel.PositionSideLong},
	}

	reason, err := gate.Check(context.Background(), m, portfolio)
	require.NoError(t, err)
	assert.Equal(t, SkipReasonMaxPositions, reason)

	reason, err = gate.Check(context.Background(), m, portfolio[:2])
	require.NoError(t, err)
	assert.Empty(t, reason, "同一币种双向仓位只算一个")
}

func TestRiskGateOrderAndCleanPass(t *testing.T) {
	gate, _, _ := newRiskFixture(at(12, 0))
	m := &storemodel.Model{ID: 1}
	reason, err := gate.Check(context.Background(), m, nil)
	require.NoError(t, err)
	assert.Empty(t, reason, "无任何限制配置时放行")
}
