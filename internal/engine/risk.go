package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aquant/internal/logger"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"
)

// 各风控拦截的机器可读原因，买入周期被拦截属于正常结果。
const (
	SkipReasonForbiddenWindow = "当前时间处于禁止买入时段"
	SkipReasonDailyReturn     = "当日收益率已达上限"
	SkipReasonLossStreak      = "连续亏损次数已达上限"
	SkipReasonMaxPositions    = "持仓数量已达上限"
)

// RiskGate 买入周期前的无状态风控判定，按固定顺序求值：
// 禁买时段 → 当日收益率 → 连续亏损 → 持仓数量。
type RiskGate struct {
	snapshots store.AccountSnapshotRepository
	trades    store.TradeRepository
	clock     Clock
}

func NewRiskGate(snapshots store.AccountSnapshotRepository, trades store.TradeRepository, clock Clock) *RiskGate {
	if clock == nil {
		clock = systemClock{}
	}
	return &RiskGate{snapshots: snapshots, trades: trades, clock: clock}
}

// Check 返回非空字符串表示买入应当被拦截。
func (g *RiskGate) Check(ctx context.Context, m *storemodel.Model, portfolio []storemodel.Position) (string, error) {
	now := g.clock.Now()

	if inForbiddenWindow(now, m.ForbidBuyStart, m.ForbidBuyEnd) {
		return SkipReasonForbiddenWindow, nil
	}

	tripped, err := g.dailyReturnTripped(ctx, m, now)
	if err != nil {
		return "", err
	}
	if tripped {
		return SkipReasonDailyReturn, nil
	}

	tripped, err = g.lossStreakTripped(ctx, m, now)
	if err != nil {
		return "", err
	}
	if tripped {
		return SkipReasonLossStreak, nil
	}

	if m.MaxPositions > 0 && distinctSymbols(portfolio) >= m.MaxPositions {
		return SkipReasonMaxPositions, nil
	}
	return "", nil
}

// inForbiddenWindow 判断 now 是否落在 [start, end) 禁买时段内，支持跨午夜。
// 两个端点必须同时配置，只配一个视为无限制。
func inForbiddenWindow(now time.Time, start, end string) bool {
	startMin, okStart := parseClock(start)
	endMin, okEnd := parseClock(end)
	if !okStart || !okEnd {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if startMin == endMin {
		return false
	}
	if startMin < endMin {
		return cur >= startMin && cur < endMin
	}
	// 跨午夜：例如 23:00 - 01:00
	return cur >= startMin || cur < endMin
}

func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// dailyReturnTripped 以当日第一条历史快照为基准；完全没有历史时用初始资金；
// 有历史但今日还没有快照时，当日不做控制。
func (g *RiskGate) dailyReturnTripped(ctx context.Context, m *storemodel.Model, now time.Time) (bool, error) {
	if m.DailyReturn <= 0 {
		return false, nil
	}
	current, err := g.snapshots.Current(ctx, m.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("读取账户快照失败: %w", err)
	}

	baseline := 0.0
	first, err := g.snapshots.FirstToday(ctx, m.ID, dayStart(now))
	switch {
	case err == nil:
		baseline = first.Balance
	case errors.Is(err, store.ErrNotFound):
		has, herr := g.snapshots.HasHistory(ctx, m.ID)
		if herr != nil {
			return false, fmt.Errorf("查询快照历史失败: %w", herr)
		}
		if has {
			// 有历史但今日尚无快照：当日不控制
			logger.Debugf("模型 %d 今日暂无快照基准，跳过收益率控制", m.ID)
			return false, nil
		}
		baseline = m.InitialCapital
	default:
		return false, fmt.Errorf("查询今日快照失败: %w", err)
	}

	if baseline <= 0 {
		return false, nil
	}
	total := current.Balance + current.UnrealizedPnL
	ret := (total - baseline) / baseline * 100
	return ret >= m.DailyReturn, nil
}

// lossStreakTripped 检查今日最近 N 笔卖出方向成交：数量达到 N 且全部净亏损才拦截。
func (g *RiskGate) lossStreakTripped(ctx context.Context, m *storemodel.Model, now time.Time) (bool, error) {
	if m.LossesNum <= 0 {
		return false, nil
	}
	sells, err := g.trades.ListSellsToday(ctx, m.ID, dayStart(now), m.LossesNum)
	if err != nil {
		return false, fmt.Errorf("查询今日卖出成交失败: %w", err)
	}
	if len(sells) < m.LossesNum {
		return false, nil
	}
	for _, t := range sells {
		if t.PnL >= 0 {
			return false, nil
		}
	}
	return true, nil
}

func distinctSymbols(portfolio []storemodel.Position) int {
	seen := make(map[string]struct{}, len(portfolio))
	for _, p := range portfolio {
		seen[p.Symbol] = struct{}{}
	}
	return len(seen)
}

func dayStart(now time.Time) int64 {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Unix()
}
