package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aquant/internal/decision"
	"aquant/internal/gateway/exchange"
	"aquant/internal/logger"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"github.com/google/uuid"
)

const (
	defaultTakerFeeRate = 0.0005
	// 两个触发价的相对差在此范围内视为同一张条件单
	defaultTriggerTolerance = 0.001

	amountEpsilon = 1e-9

	errSDKSkipped = "SDK调用跳过: 缺少API密钥"
)

// OrderExecutor 把一条决策转成交易所订单并维护本地台账。
// 每个触达交易所的终态分支都恰好落一条 Trade 和一条对应的账户快照，
// 失败同样落账，保证可审计。真实/虚拟模式走同一条路径，只是信任的
// 成交值不同：真实模式信任交易所回报，虚拟模式信任本地计算值。
type OrderExecutor struct {
	clients    exchange.ClientFactory
	virtual    exchange.ClientFactory
	positions  store.PositionRepository
	trades     store.TradeRepository
	algoOrders store.AlgoOrderRepository
	snapshots  store.AccountSnapshotRepository
	precision  *PrecisionAdjuster
	clock      Clock
	feeRate    float64
	triggerTol float64
}

func NewOrderExecutor(
	clients exchange.ClientFactory,
	virtual exchange.ClientFactory,
	positions store.PositionRepository,
	trades store.TradeRepository,
	algoOrders store.AlgoOrderRepository,
	snapshots store.AccountSnapshotRepository,
	precision *PrecisionAdjuster,
	clock Clock,
) *OrderExecutor {
	if precision == nil {
		precision = NewPrecisionAdjuster()
	}
	if clock == nil {
		clock = systemClock{}
	}
	if virtual == nil {
		virtual = clients
	}
	return &OrderExecutor{
		clients:    clients,
		virtual:    virtual,
		positions:  positions,
		trades:     trades,
		algoOrders: algoOrders,
		snapshots:  snapshots,
		precision:  precision,
		clock:      clock,
		feeRate:    defaultTakerFeeRate,
		triggerTol: defaultTriggerTolerance,
	}
}

// clientFor 虚拟盘走模拟交易所，实盘按模型当前密钥建客户端。
func (e *OrderExecutor) clientFor(m *storemodel.Model) exchange.OrderClient {
	if m.IsVirtual {
		return e.virtual(m.APIKey, m.APISecret)
	}
	return e.clients(m.APIKey, m.APISecret)
}

// Execute 执行单条决策。调用方必须已持有该模型的交易锁。
func (e *OrderExecutor) Execute(ctx context.Context, m *storemodel.Model, d decision.Decision, state *decision.MarketState, cycleID string) ExecutionResult {
	switch d.Signal {
	case decision.SignalHold:
		return ExecutionResult{Symbol: d.Symbol, Signal: d.Signal, Success: true, Skipped: true, Reason: "观望"}
	case decision.SignalBuyToLong, decision.SignalBuyToShort:
		return e.executeOpen(ctx, m, d, state, cycleID)
	case decision.SignalSellToLong, decision.SignalSellToShort, decision.SignalClosePosition:
		return e.executeClose(ctx, m, d, state, cycleID)
	case decision.SignalStopLoss, decision.SignalTakeProfit:
		return e.executeConditional(ctx, m, d, state)
	default:
		return ExecutionResult{Symbol: d.Symbol, Signal: d.Signal, Error: fmt.Sprintf("未知信号: %s", d.Signal)}
	}
}

func (e *OrderExecutor) executeOpen(ctx context.Context, m *storemodel.Model, d decision.Decision, state *decision.MarketState, cycleID string) ExecutionResult {
	res := ExecutionResult{Symbol: d.Symbol, Signal: d.Signal}

	price := e.resolvePrice(d, state)
	if price <= 0 {
		res.Error = "缺少有效价格"
		return res
	}
	margin := d.Quantity
	if margin <= 0 {
		res.Error = "开仓决策缺少保证金数量"
		return res
	}
	lev := d.Leverage
	if lev <= 0 {
		lev = m.Leverage
	}
	if lev <= 0 {
		lev = 1
	}
	posSide := d.Signal.PositionSide()
	orderSide := storemodel.OrderSideBuy
	if posSide == storemodel.PositionSideShort {
		orderSide = storemodel.OrderSideSell
	}

	portfolio, err := e.positions.ListByModel(ctx, m.ID)
	if err != nil {
		res.Error = fmt.Sprintf("读取持仓失败: %v", err)
		return res
	}
	held := false
	for _, p := range portfolio {
		if p.Symbol == d.Symbol {
			held = true
			break
		}
	}
	if !held && m.MaxPositions > 0 && distinctSymbols(portfolio) >= m.MaxPositions {
		res.Skipped = true
		res.Success = true
		res.Reason = SkipReasonMaxPositions
		return res
	}

	client := e.clientFor(m)
	rules := e.precision.Rules(ctx, client, d.Symbol)
	qty := AdjustQuantity(margin*float64(lev)/price, rules.StepSize)
	if qty <= 0 {
		res.Error = "数量对齐步长后为零"
		return res
	}
	// 按对齐后的数量重新推导保证金与手续费
	margin = qty * price / float64(lev)
	fee := qty * price * e.feeRate

	available := 0.0
	switch snap, err := e.snapshots.Current(ctx, m.ID); {
	case err == nil:
		available = snap.Available
	case errors.Is(err, store.ErrNotFound):
		// 首个周期还没有快照，可用余额按初始资金计
		available = m.InitialCapital
	default:
		res.Error = fmt.Sprintf("读取账户快照失败: %v", err)
		return res
	}
	if available < margin+fee {
		res.Skipped = true
		res.Success = true
		res.Reason = fmt.Sprintf("可用资金不足: 需要 %.2f, 可用 %.2f", margin+fee, available)
		return res
	}

	tradeID := uuid.NewString()
	trade := &storemodel.Trade{
		ID:            tradeID,
		ModelID:       m.ID,
		CycleID:       cycleID,
		Signal:        string(d.Signal),
		Symbol:        d.Symbol,
		Quantity:      qty,
		Price:         price,
		Leverage:      lev,
		Side:          orderSide,
		PositionSide:  posSide,
		Fee:           fee,
		Margin:        margin,
		CreatedAtUnix: e.clock.Now().Unix(),
	}

	if !m.IsVirtual && (strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "") {
		trade.ErrorMsg = errSDKSkipped
		e.writeLedger(ctx, m, client, trade, 0, 0)
		res.TradeID = tradeID
		res.Error = errSDKSkipped
		return res
	}

	if !m.IsVirtual {
		if err := client.SetLeverage(ctx, d.Symbol, lev); err != nil {
			logger.Warnf("设置杠杆失败 symbol=%s lev=%d err=%v", d.Symbol, lev, err)
		}
		if err := client.SetIsolatedMargin(ctx, d.Symbol); err != nil {
			logger.Warnf("切换逐仓失败 symbol=%s err=%v", d.Symbol, err)
		}
	}

	order, err := client.MarketOrder(ctx, d.Symbol, orderSide, posSide, qty)
	if err != nil {
		trade.ErrorMsg = err.Error()
		e.writeLedger(ctx, m, client, trade, 0, 0)
		res.TradeID = tradeID
		res.Error = err.Error()
		return res
	}

	fillQty, fillPrice := qty, price
	if !m.IsVirtual && order.ExecutedQty > 0 && order.AvgPrice > 0 {
		// 实盘信任交易所回报的成交量价，据此重推保证金
		fillQty = order.ExecutedQty
		fillPrice = order.AvgPrice
		margin = fillQty * fillPrice / float64(lev)
		fee = fillQty * fillPrice * e.feeRate
	}
	trade.Quantity = fillQty
	trade.Price = fillPrice
	trade.Margin = margin
	trade.Fee = fee
	trade.OrderID = order.OrderID
	trade.OrderType = order.Type

	e.upsertOpenPosition(ctx, m, d.Symbol, posSide, fillQty, fillPrice, lev, margin)
	e.writeLedger(ctx, m, client, trade, -(margin + fee), -fee)

	res.Success = true
	res.TradeID = tradeID
	res.OrderID = order.OrderID
	res.Quantity = fillQty
	res.Price = fillPrice
	return res
}

func (e *OrderExecutor) executeClose(ctx context.Context, m *storemodel.Model, d decision.Decision, state *decision.MarketState, cycleID string) ExecutionResult {
	res := ExecutionResult{Symbol: d.Symbol, Signal: d.Signal}

	pos, err := e.resolvePosition(ctx, m.ID, d)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	price := e.resolvePrice(d, state)
	if price <= 0 {
		res.Error = "缺少有效价格"
		return res
	}

	qty := pos.Amount
	if d.Signal != decision.SignalClosePosition && d.Quantity > 0 && d.Quantity < pos.Amount {
		qty = d.Quantity
	}
	orderSide := storemodel.OrderSideSell
	sign := 1.0
	if pos.PositionSide == storemodel.PositionSideShort {
		orderSide = storemodel.OrderSideBuy
		sign = -1.0
	}

	client := e.clientFor(m)
	fee := qty * price * e.feeRate
	tradeID := uuid.NewString()
	trade := &storemodel.Trade{
		ID:            tradeID,
		ModelID:       m.ID,
		CycleID:       cycleID,
		Signal:        string(d.Signal),
		Symbol:        d.Symbol,
		Quantity:      qty,
		Price:         price,
		Leverage:      pos.Leverage,
		Side:          orderSide,
		PositionSide:  pos.PositionSide,
		Fee:           fee,
		CreatedAtUnix: e.clock.Now().Unix(),
	}

	if !m.IsVirtual && (strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "") {
		trade.ErrorMsg = errSDKSkipped
		e.writeLedger(ctx, m, client, trade, 0, 0)
		res.TradeID = tradeID
		res.Error = errSDKSkipped
		return res
	}

	order, err := client.MarketOrder(ctx, d.Symbol, orderSide, pos.PositionSide, qty)
	if err != nil {
		trade.ErrorMsg = err.Error()
		e.writeLedger(ctx, m, client, trade, 0, 0)
		res.TradeID = tradeID
		res.Error = err.Error()
		return res
	}

	exitQty, exitPrice := qty, price
	if !m.IsVirtual && order.ExecutedQty > 0 && order.AvgPrice > 0 {
		exitQty = order.ExecutedQty
		exitPrice = order.AvgPrice
		fee = exitQty * exitPrice * e.feeRate
	}
	pnl := (exitPrice-pos.AvgPrice)*exitQty*sign - fee
	trade.Quantity = exitQty
	trade.Price = exitPrice
	trade.Fee = fee
	trade.PnL = pnl
	trade.OrderID = order.OrderID
	trade.OrderType = order.Type

	releasedMargin := 0.0
	if pos.Amount > 0 {
		releasedMargin = pos.Margin * exitQty / pos.Amount
	}
	remaining := pos.Amount - exitQty
	if remaining <= amountEpsilon {
		if err := e.positions.Delete(ctx, m.ID, pos.Symbol, pos.PositionSide); err != nil {
			logger.Errorf("删除已平仓位失败 model=%d symbol=%s err=%v", m.ID, pos.Symbol, err)
		}
	} else {
		pos.Amount = remaining
		pos.Margin -= releasedMargin
		pos.UpdatedAtUnix = e.clock.Now().Unix()
		if err := e.positions.Upsert(ctx, pos); err != nil {
			logger.Errorf("更新减仓后仓位失败 model=%d symbol=%s err=%v", m.ID, pos.Symbol, err)
		}
	}

	e.writeLedger(ctx, m, client, trade, releasedMargin+pnl, pnl)

	res.Success = true
	res.TradeID = tradeID
	res.OrderID = order.OrderID
	res.Quantity = exitQty
	res.Price = exitPrice
	res.PnL = pnl
	return res
}

// executeConditional 处理止损/止盈：先撤旧单再挂新单；触发价与现有 NEW
// 条件单在容差内等价时直接幂等跳过。这条路径绝不直接写 Trade，
// 成交后的仓位与台账变化由外部的成交回报协作方处理。
func (e *OrderExecutor) executeConditional(ctx context.Context, m *storemodel.Model, d decision.Decision, state *decision.MarketState) ExecutionResult {
	res := ExecutionResult{Symbol: d.Symbol, Signal: d.Signal}

	pos, err := e.resolvePosition(ctx, m.ID, d)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if d.StopPrice <= 0 {
		res.Error = "条件单缺少触发价"
		return res
	}
	qty := pos.Amount
	if d.Quantity > 0 {
		if d.Quantity > pos.Amount+amountEpsilon {
			res.Error = fmt.Sprintf("条件单数量 %.8f 超过持仓 %.8f", d.Quantity, pos.Amount)
			return res
		}
		qty = d.Quantity
	}

	existing, err := e.algoOrders.ListNew(ctx, m.ID, d.Symbol)
	if err != nil {
		res.Error = fmt.Sprintf("查询现有条件单失败: %v", err)
		return res
	}
	for _, o := range existing {
		if withinTolerance(o.TriggerPrice, d.StopPrice, e.triggerTol) {
			res.Success = true
			res.Skipped = true
			res.Reason = fmt.Sprintf("已存在触发价相近的条件单 #%d (%.8f)", o.ID, o.TriggerPrice)
			return res
		}
	}

	client := e.clientFor(m)
	if !m.IsVirtual && (strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "") {
		e.recordAlgoOrder(ctx, m, d, pos, qty, "", storemodel.AlgoStatusFailed)
		res.Error = errSDKSkipped
		return res
	}

	if len(existing) > 0 {
		if err := client.CancelAllConditionals(ctx, d.Symbol); err != nil {
			res.Error = fmt.Sprintf("撤销旧条件单失败: %v", err)
			return res
		}
		for _, o := range existing {
			if err := e.algoOrders.UpdateStatus(ctx, o.ID, storemodel.AlgoStatusCancelled); err != nil {
				logger.Errorf("标记条件单取消失败 id=%d err=%v", o.ID, err)
			}
		}
	}

	rules := e.precision.Rules(ctx, client, d.Symbol)
	stopPrice := AdjustPrice(d.StopPrice, rules.TickSize)
	qty = AdjustQuantity(qty, rules.StepSize)
	if qty <= 0 {
		res.Error = "数量对齐步长后为零"
		return res
	}

	orderType := exchange.OrderTypeStopMarket
	if d.Signal == decision.SignalTakeProfit {
		orderType = exchange.OrderTypeTakeProfitMarket
	}
	exitSide := storemodel.OrderSideSell
	if pos.PositionSide == storemodel.PositionSideShort {
		exitSide = storemodel.OrderSideBuy
	}
	clientID := uuid.NewString()
	algoID, err := client.PlaceConditional(ctx, exchange.ConditionalRequest{
		Symbol:        d.Symbol,
		Side:          exitSide,
		PositionSide:  pos.PositionSide,
		OrderType:     orderType,
		Quantity:      qty,
		StopPrice:     stopPrice,
		ClientOrderID: clientID,
	})
	if err != nil {
		e.recordAlgoOrder(ctx, m, d, pos, qty, clientID, storemodel.AlgoStatusFailed)
		res.Error = fmt.Sprintf("条件单下单失败: %v", err)
		return res
	}
	e.recordAlgoOrderWithPrice(ctx, m, d, pos, qty, stopPrice, algoID, clientID, storemodel.AlgoStatusNew)

	res.Success = true
	res.OrderID = algoID
	res.Quantity = qty
	res.Price = stopPrice
	return res
}

func (e *OrderExecutor) resolvePrice(d decision.Decision, state *decision.MarketState) float64 {
	if state != nil {
		if p, ok := state.Prices[d.Symbol]; ok && p > 0 {
			return p
		}
	}
	return d.Price
}

// resolvePosition 找到信号作用的仓位：带方向的信号精确匹配，
// close_position/止损止盈取该币种现存的仓位。
func (e *OrderExecutor) resolvePosition(ctx context.Context, modelID int64, d decision.Decision) (*storemodel.Position, error) {
	if side := d.Signal.PositionSide(); side != "" {
		pos, err := e.positions.Get(ctx, modelID, d.Symbol, side)
		if err != nil {
			return nil, fmt.Errorf("未找到 %s %s 方向的持仓", d.Symbol, side)
		}
		return pos, nil
	}
	for _, side := range []string{storemodel.PositionSideLong, storemodel.PositionSideShort} {
		if pos, err := e.positions.Get(ctx, modelID, d.Symbol, side); err == nil {
			return pos, nil
		}
	}
	return nil, fmt.Errorf("未找到 %s 的持仓", d.Symbol)
}

func (e *OrderExecutor) upsertOpenPosition(ctx context.Context, m *storemodel.Model, symbol, posSide string, qty, price float64, lev int, margin float64) {
	now := e.clock.Now().Unix()
	existing, err := e.positions.Get(ctx, m.ID, symbol, posSide)
	if err == nil && existing.Amount > 0 {
		total := existing.Amount + qty
		existing.AvgPrice = (existing.AvgPrice*existing.Amount + price*qty) / total
		existing.Amount = total
		existing.Margin += margin
		existing.Leverage = lev
		existing.UpdatedAtUnix = now
		if err := e.positions.Upsert(ctx, existing); err != nil {
			logger.Errorf("加仓更新仓位失败 model=%d symbol=%s err=%v", m.ID, symbol, err)
		}
		return
	}
	p := &storemodel.Position{
		ModelID:       m.ID,
		Symbol:        symbol,
		PositionSide:  posSide,
		Amount:        qty,
		AvgPrice:      price,
		Leverage:      lev,
		Margin:        margin,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if err := e.positions.Upsert(ctx, p); err != nil {
		logger.Errorf("写入新仓位失败 model=%d symbol=%s err=%v", m.ID, symbol, err)
	}
}

// writeLedger 落一条 Trade 和一对账户快照（当前表 + 历史表）。
// 三类写是尽力而为：任何一个失败只记日志，绝不回滚已发生的交易所调用。
func (e *OrderExecutor) writeLedger(ctx context.Context, m *storemodel.Model, client exchange.OrderClient, trade *storemodel.Trade, availableDelta, balanceDelta float64) {
	if err := e.trades.Insert(ctx, trade); err != nil {
		logger.Errorf("写入成交台账失败 trade=%s err=%v", trade.ID, err)
	}

	snap := e.nextSnapshot(ctx, m, client, availableDelta, balanceDelta)
	snap.ModelID = m.ID
	snap.TradeID = trade.ID
	snap.UpdatedAtUnix = e.clock.Now().Unix()
	if err := e.snapshots.Save(ctx, snap); err != nil {
		logger.Errorf("写入账户快照失败 trade=%s err=%v", trade.ID, err)
	}
}

// nextSnapshot 实盘优先取交易所权威数据，失败或虚拟盘退回本地推算。
func (e *OrderExecutor) nextSnapshot(ctx context.Context, m *storemodel.Model, client exchange.OrderClient, availableDelta, balanceDelta float64) *storemodel.AccountSnapshot {
	if !m.IsVirtual && client != nil {
		if info, err := client.AccountInfo(ctx); err == nil {
			return &storemodel.AccountSnapshot{
				Balance:       info.Balance,
				Available:     info.Available,
				CrossWallet:   info.CrossWallet,
				UnrealizedPnL: info.UnrealizedPnL,
			}
		} else {
			logger.Warnf("拉取交易所账户信息失败，使用本地推算 model=%d err=%v", m.ID, err)
		}
	}
	snap, err := e.snapshots.Current(ctx, m.ID)
	if err != nil {
		snap = &storemodel.AccountSnapshot{Balance: m.InitialCapital, Available: m.InitialCapital}
	}
	return &storemodel.AccountSnapshot{
		Balance:       snap.Balance + balanceDelta,
		Available:     snap.Available + availableDelta,
		CrossWallet:   snap.CrossWallet,
		UnrealizedPnL: snap.UnrealizedPnL,
	}
}

func (e *OrderExecutor) recordAlgoOrder(ctx context.Context, m *storemodel.Model, d decision.Decision, pos *storemodel.Position, qty float64, clientID, status string) {
	e.recordAlgoOrderWithPrice(ctx, m, d, pos, qty, d.StopPrice, 0, clientID, status)
}

func (e *OrderExecutor) recordAlgoOrderWithPrice(ctx context.Context, m *storemodel.Model, d decision.Decision, pos *storemodel.Position, qty, stopPrice float64, algoID int64, clientID, status string) {
	orderType := exchange.OrderTypeStopMarket
	if d.Signal == decision.SignalTakeProfit {
		orderType = exchange.OrderTypeTakeProfitMarket
	}
	side := storemodel.OrderSideSell
	if pos.PositionSide == storemodel.PositionSideShort {
		side = storemodel.OrderSideBuy
	}
	now := e.clock.Now().Unix()
	o := &storemodel.AlgoOrder{
		ModelID:       m.ID,
		Symbol:        d.Symbol,
		AlgoID:        algoID,
		ClientOrderID: clientID,
		OrderType:     orderType,
		Side:          side,
		PositionSide:  pos.PositionSide,
		Quantity:      qty,
		TriggerPrice:  stopPrice,
		Status:        status,
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	if o.ClientOrderID == "" {
		o.ClientOrderID = uuid.NewString()
	}
	if err := e.algoOrders.Insert(ctx, o); err != nil {
		logger.Errorf("写入条件单记录失败 symbol=%s status=%s err=%v", d.Symbol, status, err)
	}
}

func withinTolerance(a, b, tol float64) bool {
	if b == 0 {
		return a == 0
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff/b <= tol
}
