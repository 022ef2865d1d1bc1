package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"aquant/internal/coins"
	"aquant/internal/decision"
	"aquant/internal/gateway/exchange"
	"aquant/internal/logger"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"github.com/google/uuid"
)

// Engine 顶层周期控制器：对一个模型跑一次买入或卖出周期。
// 同一模型的买卖两个循环共享一把交易锁，只有执行阶段互斥；
// 决策生成与行情快照不加锁，可以并发。
type Engine struct {
	models        store.ModelRepository
	positions     store.PositionRepository
	snapshots     store.AccountSnapshotRepository
	algoOrders    store.AlgoOrderRepository
	clients       exchange.ClientFactory
	traders       map[string]decision.Trader
	candidates    coins.SymbolProvider
	risk          *RiskGate
	executor      *OrderExecutor
	processor     *BatchDecisionProcessor
	builder       *MarketSnapshotBuilder
	clock         Clock
	locks         sync.Map // modelID -> *sync.Mutex
	sleep         func(time.Duration)
}

// Params 构造引擎所需的全部协作方。生产与测试注入同一组接口。
type Params struct {
	Models        store.ModelRepository
	Positions     store.PositionRepository
	Snapshots     store.AccountSnapshotRepository
	AlgoOrders    store.AlgoOrderRepository
	Clients       exchange.ClientFactory
	Traders       map[string]decision.Trader // key 为 model.trade_type
	Candidates    coins.SymbolProvider
	Risk          *RiskGate
	Executor      *OrderExecutor
	Processor     *BatchDecisionProcessor
	Builder       *MarketSnapshotBuilder
	Clock         Clock
}

func New(p Params) *Engine {
	clock := p.Clock
	if clock == nil {
		clock = systemClock{}
	}
	return &Engine{
		models:     p.Models,
		positions:  p.Positions,
		snapshots:  p.Snapshots,
		algoOrders: p.AlgoOrders,
		clients:    p.Clients,
		traders:    p.Traders,
		candidates: p.Candidates,
		risk:       p.Risk,
		executor:   p.Executor,
		processor:  p.Processor,
		builder:    p.Builder,
		clock:      clock,
		sleep:      time.Sleep,
	}
}

// RunBuyCycle 执行一次买入周期。
func (e *Engine) RunBuyCycle(ctx context.Context, modelID int64) *CycleResult {
	m, result := e.loadModel(ctx, modelID)
	if result != nil {
		return result
	}

	portfolio, err := e.positions.ListByModel(ctx, m.ID)
	if err != nil {
		return e.failf(m.ID, "读取持仓失败: %v", err)
	}

	if reason, err := e.risk.Check(ctx, m, portfolio); err != nil {
		return e.failf(m.ID, "风控检查失败: %v", err)
	} else if reason != "" {
		logger.Infof("买入周期被风控拦截 model=%d reason=%s", m.ID, reason)
		return &CycleResult{
			Success:    true,
			Skipped:    true,
			SkipReason: reason,
			ModelID:    m.ID,
			Executions: []ExecutionResult{},
			Portfolio:  portfolio,
		}
	}

	symbols, err := e.buyCandidates(ctx, portfolio)
	if err != nil {
		return e.failf(m.ID, "获取候选标的失败: %v", err)
	}
	if len(symbols) == 0 {
		return &CycleResult{
			Success:    true,
			Skipped:    true,
			SkipReason: "无可选标的",
			ModelID:    m.ID,
			Executions: []ExecutionResult{},
			Portfolio:  portfolio,
		}
	}

	return e.runCycle(ctx, m, DirectionBuy, symbols,
		batchParams{size: m.BuyBatchSize, groupSize: m.BuyGroupSize, interval: m.BuyInterval})
}

// RunSellCycle 执行一次卖出周期，标的是全部当前持仓。
func (e *Engine) RunSellCycle(ctx context.Context, modelID int64) *CycleResult {
	m, result := e.loadModel(ctx, modelID)
	if result != nil {
		return result
	}
	portfolio, err := e.positions.ListByModel(ctx, m.ID)
	if err != nil {
		return e.failf(m.ID, "读取持仓失败: %v", err)
	}
	if len(portfolio) == 0 {
		return &CycleResult{
			Success:    true,
			Skipped:    true,
			SkipReason: "当前无持仓",
			ModelID:    m.ID,
			Executions: []ExecutionResult{},
			Portfolio:  portfolio,
		}
	}
	seen := make(map[string]struct{}, len(portfolio))
	symbols := make([]string, 0, len(portfolio))
	for _, p := range portfolio {
		if _, ok := seen[p.Symbol]; ok {
			continue
		}
		seen[p.Symbol] = struct{}{}
		symbols = append(symbols, p.Symbol)
	}
	return e.runCycle(ctx, m, DirectionSell, symbols,
		batchParams{size: m.SellBatchSize, groupSize: m.SellGroupSize, interval: m.SellInterval})
}

type batchParams struct {
	size      int
	groupSize int
	interval  int
}

func (b batchParams) normalized() batchParams {
	if b.size <= 0 {
		b.size = 5
	}
	if b.groupSize <= 0 {
		b.groupSize = 1
	}
	return b
}

// runCycle 买卖共用的批次/组管线：
// 每批取行情快照并生成决策（只缓存不执行）；每攒满一组（或最后一批）
// 合并、记录、加锁执行，随后从存储重新读取组合状态；组间按配置休眠。
func (e *Engine) runCycle(ctx context.Context, m *storemodel.Model, dir Direction, symbols []string, bp batchParams) *CycleResult {
	bp = bp.normalized()
	cycleID := uuid.NewString()
	start := e.clock.Now()
	logger.Infof("%s 周期开始 model=%d cycle=%s symbols=%d batch=%d group=%d",
		dir, m.ID, cycleID, len(symbols), bp.size, bp.groupSize)

	trader := e.traderFor(m)
	if trader == nil {
		return e.failf(m.ID, "未配置 %s 类型的决策能力", m.TradeType)
	}

	batches := chunkSymbols(symbols, bp.size)
	seen := make(map[string]bool)
	var executions []ExecutionResult
	var buffered []BatchPayload
	groupsDone := 0

	for i, batch := range batches {
		state, valid, err := e.builder.Build(ctx, batch)
		if err != nil {
			logger.Errorf("批次行情快照失败 cycle=%s batch=%d err=%v", cycleID, i, err)
		} else if len(valid) > 0 {
			payload, derr := e.decide(ctx, m, trader, dir, valid, state)
			if derr != nil {
				logger.Errorf("批次决策失败 cycle=%s batch=%d err=%v", cycleID, i, derr)
			} else if payload != nil {
				buffered = append(buffered, BatchPayload{BatchIndex: i, Payload: payload, State: state})
			}
		}

		lastBatch := i == len(batches)-1
		if len(buffered) < bp.groupSize && !lastBatch {
			continue
		}
		if len(buffered) > 0 {
			merged, groupState := e.processor.MergeGroup(buffered)
			e.processor.RecordConversations(ctx, m.ID, cycleID, buffered)
			if m.TradeType == "strategy" {
				e.processor.RecordStrategyDecisionsOnce(ctx, m, merged, cycleID, dir, seen)
			}

			lock := e.lockFor(m.ID)
			lock.Lock()
			execs := e.processor.Execute(ctx, m, merged, groupState, cycleID, dir)
			lock.Unlock()
			executions = append(executions, execs...)
			buffered = buffered[:0]
		}
		groupsDone++

		// 组间按配置休眠，节流决策后端与交易所；最后一组之后不等待
		if !lastBatch && bp.interval > 0 {
			e.sleep(time.Duration(bp.interval) * time.Second)
		}
	}

	e.resyncAccount(ctx, m)

	portfolio, err := e.positions.ListByModel(ctx, m.ID)
	if err != nil {
		logger.Errorf("周期末读取持仓失败 model=%d err=%v", m.ID, err)
	}
	logger.Infof("%s 周期结束 model=%d cycle=%s groups=%d executions=%d elapsed=%s",
		dir, m.ID, cycleID, groupsDone, len(executions), e.clock.Now().Sub(start))
	if executions == nil {
		executions = []ExecutionResult{}
	}
	return &CycleResult{
		Success:    true,
		CycleID:    cycleID,
		ModelID:    m.ID,
		Executions: executions,
		Portfolio:  portfolio,
	}
}

func (e *Engine) decide(ctx context.Context, m *storemodel.Model, trader decision.Trader, dir Direction, symbols []string, state *decision.MarketState) (*decision.Payload, error) {
	// 组合与账户上下文每批现读：执行会改变它们
	portfolio, err := e.positions.ListByModel(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("读取持仓失败: %w", err)
	}
	account, err := e.snapshots.Current(ctx, m.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("读取账户快照失败: %w", err)
	}
	conditionals, err := e.algoOrders.ListNewByModel(ctx, m.ID)
	if err != nil {
		logger.Warnf("读取条件单失败 model=%d err=%v", m.ID, err)
	}
	if dir == DirectionBuy {
		return trader.MakeBuyDecision(ctx, decision.BuyInput{
			ModelID:           m.ID,
			Candidates:        symbols,
			Portfolio:         portfolio,
			Account:           account,
			Market:            state,
			ConditionalOrders: conditionals,
		})
	}
	return trader.MakeSellDecision(ctx, decision.SellInput{
		ModelID:           m.ID,
		Portfolio:         filterPositions(portfolio, symbols),
		Account:           account,
		Market:            state,
		ConditionalOrders: conditionals,
	})
}

// resyncAccount 周期结束后从交易所拉取权威账户信息，仅实盘。
func (e *Engine) resyncAccount(ctx context.Context, m *storemodel.Model) {
	if m.IsVirtual {
		return
	}
	if strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "" {
		return
	}
	client := e.clients(m.APIKey, m.APISecret)
	info, err := client.AccountInfo(ctx)
	if err != nil {
		logger.Warnf("周期末账户对账失败 model=%d err=%v", m.ID, err)
		return
	}
	snap := &storemodel.AccountSnapshot{
		ModelID:       m.ID,
		Balance:       info.Balance,
		Available:     info.Available,
		CrossWallet:   info.CrossWallet,
		UnrealizedPnL: info.UnrealizedPnL,
		UpdatedAtUnix: e.clock.Now().Unix(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		logger.Errorf("周期末账户快照写入失败 model=%d err=%v", m.ID, err)
	}
}

func (e *Engine) loadModel(ctx context.Context, modelID int64) (*storemodel.Model, *CycleResult) {
	m, err := e.models.Get(ctx, modelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &CycleResult{
				ModelID:    modelID,
				Error:      ErrModelNotFound.Error(),
				Executions: []ExecutionResult{},
			}
		}
		return nil, &CycleResult{
			ModelID:    modelID,
			Error:      fmt.Sprintf("加载模型失败: %v", err),
			Executions: []ExecutionResult{},
		}
	}
	return m, nil
}

func (e *Engine) buyCandidates(ctx context.Context, portfolio []storemodel.Position) ([]string, error) {
	all, err := e.candidates.List(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(portfolio))
	for _, p := range portfolio {
		held[p.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, sym := range all {
		if _, ok := held[sym]; ok {
			continue
		}
		out = append(out, sym)
	}
	return out, nil
}

func (e *Engine) traderFor(m *storemodel.Model) decision.Trader {
	if t, ok := e.traders[m.TradeType]; ok {
		return t
	}
	return nil
}

// lockFor 返回模型专属的交易锁。锁按引擎实例持有，不是进程级单例，
// 多个模型可以完全并行。
func (e *Engine) lockFor(modelID int64) *sync.Mutex {
	v, _ := e.locks.LoadOrStore(modelID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (e *Engine) failf(modelID int64, format string, args ...any) *CycleResult {
	msg := fmt.Sprintf(format, args...)
	logger.Errorf("model=%d %s", modelID, msg)
	return &CycleResult{ModelID: modelID, Error: msg, Executions: []ExecutionResult{}}
}

func chunkSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var out [][]string
	for start := 0; start < len(symbols); start += size {
		end := start + size
		if end > len(symbols) {
			end = len(symbols)
		}
		out = append(out, symbols[start:end])
	}
	return out
}

func filterPositions(portfolio []storemodel.Position, symbols []string) []storemodel.Position {
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}
	out := make([]storemodel.Position, 0, len(portfolio))
	for _, p := range portfolio {
		if _, ok := wanted[p.Symbol]; ok {
			out = append(out, p)
		}
	}
	return out
}
