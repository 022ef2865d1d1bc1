package engine

import (
	"context"
	"encoding/json"
	"sort"

	"aquant/internal/decision"
	"aquant/internal/logger"
	"aquant/internal/market"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"gorm.io/datatypes"
)

// BatchPayload 一个批次在同一行情快照下产生的决策与上下文。
type BatchPayload struct {
	BatchIndex int
	Payload    *decision.Payload
	State      *decision.MarketState
}

// BatchDecisionProcessor 合并一组批次的决策并驱动 OrderExecutor 执行。
type BatchDecisionProcessor struct {
	executor      *OrderExecutor
	decisions     store.StrategyDecisionRepository
	conversations store.ConversationRepository
	clock         Clock
}

func NewBatchDecisionProcessor(
	executor *OrderExecutor,
	decisions store.StrategyDecisionRepository,
	conversations store.ConversationRepository,
	clock Clock,
) *BatchDecisionProcessor {
	if clock == nil {
		clock = systemClock{}
	}
	return &BatchDecisionProcessor{
		executor:      executor,
		decisions:     decisions,
		conversations: conversations,
		clock:         clock,
	}
}

// MergeGroup 按币种合并多个批次的决策。同一币种允许有多条决策
// （例如来自不同策略），去重只发生在审计记录层。行情状态一并合并，
// 后出现的批次覆盖同名币种的旧值。
func (p *BatchDecisionProcessor) MergeGroup(batches []BatchPayload) (map[string][]decision.Decision, *decision.MarketState) {
	merged := make(map[string][]decision.Decision)
	state := &decision.MarketState{
		Prices:  make(map[string]float64),
		Klines:  make(map[string][]market.Candle),
		Volumes: make(map[string]market.Volume),
	}
	for _, b := range batches {
		if b.State != nil {
			for sym, price := range b.State.Prices {
				state.Prices[sym] = price
			}
			for sym, kl := range b.State.Klines {
				state.Klines[sym] = kl
			}
			for sym, v := range b.State.Volumes {
				state.Volumes[sym] = v
			}
		}
		if b.Payload == nil || b.Payload.Skipped {
			continue
		}
		for sym, ds := range b.Payload.Decisions {
			merged[sym] = append(merged[sym], ds...)
		}
	}
	return merged, state
}

// RecordConversations 把每个批次的原始决策输入/输出留档，尽力而为。
func (p *BatchDecisionProcessor) RecordConversations(ctx context.Context, modelID int64, cycleID string, batches []BatchPayload) {
	for _, b := range batches {
		if b.Payload == nil {
			continue
		}
		conv := &storemodel.Conversation{
			ModelID:       modelID,
			CycleID:       cycleID,
			BatchIndex:    b.BatchIndex,
			PromptJSON:    toJSON(b.Payload.Prompt),
			ResponseJSON:  toJSON(b.Payload.Response),
			CreatedAtUnix: p.clock.Now().Unix(),
		}
		if err := p.conversations.Insert(ctx, conv); err != nil {
			logger.Errorf("写入决策留档失败 cycle=%s batch=%d err=%v", cycleID, b.BatchIndex, err)
		}
	}
}

// RecordStrategyDecisionsOnce 为尚未在本周期记录过的币种各写一条审计记录。
// seen 在整个周期内复用，保证同一币种被多个批次命中时也只记一条。
// 方向不符或 hold 的信号直接丢弃并告警，绝不进入执行。
func (p *BatchDecisionProcessor) RecordStrategyDecisionsOnce(
	ctx context.Context,
	m *storemodel.Model,
	merged map[string][]decision.Decision,
	cycleID string,
	dir Direction,
	seen map[string]bool,
) {
	for _, sym := range sortedSymbols(merged) {
		if seen[sym] {
			continue
		}
		var chosen *decision.Decision
		for i := range merged[sym] {
			d := merged[sym][i]
			if d.Signal == decision.SignalHold {
				continue
			}
			if !dir.Accepts(d.Signal) {
				logger.Warnf("信号 %s 不属于 %s 周期，丢弃 symbol=%s", d.Signal, dir, sym)
				continue
			}
			chosen = &merged[sym][i]
			break
		}
		if chosen == nil {
			continue
		}
		payload, _ := json.Marshal(chosen)
		rec := &storemodel.StrategyDecision{
			ModelID:       m.ID,
			CycleID:       cycleID,
			Symbol:        sym,
			StrategyName:  m.StrategyName,
			StrategyType:  m.TradeType,
			Signal:        string(chosen.Signal),
			Status:        storemodel.DecisionStatusTriggered,
			PayloadJSON:   datatypes.JSON(payload),
			CreatedAtUnix: p.clock.Now().Unix(),
		}
		if err := p.decisions.Insert(ctx, rec); err != nil {
			logger.Errorf("写入策略决策记录失败 cycle=%s symbol=%s err=%v", cycleID, sym, err)
			continue
		}
		seen[sym] = true
	}
}

// Execute 逐币种执行合并后的决策。调用方必须已持有该模型的交易锁。
// 执行后迁移对应的审计记录：有 trade id 且无错误 → EXECUTED，
// 否则 → REJECTED（错误优先于 trade id，因为生成了 trade id 不代表
// 交易所接受了订单）。
func (p *BatchDecisionProcessor) Execute(
	ctx context.Context,
	m *storemodel.Model,
	merged map[string][]decision.Decision,
	state *decision.MarketState,
	cycleID string,
	dir Direction,
) []ExecutionResult {
	var results []ExecutionResult
	for _, sym := range sortedSymbols(merged) {
		for _, d := range merged[sym] {
			if d.Signal == decision.SignalHold {
				results = append(results, p.executor.Execute(ctx, m, d, state, cycleID))
				continue
			}
			if !dir.Accepts(d.Signal) {
				logger.Warnf("执行阶段丢弃方向不符的信号 %s symbol=%s cycle=%s", d.Signal, sym, cycleID)
				continue
			}
			res := p.executor.Execute(ctx, m, d, state, cycleID)
			results = append(results, res)
			p.transitionDecision(ctx, cycleID, sym, res)
		}
	}
	return results
}

func (p *BatchDecisionProcessor) transitionDecision(ctx context.Context, cycleID, symbol string, res ExecutionResult) {
	// 错误优先于 trade id：产生了 trade id 不代表交易所接受了订单
	status := storemodel.DecisionStatusRejected
	if res.TradeID != "" && res.Error == "" {
		status = storemodel.DecisionStatusExecuted
	}
	if err := p.decisions.Transition(ctx, cycleID, symbol, status, res.TradeID, res.Error); err != nil {
		logger.Debugf("策略决策状态迁移跳过 cycle=%s symbol=%s: %v", cycleID, symbol, err)
	}
}

func sortedSymbols(m map[string][]decision.Decision) []string {
	out := make([]string, 0, len(m))
	for sym := range m {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func toJSON(s string) datatypes.JSON {
	if s == "" {
		return datatypes.JSON([]byte("null"))
	}
	b, err := json.Marshal(s)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
