package trader

import (
	"context"
	"fmt"

	"aquant/internal/decision"
	"aquant/internal/logger"
	"aquant/internal/market"
	storemodel "aquant/internal/store/model"

	talib "github.com/markcheno/go-talib"
)

// RuleConfig 规则策略参数。零值字段回落到常见默认值。
type RuleConfig struct {
	Name            string
	FastPeriod      int     // 快速 EMA 周期
	SlowPeriod      int     // 慢速 EMA 周期
	RSIPeriod       int
	RSIOverbought   float64 // 高于此值不追多、持空离场
	RSIOversold     float64 // 低于此值不追空、持多离场
	MarginPerTrade  float64 // 单笔投入保证金（USDT）
	StopLossPct     float64 // 开仓均价回撤百分比挂止损
	TakeProfitPct   float64 // 开仓均价盈利百分比挂止盈
}

func (c RuleConfig) withDefaults() RuleConfig {
	if c.Name == "" {
		c.Name = "ema-rsi"
	}
	if c.FastPeriod <= 0 {
		c.FastPeriod = 12
	}
	if c.SlowPeriod <= c.FastPeriod {
		c.SlowPeriod = 26
	}
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.RSIOverbought == 0 {
		c.RSIOverbought = 70
	}
	if c.RSIOversold == 0 {
		c.RSIOversold = 30
	}
	if c.MarginPerTrade <= 0 {
		c.MarginPerTrade = 100
	}
	if c.StopLossPct <= 0 {
		c.StopLossPct = 3
	}
	if c.TakeProfitPct <= 0 {
		c.TakeProfitPct = 6
	}
	return c
}

// RuleTrader EMA 交叉定方向、RSI 过滤极端区的规则交易员。
// 买入端只开趋势方向的仓位；卖出端在趋势反转或 RSI 极值时离场，
// 并为无条件单保护的持仓补挂止损。
type RuleTrader struct {
	cfg RuleConfig
}

func NewRuleTrader(cfg RuleConfig) *RuleTrader {
	return &RuleTrader{cfg: cfg.withDefaults()}
}

func (t *RuleTrader) MakeBuyDecision(_ context.Context, input decision.BuyInput) (*decision.Payload, error) {
	out := make(map[string][]decision.Decision, len(input.Candidates))
	for _, sym := range input.Candidates {
		d := t.buySignal(sym, input.Market)
		out[sym] = []decision.Decision{d}
	}
	return t.payload(out), nil
}

func (t *RuleTrader) MakeSellDecision(_ context.Context, input decision.SellInput) (*decision.Payload, error) {
	protected := make(map[string]bool, len(input.ConditionalOrders))
	for _, o := range input.ConditionalOrders {
		if o.Status == storemodel.AlgoStatusNew {
			protected[o.Symbol] = true
		}
	}
	out := make(map[string][]decision.Decision, len(input.Portfolio))
	for _, p := range input.Portfolio {
		d := t.sellSignal(p, input.Market, protected[p.Symbol])
		out[p.Symbol] = append(out[p.Symbol], d)
	}
	return t.payload(out), nil
}

func (t *RuleTrader) payload(decisions map[string][]decision.Decision) *decision.Payload {
	return &decision.Payload{
		Decisions:    decisions,
		StrategyName: t.cfg.Name,
		StrategyType: "strategy",
	}
}

type indicators struct {
	fast float64
	slow float64
	rsi  float64
}

func (t *RuleTrader) compute(sym string, state *decision.MarketState) (indicators, bool) {
	if state == nil {
		return indicators{}, false
	}
	klines := state.Klines[sym]
	need := t.cfg.SlowPeriod + 1
	if len(klines) < need {
		logger.Debugf("[%s] %s K 线不足 %d 根，跳过指标计算", t.cfg.Name, sym, need)
		return indicators{}, false
	}
	closes := closesOf(klines)
	fastArr := talib.Ema(closes, t.cfg.FastPeriod)
	slowArr := talib.Ema(closes, t.cfg.SlowPeriod)
	rsiArr := talib.Rsi(closes, t.cfg.RSIPeriod)
	last := len(closes) - 1
	return indicators{fast: fastArr[last], slow: slowArr[last], rsi: rsiArr[last]}, true
}

func (t *RuleTrader) buySignal(sym string, state *decision.MarketState) decision.Decision {
	hold := decision.Decision{Symbol: sym, Signal: decision.SignalHold}
	ind, ok := t.compute(sym, state)
	if !ok {
		return hold
	}
	switch {
	case ind.fast > ind.slow && ind.rsi < t.cfg.RSIOverbought:
		return decision.Decision{Symbol: sym, Signal: decision.SignalBuyToLong, Quantity: t.cfg.MarginPerTrade}
	case ind.fast < ind.slow && ind.rsi > t.cfg.RSIOversold:
		return decision.Decision{Symbol: sym, Signal: decision.SignalBuyToShort, Quantity: t.cfg.MarginPerTrade}
	default:
		return hold
	}
}

func (t *RuleTrader) sellSignal(p storemodel.Position, state *decision.MarketState, protected bool) decision.Decision {
	hold := decision.Decision{Symbol: p.Symbol, Signal: decision.SignalHold}
	ind, ok := t.compute(p.Symbol, state)
	if !ok {
		return hold
	}
	long := p.PositionSide == storemodel.PositionSideLong

	// 趋势反转或 RSI 极值：全平
	reversed := (long && ind.fast < ind.slow) || (!long && ind.fast > ind.slow)
	extreme := (long && ind.rsi >= t.cfg.RSIOverbought) || (!long && ind.rsi <= t.cfg.RSIOversold)
	if reversed || extreme {
		return decision.Decision{Symbol: p.Symbol, Signal: decision.SignalClosePosition}
	}

	// 仍在趋势中但没有保护性条件单：按开仓均价挂止损
	if !protected && p.AvgPrice > 0 {
		stop := p.AvgPrice * (1 - t.cfg.StopLossPct/100)
		if !long {
			stop = p.AvgPrice * (1 + t.cfg.StopLossPct/100)
		}
		return decision.Decision{Symbol: p.Symbol, Signal: decision.SignalStopLoss, StopPrice: stop}
	}
	return hold
}

func closesOf(klines []market.Candle) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// String 便于日志标识。
func (t *RuleTrader) String() string {
	return fmt.Sprintf("rule(%s ema %d/%d rsi %d)", t.cfg.Name, t.cfg.FastPeriod, t.cfg.SlowPeriod, t.cfg.RSIPeriod)
}
