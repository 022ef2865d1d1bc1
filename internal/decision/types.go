package decision

import (
	"context"

	"aquant/internal/market"
	storemodel "aquant/internal/store/model"
)

// Signal 决策信号。买卖两个方向各自只接受自己那一侧的信号，
// 方向不符的信号会被丢弃并告警，绝不执行。
type Signal string

const (
	SignalBuyToLong     Signal = "buy_to_long"
	SignalBuyToShort    Signal = "buy_to_short"
	SignalSellToLong    Signal = "sell_to_long"
	SignalSellToShort   Signal = "sell_to_short"
	SignalClosePosition Signal = "close_position"
	SignalStopLoss      Signal = "stop_loss"
	SignalTakeProfit    Signal = "take_profit"
	SignalHold          Signal = "hold"
)

// ValidForBuy 买入周期只接受开仓信号。
func (s Signal) ValidForBuy() bool {
	return s == SignalBuyToLong || s == SignalBuyToShort
}

// ValidForSell 卖出周期接受平仓、止损止盈与减仓信号。
func (s Signal) ValidForSell() bool {
	switch s {
	case SignalClosePosition, SignalStopLoss, SignalTakeProfit,
		SignalSellToLong, SignalSellToShort:
		return true
	default:
		return false
	}
}

// PositionSide 返回信号隐含的持仓方向；close_position 取决于实际持仓，返回空。
func (s Signal) PositionSide() string {
	switch s {
	case SignalBuyToLong, SignalSellToLong:
		return storemodel.PositionSideLong
	case SignalBuyToShort, SignalSellToShort:
		return storemodel.PositionSideShort
	default:
		return ""
	}
}

// Decision 单币种的一条决策。字段按信号可选：
// 开仓时 Quantity 是投入的保证金（计价币），平仓时是合约数量（0 表示全平），
// StopPrice 仅条件单信号使用。
type Decision struct {
	Symbol    string  `json:"symbol"`
	Signal    Signal  `json:"signal"`
	Quantity  float64 `json:"quantity,omitempty"`
	Price     float64 `json:"price,omitempty"`
	StopPrice float64 `json:"stop_price,omitempty"`
	Leverage  int     `json:"leverage,omitempty"`
}

// Payload 一个批次的决策输出。策略归属作为显式元数据随载荷传递，
// 不混入 Decision 本身。
type Payload struct {
	Decisions    map[string][]Decision
	StrategyName string
	StrategyType string
	Prompt       string
	Response     string
	Skipped      bool
}

// MarketState 交给决策方的行情视图：价格永远新鲜，K 线按批次惰性拉取。
type MarketState struct {
	Prices  map[string]float64
	Klines  map[string][]market.Candle
	Volumes map[string]market.Volume
}

// BuyInput 买入决策的完整上下文。
type BuyInput struct {
	ModelID           int64
	Candidates        []string
	Portfolio         []storemodel.Position
	Account           *storemodel.AccountSnapshot
	Market            *MarketState
	ConditionalOrders []storemodel.AlgoOrder
}

// SellInput 卖出决策的完整上下文。
type SellInput struct {
	ModelID           int64
	Portfolio         []storemodel.Position
	Account           *storemodel.AccountSnapshot
	Market            *MarketState
	ConditionalOrders []storemodel.AlgoOrder
}

// Trader 决策能力，由 AI 或规则策略实现，生产与测试共用同一接口。
type Trader interface {
	MakeBuyDecision(ctx context.Context, input BuyInput) (*Payload, error)
	MakeSellDecision(ctx context.Context, input SellInput) (*Payload, error)
}
