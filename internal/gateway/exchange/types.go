package exchange

// 条件单类型，与交易所定义保持一致。
const (
	OrderTypeStop             = "STOP"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfit       = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
)

type MarketOrderResult struct {
	OrderID     int64
	ExecutedQty float64
	AvgPrice    float64
	Type        string
}

type ConditionalRequest struct {
	Symbol        string
	Side          string
	PositionSide  string
	OrderType     string
	Quantity      float64
	StopPrice     float64
	Price         float64 // 限价触发单使用，市价触发单为 0
	ClientOrderID string
}

type ConditionalOrder struct {
	AlgoID        int64
	ClientOrderID string
	Symbol        string
	Side          string
	PositionSide  string
	OrderType     string
	Quantity      float64
	StopPrice     float64
	Status        string
}

// InstrumentRules 交易规则：数量步长与价格精度。
type InstrumentRules struct {
	StepSize float64
	TickSize float64
}

type AccountInfo struct {
	Balance       float64
	Available     float64
	CrossWallet   float64
	UnrealizedPnL float64
}
