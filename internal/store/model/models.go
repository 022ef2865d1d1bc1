package model

import (
	"gorm.io/datatypes"
)

// 仓位方向与交易所下单方向是两个维度：LONG 仓位用 SELL 平掉，反之亦然。
const (
	PositionSideLong  = "LONG"
	PositionSideShort = "SHORT"

	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// AlgoOrder 状态。EXECUTED 由外部的成交回报协作方异步写入。
const (
	AlgoStatusNew       = "NEW"
	AlgoStatusCancelled = "CANCELLED"
	AlgoStatusFailed    = "FAILED"
	AlgoStatusExecuted  = "EXECUTED"
)

// StrategyDecision 生命周期。
const (
	DecisionStatusTriggered = "TRIGGERED"
	DecisionStatusExecuted  = "EXECUTED"
	DecisionStatusRejected  = "REJECTED"
)

// Model 交易模型配置。由外部配置工具维护，引擎只读
// （auto_buy/auto_sell 两个开关除外）。
type Model struct {
	ID              int64   `gorm:"column:id;primaryKey"`
	Name            string  `gorm:"column:name"`
	APIKey          string  `gorm:"column:api_key"`
	APISecret       string  `gorm:"column:api_secret"`
	Leverage        int     `gorm:"column:leverage"`
	MaxPositions    int     `gorm:"column:max_positions"`
	BuyBatchSize    int     `gorm:"column:buy_batch_size"`
	BuyInterval     int     `gorm:"column:buy_interval"`
	BuyGroupSize    int     `gorm:"column:buy_group_size"`
	SellBatchSize   int     `gorm:"column:sell_batch_size"`
	SellInterval    int     `gorm:"column:sell_interval"`
	SellGroupSize   int     `gorm:"column:sell_group_size"`
	IsVirtual       bool    `gorm:"column:is_virtual"`
	AutoBuyEnabled  bool    `gorm:"column:auto_buy_enabled"`
	AutoSellEnabled bool    `gorm:"column:auto_sell_enabled"`
	ForbidBuyStart  string  `gorm:"column:forbid_buy_start"` // "HH:MM"，与 end 必须成对出现
	ForbidBuyEnd    string  `gorm:"column:forbid_buy_end"`
	DailyReturn     float64 `gorm:"column:daily_return"` // 当日收益率上限（百分比），0 表示不限
	LossesNum       int     `gorm:"column:losses_num"`   // 连续亏损次数上限，0 表示不限
	InitialCapital  float64 `gorm:"column:initial_capital"`
	TradeType       string  `gorm:"column:trade_type"` // "ai" | "strategy"
	StrategyName    string  `gorm:"column:strategy_name"`
	CreatedAtUnix   int64   `gorm:"column:created_at"`
	UpdatedAtUnix   int64   `gorm:"column:updated_at"`
}

func (Model) TableName() string { return "models" }

// Position 当前持仓。amount 恒大于 0；归零的仓位直接删除行。
type Position struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	ModelID       int64   `gorm:"column:model_id;uniqueIndex:idx_position_key,priority:1"`
	Symbol        string  `gorm:"column:symbol;uniqueIndex:idx_position_key,priority:2"`
	PositionSide  string  `gorm:"column:position_side;uniqueIndex:idx_position_key,priority:3"`
	Amount        float64 `gorm:"column:amount"`
	AvgPrice      float64 `gorm:"column:avg_price"`
	Leverage      int     `gorm:"column:leverage"`
	Margin        float64 `gorm:"column:margin"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (Position) TableName() string { return "positions" }

// Trade 不可变的成交台账。exchange 调用失败同样落一行，error_msg 记录原因。
type Trade struct {
	ID            string  `gorm:"column:id;primaryKey"` // 调用交易所前生成的 uuid
	ModelID       int64   `gorm:"column:model_id;index"`
	CycleID       string  `gorm:"column:cycle_id;index"`
	Signal        string  `gorm:"column:signal"`
	Symbol        string  `gorm:"column:symbol"`
	Quantity      float64 `gorm:"column:quantity"`
	Price         float64 `gorm:"column:price"`
	Leverage      int     `gorm:"column:leverage"`
	Side          string  `gorm:"column:side"`
	PositionSide  string  `gorm:"column:position_side"`
	PnL           float64 `gorm:"column:pnl"`
	Fee           float64 `gorm:"column:fee"`
	Margin        float64 `gorm:"column:margin"`
	OrderID       int64   `gorm:"column:order_id"`
	OrderType     string  `gorm:"column:order_type"`
	ErrorMsg      string  `gorm:"column:error_msg"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (Trade) TableName() string { return "trades" }

// AlgoOrder 交易所托管的条件单（止损/止盈）。
// 同一 (model, symbol) 同时最多一张 NEW 状态的条件单。
type AlgoOrder struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	ModelID       int64   `gorm:"column:model_id;index:idx_algo_model_symbol,priority:1"`
	Symbol        string  `gorm:"column:symbol;index:idx_algo_model_symbol,priority:2"`
	AlgoID        int64   `gorm:"column:algo_id"`
	ClientOrderID string  `gorm:"column:client_order_id;uniqueIndex"`
	OrderType     string  `gorm:"column:order_type"` // STOP_MARKET / TAKE_PROFIT_MARKET 等
	Side          string  `gorm:"column:side"`
	PositionSide  string  `gorm:"column:position_side"`
	Quantity      float64 `gorm:"column:quantity"`
	TriggerPrice  float64 `gorm:"column:trigger_price"`
	Status        string  `gorm:"column:status"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (AlgoOrder) TableName() string { return "algo_orders" }

// StrategyDecision 单个周期内某策略对某币种的决策审计记录。
// (cycle_id, symbol) 唯一，保证一个周期内同一币种只记录一次。
type StrategyDecision struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ModelID       int64          `gorm:"column:model_id;index"`
	CycleID       string         `gorm:"column:cycle_id;uniqueIndex:idx_cycle_symbol,priority:1"`
	Symbol        string         `gorm:"column:symbol;uniqueIndex:idx_cycle_symbol,priority:2"`
	StrategyName  string         `gorm:"column:strategy_name"`
	StrategyType  string         `gorm:"column:strategy_type"`
	Signal        string         `gorm:"column:signal"`
	Status        string         `gorm:"column:status"`
	TradeID       string         `gorm:"column:trade_id"`
	ErrorMsg      string         `gorm:"column:error_msg"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (StrategyDecision) TableName() string { return "strategy_decisions" }

// AccountSnapshot 每个模型一行的当前账户快照（upsert）。
type AccountSnapshot struct {
	ModelID       int64   `gorm:"column:model_id;primaryKey"`
	Balance       float64 `gorm:"column:balance"`
	Available     float64 `gorm:"column:available"`
	CrossWallet   float64 `gorm:"column:cross_wallet"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	TradeID       string  `gorm:"column:trade_id"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (AccountSnapshot) TableName() string { return "account_snapshots" }

// AccountSnapshotHistory 只追加的账户快照历史，与触发它的 Trade 关联。
type AccountSnapshotHistory struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	ModelID       int64   `gorm:"column:model_id;index"`
	Balance       float64 `gorm:"column:balance"`
	Available     float64 `gorm:"column:available"`
	CrossWallet   float64 `gorm:"column:cross_wallet"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	TradeID       string  `gorm:"column:trade_id;index"`
	CreatedAtUnix int64   `gorm:"column:created_at"`
}

func (AccountSnapshotHistory) TableName() string { return "account_snapshot_history" }

// Conversation 每个批次的原始决策输入/输出留档。
type Conversation struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ModelID       int64          `gorm:"column:model_id;index"`
	CycleID       string         `gorm:"column:cycle_id;index"`
	BatchIndex    int            `gorm:"column:batch_index"`
	PromptJSON    datatypes.JSON `gorm:"column:prompt_json;type:TEXT"`
	ResponseJSON  datatypes.JSON `gorm:"column:response_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (Conversation) TableName() string { return "conversations" }
