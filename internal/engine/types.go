package engine

import (
	"errors"
	"time"

	"aquant/internal/decision"
	storemodel "aquant/internal/store/model"
)

// ErrModelNotFound 模型不存在时的快速失败错误。
var ErrModelNotFound = errors.New("engine: 模型不存在")

// Direction 周期方向，决定接受哪一侧的信号。
type Direction int

const (
	DirectionBuy Direction = iota
	DirectionSell
)

func (d Direction) String() string {
	if d == DirectionBuy {
		return "buy"
	}
	return "sell"
}

// Accepts 判断信号是否属于当前周期方向。
func (d Direction) Accepts(s decision.Signal) bool {
	if d == DirectionBuy {
		return s.ValidForBuy()
	}
	return s.ValidForSell()
}

// ExecutionResult 单条决策的执行结果。
type ExecutionResult struct {
	Symbol   string          `json:"symbol"`
	Signal   decision.Signal `json:"signal"`
	Success  bool            `json:"success"`
	Skipped  bool            `json:"skipped"`
	Reason   string          `json:"reason,omitempty"`
	TradeID  string          `json:"trade_id,omitempty"`
	OrderID  int64           `json:"order_id,omitempty"`
	Quantity float64         `json:"quantity,omitempty"`
	Price    float64         `json:"price,omitempty"`
	PnL      float64         `json:"pnl,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// CycleResult 一次买入/卖出周期的聚合结果。风控拦截是正常结果而非错误：
// Success=true + Skipped=true + SkipReason。
type CycleResult struct {
	Success    bool                  `json:"success"`
	Skipped    bool                  `json:"skipped,omitempty"`
	SkipReason string                `json:"skip_reason,omitempty"`
	Error      string                `json:"error,omitempty"`
	CycleID    string                `json:"cycle_id,omitempty"`
	ModelID    int64                 `json:"model_id"`
	Executions []ExecutionResult     `json:"executions"`
	Portfolio  []storemodel.Position `json:"portfolio"`
}

// Clock 供测试替换的时间源。
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
