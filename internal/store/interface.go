package store

import (
	"context"
	"errors"

	"aquant/internal/store/model"
)

// ErrNotFound 统一的"记录不存在"错误，所有仓储实现必须返回它而不是驱动层错误。
var ErrNotFound = errors.New("store: record not found")

// ModelRepository 交易模型配置的只读访问（两个自动开关除外）。
type ModelRepository interface {
	Get(ctx context.Context, id int64) (*model.Model, error)
	List(ctx context.Context) ([]model.Model, error)
	SetAutoFlags(ctx context.Context, id int64, autoBuy, autoSell bool) error
}

// PositionRepository 持仓仓储。amount 归零的仓位必须删除行。
type PositionRepository interface {
	Get(ctx context.Context, modelID int64, symbol, positionSide string) (*model.Position, error)
	ListByModel(ctx context.Context, modelID int64) ([]model.Position, error)
	Upsert(ctx context.Context, p *model.Position) error
	Delete(ctx context.Context, modelID int64, symbol, positionSide string) error
}

// TradeRepository 成交台账，只插入、不更新。
type TradeRepository interface {
	Insert(ctx context.Context, t *model.Trade) error
	ListByCycle(ctx context.Context, cycleID string) ([]model.Trade, error)
	// ListSellsToday 返回模型今日的卖出方向成交，按时间倒序，最多 limit 条。
	ListSellsToday(ctx context.Context, modelID int64, dayStartUnix int64, limit int) ([]model.Trade, error)
}

// AlgoOrderRepository 条件单仓储。
type AlgoOrderRepository interface {
	Insert(ctx context.Context, o *model.AlgoOrder) error
	ListNew(ctx context.Context, modelID int64, symbol string) ([]model.AlgoOrder, error)
	ListNewByModel(ctx context.Context, modelID int64) ([]model.AlgoOrder, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
}

// StrategyDecisionRepository 决策审计仓储。
type StrategyDecisionRepository interface {
	Insert(ctx context.Context, d *model.StrategyDecision) error
	ListByCycle(ctx context.Context, cycleID string) ([]model.StrategyDecision, error)
	// Transition 将 (cycle_id, symbol) 对应的记录迁移到终态并补写 trade_id/错误信息。
	Transition(ctx context.Context, cycleID, symbol, status, tradeID, errMsg string) error
}

// AccountSnapshotRepository 账户快照：当前表 upsert + 历史表 append，两者一起写。
type AccountSnapshotRepository interface {
	Current(ctx context.Context, modelID int64) (*model.AccountSnapshot, error)
	Save(ctx context.Context, snap *model.AccountSnapshot) error
	// FirstToday 返回模型今日第一条历史快照，今日无记录时返回 ErrNotFound。
	FirstToday(ctx context.Context, modelID int64, dayStartUnix int64) (*model.AccountSnapshotHistory, error)
	HasHistory(ctx context.Context, modelID int64) (bool, error)
}

// ConversationRepository 每批次的原始决策输入/输出留档。
type ConversationRepository interface {
	Insert(ctx context.Context, c *model.Conversation) error
	ListByCycle(ctx context.Context, cycleID string) ([]model.Conversation, error)
}
