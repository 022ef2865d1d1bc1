package gormstore

import (
	"context"
	"time"

	"aquant/internal/decision"
	storemodel "aquant/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ModelRepo 模型配置。除自动开关外引擎只读。
type ModelRepo struct {
	db *gorm.DB
}

func (r *ModelRepo) Get(ctx context.Context, id int64) (*storemodel.Model, error) {
	var m storemodel.Model
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *ModelRepo) List(ctx context.Context) ([]storemodel.Model, error) {
	var out []storemodel.Model
	if err := r.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ModelRepo) SetAutoFlags(ctx context.Context, id int64, autoBuy, autoSell bool) error {
	return withRetry(ctx, func() error {
		res := r.db.WithContext(ctx).Model(&storemodel.Model{}).Where("id = ?", id).
			Updates(map[string]any{
				"auto_buy_enabled":  autoBuy,
				"auto_sell_enabled": autoSell,
				"updated_at":        time.Now().Unix(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return translate(gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// PositionRepo 持仓，(model_id, symbol, position_side) 唯一。
type PositionRepo struct {
	db *gorm.DB
}

func (r *PositionRepo) Get(ctx context.Context, modelID int64, symbol, positionSide string) (*storemodel.Position, error) {
	var p storemodel.Position
	err := r.db.WithContext(ctx).
		First(&p, "model_id = ? AND symbol = ? AND position_side = ?", modelID, symbol, positionSide).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PositionRepo) ListByModel(ctx context.Context, modelID int64) ([]storemodel.Position, error) {
	var out []storemodel.Position
	if err := r.db.WithContext(ctx).Where("model_id = ?", modelID).Order("symbol").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PositionRepo) Upsert(ctx context.Context, p *storemodel.Position) error {
	now := time.Now().Unix()
	if p.CreatedAtUnix == 0 {
		p.CreatedAtUnix = now
	}
	p.UpdatedAtUnix = now
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "model_id"}, {Name: "symbol"}, {Name: "position_side"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"amount", "avg_price", "leverage", "margin", "unrealized_pnl", "updated_at",
			}),
		}).Create(p).Error
	})
}

func (r *PositionRepo) Delete(ctx context.Context, modelID int64, symbol, positionSide string) error {
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).
			Where("model_id = ? AND symbol = ? AND position_side = ?", modelID, symbol, positionSide).
			Delete(&storemodel.Position{}).Error
	})
}

// TradeRepo 成交台账，只插入。
type TradeRepo struct {
	db *gorm.DB
}

func (r *TradeRepo) Insert(ctx context.Context, t *storemodel.Trade) error {
	if t.CreatedAtUnix == 0 {
		t.CreatedAtUnix = time.Now().Unix()
	}
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(t).Error
	})
}

func (r *TradeRepo) ListByCycle(ctx context.Context, cycleID string) ([]storemodel.Trade, error) {
	var out []storemodel.Trade
	if err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

var sellSignals = []string{
	string(decision.SignalSellToLong),
	string(decision.SignalSellToShort),
	string(decision.SignalClosePosition),
	string(decision.SignalStopLoss),
	string(decision.SignalTakeProfit),
}

func (r *TradeRepo) ListSellsToday(ctx context.Context, modelID int64, dayStartUnix int64, limit int) ([]storemodel.Trade, error) {
	var out []storemodel.Trade
	q := r.db.WithContext(ctx).
		Where("model_id = ? AND created_at >= ? AND signal IN ? AND error_msg = ''",
			modelID, dayStartUnix, sellSignals).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AlgoOrderRepo 条件单。
type AlgoOrderRepo struct {
	db *gorm.DB
}

func (r *AlgoOrderRepo) Insert(ctx context.Context, o *storemodel.AlgoOrder) error {
	now := time.Now().Unix()
	if o.CreatedAtUnix == 0 {
		o.CreatedAtUnix = now
	}
	o.UpdatedAtUnix = now
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(o).Error
	})
}

func (r *AlgoOrderRepo) ListNew(ctx context.Context, modelID int64, symbol string) ([]storemodel.AlgoOrder, error) {
	var out []storemodel.AlgoOrder
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND symbol = ? AND status = ?", modelID, symbol, storemodel.AlgoStatusNew).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AlgoOrderRepo) ListNewByModel(ctx context.Context, modelID int64) ([]storemodel.AlgoOrder, error) {
	var out []storemodel.AlgoOrder
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND status = ?", modelID, storemodel.AlgoStatusNew).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AlgoOrderRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	return withRetry(ctx, func() error {
		res := r.db.WithContext(ctx).Model(&storemodel.AlgoOrder{}).Where("id = ?", id).
			Updates(map[string]any{"status": status, "updated_at": time.Now().Unix()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return translate(gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// StrategyDecisionRepo 决策审计，(cycle_id, symbol) 唯一。
type StrategyDecisionRepo struct {
	db *gorm.DB
}

func (r *StrategyDecisionRepo) Insert(ctx context.Context, d *storemodel.StrategyDecision) error {
	now := time.Now().Unix()
	if d.CreatedAtUnix == 0 {
		d.CreatedAtUnix = now
	}
	d.UpdatedAtUnix = now
	// 唯一索引兜底去重：同周期同币种的第二条决策静默丢弃
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cycle_id"}, {Name: "symbol"}},
			DoNothing: true,
		}).Create(d).Error
	})
}

func (r *StrategyDecisionRepo) ListByCycle(ctx context.Context, cycleID string) ([]storemodel.StrategyDecision, error) {
	var out []storemodel.StrategyDecision
	if err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StrategyDecisionRepo) Transition(ctx context.Context, cycleID, symbol, status, tradeID, errMsg string) error {
	return withRetry(ctx, func() error {
		res := r.db.WithContext(ctx).Model(&storemodel.StrategyDecision{}).
			Where("cycle_id = ? AND symbol = ?", cycleID, symbol).
			Updates(map[string]any{
				"status":     status,
				"trade_id":   tradeID,
				"error_msg":  errMsg,
				"updated_at": time.Now().Unix(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return translate(gorm.ErrRecordNotFound)
		}
		return nil
	})
}

// AccountSnapshotRepo 当前表 upsert + 历史表 append，Save 两者一起写。
type AccountSnapshotRepo struct {
	db *gorm.DB
}

func (r *AccountSnapshotRepo) Current(ctx context.Context, modelID int64) (*storemodel.AccountSnapshot, error) {
	var snap storemodel.AccountSnapshot
	if err := r.db.WithContext(ctx).First(&snap, "model_id = ?", modelID).Error; err != nil {
		return nil, translate(err)
	}
	return &snap, nil
}

func (r *AccountSnapshotRepo) Save(ctx context.Context, snap *storemodel.AccountSnapshot) error {
	now := time.Now().Unix()
	if snap.UpdatedAtUnix == 0 {
		snap.UpdatedAtUnix = now
	}
	// 整个事务是重试单元：busy 回滚后当前表与历史表一起重写
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "model_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"balance", "available", "cross_wallet", "unrealized_pnl", "trade_id", "updated_at",
				}),
			}).Create(snap).Error; err != nil {
				return err
			}
			return tx.Create(&storemodel.AccountSnapshotHistory{
				ModelID:       snap.ModelID,
				Balance:       snap.Balance,
				Available:     snap.Available,
				CrossWallet:   snap.CrossWallet,
				UnrealizedPnL: snap.UnrealizedPnL,
				TradeID:       snap.TradeID,
				CreatedAtUnix: snap.UpdatedAtUnix,
			}).Error
		})
	})
}

func (r *AccountSnapshotRepo) FirstToday(ctx context.Context, modelID int64, dayStartUnix int64) (*storemodel.AccountSnapshotHistory, error) {
	var h storemodel.AccountSnapshotHistory
	err := r.db.WithContext(ctx).
		Where("model_id = ? AND created_at >= ?", modelID, dayStartUnix).
		Order("created_at").
		First(&h).Error
	if err != nil {
		return nil, translate(err)
	}
	return &h, nil
}

func (r *AccountSnapshotRepo) HasHistory(ctx context.Context, modelID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&storemodel.AccountSnapshotHistory{}).
		Where("model_id = ?", modelID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ConversationRepo 批次留档。
type ConversationRepo struct {
	db *gorm.DB
}

func (r *ConversationRepo) Insert(ctx context.Context, c *storemodel.Conversation) error {
	if c.CreatedAtUnix == 0 {
		c.CreatedAtUnix = time.Now().Unix()
	}
	return withRetry(ctx, func() error {
		return r.db.WithContext(ctx).Create(c).Error
	})
}

func (r *ConversationRepo) ListByCycle(ctx context.Context, cycleID string) ([]storemodel.Conversation, error) {
	var out []storemodel.Conversation
	if err := r.db.WithContext(ctx).Where("cycle_id = ?", cycleID).Order("batch_index").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
