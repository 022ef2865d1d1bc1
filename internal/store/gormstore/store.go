// Package gormstore 基于 Gorm + SQLite 的仓储实现。
package gormstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store 持有共享的数据库连接，并提供各仓储的访问入口。
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&storemodel.Model{},
		&storemodel.Position{},
		&storemodel.Trade{},
		&storemodel.AlgoOrder{},
		&storemodel.StrategyDecision{},
		&storemodel.AccountSnapshot{},
		&storemodel.AccountSnapshotHistory{},
		&storemodel.Conversation{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：少量并行度满足 HTTP 读请求，同时控制锁竞争
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Models() *ModelRepo              { return &ModelRepo{db: s.db} }
func (s *Store) Positions() *PositionRepo        { return &PositionRepo{db: s.db} }
func (s *Store) Trades() *TradeRepo              { return &TradeRepo{db: s.db} }
func (s *Store) AlgoOrders() *AlgoOrderRepo      { return &AlgoOrderRepo{db: s.db} }
func (s *Store) Decisions() *StrategyDecisionRepo {
	return &StrategyDecisionRepo{db: s.db}
}
func (s *Store) Snapshots() *AccountSnapshotRepo { return &AccountSnapshotRepo{db: s.db} }
func (s *Store) Conversations() *ConversationRepo {
	return &ConversationRepo{db: s.db}
}

var (
	_ store.ModelRepository            = (*ModelRepo)(nil)
	_ store.PositionRepository         = (*PositionRepo)(nil)
	_ store.TradeRepository            = (*TradeRepo)(nil)
	_ store.AlgoOrderRepository        = (*AlgoOrderRepo)(nil)
	_ store.StrategyDecisionRepository = (*StrategyDecisionRepo)(nil)
	_ store.AccountSnapshotRepository  = (*AccountSnapshotRepo)(nil)
	_ store.ConversationRepository     = (*ConversationRepo)(nil)
)

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// translate 把驱动层错误映射为仓储契约错误。
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}
