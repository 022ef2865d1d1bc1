// Package scheduler 按模型配置驱动买卖周期的常驻循环。
package scheduler

import (
	"context"
	"time"

	"aquant/internal/engine"
	"aquant/internal/logger"
	"aquant/internal/pkg/circuit"
	"aquant/internal/store"

	"golang.org/x/sync/errgroup"
)

// CycleRunner 引擎的调度视角，测试用替身实现。
type CycleRunner interface {
	RunBuyCycle(ctx context.Context, modelID int64) *engine.CycleResult
	RunSellCycle(ctx context.Context, modelID int64) *engine.CycleResult
}

// Config 两类循环的触发间隔与熔断参数。
type Config struct {
	BuyInterval    time.Duration
	SellInterval   time.Duration
	BreakThreshold int           // 连续失败多少次后熔断
	BreakTimeout   time.Duration // 熔断后多久放行探测
}

func (c Config) withDefaults() Config {
	if c.BuyInterval <= 0 {
		c.BuyInterval = 15 * time.Minute
	}
	if c.SellInterval <= 0 {
		c.SellInterval = 3 * time.Minute
	}
	if c.BreakThreshold <= 0 {
		c.BreakThreshold = 5
	}
	if c.BreakTimeout <= 0 {
		c.BreakTimeout = 10 * time.Minute
	}
	return c
}

// Scheduler 为每个模型各起一条买入循环和一条卖出循环。
// 每次触发前重读模型配置，auto 开关关闭时静默跳过本轮。
type Scheduler struct {
	runner CycleRunner
	models store.ModelRepository
	cfg    Config
}

func New(runner CycleRunner, models store.ModelRepository, cfg Config) *Scheduler {
	return &Scheduler{runner: runner, models: models, cfg: cfg.withDefaults()}
}

// Run 阻塞运行所有循环，直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	list, err := s.models.List(ctx)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range list {
		modelID := m.ID
		g.Go(func() error {
			s.loop(ctx, modelID, "buy", s.cfg.BuyInterval)
			return nil
		})
		g.Go(func() error {
			s.loop(ctx, modelID, "sell", s.cfg.SellInterval)
			return nil
		})
	}
	logger.Infof("调度器已启动 models=%d buy_interval=%s sell_interval=%s",
		len(list), s.cfg.BuyInterval, s.cfg.SellInterval)
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, modelID int64, kind string, interval time.Duration) {
	breaker := circuit.NewBreaker(kind+"-cycle", s.cfg.BreakThreshold, s.cfg.BreakTimeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("%s 循环退出 model=%d", kind, modelID)
			return
		case <-ticker.C:
		}
		if !breaker.Allow() {
			logger.Warnf("%s 循环熔断中，跳过本轮 model=%d", kind, modelID)
			continue
		}
		s.tick(ctx, modelID, kind, breaker)
	}
}

func (s *Scheduler) tick(ctx context.Context, modelID int64, kind string, breaker *circuit.Breaker) {
	m, err := s.models.Get(ctx, modelID)
	if err != nil {
		logger.Errorf("读取模型失败 model=%d err=%v", modelID, err)
		breaker.RecordFailure()
		return
	}

	var result *engine.CycleResult
	switch kind {
	case "buy":
		if !m.AutoBuyEnabled {
			return
		}
		result = s.runner.RunBuyCycle(ctx, modelID)
	default:
		if !m.AutoSellEnabled {
			return
		}
		result = s.runner.RunSellCycle(ctx, modelID)
	}

	if result.Error != "" {
		logger.Errorf("%s 周期失败 model=%d err=%s", kind, modelID, result.Error)
		breaker.RecordFailure()
		return
	}
	breaker.RecordSuccess()
	if result.Skipped {
		logger.Infof("%s 周期跳过 model=%d reason=%s", kind, modelID, result.SkipReason)
	}
}
