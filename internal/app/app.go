// Package app 组装所有组件并托管进程生命周期。
package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"aquant/internal/coins"
	"aquant/internal/config"
	"aquant/internal/decision"
	"aquant/internal/engine"
	"aquant/internal/gateway/binance"
	"aquant/internal/gateway/paper"
	"aquant/internal/logger"
	"aquant/internal/scheduler"
	"aquant/internal/store/gormstore"
	"aquant/internal/trader"
	apihttp "aquant/internal/transport/http"
)

type App struct {
	cfg   *config.Config
	db    *gormstore.Store
	eng   *engine.Engine
	srv   *apihttp.Server
	sched *scheduler.Scheduler
	file  *coins.FileProvider // 非 nil 时退出前需要关闭
}

func NewApp(cfg *config.Config) (*App, error) {
	db, err := gormstore.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	source := binance.NewMarketSource(binance.Config{
		RESTBaseURL:  cfg.Exchange.RESTBaseURL,
		HTTPTimeout:  cfg.Exchange.HTTPTimeout,
		ProxyEnabled: cfg.Exchange.ProxyEnabled,
		RESTProxyURL: cfg.Exchange.RESTProxyURL,
	})
	realFactory := binance.NewFactory(binance.Config{
		RESTBaseURL:  cfg.Exchange.RESTBaseURL,
		HTTPTimeout:  cfg.Exchange.HTTPTimeout,
		ProxyEnabled: cfg.Exchange.ProxyEnabled,
		RESTProxyURL: cfg.Exchange.RESTProxyURL,
	})
	paperFactory := paper.NewFactory(source, nil)

	app := &App{cfg: cfg, db: db}
	provider, err := app.buildCoinsProvider(source)
	if err != nil {
		db.Close()
		return nil, err
	}

	executor := engine.NewOrderExecutor(
		realFactory,
		paperFactory,
		db.Positions(),
		db.Trades(),
		db.AlgoOrders(),
		db.Snapshots(),
		engine.NewPrecisionAdjuster(),
		nil,
	)
	processor := engine.NewBatchDecisionProcessor(executor, db.Decisions(), db.Conversations(), nil)
	builder := engine.NewMarketSnapshotBuilder(source, cfg.Market.KlineInterval, cfg.Market.KlineLimit)
	risk := engine.NewRiskGate(db.Snapshots(), db.Trades(), nil)

	app.eng = engine.New(engine.Params{
		Models:     db.Models(),
		Positions:  db.Positions(),
		Snapshots:  db.Snapshots(),
		AlgoOrders: db.AlgoOrders(),
		Clients:    realFactory,
		Traders:    app.buildTraders(),
		Candidates: provider,
		Risk:       risk,
		Executor:   executor,
		Processor:  processor,
		Builder:    builder,
	})

	srv, err := apihttp.NewServer(apihttp.Config{
		Addr:      cfg.Server.Addr,
		Cycles:    app.eng,
		Models:    db.Models(),
		Positions: db.Positions(),
		Trades:    db.Trades(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	app.srv = srv

	if cfg.Scheduler.Enabled {
		app.sched = scheduler.New(app.eng, db.Models(), scheduler.Config{
			BuyInterval:    cfg.Scheduler.BuyInterval,
			SellInterval:   cfg.Scheduler.SellInterval,
			BreakThreshold: cfg.Scheduler.BreakThreshold,
			BreakTimeout:   cfg.Scheduler.BreakTimeout,
		})
	}
	return app, nil
}

func (a *App) buildCoinsProvider(source *binance.MarketSource) (coins.SymbolProvider, error) {
	switch a.cfg.Coins.Mode {
	case "volume":
		return coins.NewVolumeLeaderboard(source, a.cfg.Coins.Symbols, a.cfg.Coins.TopN), nil
	case "file":
		p, err := coins.NewFileProvider(a.cfg.Coins.File)
		if err != nil {
			return nil, fmt.Errorf("初始化候选列表文件失败: %w", err)
		}
		a.file = p
		return p, nil
	default:
		return coins.NewStatic(a.cfg.Coins.Symbols), nil
	}
}

func (a *App) buildTraders() map[string]decision.Trader {
	out := map[string]decision.Trader{
		"strategy": trader.NewRuleTrader(trader.RuleConfig{
			Name:           a.cfg.Rule.Name,
			FastPeriod:     a.cfg.Rule.FastPeriod,
			SlowPeriod:     a.cfg.Rule.SlowPeriod,
			RSIPeriod:      a.cfg.Rule.RSIPeriod,
			RSIOverbought:  a.cfg.Rule.RSIOverbought,
			RSIOversold:    a.cfg.Rule.RSIOversold,
			MarginPerTrade: a.cfg.Rule.MarginPerTrade,
			StopLossPct:    a.cfg.Rule.StopLossPct,
			TakeProfitPct:  a.cfg.Rule.TakeProfitPct,
		}),
	}
	if a.cfg.AI.Model != "" {
		out["ai"] = trader.NewAITrader(&trader.OpenAIChatClient{
			BaseURL:     a.cfg.AI.BaseURL,
			APIKey:      a.cfg.AI.APIKey,
			Model:       a.cfg.AI.Model,
			Temperature: a.cfg.AI.Temperature,
			Timeout:     a.cfg.AI.Timeout,
			MaxRetries:  a.cfg.AI.MaxRetries,
		}, a.cfg.AI.Model)
	}
	return out
}

// Run 启动 HTTP 服务与调度循环，阻塞到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.srv.Start(); err != nil {
		return err
	}
	if a.sched != nil {
		go func() {
			if err := a.sched.Run(ctx); err != nil {
				logger.Errorf("调度器退出: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Infof("收到退出信号，开始关闭")
	if err := a.srv.Shutdown(context.Background()); err != nil {
		logger.Warnf("HTTP 关闭失败: %v", err)
	}
	if a.file != nil {
		a.file.Close()
	}
	return a.db.Close()
}
