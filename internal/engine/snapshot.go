package engine

import (
	"context"
	"fmt"

	"aquant/internal/decision"
	"aquant/internal/logger"
	"aquant/internal/market"
)

// MarketSnapshotBuilder 为一个批次组装行情视图。价格整批拉取保证新鲜，
// K 线按批次内的币种惰性获取，不为整个候选池预计算，控制单周期延迟。
type MarketSnapshotBuilder struct {
	source        market.Source
	klineInterval string
	klineLimit    int
}

func NewMarketSnapshotBuilder(source market.Source, klineInterval string, klineLimit int) *MarketSnapshotBuilder {
	if klineInterval == "" {
		klineInterval = "15m"
	}
	if klineLimit <= 0 {
		klineLimit = 100
	}
	return &MarketSnapshotBuilder{source: source, klineInterval: klineInterval, klineLimit: klineLimit}
}

// Build 返回行情视图和通过校验的币种列表。单个币种的数据问题只剔除该币种，
// 其余照常参与本批决策。
func (b *MarketSnapshotBuilder) Build(ctx context.Context, symbols []string) (*decision.MarketState, []string, error) {
	if len(symbols) == 0 {
		return &decision.MarketState{}, nil, nil
	}
	prices, err := b.source.CurrentPrices(ctx, symbols)
	if err != nil {
		return nil, nil, fmt.Errorf("拉取最新价格失败: %w", err)
	}
	volumes, err := b.source.Volumes24h(ctx, symbols)
	if err != nil {
		logger.Warnf("拉取 24h 成交量失败，继续但不含成交量: %v", err)
		volumes = map[string]market.Volume{}
	}

	state := &decision.MarketState{
		Prices:  make(map[string]float64, len(symbols)),
		Klines:  make(map[string][]market.Candle, len(symbols)),
		Volumes: make(map[string]market.Volume, len(symbols)),
	}
	valid := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			logger.Errorf("币种 %s 价格缺失或非法，剔除本批", sym)
			continue
		}
		klines, err := b.source.Klines(ctx, sym, b.klineInterval, b.klineLimit)
		if err != nil || len(klines) == 0 {
			logger.Errorf("币种 %s K线获取失败，剔除本批: %v", sym, err)
			continue
		}
		state.Prices[sym] = price
		state.Klines[sym] = klines
		if v, ok := volumes[sym]; ok {
			state.Volumes[sym] = v
		}
		valid = append(valid, sym)
	}
	return state, valid, nil
}
