package engine

import (
	"context"
	"time"

	"aquant/internal/gateway/exchange"
	"aquant/internal/logger"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

// 查不到交易规则时的保守兜底：整数数量、两位小数价格。
var fallbackRules = exchange.InstrumentRules{StepSize: 1, TickSize: 0.01}

const rulesTTL = time.Hour

// PrecisionAdjuster 把数量/价格对齐到交易所的步长网格。
// 规则按币种缓存 1 小时；缓存自带锁，是唯一不受交易锁保护的可变状态。
type PrecisionAdjuster struct {
	cache *gocache.Cache
}

func NewPrecisionAdjuster() *PrecisionAdjuster {
	return &PrecisionAdjuster{
		cache: gocache.New(rulesTTL, 10*time.Minute),
	}
}

// Rules 返回币种的交易规则，过期或缺失时从交易所刷新。
// 查询失败回退到保守默认值而不是让交易失败。
func (p *PrecisionAdjuster) Rules(ctx context.Context, client exchange.OrderClient, symbol string) exchange.InstrumentRules {
	if v, ok := p.cache.Get(symbol); ok {
		if rules, ok := v.(exchange.InstrumentRules); ok {
			return rules
		}
	}
	rules, err := client.InstrumentRules(ctx, symbol)
	if err != nil || rules == nil {
		logger.Warnf("获取交易规则失败，使用保守默认值 symbol=%s err=%v", symbol, err)
		return fallbackRules
	}
	p.cache.Set(symbol, *rules, gocache.DefaultExpiration)
	return *rules
}

// AdjustQuantity 将数量向下对齐到 stepSize 的整数倍。
// stepSize >= 1 时退化为截断取整。结果满足幂等：再调整一次不变。
func AdjustQuantity(qty, stepSize float64) float64 {
	return snapToGrid(qty, stepSize)
}

// AdjustPrice 将价格向下对齐到 tickSize 的整数倍。
func AdjustPrice(price, tickSize float64) float64 {
	return snapToGrid(price, tickSize)
}

func snapToGrid(v, grid float64) float64 {
	if grid <= 0 || v <= 0 {
		return v
	}
	dv := decimal.NewFromFloat(v)
	dg := decimal.NewFromFloat(grid)
	steps := dv.Div(dg).Floor()
	out, _ := steps.Mul(dg).Float64()
	return out
}
