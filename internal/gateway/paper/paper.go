// Package paper 内存模拟交易所，供虚拟盘模型使用。
// 执行路径与实盘完全一致，只是成交回报由行情价推算。
package paper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"aquant/internal/gateway/exchange"
	"aquant/internal/market"
)

// Client 实现 exchange.OrderClient。市价单按行情源当前价全量成交，
// 条件单只登记不触发（触发与平仓由引擎的止盈止损信号驱动）。
type Client struct {
	source market.Source
	rules  map[string]exchange.InstrumentRules

	mu           sync.Mutex
	conditionals map[string][]exchange.ConditionalOrder
	nextOrderID  atomic.Int64
}

func NewClient(source market.Source, rules map[string]exchange.InstrumentRules) *Client {
	return &Client{
		source:       source,
		rules:        rules,
		conditionals: make(map[string][]exchange.ConditionalOrder),
	}
}

// NewFactory 所有虚拟模型共享同一个模拟交易所实例；密钥参数被忽略。
func NewFactory(source market.Source, rules map[string]exchange.InstrumentRules) exchange.ClientFactory {
	client := NewClient(source, rules)
	return func(_, _ string) exchange.OrderClient { return client }
}

func (c *Client) SetLeverage(context.Context, string, int) error { return nil }

func (c *Client) SetIsolatedMargin(context.Context, string) error { return nil }

func (c *Client) MarketOrder(ctx context.Context, symbol, side, positionSide string, qty float64) (*exchange.MarketOrderResult, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("paper: 无效数量 %v", qty)
	}
	prices, err := c.source.CurrentPrices(ctx, []string{symbol})
	if err != nil {
		return nil, fmt.Errorf("paper: 获取 %s 价格失败: %w", symbol, err)
	}
	price, ok := prices[symbol]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("paper: %s 无有效价格", symbol)
	}
	return &exchange.MarketOrderResult{
		OrderID:     c.nextOrderID.Add(1),
		ExecutedQty: qty,
		AvgPrice:    price,
		Type:        "MARKET",
	}, nil
}

func (c *Client) PlaceConditional(_ context.Context, req exchange.ConditionalRequest) (int64, error) {
	if req.StopPrice <= 0 {
		return 0, fmt.Errorf("paper: 条件单缺少触发价")
	}
	id := c.nextOrderID.Add(1)
	c.mu.Lock()
	c.conditionals[req.Symbol] = append(c.conditionals[req.Symbol], exchange.ConditionalOrder{
		AlgoID:        id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		PositionSide:  req.PositionSide,
		OrderType:     req.OrderType,
		Quantity:      req.Quantity,
		StopPrice:     req.StopPrice,
		Status:        "NEW",
	})
	c.mu.Unlock()
	return id, nil
}

func (c *Client) QueryConditionals(_ context.Context, symbol string) ([]exchange.ConditionalOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := c.conditionals[symbol]
	out := make([]exchange.ConditionalOrder, len(orders))
	copy(out, orders)
	return out, nil
}

func (c *Client) CancelAllConditionals(_ context.Context, symbol string) error {
	c.mu.Lock()
	delete(c.conditionals, symbol)
	c.mu.Unlock()
	return nil
}

func (c *Client) InstrumentRules(_ context.Context, symbol string) (*exchange.InstrumentRules, error) {
	if r, ok := c.rules[symbol]; ok {
		rc := r
		return &rc, nil
	}
	// 未配置的合约给一个宽松默认值，精度层还有自己的兜底
	return &exchange.InstrumentRules{StepSize: 0.001, TickSize: 0.01}, nil
}

// AccountInfo 模拟盘的账户权威数据在本地账本里，这里永远报错，
// 促使调用方走本地快照推算分支。
func (c *Client) AccountInfo(context.Context) (*exchange.AccountInfo, error) {
	return nil, fmt.Errorf("paper: 模拟盘无交易所账户")
}
