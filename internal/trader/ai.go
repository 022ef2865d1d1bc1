// Package trader 提供两类决策实现：调用大模型的 AI 交易员
// 与基于技术指标的规则交易员，二者都实现 decision.Trader。
package trader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"aquant/internal/decision"
	"aquant/internal/logger"
	"aquant/internal/market"
	storemodel "aquant/internal/store/model"
)

const aiSystemPrompt = `你是一名加密货币永续合约交易员。根据用户消息中的行情、账户与持仓数据做出交易决策。
只输出一个 JSON 数组，不要输出任何其他文字。数组元素形如：
{"symbol":"BTCUSDT","signal":"buy_to_long","quantity":100,"leverage":5}
可用信号：buy_to_long, buy_to_short, sell_to_long, sell_to_short, close_position, stop_loss, take_profit, hold。
买入信号的 quantity 是投入保证金（USDT）；卖出信号的 quantity 是平仓合约数量，0 表示全平。
stop_loss / take_profit 必须带 stop_price。没有把握时输出 hold。`

// AITrader 把批次上下文渲染成提示词交给大模型，再把回复解析为决策。
type AITrader struct {
	client ChatClient
	name   string
}

func NewAITrader(client ChatClient, name string) *AITrader {
	if name == "" {
		name = "ai"
	}
	return &AITrader{client: client, name: name}
}

func (t *AITrader) MakeBuyDecision(ctx context.Context, input decision.BuyInput) (*decision.Payload, error) {
	userPrompt := renderBuyPrompt(input)
	return t.call(ctx, userPrompt)
}

func (t *AITrader) MakeSellDecision(ctx context.Context, input decision.SellInput) (*decision.Payload, error) {
	userPrompt := renderSellPrompt(input)
	return t.call(ctx, userPrompt)
}

func (t *AITrader) call(ctx context.Context, userPrompt string) (*decision.Payload, error) {
	raw, err := t.client.CallWithMessages(ctx, aiSystemPrompt, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("ai 决策请求失败: %w", err)
	}
	cleaned := stripCodeFence(raw)
	decisions, err := decision.ParsePayloadJSON(cleaned)
	if err != nil {
		logger.Warnf("[AI] 决策输出无法解析: %v raw=%s", err, truncate(raw, 500))
		return nil, fmt.Errorf("ai 决策输出无法解析: %w", err)
	}
	return &decision.Payload{
		Decisions:    decisions,
		StrategyName: t.name,
		StrategyType: "ai",
		Prompt:       userPrompt,
		Response:     raw,
	}, nil
}

func renderBuyPrompt(input decision.BuyInput) string {
	var b strings.Builder
	b.WriteString("## 任务\n从候选合约中选择值得开仓的标的，其余输出 hold。\n\n")
	fmt.Fprintf(&b, "## 候选合约\n%s\n\n", strings.Join(input.Candidates, ", "))
	writeMarketSection(&b, input.Market, input.Candidates)
	writeAccountSection(&b, input.Account)
	writePortfolioSection(&b, input.Portfolio)
	return b.String()
}

func renderSellPrompt(input decision.SellInput) string {
	var b strings.Builder
	b.WriteString("## 任务\n评估下列持仓：继续持有输出 hold，止盈止损用 stop_loss/take_profit，需要离场用 sell_to_long/sell_to_short 或 close_position。\n\n")
	symbols := make([]string, 0, len(input.Portfolio))
	for _, p := range input.Portfolio {
		symbols = append(symbols, p.Symbol)
	}
	writeMarketSection(&b, input.Market, symbols)
	writeAccountSection(&b, input.Account)
	writePortfolioSection(&b, input.Portfolio)
	if len(input.ConditionalOrders) > 0 {
		data, _ := json.Marshal(input.ConditionalOrders)
		fmt.Fprintf(&b, "## 已挂条件单\n%s\n\n", data)
	}
	return b.String()
}

func writeMarketSection(b *strings.Builder, state *decision.MarketState, symbols []string) {
	if state == nil {
		return
	}
	b.WriteString("## 行情\n")
	for _, sym := range symbols {
		price, ok := state.Prices[sym]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "- %s 最新价 %.8g", sym, price)
		if v, ok := state.Volumes[sym]; ok {
			fmt.Fprintf(b, "，24h 成交额 %.0f USDT", v.Quote)
		}
		if kl := state.Klines[sym]; len(kl) > 0 {
			fmt.Fprintf(b, "，近 %d 根 K 线收盘价 %s", len(kl), closesSummary(kl))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func writeAccountSection(b *strings.Builder, account *storemodel.AccountSnapshot) {
	if account == nil {
		return
	}
	fmt.Fprintf(b, "## 账户\n余额 %.2f，可用 %.2f，未实现盈亏 %.2f\n\n",
		account.Balance, account.Available, account.UnrealizedPnL)
}

func writePortfolioSection(b *strings.Builder, portfolio []storemodel.Position) {
	if len(portfolio) == 0 {
		return
	}
	b.WriteString("## 当前持仓\n")
	for _, p := range portfolio {
		fmt.Fprintf(b, "- %s %s 数量 %.8g 开仓均价 %.8g 杠杆 %dx\n",
			p.Symbol, p.PositionSide, p.Amount, p.AvgPrice, p.Leverage)
	}
	b.WriteString("\n")
}

// closesSummary 收盘价序列太长时只保留尾部，避免提示词爆炸。
func closesSummary(klines []market.Candle) string {
	const tail = 20
	start := 0
	if len(klines) > tail {
		start = len(klines) - tail
	}
	parts := make([]string, 0, len(klines)-start)
	for _, k := range klines[start:] {
		parts = append(parts, fmt.Sprintf("%.8g", k.Close))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// stripCodeFence 去掉模型喜欢包裹的 ```json 围栏。
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
