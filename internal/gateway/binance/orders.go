package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"aquant/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/spf13/cast"
)

// OrderClient 基于 go-binance SDK 实现 exchange.OrderClient。
// 实例很廉价，每次下单都从模型当前密钥新建一个。
type OrderClient struct {
	cfg    Config
	client *futures.Client
}

var _ exchange.OrderClient = (*OrderClient)(nil)

func NewOrderClient(cfg Config, apiKey, apiSecret string) (*OrderClient, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(apiKey, apiSecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &OrderClient{cfg: final, client: client}, nil
}

// NewFactory 返回按密钥构建客户端的工厂。构建失败时返回一个
// 所有调用都报错的客户端，调用方把失败记入台账而不是崩溃。
func NewFactory(cfg Config) exchange.ClientFactory {
	return func(apiKey, apiSecret string) exchange.OrderClient {
		c, err := NewOrderClient(cfg, apiKey, apiSecret)
		if err != nil {
			return brokenClient{err: err}
		}
		return c
	}
}

func (c *OrderClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	return err
}

func (c *OrderClient) SetIsolatedMargin(ctx context.Context, symbol string) error {
	err := c.client.NewChangeMarginTypeService().
		Symbol(symbol).
		MarginType(futures.MarginTypeIsolated).
		Do(ctx)
	// 已经是逐仓时交易所返回 -4046，视为成功。
	if err != nil && strings.Contains(err.Error(), "-4046") {
		return nil
	}
	return err
}

func (c *OrderClient) MarketOrder(ctx context.Context, symbol, side, positionSide string, qty float64) (*exchange.MarketOrderResult, error) {
	res, err := c.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		PositionSide(futures.PositionSideType(positionSide)).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(qty)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.MarketOrderResult{
		OrderID:     res.OrderID,
		ExecutedQty: cast.ToFloat64(res.ExecutedQuantity),
		AvgPrice:    cast.ToFloat64(res.AvgPrice),
		Type:        string(res.Type),
	}, nil
}

func (c *OrderClient) PlaceConditional(ctx context.Context, req exchange.ConditionalRequest) (int64, error) {
	svc := c.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		PositionSide(futures.PositionSideType(req.PositionSide)).
		Type(futures.OrderType(req.OrderType)).
		Quantity(formatQty(req.Quantity)).
		StopPrice(formatQty(req.StopPrice))
	if req.Price > 0 {
		svc = svc.Price(formatQty(req.Price))
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

func (c *OrderClient) QueryConditionals(ctx context.Context, symbol string) ([]exchange.ConditionalOrder, error) {
	orders, err := c.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.ConditionalOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil || !isConditionalType(string(o.Type)) {
			continue
		}
		out = append(out, exchange.ConditionalOrder{
			AlgoID:        o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          string(o.Side),
			PositionSide:  string(o.PositionSide),
			OrderType:     string(o.Type),
			Quantity:      cast.ToFloat64(o.OrigQuantity),
			StopPrice:     cast.ToFloat64(o.StopPrice),
			Status:        string(o.Status),
		})
	}
	return out, nil
}

func (c *OrderClient) CancelAllConditionals(ctx context.Context, symbol string) error {
	return c.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
}

func (c *OrderClient) InstrumentRules(ctx context.Context, symbol string) (*exchange.InstrumentRules, error) {
	info, err := c.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		rules := &exchange.InstrumentRules{}
		if f := s.LotSizeFilter(); f != nil {
			rules.StepSize = cast.ToFloat64(f.StepSize)
		}
		if f := s.PriceFilter(); f != nil {
			rules.TickSize = cast.ToFloat64(f.TickSize)
		}
		return rules, nil
	}
	return nil, fmt.Errorf("交易规则未找到: %s", symbol)
}

func (c *OrderClient) AccountInfo(ctx context.Context) (*exchange.AccountInfo, error) {
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.AccountInfo{
		Balance:       cast.ToFloat64(acct.TotalWalletBalance),
		Available:     cast.ToFloat64(acct.AvailableBalance),
		CrossWallet:   cast.ToFloat64(acct.TotalCrossWalletBalance),
		UnrealizedPnL: cast.ToFloat64(acct.TotalUnrealizedProfit),
	}, nil
}

func isConditionalType(t string) bool {
	switch t {
	case exchange.OrderTypeStop, exchange.OrderTypeStopMarket,
		exchange.OrderTypeTakeProfit, exchange.OrderTypeTakeProfitMarket:
		return true
	default:
		return false
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// brokenClient 构建失败时的兜底实现，让调用链拿到明确错误。
type brokenClient struct{ err error }

func (b brokenClient) SetLeverage(context.Context, string, int) error { return b.err }
func (b brokenClient) SetIsolatedMargin(context.Context, string) error {
	return b.err
}
func (b brokenClient) MarketOrder(context.Context, string, string, string, float64) (*exchange.MarketOrderResult, error) {
	return nil, b.err
}
func (b brokenClient) PlaceConditional(context.Context, exchange.ConditionalRequest) (int64, error) {
	return 0, b.err
}
func (b brokenClient) QueryConditionals(context.Context, string) ([]exchange.ConditionalOrder, error) {
	return nil, b.err
}
func (b brokenClient) CancelAllConditionals(context.Context, string) error { return b.err }
func (b brokenClient) InstrumentRules(context.Context, string) (*exchange.InstrumentRules, error) {
	return nil, b.err
}
func (b brokenClient) AccountInfo(context.Context) (*exchange.AccountInfo, error) {
	return nil, b.err
}
