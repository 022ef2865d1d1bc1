package exchange

import "context"

// OrderClient 交易所下单能力。所有调用都要求幂等可重试；
// 引擎本身不做自动重试，失败的调用会以失败 Trade 落账。
type OrderClient interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SetIsolatedMargin 将合约切换到逐仓模式，仅实盘需要。
	SetIsolatedMargin(ctx context.Context, symbol string) error

	MarketOrder(ctx context.Context, symbol, side, positionSide string, qty float64) (*MarketOrderResult, error)

	PlaceConditional(ctx context.Context, req ConditionalRequest) (int64, error)

	QueryConditionals(ctx context.Context, symbol string) ([]ConditionalOrder, error)

	CancelAllConditionals(ctx context.Context, symbol string) error

	InstrumentRules(ctx context.Context, symbol string) (*InstrumentRules, error)

	AccountInfo(ctx context.Context) (*AccountInfo, error)
}

// ClientFactory 每次调用都用模型当前的密钥新建客户端，
// 密钥轮换无需重启即可生效。
type ClientFactory func(apiKey, apiSecret string) OrderClient
