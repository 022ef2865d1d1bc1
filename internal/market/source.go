package market

import "context"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Volume 24 小时成交量（基础币量 + 计价币量）。
type Volume struct {
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Source 行情数据能力。引擎只消费、不实现指标计算以外的任何逻辑。
type Source interface {
	// CurrentPrices 返回每个币种的最新标记价格。
	CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error)

	// Klines 返回指定周期的 K 线，最新的在最后。
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	// Volumes24h 返回 24 小时成交量。
	Volumes24h(ctx context.Context, symbols []string) (map[string]Volume, error)
}
