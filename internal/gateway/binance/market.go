package binance

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"aquant/internal/market"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/spf13/cast"
)

const maxKlineLimit = 1500

// MarketSource 基于 go-binance SDK 实现 market.Source，只走公共行情接口。
type MarketSource struct {
	cfg    Config
	client *futures.Client
}

var _ market.Source = (*MarketSource)(nil)

func NewMarketSource(cfg Config) *MarketSource {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &MarketSource{cfg: final, client: client}
}

func (s *MarketSource) CurrentPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	prices, err := s.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		wanted[strings.ToUpper(strings.TrimSpace(sym))] = struct{}{}
	}
	out := make(map[string]float64, len(symbols))
	for _, p := range prices {
		if p == nil {
			continue
		}
		if _, ok := wanted[p.Symbol]; !ok {
			continue
		}
		out[p.Symbol] = cast.ToFloat64(p.Price)
	}
	return out, nil
}

func (s *MarketSource) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	kls, err := s.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      cast.ToFloat64(kl.Open),
			High:      cast.ToFloat64(kl.High),
			Low:       cast.ToFloat64(kl.Low),
			Close:     cast.ToFloat64(kl.Close),
			Volume:    cast.ToFloat64(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func (s *MarketSource) Volumes24h(ctx context.Context, symbols []string) (map[string]market.Volume, error) {
	if len(symbols) == 0 {
		return map[string]market.Volume{}, nil
	}
	stats, err := s.client.NewListPriceChangeStatsService().Do(ctx)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		wanted[strings.ToUpper(strings.TrimSpace(sym))] = struct{}{}
	}
	out := make(map[string]market.Volume, len(symbols))
	for _, st := range stats {
		if st == nil {
			continue
		}
		if _, ok := wanted[st.Symbol]; !ok {
			continue
		}
		out[st.Symbol] = market.Volume{
			Base:  cast.ToFloat64(st.Volume),
			Quote: cast.ToFloat64(st.QuoteVolume),
		}
	}
	return out, nil
}
