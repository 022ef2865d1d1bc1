// Package coins 提供买入周期的候选标的来源。
package coins

import (
	"context"
	"sort"
	"strings"

	"aquant/internal/market"
)

// SymbolProvider 返回一次买入周期的候选合约列表，顺序即优先级。
type SymbolProvider interface {
	List(ctx context.Context) ([]string, error)
}

// Static 固定候选列表。
type Static struct {
	symbols []string
}

func NewStatic(symbols []string) *Static {
	return &Static{symbols: normalize(symbols)}
}

func (s *Static) List(context.Context) ([]string, error) {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out, nil
}

// VolumeLeaderboard 按 24h 计价币成交额取行情源中的头部合约。
type VolumeLeaderboard struct {
	source   market.Source
	universe []string
	limit    int
}

func NewVolumeLeaderboard(source market.Source, universe []string, limit int) *VolumeLeaderboard {
	if limit <= 0 {
		limit = 10
	}
	return &VolumeLeaderboard{source: source, universe: normalize(universe), limit: limit}
}

func (v *VolumeLeaderboard) List(ctx context.Context) ([]string, error) {
	vols, err := v.source.Volumes24h(ctx, v.universe)
	if err != nil {
		return nil, err
	}
	ranked := make([]string, 0, len(v.universe))
	for _, sym := range v.universe {
		if _, ok := vols[sym]; ok {
			ranked = append(ranked, sym)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return vols[ranked[i]].Quote > vols[ranked[j]].Quote
	})
	if len(ranked) > v.limit {
		ranked = ranked[:v.limit]
	}
	return ranked, nil
}

func normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
