package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aquant/internal/gateway/exchange"
	"aquant/internal/market"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"
)

// 共享的内存仓储替身与脚本化交易所，engine 包的各个测试文件复用。

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type posKey struct {
	modelID int64
	symbol  string
	side    string
}

type memPositions struct {
	mu   sync.Mutex
	rows map[posKey]storemodel.Position
}

func newMemPositions() *memPositions {
	return &memPositions{rows: make(map[posKey]storemodel.Position)}
}

func (r *memPositions) Get(_ context.Context, modelID int64, symbol, side string) (*storemodel.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[posKey{modelID, symbol, side}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (r *memPositions) ListByModel(_ context.Context, modelID int64) ([]storemodel.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.Position
	for k, p := range r.rows {
		if k.modelID == modelID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *memPositions) Upsert(_ context.Context, p *storemodel.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[posKey{p.ModelID, p.Symbol, p.PositionSide}] = *p
	return nil
}

func (r *memPositions) Delete(_ context.Context, modelID int64, symbol, side string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, posKey{modelID, symbol, side})
	return nil
}

type memTrades struct {
	mu   sync.Mutex
	rows []storemodel.Trade
	// sellsToday 预置 ListSellsToday 的返回值，绕开时间筛选
	sellsToday []storemodel.Trade
}

func (r *memTrades) Insert(_ context.Context, t *storemodel.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *t)
	return nil
}

func (r *memTrades) ListByCycle(_ context.Context, cycleID string) ([]storemodel.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.Trade
	for _, t := range r.rows {
		if t.CycleID == cycleID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memTrades) ListSellsToday(_ context.Context, _ int64, _ int64, limit int) ([]storemodel.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sellsToday
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memTrades) all() []storemodel.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storemodel.Trade, len(r.rows))
	copy(out, r.rows)
	return out
}

type memAlgoOrders struct {
	mu     sync.Mutex
	nextID int64
	rows   []storemodel.AlgoOrder
}

func (r *memAlgoOrders) Insert(_ context.Context, o *storemodel.AlgoOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	o.ID = r.nextID
	r.rows = append(r.rows, *o)
	return nil
}

func (r *memAlgoOrders) ListNew(_ context.Context, modelID int64, symbol string) ([]storemodel.AlgoOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.AlgoOrder
	for _, o := range r.rows {
		if o.ModelID == modelID && o.Symbol == symbol && o.Status == storemodel.AlgoStatusNew {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memAlgoOrders) ListNewByModel(_ context.Context, modelID int64) ([]storemodel.AlgoOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.AlgoOrder
	for _, o := range r.rows {
		if o.ModelID == modelID && o.Status == storemodel.AlgoStatusNew {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memAlgoOrders) UpdateStatus(_ context.Context, id int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows[i].Status = status
			return nil
		}
	}
	return store.ErrNotFound
}

func (r *memAlgoOrders) all() []storemodel.AlgoOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storemodel.AlgoOrder, len(r.rows))
	copy(out, r.rows)
	return out
}

type memSnapshots struct {
	mu      sync.Mutex
	current map[int64]storemodel.AccountSnapshot
	history []storemodel.AccountSnapshotHistory
	// firstToday 预置 FirstToday 的返回值
	firstToday map[int64]*storemodel.AccountSnapshotHistory
	// currentErr 非 nil 时 Current 直接返回该错误
	currentErr error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{
		current:    make(map[int64]storemodel.AccountSnapshot),
		firstToday: make(map[int64]*storemodel.AccountSnapshotHistory),
	}
}

func (r *memSnapshots) Current(_ context.Context, modelID int64) (*storemodel.AccountSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentErr != nil {
		return nil, r.currentErr
	}
	snap, ok := r.current[modelID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := snap
	return &cp, nil
}

func (r *memSnapshots) Save(_ context.Context, snap *storemodel.AccountSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[snap.ModelID] = *snap
	r.history = append(r.history, storemodel.AccountSnapshotHistory{
		ModelID:       snap.ModelID,
		Balance:       snap.Balance,
		Available:     snap.Available,
		CrossWallet:   snap.CrossWallet,
		UnrealizedPnL: snap.UnrealizedPnL,
		TradeID:       snap.TradeID,
		CreatedAtUnix: snap.UpdatedAtUnix,
	})
	return nil
}

func (r *memSnapshots) FirstToday(_ context.Context, modelID int64, _ int64) (*storemodel.AccountSnapshotHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.firstToday[modelID]; ok && h != nil {
		cp := *h
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (r *memSnapshots) HasHistory(_ context.Context, modelID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.history {
		if h.ModelID == modelID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memSnapshots) setCurrent(snap storemodel.AccountSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[snap.ModelID] = snap
}

func (r *memSnapshots) historyRows() []storemodel.AccountSnapshotHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storemodel.AccountSnapshotHistory, len(r.history))
	copy(out, r.history)
	return out
}

type memDecisions struct {
	mu   sync.Mutex
	rows []storemodel.StrategyDecision
}

func (r *memDecisions) Insert(_ context.Context, d *storemodel.StrategyDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.rows {
		if existing.CycleID == d.CycleID && existing.Symbol == d.Symbol {
			// 唯一索引：重复写静默丢弃
			return nil
		}
	}
	d.ID = int64(len(r.rows) + 1)
	r.rows = append(r.rows, *d)
	return nil
}

func (r *memDecisions) ListByCycle(_ context.Context, cycleID string) ([]storemodel.StrategyDecision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.StrategyDecision
	for _, d := range r.rows {
		if d.CycleID == cycleID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDecisions) Transition(_ context.Context, cycleID, symbol, status, tradeID, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].CycleID == cycleID && r.rows[i].Symbol == symbol {
			r.rows[i].Status = status
			r.rows[i].TradeID = tradeID
			r.rows[i].ErrorMsg = errMsg
			return nil
		}
	}
	return store.ErrNotFound
}

type memConversations struct {
	mu   sync.Mutex
	rows []storemodel.Conversation
}

func (r *memConversations) Insert(_ context.Context, c *storemodel.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *c)
	return nil
}

func (r *memConversations) ListByCycle(_ context.Context, cycleID string) ([]storemodel.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storemodel.Conversation
	for _, c := range r.rows {
		if c.CycleID == cycleID {
			out = append(out, c)
		}
	}
	return out, nil
}

// scriptedExchange 可脚本化的交易所替身，记录全部调用。
type scriptedExchange struct {
	mu sync.Mutex

	orderErr       error
	orderResult    *exchange.MarketOrderResult
	conditionalErr error
	accountInfo    *exchange.AccountInfo
	rules          *exchange.InstrumentRules
	// orderDelay 拉长每次下单的停留时间，用于暴露并发穿插
	orderDelay time.Duration

	inFlight int32
	overlaps int32

	marketOrders     []exchange.ConditionalRequest // 只借用字段记录市价单参数
	conditionals     []exchange.ConditionalRequest
	cancelledSymbols []string
	nextAlgoID       int64
}

func newScriptedExchange() *scriptedExchange {
	return &scriptedExchange{
		rules: &exchange.InstrumentRules{StepSize: 0.001, TickSize: 0.01},
	}
}

func (f *scriptedExchange) factory() exchange.ClientFactory {
	return func(_, _ string) exchange.OrderClient { return f }
}

func (f *scriptedExchange) SetLeverage(context.Context, string, int) error  { return nil }
func (f *scriptedExchange) SetIsolatedMargin(context.Context, string) error { return nil }

func (f *scriptedExchange) MarketOrder(_ context.Context, symbol, side, positionSide string, qty float64) (*exchange.MarketOrderResult, error) {
	if atomic.AddInt32(&f.inFlight, 1) > 1 {
		atomic.AddInt32(&f.overlaps, 1)
	}
	defer atomic.AddInt32(&f.inFlight, -1)
	if f.orderDelay > 0 {
		time.Sleep(f.orderDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketOrders = append(f.marketOrders, exchange.ConditionalRequest{
		Symbol: symbol, Side: side, PositionSide: positionSide, Quantity: qty,
	})
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	if f.orderResult != nil {
		return f.orderResult, nil
	}
	return &exchange.MarketOrderResult{OrderID: 1001, Type: "MARKET"}, nil
}

func (f *scriptedExchange) PlaceConditional(_ context.Context, req exchange.ConditionalRequest) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conditionalErr != nil {
		return 0, f.conditionalErr
	}
	f.conditionals = append(f.conditionals, req)
	f.nextAlgoID++
	return 9000 + f.nextAlgoID, nil
}

func (f *scriptedExchange) QueryConditionals(context.Context, string) ([]exchange.ConditionalOrder, error) {
	return nil, nil
}

func (f *scriptedExchange) CancelAllConditionals(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledSymbols = append(f.cancelledSymbols, symbol)
	return nil
}

func (f *scriptedExchange) InstrumentRules(context.Context, string) (*exchange.InstrumentRules, error) {
	if f.rules == nil {
		return nil, fmt.Errorf("no rules")
	}
	return f.rules, nil
}

func (f *scriptedExchange) AccountInfo(context.Context) (*exchange.AccountInfo, error) {
	if f.accountInfo == nil {
		return nil, fmt.Errorf("no account info")
	}
	return f.accountInfo, nil
}

// scriptedSource 静态行情源。
type scriptedSource struct {
	prices   map[string]float64
	klines   map[string][]market.Candle
	volumes  map[string]market.Volume
	priceErr error
	volErr   error
}

func (s *scriptedSource) CurrentPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	if s.priceErr != nil {
		return nil, s.priceErr
	}
	out := make(map[string]float64)
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

func (s *scriptedSource) Klines(_ context.Context, symbol, _ string, _ int) ([]market.Candle, error) {
	if kl, ok := s.klines[symbol]; ok {
		return kl, nil
	}
	return nil, nil
}

func (s *scriptedSource) Volumes24h(_ context.Context, symbols []string) (map[string]market.Volume, error) {
	if s.volErr != nil {
		return nil, s.volErr
	}
	out := make(map[string]market.Volume)
	for _, sym := range symbols {
		if v, ok := s.volumes[sym]; ok {
			out[sym] = v
		}
	}
	return out, nil
}
