package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"aquant/internal/engine"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	buys  int
	sells int
	fail  bool
}

func (f *fakeRunner) RunBuyCycle(context.Context, int64) *engine.CycleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
	if f.fail {
		return &engine.CycleResult{Error: "boom"}
	}
	return &engine.CycleResult{Success: true}
}

func (f *fakeRunner) RunSellCycle(context.Context, int64) *engine.CycleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells++
	return &engine.CycleResult{Success: true}
}

func (f *fakeRunner) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buys, f.sells
}

type fakeModels struct {
	models []storemodel.Model
}

func (f *fakeModels) Get(_ context.Context, id int64) (*storemodel.Model, error) {
	for i := range f.models {
		if f.models[i].ID == id {
			m := f.models[i]
			return &m, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeModels) List(context.Context) ([]storemodel.Model, error) {
	return f.models, nil
}

func (f *fakeModels) SetAutoFlags(context.Context, int64, bool, bool) error { return nil }

func TestSchedulerRunsEnabledLoops(t *testing.T) {
	runner := &fakeRunner{}
	models := &fakeModels{models: []storemodel.Model{
		{ID: 1, AutoBuyEnabled: true, AutoSellEnabled: true},
	}}
	s := New(runner, models, Config{
		BuyInterval:  20 * time.Millisecond,
		SellInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	buys, sells := runner.counts()
	assert.Greater(t, buys, 0)
	assert.Greater(t, sells, 0)
}

func TestSchedulerSkipsDisabledFlags(t *testing.T) {
	runner := &fakeRunner{}
	models := &fakeModels{models: []storemodel.Model{
		{ID: 1, AutoBuyEnabled: false, AutoSellEnabled: true},
	}}
	s := New(runner, models, Config{
		BuyInterval:  20 * time.Millisecond,
		SellInterval: 20 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	buys, sells := runner.counts()
	assert.Zero(t, buys)
	assert.Greater(t, sells, 0)
}

func TestSchedulerBreakerStopsAfterRepeatedFailures(t *testing.T) {
	runner := &fakeRunner{fail: true}
	models := &fakeModels{models: []storemodel.Model{
		{ID: 1, AutoBuyEnabled: true},
	}}
	s := New(runner, models, Config{
		BuyInterval:    10 * time.Millisecond,
		SellInterval:   time.Hour,
		BreakThreshold: 3,
		BreakTimeout:   time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	buys, _ := runner.counts()
	// 熔断后不再触发，失败次数停在阈值附近
	assert.LessOrEqual(t, buys, 4)
	assert.GreaterOrEqual(t, buys, 3)
}
