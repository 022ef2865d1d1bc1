package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aquant/internal/engine"
	"aquant/internal/store"
	storemodel "aquant/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCycles struct {
	result *engine.CycleResult
	lastID int64
	kind   string
}

func (s *stubCycles) RunBuyCycle(_ context.Context, id int64) *engine.CycleResult {
	s.lastID, s.kind = id, "buy"
	return s.result
}

func (s *stubCycles) RunSellCycle(_ context.Context, id int64) *engine.CycleResult {
	s.lastID, s.kind = id, "sell"
	return s.result
}

type stubModels struct {
	flagsID  int64
	autoBuy  bool
	autoSell bool
	missing  bool
}

func (s *stubModels) Get(context.Context, int64) (*storemodel.Model, error) {
	return nil, store.ErrNotFound
}

func (s *stubModels) List(context.Context) ([]storemodel.Model, error) {
	return []storemodel.Model{{ID: 1, Name: "demo", APIKey: "secret", APISecret: "secret"}}, nil
}

func (s *stubModels) SetAutoFlags(_ context.Context, id int64, autoBuy, autoSell bool) error {
	if s.missing {
		return store.ErrNotFound
	}
	s.flagsID, s.autoBuy, s.autoSell = id, autoBuy, autoSell
	return nil
}

type stubPositions struct{ list []storemodel.Position }

func (s *stubPositions) Get(context.Context, int64, string, string) (*storemodel.Position, error) {
	return nil, store.ErrNotFound
}
func (s *stubPositions) ListByModel(context.Context, int64) ([]storemodel.Position, error) {
	return s.list, nil
}
func (s *stubPositions) Upsert(context.Context, *storemodel.Position) error      { return nil }
func (s *stubPositions) Delete(context.Context, int64, string, string) error     { return nil }

type stubTrades struct{ list []storemodel.Trade }

func (s *stubTrades) Insert(context.Context, *storemodel.Trade) error { return nil }
func (s *stubTrades) ListByCycle(context.Context, string) ([]storemodel.Trade, error) {
	return s.list, nil
}
func (s *stubTrades) ListSellsToday(context.Context, int64, int64, int) ([]storemodel.Trade, error) {
	return nil, nil
}

func newTestServer(t *testing.T, cycles *stubCycles, models *stubModels) *Server {
	t.Helper()
	if cycles == nil {
		cycles = &stubCycles{result: &engine.CycleResult{Success: true}}
	}
	if models == nil {
		models = &stubModels{}
	}
	s, err := NewServer(Config{
		Cycles:    cycles,
		Models:    models,
		Positions: &stubPositions{list: []storemodel.Position{{ModelID: 1, Symbol: "BTCUSDT"}}},
		Trades:    &stubTrades{list: []storemodel.Trade{{ID: "t1", ModelID: 1}, {ID: "t2", ModelID: 2}}},
	})
	require.NoError(t, err)
	return s
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestBuyCycleEndpoint(t *testing.T) {
	cycles := &stubCycles{result: &engine.CycleResult{Success: true, CycleID: "c1"}}
	s := newTestServer(t, cycles, nil)

	w := do(s, http.MethodPost, "/api/models/3/buy-cycle", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(3), cycles.lastID)
	assert.Equal(t, "buy", cycles.kind)

	var result engine.CycleResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "c1", result.CycleID)
}

func TestCycleEndpointMapsModelNotFound(t *testing.T) {
	cycles := &stubCycles{result: &engine.CycleResult{Error: engine.ErrModelNotFound.Error()}}
	s := newTestServer(t, cycles, nil)

	w := do(s, http.MethodPost, "/api/models/9/sell-cycle", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "sell", cycles.kind)
}

func TestCycleEndpointRejectsBadID(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := do(s, http.MethodPost, "/api/models/abc/buy-cycle", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAutoFlagsEndpoint(t *testing.T) {
	models := &stubModels{}
	s := newTestServer(t, nil, models)

	w := do(s, http.MethodPut, "/api/models/2/auto", `{"auto_buy":true,"auto_sell":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), models.flagsID)
	assert.True(t, models.autoBuy)
	assert.False(t, models.autoSell)

	missing := &stubModels{missing: true}
	s = newTestServer(t, nil, missing)
	w = do(s, http.MethodPut, "/api/models/2/auto", `{"auto_buy":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestModelsEndpointMasksCredentials(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestTradesEndpointFiltersByModel(t *testing.T) {
	s := newTestServer(t, nil, nil)

	w := do(s, http.MethodGet, "/api/models/1/trades?cycle_id=c", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "t1")
	assert.NotContains(t, w.Body.String(), "t2")

	w = do(s, http.MethodGet, "/api/models/1/trades", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
