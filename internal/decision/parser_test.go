package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceDecisionArrayJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "裸数组原样返回",
			raw:  `[{"symbol":"BTCUSDT","signal":"hold"}]`,
			want: `[{"symbol":"BTCUSDT","signal":"hold"}]`,
		},
		{
			name: "decisions 包装对象取内层数组",
			raw:  `{"decisions":[{"symbol":"BTCUSDT","signal":"hold"}],"note":"x"}`,
			want: `[{"symbol":"BTCUSDT","signal":"hold"}]`,
		},
		{
			name: "单个决策对象包成数组",
			raw:  `{"symbol":"BTCUSDT","signal":"hold"}`,
			want: `[{"symbol":"BTCUSDT","signal":"hold"}]`,
		},
		{name: "空内容", raw: "   ", wantErr: true},
		{name: "无效 json", raw: `{"symbol":`, wantErr: true},
		{name: "根节点是标量", raw: `"hold"`, wantErr: true},
		{name: "decisions 不是数组", raw: `{"decisions":{"symbol":"BTCUSDT"}}`, wantErr: true},
		{name: "对象既无 decisions 也无 signal", raw: `{"foo":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceDecisionArrayJSON(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestParsePayloadJSONNormalizesSymbols(t *testing.T) {
	raw := `[
	  {"symbol":" btcusdt ","signal":"buy_to_long","quantity":100},
	  {"symbol":"BTCUSDT","signal":"hold"},
	  {"symbol":"","signal":"hold"}
	]`
	out, err := ParsePayloadJSON(raw)
	require.NoError(t, err)
	require.Len(t, out, 1, "空 symbol 被丢弃，其余按币种归组")
	require.Len(t, out["BTCUSDT"], 2)
	assert.Equal(t, SignalBuyToLong, out["BTCUSDT"][0].Signal)
	assert.Equal(t, 100.0, out["BTCUSDT"][0].Quantity)
}

func TestParsePayloadJSONRejectsUnknownSignal(t *testing.T) {
	_, err := ParsePayloadJSON(`[{"symbol":"BTCUSDT","signal":"yolo"}]`)
	assert.Error(t, err)
}

func TestParsePayloadJSONRejectsMissingFields(t *testing.T) {
	_, err := ParsePayloadJSON(`[{"signal":"hold"}]`)
	assert.Error(t, err, "缺少 symbol")

	_, err = ParsePayloadJSON(`[{"symbol":"BTCUSDT"}]`)
	assert.Error(t, err, "缺少 signal")
}

func TestParsePayloadJSONConditionalNeedsStopPrice(t *testing.T) {
	_, err := ParsePayloadJSON(`[{"symbol":"BTCUSDT","signal":"stop_loss"}]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_price")

	_, err = ParsePayloadJSON(`[{"symbol":"BTCUSDT","signal":"take_profit","stop_price":0}]`)
	require.Error(t, err)

	out, err := ParsePayloadJSON(`[{"symbol":"BTCUSDT","signal":"stop_loss","stop_price":95.5,"quantity":2}]`)
	require.NoError(t, err)
	assert.Equal(t, 95.5, out["BTCUSDT"][0].StopPrice)
}

func TestParsePayloadJSONToleratesExtraFields(t *testing.T) {
	out, err := ParsePayloadJSON(`[{"symbol":"BTCUSDT","signal":"hold","reasoning":"趋势不明"}]`)
	require.NoError(t, err)
	assert.Len(t, out["BTCUSDT"], 1)
}

func TestSignalDirectionHelpers(t *testing.T) {
	assert.True(t, SignalBuyToLong.ValidForBuy())
	assert.True(t, SignalBuyToShort.ValidForBuy())
	assert.False(t, SignalClosePosition.ValidForBuy())
	assert.False(t, SignalHold.ValidForBuy())

	assert.True(t, SignalClosePosition.ValidForSell())
	assert.True(t, SignalStopLoss.ValidForSell())
	assert.True(t, SignalTakeProfit.ValidForSell())
	assert.False(t, SignalBuyToLong.ValidForSell())
	assert.False(t, SignalHold.ValidForSell())
}
