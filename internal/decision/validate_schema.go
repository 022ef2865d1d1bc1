package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// 决策数组的结构约束。宽松字段（reasoning 等）允许出现但不校验。
const decisionArraySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["symbol", "signal"],
    "properties": {
      "symbol": {"type": "string", "minLength": 1},
      "signal": {
        "type": "string",
        "enum": [
          "buy_to_long", "buy_to_short",
          "sell_to_long", "sell_to_short",
          "close_position", "stop_loss", "take_profit", "hold"
        ]
      },
      "quantity": {"type": "number", "minimum": 0},
      "price": {"type": "number", "minimum": 0},
      "stop_price": {"type": "number", "minimum": 0},
      "leverage": {"type": "integer", "minimum": 0}
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("decision_array.json", decisionArraySchema)

func validateDecisionArray(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("json 内容为空")
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("json 格式无效: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return fmt.Errorf("决策结构校验失败: %w", err)
	}
	// schema 只约束形态，这里再做信号级的字段要求。
	items, ok := doc.([]any)
	if !ok {
		return fmt.Errorf("根节点必须是 JSON 数组")
	}
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sig, _ := obj["signal"].(string)
		switch Signal(sig) {
		case SignalStopLoss, SignalTakeProfit:
			if num, _ := obj["stop_price"].(float64); num <= 0 {
				return fmt.Errorf("决策#%d %s 缺少 stop_price", i+1, sig)
			}
		}
	}
	return nil
}
