package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// CoerceDecisionArrayJSON 将模型原始输出整理为决策数组 JSON。
// 接受裸数组、{"decisions": [...]} 包装对象或单个决策对象。
func CoerceDecisionArrayJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("json 内容为空")
	}
	if !gjson.Valid(raw) {
		return "", fmt.Errorf("json 格式无效")
	}
	parsed := gjson.Parse(raw)
	if parsed.IsArray() {
		return raw, nil
	}
	if !parsed.IsObject() {
		return "", fmt.Errorf("根节点必须是 JSON 数组或对象")
	}
	if decisions := parsed.Get("decisions"); decisions.Exists() {
		if !decisions.IsArray() {
			return "", fmt.Errorf("decisions 必须是数组")
		}
		return strings.TrimSpace(decisions.Raw), nil
	}
	if strings.TrimSpace(parsed.Get("signal").String()) == "" {
		return "", fmt.Errorf("根节点为对象但未包含 decisions 数组或 signal 字段")
	}
	return "[" + raw + "]", nil
}

// ParsePayloadJSON 解析并校验一段原始决策输出，返回按币种分组的决策。
// hold 也会返回（由执行层跳过），但完全无效的信号在这里拒绝。
func ParsePayloadJSON(raw string) (map[string][]Decision, error) {
	coerced, err := CoerceDecisionArrayJSON(raw)
	if err != nil {
		return nil, err
	}
	if err := validateDecisionArray(coerced); err != nil {
		return nil, err
	}
	var items []Decision
	if err := json.Unmarshal([]byte(coerced), &items); err != nil {
		return nil, fmt.Errorf("决策数组解析失败: %w", err)
	}
	out := make(map[string][]Decision, len(items))
	for i := range items {
		d := items[i]
		d.Symbol = strings.ToUpper(strings.TrimSpace(d.Symbol))
		d.Signal = Signal(strings.ToLower(strings.TrimSpace(string(d.Signal))))
		if d.Symbol == "" {
			continue
		}
		out[d.Symbol] = append(out[d.Symbol], d)
	}
	return out, nil
}
