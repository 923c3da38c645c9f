// Package conv 提供宽松的数值转换，用于把请求中的临床字段统一为 float64。
package conv

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToFloat64 将 any 转为 float64。
// 支持各类整数/浮点数、json.Number、可解析为数字的字符串（忽略首尾空白）；bool 视为 1.0/0.0。
// nil、数组、对象、无法解析的字符串以及 NaN/±Inf 返回 (0, false)。
func ToFloat64(v any) (float64, bool) {
	f, ok := toFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat64(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case int16:
		return float64(val), true
	case int8:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case bool:
		if val {
			return 1.0, true
		}
		return 0.0, true
	default:
		return 0, false
	}
}
