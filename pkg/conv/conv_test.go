package conv

import (
	"encoding/json"
	"math"
	"testing"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 0.25, 0.25, true},
		{"int", 52, 52, true},
		{"字符串", "1", 1, true},
		{"带空白字符串", " 3.5 ", 3.5, true},
		{"json.Number", json.Number("7"), 7, true},
		{"true", true, 1, true},
		{"false", false, 0, true},
		{"nil", nil, 0, false},
		{"非数字字符串", "yes", 0, false},
		{"数组", []any{1}, 0, false},
		{"对象", map[string]any{"a": 1}, 0, false},
		{"nan 字符串", "nan", 0, false},
		{"inf 字符串", "inf", 0, false},
		{"Infinity 字符串", "-Infinity", 0, false},
		{"NaN", math.NaN(), 0, false},
		{"+Inf", math.Inf(1), 0, false},
		{"float32 Inf", float32(math.Inf(-1)), 0, false},
		{"json.Number 溢出", json.Number("1e400"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ToFloat64(%v) = (%v, %v), 期望 (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
