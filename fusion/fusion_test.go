package fusion

import (
	"testing"

	"github.com/rushteam/oralcare/core"
)

func ptr(v float64) *float64 { return &v }

func TestEngine_Fuse(t *testing.T) {
	e := New()
	tests := []struct {
		name      string
		image     float64
		metadata  *float64
		wantScore float64
		wantLabel core.Decision
	}{
		{"image only malignant", 0.9, nil, 0.9, core.DecisionMalignant},
		{"metadata lifts score", 0.4, ptr(0.9), 0.55, core.DecisionMalignant},
		{"both low", 0.3, ptr(0.3), 0.3, core.DecisionBenign},
		{"boundary is inclusive", 0.5, ptr(0.5), 0.5, core.DecisionMalignant},
		{"image only boundary", 0.5, nil, 0.5, core.DecisionMalignant},
		{"just below threshold rounds up but stays benign", 0.4996, nil, 0.5, core.DecisionBenign},
		{"zero", 0, ptr(0), 0, core.DecisionBenign},
		{"one", 1, ptr(1), 1, core.DecisionMalignant},
		{"image only rounding", 0.12345, nil, 0.123, core.DecisionBenign},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Fuse(tt.image, tt.metadata)
			if got.FinalScore != tt.wantScore {
				t.Errorf("FinalScore = %v, 期望 %v", got.FinalScore, tt.wantScore)
			}
			if got.FinalDecision != tt.wantLabel {
				t.Errorf("FinalDecision = %v, 期望 %v", got.FinalDecision, tt.wantLabel)
			}
		})
	}
}

func TestEngine_FuseIdempotent(t *testing.T) {
	e := New()
	for _, in := range [][2]float64{{0.4, 0.9}, {0.123, 0.877}, {0.77, 0.01}} {
		m := in[1]
		a := e.Fuse(in[0], &m)
		b := e.Fuse(in[0], &m)
		if a != b {
			t.Errorf("相同输入结果不一致: %v vs %v", a, b)
		}
	}
}

func TestEngine_Options(t *testing.T) {
	e := New(WithWeights(0.65, 0.35), WithThreshold(0.6), WithPrecision(2))
	got := e.Fuse(0.5, ptr(0.8))
	// 0.65*0.5 + 0.35*0.8 = 0.605
	if got.FinalDecision != core.DecisionMalignant {
		t.Errorf("0.605 >= 0.6 应为 Malignant, 实际 %v", got.FinalDecision)
	}
	if got.FinalScore != 0.6 {
		t.Errorf("两位小数舍入结果应为 0.6, 实际 %v", got.FinalScore)
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.55, 0.55},
		{0.1234, 0.123},
		{0.9999, 1},
		{0.0015, 0.002}, // 0.0015 的二进制值略大于中点
		{0.1235, 0.123}, // 0.1235 的二进制值略小于中点
		{-0.3333, -0.333},
	}
	for _, tt := range tests {
		if got := Round(tt.in, 3); got != tt.want {
			t.Errorf("Round(%v, 3) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
	if got := Round(0.123456, -1); got != 0.123456 {
		t.Errorf("负精度应原样返回, 实际 %v", got)
	}
}
