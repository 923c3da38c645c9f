package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
)

// LRModel 实现了逻辑回归 (Logistic Regression) 元数据分类器。
//
// 预测原理：
// 1. 线性加权求和: z = Bias + sum(Weight_i * Feature_i)
// 2. Sigmoid 变换: P = 1 / (1 + exp(-z))
//
// 权重以训练列名（如 "Tobacco Use"）为键，也接受短键名（如 "tobacco"）。
type LRModel struct {
	Bias    float64            // 偏置项 (Bias / Intercept)
	Weights map[string]float64 // 特征权重 (Weights / Coefficients)
}

// LoadLRModel 从 JSON 文件加载，格式：{"bias": -3.2, "weights": {"Tobacco Use": 1.1, ...}}
func LoadLRModel(path string) (*LRModel, error) {
	if err := checkArtifact("metadata", path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errModelLoad("metadata", path, err)
	}
	var raw struct {
		Bias    float64            `json:"bias"`
		Weights map[string]float64 `json:"weights"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errModelLoad("metadata", path, err)
	}
	if len(raw.Weights) == 0 {
		return nil, errModelLoad("metadata", path, fmt.Errorf("no weights"))
	}
	return &LRModel{Bias: raw.Bias, Weights: raw.Weights}, nil
}

func (m *LRModel) Name() string { return "lr" }

// PredictProba 返回正类概率
func (m *LRModel) PredictProba(ctx context.Context, features []float64) (float64, error) {
	if len(features) != feature.Size {
		return 0, errInference("metadata", fmt.Errorf("expected %d features, got %d", feature.Size, len(features)))
	}
	score := m.Bias
	for i, v := range features {
		w, ok := m.Weights[feature.Columns[i]]
		if !ok {
			w = m.Weights[string(feature.Keys[i])]
		}
		score += w * v
	}
	p, err := pickPositive([]float64{1 / (1 + math.Exp(-score))}, 0)
	if err != nil {
		return 0, errInference("metadata", err)
	}
	return p, nil
}

var _ core.MetadataClassifier = (*LRModel)(nil)
