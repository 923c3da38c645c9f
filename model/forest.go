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

// Tree 是 sklearn DecisionTree 的数组化导出（tree_.children_left 等）。
// 叶子节点的 children_left == children_right == -1。
type Tree struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

const leafNode = -1

func (t *Tree) validate(nFeatures, nClasses int) error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return fmt.Errorf("empty tree")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("tree arrays have inconsistent lengths")
	}
	for i := 0; i < n; i++ {
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == leafNode {
			if len(t.Value[i]) != nClasses {
				return fmt.Errorf("leaf %d has %d class values, want %d", i, len(t.Value[i]), nClasses)
			}
			continue
		}
		if l <= i || r <= i || l >= n || r >= n {
			return fmt.Errorf("node %d has invalid children %d/%d", i, l, r)
		}
		if t.Feature[i] < 0 || t.Feature[i] >= nFeatures {
			return fmt.Errorf("node %d splits on feature %d out of range", i, t.Feature[i])
		}
	}
	return nil
}

// proba 返回叶子节点归一化后的类别分布
func (t *Tree) proba(x []float64) []float64 {
	node := 0
	for t.ChildrenLeft[node] != leafNode {
		// 与 sklearn 一致：输入先转为 float32 再与阈值比较
		if float64(float32(x[t.Feature[node]])) <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}
	value := t.Value[node]
	var sum float64
	for _, v := range value {
		sum += v
	}
	out := make([]float64, len(value))
	if sum == 0 {
		return out
	}
	for i, v := range value {
		out[i] = v / sum
	}
	return out
}

// ForestModel 随机森林元数据分类器，predict_proba 为各树叶子分布的平均值。
//
// 文件格式：
//
//	{"classes": [0, 1], "feature_names": ["Tobacco Use", ...], "trees": [{...}, ...]}
type ForestModel struct {
	Classes      []int    `json:"classes"`
	FeatureNames []string `json:"feature_names"`
	Trees        []Tree   `json:"trees"`

	positive int
}

// LoadForestModel 加载并校验森林模型；metaPath 非空时同时校验 feature_meta.json 的列顺序
func LoadForestModel(path, metaPath string) (*ForestModel, error) {
	if err := checkArtifact("metadata", path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errModelLoad("metadata", path, err)
	}
	m := &ForestModel{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errModelLoad("metadata", path, err)
	}
	if err := m.init(); err != nil {
		return nil, errModelLoad("metadata", path, err)
	}
	if metaPath != "" {
		meta, err := feature.LoadFeatureMetadata(metaPath)
		if err != nil {
			return nil, errModelLoad("metadata", metaPath, err)
		}
		if err := meta.ValidateColumns(); err != nil {
			return nil, errModelLoad("metadata", metaPath, err)
		}
	}
	return m, nil
}

func (m *ForestModel) init() error {
	if len(m.Classes) == 0 {
		m.Classes = []int{0, 1}
	}
	if len(m.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	if len(m.FeatureNames) > 0 {
		if len(m.FeatureNames) != feature.Size {
			return fmt.Errorf("forest trained on %d features, want %d", len(m.FeatureNames), feature.Size)
		}
		for i, name := range m.FeatureNames {
			if name != feature.Columns[i] {
				return fmt.Errorf("feature %d is %q, want %q", i, name, feature.Columns[i])
			}
		}
	}
	m.positive = -1
	for i, c := range m.Classes {
		if c == 1 {
			m.positive = i
		}
	}
	if m.positive < 0 {
		return fmt.Errorf("classes %v do not include positive class 1", m.Classes)
	}
	for i := range m.Trees {
		if err := m.Trees[i].validate(feature.Size, len(m.Classes)); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func (m *ForestModel) Name() string { return "forest" }

// PredictProba 返回正类 (class 1) 概率
func (m *ForestModel) PredictProba(ctx context.Context, features []float64) (float64, error) {
	if len(features) != feature.Size {
		return 0, errInference("metadata", fmt.Errorf("expected %d features, got %d", feature.Size, len(features)))
	}
	for i, v := range features {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, errInference("metadata", fmt.Errorf("feature %s is non-finite: %v", feature.Columns[i], v))
		}
	}
	var sum float64
	for i := range m.Trees {
		sum += m.Trees[i].proba(features)[m.positive]
	}
	p, err := pickPositive([]float64{sum / float64(len(m.Trees))}, 0)
	if err != nil {
		return 0, errInference("metadata", err)
	}
	return p, nil
}

var _ core.MetadataClassifier = (*ForestModel)(nil)
