// Package fusion 把图片概率与临床元数据概率融合为最终分数与诊断结论。
package fusion

import (
	"strconv"

	"github.com/rushteam/oralcare/core"
)

const (
	DefaultImageWeight    = 0.7
	DefaultMetadataWeight = 0.3
	DefaultThreshold      = 0.5
	DefaultPrecision      = 3
)

// Weights 是两路概率的线性权重
type Weights struct {
	Image    float64
	Metadata float64
}

// Engine 是无状态的融合引擎，可并发使用。
//
//	final = image                                   （无 metadata）
//	final = w_img*image + w_meta*metadata           （有 metadata）
//	decision = Malignant 当且仅当未舍入的 final >= Threshold
//
// 分数在判定之后才舍入到 Precision 位小数，因此 0.4996 判为 Benign 但显示为 0.5。
type Engine struct {
	Weights   Weights
	Threshold float64
	Precision int
}

// Option 配置融合引擎
type Option func(*Engine)

// WithWeights 设置两路权重
func WithWeights(image, metadata float64) Option {
	return func(e *Engine) {
		e.Weights = Weights{Image: image, Metadata: metadata}
	}
}

// WithThreshold 设置判定阈值（含等号）
func WithThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.Threshold = threshold
	}
}

// WithPrecision 设置输出分数的小数位数
func WithPrecision(precision int) Option {
	return func(e *Engine) {
		e.Precision = precision
	}
}

// New 创建融合引擎，默认权重 0.7/0.3、阈值 0.5、保留 3 位小数。
func New(opts ...Option) *Engine {
	e := &Engine{
		Weights:   Weights{Image: DefaultImageWeight, Metadata: DefaultMetadataWeight},
		Threshold: DefaultThreshold,
		Precision: DefaultPrecision,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score 返回未舍入的融合分数。metadata 为 nil 时直接返回 image。
func (e *Engine) Score(image float64, metadata *float64) float64 {
	if metadata == nil {
		return image
	}
	// 显式转换阻止编译器融合乘加，保证与逐步计算的 IEEE 结果一致
	return float64(e.Weights.Image*image) + float64(e.Weights.Metadata*(*metadata))
}

// Label 按阈值给出结论
func (e *Engine) Label(score float64) core.Decision {
	if score >= e.Threshold {
		return core.DecisionMalignant
	}
	return core.DecisionBenign
}

// Fuse 计算融合结果。不校验输入范围，不返回错误。
func (e *Engine) Fuse(image float64, metadata *float64) core.FusionResult {
	score := e.Score(image, metadata)
	return core.FusionResult{
		FinalScore:    Round(score, e.Precision),
		FinalDecision: e.Label(score),
	}
}

// Round 把 v 舍入到 places 位小数。
// 基于 v 的精确二进制值做最近舍入（恰在中点时取偶），结果与十进制格式化一致。
func Round(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return f
}
