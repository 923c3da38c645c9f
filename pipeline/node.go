package pipeline

import (
	"context"

	"github.com/rushteam/oralcare/core"
)

// Kind 用于标记 Node 所处阶段，方便日志与编排（例如按阶段打点）。
type Kind string

const (
	KindValidate    Kind = "validate"    // 校验阶段：拒绝非法上传，不触发任何模型
	KindPreprocess  Kind = "preprocess"  // 预处理阶段：metadata 映射、图片张量化
	KindInference   Kind = "inference"   // 推理阶段：图片与 metadata 分类器
	KindFusion      Kind = "fusion"      // 融合阶段：计算最终分数与结论
	KindPostProcess Kind = "postprocess" // 后处理阶段：建议文案等结果修饰
	KindAttribution Kind = "attribution" // 身份识别阶段：解析调用方凭证
	KindPersistence Kind = "persistence" // 持久化阶段：为已识别用户写入记录
)

// BestEffort 表示该阶段失败不影响预测响应
func (k Kind) BestEffort() bool {
	switch k {
	case KindPostProcess, KindAttribution, KindPersistence:
		return true
	}
	return false
}

// Node 是 Pipeline 的最小可扩展单元。
// 每个节点读取并写回同一个 PredictContext，后续节点可以看到前序节点的结果。
type Node interface {
	Name() string
	Kind() Kind

	Process(ctx context.Context, pctx *core.PredictContext) error
}

// NodeFunc 把函数适配为 Node，便于测试与临时扩展
type NodeFunc struct {
	NodeName string
	NodeKind Kind
	Fn       func(ctx context.Context, pctx *core.PredictContext) error
}

func (n NodeFunc) Name() string { return n.NodeName }
func (n NodeFunc) Kind() Kind   { return n.NodeKind }

func (n NodeFunc) Process(ctx context.Context, pctx *core.PredictContext) error {
	return n.Fn(ctx, pctx)
}
