package core

// PredictContext 承载一次预测请求在 Pipeline 各节点之间传递的状态。
type PredictContext struct {
	// 请求输入
	ImageName    string
	ImageMime    string
	ImageBytes   []byte
	Credential   string // Authorization 头原文，可为空
	MetadataJSON []byte // metadata 表单字段原文，可为空

	// 由 metadata 映射节点填充
	HasMetadata bool           // 请求携带了有效的 metadata 对象
	Metadata    map[string]any // 原始 metadata，仅用于持久化与规则

	// 中间结果
	Tensor   *Tensor
	Features []float64 // 固定顺序的 11 维特征

	// 推理与融合结果
	ImageProb      float64
	ImageResult    Decision
	MetadataProb   *float64
	Fusion         FusionResult
	Recommendation string

	// 尽力而为步骤的结果
	Attribution Attribution
	Persistence Persistence
}

// StepStatus 是尽力而为步骤（身份识别、持久化）的执行结果。
type StepStatus string

const (
	StepPending   StepStatus = ""
	StepSucceeded StepStatus = "succeeded"
	StepSkipped   StepStatus = "skipped"
	StepFailed    StepStatus = "failed"
)

// Attribution 记录调用方身份识别的结果。
// Skipped 表示未携带凭证，Failed 表示凭证无效或用户不存在。
type Attribution struct {
	Status StepStatus
	UserID string
	Err    error
}

// Persistence 记录预测结果写入存储的结果。
// Skipped 表示匿名请求或未配置存储。
type Persistence struct {
	Status   StepStatus
	RecordID string
	Err      error
}

// UserID 返回已识别的用户 ID，未识别时为空
func (p *PredictContext) UserID() string {
	if p.Attribution.Status == StepSucceeded {
		return p.Attribution.UserID
	}
	return ""
}
