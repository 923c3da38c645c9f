// Package predict 编排一次筛查预测：校验、预处理、推理、融合、建议、身份识别与持久化。
package predict

import (
	"context"
	"log/slog"
	"time"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
	"github.com/rushteam/oralcare/fusion"
	"github.com/rushteam/oralcare/imaging"
	"github.com/rushteam/oralcare/model"
	"github.com/rushteam/oralcare/pipeline"
	"github.com/rushteam/oralcare/pkg/dsl"
)

// DefaultImageThreshold 图片单独判定恶性的阈值（含等号）
const DefaultImageThreshold = 0.5

// Request 是一次预测的输入
type Request struct {
	ImageName  string
	ImageMime  string
	Image      []byte
	Metadata   []byte // metadata 表单字段原文
	Credential string // Authorization 头原文
}

// Response 是返回给客户端的预测结果
type Response struct {
	ImageResult         core.Decision `json:"image_result"`
	ImageConfidence     float64       `json:"image_confidence"`
	MetadataProbability *float64      `json:"metadata_probability"`
	FinalScore          float64       `json:"final_score"`
	FinalDecision       core.Decision `json:"final_decision"`
	Recommendation      string        `json:"recommendation,omitempty"`
}

// Orchestrator 持有预测 Pipeline，可并发使用
type Orchestrator struct {
	pipeline  *pipeline.Pipeline
	precision int
	logger    *slog.Logger
}

// Deps 是 Orchestrator 的协作者。Models 必填，其余为空时对应步骤被跳过或使用默认值。
type Deps struct {
	Models       *model.Registry
	Preprocessor *imaging.Preprocessor
	Fusion       *fusion.Engine
	Rules        *dsl.RuleSet
	Identifier   Identifier
	Records      core.RecordStore
	Monitor      *feature.MemoryFeatureMonitor
}

type options struct {
	imageThreshold float64
	storeImage     bool
	logger         *slog.Logger
	now            func() time.Time
}

// Option 配置 Orchestrator
type Option func(*options)

// WithImageThreshold 设置图片结论阈值
func WithImageThreshold(t float64) Option {
	return func(o *options) { o.imageThreshold = t }
}

// WithStoreImage 设置记录中是否保存图片 data URL
func WithStoreImage(on bool) Option {
	return func(o *options) { o.storeImage = on }
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock 设置记录时间来源，测试用
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New 按固定顺序组装节点
func New(deps Deps, opts ...Option) *Orchestrator {
	o := options{imageThreshold: DefaultImageThreshold, storeImage: true, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if deps.Preprocessor == nil {
		deps.Preprocessor = imaging.NewPreprocessor()
	}
	if deps.Fusion == nil {
		deps.Fusion = fusion.New()
	}
	nodes := []pipeline.Node{
		&ValidateNode{},
		&MetadataNode{Monitor: deps.Monitor},
		&ImageNode{Preprocessor: deps.Preprocessor},
		&ImageInferenceNode{Models: deps.Models, Threshold: o.imageThreshold},
		&MetadataInferenceNode{Models: deps.Models},
		&FusionNode{Engine: deps.Fusion},
		&AdviceNode{Rules: deps.Rules, Logger: o.logger},
		&AttributionNode{Identifier: deps.Identifier},
		&PersistenceNode{
			Records:    deps.Records,
			StoreImage: o.storeImage,
			Precision:  deps.Fusion.Precision,
			Now:        o.now,
		},
	}
	return &Orchestrator{
		pipeline:  pipeline.New(o.logger, nodes...),
		precision: deps.Fusion.Precision,
		logger:    o.logger,
	}
}

// Predict 执行一次预测。返回的 PredictContext 包含各步骤的结果，
// 其中身份识别与持久化的失败不会以 error 形式返回。
func (o *Orchestrator) Predict(ctx context.Context, req Request) (*core.PredictContext, error) {
	pctx := &core.PredictContext{
		ImageName:    req.ImageName,
		ImageMime:    req.ImageMime,
		ImageBytes:   req.Image,
		MetadataJSON: req.Metadata,
		Credential:   req.Credential,
	}
	if err := o.pipeline.Run(ctx, pctx); err != nil {
		return pctx, err
	}
	o.logger.Info("prediction done",
		"final_score", pctx.Fusion.FinalScore,
		"final_decision", pctx.Fusion.FinalDecision,
		"has_metadata", pctx.HasMetadata,
		"attribution", pctx.Attribution.Status,
		"persistence", pctx.Persistence.Status,
	)
	return pctx, nil
}

// Response 把 PredictContext 转为响应体
func (o *Orchestrator) Response(pctx *core.PredictContext) Response {
	return Response{
		ImageResult:         pctx.ImageResult,
		ImageConfidence:     fusion.Round(pctx.ImageProb, o.precision),
		MetadataProbability: roundPtr(pctx.MetadataProb, o.precision),
		FinalScore:          pctx.Fusion.FinalScore,
		FinalDecision:       pctx.Fusion.FinalDecision,
		Recommendation:      pctx.Recommendation,
	}
}
