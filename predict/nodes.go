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

// ValidateNode 校验上传文件名与内容
type ValidateNode struct{}

func (n *ValidateNode) Name() string        { return "validate.upload" }
func (n *ValidateNode) Kind() pipeline.Kind { return pipeline.KindValidate }

func (n *ValidateNode) Process(_ context.Context, pctx *core.PredictContext) error {
	return imaging.ValidateUpload(pctx.ImageName, pctx.ImageBytes)
}

// MetadataNode 把 metadata 字段解析为固定顺序的特征向量。
// 非法 JSON 属于输入错误，在任何模型调用之前返回。
type MetadataNode struct {
	Monitor *feature.MemoryFeatureMonitor // 可选
}

func (n *MetadataNode) Name() string        { return "preprocess.metadata" }
func (n *MetadataNode) Kind() pipeline.Kind { return pipeline.KindPreprocess }

func (n *MetadataNode) Process(_ context.Context, pctx *core.PredictContext) error {
	meta, err := feature.ParseClinicalMetadata(pctx.MetadataJSON)
	if err != nil {
		return err
	}
	if meta == nil {
		pctx.HasMetadata = false
		return nil
	}
	pctx.HasMetadata = true
	pctx.Metadata = meta.Raw
	pctx.Features = meta.Vector().Slice()
	if n.Monitor != nil {
		n.Monitor.Record(meta)
	}
	return nil
}

// ImageNode 解码并张量化图片
type ImageNode struct {
	Preprocessor *imaging.Preprocessor
}

func (n *ImageNode) Name() string        { return "preprocess.image" }
func (n *ImageNode) Kind() pipeline.Kind { return pipeline.KindPreprocess }

func (n *ImageNode) Process(_ context.Context, pctx *core.PredictContext) error {
	t, err := n.Preprocessor.Process(pctx.ImageBytes)
	if err != nil {
		return err
	}
	pctx.Tensor = t
	return nil
}

// ImageInferenceNode 调用图片分类器，得到图片概率与图片结论
type ImageInferenceNode struct {
	Models    *model.Registry
	Threshold float64
}

func (n *ImageInferenceNode) Name() string        { return "inference.image" }
func (n *ImageInferenceNode) Kind() pipeline.Kind { return pipeline.KindInference }

func (n *ImageInferenceNode) Process(ctx context.Context, pctx *core.PredictContext) error {
	clf, err := n.Models.Image(ctx)
	if err != nil {
		return err
	}
	p, err := clf.Predict(ctx, pctx.Tensor)
	if err != nil {
		return err
	}
	pctx.ImageProb = p
	pctx.ImageResult = core.DecisionBenign
	if p >= n.Threshold {
		pctx.ImageResult = core.DecisionMalignant
	}
	return nil
}

// MetadataInferenceNode 在请求携带 metadata 时调用元数据分类器
type MetadataInferenceNode struct {
	Models *model.Registry
}

func (n *MetadataInferenceNode) Name() string        { return "inference.metadata" }
func (n *MetadataInferenceNode) Kind() pipeline.Kind { return pipeline.KindInference }

func (n *MetadataInferenceNode) Process(ctx context.Context, pctx *core.PredictContext) error {
	if !pctx.HasMetadata {
		pctx.MetadataProb = nil
		return nil
	}
	clf, err := n.Models.Metadata(ctx)
	if err != nil {
		return err
	}
	p, err := clf.PredictProba(ctx, pctx.Features)
	if err != nil {
		return err
	}
	pctx.MetadataProb = &p
	return nil
}

// FusionNode 计算最终分数与结论
type FusionNode struct {
	Engine *fusion.Engine
}

func (n *FusionNode) Name() string        { return "fusion.linear" }
func (n *FusionNode) Kind() pipeline.Kind { return pipeline.KindFusion }

func (n *FusionNode) Process(_ context.Context, pctx *core.PredictContext) error {
	pctx.Fusion = n.Engine.Fuse(pctx.ImageProb, pctx.MetadataProb)
	return nil
}

// AdviceNode 按规则生成建议文案，仅作提示，不改变结论
type AdviceNode struct {
	Rules  *dsl.RuleSet
	Logger *slog.Logger
}

func (n *AdviceNode) Name() string        { return "postprocess.advice" }
func (n *AdviceNode) Kind() pipeline.Kind { return pipeline.KindPostProcess }

func (n *AdviceNode) Process(_ context.Context, pctx *core.PredictContext) error {
	if n.Rules == nil {
		return nil
	}
	var metaProb any
	if pctx.MetadataProb != nil {
		metaProb = *pctx.MetadataProb
	}
	result := map[string]any{
		"final_score":          pctx.Fusion.FinalScore,
		"final_decision":       string(pctx.Fusion.FinalDecision),
		"image_probability":    pctx.ImageProb,
		"metadata_probability": metaProb,
		"has_metadata":         pctx.HasMetadata,
	}
	metadata := map[string]any{}
	if pctx.HasMetadata {
		for i, k := range feature.Keys {
			metadata[string(k)] = pctx.Features[i]
		}
	}
	advice, skipped := n.Rules.Advise(result, metadata)
	for _, s := range skipped {
		logger(n.Logger).Warn("advice rule skipped", "rule", s.Rule, "error", s.Err)
	}
	pctx.Recommendation = advice
	return nil
}

// Identifier 把 Authorization 头解析为用户 ID，由 auth.TokenManager 实现
type Identifier interface {
	Identify(header string) (string, error)
}

// AttributionNode 识别调用方身份。未携带凭证为 skipped，凭证无效为 failed。
type AttributionNode struct {
	Identifier Identifier
}

func (n *AttributionNode) Name() string        { return "attribution.bearer" }
func (n *AttributionNode) Kind() pipeline.Kind { return pipeline.KindAttribution }

func (n *AttributionNode) Process(_ context.Context, pctx *core.PredictContext) error {
	if pctx.Credential == "" || n.Identifier == nil {
		pctx.Attribution = core.Attribution{Status: core.StepSkipped}
		return nil
	}
	userID, err := n.Identifier.Identify(pctx.Credential)
	if err != nil {
		pctx.Attribution = core.Attribution{Status: core.StepFailed, Err: err}
		return err
	}
	pctx.Attribution = core.Attribution{Status: core.StepSucceeded, UserID: userID}
	return nil
}

// PersistenceNode 为已识别的用户写入一条预测记录
type PersistenceNode struct {
	Records    core.RecordStore
	StoreImage bool // 记录中是否保存图片 data URL
	Precision  int
	Now        func() time.Time
}

func (n *PersistenceNode) Name() string        { return "persistence.record" }
func (n *PersistenceNode) Kind() pipeline.Kind { return pipeline.KindPersistence }

func (n *PersistenceNode) Process(ctx context.Context, pctx *core.PredictContext) error {
	userID := pctx.UserID()
	if userID == "" || n.Records == nil {
		pctx.Persistence = core.Persistence{Status: core.StepSkipped}
		return nil
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	rec := &core.PredictionRecord{
		UserID:              userID,
		ImageResult:         pctx.ImageResult,
		ImageConfidence:     fusion.Round(pctx.ImageProb, n.Precision),
		MetadataProbability: roundPtr(pctx.MetadataProb, n.Precision),
		FinalScore:          pctx.Fusion.FinalScore,
		FinalDecision:       pctx.Fusion.FinalDecision,
		Recommendation:      pctx.Recommendation,
		CreatedAt:           now().UTC(),
	}
	if len(pctx.Metadata) > 0 {
		rec.Metadata = pctx.Metadata
	}
	if n.StoreImage {
		rec.ImageURL = imaging.DataURL(pctx.ImageMime, pctx.ImageBytes)
	}
	if err := n.Records.InsertRecord(ctx, rec); err != nil {
		pctx.Persistence = core.Persistence{Status: core.StepFailed, Err: err}
		return err
	}
	pctx.Persistence = core.Persistence{Status: core.StepSucceeded, RecordID: rec.ID}
	return nil
}

func roundPtr(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	r := fusion.Round(*v, places)
	return &r
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
