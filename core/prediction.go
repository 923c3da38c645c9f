package core

import "time"

// Decision 是二分类诊断结论
type Decision string

const (
	DecisionMalignant Decision = "Malignant"
	DecisionBenign    Decision = "Benign"
)

// FusionResult 是融合引擎的输出，随请求产生，不单独持久化。
type FusionResult struct {
	FinalScore    float64  `json:"final_score" bson:"final_score"`
	FinalDecision Decision `json:"final_decision" bson:"final_decision"`
}

// PredictionRecord 是一次已归属用户的成功预测。
//
// 记录只在图片推理与融合都成功、且调用方身份已识别时创建一次，
// 此后不再修改，核心流程也不会删除它。
type PredictionRecord struct {
	ID                  string         `json:"_id" bson:"_id"`
	UserID              string         `json:"user_id" bson:"user_id"`
	ImageResult         Decision       `json:"image_result" bson:"image_result"`
	ImageConfidence     float64        `json:"image_confidence" bson:"image_confidence"`
	MetadataProbability *float64       `json:"metadata_probability" bson:"metadata_probability"`
	FinalScore          float64        `json:"final_score" bson:"final_score"`
	FinalDecision       Decision       `json:"final_decision" bson:"final_decision"`
	Recommendation      string         `json:"recommendation,omitempty" bson:"recommendation,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	ImageURL            string         `json:"image_url,omitempty" bson:"image_url,omitempty"`
	CreatedAt           time.Time      `json:"createdAt" bson:"createdAt"`
}
