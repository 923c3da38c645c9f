package core

import "context"

// ImageClassifier 把归一化后的图片张量映射为恶性概率。
//
// 输入：形状 [1,224,224,3] 的 float32 张量，取值 [0,1]
// 输出：[0,1] 之间的概率
type ImageClassifier interface {
	Name() string
	Predict(ctx context.Context, tensor *Tensor) (float64, error)
}

// MetadataClassifier 把固定顺序的 11 维临床特征映射为高风险（正类）概率。
type MetadataClassifier interface {
	Name() string
	PredictProba(ctx context.Context, features []float64) (float64, error)
}

// HealthChecker 由可以探测自身可用性的分类器实现（远程服务）。
type HealthChecker interface {
	Health(ctx context.Context) error
}
