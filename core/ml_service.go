package core

import "context"

// MLService 是远程机器学习服务的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（service）实现
//   - 遵循依赖倒置原则：领域层定义接口，基础设施层实现接口
//   - 避免循环依赖：领域层不依赖基础设施层
//
// 使用场景：
//   - 图片分类模型：输入 [1,224,224,3] 张量
//   - 临床元数据模型：输入 11 维特征向量
//
// 实现：
//   - service.TFServingClient 实现此接口
//   - service.KServeClient 实现此接口
//   - service.TorchServeClient 实现此接口
type MLService interface {
	// Predict 批量预测
	Predict(ctx context.Context, req *MLPredictRequest) (*MLPredictResponse, error)

	// Health 健康检查
	Health(ctx context.Context) error

	// Close 关闭连接
	Close(ctx context.Context) error
}

// MLPredictRequest 预测请求。Instances、Features、Tensor 三选一。
type MLPredictRequest struct {
	// Instances 特征实例列表（每个实例是一个特征向量）
	// 格式：[[f1, f2, f3, ...], [f1, f2, f3, ...], ...]
	Instances [][]float64

	// Features 特征字典列表
	// 格式：[{"Tobacco Use": 1, "Age": 52, ...}, ...]
	Features []map[string]float64

	// Tensor 稠密张量输入（图片模型使用，首维为 batch）
	Tensor *Tensor

	// ModelName 模型名称（可选，如果服务支持多模型）
	ModelName string

	// ModelVersion 模型版本（可选）
	ModelVersion string

	// SignatureName 签名名称（可选，TF Serving 使用）
	SignatureName string

	// Params 额外参数（可选）
	Params map[string]interface{}
}

// Rows 返回请求中的样本数
func (r *MLPredictRequest) Rows() int {
	switch {
	case r.Tensor != nil && len(r.Tensor.Shape) > 0:
		return int(r.Tensor.Shape[0])
	case len(r.Instances) > 0:
		return len(r.Instances)
	default:
		return len(r.Features)
	}
}

// Empty 请求中没有任何输入
func (r *MLPredictRequest) Empty() bool {
	return r.Tensor == nil && len(r.Instances) == 0 && len(r.Features) == 0
}

// MLPredictResponse 预测响应
type MLPredictResponse struct {
	// Predictions 每个样本的首个输出值
	Predictions []float64

	// Scores 每个样本的完整输出（如二分类 [p0, p1]）
	Scores [][]float64

	// Outputs 原始输出（可选，用于调试）
	Outputs interface{}

	// ModelVersion 模型版本（如果服务返回）
	ModelVersion string
}
