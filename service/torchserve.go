package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rushteam/oralcare/core"
)

// TorchServeClient 是 TorchServe REST API 的客户端实现。
//
// REST API 格式：
//   - 推理端点：POST /predictions/{model_name}[/{version}]
//   - 请求体：{"data": ...}（由模型 Handler 解析）
//   - 响应：[0.85, ...]、{"predictions": [...]}、{"prediction": 0.85} 或单个数值
//   - 健康检查：GET /ping
type TorchServeClient struct {
	// Endpoint 服务端点，如 "http://localhost:8080"
	Endpoint string

	// ModelName 模型名称
	ModelName string

	// ModelVersion 模型版本（可选）
	ModelVersion string

	// Timeout 超时时间
	Timeout time.Duration

	// Auth 认证信息
	Auth *AuthConfig

	httpClient *http.Client
}

// NewTorchServeClient 创建一个新的 TorchServe 客户端。
func NewTorchServeClient(endpoint, modelName string, opts ...TorchServeOption) *TorchServeClient {
	client := &TorchServeClient{
		Endpoint:  endpoint,
		ModelName: modelName,
		Timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.Timeout}
	}
	return client
}

// TorchServeOption TorchServe 客户端配置选项
type TorchServeOption func(*TorchServeClient)

// WithTorchServeVersion 设置模型版本
func WithTorchServeVersion(version string) TorchServeOption {
	return func(c *TorchServeClient) {
		c.ModelVersion = version
	}
}

// WithTorchServeTimeout 设置超时时间
func WithTorchServeTimeout(timeout time.Duration) TorchServeOption {
	return func(c *TorchServeClient) {
		c.Timeout = timeout
		if c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithTorchServeAuth 设置认证信息
func WithTorchServeAuth(auth *AuthConfig) TorchServeOption {
	return func(c *TorchServeClient) {
		c.Auth = auth
	}
}

// WithTorchServeHTTPClient 设置自定义 HTTP 客户端
func WithTorchServeHTTPClient(httpClient *http.Client) TorchServeOption {
	return func(c *TorchServeClient) {
		c.httpClient = httpClient
	}
}

// Predict 实现 core.MLService 接口
func (c *TorchServeClient) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || req.Empty() {
		return nil, fmt.Errorf("tensor, instances or features are required")
	}

	url := fmt.Sprintf("%s/predictions/%s", c.Endpoint, c.ModelName)
	if c.ModelVersion != "" {
		url = fmt.Sprintf("%s/%s", url, c.ModelVersion)
	}

	var data interface{}
	switch {
	case req.Tensor != nil:
		data = req.Tensor.Nested()
	case len(req.Instances) > 0:
		data = req.Instances
	default:
		data = req.Features
	}

	bodyBytes, err := postJSON(ctx, c.httpClient, url, map[string]interface{}{"data": data}, c.Auth, "torchserve")
	if err != nil {
		return nil, err
	}

	items, err := torchServeItems(bodyBytes, req.Rows())
	if err != nil {
		return nil, err
	}
	predictions, scores, err := parseRows(items)
	if err != nil {
		return nil, fmt.Errorf("torchserve parse predictions: %w", err)
	}
	if len(predictions) != req.Rows() {
		return nil, fmt.Errorf("torchserve predictions count mismatch: expected %d, got %d", req.Rows(), len(predictions))
	}

	return &core.MLPredictResponse{
		Predictions:  predictions,
		Scores:       scores,
		Outputs:      string(bodyBytes),
		ModelVersion: c.ModelVersion,
	}, nil
}

// torchServeItems 把 Handler 可能返回的几种格式统一为每个样本一项的数组。
func torchServeItems(body []byte, rows int) ([]interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("torchserve unable to parse response: %s", string(body))
	}
	var items []interface{}
	switch v := raw.(type) {
	case float64:
		return []interface{}{v}, nil
	case []interface{}:
		items = v
	case map[string]interface{}:
		if pred, ok := v["prediction"]; ok {
			return []interface{}{pred}, nil
		}
		preds, ok := v["predictions"].([]interface{})
		if !ok {
			return nil, fmt.Errorf("torchserve response has no prediction field: %s", string(body))
		}
		items = preds
	default:
		return nil, fmt.Errorf("torchserve unexpected response: %s", string(body))
	}
	// 单样本时 [p0, p1] 是该样本的完整输出而非多个样本
	if rows == 1 && len(items) > 1 {
		return []interface{}{items}, nil
	}
	return items, nil
}

// Health 健康检查，TorchServe 端点为 /ping
func (c *TorchServeClient) Health(ctx context.Context) error {
	return getOK(ctx, c.httpClient, fmt.Sprintf("%s/ping", c.Endpoint), c.Auth, "torchserve health")
}

// Close 关闭连接
func (c *TorchServeClient) Close(ctx context.Context) error {
	return nil
}

// 确保 TorchServeClient 实现了 core.MLService 接口
var _ core.MLService = (*TorchServeClient)(nil)
