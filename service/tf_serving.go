package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rushteam/oralcare/core"
)

// TFServingClient 是 TensorFlow Serving REST API 的客户端实现。
//
// 协议：
//   - Predict: POST /v1/models/{model}[/versions/{version}]:predict
//   - 请求：{"instances": [...], "signature_name": "..."}
//   - 响应：{"predictions": [...]}
//   - 状态：GET /v1/models/{model}
//
// 使用场景：
//   - 以 SavedModel 部署的图片分类模型（输入 [1,224,224,3]）
//   - 以 TF 格式导出的元数据模型
type TFServingClient struct {
	// Endpoint 服务端点，如 "http://localhost:8501"
	Endpoint string

	// ModelName 模型名称
	ModelName string

	// ModelVersion 模型版本（可选，为空则使用最新版本）
	ModelVersion string

	// SignatureName 签名名称（默认为 "serving_default"）
	SignatureName string

	// Timeout 超时时间
	Timeout time.Duration

	// Auth 认证信息
	Auth *AuthConfig

	httpClient *http.Client
}

// NewTFServingClient 创建一个新的 TF Serving 客户端。
func NewTFServingClient(endpoint, modelName string, opts ...TFServingOption) *TFServingClient {
	client := &TFServingClient{
		Endpoint:      endpoint,
		ModelName:     modelName,
		SignatureName: "serving_default",
		Timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: client.Timeout}
	}
	return client
}

// TFServingOption TF Serving 客户端配置选项
type TFServingOption func(*TFServingClient)

// WithTFServingVersion 设置模型版本
func WithTFServingVersion(version string) TFServingOption {
	return func(c *TFServingClient) {
		c.ModelVersion = version
	}
}

// WithTFServingSignature 设置签名名称
func WithTFServingSignature(signatureName string) TFServingOption {
	return func(c *TFServingClient) {
		c.SignatureName = signatureName
	}
}

// WithTFServingTimeout 设置超时时间
func WithTFServingTimeout(timeout time.Duration) TFServingOption {
	return func(c *TFServingClient) {
		c.Timeout = timeout
		if c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithTFServingAuth 设置认证信息
func WithTFServingAuth(auth *AuthConfig) TFServingOption {
	return func(c *TFServingClient) {
		c.Auth = auth
	}
}

// WithTFServingHTTPClient 设置自定义 HTTP 客户端
func WithTFServingHTTPClient(client *http.Client) TFServingOption {
	return func(c *TFServingClient) {
		c.httpClient = client
	}
}

func (c *TFServingClient) modelURL() string {
	if c.ModelVersion != "" {
		return fmt.Sprintf("%s/v1/models/%s/versions/%s", c.Endpoint, c.ModelName, c.ModelVersion)
	}
	return fmt.Sprintf("%s/v1/models/%s", c.Endpoint, c.ModelName)
}

// Predict 实现 core.MLService 接口
func (c *TFServingClient) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || req.Empty() {
		return nil, fmt.Errorf("tensor, instances or features are required")
	}

	body := make(map[string]interface{})
	switch {
	case req.Tensor != nil:
		body["instances"] = req.Tensor.Nested()
	case len(req.Instances) > 0:
		body["instances"] = req.Instances
	default:
		// 行格式的具名输入
		body["instances"] = req.Features
	}
	signature := c.SignatureName
	if req.SignatureName != "" {
		signature = req.SignatureName
	}
	if signature != "" {
		body["signature_name"] = signature
	}

	bodyBytes, err := postJSON(ctx, c.httpClient, c.modelURL()+":predict", body, c.Auth, "tf serving")
	if err != nil {
		return nil, err
	}

	var result struct {
		Predictions []interface{} `json:"predictions"`
	}
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("tf serving decode response: %w", err)
	}
	predictions, scores, err := parseRows(result.Predictions)
	if err != nil {
		return nil, fmt.Errorf("tf serving parse predictions: %w", err)
	}
	if len(predictions) != req.Rows() {
		return nil, fmt.Errorf("tf serving predictions count mismatch: expected %d, got %d", req.Rows(), len(predictions))
	}

	return &core.MLPredictResponse{
		Predictions:  predictions,
		Scores:       scores,
		Outputs:      string(bodyBytes),
		ModelVersion: c.ModelVersion,
	}, nil
}

// Health 通过模型状态接口检查可用性
func (c *TFServingClient) Health(ctx context.Context) error {
	return getOK(ctx, c.httpClient, c.modelURL(), c.Auth, "tf serving health")
}

// Close 关闭连接。HTTP 客户端不需要显式关闭。
func (c *TFServingClient) Close(ctx context.Context) error {
	return nil
}

// 确保 TFServingClient 实现了 core.MLService 接口
var _ core.MLService = (*TFServingClient)(nil)
