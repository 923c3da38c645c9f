package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rushteam/oralcare/core"
)

// KServeProtocol 指定 KServe 协议版本。
const (
	KServeV1 = "v1"
	KServeV2 = "v2"
)

// KServeClient 是 KServe V1/V2 协议的客户端实现。
//
// KServe V1（基于 TensorFlow Serving REST）：
//   - Predict: POST /v1/models/{model_name}:predict
//   - 请求：{"instances": [...]}
//   - 响应：{"predictions": [...]}
//   - Model Ready: GET /v1/models/{model_name}
//
// KServe V2（Open Inference Protocol）：
//   - Infer: POST /v2/models/{model_name}[/versions/{version}]/infer
//   - 请求：{"inputs": [{"name": "input0", "shape": [1, 224, 224, 3], "datatype": "FP32", "data": [...]}]}
//   - 响应：{"outputs": [{"name": "...", "shape": [1, 2], "data": [...]}]}
//   - Server Ready: GET /v2/health/ready
type KServeClient struct {
	// Endpoint 服务根地址，如 "http://localhost:8000"
	Endpoint string
	// ModelName 模型名称
	ModelName string
	// ModelVersion 模型版本（可选，V2 路径中会带 /versions/{version}）
	ModelVersion string
	// Protocol 协议版本："v1" 或 "v2"，默认 "v2"
	Protocol string
	// V2InputName V2 协议下输入张量名称，默认 "input0"
	V2InputName string
	// V2OutputName V2 协议下期望的输出张量名称；空则取 outputs[0]
	V2OutputName string
	// Timeout 请求超时
	Timeout time.Duration
	// Auth 认证配置
	Auth *AuthConfig

	httpClient *http.Client
}

// NewKServeClient 创建 KServe 客户端。endpoint 为根地址，modelName 为模型名。
func NewKServeClient(endpoint, modelName string, opts ...KServeOption) *KServeClient {
	c := &KServeClient{
		Endpoint:    endpoint,
		ModelName:   modelName,
		Protocol:    KServeV2,
		V2InputName: "input0",
		Timeout:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.Timeout}
	}
	return c
}

// KServeOption 配置 KServe 客户端
type KServeOption func(*KServeClient)

// WithKServeVersion 设置模型版本
func WithKServeVersion(version string) KServeOption {
	return func(c *KServeClient) {
		c.ModelVersion = version
	}
}

// WithKServeProtocol 设置协议："v1" 或 "v2"
func WithKServeProtocol(protocol string) KServeOption {
	return func(c *KServeClient) {
		if protocol == KServeV1 || protocol == KServeV2 {
			c.Protocol = protocol
		}
	}
}

// WithKServeV2InputName 设置 V2 协议下输入张量名称
func WithKServeV2InputName(name string) KServeOption {
	return func(c *KServeClient) {
		if name != "" {
			c.V2InputName = name
		}
	}
}

// WithKServeV2OutputName 设置 V2 协议下期望的输出张量名称
func WithKServeV2OutputName(name string) KServeOption {
	return func(c *KServeClient) {
		c.V2OutputName = name
	}
}

// WithKServeTimeout 设置超时
func WithKServeTimeout(timeout time.Duration) KServeOption {
	return func(c *KServeClient) {
		c.Timeout = timeout
		if c.httpClient != nil {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithKServeAuth 设置认证
func WithKServeAuth(auth *AuthConfig) KServeOption {
	return func(c *KServeClient) {
		c.Auth = auth
	}
}

// WithKServeHTTPClient 设置自定义 HTTP 客户端
func WithKServeHTTPClient(client *http.Client) KServeOption {
	return func(c *KServeClient) {
		c.httpClient = client
	}
}

// Predict 实现 core.MLService。
func (c *KServeClient) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || req.Empty() {
		return nil, fmt.Errorf("tensor, instances or features are required")
	}
	if c.Protocol == KServeV1 {
		return c.predictV1(ctx, req)
	}
	return c.predictV2(ctx, req)
}

// predictV1 使用 V1 协议：请求 instances，响应 predictions。
func (c *KServeClient) predictV1(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	url := fmt.Sprintf("%s/v1/models/%s:predict", c.Endpoint, c.ModelName)

	var instances interface{}
	switch {
	case req.Tensor != nil:
		instances = req.Tensor.Nested()
	case len(req.Instances) > 0:
		instances = req.Instances
	default:
		instances = req.Features
	}

	bodyBytes, err := postJSON(ctx, c.httpClient, url, map[string]interface{}{"instances": instances}, c.Auth, "kserve v1")
	if err != nil {
		return nil, err
	}

	var out struct {
		Predictions []interface{} `json:"predictions"`
	}
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("kserve v1 parse response: %w", err)
	}
	predictions, scores, err := parseRows(out.Predictions)
	if err != nil {
		return nil, fmt.Errorf("kserve v1 parse predictions: %w", err)
	}
	if len(predictions) != req.Rows() {
		return nil, fmt.Errorf("kserve v1 predictions count mismatch: expected %d, got %d", req.Rows(), len(predictions))
	}
	return &core.MLPredictResponse{
		Predictions:  predictions,
		Scores:       scores,
		Outputs:      string(bodyBytes),
		ModelVersion: c.ModelVersion,
	}, nil
}

// v2InferInput 对应 V2 推理请求中的一个输入张量
type v2InferInput struct {
	Name     string      `json:"name"`
	Shape    []int64     `json:"shape"`
	Datatype string      `json:"datatype"`
	Data     interface{} `json:"data"`
}

// v2InferResponse 对应 V2 推理响应
type v2InferResponse struct {
	ModelName    string           `json:"model_name"`
	ModelVersion string           `json:"model_version"`
	Outputs      []v2OutputTensor `json:"outputs"`
}

type v2OutputTensor struct {
	Name     string    `json:"name"`
	Shape    []int64   `json:"shape"`
	Datatype string    `json:"datatype"`
	Data     []float64 `json:"data"`
}

// predictV2 使用 V2 协议：请求 inputs 张量（行优先展平），响应 outputs。
func (c *KServeClient) predictV2(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	path := fmt.Sprintf("%s/v2/models/%s", c.Endpoint, c.ModelName)
	if c.ModelVersion != "" {
		path = fmt.Sprintf("%s/versions/%s", path, c.ModelVersion)
	}

	input := v2InferInput{Name: c.V2InputName}
	switch {
	case req.Tensor != nil:
		input.Shape = req.Tensor.Shape
		input.Datatype = "FP32"
		input.Data = req.Tensor.Data
	case len(req.Instances) > 0:
		rows := len(req.Instances)
		dim := len(req.Instances[0])
		data := make([]float64, 0, rows*dim)
		for _, row := range req.Instances {
			if len(row) != dim {
				return nil, fmt.Errorf("kserve v2 ragged instances: row width %d, want %d", len(row), dim)
			}
			data = append(data, row...)
		}
		input.Shape = []int64{int64(rows), int64(dim)}
		input.Datatype = "FP64"
		input.Data = data
	default:
		keys := sortedFeatureKeys(req.Features[0])
		data := make([]float64, 0, len(req.Features)*len(keys))
		for _, m := range req.Features {
			for _, k := range keys {
				data = append(data, m[k])
			}
		}
		input.Shape = []int64{int64(len(req.Features)), int64(len(keys))}
		input.Datatype = "FP64"
		input.Data = data
	}

	reqBody := map[string]interface{}{"inputs": []v2InferInput{input}}
	bodyBytes, err := postJSON(ctx, c.httpClient, path+"/infer", reqBody, c.Auth, "kserve v2")
	if err != nil {
		return nil, err
	}

	var out v2InferResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("kserve v2 parse response: %w", err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("kserve v2 empty outputs")
	}
	tensor := &out.Outputs[0]
	for i := range out.Outputs {
		if c.V2OutputName != "" && out.Outputs[i].Name == c.V2OutputName {
			tensor = &out.Outputs[i]
			break
		}
	}
	predictions, scores, err := splitRows(tensor.Data, req.Rows())
	if err != nil {
		return nil, fmt.Errorf("kserve v2 parse outputs: %w", err)
	}
	version := out.ModelVersion
	if version == "" {
		version = c.ModelVersion
	}
	return &core.MLPredictResponse{
		Predictions:  predictions,
		Scores:       scores,
		Outputs:      string(bodyBytes),
		ModelVersion: version,
	}, nil
}

func sortedFeatureKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Health 实现 core.MLService。V1 使用 GET /v1/models/{model_name}，V2 使用 GET /v2/health/ready。
func (c *KServeClient) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/v2/health/ready", c.Endpoint)
	if c.Protocol == KServeV1 {
		url = fmt.Sprintf("%s/v1/models/%s", c.Endpoint, c.ModelName)
	}
	return getOK(ctx, c.httpClient, url, c.Auth, "kserve health")
}

// Close 实现 core.MLService。
func (c *KServeClient) Close(ctx context.Context) error {
	return nil
}

var _ core.MLService = (*KServeClient)(nil)
