package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
)

// RPCModel 通过 HTTP 调用外部元数据模型服务（如 Python sklearn 服务）。
type RPCModel struct {
	name     string
	Endpoint string // 例如 "http://localhost:9000/predict"
	Timeout  time.Duration
	Client   *http.Client
}

func NewRPCModel(name, endpoint string, timeout time.Duration) *RPCModel {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &RPCModel{
		name:     name,
		Endpoint: endpoint,
		Timeout:  timeout,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (m *RPCModel) Name() string {
	return m.name
}

// PredictProba 以训练列名组装特征并调用远程服务（单个样本，内部调用批量接口）。
func (m *RPCModel) PredictProba(ctx context.Context, features []float64) (float64, error) {
	if len(features) != feature.Size {
		return 0, errInference("metadata", fmt.Errorf("expected %d features, got %d", feature.Size, len(features)))
	}
	var v feature.Vector
	copy(v[:], features)
	scores, err := m.PredictBatch(ctx, []map[string]float64{v.ByColumn()})
	if err != nil {
		return 0, errInference("metadata", err)
	}
	return scores[0], nil
}

// PredictBatch 调用远程模型服务进行批量预测。
// 请求格式（JSON）：
//
//	{"features_list": [{"Tobacco Use": 1, "Age (Years)": 54, ...}, ...]}
//
// 响应格式（JSON）：
//
//	{"scores": [0.85, 0.72, ...]}
func (m *RPCModel) PredictBatch(ctx context.Context, featuresList []map[string]float64) ([]float64, error) {
	if m.Client == nil {
		m.Client = &http.Client{Timeout: m.Timeout}
	}

	if len(featuresList) == 0 {
		return []float64{}, nil
	}

	jsonData, err := json.Marshal(map[string]any{
		"features_list": featuresList,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("rpc error: status=%d, read body failed: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("rpc error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	var result struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(result.Scores) != len(featuresList) {
		return nil, fmt.Errorf("response scores count mismatch: expected %d, got %d", len(featuresList), len(result.Scores))
	}

	return result.Scores, nil
}

// Health 只检查服务可连通，不发起推理
func (m *RPCModel) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.Endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("rpc health: status=%d", resp.StatusCode)
	}
	return nil
}

var (
	_ core.MetadataClassifier = (*RPCModel)(nil)
	_ core.HealthChecker      = (*RPCModel)(nil)
)
