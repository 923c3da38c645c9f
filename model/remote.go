package model

import (
	"context"
	"fmt"

	"github.com/rushteam/oralcare/core"
)

// RemoteImageModel 通过 core.MLService（TF Serving / KServe / TorchServe）推理图片模型
type RemoteImageModel struct {
	Service  core.MLService
	Positive int
	backend  string
}

func NewRemoteImageModel(backend string, svc core.MLService, positive int) *RemoteImageModel {
	return &RemoteImageModel{Service: svc, Positive: positive, backend: backend}
}

func (m *RemoteImageModel) Name() string { return m.backend }

func (m *RemoteImageModel) Predict(ctx context.Context, tensor *core.Tensor) (float64, error) {
	resp, err := m.Service.Predict(ctx, &core.MLPredictRequest{Tensor: tensor})
	if err != nil {
		return 0, errInference("image", err)
	}
	p, err := firstPositive(resp, m.Positive)
	if err != nil {
		return 0, errInference("image", err)
	}
	return p, nil
}

func (m *RemoteImageModel) Health(ctx context.Context) error { return m.Service.Health(ctx) }

func (m *RemoteImageModel) Close() error { return m.Service.Close(context.Background()) }

// RemoteMetadataModel 通过 core.MLService 推理元数据模型，按固定列顺序发送 instances
type RemoteMetadataModel struct {
	Service  core.MLService
	Positive int
	backend  string
}

func NewRemoteMetadataModel(backend string, svc core.MLService, positive int) *RemoteMetadataModel {
	return &RemoteMetadataModel{Service: svc, Positive: positive, backend: backend}
}

func (m *RemoteMetadataModel) Name() string { return m.backend }

func (m *RemoteMetadataModel) PredictProba(ctx context.Context, features []float64) (float64, error) {
	resp, err := m.Service.Predict(ctx, &core.MLPredictRequest{Instances: [][]float64{features}})
	if err != nil {
		return 0, errInference("metadata", err)
	}
	p, err := firstPositive(resp, m.Positive)
	if err != nil {
		return 0, errInference("metadata", err)
	}
	return p, nil
}

func (m *RemoteMetadataModel) Health(ctx context.Context) error { return m.Service.Health(ctx) }

func (m *RemoteMetadataModel) Close() error { return m.Service.Close(context.Background()) }

func firstPositive(resp *core.MLPredictResponse, positive int) (float64, error) {
	if resp == nil {
		return 0, fmt.Errorf("empty response")
	}
	if len(resp.Scores) > 0 {
		return pickPositive(resp.Scores[0], positive)
	}
	if len(resp.Predictions) > 0 {
		return pickPositive(resp.Predictions[:1], positive)
	}
	return 0, fmt.Errorf("response has no predictions")
}

var (
	_ core.ImageClassifier    = (*RemoteImageModel)(nil)
	_ core.MetadataClassifier = (*RemoteMetadataModel)(nil)
	_ core.HealthChecker      = (*RemoteImageModel)(nil)
	_ core.HealthChecker      = (*RemoteMetadataModel)(nil)
)
