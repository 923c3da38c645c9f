package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rushteam/oralcare/core"
)

// NewMLService 根据配置创建 MLService 实例（工厂方法）。
// 返回 core.MLService 接口。
func NewMLService(config *ServiceConfig) (core.MLService, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	switch config.Type {
	case ServiceTypeTFServing:
		opts := []TFServingOption{
			WithTFServingTimeout(timeout),
		}
		if config.ModelVersion != "" {
			opts = append(opts, WithTFServingVersion(config.ModelVersion))
		}
		if config.Auth != nil {
			opts = append(opts, WithTFServingAuth(config.Auth))
		}
		return NewTFServingClient(config.Endpoint, config.ModelName, opts...), nil

	case ServiceTypeKServe:
		opts := []KServeOption{
			WithKServeTimeout(timeout),
			WithKServeV2InputName(config.InputName),
			WithKServeV2OutputName(config.OutputName),
		}
		if config.Protocol != "" {
			opts = append(opts, WithKServeProtocol(config.Protocol))
		}
		if config.ModelVersion != "" {
			opts = append(opts, WithKServeVersion(config.ModelVersion))
		}
		if config.Auth != nil {
			opts = append(opts, WithKServeAuth(config.Auth))
		}
		return NewKServeClient(config.Endpoint, config.ModelName, opts...), nil

	case ServiceTypeTorchServe:
		opts := []TorchServeOption{
			WithTorchServeTimeout(timeout),
		}
		if config.ModelVersion != "" {
			opts = append(opts, WithTorchServeVersion(config.ModelVersion))
		}
		if config.Auth != nil {
			opts = append(opts, WithTorchServeAuth(config.Auth))
		}
		return NewTorchServeClient(config.Endpoint, config.ModelName, opts...), nil

	default:
		return nil, fmt.Errorf("unsupported service type: %s", config.Type)
	}
}

// hasHTTPPrefix 检查是否包含 HTTP 前缀
func hasHTTPPrefix(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidateConfig 验证服务配置
func ValidateConfig(config *ServiceConfig) error {
	if config == nil {
		return fmt.Errorf("service config is required")
	}
	if config.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if !hasHTTPPrefix(config.Endpoint) {
		return fmt.Errorf("endpoint must be an http(s) url: %s", config.Endpoint)
	}
	if config.ModelName == "" {
		return fmt.Errorf("model name is required")
	}
	return nil
}

// TestConnection 测试服务连接
func TestConnection(ctx context.Context, svc core.MLService) error {
	if svc == nil {
		return fmt.Errorf("service is nil")
	}
	return svc.Health(ctx)
}
