package model

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/imaging"
	"github.com/rushteam/oralcare/service"
)

// Backend 名称
const (
	BackendONNX       = "onnx"
	BackendForest     = "forest"
	BackendLR         = "lr"
	BackendRPC        = "rpc"
	BackendTFServing  = string(service.ServiceTypeTFServing)
	BackendKServe     = string(service.ServiceTypeKServe)
	BackendTorchServe = string(service.ServiceTypeTorchServe)
)

// BuildOptions 是构建分类器时的进程级参数
type BuildOptions struct {
	// ORTLibraryPath onnxruntime 共享库路径
	ORTLibraryPath string
	// ImageSize 预处理后的图片边长，0 表示 224
	ImageSize int
}

func (o BuildOptions) imageSize() int {
	if o.ImageSize > 0 {
		return o.ImageSize
	}
	return imaging.DefaultWidth
}

// ImageBuilder 根据 Spec 构建图片分类器
type ImageBuilder func(spec Spec, opts BuildOptions) (core.ImageClassifier, error)

// MetadataBuilder 根据 Spec 构建元数据分类器
type MetadataBuilder func(spec Spec, opts BuildOptions) (core.MetadataClassifier, error)

var (
	buildersMu       sync.RWMutex
	imageBuilders    = make(map[string]ImageBuilder)
	metadataBuilders = make(map[string]MetadataBuilder)
)

// RegisterImageBackend 注册一种图片模型后端，可在 init 中调用以扩展
func RegisterImageBackend(name string, builder ImageBuilder) {
	if name == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	imageBuilders[name] = builder
}

// RegisterMetadataBackend 注册一种元数据模型后端
func RegisterMetadataBackend(name string, builder MetadataBuilder) {
	if name == "" || builder == nil {
		return
	}
	buildersMu.Lock()
	defer buildersMu.Unlock()
	metadataBuilders[name] = builder
}

// SupportedBackends 返回已注册的图片与元数据后端（排序）
func SupportedBackends() (image, metadata []string) {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	for k := range imageBuilders {
		image = append(image, k)
	}
	for k := range metadataBuilders {
		metadata = append(metadata, k)
	}
	sort.Strings(image)
	sort.Strings(metadata)
	return image, metadata
}

// BuildImage 按 spec.Backend 构建图片分类器
func BuildImage(spec Spec, opts BuildOptions) (core.ImageClassifier, error) {
	buildersMu.RLock()
	b, ok := imageBuilders[spec.Backend]
	buildersMu.RUnlock()
	if !ok {
		supported, _ := SupportedBackends()
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
			fmt.Sprintf("unsupported image backend %q (supported: %v)", spec.Backend, supported))
	}
	return b(spec, opts)
}

// BuildMetadata 按 spec.Backend 构建元数据分类器
func BuildMetadata(spec Spec, opts BuildOptions) (core.MetadataClassifier, error) {
	buildersMu.RLock()
	b, ok := metadataBuilders[spec.Backend]
	buildersMu.RUnlock()
	if !ok {
		_, supported := SupportedBackends()
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
			fmt.Sprintf("unsupported metadata backend %q (supported: %v)", spec.Backend, supported))
	}
	return b(spec, opts)
}

// remoteService 根据 spec.Service 构建 MLService，Type 缺省时取 backend
func remoteService(kind, backend string, spec Spec) (core.MLService, error) {
	cfg := spec.Service
	if cfg.Type == "" {
		cfg.Type = service.ServiceType(backend)
	}
	svc, err := service.NewMLService(&cfg)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleModel, core.ErrorCodeUnavailable,
			fmt.Sprintf("%s model service %s is misconfigured", kind, backend), err)
	}
	return svc, nil
}

func init() {
	RegisterImageBackend(BackendONNX, func(spec Spec, opts BuildOptions) (core.ImageClassifier, error) {
		return LoadONNXImageModel(spec, opts)
	})
	RegisterMetadataBackend(BackendForest, func(spec Spec, _ BuildOptions) (core.MetadataClassifier, error) {
		return LoadForestModel(spec.Path, spec.FeatureMetaPath)
	})
	RegisterMetadataBackend(BackendLR, func(spec Spec, _ BuildOptions) (core.MetadataClassifier, error) {
		return LoadLRModel(spec.Path)
	})
	RegisterMetadataBackend(BackendRPC, func(spec Spec, _ BuildOptions) (core.MetadataClassifier, error) {
		if spec.Endpoint == "" {
			return nil, errModelMissing("metadata", "(unset endpoint)", nil)
		}
		return NewRPCModel(BackendRPC, spec.Endpoint, time.Duration(spec.Timeout)*time.Second), nil
	})

	for _, backend := range []string{BackendTFServing, BackendKServe, BackendTorchServe} {
		backend := backend
		RegisterImageBackend(backend, func(spec Spec, _ BuildOptions) (core.ImageClassifier, error) {
			svc, err := remoteService("image", backend, spec)
			if err != nil {
				return nil, err
			}
			return NewRemoteImageModel(backend, svc, spec.positiveIndex()), nil
		})
		RegisterMetadataBackend(backend, func(spec Spec, _ BuildOptions) (core.MetadataClassifier, error) {
			svc, err := remoteService("metadata", backend, spec)
			if err != nil {
				return nil, err
			}
			return NewRemoteMetadataModel(backend, svc, spec.positiveIndex()), nil
		})
	}
}
