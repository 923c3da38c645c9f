// Package model 提供图片分类器与临床元数据分类器的各种后端实现，以及负责加载和持有它们的 Registry。
//
// 后端：
//   - 图片：onnx（本地 ONNX Runtime）、tf_serving、kserve、torch_serve
//   - 元数据：forest（随机森林 JSON 导出）、lr（逻辑回归 JSON）、rpc、tf_serving、kserve、torch_serve
package model

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/service"
)

// Spec 描述一个模型的加载方式
type Spec struct {
	// Backend 后端类型，见包注释
	Backend string `yaml:"backend"`

	// Path 本地模型文件路径（onnx / forest / lr）
	Path string `yaml:"path"`

	// FeatureMetaPath 可选的 feature_meta.json，用于校验特征列顺序
	FeatureMetaPath string `yaml:"feature_meta_path"`

	// Endpoint rpc 后端的完整 URL
	Endpoint string `yaml:"endpoint"`

	// InputName / OutputName ONNX 输入输出节点名，留空时从模型中读取
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`

	// PositiveIndex 当输出包含多个类别概率时取哪一列，默认 1
	PositiveIndex *int `yaml:"positive_index"`

	// Timeout 请求超时（秒，rpc 使用）
	Timeout int `yaml:"timeout"`

	// Service 远程服务配置（tf_serving / kserve / torch_serve）
	Service service.ServiceConfig `yaml:"service"`
}

func (s Spec) positiveIndex() int {
	if s.PositiveIndex != nil {
		return *s.PositiveIndex
	}
	return 1
}

// errModelMissing 模型文件不存在
func errModelMissing(kind, path string, err error) error {
	return core.WrapDomainError(core.ModuleModel, core.ErrorCodeUnavailable, fmt.Sprintf("%s model not found at %s", kind, path), err)
}

// errModelLoad 模型文件存在但无法加载
func errModelLoad(kind, path string, err error) error {
	return core.WrapDomainError(core.ModuleModel, core.ErrorCodeUnavailable, fmt.Sprintf("%s model at %s could not be loaded", kind, path), err)
}

// errInference 推理失败，消息不暴露细节
func errInference(kind string, err error) error {
	return core.WrapDomainError(core.ModuleModel, core.ErrorCodeInternalError, kind+" inference failed", err)
}

// checkArtifact 确认本地模型文件存在
func checkArtifact(kind, path string) error {
	if path == "" {
		return errModelMissing(kind, "(unset path)", nil)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errModelMissing(kind, path, err)
		}
		return errModelLoad(kind, path, err)
	}
	return nil
}

// pickPositive 从单个样本的输出中取正类概率：
// 单个输出直接返回，多个输出按 index 取值。
func pickPositive(row []float64, index int) (float64, error) {
	var p float64
	switch {
	case len(row) == 1:
		p = row[0]
	case index >= 0 && index < len(row):
		p = row[index]
	default:
		return 0, fmt.Errorf("positive class index %d out of range for output of width %d", index, len(row))
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("model returned non-finite probability %v", p)
	}
	return p, nil
}
