package model

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rushteam/oralcare/core"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime 初始化进程级 ONNX Runtime 环境，只执行一次
func initRuntime(libraryPath string) error {
	ortOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			ortErr = ort.InitializeEnvironment()
		}
	})
	return ortErr
}

// ONNXImageModel 使用本地 ONNX Runtime 推理图片模型。
//
// 会话绑定固定的输入输出张量，Predict 通过互斥锁串行化。
// 输出形状 [1,1] 视为 sigmoid 概率，[1,N] 按 positive 取列。
type ONNXImageModel struct {
	path     string
	positive int
	size     int64

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// LoadONNXImageModel 加载模型文件并创建推理会话。
// 输入张量为 [1,size,size,3]，size 与模型声明的输入尺寸不一致时加载失败。
func LoadONNXImageModel(spec Spec, opts BuildOptions) (*ONNXImageModel, error) {
	size := int64(opts.imageSize())
	if err := checkArtifact("image", spec.Path); err != nil {
		return nil, err
	}
	if err := initRuntime(opts.ORTLibraryPath); err != nil {
		return nil, errModelLoad("image", spec.Path, fmt.Errorf("onnxruntime init: %w", err))
	}

	inputs, outputs, err := ort.GetInputOutputInfo(spec.Path)
	if err != nil {
		return nil, errModelLoad("image", spec.Path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errModelLoad("image", spec.Path, fmt.Errorf("model has no inputs or outputs"))
	}
	inputName, outputName := spec.InputName, spec.OutputName
	if inputName == "" {
		inputName = inputs[0].Name
	}
	for _, in := range inputs {
		if in.Name != inputName {
			continue
		}
		if err := checkInputShape(in.Dimensions, size); err != nil {
			return nil, errModelLoad("image", spec.Path, err)
		}
	}
	outputShape := ort.NewShape(1, 1)
	if outputName == "" {
		outputName = outputs[0].Name
	}
	for _, o := range outputs {
		if o.Name == outputName {
			outputShape = concreteShape(o.Dimensions)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, size, size, 3))
	if err != nil {
		return nil, errModelLoad("image", spec.Path, err)
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, errModelLoad("image", spec.Path, err)
	}
	session, err := ort.NewAdvancedSession(spec.Path,
		[]string{inputName}, []string{outputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errModelLoad("image", spec.Path, err)
	}

	return &ONNXImageModel{
		path:     spec.Path,
		positive: spec.positiveIndex(),
		size:     size,
		session:  session,
		input:    input,
		output:   output,
	}, nil
}

// checkInputShape 校验模型声明的 NHWC 输入与预处理尺寸一致，动态维度 (<=0) 不参与比较
func checkInputShape(dims ort.Shape, size int64) error {
	if len(dims) != 4 {
		return fmt.Errorf("model input has %d dimensions, want 4 (NHWC)", len(dims))
	}
	want := [4]int64{1, size, size, 3}
	for i := 1; i < 4; i++ {
		if dims[i] > 0 && dims[i] != want[i] {
			return fmt.Errorf("model input shape %v does not match preprocessed shape %v (check models.image_size)", dims, want)
		}
	}
	return nil
}

// concreteShape 把动态维度 (-1) 固定为 1
func concreteShape(dims ort.Shape) ort.Shape {
	if len(dims) == 0 {
		return ort.NewShape(1, 1)
	}
	out := make(ort.Shape, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

func (m *ONNXImageModel) Name() string { return "onnx" }

func (m *ONNXImageModel) Predict(ctx context.Context, tensor *core.Tensor) (float64, error) {
	if err := tensor.Validate(1, m.size, m.size, 3); err != nil {
		return 0, errInference("image", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return 0, errInference("image", fmt.Errorf("session closed"))
	}
	copy(m.input.GetData(), tensor.Data)
	if err := m.session.Run(); err != nil {
		return 0, errInference("image", err)
	}
	raw := m.output.GetData()
	row := make([]float64, len(raw))
	for i, v := range raw {
		row[i] = float64(v)
	}
	p, err := pickPositive(row, m.positive)
	if err != nil {
		return 0, errInference("image", err)
	}
	return p, nil
}

// Close 释放会话和张量
func (m *ONNXImageModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.input.Destroy()
	m.output.Destroy()
	m.session = nil
	return err
}

var _ core.ImageClassifier = (*ONNXImageModel)(nil)
