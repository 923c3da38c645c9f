package core

import "fmt"

// Tensor 是行优先存储的 float32 稠密张量。
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor 按形状分配一个全零张量。
func NewTensor(shape ...int64) *Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, n)}
}

// Size 返回形状对应的元素个数
func (t *Tensor) Size() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate 检查数据长度与形状一致，且与期望形状匹配（期望形状为空时不检查）。
func (t *Tensor) Validate(want ...int64) error {
	if t == nil {
		return fmt.Errorf("tensor is nil")
	}
	if int64(len(t.Data)) != t.Size() {
		return fmt.Errorf("tensor data length %d does not match shape %v", len(t.Data), t.Shape)
	}
	if len(want) == 0 {
		return nil
	}
	if len(want) != len(t.Shape) {
		return fmt.Errorf("tensor shape %v, want %v", t.Shape, want)
	}
	for i := range want {
		if want[i] != t.Shape[i] {
			return fmt.Errorf("tensor shape %v, want %v", t.Shape, want)
		}
	}
	return nil
}

// Nested 把张量展开为嵌套切片（去掉 batch 维之前的完整形状），用于 JSON 协议。
func (t *Tensor) Nested() interface{} {
	if len(t.Shape) == 0 {
		return []interface{}{}
	}
	v, _ := nest(t.Shape, t.Data)
	return v
}

func nest(shape []int64, data []float32) (interface{}, []float32) {
	if len(shape) == 1 {
		out := make([]float32, shape[0])
		copy(out, data[:shape[0]])
		return out, data[shape[0]:]
	}
	out := make([]interface{}, shape[0])
	for i := range out {
		out[i], data = nest(shape[1:], data)
	}
	return out, data
}

// Float64s 返回数据的 float64 副本
func (t *Tensor) Float64s() []float64 {
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return out
}
