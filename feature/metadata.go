package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/pkg/conv"
)

// Key 是 metadata 请求中使用的短键名
type Key string

const (
	KeyTobacco    Key = "tobacco"
	KeyAlcohol    Key = "alcohol"
	KeyBetel      Key = "betel"
	KeyHPV        Key = "hpv"
	KeyHygiene    Key = "hygiene"
	KeyLesions    Key = "lesions"
	KeyBleeding   Key = "bleeding"
	KeySwallowing Key = "swallowing"
	KeyPatches    Key = "patches"
	KeyFamily     Key = "family"
	KeyAge        Key = "age"
)

// Keys 是特征的固定顺序，与模型训练时的列顺序一致，不可调整。
var Keys = [Size]Key{
	KeyTobacco, KeyAlcohol, KeyBetel, KeyHPV, KeyHygiene, KeyLesions,
	KeyBleeding, KeySwallowing, KeyPatches, KeyFamily, KeyAge,
}

// Columns 是与 Keys 一一对应的训练列名。
var Columns = [Size]string{
	"Tobacco Use",
	"Alcohol Consumption",
	"Betel Quid Use",
	"HPV Infection",
	"Poor Oral Hygiene",
	"Oral Lesions",
	"Unexplained Bleeding",
	"Difficulty Swallowing",
	"White or Red Patches in Mouth",
	"Family History of Cancer",
	"Age",
}

// Size 特征维度
const Size = 11

// Vector 是按 Keys 顺序排列的特征向量
type Vector [Size]float64

// Slice 返回向量的切片副本
func (v Vector) Slice() []float64 {
	out := make([]float64, Size)
	copy(out, v[:])
	return out
}

// ByColumn 返回以训练列名为键的特征字典（供按列名取特征的模型使用）
func (v Vector) ByColumn() map[string]float64 {
	out := make(map[string]float64, Size)
	for i, col := range Columns {
		out[col] = v[i]
	}
	return out
}

// ByKey 返回以短键名为键的特征字典
func (v Vector) ByKey() map[string]float64 {
	out := make(map[string]float64, Size)
	for i, k := range Keys {
		out[string(k)] = v[i]
	}
	return out
}

// ValueState 描述单个特征在原始 metadata 中的状态
type ValueState int

const (
	ValuePresent ValueState = iota // 存在且可转为数字
	ValueMissing                   // 键不存在
	ValueInvalid                   // 键存在但无法转为数字，按 0 处理
)

// ClinicalMetadata 是请求边界上的强类型临床信息。
// 每个字段缺失或无法解析时取 0，Raw 保留原始输入用于持久化。
type ClinicalMetadata struct {
	Tobacco    float64
	Alcohol    float64
	Betel      float64
	HPV        float64
	Hygiene    float64
	Lesions    float64
	Bleeding   float64
	Swallowing float64
	Patches    float64
	Family     float64
	Age        float64

	Raw    map[string]any
	States [Size]ValueState
}

// Vector 返回固定顺序的特征向量
func (m *ClinicalMetadata) Vector() Vector {
	return Vector{
		m.Tobacco, m.Alcohol, m.Betel, m.HPV, m.Hygiene, m.Lesions,
		m.Bleeding, m.Swallowing, m.Patches, m.Family, m.Age,
	}
}

func (m *ClinicalMetadata) fields() [Size]*float64 {
	return [Size]*float64{
		&m.Tobacco, &m.Alcohol, &m.Betel, &m.HPV, &m.Hygiene, &m.Lesions,
		&m.Bleeding, &m.Swallowing, &m.Patches, &m.Family, &m.Age,
	}
}

// NewClinicalMetadata 把松散类型的字典转换为 ClinicalMetadata。
// 未识别的键被忽略；此函数不会失败。
func NewClinicalMetadata(raw map[string]any) *ClinicalMetadata {
	m := &ClinicalMetadata{Raw: raw}
	fields := m.fields()
	for i, k := range Keys {
		v, ok := raw[string(k)]
		if !ok {
			m.States[i] = ValueMissing
			continue
		}
		f, ok := conv.ToFloat64(v)
		if !ok {
			m.States[i] = ValueInvalid
			continue
		}
		*fields[i] = f
		m.States[i] = ValuePresent
	}
	return m
}

// MapFeatures 把松散类型的字典映射为固定顺序的 11 维特征向量。
func MapFeatures(raw map[string]any) Vector {
	return NewClinicalMetadata(raw).Vector()
}

// ErrInvalidMetadata 表示 metadata 字段不是合法的 JSON 对象
var ErrInvalidMetadata = core.NewDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput, "metadata must be a JSON object")

// ParseClinicalMetadata 解析请求中的 metadata JSON 字符串。
//
// 返回 (nil, nil) 表示未提供 metadata（空串或 null）；
// 非法 JSON 或非对象类型返回 INVALID_INPUT 错误。
func ParseClinicalMetadata(data []byte) (*ClinicalMetadata, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput, ErrInvalidMetadata.Message, err)
	}
	// 对象之后只允许空白
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodeInvalidInput, ErrInvalidMetadata.Message,
			fmt.Errorf("trailing data after metadata object: %v", err))
	}
	if raw == nil {
		return nil, nil
	}
	normalizeNumbers(raw)
	return NewClinicalMetadata(raw), nil
}

// normalizeNumbers 把 json.Number 转为 float64，便于持久化与规则表达式使用。
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		normalizeNumbers(val)
		return val
	case []any:
		for i := range val {
			val[i] = normalizeValue(val[i])
		}
		return val
	default:
		return v
	}
}

// FeatureMetadata 是模型附带的特征元数据，对应 feature_meta.json
type FeatureMetadata struct {
	// FeatureColumns 特征列名列表（按顺序）
	FeatureColumns []string `json:"feature_columns"`
	// FeatureCount 特征数量
	FeatureCount int `json:"feature_count"`
	// LabelColumn 标签列名
	LabelColumn string `json:"label_column"`
	// ModelVersion 模型版本
	ModelVersion string `json:"model_version"`
}

// LoadFeatureMetadata 从文件加载特征元数据
func LoadFeatureMetadata(path string) (*FeatureMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取特征元数据文件失败: %w", err)
	}
	var meta FeatureMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("解析特征元数据失败: %w", err)
	}
	return &meta, nil
}

// ValidateColumns 检查模型的特征列与 Columns 的顺序完全一致
func (m *FeatureMetadata) ValidateColumns() error {
	if len(m.FeatureColumns) != Size {
		return fmt.Errorf("feature columns: got %d, want %d", len(m.FeatureColumns), Size)
	}
	for i, col := range m.FeatureColumns {
		if col != Columns[i] {
			return fmt.Errorf("feature column %d: got %q, want %q", i, col, Columns[i])
		}
	}
	return nil
}
