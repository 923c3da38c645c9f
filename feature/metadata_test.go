package feature

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rushteam/oralcare/core"
)

func TestMapFeatures(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Vector
	}{
		{
			name: "string and number values",
			raw:  map[string]any{"tobacco": "1", "age": 52},
			want: Vector{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 52},
		},
		{
			name: "nil map yields zeros",
			raw:  nil,
			want: Vector{},
		},
		{
			name: "unknown keys ignored",
			raw:  map[string]any{"gender": "male", "diet": 1, "hpv": true},
			want: Vector{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "non-numeric values coerce to zero",
			raw: map[string]any{
				"tobacco":  "yes",
				"alcohol":  nil,
				"betel":    []any{1},
				"hygiene":  map[string]any{"v": 1},
				"lesions":  " 2 ",
				"bleeding": false,
				"age":      "61.5",
			},
			want: Vector{0, 0, 0, 0, 0, 2, 0, 0, 0, 0, 61.5},
		},
		{
			name: "non-finite strings coerce to zero",
			raw:  map[string]any{"hpv": "nan", "age": "inf", "family": "-Infinity", "tobacco": "NaN"},
			want: Vector{},
		},
		{
			name: "all keys present",
			raw: map[string]any{
				"age": 40, "family": 1, "patches": 1, "swallowing": 1, "bleeding": 1,
				"lesions": 1, "hygiene": 1, "hpv": 1, "betel": 1, "alcohol": 1, "tobacco": 1,
			},
			want: Vector{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 40},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapFeatures(tt.raw)
			if got != tt.want {
				t.Errorf("MapFeatures() = %v, 期望 %v", got, tt.want)
			}
			if len(got.Slice()) != Size {
				t.Errorf("特征长度应为 %d", Size)
			}
		})
	}
}

func TestClinicalMetadata_States(t *testing.T) {
	m := NewClinicalMetadata(map[string]any{"tobacco": 1, "alcohol": "n/a"})
	if m.States[0] != ValuePresent {
		t.Errorf("tobacco 状态应为 present, 实际 %v", m.States[0])
	}
	if m.States[1] != ValueInvalid {
		t.Errorf("alcohol 状态应为 invalid, 实际 %v", m.States[1])
	}
	if m.States[10] != ValueMissing {
		t.Errorf("age 状态应为 missing, 实际 %v", m.States[10])
	}
}

func TestVector_ByColumn(t *testing.T) {
	v := MapFeatures(map[string]any{"patches": 1, "age": 30})
	cols := v.ByColumn()
	if cols["White or Red Patches in Mouth"] != 1 || cols["Age"] != 30 {
		t.Errorf("按列名取值错误: %v", cols)
	}
	if len(cols) != Size {
		t.Errorf("列数应为 %d, 实际 %d", Size, len(cols))
	}
}

func TestParseClinicalMetadata(t *testing.T) {
	m, err := ParseClinicalMetadata([]byte(`{"tobacco":"1","age":52,"note":"x"}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if m.Vector() != (Vector{1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 52}) {
		t.Errorf("向量错误: %v", m.Vector())
	}
	if age, ok := m.Raw["age"].(float64); !ok || age != 52 {
		t.Errorf("原始 age 应归一化为 float64, 实际 %#v", m.Raw["age"])
	}

	for _, in := range []string{"", "  ", "null"} {
		m, err := ParseClinicalMetadata([]byte(in))
		if err != nil || m != nil {
			t.Errorf("输入 %q 应视为未提供 metadata, 实际 (%v, %v)", in, m, err)
		}
	}

	m, err = ParseClinicalMetadata([]byte(`{"hpv":"nan","age":"inf"}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if m.Vector() != (Vector{}) {
		t.Errorf("nan/inf 应按 0 处理, 实际 %v", m.Vector())
	}
	if m.States[3] != ValueInvalid || m.States[10] != ValueInvalid {
		t.Errorf("nan/inf 状态应为 invalid, 实际 %v", m.States)
	}

	for _, in := range []string{"{bad", "[1,2]", `"text"`, "12", `{"tobacco":1} junk`, `{"tobacco":1}{"age":2}`} {
		_, err := ParseClinicalMetadata([]byte(in))
		if !core.IsInvalidInput(err) {
			t.Errorf("输入 %q 应返回 INVALID_INPUT, 实际 %v", in, err)
		}
	}
}

func TestFeatureMetadata_ValidateColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feature_meta.json")
	content := `{"feature_columns":["Tobacco Use","Alcohol Consumption","Betel Quid Use","HPV Infection","Poor Oral Hygiene","Oral Lesions","Unexplained Bleeding","Difficulty Swallowing","White or Red Patches in Mouth","Family History of Cancer","Age"],"feature_count":11,"label_column":"Oral Cancer (Diagnosis)"}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	meta, err := LoadFeatureMetadata(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if err := meta.ValidateColumns(); err != nil {
		t.Errorf("列顺序应校验通过: %v", err)
	}

	meta.FeatureColumns[0], meta.FeatureColumns[1] = meta.FeatureColumns[1], meta.FeatureColumns[0]
	if err := meta.ValidateColumns(); err == nil {
		t.Error("列顺序错误时应返回错误")
	}
}

func TestMemoryFeatureMonitor(t *testing.T) {
	m := NewMemoryFeatureMonitor(10)
	m.Record(NewClinicalMetadata(map[string]any{"tobacco": 1, "age": 40}))
	m.Record(NewClinicalMetadata(map[string]any{"tobacco": "bad", "age": 60}))
	m.Record(nil)

	if m.Requests() != 2 {
		t.Errorf("请求数应为 2, 实际 %d", m.Requests())
	}
	snap := m.Snapshot()
	if snap[0].PresentCount != 1 || snap[0].InvalidCount != 1 {
		t.Errorf("tobacco 统计错误: %+v", snap[0])
	}
	if snap[1].MissingCount != 2 {
		t.Errorf("alcohol 缺失数应为 2, 实际 %d", snap[1].MissingCount)
	}
	if snap[10].Mean != 50 || snap[10].Min != 40 || snap[10].Max != 60 {
		t.Errorf("age 分布错误: %+v", snap[10])
	}
}
