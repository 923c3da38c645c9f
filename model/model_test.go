package model

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
	"github.com/rushteam/oralcare/service"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-12 }

func writeJSON(t *testing.T, name string, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func testForest() map[string]interface{} {
	return map[string]interface{}{
		"classes":       []int{0, 1},
		"feature_names": feature.Columns[:],
		"trees": []map[string]interface{}{
			{
				// tobacco <= 0.5
				"children_left":  []int{1, -1, -1},
				"children_right": []int{2, -1, -1},
				"feature":        []int{0, -2, -2},
				"threshold":      []float64{0.5, -2, -2},
				"value":          [][]float64{{9, 5}, {8, 2}, {1, 3}},
			},
			{
				// age <= 40.5
				"children_left":  []int{1, -1, -1},
				"children_right": []int{2, -1, -1},
				"feature":        []int{10, -2, -2},
				"threshold":      []float64{40.5, -2, -2},
				"value":          [][]float64{{0.7, 0.3}, {1.0, 0.0}, {0.4, 0.6}},
			},
		},
	}
}

func TestForestModel_PredictProba(t *testing.T) {
	m, err := LoadForestModel(writeJSON(t, "forest.json", testForest()), "")
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}

	tests := []struct {
		name string
		raw  map[string]any
		want float64
	}{
		{"全部缺失", map[string]any{}, 0.1},
		{"吸烟且高龄", map[string]any{"tobacco": 1, "age": 54}, 0.675},
		{"阈值上取左子树", map[string]any{"tobacco": 0.5, "age": 40.5}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.PredictProba(context.Background(), feature.MapFeatures(tt.raw).Slice())
			if err != nil {
				t.Fatalf("PredictProba 失败: %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("PredictProba = %v, 期望 %v", got, tt.want)
			}
		})
	}

	if _, err := m.PredictProba(context.Background(), []float64{1, 2}); err == nil {
		t.Error("特征维度错误时应返回错误")
	}

	nonFinite := make([]float64, feature.Size)
	nonFinite[10] = math.Inf(1)
	if _, err := m.PredictProba(context.Background(), nonFinite); err == nil {
		t.Error("非有限特征应返回错误")
	}
}

func TestLoadForestModel_Invalid(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	_, err := LoadForestModel(missing, "")
	if !core.IsModelUnavailable(err) {
		t.Fatalf("文件不存在应为模型不可用错误, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) {
		t.Errorf("错误信息应包含路径: %v", err)
	}

	badOrder := testForest()
	names := append([]string(nil), feature.Columns[:]...)
	names[0], names[1] = names[1], names[0]
	badOrder["feature_names"] = names
	if _, err := LoadForestModel(writeJSON(t, "bad.json", badOrder), ""); !core.IsModelUnavailable(err) {
		t.Errorf("列顺序错误应加载失败, got %v", err)
	}

	noPositive := testForest()
	noPositive["classes"] = []int{0, 2}
	if _, err := LoadForestModel(writeJSON(t, "cls.json", noPositive), ""); err == nil {
		t.Error("缺少正类应加载失败")
	}

	meta := writeJSON(t, "feature_meta.json", map[string]interface{}{
		"feature_columns": []string{"Age"},
		"feature_count":   1,
	})
	if _, err := LoadForestModel(writeJSON(t, "ok.json", testForest()), meta); err == nil {
		t.Error("feature_meta.json 列不一致应加载失败")
	}
}

func TestLRModel(t *testing.T) {
	path := writeJSON(t, "lr.json", map[string]interface{}{
		"bias":    -1.0,
		"weights": map[string]float64{"Tobacco Use": 1.0, "age": 0.0},
	})
	m, err := LoadLRModel(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	got, err := m.PredictProba(context.Background(), feature.MapFeatures(map[string]any{"tobacco": 1}).Slice())
	if err != nil {
		t.Fatalf("PredictProba 失败: %v", err)
	}
	if !almostEqual(got, 0.5) {
		t.Errorf("sigmoid(0) 应为 0.5, got %v", got)
	}

	got, err = m.PredictProba(context.Background(), feature.MapFeatures(map[string]any{"tobacco": "nan", "hpv": "inf"}).Slice())
	if err != nil || !almostEqual(got, 1/(1+math.E)) {
		t.Errorf("nan/inf 输入应按 0 处理, got (%v, %v)", got, err)
	}

	nonFinite := make([]float64, feature.Size)
	nonFinite[0] = math.NaN()
	if _, err := m.PredictProba(context.Background(), nonFinite); err == nil {
		t.Error("非有限概率应返回错误")
	}
}

func TestRPCModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		var body struct {
			FeaturesList []map[string]float64 `json:"features_list"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.FeaturesList) != 1 || body.FeaturesList[0]["Age"] != 54 {
			t.Errorf("请求应按训练列名发送: %v", body.FeaturesList)
		}
		_, _ = w.Write([]byte(`{"scores":[0.8]}`))
	}))
	defer srv.Close()

	m := NewRPCModel("rpc", srv.URL, 0)
	got, err := m.PredictProba(context.Background(), feature.MapFeatures(map[string]any{"age": 54}).Slice())
	if err != nil {
		t.Fatalf("PredictProba 失败: %v", err)
	}
	if got != 0.8 {
		t.Errorf("PredictProba = %v, 期望 0.8", got)
	}
	if err := m.Health(context.Background()); err != nil {
		t.Errorf("Health 失败: %v", err)
	}
}

type fakeService struct {
	resp *core.MLPredictResponse
	err  error
	req  *core.MLPredictRequest
}

func (f *fakeService) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	f.req = req
	return f.resp, f.err
}
func (f *fakeService) Health(ctx context.Context) error { return f.err }
func (f *fakeService) Close(ctx context.Context) error  { return nil }

func TestRemoteModels(t *testing.T) {
	svc := &fakeService{resp: &core.MLPredictResponse{Predictions: []float64{0.3}, Scores: [][]float64{{0.3, 0.7}}}}

	img := NewRemoteImageModel(BackendKServe, svc, 1)
	p, err := img.Predict(context.Background(), core.NewTensor(1, 224, 224, 3))
	if err != nil || p != 0.7 {
		t.Fatalf("Predict = %v, %v; 期望 0.7", p, err)
	}
	if svc.req.Tensor == nil {
		t.Error("图片请求应携带张量")
	}

	meta := NewRemoteMetadataModel(BackendTFServing, svc, 1)
	if _, err := meta.PredictProba(context.Background(), make([]float64, feature.Size)); err != nil {
		t.Fatalf("PredictProba 失败: %v", err)
	}
	if len(svc.req.Instances) != 1 || len(svc.req.Instances[0]) != feature.Size {
		t.Errorf("元数据请求应为单行 11 列: %v", svc.req.Instances)
	}

	svc.resp = &core.MLPredictResponse{Scores: [][]float64{{0.42}}}
	if p, _ := meta.PredictProba(context.Background(), make([]float64, feature.Size)); p != 0.42 {
		t.Errorf("单输出应直接返回, got %v", p)
	}

	svc.resp = &core.MLPredictResponse{Scores: [][]float64{{0.1, 0.2, 0.7}}}
	meta.Positive = 5
	if _, err := meta.PredictProba(context.Background(), make([]float64, feature.Size)); err == nil {
		t.Error("正类索引越界应返回错误")
	}

	svc.err = errors.New("down")
	if _, err := img.Predict(context.Background(), core.NewTensor(1, 224, 224, 3)); err == nil {
		t.Error("服务失败应返回错误")
	}
}

func TestCheckInputShape(t *testing.T) {
	tests := []struct {
		name    string
		dims    ort.Shape
		size    int64
		wantErr bool
	}{
		{"exact 224", ort.NewShape(1, 224, 224, 3), 224, false},
		{"dynamic batch", ort.NewShape(-1, 224, 224, 3), 224, false},
		{"dynamic spatial", ort.NewShape(-1, -1, -1, 3), 299, false},
		{"configured size differs", ort.NewShape(1, 224, 224, 3), 299, true},
		{"channels first", ort.NewShape(1, 3, 224, 224), 224, true},
		{"rank 3", ort.NewShape(224, 224, 3), 224, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkInputShape(tt.dims, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkInputShape(%v, %d) err = %v, wantErr %v", tt.dims, tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestBuildOptions_ImageSize(t *testing.T) {
	if got := (BuildOptions{}).imageSize(); got != 224 {
		t.Errorf("default imageSize = %d, want 224", got)
	}
	if got := (BuildOptions{ImageSize: 299}).imageSize(); got != 299 {
		t.Errorf("imageSize = %d, want 299", got)
	}
}

func TestBuildUnsupportedBackend(t *testing.T) {
	if _, err := BuildImage(Spec{Backend: "tflite"}, BuildOptions{}); !core.IsNotSupported(err) {
		t.Errorf("未知后端应返回 NOT_SUPPORTED, got %v", err)
	}
	if _, err := BuildMetadata(Spec{Backend: BackendForest, Path: filepath.Join(t.TempDir(), "x.json")}, BuildOptions{}); !core.IsModelUnavailable(err) {
		t.Errorf("文件缺失应为模型不可用, got %v", err)
	}
	m, err := BuildMetadata(Spec{Backend: BackendTorchServe, Service: service.ServiceConfig{Endpoint: "http://localhost:1", ModelName: "meta"}}, BuildOptions{})
	if err != nil {
		t.Fatalf("torch_serve 后端构建失败: %v", err)
	}
	if m.Name() != BackendTorchServe {
		t.Errorf("Name = %s", m.Name())
	}
}

type stubImage struct{ p float64 }

func (s stubImage) Name() string { return "stub" }
func (s stubImage) Predict(ctx context.Context, t *core.Tensor) (float64, error) {
	return s.p, nil
}

type stubMeta struct{}

func (stubMeta) Name() string { return "stub" }
func (stubMeta) PredictProba(ctx context.Context, f []float64) (float64, error) {
	return 0.5, nil
}

func TestRegistry_LazyLoad(t *testing.T) {
	var imageLoads, metaLoads int32
	fail := true
	r := NewRegistryWithLoaders(
		func() (core.ImageClassifier, error) {
			atomic.AddInt32(&imageLoads, 1)
			return stubImage{p: 0.9}, nil
		},
		func() (core.MetadataClassifier, error) {
			atomic.AddInt32(&metaLoads, 1)
			if fail {
				return nil, errModelMissing("metadata", "/models/missing.json", nil)
			}
			return stubMeta{}, nil
		},
	)

	health := r.Health(context.Background())
	if health["image"].Loaded || imageLoads != 0 {
		t.Error("Health 不应触发加载")
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Image(context.Background()); err != nil {
				t.Errorf("Image 失败: %v", err)
			}
		}()
	}
	wg.Wait()
	if imageLoads != 1 {
		t.Errorf("并发请求只应加载一次, got %d", imageLoads)
	}

	if _, err := r.Metadata(context.Background()); !core.IsModelUnavailable(err) {
		t.Fatalf("加载失败应返回模型不可用, got %v", err)
	}
	fail = false
	if _, err := r.Metadata(context.Background()); err != nil {
		t.Fatalf("失败不应被缓存: %v", err)
	}
	if metaLoads != 2 {
		t.Errorf("失败后应重试加载, got %d", metaLoads)
	}

	health = r.Health(context.Background())
	if !health["image"].Loaded || !health["image"].Healthy || health["image"].Backend != "stub" {
		t.Errorf("image 状态错误: %+v", health["image"])
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close 失败: %v", err)
	}
	if r.Health(context.Background())["image"].Loaded {
		t.Error("Close 后应为未加载")
	}
}

func TestRegistry_Preload(t *testing.T) {
	r := NewRegistryWithLoaders(
		func() (core.ImageClassifier, error) { return stubImage{}, nil },
		func() (core.MetadataClassifier, error) {
			return nil, errModelMissing("metadata", "/m.json", nil)
		},
	)
	if err := r.Preload(context.Background()); err == nil {
		t.Error("任一分类器加载失败时 Preload 应返回错误")
	}
}
