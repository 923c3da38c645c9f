package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rushteam/oralcare/model"
	"github.com/rushteam/oralcare/store"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fusion.ImageWeight != 0.7 || cfg.Fusion.MetadataWeight != 0.3 || cfg.Fusion.Threshold != 0.5 {
		t.Errorf("unexpected fusion defaults: %+v", cfg.Fusion)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.History.Limit != 100 {
		t.Errorf("history limit = %d", cfg.History.Limit)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
server:
  port: 8080
  rate_limit:
    enabled: true
    per_second: 2
    burst: 4
fusion:
  image_weight: 0.6
  metadata_weight: 0.4
auth:
  token_ttl: 2h
models:
  metadata:
    backend: rpc
    endpoint: http://yaml/predict
recommendations:
  - name: high
    when: result.final_score >= 0.8
    advice: urgent
`)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("METADATA_MODEL_ENDPOINT", "http://env/predict")
	t.Setenv("GOOGLE_CLIENT_ID", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("env PORT should win, got %d", cfg.Server.Port)
	}
	if cfg.Fusion.ImageWeight != 0.6 || cfg.Fusion.Threshold != 0.5 {
		t.Errorf("yaml should merge onto defaults, got %+v", cfg.Fusion)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("token ttl = %v", cfg.Auth.TokenTTL)
	}
	if cfg.Store.Backend != store.BackendMongo {
		t.Errorf("MONGO_URI alone should select mongo, got %q", cfg.Store.Backend)
	}
	if cfg.Models.Metadata.Backend != model.BackendRPC || cfg.Models.Metadata.Endpoint != "http://env/predict" {
		t.Errorf("unexpected metadata spec: %+v", cfg.Models.Metadata)
	}
	if len(cfg.Recommendations) != 1 || cfg.Recommendations[0].Advice != "urgent" {
		t.Errorf("recommendations = %+v", cfg.Recommendations)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"defaults ok", func(c *Config) {}, ""},
		{"negative weight", func(c *Config) { c.Fusion.MetadataWeight = -0.1 }, "weights"},
		{"threshold above one", func(c *Config) { c.Fusion.Threshold = 1.5 }, "threshold"},
		{"unknown image backend", func(c *Config) { c.Models.Image.Backend = "tflite" }, "unknown image model backend"},
		{"remote without endpoint", func(c *Config) { c.Models.Image.Backend = model.BackendKServe }, "service.endpoint"},
		{"rpc without endpoint", func(c *Config) { c.Models.Metadata = model.Spec{Backend: model.BackendRPC} }, "endpoint"},
		{"unknown store", func(c *Config) { c.Store.Backend = "postgres" }, "store.backend"},
		{"mongo without uri", func(c *Config) { c.Store.Backend = store.BackendMongo }, "mongo_uri"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"zero image size", func(c *Config) { c.Models.ImageSize = 0 }, "image_size"},
		{"bad channel order", func(c *Config) { c.Models.ChannelOrder = "rbg" }, "channel_order"},
		{"google without secret", func(c *Config) { c.Auth.GoogleClientID = "cid" }, "google_client_secret"},
		{"rate limit without burst", func(c *Config) { c.Server.RateLimit = RateLimitConfig{Enabled: true, PerSecond: 1} }, "rate_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestModelsConfig_BuildOptions(t *testing.T) {
	path := writeFile(t, `
models:
  image_size: 299
  ort_library_path: /opt/ort/libonnxruntime.so
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.Models.BuildOptions()
	if opts.ImageSize != 299 {
		t.Errorf("ImageSize = %d, want 299", opts.ImageSize)
	}
	if opts.ORTLibraryPath != "/opt/ort/libonnxruntime.so" {
		t.Errorf("ORTLibraryPath = %q", opts.ORTLibraryPath)
	}
	if def := Default().Models.BuildOptions(); def.ImageSize != 224 {
		t.Errorf("default ImageSize = %d, want 224", def.ImageSize)
	}
}
