// Package config 加载服务配置：默认值 <- YAML 文件 <- .env <- 环境变量，最后统一校验。
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/oralcare/model"
	"github.com/rushteam/oralcare/pkg/dsl"
	"github.com/rushteam/oralcare/store"
)

// DefaultPath 默认配置文件路径，不存在时只使用默认值与环境变量
const DefaultPath = "config.yaml"

// Config 是服务的全部配置
type Config struct {
	Server          ServerConfig  `yaml:"server"`
	Log             LogConfig     `yaml:"log"`
	Store           store.Config  `yaml:"store"`
	Auth            AuthConfig    `yaml:"auth"`
	Models          ModelsConfig  `yaml:"models"`
	Fusion          FusionConfig  `yaml:"fusion"`
	History         HistoryConfig `yaml:"history"`
	Chat            ChatConfig    `yaml:"chat"`
	Recommendations []dsl.Rule    `yaml:"recommendations"`
}

type ServerConfig struct {
	Port            int             `yaml:"port"`
	MaxUploadMB     int             `yaml:"max_upload_mb"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 的令牌桶限流
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	GoogleClientID     string        `yaml:"google_client_id"`
	GoogleClientSecret string        `yaml:"google_client_secret"`
	BackendURL         string        `yaml:"backend_url"`
	FrontendURL        string        `yaml:"frontend_url"`
}

// GoogleEnabled 是否启用 Google 登录
func (c AuthConfig) GoogleEnabled() bool { return c.GoogleClientID != "" }

type ModelsConfig struct {
	// Preload 启动时加载两个模型，加载失败则启动失败
	Preload        bool       `yaml:"preload"`
	ORTLibraryPath string     `yaml:"ort_library_path"`
	ChannelOrder   string     `yaml:"channel_order"` // rgb | bgr
	ImageSize      int        `yaml:"image_size"`
	Image          model.Spec `yaml:"image"`
	Metadata       model.Spec `yaml:"metadata"`
}

// BuildOptions 模型构建参数，ONNX 图片模型的输入尺寸与预处理尺寸取同一个 image_size
func (c ModelsConfig) BuildOptions() model.BuildOptions {
	return model.BuildOptions{ORTLibraryPath: c.ORTLibraryPath, ImageSize: c.ImageSize}
}

type FusionConfig struct {
	ImageWeight    float64 `yaml:"image_weight"`
	MetadataWeight float64 `yaml:"metadata_weight"`
	Threshold      float64 `yaml:"threshold"`
	Precision      int     `yaml:"precision"`
}

type HistoryConfig struct {
	Limit      int  `yaml:"limit"`
	StoreImage bool `yaml:"store_image"`
}

type ChatConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"` // 为空时自动选择
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			MaxUploadMB:     10,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimit:       RateLimitConfig{PerSecond: 5, Burst: 20},
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: store.Config{Backend: store.BackendMemory, RedisAddr: "localhost:6379", MongoDatabase: store.DefaultMongoDatabase, SQLitePath: "oralcare.db"},
		Auth: AuthConfig{
			TokenTTL:    24 * time.Hour,
			BackendURL:  "http://localhost:5000",
			FrontendURL: "http://localhost:3000",
		},
		Models: ModelsConfig{
			ChannelOrder: "rgb",
			ImageSize:    224,
			Image:        model.Spec{Backend: model.BackendONNX, Path: "ml/image_model/oral_cancer_model.onnx"},
			Metadata: model.Spec{
				Backend:         model.BackendForest,
				Path:            "ml/metadata_model/metadata_risk_model.json",
				FeatureMetaPath: "ml/metadata_model/feature_meta.json",
			},
		},
		Fusion:  FusionConfig{ImageWeight: 0.7, MetadataWeight: 0.3, Threshold: 0.5, Precision: 3},
		History: HistoryConfig{Limit: 100, StoreImage: true},
	}
}

// Load 读取配置。path 为空时使用 DefaultPath；文件不存在不是错误。
// .env 缺失同样忽略，已存在的环境变量不会被 .env 覆盖。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Server.Port)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	envString("STORE_BACKEND", &c.Store.Backend)
	envString("REDIS_ADDR", &c.Store.RedisAddr)
	envString("REDIS_PASSWORD", &c.Store.RedisPassword)
	envString("MONGO_URI", &c.Store.MongoURI)
	envString("MONGO_DATABASE", &c.Store.MongoDatabase)
	envString("SQLITE_PATH", &c.Store.SQLitePath)
	// 只配置了 MONGO_URI 时沿用 MongoDB，与旧部署保持一致
	if os.Getenv("STORE_BACKEND") == "" && os.Getenv("MONGO_URI") != "" && c.Store.Backend == store.BackendMemory {
		c.Store.Backend = store.BackendMongo
	}

	envString("JWT_SECRET", &c.Auth.JWTSecret)
	envString("GOOGLE_CLIENT_ID", &c.Auth.GoogleClientID)
	envString("GOOGLE_CLIENT_SECRET", &c.Auth.GoogleClientSecret)
	envString("BACKEND_URL", &c.Auth.BackendURL)
	envString("FRONTEND_URL", &c.Auth.FrontendURL)
	// 部署时常把密钥复制成带反引号的形式
	c.Auth.GoogleClientSecret = strings.TrimRight(c.Auth.GoogleClientSecret, "`")

	envString("GEMINI_API_KEY", &c.Chat.GeminiAPIKey)

	envString("IMAGE_MODEL_BACKEND", &c.Models.Image.Backend)
	envString("IMAGE_MODEL_PATH", &c.Models.Image.Path)
	envString("IMAGE_MODEL_ENDPOINT", &c.Models.Image.Service.Endpoint)
	envString("METADATA_MODEL_BACKEND", &c.Models.Metadata.Backend)
	envString("METADATA_MODEL_PATH", &c.Models.Metadata.Path)
	envString("ORT_LIBRARY_PATH", &c.Models.ORTLibraryPath)
	if v := strings.TrimSpace(os.Getenv("METADATA_MODEL_ENDPOINT")); v != "" {
		if c.Models.Metadata.Backend == model.BackendRPC {
			c.Models.Metadata.Endpoint = v
		} else {
			c.Models.Metadata.Service.Endpoint = v
		}
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate 校验配置的一致性
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.PerSecond <= 0 || c.Server.RateLimit.Burst <= 0) {
		errs = append(errs, fmt.Errorf("server.rate_limit requires positive per_second and burst"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level must be debug|info|warn|error, got %q", c.Log.Level))
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Log.Format)) {
		errs = append(errs, fmt.Errorf("log.format must be text|json, got %q", c.Log.Format))
	}
	if !slices.Contains([]string{store.BackendMemory, store.BackendRedis, store.BackendMongo, store.BackendSQLite}, c.Store.Backend) {
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.Store.Backend == store.BackendMongo && c.Store.MongoURI == "" {
		errs = append(errs, fmt.Errorf("store.mongo_uri is required for the mongo backend"))
	}

	f := c.Fusion
	if f.ImageWeight < 0 || f.MetadataWeight < 0 {
		errs = append(errs, fmt.Errorf("fusion weights must not be negative"))
	}
	if f.Threshold < 0 || f.Threshold > 1 {
		errs = append(errs, fmt.Errorf("fusion.threshold must be within [0,1], got %v", f.Threshold))
	}
	if f.Precision < 0 {
		errs = append(errs, fmt.Errorf("fusion.precision must not be negative"))
	}

	imageBackends, metadataBackends := model.SupportedBackends()
	errs = append(errs, validateSpec("image", c.Models.Image, imageBackends)...)
	errs = append(errs, validateSpec("metadata", c.Models.Metadata, metadataBackends)...)
	if c.Models.ChannelOrder != "rgb" && c.Models.ChannelOrder != "bgr" {
		errs = append(errs, fmt.Errorf("models.channel_order must be rgb or bgr, got %q", c.Models.ChannelOrder))
	}
	if c.Models.ImageSize <= 0 {
		errs = append(errs, fmt.Errorf("models.image_size must be positive"))
	}

	if c.Auth.GoogleEnabled() && c.Auth.GoogleClientSecret == "" {
		errs = append(errs, fmt.Errorf("auth.google_client_secret is required when google login is enabled"))
	}
	if c.History.Limit < 0 {
		errs = append(errs, fmt.Errorf("history.limit must not be negative"))
	}
	return errors.Join(errs...)
}

func validateSpec(kind string, s model.Spec, supported []string) []error {
	if !slices.Contains(supported, s.Backend) {
		return []error{fmt.Errorf("unknown %s model backend %q (supported: %s)", kind, s.Backend, strings.Join(supported, ", "))}
	}
	switch s.Backend {
	case model.BackendONNX, model.BackendForest, model.BackendLR:
		if s.Path == "" {
			return []error{fmt.Errorf("models.%s.path is required for the %s backend", kind, s.Backend)}
		}
	case model.BackendRPC:
		if s.Endpoint == "" {
			return []error{fmt.Errorf("models.%s.endpoint is required for the rpc backend", kind)}
		}
	default:
		if s.Service.Endpoint == "" {
			return []error{fmt.Errorf("models.%s.service.endpoint is required for the %s backend", kind, s.Backend)}
		}
	}
	return nil
}
