// Package api 提供 HTTP 接口：预测、历史记录、账号、助手与运维端点。
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/rushteam/oralcare/auth"
	"github.com/rushteam/oralcare/chat"
	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
	"github.com/rushteam/oralcare/model"
	"github.com/rushteam/oralcare/predict"
)

// Deps 是 HTTP 层依赖的领域组件
type Deps struct {
	Predictor *predict.Orchestrator
	Auth      *auth.Service
	Google    *auth.GoogleProvider // nil 表示未启用 Google 登录
	Repo      core.Repository
	Models    *model.Registry
	Monitor   *feature.MemoryFeatureMonitor
	Assistant *chat.Assistant
}

// Config 是 HTTP 层自身的配置
type Config struct {
	FrontendURL    string
	HistoryLimit   int
	MaxUploadBytes int64
	CORSOrigins    []string
	RateLimiter    *RateLimiter // nil 表示不限流
	Logger         *slog.Logger
}

// Server 持有依赖并构建路由
type Server struct {
	Deps
	cfg    Config
	logger *slog.Logger
}

func NewServer(deps Deps, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if deps.Assistant == nil {
		deps.Assistant = chat.NewAssistant(nil)
	}
	return &Server{Deps: deps, cfg: cfg, logger: cfg.Logger}
}

// Handler 返回带中间件的完整路由。
// 中间件包在路由之外，预检请求与未匹配路径同样经过日志与 CORS。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	api.HandleFunc("/history", s.requireUser(s.handleHistory)).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", s.requireUser(s.handleHistoryRecord)).Methods(http.MethodGet)

	authR := api.PathPrefix("/auth").Subrouter()
	authR.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	authR.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	authR.HandleFunc("/me", s.requireUser(s.handleMe)).Methods(http.MethodGet)
	authR.HandleFunc("/update-profile", s.requireUser(s.handleUpdateProfile)).Methods(http.MethodPut)
	authR.HandleFunc("/google", s.handleGoogleLogin).Methods(http.MethodGet)
	authR.HandleFunc("/google/callback", s.handleGoogleCallback).Methods(http.MethodGet)

	api.HandleFunc("/ursol/chat", s.handleChat).Methods(http.MethodPost)
	api.HandleFunc("/ursol/feedback", s.handleFeedback).Methods(http.MethodPost)

	api.HandleFunc("/health/models", s.handleModelHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats/features", s.handleFeatureStats).Methods(http.MethodGet)
	api.HandleFunc("/test-db", s.handleTestDB).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var h http.Handler = r
	h = BodyLimit(s.cfg.MaxUploadBytes)(h)
	h = RateLimit(s.cfg.RateLimiter, s.logger)(h)
	h = CORS(s.cfg.CORSOrigins)(h)
	h = Logging(s.logger)(h)
	h = Recovery(s.logger)(h)
	return h
}
