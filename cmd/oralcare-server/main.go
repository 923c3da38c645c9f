// Command oralcare-server 启动口腔癌筛查后端。
//
// 配置读取顺序：默认值、config.yaml（可用 -config 指定）、.env、环境变量。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/oralcare/api"
	"github.com/rushteam/oralcare/auth"
	"github.com/rushteam/oralcare/chat"
	"github.com/rushteam/oralcare/config"
	"github.com/rushteam/oralcare/core"
	"github.com/rushteam/oralcare/feature"
	"github.com/rushteam/oralcare/fusion"
	"github.com/rushteam/oralcare/imaging"
	"github.com/rushteam/oralcare/model"
	"github.com/rushteam/oralcare/pkg/dsl"
	"github.com/rushteam/oralcare/predict"
	"github.com/rushteam/oralcare/store"
)

// 特征监控保留的样本数
const monitorSamples = 1000

func main() {
	path := flag.String("config", config.DefaultPath, "path to YAML config")
	flag.Parse()

	if err := run(*path); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := openStore(ctx, cfg.Store, logger)
	defer repo.Close()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, tokens are signed with an empty key")
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authn := auth.NewService(repo, tokens, auth.WithLogger(logger))
	var google *auth.GoogleProvider
	if cfg.Auth.GoogleEnabled() {
		google = auth.NewGoogleProvider(cfg.Auth.GoogleClientID, cfg.Auth.GoogleClientSecret,
			strings.TrimRight(cfg.Auth.BackendURL, "/")+"/api/auth/google/callback")
	} else {
		logger.Warn("google sign-in disabled, GOOGLE_CLIENT_ID not set")
	}

	models := model.NewRegistry(cfg.Models.Image, cfg.Models.Metadata, cfg.Models.BuildOptions())
	defer models.Close()
	if cfg.Models.Preload {
		if err := models.Preload(ctx); err != nil {
			return fmt.Errorf("preload models: %w", err)
		}
	}

	rules, err := dsl.NewRuleSet(cfg.Recommendations)
	if err != nil {
		return fmt.Errorf("recommendation rules: %w", err)
	}
	monitor := feature.NewMemoryFeatureMonitor(monitorSamples)

	predictor := predict.New(predict.Deps{
		Models: models,
		Preprocessor: imaging.NewPreprocessor(
			imaging.WithSize(cfg.Models.ImageSize, cfg.Models.ImageSize),
			imaging.WithChannelOrder(imaging.ChannelOrder(cfg.Models.ChannelOrder)),
		),
		Fusion: fusion.New(
			fusion.WithWeights(cfg.Fusion.ImageWeight, cfg.Fusion.MetadataWeight),
			fusion.WithThreshold(cfg.Fusion.Threshold),
			fusion.WithPrecision(cfg.Fusion.Precision),
		),
		Rules:      rules,
		Identifier: tokens,
		Records:    repo,
		Monitor:    monitor,
	},
		predict.WithImageThreshold(cfg.Fusion.Threshold),
		predict.WithStoreImage(cfg.History.StoreImage),
		predict.WithLogger(logger),
	)

	var limiter *api.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.Server.RateLimit.PerSecond, cfg.Server.RateLimit.Burst)
	}

	srv := api.NewServer(api.Deps{
		Predictor: predictor,
		Auth:      authn,
		Google:    google,
		Repo:      repo,
		Models:    models,
		Monitor:   monitor,
		Assistant: chat.NewAssistant(newGenerator(ctx, cfg.Chat, logger), chat.WithLogger(logger)),
	}, api.Config{
		FrontendURL:    strings.TrimRight(cfg.Auth.FrontendURL, "/"),
		HistoryLimit:   cfg.History.Limit,
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RateLimiter:    limiter,
		Logger:         logger,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", httpSrv.Addr, "store", repo.Name())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if limiter != nil {
		g.Go(func() error { return limiter.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// openStore 连接失败时仍启动服务，依赖存储的接口返回 503
func openStore(ctx context.Context, cfg store.Config, logger *slog.Logger) core.Repository {
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	repo, err := store.Open(openCtx, cfg)
	if err != nil {
		logger.Error("store unavailable, starting without database", "backend", cfg.Backend, "error", err)
		return store.Offline(cfg.Backend, err)
	}
	logger.Info("store connected", "backend", repo.Name())
	return repo
}

// newGenerator 未配置或初始化失败时返回 nil，助手退回本地规则回复
func newGenerator(ctx context.Context, cfg config.ChatConfig, logger *slog.Logger) chat.Generator {
	if cfg.GeminiAPIKey == "" {
		logger.Info("GEMINI_API_KEY not set, assistant uses heuristic replies")
		return nil
	}
	gen, err := chat.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		logger.Warn("gemini init failed, assistant uses heuristic replies", "error", err)
		return nil
	}
	logger.Info("gemini assistant ready", "model", gen.Model())
	return gen
}
