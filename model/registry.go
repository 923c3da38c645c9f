package model

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/oralcare/core"
)

// lazy 按需加载并缓存一个分类器。加载失败不缓存，下次请求会重试。
type lazy[T any] struct {
	kind string
	load func() (T, error)

	mu     sync.Mutex
	value  T
	loaded bool
}

func (l *lazy[T]) get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded {
		return l.value, nil
	}
	start := time.Now()
	v, err := l.load()
	if err != nil {
		slog.Error("model load failed", "kind", l.kind, "error", err)
		var zero T
		return zero, err
	}
	slog.Info("model loaded", "kind", l.kind, "duration", time.Since(start))
	l.value, l.loaded = v, true
	return v, nil
}

func (l *lazy[T]) peek() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.loaded
}

func (l *lazy[T]) reset() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.value, l.loaded
	var zero T
	l.value, l.loaded = zero, false
	return v, ok
}

// Registry 持有图片与元数据两个分类器，首次使用时加载，之后在所有请求间共享。
//
// 并发安全：加载过程持有各自的锁，同一分类器不会被重复加载。
type Registry struct {
	image    *lazy[core.ImageClassifier]
	metadata *lazy[core.MetadataClassifier]
}

// NewRegistry 根据两份 Spec 创建 Registry，不会立即加载
func NewRegistry(imageSpec, metadataSpec Spec, opts BuildOptions) *Registry {
	return NewRegistryWithLoaders(
		func() (core.ImageClassifier, error) { return BuildImage(imageSpec, opts) },
		func() (core.MetadataClassifier, error) { return BuildMetadata(metadataSpec, opts) },
	)
}

// NewRegistryWithLoaders 使用自定义加载函数创建 Registry，测试中常用
func NewRegistryWithLoaders(image func() (core.ImageClassifier, error), metadata func() (core.MetadataClassifier, error)) *Registry {
	return &Registry{
		image:    &lazy[core.ImageClassifier]{kind: "image", load: image},
		metadata: &lazy[core.MetadataClassifier]{kind: "metadata", load: metadata},
	}
}

// Image 返回图片分类器，必要时加载
func (r *Registry) Image(ctx context.Context) (core.ImageClassifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.image.get()
}

// Metadata 返回元数据分类器，必要时加载
func (r *Registry) Metadata(ctx context.Context) (core.MetadataClassifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.metadata.get()
}

// Preload 并发加载两个分类器，用于启动时预热
func (r *Registry) Preload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.Image(ctx)
		return err
	})
	g.Go(func() error {
		_, err := r.Metadata(ctx)
		return err
	})
	return g.Wait()
}

// Status 单个分类器的状态
type Status struct {
	Loaded  bool   `json:"loaded"`
	Backend string `json:"backend,omitempty"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health 报告两个分类器的状态；未加载的分类器不会被触发加载
func (r *Registry) Health(ctx context.Context) map[string]Status {
	out := make(map[string]Status, 2)
	if c, ok := r.image.peek(); ok {
		out["image"] = healthStatus(ctx, c.Name(), c)
	} else {
		out["image"] = Status{}
	}
	if c, ok := r.metadata.peek(); ok {
		out["metadata"] = healthStatus(ctx, c.Name(), c)
	} else {
		out["metadata"] = Status{}
	}
	return out
}

func healthStatus(ctx context.Context, backend string, c any) Status {
	st := Status{Loaded: true, Backend: backend, Healthy: true}
	if hc, ok := c.(core.HealthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
		}
	}
	return st
}

// Close 释放已加载的分类器
func (r *Registry) Close() error {
	var firstErr error
	if c, ok := r.image.reset(); ok {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				firstErr = err
			}
		}
	}
	if c, ok := r.metadata.reset(); ok {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
