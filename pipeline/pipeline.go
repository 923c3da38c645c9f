// Package pipeline 把一次预测拆成按阶段顺序执行的 Node 链。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rushteam/oralcare/core"
)

// Pipeline 按顺序执行 Nodes。
//
// 必要阶段（校验、预处理、推理、融合）失败即中止并返回错误；
// 尽力而为阶段（后处理、身份识别、持久化）失败只记录日志，后续节点继续执行。
type Pipeline struct {
	Nodes  []Node
	Logger *slog.Logger
}

// New 创建 Pipeline，logger 为 nil 时使用 slog.Default()
func New(logger *slog.Logger, nodes ...Node) *Pipeline {
	return &Pipeline{Nodes: nodes, Logger: logger}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Run 执行所有节点。
// ctx 取消只中止必要阶段；尽力而为节点使用不随 ctx 取消的上下文，
// 已算出的结果在客户端断开后仍会被持久化。
func (p *Pipeline) Run(ctx context.Context, pctx *core.PredictContext) error {
	for _, node := range p.Nodes {
		nodeCtx := ctx
		if node.Kind().BestEffort() {
			nodeCtx = context.WithoutCancel(ctx)
		} else if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := node.Process(nodeCtx, pctx)
		if err == nil {
			p.logger().Debug("node done", "node", node.Name(), "kind", node.Kind(), "elapsed", time.Since(start))
			continue
		}
		if node.Kind().BestEffort() {
			p.logger().Warn("best-effort node failed",
				"node", node.Name(), "kind", node.Kind(), "user_id", pctx.UserID(), "error", err)
			continue
		}
		return fmt.Errorf("%s: %w", node.Name(), err)
	}
	return nil
}
