package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rushteam/oralcare/core"
)

func record(order *[]string, name string, kind Kind, err error) Node {
	return NodeFunc{NodeName: name, NodeKind: kind, Fn: func(context.Context, *core.PredictContext) error {
		*order = append(*order, name)
		return err
	}}
}

func TestPipeline_Run(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		nodes   func(order *[]string) []Node
		want    []string
		wantErr bool
	}{
		{
			name: "all succeed in order",
			nodes: func(o *[]string) []Node {
				return []Node{
					record(o, "validate", KindValidate, nil),
					record(o, "infer", KindInference, nil),
					record(o, "persist", KindPersistence, nil),
				}
			},
			want: []string{"validate", "infer", "persist"},
		},
		{
			name: "required failure aborts",
			nodes: func(o *[]string) []Node {
				return []Node{
					record(o, "validate", KindValidate, boom),
					record(o, "infer", KindInference, nil),
				}
			},
			want:    []string{"validate"},
			wantErr: true,
		},
		{
			name: "best-effort failure continues",
			nodes: func(o *[]string) []Node {
				return []Node{
					record(o, "attribute", KindAttribution, boom),
					record(o, "persist", KindPersistence, boom),
					record(o, "advice", KindPostProcess, nil),
				}
			},
			want: []string{"attribute", "persist", "advice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			p := New(nil, tt.nodes(&order)...)
			err := p.Run(context.Background(), &core.PredictContext{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, boom) {
				t.Errorf("err should wrap the node error, got %v", err)
			}
			if len(order) != len(tt.want) {
				t.Fatalf("order = %v, want %v", order, tt.want)
			}
			for i := range order {
				if order[i] != tt.want[i] {
					t.Fatalf("order = %v, want %v", order, tt.want)
				}
			}
		})
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	var order []string
	p := New(nil, record(&order, "validate", KindValidate, nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, &core.PredictContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(order) != 0 {
		t.Errorf("no node should run after cancel, got %v", order)
	}
}

func TestPipeline_CancelAfterFusion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var order []string
	var persistErr error
	p := New(nil,
		record(&order, "infer", KindInference, nil),
		NodeFunc{NodeName: "fuse", NodeKind: KindFusion, Fn: func(context.Context, *core.PredictContext) error {
			order = append(order, "fuse")
			cancel()
			return nil
		}},
		NodeFunc{NodeName: "persist", NodeKind: KindPersistence, Fn: func(ctx context.Context, _ *core.PredictContext) error {
			order = append(order, "persist")
			persistErr = ctx.Err()
			return nil
		}},
	)
	if err := p.Run(ctx, &core.PredictContext{}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := []string{"infer", "fuse", "persist"}; len(order) != len(want) || order[2] != "persist" {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if persistErr != nil {
		t.Errorf("persistence context should not be cancelled, got %v", persistErr)
	}
}

func TestPipeline_CancelBeforeRequiredNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	p := New(nil,
		NodeFunc{NodeName: "validate", NodeKind: KindValidate, Fn: func(context.Context, *core.PredictContext) error {
			order = append(order, "validate")
			cancel()
			return nil
		}},
		record(&order, "infer", KindInference, nil),
		record(&order, "persist", KindPersistence, nil),
	)
	if err := p.Run(ctx, &core.PredictContext{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(order) != 1 {
		t.Errorf("only validate should run, got %v", order)
	}
}

func TestKind_BestEffort(t *testing.T) {
	for _, k := range []Kind{KindValidate, KindPreprocess, KindInference, KindFusion} {
		if k.BestEffort() {
			t.Errorf("%s should be required", k)
		}
	}
	for _, k := range []Kind{KindPostProcess, KindAttribution, KindPersistence} {
		if !k.BestEffort() {
			t.Errorf("%s should be best-effort", k)
		}
	}
}
