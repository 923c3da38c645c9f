package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// getCELEnv 获取或创建 CEL 环境，定义 result 与 metadata 两个变量
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("result", cel.MapType(cel.StringType, cel.DynType)),
			cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return celEnv, celEnvErr
}

// Compile 编译一个布尔表达式，得到可并发复用的 cel.Program。
//
// 表达式语法（CEL 标准语法）：
//   - 比较：result.final_score >= 0.8 / result.final_decision == "Malignant"
//   - 逻辑：result.has_metadata && metadata.tobacco == 1.0
//   - 空值：result.metadata_probability != null
func Compile(expr string) (cel.Program, error) {
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %v", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", out)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %v", err)
	}
	return prg, nil
}

// Eval 对一组输入执行布尔表达式。适合一次性求值，规则集请使用 RuleSet 预编译。
type Eval struct {
	vars map[string]interface{}
}

// NewEval 以 result / metadata 两个 map 创建解释器，nil 视为空 map
func NewEval(result, metadata map[string]interface{}) *Eval {
	if result == nil {
		result = map[string]interface{}{}
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Eval{vars: map[string]interface{}{"result": result, "metadata": metadata}}
}

// Evaluate 编译并执行表达式，空表达式恒为 true
func (e *Eval) Evaluate(expr string) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return e.run(prg)
}

func (e *Eval) run(prg cel.Program) (bool, error) {
	out, _, err := prg.Eval(e.vars)
	if err != nil {
		// 访问不存在的 key 会报错，应先用 "key" in metadata 判断
		return false, fmt.Errorf("eval error: %v", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}
