package dsl

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule 是一条建议规则：When 为 true 时给出 Advice。When 为空表示总是匹配。
type Rule struct {
	Name   string `yaml:"name"`
	When   string `yaml:"when"`
	Advice string `yaml:"advice"`
}

// DefaultRules 与前端结果页的建议文案一致
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "malignant",
			When:   `result.final_decision == "Malignant"`,
			Advice: "Immediate consultation with an oral oncologist is strongly recommended.",
		},
		{
			Name:   "routine",
			Advice: "Maintain oral hygiene and schedule routine check-ups.",
		},
	}
}

type compiledRule struct {
	Rule
	prg cel.Program // nil 表示总是匹配
}

// RuleSet 是按顺序预编译的规则，首个匹配的规则生效。并发安全。
type RuleSet struct {
	rules []compiledRule
}

// NewRuleSet 编译所有规则，任一表达式非法即返回错误；rules 为空时使用 DefaultRules
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	rs := &RuleSet{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Advice == "" {
			return nil, fmt.Errorf("rule %d (%s): advice is required", i, r.Name)
		}
		cr := compiledRule{Rule: r}
		if r.When != "" {
			prg, err := Compile(r.When)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
			}
			cr.prg = prg
		}
		rs.rules = append(rs.rules, cr)
	}
	return rs, nil
}

// Skip 记录求值失败而被跳过的规则
type Skip struct {
	Rule string
	Err  error
}

// Advise 返回首个匹配规则的建议。求值失败的规则被跳过并在 skipped 中返回，由调用方记录日志。
func (rs *RuleSet) Advise(result, metadata map[string]interface{}) (advice string, skipped []Skip) {
	e := NewEval(result, metadata)
	for _, r := range rs.rules {
		if r.prg == nil {
			return r.Advice, skipped
		}
		ok, err := e.run(r.prg)
		if err != nil {
			skipped = append(skipped, Skip{Rule: r.Name, Err: err})
			continue
		}
		if ok {
			return r.Advice, skipped
		}
	}
	return "", skipped
}
