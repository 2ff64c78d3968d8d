// Package rules provides the CEL-Go based decisioning rule engine.
package rules

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/talon/internal/domain"
)

// Engine compiles and evaluates decisioning rule conditions. Conditions
// are CEL expressions over a fixed set of declared field variables: there
// is no dynamic field access, no function calls, no assignment. A rule
// whose condition fails to compile or evaluate is treated as not triggered
// and logged, never raised to the caller.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program for one rule.
type CompiledRule struct {
	Rule    domain.DecisioningRule
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine with the decisioning
// field vocabulary declared.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Variable(domain.FieldCreditScore, cel.IntType),
		cel.Variable(domain.FieldMembershipYears, cel.IntType),
		cel.Variable(domain.FieldActiveLoans, cel.IntType),
		cel.Variable(domain.FieldTermMonths, cel.IntType),
		cel.Variable(domain.FieldDebtToIncomeRatio, cel.DoubleType),
		cel.Variable(domain.FieldPrincipalAmount, cel.DoubleType),
		cel.Variable(domain.FieldMonthlyIncome, cel.DoubleType),
		cel.Variable(domain.FieldMonthlyExpenses, cel.DoubleType),
		cel.Variable(domain.FieldRepaymentCapacity, cel.DoubleType),
		cel.Variable(domain.FieldTotalOutstanding, cel.DoubleType),
		cel.Variable(domain.FieldEmploymentVerified, cel.BoolType),
		cel.Variable(domain.FieldDocumentsVerified, cel.BoolType),
		cel.Variable(domain.FieldDelinquency, cel.BoolType),
		cel.Variable(domain.FieldBankruptcy, cel.BoolType),
		cel.Variable(domain.FieldFraudFlag, cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles a rule condition without loading it.
func (e *Engine) ValidateRule(rule *domain.DecisioningRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and caches a rule.
func (e *Engine) LoadRule(rule *domain.DecisioningRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// RulesCount returns the number of compiled rules held by the engine.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// FieldMap is the flat map of named values a rule condition evaluates
// against. A field with no known value is left out entirely: a condition
// referencing it fails to evaluate and the rule does not trigger. Missing
// data must never satisfy a threshold condition.
type FieldMap map[string]any

// activation returns the CEL activation for the supplied fields only,
// with values normalized to CEL-native types.
func (f FieldMap) activation() map[string]any {
	activation := make(map[string]any, len(f))

	for k, v := range f {
		switch val := v.(type) {
		case int:
			activation[k] = int64(val)
		case int64, float64, bool:
			activation[k] = val
		case float32:
			activation[k] = float64(val)
		default:
			// Unsupported value type, treat the field as absent.
		}
	}

	return activation
}

// Triggered evaluates a single rule condition against the field map. A
// compile or evaluation failure returns false: the rule simply does not
// trigger.
func (e *Engine) Triggered(rule *domain.DecisioningRule, fields FieldMap) bool {
	compiled := e.compiled(rule)
	if compiled == nil {
		e.mu.RLock()
		c, err := e.compileRule(rule)
		e.mu.RUnlock()
		if err != nil {
			slog.Warn("rule condition failed to compile, skipping",
				"rule_id", rule.ID,
				"rule_name", rule.RuleName,
				"error", err,
			)
			return false
		}
		compiled = c

		e.mu.Lock()
		e.compiledRules[rule.ID] = compiled
		e.mu.Unlock()
	}

	out, _, err := compiled.Program.Eval(fields.activation())
	if err != nil {
		slog.Warn("rule condition failed to evaluate, skipping",
			"rule_id", rule.ID,
			"rule_name", rule.RuleName,
			"error", err,
		)
		return false
	}

	triggered, ok := out.(types.Bool)
	if !ok {
		slog.Warn("rule condition did not produce a boolean, skipping",
			"rule_id", rule.ID,
			"rule_name", rule.RuleName,
		)
		return false
	}

	return bool(triggered)
}

func (e *Engine) compiled(rule *domain.DecisioningRule) *CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	compiled, ok := e.compiledRules[rule.ID]
	if !ok || compiled.Rule.RuleDefinition != rule.RuleDefinition {
		return nil
	}
	return compiled
}

func (e *Engine) compileRule(rule *domain.DecisioningRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.RuleDefinition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: condition must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    *rule,
		Program: program,
	}, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}
