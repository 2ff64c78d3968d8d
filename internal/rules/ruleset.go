package rules

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/talon/internal/domain"
)

// RulesetEngine evaluates named rulesets against a field map. Rulesets are
// loaded into memory from the store and hot-reloadable; evaluation itself
// is pure and writes nothing.
type RulesetEngine struct {
	mu       sync.RWMutex
	engine   *Engine
	rulesets map[string]*domain.DecisioningRuleset // key: rulesetID
}

// NewRulesetEngine creates a ruleset evaluation engine on top of the rule
// compiler.
func NewRulesetEngine(engine *Engine) *RulesetEngine {
	return &RulesetEngine{
		engine:   engine,
		rulesets: make(map[string]*domain.DecisioningRuleset),
	}
}

// LoadRulesets loads ruleset configurations into the engine.
func (e *RulesetEngine) LoadRulesets(rulesets []*domain.DecisioningRuleset) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rulesets = make(map[string]*domain.DecisioningRuleset)
	for _, rs := range rulesets {
		if rs.IsActive {
			e.rulesets[rs.ID] = rs
		}
	}
}

// LoadRuleset adds or replaces a single ruleset.
func (e *RulesetEngine) LoadRuleset(rs *domain.DecisioningRuleset) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rs.IsActive {
		e.rulesets[rs.ID] = rs
	} else {
		delete(e.rulesets, rs.ID)
	}
}

// ReloadRulesets clears and reloads rulesets (hot reload).
func (e *RulesetEngine) ReloadRulesets(rulesets []*domain.DecisioningRuleset) {
	e.LoadRulesets(rulesets)
}

// Get returns a loaded ruleset by ID.
func (e *RulesetEngine) Get(rulesetID string) (*domain.DecisioningRuleset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rs, ok := e.rulesets[rulesetID]
	return rs, ok
}

// GetLoadedRulesets returns currently loaded rulesets.
func (e *RulesetEngine) GetLoadedRulesets() []*domain.DecisioningRuleset {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*domain.DecisioningRuleset, 0, len(e.rulesets))
	for _, rs := range e.rulesets {
		result = append(result, rs)
	}
	return result
}

// RulesetCount returns the number of loaded rulesets.
func (e *RulesetEngine) RulesetCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rulesets)
}

// Evaluate runs every active rule of a ruleset against the field map and
// aggregates the triggered rules into a single outcome.
//
// Aggregation starts from APPROVED with the base risk score. Each
// triggered rule adds its risk-score adjustment and contributes its
// action's result; the final result is the maximum over the outcome
// severity order (DECLINED > MANUAL_REVIEW > CONDITIONALLY_APPROVED >
// APPROVED), so a strong outcome can never be downgraded by a later,
// weaker rule. Conditional-approval rules each attach one approval
// condition with the default due window. The score is clamped to the
// valid range before the risk level is derived.
func (e *RulesetEngine) Evaluate(rs *domain.DecisioningRuleset, fields FieldMap) *domain.RulesetEvaluation {
	start := time.Now()

	eval := &domain.RulesetEvaluation{
		RulesetID:      rs.ID,
		Result:         domain.ResultApproved,
		RiskScore:      domain.RiskScoreBase,
		TriggeredRules: []domain.TriggeredRule{},
		RulesEvaluated: len(rs.Rules),
	}

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if !rule.IsActive {
			continue
		}
		if !e.engine.Triggered(rule, fields) {
			continue
		}

		eval.RiskScore += rule.RiskScoreAdjustment
		eval.Result = domain.MoreRestrictive(eval.Result, rule.ActionOnTrigger.Result())
		eval.TriggeredRules = append(eval.TriggeredRules, domain.TriggeredRule{
			RuleID:              rule.ID,
			RuleName:            rule.RuleName,
			Action:              rule.ActionOnTrigger,
			RiskScoreAdjustment: rule.RiskScoreAdjustment,
			Result:              rule.ActionOnTrigger.Result(),
		})

		if rule.ActionOnTrigger == domain.ActionConditionalApproval {
			eval.Conditions = append(eval.Conditions, domain.ApprovalCondition{
				ID:          uuid.New().String(),
				Description: rule.RuleName,
				Type:        string(rule.RuleType),
				RequiredBy:  time.Now().UTC().AddDate(0, 0, domain.DefaultConditionDueDays),
				IsMandatory: true,
				Status:      domain.ConditionPending,
			})
		}
	}

	eval.RiskScore = domain.ClampRiskScore(eval.RiskScore)
	eval.RiskLevel = domain.RiskLevelForScore(eval.RiskScore)
	eval.ProcessMs = time.Since(start).Milliseconds()

	return eval
}

// Close cleans up the engine.
func (e *RulesetEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rulesets = make(map[string]*domain.DecisioningRuleset)
	return nil
}
