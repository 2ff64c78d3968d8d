package rules

import (
	"testing"

	"github.com/opensource-finance/talon/internal/domain"
)

func newRulesetEngine(t *testing.T) *RulesetEngine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewRulesetEngine(engine)
}

func rule(id string, priority int, definition string, action domain.RuleAction, adjustment int) domain.DecisioningRule {
	return domain.DecisioningRule{
		ID:                  id,
		RulesetID:           "rs-test",
		RuleName:            id,
		RuleType:            domain.RuleTypeEligibility,
		RuleDefinition:      definition,
		ActionOnTrigger:     action,
		RiskScoreAdjustment: adjustment,
		Priority:            priority,
		IsActive:            true,
	}
}

func TestEvaluateAllThreeTrigger(t *testing.T) {
	// R1 decline -100, R2 manual_review -50, R3 conditional -25 against a
	// weak application: result DECLINED, score 700-175=525, level HIGH.
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{
		ID:       "rs-test",
		IsActive: true,
		Rules: []domain.DecisioningRule{
			rule("r1", 10, "credit_score < 650", domain.ActionDecline, -100),
			rule("r2", 20, "debt_to_income_ratio > 0.40", domain.ActionManualReview, -50),
			rule("r3", 30, "principal_amount > 50000.0", domain.ActionConditionalApproval, -25),
		},
	}

	eval := e.Evaluate(rs, FieldMap{
		domain.FieldCreditScore:       600,
		domain.FieldDebtToIncomeRatio: 0.42,
		domain.FieldPrincipalAmount:   60000.0,
	})

	if len(eval.TriggeredRules) != 3 {
		t.Fatalf("expected 3 triggered rules, got %d", len(eval.TriggeredRules))
	}
	if eval.Result != domain.ResultDeclined {
		t.Errorf("expected DECLINED, got %s", eval.Result)
	}
	if eval.RiskScore != 525 {
		t.Errorf("expected risk score 525, got %d", eval.RiskScore)
	}
	if eval.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH, got %s", eval.RiskLevel)
	}
}

func TestEvaluateSingleApproveRule(t *testing.T) {
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{
		ID:       "rs-test",
		IsActive: true,
		Rules: []domain.DecisioningRule{
			rule("good-score", 10, "credit_score >= 700", domain.ActionApprove, 50),
		},
	}

	eval := e.Evaluate(rs, FieldMap{domain.FieldCreditScore: 720})

	if len(eval.TriggeredRules) != 1 {
		t.Fatalf("expected 1 triggered rule, got %d", len(eval.TriggeredRules))
	}
	if eval.Result != domain.ResultApproved {
		t.Errorf("expected APPROVED, got %s", eval.Result)
	}
	if eval.RiskScore != 750 {
		t.Errorf("expected risk score 750, got %d", eval.RiskScore)
	}
	if eval.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", eval.RiskLevel)
	}
}

func TestPrecedenceIndependentOfRuleOrder(t *testing.T) {
	// The most restrictive result wins regardless of the order rules fire
	// in: a later weaker rule cannot downgrade an earlier stronger one,
	// and vice versa.
	e := newRulesetEngine(t)

	always := "credit_score >= 0"

	orderings := [][]domain.DecisioningRule{
		{
			rule("a", 10, always, domain.ActionApprove, 0),
			rule("b", 20, always, domain.ActionConditionalApproval, 0),
			rule("c", 30, always, domain.ActionManualReview, 0),
			rule("d", 40, always, domain.ActionDecline, 0),
		},
		{
			rule("d", 10, always, domain.ActionDecline, 0),
			rule("c", 20, always, domain.ActionManualReview, 0),
			rule("b", 30, always, domain.ActionConditionalApproval, 0),
			rule("a", 40, always, domain.ActionApprove, 0),
		},
	}

	fields := FieldMap{domain.FieldCreditScore: 700}

	for i, ruleOrder := range orderings {
		rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: ruleOrder}
		eval := e.Evaluate(rs, fields)
		if eval.Result != domain.ResultDeclined {
			t.Errorf("ordering %d: expected DECLINED, got %s", i, eval.Result)
		}
	}

	// Without the decline rule, manual review wins.
	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{
		rule("b", 10, always, domain.ActionConditionalApproval, 0),
		rule("c", 20, always, domain.ActionManualReview, 0),
	}}
	if eval := e.Evaluate(rs, fields); eval.Result != domain.ResultManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", eval.Result)
	}

	// Conditional alone wins over approve.
	rs.Rules = []domain.DecisioningRule{
		rule("a", 10, always, domain.ActionApprove, 0),
		rule("b", 20, always, domain.ActionConditionalApproval, 0),
	}
	if eval := e.Evaluate(rs, fields); eval.Result != domain.ResultConditionallyApproved {
		t.Errorf("expected CONDITIONALLY_APPROVED, got %s", eval.Result)
	}
}

func TestScoreClamping(t *testing.T) {
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{
		rule("crash", 10, "credit_score >= 0", domain.ActionDecline, -1000),
	}}
	eval := e.Evaluate(rs, FieldMap{domain.FieldCreditScore: 700})
	if eval.RiskScore != domain.RiskScoreMin {
		t.Errorf("expected score clamped to %d, got %d", domain.RiskScoreMin, eval.RiskScore)
	}
	if eval.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH at floor, got %s", eval.RiskLevel)
	}

	rs.Rules = []domain.DecisioningRule{
		rule("boost", 10, "credit_score >= 0", domain.ActionApprove, 1000),
	}
	eval = e.Evaluate(rs, FieldMap{domain.FieldCreditScore: 700})
	if eval.RiskScore != domain.RiskScoreMax {
		t.Errorf("expected score clamped to %d, got %d", domain.RiskScoreMax, eval.RiskScore)
	}
	if eval.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW at ceiling, got %s", eval.RiskLevel)
	}
}

func TestRiskLevelThresholds(t *testing.T) {
	tests := []struct {
		score int
		level domain.RiskLevel
	}{
		{850, domain.RiskLow},
		{720, domain.RiskLow},
		{719, domain.RiskMedium},
		{620, domain.RiskMedium},
		{619, domain.RiskHigh},
		{300, domain.RiskHigh},
	}

	for _, tt := range tests {
		if got := domain.RiskLevelForScore(tt.score); got != tt.level {
			t.Errorf("RiskLevelForScore(%d) = %s, want %s", tt.score, got, tt.level)
		}
	}
}

func TestConditionalRulesAttachConditions(t *testing.T) {
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{
		rule("collateral", 10, "principal_amount > 50000.0", domain.ActionConditionalApproval, -25),
		rule("employment", 20, "!employment_verified", domain.ActionConditionalApproval, -25),
	}}

	eval := e.Evaluate(rs, FieldMap{
		domain.FieldPrincipalAmount:    60000.0,
		domain.FieldEmploymentVerified: false,
	})

	if eval.Result != domain.ResultConditionallyApproved {
		t.Fatalf("expected CONDITIONALLY_APPROVED, got %s", eval.Result)
	}
	if len(eval.Conditions) != 2 {
		t.Fatalf("expected 2 conditions, got %d", len(eval.Conditions))
	}
	for _, cond := range eval.Conditions {
		if cond.Status != domain.ConditionPending {
			t.Errorf("expected pending condition, got %s", cond.Status)
		}
		if !cond.IsMandatory {
			t.Error("expected conditions to be mandatory")
		}
		if cond.RequiredBy.IsZero() {
			t.Error("expected a due date on the condition")
		}
	}
}

func TestMalformedRuleSkippedInAggregate(t *testing.T) {
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{
		rule("broken", 10, "no such field &&& nonsense", domain.ActionDecline, -500),
		rule("works", 20, "credit_score < 650", domain.ActionManualReview, -50),
	}}

	eval := e.Evaluate(rs, FieldMap{domain.FieldCreditScore: 600})

	if eval.Result != domain.ResultManualReview {
		t.Errorf("expected MANUAL_REVIEW (broken rule skipped), got %s", eval.Result)
	}
	if len(eval.TriggeredRules) != 1 {
		t.Errorf("expected 1 triggered rule, got %d", len(eval.TriggeredRules))
	}
	if eval.RiskScore != 650 {
		t.Errorf("expected risk score 650, got %d", eval.RiskScore)
	}
}

func TestAbsentFieldLeavesRuleUntriggered(t *testing.T) {
	e := newRulesetEngine(t)

	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{
		rule("score-floor", 10, "credit_score < 650", domain.ActionDecline, -100),
	}}

	// No credit score on file: the threshold cannot fire against missing
	// data, so the baseline approval stands.
	eval := e.Evaluate(rs, FieldMap{})

	if eval.Result != domain.ResultApproved {
		t.Errorf("expected APPROVED, got %s", eval.Result)
	}
	if eval.RiskScore != domain.RiskScoreBase {
		t.Errorf("expected risk score %d, got %d", domain.RiskScoreBase, eval.RiskScore)
	}
	if len(eval.TriggeredRules) != 0 {
		t.Errorf("expected no triggered rules, got %d", len(eval.TriggeredRules))
	}
}

func TestInactiveRulesIgnored(t *testing.T) {
	e := newRulesetEngine(t)

	inactive := rule("off", 10, "credit_score >= 0", domain.ActionDecline, -100)
	inactive.IsActive = false

	rs := &domain.DecisioningRuleset{ID: "rs-test", IsActive: true, Rules: []domain.DecisioningRule{inactive}}

	eval := e.Evaluate(rs, FieldMap{})
	if eval.Result != domain.ResultApproved {
		t.Errorf("expected APPROVED with only inactive rules, got %s", eval.Result)
	}
}

func TestLoadAndReloadRulesets(t *testing.T) {
	e := newRulesetEngine(t)

	e.LoadRulesets([]*domain.DecisioningRuleset{
		{ID: "rs-a", IsActive: true},
		{ID: "rs-b", IsActive: false},
	})

	if e.RulesetCount() != 1 {
		t.Errorf("expected inactive rulesets to be skipped, count = %d", e.RulesetCount())
	}
	if _, ok := e.Get("rs-a"); !ok {
		t.Error("expected rs-a to be loaded")
	}
	if _, ok := e.Get("rs-b"); ok {
		t.Error("expected rs-b not to be loaded")
	}

	e.ReloadRulesets([]*domain.DecisioningRuleset{{ID: "rs-c", IsActive: true}})
	if _, ok := e.Get("rs-a"); ok {
		t.Error("expected reload to drop rs-a")
	}
	if e.RulesetCount() != 1 {
		t.Errorf("expected 1 ruleset after reload, got %d", e.RulesetCount())
	}
}

func TestStarterRulesetCompiles(t *testing.T) {
	engine, _ := NewEngine()
	defer engine.Close()

	rs := StarterEligibilityRuleset()
	for i := range rs.Rules {
		if err := engine.ValidateRule(&rs.Rules[i]); err != nil {
			t.Errorf("starter rule %s does not compile: %v", rs.Rules[i].ID, err)
		}
	}
}
