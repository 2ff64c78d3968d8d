package domain

import "time"

// RuleAction is what a triggered rule asks the aggregator to do.
type RuleAction string

const (
	ActionApprove             RuleAction = "approve"
	ActionDecline             RuleAction = "decline"
	ActionManualReview        RuleAction = "manual_review"
	ActionConditionalApproval RuleAction = "conditional_approval"
)

// Result maps a rule action onto the decision result it contributes.
func (a RuleAction) Result() DecisionResult {
	switch a {
	case ActionDecline:
		return ResultDeclined
	case ActionManualReview:
		return ResultManualReview
	case ActionConditionalApproval:
		return ResultConditionallyApproved
	default:
		return ResultApproved
	}
}

// Valid reports whether the action is one of the recognized values.
func (a RuleAction) Valid() bool {
	switch a {
	case ActionApprove, ActionDecline, ActionManualReview, ActionConditionalApproval:
		return true
	}
	return false
}

// RuleType categorizes a decisioning rule.
type RuleType string

const (
	RuleTypeEligibility RuleType = "eligibility"
	RuleTypePricing     RuleType = "pricing"
	RuleTypeLimit       RuleType = "limit"
	RuleTypeRisk        RuleType = "risk"
)

// DecisioningRule is a single boolean condition over the flat field map,
// mapped to an action and a signed risk-score delta. Condition expressions
// are compiled with CEL against declared field variables; there is no field
// access outside the declared set, no function calls, no assignment.
type DecisioningRule struct {
	ID                  string     `json:"id"`
	RulesetID           string     `json:"rulesetId"`
	RuleName            string     `json:"ruleName"`
	RuleType            RuleType   `json:"ruleType"`
	RuleDefinition      string     `json:"ruleDefinition"`
	ActionOnTrigger     RuleAction `json:"actionOnTrigger"`
	RiskScoreAdjustment int        `json:"riskScoreAdjustment"`
	Priority            int        `json:"priority"`
	IsActive            bool       `json:"isActive"`
}

// DecisioningRuleset is a named, versioned, ordered collection of rules.
type DecisioningRuleset struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenantId"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	IsActive      bool       `json:"isActive"`
	Priority      int        `json:"priority"`
	Version       string     `json:"version"`
	EffectiveFrom *time.Time `json:"effectiveFrom,omitempty"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`

	Rules []DecisioningRule `json:"rules,omitempty"`
}

// EffectiveAt reports whether the ruleset is active at the given time.
func (s *DecisioningRuleset) EffectiveAt(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	if s.EffectiveFrom != nil && t.Before(*s.EffectiveFrom) {
		return false
	}
	if s.EffectiveTo != nil && t.After(*s.EffectiveTo) {
		return false
	}
	return true
}

// Field names recognized in rule conditions. Rule authors reference these
// directly; anything else fails compilation and the rule is skipped.
const (
	FieldCreditScore        = "credit_score"
	FieldDebtToIncomeRatio  = "debt_to_income_ratio"
	FieldMembershipYears    = "membership_years"
	FieldEmploymentVerified = "employment_verified"
	FieldPrincipalAmount    = "principal_amount"
	FieldTermMonths         = "term_months"
	FieldDocumentsVerified  = "documents_verified"
	FieldMonthlyIncome      = "monthly_income"
	FieldMonthlyExpenses    = "monthly_expenses"
	FieldRepaymentCapacity  = "repayment_capacity"
	FieldActiveLoans        = "active_loans"
	FieldTotalOutstanding   = "total_outstanding"
	FieldDelinquency        = "delinquency"
	FieldBankruptcy         = "bankruptcy"
	FieldFraudFlag          = "fraud_flag"
)
