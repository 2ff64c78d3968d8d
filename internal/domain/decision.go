package domain

import (
	"time"
)

// DecisionResult is the outcome of a decisioning event.
type DecisionResult string

const (
	ResultApproved              DecisionResult = "APPROVED"
	ResultConditionallyApproved DecisionResult = "CONDITIONALLY_APPROVED"
	ResultDeclined              DecisionResult = "DECLINED"
	ResultManualReview          DecisionResult = "MANUAL_REVIEW"
)

// resultSeverity defines the total order used when aggregating triggered
// rules: the most restrictive outcome wins regardless of rule order.
var resultSeverity = map[DecisionResult]int{
	ResultApproved:              0,
	ResultConditionallyApproved: 1,
	ResultManualReview:          2,
	ResultDeclined:              3,
}

// Severity returns the restrictiveness rank of a result. Unknown results
// rank below APPROVED so they can never override a real outcome.
func (r DecisionResult) Severity() int {
	if s, ok := resultSeverity[r]; ok {
		return s
	}
	return -1
}

// MoreRestrictive returns the more restrictive of two results.
func MoreRestrictive(a, b DecisionResult) DecisionResult {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Valid reports whether r is a known decision result.
func (r DecisionResult) Valid() bool {
	_, ok := resultSeverity[r]
	return ok
}

// DecisionSource identifies how a decision was reached.
type DecisionSource string

const (
	SourceAutomated DecisionSource = "automated"
	SourceManual    DecisionSource = "manual"
	SourceHybrid    DecisionSource = "hybrid"
)

// RiskLevel is the discrete risk classification derived from a risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Risk score bounds and thresholds. Scores follow the conventional credit
// score range.
const (
	RiskScoreMin  = 300
	RiskScoreMax  = 850
	RiskScoreBase = 700

	RiskLowThreshold  = 720 // score >= this is LOW
	RiskHighThreshold = 620 // score < this is HIGH
)

// ClampRiskScore bounds a score to the valid range.
func ClampRiskScore(score int) int {
	if score < RiskScoreMin {
		return RiskScoreMin
	}
	if score > RiskScoreMax {
		return RiskScoreMax
	}
	return score
}

// RiskLevelForScore maps a (clamped) risk score to a risk level.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= RiskLowThreshold:
		return RiskLow
	case score < RiskHighThreshold:
		return RiskHigh
	default:
		return RiskMedium
	}
}

// FactorType classifies a decision factor.
type FactorType string

const (
	FactorCreditScore       FactorType = "CREDIT_SCORE"
	FactorIncome            FactorType = "INCOME"
	FactorDebtRatio         FactorType = "DEBT_RATIO"
	FactorEmployment        FactorType = "EMPLOYMENT"
	FactorCollateral        FactorType = "COLLATERAL"
	FactorSavingsHistory    FactorType = "SAVINGS_HISTORY"
	FactorRepaymentCapacity FactorType = "REPAYMENT_CAPACITY"
	FactorCustom            FactorType = "CUSTOM"
)

// FactorImpact is the direction a factor pushes the decision.
type FactorImpact string

const (
	ImpactPositive FactorImpact = "positive"
	ImpactNegative FactorImpact = "negative"
	ImpactNeutral  FactorImpact = "neutral"
)

// DecisionFactor is a single named signal feeding a decisioning outcome.
// Factors are snapshotted onto the decision record for audit; later
// decisions recompute rather than reference them.
type DecisionFactor struct {
	Type      FactorType   `json:"type"`
	Name      string       `json:"name"`
	Value     float64      `json:"value"`
	Threshold *float64     `json:"threshold,omitempty"`
	Impact    FactorImpact `json:"impact"`
	Weight    *float64     `json:"weight,omitempty"`
	Details   string       `json:"details,omitempty"`
}

// ConditionStatus tracks whether an approval condition has been satisfied.
type ConditionStatus string

const (
	ConditionPending ConditionStatus = "pending"
	ConditionMet     ConditionStatus = "met"
	ConditionWaived  ConditionStatus = "waived"
)

// DefaultConditionDueDays is the default window for satisfying an approval
// condition attached by a conditional-approval rule or the risk scorer.
const DefaultConditionDueDays = 14

// ApprovalCondition is a requirement attached to a conditional approval.
type ApprovalCondition struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Type        string          `json:"type"`
	RequiredBy  time.Time       `json:"requiredBy"`
	IsMandatory bool            `json:"isMandatory"`
	Status      ConditionStatus `json:"status"`
	SatisfiedBy string          `json:"satisfiedBy,omitempty"`
	SatisfiedAt *time.Time      `json:"satisfiedAt,omitempty"`
}

// LoanDecision is an immutable record of one decisioning event. Decisions
// for a loan form a chain through PreviousDecisionID; overriding never
// mutates the prior record.
type LoanDecision struct {
	ID                 string `json:"id"`
	TenantID           string `json:"tenantId"`
	LoanID             string `json:"loanId"`
	PreviousDecisionID string `json:"previousDecisionId,omitempty"`

	Result DecisionResult `json:"decisionResult"`
	Source DecisionSource `json:"decisionSource"`

	RiskScore int       `json:"riskScore"`
	RiskLevel RiskLevel `json:"riskLevel"`

	Factors    []DecisionFactor    `json:"decisionFactors,omitempty"`
	Conditions []ApprovalCondition `json:"approvalConditions,omitempty"`

	ApprovalLevel     int  `json:"approvalLevel"`
	NextApprovalLevel *int `json:"nextApprovalLevel,omitempty"`
	IsFinal           bool `json:"isFinal"`

	// IsCurrent is a denormalized marker for the newest decision in a
	// loan's chain, maintained in the same transaction as the insert.
	IsCurrent bool `json:"isCurrent"`

	ManualOverride bool   `json:"manualOverride"`
	OverrideReason string `json:"overrideReason,omitempty"`

	TriggeredRules []string   `json:"triggeredRules,omitempty"`
	ExpiryDate     *time.Time `json:"expiryDate,omitempty"`

	DecisionTimestamp time.Time `json:"decisionTimestamp"`
	DecisionBy        string    `json:"decisionBy,omitempty"`
	Notes             string    `json:"notes,omitempty"`
}

// RulesetEvaluation is the aggregate output of evaluating a ruleset against
// a field map. It is pure: nothing is persisted.
type RulesetEvaluation struct {
	RulesetID      string              `json:"rulesetId"`
	Result         DecisionResult      `json:"result"`
	RiskScore      int                 `json:"riskScore"`
	RiskLevel      RiskLevel           `json:"riskLevel"`
	TriggeredRules []TriggeredRule     `json:"triggeredRules"`
	Conditions     []ApprovalCondition `json:"conditions,omitempty"`
	RulesEvaluated int                 `json:"rulesEvaluated"`
	ProcessMs      int64               `json:"processMs,omitempty"`
}

// TriggeredRule records one rule whose condition evaluated true.
type TriggeredRule struct {
	RuleID              string         `json:"ruleId"`
	RuleName            string         `json:"ruleName"`
	Action              RuleAction     `json:"action"`
	RiskScoreAdjustment int            `json:"riskScoreAdjustment"`
	Result              DecisionResult `json:"result"`
}

// DecisionHistory is the full decision chain for a loan, newest first.
type DecisionHistory struct {
	LoanID    string         `json:"loanId"`
	Decisions []LoanDecision `json:"decisions"`
	Count     int            `json:"count"`
}
