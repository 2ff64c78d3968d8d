package rules

import "github.com/opensource-finance/talon/internal/domain"

// StarterEligibilityRuleset returns a baseline eligibility ruleset for new
// tenants. Production rulesets are configured via the API; this exists so
// a fresh install can decision loans out of the box.
func StarterEligibilityRuleset() *domain.DecisioningRuleset {
	return &domain.DecisioningRuleset{
		ID:       "starter-eligibility",
		Name:     "Starter Eligibility",
		IsActive: true,
		Version:  "1",
		Rules: []domain.DecisioningRule{
			{
				ID:                  "starter-fraud-flag",
				RulesetID:           "starter-eligibility",
				RuleName:            "bureau fraud flag",
				RuleType:            domain.RuleTypeEligibility,
				RuleDefinition:      "fraud_flag",
				ActionOnTrigger:     domain.ActionDecline,
				RiskScoreAdjustment: -200,
				Priority:            10,
				IsActive:            true,
			},
			{
				ID:                  "starter-bankruptcy",
				RulesetID:           "starter-eligibility",
				RuleName:            "bankruptcy on record",
				RuleType:            domain.RuleTypeEligibility,
				RuleDefinition:      "bankruptcy",
				ActionOnTrigger:     domain.ActionDecline,
				RiskScoreAdjustment: -150,
				Priority:            20,
				IsActive:            true,
			},
			{
				ID:                  "starter-low-score",
				RulesetID:           "starter-eligibility",
				RuleName:            "credit score below 600",
				RuleType:            domain.RuleTypeEligibility,
				RuleDefinition:      "credit_score > 0 && credit_score < 600",
				ActionOnTrigger:     domain.ActionDecline,
				RiskScoreAdjustment: -100,
				Priority:            30,
				IsActive:            true,
			},
			{
				ID:                  "starter-high-dti",
				RulesetID:           "starter-eligibility",
				RuleName:            "debt-to-income above 45%",
				RuleType:            domain.RuleTypeRisk,
				RuleDefinition:      "debt_to_income_ratio > 0.45",
				ActionOnTrigger:     domain.ActionManualReview,
				RiskScoreAdjustment: -50,
				Priority:            40,
				IsActive:            true,
			},
			{
				ID:                  "starter-unverified-employment",
				RulesetID:           "starter-eligibility",
				RuleName:            "employment not verified",
				RuleType:            domain.RuleTypeRisk,
				RuleDefinition:      "!employment_verified",
				ActionOnTrigger:     domain.ActionConditionalApproval,
				RiskScoreAdjustment: -25,
				Priority:            50,
				IsActive:            true,
			},
			{
				ID:                  "starter-large-exposure",
				RulesetID:           "starter-eligibility",
				RuleName:            "principal above 50000",
				RuleType:            domain.RuleTypeLimit,
				RuleDefinition:      "principal_amount > 50000.0",
				ActionOnTrigger:     domain.ActionConditionalApproval,
				RiskScoreAdjustment: -25,
				Priority:            60,
				IsActive:            true,
			},
		},
	}
}
