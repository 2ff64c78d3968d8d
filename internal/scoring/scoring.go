// Package scoring implements the heuristic risk scorer used when a loan
// product has no decisioning ruleset configured.
package scoring

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
)

// negativeFactorPenalty is deducted from the score per adverse factor.
const negativeFactorPenalty = 25

// tenureYearBonus is added per full membership year, capped at tenureCapYears.
const (
	tenureYearBonus = 10
	tenureCapYears  = 5
)

// Input carries the factor set and the raw values the score formula uses.
type Input struct {
	Factors []domain.DecisionFactor

	// CreditScore is the effective bureau score, zero when unknown. The
	// score term is skipped entirely for an unknown score rather than
	// treating it as zero.
	CreditScore     int
	CreditThreshold int

	DebtRatio     float64
	DebtThreshold float64

	MembershipYears int
}

// Outcome is the scorer's verdict.
type Outcome struct {
	Result     domain.DecisionResult
	RiskScore  int
	RiskLevel  domain.RiskLevel
	Conditions []domain.ApprovalCondition
}

// Score derives a decision from the negative-factor count and a
// deterministic score formula. Zero adverse factors approve outright; one
// or two approve conditionally with a condition per adverse factor; three
// or more decline.
func Score(in Input) *Outcome {
	negatives := negativeFactors(in.Factors)

	score := domain.RiskScoreBase
	if in.CreditScore > 0 {
		score += in.CreditScore - in.CreditThreshold
	}
	score -= int(math.Round((in.DebtRatio - in.DebtThreshold) * 100))
	score -= len(negatives) * negativeFactorPenalty
	years := in.MembershipYears
	if years > tenureCapYears {
		years = tenureCapYears
	}
	score += years * tenureYearBonus
	score = domain.ClampRiskScore(score)

	out := &Outcome{
		RiskScore: score,
		RiskLevel: domain.RiskLevelForScore(score),
	}

	switch {
	case len(negatives) == 0:
		out.Result = domain.ResultApproved
	case len(negatives) <= 2:
		out.Result = domain.ResultConditionallyApproved
		for _, f := range negatives {
			out.Conditions = append(out.Conditions, conditionFor(f))
		}
	default:
		out.Result = domain.ResultDeclined
	}

	return out
}

func negativeFactors(factors []domain.DecisionFactor) []domain.DecisionFactor {
	var out []domain.DecisionFactor
	for _, f := range factors {
		if f.Impact == domain.ImpactNegative {
			out = append(out, f)
		}
	}
	return out
}

func conditionFor(f domain.DecisionFactor) domain.ApprovalCondition {
	return domain.ApprovalCondition{
		ID:          uuid.New().String(),
		Description: "Resolve adverse factor: " + f.Name,
		Type:        string(f.Type),
		RequiredBy:  time.Now().UTC().AddDate(0, 0, domain.DefaultConditionDueDays),
		IsMandatory: true,
		Status:      domain.ConditionPending,
	}
}
