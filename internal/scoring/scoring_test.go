package scoring

import (
	"testing"

	"github.com/opensource-finance/talon/internal/domain"
)

func positive(name string) domain.DecisionFactor {
	return domain.DecisionFactor{Type: domain.FactorCustom, Name: name, Impact: domain.ImpactPositive}
}

func negative(name string) domain.DecisionFactor {
	return domain.DecisionFactor{Type: domain.FactorCustom, Name: name, Impact: domain.ImpactNegative}
}

func TestCleanApplicationApproved(t *testing.T) {
	out := Score(Input{
		Factors:         []domain.DecisionFactor{positive("credit_score"), positive("employment_verification")},
		CreditScore:     720,
		CreditThreshold: 650,
		DebtRatio:       0.30,
		DebtThreshold:   0.40,
		MembershipYears: 4,
	})

	if out.Result != domain.ResultApproved {
		t.Errorf("expected APPROVED, got %s", out.Result)
	}
	// 700 + 70 + 10 + 40 = 820
	if out.RiskScore != 820 {
		t.Errorf("expected score 820, got %d", out.RiskScore)
	}
	if out.RiskLevel != domain.RiskLow {
		t.Errorf("expected LOW, got %s", out.RiskLevel)
	}
	if len(out.Conditions) != 0 {
		t.Errorf("expected no conditions, got %d", len(out.Conditions))
	}
}

func TestOneOrTwoNegativesConditional(t *testing.T) {
	out := Score(Input{
		Factors: []domain.DecisionFactor{
			negative("employment_verification"),
			negative("document_verification"),
			positive("credit_score"),
		},
		CreditScore:     660,
		CreditThreshold: 650,
		DebtRatio:       0.38,
		DebtThreshold:   0.40,
		MembershipYears: 2,
	})

	if out.Result != domain.ResultConditionallyApproved {
		t.Errorf("expected CONDITIONALLY_APPROVED, got %s", out.Result)
	}
	if len(out.Conditions) != 2 {
		t.Fatalf("expected one condition per adverse factor, got %d", len(out.Conditions))
	}
	for _, c := range out.Conditions {
		if c.Status != domain.ConditionPending || !c.IsMandatory {
			t.Errorf("expected mandatory pending condition, got %+v", c)
		}
		if c.RequiredBy.IsZero() {
			t.Error("expected a due date on the condition")
		}
	}
}

func TestThreeNegativesDeclined(t *testing.T) {
	out := Score(Input{
		Factors: []domain.DecisionFactor{
			negative("credit_score"),
			negative("delinquency_status"),
			negative("debt_to_income_ratio"),
		},
		CreditScore:     580,
		CreditThreshold: 650,
		DebtRatio:       0.50,
		DebtThreshold:   0.40,
		MembershipYears: 1,
	})

	if out.Result != domain.ResultDeclined {
		t.Errorf("expected DECLINED, got %s", out.Result)
	}
	// 700 - 70 - 10 - 75 + 10 = 555
	if out.RiskScore != 555 {
		t.Errorf("expected score 555, got %d", out.RiskScore)
	}
	if out.RiskLevel != domain.RiskHigh {
		t.Errorf("expected HIGH, got %s", out.RiskLevel)
	}
	if len(out.Conditions) != 0 {
		t.Errorf("expected no conditions on a decline, got %d", len(out.Conditions))
	}
}

func TestUnknownCreditScoreSkipsScoreTerm(t *testing.T) {
	out := Score(Input{
		Factors:         []domain.DecisionFactor{negative("credit_check_failure")},
		CreditScore:     0,
		CreditThreshold: 650,
		DebtRatio:       0.40,
		DebtThreshold:   0.40,
		MembershipYears: 0,
	})

	// 700 - 25, no score term applied.
	if out.RiskScore != 675 {
		t.Errorf("expected score 675 with unknown bureau score, got %d", out.RiskScore)
	}
	if out.Result != domain.ResultConditionallyApproved {
		t.Errorf("expected CONDITIONALLY_APPROVED, got %s", out.Result)
	}
}

func TestTenureBonusCapped(t *testing.T) {
	base := Input{
		CreditScore:     650,
		CreditThreshold: 650,
		DebtRatio:       0.40,
		DebtThreshold:   0.40,
	}

	base.MembershipYears = 5
	atCap := Score(base).RiskScore

	base.MembershipYears = 20
	beyondCap := Score(base).RiskScore

	if atCap != beyondCap {
		t.Errorf("expected tenure bonus capped at %d years: %d vs %d", tenureCapYears, atCap, beyondCap)
	}
	if atCap != 750 {
		t.Errorf("expected score 750 at the tenure cap, got %d", atCap)
	}
}

func TestScoreClampedToBounds(t *testing.T) {
	out := Score(Input{
		Factors: []domain.DecisionFactor{
			negative("a"), negative("b"), negative("c"), negative("d"),
		},
		CreditScore:     310,
		CreditThreshold: 700,
		DebtRatio:       1.5,
		DebtThreshold:   0.40,
	})
	if out.RiskScore != domain.RiskScoreMin {
		t.Errorf("expected floor %d, got %d", domain.RiskScoreMin, out.RiskScore)
	}

	out = Score(Input{
		CreditScore:     850,
		CreditThreshold: 500,
		DebtRatio:       0.10,
		DebtThreshold:   0.40,
		MembershipYears: 5,
	})
	if out.RiskScore != domain.RiskScoreMax {
		t.Errorf("expected ceiling %d, got %d", domain.RiskScoreMax, out.RiskScore)
	}
}
