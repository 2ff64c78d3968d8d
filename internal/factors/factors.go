// Package factors computes the decision factors an assessment is based
// on: document verification, employment, credit standing, debt ratio,
// membership tenure and repayment capacity.
package factors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

// ActiveLoanConcentrationLimit is the bureau active-loan count at or above
// which the exposure is treated as an adverse signal.
const ActiveLoanConcentrationLimit = 3

// RepaymentCapacityLimit is the maximum acceptable ratio of average
// installment to disposable income.
const RepaymentCapacityLimit = 0.5

// Options selects which sub-checks an evaluation performs.
type Options struct {
	IncludeDocuments  bool
	IncludeEmployment bool
	IncludeCredit     bool

	// AssessmentDate anchors tenure and score-staleness arithmetic. Zero
	// means now.
	AssessmentDate time.Time
}

// Input is the loan under assessment with its client and product records
// already resolved.
type Input struct {
	Loan    *domain.Loan
	Client  *domain.Client
	Product *domain.LoanProduct
}

// Result is the ordered factor set plus the effective field values the
// factors were derived from, for downstream rule evaluation.
type Result struct {
	Factors []domain.DecisionFactor

	// CreditScore is the score the assessment used, either stored or
	// freshly pulled. Zero means no usable score.
	CreditScore int

	// CreditResult is set when a live bureau check ran and succeeded.
	CreditResult *domain.CreditCheckResult

	// CreditCheckFailed is set when a live check was needed but the
	// collaborator errored; the failure is already reflected as a
	// negative factor.
	CreditCheckFailed bool

	MembershipYears int

	// RepaymentCapacity is installment over disposable income, zero when
	// not computable.
	RepaymentCapacity float64

	DocumentsVerified bool
}

// Evaluator derives decision factors from loan, client and bureau data.
type Evaluator struct {
	repo    domain.Repository
	checker domain.CreditChecker
	logger  *slog.Logger
}

// NewEvaluator creates a factor evaluator. The checker may be nil when
// credit sub-checks are never requested.
func NewEvaluator(repo domain.Repository, checker domain.CreditChecker, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{repo: repo, checker: checker, logger: logger}
}

// Evaluate computes the factor set for one loan. The only side effect is
// persisting a refreshed credit score back onto the loan when the stored
// one is missing or stale.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID string, in Input, opts Options) (*Result, error) {
	at := opts.AssessmentDate
	if at.IsZero() {
		at = time.Now().UTC()
	}

	res := &Result{}

	if opts.IncludeDocuments {
		f, verified, err := e.documentFactor(ctx, tenantID, in.Loan.ID)
		if err != nil {
			return nil, err
		}
		res.Factors = append(res.Factors, f)
		res.DocumentsVerified = verified
	}

	if opts.IncludeEmployment {
		res.Factors = append(res.Factors, employmentFactor(in.Loan))
	}

	if opts.IncludeCredit {
		e.creditFactors(ctx, tenantID, in, at, res)
	}

	res.Factors = append(res.Factors, debtRatioFactor(in.Loan, in.Product))

	tenure := tenureFactor(in.Client, in.Product, at)
	res.MembershipYears = in.Client.MembershipYears(at)
	res.Factors = append(res.Factors, tenure)

	capacity, err := e.repaymentCapacityFactor(ctx, tenantID, in)
	if err != nil {
		return nil, err
	}
	if capacity != nil {
		res.Factors = append(res.Factors, *capacity)
		res.RepaymentCapacity = capacity.Value
	}

	return res, nil
}

// documentFactor is negative when any required document is unverified, or
// when no required documents are on file at all.
func (e *Evaluator) documentFactor(ctx context.Context, tenantID, loanID string) (domain.DecisionFactor, bool, error) {
	docs, err := e.repo.ListDocuments(ctx, tenantID, loanID)
	if err != nil {
		return domain.DecisionFactor{}, false, fmt.Errorf("listing documents: %w", err)
	}

	required, verified := 0, 0
	for _, d := range docs {
		if !d.IsRequired {
			continue
		}
		required++
		if d.Status == domain.DocumentVerified {
			verified++
		}
	}

	ok := required > 0 && verified == required
	impact := domain.ImpactNegative
	details := fmt.Sprintf("%d of %d required documents verified", verified, required)
	if required == 0 {
		details = "no required documents on file"
	}
	if ok {
		impact = domain.ImpactPositive
	}

	threshold := float64(required)
	return domain.DecisionFactor{
		Type:      domain.FactorCustom,
		Name:      "document_verification",
		Value:     float64(verified),
		Threshold: &threshold,
		Impact:    impact,
		Details:   details,
	}, ok, nil
}

func employmentFactor(loan *domain.Loan) domain.DecisionFactor {
	impact := domain.ImpactNegative
	details := "employment not verified"
	value := 0.0
	if loan.EmploymentVerified {
		impact = domain.ImpactPositive
		details = "employment verified"
		value = 1.0
	}
	return domain.DecisionFactor{
		Type:    domain.FactorEmployment,
		Name:    "employment_verification",
		Value:   value,
		Impact:  impact,
		Details: details,
	}
}

// creditFactors derives the score-vs-threshold factor, pulling a fresh
// bureau result first when the stored score is missing or stale. Bureau
// failure degrades to a single negative factor rather than aborting the
// assessment.
func (e *Evaluator) creditFactors(ctx context.Context, tenantID string, in Input, at time.Time, res *Result) {
	loan := in.Loan

	if !loan.CreditScoreFresh(at) {
		result, err := e.liveCheck(ctx, tenantID, in)
		if err != nil {
			e.logger.Warn("credit check failed, recording adverse factor",
				"loan_id", loan.ID, "error", err)
			res.CreditCheckFailed = true
			res.Factors = append(res.Factors, domain.DecisionFactor{
				Type:    domain.FactorCustom,
				Name:    "credit_check_failure",
				Impact:  domain.ImpactNegative,
				Details: fmt.Sprintf("credit check unavailable: %v", err),
			})
			return
		}

		res.CreditResult = result
		loan.CreditScore = &result.CreditScore
		loan.CreditScoreDate = &result.ScoreDate
		if err := e.repo.UpdateLoanCreditScore(ctx, tenantID, loan.ID, result.CreditScore, result.ScoreDate); err != nil {
			e.logger.Error("failed to persist refreshed credit score",
				"loan_id", loan.ID, "error", err)
		}

		res.Factors = append(res.Factors, scoreFactor(result.CreditScore, in.Product))
		res.CreditScore = result.CreditScore
		res.Factors = append(res.Factors, bureauFactors(result)...)
		return
	}

	res.CreditScore = *loan.CreditScore
	res.Factors = append(res.Factors, scoreFactor(*loan.CreditScore, in.Product))
}

func (e *Evaluator) liveCheck(ctx context.Context, tenantID string, in Input) (*domain.CreditCheckResult, error) {
	if e.checker == nil {
		return nil, fmt.Errorf("no credit checker configured")
	}
	req := domain.CreditCheckRequest{
		ClientID:      in.Client.ID,
		FirstName:     in.Client.FirstName,
		LastName:      in.Client.LastName,
		DateOfBirth:   in.Client.DateOfBirth,
		RequestSource: "loan_assessment",
	}
	return e.checker.Check(ctx, tenantID, req)
}

func scoreFactor(score int, product *domain.LoanProduct) domain.DecisionFactor {
	threshold := float64(product.MinCreditScore)
	impact := domain.ImpactNegative
	if score >= product.MinCreditScore {
		impact = domain.ImpactPositive
	}
	return domain.DecisionFactor{
		Type:      domain.FactorCreditScore,
		Name:      "credit_score",
		Value:     float64(score),
		Threshold: &threshold,
		Impact:    impact,
		Details:   fmt.Sprintf("credit score %d against minimum %d", score, product.MinCreditScore),
	}
}

// bureauFactors converts the adverse flags on a live bureau result into
// factors. Clean flags are omitted; the active-loan count is always
// reported, adverse only past the concentration limit.
func bureauFactors(r *domain.CreditCheckResult) []domain.DecisionFactor {
	var out []domain.DecisionFactor

	if r.DelinquencyStatus {
		out = append(out, domain.DecisionFactor{
			Type:    domain.FactorCustom,
			Name:    "delinquency_status",
			Value:   float64(r.MaxDaysInArrears),
			Impact:  domain.ImpactNegative,
			Details: fmt.Sprintf("delinquent, max %d days in arrears", r.MaxDaysInArrears),
		})
	}
	if r.BankruptcyFlag {
		out = append(out, domain.DecisionFactor{
			Type:    domain.FactorCustom,
			Name:    "bankruptcy_flag",
			Value:   1,
			Impact:  domain.ImpactNegative,
			Details: "bankruptcy on record",
		})
	}
	if r.FraudFlag {
		out = append(out, domain.DecisionFactor{
			Type:    domain.FactorCustom,
			Name:    "fraud_flag",
			Value:   1,
			Impact:  domain.ImpactNegative,
			Details: "fraud flag on record",
		})
	}

	limit := float64(ActiveLoanConcentrationLimit)
	impact := domain.ImpactNeutral
	if r.ActiveLoans >= ActiveLoanConcentrationLimit {
		impact = domain.ImpactNegative
	}
	out = append(out, domain.DecisionFactor{
		Type:      domain.FactorCustom,
		Name:      "active_loans",
		Value:     float64(r.ActiveLoans),
		Threshold: &limit,
		Impact:    impact,
		Details:   fmt.Sprintf("%d active loans at the bureau", r.ActiveLoans),
	})

	return out
}

func debtRatioFactor(loan *domain.Loan, product *domain.LoanProduct) domain.DecisionFactor {
	threshold := product.MaxDebtToIncomeRatio
	impact := domain.ImpactNegative
	if loan.DebtToIncomeRatio <= threshold {
		impact = domain.ImpactPositive
	}
	return domain.DecisionFactor{
		Type:      domain.FactorDebtRatio,
		Name:      "debt_to_income_ratio",
		Value:     loan.DebtToIncomeRatio,
		Threshold: &threshold,
		Impact:    impact,
		Details:   fmt.Sprintf("debt-to-income %.2f against maximum %.2f", loan.DebtToIncomeRatio, threshold),
	}
}

func tenureFactor(client *domain.Client, product *domain.LoanProduct, at time.Time) domain.DecisionFactor {
	years := client.MembershipYears(at)
	threshold := float64(product.RequiredMembershipYears)
	impact := domain.ImpactNegative
	if years >= product.RequiredMembershipYears {
		impact = domain.ImpactPositive
	}
	return domain.DecisionFactor{
		Type:      domain.FactorSavingsHistory,
		Name:      "membership_tenure",
		Value:     float64(years),
		Threshold: &threshold,
		Impact:    impact,
		Details:   fmt.Sprintf("%d years of membership against required %d", years, product.RequiredMembershipYears),
	}
}

// repaymentCapacityFactor returns nil when income, expenses or a schedule
// are missing; the factor is only meaningful when all three are known.
func (e *Evaluator) repaymentCapacityFactor(ctx context.Context, tenantID string, in Input) (*domain.DecisionFactor, error) {
	if in.Client.MonthlyIncome <= 0 || in.Client.MonthlyExpenses <= 0 {
		return nil, nil
	}
	disposable := in.Client.MonthlyIncome - in.Client.MonthlyExpenses
	if disposable <= 0 {
		return nil, nil
	}

	schedule, err := e.repo.ListSchedule(ctx, tenantID, in.Loan.ID)
	if err != nil {
		return nil, fmt.Errorf("listing repayment schedule: %w", err)
	}
	installment := domain.AverageInstallment(schedule)
	if installment == 0 {
		return nil, nil
	}

	ratio := installment / disposable
	threshold := RepaymentCapacityLimit
	impact := domain.ImpactNegative
	if ratio <= threshold {
		impact = domain.ImpactPositive
	}
	return &domain.DecisionFactor{
		Type:      domain.FactorRepaymentCapacity,
		Name:      "repayment_capacity",
		Value:     ratio,
		Threshold: &threshold,
		Impact:    impact,
		Details:   fmt.Sprintf("installment burden %.2f of disposable income against maximum %.2f", ratio, threshold),
	}, nil
}
