package factors

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/repository"
)

type stubChecker struct {
	result *domain.CreditCheckResult
	err    error
	calls  int
}

func (s *stubChecker) Check(ctx context.Context, tenantID string, req domain.CreditCheckRequest) (*domain.CreditCheckResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "factors-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func factorByName(factors []domain.DecisionFactor, name string) *domain.DecisionFactor {
	for i := range factors {
		if factors[i].Name == name {
			return &factors[i]
		}
	}
	return nil
}

func testInput(score *int, scoreDate *time.Time) Input {
	memberSince := time.Now().UTC().AddDate(-3, 0, -1)
	return Input{
		Loan: &domain.Loan{
			ID:                 "loan-001",
			TenantID:           "tenant-001",
			ClientID:           "client-001",
			ProductID:          "prod-001",
			PrincipalAmount:    20000,
			TermMonths:         24,
			Status:             domain.LoanStatusSubmitted,
			DebtToIncomeRatio:  0.30,
			EmploymentVerified: true,
			CreditScore:        score,
			CreditScoreDate:    scoreDate,
		},
		Client: &domain.Client{
			ID:              "client-001",
			TenantID:        "tenant-001",
			FirstName:       "Amara",
			LastName:        "Okafor",
			MemberSince:     memberSince,
			MonthlyIncome:   3000,
			MonthlyExpenses: 1200,
		},
		Product: &domain.LoanProduct{
			ID:                      "prod-001",
			MinCreditScore:          650,
			MaxDebtToIncomeRatio:    0.40,
			RequiredMembershipYears: 2,
		},
	}
}

func TestStoredFreshScoreSkipsBureau(t *testing.T) {
	repo := newTestRepo(t)
	checker := &stubChecker{}
	eval := NewEvaluator(repo, checker, nil)

	score := 700
	scoreDate := time.Now().UTC().AddDate(0, 0, -10)
	in := testInput(&score, &scoreDate)

	res, err := eval.Evaluate(context.Background(), "tenant-001", in, Options{IncludeCredit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if checker.calls != 0 {
		t.Errorf("expected no bureau call for a fresh score, got %d", checker.calls)
	}
	if res.CreditScore != 700 {
		t.Errorf("expected stored score 700, got %d", res.CreditScore)
	}
	f := factorByName(res.Factors, "credit_score")
	if f == nil {
		t.Fatal("expected a credit_score factor")
	}
	if f.Impact != domain.ImpactPositive {
		t.Errorf("expected positive credit factor, got %s", f.Impact)
	}
}

func TestStaleScoreTriggersBureauRefresh(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	score := 700
	scoreDate := time.Now().UTC().AddDate(0, 0, -120)
	in := testInput(&score, &scoreDate)
	if err := repo.SaveClient(ctx, tenantID, in.Client); err != nil {
		t.Fatalf("failed to save client: %v", err)
	}
	if err := repo.SaveProduct(ctx, tenantID, in.Product); err != nil {
		t.Fatalf("failed to save product: %v", err)
	}
	if err := repo.SaveLoan(ctx, tenantID, in.Loan); err != nil {
		t.Fatalf("failed to save loan: %v", err)
	}

	checker := &stubChecker{result: &domain.CreditCheckResult{
		CreditScore:       610,
		ScoreDate:         time.Now().UTC(),
		DelinquencyStatus: true,
		MaxDaysInArrears:  45,
		ActiveLoans:       4,
	}}
	eval := NewEvaluator(repo, checker, nil)

	res, err := eval.Evaluate(ctx, tenantID, in, Options{IncludeCredit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if checker.calls != 1 {
		t.Fatalf("expected exactly one bureau call, got %d", checker.calls)
	}
	if res.CreditScore != 610 {
		t.Errorf("expected refreshed score 610, got %d", res.CreditScore)
	}
	if res.CreditResult == nil {
		t.Fatal("expected a live credit result")
	}

	if f := factorByName(res.Factors, "credit_score"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected a negative credit_score factor for score below minimum")
	}
	if f := factorByName(res.Factors, "delinquency_status"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected a negative delinquency factor from the live result")
	}
	if f := factorByName(res.Factors, "active_loans"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected active_loans to be adverse at 4 open loans")
	}

	// Refreshed score persisted back onto the loan.
	stored, err := repo.GetLoan(ctx, tenantID, in.Loan.ID)
	if err != nil {
		t.Fatalf("failed to reload loan: %v", err)
	}
	if stored.CreditScore == nil || *stored.CreditScore != 610 {
		t.Error("expected refreshed score persisted on the loan")
	}
}

func TestBureauFailureBecomesNegativeFactor(t *testing.T) {
	repo := newTestRepo(t)
	checker := &stubChecker{err: errors.New("bureau timeout")}
	eval := NewEvaluator(repo, checker, nil)

	in := testInput(nil, nil)

	res, err := eval.Evaluate(context.Background(), "tenant-001", in, Options{IncludeCredit: true})
	if err != nil {
		t.Fatalf("bureau failure must not abort the evaluation: %v", err)
	}

	if !res.CreditCheckFailed {
		t.Error("expected CreditCheckFailed to be set")
	}
	f := factorByName(res.Factors, "credit_check_failure")
	if f == nil {
		t.Fatal("expected a credit_check_failure factor")
	}
	if f.Impact != domain.ImpactNegative {
		t.Errorf("expected negative impact, got %s", f.Impact)
	}
	if factorByName(res.Factors, "credit_score") != nil {
		t.Error("expected no credit_score factor when the check failed")
	}
}

func TestDocumentFactor(t *testing.T) {
	repo := newTestRepo(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	tenantID := "tenant-001"
	in := testInput(nil, nil)

	t.Run("NoDocumentsOnFile", func(t *testing.T) {
		res, err := eval.Evaluate(ctx, tenantID, in, Options{IncludeDocuments: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := factorByName(res.Factors, "document_verification")
		if f == nil || f.Impact != domain.ImpactNegative {
			t.Error("expected negative document factor with zero required documents")
		}
		if res.DocumentsVerified {
			t.Error("expected DocumentsVerified false")
		}
	})

	t.Run("AllRequiredVerified", func(t *testing.T) {
		docs := []domain.LoanDocument{
			{ID: "doc-1", LoanID: in.Loan.ID, DocumentType: "id_card", IsRequired: true, Status: domain.DocumentVerified},
			{ID: "doc-2", LoanID: in.Loan.ID, DocumentType: "payslip", IsRequired: true, Status: domain.DocumentVerified},
			{ID: "doc-3", LoanID: in.Loan.ID, DocumentType: "extra", IsRequired: false, Status: domain.DocumentPending},
		}
		for i := range docs {
			if err := repo.SaveDocument(ctx, tenantID, &docs[i]); err != nil {
				t.Fatalf("failed to save document: %v", err)
			}
		}

		res, err := eval.Evaluate(ctx, tenantID, in, Options{IncludeDocuments: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := factorByName(res.Factors, "document_verification")
		if f == nil || f.Impact != domain.ImpactPositive {
			t.Error("expected positive document factor when all required docs are verified")
		}
		if !res.DocumentsVerified {
			t.Error("expected DocumentsVerified true")
		}
	})

	t.Run("UnverifiedRequiredDocument", func(t *testing.T) {
		doc := domain.LoanDocument{ID: "doc-4", LoanID: in.Loan.ID, DocumentType: "collateral_deed", IsRequired: true, Status: domain.DocumentPending}
		if err := repo.SaveDocument(ctx, tenantID, &doc); err != nil {
			t.Fatalf("failed to save document: %v", err)
		}

		res, err := eval.Evaluate(ctx, tenantID, in, Options{IncludeDocuments: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := factorByName(res.Factors, "document_verification")
		if f == nil || f.Impact != domain.ImpactNegative {
			t.Error("expected negative document factor with a pending required doc")
		}
	})
}

func TestEmploymentAndDebtRatioFactors(t *testing.T) {
	repo := newTestRepo(t)
	eval := NewEvaluator(repo, nil, nil)
	in := testInput(nil, nil)
	in.Loan.EmploymentVerified = false
	in.Loan.DebtToIncomeRatio = 0.55

	res, err := eval.Evaluate(context.Background(), "tenant-001", in, Options{IncludeEmployment: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f := factorByName(res.Factors, "employment_verification"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected negative employment factor")
	}
	if f := factorByName(res.Factors, "debt_to_income_ratio"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected negative debt ratio factor at 0.55 against max 0.40")
	}
}

func TestMembershipTenureAnniversary(t *testing.T) {
	repo := newTestRepo(t)
	eval := NewEvaluator(repo, nil, nil)
	in := testInput(nil, nil)

	// Member since two years minus a day from the assessment date: the
	// second anniversary has not passed yet, so only one full year counts.
	at := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	in.Client.MemberSince = time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)

	res, err := eval.Evaluate(context.Background(), "tenant-001", in, Options{AssessmentDate: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MembershipYears != 1 {
		t.Errorf("expected 1 full year before the anniversary, got %d", res.MembershipYears)
	}
	if f := factorByName(res.Factors, "membership_tenure"); f == nil || f.Impact != domain.ImpactNegative {
		t.Error("expected negative tenure factor at 1 year against required 2")
	}

	// On the anniversary itself the year counts.
	in.Client.MemberSince = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	res, err = eval.Evaluate(context.Background(), "tenant-001", in, Options{AssessmentDate: at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MembershipYears != 2 {
		t.Errorf("expected 2 full years on the anniversary, got %d", res.MembershipYears)
	}
}

func TestRepaymentCapacityFactor(t *testing.T) {
	repo := newTestRepo(t)
	eval := NewEvaluator(repo, nil, nil)
	ctx := context.Background()
	tenantID := "tenant-001"
	in := testInput(nil, nil)

	t.Run("NoScheduleNoFactor", func(t *testing.T) {
		res, err := eval.Evaluate(ctx, tenantID, in, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if factorByName(res.Factors, "repayment_capacity") != nil {
			t.Error("expected no repayment capacity factor without a schedule")
		}
	})

	t.Run("AffordableInstallment", func(t *testing.T) {
		// Disposable income 1800; installments average 600 -> ratio 0.33.
		for i := 0; i < 3; i++ {
			inst := domain.RepaymentInstallment{
				ID:        "inst-" + string(rune('a'+i)),
				LoanID:    in.Loan.ID,
				DueDate:   time.Now().AddDate(0, i+1, 0),
				Principal: 500,
				Interest:  100,
			}
			if err := repo.SaveInstallment(ctx, tenantID, &inst); err != nil {
				t.Fatalf("failed to save installment: %v", err)
			}
		}

		res, err := eval.Evaluate(ctx, tenantID, in, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		f := factorByName(res.Factors, "repayment_capacity")
		if f == nil {
			t.Fatal("expected a repayment capacity factor")
		}
		if f.Impact != domain.ImpactPositive {
			t.Errorf("expected positive capacity at ratio %.2f, got %s", f.Value, f.Impact)
		}
	})

	t.Run("UnknownIncomeNoFactor", func(t *testing.T) {
		noIncome := testInput(nil, nil)
		noIncome.Client.MonthlyIncome = 0
		res, err := eval.Evaluate(ctx, tenantID, noIncome, Options{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if factorByName(res.Factors, "repayment_capacity") != nil {
			t.Error("expected no repayment capacity factor with unknown income")
		}
	})
}
