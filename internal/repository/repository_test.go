package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "talon-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetLoan", func(t *testing.T) {
		loan := &domain.Loan{
			ID:                 "loan-001",
			ClientID:           "client-001",
			ProductID:          "product-001",
			PrincipalAmount:    25000,
			TermMonths:         24,
			Status:             domain.LoanStatusSubmitted,
			DebtToIncomeRatio:  0.35,
			EmploymentVerified: true,
			CreatedAt:          time.Now().UTC(),
			UpdatedAt:          time.Now().UTC(),
		}

		if err := repo.SaveLoan(ctx, tenantID, loan); err != nil {
			t.Fatalf("SaveLoan failed: %v", err)
		}

		retrieved, err := repo.GetLoan(ctx, tenantID, loan.ID)
		if err != nil {
			t.Fatalf("GetLoan failed: %v", err)
		}

		if retrieved.ID != loan.ID {
			t.Errorf("expected ID %s, got %s", loan.ID, retrieved.ID)
		}
		if retrieved.PrincipalAmount != loan.PrincipalAmount {
			t.Errorf("expected PrincipalAmount %.2f, got %.2f", loan.PrincipalAmount, retrieved.PrincipalAmount)
		}
		if !retrieved.EmploymentVerified {
			t.Error("expected EmploymentVerified to round-trip")
		}
		if retrieved.CreditScore != nil {
			t.Error("expected nil CreditScore before any bureau check")
		}
	})

	t.Run("UpdateLoanCreditScore", func(t *testing.T) {
		scoreDate := time.Now().UTC()
		if err := repo.UpdateLoanCreditScore(ctx, tenantID, "loan-001", 695, scoreDate); err != nil {
			t.Fatalf("UpdateLoanCreditScore failed: %v", err)
		}

		loan, err := repo.GetLoan(ctx, tenantID, "loan-001")
		if err != nil {
			t.Fatalf("GetLoan failed: %v", err)
		}
		if loan.CreditScore == nil || *loan.CreditScore != 695 {
			t.Errorf("expected credit score 695, got %v", loan.CreditScore)
		}
		if loan.CreditScoreDate == nil {
			t.Error("expected credit score date to be set")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetLoan(ctx, "tenant-002", "loan-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := repo.SaveLoan(ctx, "", &domain.Loan{ID: "loan-x"})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetLoan(ctx, "", "loan-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("DecisionChain", func(t *testing.T) {
		first := &domain.LoanDecision{
			ID:                "dec-001",
			LoanID:            "loan-001",
			Result:            domain.ResultConditionallyApproved,
			Source:            domain.SourceAutomated,
			RiskScore:         660,
			RiskLevel:         domain.RiskMedium,
			ApprovalLevel:     1,
			DecisionTimestamp: time.Now().UTC(),
			Factors: []domain.DecisionFactor{
				{Type: domain.FactorCreditScore, Name: "credit_score", Value: 695, Impact: domain.ImpactPositive},
			},
			Conditions: []domain.ApprovalCondition{
				{ID: "cond-001", Description: "collateral valuation", IsMandatory: true, Status: domain.ConditionPending},
			},
		}

		if err := repo.InsertDecision(ctx, tenantID, first); err != nil {
			t.Fatalf("InsertDecision failed: %v", err)
		}

		current, err := repo.GetCurrentDecision(ctx, tenantID, "loan-001")
		if err != nil {
			t.Fatalf("GetCurrentDecision failed: %v", err)
		}
		if current.ID != "dec-001" {
			t.Errorf("expected current decision dec-001, got %s", current.ID)
		}
		if len(current.Factors) != 1 || current.Factors[0].Type != domain.FactorCreditScore {
			t.Errorf("factors did not round-trip: %+v", current.Factors)
		}
		if len(current.Conditions) != 1 {
			t.Errorf("conditions did not round-trip: %+v", current.Conditions)
		}

		second := &domain.LoanDecision{
			ID:                 "dec-002",
			LoanID:             "loan-001",
			PreviousDecisionID: "dec-001",
			Result:             domain.ResultApproved,
			Source:             domain.SourceManual,
			RiskScore:          660,
			RiskLevel:          domain.RiskMedium,
			ApprovalLevel:      2,
			IsFinal:            true,
			DecisionTimestamp:  time.Now().UTC().Add(time.Second),
		}
		if err := repo.InsertDecision(ctx, tenantID, second); err != nil {
			t.Fatalf("InsertDecision failed: %v", err)
		}

		current, err = repo.GetCurrentDecision(ctx, tenantID, "loan-001")
		if err != nil {
			t.Fatalf("GetCurrentDecision failed: %v", err)
		}
		if current.ID != "dec-002" {
			t.Errorf("expected is_current to move to dec-002, got %s", current.ID)
		}
		if current.PreviousDecisionID != "dec-001" {
			t.Errorf("expected chain link to dec-001, got %q", current.PreviousDecisionID)
		}

		history, err := repo.ListDecisions(ctx, tenantID, "loan-001")
		if err != nil {
			t.Fatalf("ListDecisions failed: %v", err)
		}
		if len(history) != 2 {
			t.Fatalf("expected 2 decisions, got %d", len(history))
		}
		if history[0].ID != "dec-002" {
			t.Errorf("expected newest decision first, got %s", history[0].ID)
		}
		if history[0].IsCurrent == history[1].IsCurrent {
			t.Error("exactly one decision should carry is_current")
		}
	})

	t.Run("RulesetRoundTrip", func(t *testing.T) {
		rs := &domain.DecisioningRuleset{
			ID:       "rs-001",
			Name:     "standard-eligibility",
			IsActive: true,
			Version:  "1",
			Rules: []domain.DecisioningRule{
				{
					ID:                  "rule-002",
					RuleName:            "high-dti",
					RuleType:            domain.RuleTypeRisk,
					RuleDefinition:      "debt_to_income_ratio > 0.40",
					ActionOnTrigger:     domain.ActionManualReview,
					RiskScoreAdjustment: -50,
					Priority:            20,
					IsActive:            true,
				},
				{
					ID:                  "rule-001",
					RuleName:            "low-credit-score",
					RuleType:            domain.RuleTypeEligibility,
					RuleDefinition:      "credit_score < 650",
					ActionOnTrigger:     domain.ActionDecline,
					RiskScoreAdjustment: -100,
					Priority:            10,
					IsActive:            true,
				},
			},
		}

		if err := repo.SaveRuleset(ctx, tenantID, rs); err != nil {
			t.Fatalf("SaveRuleset failed: %v", err)
		}

		retrieved, err := repo.GetRuleset(ctx, tenantID, "rs-001")
		if err != nil {
			t.Fatalf("GetRuleset failed: %v", err)
		}
		if len(retrieved.Rules) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(retrieved.Rules))
		}
		// Rules come back ordered by ascending priority.
		if retrieved.Rules[0].ID != "rule-001" {
			t.Errorf("expected rule-001 first by priority, got %s", retrieved.Rules[0].ID)
		}
	})

	t.Run("WorkflowStageLifecycle", func(t *testing.T) {
		due := time.Now().UTC().Add(-time.Hour)
		entry := &domain.WorkflowEntry{
			ID:             "wf-001",
			LoanID:         "loan-001",
			CurrentStage:   domain.StageDecisioning,
			StageStatus:    domain.StageInProgress,
			StageStartDate: time.Now().UTC().Add(-2 * time.Hour),
			DueDate:        &due,
		}

		if err := repo.OpenWorkflowStage(ctx, tenantID, entry); err != nil {
			t.Fatalf("OpenWorkflowStage failed: %v", err)
		}

		open, err := repo.GetOpenWorkflowStage(ctx, tenantID, "loan-001")
		if err != nil {
			t.Fatalf("GetOpenWorkflowStage failed: %v", err)
		}
		if open.CurrentStage != domain.StageDecisioning {
			t.Errorf("expected DECISIONING, got %s", open.CurrentStage)
		}

		candidates, err := repo.ListOverdueCandidates(ctx, tenantID, time.Now().UTC())
		if err != nil {
			t.Fatalf("ListOverdueCandidates failed: %v", err)
		}
		if len(candidates) != 1 {
			t.Fatalf("expected 1 overdue candidate, got %d", len(candidates))
		}

		if err := repo.MarkStageOverdue(ctx, tenantID, "wf-001"); err != nil {
			t.Fatalf("MarkStageOverdue failed: %v", err)
		}

		candidates, _ = repo.ListOverdueCandidates(ctx, tenantID, time.Now().UTC())
		if len(candidates) != 0 {
			t.Errorf("expected no candidates after flagging, got %d", len(candidates))
		}

		if err := repo.CloseWorkflowStage(ctx, tenantID, "wf-001", domain.StageCompleted, time.Now().UTC()); err != nil {
			t.Fatalf("CloseWorkflowStage failed: %v", err)
		}

		_, err = repo.GetOpenWorkflowStage(ctx, tenantID, "loan-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after closing stage, got: %v", err)
		}
	})

	t.Run("ClientExposure", func(t *testing.T) {
		approved := &domain.Loan{
			ID:              "loan-002",
			ClientID:        "client-001",
			ProductID:       "product-001",
			PrincipalAmount: 10000,
			TermMonths:      12,
			Status:          domain.LoanStatusApproved,
			CreatedAt:       time.Now().UTC(),
			UpdatedAt:       time.Now().UTC(),
		}
		if err := repo.SaveLoan(ctx, tenantID, approved); err != nil {
			t.Fatalf("SaveLoan failed: %v", err)
		}

		exposure, err := repo.GetClientExposure(ctx, tenantID, "client-001")
		if err != nil {
			t.Fatalf("GetClientExposure failed: %v", err)
		}
		if exposure.ActiveLoans != 1 {
			t.Errorf("expected 1 active loan, got %d", exposure.ActiveLoans)
		}
		if exposure.TotalOutstanding != 10000 {
			t.Errorf("expected outstanding 10000, got %.2f", exposure.TotalOutstanding)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetLoan(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetDecision(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetRuleset(ctx, tenantID, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestWithTxRollback(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx domain.Repository) error {
		loan := &domain.Loan{
			ID:        "loan-tx",
			ClientID:  "client-001",
			ProductID: "product-001",
			Status:    domain.LoanStatusSubmitted,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := tx.SaveLoan(ctx, tenantID, loan); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got: %v", err)
	}

	_, err = repo.GetLoan(ctx, tenantID, "loan-tx")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected rollback to discard the loan, got: %v", err)
	}
}

func TestWithTxCommit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	err := repo.WithTx(ctx, func(tx domain.Repository) error {
		loan := &domain.Loan{
			ID:        "loan-tx",
			ClientID:  "client-001",
			ProductID: "product-001",
			Status:    domain.LoanStatusSubmitted,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		return tx.SaveLoan(ctx, tenantID, loan)
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	if _, err := repo.GetLoan(ctx, tenantID, "loan-tx"); err != nil {
		t.Errorf("expected committed loan to be readable: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
