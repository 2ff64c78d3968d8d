package workflow

import (
	"context"
	"os"
	"testing"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "workflow-test-*.db")
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

func TestStartRecordsApplicationAndOpensDecisioning(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	entry, err := m.Start(ctx, repo, "tenant-001", "loan-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageDecisioning {
		t.Errorf("expected DECISIONING, got %s", entry.CurrentStage)
	}
	if entry.StageStatus != domain.StageInProgress {
		t.Errorf("expected in_progress, got %s", entry.StageStatus)
	}
	if entry.DueDate == nil {
		t.Error("expected a due date on an in-progress stage")
	}

	open, err := repo.GetOpenWorkflowStage(ctx, "tenant-001", "loan-001")
	if err != nil {
		t.Fatalf("expected an open stage: %v", err)
	}
	if open.ID != entry.ID {
		t.Error("expected the decisioning stage to be the open one")
	}

	stages, err := repo.ListWorkflowStages(ctx, "tenant-001", "loan-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected APPLICATION and DECISIONING rows, got %d", len(stages))
	}
	for _, s := range stages {
		if s.CurrentStage == domain.StageApplication {
			if s.Open() {
				t.Error("expected the application stage closed")
			}
			if s.StageStatus != domain.StageCompleted {
				t.Errorf("expected application stage completed, got %s", s.StageStatus)
			}
		}
	}
}

func TestAdvanceOnApproval(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	if _, err := m.Start(ctx, repo, "tenant-001", "loan-001"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := m.Advance(ctx, repo, "tenant-001", "loan-001", domain.ResultApproved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageApproval {
		t.Errorf("expected APPROVAL after an approved decision, got %s", entry.CurrentStage)
	}

	stages, err := repo.ListWorkflowStages(ctx, "tenant-001", "loan-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stage rows, got %d", len(stages))
	}

	openCount := 0
	for _, s := range stages {
		if s.Open() {
			openCount++
			continue
		}
		if s.StageStatus != domain.StageCompleted {
			t.Errorf("expected closed stage %s completed, got %s", s.CurrentStage, s.StageStatus)
		}
	}
	if openCount != 1 {
		t.Errorf("expected exactly one open stage, got %d", openCount)
	}
}

func TestAdvanceOnDecline(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	if _, err := m.AdvanceTo(ctx, repo, "tenant-001", "loan-001", domain.StageDecisioning); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, err := m.Advance(ctx, repo, "tenant-001", "loan-001", domain.ResultDeclined)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageRejected {
		t.Errorf("expected REJECTED, got %s", entry.CurrentStage)
	}
	if entry.StageStatus != domain.StageRejectedSt {
		t.Errorf("expected terminal rejected status, got %s", entry.StageStatus)
	}
	if entry.DueDate != nil {
		t.Error("expected no due date on a terminal stage")
	}

	stages, _ := repo.ListWorkflowStages(ctx, "tenant-001", "loan-001")
	for _, s := range stages {
		if s.CurrentStage == domain.StageDecisioning && s.StageStatus != domain.StageRejectedSt {
			t.Errorf("expected decisioning stage closed as rejected, got %s", s.StageStatus)
		}
	}
}

func TestAdvanceToCommitteeReview(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	entry, err := m.Advance(ctx, repo, "tenant-001", "loan-001", domain.ResultManualReview)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageCommitteeReview {
		t.Errorf("expected COMMITTEE_REVIEW, got %s", entry.CurrentStage)
	}

	entry, err = m.Advance(ctx, repo, "tenant-001", "loan-002", domain.ResultConditionallyApproved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageCommitteeReview {
		t.Errorf("expected COMMITTEE_REVIEW for conditional approval, got %s", entry.CurrentStage)
	}
}

func TestAdvanceToSameStageIsNoop(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	first, err := m.AdvanceTo(ctx, repo, "tenant-001", "loan-001", domain.StageDecisioning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.AdvanceTo(ctx, repo, "tenant-001", "loan-001", domain.StageDecisioning)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Error("expected advancing to the current stage to keep the open row")
	}

	stages, _ := repo.ListWorkflowStages(ctx, "tenant-001", "loan-001")
	if len(stages) != 1 {
		t.Errorf("expected a single stage row, got %d", len(stages))
	}
}

func TestAdvanceWithNoOpenStage(t *testing.T) {
	repo := newTestRepo(t)
	m := NewMachine(nil)
	ctx := context.Background()

	// Decision can land before any workflow row exists.
	entry, err := m.Advance(ctx, repo, "tenant-001", "loan-001", domain.ResultApproved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.CurrentStage != domain.StageApproval {
		t.Errorf("expected APPROVAL, got %s", entry.CurrentStage)
	}
}
