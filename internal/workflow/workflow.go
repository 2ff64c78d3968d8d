// Package workflow moves loan applications through the processing
// pipeline. A loan has at most one open stage row; advancing closes the
// open row and opens the next stage in the same transactional scope as
// the decision that caused it.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
)

// DefaultStageDueDays is the review window given to a newly opened stage.
const DefaultStageDueDays = 7

// Machine advances loans through workflow stages.
type Machine struct {
	logger *slog.Logger
}

// NewMachine creates a workflow stage machine.
func NewMachine(logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{logger: logger}
}

// Start records the APPLICATION stage for a freshly created loan and
// hands it straight to DECISIONING, which stays open until a final
// decision closes it.
func (m *Machine) Start(ctx context.Context, repo domain.Repository, tenantID, loanID string) (*domain.WorkflowEntry, error) {
	if _, err := m.open(ctx, repo, tenantID, loanID, domain.StageApplication); err != nil {
		return nil, err
	}
	return m.advanceTo(ctx, repo, tenantID, loanID, domain.StageDecisioning, domain.StageCompleted)
}

// Advance closes whatever stage is currently open for the loan and opens
// the stage the decision result maps to. A loan with no open stage gets
// the next stage opened without a close; that happens when a decision
// lands before intake opened a workflow row.
func (m *Machine) Advance(ctx context.Context, repo domain.Repository, tenantID, loanID string, result domain.DecisionResult) (*domain.WorkflowEntry, error) {
	next := domain.NextStageForResult(result)
	return m.advanceTo(ctx, repo, tenantID, loanID, next, closeStatusForResult(result))
}

// AdvanceTo moves the loan to an explicit stage, for transitions not
// driven by a decision result (disbursement, withdrawal, closure).
func (m *Machine) AdvanceTo(ctx context.Context, repo domain.Repository, tenantID, loanID string, stage domain.WorkflowStage) (*domain.WorkflowEntry, error) {
	return m.advanceTo(ctx, repo, tenantID, loanID, stage, domain.StageCompleted)
}

func (m *Machine) advanceTo(ctx context.Context, repo domain.Repository, tenantID, loanID string, next domain.WorkflowStage, closeStatus domain.StageStatus) (*domain.WorkflowEntry, error) {
	now := time.Now().UTC()

	open, err := repo.GetOpenWorkflowStage(ctx, tenantID, loanID)
	switch {
	case err == nil:
		if open.CurrentStage == next {
			return open, nil
		}
		if err := repo.CloseWorkflowStage(ctx, tenantID, open.ID, closeStatus, now); err != nil {
			return nil, fmt.Errorf("closing stage %s: %w", open.CurrentStage, err)
		}
	case errors.Is(err, domain.ErrNotFound):
		// No open stage; open the next one directly.
	default:
		return nil, fmt.Errorf("loading open stage: %w", err)
	}

	entry, err := m.open(ctx, repo, tenantID, loanID, next)
	if err != nil {
		return nil, err
	}

	m.logger.Info("workflow advanced",
		"tenant_id", tenantID,
		"loan_id", loanID,
		"stage", next)
	return entry, nil
}

func (m *Machine) open(ctx context.Context, repo domain.Repository, tenantID, loanID string, stage domain.WorkflowStage) (*domain.WorkflowEntry, error) {
	now := time.Now().UTC()
	entry := &domain.WorkflowEntry{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		LoanID:         loanID,
		CurrentStage:   stage,
		StageStatus:    stageStatusFor(stage),
		StageStartDate: now,
	}
	if stageStatusFor(stage) == domain.StageInProgress {
		due := now.AddDate(0, 0, DefaultStageDueDays)
		entry.DueDate = &due
	}
	if err := repo.OpenWorkflowStage(ctx, tenantID, entry); err != nil {
		return nil, fmt.Errorf("opening stage %s: %w", stage, err)
	}
	return entry, nil
}

// Terminal stages carry no due date and open already settled.
func stageStatusFor(stage domain.WorkflowStage) domain.StageStatus {
	switch stage {
	case domain.StageRejected:
		return domain.StageRejectedSt
	case domain.StageWithdrawn, domain.StageClosed:
		return domain.StageCompleted
	default:
		return domain.StageInProgress
	}
}

func closeStatusForResult(result domain.DecisionResult) domain.StageStatus {
	if result == domain.ResultDeclined {
		return domain.StageRejectedSt
	}
	return domain.StageCompleted
}
