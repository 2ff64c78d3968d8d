package domain

import "time"

// WorkflowStage is the pipeline position of a loan application.
type WorkflowStage string

const (
	StageApplication            WorkflowStage = "APPLICATION"
	StageDocumentVerification   WorkflowStage = "DOCUMENT_VERIFICATION"
	StageCreditCheck            WorkflowStage = "CREDIT_CHECK"
	StageEmploymentVerification WorkflowStage = "EMPLOYMENT_VERIFICATION"
	StageDecisioning            WorkflowStage = "DECISIONING"
	StageCommitteeReview        WorkflowStage = "COMMITTEE_REVIEW"
	StageApproval               WorkflowStage = "APPROVAL"
	StageDisbursement           WorkflowStage = "DISBURSEMENT"
	StageRejected               WorkflowStage = "REJECTED"
	StageWithdrawn              WorkflowStage = "WITHDRAWN"
	StageClosed                 WorkflowStage = "CLOSED"
)

// StageStatus is the state of a single workflow stage row.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageRejectedSt StageStatus = "rejected"
)

// WorkflowEntry is one workflow stage row for a loan. A nil StageEndDate
// means the stage is still open; at most one open row exists per loan.
type WorkflowEntry struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenantId"`
	LoanID       string        `json:"loanId"`
	CurrentStage WorkflowStage `json:"currentStage"`
	StageStatus  StageStatus   `json:"stageStatus"`

	StageStartDate time.Time  `json:"stageStartDate"`
	StageEndDate   *time.Time `json:"stageEndDate,omitempty"`

	AssignedTo string     `json:"assignedTo,omitempty"`
	DueDate    *time.Time `json:"dueDate,omitempty"`
	IsOverdue  bool       `json:"isOverdue"`
}

// Open reports whether the stage row is still open.
func (w *WorkflowEntry) Open() bool {
	return w.StageEndDate == nil
}

// NextStageForResult returns the stage a final decision transitions the
// workflow into.
func NextStageForResult(result DecisionResult) WorkflowStage {
	switch result {
	case ResultApproved:
		return StageApproval
	case ResultDeclined:
		return StageRejected
	default:
		return StageCommitteeReview
	}
}
