package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
)

// DecisionRequest is a manual decision on a loan.
type DecisionRequest struct {
	LoanID string                `json:"loanId"`
	Result domain.DecisionResult `json:"decisionResult"`

	RiskScore  *int                       `json:"riskScore,omitempty"`
	RiskLevel  domain.RiskLevel           `json:"riskLevel,omitempty"`
	Factors    []domain.DecisionFactor    `json:"decisionFactors,omitempty"`
	Conditions []domain.ApprovalCondition `json:"approvalConditions,omitempty"`
	Notes      string                     `json:"notes,omitempty"`

	ApprovalLevel *int       `json:"approvalLevel,omitempty"`
	IsFinal       *bool      `json:"isFinal,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`

	// ManualOverride allows deciding on a loan whose chain already ends
	// in a final decision.
	ManualOverride bool   `json:"manualOverride"`
	OverrideReason string `json:"overrideReason,omitempty"`

	ActorID string `json:"actorId"`
}

// DecisionResponse wraps the recorded decision.
type DecisionResponse struct {
	Decision *domain.LoanDecision `json:"decision"`
}

// Decide records a manual decision. The approval level advances by one
// per decision unless explicitly supplied; a chain ending in a final
// decision rejects further manual decisions without the override flag.
func (s *Service) Decide(ctx context.Context, tenantID string, req DecisionRequest) (*DecisionResponse, error) {
	if req.ActorID == "" {
		return nil, fmt.Errorf("%w: actorId is required for manual decisions", domain.ErrUnauthorized)
	}
	if req.LoanID == "" {
		return nil, fmt.Errorf("%w: loanId is required", domain.ErrInvalidInput)
	}
	if !req.Result.Valid() {
		return nil, fmt.Errorf("%w: unknown decision result %q", domain.ErrInvalidInput, req.Result)
	}

	resp := &DecisionResponse{}
	var advancedTo *domain.WorkflowEntry

	err := s.repo.WithTx(ctx, func(txr domain.Repository) error {
		loan, err := txr.GetLoanForUpdate(ctx, tenantID, req.LoanID)
		if err != nil {
			return err
		}
		if !loan.Status.Decisionable() {
			return fmt.Errorf("%w: loan %s is %s and cannot be decided", domain.ErrInvalidState, loan.ID, loan.Status)
		}
		product, err := txr.GetProduct(ctx, tenantID, loan.ProductID)
		if err != nil {
			return err
		}

		prev, err := txr.GetCurrentDecision(ctx, tenantID, loan.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if prev != nil && prev.IsFinal && !req.ManualOverride {
			return fmt.Errorf("%w: loan %s already has a final decision; use an override", domain.ErrInvalidState, loan.ID)
		}

		level := 1
		if prev != nil {
			level = prev.ApprovalLevel + 1
		}
		if req.ApprovalLevel != nil {
			// Approval levels only move forward along a chain; stepping
			// back requires an override.
			if prev != nil && *req.ApprovalLevel <= prev.ApprovalLevel && !req.ManualOverride {
				return fmt.Errorf("%w: approval level %d does not advance beyond level %d", domain.ErrInvalidState, *req.ApprovalLevel, prev.ApprovalLevel)
			}
			level = *req.ApprovalLevel
		}

		final := level >= product.ApprovalLevels
		if req.IsFinal != nil {
			final = *req.IsFinal
		}

		decision := &domain.LoanDecision{
			ID:                uuid.New().String(),
			TenantID:          tenantID,
			LoanID:            loan.ID,
			Result:            req.Result,
			Source:            domain.SourceManual,
			Factors:           req.Factors,
			Conditions:        req.Conditions,
			ApprovalLevel:     level,
			IsFinal:           final,
			IsCurrent:         true,
			ManualOverride:    req.ManualOverride,
			OverrideReason:    req.OverrideReason,
			ExpiryDate:        req.ExpiryDate,
			DecisionTimestamp: time.Now().UTC(),
			DecisionBy:        req.ActorID,
			Notes:             req.Notes,
		}
		if prev != nil {
			decision.PreviousDecisionID = prev.ID
		}
		if !final {
			next := level + 1
			decision.NextApprovalLevel = &next
		}

		decision.RiskScore, decision.RiskLevel = carryRisk(prev, req.RiskScore, req.RiskLevel)

		if err := txr.InsertDecision(ctx, tenantID, decision); err != nil {
			return err
		}

		if final {
			entry, err := s.settleLoan(ctx, txr, tenantID, loan.ID, decision.Result)
			if err != nil {
				return err
			}
			advancedTo = entry
		}

		resp.Decision = decision
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("manual decision recorded",
		"tenant_id", tenantID,
		"loan_id", req.LoanID,
		"decision_id", resp.Decision.ID,
		"result", resp.Decision.Result,
		"approval_level", resp.Decision.ApprovalLevel,
		"final", resp.Decision.IsFinal,
		"actor", req.ActorID)
	s.publishDecision(ctx, tenantID, domain.TopicDecisionCreated, resp.Decision)
	s.publishWorkflow(ctx, tenantID, req.LoanID, advancedTo)
	return resp, nil
}

// OverrideRequest replaces the outcome of an existing decision with a new
// final one.
type OverrideRequest struct {
	DecisionID     string                `json:"decisionId"`
	NewResult      domain.DecisionResult `json:"newResult"`
	OverrideReason string                `json:"overrideReason"`

	RiskScore  *int                       `json:"riskScore,omitempty"`
	RiskLevel  domain.RiskLevel           `json:"riskLevel,omitempty"`
	Factors    []domain.DecisionFactor    `json:"decisionFactors,omitempty"`
	Conditions []domain.ApprovalCondition `json:"approvalConditions,omitempty"`
	Notes      string                     `json:"notes,omitempty"`

	ActorID string `json:"actorId"`
}

// OverrideResponse wraps the override decision.
type OverrideResponse struct {
	Decision *domain.LoanDecision `json:"decision"`
}

// Override records a new final decision chained to the target. The
// target's risk score, level and factors carry over unless replaced, and
// the loan's workflow moves to match the new result no matter which stage
// is currently open.
func (s *Service) Override(ctx context.Context, tenantID string, req OverrideRequest) (*OverrideResponse, error) {
	if req.ActorID == "" {
		return nil, fmt.Errorf("%w: actorId is required for overrides", domain.ErrUnauthorized)
	}
	if req.DecisionID == "" {
		return nil, fmt.Errorf("%w: decisionId is required", domain.ErrInvalidInput)
	}
	if req.OverrideReason == "" {
		return nil, fmt.Errorf("%w: overrideReason is required", domain.ErrInvalidInput)
	}
	if !req.NewResult.Valid() {
		return nil, fmt.Errorf("%w: unknown decision result %q", domain.ErrInvalidInput, req.NewResult)
	}

	resp := &OverrideResponse{}
	var advancedTo *domain.WorkflowEntry

	err := s.repo.WithTx(ctx, func(txr domain.Repository) error {
		target, err := txr.GetDecision(ctx, tenantID, req.DecisionID)
		if err != nil {
			return err
		}
		loan, err := txr.GetLoanForUpdate(ctx, tenantID, target.LoanID)
		if err != nil {
			return err
		}

		decision := &domain.LoanDecision{
			ID:                 uuid.New().String(),
			TenantID:           tenantID,
			LoanID:             loan.ID,
			PreviousDecisionID: target.ID,
			Result:             req.NewResult,
			Source:             domain.SourceManual,
			RiskScore:          target.RiskScore,
			RiskLevel:          target.RiskLevel,
			Factors:            target.Factors,
			Conditions:         req.Conditions,
			ApprovalLevel:      target.ApprovalLevel,
			IsFinal:            true,
			IsCurrent:          true,
			ManualOverride:     true,
			OverrideReason:     req.OverrideReason,
			DecisionTimestamp:  time.Now().UTC(),
			DecisionBy:         req.ActorID,
			Notes:              req.Notes,
		}
		if req.RiskScore != nil {
			decision.RiskScore = *req.RiskScore
		}
		if req.RiskLevel != "" {
			decision.RiskLevel = req.RiskLevel
		}
		if req.Factors != nil {
			decision.Factors = req.Factors
		}

		if err := txr.InsertDecision(ctx, tenantID, decision); err != nil {
			return err
		}

		entry, err := s.settleLoan(ctx, txr, tenantID, loan.ID, decision.Result)
		if err != nil {
			return err
		}
		advancedTo = entry

		resp.Decision = decision
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("decision overridden",
		"tenant_id", tenantID,
		"decision_id", req.DecisionID,
		"new_decision_id", resp.Decision.ID,
		"result", resp.Decision.Result,
		"actor", req.ActorID)
	s.publishDecision(ctx, tenantID, domain.TopicDecisionOverridden, resp.Decision)
	s.publishWorkflow(ctx, tenantID, resp.Decision.LoanID, advancedTo)
	return resp, nil
}

// History returns a loan's decision chain, newest first. Factor and
// condition snapshots are stripped unless details are requested.
func (s *Service) History(ctx context.Context, tenantID, loanID string, includeDetails bool) (*domain.DecisionHistory, error) {
	if _, err := s.repo.GetLoan(ctx, tenantID, loanID); err != nil {
		return nil, err
	}
	decisions, err := s.repo.ListDecisions(ctx, tenantID, loanID)
	if err != nil {
		return nil, err
	}
	if !includeDetails {
		for i := range decisions {
			decisions[i].Factors = nil
			decisions[i].Conditions = nil
		}
	}
	return &domain.DecisionHistory{
		LoanID:    loanID,
		Decisions: decisions,
		Count:     len(decisions),
	}, nil
}

// EvaluateRuleset evaluates persisted rules against caller-supplied field
// data without writing a decision.
func (s *Service) EvaluateRuleset(ctx context.Context, tenantID, rulesetID string, fields map[string]any) (*domain.RulesetEvaluation, error) {
	rs, err := s.repo.GetRuleset(ctx, tenantID, rulesetID)
	if err != nil {
		return nil, err
	}
	return s.rulesets.Evaluate(rs, fields), nil
}

// carryRisk applies explicit risk values over the previous decision's,
// falling back to the neutral base score.
func carryRisk(prev *domain.LoanDecision, score *int, level domain.RiskLevel) (int, domain.RiskLevel) {
	outScore := domain.RiskScoreBase
	outLevel := domain.RiskLevelForScore(outScore)
	if prev != nil {
		outScore = prev.RiskScore
		outLevel = prev.RiskLevel
	}
	if score != nil {
		outScore = domain.ClampRiskScore(*score)
		outLevel = domain.RiskLevelForScore(outScore)
	}
	if level != "" {
		outLevel = level
	}
	return outScore, outLevel
}
