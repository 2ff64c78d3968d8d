// Package assessment orchestrates loan decisioning: automated assessment,
// manual decisions and overrides. Every mutating path runs inside one
// repository transaction covering the latest-decision read, the decision
// insert, the loan status update and the workflow advance.
package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/exposure"
	"github.com/opensource-finance/talon/internal/factors"
	"github.com/opensource-finance/talon/internal/rules"
	"github.com/opensource-finance/talon/internal/scoring"
	"github.com/opensource-finance/talon/internal/workflow"
)

// Service runs the decisioning use cases.
type Service struct {
	repo     domain.Repository
	rulesets *rules.RulesetEngine
	checker  domain.CreditChecker
	exposure *exposure.Service
	machine  *workflow.Machine
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewService wires the orchestrator. The bus may be nil; events are then
// dropped.
func NewService(repo domain.Repository, rulesets *rules.RulesetEngine, checker domain.CreditChecker, expo *exposure.Service, machine *workflow.Machine, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		rulesets: rulesets,
		checker:  checker,
		exposure: expo,
		machine:  machine,
		bus:      bus,
		logger:   logger,
	}
}

// AssessRequest is the automated-assessment input.
type AssessRequest struct {
	LoanID         string    `json:"loanId"`
	AssessmentDate time.Time `json:"assessmentDate,omitempty"`

	IncludeDocumentVerification   bool `json:"includeDocumentVerification"`
	IncludeEmploymentVerification bool `json:"includeEmploymentVerification"`
	IncludeCreditCheck            bool `json:"includeCreditCheck"`

	// ForceReevaluation assesses again even when a final decision exists.
	ForceReevaluation bool `json:"forceReevaluation"`

	ActorID string `json:"actorId,omitempty"`
}

// AssessmentResponse is the automated-assessment output.
type AssessmentResponse struct {
	Decision *domain.LoanDecision `json:"decision"`

	// Evaluation is set when a configured ruleset produced the decision.
	Evaluation *domain.RulesetEvaluation `json:"evaluation,omitempty"`

	// Reused reports that an existing final decision was returned and no
	// new record was written.
	Reused bool `json:"reused"`
}

// Assess runs the automated assessment for a loan. An existing final
// decision short-circuits unless ForceReevaluation is set.
func (s *Service) Assess(ctx context.Context, tenantID string, req AssessRequest) (*AssessmentResponse, error) {
	if req.LoanID == "" {
		return nil, fmt.Errorf("%w: loanId is required", domain.ErrInvalidInput)
	}
	at := req.AssessmentDate
	if at.IsZero() {
		at = time.Now().UTC()
	}

	resp := &AssessmentResponse{}
	var advancedTo *domain.WorkflowEntry

	err := s.repo.WithTx(ctx, func(txr domain.Repository) error {
		loan, err := txr.GetLoanForUpdate(ctx, tenantID, req.LoanID)
		if err != nil {
			return err
		}

		latest, err := txr.GetCurrentDecision(ctx, tenantID, loan.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if latest != nil && latest.IsFinal && !req.ForceReevaluation {
			resp.Decision = latest
			resp.Reused = true
			return nil
		}

		if !loan.Status.Decisionable() {
			return fmt.Errorf("%w: loan %s is %s and cannot be assessed", domain.ErrInvalidState, loan.ID, loan.Status)
		}

		client, err := txr.GetClient(ctx, tenantID, loan.ClientID)
		if err != nil {
			return err
		}
		product, err := txr.GetProduct(ctx, tenantID, loan.ProductID)
		if err != nil {
			return err
		}

		in := factors.Input{Loan: loan, Client: client, Product: product}
		factorRes, err := factors.NewEvaluator(txr, s.checker, s.logger).Evaluate(ctx, tenantID, in, factors.Options{
			IncludeDocuments:  req.IncludeDocumentVerification,
			IncludeEmployment: req.IncludeEmploymentVerification,
			IncludeCredit:     req.IncludeCreditCheck,
			AssessmentDate:    at,
		})
		if err != nil {
			return err
		}

		decision := &domain.LoanDecision{
			ID:                uuid.New().String(),
			TenantID:          tenantID,
			LoanID:            loan.ID,
			Source:            domain.SourceAutomated,
			Factors:           factorRes.Factors,
			ApprovalLevel:     1,
			IsCurrent:         true,
			DecisionTimestamp: at,
			DecisionBy:        req.ActorID,
		}
		if latest != nil {
			decision.PreviousDecisionID = latest.ID
		}

		var eval *domain.RulesetEvaluation
		if product.RulesetID != "" {
			eval, err = s.evaluateForLoan(ctx, txr, tenantID, product.RulesetID, at, loan, client, factorRes)
			if err != nil {
				return err
			}
		}
		if eval != nil {
			resp.Evaluation = eval
			decision.Result = eval.Result
			decision.RiskScore = eval.RiskScore
			decision.RiskLevel = eval.RiskLevel
			decision.Conditions = eval.Conditions
			for _, tr := range eval.TriggeredRules {
				decision.TriggeredRules = append(decision.TriggeredRules, tr.RuleID)
			}
		} else {
			outcome := scoring.Score(scoring.Input{
				Factors:         factorRes.Factors,
				CreditScore:     factorRes.CreditScore,
				CreditThreshold: product.MinCreditScore,
				DebtRatio:       loan.DebtToIncomeRatio,
				DebtThreshold:   product.MaxDebtToIncomeRatio,
				MembershipYears: factorRes.MembershipYears,
			})
			decision.Result = outcome.Result
			decision.RiskScore = outcome.RiskScore
			decision.RiskLevel = outcome.RiskLevel
			decision.Conditions = outcome.Conditions
		}

		decision.IsFinal = !product.CommitteeApprovalRequired
		if product.CommitteeApprovalRequired {
			next := 2
			decision.NextApprovalLevel = &next
		}

		if err := txr.InsertDecision(ctx, tenantID, decision); err != nil {
			return err
		}

		if decision.IsFinal {
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

	if !resp.Reused {
		s.logger.Info("loan assessed",
			"tenant_id", tenantID,
			"loan_id", req.LoanID,
			"decision_id", resp.Decision.ID,
			"result", resp.Decision.Result,
			"risk_score", resp.Decision.RiskScore,
			"final", resp.Decision.IsFinal)
		s.publishDecision(ctx, tenantID, domain.TopicDecisionCreated, resp.Decision)
		s.publishWorkflow(ctx, tenantID, req.LoanID, advancedTo)
	}
	return resp, nil
}

// evaluateForLoan builds the field map and evaluates the product's
// ruleset, loading it into the engine from the store on first use. A
// ruleset outside its effective window returns a nil evaluation and the
// caller falls back to factor scoring.
func (s *Service) evaluateForLoan(ctx context.Context, txr domain.Repository, tenantID, rulesetID string, at time.Time, loan *domain.Loan, client *domain.Client, factorRes *factors.Result) (*domain.RulesetEvaluation, error) {
	rs, ok := s.rulesets.Get(rulesetID)
	if !ok {
		loaded, err := txr.GetRuleset(ctx, tenantID, rulesetID)
		if err != nil {
			return nil, err
		}
		s.rulesets.LoadRuleset(loaded)
		rs = loaded
	}

	if !rs.EffectiveAt(at) {
		s.logger.Warn("ruleset outside its effective window, using factor scoring",
			"tenant_id", tenantID,
			"ruleset_id", rulesetID,
			"loan_id", loan.ID)
		return nil, nil
	}

	fields := rules.FieldMap{
		domain.FieldDebtToIncomeRatio:  loan.DebtToIncomeRatio,
		domain.FieldMembershipYears:    factorRes.MembershipYears,
		domain.FieldEmploymentVerified: loan.EmploymentVerified,
		domain.FieldPrincipalAmount:    loan.PrincipalAmount,
		domain.FieldTermMonths:         loan.TermMonths,
		domain.FieldDocumentsVerified:  factorRes.DocumentsVerified,
		domain.FieldMonthlyIncome:      client.MonthlyIncome,
		domain.FieldMonthlyExpenses:    client.MonthlyExpenses,
		domain.FieldRepaymentCapacity:  factorRes.RepaymentCapacity,
	}

	// An unknown credit score stays out of the field map so that score
	// thresholds do not fire against missing bureau data.
	if factorRes.CreditScore > 0 {
		fields[domain.FieldCreditScore] = factorRes.CreditScore
	}

	if cr := factorRes.CreditResult; cr != nil {
		fields[domain.FieldActiveLoans] = cr.ActiveLoans
		fields[domain.FieldTotalOutstanding] = cr.TotalOutstanding
		fields[domain.FieldDelinquency] = cr.DelinquencyStatus
		fields[domain.FieldBankruptcy] = cr.BankruptcyFlag
		fields[domain.FieldFraudFlag] = cr.FraudFlag
	} else if s.exposure != nil {
		if exp, err := s.exposure.GetExposure(ctx, tenantID, loan.ClientID); err == nil {
			fields[domain.FieldActiveLoans] = exp.ActiveLoans
			fields[domain.FieldTotalOutstanding] = exp.TotalOutstanding
		}
	}

	return s.rulesets.Evaluate(rs, fields), nil
}

// settleLoan applies a final decision's side effects: loan status for
// approved/declined outcomes and the workflow transition for every
// outcome.
func (s *Service) settleLoan(ctx context.Context, txr domain.Repository, tenantID, loanID string, result domain.DecisionResult) (*domain.WorkflowEntry, error) {
	switch result {
	case domain.ResultApproved:
		if err := txr.UpdateLoanStatus(ctx, tenantID, loanID, domain.LoanStatusApproved); err != nil {
			return nil, err
		}
	case domain.ResultDeclined:
		if err := txr.UpdateLoanStatus(ctx, tenantID, loanID, domain.LoanStatusRejected); err != nil {
			return nil, err
		}
	}
	return s.machine.Advance(ctx, txr, tenantID, loanID, result)
}

func (s *Service) publishDecision(ctx context.Context, tenantID, topic string, d *domain.LoanDecision) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.DecisionEvent{
		DecisionID:     d.ID,
		LoanID:         d.LoanID,
		TenantID:       tenantID,
		Result:         d.Result,
		RiskScore:      d.RiskScore,
		RiskLevel:      d.RiskLevel,
		IsFinal:        d.IsFinal,
		ManualOverride: d.ManualOverride,
		ApprovalLevel:  d.ApprovalLevel,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		s.logger.Warn("failed to publish decision event", "topic", topic, "error", err)
	}
}

func (s *Service) publishWorkflow(ctx context.Context, tenantID, loanID string, entry *domain.WorkflowEntry) {
	if s.bus == nil || entry == nil {
		return
	}
	payload, err := json.Marshal(domain.WorkflowEvent{
		LoanID:   loanID,
		TenantID: tenantID,
		ToStage:  entry.CurrentStage,
		EntryID:  entry.ID,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, tenantID, domain.TopicWorkflowAdvanced, payload); err != nil {
		s.logger.Warn("failed to publish workflow event", "error", err)
	}
}
