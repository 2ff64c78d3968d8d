package assessment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/talon/internal/domain"
)

// IntakeRequest registers a new loan application.
type IntakeRequest struct {
	LoanID    string `json:"loanId,omitempty"`
	ClientID  string `json:"clientId"`
	ProductID string `json:"productId"`

	PrincipalAmount    float64 `json:"principalAmount"`
	TermMonths         int     `json:"termMonths"`
	DebtToIncomeRatio  float64 `json:"debtToIncomeRatio"`
	EmploymentVerified bool    `json:"employmentVerified"`

	// Documents and Schedule are stored with the loan when supplied.
	Documents []domain.LoanDocument         `json:"documents,omitempty"`
	Schedule  []domain.RepaymentInstallment `json:"repaymentSchedule,omitempty"`
}

// Submit registers a loan application and opens its workflow. The client
// and product must already exist.
func (s *Service) Submit(ctx context.Context, tenantID string, req IntakeRequest) (*domain.Loan, error) {
	if req.ClientID == "" || req.ProductID == "" {
		return nil, fmt.Errorf("%w: clientId and productId are required", domain.ErrInvalidInput)
	}
	if req.PrincipalAmount <= 0 || req.TermMonths <= 0 {
		return nil, fmt.Errorf("%w: principalAmount and termMonths must be positive", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	loan := &domain.Loan{
		ID:                 req.LoanID,
		TenantID:           tenantID,
		ClientID:           req.ClientID,
		ProductID:          req.ProductID,
		PrincipalAmount:    req.PrincipalAmount,
		TermMonths:         req.TermMonths,
		Status:             domain.LoanStatusSubmitted,
		DebtToIncomeRatio:  req.DebtToIncomeRatio,
		EmploymentVerified: req.EmploymentVerified,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if loan.ID == "" {
		loan.ID = uuid.New().String()
	}

	err := s.repo.WithTx(ctx, func(txr domain.Repository) error {
		if _, err := txr.GetClient(ctx, tenantID, req.ClientID); err != nil {
			return err
		}
		if _, err := txr.GetProduct(ctx, tenantID, req.ProductID); err != nil {
			return err
		}
		if err := txr.SaveLoan(ctx, tenantID, loan); err != nil {
			return err
		}
		for i := range req.Documents {
			doc := req.Documents[i]
			if doc.ID == "" {
				doc.ID = uuid.New().String()
			}
			doc.LoanID = loan.ID
			if err := txr.SaveDocument(ctx, tenantID, &doc); err != nil {
				return err
			}
		}
		for i := range req.Schedule {
			inst := req.Schedule[i]
			if inst.ID == "" {
				inst.ID = uuid.New().String()
			}
			inst.LoanID = loan.ID
			if err := txr.SaveInstallment(ctx, tenantID, &inst); err != nil {
				return err
			}
		}
		_, err := s.machine.Start(ctx, txr, tenantID, loan.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("loan submitted",
		"tenant_id", tenantID,
		"loan_id", loan.ID,
		"client_id", loan.ClientID,
		"principal", loan.PrincipalAmount)

	if s.bus != nil {
		payload, err := json.Marshal(loan)
		if err == nil {
			if err := s.bus.Publish(ctx, tenantID, domain.TopicLoanSubmitted, payload); err != nil {
				s.logger.Warn("failed to publish loan submitted event", "error", err)
			}
		}
	}
	return loan, nil
}
