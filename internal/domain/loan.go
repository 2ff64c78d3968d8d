// Package domain defines the core interfaces and types for Talon.
package domain

import "time"

// LoanStatus is the lifecycle status of a loan application.
type LoanStatus string

const (
	LoanStatusSubmitted LoanStatus = "submitted"
	LoanStatusPending   LoanStatus = "pending_approval"
	LoanStatusApproved  LoanStatus = "approved"
	LoanStatusRejected  LoanStatus = "rejected"
	LoanStatusDisbursed LoanStatus = "disbursed"
	LoanStatusWithdrawn LoanStatus = "withdrawn"
	LoanStatusClosed    LoanStatus = "closed"
)

// DecisionableStatuses are the loan statuses in which a decision may be
// recorded. Approved loans stay decisionable so a further approval level
// can be added before disbursement.
func (s LoanStatus) Decisionable() bool {
	switch s {
	case LoanStatusSubmitted, LoanStatusPending, LoanStatusApproved:
		return true
	}
	return false
}

// LoanProduct carries the product-level thresholds the decision engine
// evaluates applications against.
type LoanProduct struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	MinCreditScore            int     `json:"minCreditScore"`
	MaxDebtToIncomeRatio      float64 `json:"maxDebtToIncomeRatio"`
	RequiredMembershipYears   int     `json:"requiredMembershipYears"`
	CommitteeApprovalRequired bool    `json:"committeeApprovalRequired"`
	ApprovalLevels            int     `json:"approvalLevels"`

	// RulesetID selects the decisioning ruleset for this product. Empty
	// means no ruleset is configured and the heuristic risk scorer applies.
	RulesetID string `json:"rulesetId,omitempty"`
}

// Client is the borrowing member.
type Client struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	MemberSince time.Time  `json:"memberSince"`

	// Monthly cash flow, when declared. Zero means unknown.
	MonthlyIncome   float64 `json:"monthlyIncome"`
	MonthlyExpenses float64 `json:"monthlyExpenses"`
}

// MembershipYears returns whole years of membership at the given date. The
// current partial year does not count until the anniversary has passed.
func (c *Client) MembershipYears(at time.Time) int {
	years := at.Year() - c.MemberSince.Year()
	anniversary := time.Date(at.Year(), c.MemberSince.Month(), c.MemberSince.Day(), 0, 0, 0, 0, at.Location())
	if at.Before(anniversary) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// Loan is a loan application under decisioning.
type Loan struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	ClientID  string `json:"clientId"`
	ProductID string `json:"productId"`

	PrincipalAmount float64    `json:"principalAmount"`
	TermMonths      int        `json:"termMonths"`
	Status          LoanStatus `json:"status"`

	DebtToIncomeRatio  float64 `json:"debtToIncomeRatio"`
	EmploymentVerified bool    `json:"employmentVerified"`

	// Most recent bureau score stored on the loan. Nil score means no
	// check has been performed yet.
	CreditScore     *int       `json:"creditScore,omitempty"`
	CreditScoreDate *time.Time `json:"creditScoreDate,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreditScoreStaleDays is the age beyond which a stored credit score must
// be refreshed from the bureau before being used in an assessment.
const CreditScoreStaleDays = 90

// CreditScoreFresh reports whether the stored score is usable at the given
// assessment date.
func (l *Loan) CreditScoreFresh(at time.Time) bool {
	if l.CreditScore == nil || l.CreditScoreDate == nil {
		return false
	}
	return l.CreditScoreDate.After(at.AddDate(0, 0, -CreditScoreStaleDays))
}

// DocumentStatus is the verification state of a required document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentVerified DocumentStatus = "verified"
	DocumentRejected DocumentStatus = "rejected"
)

// LoanDocument is a document attached to a loan application.
type LoanDocument struct {
	ID           string         `json:"id"`
	LoanID       string         `json:"loanId"`
	DocumentType string         `json:"documentType"`
	IsRequired   bool           `json:"isRequired"`
	Status       DocumentStatus `json:"status"`
	VerifiedBy   string         `json:"verifiedBy,omitempty"`
	VerifiedAt   *time.Time     `json:"verifiedAt,omitempty"`
}

// RepaymentInstallment is one scheduled installment for a loan.
type RepaymentInstallment struct {
	ID        string    `json:"id"`
	LoanID    string    `json:"loanId"`
	DueDate   time.Time `json:"dueDate"`
	Principal float64   `json:"principal"`
	Interest  float64   `json:"interest"`
}

// Total returns the full installment amount.
func (i RepaymentInstallment) Total() float64 {
	return i.Principal + i.Interest
}

// AverageInstallment returns the mean scheduled installment, or 0 when the
// schedule is empty.
func AverageInstallment(schedule []RepaymentInstallment) float64 {
	if len(schedule) == 0 {
		return 0
	}
	var sum float64
	for _, inst := range schedule {
		sum += inst.Total()
	}
	return sum / float64(len(schedule))
}

// ClientExposure summarizes a client's open obligations across the book.
type ClientExposure struct {
	ActiveLoans      int     `json:"activeLoans"`
	TotalOutstanding float64 `json:"totalOutstanding"`
}
