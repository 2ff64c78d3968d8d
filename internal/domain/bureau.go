package domain

import (
	"context"
	"time"
)

// CreditCheckRequest is the payload sent to the credit bureau collaborator.
type CreditCheckRequest struct {
	ClientID      string     `json:"clientId"`
	FirstName     string     `json:"firstName,omitempty"`
	LastName      string     `json:"lastName,omitempty"`
	DateOfBirth   *time.Time `json:"dateOfBirth,omitempty"`
	RequestSource string     `json:"requestSource"`
}

// CreditCheckResult is the bureau's response contract.
type CreditCheckResult struct {
	CreditScore       int       `json:"creditScore"`
	ScoreDate         time.Time `json:"scoreDate"`
	RiskCategory      string    `json:"riskCategory"`
	DelinquencyStatus bool      `json:"delinquencyStatus"`
	ActiveLoans       int       `json:"activeLoans"`
	TotalOutstanding  float64   `json:"totalOutstanding,omitempty"`
	MaxDaysInArrears  int       `json:"maxDaysInArrears,omitempty"`
	BankruptcyFlag    bool      `json:"bankruptcyFlag"`
	FraudFlag         bool      `json:"fraudFlag"`
}

// CreditChecker is the external credit bureau collaborator. The engine
// treats it as a black box: a failure is recovered as a negative decision
// factor, never surfaced as a fatal assessment error.
type CreditChecker interface {
	Check(ctx context.Context, tenantID string, req CreditCheckRequest) (*CreditCheckResult, error)
}

// BureauConfig holds credit bureau client settings.
type BureauConfig struct {
	// BaseURL of the bureau service. Empty enables the deterministic stub
	// used for development and tests.
	BaseURL string

	APIKey        string
	TimeoutSecs   int
	CacheTTLSecs  int // memoization window for repeated lookups
	RequestSource string

	// DailyLookupLimit caps live bureau lookups per tenant per day.
	// Zero disables the budget.
	DailyLookupLimit int
}
