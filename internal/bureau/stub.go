package bureau

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

var _ domain.CreditChecker = (*Stub)(nil)

// Stub is a deterministic in-process bureau used for development and
// tests. The same client ID always yields the same result, derived from a
// hash of the ID, so fixtures are reproducible without a live bureau.
type Stub struct{}

// NewStub creates the deterministic stub checker.
func NewStub() *Stub {
	return &Stub{}
}

// Check derives a stable result from the client ID. Scores land in
// [500, 820); roughly one in eight clients is delinquent and one in
// sixteen carries a bankruptcy flag.
func (s *Stub) Check(ctx context.Context, tenantID string, req domain.CreditCheckRequest) (*domain.CreditCheckResult, error) {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	h.Write([]byte(req.ClientID))
	seed := h.Sum64()

	score := 500 + int(seed%320)
	activeLoans := int(seed / 7 % 5)
	delinquent := seed%8 == 0
	bankrupt := seed%16 == 1

	arrears := 0
	if delinquent {
		arrears = 30 + int(seed%90)
	}

	category := "standard"
	switch {
	case score >= domain.RiskLowThreshold:
		category = "prime"
	case score < domain.RiskHighThreshold:
		category = "subprime"
	}

	return &domain.CreditCheckResult{
		CreditScore:       score,
		ScoreDate:         time.Now().UTC(),
		RiskCategory:      category,
		DelinquencyStatus: delinquent,
		ActiveLoans:       activeLoans,
		TotalOutstanding:  float64(activeLoans) * 2500,
		MaxDaysInArrears:  arrears,
		BankruptcyFlag:    bankrupt,
		FraudFlag:         false,
	}, nil
}
