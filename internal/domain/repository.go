package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Loan operations
	SaveLoan(ctx context.Context, tenantID string, loan *Loan) error
	GetLoan(ctx context.Context, tenantID string, loanID string) (*Loan, error)
	// GetLoanForUpdate locks the loan row for the duration of the
	// surrounding transaction, serializing concurrent decisioning calls
	// for the same loan.
	GetLoanForUpdate(ctx context.Context, tenantID string, loanID string) (*Loan, error)
	UpdateLoanStatus(ctx context.Context, tenantID string, loanID string, status LoanStatus) error
	UpdateLoanCreditScore(ctx context.Context, tenantID string, loanID string, score int, scoreDate time.Time) error

	// Client and product operations
	SaveClient(ctx context.Context, tenantID string, client *Client) error
	GetClient(ctx context.Context, tenantID string, clientID string) (*Client, error)
	SaveProduct(ctx context.Context, tenantID string, product *LoanProduct) error
	GetProduct(ctx context.Context, tenantID string, productID string) (*LoanProduct, error)

	// Loan documents and repayment schedule
	SaveDocument(ctx context.Context, tenantID string, doc *LoanDocument) error
	ListDocuments(ctx context.Context, tenantID string, loanID string) ([]LoanDocument, error)
	SaveInstallment(ctx context.Context, tenantID string, inst *RepaymentInstallment) error
	ListSchedule(ctx context.Context, tenantID string, loanID string) ([]RepaymentInstallment, error)

	// Decision ledger: append-only, chain-linked. InsertDecision clears the
	// is_current marker on the superseded decision inside the same
	// transactional scope; records are never updated or deleted.
	InsertDecision(ctx context.Context, tenantID string, decision *LoanDecision) error
	GetDecision(ctx context.Context, tenantID string, decisionID string) (*LoanDecision, error)
	GetCurrentDecision(ctx context.Context, tenantID string, loanID string) (*LoanDecision, error)
	ListDecisions(ctx context.Context, tenantID string, loanID string) ([]LoanDecision, error)

	// Ruleset configuration
	SaveRuleset(ctx context.Context, tenantID string, ruleset *DecisioningRuleset) error
	GetRuleset(ctx context.Context, tenantID string, rulesetID string) (*DecisioningRuleset, error)
	ListRulesets(ctx context.Context, tenantID string) ([]*DecisioningRuleset, error)
	SaveRule(ctx context.Context, tenantID string, rule *DecisioningRule) error
	// ListActiveRules returns the active rules of a ruleset ordered by
	// ascending priority.
	ListActiveRules(ctx context.Context, tenantID string, rulesetID string) ([]DecisioningRule, error)

	// Workflow stage rows
	OpenWorkflowStage(ctx context.Context, tenantID string, entry *WorkflowEntry) error
	GetOpenWorkflowStage(ctx context.Context, tenantID string, loanID string) (*WorkflowEntry, error)
	CloseWorkflowStage(ctx context.Context, tenantID string, entryID string, status StageStatus, endDate time.Time) error
	ListWorkflowStages(ctx context.Context, tenantID string, loanID string) ([]WorkflowEntry, error)
	// ListOverdueCandidates returns open stages whose due date has passed
	// and that are not yet flagged overdue.
	ListOverdueCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]WorkflowEntry, error)
	MarkStageOverdue(ctx context.Context, tenantID string, entryID string) error

	// Client exposure across the loan book
	GetClientExposure(ctx context.Context, tenantID string, clientID string) (*ClientExposure, error)

	// WithTx runs fn against a transaction-scoped repository. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
