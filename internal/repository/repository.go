// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/talon/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	q      dbtx
	driver string
	inTx   bool
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		q:      db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn against a transaction-scoped copy of the repository.
// A nested call reuses the enclosing transaction.
func (r *SQLRepository) WithTx(ctx context.Context, fn func(domain.Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &SQLRepository{
		db:     r.db,
		q:      tx,
		driver: r.driver,
		inTx:   true,
	}

	if err := fn(txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// --- Loans ---

const loanColumns = `id, tenant_id, client_id, product_id, principal_amount, term_months,
	   status, debt_to_income_ratio, employment_verified, credit_score, credit_score_date,
	   created_at, updated_at`

// SaveLoan stores a loan application with tenant isolation.
func (r *SQLRepository) SaveLoan(ctx context.Context, tenantID string, loan *domain.Loan) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		loan.ID, tenantID, loan.ClientID, loan.ProductID,
		loan.PrincipalAmount, loan.TermMonths, string(loan.Status),
		loan.DebtToIncomeRatio, boolToInt(loan.EmploymentVerified),
		nullIntPtr(loan.CreditScore), nullTimePtr(loan.CreditScoreDate),
		loan.CreatedAt, loan.UpdatedAt,
	)
	return err
}

// GetLoan retrieves a loan by ID with tenant isolation.
func (r *SQLRepository) GetLoan(ctx context.Context, tenantID string, loanID string) (*domain.Loan, error) {
	return r.getLoan(ctx, tenantID, loanID, false)
}

// GetLoanForUpdate locks the loan row for the duration of the enclosing
// transaction. SQLite serializes writers on its own, so the lock clause is
// only added on postgres.
func (r *SQLRepository) GetLoanForUpdate(ctx context.Context, tenantID string, loanID string) (*domain.Loan, error) {
	return r.getLoan(ctx, tenantID, loanID, true)
}

func (r *SQLRepository) getLoan(ctx context.Context, tenantID string, loanID string, forUpdate bool) (*domain.Loan, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + loanColumns + ` FROM loans WHERE tenant_id = ? AND id = ?`
	if forUpdate && r.driver == "postgres" && r.inTx {
		query += " FOR UPDATE"
	}

	var loan domain.Loan
	var status string
	var employmentVerified int
	var creditScore sql.NullInt64
	var creditScoreDate sql.NullTime

	err := r.q.QueryRowContext(ctx, r.rebind(query), tenantID, loanID).Scan(
		&loan.ID, &loan.TenantID, &loan.ClientID, &loan.ProductID,
		&loan.PrincipalAmount, &loan.TermMonths, &status,
		&loan.DebtToIncomeRatio, &employmentVerified,
		&creditScore, &creditScoreDate,
		&loan.CreatedAt, &loan.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: loan %s", ErrNotFound, loanID)
	}
	if err != nil {
		return nil, err
	}

	loan.Status = domain.LoanStatus(status)
	loan.EmploymentVerified = employmentVerified == 1
	if creditScore.Valid {
		score := int(creditScore.Int64)
		loan.CreditScore = &score
	}
	if creditScoreDate.Valid {
		d := creditScoreDate.Time
		loan.CreditScoreDate = &d
	}

	return &loan, nil
}

// UpdateLoanStatus sets a loan's lifecycle status.
func (r *SQLRepository) UpdateLoanStatus(ctx context.Context, tenantID string, loanID string, status domain.LoanStatus) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE loans SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.q.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), tenantID, loanID)
	if err != nil {
		return err
	}
	return requireRow(result, loanID)
}

// UpdateLoanCreditScore persists a refreshed bureau score onto the loan.
func (r *SQLRepository) UpdateLoanCreditScore(ctx context.Context, tenantID string, loanID string, score int, scoreDate time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE loans SET credit_score = ?, credit_score_date = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`

	result, err := r.q.ExecContext(ctx, r.rebind(query), score, scoreDate, time.Now().UTC(), tenantID, loanID)
	if err != nil {
		return err
	}
	return requireRow(result, loanID)
}

// --- Clients and products ---

// SaveClient stores a client with tenant isolation.
func (r *SQLRepository) SaveClient(ctx context.Context, tenantID string, client *domain.Client) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO clients (id, tenant_id, first_name, last_name, date_of_birth, member_since, monthly_income, monthly_expenses)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		client.ID, tenantID, client.FirstName, client.LastName,
		nullTimePtr(client.DateOfBirth), client.MemberSince,
		client.MonthlyIncome, client.MonthlyExpenses,
	)
	return err
}

// GetClient retrieves a client by ID with tenant isolation.
func (r *SQLRepository) GetClient(ctx context.Context, tenantID string, clientID string) (*domain.Client, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, first_name, last_name, date_of_birth, member_since, monthly_income, monthly_expenses
		FROM clients
		WHERE tenant_id = ? AND id = ?
	`

	var client domain.Client
	var dob sql.NullTime

	err := r.q.QueryRowContext(ctx, r.rebind(query), tenantID, clientID).Scan(
		&client.ID, &client.TenantID, &client.FirstName, &client.LastName,
		&dob, &client.MemberSince, &client.MonthlyIncome, &client.MonthlyExpenses,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: client %s", ErrNotFound, clientID)
	}
	if err != nil {
		return nil, err
	}

	if dob.Valid {
		d := dob.Time
		client.DateOfBirth = &d
	}

	return &client, nil
}

// SaveProduct stores a loan product with tenant isolation.
func (r *SQLRepository) SaveProduct(ctx context.Context, tenantID string, product *domain.LoanProduct) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loan_products (
			id, tenant_id, name, min_credit_score, max_debt_to_income_ratio,
			required_membership_years, committee_approval_required, approval_levels, ruleset_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			min_credit_score = excluded.min_credit_score,
			max_debt_to_income_ratio = excluded.max_debt_to_income_ratio,
			required_membership_years = excluded.required_membership_years,
			committee_approval_required = excluded.committee_approval_required,
			approval_levels = excluded.approval_levels,
			ruleset_id = excluded.ruleset_id
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		product.ID, tenantID, product.Name,
		product.MinCreditScore, product.MaxDebtToIncomeRatio,
		product.RequiredMembershipYears, boolToInt(product.CommitteeApprovalRequired),
		product.ApprovalLevels, product.RulesetID,
	)
	return err
}

// GetProduct retrieves a loan product by ID with tenant isolation.
func (r *SQLRepository) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.LoanProduct, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, min_credit_score, max_debt_to_income_ratio,
			   required_membership_years, committee_approval_required, approval_levels, ruleset_id
		FROM loan_products
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.LoanProduct
	var committee int
	var rulesetID sql.NullString

	err := r.q.QueryRowContext(ctx, r.rebind(query), tenantID, productID).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.MinCreditScore, &p.MaxDebtToIncomeRatio,
		&p.RequiredMembershipYears, &committee, &p.ApprovalLevels, &rulesetID,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	if err != nil {
		return nil, err
	}

	p.CommitteeApprovalRequired = committee == 1
	p.RulesetID = rulesetID.String

	return &p, nil
}

// --- Documents and repayment schedule ---

// SaveDocument stores a loan document record.
func (r *SQLRepository) SaveDocument(ctx context.Context, tenantID string, doc *domain.LoanDocument) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loan_documents (id, tenant_id, loan_id, document_type, is_required, status, verified_by, verified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		doc.ID, tenantID, doc.LoanID, doc.DocumentType,
		boolToInt(doc.IsRequired), string(doc.Status),
		doc.VerifiedBy, nullTimePtr(doc.VerifiedAt),
	)
	return err
}

// ListDocuments returns all documents on file for a loan.
func (r *SQLRepository) ListDocuments(ctx context.Context, tenantID string, loanID string) ([]domain.LoanDocument, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, loan_id, document_type, is_required, status, verified_by, verified_at
		FROM loan_documents
		WHERE tenant_id = ? AND loan_id = ?
		ORDER BY document_type
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.LoanDocument
	for rows.Next() {
		var doc domain.LoanDocument
		var tenant string
		var required int
		var status string
		var verifiedBy sql.NullString
		var verifiedAt sql.NullTime

		if err := rows.Scan(
			&doc.ID, &tenant, &doc.LoanID, &doc.DocumentType,
			&required, &status, &verifiedBy, &verifiedAt,
		); err != nil {
			return nil, err
		}

		doc.IsRequired = required == 1
		doc.Status = domain.DocumentStatus(status)
		doc.VerifiedBy = verifiedBy.String
		if verifiedAt.Valid {
			t := verifiedAt.Time
			doc.VerifiedAt = &t
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// SaveInstallment stores one scheduled repayment installment.
func (r *SQLRepository) SaveInstallment(ctx context.Context, tenantID string, inst *domain.RepaymentInstallment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loan_repayment_schedules (id, tenant_id, loan_id, due_date, principal, interest)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		inst.ID, tenantID, inst.LoanID, inst.DueDate, inst.Principal, inst.Interest,
	)
	return err
}

// ListSchedule returns the repayment schedule for a loan ordered by due date.
func (r *SQLRepository) ListSchedule(ctx context.Context, tenantID string, loanID string) ([]domain.RepaymentInstallment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, loan_id, due_date, principal, interest
		FROM loan_repayment_schedules
		WHERE tenant_id = ? AND loan_id = ?
		ORDER BY due_date
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedule []domain.RepaymentInstallment
	for rows.Next() {
		var inst domain.RepaymentInstallment
		var tenant string
		if err := rows.Scan(&inst.ID, &tenant, &inst.LoanID, &inst.DueDate, &inst.Principal, &inst.Interest); err != nil {
			return nil, err
		}
		schedule = append(schedule, inst)
	}

	return schedule, rows.Err()
}

// --- Decision ledger ---

const decisionColumns = `id, tenant_id, loan_id, previous_decision_id, result, source,
	   risk_score, risk_level, factors, conditions, triggered_rules,
	   approval_level, next_approval_level, is_final, is_current,
	   manual_override, override_reason, expiry_date, decision_timestamp, decision_by, notes`

// InsertDecision appends a decision to a loan's chain and moves the
// is_current marker. Callers run this inside WithTx so the marker move and
// the insert are atomic.
func (r *SQLRepository) InsertDecision(ctx context.Context, tenantID string, d *domain.LoanDecision) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	clear := `UPDATE loan_decisions SET is_current = 0 WHERE tenant_id = ? AND loan_id = ? AND is_current = 1`
	if _, err := r.q.ExecContext(ctx, r.rebind(clear), tenantID, d.LoanID); err != nil {
		return err
	}

	factors, _ := json.Marshal(d.Factors)
	conditions, _ := json.Marshal(d.Conditions)
	triggered, _ := json.Marshal(d.TriggeredRules)

	query := `
		INSERT INTO loan_decisions (` + decisionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	d.IsCurrent = true

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		d.ID, tenantID, d.LoanID, nullString(d.PreviousDecisionID),
		string(d.Result), string(d.Source),
		d.RiskScore, string(d.RiskLevel),
		string(factors), string(conditions), string(triggered),
		d.ApprovalLevel, nullIntPtr(d.NextApprovalLevel),
		boolToInt(d.IsFinal), 1,
		boolToInt(d.ManualOverride), d.OverrideReason,
		nullTimePtr(d.ExpiryDate), d.DecisionTimestamp, d.DecisionBy, d.Notes,
	)
	return err
}

// GetDecision retrieves a decision by ID with tenant isolation.
func (r *SQLRepository) GetDecision(ctx context.Context, tenantID string, decisionID string) (*domain.LoanDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + decisionColumns + ` FROM loan_decisions WHERE tenant_id = ? AND id = ?`

	d, err := r.scanDecision(r.q.QueryRowContext(ctx, r.rebind(query), tenantID, decisionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: decision %s", ErrNotFound, decisionID)
	}
	return d, err
}

// GetCurrentDecision returns the newest decision in a loan's chain, or
// ErrNotFound when the loan has never been decisioned.
func (r *SQLRepository) GetCurrentDecision(ctx context.Context, tenantID string, loanID string) (*domain.LoanDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `SELECT ` + decisionColumns + ` FROM loan_decisions WHERE tenant_id = ? AND loan_id = ? AND is_current = 1`

	d, err := r.scanDecision(r.q.QueryRowContext(ctx, r.rebind(query), tenantID, loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no decision for loan %s", ErrNotFound, loanID)
	}
	return d, err
}

// ListDecisions returns the full decision history for a loan, newest first.
func (r *SQLRepository) ListDecisions(ctx context.Context, tenantID string, loanID string) ([]domain.LoanDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + decisionColumns + `
		FROM loan_decisions
		WHERE tenant_id = ? AND loan_id = ?
		ORDER BY decision_timestamp DESC, approval_level DESC
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []domain.LoanDecision
	for rows.Next() {
		d, err := r.scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}

	return decisions, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanDecision(row rowScanner) (*domain.LoanDecision, error) {
	var d domain.LoanDecision
	var previousID, overrideReason, decisionBy, notes sql.NullString
	var result, source, riskLevel string
	var factors, conditions, triggered sql.NullString
	var nextLevel sql.NullInt64
	var isFinal, isCurrent, manualOverride int
	var expiry sql.NullTime

	err := row.Scan(
		&d.ID, &d.TenantID, &d.LoanID, &previousID,
		&result, &source, &d.RiskScore, &riskLevel,
		&factors, &conditions, &triggered,
		&d.ApprovalLevel, &nextLevel, &isFinal, &isCurrent,
		&manualOverride, &overrideReason, &expiry,
		&d.DecisionTimestamp, &decisionBy, &notes,
	)
	if err != nil {
		return nil, err
	}

	d.PreviousDecisionID = previousID.String
	d.Result = domain.DecisionResult(result)
	d.Source = domain.DecisionSource(source)
	d.RiskLevel = domain.RiskLevel(riskLevel)
	d.IsFinal = isFinal == 1
	d.IsCurrent = isCurrent == 1
	d.ManualOverride = manualOverride == 1
	d.OverrideReason = overrideReason.String
	d.DecisionBy = decisionBy.String
	d.Notes = notes.String

	if nextLevel.Valid {
		n := int(nextLevel.Int64)
		d.NextApprovalLevel = &n
	}
	if expiry.Valid {
		t := expiry.Time
		d.ExpiryDate = &t
	}
	if factors.Valid && factors.String != "" {
		json.Unmarshal([]byte(factors.String), &d.Factors)
	}
	if conditions.Valid && conditions.String != "" {
		json.Unmarshal([]byte(conditions.String), &d.Conditions)
	}
	if triggered.Valid && triggered.String != "" {
		json.Unmarshal([]byte(triggered.String), &d.TriggeredRules)
	}

	return &d, nil
}

// --- Rulesets and rules ---

// SaveRuleset stores or updates a decisioning ruleset.
func (r *SQLRepository) SaveRuleset(ctx context.Context, tenantID string, rs *domain.DecisioningRuleset) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO decisioning_rulesets (
			id, tenant_id, name, description, is_active, priority, version,
			effective_from, effective_to, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			is_active = excluded.is_active,
			priority = excluded.priority,
			version = excluded.version,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			updated_at = excluded.updated_at
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rs.ID, tenantID, rs.Name, rs.Description,
		boolToInt(rs.IsActive), rs.Priority, rs.Version,
		nullTimePtr(rs.EffectiveFrom), nullTimePtr(rs.EffectiveTo),
		now, now,
	)
	if err != nil {
		return err
	}

	for i := range rs.Rules {
		rs.Rules[i].RulesetID = rs.ID
		if err := r.SaveRule(ctx, tenantID, &rs.Rules[i]); err != nil {
			return err
		}
	}

	return nil
}

// GetRuleset retrieves a ruleset and its rules with tenant isolation.
func (r *SQLRepository) GetRuleset(ctx context.Context, tenantID string, rulesetID string) (*domain.DecisioningRuleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, is_active, priority, version, effective_from, effective_to
		FROM decisioning_rulesets
		WHERE tenant_id = ? AND id = ?
	`

	rs, err := r.scanRuleset(r.q.QueryRowContext(ctx, r.rebind(query), tenantID, rulesetID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: ruleset %s", ErrNotFound, rulesetID)
	}
	if err != nil {
		return nil, err
	}

	rules, err := r.ListActiveRules(ctx, tenantID, rulesetID)
	if err != nil {
		return nil, err
	}
	rs.Rules = rules

	return rs, nil
}

// ListRulesets retrieves all active rulesets for a tenant ordered by priority.
func (r *SQLRepository) ListRulesets(ctx context.Context, tenantID string) ([]*domain.DecisioningRuleset, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, is_active, priority, version, effective_from, effective_to
		FROM decisioning_rulesets
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY priority, name
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rulesets []*domain.DecisioningRuleset
	for rows.Next() {
		rs, err := r.scanRuleset(rows)
		if err != nil {
			return nil, err
		}
		rulesets = append(rulesets, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rs := range rulesets {
		rules, err := r.ListActiveRules(ctx, tenantID, rs.ID)
		if err != nil {
			return nil, err
		}
		rs.Rules = rules
	}

	return rulesets, nil
}

func (r *SQLRepository) scanRuleset(row rowScanner) (*domain.DecisioningRuleset, error) {
	var rs domain.DecisioningRuleset
	var description sql.NullString
	var active int
	var from, to sql.NullTime

	err := row.Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &description,
		&active, &rs.Priority, &rs.Version, &from, &to,
	)
	if err != nil {
		return nil, err
	}

	rs.Description = description.String
	rs.IsActive = active == 1
	if from.Valid {
		t := from.Time
		rs.EffectiveFrom = &t
	}
	if to.Valid {
		t := to.Time
		rs.EffectiveTo = &t
	}

	return &rs, nil
}

// SaveRule stores or updates a single decisioning rule.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.DecisioningRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO decisioning_rules (
			id, tenant_id, ruleset_id, rule_name, rule_type, rule_definition,
			action_on_trigger, risk_score_adjustment, priority, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			ruleset_id = excluded.ruleset_id,
			rule_name = excluded.rule_name,
			rule_type = excluded.rule_type,
			rule_definition = excluded.rule_definition,
			action_on_trigger = excluded.action_on_trigger,
			risk_score_adjustment = excluded.risk_score_adjustment,
			priority = excluded.priority,
			is_active = excluded.is_active
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.RulesetID, rule.RuleName,
		string(rule.RuleType), rule.RuleDefinition,
		string(rule.ActionOnTrigger), rule.RiskScoreAdjustment,
		rule.Priority, boolToInt(rule.IsActive),
	)
	return err
}

// ListActiveRules returns active rules for a ruleset ordered by ascending
// priority; evaluation order follows this ordering.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string, rulesetID string) ([]domain.DecisioningRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, ruleset_id, rule_name, rule_type, rule_definition,
			   action_on_trigger, risk_score_adjustment, priority, is_active
		FROM decisioning_rules
		WHERE tenant_id = ? AND ruleset_id = ? AND is_active = 1
		ORDER BY priority, rule_name
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, rulesetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []domain.DecisioningRule
	for rows.Next() {
		var rule domain.DecisioningRule
		var tenant string
		var ruleType, action string
		var active int

		if err := rows.Scan(
			&rule.ID, &tenant, &rule.RulesetID, &rule.RuleName,
			&ruleType, &rule.RuleDefinition, &action,
			&rule.RiskScoreAdjustment, &rule.Priority, &active,
		); err != nil {
			return nil, err
		}

		rule.RuleType = domain.RuleType(ruleType)
		rule.ActionOnTrigger = domain.RuleAction(action)
		rule.IsActive = active == 1
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// --- Workflow stages ---

const workflowColumns = `id, tenant_id, loan_id, current_stage, stage_status,
	   stage_start_date, stage_end_date, assigned_to, due_date, is_overdue`

// OpenWorkflowStage inserts a new open workflow stage row for a loan.
func (r *SQLRepository) OpenWorkflowStage(ctx context.Context, tenantID string, entry *domain.WorkflowEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO loan_application_workflows (` + workflowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.LoanID,
		string(entry.CurrentStage), string(entry.StageStatus),
		entry.StageStartDate, nullTimePtr(entry.StageEndDate),
		entry.AssignedTo, nullTimePtr(entry.DueDate),
		boolToInt(entry.IsOverdue),
	)
	return err
}

// GetOpenWorkflowStage returns the loan's open stage row, or ErrNotFound.
func (r *SQLRepository) GetOpenWorkflowStage(ctx context.Context, tenantID string, loanID string) (*domain.WorkflowEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM loan_application_workflows
		WHERE tenant_id = ? AND loan_id = ? AND stage_end_date IS NULL
		ORDER BY stage_start_date DESC
		LIMIT 1
	`

	entry, err := r.scanWorkflowEntry(r.q.QueryRowContext(ctx, r.rebind(query), tenantID, loanID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no open workflow stage for loan %s", ErrNotFound, loanID)
	}
	return entry, err
}

// CloseWorkflowStage sets the end date and final status on a stage row.
func (r *SQLRepository) CloseWorkflowStage(ctx context.Context, tenantID string, entryID string, status domain.StageStatus, endDate time.Time) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE loan_application_workflows
		SET stage_status = ?, stage_end_date = ?
		WHERE tenant_id = ? AND id = ? AND stage_end_date IS NULL
	`

	result, err := r.q.ExecContext(ctx, r.rebind(query), string(status), endDate, tenantID, entryID)
	if err != nil {
		return err
	}
	return requireRow(result, entryID)
}

// ListWorkflowStages returns all stage rows for a loan, oldest first.
func (r *SQLRepository) ListWorkflowStages(ctx context.Context, tenantID string, loanID string) ([]domain.WorkflowEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM loan_application_workflows
		WHERE tenant_id = ? AND loan_id = ?
		ORDER BY stage_start_date
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WorkflowEntry
	for rows.Next() {
		entry, err := r.scanWorkflowEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// ListOverdueCandidates returns open, unflagged stage rows past their due date.
func (r *SQLRepository) ListOverdueCandidates(ctx context.Context, tenantID string, asOf time.Time) ([]domain.WorkflowEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + workflowColumns + `
		FROM loan_application_workflows
		WHERE tenant_id = ? AND stage_end_date IS NULL AND is_overdue = 0
		  AND due_date IS NOT NULL AND due_date < ?
	`

	rows, err := r.q.QueryContext(ctx, r.rebind(query), tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WorkflowEntry
	for rows.Next() {
		entry, err := r.scanWorkflowEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// MarkStageOverdue flags an open stage row as overdue.
func (r *SQLRepository) MarkStageOverdue(ctx context.Context, tenantID string, entryID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE loan_application_workflows
		SET is_overdue = 1
		WHERE tenant_id = ? AND id = ? AND stage_end_date IS NULL
	`

	result, err := r.q.ExecContext(ctx, r.rebind(query), tenantID, entryID)
	if err != nil {
		return err
	}
	return requireRow(result, entryID)
}

func (r *SQLRepository) scanWorkflowEntry(row rowScanner) (*domain.WorkflowEntry, error) {
	var entry domain.WorkflowEntry
	var stage, status string
	var endDate, dueDate sql.NullTime
	var assignedTo sql.NullString
	var overdue int

	err := row.Scan(
		&entry.ID, &entry.TenantID, &entry.LoanID, &stage, &status,
		&entry.StageStartDate, &endDate, &assignedTo, &dueDate, &overdue,
	)
	if err != nil {
		return nil, err
	}

	entry.CurrentStage = domain.WorkflowStage(stage)
	entry.StageStatus = domain.StageStatus(status)
	entry.AssignedTo = assignedTo.String
	entry.IsOverdue = overdue == 1
	if endDate.Valid {
		t := endDate.Time
		entry.StageEndDate = &t
	}
	if dueDate.Valid {
		t := dueDate.Time
		entry.DueDate = &t
	}

	return &entry, nil
}

// --- Exposure ---

// GetClientExposure counts a client's open loans and sums their principal.
func (r *SQLRepository) GetClientExposure(ctx context.Context, tenantID string, clientID string) (*domain.ClientExposure, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*), COALESCE(SUM(principal_amount), 0)
		FROM loans
		WHERE tenant_id = ? AND client_id = ? AND status IN (?, ?)
	`

	var exposure domain.ClientExposure
	err := r.q.QueryRowContext(ctx, r.rebind(query),
		tenantID, clientID,
		string(domain.LoanStatusApproved), string(domain.LoanStatusDisbursed),
	).Scan(&exposure.ActiveLoans, &exposure.TotalOutstanding)
	if err != nil {
		return nil, err
	}

	return &exposure, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	if r.inTx {
		return nil
	}
	return r.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullIntPtr(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
