package repository

// Schema definitions for the Talon database.
// Compatible with both SQLite and PostgreSQL.

const schemaClients = `
CREATE TABLE IF NOT EXISTS clients (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    date_of_birth TIMESTAMP,
    member_since TIMESTAMP NOT NULL,
    monthly_income REAL NOT NULL DEFAULT 0,
    monthly_expenses REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_clients_tenant ON clients(tenant_id);
`

const schemaLoanProducts = `
CREATE TABLE IF NOT EXISTS loan_products (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    min_credit_score INTEGER NOT NULL DEFAULT 0,
    max_debt_to_income_ratio REAL NOT NULL DEFAULT 1.0,
    required_membership_years INTEGER NOT NULL DEFAULT 0,
    committee_approval_required INTEGER NOT NULL DEFAULT 0,
    approval_levels INTEGER NOT NULL DEFAULT 1,
    ruleset_id TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_loan_products_tenant ON loan_products(tenant_id);
`

const schemaLoans = `
CREATE TABLE IF NOT EXISTS loans (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    principal_amount REAL NOT NULL,
    term_months INTEGER NOT NULL,
    status TEXT NOT NULL,
    debt_to_income_ratio REAL NOT NULL DEFAULT 0,
    employment_verified INTEGER NOT NULL DEFAULT 0,
    credit_score INTEGER,
    credit_score_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_loans_tenant ON loans(tenant_id);
CREATE INDEX IF NOT EXISTS idx_loans_client ON loans(tenant_id, client_id);
CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(tenant_id, status);
`

const schemaLoanDocuments = `
CREATE TABLE IF NOT EXISTS loan_documents (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    loan_id TEXT NOT NULL,
    document_type TEXT NOT NULL,
    is_required INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL,
    verified_by TEXT,
    verified_at TIMESTAMP,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_loan_documents_loan ON loan_documents(tenant_id, loan_id);
`

const schemaRepaymentSchedules = `
CREATE TABLE IF NOT EXISTS loan_repayment_schedules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    loan_id TEXT NOT NULL,
    due_date TIMESTAMP NOT NULL,
    principal REAL NOT NULL,
    interest REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_repayment_schedules_loan ON loan_repayment_schedules(tenant_id, loan_id);
`

// schemaLoanDecisions is the append-only decision ledger. Rows are never
// updated except for the denormalized is_current marker, which moves to the
// newest decision of a chain inside the inserting transaction.
const schemaLoanDecisions = `
CREATE TABLE IF NOT EXISTS loan_decisions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    loan_id TEXT NOT NULL,
    previous_decision_id TEXT,
    result TEXT NOT NULL,
    source TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    factors TEXT,
    conditions TEXT,
    triggered_rules TEXT,
    approval_level INTEGER NOT NULL DEFAULT 1,
    next_approval_level INTEGER,
    is_final INTEGER NOT NULL DEFAULT 0,
    is_current INTEGER NOT NULL DEFAULT 1,
    manual_override INTEGER NOT NULL DEFAULT 0,
    override_reason TEXT,
    expiry_date TIMESTAMP,
    decision_timestamp TIMESTAMP NOT NULL,
    decision_by TEXT,
    notes TEXT,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_loan_decisions_loan ON loan_decisions(tenant_id, loan_id);
CREATE INDEX IF NOT EXISTS idx_loan_decisions_current ON loan_decisions(tenant_id, loan_id, is_current);
CREATE INDEX IF NOT EXISTS idx_loan_decisions_previous ON loan_decisions(tenant_id, previous_decision_id);
`

const schemaRulesets = `
CREATE TABLE IF NOT EXISTS decisioning_rulesets (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    version TEXT NOT NULL,
    effective_from TIMESTAMP,
    effective_to TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rulesets_tenant ON decisioning_rulesets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rulesets_active ON decisioning_rulesets(tenant_id, is_active);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS decisioning_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    ruleset_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    rule_type TEXT NOT NULL,
    rule_definition TEXT NOT NULL,
    action_on_trigger TEXT NOT NULL,
    risk_score_adjustment INTEGER NOT NULL DEFAULT 0,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_ruleset ON decisioning_rules(tenant_id, ruleset_id);
CREATE INDEX IF NOT EXISTS idx_rules_active ON decisioning_rules(tenant_id, ruleset_id, is_active);
`

const schemaWorkflows = `
CREATE TABLE IF NOT EXISTS loan_application_workflows (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    loan_id TEXT NOT NULL,
    current_stage TEXT NOT NULL,
    stage_status TEXT NOT NULL,
    stage_start_date TIMESTAMP NOT NULL,
    stage_end_date TIMESTAMP,
    assigned_to TEXT,
    due_date TIMESTAMP,
    is_overdue INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_workflows_loan ON loan_application_workflows(tenant_id, loan_id);
CREATE INDEX IF NOT EXISTS idx_workflows_open ON loan_application_workflows(tenant_id, loan_id, stage_end_date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaClients,
		schemaLoanProducts,
		schemaLoans,
		schemaLoanDocuments,
		schemaRepaymentSchedules,
		schemaLoanDecisions,
		schemaRulesets,
		schemaRules,
		schemaWorkflows,
	}
}
