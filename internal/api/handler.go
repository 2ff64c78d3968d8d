package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/talon/internal/assessment"
	"github.com/opensource-finance/talon/internal/domain"
	"github.com/opensource-finance/talon/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	svc      *assessment.Service
	rulesets *rules.RulesetEngine
	engine   *rules.Engine
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *assessment.Service, rulesets *rules.RulesetEngine, engine *rules.Engine, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		svc:      svc,
		rulesets: rulesets,
		engine:   engine,
		version:  version,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// LOAN HANDLERS
// ============================================================================

// SubmitLoan handles POST /loans.
func (h *Handler) SubmitLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req assessment.IntakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	loan, err := h.svc.Submit(ctx, tenantID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// GetLoan handles GET /loans/{id}.
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	loanID := chi.URLParam(r, "id")

	loan, err := h.repo.GetLoan(ctx, tenantID, loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// assessBody is the POST /loans/{id}/assess request body. Sub-check flags
// default to enabled when omitted.
type assessBody struct {
	AssessmentDate                time.Time `json:"assessmentDate,omitempty"`
	IncludeDocumentVerification   *bool     `json:"includeDocumentVerification,omitempty"`
	IncludeEmploymentVerification *bool     `json:"includeEmploymentVerification,omitempty"`
	IncludeCreditCheck            *bool     `json:"includeCreditCheck,omitempty"`
	ForceReevaluation             bool      `json:"forceReevaluation,omitempty"`
	ActorID                       string    `json:"actorId,omitempty"`
}

func enabled(flag *bool) bool {
	return flag == nil || *flag
}

// AssessLoan handles POST /loans/{id}/assess.
func (h *Handler) AssessLoan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	loanID := chi.URLParam(r, "id")

	var body assessBody
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	resp, err := h.svc.Assess(ctx, tenantID, assessment.AssessRequest{
		LoanID:                        loanID,
		AssessmentDate:                body.AssessmentDate,
		IncludeDocumentVerification:   enabled(body.IncludeDocumentVerification),
		IncludeEmploymentVerification: enabled(body.IncludeEmploymentVerification),
		IncludeCreditCheck:            enabled(body.IncludeCreditCheck),
		ForceReevaluation:             body.ForceReevaluation,
		ActorID:                       body.ActorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// MakeDecision handles POST /loans/{id}/decisions.
func (h *Handler) MakeDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	loanID := chi.URLParam(r, "id")

	var req assessment.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.LoanID = loanID

	resp, err := h.svc.Decide(ctx, tenantID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// OverrideDecision handles POST /decisions/{id}/override.
func (h *Handler) OverrideDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	decisionID := chi.URLParam(r, "id")

	var req assessment.OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.DecisionID = decisionID

	resp, err := h.svc.Override(ctx, tenantID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetDecisionHistory handles GET /loans/{id}/decisions.
func (h *Handler) GetDecisionHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	loanID := chi.URLParam(r, "id")

	includeDetails, _ := strconv.ParseBool(r.URL.Query().Get("details"))

	history, err := h.svc.History(ctx, tenantID, loanID, includeDetails)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// GetWorkflow handles GET /loans/{id}/workflow.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	loanID := chi.URLParam(r, "id")

	if _, err := h.repo.GetLoan(ctx, tenantID, loanID); err != nil {
		writeError(w, err)
		return
	}
	stages, err := h.repo.ListWorkflowStages(ctx, tenantID, loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loanId": loanID,
		"stages": stages,
		"count":  len(stages),
	})
}

// ============================================================================
// CLIENT / PRODUCT HANDLERS
// ============================================================================

// CreateClient handles POST /clients.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var client domain.Client
	if err := json.NewDecoder(r.Body).Decode(&client); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	client.TenantID = tenantID

	if err := h.repo.SaveClient(ctx, tenantID, &client); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// CreateProduct handles POST /products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var product domain.LoanProduct
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	product.TenantID = tenantID

	if err := h.repo.SaveProduct(ctx, tenantID, &product); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

// ============================================================================
// RULESET HANDLERS
// ============================================================================

// ListRulesets handles GET /rulesets.
func (h *Handler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rulesets, err := h.repo.ListRulesets(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rulesets": rulesets,
		"count":    len(rulesets),
	})
}

// GetRuleset handles GET /rulesets/{id}.
func (h *Handler) GetRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	rs, err := h.repo.GetRuleset(ctx, tenantID, rulesetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// CreateRuleset handles POST /rulesets.
func (h *Handler) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rs domain.DecisioningRuleset
	if err := json.NewDecoder(r.Body).Decode(&rs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rs.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}
	rs.TenantID = tenantID

	if err := h.repo.SaveRuleset(ctx, tenantID, &rs); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("ruleset created", "id", rs.ID, "name", rs.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"ruleset": rs,
		"message": "Ruleset created. Call POST /rulesets/reload to apply changes.",
	})
}

// AddRule handles POST /rulesets/{id}/rules. The rule condition is
// compiled before the rule is stored; a malformed condition is rejected.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	if _, err := h.repo.GetRuleset(ctx, tenantID, rulesetID); err != nil {
		writeError(w, err)
		return
	}

	var rule domain.DecisioningRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.RulesetID = rulesetID

	if !rule.ActionOnTrigger.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown action: " + string(rule.ActionOnTrigger),
		})
		return
	}
	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule condition: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveRule(ctx, tenantID, &rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule created", "id", rule.ID, "ruleset_id", rulesetID, "name", rule.RuleName)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rulesets/reload to apply changes.",
	})
}

// ReloadRulesets handles POST /rulesets/reload, refreshing the in-memory
// ruleset engine from the store.
func (h *Handler) ReloadRulesets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rulesets, err := h.repo.ListRulesets(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rulesets", "error", err)
		writeError(w, err)
		return
	}

	h.rulesets.ReloadRulesets(rulesets)

	slog.Info("rulesets reloaded", "tenant_id", tenantID, "count", len(rulesets))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rulesets reloaded successfully",
		"count":   len(rulesets),
	})
}

// EvaluateRuleset handles POST /rulesets/{id}/evaluate. It evaluates
// persisted rules against the supplied field data without writing a
// decision record.
func (h *Handler) EvaluateRuleset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	rulesetID := chi.URLParam(r, "id")

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	eval, err := h.svc.EvaluateRuleset(ctx, tenantID, rulesetID, fields)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}
