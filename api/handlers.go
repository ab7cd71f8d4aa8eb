/*
handlers.go - HTTP API handlers for the payroll rule engine

PURPOSE:
  Exposes rule editing, formula validation and payroll evaluation over
  REST. Handles HTTP request/response and JSON, and delegates to the
  rules and engine packages.

ENDPOINTS:
  Formulas:
    POST   /api/formulas/validate  Parse an expression for the rule editor

  Rules:
    GET    /api/rules?company_id=  Company rules plus system defaults
    POST   /api/rules              Create a company rule
    GET    /api/rules/{id}         Get one rule
    PUT    /api/rules/{id}         Replace a company rule
    DELETE /api/rules/{id}         Remove a company rule

  Evaluation:
    POST   /api/evaluate           One component for one employee
    POST   /api/runs               Employees x components, errors per item
    GET    /api/components         Components a company can evaluate
    GET    /api/explain            Why a rule was (not) selected

ARCHITECTURE:
  Handler holds the store, the codec and one ProgramCache shared by every
  request. Each evaluation loads a fresh snapshot of the company's rules,
  so edits take effect on the next request without invalidation.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input or invalid rule (with per-field errors)
  - 403: System rules cannot be edited through the API
  - 404: Unknown rule
  - 409: The edit would make resolution ambiguous, or the ID exists
  - 422: A component failed to evaluate
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/warp/payroll-engine/engine"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/formula"
	"github.com/warp/payroll-engine/rules"
)

const maxBodyBytes = 4 << 20

var errSystemRule = errors.New("system rules are read-only")

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   rules.Store
	Factory *factory.RuleFactory

	logger     *slog.Logger
	cache      *engine.ProgramCache
	engineOpts []engine.Option
	writes     companyLocks
}

// companyLocks serializes rule writes per company so the ambiguity check in
// save and the store write see the same rule set.
type companyLocks struct {
	mu    sync.Mutex
	locks map[rules.CompanyID]*sync.Mutex
}

func (l *companyLocks) lock(id rules.CompanyID) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[rules.CompanyID]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// NewHandler creates a handler. cache may be nil, in which case the handler
// gets its own. opts are applied to every Evaluator the handler builds.
func NewHandler(store rules.Store, cache *engine.ProgramCache, logger *slog.Logger, opts ...engine.Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache, _ = engine.NewProgramCache(engine.DefaultCacheCapacity)
	}
	base := []engine.Option{engine.WithLogger(logger), engine.WithCache(cache)}
	return &Handler{
		Store:      store,
		Factory:    factory.NewRuleFactory(),
		logger:     logger,
		cache:      cache,
		engineOpts: append(base, opts...),
	}
}

func (h *Handler) evaluator(ctx context.Context, companyID rules.CompanyID) (*engine.Evaluator, error) {
	snap, err := rules.LoadSnapshot(ctx, h.Store, companyID)
	if err != nil {
		return nil, err
	}
	return engine.New(snap, h.engineOpts...), nil
}

// =============================================================================
// FORMULA HANDLERS
// =============================================================================

// ValidateFormula parses an expression and reports where it breaks.
// POST /api/formulas/validate
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req ValidateFormulaRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	prog, err := h.cache.Program(req.Expression)
	if err != nil {
		var pe *formula.ParseError
		if !errors.As(err, &pe) {
			writeError(w, r, http.StatusInternalServerError, "Failed to parse expression", err)
			return
		}
		writeJSON(w, r, http.StatusOK, ValidateFormulaResponse{
			Valid:     false,
			Variables: []string{},
			Error: &FormulaErrorDTO{
				Position: pe.Pos,
				Token:    pe.Token,
				Kind:     string(pe.Kind),
				Message:  pe.Msg,
			},
		})
		return
	}

	resp := ValidateFormulaResponse{
		Valid:     true,
		Canonical: prog.String(),
		Variables: prog.Variables(),
	}
	if req.KnownVariables != nil {
		resp.MissingVariables = prog.MissingVariables(req.KnownVariables)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns a company's rules and the system defaults.
// GET /api/rules?company_id=
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID := rules.CompanyID(r.URL.Query().Get("company_id"))

	list, err := h.Store.List(r.Context(), companyID)
	if err != nil {
		h.internalError(w, r, "Failed to list rules", err)
		return
	}

	resp := RuleListResponse{CompanyID: string(companyID), Rules: make([]factory.RuleJSON, 0, len(list))}
	for _, rule := range list {
		rj, err := h.Factory.ToRuleJSON(rule)
		if err != nil {
			h.internalError(w, r, "Failed to encode rule", err)
			return
		}
		resp.Rules = append(resp.Rules, rj)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// GetRule returns one rule.
// GET /api/rules/{id}
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Store.Get(r.Context(), rules.RuleID(chi.URLParam(r, "id")))
	if err != nil {
		h.storeError(w, r, "Failed to get rule", err)
		return
	}
	h.writeRule(w, r, http.StatusOK, rule)
}

// CreateRule adds a company rule.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}

	unlock := h.writes.lock(rule.CompanyID)
	defer unlock()

	if _, err := h.Store.Get(ctx, rule.ID); err == nil {
		writeError(w, r, http.StatusConflict, "Rule already exists", fmt.Errorf("%w: %s", rules.ErrDuplicateRuleID, rule.ID))
		return
	} else if !rules.IsNotFound(err) {
		h.internalError(w, r, "Failed to check rule", err)
		return
	}

	if !h.save(w, r, rule) {
		return
	}
	h.logger.Info("rule created",
		slog.String("rule_id", string(rule.ID)),
		slog.String("company_id", string(rule.CompanyID)),
		slog.String("component", rule.ComponentCode),
	)
	h.writeRule(w, r, http.StatusCreated, rule)
}

// UpdateRule replaces a company rule. The body may omit the ID.
// PUT /api/rules/{id}
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := rules.RuleID(chi.URLParam(r, "id"))

	existing, err := h.Store.Get(ctx, id)
	if err != nil {
		h.storeError(w, r, "Failed to get rule", err)
		return
	}
	if existing.IsSystem {
		writeError(w, r, http.StatusForbidden, "Cannot modify rule", errSystemRule)
		return
	}

	var rj factory.RuleJSON
	if err := decodeJSON(w, r, &rj); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if rj.ID != "" && rules.RuleID(rj.ID) != id {
		writeError(w, r, http.StatusBadRequest, "Rule ID mismatch", fmt.Errorf("body id %q does not match path id %q", rj.ID, id))
		return
	}
	rj.ID = string(id)

	rule, ok := h.fromJSON(w, r, rj)
	if !ok {
		return
	}
	unlock := h.writes.lock(rule.CompanyID)
	defer unlock()
	if !h.save(w, r, rule) {
		return
	}
	h.logger.Info("rule updated", slog.String("rule_id", string(rule.ID)))
	h.writeRule(w, r, http.StatusOK, rule)
}

// DeleteRule removes a company rule.
// DELETE /api/rules/{id}
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := rules.RuleID(chi.URLParam(r, "id"))

	existing, err := h.Store.Get(ctx, id)
	if err != nil {
		h.storeError(w, r, "Failed to get rule", err)
		return
	}
	if existing.IsSystem {
		writeError(w, r, http.StatusForbidden, "Cannot delete rule", errSystemRule)
		return
	}

	if err := h.Store.Delete(ctx, id); err != nil {
		h.storeError(w, r, "Failed to delete rule", err)
		return
	}
	h.logger.Info("rule deleted", slog.String("rule_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (*rules.Rule, bool) {
	var rj factory.RuleJSON
	if err := decodeJSON(w, r, &rj); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return nil, false
	}
	return h.fromJSON(w, r, rj)
}

// fromJSON applies the API-only constraints on top of the codec: rules
// created here are company scoped and never system rules.
func (h *Handler) fromJSON(w http.ResponseWriter, r *http.Request, rj factory.RuleJSON) (*rules.Rule, bool) {
	if rj.IsSystem {
		writeError(w, r, http.StatusForbidden, "Cannot create rule", errSystemRule)
		return nil, false
	}
	if strings.TrimSpace(rj.CompanyID) == "" {
		writeError(w, r, http.StatusBadRequest, "Invalid rule", &rules.ValidationError{
			RuleID: rules.RuleID(rj.ID),
			Fields: []*rules.FieldError{{Field: "company_id", Msg: "is required"}},
		})
		return nil, false
	}

	rule, err := h.Factory.FromJSON(rj)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid rule", err)
		return nil, false
	}
	return rule, true
}

// save checks that the company's rule set still resolves unambiguously
// with rule in it, then stores rule. Callers hold the company's write lock.
func (h *Handler) save(w http.ResponseWriter, r *http.Request, rule *rules.Rule) bool {
	ctx := r.Context()

	current, err := h.Store.List(ctx, rule.CompanyID)
	if err != nil {
		h.internalError(w, r, "Failed to list rules", err)
		return false
	}
	next := make([]rules.Rule, 0, len(current)+1)
	for _, c := range current {
		if c.ID != rule.ID {
			next = append(next, *c)
		}
	}
	next = append(next, *rule)

	if _, err := rules.NewSnapshot(next); err != nil {
		writeError(w, r, http.StatusConflict, "Rule conflicts with existing rules", err)
		return false
	}

	if err := h.Store.Save(ctx, rule); err != nil {
		h.storeError(w, r, "Failed to save rule", err)
		return false
	}
	return true
}

func (h *Handler) writeRule(w http.ResponseWriter, r *http.Request, status int, rule *rules.Rule) {
	rj, err := h.Factory.ToRuleJSON(rule)
	if err != nil {
		h.internalError(w, r, "Failed to encode rule", err)
		return
	}
	writeJSON(w, r, status, rj)
}

// =============================================================================
// EVALUATION HANDLERS
// =============================================================================

// Evaluate computes one component for one employee.
// POST /api/evaluate
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" || req.ComponentCode == "" {
		writeError(w, r, http.StatusBadRequest, "company_id and component_code are required", nil)
		return
	}
	date, err := rules.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid date", err)
		return
	}

	ev, err := h.evaluator(ctx, rules.CompanyID(req.CompanyID))
	if err != nil {
		h.snapshotError(w, r, err)
		return
	}

	res, err := ev.Evaluate(ctx, engine.Request{
		CompanyID:     rules.CompanyID(req.CompanyID),
		EmployeeID:    req.EmployeeID,
		ComponentCode: req.ComponentCode,
		Date:          date,
		Facts:         req.Facts,
	})
	if err != nil {
		var ce *engine.ComponentError
		if errors.As(err, &ce) {
			writeJSON(w, r, http.StatusUnprocessableEntity, ErrorResponse{
				Error:    "Evaluation failed",
				Details:  ce.Err.Error(),
				Category: ce.Category(),
			})
			return
		}
		h.internalError(w, r, "Evaluation failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toResultDTO(res))
}

// Run evaluates every employee x component. Component failures are listed
// per employee and do not fail the request.
// POST /api/runs
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, r, http.StatusBadRequest, "company_id is required", nil)
		return
	}
	date, err := rules.ParseDate(req.Date)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid date", err)
		return
	}

	ev, err := h.evaluator(ctx, rules.CompanyID(req.CompanyID))
	if err != nil {
		h.snapshotError(w, r, err)
		return
	}

	in := engine.RunInput{
		CompanyID:  rules.CompanyID(req.CompanyID),
		Date:       date,
		Components: req.Components,
		Employees:  make([]engine.EmployeeFacts, len(req.Employees)),
	}
	for i, e := range req.Employees {
		in.Employees[i] = engine.EmployeeFacts{EmployeeID: e.EmployeeID, Facts: e.Facts}
	}

	res, err := ev.Run(ctx, in)
	if err != nil {
		h.internalError(w, r, "Payroll run failed", err)
		return
	}
	writeJSON(w, r, http.StatusOK, toRunResponse(res))
}

// ListComponents returns the components with an active rule for a company.
// GET /api/components?company_id=
func (h *Handler) ListComponents(w http.ResponseWriter, r *http.Request) {
	companyID := rules.CompanyID(r.URL.Query().Get("company_id"))

	snap, err := rules.LoadSnapshot(r.Context(), h.Store, companyID)
	if err != nil {
		h.snapshotError(w, r, err)
		return
	}
	components := snap.Components(companyID)
	if components == nil {
		components = []string{}
	}
	writeJSON(w, r, http.StatusOK, ComponentsResponse{CompanyID: string(companyID), Components: components})
}

// Explain shows every rule of a component with its resolution verdict.
// GET /api/explain?company_id=&component=&date=
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID := rules.CompanyID(q.Get("company_id"))
	component := q.Get("component")
	if component == "" {
		writeError(w, r, http.StatusBadRequest, "component is required", nil)
		return
	}
	date, err := rules.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid date", err)
		return
	}

	snap, err := rules.LoadSnapshot(r.Context(), h.Store, companyID)
	if err != nil {
		h.snapshotError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExplainResponse(snap.Explain(companyID, component, date)))
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return render.DecodeJSON(r.Body, v)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		var ve *rules.ValidationError
		if errors.As(err, &ve) {
			resp.Fields = toFieldErrorDTOs(ve)
		}
	}
	writeJSON(w, r, status, resp)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.logger.Error(message,
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("error", err.Error()),
	)
	writeError(w, r, http.StatusInternalServerError, message, err)
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case rules.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "Rule not found", err)
	case errors.Is(err, rules.ErrRuleValidation):
		writeError(w, r, http.StatusBadRequest, message, err)
	default:
		h.internalError(w, r, message, err)
	}
}

// snapshotError reports stored rules that no longer form a valid set.
func (h *Handler) snapshotError(w http.ResponseWriter, r *http.Request, err error) {
	if rules.IsConfigError(err) {
		h.logger.Warn("stored rules are inconsistent", slog.String("error", err.Error()))
		writeError(w, r, http.StatusConflict, "Stored rules are inconsistent", err)
		return
	}
	h.internalError(w, r, "Failed to load rules", err)
}
