/*
handlers.go - HTTP API handlers for the deal request lifecycle

PURPOSE:
  Exposes the deals engine via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the deals package.

ENDPOINTS:
  Deals:
    GET    /api/deals                               List deals
    POST   /api/deals                               Create or update a deal from JSON
    GET    /api/deals/{dealID}                      Get deal
    GET    /api/deals/{dealID}/stats                Deal counters
    GET    /api/deals/{dealID}/approvals            Approval slots used/remaining
    GET    /api/deals/{dealID}/history              Status history (?status=&from=&to=)

  Requests:
    GET    /api/deals/{dealID}/requests             List live requests
    POST   /api/deals/{dealID}/requests             Request (or invite to) a deal
    GET    /api/deals/{dealID}/requests/{accountID} Get one request
    DELETE /api/deals/{dealID}/requests/{accountID} Soft-delete a request
    PUT    /api/deals/{dealID}/requests/{accountID}/status       Move to a status
    GET    /api/deals/{dealID}/requests/{accountID}/can/{status} Pre-flight check

  Accounts:
    POST   /api/accounts                            Create account
    GET    /api/accounts/{accountID}/stats          Creator and publisher counters

  Admin:
    POST   /api/admin/sweep                         Run the delinquency sweep now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call the lifecycle (deals.Service)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Deal, request or account not found
  - 409: Operation cannot be completed (rule, capacity or race)
  - 500: Store failures and internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/warp/deal-engine/deals"
	"github.com/warp/deal-engine/factory"
	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       generic.RecordStore
	Service     *deals.Service
	Catalog     *deals.DealCatalog
	Accounts    *deals.AccountDirectory
	DealFactory *factory.DealFactory

	// Serves /metrics; nil disables the endpoint
	Gatherer prometheus.Gatherer

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over one store. The catalog and directory
// must be the ones the service was built with.
func NewHandler(store generic.RecordStore, svc *deals.Service, catalog *deals.DealCatalog, accounts *deals.AccountDirectory) *Handler {
	return &Handler{
		Store:       store,
		Service:     svc,
		Catalog:     catalog,
		Accounts:    accounts,
		DealFactory: factory.NewDealFactory(),
	}
}

// =============================================================================
// DEAL HANDLERS
// =============================================================================

// ListDeals returns all deals.
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Catalog.ListDeals(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list deals", err)
		return
	}
	dtos := make([]DealDTO, len(list))
	for i, d := range list {
		dtos[i] = toDealDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDeal validates a deal definition and saves it.
// POST /api/deals
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req factory.DealJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deal, err := h.DealFactory.FromJSON(req)
	if err != nil {
		writeServiceError(w, "Invalid deal", err)
		return
	}
	saved, err := h.Catalog.SaveDeal(r.Context(), deal)
	if err != nil {
		writeServiceError(w, "Failed to save deal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealDTO(saved))
}

// GetDeal returns one deal.
func (h *Handler) GetDeal(w http.ResponseWriter, r *http.Request) {
	deal, err := h.Catalog.GetDeal(r.Context(), chi.URLParam(r, "dealID"))
	if err != nil {
		writeServiceError(w, "Failed to get deal", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealDTO(deal))
}

// GetDealStats returns the deal's Total*/Current* counters.
func (h *Handler) GetDealStats(w http.ResponseWriter, r *http.Request) {
	dealID := chi.URLParam(r, "dealID")
	if _, err := h.Catalog.GetDeal(r.Context(), dealID); err != nil {
		writeServiceError(w, "Failed to get deal", err)
		return
	}
	stats, err := h.stats(r.Context(), deals.ScopeDeal, dealID)
	if err != nil {
		writeServiceError(w, "Failed to read counters", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetApprovals reports how many lifetime approval slots are used.
// GET /api/deals/{dealID}/approvals
func (h *Handler) GetApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	deal, err := h.Catalog.GetDeal(ctx, chi.URLParam(r, "dealID"))
	if err != nil {
		writeServiceError(w, "Failed to get deal", err)
		return
	}
	counter, err := h.Service.Limiter().Counter(ctx, deal.ID)
	if err != nil {
		writeServiceError(w, "Failed to read approval counter", err)
		return
	}

	remaining := deal.ApprovalLimit - counter.Value
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, ApprovalsDTO{
		DealID:            deal.ID,
		ApprovalLimit:     deal.ApprovalLimit,
		Approved:          counter.Value,
		Remaining:         remaining,
		ReturnedApprovals: deal.ReturnedApprovals,
	})
}

// GetHistory lists status changes of a deal's requests.
// GET /api/deals/{dealID}/history?status=in_progress&from=2025-01-01T00:00:00Z&to=...
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := h.Service.History()
	if history == nil {
		writeError(w, http.StatusNotFound, "Status history is disabled", nil)
		return
	}

	dealID := chi.URLParam(r, "dealID")
	q := r.URL.Query()

	var status deals.Status
	if s := q.Get("status"); s != "" {
		parsed, ok := deals.ParseStatus(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown status", fmt.Errorf("%q", s))
			return
		}
		status = parsed
	}
	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	entries, err := history.EverInStatus(r.Context(), dealID, status, from, to)
	if err != nil {
		writeServiceError(w, "Failed to read history", err)
		return
	}

	resp := HistoryDTO{
		DealID:   dealID,
		Status:   string(status),
		Accounts: deals.Accounts(entries),
		Entries:  make([]HistoryEntryDTO, len(entries)),
	}
	if resp.Accounts == nil {
		resp.Accounts = []string{}
	}
	for i, e := range entries {
		resp.Entries[i] = HistoryEntryDTO{
			AccountID:      e.AccountID,
			Status:         string(e.Status),
			PreviousStatus: string(e.PreviousStatus),
			ReferenceID:    e.ReferenceID,
			At:             e.At,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates or replaces an account profile.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	acc := &deals.Account{ID: req.ID, DisplayName: req.DisplayName, Email: req.Email}
	if err := h.Accounts.SaveAccount(r.Context(), acc); err != nil {
		writeServiceError(w, "Failed to save account", err)
		return
	}
	writeJSON(w, http.StatusCreated, AccountDTO{ID: acc.ID, DisplayName: acc.DisplayName, Email: acc.Email})
}

// GetAccountStats returns an account's counters as creator and as publisher.
func (h *Handler) GetAccountStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := chi.URLParam(r, "accountID")

	creator, err := h.stats(ctx, deals.ScopeAccount, accountID)
	if err != nil {
		writeServiceError(w, "Failed to read counters", err)
		return
	}
	publisher, err := h.stats(ctx, deals.ScopePublisher, accountID)
	if err != nil {
		writeServiceError(w, "Failed to read counters", err)
		return
	}
	writeJSON(w, http.StatusOK, AccountStatsDTO{AccountID: accountID, Creator: creator, Publisher: publisher})
}

// =============================================================================
// DEAL REQUEST HANDLERS
// =============================================================================

// ListRequests returns the live requests of a deal.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListDealRequests(r.Context(), chi.URLParam(r, "dealID"))
	if err != nil {
		writeServiceError(w, "Failed to list requests", err)
		return
	}
	dtos := make([]DealRequestDTO, len(list))
	for i, req := range list {
		dtos[i] = toDealRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRequest requests (or invites an account to) a deal.
// POST /api/deals/{dealID}/requests
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req RequestDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	created, err := h.Service.RequestDeal(r.Context(), deals.RequestDealInput{
		DealID:                 chi.URLParam(r, "dealID"),
		AccountID:              req.AccountID,
		FromInvite:             req.FromInvite,
		HoursAllowedInProgress: req.HoursAllowedInProgress,
		HoursAllowedRedeemed:   req.HoursAllowedRedeemed,
	})
	if err != nil {
		writeServiceError(w, "Request could not be created", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealRequestDTO(created))
}

// GetRequest returns one live request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Service.GetDealRequest(r.Context(), chi.URLParam(r, "dealID"), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, "Failed to get request", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealRequestDTO(req))
}

// DeleteRequest soft-deletes a request that holds no approval.
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	err := h.Service.DeleteDealRequest(r.Context(), chi.URLParam(r, "dealID"), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, "Request could not be deleted", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRequestStatus moves a request to a new status.
// PUT /api/deals/{dealID}/requests/{accountID}/status
func (h *Handler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	target, ok := deals.ParseStatus(req.Status)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown status", fmt.Errorf("%q", req.Status))
		return
	}

	updated, err := h.Service.UpdateDealRequestStatus(r.Context(), deals.UpdateStatusInput{
		DealID:             chi.URLParam(r, "dealID"),
		AccountID:          chi.URLParam(r, "accountID"),
		Target:             target,
		OverrideCancelled:  req.OverrideCancelled,
		CompletionMediaIDs: req.CompletionMediaIDs,
	})
	if err != nil {
		writeServiceError(w, "Status could not be changed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDealRequestDTO(updated))
}

// CheckTransition evaluates the transition predicate without side effects.
// GET /api/deals/{dealID}/requests/{accountID}/can/{status}
func (h *Handler) CheckTransition(w http.ResponseWriter, r *http.Request) {
	target, ok := deals.ParseStatus(chi.URLParam(r, "status"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown status", fmt.Errorf("%q", chi.URLParam(r, "status")))
		return
	}

	te, err := h.Service.Check(r.Context(), chi.URLParam(r, "dealID"), chi.URLParam(r, "accountID"), target)
	if err != nil {
		writeServiceError(w, "Check failed", err)
		return
	}
	resp := CheckDTO{Status: string(target), Allowed: te == nil}
	if te != nil {
		resp.Kind = string(te.Kind)
		resp.Reason = te.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs the delinquency sweep across every deal.
// POST /api/admin/sweep
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.SweepAll(r.Context())
	if err != nil {
		writeServiceError(w, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SweepAll runs SweepDelinquent for every deal in the catalog. It is shared
// by the admin endpoint and the DelinquencyScheduler.
func (h *Handler) SweepAll(ctx context.Context) (SweepDTO, error) {
	result := SweepDTO{Moved: []string{}}
	list, err := h.Catalog.ListDeals(ctx)
	if err != nil {
		return result, err
	}
	for _, d := range list {
		r, err := h.Service.SweepDelinquent(ctx, d.ID)
		if err != nil {
			return result, fmt.Errorf("sweep deal %s: %w", d.ID, err)
		}
		result.Deals++
		result.Checked += r.Checked
		result.Conflicts += r.Conflicts
		for _, acc := range r.Moved {
			result.Moved = append(result.Moved, d.ID+"/"+acc)
		}
	}
	return result, nil
}

// ResetDatabase clears every record. Dev only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type resetter interface {
	Reset(ctx context.Context) error
}

func (h *Handler) reset(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	return rs.Reset(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) stats(ctx context.Context, scope deals.StatScope, entityID string) (StatsDTO, error) {
	snap, err := h.Service.Stats().Snapshot(ctx, scope, entityID)
	if err != nil {
		return StatsDTO{}, err
	}
	counters := make(map[string]int64, len(snap))
	for stat, v := range snap {
		counters[string(stat)] = v
	}
	return StatsDTO{EntityID: entityID, Scope: string(scope), Counters: counters}, nil
}

func parseTimeParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps domain and store errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, message string, err error) {
	switch {
	case deals.IsCannotComplete(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   message,
			Details: err.Error(),
			Kind:    string(deals.FailureKindOf(err)),
		})
	case deals.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, deals.ErrInvalidInput), errors.Is(err, generic.ErrValidation):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func strPtr(s string) *string {
	return &s
}
