/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates accounts and deals
	and walks requests through the lifecycle, so counters, history and
	approval slots all hold real values.

AVAILABLE SCENARIOS:

	limited-launch:   One approval slot, three creators competing for it
	private-invite:   Private deal with an invite list
	full-lifecycle:   Requests completed, denied and cancelled after approval

HOW SCENARIOS WORK:
 1. Reset store (clear all records)
 2. Create accounts
 3. Create deals via factory JSON
 4. Drive requests through deals.Service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "limited-launch"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase handler
  - factory/deal.go: Deal JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/warp/deal-engine/deals"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "limited-launch",
		Name:        "Limited Launch",
		Description: "Public deal with a single approval slot and three creators requesting it",
	},
	{
		ID:          "private-invite",
		Name:        "Private Invite",
		Description: "Private deal only invitees can request; one invite accepted",
	},
	{
		ID:          "full-lifecycle",
		Name:        "Full Lifecycle",
		Description: "Requests completed, denied, and cancelled after approval (slot is not returned)",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "limited-launch":
		load = h.loadLimitedLaunchScenario
	case "private-invite":
		load = h.loadPrivateInviteScenario
	case "full-lifecycle":
		load = h.loadFullLifecycleScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("%q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()

	// Reset first
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadLimitedLaunchScenario(ctx context.Context) error {
	if err := h.createAccounts(ctx, "brand-acme", "creator-kim", "creator-lee", "creator-sam"); err != nil {
		return err
	}
	if err := h.createDealFromJSON(ctx, `{
		"id": "spring-launch",
		"owner_account_id": "brand-acme",
		"title": "Spring launch",
		"approval_limit": 1,
		"value": "150.00"
	}`); err != nil {
		return err
	}

	for _, acc := range []string{"creator-kim", "creator-lee", "creator-sam"} {
		if err := h.request(ctx, "spring-launch", acc, false); err != nil {
			return err
		}
	}
	// kim takes the only slot; lee and sam stay requested
	return h.move(ctx, "spring-launch", "creator-kim", deals.StatusInProgress)
}

func (h *Handler) loadPrivateInviteScenario(ctx context.Context) error {
	if err := h.createAccounts(ctx, "brand-nova", "creator-kim", "creator-lee"); err != nil {
		return err
	}
	if err := h.createDealFromJSON(ctx, `{
		"id": "vip-tasting",
		"owner_account_id": "brand-nova",
		"title": "VIP tasting",
		"private": true,
		"invitees": ["creator-kim", "creator-lee"],
		"approval_limit": 2,
		"hours_allowed_in_progress": 24,
		"hours_allowed_redeemed": 24,
		"value": "80.00"
	}`); err != nil {
		return err
	}

	if err := h.request(ctx, "vip-tasting", "creator-kim", true); err != nil {
		return err
	}
	if err := h.request(ctx, "vip-tasting", "creator-lee", true); err != nil {
		return err
	}
	return h.move(ctx, "vip-tasting", "creator-kim", deals.StatusInProgress)
}

func (h *Handler) loadFullLifecycleScenario(ctx context.Context) error {
	if err := h.createAccounts(ctx, "brand-acme", "creator-kim", "creator-lee", "creator-sam", "creator-ola"); err != nil {
		return err
	}
	if err := h.createDealFromJSON(ctx, `{
		"id": "summer-box",
		"owner_account_id": "brand-acme",
		"title": "Summer box",
		"approval_limit": 3,
		"value": "99.50"
	}`); err != nil {
		return err
	}

	for _, acc := range []string{"creator-kim", "creator-lee", "creator-sam", "creator-ola"} {
		if err := h.request(ctx, "summer-box", acc, false); err != nil {
			return err
		}
	}

	steps := []struct {
		account string
		target  deals.Status
	}{
		// kim: full happy path
		{"creator-kim", deals.StatusInProgress},
		{"creator-kim", deals.StatusRedeemed},
		{"creator-kim", deals.StatusCompleted},
		// lee: denied
		{"creator-lee", deals.StatusDenied},
		// sam: approved then cancelled, the slot stays consumed
		{"creator-sam", deals.StatusInProgress},
		{"creator-sam", deals.StatusCancelled},
		// ola: redeemed, waiting for completion
		{"creator-ola", deals.StatusInProgress},
		{"creator-ola", deals.StatusRedeemed},
	}
	for _, s := range steps {
		if err := h.move(ctx, "summer-box", s.account, s.target); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// LOADER HELPERS
// =============================================================================

func (h *Handler) createAccounts(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if err := h.Accounts.SaveAccount(ctx, &deals.Account{ID: id, DisplayName: id}); err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
	}
	return nil
}

func (h *Handler) createDealFromJSON(ctx context.Context, jsonStr string) error {
	deal, err := h.DealFactory.ParseDeal(jsonStr)
	if err != nil {
		return err
	}
	_, err = h.Catalog.SaveDeal(ctx, deal)
	return err
}

func (h *Handler) request(ctx context.Context, dealID, accountID string, invite bool) error {
	_, err := h.Service.RequestDeal(ctx, deals.RequestDealInput{
		DealID:     dealID,
		AccountID:  accountID,
		FromInvite: invite,
	})
	if err != nil {
		return fmt.Errorf("request %s/%s: %w", dealID, accountID, err)
	}
	return nil
}

func (h *Handler) move(ctx context.Context, dealID, accountID string, target deals.Status) error {
	_, err := h.Service.UpdateDealRequestStatus(ctx, deals.UpdateStatusInput{
		DealID:    dealID,
		AccountID: accountID,
		Target:    target,
	})
	if err != nil {
		return fmt.Errorf("move %s/%s to %s: %w", dealID, accountID, target, err)
	}
	return nil
}
