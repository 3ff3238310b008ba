/*
handlers_test.go - Unit tests for API handlers

Tests for:
- Deal creation and validation
- Request lifecycle over HTTP, including the approval limit
- Error mapping (400 / 404 / 409)
- History, pre-flight checks, delinquency sweep, metrics
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/deals"
	"github.com/warp/deal-engine/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	handler *Handler
	router  http.Handler
	clock   *testClock
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	catalog := deals.NewDealCatalog(mem)
	accounts := deals.NewAccountDirectory(mem)
	clock := &testClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	quiet := log.New(io.Discard, "", 0)

	reg := prometheus.NewRegistry()
	svc := deals.NewService(mem, catalog, accounts, deals.LogNotifier{Logger: quiet},
		deals.WithClock(clock.Now),
		deals.WithLogger(quiet),
		deals.WithMetrics(deals.MustNewMetrics(reg)),
	)

	h := NewHandler(mem, svc, catalog, accounts)
	h.Gatherer = reg
	return &testServer{handler: h, router: NewRouter(h), clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = strings.NewReader(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createDeal(t *testing.T, body string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/deals", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) request(t *testing.T, dealID, accountID string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/deals/"+dealID+"/requests", RequestDealRequest{AccountID: accountID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (s *testServer) move(t *testing.T, dealID, accountID string, status deals.Status) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPut, "/api/deals/"+dealID+"/requests/"+accountID+"/status",
		UpdateStatusRequest{Status: string(status)})
}

// =============================================================================
// DEALS
// =============================================================================

func TestCreateDeal_AndRead(t *testing.T) {
	s := setupTestServer(t)

	// WHEN: A deal is created without optional fields
	rec := s.do(t, http.MethodPost, "/api/deals",
		`{"id":"d1","owner_account_id":"brand-1","title":"Launch","approval_limit":2,"value":"150"}`)

	// THEN: Defaults are applied
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[DealDTO](t, rec)
	assert.Equal(t, "published", created.Status)
	assert.Equal(t, 72, created.HoursAllowedInProgress)
	assert.Equal(t, "150.00", created.Value)

	got := decode[DealDTO](t, s.do(t, http.MethodGet, "/api/deals/d1", nil))
	assert.Equal(t, "Launch", got.Title)

	list := decode[[]DealDTO](t, s.do(t, http.MethodGet, "/api/deals", nil))
	assert.Len(t, list, 1)
}

func TestCreateDeal_Invalid(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/deals", `{"id":"d1","owner_account_id":"brand-1","approval_limit":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/deals", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDeal_NotFound(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/deals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Contains(t, resp.Details, "deal not found")
}

// =============================================================================
// REQUEST LIFECYCLE
// =============================================================================

func TestRequestLifecycle_ApprovalLimit(t *testing.T) {
	// GIVEN: A deal with a single approval slot and two requests
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")
	s.request(t, "d1", "lee")

	// WHEN: Both are approved
	first := s.move(t, "d1", "kim", deals.StatusInProgress)
	second := s.move(t, "d1", "lee", deals.StatusInProgress)

	// THEN: Only the first gets the slot
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "in_progress", decode[DealRequestDTO](t, first).Status)
	assert.NotNil(t, decode[DealRequestDTO](t, first).DelinquentAt)

	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Equal(t, "capacity_exhausted", decode[ErrorResponse](t, second).Kind)

	approvals := decode[ApprovalsDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/approvals", nil))
	assert.Equal(t, int64(1), approvals.Approved)
	assert.Equal(t, int64(0), approvals.Remaining)

	// A full deal still takes new requests; only approval is refused
	late := s.do(t, http.MethodPost, "/api/deals/d1/requests", RequestDealRequest{AccountID: "sam"})
	require.Equal(t, http.StatusCreated, late.Code, late.Body.String())
	assert.Equal(t, "requested", decode[DealRequestDTO](t, late).Status)

	stats := decode[StatsDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/stats", nil))
	assert.Equal(t, int64(3), stats.Counters["TotalRequested"])
	assert.Equal(t, int64(1), stats.Counters["TotalApproved"])
	assert.Equal(t, int64(2), stats.Counters["CurrentRequested"])
	assert.Equal(t, int64(1), stats.Counters["CurrentInProgress"])
}

func TestCreateRequest_Twice_Conflict(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")

	rec := s.do(t, http.MethodPost, "/api/deals/d1/requests", RequestDealRequest{AccountID: "kim"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRequest_NegativeHours_BadRequest(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)

	rec := s.do(t, http.MethodPost, "/api/deals/d1/requests",
		RequestDealRequest{AccountID: "kim", HoursAllowedRedeemed: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateStatus_InvalidTargets(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")

	assert.Equal(t, http.StatusBadRequest, s.move(t, "d1", "kim", "teleported").Code)
	assert.Equal(t, http.StatusBadRequest, s.move(t, "d1", "kim", deals.StatusRequested).Code)

	// Requested -> Redeemed skips approval
	assert.Equal(t, http.StatusConflict, s.move(t, "d1", "kim", deals.StatusRedeemed).Code)

	// No request at all
	assert.Equal(t, http.StatusConflict, s.move(t, "d1", "nobody", deals.StatusDenied).Code)
}

func TestDeleteRequest(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")

	rec := s.do(t, http.MethodDelete, "/api/deals/d1/requests/kim", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/deals/d1/requests/kim", nil).Code)
	assert.Empty(t, decode[[]DealRequestDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests", nil)))

	// Requesting again is allowed after a soft delete
	s.request(t, "d1", "kim")
	got := decode[DealRequestDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests/kim", nil))
	assert.Equal(t, "requested", got.Status)
}

func TestDeleteRequest_SlotHolder_Conflict(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")
	require.Equal(t, http.StatusOK, s.move(t, "d1", "kim", deals.StatusInProgress).Code)

	rec := s.do(t, http.MethodDelete, "/api/deals/d1/requests/kim", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAfterApproval_ReturnsApproval(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")
	require.Equal(t, http.StatusOK, s.move(t, "d1", "kim", deals.StatusInProgress).Code)

	rec := s.move(t, "d1", "kim", deals.StatusCancelled)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	approvals := decode[ApprovalsDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/approvals", nil))
	assert.Equal(t, int64(1), approvals.Approved, "the lifetime counter is never decremented")
	assert.Equal(t, int64(1), approvals.ReturnedApprovals)
}

// =============================================================================
// CHECKS AND READS
// =============================================================================

func TestCheckTransition(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")
	s.request(t, "d1", "lee")
	require.Equal(t, http.StatusOK, s.move(t, "d1", "kim", deals.StatusInProgress).Code)

	ok := decode[CheckDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests/lee/can/denied", nil))
	assert.True(t, ok.Allowed)

	full := decode[CheckDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests/lee/can/in_progress", nil))
	assert.False(t, full.Allowed)
	assert.Equal(t, "capacity_exhausted", full.Kind)
	assert.NotEmpty(t, full.Reason)

	rec := s.do(t, http.MethodGet, "/api/deals/d1/requests/lee/can/flying", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// A check never writes
	got := decode[DealRequestDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests/lee", nil))
	assert.Equal(t, "requested", got.Status)
}

func TestGetHistory(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":2}`)
	s.request(t, "d1", "kim")
	s.clock.Advance(time.Hour)
	s.request(t, "d1", "lee")
	s.clock.Advance(time.Hour)
	require.Equal(t, http.StatusOK, s.move(t, "d1", "kim", deals.StatusInProgress).Code)

	all := decode[HistoryDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/history", nil))
	assert.Len(t, all.Entries, 3)

	approved := decode[HistoryDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/history?status=in_progress", nil))
	assert.Equal(t, []string{"kim"}, approved.Accounts)

	// Window covering only the first hour
	window := decode[HistoryDTO](t, s.do(t, http.MethodGet,
		"/api/deals/d1/history?status=requested&from=2025-03-10T09:00:00Z&to=2025-03-10T09:30:00Z", nil))
	assert.Equal(t, []string{"kim"}, window.Accounts)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/deals/d1/history?status=nope", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/deals/d1/history?from=yesterday", nil).Code)
}

func TestAccountStats(t *testing.T) {
	s := setupTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/accounts", CreateAccountRequest{ID: "kim", DisplayName: "Kim"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")

	creator := decode[AccountStatsDTO](t, s.do(t, http.MethodGet, "/api/accounts/kim/stats", nil))
	assert.Equal(t, int64(1), creator.Creator.Counters["TotalRequested"])
	assert.Empty(t, creator.Publisher.Counters)

	brand := decode[AccountStatsDTO](t, s.do(t, http.MethodGet, "/api/accounts/brand-1/stats", nil))
	assert.Equal(t, int64(1), brand.Publisher.Counters["TotalRequested"])
}

// =============================================================================
// ADMIN
// =============================================================================

func TestTriggerSweep(t *testing.T) {
	// GIVEN: An approved request with a one hour allowance
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":2,"hours_allowed_in_progress":1}`)
	s.request(t, "d1", "kim")
	require.Equal(t, http.StatusOK, s.move(t, "d1", "kim", deals.StatusInProgress).Code)

	// WHEN: The sweep runs before the deadline
	early := decode[SweepDTO](t, s.do(t, http.MethodPost, "/api/admin/sweep", nil))

	// THEN: Nothing moves
	assert.Equal(t, 1, early.Checked)
	assert.Empty(t, early.Moved)

	// WHEN: The deadline passes
	s.clock.Advance(2 * time.Hour)
	late := decode[SweepDTO](t, s.do(t, http.MethodPost, "/api/admin/sweep", nil))

	// THEN: The request is delinquent
	assert.Equal(t, []string{"d1/kim"}, late.Moved)
	got := decode[DealRequestDTO](t, s.do(t, http.MethodGet, "/api/deals/d1/requests/kim", nil))
	assert.Equal(t, "delinquent", got.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t)
	s.createDeal(t, `{"id":"d1","owner_account_id":"brand-1","approval_limit":1}`)
	s.request(t, "d1", "kim")

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deal_engine_lifecycle_transitions_total")
}
