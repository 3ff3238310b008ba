package deals_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/deals"
)

func publishedDeal() *deals.Deal {
	return &deals.Deal{
		ID:             "deal-1",
		OwnerAccountID: "brand-1",
		Status:         deals.DealPublished,
		ApprovalLimit:  2,
	}
}

func requestIn(status deals.Status) *deals.DealRequest {
	return &deals.DealRequest{DealID: "deal-1", AccountID: "creator-1", Status: status}
}

func TestCanBeRequested(t *testing.T) {
	tests := []struct {
		name    string
		tc      deals.TransitionContext
		allowed bool
		kind    deals.FailureKind
	}{
		{
			name:    "published deal, new account",
			tc:      deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1"},
			allowed: true,
		},
		{
			name: "soft-deleted request can be recreated",
			tc: deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1",
				Request: &deals.DealRequest{Status: deals.StatusDenied, Deleted: true}},
			allowed: true,
		},
		{
			name:    "live request exists",
			tc:      deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusDenied)},
			allowed: false,
			kind:    deals.FailureInvalidTransition,
		},
		{
			name:    "owner requests own deal",
			tc:      deals.TransitionContext{Deal: publishedDeal(), AccountID: "brand-1"},
			allowed: false,
			kind:    deals.FailureInvalidTransition,
		},
		{
			name: "draft deal",
			tc: deals.TransitionContext{Deal: func() *deals.Deal {
				d := publishedDeal()
				d.Status = deals.DealDraft
				return d
			}(), AccountID: "creator-1"},
			allowed: false,
			kind:    deals.FailureInvalidTransition,
		},
		{
			name: "private deal, not invited",
			tc: deals.TransitionContext{Deal: func() *deals.Deal {
				d := publishedDeal()
				d.Private = true
				return d
			}(), AccountID: "creator-1"},
			allowed: false,
			kind:    deals.FailureInvalidTransition,
		},
		{
			name: "private deal, on the invite list",
			tc: deals.TransitionContext{Deal: func() *deals.Deal {
				d := publishedDeal()
				d.Private = true
				d.Invitees = []string{"creator-1"}
				return d
			}(), AccountID: "creator-1"},
			allowed: true,
		},
		{
			name: "private deal, system invite",
			tc: deals.TransitionContext{Deal: func() *deals.Deal {
				d := publishedDeal()
				d.Private = true
				return d
			}(), AccountID: "creator-1", FromInvite: true},
			allowed: true,
		},
		{
			name:    "approval limit reached, request still accepted",
			tc:      deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", ApprovalCount: 2},
			allowed: true,
		},
		{
			name:    "approval limit exceeded",
			tc:      deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", ApprovalCount: 3},
			allowed: false,
			kind:    deals.FailureCapacityExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := deals.CanBeRequested(tt.tc)
			if tt.allowed {
				assert.Nil(t, te)
				return
			}
			require.NotNil(t, te)
			assert.Equal(t, tt.kind, te.Kind)
			assert.ErrorIs(t, te, deals.ErrCannotComplete)
		})
	}
}

func TestCanBeApproved(t *testing.T) {
	paused := publishedDeal()
	paused.Status = deals.DealPaused
	archived := publishedDeal()
	archived.Status = deals.DealArchived

	tests := []struct {
		name    string
		tc      deals.TransitionContext
		allowed bool
	}{
		{"from requested", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusRequested)}, true},
		{"from invited", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusInvited)}, true},
		{"paused deal still approves", deals.TransitionContext{Deal: paused, AccountID: "creator-1", Request: requestIn(deals.StatusRequested)}, true},
		{"archived deal", deals.TransitionContext{Deal: archived, AccountID: "creator-1", Request: requestIn(deals.StatusRequested)}, false},
		{"no request", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1"}, false},
		{"already approved", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusInProgress)}, false},
		{"cancelled without override", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusCancelled)}, false},
		{"cancelled with override", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusCancelled), OverrideCancelled: true}, true},
		{"denied", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusDenied)}, false},
		{"capacity gone", deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusRequested), ApprovalCount: 2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := deals.CanBeApproved(tt.tc)
			assert.Equal(t, tt.allowed, te == nil, "reason: %v", te)
		})
	}
}

func TestSimplePredicates(t *testing.T) {
	tc := func(s deals.Status) deals.TransitionContext {
		return deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(s)}
	}

	assert.Nil(t, deals.CanBeDenied(tc(deals.StatusRequested)))
	assert.Nil(t, deals.CanBeDenied(tc(deals.StatusInvited)))
	assert.NotNil(t, deals.CanBeDenied(tc(deals.StatusInProgress)))

	assert.Nil(t, deals.CanBeRedeemed(tc(deals.StatusInProgress)))
	assert.NotNil(t, deals.CanBeRedeemed(tc(deals.StatusRequested)))
	assert.NotNil(t, deals.CanBeRedeemed(tc(deals.StatusRedeemed)))

	assert.Nil(t, deals.CanBeCompleted(tc(deals.StatusInProgress)))
	assert.Nil(t, deals.CanBeCompleted(tc(deals.StatusRedeemed)))
	assert.NotNil(t, deals.CanBeCompleted(tc(deals.StatusCompleted)))

	for _, s := range []deals.Status{deals.StatusInvited, deals.StatusRequested, deals.StatusInProgress, deals.StatusRedeemed} {
		assert.Nil(t, deals.CanBeCancelled(tc(s)), "cancel from %s", s)
	}
	for _, s := range []deals.Status{deals.StatusCompleted, deals.StatusDenied, deals.StatusCancelled, deals.StatusDelinquent} {
		assert.NotNil(t, deals.CanBeCancelled(tc(s)), "cancel from %s", s)
	}
}

func TestCanBeDelinquent(t *testing.T) {
	changed := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	r := &deals.DealRequest{
		DealID: "deal-1", AccountID: "creator-1", Status: deals.StatusInProgress,
		HoursAllowedInProgress: 24, StatusChangedAt: changed,
	}
	tc := deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: r}

	tc.Now = changed.Add(23 * time.Hour)
	assert.NotNil(t, deals.CanBeDelinquent(tc), "still inside the allowance")

	tc.Now = changed.Add(24 * time.Hour)
	assert.Nil(t, deals.CanBeDelinquent(tc))

	r.HoursAllowedInProgress = 0
	assert.NotNil(t, deals.CanBeDelinquent(tc), "zero hours means no limit")

	r.Status = deals.StatusDelinquent
	assert.NotNil(t, deals.CanBeDelinquent(tc))

	deadline, ok := deals.DelinquentAfter(&deals.DealRequest{Status: deals.StatusRedeemed, HoursAllowedRedeemed: 2, StatusChangedAt: changed})
	require.True(t, ok)
	assert.Equal(t, changed.Add(2*time.Hour), deadline)
}

func TestCanTransition_UnknownTarget(t *testing.T) {
	tc := deals.TransitionContext{Deal: publishedDeal(), AccountID: "creator-1", Request: requestIn(deals.StatusRequested)}
	te := deals.CanTransition(tc, deals.StatusUnknown)
	require.NotNil(t, te)
	assert.Equal(t, deals.StatusRequested, te.From)
}
