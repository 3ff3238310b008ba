package deals_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/deals"
	"github.com/warp/deal-engine/generic/store"
	"github.com/warp/deal-engine/store/sqlite"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CAPACITY INVARIANT
// =============================================================================

func TestLimiter_ConcurrentApprovals_ExactlyLimitSucceed(t *testing.T) {
	// GIVEN: A deal with approvalLimit = 3 and 12 pending requests
	// WHEN: All 12 are approved concurrently
	// THEN: Exactly 3 succeed and the counter is 3

	const limit, attempts = 3, 12
	f := newFixture(t)
	f.deal(t, "deal-1", limit)
	for i := 0; i < attempts; i++ {
		f.request(t, "deal-1", fmt.Sprintf("creator-%d", i))
	}

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		acc := fmt.Sprintf("creator-%d", i)
		g.Go(func() error {
			_, err := f.move("deal-1", acc, deals.StatusInProgress)
			switch {
			case err == nil:
				succeeded.Add(1)
			case deals.IsCannotComplete(err):
				failed.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), succeeded.Load())
	assert.Equal(t, int64(attempts-limit), failed.Load())
	assert.Equal(t, int64(limit), f.counter(t, "deal-1"))
	assert.Equal(t, int64(limit), f.stats(t, deals.ScopeDeal, "deal-1")[deals.StatCurrentInProgress])
	assert.Equal(t, int64(attempts-limit), f.stats(t, deals.ScopeDeal, "deal-1")[deals.StatCurrentRequested])
}

func TestLimiter_ConcurrentApprovals_SQLite(t *testing.T) {
	const limit, attempts = 2, 8
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	catalog := deals.NewDealCatalog(db)
	svc := deals.NewService(db, catalog, nil, nil, deals.WithLogger(log.New(io.Discard, "", 0)))
	_, err = catalog.SaveDeal(ctx, &deals.Deal{
		ID: "deal-1", OwnerAccountID: "brand-1", Status: deals.DealPublished, ApprovalLimit: limit,
	})
	require.NoError(t, err)
	for i := 0; i < attempts; i++ {
		_, err := svc.RequestDeal(ctx, deals.RequestDealInput{DealID: "deal-1", AccountID: fmt.Sprintf("creator-%d", i)})
		require.NoError(t, err)
	}

	var succeeded atomic.Int64
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		acc := fmt.Sprintf("creator-%d", i)
		g.Go(func() error {
			_, err := svc.UpdateDealRequestStatus(ctx, deals.UpdateStatusInput{
				DealID: "deal-1", AccountID: acc, Target: deals.StatusInProgress,
			})
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if deals.IsCannotComplete(err) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(limit), succeeded.Load())
	counter, err := svc.Limiter().Counter(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), counter.Value)
}

func TestLimiter_NoDoubleApproval(t *testing.T) {
	// GIVEN: One pending request on a deal with plenty of capacity
	// WHEN: The same approval is fired concurrently
	// THEN: Exactly one succeeds and only one slot is consumed

	const attempts = 10
	f := newFixture(t)
	f.deal(t, "deal-1", 100)
	f.request(t, "deal-1", "creator-1")

	var succeeded atomic.Int64
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.move("deal-1", "creator-1", deals.StatusInProgress)
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			if deals.IsCannotComplete(err) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), succeeded.Load())
	assert.Equal(t, int64(1), f.counter(t, "deal-1"))
	assert.Equal(t, int64(1), f.stats(t, deals.ScopeDeal, "deal-1")[deals.StatTotalApproved])
}

// =============================================================================
// LIMITER IN ISOLATION
// =============================================================================

func TestLimiter_StaleObservation_IsRaceLost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deal := f.deal(t, "deal-1", 5)
	stale := f.request(t, "deal-1", "creator-1")

	// Someone else denies the request after we read it
	_, err := f.move("deal-1", "creator-1", deals.StatusDenied)
	require.NoError(t, err)

	next := *stale
	next.Status = deals.StatusInProgress
	err = f.svc.Limiter().Approve(ctx, deal, stale, &next, []deals.Status{deals.StatusRequested})

	require.ErrorIs(t, err, deals.ErrCannotComplete)
	assert.Equal(t, deals.FailureRaceLost, deals.FailureKindOf(err))
	assert.Equal(t, int64(0), f.counter(t, "deal-1"), "aborted transaction leaves no partial state")
}

func TestLimiter_ZeroLimit_NeverApproves(t *testing.T) {
	mem := store.NewMemory()
	limiter := deals.NewLimiter(mem, log.New(io.Discard, "", 0))
	deal := &deals.Deal{ID: "deal-0", ApprovalLimit: 0}
	observed := &deals.DealRequest{DealID: "deal-0", AccountID: "creator-1", Status: deals.StatusRequested}
	next := *observed
	next.Status = deals.StatusInProgress

	err := limiter.Approve(context.Background(), deal, observed, &next, []deals.Status{deals.StatusRequested})

	require.ErrorIs(t, err, deals.ErrCannotComplete)
	assert.Equal(t, deals.FailureCapacityExhausted, deals.FailureKindOf(err))
	counter, err := limiter.Counter(context.Background(), "deal-0")
	require.NoError(t, err)
	assert.False(t, counter.Exists)
}

// =============================================================================
// COMPENSATOR
// =============================================================================

func TestCompensator_Cancel_KeepsCounter(t *testing.T) {
	// GIVEN: An approved then redeemed request
	// WHEN: It is cancelled
	// THEN: The counter is unchanged and returnedApprovals goes up by exactly 1

	f := newFixture(t)
	ctx := context.Background()
	f.deal(t, "deal-1", 2)
	f.request(t, "deal-1", "creator-1")
	_, err := f.move("deal-1", "creator-1", deals.StatusInProgress)
	require.NoError(t, err)
	_, err = f.move("deal-1", "creator-1", deals.StatusRedeemed)
	require.NoError(t, err)

	_, err = f.move("deal-1", "creator-1", deals.StatusCancelled)
	require.NoError(t, err)

	deal, err := f.catalog.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deal.ReturnedApprovals)
	assert.Equal(t, int64(1), f.counter(t, "deal-1"))

	snap := f.stats(t, deals.ScopeDeal, "deal-1")
	assert.Equal(t, int64(0), snap[deals.StatCurrentRedeemed])
	assert.Equal(t, int64(1), snap[deals.StatTotalCancelled])
}

func TestCompensator_SavingDeal_KeepsReturnedApprovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.deal(t, "deal-1", 2)
	f.request(t, "deal-1", "creator-1")
	_, err := f.move("deal-1", "creator-1", deals.StatusInProgress)
	require.NoError(t, err)
	_, err = f.move("deal-1", "creator-1", deals.StatusCancelled)
	require.NoError(t, err)

	d.Title = "Renamed"
	d.ReturnedApprovals = 0
	saved, err := f.catalog.SaveDeal(ctx, d)
	require.NoError(t, err)

	assert.Equal(t, "Renamed", saved.Title)
	assert.Equal(t, int64(1), saved.ReturnedApprovals)
}

func TestCompensator_MissingDeal_Aborts(t *testing.T) {
	mem := store.NewMemory()
	comp := deals.NewCompensator(mem, log.New(io.Discard, "", 0))
	observed := &deals.DealRequest{DealID: "gone", AccountID: "creator-1", Status: deals.StatusInProgress}
	next := *observed
	next.Status = deals.StatusCancelled

	err := comp.Cancel(context.Background(), "gone", observed, &next)

	require.ErrorIs(t, err, deals.ErrCannotComplete)
	assert.Equal(t, deals.FailureInvalidTransition, deals.FailureKindOf(err))
	assert.Equal(t, 0, mem.Len())
}
