package deals_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/deals"
)

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestAsyncNotifier_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	sink := deals.NotifierFunc(func(_ context.Context, n deals.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n.AccountID)
		return nil
	})

	async := deals.NewAsyncNotifier(sink, 8, log.New(io.Discard, "", 0), nil)
	async.Start()
	for _, acc := range []string{"a", "b", "c"} {
		require.NoError(t, async.Notify(context.Background(), deals.Notification{AccountID: acc}))
	}
	async.Stop()

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAsyncNotifier_DropsWhenFullOrStopped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := deals.MustNewMetrics(reg)

	release := make(chan struct{})
	sink := deals.NotifierFunc(func(ctx context.Context, _ deals.Notification) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	async := deals.NewAsyncNotifier(sink, 1, log.New(io.Discard, "", 0), metrics)
	// Not started: the queue holds one notification, the second is dropped
	require.NoError(t, async.Notify(context.Background(), deals.Notification{AccountID: "a"}))
	require.NoError(t, async.Notify(context.Background(), deals.Notification{AccountID: "b"}))
	assert.Equal(t, float64(1), counterValue(t, reg, "deal_engine_notify_dropped_total"))

	async.Start()
	close(release)
	async.Stop()

	require.NoError(t, async.Notify(context.Background(), deals.Notification{AccountID: "c"}))
	assert.Equal(t, float64(2), counterValue(t, reg, "deal_engine_notify_dropped_total"))
}

func TestMetrics_CountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t)
	svc := deals.NewService(f.store, f.catalog, nil, nil,
		deals.WithLogger(log.New(io.Discard, "", 0)),
		deals.WithMetrics(deals.MustNewMetrics(reg)),
		deals.WithClock(func() time.Time { return time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC) }),
	)
	f.deal(t, "deal-1", 1)
	ctx := context.Background()

	_, err := svc.RequestDeal(ctx, deals.RequestDealInput{DealID: "deal-1", AccountID: "creator-1"})
	require.NoError(t, err)
	_, err = svc.RequestDeal(ctx, deals.RequestDealInput{DealID: "deal-1", AccountID: "creator-1"})
	require.Error(t, err)

	assert.Equal(t, float64(2), counterValue(t, reg, "deal_engine_lifecycle_transitions_total"))
}

func TestMetrics_RegisterTwice_ReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		deals.MustNewMetrics(reg)
		deals.MustNewMetrics(reg)
	})

	var nilMetrics *deals.Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveTransition(deals.StatusUnknown, deals.StatusRequested, "committed") })
}

func TestLogNotifier(t *testing.T) {
	var buf syncBuffer
	n := deals.LogNotifier{Logger: log.New(&buf, "", 0)}

	require.NoError(t, n.Notify(context.Background(), deals.Notification{
		RecipientID: "brand-1", RecipientName: "Acme", DealTitle: "Launch", AccountID: "creator-1", Event: deals.StatusRequested,
	}))
	assert.Contains(t, buf.String(), `deal "Launch" request by creator-1 is now requested`)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
