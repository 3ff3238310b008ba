package deals

import (
	"context"
	"log"
	"sync"
	"time"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notification tells one account about one lifecycle event on one deal.
type Notification struct {
	RecipientID   string
	RecipientName string
	DealID        string
	DealTitle     string
	AccountID     string
	Event         Status
	At            time.Time
}

// Notifier accepts fire-and-forget notifications. A failure here never rolls
// back the transition that produced the notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to a logger. It is the default sink when
// no delivery channel is configured.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("[Notify] %s (%s): deal %q request by %s is now %s",
		n.RecipientID, n.RecipientName, n.DealTitle, n.AccountID, n.Event)
	return nil
}

// =============================================================================
// ASYNC NOTIFIER - bounded queue in front of a slow sink
// =============================================================================

// AsyncNotifier queues notifications for a background worker. When the queue
// is full the notification is dropped and counted.
type AsyncNotifier struct {
	sink    Notifier
	logger  *log.Logger
	metrics *Metrics
	timeout time.Duration

	queue  chan Notification
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

func NewAsyncNotifier(sink Notifier, queueSize int, logger *log.Logger, metrics *Metrics) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	return &AsyncNotifier{
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		timeout: 10 * time.Second,
		queue:   make(chan Notification, queueSize),
	}
}

// Start launches the delivery worker.
func (a *AsyncNotifier) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop drains the queue and waits for the worker to exit.
func (a *AsyncNotifier) Stop() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// Notify enqueues n without blocking.
func (a *AsyncNotifier) Notify(_ context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.metrics.IncNotifyDropped()
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.metrics.IncNotifyDropped()
		a.logger.Printf("[Notify] WARN: queue full, dropping %s for %s", n.Event, n.RecipientID)
	}
	return nil
}

func (a *AsyncNotifier) run() {
	defer a.wg.Done()
	for n := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Notify(ctx, n); err != nil {
			a.metrics.IncNotifyDropped()
			a.logger.Printf("[Notify] WARN: delivery to %s failed: %v", n.RecipientID, err)
		}
		cancel()
	}
}
