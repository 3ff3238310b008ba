/*
scheduler.go - Automated delinquency sweep

PURPOSE:
  Periodically moves requests whose InProgress or Redeemed allowance has run
  out to Delinquent. Each move is an ordinary conditional transition, so a
  request that changes concurrently is skipped and retried next tick.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - Shares Handler.SweepAll with POST /api/admin/sweep

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 15 minutes)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewDelinquencyScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - deals/delinquency.go: per-deal sweep
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// DelinquencyScheduler runs the delinquency sweep on a ticker.
type DelinquencyScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	Logger        *log.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu  sync.Mutex
	lastRun SweepDTO
	lastAt  time.Time
}

// NewDelinquencyScheduler creates a new scheduler.
func NewDelinquencyScheduler(handler *Handler) *DelinquencyScheduler {
	return &DelinquencyScheduler{
		Handler:       handler,
		CheckInterval: 15 * time.Minute,
		Enabled:       true,
		Logger:        log.Default(),
	}
}

// Start begins the scheduler.
func (ds *DelinquencyScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled || ds.CheckInterval <= 0 {
		ds.Logger.Println("[Scheduler] Disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)

	go ds.run()

	ds.Logger.Printf("[Scheduler] Started with check interval: %v", ds.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (ds *DelinquencyScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.Logger.Println("[Scheduler] Stopped")
	}
}

func (ds *DelinquencyScheduler) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.RunNow()

	for {
		select {
		case <-ds.ticker.C:
			ds.RunNow()
		case <-ds.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ds *DelinquencyScheduler) RunNow() SweepDTO {
	ctx, cancel := context.WithTimeout(context.Background(), ds.timeout())
	defer cancel()

	result, err := ds.Handler.SweepAll(ctx)
	if err != nil {
		ds.Logger.Printf("[Scheduler] Sweep failed after %d deals: %v", result.Deals, err)
	} else if len(result.Moved) > 0 || result.Conflicts > 0 {
		ds.Logger.Printf("[Scheduler] Completed: %d checked, %d moved to delinquent, %d conflicts",
			result.Checked, len(result.Moved), result.Conflicts)
	}

	ds.lastMu.Lock()
	ds.lastRun, ds.lastAt = result, time.Now()
	ds.lastMu.Unlock()
	return result
}

// LastRun returns the result of the most recent sweep and when it finished.
func (ds *DelinquencyScheduler) LastRun() (SweepDTO, time.Time) {
	ds.lastMu.Lock()
	defer ds.lastMu.Unlock()
	return ds.lastRun, ds.lastAt
}

// A sweep never outlives one interval.
func (ds *DelinquencyScheduler) timeout() time.Duration {
	if ds.CheckInterval > 0 {
		return ds.CheckInterval
	}
	return time.Minute
}
