/*
lifecycle.go - Deal request state machine

PURPOSE:
  Moves one account's request for one deal through its statuses. Every
  transition is validated by a pure predicate (policies.go) and then
  committed with a conditional write or, when it moves an approval slot, a
  conditional transaction.

STATES:
                       ┌──────────┐
              ┌───────▶│  Denied  │
              │        └──────────┘
  ┌─────────┐ │ ┌────────────┐   ┌──────────┐   ┌───────────┐
  │ Invited │─┼▶│ InProgress │──▶│ Redeemed │──▶│ Completed │
  └─────────┘ │ └────────────┘   └──────────┘   └───────────┘
  ┌─────────┐ │       │   │           │  │
  │Requested│─┘       │   └─────┬─────┘  │
  └─────────┘         ▼         ▼        ▼
       any non-terminal ──▶ Cancelled  Delinquent (time threshold)

COMMIT PATHS:
  approve (-> InProgress)          Limiter.Approve       one transaction
  cancel a slot holder             Compensator.Cancel    one transaction
  everything else                  conditional Put       VersionEquals(observed)

  The two transactional paths carry the stat counter rows with them, so the
  counters of a capacity-bearing transition commit or abort with it. Simple
  transitions update the counters after the commit, best effort.

FAILURES:
  Guard violations, exhausted capacity and lost races all return a
  *TransitionError that unwraps to ErrCannotComplete. Nothing is retried.
  Store failures are returned as they are.

AFTER COMMIT (never rolls back the transition):
  counters (simple paths) -> history -> notification -> metrics

SEE ALSO:
  - policies.go:    Transition predicates
  - limiter.go:     Approval slots
  - compensator.go: Cancelling an approved request
  - stats.go:       Total/Current counters
*/
package deals

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service is the request lifecycle. Build one with NewService; there is no
// package-level default.
type Service struct {
	store    generic.RecordStore
	deals    DealLookup
	accounts AccountLookup
	notifier Notifier

	limiter     *Limiter
	compensator *Compensator
	stats       *Aggregator
	history     *History

	logger  *log.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithHistory turns the status history log on or off (on by default).
func WithHistory(enabled bool) Option {
	return func(s *Service) {
		if enabled {
			s.history = NewHistory(s.store)
		} else {
			s.history = nil
		}
	}
}

// NewService wires the lifecycle. A nil notifier logs notifications.
func NewService(store generic.RecordStore, deals DealLookup, accounts AccountLookup, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		deals:    deals,
		accounts: accounts,
		notifier: notifier,
		history:  NewHistory(store),
		logger:   log.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	s.limiter = NewLimiter(store, s.logger)
	s.compensator = NewCompensator(store, s.logger)
	s.stats = NewAggregator(store, s.logger, s.metrics)
	return s
}

func (s *Service) Stats() *Aggregator { return s.stats }
func (s *Service) Limiter() *Limiter  { return s.limiter }

// History returns the status log, or nil when it is disabled.
func (s *Service) History() *History { return s.history }

// =============================================================================
// INPUTS
// =============================================================================

type RequestDealInput struct {
	DealID    string
	AccountID string
	// Create the request as Invited instead of Requested
	FromInvite bool

	// Zero takes the deal's default
	HoursAllowedInProgress int
	HoursAllowedRedeemed   int
}

func (in RequestDealInput) validate() error {
	if in.DealID == "" || in.AccountID == "" {
		return fmt.Errorf("%w: deal id and account id are required", ErrInvalidInput)
	}
	if in.HoursAllowedInProgress < 0 || in.HoursAllowedRedeemed < 0 {
		return fmt.Errorf("%w: allowed hours cannot be negative", ErrInvalidInput)
	}
	return nil
}

type UpdateStatusInput struct {
	DealID    string
	AccountID string
	Target    Status

	// Allows approving a Cancelled request
	OverrideCancelled bool
	// Stored when the target is Completed
	CompletionMediaIDs []string
}

func (in UpdateStatusInput) validate() error {
	if in.DealID == "" || in.AccountID == "" {
		return fmt.Errorf("%w: deal id and account id are required", ErrInvalidInput)
	}
	switch in.Target {
	case StatusInProgress, StatusDenied, StatusRedeemed, StatusCompleted, StatusCancelled, StatusDelinquent:
		return nil
	case StatusInvited, StatusRequested:
		return fmt.Errorf("%w: use RequestDeal to create a request", ErrInvalidInput)
	}
	return fmt.Errorf("%w: unknown target status %q", ErrInvalidInput, in.Target)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// RequestDeal creates the account's request (Unknown -> Invited|Requested).
func (s *Service) RequestDeal(ctx context.Context, in RequestDealInput) (*DealRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tc, err := s.load(ctx, in.DealID, in.AccountID)
	if err != nil {
		return nil, err
	}
	tc.FromInvite = in.FromInvite

	if te := CanBeRequested(tc); te != nil {
		s.reject(te, tc.Request)
		return nil, te
	}

	now := s.now()
	target := StatusRequested
	if in.FromInvite {
		target = StatusInvited
	}
	next := &DealRequest{
		DealID:                 in.DealID,
		AccountID:              in.AccountID,
		Status:                 target,
		ReferenceID:            newReferenceID(),
		HoursAllowedInProgress: orDefault(in.HoursAllowedInProgress, tc.Deal.HoursAllowedInProgress),
		HoursAllowedRedeemed:   orDefault(in.HoursAllowedRedeemed, tc.Deal.HoursAllowedRedeemed),
		CreatedAt:              now,
		UpdatedAt:              now,
		StatusChangedAt:        now,
	}

	// A soft-deleted request is replaced at the version it was read at
	var cond generic.Condition = generic.NotExists()
	observed := tc.Request
	if observed != nil {
		cond = generic.And(
			generic.VersionEquals(observed.Version),
			generic.AttrEquals(attrDeleted, generic.Bool(true)),
		)
		next.Version = observed.Version
	}

	if err := s.put(ctx, observed, next, cond); err != nil {
		s.failed(err)
		return nil, err
	}
	next.Version = versionOf(observed) + 1
	s.afterCommit(ctx, tc.Deal, StatusUnknown, next, false)
	return next, nil
}

// UpdateDealRequestStatus moves an existing request to in.Target.
func (s *Service) UpdateDealRequestStatus(ctx context.Context, in UpdateStatusInput) (*DealRequest, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	tc, err := s.load(ctx, in.DealID, in.AccountID)
	if err != nil {
		return nil, err
	}
	tc.OverrideCancelled = in.OverrideCancelled

	if te := CanTransition(tc, in.Target); te != nil {
		s.reject(te, tc.Request)
		return nil, te
	}

	observed := tc.Request
	now := s.now()
	next := *observed
	next.Status = in.Target
	next.PreviousStatus = observed.Status
	next.ReferenceID = newReferenceID()
	next.UpdatedAt = now
	next.StatusChangedAt = now
	if in.Target == StatusCompleted && len(in.CompletionMediaIDs) > 0 {
		next.CompletionMediaIDs = append([]string(nil), in.CompletionMediaIDs...)
	}

	change := StatChange{
		DealID:         tc.Deal.ID,
		AccountID:      in.AccountID,
		OwnerAccountID: tc.Deal.OwnerAccountID,
		From:           observed.Status,
		To:             in.Target,
		At:             now,
	}

	statsInTx := true
	switch {
	case in.Target == StatusInProgress:
		expected := []Status{StatusRequested, StatusInvited}
		if observed.Status == StatusCancelled {
			expected = []Status{StatusCancelled}
		}
		err = s.limiter.Approve(ctx, tc.Deal, observed, &next, expected, s.stats.Ops(change)...)
	case in.Target == StatusCancelled && observed.Status.HoldsApprovalSlot():
		err = s.compensator.Cancel(ctx, tc.Deal.ID, observed, &next, s.stats.Ops(change)...)
	default:
		statsInTx = false
		cond := generic.And(
			generic.VersionEquals(observed.Version),
			generic.AttrNotEquals(attrStatus, statusValue(in.Target)),
		)
		err = s.put(ctx, observed, &next, cond)
	}
	if err != nil {
		s.failed(err)
		return nil, err
	}

	next.Version = versionOf(observed) + 1
	s.afterCommit(ctx, tc.Deal, observed.Status, &next, statsInTx)
	return &next, nil
}

// Check evaluates the predicate for target against the stored state. It is
// side-effect free and meant for pre-flight validation.
func (s *Service) Check(ctx context.Context, dealID, accountID string, target Status) (*TransitionError, error) {
	tc, err := s.load(ctx, dealID, accountID)
	if err != nil {
		return nil, err
	}
	tc.FromInvite = target == StatusInvited
	return CanTransition(tc, target), nil
}

// =============================================================================
// READS AND SOFT DELETE
// =============================================================================

// GetDealRequest returns the live request of accountID on dealID.
func (s *Service) GetDealRequest(ctx context.Context, dealID, accountID string) (*DealRequest, error) {
	r, err := s.getRequest(ctx, dealID, accountID)
	if err != nil {
		return nil, err
	}
	if !r.Live() {
		return nil, fmt.Errorf("%w: %s/%s", ErrRequestNotFound, dealID, accountID)
	}
	return r, nil
}

// ListDealRequests returns the live requests of dealID ordered by account.
func (s *Service) ListDealRequests(ctx context.Context, dealID string) ([]*DealRequest, error) {
	items, err := s.store.Query(ctx, dealID, requestPrefix)
	if err != nil {
		return nil, err
	}
	var out []*DealRequest
	for i := range items {
		if r := requestFromItem(&items[i]); r.Live() {
			out = append(out, r)
		}
	}
	return out, nil
}

// DeleteDealRequest soft-deletes a request. A request holding an approval
// must be cancelled first so the slot is accounted for.
func (s *Service) DeleteDealRequest(ctx context.Context, dealID, accountID string) error {
	observed, err := s.GetDealRequest(ctx, dealID, accountID)
	if err != nil {
		return err
	}
	if observed.Status.HoldsApprovalSlot() {
		te := invalid(dealID, accountID, observed.Status, StatusUnknown, "cancel the approved request before deleting it")
		s.reject(te, observed)
		return te
	}
	// The owner is needed to release the publisher's Current* bucket
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		s.logger.Printf("[Lifecycle] ERROR: delete %s: deal lookup failed: %v", describeRequest(observed), err)
		return err
	}

	now := s.now()
	next := *observed
	next.Deleted = true
	next.UpdatedAt = now
	if err := s.put(ctx, observed, &next, generic.VersionEquals(observed.Version)); err != nil {
		s.failed(err)
		return err
	}
	next.Version = observed.Version + 1

	// The request leaves its Current* bucket
	_ = s.stats.Apply(ctx, StatChange{
		DealID:         dealID,
		AccountID:      accountID,
		OwnerAccountID: deal.OwnerAccountID,
		From:           observed.Status,
		To:             StatusUnknown,
		At:             now,
	})
	s.logger.Printf("[Lifecycle] deleted request %s", describeRequest(&next))
	return nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (s *Service) load(ctx context.Context, dealID, accountID string) (TransitionContext, error) {
	deal, err := s.deals.GetDeal(ctx, dealID)
	if err != nil {
		return TransitionContext{}, err
	}
	request, err := s.getRequest(ctx, dealID, accountID)
	if err != nil {
		return TransitionContext{}, err
	}
	counter, err := s.limiter.Counter(ctx, dealID)
	if err != nil {
		return TransitionContext{}, err
	}
	return TransitionContext{
		Deal:          deal,
		Request:       request,
		AccountID:     accountID,
		ApprovalCount: counter.Value,
		Now:           s.now(),
	}, nil
}

func (s *Service) getRequest(ctx context.Context, dealID, accountID string) (*DealRequest, error) {
	item, err := s.store.Get(ctx, RequestKey(dealID, accountID))
	if err != nil {
		return nil, err
	}
	return requestFromItem(item), nil
}

// put commits next with cond. A failed condition is a lost race: it is logged
// with both the observed and the stored state and never retried.
func (s *Service) put(ctx context.Context, observed, next *DealRequest, cond generic.Condition) error {
	_, err := s.store.Put(ctx, requestToItem(next), cond)
	if err == nil {
		return nil
	}
	if !generic.IsConditionFailed(err) {
		return fmt.Errorf("commit %s/%s: %w", next.DealID, next.AccountID, err)
	}

	from := StatusUnknown
	if observed.Live() {
		from = observed.Status
	}
	current, _ := s.getRequest(ctx, next.DealID, next.AccountID)
	s.logger.Printf("[Lifecycle] WARN: lost race on %s/%s %s -> %s: observed %s, stored %s",
		next.DealID, next.AccountID, from, next.Status, describeRequest(observed), describeRequest(current))
	return &TransitionError{
		Kind:      FailureRaceLost,
		DealID:    next.DealID,
		AccountID: next.AccountID,
		From:      from,
		To:        next.Status,
		Reason:    "request changed concurrently",
	}
}

func (s *Service) reject(te *TransitionError, observed *DealRequest) {
	s.logger.Printf("[Lifecycle] %s/%s %s -> %s rejected (%s): %s; observed %s",
		te.DealID, te.AccountID, te.From, te.To, te.Kind, te.Reason, describeRequest(observed))
	s.metrics.ObserveTransition(te.From, te.To, string(te.Kind))
}

func (s *Service) afterCommit(ctx context.Context, deal *Deal, from Status, next *DealRequest, statsInTx bool) {
	s.logger.Printf("[Lifecycle] %s/%s %s -> %s ref=%s",
		next.DealID, next.AccountID, from, next.Status, next.ReferenceID)
	s.metrics.ObserveTransition(from, next.Status, "committed")

	if !statsInTx {
		// Apply logs its own failures
		_ = s.stats.Apply(ctx, StatChange{
			DealID:         deal.ID,
			AccountID:      next.AccountID,
			OwnerAccountID: deal.OwnerAccountID,
			From:           from,
			To:             next.Status,
			At:             next.StatusChangedAt,
		})
	}

	if s.history != nil {
		err := s.history.Append(ctx, HistoryEntry{
			DealID:         next.DealID,
			AccountID:      next.AccountID,
			Status:         next.Status,
			PreviousStatus: from,
			ReferenceID:    next.ReferenceID,
			At:             next.StatusChangedAt,
		})
		if err != nil {
			s.logger.Printf("[Lifecycle] WARN: history for %s/%s not recorded: %v", next.DealID, next.AccountID, err)
		}
	}

	s.notify(ctx, deal, next)
}

func (s *Service) notify(ctx context.Context, deal *Deal, r *DealRequest) {
	recipient := notificationRecipient(deal, r)
	n := Notification{
		RecipientID:   recipient,
		RecipientName: recipient,
		DealID:        deal.ID,
		DealTitle:     deal.Title,
		AccountID:     r.AccountID,
		Event:         r.Status,
		At:            r.StatusChangedAt,
	}
	if s.accounts != nil {
		if acc, err := s.accounts.GetAccount(ctx, recipient); err == nil {
			n.RecipientName = acc.DisplayName
		}
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.metrics.IncNotifyDropped()
		s.logger.Printf("[Lifecycle] WARN: notification to %s failed: %v", recipient, err)
	}
}

// notificationRecipient: the creator's own actions go to the deal owner,
// the owner's decisions go to the creator.
func notificationRecipient(deal *Deal, r *DealRequest) string {
	switch r.Status {
	case StatusRequested, StatusRedeemed, StatusCompleted:
		return deal.OwnerAccountID
	}
	return r.AccountID
}

// failed counts a transition that did not commit.
func (s *Service) failed(err error) {
	var te *TransitionError
	if errors.As(err, &te) {
		s.metrics.ObserveTransition(te.From, te.To, string(te.Kind))
	}
}

func versionOf(r *DealRequest) int64 {
	if r == nil {
		return 0
	}
	return r.Version
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
