package deals

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// APPROVAL COUNTER
// =============================================================================

// ApprovalCounter is the number of approvals a deal has ever granted. It is
// monotonic: cancellation does not give the slot back. Keep it distinct from
// the releasable CurrentInProgress stat counter.
type ApprovalCounter struct {
	DealID string
	Value  int64
	Exists bool
}

// =============================================================================
// LIMITER - approvals bounded by Deal.ApprovalLimit
// =============================================================================

// Limiter guarantees that a deal never grants more than ApprovalLimit
// approvals. The guarantee comes only from one store transaction:
//
//  1. counter.value += 1   IF value does not exist OR value < approvalLimit
//  2. put request          IF status IN (expected sources) AND version = observed
//
// If either condition fails nothing is written. A single-item conditional
// write cannot bump a capped counter and flip another record together, so
// this is the one place the lifecycle pays for a cross-partition transaction.
type Limiter struct {
	store  generic.RecordStore
	logger *log.Logger
}

func NewLimiter(store generic.RecordStore, logger *log.Logger) *Limiter {
	if logger == nil {
		logger = log.Default()
	}
	return &Limiter{store: store, logger: logger}
}

// ApproveOps builds the two capacity-bearing operations. expected lists the
// statuses the stored request may be in for the approval to apply.
func (l *Limiter) ApproveOps(deal *Deal, observed, next *DealRequest, expected []Status) []generic.TxOp {
	counterUpd := generic.NewUpdate().
		SetIfAbsent("deal_id", generic.S(deal.ID)).
		AddInt(attrValue, 1)

	var counterCond generic.Condition
	if deal.ApprovalLimit > 0 {
		counterCond = generic.Or(
			generic.AttrNotExists(attrValue),
			generic.AttrLessThan(attrValue, limitDecimal(deal.ApprovalLimit)),
		)
	} else {
		// A deal without slots can never be approved
		counterCond = generic.AttrLessThan(attrValue, limitDecimal(0))
	}

	requestCond := generic.And(
		generic.AttrIn(attrStatus, statusValues(expected...)...),
		generic.VersionEquals(observed.Version),
	)

	return []generic.TxOp{
		generic.UpdateOp(ApprovalCounterKey(deal.ID), counterUpd, counterCond),
		generic.PutOp(requestToItem(next), requestCond),
	}
}

// Approve commits observed -> next (InProgress) together with riders, which
// are the counter rows the transition moves. On an aborted transaction it
// returns a *TransitionError (capacity exhausted or race lost).
func (l *Limiter) Approve(ctx context.Context, deal *Deal, observed, next *DealRequest, expected []Status, riders ...generic.TxOp) error {
	ops := append(l.ApproveOps(deal, observed, next, expected), riders...)

	err := l.store.Transact(ctx, ops)
	if err == nil {
		return nil
	}

	var canceled *generic.TransactionCanceledError
	if !errors.As(err, &canceled) {
		return fmt.Errorf("approval transaction: %w", err)
	}

	te := &TransitionError{
		DealID:    deal.ID,
		AccountID: observed.AccountID,
		From:      observed.Status,
		To:        next.Status,
	}
	switch {
	case canceled.Failed(0):
		te.Kind = FailureCapacityExhausted
		te.Reason = fmt.Sprintf("deal approval limit of %d reached", deal.ApprovalLimit)
	default:
		te.Kind = FailureRaceLost
		te.Reason = "request changed while approving"
	}
	l.logger.Printf("[Limiter] WARN: approval of %s aborted (%s): observed %s; %v",
		observed.AccountID, te.Kind, describeRequest(observed), canceled)
	return te
}

// Counter reads the deal's approval counter. Used for the soft pre-check and
// for reporting; never read-modify-written.
func (l *Limiter) Counter(ctx context.Context, dealID string) (ApprovalCounter, error) {
	item, err := l.store.Get(ctx, ApprovalCounterKey(dealID))
	if err != nil {
		return ApprovalCounter{}, err
	}
	counter := ApprovalCounter{DealID: dealID}
	if item != nil {
		counter.Value = item.Attributes.Int(attrValue)
		counter.Exists = true
	}
	return counter, nil
}
