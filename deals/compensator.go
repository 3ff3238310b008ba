package deals

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/warp/deal-engine/generic"
)

// Compensator cancels requests that hold an approval. In one transaction it
//
//  1. adds 1 to Deal.returned_approvals  IF the deal exists
//  2. puts the request as Cancelled      IF status IN (in_progress, redeemed) AND version = observed
//
// The ApprovalCounter is NOT decremented: it bounds lifetime approvals.
// ReturnedApprovals is for reporting only.
type Compensator struct {
	store  generic.RecordStore
	logger *log.Logger
}

func NewCompensator(store generic.RecordStore, logger *log.Logger) *Compensator {
	if logger == nil {
		logger = log.Default()
	}
	return &Compensator{store: store, logger: logger}
}

// CancelOps builds the two slot-returning operations.
func (c *Compensator) CancelOps(dealID string, observed, next *DealRequest) []generic.TxOp {
	dealUpd := generic.NewUpdate().AddInt(attrReturnedApprovals, 1)
	requestCond := generic.And(
		generic.AttrIn(attrStatus, statusValues(StatusInProgress, StatusRedeemed)...),
		generic.VersionEquals(observed.Version),
	)
	return []generic.TxOp{
		generic.UpdateOp(DealKey(dealID), dealUpd, generic.Exists()),
		generic.PutOp(requestToItem(next), requestCond),
	}
}

// Cancel commits observed -> next (Cancelled) with riders in one transaction.
func (c *Compensator) Cancel(ctx context.Context, dealID string, observed, next *DealRequest, riders ...generic.TxOp) error {
	ops := append(c.CancelOps(dealID, observed, next), riders...)

	err := c.store.Transact(ctx, ops)
	if err == nil {
		return nil
	}

	var canceled *generic.TransactionCanceledError
	if !errors.As(err, &canceled) {
		return fmt.Errorf("cancellation transaction: %w", err)
	}

	te := &TransitionError{
		Kind:      FailureRaceLost,
		DealID:    dealID,
		AccountID: observed.AccountID,
		From:      observed.Status,
		To:        next.Status,
		Reason:    "request changed while cancelling",
	}
	if canceled.Failed(0) {
		te.Kind = FailureInvalidTransition
		te.Reason = "deal no longer exists"
	}
	c.logger.Printf("[Compensator] WARN: cancellation of %s aborted (%s): observed %s; %v",
		observed.AccountID, te.Kind, describeRequest(observed), canceled)
	return te
}
