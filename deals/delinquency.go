package deals

import (
	"context"
	"fmt"
)

// SweepResult summarises one SweepDelinquent run.
type SweepResult struct {
	DealID    string
	Checked   int
	Moved     []string
	Conflicts int
}

// SweepDelinquent moves every request of dealID that has outstayed its
// allowed hours in InProgress or Redeemed to Delinquent. Each move goes
// through UpdateDealRequestStatus; a request that changed under the sweep is
// counted as a conflict and left for the next run.
func (s *Service) SweepDelinquent(ctx context.Context, dealID string) (SweepResult, error) {
	result := SweepResult{DealID: dealID}
	requests, err := s.ListDealRequests(ctx, dealID)
	if err != nil {
		return result, fmt.Errorf("list requests of %s: %w", dealID, err)
	}

	now := s.now()
	for _, r := range requests {
		if r.Status != StatusInProgress && r.Status != StatusRedeemed {
			continue
		}
		result.Checked++
		deadline, ok := DelinquentAfter(r)
		if !ok || now.Before(deadline) {
			continue
		}

		_, err := s.UpdateDealRequestStatus(ctx, UpdateStatusInput{
			DealID:    dealID,
			AccountID: r.AccountID,
			Target:    StatusDelinquent,
		})
		switch {
		case err == nil:
			result.Moved = append(result.Moved, r.AccountID)
		case IsCannotComplete(err):
			result.Conflicts++
		default:
			return result, err
		}
	}

	if len(result.Moved) > 0 || result.Conflicts > 0 {
		s.logger.Printf("[Delinquency] deal %s: %d checked, %d delinquent, %d conflicts",
			dealID, result.Checked, len(result.Moved), result.Conflicts)
	}
	return result, nil
}
