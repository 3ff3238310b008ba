package deals

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// DealLookup resolves a deal by id. Returns ErrDealNotFound when absent.
type DealLookup interface {
	GetDeal(ctx context.Context, dealID string) (*Deal, error)
}

// AccountLookup resolves an account for notification payloads only.
type AccountLookup interface {
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// =============================================================================
// DEAL CATALOG - RecordStore-backed DealLookup
// =============================================================================

// DealCatalog stores deals in the same RecordStore the lifecycle writes to,
// so the Compensator can update returned_approvals transactionally.
type DealCatalog struct {
	store generic.RecordStore
	now   func() time.Time
}

func NewDealCatalog(store generic.RecordStore) *DealCatalog {
	return &DealCatalog{store: store, now: time.Now}
}

var _ DealLookup = (*DealCatalog)(nil)

func (c *DealCatalog) GetDeal(ctx context.Context, dealID string) (*Deal, error) {
	item, err := c.store.Get(ctx, DealKey(dealID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrDealNotFound, dealID)
	}
	return dealFromItem(item), nil
}

// SaveDeal creates or updates a deal. returned_approvals is owned by the
// lifecycle and is never overwritten here.
func (c *DealCatalog) SaveDeal(ctx context.Context, d *Deal) (*Deal, error) {
	if d.ID == "" || d.OwnerAccountID == "" {
		return nil, fmt.Errorf("%w: deal id and owner are required", ErrInvalidInput)
	}
	now := c.now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	upd := generic.NewUpdate()
	for name, v := range dealToItem(d).Attributes {
		switch name {
		case attrReturnedApprovals:
			upd.SetIfAbsent(name, generic.NInt(0))
		case "created_at":
			upd.SetIfAbsent(name, v)
		default:
			upd.Set(name, v)
		}
	}
	if len(d.Invitees) == 0 {
		upd.Remove("invitees")
	}

	item, err := c.store.Update(ctx, DealKey(d.ID), upd, nil)
	if err != nil {
		return nil, fmt.Errorf("save deal %s: %w", d.ID, err)
	}
	return dealFromItem(item), nil
}

// ListDeals returns every deal in the catalog ordered by id.
func (c *DealCatalog) ListDeals(ctx context.Context) ([]*Deal, error) {
	items, err := c.store.Query(ctx, dealsPartition, "")
	if err != nil {
		return nil, err
	}
	out := make([]*Deal, 0, len(items))
	for i := range items {
		out = append(out, dealFromItem(&items[i]))
	}
	return out, nil
}

// =============================================================================
// ACCOUNT DIRECTORY - RecordStore-backed AccountLookup
// =============================================================================

type AccountDirectory struct {
	store generic.RecordStore
}

func NewAccountDirectory(store generic.RecordStore) *AccountDirectory {
	return &AccountDirectory{store: store}
}

var _ AccountLookup = (*AccountDirectory)(nil)

func (d *AccountDirectory) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	item, err := d.store.Get(ctx, AccountKey(accountID))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return accountFromItem(item), nil
}

func (d *AccountDirectory) SaveAccount(ctx context.Context, acc *Account) error {
	if acc.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	if _, err := d.store.Put(ctx, accountToItem(acc), nil); err != nil {
		return fmt.Errorf("save account %s: %w", acc.ID, err)
	}
	return nil
}
