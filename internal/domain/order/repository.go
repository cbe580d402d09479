package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/id"
)

// Repository persists orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, orderID id.ID) (*Order, error)

	// Update loads the order exclusively, applies fn and saves the result.
	// Nothing is written when fn fails.
	Update(ctx context.Context, orderID id.ID, fn func(o *Order) error) (*Order, error)

	List(ctx context.Context, filter ListFilter) ([]*Order, error)
}

// ListFilter selects orders. The date range applies to finalized_at when
// Status is finalized, to voided_at when voided, and to created_at otherwise.
type ListFilter struct {
	Status     *Status
	FiscalOnly bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

func (f ListFilter) timeOf(o *Order) time.Time {
	switch {
	case f.Status != nil && *f.Status == StatusFinalized && o.Fiscal.FinalizedAt != nil:
		return *o.Fiscal.FinalizedAt
	case f.Status != nil && *f.Status == StatusVoided && o.VoidedAt != nil:
		return *o.VoidedAt
	default:
		return o.CreatedAt
	}
}

func (f ListFilter) matches(o *Order) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.FiscalOnly && !o.Fiscal.EsFiscal {
		return false
	}
	t := f.timeOf(o)
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.Before(*f.To) {
		return false
	}
	return true
}

// MemoryRepository keeps orders in memory. Update holds a per-order lock, so
// updates of different orders run in parallel. An NCF belongs to at most one
// order, voided orders included.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[id.ID]*Order
	locks  map[id.ID]*sync.Mutex
	byNCF  map[string]id.ID
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[id.ID]*Order),
		locks:  make(map[id.ID]*sync.Mutex),
		byNCF:  make(map[string]id.ID),
	}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[o.ID]; exists {
		return apperror.NewConflict("order already exists").WithDetail("order_id", o.OrderID())
	}
	if err := r.checkNCF(o); err != nil {
		return err
	}
	cp := *o
	r.orders[o.ID] = &cp
	r.locks[o.ID] = &sync.Mutex{}
	if o.Fiscal.NCF != "" {
		r.byNCF[o.Fiscal.NCF] = o.ID
	}
	return nil
}

// GetByID implements Repository.
func (r *MemoryRepository) GetByID(_ context.Context, orderID id.ID) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, apperror.NewNotFound("order", orderID.String())
	}
	cp := *o
	return &cp, nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(ctx context.Context, orderID id.ID, fn func(o *Order) error) (*Order, error) {
	r.mu.RLock()
	lock, ok := r.locks[orderID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperror.NewNotFound("order", orderID.String())
	}

	lock.Lock()
	defer lock.Unlock()

	o, err := r.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNCF(o); err != nil {
		return nil, err
	}
	if prev := r.orders[orderID].Fiscal.NCF; prev != "" && prev != o.Fiscal.NCF {
		delete(r.byNCF, prev)
	}
	if o.Fiscal.NCF != "" {
		r.byNCF[o.Fiscal.NCF] = orderID
	}
	stored := *o
	r.orders[orderID] = &stored
	return o, nil
}

// checkNCF must be called with mu held.
func (r *MemoryRepository) checkNCF(o *Order) error {
	if o.Fiscal.NCF == "" {
		return nil
	}
	if owner, ok := r.byNCF[o.Fiscal.NCF]; ok && owner != o.ID {
		return apperror.NewConflict("NCF already used by another order").WithDetail("ncf", o.Fiscal.NCF)
	}
	return nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Order, error) {
	r.mu.RLock()
	out := make([]*Order, 0)
	for _, o := range r.orders {
		if filter.matches(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := filter.timeOf(out[i]), filter.timeOf(out[j])
		if ti.Equal(tj) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return ti.Before(tj)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
