package comprobante

import (
	"context"
	"sort"
	"sync"

	"ncfpos/internal/core/apperror"
)

// Registry is the read-only view of the comprobante catalog used by the engine.
type Registry interface {
	// Get returns the type with the given id or an UNKNOWN_TYPE error.
	Get(ctx context.Context, id int64) (Type, error)

	// List returns every type ordered by id.
	List(ctx context.Context) ([]Type, error)
}

// StaticRegistry is an in-memory Registry populated by a load step
// (YAML catalog or the comprobante_types table). Reads never block each other.
type StaticRegistry struct {
	mu     sync.RWMutex
	byID   map[int64]Type
	sorted []Type
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry validates and indexes the given types.
func NewStaticRegistry(types []Type) (*StaticRegistry, error) {
	r := &StaticRegistry{}
	if err := r.Replace(types); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the whole catalog atomically. On error the current catalog is kept.
func (r *StaticRegistry) Replace(types []Type) error {
	byID := make(map[int64]Type, len(types))
	codes := make(map[string]int64, len(types))

	for _, t := range types {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := byID[t.ID]; dup {
			return apperror.NewValidation("duplicate comprobante type id").WithDetail("id", t.ID)
		}
		if other, dup := codes[t.Code]; dup {
			return apperror.NewValidation("duplicate comprobante type code").
				WithDetail("code", t.Code).
				WithDetail("ids", []int64{other, t.ID})
		}
		byID[t.ID] = t
		codes[t.Code] = t.ID
	}

	sorted := make([]Type, 0, len(byID))
	for _, t := range byID {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	r.mu.Lock()
	r.byID = byID
	r.sorted = sorted
	r.mu.Unlock()
	return nil
}

// Get implements Registry.
func (r *StaticRegistry) Get(_ context.Context, id int64) (Type, error) {
	r.mu.RLock()
	t, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return Type{}, apperror.NewUnknownType(id)
	}
	return t, nil
}

// List implements Registry.
func (r *StaticRegistry) List(_ context.Context) ([]Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, len(r.sorted))
	copy(out, r.sorted)
	return out, nil
}

// ListForSale returns active types usable at the point of sale, ordered by id.
func ListForSale(ctx context.Context, reg Registry) ([]Type, error) {
	all, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Type, 0, len(all))
	for _, t := range all {
		if t.Active && t.ForSale {
			out = append(out, t)
		}
	}
	return out, nil
}
