package sequence

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/pkg/logger"
)

var tracer = otel.Tracer("ncfpos/sequence")

// Allocator hands out formatted NCFs. Allocations of the same type are serialized
// inside the process by a per-type semaphore; the Store makes the increment atomic
// across processes. Different types never wait on each other.
type Allocator struct {
	store    Store
	registry comprobante.Registry
	now      func() time.Time

	mu    sync.Mutex
	locks map[int64]*semaphore.Weighted
}

// NewAllocator creates an allocator over store, formatting with the registry's types.
func NewAllocator(store Store, registry comprobante.Registry) *Allocator {
	return &Allocator{
		store:    store,
		registry: registry,
		now:      time.Now,
		locks:    make(map[int64]*semaphore.Weighted),
	}
}

// WithClock overrides the time source for status and issue timestamps.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	a.now = now
	return a
}

func (a *Allocator) lockFor(typeID int64) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[typeID]
	if !ok {
		l = semaphore.NewWeighted(1)
		a.locks[typeID] = l
	}
	return l
}

// Allocate consumes the next number of typeID's sequence.
// Waiting for the type's lock is abandoned when ctx is done.
func (a *Allocator) Allocate(ctx context.Context, typeID int64) (Allocation, error) {
	ctx, span := tracer.Start(ctx, "sequence.Allocate")
	defer span.End()
	span.SetAttributes(attribute.Int64("ncf.type_id", typeID))

	typ, err := a.registry.Get(ctx, typeID)
	if err != nil {
		span.SetStatus(codes.Error, "unknown type")
		return Allocation{}, err
	}
	if !typ.IsFiscal {
		// Non-fiscal types have no sequence.
		return Allocation{}, apperror.NewUnknownType(typeID).WithDetail("reason", "type is not fiscal")
	}

	lock := a.lockFor(typeID)
	if err := lock.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return Allocation{}, err
	}
	seq, err := a.store.Next(ctx, typeID)
	lock.Release(1)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperror.CodeOf(err))
		if apperror.IsSequenceExhausted(err) || apperror.IsSequenceExpired(err) {
			logger.Warn(ctx, "ncf sequence refused allocation",
				"comprobante_type_id", typeID,
				"code", apperror.CodeOf(err),
			)
		}
		return Allocation{}, err
	}

	alloc := Allocation{
		TypeID:   typeID,
		Number:   seq.CurrentNumber,
		NCF:      typ.Format(seq.CurrentNumber),
		IssuedAt: a.now(),
	}
	span.SetAttributes(attribute.String("ncf", alloc.NCF))
	logger.Debug(ctx, "ncf allocated", "comprobante_type_id", typeID, "ncf", alloc.NCF)

	if left := seq.Available(); left != nil && *left <= seq.LowStockThreshold {
		logger.Warn(ctx, "ncf sequence running low",
			"comprobante_type_id", typeID,
			"available", *left,
			"threshold", seq.LowStockThreshold,
		)
	}
	return alloc, nil
}

// Peek returns the last issued number without consuming anything.
func (a *Allocator) Peek(ctx context.Context, typeID int64) (int64, error) {
	seq, err := a.store.Get(ctx, typeID)
	if err != nil {
		return 0, err
	}
	return seq.CurrentNumber, nil
}

// Status summarizes a sequence for operators.
type Status struct {
	TypeID        int64      `json:"comprobanteTypeId"`
	Prefix        string     `json:"prefix"`
	CurrentNumber int64      `json:"currentNumber"`
	LastNCF       string     `json:"lastNcf,omitempty"`
	NextNCF       string     `json:"nextNcf,omitempty"`
	MaxNumber     *int64     `json:"maxNumber,omitempty"`
	Used          int64      `json:"used"`
	Available     *int64     `json:"available,omitempty"`
	State         State      `json:"state"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysToExpiry  *int       `json:"daysToExpiry,omitempty"`
	LowStock      bool       `json:"lowStock"`
	ExpiringSoon  bool       `json:"expiringSoon"`
}

// Status reports counters, state and alerts for typeID.
func (a *Allocator) Status(ctx context.Context, typeID int64) (Status, error) {
	typ, err := a.registry.Get(ctx, typeID)
	if err != nil {
		return Status{}, err
	}
	seq, err := a.store.Get(ctx, typeID)
	if err != nil {
		return Status{}, err
	}
	return buildStatus(typ, seq, a.now()), nil
}

func buildStatus(typ comprobante.Type, seq Sequence, now time.Time) Status {
	st := Status{
		TypeID:        typ.ID,
		Prefix:        typ.Prefix,
		CurrentNumber: seq.CurrentNumber,
		MaxNumber:     seq.MaxNumber,
		Used:          seq.Used(),
		Available:     seq.Available(),
		State:         seq.StateAt(now),
		ExpiresAt:     seq.ExpiresAt,
	}
	if seq.CurrentNumber > 0 {
		st.LastNCF = typ.Format(seq.CurrentNumber)
	}
	if st.State == StateActive {
		st.NextNCF = typ.Format(seq.CurrentNumber + 1)
	}
	if st.Available != nil && *st.Available <= seq.LowStockThreshold {
		st.LowStock = true
	}
	if seq.ExpiresAt != nil {
		days := int(seq.ExpiresAt.Sub(now).Hours() / 24)
		st.DaysToExpiry = &days
		st.ExpiringSoon = st.State != StateExpired && days <= seq.ExpiryWarningDays
	}
	return st
}

// Provision creates or extends typeID's sequence. The counter is never lowered, and
// the new ceiling must still fit the type's padding width.
func (a *Allocator) Provision(ctx context.Context, update Sequence) (Sequence, error) {
	typ, err := a.registry.Get(ctx, update.TypeID)
	if err != nil {
		return Sequence{}, err
	}
	if !typ.IsFiscal {
		return Sequence{}, apperror.NewValidation("only fiscal comprobante types carry a sequence").
			WithDetail("comprobante_type_id", update.TypeID)
	}
	if update.MaxNumber == nil {
		update.MaxNumber = typ.MaxNumber
	}
	if update.MaxNumber != nil {
		check := typ
		check.MaxNumber = update.MaxNumber
		if err := check.Validate(); err != nil {
			return Sequence{}, err
		}
	}

	lock := a.lockFor(update.TypeID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return Sequence{}, err
	}
	defer lock.Release(1)

	seq, err := a.store.Provision(ctx, update)
	if err != nil {
		return Sequence{}, err
	}
	logger.Info(ctx, "ncf sequence provisioned",
		"comprobante_type_id", seq.TypeID,
		"current_number", seq.CurrentNumber,
		"start_number", seq.StartNumber,
		"max_number", seq.MaxNumber,
	)
	return seq, nil
}

// Alerts returns the status of every fiscal type whose sequence is exhausted,
// expired, low on numbers or close to expiry.
func (a *Allocator) Alerts(ctx context.Context) ([]Status, error) {
	types, err := a.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	var out []Status
	for _, typ := range types {
		if !typ.IsFiscal || !typ.Active {
			continue
		}
		seq, err := a.store.Get(ctx, typ.ID)
		if apperror.IsUnknownType(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		st := buildStatus(typ, seq, now)
		if st.State != StateActive || st.LowStock || st.ExpiringSoon {
			out = append(out, st)
		}
	}
	return out, nil
}
