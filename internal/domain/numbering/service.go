// Package numbering is the boundary API of the fiscal engine: it composes the
// comprobante registry, the sequence allocator and the fiscal validator.
package numbering

import (
	"context"
	"time"

	"ncfpos/internal/core/apperror"
	appctx "ncfpos/internal/core/context"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/fiscal"
	"ncfpos/internal/domain/sequence"
	"ncfpos/pkg/logger"
)

// FiscalOrder is the host order as seen by the engine.
type FiscalOrder interface {
	OrderID() string
	FiscalState() *fiscal.Extension
}

// CustomerAware orders let the engine enforce types that require an RNC.
type CustomerAware interface {
	HasRNC() bool
}

// Allocator is the part of sequence.Allocator the service needs.
type Allocator interface {
	Allocate(ctx context.Context, typeID int64) (sequence.Allocation, error)
	Peek(ctx context.Context, typeID int64) (int64, error)
	Status(ctx context.Context, typeID int64) (sequence.Status, error)
	Alerts(ctx context.Context) ([]sequence.Status, error)
	Provision(ctx context.Context, update sequence.Sequence) (sequence.Sequence, error)
}

var _ Allocator = (*sequence.Allocator)(nil)

// Service implements the numbering operations.
type Service struct {
	registry  comprobante.Registry
	allocator Allocator
	suggester *comprobante.Suggester
	journal   Journal
	now       func() time.Time
}

// NewService wires the engine. suggester and journal may be nil.
func NewService(
	registry comprobante.Registry,
	allocator Allocator,
	suggester *comprobante.Suggester,
	journal Journal,
) *Service {
	if journal == nil {
		journal = LogJournal{}
	}
	return &Service{
		registry:  registry,
		allocator: allocator,
		suggester: suggester,
		journal:   journal,
		now:       time.Now,
	}
}

// WithClock overrides the time source for finalization timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SelectType classifies the order. For a fiscal type without a number for that
// type, a number is allocated and attached. If allocation fails the type stays
// selected, ncf stays empty and the allocation error is returned. A number held
// for a different type is detached before allocating, so a failed switch leaves
// the order with no NCF and the old number journaled as a gap.
func (s *Service) SelectType(ctx context.Context, o FiscalOrder, typeID int64) error {
	ext := o.FiscalState()
	if ext.Finalized() {
		return apperror.NewOrderFinalized(o.OrderID())
	}

	typ, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return err
	}
	if !typ.Active {
		return apperror.NewValidation("comprobante type is inactive").WithDetail("comprobante_type_id", typeID)
	}
	if typ.RequiresRNC {
		if c, ok := o.(CustomerAware); ok && !c.HasRNC() {
			return apperror.NewValidation("comprobante type requires a customer RNC").
				WithDetail("comprobante_type_id", typeID)
		}
	}

	detached, err := ext.SelectType(o.OrderID(), typ.ID, typ.IsFiscal)
	if err != nil {
		return err
	}
	if detached != "" {
		logger.Warn(ctx, "ncf detached by type change, number is a gap",
			"order_id", o.OrderID(), "ncf", detached, "comprobante_type_id", typeID)
		s.record(ctx, Event{Kind: EventDetached, OrderID: o.OrderID(), TypeID: typeID, NCF: detached})
	}

	if !typ.IsFiscal || ext.NCF != "" {
		return nil
	}

	alloc, err := s.allocator.Allocate(ctx, typ.ID)
	if err != nil {
		return err
	}
	if err := ext.AssignNumber(o.OrderID(), typ.ID, alloc.NCF); err != nil {
		return err
	}
	s.record(ctx, Event{Kind: EventAllocated, OrderID: o.OrderID(), TypeID: typ.ID, NCF: alloc.NCF})
	return nil
}

// OverrideNumber attaches a manually entered NCF. Manual numbers form a separate
// track: they are never registered with the allocator, so a number inside the
// type's unissued range may later be issued again and is logged as a warning.
func (s *Service) OverrideNumber(ctx context.Context, o FiscalOrder, ncf string) error {
	ext := o.FiscalState()
	if ext.Finalized() {
		return apperror.NewOrderFinalized(o.OrderID())
	}
	if ext.TypeID == 0 {
		return apperror.NewValidation("select a comprobante type before entering an NCF")
	}

	typ, err := s.registry.Get(ctx, ext.TypeID)
	if err != nil {
		return err
	}
	if !typ.IsFiscal {
		return apperror.NewValidation("comprobante type is not fiscal").WithDetail("comprobante_type_id", typ.ID)
	}

	ncf = fiscal.Normalize(ncf)
	if err := fiscal.CheckFormat(ncf, typ); err != nil {
		return err
	}

	prevSource := ext.NCFSource
	replaced, err := ext.OverrideNumber(o.OrderID(), ncf)
	if err != nil {
		return err
	}
	if replaced != "" && replaced != ncf && prevSource == fiscal.SourceAllocated {
		logger.Warn(ctx, "allocated ncf replaced by manual entry, number is a gap",
			"order_id", o.OrderID(), "ncf", replaced)
		s.record(ctx, Event{Kind: EventDetached, OrderID: o.OrderID(), TypeID: typ.ID, NCF: replaced})
	}

	if n, ok := typ.Parse(ncf); ok {
		if last, err := s.allocator.Peek(ctx, typ.ID); err == nil && n > last {
			logger.Warn(ctx, "manual ncf falls in the unissued range of its sequence",
				"order_id", o.OrderID(), "ncf", ncf, "last_issued", last)
		}
	}

	s.record(ctx, Event{Kind: EventManual, OrderID: o.OrderID(), TypeID: typ.ID, NCF: ncf})
	return nil
}

// CanFinalize reports whether the order may be finalized.
func (s *Service) CanFinalize(_ context.Context, o FiscalOrder) error {
	ext := o.FiscalState()
	if ext.Finalized() {
		return apperror.NewOrderFinalized(o.OrderID())
	}
	return fiscal.ValidateForFinalize(ext)
}

// Finalize freezes the fiscal state. It fails with FISCAL_NUMBER_MISSING for a
// fiscal order without an NCF.
func (s *Service) Finalize(ctx context.Context, o FiscalOrder) error {
	ext := o.FiscalState()
	if err := ext.Finalize(o.OrderID(), s.now()); err != nil {
		return err
	}
	if ext.EsFiscal {
		s.record(ctx, Event{
			Kind:    EventFinalized,
			OrderID: o.OrderID(),
			TypeID:  ext.TypeID,
			NCF:     ext.NCF,
			Details: map[string]any{"source": ext.NCFSource},
		})
	}
	return nil
}

// Void annuls the NCF held by an open order. Sequences are never rolled back.
func (s *Service) Void(ctx context.Context, o FiscalOrder, reason string) error {
	ext := o.FiscalState()
	if ext.Finalized() {
		return apperror.NewOrderFinalized(o.OrderID())
	}
	if ext.NCF != "" {
		logger.Warn(ctx, "order voided holding an ncf, number is annulled",
			"order_id", o.OrderID(), "ncf", ext.NCF)
		s.record(ctx, Event{
			Kind:    EventVoided,
			OrderID: o.OrderID(),
			TypeID:  ext.TypeID,
			NCF:     ext.NCF,
			Details: map[string]any{"reason": reason, "source": ext.NCFSource},
		})
	}
	return nil
}

// GenerateNumber allocates a number without an order. Errors are reported in the
// result, never returned.
func (s *Service) GenerateNumber(ctx context.Context, typeID int64) Result {
	typ, err := s.registry.Get(ctx, typeID)
	if err != nil {
		return ErrorFrom(typeID, err)
	}
	if !typ.IsFiscal {
		return Result{TypeID: typeID}
	}

	alloc, err := s.allocator.Allocate(ctx, typeID)
	if err != nil {
		return ErrorFrom(typeID, err)
	}
	return Result{TypeID: typeID, NCF: alloc.NCF, Number: alloc.Number, EsFiscal: true}
}

// SuggestType proposes a type for a sale from the catalog rules.
func (s *Service) SuggestType(ctx context.Context, facts comprobante.Facts) (comprobante.Type, bool, error) {
	if s.suggester == nil {
		return comprobante.Type{}, false, nil
	}
	return s.suggester.Suggest(ctx, facts)
}

// ListTypes returns the active, for-sale types in id order.
func (s *Service) ListTypes(ctx context.Context) ([]comprobante.Type, error) {
	return comprobante.ListForSale(ctx, s.registry)
}

// GetType returns one catalog entry.
func (s *Service) GetType(ctx context.Context, typeID int64) (comprobante.Type, error) {
	return s.registry.Get(ctx, typeID)
}

// SequenceStatus reports counters and alerts for typeID's sequence.
func (s *Service) SequenceStatus(ctx context.Context, typeID int64) (sequence.Status, error) {
	return s.allocator.Status(ctx, typeID)
}

// SequenceAlerts lists the sequences that need operator attention.
func (s *Service) SequenceAlerts(ctx context.Context) ([]sequence.Status, error) {
	return s.allocator.Alerts(ctx)
}

// ProvisionSequence creates typeID's sequence or loads a new authorized range.
func (s *Service) ProvisionSequence(ctx context.Context, update sequence.Sequence) (sequence.Status, error) {
	if _, err := s.allocator.Provision(ctx, update); err != nil {
		return sequence.Status{}, err
	}
	return s.allocator.Status(ctx, update.TypeID)
}

func (s *Service) record(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	if e.TerminalID == "" {
		e.TerminalID = appctx.GetTerminalID(ctx)
	}
	if p := pendingFrom(ctx); p != nil && e.Kind != EventAllocated {
		p.events = append(p.events, e)
		return
	}
	s.write(ctx, e)
}

func (s *Service) write(ctx context.Context, e Event) {
	if err := s.journal.Record(ctx, e); err != nil {
		logger.Error(ctx, "failed to record fiscal event", "kind", e.Kind, "ncf", e.NCF, "error", err)
	}
}
