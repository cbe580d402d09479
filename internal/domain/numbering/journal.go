package numbering

import (
	"context"
	"sync"
	"time"

	"ncfpos/pkg/logger"
)

// EventKind classifies fiscal journal entries.
type EventKind string

const (
	EventAllocated EventKind = "allocated"
	EventManual    EventKind = "manual"
	EventFinalized EventKind = "finalized"

	// EventDetached marks an allocated number dropped by a type change. It is a gap.
	EventDetached EventKind = "detached"
	// EventVoided marks the NCF of a voided order as annulled.
	EventVoided EventKind = "voided"
)

// Event is one fiscal fact about an order's NCF.
type Event struct {
	Kind       EventKind      `json:"kind"`
	OrderID    string         `json:"orderId"`
	TypeID     int64          `json:"comprobanteTypeId"`
	NCF        string         `json:"ncf,omitempty"`
	TerminalID string         `json:"terminalId,omitempty"`
	At         time.Time      `json:"at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Journal records fiscal events for audit and the annulled-NCF report.
type Journal interface {
	Record(ctx context.Context, e Event) error
}

// JournalReader returns the recorded events of one order, oldest first.
type JournalReader interface {
	Events(ctx context.Context, orderID string) ([]Event, error)
}

// LogJournal writes events to the structured log only.
type LogJournal struct{}

// Record implements Journal.
func (LogJournal) Record(ctx context.Context, e Event) error {
	logger.Info(ctx, "fiscal event",
		"kind", e.Kind,
		"order_id", e.OrderID,
		"comprobante_type_id", e.TypeID,
		"ncf", e.NCF,
	)
	return nil
}

// MemoryJournal keeps events in process memory and logs them.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []Event
}

var (
	_ Journal       = (*MemoryJournal)(nil)
	_ JournalReader = (*MemoryJournal)(nil)
)

// NewMemoryJournal creates an empty journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Record implements Journal.
func (j *MemoryJournal) Record(ctx context.Context, e Event) error {
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
	return LogJournal{}.Record(ctx, e)
}

// Events implements JournalReader.
func (j *MemoryJournal) Events(_ context.Context, orderID string) ([]Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]Event, 0)
	for _, e := range j.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

type pendingKey struct{}

// Pending holds the events of one order change until the change is saved.
type Pending struct {
	events []Event
}

// WithPending makes the engine hold order events in the returned Pending
// instead of recording them. Allocations are recorded at once: the number is
// consumed whether or not the order is saved.
func WithPending(ctx context.Context) (context.Context, *Pending) {
	p := &Pending{}
	return context.WithValue(ctx, pendingKey{}, p), p
}

func pendingFrom(ctx context.Context) *Pending {
	p, _ := ctx.Value(pendingKey{}).(*Pending)
	return p
}

// Commit records the events held by p. Call it once the order is saved.
func (s *Service) Commit(ctx context.Context, p *Pending) {
	if p == nil {
		return
	}
	for _, e := range p.events {
		s.write(ctx, e)
	}
	p.events = nil
}
