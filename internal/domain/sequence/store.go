package sequence

import (
	"context"
	"sync"
	"time"

	"ncfpos/internal/core/apperror"
)

// Store persists sequences. Next must be atomic across every process sharing the
// backend: it increments and returns the sequence only when the counter is below
// MaxNumber and the sequence has not expired, and leaves it untouched otherwise.
type Store interface {
	// Next increments the counter and returns the sequence after the increment.
	// Errors: UNKNOWN_TYPE, SEQUENCE_EXHAUSTED, SEQUENCE_EXPIRED.
	Next(ctx context.Context, typeID int64) (Sequence, error)

	// Get returns the sequence without mutating it. Errors: UNKNOWN_TYPE.
	Get(ctx context.Context, typeID int64) (Sequence, error)

	// Provision creates or updates a sequence using Merge semantics.
	Provision(ctx context.Context, seq Sequence) (Sequence, error)
}

// Merge applies an operator update to an existing sequence (nil when creating one).
// The counter is never lowered: a new range may only start after the last issued number.
func Merge(existing *Sequence, update Sequence, now time.Time) (Sequence, error) {
	if update.StartNumber < 1 {
		update.StartNumber = 1
	}
	if update.LowStockThreshold <= 0 {
		update.LowStockThreshold = DefaultLowStockThreshold
	}
	if update.ExpiryWarningDays <= 0 {
		update.ExpiryWarningDays = DefaultExpiryWarningDays
	}

	merged := update
	merged.UpdatedAt = now
	merged.CurrentNumber = update.StartNumber - 1

	if existing != nil {
		if existing.CurrentNumber >= update.StartNumber {
			merged.CurrentNumber = existing.CurrentNumber
			merged.StartNumber = existing.StartNumber
		}
	}

	if merged.MaxNumber != nil && *merged.MaxNumber < merged.CurrentNumber {
		return Sequence{}, apperror.NewConflict("max number is below the last issued number").
			WithDetail("comprobante_type_id", merged.TypeID).
			WithDetail("current_number", merged.CurrentNumber).
			WithDetail("max_number", *merged.MaxNumber)
	}
	return merged, nil
}

// ErrorFor maps a sequence that refused an increment to its domain error.
func ErrorFor(seq Sequence, now time.Time) error {
	if seq.ExpiredAt(now) {
		return apperror.NewSequenceExpired(seq.TypeID, seq.ExpiresAt.Format(time.DateOnly))
	}
	if seq.Exhausted() {
		return apperror.NewSequenceExhausted(seq.TypeID, *seq.MaxNumber)
	}
	return nil
}

// MemoryStore keeps sequences in process memory. It is the backend for tests and
// single-terminal deployments.
type MemoryStore struct {
	mu   sync.Mutex
	seqs map[int64]Sequence
	now  func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seqs: make(map[int64]Sequence),
		now:  time.Now,
	}
}

// WithClock overrides the time source used for expiry checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Next implements Store.
func (s *MemoryStore) Next(ctx context.Context, typeID int64) (Sequence, error) {
	if err := ctx.Err(); err != nil {
		return Sequence{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[typeID]
	if !ok {
		return Sequence{}, apperror.NewUnknownType(typeID)
	}
	if err := ErrorFor(seq, s.now()); err != nil {
		return Sequence{}, err
	}

	seq.CurrentNumber++
	seq.UpdatedAt = s.now()
	s.seqs[typeID] = seq
	return seq, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, typeID int64) (Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.seqs[typeID]
	if !ok {
		return Sequence{}, apperror.NewUnknownType(typeID)
	}
	return seq, nil
}

// Provision implements Store.
func (s *MemoryStore) Provision(_ context.Context, update Sequence) (Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Sequence
	if cur, ok := s.seqs[update.TypeID]; ok {
		existing = &cur
	}
	merged, err := Merge(existing, update, s.now())
	if err != nil {
		return Sequence{}, err
	}
	s.seqs[update.TypeID] = merged
	return merged, nil
}
