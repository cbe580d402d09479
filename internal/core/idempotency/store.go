// Package idempotency lets a terminal retry a mutating request after a lost
// response without running it twice. A retried number request replays the NCF
// issued the first time instead of burning another one.
package idempotency

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ncfpos/internal/core/apperror"
)

// Status of a stored key.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// StaleAfter is when a pending key is considered abandoned and may be reclaimed.
const StaleAfter = time.Minute

// Request identifies the call a key was first used for.
type Request struct {
	Key        string
	TerminalID string
	Operation  string
	Hash       string
}

// Replay is a stored response.
type Replay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Store persists keys.
type Store interface {
	// Acquire claims the key. It returns (nil, nil) when the caller should run the
	// request, a Replay when it already completed, IDEMPOTENCY_IN_PROGRESS while
	// another attempt is running and IDEMPOTENCY_KEY_REUSED for a different request.
	Acquire(ctx context.Context, req Request) (*Replay, error)

	// Complete stores the response for replay.
	Complete(ctx context.Context, key string, resp Replay) error

	// Release drops a pending key so the request can be retried from scratch.
	Release(ctx context.Context, key string) error
}

// Normalize fills defaults of a replay read back from storage.
func (r Replay) Normalize() Replay {
	if r.StatusCode == 0 {
		r.StatusCode = http.StatusOK
	}
	if r.ContentType == "" {
		r.ContentType = "application/json"
	}
	return r
}

// Check compares a stored record with an incoming request.
func Check(stored, incoming Request) error {
	if stored.TerminalID != incoming.TerminalID ||
		stored.Operation != incoming.Operation ||
		stored.Hash != incoming.Hash {
		return apperror.NewIdempotencyMismatch(incoming.Key).
			WithDetail("operation", stored.Operation)
	}
	return nil
}

type entry struct {
	req       Request
	status    Status
	replay    Replay
	updatedAt time.Time
	expiresAt time.Time
}

// MemoryStore keeps keys in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store; ttl <= 0 uses DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{entries: make(map[string]*entry), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, req Request) (*Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[req.Key]
	if !ok || now.After(e.expiresAt) {
		s.entries[req.Key] = &entry{req: req, status: StatusPending, updatedAt: now, expiresAt: now.Add(s.ttl)}
		return nil, nil
	}
	if err := Check(e.req, req); err != nil {
		return nil, err
	}
	if e.status == StatusDone {
		r := e.replay.Normalize()
		return &r, nil
	}
	if now.Sub(e.updatedAt) > StaleAfter {
		e.updatedAt = now
		return nil, nil
	}
	return nil, apperror.NewIdempotencyInProgress(req.Key)
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, resp Replay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.status = StatusDone
		e.replay = resp
		e.updatedAt = s.now()
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.status == StatusPending {
		delete(s.entries, key)
	}
	return nil
}

// Cleanup removes expired keys and returns how many were dropped.
func (s *MemoryStore) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}
