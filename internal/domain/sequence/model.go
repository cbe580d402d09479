// Package sequence allocates NCF counters, one monotonically increasing sequence per
// fiscal comprobante type.
package sequence

import (
	"time"
)

// State is the derived condition of a sequence.
type State string

const (
	StateActive    State = "active"
	StateExhausted State = "exhausted"
	StateExpired   State = "expired"
)

const (
	DefaultLowStockThreshold = 10
	DefaultExpiryWarningDays = 30
)

// Sequence is the persistent counter for one comprobante type.
// CurrentNumber is the last issued value; 0 (or StartNumber-1) means nothing issued yet.
type Sequence struct {
	TypeID        int64      `db:"comprobante_type_id" json:"comprobanteTypeId"`
	CurrentNumber int64      `db:"current_number" json:"currentNumber"`
	StartNumber   int64      `db:"start_number" json:"startNumber"`
	MaxNumber     *int64     `db:"max_number" json:"maxNumber,omitempty"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expiresAt,omitempty"`

	LowStockThreshold int64 `db:"low_stock_threshold" json:"lowStockThreshold"`
	ExpiryWarningDays int   `db:"expiry_warning_days" json:"expiryWarningDays"`

	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// New builds a sequence for typeID that will issue start first.
func New(typeID, start int64, max *int64, expiresAt *time.Time) Sequence {
	if start < 1 {
		start = 1
	}
	return Sequence{
		TypeID:            typeID,
		CurrentNumber:     start - 1,
		StartNumber:       start,
		MaxNumber:         max,
		ExpiresAt:         expiresAt,
		LowStockThreshold: DefaultLowStockThreshold,
		ExpiryWarningDays: DefaultExpiryWarningDays,
	}
}

// Exhausted reports whether the next allocation would exceed MaxNumber.
func (s Sequence) Exhausted() bool {
	return s.MaxNumber != nil && s.CurrentNumber >= *s.MaxNumber
}

// ExpiredAt reports whether the authorization window closed before now.
func (s Sequence) ExpiredAt(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// StateAt derives the sequence state. Expiry wins over exhaustion.
func (s Sequence) StateAt(now time.Time) State {
	switch {
	case s.ExpiredAt(now):
		return StateExpired
	case s.Exhausted():
		return StateExhausted
	default:
		return StateActive
	}
}

// Used is the count of numbers already issued from this range.
func (s Sequence) Used() int64 {
	start := s.StartNumber
	if start < 1 {
		start = 1
	}
	used := s.CurrentNumber - (start - 1)
	if used < 0 {
		return 0
	}
	return used
}

// Available is the count of numbers left, or nil when the sequence is unbounded.
func (s Sequence) Available() *int64 {
	if s.MaxNumber == nil {
		return nil
	}
	left := *s.MaxNumber - s.CurrentNumber
	if left < 0 {
		left = 0
	}
	return &left
}

// Allocation is a number handed out by the allocator. It is consumed whether or
// not the caller ever attaches it to an order.
type Allocation struct {
	TypeID   int64     `json:"comprobanteTypeId"`
	Number   int64     `json:"number"`
	NCF      string    `json:"ncf"`
	IssuedAt time.Time `json:"issuedAt"`
}
