package dto

import (
	"ncfpos/internal/domain/sequence"
)

// ProvisionSequenceRequest creates a sequence or loads a new authorized range.
type ProvisionSequenceRequest struct {
	StartNumber       int64   `json:"startNumber" binding:"omitempty,min=1"`
	MaxNumber         *int64  `json:"maxNumber" binding:"omitempty,min=1"`
	ExpiresAt         *string `json:"expiresAt"`
	LowStockThreshold int64   `json:"lowStockThreshold" binding:"omitempty,min=0"`
	ExpiryWarningDays int     `json:"expiryWarningDays" binding:"omitempty,min=0"`
}

// ToSequence builds the update for typeID.
func (r ProvisionSequenceRequest) ToSequence(typeID int64) (sequence.Sequence, error) {
	expires, err := parseExpiry(r.ExpiresAt)
	if err != nil {
		return sequence.Sequence{}, err
	}
	seq := sequence.New(typeID, r.StartNumber, r.MaxNumber, expires)
	if r.LowStockThreshold > 0 {
		seq.LowStockThreshold = r.LowStockThreshold
	}
	if r.ExpiryWarningDays > 0 {
		seq.ExpiryWarningDays = r.ExpiryWarningDays
	}
	return seq, nil
}
