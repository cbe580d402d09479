// Package id generates order identifiers.
package id

import (
	"github.com/google/uuid"
)

// ID is the UUID type used for orders.
type ID = uuid.UUID

// New returns a UUIDv7, so ids sort by creation time.
func New() ID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}

// Parse validates and converts s.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// IsNil reports whether v is the zero UUID.
func IsNil(v ID) bool {
	return v == uuid.Nil
}
