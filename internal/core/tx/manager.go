// Package tx defines the transaction boundary of the storage layer. Implementations
// carry the active transaction inside the context.
package tx

import (
	"context"
)

// Manager runs fn atomically. Nested calls reuse the transaction found in ctx.
type Manager interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReadOnlyManager adds read-only transactions for report queries.
type ReadOnlyManager interface {
	Manager
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}
