// Package context provides request-scoped values extraction.
package context

import (
	"context"
)

// TerminalContext identifies the point-of-sale terminal behind a request.
type TerminalContext struct {
	TerminalID string
	Name       string
	Roles      []string
}

type terminalContextKey struct{}

// WithTerminal adds TerminalContext to context.
func WithTerminal(ctx context.Context, terminal *TerminalContext) context.Context {
	return context.WithValue(ctx, terminalContextKey{}, terminal)
}

// GetTerminal returns TerminalContext from context.
func GetTerminal(ctx context.Context) *TerminalContext {
	if v, ok := ctx.Value(terminalContextKey{}).(*TerminalContext); ok {
		return v
	}
	return nil
}

// GetTerminalID returns terminal ID from context or empty string.
func GetTerminalID(ctx context.Context) string {
	if t := GetTerminal(ctx); t != nil {
		return t.TerminalID
	}
	return ""
}

// HasRole checks if the terminal carries a specific role.
func HasRole(ctx context.Context, role string) bool {
	t := GetTerminal(ctx)
	if t == nil {
		return false
	}
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}
