package auth

import (
	"context"
	"sync"

	"ncfpos/internal/core/apperror"
)

// TerminalRepository looks up registered terminals.
type TerminalRepository interface {
	GetByID(ctx context.Context, terminalID string) (Terminal, error)
}

// StaticTerminals serves the terminals listed in the catalog file.
type StaticTerminals struct {
	mu   sync.RWMutex
	byID map[string]Terminal
}

var _ TerminalRepository = (*StaticTerminals)(nil)

// NewStaticTerminals indexes terminals by id; a duplicate id is an error.
func NewStaticTerminals(terminals []Terminal) (*StaticTerminals, error) {
	byID := make(map[string]Terminal, len(terminals))
	for _, t := range terminals {
		if t.ID == "" {
			return nil, apperror.NewValidation("terminal id is required")
		}
		if _, dup := byID[t.ID]; dup {
			return nil, apperror.NewValidation("duplicate terminal id").WithDetail("id", t.ID)
		}
		byID[t.ID] = t
	}
	return &StaticTerminals{byID: byID}, nil
}

// GetByID implements TerminalRepository.
func (s *StaticTerminals) GetByID(_ context.Context, terminalID string) (Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[terminalID]
	if !ok {
		return Terminal{}, apperror.NewNotFound("terminal", terminalID)
	}
	return t, nil
}
