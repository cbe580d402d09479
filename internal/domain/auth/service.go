package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ncfpos/internal/core/apperror"
	"ncfpos/pkg/logger"
)

// ServiceConfig holds auth service configuration.
type ServiceConfig struct {
	MaxLoginAttempts int
	LockDuration     time.Duration
}

// DefaultServiceConfig locks a terminal for 15 minutes after 5 bad secrets.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLoginAttempts: 5,
		LockDuration:     15 * time.Minute,
	}
}

// TokenResponse is returned to a terminal after a successful login.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	TerminalID  string    `json:"terminalId"`
	Roles       []string  `json:"roles"`
}

type attempts struct {
	failed      int
	lockedUntil time.Time
}

// Service authenticates terminals.
type Service struct {
	terminals  TerminalRepository
	jwtService *JWTService
	config     ServiceConfig

	mu       sync.Mutex
	attempts map[string]*attempts
	now      func() time.Time
}

// NewService creates a new auth service.
func NewService(terminals TerminalRepository, jwtService *JWTService, config ServiceConfig) *Service {
	return &Service{
		terminals:  terminals,
		jwtService: jwtService,
		config:     config,
		attempts:   make(map[string]*attempts),
		now:        time.Now,
	}
}

// Authenticate exchanges a terminal id and secret for an access token.
// Unknown terminals and wrong secrets get the same error.
func (s *Service) Authenticate(ctx context.Context, terminalID, secret string) (*TokenResponse, error) {
	if s.locked(terminalID) {
		return nil, apperror.NewUnauthorized("terminal temporarily locked").WithDetail("terminal_id", terminalID)
	}

	t, err := s.terminals.GetByID(ctx, terminalID)
	if err != nil {
		if apperror.IsNotFound(err) {
			s.fail(ctx, terminalID)
			return nil, apperror.NewUnauthorized("invalid terminal credentials")
		}
		return nil, fmt.Errorf("load terminal: %w", err)
	}
	if t.Disabled {
		return nil, apperror.NewForbidden("terminal is disabled").WithDetail("terminal_id", terminalID)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(t.SecretHash), []byte(secret)); err != nil {
		s.fail(ctx, terminalID)
		return nil, apperror.NewUnauthorized("invalid terminal credentials")
	}
	s.reset(terminalID)

	token, expiresAt, err := s.jwtService.GenerateAccessToken(t)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	logger.Info(ctx, "terminal authenticated", "terminal_id", t.ID)
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		TerminalID:  t.ID,
		Roles:       t.Roles,
	}, nil
}

func (s *Service) locked(terminalID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[terminalID]
	return ok && s.now().Before(a.lockedUntil)
}

func (s *Service) fail(ctx context.Context, terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[terminalID]
	if !ok {
		a = &attempts{}
		s.attempts[terminalID] = a
	}
	a.failed++
	if a.failed >= s.config.MaxLoginAttempts {
		a.failed = 0
		a.lockedUntil = s.now().Add(s.config.LockDuration)
		logger.Warn(ctx, "terminal locked after failed logins", "terminal_id", terminalID)
	}
}

func (s *Service) reset(terminalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, terminalID)
}

// HashSecret hashes a terminal secret for the catalog file.
func HashSecret(secret string) (string, error) {
	if len(secret) < 8 {
		return "", apperror.NewValidation("terminal secret must have at least 8 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}
