package postgres

import (
	"context"
	"fmt"
	"time"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/idempotency"
)

// IdempotencyStore keeps idempotency keys in PostgreSQL so a retry that lands on
// another API instance still replays the first response.
type IdempotencyStore struct {
	txm *TxManager
	ttl time.Duration
	now func() time.Time
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates the store; ttl <= 0 uses idempotency.DefaultTTL.
func NewIdempotencyStore(txm *TxManager, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &IdempotencyStore{txm: txm, ttl: ttl, now: time.Now}
}

// Acquire implements idempotency.Store. An expired row is taken over as new.
func (s *IdempotencyStore) Acquire(ctx context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	now := s.now().UTC()

	var (
		stored    idempotency.Request
		status    idempotency.Status
		replay    idempotency.Replay
		updatedAt time.Time
		inserted  bool
	)
	err := s.txm.Pool().QueryRow(ctx, `
		INSERT INTO idempotency_keys (idempotency_key, terminal_id, operation, request_hash, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET
			terminal_id  = CASE WHEN idempotency_keys.expires_at < $6 THEN EXCLUDED.terminal_id  ELSE idempotency_keys.terminal_id END,
			operation    = CASE WHEN idempotency_keys.expires_at < $6 THEN EXCLUDED.operation    ELSE idempotency_keys.operation END,
			request_hash = CASE WHEN idempotency_keys.expires_at < $6 THEN EXCLUDED.request_hash ELSE idempotency_keys.request_hash END,
			status       = CASE WHEN idempotency_keys.expires_at < $6 THEN EXCLUDED.status       ELSE idempotency_keys.status END,
			response     = CASE WHEN idempotency_keys.expires_at < $6 THEN NULL                  ELSE idempotency_keys.response END,
			expires_at   = CASE WHEN idempotency_keys.expires_at < $6 THEN EXCLUDED.expires_at   ELSE idempotency_keys.expires_at END,
			updated_at   = CASE WHEN idempotency_keys.expires_at < $6 THEN $6                    ELSE idempotency_keys.updated_at END
		RETURNING terminal_id, operation, request_hash, status,
			COALESCE(response, ''::bytea), response_status, response_content_type, updated_at,
			(xmax = 0 OR updated_at = $6) AS inserted
	`, req.Key, req.TerminalID, req.Operation, req.Hash, idempotency.StatusPending, now, now.Add(s.ttl)).Scan(
		&stored.TerminalID, &stored.Operation, &stored.Hash, &status,
		&replay.Body, &replay.StatusCode, &replay.ContentType, &updatedAt,
		&inserted,
	)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if inserted {
		return nil, nil
	}

	stored.Key = req.Key
	if err := idempotency.Check(stored, req); err != nil {
		return nil, err
	}
	if status == idempotency.StatusDone {
		r := replay.Normalize()
		return &r, nil
	}
	if now.Sub(updatedAt) > idempotency.StaleAfter {
		tag, err := s.txm.Pool().Exec(ctx, `
			UPDATE idempotency_keys SET updated_at = $1
			WHERE idempotency_key = $2 AND status = $3 AND updated_at = $4
		`, now, req.Key, idempotency.StatusPending, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale idempotency key: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return nil, nil
		}
	}
	return nil, apperror.NewIdempotencyInProgress(req.Key)
}

// Complete implements idempotency.Store.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp idempotency.Replay) error {
	_, err := s.txm.Pool().Exec(ctx, `
		UPDATE idempotency_keys
		SET status = $1, response = $2, response_status = $3, response_content_type = $4, updated_at = $5
		WHERE idempotency_key = $6
	`, idempotency.StatusDone, resp.Body, resp.StatusCode, resp.ContentType, s.now().UTC(), key)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.txm.Pool().Exec(ctx,
		`DELETE FROM idempotency_keys WHERE idempotency_key = $1 AND status = $2`,
		key, idempotency.StatusPending)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Cleanup removes expired keys.
func (s *IdempotencyStore) Cleanup(ctx context.Context) (int64, error) {
	tag, err := s.txm.Pool().Exec(ctx,
		`DELETE FROM idempotency_keys WHERE expires_at < $1`, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
