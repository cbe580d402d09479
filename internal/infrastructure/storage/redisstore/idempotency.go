package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/idempotency"
)

type idemRecord struct {
	TerminalID  string             `json:"terminal_id"`
	Operation   string             `json:"operation"`
	Hash        string             `json:"request_hash"`
	Status      idempotency.Status `json:"status"`
	StatusCode  int                `json:"response_status,omitempty"`
	ContentType string             `json:"response_content_type,omitempty"`
	Body        []byte             `json:"response,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// IdempotencyStore keeps idempotency keys as JSON strings that expire with their TTL.
type IdempotencyStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore creates the store; ttl <= 0 uses idempotency.DefaultTTL.
func NewIdempotencyStore(rdb *redis.Client, prefix string, ttl time.Duration) *IdempotencyStore {
	if prefix == "" {
		prefix = "ncfpos"
	}
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &IdempotencyStore{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *IdempotencyStore) key(k string) string {
	return s.prefix + ":idem:" + k
}

// Acquire implements idempotency.Store.
func (s *IdempotencyStore) Acquire(ctx context.Context, req idempotency.Request) (*idempotency.Replay, error) {
	now := s.now().UTC()
	pending, err := json.Marshal(idemRecord{
		TerminalID: req.TerminalID,
		Operation:  req.Operation,
		Hash:       req.Hash,
		Status:     idempotency.StatusPending,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal idempotency record: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, s.key(req.Key), pending, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if created {
		return nil, nil
	}

	rec, err := s.load(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		// Expired between SETNX and GET.
		return s.Acquire(ctx, req)
	}

	stored := idempotency.Request{Key: req.Key, TerminalID: rec.TerminalID, Operation: rec.Operation, Hash: rec.Hash}
	if err := idempotency.Check(stored, req); err != nil {
		return nil, err
	}
	if rec.Status == idempotency.StatusDone {
		r := idempotency.Replay{StatusCode: rec.StatusCode, ContentType: rec.ContentType, Body: rec.Body}.Normalize()
		return &r, nil
	}
	if now.Sub(rec.UpdatedAt) > idempotency.StaleAfter {
		if err := s.rdb.Set(ctx, s.key(req.Key), pending, redis.KeepTTL).Err(); err != nil {
			return nil, fmt.Errorf("reclaim idempotency key: %w", err)
		}
		return nil, nil
	}
	return nil, apperror.NewIdempotencyInProgress(req.Key)
}

func (s *IdempotencyStore) load(ctx context.Context, key string) (*idemRecord, error) {
	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read idempotency key: %w", err)
	}
	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency key: %w", err)
	}
	return &rec, nil
}

// Complete implements idempotency.Store.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp idempotency.Replay) error {
	rec, err := s.load(ctx, key)
	if err != nil || rec == nil {
		return err
	}
	rec.Status = idempotency.StatusDone
	rec.StatusCode = resp.StatusCode
	rec.ContentType = resp.ContentType
	rec.Body = resp.Body
	rec.UpdatedAt = s.now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal idempotency record: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(key), raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	rec, err := s.load(ctx, key)
	if err != nil || rec == nil || rec.Status != idempotency.StatusPending {
		return err
	}
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
