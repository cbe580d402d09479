// Package redisstore keeps NCF sequences in Redis for deployments where several
// API instances share one counter set and PostgreSQL is not available.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/sequence"
	"ncfpos/pkg/logger"
)

// Hash fields of a sequence key.
const (
	fieldCurrent    = "current"
	fieldStart      = "start"
	fieldMax        = "max"
	fieldExpiresAt  = "expires_at" // unix milliseconds
	fieldLowStock   = "low_stock_threshold"
	fieldExpiryWarn = "expiry_warning_days"
	fieldUpdatedAt  = "updated_at" // unix milliseconds
)

// Script results below zero are refusals.
const (
	refusedUnknown   = -1
	refusedExhausted = -2
	refusedExpired   = -3
)

// nextScript increments the counter only when the range is open. Expiry is
// checked first so an expired, exhausted range reports expiry.
var nextScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return {-1}
end
local now = tonumber(ARGV[1])
local expires = redis.call('HGET', key, 'expires_at')
if expires and tonumber(expires) < now then
	return {-3}
end
local current = tonumber(redis.call('HGET', key, 'current'))
local max = redis.call('HGET', key, 'max')
if max and current >= tonumber(max) then
	return {-2}
end
current = redis.call('HINCRBY', key, 'current', 1)
redis.call('HSET', key, 'updated_at', ARGV[1])
return {current}
`)

const maxProvisionRetries = 5

// SequenceStore implements sequence.Store on Redis hashes.
type SequenceStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

var _ sequence.Store = (*SequenceStore)(nil)

// NewSequenceStore creates the store. Keys are "<prefix>:seq:<type id>".
func NewSequenceStore(rdb *redis.Client, prefix string) *SequenceStore {
	if prefix == "" {
		prefix = "ncfpos"
	}
	return &SequenceStore{rdb: rdb, prefix: prefix, now: time.Now}
}

// WithClock overrides the time used for expiry checks.
func (s *SequenceStore) WithClock(now func() time.Time) *SequenceStore {
	s.now = now
	return s
}

func (s *SequenceStore) key(typeID int64) string {
	return fmt.Sprintf("%s:seq:%d", s.prefix, typeID)
}

// Next implements sequence.Store.
func (s *SequenceStore) Next(ctx context.Context, typeID int64) (sequence.Sequence, error) {
	now := s.now()
	res, err := nextScript.Run(ctx, s.rdb, []string{s.key(typeID)}, now.UnixMilli()).Int64Slice()
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("increment sequence %d: %w", typeID, err)
	}
	if len(res) != 1 {
		return sequence.Sequence{}, fmt.Errorf("increment sequence %d: unexpected script result %v", typeID, res)
	}

	switch res[0] {
	case refusedUnknown:
		return sequence.Sequence{}, apperror.NewUnknownType(typeID)
	case refusedExhausted, refusedExpired:
		seq, err := s.Get(ctx, typeID)
		if err != nil {
			return sequence.Sequence{}, err
		}
		if err := sequence.ErrorFor(seq, now); err != nil {
			return sequence.Sequence{}, err
		}
		return sequence.Sequence{}, apperror.NewConflict("sequence changed during allocation, retry").
			WithDetail("comprobante_type_id", typeID)
	}

	seq, err := s.Get(ctx, typeID)
	if err != nil {
		return sequence.Sequence{}, err
	}
	// Another allocation may have run between the script and the read.
	seq.CurrentNumber = res[0]
	return seq, nil
}

// Get implements sequence.Store.
func (s *SequenceStore) Get(ctx context.Context, typeID int64) (sequence.Sequence, error) {
	return s.read(ctx, s.rdb, typeID)
}

// hashReader is satisfied by both *redis.Client and *redis.Tx.
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *SequenceStore) read(ctx context.Context, c hashReader, typeID int64) (sequence.Sequence, error) {
	fields, err := c.HGetAll(ctx, s.key(typeID)).Result()
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("read sequence %d: %w", typeID, err)
	}
	if len(fields) == 0 {
		return sequence.Sequence{}, apperror.NewUnknownType(typeID)
	}
	seq, err := decode(typeID, fields)
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("decode sequence %d: %w", typeID, err)
	}
	return seq, nil
}

// Provision implements sequence.Store. The key is watched so a concurrent Next
// makes the transaction fail and the merge is retried against fresh state.
func (s *SequenceStore) Provision(ctx context.Context, update sequence.Sequence) (sequence.Sequence, error) {
	key := s.key(update.TypeID)
	var merged sequence.Sequence

	txf := func(tx *redis.Tx) error {
		var existing *sequence.Sequence
		cur, err := s.read(ctx, tx, update.TypeID)
		switch {
		case err == nil:
			existing = &cur
		case apperror.IsUnknownType(err):
		default:
			return err
		}

		merged, err = sequence.Merge(existing, update, s.now().UTC())
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encode(merged))
			if merged.MaxNumber == nil {
				pipe.HDel(ctx, key, fieldMax)
			}
			if merged.ExpiresAt == nil {
				pipe.HDel(ctx, key, fieldExpiresAt)
			}
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= maxProvisionRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			if _, ok := apperror.AsAppError(err); ok {
				return sequence.Sequence{}, err
			}
			return sequence.Sequence{}, fmt.Errorf("provision sequence %d: %w", update.TypeID, err)
		}
		logger.Debug(ctx, "sequence provision raced an allocation, retrying",
			"comprobante_type_id", update.TypeID, "attempt", attempt)
	}
	return sequence.Sequence{}, apperror.NewConflict("sequence is too busy to provision, retry").
		WithDetail("comprobante_type_id", update.TypeID)
}

func encode(seq sequence.Sequence) map[string]any {
	m := map[string]any{
		fieldCurrent:    seq.CurrentNumber,
		fieldStart:      seq.StartNumber,
		fieldLowStock:   seq.LowStockThreshold,
		fieldExpiryWarn: seq.ExpiryWarningDays,
		fieldUpdatedAt:  seq.UpdatedAt.UnixMilli(),
	}
	if seq.MaxNumber != nil {
		m[fieldMax] = *seq.MaxNumber
	}
	if seq.ExpiresAt != nil {
		m[fieldExpiresAt] = seq.ExpiresAt.UnixMilli()
	}
	return m
}

func decode(typeID int64, f map[string]string) (sequence.Sequence, error) {
	seq := sequence.Sequence{TypeID: typeID}
	var err error
	if seq.CurrentNumber, err = parseInt(f, fieldCurrent, 0); err != nil {
		return seq, err
	}
	if seq.StartNumber, err = parseInt(f, fieldStart, 1); err != nil {
		return seq, err
	}
	if seq.LowStockThreshold, err = parseInt(f, fieldLowStock, sequence.DefaultLowStockThreshold); err != nil {
		return seq, err
	}
	warn, err := parseInt(f, fieldExpiryWarn, sequence.DefaultExpiryWarningDays)
	if err != nil {
		return seq, err
	}
	seq.ExpiryWarningDays = int(warn)

	if _, ok := f[fieldMax]; ok {
		max, err := parseInt(f, fieldMax, 0)
		if err != nil {
			return seq, err
		}
		seq.MaxNumber = &max
	}
	if _, ok := f[fieldExpiresAt]; ok {
		ms, err := parseInt(f, fieldExpiresAt, 0)
		if err != nil {
			return seq, err
		}
		t := time.UnixMilli(ms).UTC()
		seq.ExpiresAt = &t
	}
	updated, err := parseInt(f, fieldUpdatedAt, 0)
	if err != nil {
		return seq, err
	}
	if updated > 0 {
		seq.UpdatedAt = time.UnixMilli(updated).UTC()
	}
	return seq, nil
}

func parseInt(f map[string]string, field string, def int64) (int64, error) {
	v, ok := f[field]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return n, nil
}
