package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/sequence"
)

const sequencesTable = "ncf_sequences"

var sequenceColumns = Columns[sequence.Sequence]()

// psql is the squirrel builder with $n placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// nextNumberSQL bumps the counter only while the range is open and records the
// issued number in ncf_allocations within the same statement.
var nextNumberSQL = `
WITH bumped AS (
	UPDATE ncf_sequences
	SET current_number = current_number + 1, updated_at = $2
	WHERE comprobante_type_id = $1
	  AND (max_number IS NULL OR current_number < max_number)
	  AND (expires_at IS NULL OR expires_at >= $2)
	RETURNING ` + strings.Join(sequenceColumns, ", ") + `
), issued AS (
	INSERT INTO ncf_allocations (comprobante_type_id, number, issued_at)
	SELECT comprobante_type_id, current_number, updated_at FROM bumped
)
SELECT ` + strings.Join(sequenceColumns, ", ") + ` FROM bumped`

// SequenceStore keeps sequences in PostgreSQL. Next runs on the pool, never
// inside a caller's transaction, so an order rollback does not return a number.
type SequenceStore struct {
	txm *TxManager
	now func() time.Time
}

var _ sequence.Store = (*SequenceStore)(nil)

// NewSequenceStore creates the store.
func NewSequenceStore(txm *TxManager) *SequenceStore {
	return &SequenceStore{txm: txm, now: time.Now}
}

// WithClock overrides the time used for expiry checks.
func (s *SequenceStore) WithClock(now func() time.Time) *SequenceStore {
	s.now = now
	return s
}

// Next implements sequence.Store.
func (s *SequenceStore) Next(ctx context.Context, typeID int64) (sequence.Sequence, error) {
	ctx, span := tracer.Start(ctx, "postgres.sequence.next")
	defer span.End()

	now := s.now().UTC()
	var seq sequence.Sequence
	err := pgxscan.Get(ctx, s.txm.Pool(), &seq, nextNumberSQL, typeID, now)
	if err == nil {
		return seq, nil
	}
	if !pgxscan.NotFound(err) {
		span.RecordError(err)
		if isUniqueViolation(err) {
			// The counter was lowered outside the service and ran into issued numbers.
			return sequence.Sequence{}, apperror.NewConflict("number already issued").
				WithDetail("comprobante_type_id", typeID).WithCause(err)
		}
		return sequence.Sequence{}, fmt.Errorf("increment sequence %d: %w", typeID, err)
	}

	// No row was bumped: the sequence is missing or closed.
	current, err := s.Get(ctx, typeID)
	if err != nil {
		return sequence.Sequence{}, err
	}
	if err := sequence.ErrorFor(current, now); err != nil {
		return sequence.Sequence{}, err
	}
	return sequence.Sequence{}, apperror.NewConflict("sequence changed during allocation, retry").
		WithDetail("comprobante_type_id", typeID)
}

// Get implements sequence.Store.
func (s *SequenceStore) Get(ctx context.Context, typeID int64) (sequence.Sequence, error) {
	return s.get(ctx, typeID, false)
}

func (s *SequenceStore) get(ctx context.Context, typeID int64, forUpdate bool) (sequence.Sequence, error) {
	q := psql.Select(sequenceColumns...).
		From(sequencesTable).
		Where(squirrel.Eq{"comprobante_type_id": typeID})
	if forUpdate {
		q = q.Suffix("FOR UPDATE")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return sequence.Sequence{}, fmt.Errorf("build select: %w", err)
	}

	var seq sequence.Sequence
	if err := pgxscan.Get(ctx, s.txm.GetQuerier(ctx), &seq, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return sequence.Sequence{}, apperror.NewUnknownType(typeID)
		}
		return sequence.Sequence{}, fmt.Errorf("select sequence %d: %w", typeID, err)
	}
	return seq, nil
}

// Provision implements sequence.Store. The existing row is locked while the
// update is merged, so a concurrent Next cannot slip under the new range.
func (s *SequenceStore) Provision(ctx context.Context, update sequence.Sequence) (sequence.Sequence, error) {
	var merged sequence.Sequence
	err := s.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var existing *sequence.Sequence
		cur, err := s.get(ctx, update.TypeID, true)
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

		query, args, err := upsertSequenceQuery(merged)
		if err != nil {
			return err
		}
		if _, err := s.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NewUnknownType(update.TypeID)
			}
			if isCheckViolation(err) {
				return apperror.NewConflict("sequence bounds rejected").
					WithDetail("constraint", constraintOf(err))
			}
			return fmt.Errorf("upsert sequence %d: %w", update.TypeID, err)
		}
		return nil
	})
	if err != nil {
		return sequence.Sequence{}, err
	}
	return merged, nil
}

func upsertSequenceQuery(seq sequence.Sequence) (string, []any, error) {
	updates := make([]string, 0, len(sequenceColumns))
	for _, c := range sequenceColumns {
		if c == "comprobante_type_id" {
			continue
		}
		updates = append(updates, c+" = EXCLUDED."+c)
	}

	query, args, err := psql.Insert(sequencesTable).
		SetMap(StructToMap(seq)).
		Suffix("ON CONFLICT (comprobante_type_id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}
