package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
)

const comprobanteTypesTable = "comprobante_types"

var comprobanteColumns = Columns[comprobante.Type]()

// ComprobanteRepo reads and seeds the comprobante_types table. The engine does
// not query it per request: LoadAll feeds a comprobante.StaticRegistry.
type ComprobanteRepo struct {
	txm *TxManager
}

// NewComprobanteRepo creates the repository.
func NewComprobanteRepo(txm *TxManager) *ComprobanteRepo {
	return &ComprobanteRepo{txm: txm}
}

// LoadAll returns every type ordered by id.
func (r *ComprobanteRepo) LoadAll(ctx context.Context) ([]comprobante.Type, error) {
	query, args, err := psql.Select(comprobanteColumns...).
		From(comprobanteTypesTable).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var types []comprobante.Type
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &types, query, args...); err != nil {
		return nil, fmt.Errorf("select comprobante types: %w", err)
	}
	return types, nil
}

// Upsert writes the given types in one transaction, keyed by id.
func (r *ComprobanteRepo) Upsert(ctx context.Context, types []comprobante.Type) error {
	updates := make([]string, 0, len(comprobanteColumns))
	for _, c := range comprobanteColumns {
		if c != "id" {
			updates = append(updates, c+" = EXCLUDED."+c)
		}
	}
	updates = append(updates, "updated_at = now()")
	suffix := "ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")

	return r.txm.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, t := range types {
			if err := t.Validate(); err != nil {
				return err
			}
			query, args, err := psql.Insert(comprobanteTypesTable).
				SetMap(StructToMap(t)).
				Suffix(suffix).
				ToSql()
			if err != nil {
				return fmt.Errorf("build upsert: %w", err)
			}
			if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
				if isUniqueViolation(err) {
					return apperror.NewConflict("comprobante code already used by another type").
						WithDetail("code", t.Code).WithDetail("id", t.ID)
				}
				return fmt.Errorf("upsert comprobante type %d: %w", t.ID, err)
			}
		}
		return nil
	})
}
