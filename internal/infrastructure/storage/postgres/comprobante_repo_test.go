package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
)

var b01 = comprobante.Type{ID: 1, Code: "01", Name: "Crédito Fiscal", IsFiscal: true, Prefix: "B01",
	PaddingWidth: 10, Active: true, ForSale: true, RequiresRNC: true}

func TestComprobanteRepo_LoadAll(t *testing.T) {
	b02 := b01
	b02.ID, b02.Code, b02.Prefix, b02.RequiresRNC = 2, "02", "B02", false
	db := (&fakeDB{}).expect(step{match: "FROM comprobante_types ORDER BY id", cols: comprobanteColumns,
		rows: [][]any{rowOf(comprobanteColumns, b01), rowOf(comprobanteColumns, b02)}})

	types, err := NewComprobanteRepo(NewTxManagerFor(db)).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "B0100000001", types[0].Format(1))
	assert.False(t, types[1].RequiresRNC)

	_, err = comprobante.NewStaticRegistry(types)
	assert.NoError(t, err)
}

func TestComprobanteRepo_Upsert(t *testing.T) {
	ctx := context.Background()

	db := (&fakeDB{}).expect(step{match: "INSERT INTO comprobante_types", tag: "INSERT 0 1"})
	require.NoError(t, NewComprobanteRepo(NewTxManagerFor(db)).Upsert(ctx, []comprobante.Type{b01}))
	c, ok := db.lastCall("INSERT INTO comprobante_types")
	require.True(t, ok)
	assert.Contains(t, c.sql, "ON CONFLICT (id) DO UPDATE SET")
	assert.Contains(t, c.sql, "updated_at = now()")
	assert.Equal(t, 1, db.commits)

	bad := b01
	bad.Code = "1"
	db = &fakeDB{}
	assert.Error(t, NewComprobanteRepo(NewTxManagerFor(db)).Upsert(ctx, []comprobante.Type{bad}))
	assert.Equal(t, 1, db.rollbacks)

	db = (&fakeDB{}).expect(step{match: "INSERT INTO comprobante_types", err: &pgconn.PgError{Code: pgUniqueViolation}})
	err := NewComprobanteRepo(NewTxManagerFor(db)).Upsert(ctx, []comprobante.Type{b01})
	assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))
}
