package numbering

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
	"ncfpos/internal/domain/fiscal"
	"ncfpos/internal/domain/sequence"
)

func ptr(v int64) *int64 { return &v }

type testOrder struct {
	id     string
	rnc    bool
	fiscal fiscal.Extension
}

func (o *testOrder) OrderID() string                { return o.id }
func (o *testOrder) FiscalState() *fiscal.Extension { return &o.fiscal }
func (o *testOrder) HasRNC() bool                   { return o.rnc }

func kindsOf(t *testing.T, j *MemoryJournal, orderIDs ...string) []EventKind {
	t.Helper()
	out := make([]EventKind, 0)
	for _, oid := range orderIDs {
		events, err := j.Events(context.Background(), oid)
		require.NoError(t, err)
		for _, e := range events {
			out = append(out, e.Kind)
		}
	}
	return out
}

type fixture struct {
	svc     *Service
	alloc   *sequence.Allocator
	journal *MemoryJournal
}

func newFixture(t *testing.T, b01Max int64) fixture {
	t.Helper()
	ctx := context.Background()

	types := []comprobante.Type{
		{ID: 1, Code: "01", Name: "Crédito Fiscal", IsFiscal: true, Prefix: "B01", PaddingWidth: 10,
			MaxNumber: ptr(b01Max), Active: true, ForSale: true, RequiresRNC: true,
			SuggestWhen: "customer.has_rnc && customer.is_taxpayer"},
		{ID: 2, Code: "02", Name: "Consumidor Final", IsFiscal: true, Prefix: "B02", PaddingWidth: 10,
			Active: true, ForSale: true, SuggestWhen: "!sale.is_refund"},
		{ID: 3, Code: "03", Name: "Nota de Débito", IsFiscal: true, Prefix: "B03", PaddingWidth: 10,
			Active: true, ForSale: true},
		{ID: 5, Code: "11", Name: "Proveedores Informales", Active: true, ForSale: true},
		{ID: 6, Code: "12", Name: "Registro Único de Ingresos", IsFiscal: true, Prefix: "B12", PaddingWidth: 10},
	}
	reg, err := comprobante.NewStaticRegistry(types)
	require.NoError(t, err)
	sug, err := comprobante.NewSuggester(types)
	require.NoError(t, err)

	store := sequence.NewMemoryStore()
	for _, seq := range []sequence.Sequence{
		sequence.New(1, 1, ptr(b01Max), nil),
		sequence.New(2, 1, nil, nil),
	} {
		_, err := store.Provision(ctx, seq)
		require.NoError(t, err)
	}

	alloc := sequence.NewAllocator(store, reg)
	j := NewMemoryJournal()
	return fixture{svc: NewService(reg, alloc, sug, j), alloc: alloc, journal: j}
}

func TestSelectType_FiscalAllocatesConcurrently(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	orders := []*testOrder{{id: "a", rnc: true}, {id: "b", rnc: true}, {id: "c", rnc: true}}
	g, gctx := errgroup.WithContext(ctx)
	for _, o := range orders {
		g.Go(func() error { return f.svc.SelectType(gctx, o, 1) })
	}
	require.NoError(t, g.Wait())

	ncfs := make([]string, 0, len(orders))
	for _, o := range orders {
		assert.True(t, o.fiscal.EsFiscal)
		assert.Equal(t, fiscal.StateNumberAssigned, o.fiscal.State())
		ncfs = append(ncfs, o.fiscal.NCF)
	}
	sort.Strings(ncfs)
	assert.Equal(t, []string{"B0100000001", "B0100000002", "B0100000003"}, ncfs)

	last, err := f.alloc.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestSelectType_NonFiscal(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := &testOrder{id: "a"}

	require.NoError(t, f.svc.SelectType(ctx, o, 5))
	assert.False(t, o.fiscal.EsFiscal)
	assert.Empty(t, o.fiscal.NCF)
	assert.Equal(t, fiscal.StateTypeSelected, o.fiscal.State())

	for _, typeID := range []int64{1, 2} {
		last, err := f.alloc.Peek(ctx, typeID)
		require.NoError(t, err)
		assert.Zero(t, last)
	}

	require.NoError(t, f.svc.CanFinalize(ctx, o))
	require.NoError(t, f.svc.Finalize(ctx, o))
	assert.Equal(t, fiscal.StateFinalized, o.fiscal.State())
}

func TestSelectType_Exhausted(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	first := &testOrder{id: "a", rnc: true}
	require.NoError(t, f.svc.SelectType(ctx, first, 1))
	assert.Equal(t, "B0100000001", first.fiscal.NCF)

	second := &testOrder{id: "b", rnc: true}
	err := f.svc.SelectType(ctx, second, 1)
	require.Error(t, err)
	assert.True(t, apperror.IsSequenceExhausted(err))
	assert.Empty(t, second.fiscal.NCF)
	assert.Equal(t, fiscal.StateTypeSelected, second.fiscal.State())
	assert.True(t, second.fiscal.EsFiscal)

	err = f.svc.CanFinalize(ctx, second)
	assert.True(t, apperror.IsFiscalNumberMissing(err))
	err = f.svc.Finalize(ctx, second)
	assert.True(t, apperror.IsFiscalNumberMissing(err))
}

func TestSelectType_UnknownType(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	t.Run("not in catalog leaves order untouched", func(t *testing.T) {
		o := &testOrder{id: "a"}
		err := f.svc.SelectType(ctx, o, 42)
		assert.True(t, apperror.IsUnknownType(err))
		assert.Equal(t, fiscal.StateUnclassified, o.fiscal.State())
	})

	t.Run("fiscal type without sequence", func(t *testing.T) {
		o := &testOrder{id: "b"}
		err := f.svc.SelectType(ctx, o, 3)
		assert.True(t, apperror.IsUnknownType(err))
		assert.Equal(t, int64(3), o.fiscal.TypeID)
		assert.Empty(t, o.fiscal.NCF)
	})

	t.Run("inactive type", func(t *testing.T) {
		o := &testOrder{id: "c"}
		err := f.svc.SelectType(ctx, o, 6)
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	})
}

func TestSelectType_RequiresRNC(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	o := &testOrder{id: "a"}
	err := f.svc.SelectType(ctx, o, 1)
	assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	assert.Equal(t, fiscal.StateUnclassified, o.fiscal.State())

	last, err := f.alloc.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestSelectType_ReselectKeepsNumber(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := &testOrder{id: "a", rnc: true}

	require.NoError(t, f.svc.SelectType(ctx, o, 1))
	require.NoError(t, f.svc.SelectType(ctx, o, 1))
	assert.Equal(t, "B0100000001", o.fiscal.NCF)

	last, err := f.alloc.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestSelectType_SwitchTypeDetachesNumber(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := &testOrder{id: "a", rnc: true}

	require.NoError(t, f.svc.SelectType(ctx, o, 1))
	require.NoError(t, f.svc.SelectType(ctx, o, 2))
	assert.Equal(t, "B0200000001", o.fiscal.NCF)
	assert.Equal(t, int64(2), o.fiscal.NCFTypeID)

	assert.Equal(t, []EventKind{EventAllocated, EventDetached, EventAllocated}, kindsOf(t, f.journal, "a"))

	// The detached B01 number is a gap, never reissued.
	other := &testOrder{id: "b", rnc: true}
	require.NoError(t, f.svc.SelectType(ctx, other, 1))
	assert.Equal(t, "B0100000002", other.fiscal.NCF)
}

func TestOverrideNumber(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	t.Run("requires type", func(t *testing.T) {
		o := &testOrder{id: "a"}
		err := f.svc.OverrideNumber(ctx, o, "B0100000001")
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	})

	t.Run("invalid format", func(t *testing.T) {
		o := &testOrder{id: "b"}
		require.NoError(t, f.svc.SelectType(ctx, o, 2))
		err := f.svc.OverrideNumber(ctx, o, "B02-1")
		assert.Equal(t, apperror.CodeInvalidNCF, apperror.CodeOf(err))
		assert.Equal(t, "B0200000001", o.fiscal.NCF)
		assert.Equal(t, fiscal.SourceAllocated, o.fiscal.NCFSource)
	})

	t.Run("manual track does not touch the sequence", func(t *testing.T) {
		o := &testOrder{id: "c", rnc: true}
		require.NoError(t, f.svc.SelectType(ctx, o, 1))
		before, err := f.alloc.Peek(ctx, 1)
		require.NoError(t, err)

		require.NoError(t, f.svc.OverrideNumber(ctx, o, " b0100000040 "))
		assert.Equal(t, "B0100000040", o.fiscal.NCF)
		assert.Equal(t, fiscal.SourceManual, o.fiscal.NCFSource)

		after, err := f.alloc.Peek(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		require.NoError(t, f.svc.CanFinalize(ctx, o))
	})

	t.Run("non fiscal type", func(t *testing.T) {
		o := &testOrder{id: "d"}
		require.NoError(t, f.svc.SelectType(ctx, o, 5))
		err := f.svc.OverrideNumber(ctx, o, "B0100000001")
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	})
}

func TestFinalize_Immutable(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := &testOrder{id: "a"}

	require.NoError(t, f.svc.SelectType(ctx, o, 2))
	require.NoError(t, f.svc.Finalize(ctx, o))

	assert.True(t, apperror.IsOrderFinalized(f.svc.SelectType(ctx, o, 5)))
	assert.True(t, apperror.IsOrderFinalized(f.svc.OverrideNumber(ctx, o, "B0200000009")))
	assert.True(t, apperror.IsOrderFinalized(f.svc.CanFinalize(ctx, o)))
	assert.True(t, apperror.IsOrderFinalized(f.svc.Void(ctx, o, "test")))
	assert.Equal(t, "B0200000001", o.fiscal.NCF)
}

func TestVoid_JournalsHeldNumber(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	o := &testOrder{id: "a"}

	require.NoError(t, f.svc.SelectType(ctx, o, 2))
	require.NoError(t, f.svc.Void(ctx, o, "customer left"))
	assert.Equal(t, []EventKind{EventAllocated, EventVoided}, kindsOf(t, f.journal, "a"))

	last, err := f.alloc.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
}

func TestGenerateNumber(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	r := f.svc.GenerateNumber(ctx, 1)
	require.True(t, r.OK())
	assert.Equal(t, "B0100000001", r.NCF)
	assert.True(t, r.EsFiscal)

	r = f.svc.GenerateNumber(ctx, 1)
	require.False(t, r.OK())
	assert.Equal(t, apperror.CodeSequenceExhausted, r.Error.Kind)
	assert.Empty(t, r.NCF)
	assert.True(t, apperror.IsSequenceExhausted(r.Err()))

	r = f.svc.GenerateNumber(ctx, 77)
	require.False(t, r.OK())
	assert.Equal(t, apperror.CodeUnknownType, r.Error.Kind)

	r = f.svc.GenerateNumber(ctx, 5)
	assert.True(t, r.OK())
	assert.False(t, r.EsFiscal)
	assert.Empty(t, r.NCF)
}

func TestGenerateNumber_Expired(t *testing.T) {
	ctx := context.Background()
	types := []comprobante.Type{
		{ID: 2, Code: "02", IsFiscal: true, Prefix: "B02", PaddingWidth: 10, Active: true, ForSale: true},
	}
	reg, err := comprobante.NewStaticRegistry(types)
	require.NoError(t, err)
	store := sequence.NewMemoryStore()
	past := time.Now().Add(-48 * time.Hour)
	_, err = store.Provision(ctx, sequence.New(2, 1, nil, &past))
	require.NoError(t, err)

	svc := NewService(reg, sequence.NewAllocator(store, reg), nil, nil)
	r := svc.GenerateNumber(ctx, 2)
	require.NotNil(t, r.Error)
	assert.Equal(t, apperror.CodeSequenceExpired, r.Error.Kind)
}

func TestSuggestAndList(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()

	typ, ok, err := f.svc.SuggestType(ctx, comprobante.Facts{HasRNC: true, IsTaxpayer: true})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), typ.ID)

	typ, ok, err = f.svc.SuggestType(ctx, comprobante.Facts{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), typ.ID)

	types, err := f.svc.ListTypes(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(types))
	for _, typ := range types {
		ids = append(ids, typ.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 5}, ids)

	st, err := f.svc.SequenceStatus(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, sequence.StateActive, st.State)
}
