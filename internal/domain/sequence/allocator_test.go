package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/domain/comprobante"
)

func ptr(v int64) *int64 { return &v }

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newTestAllocator(t *testing.T, seqs ...Sequence) (*Allocator, *MemoryStore) {
	t.Helper()
	reg, err := comprobante.NewStaticRegistry([]comprobante.Type{
		{ID: 1, Code: "01", Name: "Crédito Fiscal", IsFiscal: true, Prefix: "B01", PaddingWidth: 10, MaxNumber: ptr(50), Active: true, ForSale: true},
		{ID: 2, Code: "02", Name: "Consumidor Final", IsFiscal: true, Prefix: "B02", PaddingWidth: 10, Active: true, ForSale: true},
		{ID: 3, Code: "03", Name: "Nota de Débito", IsFiscal: true, Prefix: "B03", PaddingWidth: 10, Active: true, ForSale: true},
		{ID: 5, Code: "11", Name: "Proveedores Informales", Active: true},
	})
	require.NoError(t, err)

	store := NewMemoryStore().WithClock(clock)
	for _, s := range seqs {
		_, err := store.Provision(context.Background(), s)
		require.NoError(t, err)
	}
	return NewAllocator(store, reg).WithClock(clock), store
}

func TestAllocator_ConcurrentAllocationsAreSequential(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(1, 1, ptr(50), nil))

	var (
		mu   sync.Mutex
		ncfs []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		g.Go(func() error {
			a, err := alloc.Allocate(gctx, 1)
			if err != nil {
				return err
			}
			mu.Lock()
			ncfs = append(ncfs, a.NCF)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Strings(ncfs)
	assert.Equal(t, []string{"B0100000001", "B0100000002", "B0100000003"}, ncfs)

	last, err := alloc.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestAllocator_UniqueUnderContention(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(2, 1, nil, nil))

	const workers = 200
	seen := make(chan int64, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			a, err := alloc.Allocate(gctx, 2)
			if err != nil {
				return err
			}
			seen <- a.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(seen)

	unique := make(map[int64]struct{}, workers)
	for n := range seen {
		_, dup := unique[n]
		require.False(t, dup, "number %d issued twice", n)
		unique[n] = struct{}{}
	}
	assert.Len(t, unique, workers)

	last, err := alloc.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), last)
}

func TestAllocator_MonotonicSequentialCalls(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(2, 1, nil, nil))

	prev := int64(0)
	for i := 0; i < 20; i++ {
		a, err := alloc.Allocate(ctx, 2)
		require.NoError(t, err)
		assert.Greater(t, a.Number, prev)
		prev = a.Number
	}
}

func TestAllocator_ExhaustionDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(1, 49, ptr(50), nil))

	a, err := alloc.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B0100000049", a.NCF)

	a, err = alloc.Allocate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B0100000050", a.NCF)

	for i := 0; i < 3; i++ {
		_, err = alloc.Allocate(ctx, 1)
		require.Error(t, err)
		assert.True(t, apperror.IsSequenceExhausted(err))
	}

	last, err := alloc.Peek(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), last)
}

func TestAllocator_Expired(t *testing.T) {
	ctx := context.Background()
	yesterday := fixedNow.Add(-24 * time.Hour)
	alloc, _ := newTestAllocator(t, New(2, 1, nil, &yesterday))

	_, err := alloc.Allocate(ctx, 2)
	require.Error(t, err)
	assert.True(t, apperror.IsSequenceExpired(err))

	last, err := alloc.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestAllocator_UnknownType(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(1, 1, ptr(50), nil))

	t.Run("not in registry", func(t *testing.T) {
		_, err := alloc.Allocate(ctx, 99)
		assert.True(t, apperror.IsUnknownType(err))
	})

	t.Run("fiscal type without sequence", func(t *testing.T) {
		_, err := alloc.Allocate(ctx, 3)
		assert.True(t, apperror.IsUnknownType(err))
	})

	t.Run("non fiscal type", func(t *testing.T) {
		_, err := alloc.Allocate(ctx, 5)
		assert.True(t, apperror.IsUnknownType(err))
	})
}

func TestAllocator_WaitHonoursCancellation(t *testing.T) {
	alloc, _ := newTestAllocator(t, New(1, 1, ptr(50), nil), New(2, 1, nil, nil))

	held := alloc.lockFor(1)
	require.NoError(t, held.Acquire(context.Background(), 1))
	defer held.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := alloc.Allocate(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Another type is not blocked by type 1's lock.
	a, err := alloc.Allocate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "B0200000001", a.NCF)

	last, err := alloc.Peek(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestAllocator_Status(t *testing.T) {
	ctx := context.Background()
	soon := fixedNow.Add(10 * 24 * time.Hour)
	alloc, _ := newTestAllocator(t, New(1, 1, ptr(50), &soon))

	for i := 0; i < 42; i++ {
		_, err := alloc.Allocate(ctx, 1)
		require.NoError(t, err)
	}

	st, err := alloc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, int64(42), st.Used)
	require.NotNil(t, st.Available)
	assert.Equal(t, int64(8), *st.Available)
	assert.True(t, st.LowStock)
	assert.True(t, st.ExpiringSoon)
	assert.Equal(t, "B0100000042", st.LastNCF)
	assert.Equal(t, "B0100000043", st.NextNCF)
	require.NotNil(t, st.DaysToExpiry)
	assert.Equal(t, 10, *st.DaysToExpiry)

	alerts, err := alloc.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(1), alerts[0].TypeID)
}

func TestAllocator_StatusExhausted(t *testing.T) {
	ctx := context.Background()
	alloc, store := newTestAllocator(t, New(1, 50, ptr(50), nil))
	_, err := store.Next(ctx, 1)
	require.NoError(t, err)

	st, err := alloc.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, st.State)
	assert.Empty(t, st.NextNCF)
}

func TestAllocator_Provision(t *testing.T) {
	ctx := context.Background()
	alloc, _ := newTestAllocator(t, New(1, 1, ptr(50), nil))

	for i := 0; i < 5; i++ {
		_, err := alloc.Allocate(ctx, 1)
		require.NoError(t, err)
	}

	t.Run("lower start keeps counter", func(t *testing.T) {
		seq, err := alloc.Provision(ctx, Sequence{TypeID: 1, StartNumber: 1, MaxNumber: ptr(60)})
		require.NoError(t, err)
		assert.Equal(t, int64(5), seq.CurrentNumber)
		assert.Equal(t, int64(60), *seq.MaxNumber)
	})

	t.Run("new range moves counter forward", func(t *testing.T) {
		seq, err := alloc.Provision(ctx, Sequence{TypeID: 1, StartNumber: 101, MaxNumber: ptr(200)})
		require.NoError(t, err)
		assert.Equal(t, int64(100), seq.CurrentNumber)

		a, err := alloc.Allocate(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "B0100000101", a.NCF)
	})

	t.Run("ceiling below counter", func(t *testing.T) {
		_, err := alloc.Provision(ctx, Sequence{TypeID: 1, MaxNumber: ptr(10)})
		require.Error(t, err)
		assert.Equal(t, apperror.CodeConflict, apperror.CodeOf(err))
	})

	t.Run("ceiling wider than padding", func(t *testing.T) {
		_, err := alloc.Provision(ctx, Sequence{TypeID: 1, MaxNumber: ptr(1_000_000_000)})
		require.Error(t, err)
		assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
	})

	t.Run("non fiscal type", func(t *testing.T) {
		_, err := alloc.Provision(ctx, Sequence{TypeID: 5})
		assert.Error(t, err)
	})

	t.Run("creates missing sequence", func(t *testing.T) {
		seq, err := alloc.Provision(ctx, Sequence{TypeID: 3, StartNumber: 1})
		require.NoError(t, err)
		assert.Equal(t, int64(0), seq.CurrentNumber)
		assert.Equal(t, int64(DefaultLowStockThreshold), seq.LowStockThreshold)
	})
}

func TestMerge(t *testing.T) {
	existing := Sequence{TypeID: 1, CurrentNumber: 30, StartNumber: 1, MaxNumber: ptr(50)}

	tests := []struct {
		name        string
		existing    *Sequence
		update      Sequence
		wantCurrent int64
		wantStart   int64
		wantErr     bool
	}{
		{"create", nil, Sequence{TypeID: 1, StartNumber: 1}, 0, 1, false},
		{"create from later start", nil, Sequence{TypeID: 1, StartNumber: 500}, 499, 500, false},
		{"extend ceiling", &existing, Sequence{TypeID: 1, StartNumber: 1, MaxNumber: ptr(80)}, 30, 1, false},
		{"overlapping start keeps counter", &existing, Sequence{TypeID: 1, StartNumber: 20}, 30, 1, false},
		{"fresh range", &existing, Sequence{TypeID: 1, StartNumber: 51, MaxNumber: ptr(100)}, 50, 51, false},
		{"ceiling under counter", &existing, Sequence{TypeID: 1, MaxNumber: ptr(29)}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Merge(tt.existing, tt.update, fixedNow)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrent, got.CurrentNumber)
			assert.Equal(t, tt.wantStart, got.StartNumber)
			assert.Equal(t, fixedNow, got.UpdatedAt)
		})
	}
}
