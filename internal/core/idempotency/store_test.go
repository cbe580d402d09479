package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncfpos/internal/core/apperror"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Hour).WithClock(func() time.Time { return now })
	req := Request{Key: "k1", TerminalID: "caja-01", Operation: "POST /api/v1/ncf/generate", Hash: "abc"}

	replay, err := s.Acquire(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay, "first attempt runs")

	_, err = s.Acquire(ctx, req)
	assert.Equal(t, apperror.CodeIdempotencyInProgress, apperror.CodeOf(err))

	require.NoError(t, s.Complete(ctx, "k1", Replay{Body: []byte(`{"ncf":"B0200000001"}`)}))

	replay, err = s.Acquire(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, http.StatusOK, replay.StatusCode)
	assert.Equal(t, "application/json", replay.ContentType)
	assert.JSONEq(t, `{"ncf":"B0200000001"}`, string(replay.Body))

	other := req
	other.Hash = "different"
	_, err = s.Acquire(ctx, other)
	assert.Equal(t, apperror.CodeIdempotencyMismatch, apperror.CodeOf(err))

	now = now.Add(2 * time.Hour)
	replay, err = s.Acquire(ctx, other)
	require.NoError(t, err)
	assert.Nil(t, replay, "expired keys start over")
}

func TestMemoryStore_ReleaseAndStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := NewMemoryStore(0).WithClock(func() time.Time { return now })
	req := Request{Key: "k2", TerminalID: "caja-01", Operation: "POST /x", Hash: "h"}

	_, err := s.Acquire(ctx, req)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "k2"))
	replay, err := s.Acquire(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, replay)

	now = now.Add(StaleAfter + time.Second)
	replay, err = s.Acquire(ctx, req)
	require.NoError(t, err, "abandoned attempts can be reclaimed")
	assert.Nil(t, replay)

	now = now.Add(DefaultTTL + time.Minute)
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
