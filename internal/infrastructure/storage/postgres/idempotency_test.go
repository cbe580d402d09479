package postgres

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncfpos/internal/core/apperror"
	"ncfpos/internal/core/idempotency"
)

var acquireCols = []string{"terminal_id", "operation", "request_hash", "status", "response",
	"response_status", "response_content_type", "updated_at", "inserted"}

func newTestIdempotency(db *fakeDB) *IdempotencyStore {
	s := NewIdempotencyStore(NewTxManagerFor(db), time.Hour)
	s.now = func() time.Time { return testNow }
	return s
}

func TestIdempotencyStore_Acquire(t *testing.T) {
	ctx := context.Background()
	req := idempotency.Request{Key: "k", TerminalID: "caja-01", Operation: "POST /api/v1/ncf/generate", Hash: "h1"}

	t.Run("fresh key", func(t *testing.T) {
		db := (&fakeDB{}).expect(step{match: "INSERT INTO idempotency_keys", cols: acquireCols,
			rows: [][]any{{"caja-01", req.Operation, "h1", idempotency.StatusPending, []byte{}, 0, "", testNow, true}}})
		replay, err := newTestIdempotency(db).Acquire(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, replay)
	})

	t.Run("completed key replays", func(t *testing.T) {
		db := (&fakeDB{}).expect(step{match: "INSERT INTO idempotency_keys", cols: acquireCols,
			rows: [][]any{{"caja-01", req.Operation, "h1", idempotency.StatusDone, []byte(`{"ncf":"B0200000004"}`),
				http.StatusOK, "application/json; charset=utf-8", testNow.Add(-time.Minute), false}}})
		replay, err := newTestIdempotency(db).Acquire(ctx, req)
		require.NoError(t, err)
		require.NotNil(t, replay)
		assert.JSONEq(t, `{"ncf":"B0200000004"}`, string(replay.Body))
	})

	t.Run("reused for another body", func(t *testing.T) {
		db := (&fakeDB{}).expect(step{match: "INSERT INTO idempotency_keys", cols: acquireCols,
			rows: [][]any{{"caja-01", req.Operation, "other", idempotency.StatusDone, []byte{}, 200, "", testNow, false}}})
		_, err := newTestIdempotency(db).Acquire(ctx, req)
		assert.Equal(t, apperror.CodeIdempotencyMismatch, apperror.CodeOf(err))
	})

	t.Run("in progress", func(t *testing.T) {
		db := (&fakeDB{}).expect(step{match: "INSERT INTO idempotency_keys", cols: acquireCols,
			rows: [][]any{{"caja-01", req.Operation, "h1", idempotency.StatusPending, []byte{}, 0, "", testNow.Add(-time.Second), false}}})
		_, err := newTestIdempotency(db).Acquire(ctx, req)
		assert.Equal(t, apperror.CodeIdempotencyInProgress, apperror.CodeOf(err))
	})

	t.Run("stale pending is reclaimed", func(t *testing.T) {
		db := (&fakeDB{}).expect(
			step{match: "INSERT INTO idempotency_keys", cols: acquireCols,
				rows: [][]any{{"caja-01", req.Operation, "h1", idempotency.StatusPending, []byte{}, 0, "", testNow.Add(-time.Hour), false}}},
			step{match: "UPDATE idempotency_keys SET updated_at"},
		)
		replay, err := newTestIdempotency(db).Acquire(ctx, req)
		require.NoError(t, err)
		assert.Nil(t, replay)
	})
}

func TestIdempotencyStore_CompleteReleaseCleanup(t *testing.T) {
	ctx := context.Background()
	db := (&fakeDB{}).expect(
		step{match: "SET status = $1, response"},
		step{match: "DELETE FROM idempotency_keys WHERE idempotency_key"},
		step{match: "DELETE FROM idempotency_keys WHERE expires_at", tag: "DELETE 3"},
	)
	s := newTestIdempotency(db)

	require.NoError(t, s.Complete(ctx, "k", idempotency.Replay{StatusCode: 200, Body: []byte(`{}`)}))
	require.NoError(t, s.Release(ctx, "k"))
	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
