package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ncfpos/internal/domain/sequence"
	"ncfpos/pkg/logger"
)

type countingAlerts struct{ calls atomic.Int32 }

func (a *countingAlerts) SequenceAlerts(context.Context) ([]sequence.Status, error) {
	a.calls.Add(1)
	return []sequence.Status{{TypeID: 1, State: sequence.StateActive, LowStock: true}}, nil
}

type countingCleaner struct{ calls atomic.Int32 }

func (c *countingCleaner) Cleanup(context.Context) (int64, error) {
	c.calls.Add(1)
	return 3, nil
}

func TestWorker_Run(t *testing.T) {
	alerts := &countingAlerts{}
	cleaner := &countingCleaner{}
	w := NewWorker(alerts, cleaner, logger.Nop())
	w.AlertInterval = 5 * time.Millisecond
	w.CleanupInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return alerts.calls.Load() >= 2 && cleaner.calls.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_NoCleaner(t *testing.T) {
	alerts := &countingAlerts{}
	w := NewWorker(alerts, nil, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(1), alerts.calls.Load(), "alerts are checked once at start")
}
