package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunEveryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- runEvery(ctx, "test", 1, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	// Let at least one tick land, then cancel.
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runEvery did not stop after cancel")
	}
}

func TestRunEveryKeepsGoingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	go func() {
		_ = runEvery(ctx, "test", 1, func(context.Context) error {
			calls.Add(1)
			return eris.New("pass failed")
		})
	}()

	// A failing pass must not end the loop.
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 50*time.Millisecond)
}

func TestRunEveryDisabledInterval(t *testing.T) {
	err := runEvery(context.Background(), "test", 0, func(context.Context) error {
		t.Fatal("fn must not run with a zero interval")
		return nil
	})
	assert.NoError(t, err)
}
