package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGuard_Validation(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		window      time.Duration
		expectError bool
	}{
		{name: "valid", limit: 5, window: time.Second},
		{name: "zero window", limit: 1, window: 0},
		{name: "zero limit", limit: 0, window: time.Second, expectError: true},
		{name: "negative limit", limit: -3, window: time.Second, expectError: true},
		{name: "negative window", limit: 3, window: -time.Second, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(tt.limit, tt.window, zerolog.Nop())
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidLimit))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.limit, g.Limit())
			assert.Equal(t, tt.window, g.Window())
		})
	}
}

func TestGuard_BurstAdmittedImmediately(t *testing.T) {
	g, err := NewGuard(4, time.Second, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}

	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 4, g.Len())
}

func TestGuard_SlidingWindowLaw(t *testing.T) {
	const (
		limit  = 3
		window = 200 * time.Millisecond
	)
	g, err := NewGuard(limit, window, zerolog.Nop())
	require.NoError(t, err)

	admissions := make([]time.Time, 0, 2*limit+1)
	for i := 0; i < 2*limit+1; i++ {
		require.NoError(t, g.Acquire(context.Background()))
		admissions = append(admissions, time.Now())
	}

	// Any K+1 consecutive admissions span at least one window.
	for i := limit; i < len(admissions); i++ {
		span := admissions[i].Sub(admissions[i-limit])
		assert.GreaterOrEqual(t, span, window-5*time.Millisecond,
			"admission %d came %v after admission %d", i, span, i-limit)
	}
}

func TestGuard_ConcurrentCallers(t *testing.T) {
	const (
		limit   = 2
		window  = 100 * time.Millisecond
		callers = 7
	)
	g, err := NewGuard(limit, window, zerolog.Nop())
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Acquire(context.Background()))
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, callers)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	// 7 admissions at 2 per 100ms need at least 3 full windows.
	assert.GreaterOrEqual(t, last.Sub(first), 3*window-10*time.Millisecond)
}

func TestGuard_ZeroWindowNeverWaits(t *testing.T) {
	g, err := NewGuard(1, 0, zerolog.Nop())
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, g.Acquire(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestGuard_CancelWhileWaiting(t *testing.T) {
	g, err := NewGuard(1, 10*time.Second, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, g.Acquire(context.Background()))
	before := g.access.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = g.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), time.Second)

	// Nothing was recorded for the abandoned attempt.
	assert.Equal(t, before, g.access.Snapshot())
}

func TestGuard_AlreadyCancelledConsumesNothing(t *testing.T) {
	g, err := NewGuard(5, time.Second, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		err := g.Acquire(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	}
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.access.Snapshot())
}

func TestGuard_CancelWhileQueued(t *testing.T) {
	g, err := NewGuard(1, 10*time.Second, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, g.Acquire(context.Background()))

	// First waiter holds the critical section while sleeping.
	holderCtx, cancelHolder := context.WithCancel(context.Background())
	holderDone := make(chan error, 1)
	go func() { holderDone <- g.Acquire(holderCtx) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = g.Acquire(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	cancelHolder()
	assert.True(t, errors.Is(<-holderDone, context.Canceled))
	assert.Equal(t, 1, g.Len())
}

func TestGuard_AdmissionTimeIsRecorded(t *testing.T) {
	g, err := NewGuard(1, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	g.now = func() time.Time { return now }

	require.NoError(t, g.Acquire(context.Background()))
	assert.Equal(t, now, g.access.Oldest())

	// The clock moved past the window, so no wait and the new stamp replaces the old.
	now = now.Add(time.Second)
	require.NoError(t, g.Acquire(context.Background()))
	assert.Equal(t, []time.Time{now}, g.access.Snapshot())
}
