package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// ErrInvalidLimit is returned when a guard is built with a non-positive
// request count or a negative window.
var ErrInvalidLimit = errors.New("invalid rate limit")

// Prometheus metrics for admission control.
var (
	admissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_ratelimit_admissions_total",
		Help: "Total number of admitted requests by guard kind",
	}, []string{"guard"})

	admissionWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ac_ratelimit_wait_seconds",
		Help:    "Time spent waiting for admission by guard kind",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"guard"})

	admissionsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ac_ratelimit_cancelled_total",
		Help: "Total number of admission waits abandoned due to cancellation",
	}, []string{"guard"})
)

// Admitter delays callers until a request may be sent.
// Acquire fails only when ctx is done, in which case no slot is consumed.
type Admitter interface {
	Acquire(ctx context.Context) error
}

// Guard admits at most Limit operations within any trailing Window.
//
// Admission bookkeeping runs in a single critical section. Waiters enter it
// in arrival order, and the one at the front sleeps until the oldest
// admission leaves the window. The request itself is never performed
// inside the section.
type Guard struct {
	limit  int
	window time.Duration

	// sem is a one-slot channel used as a cancellable mutex. Blocked
	// senders are queued by the runtime in arrival order.
	sem       chan struct{}
	access    *AccessWindow
	occupancy *atomic.Int64

	now    func() time.Time
	logger zerolog.Logger
}

// NewGuard creates a guard admitting limit operations per window.
// A zero window caps nothing but the bookkeeping itself.
func NewGuard(limit int, window time.Duration, logger zerolog.Logger) (*Guard, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0 (got %d)", ErrInvalidLimit, limit)
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: window must be >= 0 (got %s)", ErrInvalidLimit, window)
	}

	return &Guard{
		limit:     limit,
		window:    window,
		sem:       make(chan struct{}, 1),
		access:    NewAccessWindow(limit),
		occupancy: atomic.NewInt64(0),
		now:       time.Now,
		logger:    logger,
	}, nil
}

// Limit returns the number of admissions allowed per window.
func (g *Guard) Limit() int {
	return g.limit
}

// Window returns the sliding window length.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Len returns how many admissions the window currently remembers.
// It does not enter the critical section, so it never waits.
func (g *Guard) Len() int {
	return int(g.occupancy.Load())
}

// Acquire blocks until the caller may proceed.
func (g *Guard) Acquire(ctx context.Context) error {
	start := g.now()

	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		admissionsCancelledTotal.WithLabelValues("memory").Inc()
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	// select picks randomly when both cases are ready.
	if err := ctx.Err(); err != nil {
		admissionsCancelledTotal.WithLabelValues("memory").Inc()
		return err
	}

	if g.access.Full() {
		elapsed := g.now().Sub(g.access.Oldest())
		if wait := g.window - elapsed; wait > 0 {
			g.logger.Debug().
				Dur("wait", wait).
				Int("limit", g.limit).
				Dur("window", g.window).
				Msg("Rate limit window full, waiting for admission")

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				admissionsCancelledTotal.WithLabelValues("memory").Inc()
				return ctx.Err()
			}
		}
	}

	admitted := g.now()
	g.access.Push(admitted)
	g.occupancy.Store(int64(g.access.Len()))
	g.logger.Trace().
		Int("occupancy", g.access.Len()).
		Dur("waited", admitted.Sub(start)).
		Msg("Admitted")

	admissionsTotal.WithLabelValues("memory").Inc()
	admissionWaitSeconds.WithLabelValues("memory").Observe(admitted.Sub(start).Seconds())
	return nil
}
