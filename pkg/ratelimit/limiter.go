package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for request throttling.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcf_throttle_wait_seconds",
		Help:    "Time spent waiting for the request throttle",
		Buckets: []float64{0, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	throttledRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcf_throttled_requests_total",
		Help: "Total number of requests delayed by the throttle",
	})
)

// Limiter spaces outgoing requests at a fixed interval.
// The first request is granted immediately; each later one waits until at least
// Interval has passed since the previous grant.
type Limiter struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewLimiter creates a limiter with one token per interval and a burst of one.
// An interval <= 0 disables throttling.
func NewLimiter(interval time.Duration, logger zerolog.Logger) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	} else {
		interval = 0
	}

	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		state:   State{Interval: interval},
	}
}

// Unlimited returns a limiter that never waits.
func Unlimited() *Limiter {
	return NewLimiter(0, zerolog.Nop())
}

// Wait blocks until the next request may start or the context is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	now := time.Now()
	waited := now.Sub(start)

	l.mu.Lock()
	l.state.Requests++
	l.state.TotalWait += waited
	l.state.LastRequest = now
	throttled := l.state.Interval > 0 && waited >= time.Millisecond
	if throttled {
		l.state.Throttled++
	}
	l.mu.Unlock()

	throttleWaitSeconds.Observe(waited.Seconds())
	if throttled {
		throttledRequestsTotal.Inc()
		l.logger.Debug().
			Dur("waited", waited).
			Dur("interval", l.state.Interval).
			Msg("Request throttled")
	}

	return nil
}

// State returns a snapshot of the limiter counters.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
