// Package ratelimit implements the request throttle used between page fetches.
// It replaces a fixed sleep with a fixed-interval token bucket that can be tuned
// per run or disabled entirely.
package ratelimit

import (
	"time"
)

// DefaultInterval is the spacing between consecutive requests when nothing else is configured.
// The jobs API publishes no limit; one request per second is what the exporter has always used.
const DefaultInterval = 1 * time.Second

// State is a point-in-time snapshot of a Limiter.
type State struct {
	// Interval is the minimum spacing between request starts. Zero means unthrottled.
	Interval time.Duration `json:"interval"`

	// Requests is the number of Wait calls that were granted.
	Requests int `json:"requests"`

	// Throttled is the number of granted requests that had to wait.
	Throttled int `json:"throttled"`

	// TotalWait is the accumulated time spent waiting.
	TotalWait time.Duration `json:"total_wait"`

	// LastRequest is when the most recent request was granted.
	LastRequest time.Time `json:"last_request"`
}

// IsThrottled reports whether the limiter enforces any spacing.
func (s State) IsThrottled() bool {
	return s.Interval > 0
}

// AverageWait returns the mean wait per granted request.
func (s State) AverageWait() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Requests)
}
