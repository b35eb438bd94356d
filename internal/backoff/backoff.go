// Package backoff computes retry delays for transport faults and publish retries.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy returns the delay before retry attempt n, starting at 1
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same interval every attempt
type Constant struct {
	Interval time.Duration
}

// Delay implements Strategy
func (c Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential doubles from Initial, capped at Max
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter picks a uniform delay in [0, computed] to spread competing pollers
	Jitter bool
}

// Delay implements Strategy
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec
	}
	return time.Duration(base)
}

// Default is used for receive faults when nothing is configured
func Default() Strategy {
	return Exponential{Initial: time.Second, Max: 30 * time.Second, Jitter: true}
}

// New builds a Strategy by name: "constant", "exponential" or "jitter"
func New(name string, initial, max time.Duration) (Strategy, error) {
	switch name {
	case "", "jitter":
		return Exponential{Initial: initial, Max: max, Jitter: true}, nil
	case "exponential":
		return Exponential{Initial: initial, Max: max}, nil
	case "constant":
		return Constant{Interval: initial}, nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}

// Sleep waits for d or until ctx is done, reporting whether the full delay elapsed
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
