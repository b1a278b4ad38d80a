package utils

import (
	"context"
	"math/rand"
	"time"
)

// DelayPolicy bounds a randomized pause. Both the navigation controller and
// the collection orchestrator take one by injection so tests can substitute
// a zero policy and run deterministically.
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration
}

// ZeroDelay never pauses.
var ZeroDelay = DelayPolicy{}

// Duration picks a uniformly random duration within [Min, Max].
func (p DelayPolicy) Duration() time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int63n(int64(p.Max-p.Min)))
}

// Wait sleeps for a randomized duration or until ctx is cancelled.
func (p DelayPolicy) Wait(ctx context.Context) error {
	d := p.Duration()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
