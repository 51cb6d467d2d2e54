package retry

import (
	"context"
	"time"
)

// Op is a single attempt of a retryable operation.
type Op func() error

// Policy describes how an operation is retried.
//
// Attempts counts total tries (not re-tries); it must be >= 1.
// Delay grows linearly per attempt: base, 2*base, 3*base, ... capped at MaxDelay.
// Fallback, if set, runs after the last failed attempt; its result replaces
// the terminal error (used e.g. to rename a directory that cannot be deleted).
type Policy struct {
	Attempts int
	Base     time.Duration
	MaxDelay time.Duration
	Fallback func(last error) error
}

func (p Policy) withDefaults() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Base <= 0 {
		p.Base = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

// Do runs op under the policy. It returns nil as soon as one attempt
// succeeds. Between attempts it sleeps the policy delay, honoring ctx.
func Do(ctx context.Context, p Policy, op Op) error {
	p = p.withDefaults()

	var last error
	for i := 0; i < p.Attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = op()
		if last == nil {
			return nil
		}
		if i == p.Attempts-1 {
			break
		}
		delay := time.Duration(i+1) * p.Base
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}

	if p.Fallback != nil {
		return p.Fallback(last)
	}
	return last
}
