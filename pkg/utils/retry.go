package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff describes how a failing call is repeated: up to Attempts calls,
// sleeping Base, Base*Factor, Base*Factor^2 ... between them, never more
// than Cap.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
	Factor   float64
	// Transient reports whether err is worth another call. Nil treats
	// every error as transient.
	Transient func(err error) bool
}

// APIBackoff suits remote API calls: three calls, half a second then one.
func APIBackoff() Backoff {
	return Backoff{Attempts: 3, Base: 500 * time.Millisecond, Cap: 10 * time.Second, Factor: 2}
}

// exponential is the schedule without jitter or an elapsed-time limit.
func (b Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	eb.MaxInterval = b.Cap
	eb.Multiplier = b.Factor
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Delay is the pause after the failed call numbered n (from zero).
func (b Backoff) Delay(n int) time.Duration {
	eb := b.exponential()
	d := eb.NextBackOff()
	for i := 0; i < n; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Do calls fn until it succeeds, returns a permanent error, runs out of
// attempts or ctx ends. fn always runs at least once.
func Do[T any](ctx context.Context, b Backoff, fn func() (T, error)) (T, error) {
	retries := uint64(0)
	if b.Attempts > 1 {
		retries = uint64(b.Attempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b.exponential(), retries), ctx)
	return backoff.RetryWithData(func() (T, error) {
		v, err := fn()
		if err != nil && b.Transient != nil && !b.Transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy)
}
