// Package retry runs an operation again when it fails with a recoverable
// error, waiting with exponential backoff between attempts.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

type options struct {
	maxRetries  int
	baseWait    time.Duration
	maxWait     time.Duration
	backoffRate float64
	jitter      float64
	onRetry     func(attempt int, err error, wait time.Duration)
}

// Option configures Do.
type Option func(*options)

// WithMaxRetries sets how many times the operation is retried after the
// first attempt. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(o *options) { o.baseWait = d }
}

// WithMaxWait caps the wait between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) { o.maxWait = d }
}

// WithBackoffRate sets the multiplier applied to the wait after each retry.
func WithBackoffRate(rate float64) Option {
	return func(o *options) { o.backoffRate = rate }
}

// WithJitter randomizes each wait by up to the given fraction.
func WithJitter(fraction float64) Option {
	return func(o *options) { o.jitter = fraction }
}

// OnRetry registers a function called before each retry.
func OnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *options) { o.onRetry = fn }
}

// Do calls fn until it succeeds, returns a non-recoverable error, the retry
// budget runs out, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := options{
		maxRetries:  3,
		baseWait:    500 * time.Millisecond,
		maxWait:     30 * time.Second,
		backoffRate: 2.0,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= o.maxRetries || !IsRecoverable(err) {
			return err
		}
		wait := o.delay(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt+1, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

func (o *options) delay(attempt int) time.Duration {
	d := float64(o.baseWait) * math.Pow(o.backoffRate, float64(attempt))
	if o.jitter > 0 {
		d += d * o.jitter * (rand.Float64()*2 - 1)
	}
	if o.maxWait > 0 && d > float64(o.maxWait) {
		d = float64(o.maxWait)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
