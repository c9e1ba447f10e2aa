package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = time.Second
	// DefaultMaxDelay caps the backoff delay.
	DefaultMaxDelay = 30 * time.Second
	// DefaultExponentialBase is the backoff growth factor.
	DefaultExponentialBase = 2.0
)

// Policy configures classification-driven retries. An operation run
// through Execute is attempted at most MaxRetries+1 times.
type Policy struct {
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	Jitter          bool
}

// DefaultPolicy returns a policy with jittered exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		BaseDelay:       DefaultBaseDelay,
		MaxDelay:        DefaultMaxDelay,
		ExponentialBase: DefaultExponentialBase,
		Jitter:          true,
	}
}

// Delay computes the backoff delay before retry number attempt
// (zero-based): min(BaseDelay * ExponentialBase^attempt, MaxDelay),
// multiplied by a uniform factor in [0.5, 1.0) when Jitter is set.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	max := p.MaxDelay
	if max <= 0 {
		max = DefaultMaxDelay
	}
	expBase := p.ExponentialBase
	if expBase <= 1 {
		expBase = DefaultExponentialBase
	}

	d := time.Duration(float64(base) * math.Pow(expBase, float64(attempt)))
	if d > max || d <= 0 {
		d = max
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.5 + 0.5*rand.Float64()))
	}
	return d
}

// expBackOff adapts Policy to the backoff.BackOff interface so Execute
// can run through cenkalti/backoff's retry machinery.
type expBackOff struct {
	policy  Policy
	attempt int
}

func (b *expBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.attempt)
	b.attempt++
	return d
}

func (b *expBackOff) Reset() {
	b.attempt = 0
}

// BackOff returns the policy as a context-aware, retry-capped
// backoff.BackOff.
func (p Policy) BackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.WithMaxRetries(&expBackOff{policy: p}, uint64(p.MaxRetries)),
		ctx,
	)
}

// Execute runs op up to MaxRetries+1 times, classifying each failure.
// A non-retryable kind stops immediately; exhaustion returns the last
// error observed.
func (p Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	return p.ExecuteNotify(ctx, op, nil)
}

// ExecuteNotify is Execute with a callback invoked before each sleep,
// receiving the failure and the upcoming delay.
func (p Policy) ExecuteNotify(ctx context.Context, op func(ctx context.Context) error, notify func(err error, next time.Duration)) error {
	wrapped := func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !Classify(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	var n backoff.Notify
	if notify != nil {
		n = func(err error, next time.Duration) {
			notify(err, next)
		}
	}
	return backoff.RetryNotify(wrapped, p.BackOff(ctx), n)
}
