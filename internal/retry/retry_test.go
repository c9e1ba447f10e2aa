package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind ErrorKind
	}{
		{errors.New("dial tcp: connection refused"), KindConnection},
		{errors.New("request timed out after 30s"), KindTimeout},
		{errors.New("429 Too Many Requests"), KindRateLimit},
		{errors.New("503 Service Unavailable"), KindServiceUnavailable},
		{errors.New("Deadlock found when trying to get lock"), KindDeadlock},
		{errors.New("temporary failure in name resolution"), KindTemporary},
		{errors.New("401 Unauthorized"), KindAuth},
		{errors.New("permission denied"), KindAuthorization},
		{errors.New("session not found"), KindNotFound},
		{errors.New("validation failed: missing field"), KindValidation},
		{errors.New("configuration error: bad endpoint"), KindConfiguration},
		{errors.New("precondition failed"), KindBusinessLogic},
		{errors.New("something inexplicable"), KindUnknown},
		{context.DeadlineExceeded, KindTimeout},
		{context.Canceled, KindCancelled},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), KindTimeout},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, Classify(tt.err), "error %q", tt.err)
	}
}

func TestErrorKindRetryable(t *testing.T) {
	retryable := []ErrorKind{
		KindTimeout, KindConnection, KindRateLimit,
		KindServiceUnavailable, KindDeadlock, KindTemporary,
	}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "kind %s", k)
	}

	nonRetryable := []ErrorKind{
		KindAuth, KindAuthorization, KindValidation, KindNotFound,
		KindBusinessLogic, KindConfiguration, KindCancelled, KindUnknown,
	}
	for _, k := range nonRetryable {
		assert.False(t, k.Retryable(), "kind %s", k)
	}
}

func TestPolicyDelayMonotonicWithoutJitter(t *testing.T) {
	p := Policy{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          false,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", attempt)
		prev = d
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(10), "capped at MaxDelay")
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	p := Policy{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
	}

	for attempt := 0; attempt < 8; attempt++ {
		unjittered := Policy{
			BaseDelay:       p.BaseDelay,
			MaxDelay:        p.MaxDelay,
			ExponentialBase: p.ExponentialBase,
		}.Delay(attempt)

		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, unjittered/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, p.MaxDelay, "attempt %d", attempt)
		}
	}
}

func fastPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:      maxRetries,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestExecuteSucceedsWithinBudget(t *testing.T) {
	// Three transient failures, success on the fourth attempt:
	// exactly MaxRetries+1 = 4 attempts, so the call succeeds.
	attempts := 0
	err := fastPolicy(3).Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts <= 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
}

func TestExecuteExhaustsRetryBudget(t *testing.T) {
	// Same failure pattern with MaxRetries=2: the budget of 3 attempts
	// is exhausted before the operation would have succeeded.
	attempts := 0
	err := fastPolicy(2).Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts <= 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := fastPolicy(5).Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("validation failed: bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestExecuteRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	p := Policy{
		MaxRetries:      10,
		BaseDelay:       50 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 2.0,
	}
	err := p.Execute(ctx, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			cancel()
		}
		return errors.New("connection reset")
	})

	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 2, "cancellation must stop the retry loop")
}

func TestExecuteNotifyCallback(t *testing.T) {
	var notified []time.Duration
	attempts := 0
	err := fastPolicy(2).ExecuteNotify(context.Background(),
		func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return errors.New("timeout")
			}
			return nil
		},
		func(err error, next time.Duration) {
			notified = append(notified, next)
		},
	)

	require.NoError(t, err)
	assert.Len(t, notified, 1, "one retry means one notification")
}
