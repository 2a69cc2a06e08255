package errkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Network(t *testing.T) {
	c := Classify(errors.New("dial tcp: connect: ECONNREFUSED"))
	assert.Equal(t, KindNetwork, c.Kind)
	assert.True(t, c.Retryable)
}

func TestClassify_Timeout(t *testing.T) {
	c := Classify(errors.New("context deadline exceeded: timeout"))
	assert.Equal(t, KindTimeout, c.Kind)
	assert.True(t, c.Retryable)
}

func TestClassify_Validation(t *testing.T) {
	c := Classify(errors.New("invalid workflow: circular dependency detected"))
	assert.Equal(t, KindValidation, c.Kind)
	assert.False(t, c.Retryable)
}

func TestClassify_AgentNotFound(t *testing.T) {
	c := Classify(errors.New("agent \"writer\" not found"))
	assert.Equal(t, KindAgentNotFound, c.Kind)
	assert.False(t, c.Retryable)
}

func TestClassify_Unknown(t *testing.T) {
	c := Classify(errors.New("something unrelated happened"))
	assert.Equal(t, KindUnknown, c.Kind)
	assert.False(t, c.Retryable)
}

func TestClassify_NilError(t *testing.T) {
	c := Classify(nil)
	assert.Equal(t, KindUnknown, c.Kind)
	assert.False(t, c.Retryable)
}

func TestTypedError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	te := New("workflow", "run-node", "node invocation failed", cause)

	assert.Contains(t, te.Error(), "[workflow:run-node]")
	assert.Contains(t, te.Error(), "root cause")
	assert.ErrorIs(t, te, cause)
}

func TestTypedError_NoCauseOmitsColon(t *testing.T) {
	te := New("scheduler", "validate", "empty graph", nil)
	assert.Equal(t, `[scheduler:validate] empty graph`, te.Error())
}

func TestCancelledAndTimeoutConstructors(t *testing.T) {
	c := Cancelled("workflow", "run")
	assert.Equal(t, KindCancelled, c.Kind)
	assert.Contains(t, c.Error(), "cancelled")

	to := Timeout("workflow", "run-node")
	assert.Equal(t, KindTimeout, to.Kind)
	assert.Contains(t, to.Error(), "timeout")
}

func TestClassify_CancelledAndTimeoutConstructorsAreNeverRetryable(t *testing.T) {
	// Unlike a plain "timeout"-substring message (retryable, see
	// TestClassify_Timeout), the Executor's own cancellation/deadline
	// signal must never be retried regardless of its message text.
	c := Classify(Cancelled("workflow", "run"))
	assert.Equal(t, KindCancelled, c.Kind)
	assert.False(t, c.Retryable)

	to := Classify(Timeout("workflow", "run-node"))
	assert.Equal(t, KindTimeout, to.Kind)
	assert.False(t, to.Retryable)
}

func TestRetryPolicy_DelayGrowsExponentiallyAndCaps(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5)) // capped
}

func TestRetrier_SucceedsWithoutRetry(t *testing.T) {
	r := NewRetrier(RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, MaxRetries: 3})

	calls := 0
	err := r.Do(context.Background(), func(attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetriesRetryableErrorsUntilSuccess(t *testing.T) {
	r := NewRetrier(RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, MaxRetries: 3})

	calls := 0
	err := r.Do(context.Background(), func(attempt int) error {
		calls++
		if calls < 3 {
			return errors.New("network: connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	r := NewRetrier(RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, MaxRetries: 5})

	calls := 0
	err := r.Do(context.Background(), func(attempt int) error {
		calls++
		return errors.New("invalid input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrier_ExhaustsMaxRetries(t *testing.T) {
	r := NewRetrier(RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, MaxRetries: 2})

	calls := 0
	err := r.Do(context.Background(), func(attempt int) error {
		calls++
		return errors.New("timeout waiting for response")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls) // initial attempt + 2 retries
}
