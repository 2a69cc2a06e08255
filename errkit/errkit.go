// Package errkit classifies orchestrator errors by kind and severity and
// drives the retry/backoff policy around retryable ones. Grounded on the
// typed-error convention in context/conversation.go's ConversationError
// and team/team.go's TeamError (component/operation/message/wrapped err).
package errkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Kind is the semantic category of an error.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindTimeout        Kind = "timeout"
	KindValidation     Kind = "validation"
	KindAgentNotFound  Kind = "agent-not-found"
	KindExecution      Kind = "execution"
	KindCancelled      Kind = "cancelled"
	KindContextLength  Kind = "context-length"
	KindUnknown        Kind = "unknown"
)

// Severity ranks how serious a classified error is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Classification is the result of classifying an error.
type Classification struct {
	Kind      Kind
	Severity  Severity
	Retryable bool
}

// pattern is one substring-match rule in the classification table.
type pattern struct {
	kind      Kind
	severity  Severity
	retryable bool
	match     func(lower string) bool
}

func containsAny(lower string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// table is evaluated in order; the first matching pattern wins. Order
// matters: "agent ... not found" must be checked before the generic
// "execution" bucket since a message can contain both words.
var table = []pattern{
	{
		kind: KindNetwork, severity: SeverityMedium, retryable: true,
		match: func(l string) bool {
			return containsAny(l, "econnrefused", "etimedout", "enotfound", "network", "fetch failed")
		},
	},
	{
		kind: KindTimeout, severity: SeverityLow, retryable: true,
		match: func(l string) bool { return strings.Contains(l, "timeout") },
	},
	{
		kind: KindValidation, severity: SeverityHigh, retryable: false,
		match: func(l string) bool {
			return containsAny(l, "invalid", "validation", "circular dependency")
		},
	},
	{
		kind: KindAgentNotFound, severity: SeverityHigh, retryable: false,
		match: func(l string) bool {
			return (strings.Contains(l, "agent") && strings.Contains(l, "not found")) || strings.Contains(l, "no agent found")
		},
	},
	{
		kind: KindExecution, severity: SeverityMedium, retryable: false,
		match: func(l string) bool {
			return containsAny(l, "execution", "failed to execute", "runtime error")
		},
	},
}

// Classify matches err's message against the classification table and
// returns its kind, severity, and retryability. A nil error classifies as
// KindUnknown, non-retryable. Apart from the short-circuit below,
// classification is a pure function of the error's message: classifying
// the same message twice always yields the same answer.
//
// A *TypedError already tagged KindCancelled or KindTimeout short-circuits
// the table: both are fatal to the node that raised them regardless of
// what their message text happens to contain (a plain "timeout" message
// from elsewhere, e.g. a tool call, is still retryable per the table
// below; only the Executor's own cancellation/deadline signal is not).
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Severity: SeverityMedium, Retryable: false}
	}
	if te, ok := err.(*TypedError); ok {
		switch te.Kind {
		case KindCancelled:
			return Classification{Kind: KindCancelled, Severity: SeverityHigh, Retryable: false}
		case KindTimeout:
			return Classification{Kind: KindTimeout, Severity: SeverityLow, Retryable: false}
		}
	}
	lower := strings.ToLower(err.Error())
	for _, p := range table {
		if p.match(lower) {
			return Classification{Kind: p.kind, Severity: p.severity, Retryable: p.retryable}
		}
	}
	return Classification{Kind: KindUnknown, Severity: SeverityMedium, Retryable: false}
}

// TypedError is the orchestrator's standard error shape: a component tag,
// the operation that failed, a human message, and an optionally wrapped
// cause. Every package that can fail constructs one of these rather than
// a bare fmt.Errorf, following context/conversation.go's
// ConversationError and team/team.go's TeamError.
type TypedError struct {
	Component string
	Operation string
	Message   string
	Err       error
	Kind      Kind
}

func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *TypedError) Unwrap() error { return e.Err }

// New constructs a TypedError and classifies it eagerly so Kind is
// available without re-running Classify.
func New(component, operation, message string, cause error) *TypedError {
	te := &TypedError{Component: component, Operation: operation, Message: message, Err: cause}
	te.Kind = Classify(te).Kind
	return te
}

// Cancelled constructs the fixed "cancelled" TypedError a node fails with
// when it observes a latched ExecutionContext cancellation.
func Cancelled(component, operation string) *TypedError {
	return &TypedError{Component: component, Operation: operation, Message: "cancelled", Kind: KindCancelled}
}

// Timeout constructs the fixed "timeout" TypedError the Executor raises
// when a node invocation exceeds its per-node deadline.
func Timeout(component, operation string) *TypedError {
	return &TypedError{Component: component, Operation: operation, Message: "timeout", Kind: KindTimeout}
}

// RetryPolicy configures the exponential backoff helper.
type RetryPolicy struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxRetries    int
}

// DefaultRetryPolicy returns the standard defaults: 1s initial delay, 30s
// cap, factor 2, 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay:  1000 * time.Millisecond,
		MaxDelay:      30000 * time.Millisecond,
		BackoffFactor: 2,
		MaxRetries:    3,
	}
}

// Delay returns the backoff delay before the given attempt (1-indexed),
// delay(attempt) = min(initialDelay * backoffFactor^(attempt-1), maxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Retrier drives a retry loop with exponential backoff via
// github.com/cenkalti/backoff/v5, aborting immediately when Classify
// deems the operation's error non-retryable.
type Retrier struct {
	policy RetryPolicy
}

// NewRetrier builds a Retrier from policy.
func NewRetrier(policy RetryPolicy) *Retrier {
	return &Retrier{policy: policy}
}

// permanent wraps an error and unwraps to it. Do marks non-retryable
// errors for backoff.Retry with backoff.Permanent, not with this type.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Do runs op, retrying on retryable failures per the configured policy.
// It returns the last error if retries are exhausted or the error is
// classified non-retryable.
func (r *Retrier) Do(ctx context.Context, op func(attempt int) error) error {
	attempt := 0
	wrapped := func() (struct{}, error) {
		attempt++
		err := op(attempt)
		if err == nil {
			return struct{}{}, nil
		}
		if !Classify(err).Retryable {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialDelay
	b.MaxInterval = r.policy.MaxDelay
	b.Multiplier = r.policy.BackoffFactor

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
	)
	return err
}
