package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryClass tells the retry loop what to do with a failed model call.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe" // at most maxGuardedRetries attempts
	RetryClassNonRetryable RetryClass = "non_retryable"
)

const maxGuardedRetries = 2

// EngineError is a provider error annotated for the retry loop.
type EngineError struct {
	Err        error
	Class      RetryClass
	HTTPStatus int    // 0 when the transport never got a response
	RetryAfter string // raw Retry-After value, seconds or HTTP date
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model call failed (%s)", e.Class)
	}
	return e.Err.Error()
}

func (e *EngineError) Unwrap() error { return e.Err }

// WrapLLMError annotates a provider error with its HTTP status and
// Retry-After hint. The status decides the class when known.
func WrapLLMError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}
	class := classifyStatus(httpStatus)
	if class == "" {
		class = ClassifyLLMError(err)
	}
	return &EngineError{Err: err, Class: class, HTTPStatus: httpStatus, RetryAfter: retryAfter}
}

func classifyStatus(status int) RetryClass {
	switch {
	case status == 0:
		return ""
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return RetryClassRetryable
	case status >= 400:
		return RetryClassNonRetryable
	default:
		return ""
	}
}

// Message fragments, checked in order. Anything unmatched is not retried.
var retryMarkers = []struct {
	class   RetryClass
	markers []string
}{
	{RetryClassRetryable, []string{
		"429", "rate limit", "too many requests",
		"500", "502", "503", "504", "internal server error", "bad gateway",
		"service unavailable", "gateway timeout", "overloaded",
		"timeout", "connection reset", "connection refused", "no such host",
		"network", "dns", "temporary failure", "eof",
	}},
	{RetryClassMaybe, []string{
		"deadline exceeded", "context length", "token limit",
	}},
}

// ClassifyLLMError decides whether a model call error is worth retrying.
// Annotated errors keep their class; otherwise the message is inspected.
func ClassifyLLMError(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Class
	}

	msg := strings.ToLower(err.Error())
	for _, group := range retryMarkers {
		for _, m := range group.markers {
			if strings.Contains(msg, m) {
				return group.class
			}
		}
	}
	return RetryClassNonRetryable
}

// ExtractRetryAfter returns the server's requested wait, or 0.
func ExtractRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) && engineErr.RetryAfter != "" {
		v := strings.TrimSpace(engineErr.RetryAfter)
		if secs, convErr := strconv.Atoi(v); convErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if at, parseErr := http.ParseTime(v); parseErr == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}

	var secs int
	msg := strings.ToLower(err.Error())
	if i := strings.Index(msg, "retry after "); i >= 0 {
		if _, scanErr := fmt.Sscanf(msg[i:], "retry after %d", &secs); scanErr == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// RetryExhaustedError is returned once a policy gives up.
type RetryExhaustedError struct {
	Err       error
	Attempts  int
	IsGuarded bool // stopped by the "maybe" cap rather than MaxRetries
}

func (e *RetryExhaustedError) Error() string {
	kind := "retries"
	if e.IsGuarded {
		kind = "guarded retries"
	}
	return fmt.Sprintf("%s exhausted after %d attempts: %v", kind, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// RetryPolicy configures retries of one kind of call.
type RetryPolicy struct {
	MaxRetries   int // 0 disables retries
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // adds up to 20%
}

// RetryWithPolicy calls fn until it succeeds, the error is not retryable,
// the policy is exhausted or ctx ends. onRetry, when set, runs before each wait.
func RetryWithPolicy[T any](
	ctx context.Context,
	policy RetryPolicy,
	fn func(ctx context.Context) (T, error),
	classify func(error) RetryClass,
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		switch class := classify(err); {
		case class == RetryClassNonRetryable:
			return zero, err
		case attempt >= policy.MaxRetries:
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt + 1}
		case class == RetryClassMaybe && attempt >= maxGuardedRetries:
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt + 1, IsGuarded: true}
		}

		delay := policy.delay(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("context cancelled during retry: %w", err)
		}
	}
}

// delay is the wait before retry number attempt+1. A Retry-After hint wins
// over the exponential schedule but is still capped by MaxDelay.
func (p RetryPolicy) delay(attempt int, err error) time.Duration {
	if hint := ExtractRetryAfter(err); hint > 0 {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}
	if p.InitialDelay <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d += rand.Float64() * 0.2 * d
	}
	return time.Duration(d)
}

// retryModelCall wraps one completion call with the model retry policy.
func retryModelCall(
	ctx context.Context,
	policy RetryPolicy,
	client ModelClient,
	messages []Message,
	onRetry func(attempt int, delay time.Duration, err error),
) (ModelResponse, error) {
	return RetryWithPolicy(
		ctx,
		policy,
		func(ctx context.Context) (ModelResponse, error) {
			return client.Chat(ctx, messages)
		},
		ClassifyLLMError,
		onRetry,
	)
}
