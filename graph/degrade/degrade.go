// Package degrade runs external calls in degraded mode: a failed call is
// replaced by a fallback value instead of failing the step that made it.
//
// Suppress covers optional enrichment, where one attempt is enough and only
// known recoverable failures are absorbed. Retry covers required fields,
// where a bounded number of attempts is made before a synthetic value is
// substituted.
package degrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/questforge/graph/tool"
)

// Defaults for Policy.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = 2 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Policy bounds a degraded call.
type Policy struct {
	// MaxAttempts is the attempt limit for Retry. Values below 1 mean 1.
	MaxAttempts int

	// Delay is the fixed pause between Retry attempts.
	Delay time.Duration

	// Timeout bounds each attempt. Zero means no per-call timeout.
	Timeout time.Duration

	// Logger receives a warning whenever a fallback is used. Nil discards.
	Logger *slog.Logger
}

// DefaultPolicy returns three attempts two seconds apart with a one minute
// call timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Timeout:     DefaultTimeout,
	}
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

// ValueError reports generated output with an unusable value.
type ValueError struct {
	Field  string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Reason)
}

// TypeError reports generated output of the wrong shape.
type TypeError struct {
	Field string
	Want  string
	Got   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s: want %s, got %s", e.Field, e.Want, e.Got)
}

// IsSuppressible reports whether err is a failure Suppress absorbs: a tool
// invocation failure, a ValueError or a TypeError.
func IsSuppressible(err error) bool {
	var (
		te *tool.Error
		ve *ValueError
		ty *TypeError
	)
	return errors.As(err, &te) || errors.As(err, &ve) || errors.As(err, &ty)
}

// call runs fn under the policy timeout.
func call[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error)) (T, error) {
	if p.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	return fn(callCtx)
}

// Suppress runs fn once. A suppressible error yields fallback with a nil
// error; any other error is returned unchanged.
func Suppress[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), fallback T) (T, error) {
	v, err := call(ctx, p, fn)
	if err == nil {
		return v, nil
	}
	if ctx.Err() == nil && IsSuppressible(err) {
		p.logger().WarnContext(ctx, "call degraded", "error", err)
		return fallback, nil
	}
	return v, err
}

// Retry runs fn up to MaxAttempts times, Delay apart. An attempt fails when
// fn errors or when valid rejects its result; valid may be nil. When every
// attempt fails Retry returns fallback() with a nil error. The only error
// it returns is the context's.
func Retry[T any](ctx context.Context, p Policy, fn func(context.Context) (T, error), valid func(T) error, fallback func() T) (T, error) {
	var lastErr error
	attempts := p.attempts()

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}

		v, err := call(ctx, p, fn)
		if err == nil && valid != nil {
			err = valid(v)
		}
		if err == nil {
			return v, nil
		}
		lastErr = err
		p.logger().DebugContext(ctx, "attempt failed", "attempt", attempt, "error", err)

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, p.Delay); err != nil {
			var zero T
			return zero, err
		}
	}

	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	p.logger().WarnContext(ctx, "retries exhausted, using fallback", "attempts", attempts, "error", lastErr)
	return fallback(), nil
}

// Cooldown blocks for d or until ctx is done. Callers use it after
// rate-limited calls such as image synthesis.
func Cooldown(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
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
