package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned by Do when the policy gives up.
var ErrExhausted = errors.New("retry policy exhausted")

// Notify is called after every failed attempt with the error and the delay
// before the next one.
type Notify func(err error, next time.Duration)

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, the policy gives up
// or ctx is done. The policy is reset before the first attempt.
func Do(ctx context.Context, policy *Policy, op func() error, notify Notify) error {
	policy.Reset()
	for {
		err := op()
		if err == nil {
			return nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}

		next, ok := policy.NextDelay()
		if !ok {
			return fmt.Errorf("%w after %s: %w", ErrExhausted, policy.Elapsed().Round(time.Millisecond), err)
		}
		if notify != nil {
			notify(err, next)
		}

		if err := Sleep(ctx, next); err != nil {
			return err
		}
	}
}

// CallWithTimeout retries op under the default policy bounded by timeout.
// A zero timeout retries until ctx is done. opts apply to the policy.
func CallWithTimeout(ctx context.Context, timeout time.Duration, op func() error, notify Notify, opts ...Option) error {
	cfg := DefaultConfig()
	cfg.MaxElapsedTime = timeout
	return Do(ctx, NewPolicy(cfg, opts...), op, notify)
}

// CallWithDefaultTimeout is CallWithTimeout with DefaultCallTimeout: the
// bounded policy for calls to external systems.
func CallWithDefaultTimeout(ctx context.Context, op func() error, notify Notify, opts ...Option) error {
	return CallWithTimeout(ctx, DefaultCallTimeout, op, notify, opts...)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
