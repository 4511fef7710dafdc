// Package retry provides the bounded wait primitive used everywhere the
// program has to sit out SoftLayer's eventual consistency: the same loop
// polls virtual guest metadata and SSH reachability.
package retry

import (
	"errors"
	"fmt"
	"time"

	"saltboot/internal/logging"

	"go.uber.org/zap"
)

var (
	// ErrTimeExceeded is returned when the wall-clock limit elapses
	// before the test passes.
	ErrTimeExceeded = errors.New("time limit exceeded")

	// ErrTestNeverSatisfied is returned if the loop exits without
	// success while the limit has not elapsed. The loop condition makes
	// this unreachable, but it must stay a distinct named failure
	// rather than fold into ErrTimeExceeded.
	ErrTestNeverSatisfied = errors.New("operation test never satisfied")
)

// attemptDelay separates attempts once the quick retries are spent.
// Overridable in tests.
var attemptDelay = 3 * time.Second

// quickAttempts run back-to-back so the common "already ready" case
// returns with no added latency.
const quickAttempts = 2

// UntilTest repeatedly invokes fn until test accepts its result or the
// wall-clock limit elapses, and returns the accepted result. An error from
// fn aborts the loop immediately; the test is expected to be pure over the
// fetched value. The limit is checked before each attempt, so one final
// attempt still runs after the limit passes.
func UntilTest[T any](limit time.Duration, desc string, fn func() (T, error), test func(T) bool) (T, error) {
	var (
		zero         T
		res          T
		satisfied    bool
		limitReached bool
		attempts     int
	)

	start := time.Now()

	for !satisfied && !limitReached {
		limitReached = time.Since(start) > limit

		var err error
		res, err = fn()
		if err != nil {
			return zero, fmt.Errorf("operation %q: %w", desc, err)
		}

		attempts++
		logging.Logger().Debug("bounded operation attempted",
			zap.String("operation", desc),
			zap.Int("attempts", attempts))

		satisfied = test(res)
		if !satisfied && attempts > quickAttempts {
			time.Sleep(attemptDelay)
		}
	}

	switch {
	case satisfied:
		logging.Logger().Debug("bounded operation succeeded",
			zap.String("operation", desc),
			zap.Int("attempts", attempts))
		return res, nil
	case limitReached:
		return zero, fmt.Errorf("operation %q: %w (limit %s)", desc, ErrTimeExceeded, limit)
	default:
		return zero, fmt.Errorf("operation %q: %w", desc, ErrTestNeverSatisfied)
	}
}

// Until is UntilTest without a separate test: fn reports its own success,
// and the loop runs until fn returns true or the limit elapses.
func Until(limit time.Duration, desc string, fn func() bool) error {
	_, err := UntilTest(limit, desc,
		func() (bool, error) { return fn(), nil },
		func(ok bool) bool { return ok })
	return err
}
