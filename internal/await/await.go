// Package await provides the bounded poll primitive behind the synchronous
// client operations. A single-slot state field is cleared, a command is sent,
// and the caller polls until the router populates the slot or the window
// measured from call entry elapses.
package await

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout reports that the wait window elapsed before the probe succeeded.
var ErrTimeout = errors.New("await: timed out")

// Until polls probe every interval until it reports success, the timeout
// measured from call entry elapses, or ctx is cancelled. The probe is checked
// once immediately so already-populated slots return without sleeping.
func Until[T any](ctx context.Context, interval, timeout time.Duration, probe func() (T, bool)) (T, error) {
	var zero T
	if probe == nil {
		return zero, errors.New("await: nil probe")
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	if v, ok := probe(); ok {
		return v, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, ErrTimeout
		case <-ticker.C:
			if v, ok := probe(); ok {
				return v, nil
			}
		}
	}
}
