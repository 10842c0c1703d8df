package gcal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock abstracts time so readiness waits can be tested without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Probe reports whether one external dependency is usable. A nil error
// means ready.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// DependencyError reports the dependencies that never became ready before
// the deadline.
type DependencyError struct {
	Names   []string
	Timeout time.Duration
	// Last is the most recent probe failure, if any.
	Last error
}

func (e *DependencyError) Error() string {
	msg := fmt.Sprintf("%s: %s did not become available within %s",
		ErrDependencyUnavailable, strings.Join(e.Names, ", "), e.Timeout)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *DependencyError) Is(target error) bool {
	return target == ErrDependencyUnavailable
}

func (e *DependencyError) Unwrap() error {
	return e.Last
}

// WaitReady polls probes every interval until all report ready, the timeout
// elapses, or ctx is done. Probes that succeeded once are not checked again.
func WaitReady(ctx context.Context, clk Clock, interval, timeout time.Duration, probes ...Probe) error {
	if clk == nil {
		clk = realClock{}
	}
	deadline := clk.Now().Add(timeout)
	ready := make([]bool, len(probes))

	for {
		// Checks share the time left, so a stalled probe cannot outlive the
		// timeout.
		checkCtx, cancel := context.WithTimeout(ctx, deadline.Sub(clk.Now()))
		var pending []string
		var last error
		for i, p := range probes {
			if ready[i] {
				continue
			}
			if err := p.Check(checkCtx); err != nil {
				pending = append(pending, p.Name())
				last = err
				continue
			}
			ready[i] = true
		}
		expired := checkCtx.Err() != nil
		cancel()
		if len(pending) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if expired || !clk.Now().Before(deadline) {
			return &DependencyError{Names: pending, Timeout: timeout, Last: last}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(interval):
		}
	}
}
