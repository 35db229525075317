// Package retry repeats operations that fail on transient errors, such as
// dialing a ManageSieve server that is restarting.
//
//	policy := retry.DefaultPolicy()
//	err := retry.Do(ctx, "managesieve dial", policy, func(attempt int) error {
//		conn, err := dial()
//		if isAuthFailure(err) {
//			return retry.Permanent(err)
//		}
//		return err
//	})
//
// With jitter the delay is drawn from [d/2, d) where d is the exponential
// delay for the attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/migadu/sieveedit/logger"
)

// Policy describes how often and how fast an operation is retried.
type Policy struct {
	Retries int           // attempts after the first one
	Initial time.Duration // delay before the first retry
	Max     time.Duration // upper bound for a single delay; zero means none
	Factor  float64       // growth per retry; values below 1 mean 1
	Jitter  bool
}

func DefaultPolicy() Policy {
	return Policy{
		Retries: 3,
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  true,
	}
}

// Delay returns the wait before retry n, counting from 1.
func (p Policy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.Initial) * math.Pow(factor, float64(n-1))
	if p.Max > 0 && d > float64(p.Max) {
		d = float64(p.Max)
	}
	delay := time.Duration(d)
	if p.Jitter && delay >= 2 {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)))
	}
	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error // last failure
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, fails permanently, runs out of retries or
// ctx is done. attempt counts from 1.
func Do(ctx context.Context, op string, p Policy, fn func(attempt int) error) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	var last error
	for attempt := 1; attempt <= p.Retries+1; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			if timer == nil {
				timer = time.NewTimer(delay)
			} else {
				timer.Reset(delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", op, ctx.Err())
			case <-timer.C:
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			logger.Debug("Retry: permanent failure", "op", op, "attempt", attempt, "error", perm.err)
			return perm.err
		}
		last = err
		logger.Debug("Retry: attempt failed", "op", op, "attempt", attempt, "of", p.Retries+1, "error", err)
	}
	return &ExhaustedError{Op: op, Attempts: p.Retries + 1, Err: last}
}
