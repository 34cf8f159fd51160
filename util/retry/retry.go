// Copyright 2024 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package retry runs a function in a bounded loop with a delay between
// attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRetryFailed all retry attempts failed.
	ErrRetryFailed = errors.New("retry: all retry attempts failed")
	// ErrRetryNext retry next on interrupt, not returned as last error.
	ErrRetryNext = errors.New("retry: retry next on interrupt")
)

// Retryer is an interface retry on a specific function.
// A Retryer is not safe for concurrent use.
type Retryer interface {
	// Reset the delay as beginning.
	Reset()
	// On performs a retry on function, until it doesn't return any error.
	On(func() error) error
	// OnContext On or context done.
	OnContext(context.Context, func() error) error
	// RuptOn performs a retry on function, until it doesn't return any error or interrupt.
	RuptOn(func() (bool, error)) error
	// RuptOnContext RuptOn or context done.
	RuptOnContext(context.Context, func() (bool, error)) error
	// Attempts returns how many times the function ran in the last loop.
	Attempts() int
}

type retry struct {
	maxAttempts int
	attempts    int
	reset       func()
	nextDelay   func() time.Duration
}

func (r *retry) Reset() {
	if r.reset != nil {
		r.reset()
	}
}

func (r *retry) Attempts() int { return r.attempts }

func (r *retry) On(caller func() error) error {
	return r.OnContext(context.Background(), caller)
}

func (r *retry) OnContext(ctx context.Context, caller func() error) error {
	return r.RuptOnContext(ctx, func() (bool, error) {
		return false, caller()
	})
}

func (r *retry) RuptOn(caller func() (bool, error)) error {
	return r.RuptOnContext(context.Background(), caller)
}

func (r *retry) RuptOnContext(ctx context.Context, caller func() (bool, error)) error {
	var (
		lastErr error
		timer   *time.Timer
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	r.attempts = 0
	for r.attempts < r.maxAttempts {
		r.attempts++
		interrupted, err := caller()
		if err == nil {
			return nil
		}
		if err != ErrRetryNext {
			lastErr = err
		}
		// no useless delay after the last attempt
		if interrupted || r.attempts >= r.maxAttempts {
			break
		}

		delay := r.nextDelay()
		if delay <= 0 {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-timer.C:
		case <-ctx.Done():
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return lastErr
		}
	}
	if lastErr == nil {
		lastErr = ErrRetryFailed
	}
	return lastErr
}

// Timed returns a retry with fixed interval delay.
func Timed(attempts int, delay time.Duration) Retryer {
	return &retry{
		maxAttempts: attempts,
		nextDelay: func() time.Duration {
			return delay
		},
	}
}

// ExponentialBackoff returns a retry with delay growing by expDelay
// each attempt.
func ExponentialBackoff(attempts int, expDelay time.Duration) Retryer {
	next := expDelay
	return &retry{
		maxAttempts: attempts,
		reset: func() {
			next = expDelay
		},
		nextDelay: func() time.Duration {
			d := next
			next += expDelay
			return d
		},
	}
}
