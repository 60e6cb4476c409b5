/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package backoff implements the exponential backoff/retry scheduler the
// Workload API client uses to re-subscribe after a stream failure.
package backoff

import (
	"sync"
	"time"

	cenkaltibackoff "github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"
)

// Config is the backoff policy: an initial delay, a per-retry multiplier, a
// cap, and an optional retry limit.
type Config struct {
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// MaxRetries caps the number of scheduled retries; negative means
	// unlimited.
	MaxRetries int
}

// DefaultConfig mirrors cenkalti/backoff/v4's own exponential-backoff
// defaults, with retries unlimited.
func DefaultConfig() Config {
	return Config{
		InitialDelay:      cenkaltibackoff.DefaultInitialInterval,
		MaxDelay:          cenkaltibackoff.DefaultMaxInterval,
		BackoffMultiplier: cenkaltibackoff.DefaultMultiplier,
		MaxRetries:        -1,
	}
}

// NextDelay returns the delay that follows current: current scaled by the
// multiplier, capped at MaxDelay.
func (c Config) NextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.BackoffMultiplier)
	if next > c.MaxDelay {
		return c.MaxDelay
	}
	return next
}

// RetryHandler schedules retries according to a Config, advancing its delay
// exponentially on every scheduled retry and resetting on success. Safe for
// concurrent use.
type RetryHandler struct {
	cfg   Config
	clock clock.Clock

	mu         sync.Mutex
	delay      time.Duration
	retryCount int
}

// NewRetryHandler creates a RetryHandler for cfg. A nil clk defaults to
// clock.RealClock{}.
func NewRetryHandler(cfg Config, clk clock.Clock) *RetryHandler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RetryHandler{
		cfg:   cfg,
		clock: clk,
		delay: cfg.InitialDelay,
	}
}

// ScheduleRetry schedules task to run after the current delay, then advances
// the delay and increments the retry count. If the retry count has reached
// MaxRetries, this is a no-op.
func (r *RetryHandler) ScheduleRetry(task func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxRetries >= 0 && r.retryCount >= r.cfg.MaxRetries {
		return
	}

	delay := r.delay
	r.clock.AfterFunc(delay, task)
	r.delay = r.cfg.NextDelay(r.delay)
	r.retryCount++
}

// Reset sets the delay back to InitialDelay and the retry count to zero.
// Called on every successful update.
func (r *RetryHandler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delay = r.cfg.InitialDelay
	r.retryCount = 0
}

// RetryCount returns the number of retries scheduled since construction or
// the last Reset.
func (r *RetryHandler) RetryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retryCount
}
