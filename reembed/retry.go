// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultMaxRetryDelay caps a single backoff sleep.
const DefaultMaxRetryDelay = 30 * time.Second

// Backoff retries an operation with exponentially growing delays:
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ... up to MaxDelay.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	// MaxDelay caps each sleep. Zero means DefaultMaxRetryDelay.
	MaxDelay time.Duration
	Logger   *slog.Logger
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs op until it succeeds, fails permanently, the attempts run out
// or ctx ends. It returns the last error op produced, unwrapped from
// Permanent, or the context error.
func (b Backoff) Retry(ctx context.Context, op func(ctx context.Context) error) error {
	if b.Attempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == b.Attempts {
			break
		}

		delay := b.delay(attempt)
		logger.Debug("operation failed, retrying",
			"attempt", attempt, "max_attempts", b.Attempts, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// delay returns the sleep after the given 1-based attempt.
func (b Backoff) delay(attempt int) time.Duration {
	ceiling := b.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxRetryDelay
	}
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}
