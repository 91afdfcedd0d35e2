/*
Copyright 2024 Blnk Finance Authors.

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

package banklink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/internal/clock"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 2 * time.Second
	defaultMultiplier      = 2.0
)

// RetryPolicy retries a failing operation with exponentially growing,
// unjittered waits. Errors wrapped with backoff.Permanent stop immediately.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
	Clock           clock.Clock
}

// DefaultRetryPolicy waits 2s then 4s between three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		Multiplier:      defaultMultiplier,
		Clock:           clock.New(),
	}
}

// RetryOutcome records how a retried operation went.
type RetryOutcome struct {
	Attempts int
	Delays   []time.Duration
	Err      error
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         24 * time.Hour,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               p.Clock,
	}
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up, or ctx is done. attempt starts at 1.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) RetryOutcome {
	p = p.withDefaults()
	var outcome RetryOutcome

	operation := func() error {
		outcome.Attempts++
		return op(ctx, outcome.Attempts)
	}
	notify := func(err error, wait time.Duration) {
		outcome.Delays = append(outcome.Delays, wait)
		logrus.WithFields(logrus.Fields{
			"attempt": outcome.Attempts,
			"wait":    wait.String(),
		}).Warnf("attempt failed, retrying: %v", err)
	}

	outcome.Err = backoff.RetryNotifyWithTimer(operation, p.backOff(ctx), notify, &clockTimer{clock: p.Clock})
	return outcome
}

// clockTimer lets the backoff loop wait on a clock.Clock.
type clockTimer struct {
	clock clock.Clock
	timer clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C()
}
