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

// Package quota tracks aggregator calls per account and endpoint. The
// aggregator allows a handful of calls per account per day and answers 429
// once the budget is spent, so calls are counted before they are made.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultLimit  = 4
	DefaultWindow = 24 * time.Hour

	StatusAvailable   = "available"
	StatusExhausted   = "exhausted"
	StatusRateLimited = "rate_limited"
)

// ExceededError is returned when an account endpoint has no budget left.
type ExceededError struct {
	AccountID  string
	Endpoint   string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exhausted for %s on account %s, retry in %s", e.Endpoint, e.AccountID, e.RetryAfter.Round(time.Minute))
}

// IsExceeded reports whether err is an ExceededError.
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}

// Usage is the state of one account endpoint.
type Usage struct {
	Endpoint   string
	Used       int64
	Limit      int64
	RetryAfter time.Duration
	Status     string
}

type Tracker struct {
	client redis.UniversalClient
	limit  int64
	window time.Duration
	prefix string
}

type Option func(*Tracker)

func WithLimit(limit int64) Option {
	return func(t *Tracker) { t.limit = limit }
}

func WithWindow(window time.Duration) Option {
	return func(t *Tracker) { t.window = window }
}

func NewTracker(client redis.UniversalClient, opts ...Option) *Tracker {
	t := &Tracker{client: client, limit: DefaultLimit, window: DefaultWindow, prefix: "banklink:quota"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) countKey(accountID, endpoint string) string {
	return fmt.Sprintf("%s:%s:%s", t.prefix, accountID, endpoint)
}

func (t *Tracker) blockKey(accountID, endpoint string) string {
	return t.countKey(accountID, endpoint) + ":retry_after"
}

// Acquire consumes one call from the account endpoint's budget. It fails with
// an ExceededError while a retry-after window is open or the budget is spent.
func (t *Tracker) Acquire(ctx context.Context, accountID, endpoint string) error {
	blocked, err := t.client.TTL(ctx, t.blockKey(accountID, endpoint)).Result()
	if err != nil {
		return err
	}
	if blocked > 0 {
		return &ExceededError{AccountID: accountID, Endpoint: endpoint, RetryAfter: blocked}
	}

	key := t.countKey(accountID, endpoint)
	used, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if used == 1 {
		if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
			return err
		}
	}
	if used > t.limit {
		remaining, err := t.client.TTL(ctx, key).Result()
		if err != nil {
			return err
		}
		return &ExceededError{AccountID: accountID, Endpoint: endpoint, RetryAfter: remaining}
	}
	return nil
}

// Block records an aggregator-imposed retry-after window.
func (t *Tracker) Block(ctx context.Context, accountID, endpoint string, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return nil
	}
	return t.client.Set(ctx, t.blockKey(accountID, endpoint), time.Now().Add(retryAfter).Unix(), retryAfter).Err()
}

// Usage reports the state of each endpoint for an account.
func (t *Tracker) Usage(ctx context.Context, accountID string, endpoints ...string) ([]Usage, error) {
	usage := make([]Usage, 0, len(endpoints))
	for _, endpoint := range endpoints {
		u := Usage{Endpoint: endpoint, Limit: t.limit, Status: StatusAvailable}

		used, err := t.client.Get(ctx, t.countKey(accountID, endpoint)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		u.Used = used
		if used >= t.limit {
			u.Status = StatusExhausted
		}

		blocked, err := t.client.TTL(ctx, t.blockKey(accountID, endpoint)).Result()
		if err != nil {
			return nil, err
		}
		if blocked > 0 {
			u.RetryAfter = blocked
			u.Status = StatusRateLimited
		}
		usage = append(usage, u)
	}
	return usage, nil
}
