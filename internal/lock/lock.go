// Package redlock provides a Redis lease that keeps sync cycles from
// overlapping across processes.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	ErrLockHeld  = errors.New("lock is already held")
	ErrNotHolder = errors.New("lock expired or is held by another owner")
)

const (
	releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript  = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	owner  string
}

// NewLocker returns a lease on key. owner must be unique per holder; only the
// holder can release or extend the lease.
func NewLocker(client redis.UniversalClient, key, owner string) *Locker {
	return &Locker{client: client, key: key, owner: owner}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	res, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}

// Extend pushes the lease expiry to ttl from now.
func (l *Locker) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.owner, strconv.FormatInt(ttl.Milliseconds(), 10)).Result()
	if err != nil {
		return err
	}
	if res == int64(0) {
		return fmt.Errorf("%w: %s", ErrNotHolder, l.key)
	}
	return nil
}

// Hold runs fn while holding the lease and releases it afterwards. A failed
// release is logged, not returned, since fn already ran.
func (l *Locker) Hold(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Lock(ctx, ttl); err != nil {
		return err
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithField("key", l.key).Warnf("releasing lock: %v", err)
		}
	}()
	return fn(ctx)
}
