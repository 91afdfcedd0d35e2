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

package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

func TestLocker_Lock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "banklink:sync", "worker-1")

	mock.ExpectSetNX("banklink:sync", "worker-1", 10*time.Minute).SetVal(true)
	assert.NoError(t, locker.Lock(context.Background(), 10*time.Minute))

	mock.ExpectSetNX("banklink:sync", "worker-1", 10*time.Minute).SetVal(false)
	err := locker.Lock(context.Background(), 10*time.Minute)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Unlock(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "banklink:sync", "worker-1")

	mock.ExpectEval(releaseScript, []string{"banklink:sync"}, "worker-1").SetVal(int64(1))
	assert.NoError(t, locker.Unlock(context.Background()))

	mock.ExpectEval(releaseScript, []string{"banklink:sync"}, "worker-1").SetVal(int64(0))
	assert.ErrorIs(t, locker.Unlock(context.Background()), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_Extend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "banklink:sync", "worker-1")

	mock.ExpectEval(extendScript, []string{"banklink:sync"}, "worker-1", "5000").SetVal(int64(1))
	assert.NoError(t, locker.Extend(context.Background(), 5*time.Second))

	mock.ExpectEval(extendScript, []string{"banklink:sync"}, "worker-1", "5000").SetVal(int64(0))
	assert.ErrorIs(t, locker.Extend(context.Background(), 5*time.Second), ErrNotHolder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_HoldReleasesAfterRun(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "banklink:sync", "worker-1")

	mock.ExpectSetNX("banklink:sync", "worker-1", time.Minute).SetVal(true)
	mock.ExpectEval(releaseScript, []string{"banklink:sync"}, "worker-1").SetVal(int64(1))

	boom := errors.New("sync failed")
	ran := false
	err := locker.Hold(context.Background(), time.Minute, func(ctx context.Context) error {
		ran = true
		return boom
	})

	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_HoldSkipsWhenHeld(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(db, "banklink:sync", "worker-2")

	mock.ExpectSetNX("banklink:sync", "worker-2", time.Minute).SetVal(false)

	err := locker.Hold(context.Background(), time.Minute, func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.NoError(t, mock.ExpectationsWereMet())
}
