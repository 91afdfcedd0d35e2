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
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/internal/clock"
	redlock "github.com/banklink/banklink/internal/lock"
	"github.com/banklink/banklink/model"
)

type fakeSyncer struct {
	mu           sync.Mutex
	calls        int
	preflightErr error
	staleBefore  time.Time
	sync         func(call int) (*model.SyncResult, error)
	started      chan struct{}
}

func (f *fakeSyncer) Preflight(context.Context) error {
	return f.preflightErr
}

func (f *fakeSyncer) run() (*model.SyncResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	return f.sync(call)
}

func (f *fakeSyncer) PerformPeriodicSync(context.Context) (*model.SyncResult, error) {
	return f.run()
}

func (f *fakeSyncer) SyncStaleAccounts(_ context.Context, staleBefore time.Time) (*model.SyncResult, error) {
	f.mu.Lock()
	f.staleBefore = staleBefore
	f.mu.Unlock()
	return f.run()
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memorySyncLogs struct {
	mu   sync.Mutex
	rows []model.SyncLog
}

func (m *memorySyncLogs) RecordSyncLog(_ context.Context, log *model.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *log)
	return nil
}

func (m *memorySyncLogs) GetSyncStats(context.Context, time.Time, int) (*model.SyncStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.SyncStats{TotalSyncs: int64(len(m.rows)), RecentSyncs: m.rows}, nil
}

func (m *memorySyncLogs) all() []model.SyncLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncLog(nil), m.rows...)
}

func succeed(accounts, txns int) func(int) (*model.SyncResult, error) {
	return func(int) (*model.SyncResult, error) {
		return &model.SyncResult{AccountsSynced: accounts, TransactionsSynced: txns, BalancesSynced: accounts, Errors: []string{}}, nil
	}
}

func newTestScheduler(syncer *fakeSyncer) (*Scheduler, *memorySyncLogs, *clock.Fake) {
	fake := clock.NewFake(testNow)
	logs := &memorySyncLogs{}
	return NewScheduler(syncer, logs, WithClock(fake)), logs, fake
}

func TestExecuteSyncWithRetry_Success(t *testing.T) {
	s, logs, _ := newTestScheduler(&fakeSyncer{sync: succeed(2, 14)})

	result, err := s.ExecuteSyncWithRetry(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 14, result.TransactionsSynced)

	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.SyncStatusSuccess, rows[0].Status)
	assert.Equal(t, model.OperationSyncCycle, rows[0].OperationType)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, 2, rows[0].AccountsSynced)
	assert.Equal(t, 14, rows[0].TransactionsSynced)
	assert.Equal(t, testNow, rows[0].CreatedAt)
}

func TestExecuteSyncWithRetry_FailsAfterThreeAttempts(t *testing.T) {
	syncer := &fakeSyncer{sync: func(call int) (*model.SyncResult, error) {
		return nil, fmt.Errorf("database unavailable (attempt %d)", call)
	}}
	s, logs, fake := newTestScheduler(syncer)

	done := make(chan error)
	go func() {
		_, err := s.ExecuteSyncWithRetry(context.Background(), 3)
		done <- err
	}()

	fake.BlockUntil(1)
	assert.Equal(t, StateRetryPending, s.Status().State)
	fake.Advance(2 * time.Second)
	fake.BlockUntil(1)
	fake.Advance(4 * time.Second)

	err := <-done
	require.Error(t, err)
	assert.Equal(t, 3, syncer.callCount())
	assert.Equal(t, testNow.Add(6*time.Second), fake.Now())

	rows := logs.all()
	require.Len(t, rows, 1, "one row per cycle, not per attempt")
	assert.Equal(t, model.SyncStatusFailure, rows[0].Status)
	assert.Equal(t, 3, rows[0].Attempts)
	assert.Contains(t, rows[0].Error, "attempt 3")
	assert.Equal(t, StateIdle, s.Status().State)
}

func TestExecuteSyncWithRetry_AuthErrorIsRetried(t *testing.T) {
	syncer := &fakeSyncer{sync: func(call int) (*model.SyncResult, error) {
		if call == 1 {
			return nil, &aggregator.AuthError{StatusCode: 401, Reason: "token expired"}
		}
		return &model.SyncResult{AccountsSynced: 1, Errors: []string{}}, nil
	}}
	s, logs, fake := newTestScheduler(syncer)

	done := make(chan error)
	go func() {
		_, err := s.ExecuteSyncWithRetry(context.Background(), 3)
		done <- err
	}()
	fake.BlockUntil(1)
	fake.Advance(2 * time.Second)

	require.NoError(t, <-done)
	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.SyncStatusSuccess, rows[0].Status)
	assert.Equal(t, 2, rows[0].Attempts)
}

func TestExecuteSyncWithRetry_RateLimitIsNotRetried(t *testing.T) {
	syncer := &fakeSyncer{sync: func(int) (*model.SyncResult, error) {
		return &model.SyncResult{Errors: []string{"Operating balance: rate limited"}}, &aggregator.RateLimitedError{Path: "sync", RetryAfterSeconds: 3600}
	}}
	s, logs, _ := newTestScheduler(syncer)

	_, err := s.ExecuteSyncWithRetry(context.Background(), 3)
	assert.True(t, aggregator.IsRateLimited(err))
	assert.Equal(t, 1, syncer.callCount())

	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.SyncStatusRateLimited, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
}

func TestExecuteSyncWithRetry_LockHeldElsewhere(t *testing.T) {
	syncer := &fakeSyncer{sync: func(int) (*model.SyncResult, error) {
		return nil, fmt.Errorf("%w: banklink:sync:lock", redlock.ErrLockHeld)
	}}
	s, logs, _ := newTestScheduler(syncer)

	_, err := s.ExecuteSyncWithRetry(context.Background(), 3)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Equal(t, 1, syncer.callCount())
	assert.Empty(t, logs.all())
}

func TestExecuteSyncWithRetry_RecoversPanic(t *testing.T) {
	syncer := &fakeSyncer{sync: func(int) (*model.SyncResult, error) {
		panic("nil map")
	}}
	s, logs, _ := newTestScheduler(syncer)

	assert.NotPanics(t, func() {
		_, err := s.ExecuteSyncWithRetry(context.Background(), 1)
		assert.ErrorContains(t, err, "sync panicked: nil map")
	})
	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.SyncStatusFailure, rows[0].Status)
}

func TestManualSync(t *testing.T) {
	t.Run("runs one attempt", func(t *testing.T) {
		syncer := &fakeSyncer{sync: func(int) (*model.SyncResult, error) { return nil, errors.New("boom") }}
		s, logs, _ := newTestScheduler(syncer)

		_, err := s.ManualSync(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 1, syncer.callCount())
		rows := logs.all()
		require.Len(t, rows, 1)
		assert.Equal(t, model.OperationManualSync, rows[0].OperationType)
	})

	t.Run("preflight failure skips the sync", func(t *testing.T) {
		syncer := &fakeSyncer{preflightErr: &aggregator.AuthError{Reason: "missing credentials"}, sync: succeed(1, 1)}
		s, logs, _ := newTestScheduler(syncer)

		_, err := s.ManualSync(context.Background())
		assert.True(t, aggregator.IsAuthError(err))
		assert.Zero(t, syncer.callCount())
		rows := logs.all()
		require.Len(t, rows, 1)
		assert.Equal(t, model.SyncStatusFailure, rows[0].Status)
	})
}

func TestManualSync_RejectedWhileCycleInFlight(t *testing.T) {
	release := make(chan struct{})
	syncer := &fakeSyncer{started: make(chan struct{}, 1), sync: func(int) (*model.SyncResult, error) {
		<-release
		return &model.SyncResult{Errors: []string{}}, nil
	}}
	s, _, _ := newTestScheduler(syncer)

	done := make(chan struct{})
	go func() {
		_, _ = s.ExecuteSyncWithRetry(context.Background(), 1)
		close(done)
	}()
	<-syncer.started
	assert.Equal(t, StateRunning, s.Status().State)

	_, err := s.ManualSync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	<-done
}

func TestRunStartupCheck(t *testing.T) {
	syncer := &fakeSyncer{sync: succeed(1, 5)}
	s, logs, _ := newTestScheduler(syncer)

	_, err := s.RunStartupCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(-24*time.Hour), syncer.staleBefore)
	rows := logs.all()
	require.Len(t, rows, 1)
	assert.Equal(t, model.OperationStartupCheck, rows[0].OperationType)
}

func TestSchedulerStartValidation(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeSyncer{sync: succeed(0, 0)})

	err := s.Start(time.Minute)
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrBadRequest))
	assert.Contains(t, err.Error(), "Interval must be at least 5 minutes")

	err = s.Start(25 * time.Hour)
	assert.Contains(t, err.Error(), "Interval must be at most 24 hours")
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(time.Hour))
	assert.ErrorIs(t, s.Start(time.Hour), ErrSchedulerRunning)
	s.Stop()
}

func TestSchedulerDailySlots(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}, 1), sync: succeed(1, 1)}
	s, _, fake := newTestScheduler(syncer)

	require.NoError(t, s.Start(0))
	status := s.Status()
	assert.True(t, status.IsRunning)
	assert.Equal(t, StateScheduled, status.State)
	assert.Equal(t, 1, status.ActiveIntervals)
	require.NotNil(t, status.NextSyncEstimate)
	assert.Equal(t, time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC), *status.NextSyncEstimate)

	fake.Advance(10 * time.Hour)
	<-syncer.started
	s.Wait()

	next := s.Status().NextSyncEstimate
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 16, 8, 0, 0, 0, time.UTC), *next)

	s.Stop()
	status = s.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, StateIdle, status.State)
	assert.Nil(t, status.NextSyncEstimate)
	assert.Zero(t, fake.Pending())
}

func TestSchedulerFixedInterval(t *testing.T) {
	syncer := &fakeSyncer{started: make(chan struct{}, 1), sync: succeed(1, 1)}
	s, logs, fake := newTestScheduler(syncer)

	require.NoError(t, s.Start(10*time.Minute))
	for i := 0; i < 2; i++ {
		fake.Advance(10 * time.Minute)
		<-syncer.started
		s.Wait()
	}
	s.Stop()

	fake.Advance(time.Hour)
	assert.Equal(t, 2, syncer.callCount(), "no fires after Stop")
	assert.Len(t, logs.all(), 2)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
}

func (r *recordingNotifier) NotifySyncFailure(_ context.Context, operation string, attempts int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, fmt.Sprintf("%s/%d: %v", operation, attempts, err))
}

func TestFailureNotifier(t *testing.T) {
	notifier := &recordingNotifier{}
	failing := &fakeSyncer{sync: func(int) (*model.SyncResult, error) { return nil, errors.New("database unavailable") }}
	s := NewScheduler(failing, &memorySyncLogs{}, WithClock(clock.NewFake(testNow)), WithFailureNotifier(notifier))

	_, err := s.ExecuteSyncWithRetry(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, []string{"sync_cycle/1: database unavailable"}, notifier.failures)

	limited := &fakeSyncer{sync: func(int) (*model.SyncResult, error) {
		return nil, &aggregator.RateLimitedError{Path: "sync", RetryAfterSeconds: 60}
	}}
	s = NewScheduler(limited, &memorySyncLogs{}, WithClock(clock.NewFake(testNow)), WithFailureNotifier(notifier))
	_, err = s.ExecuteSyncWithRetry(context.Background(), 3)
	require.Error(t, err)
	assert.Len(t, notifier.failures, 1)
}
