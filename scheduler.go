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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/internal/clock"
	redlock "github.com/banklink/banklink/internal/lock"
	"github.com/banklink/banklink/internal/quota"
	"github.com/banklink/banklink/model"
)

const (
	StateIdle         = "idle"
	StateScheduled    = "scheduled"
	StateRunning      = "running"
	StateRetryPending = "retry_pending"

	MinSyncInterval = 5 * time.Minute
	MaxSyncInterval = 24 * time.Hour

	// dailySlots are the default sync times, local time.
	dailySlots = "0 8,20 * * *"
	slotRepeat = 12 * time.Hour

	staleAfter      = 24 * time.Hour
	statsWindow     = 30 * 24 * time.Hour
	recentSyncCount = 10
)

var (
	ErrSchedulerRunning = apierror.APIError{Code: apierror.ErrConflict, Message: "Scheduler is already running"}
	ErrSyncInProgress   = apierror.APIError{Code: apierror.ErrConflict, Message: "A sync is already in progress"}
)

var defaultSlots = mustParseSchedule(dailySlots)

func mustParseSchedule(expr string) cron.Schedule {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		panic(err)
	}
	return schedule
}

// Syncer performs the sync passes the scheduler drives.
type Syncer interface {
	Preflight(ctx context.Context) error
	PerformPeriodicSync(ctx context.Context) (*model.SyncResult, error)
	SyncStaleAccounts(ctx context.Context, staleBefore time.Time) (*model.SyncResult, error)
}

// SyncLogStore persists one row per sync outcome.
type SyncLogStore interface {
	RecordSyncLog(ctx context.Context, log *model.SyncLog) error
	GetSyncStats(ctx context.Context, since time.Time, recent int) (*model.SyncStats, error)
}

// Scheduler runs sync cycles on a timer. At most one cycle is in flight;
// fires that arrive while one runs are dropped.
type Scheduler struct {
	syncer Syncer
	logs   SyncLogStore
	clock  clock.Clock
	policy RetryPolicy
	log    *logrus.Entry
	slots  cron.Schedule
	notify FailureNotifier

	mu         sync.Mutex
	running    bool
	interval   time.Duration
	timer      clock.Timer
	generation uint64
	startedAt  *time.Time
	nextRun    *time.Time
	phase      string

	inFlight atomic.Bool
	cycles   sync.WaitGroup
}

// FailureNotifier is told about cycles that failed after every attempt.
type FailureNotifier interface {
	NotifySyncFailure(ctx context.Context, operation string, attempts int, err error)
}

type SchedulerOption func(*Scheduler)

func WithClock(c clock.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

func WithRetryPolicy(p RetryPolicy) SchedulerOption {
	return func(s *Scheduler) { s.policy = p }
}

func WithLogger(l *logrus.Entry) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

func WithFailureNotifier(n FailureNotifier) SchedulerOption {
	return func(s *Scheduler) { s.notify = n }
}

func NewScheduler(syncer Syncer, logs SyncLogStore, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		syncer: syncer,
		logs:   logs,
		clock:  clock.New(),
		policy: DefaultRetryPolicy(),
		log:    logrus.WithField("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy.Clock = s.clock
	s.slots = defaultSlots
	return s
}

// ValidateInterval accepts zero, meaning the daily slots, or 5 minutes to 24 hours.
func ValidateInterval(interval time.Duration) error {
	switch {
	case interval == 0:
		return nil
	case interval < MinSyncInterval:
		return apierror.NewAPIError(apierror.ErrBadRequest, "Interval must be at least 5 minutes", nil)
	case interval > MaxSyncInterval:
		return apierror.NewAPIError(apierror.ErrBadRequest, "Interval must be at most 24 hours", nil)
	}
	return nil
}

// Start arms the timer. A zero interval fires at the next 08:00 or 20:00
// and every 12 hours after that.
func (s *Scheduler) Start(interval time.Duration) error {
	if err := ValidateInterval(interval); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}

	now := s.clock.Now()
	s.running = true
	s.interval = interval
	s.startedAt = &now
	s.generation++

	delay := interval
	if interval == 0 {
		delay = s.slots.Next(now).Sub(now)
	}
	s.armLocked(now, delay)
	s.log.WithField("next_sync", s.nextRun.Format(time.RFC3339)).Info("sync scheduler started")
	return nil
}

// Stop clears the timer. A cycle already in flight runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.generation++
	s.running = false
	s.startedAt = nil
	s.nextRun = nil
	s.log.Info("sync scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until cycles started by the timer have finished.
func (s *Scheduler) Wait() {
	s.cycles.Wait()
}

func (s *Scheduler) Status() model.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := model.SchedulerStatus{
		IsRunning:        s.running,
		State:            StateIdle,
		NextSyncEstimate: copyTime(s.nextRun),
		StartedAt:        copyTime(s.startedAt),
	}
	if s.running {
		status.State = StateScheduled
		status.ActiveIntervals = 1
		if s.interval > 0 {
			status.Interval = s.interval.String()
		} else {
			status.Interval = "daily 08:00,20:00"
		}
	}
	if s.phase != "" {
		status.State = s.phase
	}
	return status
}

// Stats summarizes the sync log over the last 30 days.
func (s *Scheduler) Stats(ctx context.Context) (*model.SyncStats, error) {
	return s.logs.GetSyncStats(ctx, s.clock.Now().Add(-statsWindow), recentSyncCount)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (s *Scheduler) armLocked(now time.Time, delay time.Duration) {
	gen := s.generation
	next := now.Add(delay)
	s.nextRun = &next
	s.timer = s.clock.AfterFunc(delay, func() { s.fire(gen) })
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if !s.running || gen != s.generation {
		s.mu.Unlock()
		return
	}
	delay := s.interval
	if delay == 0 {
		delay = slotRepeat
	}
	s.armLocked(s.clock.Now(), delay)
	attempts := s.policy.MaxAttempts
	s.cycles.Add(1)
	s.mu.Unlock()

	defer s.cycles.Done()
	if _, err := s.ExecuteSyncWithRetry(context.Background(), attempts); err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			s.log.Info("previous sync still running, skipping this slot")
			return
		}
		s.log.Errorf("scheduled sync failed: %v", err)
	}
}

func (s *Scheduler) setPhase(phase string) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// ExecuteSyncWithRetry runs a periodic sync, retrying failures with backoff.
// Rate limits are not retried. Exactly one sync log row records the outcome.
func (s *Scheduler) ExecuteSyncWithRetry(ctx context.Context, maxAttempts int) (*model.SyncResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)
	return s.runCycle(ctx, model.OperationSyncCycle, maxAttempts, s.syncer.PerformPeriodicSync)
}

// ManualSync checks the aggregator credentials and runs one sync attempt.
func (s *Scheduler) ManualSync(ctx context.Context) (*model.SyncResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	if err := s.syncer.Preflight(ctx); err != nil {
		s.record(ctx, &model.SyncLog{
			Status:        model.SyncStatusFailure,
			OperationType: model.OperationManualSync,
			Error:         err.Error(),
			Message:       "Pre-flight check failed",
		})
		return nil, err
	}
	return s.runCycle(ctx, model.OperationManualSync, 1, s.syncer.PerformPeriodicSync)
}

// RunStartupCheck syncs accounts that have no transactions or were last
// synced more than 24 hours ago.
func (s *Scheduler) RunStartupCheck(ctx context.Context) (*model.SyncResult, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.inFlight.Store(false)

	staleBefore := s.clock.Now().Add(-staleAfter)
	return s.runCycle(ctx, model.OperationStartupCheck, s.policy.MaxAttempts, func(ctx context.Context) (*model.SyncResult, error) {
		return s.syncer.SyncStaleAccounts(ctx, staleBefore)
	})
}

func (s *Scheduler) runCycle(ctx context.Context, operation string, maxAttempts int, sync func(context.Context) (*model.SyncResult, error)) (*model.SyncResult, error) {
	policy := s.policy
	if maxAttempts > 0 {
		policy.MaxAttempts = maxAttempts
	}
	log := s.log.WithField("operation", operation)

	s.setPhase(StateRunning)
	defer s.setPhase("")

	var last *model.SyncResult
	outcome := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		s.setPhase(StateRunning)
		res, err := safeSync(ctx, sync)
		if res != nil {
			last = res
		}
		if err == nil {
			return nil
		}
		log.WithField("attempt", attempt).Warnf("sync attempt failed: %v", err)
		if isDeferrable(err) {
			return backoff.Permanent(err)
		}
		s.setPhase(StateRetryPending)
		return err
	})

	entry := &model.SyncLog{OperationType: operation, Attempts: outcome.Attempts}
	if last != nil {
		entry.AccountsSynced = last.AccountsSynced
		entry.TransactionsSynced = last.TransactionsSynced
		entry.BalancesSynced = last.BalancesSynced
	}

	err := outcome.Err
	switch {
	case err == nil:
		entry.Status = model.SyncStatusSuccess
		entry.Message = fmt.Sprintf("Synced %d accounts, %d transactions", entry.AccountsSynced, entry.TransactionsSynced)
		if last != nil && len(last.Errors) > 0 {
			entry.Message += fmt.Sprintf(" with %d account errors", len(last.Errors))
		}
		log.WithField("attempt", outcome.Attempts).Info(entry.Message)
	case errors.Is(err, redlock.ErrLockHeld):
		log.Info("sync lock held by another process, skipping")
		return last, fmt.Errorf("%w: %v", ErrSyncInProgress, err)
	case isRateLimit(err):
		entry.Status = model.SyncStatusRateLimited
		entry.Error = err.Error()
		entry.Message = "Rate limited, deferred to the next scheduled sync"
		log.Warn(entry.Message)
	default:
		entry.Status = model.SyncStatusFailure
		entry.Error = err.Error()
		entry.Message = fmt.Sprintf("Sync failed after %d attempts", outcome.Attempts)
		log.Error(entry.Message)
		if s.notify != nil {
			s.notify.NotifySyncFailure(context.WithoutCancel(ctx), operation, outcome.Attempts, err)
		}
	}

	s.record(ctx, entry)
	if err != nil {
		return last, err
	}
	if last == nil {
		last = &model.SyncResult{Errors: []string{}}
	}
	return last, nil
}

func (s *Scheduler) record(ctx context.Context, entry *model.SyncLog) {
	entry.ID = model.GenerateUUIDWithSuffix("sync")
	entry.CreatedAt = s.clock.Now()
	if err := s.logs.RecordSyncLog(context.WithoutCancel(ctx), entry); err != nil {
		s.log.Errorf("recording sync log: %v", err)
	}
}

// safeSync keeps a panicking sync from taking the process down.
func safeSync(ctx context.Context, sync func(context.Context) (*model.SyncResult, error)) (res *model.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("sync panicked: %v", r)
		}
	}()
	return sync(ctx)
}

func isRateLimit(err error) bool {
	return aggregator.IsRateLimited(err) || quota.IsExceeded(err)
}

func isDeferrable(err error) bool {
	return isRateLimit(err) || errors.Is(err, redlock.ErrLockHeld)
}
