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
	"embed"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/config"
	"github.com/banklink/banklink/database"
	"github.com/banklink/banklink/internal/cache"
	"github.com/banklink/banklink/internal/clock"
	redlock "github.com/banklink/banklink/internal/lock"
	"github.com/banklink/banklink/internal/quota"
	redis_db "github.com/banklink/banklink/internal/redis-db"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Aggregator is the subset of the open-banking client the services use.
type Aggregator interface {
	CheckCredentials() error
	Authenticate(ctx context.Context) (string, error)
	ListInstitutions(ctx context.Context, country string) ([]aggregator.Institution, error)
	CreateRequisition(ctx context.Context, institutionID, reference string) (*aggregator.Requisition, error)
	GetRequisition(ctx context.Context, id string) (*aggregator.Requisition, error)
	GetAccountDetails(ctx context.Context, accountID string) (*aggregator.AccountDetails, error)
	GetAccountBalances(ctx context.Context, accountID string) ([]aggregator.Balance, error)
	GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo *time.Time) ([]aggregator.Transaction, error)
}

// QuotaTracker budgets aggregator calls per account and endpoint.
type QuotaTracker interface {
	Acquire(ctx context.Context, accountID, endpoint string) error
	Block(ctx context.Context, accountID, endpoint string, retryAfter time.Duration) error
	Usage(ctx context.Context, accountID string, endpoints ...string) ([]quota.Usage, error)
}

// SyncLocker serializes sync cycles across processes.
type SyncLocker interface {
	Hold(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error
}

// TaskEnqueuer hands freshly imported transactions to the auto-match worker.
type TaskEnqueuer interface {
	EnqueueAutoMatch(ctx context.Context, transactionIDs []string) error
}

// Banklink wires the persistence layer to the aggregator, the matching
// engine and the background machinery.
type Banklink struct {
	datasource database.IDataSource
	aggregator Aggregator
	quota      QuotaTracker
	locker     SyncLocker
	cache      cache.Cache
	tasks      TaskEnqueuer
	scorer     SimilarityScorer
	clock      clock.Clock
	redis      redis.UniversalClient

	importBatchSize int
	lockTTL         time.Duration
}

const syncLockKey = "banklink:sync:lock"

// NewBanklink builds the service from the loaded configuration.
func NewBanklink(db database.IDataSource) (*Banklink, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	client := aggregator.NewClient(aggregator.Config{
		BaseURL:     configuration.Aggregator.BaseURL,
		SecretID:    configuration.Aggregator.SecretID,
		SecretKey:   configuration.Aggregator.SecretKey,
		RedirectURL: configuration.Aggregator.RedirectURL,
		Timeout:     time.Duration(configuration.Aggregator.TimeoutSec) * time.Second,
	})

	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	b := &Banklink{
		datasource:      db,
		aggregator:      client,
		quota:           quota.NewTracker(redisClient.Client(), quota.WithLimit(configuration.Aggregator.DailyQuota)),
		locker:          redlock.NewLocker(redisClient.Client(), syncLockKey, owner),
		cache:           cache.NewCache(redisClient.Client()),
		tasks:           NewQueue(configuration),
		scorer:          NewScorer(configuration.Matching.Scorer),
		clock:           clock.New(),
		redis:           redisClient.Client(),
		importBatchSize: configuration.Import.BatchSize,
		lockTTL:         time.Duration(configuration.Scheduler.LockTTLSec) * time.Second,
	}
	logrus.WithField("scorer", b.scorer.Name()).Info("banklink services initialized")
	return b, nil
}

// Option overrides a dependency of a Banklink built with New.
type Option func(*Banklink)

func WithAggregator(a Aggregator) Option {
	return func(b *Banklink) { b.aggregator = a }
}

func WithQuotaTracker(q QuotaTracker) Option {
	return func(b *Banklink) { b.quota = q }
}

func WithSyncLocker(l SyncLocker) Option {
	return func(b *Banklink) { b.locker = l }
}

func WithCache(c cache.Cache) Option {
	return func(b *Banklink) { b.cache = c }
}

func WithTaskEnqueuer(t TaskEnqueuer) Option {
	return func(b *Banklink) { b.tasks = t }
}

func WithScorer(s SimilarityScorer) Option {
	return func(b *Banklink) { b.scorer = s }
}

func WithServiceClock(c clock.Clock) Option {
	return func(b *Banklink) { b.clock = c }
}

// New builds a Banklink from explicit dependencies. Dependencies that are
// not supplied are left unset: syncing then runs without quota tracking,
// cross-process locking, caching or auto-match tasks.
func New(db database.IDataSource, opts ...Option) *Banklink {
	b := &Banklink{
		datasource:      db,
		scorer:          TrigramScorer{},
		clock:           clock.New(),
		importBatchSize: config.DefaultImportBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Datasource returns the persistence layer the service writes to.
func (b *Banklink) Datasource() database.IDataSource {
	return b.datasource
}

// Redis exposes the shared Redis client.
func (b *Banklink) Redis() redis.UniversalClient {
	return b.redis
}

func (b *Banklink) now() time.Time {
	if b.clock == nil {
		return time.Now()
	}
	return b.clock.Now()
}
