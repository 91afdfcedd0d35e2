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
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/config"
	redis_db "github.com/banklink/banklink/internal/redis-db"
)

// TaskTypeAutoMatch is the asynq task type handled by the auto-match worker.
const TaskTypeAutoMatch = "auto_match"

const (
	autoMatchMaxRetry = 3
	autoMatchTimeout  = 5 * time.Minute
)

// Queue enqueues background work on Redis.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	queueName string
}

// AutoMatchPayload is the body of an auto-match task.
type AutoMatchPayload struct {
	TransactionIDs []string `json:"transaction_ids"`
}

// RedisConnOpt builds the asynq connection options from the Redis config.
func RedisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("parsing redis url: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Username:  redisOption.Username,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// NewQueue connects a task client to the configured Redis. An unparsable
// Redis address is fatal, as it is for the rest of the service.
func NewQueue(conf *config.Configuration) *Queue {
	opt, err := RedisConnOpt(conf)
	if err != nil {
		logrus.Fatal(err)
	}
	return newQueueWithOpt(opt, conf.Queue.AutoMatchQueue)
}

func newQueueWithOpt(opt asynq.RedisClientOpt, queueName string) *Queue {
	if queueName == "" {
		queueName = config.DefaultAutoMatchQueue
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		queueName: queueName,
	}
}

// EnqueueAutoMatch schedules auto-matching for freshly imported transactions.
func (q *Queue) EnqueueAutoMatch(ctx context.Context, transactionIDs []string) error {
	ctx, span := otel.Tracer("banklink.queue").Start(ctx, "EnqueueAutoMatch")
	defer span.End()

	if len(transactionIDs) == 0 {
		return nil
	}
	payload, err := json.Marshal(AutoMatchPayload{TransactionIDs: transactionIDs})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeAutoMatch, payload,
		asynq.Queue(q.queueName),
		asynq.MaxRetry(autoMatchMaxRetry),
		asynq.Timeout(autoMatchTimeout),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueueing auto-match task: %w", err)
	}
	logrus.WithFields(logrus.Fields{"task_id": info.ID, "queue": info.Queue}).
		Infof("enqueued auto-match for %d transactions", len(transactionIDs))
	return nil
}

// Close releases the client and inspector connections.
func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		return err
	}
	return q.Client.Close()
}

// HandleAutoMatchTask runs auto-matching for the transactions in an
// auto-match task. Malformed payloads are not retried.
func (b *Banklink) HandleAutoMatchTask(ctx context.Context, t *asynq.Task) error {
	var payload AutoMatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decoding auto-match payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.TransactionIDs) == 0 {
		return nil
	}

	result, err := b.RunAutoMatching(ctx, payload.TransactionIDs)
	if err != nil {
		retryCount, _ := asynq.GetRetryCount(ctx)
		logrus.WithField("retry", retryCount).Errorf("auto-match task failed: %v", err)
		return err
	}
	logrus.WithFields(logrus.Fields{
		"processed": result.Processed,
		"matched":   result.Matched,
	}).Info("auto-match task done")
	return nil
}
