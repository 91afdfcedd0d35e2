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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/clock"
)

const (
	recoveryPollInterval = 6 * time.Hour
	recoveryLookback     = 7 * 24 * time.Hour
	recoveryBatchSize    = 500
	recoveryChunkSize    = 100
)

// MatchRecoveryProcessor re-enqueues auto-matching for recent unlinked
// transactions. It covers imports whose auto-match task was never enqueued,
// for example because Redis was unavailable during the sync.
type MatchRecoveryProcessor struct {
	banklink     *Banklink
	clock        clock.Clock
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewMatchRecoveryProcessor(b *Banklink) *MatchRecoveryProcessor {
	c := b.clock
	if c == nil {
		c = clock.New()
	}
	return &MatchRecoveryProcessor{
		banklink:     b,
		clock:        c,
		pollInterval: recoveryPollInterval,
		stopCh:       make(chan struct{}),
	}
}

func (p *MatchRecoveryProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("auto-match recovery processor started")
}

// Stop waits for an in-progress sweep to finish.
func (p *MatchRecoveryProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("auto-match recovery processor stopped")
}

func (p *MatchRecoveryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *MatchRecoveryProcessor) run(ctx context.Context) {
	timer := p.clock.NewTimer(p.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-timer.C():
			if _, err := p.banklink.RecoverUnmatched(ctx); err != nil {
				logrus.WithError(err).Error("auto-match recovery sweep failed")
			}
			timer.Reset(p.pollInterval)
		}
	}
}

// RecoverUnmatched enqueues auto-matching for confirmed, unlinked
// transactions from the last seven days and returns how many were enqueued.
func (b *Banklink) RecoverUnmatched(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("banklink.recovery").Start(ctx, "RecoverUnmatched")
	defer span.End()

	if b.tasks == nil {
		return 0, nil
	}
	txns, err := b.datasource.GetUnlinkedTransactionsSince(ctx, b.now().Add(-recoveryLookback), recoveryBatchSize)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(txns))
	for _, t := range txns {
		ids = append(ids, t.ID)
	}

	enqueued := 0
	for start := 0; start < len(ids); start += recoveryChunkSize {
		end := min(start+recoveryChunkSize, len(ids))
		if err := b.tasks.EnqueueAutoMatch(ctx, ids[start:end]); err != nil {
			span.RecordError(err)
			return enqueued, err
		}
		enqueued += end - start
	}

	if enqueued > 0 {
		logrus.WithField("count", enqueued).Info("re-enqueued unlinked transactions for auto-matching")
	}
	return enqueued, nil
}
