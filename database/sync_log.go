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

package database

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const syncLogColumns = `id, account_id, status, operation_type, accounts_synced, transactions_synced,
	balances_synced, attempts, error_message, message, created_at`

// RecordSyncLog appends a sync outcome.
func (d Datasource) RecordSyncLog(ctx context.Context, log *model.SyncLog) error {
	ctx, span := otel.Tracer("Sync Log Repository").Start(ctx, "Recording Sync Log")
	defer span.End()

	_, err := d.db().ExecContext(ctx, `
		INSERT INTO banklink.sync_logs (
			id, account_id, status, operation_type, accounts_synced, transactions_synced,
			balances_synced, attempts, error_message, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		log.ID, nullString(log.AccountID), log.Status, log.OperationType, log.AccountsSynced,
		log.TransactionsSynced, log.BalancesSynced, log.Attempts, nullString(log.Error), nullString(log.Message), log.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record sync log", err)
	}
	return nil
}

// GetSyncStats counts outcomes recorded since the given time and returns the
// most recent entries, newest first.
func (d Datasource) GetSyncStats(ctx context.Context, since time.Time, recent int) (*model.SyncStats, error) {
	ctx, span := otel.Tracer("Sync Log Repository").Start(ctx, "Getting Sync Stats")
	defer span.End()

	stats := &model.SyncStats{RecentSyncs: []model.SyncLog{}}
	err := d.db().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failure'),
			COUNT(*) FILTER (WHERE status = 'rate_limited')
		FROM banklink.sync_logs WHERE created_at >= $1`, since).
		Scan(&stats.TotalSyncs, &stats.SuccessfulSyncs, &stats.FailedSyncs, &stats.RateLimitedSyncs)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count sync logs", err)
	}

	rows, err := d.db().QueryContext(ctx,
		`SELECT `+syncLogColumns+` FROM banklink.sync_logs ORDER BY created_at DESC, id DESC LIMIT $1`, recent)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve sync logs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                      model.SyncLog
			accountID, errMsg, msg    sql.NullString
		)
		if err := rows.Scan(&l.ID, &accountID, &l.Status, &l.OperationType, &l.AccountsSynced, &l.TransactionsSynced,
			&l.BalancesSynced, &l.Attempts, &errMsg, &msg, &l.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan sync log", err)
		}
		l.AccountID = accountID.String
		l.Error = errMsg.String
		l.Message = msg.String
		stats.RecentSyncs = append(stats.RecentSyncs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read sync logs", err)
	}
	if len(stats.RecentSyncs) > 0 {
		last := stats.RecentSyncs[0]
		stats.LastSync = &last
	}
	return stats, nil
}
