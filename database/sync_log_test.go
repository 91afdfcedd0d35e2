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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banklink/banklink/model"
)

func TestRecordSyncLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	log := &model.SyncLog{
		ID:            "sync_1",
		Status:        model.SyncStatusFailure,
		OperationType: model.OperationSyncCycle,
		Attempts:      3,
		Error:         "connection reset",
		CreatedAt:     fixedTime,
	}

	mock.ExpectExec("INSERT INTO banklink.sync_logs").
		WithArgs("sync_1", nil, "failure", "sync_cycle", 0, 0, 0, 3, "connection reset", nil, fixedTime).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, ds.RecordSyncLog(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSyncStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	since := fixedTime.Add(-24 * time.Hour)
	mock.ExpectQuery("FROM banklink.sync_logs WHERE created_at >=").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"total", "success", "failure", "rate_limited"}).AddRow(4, 2, 1, 1))
	mock.ExpectQuery("FROM banklink.sync_logs ORDER BY created_at DESC").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "status", "operation_type", "accounts_synced", "transactions_synced",
			"balances_synced", "attempts", "error_message", "message", "created_at",
		}).
			AddRow("sync_2", nil, "rate_limited", "sync_cycle", 0, 0, 0, 1, "retry after 3600s", nil, fixedTime).
			AddRow("sync_1", nil, "success", "manual_sync", 2, 14, 2, 1, nil, "ok", fixedTime.Add(-time.Hour)))

	stats, err := ds.GetSyncStats(context.Background(), since, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalSyncs)
	assert.Equal(t, int64(1), stats.RateLimitedSyncs)
	require.Len(t, stats.RecentSyncs, 2)
	require.NotNil(t, stats.LastSync)
	assert.Equal(t, "sync_2", stats.LastSync.ID)
	assert.Equal(t, "ok", stats.RecentSyncs[1].Message)
}
