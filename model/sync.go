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

package model

import "time"

const (
	SyncStatusSuccess     = "success"
	SyncStatusFailure     = "failure"
	SyncStatusRateLimited = "rate_limited"
)

const (
	OperationSyncCycle    = "sync_cycle"
	OperationManualSync   = "manual_sync"
	OperationStartupCheck = "startup_check"
	OperationBalances     = "balances"
	OperationTransactions = "transactions"
	OperationAccounts     = "accounts"
)

// SyncLog is an append-only record of one sync outcome.
type SyncLog struct {
	ID                 string    `json:"id"`
	AccountID          string    `json:"account_id,omitempty"`
	Status             string    `json:"status"`
	OperationType      string    `json:"operation_type"`
	AccountsSynced     int       `json:"accounts_synced"`
	TransactionsSynced int       `json:"transactions_synced"`
	BalancesSynced     int       `json:"balances_synced"`
	Attempts           int       `json:"attempts"`
	Error              string    `json:"error,omitempty"`
	Message            string    `json:"message,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// SyncResult is what one sync pass over a set of accounts produced.
type SyncResult struct {
	AccountsSynced     int      `json:"accountsSynced"`
	TransactionsSynced int      `json:"transactionsSynced"`
	BalancesSynced     int      `json:"balancesSynced"`
	Errors             []string `json:"errors"`

	// NewTransactionIDs are the internal ids imported during the pass.
	NewTransactionIDs []string `json:"-"`
}

// SetupResult is what completing a bank consent produced.
type SetupResult struct {
	Accounts []Account  `json:"accounts"`
	Sync     SyncResult `json:"sync"`
}

// SyncStats summarizes recent sync history.
type SyncStats struct {
	TotalSyncs       int64     `json:"totalSyncs"`
	SuccessfulSyncs  int64     `json:"successfulSyncs"`
	FailedSyncs      int64     `json:"failedSyncs"`
	RateLimitedSyncs int64     `json:"rateLimitedSyncs"`
	LastSync         *SyncLog  `json:"lastSync"`
	RecentSyncs      []SyncLog `json:"recentSyncs"`
}

// SchedulerStatus is a snapshot of the sync scheduler.
type SchedulerStatus struct {
	IsRunning        bool       `json:"isRunning"`
	State            string     `json:"state"`
	ActiveIntervals  int        `json:"activeIntervals"`
	NextSyncEstimate *time.Time `json:"nextSyncEstimate"`
	StartedAt        *time.Time `json:"startedAt"`
	Interval         string     `json:"interval,omitempty"`
}
