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
	"time"

	"github.com/shopspring/decimal"

	"github.com/banklink/banklink/model"
)

type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByExternalID(ctx context.Context, transactionID string) (*model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id, status string) error
	GetTransactionsByIDs(ctx context.Context, ids []string) ([]model.Transaction, error)
	GetUnlinkedTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, int64, error)
	GetUnlinkedTransactionsSince(ctx context.Context, since time.Time, limit int) ([]model.Transaction, error)
	GetClientTransactions(ctx context.Context, clientID string, from, to *time.Time) ([]model.Transaction, error)
}

type link interface {
	RecordLink(ctx context.Context, link *model.ClientTransactionLink) error
	GetCurrentLink(ctx context.Context, transactionID string) (*model.ClientTransactionLink, error)
	GetLinkHistory(ctx context.Context, transactionID string) ([]model.ClientTransactionLink, error)
	GetClientTransactionSummary(ctx context.Context, clientID string) (*model.ClientTransactionSummary, error)
}

type pattern interface {
	CreatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error
	GetPattern(ctx context.Context, id string) (*model.TransactionMatchingPattern, error)
	UpdatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error
	DisablePattern(ctx context.Context, id string) error
	GetActivePatterns(ctx context.Context) ([]model.TransactionMatchingPattern, error)
	GetClientPatterns(ctx context.Context, clientID string) ([]model.TransactionMatchingPattern, error)
	GetAllPatterns(ctx context.Context, includeInactive bool) ([]model.TransactionMatchingPattern, error)
	RecordPatternMatch(ctx context.Context, id string, at time.Time) error
}

type client interface {
	GetClient(ctx context.Context, id string) (*model.Client, error)
	FindClientsByReference(ctx context.Context, reference string) ([]model.Client, error)
	FindClientsByBankAccount(ctx context.Context, account string) ([]model.Client, error)
	GetAllClients(ctx context.Context) ([]model.Client, error)
}

type account interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error)
	GetActiveAccounts(ctx context.Context) ([]model.Account, error)
	UpsertAccount(ctx context.Context, acc *model.Account) error
	UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error
	MarkAccountSynced(ctx context.Context, id string, at time.Time) error
	GetAccountsNeedingSync(ctx context.Context, staleBefore time.Time) ([]model.Account, error)
	GetAccountSyncStatus(ctx context.Context) ([]model.AccountSyncStatus, error)
}

type syncLog interface {
	RecordSyncLog(ctx context.Context, log *model.SyncLog) error
	GetSyncStats(ctx context.Context, since time.Time, recent int) (*model.SyncStats, error)
}

type currency interface {
	GetCurrencyByCode(ctx context.Context, code string) (*model.Currency, error)
	GetCurrencyByID(ctx context.Context, id string) (*model.Currency, error)
}

// IDataSource is the persistence surface used by the services.
type IDataSource interface {
	transaction
	link
	pattern
	client
	account
	syncLog
	currency

	// WithTransaction runs fn inside a single database transaction.
	WithTransaction(ctx context.Context, fn func(IDataSource) error) error
}
