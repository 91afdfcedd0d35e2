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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/banklink/banklink/database"
	"github.com/banklink/banklink/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// WithTransaction runs fn against the mock itself, so expectations set on
// the mock cover calls made inside the transaction.
func (m *MockDataSource) WithTransaction(ctx context.Context, fn func(database.IDataSource) error) error {
	return fn(m)
}

// Transaction methods

func (m *MockDataSource) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockDataSource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	args := m.Called(ctx, id)
	txn, _ := args.Get(0).(*model.Transaction)
	return txn, args.Error(1)
}

func (m *MockDataSource) GetTransactionByExternalID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	args := m.Called(ctx, transactionID)
	txn, _ := args.Get(0).(*model.Transaction)
	return txn, args.Error(1)
}

func (m *MockDataSource) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockDataSource) GetTransactionsByIDs(ctx context.Context, ids []string) ([]model.Transaction, error) {
	args := m.Called(ctx, ids)
	txns, _ := args.Get(0).([]model.Transaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) GetUnlinkedTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, int64, error) {
	args := m.Called(ctx, limit, offset)
	txns, _ := args.Get(0).([]model.Transaction)
	return txns, args.Get(1).(int64), args.Error(2)
}

func (m *MockDataSource) GetUnlinkedTransactionsSince(ctx context.Context, since time.Time, limit int) ([]model.Transaction, error) {
	args := m.Called(ctx, since, limit)
	txns, _ := args.Get(0).([]model.Transaction)
	return txns, args.Error(1)
}

func (m *MockDataSource) GetClientTransactions(ctx context.Context, clientID string, from, to *time.Time) ([]model.Transaction, error) {
	args := m.Called(ctx, clientID, from, to)
	txns, _ := args.Get(0).([]model.Transaction)
	return txns, args.Error(1)
}

// Link methods

func (m *MockDataSource) RecordLink(ctx context.Context, link *model.ClientTransactionLink) error {
	args := m.Called(ctx, link)
	return args.Error(0)
}

func (m *MockDataSource) GetCurrentLink(ctx context.Context, transactionID string) (*model.ClientTransactionLink, error) {
	args := m.Called(ctx, transactionID)
	link, _ := args.Get(0).(*model.ClientTransactionLink)
	return link, args.Error(1)
}

func (m *MockDataSource) GetLinkHistory(ctx context.Context, transactionID string) ([]model.ClientTransactionLink, error) {
	args := m.Called(ctx, transactionID)
	links, _ := args.Get(0).([]model.ClientTransactionLink)
	return links, args.Error(1)
}

func (m *MockDataSource) GetClientTransactionSummary(ctx context.Context, clientID string) (*model.ClientTransactionSummary, error) {
	args := m.Called(ctx, clientID)
	summary, _ := args.Get(0).(*model.ClientTransactionSummary)
	return summary, args.Error(1)
}

// Pattern methods

func (m *MockDataSource) CreatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) GetPattern(ctx context.Context, id string) (*model.TransactionMatchingPattern, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.TransactionMatchingPattern)
	return p, args.Error(1)
}

func (m *MockDataSource) UpdatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) DisablePattern(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) GetActivePatterns(ctx context.Context) ([]model.TransactionMatchingPattern, error) {
	args := m.Called(ctx)
	patterns, _ := args.Get(0).([]model.TransactionMatchingPattern)
	return patterns, args.Error(1)
}

func (m *MockDataSource) GetClientPatterns(ctx context.Context, clientID string) ([]model.TransactionMatchingPattern, error) {
	args := m.Called(ctx, clientID)
	patterns, _ := args.Get(0).([]model.TransactionMatchingPattern)
	return patterns, args.Error(1)
}

func (m *MockDataSource) GetAllPatterns(ctx context.Context, includeInactive bool) ([]model.TransactionMatchingPattern, error) {
	args := m.Called(ctx, includeInactive)
	patterns, _ := args.Get(0).([]model.TransactionMatchingPattern)
	return patterns, args.Error(1)
}

func (m *MockDataSource) RecordPatternMatch(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// Client methods

func (m *MockDataSource) GetClient(ctx context.Context, id string) (*model.Client, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*model.Client)
	return c, args.Error(1)
}

func (m *MockDataSource) FindClientsByReference(ctx context.Context, reference string) ([]model.Client, error) {
	args := m.Called(ctx, reference)
	clients, _ := args.Get(0).([]model.Client)
	return clients, args.Error(1)
}

func (m *MockDataSource) FindClientsByBankAccount(ctx context.Context, account string) ([]model.Client, error) {
	args := m.Called(ctx, account)
	clients, _ := args.Get(0).([]model.Client)
	return clients, args.Error(1)
}

func (m *MockDataSource) GetAllClients(ctx context.Context) ([]model.Client, error) {
	args := m.Called(ctx)
	clients, _ := args.Get(0).([]model.Client)
	return clients, args.Error(1)
}

// Account methods

func (m *MockDataSource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	acc, _ := args.Get(0).(*model.Account)
	return acc, args.Error(1)
}

func (m *MockDataSource) GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	args := m.Called(ctx, externalID)
	acc, _ := args.Get(0).(*model.Account)
	return acc, args.Error(1)
}

func (m *MockDataSource) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]model.Account)
	return accounts, args.Error(1)
}

func (m *MockDataSource) UpsertAccount(ctx context.Context, acc *model.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *MockDataSource) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	args := m.Called(ctx, id, balance)
	return args.Error(0)
}

func (m *MockDataSource) MarkAccountSynced(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDataSource) GetAccountsNeedingSync(ctx context.Context, staleBefore time.Time) ([]model.Account, error) {
	args := m.Called(ctx, staleBefore)
	accounts, _ := args.Get(0).([]model.Account)
	return accounts, args.Error(1)
}

func (m *MockDataSource) GetAccountSyncStatus(ctx context.Context) ([]model.AccountSyncStatus, error) {
	args := m.Called(ctx)
	statuses, _ := args.Get(0).([]model.AccountSyncStatus)
	return statuses, args.Error(1)
}

// Sync log methods

func (m *MockDataSource) RecordSyncLog(ctx context.Context, log *model.SyncLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *MockDataSource) GetSyncStats(ctx context.Context, since time.Time, recent int) (*model.SyncStats, error) {
	args := m.Called(ctx, since, recent)
	stats, _ := args.Get(0).(*model.SyncStats)
	return stats, args.Error(1)
}

// Currency methods

func (m *MockDataSource) GetCurrencyByCode(ctx context.Context, code string) (*model.Currency, error) {
	args := m.Called(ctx, code)
	c, _ := args.Get(0).(*model.Currency)
	return c, args.Error(1)
}

func (m *MockDataSource) GetCurrencyByID(ctx context.Context, id string) (*model.Currency, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*model.Currency)
	return c, args.Error(1)
}
