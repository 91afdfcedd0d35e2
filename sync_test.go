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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/database/mocks"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/internal/cache"
	"github.com/banklink/banklink/internal/quota"
	"github.com/banklink/banklink/model"
)

type syncFixture struct {
	b     *Banklink
	ds    *mocks.MockDataSource
	agg   *mockAggregator
	quota *mockQuota
	tasks *recordingTasks
}

func newSyncFixture() *syncFixture {
	f := &syncFixture{
		ds:    new(mocks.MockDataSource),
		agg:   new(mockAggregator),
		quota: new(mockQuota),
		tasks: &recordingTasks{},
	}
	f.b = newTestBanklink(f.ds)
	f.b.aggregator = f.agg
	f.b.quota = f.quota
	f.b.tasks = f.tasks
	return f
}

func daysAgo(days int) interface{} {
	want := testNow.AddDate(0, 0, -days)
	return mock.MatchedBy(func(from *time.Time) bool { return from != nil && from.Equal(want) })
}

func (f *syncFixture) expectImportOf(account *model.Account) {
	f.ds.On("GetAccount", mock.Anything, account.ID).Return(account, nil)
	f.ds.On("GetTransactionByExternalID", mock.Anything, mock.Anything).Return(nil, notFound("Transaction not found"))
	f.ds.On("GetCurrencyByCode", mock.Anything, "EUR").Return(&model.Currency{ID: "cur_eur", Code: "EUR"}, nil)
	f.ds.On("RecordTransaction", mock.Anything, mock.AnythingOfType("*model.Transaction")).Return(nil)
}

func bookedTransaction(id, amount string) aggregator.Transaction {
	return aggregator.Transaction{
		TransactionID:                     id,
		BookingDate:                       "2024-03-14",
		TransactionAmount:                 aggregator.Amount{Amount: amount, Currency: "EUR"},
		DebtorName:                        "Acme Corp",
		RemittanceInformationUnstructured: "Invoice 42",
	}
}

func TestPerformPeriodicSync(t *testing.T) {
	f := newSyncFixture()
	account := testAccount()

	f.ds.On("GetActiveAccounts", mock.Anything).Return([]model.Account{*account}, nil)
	f.quota.On("Acquire", mock.Anything, account.ID, mock.Anything).Return(nil)
	f.agg.On("GetAccountBalances", mock.Anything, account.AccountID).Return([]aggregator.Balance{
		{BalanceType: "closingBooked", BalanceAmount: aggregator.Amount{Amount: "100.00", Currency: "EUR"}},
		{BalanceType: "interimAvailable", BalanceAmount: aggregator.Amount{Amount: "120.50", Currency: "EUR"}},
	}, nil)
	f.ds.On("UpdateAccountBalance", mock.Anything, account.ID, mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.RequireFromString("120.5"))
	})).Return(nil)
	f.agg.On("GetAccountTransactions", mock.Anything, account.AccountID, daysAgo(7), mock.Anything).Return([]aggregator.Transaction{
		bookedTransaction("gc-1", "120.50"),
		bookedTransaction("gc-2", "-15.00"),
	}, nil)
	f.expectImportOf(account)
	f.ds.On("MarkAccountSynced", mock.Anything, account.ID, testNow).Return(nil)

	result, err := f.b.PerformPeriodicSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AccountsSynced)
	assert.Equal(t, 1, result.BalancesSynced)
	assert.Equal(t, 2, result.TransactionsSynced)
	assert.Empty(t, result.Errors)

	require.Len(t, f.tasks.batches, 1)
	assert.Len(t, f.tasks.batches[0], 2)
	f.ds.AssertExpectations(t)
}

func TestPerformPeriodicSync_QuotaExhaustedEverywhere(t *testing.T) {
	f := newSyncFixture()
	account := testAccount()

	f.ds.On("GetActiveAccounts", mock.Anything).Return([]model.Account{*account}, nil)
	f.quota.On("Acquire", mock.Anything, account.ID, mock.Anything).
		Return(&quota.ExceededError{AccountID: account.ID, Endpoint: "balances", RetryAfter: 2 * time.Hour})

	result, err := f.b.PerformPeriodicSync(context.Background())
	require.Error(t, err)
	var limited *aggregator.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 7200, limited.RetryAfterSeconds)
	assert.Len(t, result.Errors, 2)
	assert.Zero(t, result.AccountsSynced)
	f.ds.AssertNotCalled(t, "MarkAccountSynced", mock.Anything, mock.Anything, mock.Anything)
	f.agg.AssertNotCalled(t, "GetAccountBalances", mock.Anything, mock.Anything)
}

func TestPerformPeriodicSync_EndpointRateLimitBlocksQuota(t *testing.T) {
	f := newSyncFixture()
	account := testAccount()

	f.ds.On("GetActiveAccounts", mock.Anything).Return([]model.Account{*account}, nil)
	f.quota.On("Acquire", mock.Anything, account.ID, mock.Anything).Return(nil)
	f.agg.On("GetAccountBalances", mock.Anything, account.AccountID).
		Return(nil, &aggregator.RateLimitedError{Path: "/accounts/gc-acc-1/balances/", RetryAfterSeconds: 600})
	f.quota.On("Block", mock.Anything, account.ID, "balances", 10*time.Minute).Return(nil)
	f.agg.On("GetAccountTransactions", mock.Anything, account.AccountID, daysAgo(7), mock.Anything).Return([]aggregator.Transaction{}, nil)
	f.ds.On("MarkAccountSynced", mock.Anything, account.ID, testNow).Return(nil)

	result, err := f.b.PerformPeriodicSync(context.Background())
	require.NoError(t, err, "a partial rate limit is reported per account")
	assert.Equal(t, 1, result.AccountsSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Operating balance")
	f.quota.AssertExpectations(t)
	assert.Empty(t, f.tasks.batches)
}

func TestPerformPeriodicSync_TokenRateLimitAbortsCycle(t *testing.T) {
	f := newSyncFixture()
	first, second := testAccount(), testAccount()
	second.ID, second.AccountID = "acc_2", "gc-acc-2"

	f.ds.On("GetActiveAccounts", mock.Anything).Return([]model.Account{*first, *second}, nil)
	f.quota.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.agg.On("GetAccountBalances", mock.Anything, first.AccountID).
		Return(nil, &aggregator.RateLimitedError{Path: "/token/new/", RetryAfterSeconds: 60})

	_, err := f.b.PerformPeriodicSync(context.Background())
	assert.True(t, aggregator.IsRateLimited(err))
	f.agg.AssertNotCalled(t, "GetAccountBalances", mock.Anything, second.AccountID)
	f.agg.AssertNotCalled(t, "GetAccountTransactions", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSyncStaleAccounts_UsesInitialWindowForNewAccounts(t *testing.T) {
	f := newSyncFixture()
	fresh := testAccount()
	synced := testAccount()
	synced.ID, synced.AccountID = "acc_2", "gc-acc-2"
	last := testNow.Add(-48 * time.Hour)
	synced.LastSyncAt = &last
	staleBefore := testNow.Add(-24 * time.Hour)

	f.ds.On("GetAccountsNeedingSync", mock.Anything, staleBefore).Return([]model.Account{*fresh, *synced}, nil)
	f.quota.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.agg.On("GetAccountBalances", mock.Anything, mock.Anything).Return([]aggregator.Balance{}, nil)
	f.agg.On("GetAccountTransactions", mock.Anything, fresh.AccountID, daysAgo(90), mock.Anything).Return([]aggregator.Transaction{}, nil)
	f.agg.On("GetAccountTransactions", mock.Anything, synced.AccountID, daysAgo(7), mock.Anything).Return([]aggregator.Transaction{}, nil)
	f.ds.On("MarkAccountSynced", mock.Anything, mock.Anything, testNow).Return(nil)

	result, err := f.b.SyncStaleAccounts(context.Background(), staleBefore)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AccountsSynced)
	f.agg.AssertExpectations(t)
}

func TestMapAggregatorTransaction(t *testing.T) {
	outgoing := aggregator.Transaction{
		InternalTransactionID:                  "int-9",
		ValueDate:                              "2024-03-02",
		TransactionAmount:                      aggregator.Amount{Amount: "-42.10", Currency: "EUR"},
		CreditorName:                           "Landlord SL",
		CreditorAccount:                        &aggregator.AccountReference{IBAN: "ES7620770024003102575766"},
		DebtorName:                             "Us",
		RemittanceInformationUnstructuredArray: []string{"Rent", "March"},
		EndToEndID:                             "NOTPROVIDED",
		Pending:                                true,
	}

	rec := mapAggregatorTransaction(outgoing, syncTagPeriodic, testNow)
	assert.Equal(t, "int-9", rec.TransactionID)
	assert.Equal(t, "2024-03-02", rec.Date)
	assert.Equal(t, json.Number("-42.10"), rec.Amount)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, "Rent March", rec.Description)
	assert.Empty(t, rec.Reference)
	assert.Equal(t, "Landlord SL", rec.CounterpartyName)
	assert.Equal(t, "ES7620770024003102575766", rec.CounterpartyAccount)
	assert.Equal(t, "periodic-7days", rec.MetaData["sync_batch"])

	incoming := bookedTransaction("", "10.00")
	incoming.EndToEndID = "E2E-1"
	incoming.DebtorAccount = &aggregator.AccountReference{BBAN: "0049 1500"}
	rec = mapAggregatorTransaction(incoming, syncTagInitial, testNow)
	assert.Regexp(t, `^GC_[0-9a-f]{16}$`, rec.TransactionID)
	assert.Equal(t, rec.TransactionID, mapAggregatorTransaction(incoming, syncTagInitial, testNow).TransactionID)
	assert.Equal(t, model.StatusConfirmed, rec.Status)
	assert.Equal(t, "E2E-1", rec.Reference)
	assert.Equal(t, "Acme Corp", rec.CounterpartyName)
	assert.Equal(t, "0049 1500", rec.CounterpartyAccount)

	bare := aggregator.Transaction{BookingDate: "2024-03-01", TransactionAmount: aggregator.Amount{Amount: "1"}}
	assert.Equal(t, "Bank transaction", mapAggregatorTransaction(bare, syncTagInitial, testNow).Description)
}

func TestCompleteSetup_RequiresLinkedRequisition(t *testing.T) {
	f := newSyncFixture()
	f.agg.On("GetRequisition", mock.Anything, "req-1").Return(&aggregator.Requisition{ID: "req-1", Status: "CR"}, nil)

	_, err := f.b.CompleteSetup(context.Background(), "req-1")
	assert.True(t, apierror.IsCode(err, apierror.ErrBadRequest))
	assert.ErrorIs(t, err, aggregator.ErrNotLinked)
}

func TestCompleteSetup(t *testing.T) {
	f := newSyncFixture()
	f.agg.On("GetRequisition", mock.Anything, "req-1").Return(&aggregator.Requisition{
		ID: "req-1", Status: aggregator.RequisitionStatusLinked, InstitutionID: "SANDBOXFINANCE_SFIN0000", Accounts: []string{"gc-acc-9"},
	}, nil)
	f.quota.On("Acquire", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.agg.On("GetAccountDetails", mock.Anything, "gc-acc-9").Return(&aggregator.AccountDetails{
		IBAN: "GL3343697694912188", Currency: "EUR", Name: "Main Account", CashAccountType: "CACC",
	}, nil)
	f.ds.On("GetCurrencyByCode", mock.Anything, "EUR").Return(&model.Currency{ID: "cur_eur", Code: "EUR"}, nil)

	var upserted *model.Account
	f.ds.On("UpsertAccount", mock.Anything, mock.AnythingOfType("*model.Account")).
		Run(func(args mock.Arguments) { upserted = args.Get(1).(*model.Account) }).
		Return(nil)
	f.agg.On("GetAccountBalances", mock.Anything, "gc-acc-9").Return([]aggregator.Balance{}, nil)
	f.agg.On("GetAccountTransactions", mock.Anything, "gc-acc-9", daysAgo(90), mock.Anything).Return([]aggregator.Transaction{}, nil)
	f.ds.On("MarkAccountSynced", mock.Anything, mock.Anything, testNow).Return(nil)

	setup, err := f.b.CompleteSetup(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, setup.Accounts, 1)
	require.NotNil(t, upserted)
	assert.Regexp(t, `^acc_`, upserted.ID)
	assert.Equal(t, "Main Account", upserted.Name)
	assert.Equal(t, "cacc", upserted.Type)
	assert.Equal(t, "cur_eur", upserted.CurrencyID)
	assert.Equal(t, "req-1", upserted.RequisitionID)
	assert.Equal(t, 1, setup.Sync.AccountsSynced)
}

func TestGetInstitutionsIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newSyncFixture()
	f.b.cache = cache.NewCache(client)
	f.agg.On("ListInstitutions", mock.Anything, "ES").Return([]aggregator.Institution{{ID: "BBVA_BBVAESMM", Name: "BBVA"}}, nil).Once()

	for i := 0; i < 2; i++ {
		institutions, err := f.b.GetInstitutions(context.Background(), " es ")
		require.NoError(t, err)
		require.Len(t, institutions, 1)
		assert.Equal(t, "BBVA", institutions[0].Name)
	}
	f.agg.AssertNumberOfCalls(t, "ListInstitutions", 1)
	assert.True(t, mr.Exists("banklink:institutions:ES"))
}

func TestGetAccountSyncStatusIncludesQuota(t *testing.T) {
	f := newSyncFixture()
	f.ds.On("GetAccountSyncStatus", mock.Anything).Return([]model.AccountSyncStatus{{Account: *testAccount(), TransactionCount: 3}}, nil)
	f.quota.On("Usage", mock.Anything, "acc_1", []string{"balances", "transactions"}).Return([]quota.Usage{
		{Endpoint: "balances", Used: 4, Limit: 4, Status: quota.StatusExhausted},
		{Endpoint: "transactions", Used: 1, Limit: 4, Status: quota.StatusAvailable},
	}, nil)

	statuses, err := f.b.GetAccountSyncStatus(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	require.Len(t, statuses[0].Quota, 2)
	assert.Equal(t, quota.StatusExhausted, statuses[0].Quota[0].Status)
}
