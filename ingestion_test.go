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

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/banklink/banklink/database/mocks"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

func testAccount() *model.Account {
	return &model.Account{ID: "acc_1", Name: "Operating", AccountID: "gc-acc-1", CurrencyID: "cur_eur", IsActive: true}
}

func TestValidateTransactions(t *testing.T) {
	records := []model.ImportRecord{
		{Amount: "10.00", Date: "2024-03-01"},
		{Amount: "", Date: "2024-03-01"},
		{Amount: "ten", Date: "2024-03-01"},
		{Amount: "5"},
		{Amount: "5", Date: "01/03/2024"},
		{Amount: "-7.5", Date: "2024-03-01T09:30:00Z"},
	}

	errs := ValidateTransactions(records)
	require.Len(t, errs, 4)
	assert.Equal(t, model.RowError{Row: 2, Field: "amount", Message: "Amount is required"}, errs[0])
	assert.Equal(t, "Invalid amount format", errs[1].Message)
	assert.Equal(t, "Date is required", errs[2].Message)
	assert.Equal(t, model.RowError{Row: 5, Field: "date", Message: "Invalid date format"}, errs[3])
}

func TestImportTransactions_NewRecords(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	name := gofakeit.Company()
	records := []model.ImportRecord{
		{TransactionID: "ext-1", Amount: "120.50", Date: "2024-03-01", Currency: "eur", Description: " Invoice 42 ", CounterpartyName: name, CounterpartyAccount: "es91 2100 0418"},
		{Amount: json.Number("-30"), Date: "2024-03-02", Status: "pending"},
	}

	ds.On("GetAccount", mock.Anything, "acc_1").Return(testAccount(), nil)
	ds.On("GetTransactionByExternalID", mock.Anything, "ext-1").Return(nil, notFound("Transaction not found"))
	ds.On("GetTransactionByExternalID", mock.Anything, mock.MatchedBy(func(id string) bool { return id != "ext-1" })).Return(nil, notFound("Transaction not found"))
	ds.On("GetCurrencyByCode", mock.Anything, "EUR").Return(&model.Currency{ID: "cur_eur", Code: "EUR"}, nil).Once()

	var stored []*model.Transaction
	ds.On("RecordTransaction", mock.Anything, mock.AnythingOfType("*model.Transaction")).
		Run(func(args mock.Arguments) { stored = append(stored, args.Get(1).(*model.Transaction)) }).
		Return(nil)

	result, err := b.ImportTransactions(ctx, "acc_1", records, "ops@example.com")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 0, result.Skipped)
	assert.Empty(t, result.Errors)
	require.Len(t, stored, 2)
	assert.Equal(t, []string{stored[0].ID, stored[1].ID}, result.ImportedIDs)

	first := stored[0]
	assert.Equal(t, "ext-1", first.TransactionID)
	assert.Equal(t, "cur_eur", first.CurrencyID)
	assert.Equal(t, model.TransactionTypeCredit, first.Type)
	assert.Equal(t, "Invoice 42", first.Description)
	assert.Equal(t, "ES9121000418", first.CounterpartyAccount)
	assert.Equal(t, model.StatusConfirmed, first.Status)
	assert.Equal(t, "ops@example.com", first.MetaData["imported_by"])

	second := stored[1]
	assert.Regexp(t, `^IMP_acc_1_\d+_2$`, second.TransactionID)
	assert.Equal(t, model.TransactionTypeDebit, second.Type)
	assert.Equal(t, model.StatusPending, second.Status)
	assert.Equal(t, "cur_eur", second.CurrencyID, "falls back to the account currency")

	ds.AssertExpectations(t)
}

func TestImportTransactions_CurrencyByID(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	ds.On("GetAccount", mock.Anything, "acc_1").Return(testAccount(), nil)
	ds.On("GetTransactionByExternalID", mock.Anything, mock.Anything).Return(nil, notFound("Transaction not found"))
	ds.On("GetCurrencyByCode", mock.Anything, "CUR_GBP").Return(nil, notFound("Currency not found")).Once()
	ds.On("GetCurrencyByID", mock.Anything, "cur_gbp").Return(&model.Currency{ID: "cur_gbp", Code: "GBP"}, nil).Once()

	var stored []*model.Transaction
	ds.On("RecordTransaction", mock.Anything, mock.AnythingOfType("*model.Transaction")).
		Run(func(args mock.Arguments) { stored = append(stored, args.Get(1).(*model.Transaction)) }).
		Return(nil)

	result, err := b.ImportTransactions(ctx, "acc_1", []model.ImportRecord{
		{TransactionID: "ext-1", Amount: "5", Date: "2024-03-01", Currency: "cur_gbp"},
		{TransactionID: "ext-2", Amount: "6", Date: "2024-03-01", Currency: "cur_gbp"},
		{TransactionID: "ext-3", Amount: "7", Date: "2024-03-01", Currency: "gbp"},
	}, "test")
	require.NoError(t, err)

	assert.Equal(t, 3, result.Imported)
	assert.Empty(t, result.Errors)
	require.Len(t, stored, 3)
	for _, txn := range stored {
		assert.Equal(t, "cur_gbp", txn.CurrencyID)
	}
	ds.AssertExpectations(t)
}

func TestImportTransactions_DuplicatesAreSkipped(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	records := []model.ImportRecord{
		{TransactionID: "ext-1", Amount: "10", Date: "2024-03-01"},
		{TransactionID: "ext-2", Amount: "20", Date: "2024-03-01"},
	}
	ds.On("GetAccount", mock.Anything, "acc_1").Return(testAccount(), nil)
	ds.On("GetTransactionByExternalID", mock.Anything, "ext-1").Return(&model.Transaction{ID: "txn_1", Status: model.StatusConfirmed}, nil)
	ds.On("GetTransactionByExternalID", mock.Anything, "ext-2").Return(&model.Transaction{ID: "txn_2", Status: model.StatusConfirmed}, nil)

	result, err := b.ImportTransactions(ctx, "acc_1", records, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, []string{"ext-1", "ext-2"}, result.Duplicates)
	ds.AssertNotCalled(t, "RecordTransaction", mock.Anything, mock.Anything)
}

func TestImportTransactions_PromotesPendingDuplicate(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	ds.On("GetAccount", mock.Anything, "acc_1").Return(testAccount(), nil)
	ds.On("GetTransactionByExternalID", mock.Anything, "ext-1").Return(&model.Transaction{ID: "txn_1", Status: model.StatusPending}, nil)
	ds.On("UpdateTransactionStatus", mock.Anything, "txn_1", model.StatusConfirmed).Return(nil)

	result, err := b.ImportTransactions(ctx, "acc_1", []model.ImportRecord{
		{TransactionID: "ext-1", Amount: "10", Date: "2024-03-01"},
	}, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{"ext-1"}, result.Duplicates)
	ds.AssertExpectations(t)
}

func TestImportTransactions_RowErrorsDoNotAbort(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	ds.On("GetAccount", mock.Anything, "acc_1").Return(testAccount(), nil)
	ds.On("GetTransactionByExternalID", mock.Anything, mock.Anything).Return(nil, notFound("Transaction not found"))
	ds.On("GetCurrencyByCode", mock.Anything, "XYZ").Return(nil, notFound("Currency not found"))
	ds.On("GetCurrencyByID", mock.Anything, "xyz").Return(nil, notFound("Currency not found"))
	ds.On("RecordTransaction", mock.Anything, mock.Anything).Return(nil).Once()
	ds.On("RecordTransaction", mock.Anything, mock.Anything).Return(apierror.NewAPIError(apierror.ErrConflict, "Transaction already exists", nil)).Once()

	result, err := b.ImportTransactions(ctx, "acc_1", []model.ImportRecord{
		{TransactionID: "a", Amount: "bad", Date: "2024-03-01"},
		{TransactionID: "b", Amount: "1", Date: "2024-03-01", Currency: "xyz"},
		{TransactionID: "c", Amount: "1", Date: "2024-03-01"},
		{TransactionID: "d", Amount: "1", Date: "2024-03-01"},
	}, "test")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 3, result.Skipped)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 1, result.Errors[0].Row)
	assert.Equal(t, "unknown currency XYZ", result.Errors[1].Message)
	assert.Equal(t, []string{"d"}, result.Duplicates, "a unique violation counts as a duplicate")
}

func TestImportTransactions_UnknownAccount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)

	ds.On("GetAccount", mock.Anything, "missing").Return(nil, notFound("Account not found"))

	_, err := b.ImportTransactions(context.Background(), "missing", nil, "test")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}
