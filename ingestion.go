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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/config"
	"github.com/banklink/banklink/database"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

var importDateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseImportDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// validateRecord checks the fields every record needs and returns the parsed
// amount and date.
func validateRecord(row int, rec model.ImportRecord) (decimal.Decimal, time.Time, *model.RowError) {
	raw := strings.TrimSpace(rec.Amount.String())
	if raw == "" {
		return decimal.Zero, time.Time{}, &model.RowError{Row: row, Field: "amount", Message: "Amount is required"}
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, time.Time{}, &model.RowError{Row: row, Field: "amount", Message: "Invalid amount format"}
	}
	if strings.TrimSpace(rec.Date) == "" {
		return decimal.Zero, time.Time{}, &model.RowError{Row: row, Field: "date", Message: "Date is required"}
	}
	date, err := parseImportDate(rec.Date)
	if err != nil {
		return decimal.Zero, time.Time{}, &model.RowError{Row: row, Field: "date", Message: "Invalid date format"}
	}
	return amount, date, nil
}

// ValidateTransactions reports every record that would be rejected on
// import. It does not touch the database.
func ValidateTransactions(records []model.ImportRecord) []model.RowError {
	errs := []model.RowError{}
	for i, rec := range records {
		if _, _, rowErr := validateRecord(i+1, rec); rowErr != nil {
			errs = append(errs, *rowErr)
		}
	}
	return errs
}

// ImportTransactions stores records against an account. Records whose
// transaction id already exists are reported as duplicates; a duplicate that
// arrives confirmed promotes a stored pending row. Bad records are reported
// per row and never abort the import.
func (b *Banklink) ImportTransactions(ctx context.Context, accountID string, records []model.ImportRecord, importedBy string) (*model.ImportResult, error) {
	ctx, span := otel.Tracer("banklink.ingestion").Start(ctx, "ImportTransactions")
	defer span.End()

	account, err := b.datasource.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &model.ImportResult{
		Errors:      []model.RowError{},
		Duplicates:  []string{},
		ImportedIDs: []string{},
	}
	imp := &importer{
		b:          b,
		account:    account,
		importedBy: importedBy,
		startedAt:  b.now(),
		currencies: map[string]*model.Currency{},
		result:     result,
	}

	batchSize := b.importBatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultImportBatchSize
	}
	for start := 0; start < len(records); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		for i := start; i < end; i++ {
			imp.importRecord(ctx, i+1, records[i])
		}
	}

	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"imported":   result.Imported,
		"skipped":    result.Skipped,
		"confirmed":  result.Confirmed,
		"errors":     len(result.Errors),
	}).Info("transaction import finished")
	return result, nil
}

type importer struct {
	b          *Banklink
	account    *model.Account
	importedBy string
	startedAt  time.Time
	currencies map[string]*model.Currency
	result     *model.ImportResult
}

func (imp *importer) fail(row int, field, message string) {
	imp.result.Errors = append(imp.result.Errors, model.RowError{Row: row, Field: field, Message: message})
	imp.result.Skipped++
}

func (imp *importer) duplicate(transactionID string) {
	imp.result.Duplicates = append(imp.result.Duplicates, transactionID)
	imp.result.Skipped++
}

func (imp *importer) importRecord(ctx context.Context, row int, rec model.ImportRecord) {
	amount, date, rowErr := validateRecord(row, rec)
	if rowErr != nil {
		imp.result.Errors = append(imp.result.Errors, *rowErr)
		imp.result.Skipped++
		return
	}

	status := model.StatusConfirmed
	if strings.EqualFold(rec.Status, model.StatusPending) {
		status = model.StatusPending
	}

	transactionID := strings.TrimSpace(rec.TransactionID)
	if transactionID == "" {
		transactionID = fmt.Sprintf("IMP_%s_%d_%d", imp.account.ID, imp.startedAt.UnixMilli(), row)
	}

	existing, err := imp.b.datasource.GetTransactionByExternalID(ctx, transactionID)
	switch {
	case err == nil:
		if existing.Status == model.StatusPending && status == model.StatusConfirmed {
			if err := imp.b.datasource.UpdateTransactionStatus(ctx, existing.ID, model.StatusConfirmed); err != nil {
				imp.fail(row, "status", err.Error())
				return
			}
			imp.result.Confirmed++
		}
		imp.duplicate(transactionID)
		return
	case !apierror.IsCode(err, apierror.ErrNotFound):
		imp.fail(row, "transactionId", err.Error())
		return
	}

	currencyID, currencyCode, err := imp.resolveCurrency(ctx, rec.Currency)
	if err != nil {
		imp.fail(row, "currency", err.Error())
		return
	}

	txnType := strings.ToLower(strings.TrimSpace(rec.Type))
	if txnType != model.TransactionTypeCredit && txnType != model.TransactionTypeDebit {
		txnType = model.TypeForAmount(amount)
	}

	metadata := map[string]interface{}{}
	for k, v := range rec.MetaData {
		metadata[k] = v
	}
	metadata["imported_by"] = imp.importedBy
	metadata["imported_at"] = imp.startedAt.Format(time.RFC3339)

	txn := &model.Transaction{
		ID:                  model.GenerateUUIDWithSuffix("txn"),
		TransactionID:       transactionID,
		AccountID:           imp.account.ID,
		Amount:              amount,
		CurrencyID:          currencyID,
		CurrencyCode:        currencyCode,
		Type:                txnType,
		Description:         strings.TrimSpace(rec.Description),
		Reference:           strings.TrimSpace(rec.Reference),
		CounterpartyName:    strings.TrimSpace(rec.CounterpartyName),
		CounterpartyAccount: database.NormalizeIdentifier(rec.CounterpartyAccount),
		Date:                date,
		Status:              status,
		MetaData:            metadata,
		AggregatorData:      rec.Raw,
		CreatedAt:           imp.b.now(),
	}
	if err := imp.b.datasource.RecordTransaction(ctx, txn); err != nil {
		if apierror.IsCode(err, apierror.ErrConflict) {
			imp.duplicate(transactionID)
			return
		}
		imp.fail(row, "", err.Error())
		return
	}

	imp.result.Imported++
	imp.result.ImportedIDs = append(imp.result.ImportedIDs, txn.ID)
}

// resolveCurrency accepts a currency id or an ISO code. An empty value falls
// back to the account currency.
func (imp *importer) resolveCurrency(ctx context.Context, value string) (string, string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return imp.account.CurrencyID, "", nil
	}
	if _, err := uuid.Parse(value); err == nil {
		return value, "", nil
	}

	code := strings.ToUpper(value)
	if c, ok := imp.currencies[code]; ok {
		return c.ID, c.Code, nil
	}
	if c, ok := imp.currencies[value]; ok {
		return c.ID, c.Code, nil
	}
	c, err := imp.b.datasource.GetCurrencyByCode(ctx, code)
	if apierror.IsCode(err, apierror.ErrNotFound) {
		// Not a code; the value may be a currency id such as cur_gbp.
		c, err = imp.b.datasource.GetCurrencyByID(ctx, value)
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return "", "", fmt.Errorf("unknown currency %s", code)
		}
	}
	if err != nil {
		return "", "", err
	}
	imp.currencies[c.Code] = c
	imp.currencies[c.ID] = c
	return c.ID, c.Code, nil
}
