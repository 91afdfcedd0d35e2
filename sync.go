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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/wacul/ptr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/internal/quota"
	"github.com/banklink/banklink/model"
)

const (
	initialSyncDays  = 90
	periodicSyncDays = 7

	syncTagInitial  = "initial-90days"
	syncTagPeriodic = "periodic-7days"

	endpointDetails      = "details"
	endpointBalances     = "balances"
	endpointTransactions = "transactions"

	syncImporter       = "aggregator-sync"
	institutionsTTL    = 24 * time.Hour
	defaultDescription = "Bank transaction"
)

// preferredBalanceTypes lists the balance types used for an account's
// balance, best first.
var preferredBalanceTypes = []string{"interimAvailable", "closingBooked", "interimBooked", "expected"}

// errAbortCycle marks failures that make every remaining call pointless.
type errAbortCycle struct{ err error }

func (e *errAbortCycle) Error() string { return e.err.Error() }
func (e *errAbortCycle) Unwrap() error { return e.err }

// syncRun accumulates the outcome of one pass over a set of accounts.
type syncRun struct {
	result      *model.SyncResult
	attempted   int
	rateLimited int
	retryAfter  time.Duration
}

func (r *syncRun) noteRateLimit(retryAfter time.Duration) {
	r.rateLimited++
	if retryAfter > r.retryAfter {
		r.retryAfter = retryAfter
	}
}

func (b *Banklink) withSyncLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.locker == nil {
		return fn(ctx)
	}
	ttl := b.lockTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return b.locker.Hold(ctx, ttl, fn)
}

// Preflight checks the aggregator credentials and that a token can be obtained.
func (b *Banklink) Preflight(ctx context.Context) error {
	if err := b.aggregator.CheckCredentials(); err != nil {
		return err
	}
	_, err := b.aggregator.Authenticate(ctx)
	return err
}

// PerformPeriodicSync refreshes balances and the last week of transactions
// for every active account. Only one cycle runs at a time across processes.
func (b *Banklink) PerformPeriodicSync(ctx context.Context) (*model.SyncResult, error) {
	ctx, span := otel.Tracer("banklink.sync").Start(ctx, "PerformPeriodicSync")
	defer span.End()

	var result *model.SyncResult
	err := b.withSyncLock(ctx, func(ctx context.Context) error {
		accounts, err := b.datasource.GetActiveAccounts(ctx)
		if err != nil {
			return err
		}
		result, err = b.syncAccountList(ctx, accounts, func(model.Account) (int, string) {
			return periodicSyncDays, syncTagPeriodic
		})
		return err
	})
	if result != nil {
		span.SetAttributes(attribute.Int("accounts_synced", result.AccountsSynced), attribute.Int("transactions_synced", result.TransactionsSynced))
	}
	return result, err
}

// SyncAccounts runs the periodic flow for the given internal account ids.
func (b *Banklink) SyncAccounts(ctx context.Context, accountIDs []string) (*model.SyncResult, error) {
	ctx, span := otel.Tracer("banklink.sync").Start(ctx, "SyncAccounts")
	defer span.End()

	accounts := make([]model.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		acc, err := b.datasource.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}

	var result *model.SyncResult
	err := b.withSyncLock(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.syncAccountList(ctx, accounts, func(model.Account) (int, string) {
			return periodicSyncDays, syncTagPeriodic
		})
		return err
	})
	return result, err
}

// SyncStaleAccounts syncs active accounts that were never synced, hold no
// transactions, or were last synced before staleBefore. Accounts never
// synced get the full 90-day history.
func (b *Banklink) SyncStaleAccounts(ctx context.Context, staleBefore time.Time) (*model.SyncResult, error) {
	ctx, span := otel.Tracer("banklink.sync").Start(ctx, "SyncStaleAccounts")
	defer span.End()

	var result *model.SyncResult
	err := b.withSyncLock(ctx, func(ctx context.Context) error {
		accounts, err := b.datasource.GetAccountsNeedingSync(ctx, staleBefore)
		if err != nil {
			return err
		}
		result, err = b.syncAccountList(ctx, accounts, func(acc model.Account) (int, string) {
			if acc.LastSyncAt == nil {
				return initialSyncDays, syncTagInitial
			}
			return periodicSyncDays, syncTagPeriodic
		})
		return err
	})
	return result, err
}

// syncAccountList processes accounts one after another. Per-account failures
// are collected in the result. A rate limit on the token endpoint, an
// authentication failure, or a rate limit on every attempted call fails the
// whole pass.
func (b *Banklink) syncAccountList(ctx context.Context, accounts []model.Account, window func(model.Account) (int, string)) (*model.SyncResult, error) {
	run := &syncRun{result: &model.SyncResult{Errors: []string{}, NewTransactionIDs: []string{}}}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return run.result, err
		}
		days, tag := window(acc)
		if err := b.syncAccount(ctx, run, acc, days, tag); err != nil {
			var abort *errAbortCycle
			if errors.As(err, &abort) {
				b.enqueueAutoMatch(ctx, run.result.NewTransactionIDs)
				return run.result, abort.err
			}
			return run.result, err
		}
	}

	b.enqueueAutoMatch(ctx, run.result.NewTransactionIDs)

	if run.attempted > 0 && run.rateLimited == run.attempted {
		return run.result, &aggregator.RateLimitedError{
			Path:              "sync",
			RetryAfterSeconds: int(run.retryAfter / time.Second),
		}
	}
	return run.result, nil
}

func (b *Banklink) syncAccount(ctx context.Context, run *syncRun, acc model.Account, days int, tag string) error {
	log := logrus.WithFields(logrus.Fields{"account_id": acc.ID, "operation": tag})
	succeeded := 0

	ops := []struct {
		endpoint string
		label    string
		call     func(context.Context) error
	}{
		{endpointBalances, "balance", func(ctx context.Context) error { return b.syncBalance(ctx, run, acc) }},
		{endpointTransactions, "transactions", func(ctx context.Context) error { return b.syncTransactions(ctx, run, acc, days, tag) }},
	}

	for _, op := range ops {
		run.attempted++
		err := b.acquireQuota(ctx, acc.ID, op.endpoint)
		if err == nil {
			err = op.call(ctx)
		}
		if err == nil {
			succeeded++
			continue
		}

		run.result.Errors = append(run.result.Errors, fmt.Sprintf("%s %s: %v", acc.Name, op.label, err))

		var exceeded *quota.ExceededError
		var limited *aggregator.RateLimitedError
		switch {
		case errors.As(err, &exceeded):
			run.noteRateLimit(exceeded.RetryAfter)
			log.WithField("endpoint", op.endpoint).Warn("aggregator quota exhausted, skipping")
		case errors.As(err, &limited):
			retryAfter := time.Duration(limited.RetryAfterSeconds) * time.Second
			run.noteRateLimit(retryAfter)
			if limited.OnToken() {
				return &errAbortCycle{err: err}
			}
			if b.quota != nil {
				if err := b.quota.Block(ctx, acc.ID, op.endpoint, retryAfter); err != nil {
					log.Warnf("recording rate limit: %v", err)
				}
			}
			log.WithField("endpoint", op.endpoint).Warnf("aggregator rate limited: %v", err)
		case aggregator.IsAuthError(err):
			return &errAbortCycle{err: err}
		default:
			log.WithField("endpoint", op.endpoint).Errorf("sync failed: %v", err)
		}
	}

	if succeeded > 0 {
		if err := b.datasource.MarkAccountSynced(ctx, acc.ID, b.now()); err != nil {
			log.Warnf("marking account synced: %v", err)
		}
		run.result.AccountsSynced++
	}
	return nil
}

// acquireQuota fails open when the quota store is unreachable.
func (b *Banklink) acquireQuota(ctx context.Context, accountID, endpoint string) error {
	if b.quota == nil {
		return nil
	}
	err := b.quota.Acquire(ctx, accountID, endpoint)
	if err != nil && !quota.IsExceeded(err) {
		logrus.WithField("account_id", accountID).Warnf("quota check failed, continuing: %v", err)
		return nil
	}
	return err
}

func (b *Banklink) syncBalance(ctx context.Context, run *syncRun, acc model.Account) error {
	balances, err := b.aggregator.GetAccountBalances(ctx, acc.AccountID)
	if err != nil {
		return err
	}
	balance, ok := pickBalance(balances)
	if !ok {
		return nil
	}
	amount, err := decimal.NewFromString(balance.BalanceAmount.Amount)
	if err != nil {
		return fmt.Errorf("parsing balance %q: %w", balance.BalanceAmount.Amount, err)
	}
	if err := b.datasource.UpdateAccountBalance(ctx, acc.ID, amount); err != nil {
		return err
	}
	run.result.BalancesSynced++
	return nil
}

func pickBalance(balances []aggregator.Balance) (aggregator.Balance, bool) {
	for _, t := range preferredBalanceTypes {
		for _, bal := range balances {
			if bal.BalanceType == t {
				return bal, true
			}
		}
	}
	if len(balances) > 0 {
		return balances[0], true
	}
	return aggregator.Balance{}, false
}

func (b *Banklink) syncTransactions(ctx context.Context, run *syncRun, acc model.Account, days int, tag string) error {
	now := b.now()
	txns, err := b.aggregator.GetAccountTransactions(ctx, acc.AccountID, ptr.Time(now.AddDate(0, 0, -days)), ptr.Time(now))
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		return nil
	}

	records := make([]model.ImportRecord, 0, len(txns))
	for _, t := range txns {
		records = append(records, mapAggregatorTransaction(t, tag, now))
	}
	imported, err := b.ImportTransactions(ctx, acc.ID, records, syncImporter)
	if err != nil {
		return err
	}
	for _, rowErr := range imported.Errors {
		logrus.WithField("account_id", acc.ID).Warnf("skipped aggregator transaction: %v", rowErr)
	}
	run.result.TransactionsSynced += imported.Imported
	run.result.NewTransactionIDs = append(run.result.NewTransactionIDs, imported.ImportedIDs...)
	return nil
}

func (b *Banklink) enqueueAutoMatch(ctx context.Context, ids []string) {
	if b.tasks == nil || len(ids) == 0 {
		return
	}
	if err := b.tasks.EnqueueAutoMatch(ctx, ids); err != nil {
		logrus.Warnf("enqueueing auto-match for %d transactions: %v", len(ids), err)
	}
}

// mapAggregatorTransaction converts an aggregator entry into an import record.
func mapAggregatorTransaction(t aggregator.Transaction, tag string, syncedAt time.Time) model.ImportRecord {
	rec := model.ImportRecord{
		TransactionID: t.TransactionID,
		Date:          t.BookingDate,
		Amount:        json.Number(strings.TrimSpace(t.TransactionAmount.Amount)),
		Currency:      t.TransactionAmount.Currency,
		Status:        model.StatusConfirmed,
		Raw:           t.Raw,
	}
	if rec.TransactionID == "" {
		rec.TransactionID = firstNonEmpty(t.InternalTransactionID, t.EntryReference)
	}
	if rec.TransactionID == "" {
		rec.TransactionID = syntheticTransactionID(t)
	}
	if rec.Date == "" {
		rec.Date = t.ValueDate
	}
	if t.Pending || t.BookingDate == "" {
		rec.Status = model.StatusPending
	}

	switch {
	case t.RemittanceInformationUnstructured != "":
		rec.Description = t.RemittanceInformationUnstructured
	case len(t.RemittanceInformationUnstructuredArray) > 0:
		rec.Description = strings.Join(t.RemittanceInformationUnstructuredArray, " ")
	default:
		rec.Description = defaultDescription
	}

	rec.Reference = t.RemittanceInformationStructured
	if rec.Reference == "" && t.EndToEndID != "NOTPROVIDED" {
		rec.Reference = t.EndToEndID
	}

	// Money going out names the creditor, money coming in names the debtor.
	name, account := t.DebtorName, t.DebtorAccount
	if strings.HasPrefix(strings.TrimSpace(t.TransactionAmount.Amount), "-") {
		name, account = t.CreditorName, t.CreditorAccount
	}
	if name == "" && account == nil {
		name, account = firstNonEmpty(t.CreditorName, t.DebtorName), t.CreditorAccount
		if account == nil {
			account = t.DebtorAccount
		}
	}
	rec.CounterpartyName = name
	rec.CounterpartyAccount = account.Identifier()

	meta := map[string]interface{}{
		"source":     "gocardless",
		"sync_date":  syncedAt.Format(time.RFC3339),
		"sync_batch": tag,
	}
	setIfPresent(meta, "internal_transaction_id", t.InternalTransactionID)
	setIfPresent(meta, "bank_transaction_code", firstNonEmpty(t.BankTransactionCode, t.ProprietaryBankTransactionCode))
	setIfPresent(meta, "additional_information", t.AdditionalInformation)
	setIfPresent(meta, "end_to_end_id", t.EndToEndID)
	rec.MetaData = meta
	return rec
}

// syntheticTransactionID derives a stable id for entries the bank sent
// without any identifier, so re-syncing the same window stays idempotent.
func syntheticTransactionID(t aggregator.Transaction) string {
	payload := []byte(t.Raw)
	if len(payload) == 0 {
		payload = []byte(strings.Join([]string{
			t.BookingDate, t.ValueDate, t.TransactionAmount.Amount, t.TransactionAmount.Currency,
			t.CreditorName, t.DebtorName, t.RemittanceInformationUnstructured,
		}, "|"))
	}
	sum := sha256.Sum256(payload)
	return "GC_" + hex.EncodeToString(sum[:8])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func setIfPresent(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// SetupRequisition starts the consent flow for an institution and returns
// the requisition whose link the end user must visit.
func (b *Banklink) SetupRequisition(ctx context.Context, institutionID, reference string) (*aggregator.Requisition, error) {
	if err := b.aggregator.CheckCredentials(); err != nil {
		return nil, err
	}
	return b.aggregator.CreateRequisition(ctx, institutionID, reference)
}

// CompleteSetup registers the accounts of a linked requisition and runs
// their initial 90-day sync.
func (b *Banklink) CompleteSetup(ctx context.Context, requisitionID string) (*model.SetupResult, error) {
	ctx, span := otel.Tracer("banklink.sync").Start(ctx, "CompleteSetup")
	defer span.End()

	req, err := b.aggregator.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	if !req.IsLinked() {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest,
			fmt.Sprintf("Requisition %s is not linked (status %s)", requisitionID, req.Status), aggregator.ErrNotLinked)
	}

	setup := &model.SetupResult{Accounts: []model.Account{}}
	for _, externalID := range req.Accounts {
		acc, err := b.registerAccount(ctx, req, externalID)
		if err != nil {
			return nil, err
		}
		setup.Accounts = append(setup.Accounts, *acc)
	}

	var result *model.SyncResult
	err = b.withSyncLock(ctx, func(ctx context.Context) error {
		var err error
		result, err = b.syncAccountList(ctx, setup.Accounts, func(model.Account) (int, string) {
			return initialSyncDays, syncTagInitial
		})
		return err
	})
	if result != nil {
		setup.Sync = *result
	}
	if err != nil {
		return setup, err
	}
	return setup, nil
}

func (b *Banklink) registerAccount(ctx context.Context, req *aggregator.Requisition, externalID string) (*model.Account, error) {
	acc := &model.Account{
		ID:            model.GenerateUUIDWithSuffix("acc"),
		Name:          "Bank account " + lastN(externalID, 4),
		Type:          "checking",
		AccountID:     externalID,
		InstitutionID: req.InstitutionID,
		RequisitionID: req.ID,
		MetaData:      map[string]interface{}{"institution_id": req.InstitutionID},
		CreatedAt:     b.now(),
	}

	details, err := b.accountDetails(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if details != nil {
		if name := firstNonEmpty(details.Name, details.Product, details.OwnerName); name != "" {
			acc.Name = name
		}
		if details.CashAccountType != "" {
			acc.Type = strings.ToLower(details.CashAccountType)
		}
		acc.IBAN = details.IBAN
		setIfPresent(acc.MetaData, "owner_name", details.OwnerName)
		setIfPresent(acc.MetaData, "product", details.Product)
		if details.Currency != "" {
			if c, err := b.datasource.GetCurrencyByCode(ctx, details.Currency); err == nil {
				acc.CurrencyID = c.ID
			}
		}
	}

	if err := b.datasource.UpsertAccount(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// accountDetails is best effort: the account is registered without details
// when the endpoint is out of quota or rate limited.
func (b *Banklink) accountDetails(ctx context.Context, externalID string) (*aggregator.AccountDetails, error) {
	if err := b.acquireQuota(ctx, externalID, endpointDetails); err != nil {
		return nil, nil
	}
	details, err := b.aggregator.GetAccountDetails(ctx, externalID)
	if err == nil {
		return details, nil
	}
	if aggregator.IsRateLimited(err) {
		logrus.WithField("account_id", externalID).Warnf("account details unavailable: %v", err)
		return nil, nil
	}
	return nil, err
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// GetInstitutions lists the banks available in a country. The list changes
// rarely, so it is cached for a day.
func (b *Banklink) GetInstitutions(ctx context.Context, country string) ([]aggregator.Institution, error) {
	country = strings.ToUpper(strings.TrimSpace(country))
	if b.cache == nil {
		return b.aggregator.ListInstitutions(ctx, country)
	}
	var institutions []aggregator.Institution
	err := b.cache.GetOrLoad(ctx, "banklink:institutions:"+country, &institutions, institutionsTTL,
		func(ctx context.Context) (interface{}, error) {
			return b.aggregator.ListInstitutions(ctx, country)
		})
	return institutions, err
}

// GetAccountSyncStatus reports freshness and remaining aggregator budget
// for each active account.
func (b *Banklink) GetAccountSyncStatus(ctx context.Context) ([]model.AccountSyncStatus, error) {
	statuses, err := b.datasource.GetAccountSyncStatus(ctx)
	if err != nil {
		return nil, err
	}
	if b.quota == nil {
		return statuses, nil
	}
	for i := range statuses {
		usage, err := b.quota.Usage(ctx, statuses[i].ID, endpointBalances, endpointTransactions)
		if err != nil {
			logrus.WithField("account_id", statuses[i].ID).Warnf("reading quota usage: %v", err)
			continue
		}
		for _, u := range usage {
			statuses[i].Quota = append(statuses[i].Quota, model.EndpointQuota{
				Endpoint:   u.Endpoint,
				Used:       u.Used,
				Limit:      u.Limit,
				RetryAfter: u.RetryAfter,
				Status:     u.Status,
			})
		}
	}
	return statuses, nil
}
