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
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const accountColumns = `a.id, a.name, a.type, a.account_id, a.institution_id, a.requisition_id, a.iban,
	a.currency_id, a.balance, a.is_active, a.last_sync_at, a.metadata, a.created_at`

func scanAccount(row scanner, extra ...interface{}) (*model.Account, error) {
	acc := &model.Account{}
	var (
		externalID, institution, requisition, iban, currencyID sql.NullString
		lastSync                                               sql.NullTime
		metadata                                               []byte
	)
	dest := []interface{}{&acc.ID, &acc.Name, &acc.Type, &externalID, &institution, &requisition, &iban,
		&currencyID, &acc.Balance, &acc.IsActive, &lastSync, &metadata, &acc.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	acc.AccountID = externalID.String
	acc.InstitutionID = institution.String
	acc.RequisitionID = requisition.String
	acc.IBAN = iban.String
	acc.CurrencyID = currencyID.String
	acc.LastSyncAt = timePtr(lastSync)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &acc.MetaData); err != nil {
			return nil, errors.Wrap(err, "decoding account metadata")
		}
	}
	return acc, nil
}

func (d Datasource) queryAccounts(ctx context.Context, query string, args ...interface{}) ([]model.Account, error) {
	rows, err := d.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve accounts", err)
	}
	defer rows.Close()

	accounts := []model.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account", err)
		}
		accounts = append(accounts, *acc)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read accounts", err)
	}
	return accounts, nil
}

func (d Datasource) getAccount(ctx context.Context, column, value string) (*model.Account, error) {
	row := d.db().QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM banklink.accounts a WHERE a.%s = $1`, accountColumns, column), value)
	acc, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Account with ID '%s' not found", value), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account", err)
	}
	return acc, nil
}

func (d Datasource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Getting Account")
	defer span.End()
	return d.getAccount(ctx, "id", id)
}

// GetAccountByExternalID looks an account up by its aggregator account id.
func (d Datasource) GetAccountByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Getting Account By External ID")
	defer span.End()
	return d.getAccount(ctx, "account_id", externalID)
}

// GetActiveAccounts returns the active accounts reachable through the aggregator.
func (d Datasource) GetActiveAccounts(ctx context.Context) ([]model.Account, error) {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Getting Active Accounts")
	defer span.End()

	return d.queryAccounts(ctx, fmt.Sprintf(`SELECT %s FROM banklink.accounts a
		WHERE a.is_active AND a.account_id IS NOT NULL ORDER BY a.created_at, a.id`, accountColumns))
}

// UpsertAccount inserts an account or refreshes the one with the same
// aggregator account id. acc.ID and acc.CreatedAt are set to the stored values.
func (d Datasource) UpsertAccount(ctx context.Context, acc *model.Account) error {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Upserting Account")
	defer span.End()

	metadata, err := json.Marshal(acc.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal account metadata", err)
	}

	err = d.db().QueryRowContext(ctx, `
		INSERT INTO banklink.accounts (
			id, name, type, account_id, institution_id, requisition_id, iban, currency_id,
			balance, is_active, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $11, $11)
		ON CONFLICT (account_id) DO UPDATE SET
			name = EXCLUDED.name,
			institution_id = EXCLUDED.institution_id,
			requisition_id = EXCLUDED.requisition_id,
			iban = COALESCE(EXCLUDED.iban, banklink.accounts.iban),
			currency_id = COALESCE(EXCLUDED.currency_id, banklink.accounts.currency_id),
			metadata = EXCLUDED.metadata,
			is_active = true,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`,
		acc.ID, acc.Name, acc.Type, acc.AccountID, nullString(acc.InstitutionID), nullString(acc.RequisitionID),
		nullString(acc.IBAN), nullString(acc.CurrencyID), acc.Balance, metadata, acc.CreatedAt,
	).Scan(&acc.ID, &acc.CreatedAt)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save account", err)
	}
	acc.IsActive = true
	return nil
}

func (d Datasource) UpdateAccountBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Updating Account Balance")
	defer span.End()

	res, err := d.db().ExecContext(ctx, `UPDATE banklink.accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update account balance", err)
	}
	return expectAffected(res, fmt.Sprintf("Account with ID '%s' not found", id))
}

func (d Datasource) MarkAccountSynced(ctx context.Context, id string, at time.Time) error {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Marking Account Synced")
	defer span.End()

	_, err := d.db().ExecContext(ctx, `UPDATE banklink.accounts SET last_sync_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark account synced", err)
	}
	return nil
}

// GetAccountsNeedingSync returns active accounts that were never synced, were
// last synced before staleBefore, or hold no transactions yet.
func (d Datasource) GetAccountsNeedingSync(ctx context.Context, staleBefore time.Time) ([]model.Account, error) {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Getting Accounts Needing Sync")
	defer span.End()

	return d.queryAccounts(ctx, fmt.Sprintf(`SELECT %s FROM banklink.accounts a
		WHERE a.is_active AND a.account_id IS NOT NULL AND (
			a.last_sync_at IS NULL
			OR a.last_sync_at < $1
			OR NOT EXISTS (SELECT 1 FROM banklink.transactions t WHERE t.account_id = a.id)
		) ORDER BY a.created_at, a.id`, accountColumns), staleBefore)
}

// GetAccountSyncStatus reports per-account transaction counts and the latest
// transaction date for all active accounts.
func (d Datasource) GetAccountSyncStatus(ctx context.Context) ([]model.AccountSyncStatus, error) {
	ctx, span := otel.Tracer("Account Repository").Start(ctx, "Getting Account Sync Status")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(t.id), MAX(t.date)
		FROM banklink.accounts a
		LEFT JOIN banklink.transactions t ON t.account_id = a.id
		WHERE a.is_active
		GROUP BY a.id
		ORDER BY a.created_at, a.id`, accountColumns))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve account sync status", err)
	}
	defer rows.Close()

	statuses := []model.AccountSyncStatus{}
	for rows.Next() {
		var (
			count   int64
			lastTxn sql.NullTime
		)
		acc, err := scanAccount(rows, &count, &lastTxn)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan account sync status", err)
		}
		statuses = append(statuses, model.AccountSyncStatus{
			Account:             *acc,
			TransactionCount:    count,
			LastTransactionDate: timePtr(lastTxn),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read account sync status", err)
	}
	return statuses, nil
}
