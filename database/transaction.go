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

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const uniqueViolation = "23505"

const transactionColumns = `t.id, t.transaction_id, t.account_id, t.amount, t.currency_id, COALESCE(c.code, ''),
	t.type, t.description, t.reference, t.counterparty_name, t.counterparty_account,
	t.date, t.status, t.metadata, t.aggregator_data, t.created_at`

const transactionSource = `banklink.transactions t LEFT JOIN banklink.currencies c ON c.id = t.currency_id`

// unlinkedCondition selects confirmed transactions with no link row at all.
const unlinkedCondition = `t.status = 'confirmed' AND NOT EXISTS (
	SELECT 1 FROM banklink.client_transaction_links l WHERE l.transaction_id = t.id)`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var (
		currencyID, description, reference, cpName, cpAccount sql.NullString
		metadata, aggregatorData                              []byte
	)
	err := row.Scan(
		&txn.ID, &txn.TransactionID, &txn.AccountID, &txn.Amount, &currencyID, &txn.CurrencyCode,
		&txn.Type, &description, &reference, &cpName, &cpAccount,
		&txn.Date, &txn.Status, &metadata, &aggregatorData, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	txn.CurrencyID = currencyID.String
	txn.Description = description.String
	txn.Reference = reference.String
	txn.CounterpartyName = cpName.String
	txn.CounterpartyAccount = cpAccount.String
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.MetaData); err != nil {
			return nil, errors.Wrap(err, "decoding transaction metadata")
		}
	}
	if len(aggregatorData) > 0 {
		txn.AggregatorData = json.RawMessage(aggregatorData)
	}
	return txn, nil
}

func scanTransactions(rows *sql.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	var txns []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read transactions", err)
	}
	return txns, nil
}

// RecordTransaction inserts a transaction. A transaction id that already
// exists yields an ErrConflict error.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Recording Transaction")
	defer span.End()

	metadata, err := json.Marshal(txn.MetaData)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal transaction metadata", err)
	}
	var aggregatorData interface{}
	if len(txn.AggregatorData) > 0 {
		aggregatorData = []byte(txn.AggregatorData)
	}

	_, err = d.db().ExecContext(ctx, `
		INSERT INTO banklink.transactions (
			id, transaction_id, account_id, amount, currency_id, type, description, reference,
			counterparty_name, counterparty_account, date, status, metadata, aggregator_data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID, txn.TransactionID, txn.AccountID, txn.Amount, nullString(txn.CurrencyID), txn.Type,
		nullString(txn.Description), nullString(txn.Reference), nullString(txn.CounterpartyName),
		nullString(txn.CounterpartyAccount), txn.Date, txn.Status, metadata, aggregatorData, txn.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' already exists", txn.TransactionID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}
	return nil
}

func (d Datasource) getTransaction(ctx context.Context, column, value string) (*model.Transaction, error) {
	row := d.db().QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE t.%s = $1`, transactionColumns, transactionSource, column), value)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with ID '%s' not found", value), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transaction", err)
	}
	return txn, nil
}

func (d Datasource) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Transaction")
	defer span.End()
	return d.getTransaction(ctx, "id", id)
}

// GetTransactionByExternalID looks a transaction up by its external id.
func (d Datasource) GetTransactionByExternalID(ctx context.Context, transactionID string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Transaction By External ID")
	defer span.End()
	return d.getTransaction(ctx, "transaction_id", transactionID)
}

// UpdateTransactionStatus moves a pending transaction to status. Confirmed
// transactions are never moved back.
func (d Datasource) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Updating Transaction Status")
	defer span.End()

	res, err := d.db().ExecContext(ctx, `UPDATE banklink.transactions SET status = $2 WHERE id = $1 AND status = 'pending'`, id, status)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update transaction status", err)
	}
	return expectAffected(res, fmt.Sprintf("Pending transaction with ID '%s' not found", id))
}

func (d Datasource) GetTransactionsByIDs(ctx context.Context, ids []string) ([]model.Transaction, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Transactions By IDs")
	defer span.End()

	rows, err := d.db().QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE t.id = ANY($1) ORDER BY t.date DESC, t.id`, transactionColumns, transactionSource),
		pq.Array(ids))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	return scanTransactions(rows)
}

// GetUnlinkedTransactions returns one page of confirmed, unlinked
// transactions, newest first, along with the total count.
func (d Datasource) GetUnlinkedTransactions(ctx context.Context, limit, offset int) ([]model.Transaction, int64, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Unlinked Transactions")
	defer span.End()

	var total int64
	err := d.db().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM banklink.transactions t WHERE %s`, unlinkedCondition)).Scan(&total)
	if err != nil {
		span.RecordError(err)
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count unlinked transactions", err)
	}

	rows, err := d.db().QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY t.date DESC, t.id LIMIT $1 OFFSET $2`,
			transactionColumns, transactionSource, unlinkedCondition),
		limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unlinked transactions", err)
	}
	txns, err := scanTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// GetUnlinkedTransactionsSince returns confirmed, unlinked transactions dated
// on or after since, newest first.
func (d Datasource) GetUnlinkedTransactionsSince(ctx context.Context, since time.Time, limit int) ([]model.Transaction, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Recent Unlinked Transactions")
	defer span.End()

	rows, err := d.db().QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE %s AND t.date >= $1 ORDER BY t.date DESC, t.id LIMIT $2`,
			transactionColumns, transactionSource, unlinkedCondition),
		since, limit)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve unlinked transactions", err)
	}
	return scanTransactions(rows)
}

// GetClientTransactions returns the transactions currently attributed to a
// client, optionally bounded by date.
func (d Datasource) GetClientTransactions(ctx context.Context, clientID string, from, to *time.Time) ([]model.Transaction, error) {
	ctx, span := otel.Tracer("Transaction Repository").Start(ctx, "Getting Client Transactions")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		JOIN banklink.current_client_transaction_links l ON l.transaction_id = t.id
		WHERE l.client_id = $1
		AND ($2::timestamptz IS NULL OR t.date >= $2)
		AND ($3::timestamptz IS NULL OR t.date <= $3)
		ORDER BY t.date DESC, t.id`, transactionColumns, transactionSource),
		clientID, nullTime(from), nullTime(to))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve client transactions", err)
	}
	return scanTransactions(rows)
}
