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

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const linkColumns = `id, transaction_id, client_id, match_type, match_confidence, matched_by, matched_at,
	match_criteria, is_manual_override, previous_link_id, notes, created_at`

func scanLink(row scanner) (*model.ClientTransactionLink, error) {
	l := &model.ClientTransactionLink{}
	var (
		matchedBy, previous, notes sql.NullString
		criteria                   []byte
	)
	err := row.Scan(&l.ID, &l.TransactionID, &l.ClientID, &l.MatchType, &l.MatchConfidence, &matchedBy,
		&l.MatchedAt, &criteria, &l.IsManualOverride, &previous, &notes, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.MatchedBy = matchedBy.String
	l.Notes = notes.String
	if previous.Valid {
		l.PreviousLinkID = &previous.String
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &l.MatchCriteria); err != nil {
			return nil, errors.Wrap(err, "decoding match criteria")
		}
	}
	return l, nil
}

// RecordLink appends a link row. The row's invariants are checked before the
// insert; the database enforces that a link is superseded at most once and
// that a transaction has a single chain.
func (d Datasource) RecordLink(ctx context.Context, link *model.ClientTransactionLink) error {
	ctx, span := otel.Tracer("Link Repository").Start(ctx, "Recording Link")
	defer span.End()

	if err := link.Validate(); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	criteria, err := json.Marshal(link.MatchCriteria)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal match criteria", err)
	}
	var previous sql.NullString
	if link.PreviousLinkID != nil {
		previous = sql.NullString{String: *link.PreviousLinkID, Valid: true}
	}

	_, err = d.db().ExecContext(ctx, `
		INSERT INTO banklink.client_transaction_links (
			id, transaction_id, client_id, match_type, match_confidence, matched_by, matched_at,
			match_criteria, is_manual_override, previous_link_id, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		link.ID, link.TransactionID, link.ClientID, link.MatchType, link.MatchConfidence, nullString(link.MatchedBy),
		link.MatchedAt, criteria, link.IsManualOverride, previous, nullString(link.Notes), link.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Transaction '%s' was linked concurrently", link.TransactionID), err)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record link", err)
	}
	return nil
}

// GetCurrentLink returns the head of a transaction's link chain.
func (d Datasource) GetCurrentLink(ctx context.Context, transactionID string) (*model.ClientTransactionLink, error) {
	ctx, span := otel.Tracer("Link Repository").Start(ctx, "Getting Current Link")
	defer span.End()

	row := d.db().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM banklink.current_client_transaction_links WHERE transaction_id = $1`, linkColumns),
		transactionID)
	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction '%s' is not linked", transactionID), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve link", err)
	}
	return link, nil
}

// GetLinkHistory walks the chain from the current link back to the first one.
func (d Datasource) GetLinkHistory(ctx context.Context, transactionID string) ([]model.ClientTransactionLink, error) {
	ctx, span := otel.Tracer("Link Repository").Start(ctx, "Getting Link History")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`
		WITH RECURSIVE chain AS (
			SELECT %[1]s, 0 AS depth FROM banklink.current_client_transaction_links WHERE transaction_id = $1
			UNION ALL
			SELECT p.id, p.transaction_id, p.client_id, p.match_type, p.match_confidence, p.matched_by, p.matched_at,
				p.match_criteria, p.is_manual_override, p.previous_link_id, p.notes, p.created_at, c.depth + 1
			FROM banklink.client_transaction_links p JOIN chain c ON p.id = c.previous_link_id
		)
		SELECT %[1]s FROM chain ORDER BY depth`, linkColumns), transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve link history", err)
	}
	defer rows.Close()

	var history []model.ClientTransactionLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan link", err)
		}
		history = append(history, *link)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read link history", err)
	}
	return history, nil
}

// GetClientTransactionSummary aggregates the current links of a client.
func (d Datasource) GetClientTransactionSummary(ctx context.Context, clientID string) (*model.ClientTransactionSummary, error) {
	ctx, span := otel.Tracer("Link Repository").Start(ctx, "Getting Client Transaction Summary")
	defer span.End()

	summary := &model.ClientTransactionSummary{ClientID: clientID}
	var (
		total, average decimal.Decimal
		first, last    sql.NullTime
		currency       sql.NullString
	)
	err := d.db().QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(t.amount), 0), COALESCE(AVG(t.amount), 0),
			MIN(t.date), MAX(t.date),
			COUNT(*) FILTER (WHERE l.match_type = 'automatic'),
			COUNT(*) FILTER (WHERE l.match_type = 'manual'),
			COUNT(*) FILTER (WHERE l.match_type = 'pattern'),
			COUNT(*) FILTER (WHERE l.match_type = 'fuzzy'),
			COALESCE(AVG(l.match_confidence), 0),
			COUNT(*) FILTER (WHERE l.match_confidence < 0.7),
			COUNT(*) FILTER (WHERE l.match_confidence >= 0.9),
			MODE() WITHIN GROUP (ORDER BY c.code)
		FROM banklink.current_client_transaction_links l
		JOIN banklink.transactions t ON t.id = l.transaction_id
		LEFT JOIN banklink.currencies c ON c.id = t.currency_id
		WHERE l.client_id = $1`, clientID).Scan(
		&summary.TransactionCount, &total, &average, &first, &last,
		&summary.AutomaticMatches, &summary.ManualMatches, &summary.PatternMatches, &summary.FuzzyMatches,
		&summary.AverageConfidence, &summary.LowConfidenceMatches, &summary.HighConfidenceMatches, &currency,
	)
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to summarize client transactions", err)
	}

	summary.TotalAmount = total.StringFixed(2)
	summary.AverageAmount = average.StringFixed(2)
	summary.AverageConfidence = model.RoundConfidence(summary.AverageConfidence)
	summary.FirstTransactionDate = timePtr(first)
	summary.LastTransactionDate = timePtr(last)
	summary.Currency = currency.String
	if summary.Currency == "" {
		summary.Currency = "EUR"
	}
	return summary, nil
}
