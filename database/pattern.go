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
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const patternColumns = `id, client_id, pattern_type, pattern, confidence, is_active, amount_min, amount_max,
	day_of_month, frequency, match_count, last_matched_at, created_at, updated_at`

func scanPattern(row scanner) (*model.TransactionMatchingPattern, error) {
	p := &model.TransactionMatchingPattern{}
	var (
		amountMin, amountMax decimal.NullDecimal
		dayOfMonth           sql.NullInt64
		frequency            sql.NullString
		lastMatched          sql.NullTime
	)
	err := row.Scan(&p.ID, &p.ClientID, &p.PatternType, &p.Pattern, &p.Confidence, &p.IsActive,
		&amountMin, &amountMax, &dayOfMonth, &frequency, &p.MatchCount, &lastMatched, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if amountMin.Valid {
		p.AmountMin = &amountMin.Decimal
	}
	if amountMax.Valid {
		p.AmountMax = &amountMax.Decimal
	}
	if dayOfMonth.Valid {
		day := int(dayOfMonth.Int64)
		p.DayOfMonth = &day
	}
	p.Frequency = frequency.String
	p.LastMatchedAt = timePtr(lastMatched)
	return p, nil
}

func (d Datasource) queryPatterns(ctx context.Context, query string, args ...interface{}) ([]model.TransactionMatchingPattern, error) {
	rows, err := d.db().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve patterns", err)
	}
	defer rows.Close()

	patterns := []model.TransactionMatchingPattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pattern", err)
		}
		patterns = append(patterns, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read patterns", err)
	}
	return patterns, nil
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func (d Datasource) CreatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Creating Pattern")
	defer span.End()

	_, err := d.db().ExecContext(ctx, `
		INSERT INTO banklink.transaction_matching_patterns (
			id, client_id, pattern_type, pattern, confidence, is_active, amount_min, amount_max,
			day_of_month, frequency, match_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.ClientID, p.PatternType, p.Pattern, p.Confidence, p.IsActive, nullDecimal(p.AmountMin),
		nullDecimal(p.AmountMax), nullInt(p.DayOfMonth), nullString(p.Frequency), p.MatchCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create pattern", err)
	}
	return nil
}

func (d Datasource) GetPattern(ctx context.Context, id string) (*model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Getting Pattern")
	defer span.End()

	row := d.db().QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM banklink.transaction_matching_patterns WHERE id = $1`, patternColumns), id)
	p, err := scanPattern(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Pattern with ID '%s' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve pattern", err)
	}
	return p, nil
}

// UpdatePattern overwrites the editable fields of a pattern. Match
// statistics are owned by RecordPatternMatch and left untouched.
func (d Datasource) UpdatePattern(ctx context.Context, p *model.TransactionMatchingPattern) error {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Updating Pattern")
	defer span.End()

	res, err := d.db().ExecContext(ctx, `
		UPDATE banklink.transaction_matching_patterns
		SET pattern_type = $2, pattern = $3, confidence = $4, is_active = $5, amount_min = $6,
			amount_max = $7, day_of_month = $8, frequency = $9, updated_at = $10
		WHERE id = $1`,
		p.ID, p.PatternType, p.Pattern, p.Confidence, p.IsActive, nullDecimal(p.AmountMin),
		nullDecimal(p.AmountMax), nullInt(p.DayOfMonth), nullString(p.Frequency), p.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update pattern", err)
	}
	return expectAffected(res, fmt.Sprintf("Pattern with ID '%s' not found", p.ID))
}

// DisablePattern soft-deletes a pattern.
func (d Datasource) DisablePattern(ctx context.Context, id string) error {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Disabling Pattern")
	defer span.End()

	res, err := d.db().ExecContext(ctx,
		`UPDATE banklink.transaction_matching_patterns SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to disable pattern", err)
	}
	return expectAffected(res, fmt.Sprintf("Pattern with ID '%s' not found", id))
}

// GetActivePatterns returns active patterns, strongest first.
func (d Datasource) GetActivePatterns(ctx context.Context) ([]model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Getting Active Patterns")
	defer span.End()

	return d.queryPatterns(ctx, fmt.Sprintf(`SELECT %s FROM banklink.transaction_matching_patterns
		WHERE is_active ORDER BY confidence DESC, match_count DESC, created_at`, patternColumns))
}

func (d Datasource) GetClientPatterns(ctx context.Context, clientID string) ([]model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Getting Client Patterns")
	defer span.End()

	return d.queryPatterns(ctx, fmt.Sprintf(`SELECT %s FROM banklink.transaction_matching_patterns
		WHERE client_id = $1 AND is_active ORDER BY match_count DESC, created_at DESC`, patternColumns), clientID)
}

func (d Datasource) GetAllPatterns(ctx context.Context, includeInactive bool) ([]model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Getting All Patterns")
	defer span.End()

	return d.queryPatterns(ctx, fmt.Sprintf(`SELECT %s FROM banklink.transaction_matching_patterns
		WHERE (is_active OR $1) ORDER BY client_id, match_count DESC, created_at DESC`, patternColumns), includeInactive)
}

// RecordPatternMatch bumps a pattern's match statistics.
func (d Datasource) RecordPatternMatch(ctx context.Context, id string, at time.Time) error {
	ctx, span := otel.Tracer("Pattern Repository").Start(ctx, "Recording Pattern Match")
	defer span.End()

	_, err := d.db().ExecContext(ctx, `
		UPDATE banklink.transaction_matching_patterns
		SET match_count = match_count + 1, last_matched_at = $2
		WHERE id = $1`, id, at)
	if err != nil {
		span.RecordError(err)
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record pattern match", err)
	}
	return nil
}

func expectAffected(res sql.Result, notFound string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, notFound, nil)
	}
	return nil
}
