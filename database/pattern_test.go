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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wacul/ptr"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

var patternRowColumns = []string{
	"id", "client_id", "pattern_type", "pattern", "confidence", "is_active", "amount_min", "amount_max",
	"day_of_month", "frequency", "match_count", "last_matched_at", "created_at", "updated_at",
}

func TestCreatePattern(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	min := decimal.NewFromInt(100)
	p := &model.TransactionMatchingPattern{
		ID:          "pat_1",
		ClientID:    "client_1",
		PatternType: model.PatternTypeRecurring,
		Pattern:     "rent",
		Confidence:  0.8,
		IsActive:    true,
		AmountMin:   &min,
		DayOfMonth:  ptr.Int(1),
		Frequency:   model.FrequencyMonthly,
		CreatedAt:   fixedTime,
		UpdatedAt:   fixedTime,
	}

	mock.ExpectExec("INSERT INTO banklink.transaction_matching_patterns").
		WithArgs("pat_1", "client_1", "recurring", "rent", 0.8, true, "100", nil, int64(1), "monthly",
			int64(0), fixedTime, fixedTime).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, ds.CreatePattern(context.Background(), p))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPattern_NullableColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("FROM banklink.transaction_matching_patterns WHERE id").
		WithArgs("pat_1").
		WillReturnRows(sqlmock.NewRows(patternRowColumns).AddRow(
			"pat_1", "client_1", "amount_range", "", 0.75, true, "10.00", "20.00", nil, nil, int64(4), fixedTime, fixedTime, fixedTime))

	p, err := ds.GetPattern(context.Background(), "pat_1")
	require.NoError(t, err)
	require.NotNil(t, p.AmountMin)
	assert.True(t, decimal.NewFromInt(10).Equal(*p.AmountMin))
	assert.True(t, decimal.NewFromInt(20).Equal(*p.AmountMax))
	assert.Nil(t, p.DayOfMonth)
	assert.Empty(t, p.Frequency)
	assert.Equal(t, int64(4), p.MatchCount)
	assert.NotNil(t, p.LastMatchedAt)
}

func TestDisablePattern_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE banklink.transaction_matching_patterns SET is_active = false").
		WithArgs("pat_x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.DisablePattern(context.Background(), "pat_x")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestGetClientPatterns_OrderedByUsage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("WHERE client_id = (.+) AND is_active ORDER BY match_count DESC, created_at DESC").
		WithArgs("client_1").
		WillReturnRows(sqlmock.NewRows(patternRowColumns).
			AddRow("pat_2", "client_1", "description", "acme", 0.8, true, nil, nil, nil, nil, int64(9), nil, fixedTime, fixedTime).
			AddRow("pat_1", "client_1", "reference", "INV", 0.8, true, nil, nil, nil, nil, int64(2), nil, fixedTime, fixedTime))

	patterns, err := ds.GetClientPatterns(context.Background(), "client_1")
	require.NoError(t, err)
	require.Len(t, patterns, 2)
	assert.Equal(t, "pat_2", patterns[0].ID)
	assert.Nil(t, patterns[0].LastMatchedAt)
}

func TestRecordPatternMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("SET match_count = match_count \\+ 1").
		WithArgs("pat_1", fixedTime).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, ds.RecordPatternMatch(context.Background(), "pat_1", fixedTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}
