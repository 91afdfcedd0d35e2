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
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

func (d Datasource) GetCurrencyByCode(ctx context.Context, code string) (*model.Currency, error) {
	ctx, span := otel.Tracer("Currency Repository").Start(ctx, "Getting Currency By Code")
	defer span.End()

	c := &model.Currency{}
	err := d.db().QueryRowContext(ctx, `SELECT id, code FROM banklink.currencies WHERE code = $1`, strings.ToUpper(code)).
		Scan(&c.ID, &c.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Currency '%s' not found", code), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve currency", err)
	}
	return c, nil
}

func (d Datasource) GetCurrencyByID(ctx context.Context, id string) (*model.Currency, error) {
	ctx, span := otel.Tracer("Currency Repository").Start(ctx, "Getting Currency By ID")
	defer span.End()

	c := &model.Currency{}
	err := d.db().QueryRowContext(ctx, `SELECT id, code FROM banklink.currencies WHERE id = $1`, id).
		Scan(&c.ID, &c.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Currency with ID '%s' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve currency", err)
	}
	return c, nil
}
