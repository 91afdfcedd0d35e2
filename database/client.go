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

const clientColumns = `id, name, COALESCE(business_name, ''),
	COALESCE(custom_fields->>'payment_reference', custom_fields->>'reference', ''),
	COALESCE(bank_account, '')`

func scanClients(rows *sql.Rows) ([]model.Client, error) {
	defer rows.Close()
	clients := []model.Client{}
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.BusinessName, &c.PaymentReference, &c.BankAccount); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan client", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read clients", err)
	}
	return clients, nil
}

func (d Datasource) GetClient(ctx context.Context, id string) (*model.Client, error) {
	ctx, span := otel.Tracer("Client Repository").Start(ctx, "Getting Client")
	defer span.End()

	c := &model.Client{}
	err := d.db().QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM banklink.clients WHERE id = $1`, clientColumns), id).
		Scan(&c.ID, &c.Name, &c.BusinessName, &c.PaymentReference, &c.BankAccount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Client with ID '%s' not found", id), nil)
		}
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve client", err)
	}
	return c, nil
}

// FindClientsByReference returns active clients whose payment reference or
// bank account equals reference, ignoring case and spaces.
func (d Datasource) FindClientsByReference(ctx context.Context, reference string) ([]model.Client, error) {
	ctx, span := otel.Tracer("Client Repository").Start(ctx, "Finding Clients By Reference")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM banklink.clients
		WHERE is_active AND (
			UPPER(REPLACE(custom_fields->>'reference', ' ', '')) = $1
			OR UPPER(REPLACE(custom_fields->>'payment_reference', ' ', '')) = $1
			OR UPPER(REPLACE(bank_account, ' ', '')) = $1
		) ORDER BY name, id`, clientColumns), NormalizeIdentifier(reference))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to find clients by reference", err)
	}
	return scanClients(rows)
}

// FindClientsByBankAccount returns active clients registered with the given
// account number or IBAN.
func (d Datasource) FindClientsByBankAccount(ctx context.Context, account string) ([]model.Client, error) {
	ctx, span := otel.Tracer("Client Repository").Start(ctx, "Finding Clients By Bank Account")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM banklink.clients
		WHERE is_active AND UPPER(REPLACE(bank_account, ' ', '')) = $1
		ORDER BY name, id`, clientColumns), NormalizeIdentifier(account))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to find clients by bank account", err)
	}
	return scanClients(rows)
}

func (d Datasource) GetAllClients(ctx context.Context) ([]model.Client, error) {
	ctx, span := otel.Tracer("Client Repository").Start(ctx, "Getting All Clients")
	defer span.End()

	rows, err := d.db().QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM banklink.clients WHERE is_active ORDER BY name, id`, clientColumns))
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve clients", err)
	}
	return scanClients(rows)
}

// NormalizeIdentifier upper-cases an IBAN or reference and strips spaces.
func NormalizeIdentifier(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
}
