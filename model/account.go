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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account mirrors a bank account reachable through the aggregator.
type Account struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Type          string                 `json:"type"`
	AccountID     string                 `json:"account_id"`
	InstitutionID string                 `json:"institution_id,omitempty"`
	RequisitionID string                 `json:"requisition_id,omitempty"`
	IBAN          string                 `json:"iban,omitempty"`
	CurrencyID    string                 `json:"currency_id,omitempty"`
	Balance       decimal.Decimal        `json:"balance"`
	IsActive      bool                   `json:"is_active"`
	LastSyncAt    *time.Time             `json:"last_sync_at,omitempty"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// AccountSyncStatus reports how current an account's data is.
type AccountSyncStatus struct {
	Account
	TransactionCount    int64           `json:"transactionCount"`
	LastTransactionDate *time.Time      `json:"lastTransactionDate,omitempty"`
	Quota               []EndpointQuota `json:"quota,omitempty"`
}

// EndpointQuota is the remaining aggregator budget for one account endpoint.
type EndpointQuota struct {
	Endpoint   string        `json:"endpoint"`
	Used       int64         `json:"used"`
	Limit      int64         `json:"limit"`
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
	Status     string        `json:"status"`
}
