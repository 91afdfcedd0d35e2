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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"

	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

// Transaction is a bank-feed entry. TransactionID is the external identifier
// used for deduplication; ID is the internal primary key.
type Transaction struct {
	ID                  string                 `json:"id"`
	TransactionID       string                 `json:"transaction_id"`
	AccountID           string                 `json:"account_id"`
	Amount              decimal.Decimal        `json:"amount"`
	CurrencyID          string                 `json:"currency_id"`
	CurrencyCode        string                 `json:"currency_code,omitempty"`
	Type                string                 `json:"type"`
	Description         string                 `json:"description"`
	Reference           string                 `json:"reference,omitempty"`
	CounterpartyName    string                 `json:"counterparty_name,omitempty"`
	CounterpartyAccount string                 `json:"counterparty_account,omitempty"`
	Date                time.Time              `json:"date"`
	Status              string                 `json:"status"`
	MetaData            map[string]interface{} `json:"meta_data,omitempty"`
	AggregatorData      json.RawMessage        `json:"aggregator_data,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
}

// TypeForAmount derives the credit/debit type from the sign of the amount.
func TypeForAmount(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return TransactionTypeDebit
	}
	return TransactionTypeCredit
}

// IsConfirmed reports whether the transaction has been booked.
func (t *Transaction) IsConfirmed() bool {
	return t.Status == StatusConfirmed
}

// UnlinkedTransaction is a transaction awaiting attribution along with the
// candidates the matching engine proposes for it.
type UnlinkedTransaction struct {
	Transaction
	PotentialMatches []MatchCandidate `json:"potentialMatches"`
}

// UnlinkedTransactionPage is one page of unlinked transactions.
type UnlinkedTransactionPage struct {
	Transactions []UnlinkedTransaction `json:"transactions"`
	Pagination   Pagination            `json:"pagination"`
}
