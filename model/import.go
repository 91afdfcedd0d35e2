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
	"fmt"
)

// ImportRecord is one raw transaction handed to ingestion, either from a file
// upload or mapped from an aggregator feed.
type ImportRecord struct {
	TransactionID       string                 `json:"transactionId,omitempty"`
	Date                string                 `json:"date"`
	Amount              json.Number            `json:"amount"`
	Currency            string                 `json:"currency,omitempty"`
	Type                string                 `json:"type,omitempty"`
	Description         string                 `json:"description,omitempty"`
	Reference           string                 `json:"reference,omitempty"`
	CounterpartyName    string                 `json:"counterpartyName,omitempty"`
	CounterpartyAccount string                 `json:"counterpartyAccount,omitempty"`
	Status              string                 `json:"status,omitempty"`
	MetaData            map[string]interface{} `json:"metadata,omitempty"`
	Raw                 json.RawMessage        `json:"-"`
}

// RowError reports a problem with one input row. Row is 1-indexed.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"error"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ImportResult summarizes an import call.
type ImportResult struct {
	Imported    int        `json:"imported"`
	Skipped     int        `json:"skipped"`
	Confirmed   int        `json:"confirmed"`
	Errors      []RowError `json:"errors"`
	Duplicates  []string   `json:"duplicates"`
	ImportedIDs []string   `json:"importedIds"`
}
