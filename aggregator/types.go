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

package aggregator

import "encoding/json"

// RequisitionStatusLinked is the status of a requisition whose consent
// flow completed and whose accounts can be read.
const RequisitionStatusLinked = "LN"

type tokenResponse struct {
	Access         string `json:"access"`
	AccessExpires  int    `json:"access_expires"`
	Refresh        string `json:"refresh"`
	RefreshExpires int    `json:"refresh_expires"`
}

type Institution struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	BIC                  string   `json:"bic,omitempty"`
	TransactionTotalDays string   `json:"transaction_total_days,omitempty"`
	Countries            []string `json:"countries,omitempty"`
	Logo                 string   `json:"logo,omitempty"`
}

type Requisition struct {
	ID            string   `json:"id"`
	InstitutionID string   `json:"institution_id"`
	Status        string   `json:"status"`
	Redirect      string   `json:"redirect"`
	Accounts      []string `json:"accounts"`
	Reference     string   `json:"reference"`
	Agreement     string   `json:"agreement,omitempty"`
	Link          string   `json:"link"`
}

// IsLinked reports whether the end user finished the consent flow.
func (r *Requisition) IsLinked() bool {
	return r.Status == RequisitionStatusLinked
}

type AccountDetails struct {
	ResourceID      string `json:"resourceId,omitempty"`
	IBAN            string `json:"iban,omitempty"`
	Currency        string `json:"currency,omitempty"`
	OwnerName       string `json:"ownerName,omitempty"`
	Name            string `json:"name,omitempty"`
	Product         string `json:"product,omitempty"`
	CashAccountType string `json:"cashAccountType,omitempty"`
}

type Amount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type Balance struct {
	BalanceAmount      Amount `json:"balanceAmount"`
	BalanceType        string `json:"balanceType"`
	ReferenceDate      string `json:"referenceDate,omitempty"`
	LastChangeDateTime string `json:"lastChangeDateTime,omitempty"`
}

type AccountReference struct {
	IBAN string `json:"iban,omitempty"`
	BBAN string `json:"bban,omitempty"`
}

// Identifier returns the IBAN, falling back to the BBAN.
func (a *AccountReference) Identifier() string {
	if a == nil {
		return ""
	}
	if a.IBAN != "" {
		return a.IBAN
	}
	return a.BBAN
}

// Transaction is one entry of an account's booked or pending list.
type Transaction struct {
	TransactionID                          string            `json:"transactionId,omitempty"`
	InternalTransactionID                  string            `json:"internalTransactionId,omitempty"`
	EntryReference                         string            `json:"entryReference,omitempty"`
	EndToEndID                             string            `json:"endToEndId,omitempty"`
	MandateID                              string            `json:"mandateId,omitempty"`
	BookingDate                            string            `json:"bookingDate,omitempty"`
	ValueDate                              string            `json:"valueDate,omitempty"`
	TransactionAmount                      Amount            `json:"transactionAmount"`
	CreditorName                           string            `json:"creditorName,omitempty"`
	CreditorAccount                        *AccountReference `json:"creditorAccount,omitempty"`
	DebtorName                             string            `json:"debtorName,omitempty"`
	DebtorAccount                          *AccountReference `json:"debtorAccount,omitempty"`
	RemittanceInformationUnstructured      string            `json:"remittanceInformationUnstructured,omitempty"`
	RemittanceInformationUnstructuredArray []string          `json:"remittanceInformationUnstructuredArray,omitempty"`
	RemittanceInformationStructured        string            `json:"remittanceInformationStructured,omitempty"`
	BankTransactionCode                    string            `json:"bankTransactionCode,omitempty"`
	ProprietaryBankTransactionCode         string            `json:"proprietaryBankTransactionCode,omitempty"`
	AdditionalInformation                  string            `json:"additionalInformation,omitempty"`

	// Pending is set for entries of the pending list.
	Pending bool `json:"-"`
	// Raw is the entry exactly as the aggregator returned it.
	Raw json.RawMessage `json:"-"`
}

type transactionsResponse struct {
	Transactions struct {
		Booked  []json.RawMessage `json:"booked"`
		Pending []json.RawMessage `json:"pending"`
	} `json:"transactions"`
}

type errorResponse struct {
	Summary    string `json:"summary"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
}
