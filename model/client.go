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

// Client is a read-only entry of the client directory.
type Client struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	BusinessName     string `json:"business_name,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	BankAccount      string `json:"bank_account,omitempty"`
}

// Currency is a read-only currency record.
type Currency struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}
