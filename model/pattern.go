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

type PatternType string

const (
	PatternTypeReference   PatternType = "reference"
	PatternTypeDescription PatternType = "description"
	PatternTypeAmountRange PatternType = "amount_range"
	PatternTypeRecurring   PatternType = "recurring"
)

const (
	FrequencyDaily     = "daily"
	FrequencyWeekly    = "weekly"
	FrequencyMonthly   = "monthly"
	FrequencyQuarterly = "quarterly"
	FrequencyYearly    = "yearly"
)

// DefaultPatternConfidence is applied when a pattern is created without one.
const DefaultPatternConfidence = 0.8

// TransactionMatchingPattern is an operator-defined rule attributing matching
// transactions to a client. Inactive patterns are kept for audit only.
type TransactionMatchingPattern struct {
	ID            string           `json:"id"`
	ClientID      string           `json:"client_id"`
	PatternType   PatternType      `json:"pattern_type"`
	Pattern       string           `json:"pattern"`
	Confidence    float64          `json:"confidence"`
	IsActive      bool             `json:"is_active"`
	AmountMin     *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax     *decimal.Decimal `json:"amount_max,omitempty"`
	DayOfMonth    *int             `json:"day_of_month,omitempty"`
	Frequency     string           `json:"frequency,omitempty"`
	MatchCount    int64            `json:"match_count"`
	LastMatchedAt *time.Time       `json:"last_matched_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// PatternInput holds the operator-editable fields of a pattern. A nil
// Confidence or IsActive means the field was not supplied.
type PatternInput struct {
	ClientID    string
	PatternType PatternType
	Pattern     string
	Confidence  *float64
	AmountMin   *decimal.Decimal
	AmountMax   *decimal.Decimal
	DayOfMonth  *int
	Frequency   string
	IsActive    *bool
}

// PatternTypes lists the accepted pattern types.
var PatternTypes = []interface{}{
	PatternTypeReference, PatternTypeDescription, PatternTypeAmountRange, PatternTypeRecurring,
}

// Frequencies lists the accepted recurrence frequencies.
var Frequencies = []interface{}{
	FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly,
}
