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
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/banklink/banklink/model"
)

// maxAutoMatchIDs mirrors the largest batch auto-matching accepts.
const maxAutoMatchIDs = 1000

// maxSchedulerIntervalMs is the longest sync interval, 24 hours.
const maxSchedulerIntervalMs = int64(24 * time.Hour / time.Millisecond)

type LinkTransaction struct {
	ClientID string `json:"clientId"`
	Notes    string `json:"notes"`
}

func (l *LinkTransaction) ValidateLinkTransaction() error {
	return validation.Validate(l.ClientID, validation.Required.Error("clientId is required"))
}

// StartScheduler carries the sync interval in milliseconds. A missing or
// zero interval selects the twice-daily slots.
type StartScheduler struct {
	Interval *int64 `json:"interval"`
}

// ValidateStartScheduler bounds the interval before it is converted, so an
// oversized value cannot wrap into a valid duration.
func (s *StartScheduler) ValidateStartScheduler() error {
	if s.Interval == nil {
		return nil
	}
	switch {
	case *s.Interval < 0:
		return errors.New("Interval must be at least 5 minutes")
	case *s.Interval > maxSchedulerIntervalMs:
		return errors.New("Interval must be at most 24 hours")
	}
	return nil
}

func (s *StartScheduler) Duration() time.Duration {
	if s.Interval == nil {
		return 0
	}
	return time.Duration(*s.Interval) * time.Millisecond
}

type CreateRequisition struct {
	InstitutionID string `json:"institutionId"`
	Reference     string `json:"reference"`
}

func (r *CreateRequisition) ValidateCreateRequisition() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.InstitutionID, validation.Required.Error("institutionId is required")),
		validation.Field(&r.Reference, validation.Length(0, 256)),
	)
}

type ImportTransactions struct {
	Transactions []model.ImportRecord `json:"transactions"`
	ValidateOnly bool                 `json:"validateOnly"`
}

func (i *ImportTransactions) ValidateImportTransactions() error {
	if len(i.Transactions) == 0 {
		return errors.New("transactions must be a non-empty array")
	}
	return nil
}

type AutoMatch struct {
	TransactionIDs []string `json:"transactionIds"`
}

func (a *AutoMatch) ValidateAutoMatch() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.TransactionIDs, validation.Length(0, maxAutoMatchIDs), validation.Each(validation.Required)),
	)
}

// Pattern is the create and update body for matching patterns. Field-level
// rules are enforced by the service.
type Pattern struct {
	ClientID    string           `json:"clientId"`
	PatternType string           `json:"patternType"`
	Pattern     string           `json:"pattern"`
	Confidence  *float64         `json:"confidence"`
	AmountMin   *decimal.Decimal `json:"amountMin"`
	AmountMax   *decimal.Decimal `json:"amountMax"`
	DayOfMonth  *int             `json:"dayOfMonth"`
	Frequency   string           `json:"frequency"`
	IsActive    *bool            `json:"isActive"`
}

func (p *Pattern) ValidatePattern() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.PatternType, validation.Required.Error("patternType is required")),
	)
}

func (p *Pattern) ToPatternInput() *model.PatternInput {
	return &model.PatternInput{
		ClientID:    p.ClientID,
		PatternType: model.PatternType(p.PatternType),
		Pattern:     p.Pattern,
		Confidence:  p.Confidence,
		AmountMin:   p.AmountMin,
		AmountMax:   p.AmountMax,
		DayOfMonth:  p.DayOfMonth,
		Frequency:   p.Frequency,
		IsActive:    p.IsActive,
	}
}

// ParseDateParam accepts YYYY-MM-DD or RFC3339. An empty value yields nil.
func ParseDateParam(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, errors.New("dates must be formatted as YYYY-MM-DD")
}
