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

package banklink

import (
	"context"
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

func compilesAsRegex(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := regexp.Compile("(?i)" + s); err != nil {
		return errors.New("must be a valid regular expression")
	}
	return nil
}

func validatePattern(p *model.TransactionMatchingPattern) error {
	needsPattern := p.PatternType == model.PatternTypeReference || p.PatternType == model.PatternTypeDescription
	err := validation.ValidateStruct(p,
		validation.Field(&p.ClientID, validation.Required),
		validation.Field(&p.PatternType, validation.Required, validation.In(model.PatternTypes...)),
		validation.Field(&p.Pattern, validation.When(needsPattern, validation.Required), validation.By(compilesAsRegex)),
		validation.Field(&p.Confidence, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&p.DayOfMonth, validation.When(p.PatternType == model.PatternTypeRecurring, validation.Required), validation.Min(1), validation.Max(31)),
		validation.Field(&p.Frequency, validation.In(model.Frequencies...)),
	)
	if err != nil {
		return err
	}
	if p.PatternType == model.PatternTypeAmountRange {
		if p.AmountMin == nil && p.AmountMax == nil {
			return validation.Errors{"amount_min": errors.New("an amount range needs a minimum or a maximum")}
		}
		if p.AmountMin != nil && p.AmountMax != nil && p.AmountMin.GreaterThan(*p.AmountMax) {
			return validation.Errors{"amount_min": errors.New("must not be greater than amount_max")}
		}
	}
	return nil
}

// CreatePattern validates and stores a new pattern. Confidence defaults to
// DefaultPatternConfidence and the pattern starts active unless the input
// says otherwise.
func (b *Banklink) CreatePattern(ctx context.Context, in *model.PatternInput) (*model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("banklink.patterns").Start(ctx, "CreatePattern")
	defer span.End()

	p := &model.TransactionMatchingPattern{
		ClientID:    in.ClientID,
		PatternType: in.PatternType,
		Pattern:     in.Pattern,
		Confidence:  model.DefaultPatternConfidence,
		IsActive:    true,
		AmountMin:   in.AmountMin,
		AmountMax:   in.AmountMax,
		DayOfMonth:  in.DayOfMonth,
		Frequency:   in.Frequency,
	}
	if in.Confidence != nil {
		p.Confidence = *in.Confidence
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if err := validatePattern(p); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if _, err := b.datasource.GetClient(ctx, p.ClientID); err != nil {
		return nil, err
	}

	now := b.now()
	p.ID = model.GenerateUUIDWithSuffix("pat")
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := b.datasource.CreatePattern(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (b *Banklink) GetPattern(ctx context.Context, id string) (*model.TransactionMatchingPattern, error) {
	return b.datasource.GetPattern(ctx, id)
}

// UpdatePattern replaces the editable fields of a pattern. The owning client
// and the match statistics cannot be changed. Confidence and the active flag
// keep their stored values when not supplied.
func (b *Banklink) UpdatePattern(ctx context.Context, id string, update *model.PatternInput) (*model.TransactionMatchingPattern, error) {
	ctx, span := otel.Tracer("banklink.patterns").Start(ctx, "UpdatePattern")
	defer span.End()

	p, err := b.datasource.GetPattern(ctx, id)
	if err != nil {
		return nil, err
	}
	p.PatternType = update.PatternType
	p.Pattern = update.Pattern
	if update.Confidence != nil {
		p.Confidence = *update.Confidence
	}
	if update.IsActive != nil {
		p.IsActive = *update.IsActive
	}
	p.AmountMin = update.AmountMin
	p.AmountMax = update.AmountMax
	p.DayOfMonth = update.DayOfMonth
	p.Frequency = update.Frequency
	if err := validatePattern(p); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	p.UpdatedAt = b.now()
	if err := b.datasource.UpdatePattern(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePattern disables a pattern. The row is kept for audit.
func (b *Banklink) DeletePattern(ctx context.Context, id string) error {
	return b.datasource.DisablePattern(ctx, id)
}

// ListClientPatterns returns a client's active patterns, most used first.
func (b *Banklink) ListClientPatterns(ctx context.Context, clientID string) ([]model.TransactionMatchingPattern, error) {
	return b.datasource.GetClientPatterns(ctx, clientID)
}

func (b *Banklink) ListPatterns(ctx context.Context, includeInactive bool) ([]model.TransactionMatchingPattern, error) {
	return b.datasource.GetAllPatterns(ctx, includeInactive)
}
