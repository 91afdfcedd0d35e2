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
)

// MatchType identifies how a link or candidate was produced.
type MatchType string

const (
	MatchTypeAutomatic MatchType = "automatic"
	MatchTypeManual    MatchType = "manual"
	MatchTypePattern   MatchType = "pattern"
	MatchTypeFuzzy     MatchType = "fuzzy"

	// MatchTypeReference only appears on candidates. A committed reference
	// match is stored as MatchTypeAutomatic.
	MatchTypeReference MatchType = "reference"
)

const (
	LowConfidenceThreshold  = 0.7
	HighConfidenceThreshold = 0.9
)

// ClientTransactionLink attributes a transaction to a client. Rows are never
// updated: a replacement is a new row whose PreviousLinkID points at the row
// it supersedes.
type ClientTransactionLink struct {
	ID               string                 `json:"id"`
	TransactionID    string                 `json:"transaction_id"`
	ClientID         string                 `json:"client_id"`
	MatchType        MatchType              `json:"match_type"`
	MatchConfidence  float64                `json:"match_confidence"`
	MatchedBy        string                 `json:"matched_by,omitempty"`
	MatchedAt        time.Time              `json:"matched_at"`
	MatchCriteria    map[string]interface{} `json:"match_criteria,omitempty"`
	IsManualOverride bool                   `json:"is_manual_override"`
	PreviousLinkID   *string                `json:"previous_link_id,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

var (
	ErrConfidenceOutOfRange = errors.New("match confidence must be between 0 and 1")
	ErrInvalidManualLink    = errors.New("manual links must have confidence 1.0")
	ErrInvalidMatchType     = errors.New("invalid match type")
)

// Validate checks the link invariants before it is persisted.
func (l *ClientTransactionLink) Validate() error {
	if l.MatchConfidence < 0 || l.MatchConfidence > 1 {
		return ErrConfidenceOutOfRange
	}
	switch l.MatchType {
	case MatchTypeAutomatic, MatchTypePattern, MatchTypeFuzzy:
	case MatchTypeManual:
		if l.MatchConfidence != 1.0 {
			return ErrInvalidManualLink
		}
	default:
		return ErrInvalidMatchType
	}
	return nil
}

// NewManualLink builds an operator link. previous is the link being replaced, if any.
func NewManualLink(transactionID, clientID, operator, notes string, previous *ClientTransactionLink, at time.Time) *ClientTransactionLink {
	link := &ClientTransactionLink{
		ID:              GenerateUUIDWithSuffix("link"),
		TransactionID:   transactionID,
		ClientID:        clientID,
		MatchType:       MatchTypeManual,
		MatchConfidence: 1.0,
		MatchedBy:       operator,
		MatchedAt:       at,
		MatchCriteria:   map[string]interface{}{"manual": true},
		Notes:           notes,
	}
	if previous != nil {
		link.PreviousLinkID = &previous.ID
		link.IsManualOverride = true
	}
	return link
}

// MatchCandidate is a proposed attribution produced by the matching engine.
type MatchCandidate struct {
	ClientID   string                 `json:"clientId"`
	ClientName string                 `json:"clientName,omitempty"`
	Confidence float64                `json:"confidence"`
	MatchType  MatchType              `json:"matchType"`
	Reason     string                 `json:"reason"`
	PatternID  string                 `json:"patternId,omitempty"`
	Criteria   map[string]interface{} `json:"criteria,omitempty"`
}

// LinkMatchType maps a candidate's tier to the match type stored on its link.
func (c MatchCandidate) LinkMatchType() MatchType {
	if c.MatchType == MatchTypeReference {
		return MatchTypeAutomatic
	}
	return c.MatchType
}

// AutoMatchOutcome records what auto-matching did with one transaction.
type AutoMatchOutcome struct {
	TransactionID string    `json:"transactionId"`
	ClientID      string    `json:"clientId,omitempty"`
	MatchType     MatchType `json:"matchType,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
	LinkID        string    `json:"linkId,omitempty"`
	Linked        bool      `json:"linked"`
	Reason        string    `json:"reason,omitempty"`
}

// AutoMatchResult summarizes an auto-matching run.
type AutoMatchResult struct {
	Processed int                `json:"processed"`
	Matched   int                `json:"matched"`
	Results   []AutoMatchOutcome `json:"results"`
}

// ClientTransactionSummary aggregates a client's current links for reporting.
type ClientTransactionSummary struct {
	ClientID              string     `json:"clientId"`
	TransactionCount      int64      `json:"transactionCount"`
	TotalAmount           string     `json:"totalAmount"`
	AverageAmount         string     `json:"averageAmount"`
	Currency              string     `json:"currency"`
	FirstTransactionDate  *time.Time `json:"firstTransactionDate,omitempty"`
	LastTransactionDate   *time.Time `json:"lastTransactionDate,omitempty"`
	AutomaticMatches      int64      `json:"automaticMatches"`
	ManualMatches         int64      `json:"manualMatches"`
	PatternMatches        int64      `json:"patternMatches"`
	FuzzyMatches          int64      `json:"fuzzyMatches"`
	AverageConfidence     float64    `json:"averageConfidence"`
	LowConfidenceMatches  int64      `json:"lowConfidenceMatches"`
	HighConfidenceMatches int64      `json:"highConfidenceMatches"`
}
