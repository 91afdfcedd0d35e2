package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	id := GenerateUUIDWithSuffix("link")
	assert.True(t, strings.HasPrefix(id, "link_"))
	assert.Len(t, id, len("link_")+36)
}

func TestClientTransactionLinkValidate(t *testing.T) {
	tests := []struct {
		name    string
		link    ClientTransactionLink
		wantErr error
	}{
		{"fuzzy in range", ClientTransactionLink{MatchType: MatchTypeFuzzy, MatchConfidence: 0.72}, nil},
		{"automatic at upper bound", ClientTransactionLink{MatchType: MatchTypeAutomatic, MatchConfidence: 1}, nil},
		{"negative confidence", ClientTransactionLink{MatchType: MatchTypePattern, MatchConfidence: -0.1}, ErrConfidenceOutOfRange},
		{"confidence above one", ClientTransactionLink{MatchType: MatchTypePattern, MatchConfidence: 1.01}, ErrConfidenceOutOfRange},
		{"manual below one", ClientTransactionLink{MatchType: MatchTypeManual, MatchConfidence: 0.9}, ErrInvalidManualLink},
		{"reference is not a link type", ClientTransactionLink{MatchType: MatchTypeReference, MatchConfidence: 0.95}, ErrInvalidMatchType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, tt.link.Validate())
		})
	}
}

func TestNewManualLink(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := NewManualLink("txn_1", "client_1", "ops@example.com", "", nil, now)
	assert.Equal(t, MatchTypeManual, first.MatchType)
	assert.Equal(t, 1.0, first.MatchConfidence)
	assert.False(t, first.IsManualOverride)
	assert.Nil(t, first.PreviousLinkID)
	assert.NoError(t, first.Validate())

	second := NewManualLink("txn_1", "client_2", "ops@example.com", "wrong client", first, now.Add(time.Hour))
	assert.True(t, second.IsManualOverride)
	assert.Equal(t, first.ID, *second.PreviousLinkID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMatchCandidateLinkMatchType(t *testing.T) {
	assert.Equal(t, MatchTypeAutomatic, MatchCandidate{MatchType: MatchTypeReference}.LinkMatchType())
	assert.Equal(t, MatchTypeFuzzy, MatchCandidate{MatchType: MatchTypeFuzzy}.LinkMatchType())
	assert.Equal(t, MatchTypePattern, MatchCandidate{MatchType: MatchTypePattern}.LinkMatchType())
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(120, 1, 50)
	assert.True(t, p.HasNext)
	assert.False(t, p.HasPrev)

	p = NewPagination(120, 3, 50)
	assert.False(t, p.HasNext)
	assert.True(t, p.HasPrev)
}

func TestRoundConfidence(t *testing.T) {
	assert.Equal(t, 0.73, RoundConfidence(0.7333))
	assert.Equal(t, 0.8, RoundConfidence(0.8))
}
