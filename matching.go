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
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/banklink/banklink/database"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

const (
	referenceConfidence    = 0.95
	fuzzyCandidateFloor    = 0.3
	autoCommitThreshold    = model.LowConfidenceThreshold
	maxReviewCandidates    = 5
	maxAutoMatchBatch      = 1000
	defaultAutoMatchWindow = 90 * 24 * time.Hour
	recurringDayTolerance  = 3

	autoMatcherName = "auto-match"
)

// compiledPattern is an active pattern with its regular expression ready.
type compiledPattern struct {
	model.TransactionMatchingPattern
	re *regexp.Regexp
}

// matches reports whether the pattern attributes txn to its client.
func (cp compiledPattern) matches(txn *model.Transaction) bool {
	if !cp.withinAmountBounds(txn.Amount) {
		return false
	}
	switch cp.PatternType {
	case model.PatternTypeAmountRange:
		return cp.AmountMin != nil || cp.AmountMax != nil
	case model.PatternTypeDescription:
		return cp.re != nil && cp.re.MatchString(txn.Description)
	case model.PatternTypeReference:
		return cp.re != nil && cp.re.MatchString(txn.Reference)
	case model.PatternTypeRecurring:
		if cp.DayOfMonth == nil || !nearDayOfMonth(txn.Date, *cp.DayOfMonth, recurringDayTolerance) {
			return false
		}
		return cp.re == nil || cp.re.MatchString(txn.Description)
	}
	return false
}

// withinAmountBounds compares the magnitude of amount with the optional bounds.
func (cp compiledPattern) withinAmountBounds(amount decimal.Decimal) bool {
	abs := amount.Abs()
	if cp.AmountMin != nil && abs.LessThan(*cp.AmountMin) {
		return false
	}
	if cp.AmountMax != nil && abs.GreaterThan(*cp.AmountMax) {
		return false
	}
	return true
}

// nearDayOfMonth reports whether date falls within tolerance days of the
// given day in its own month or a neighbouring one. Days past the end of a
// month clamp to its last day.
func nearDayOfMonth(date time.Time, day, tolerance int) bool {
	date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{-1, 0, 1} {
		first := time.Date(date.Year(), date.Month()+time.Month(offset), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1).Day()
		d := day
		if d > last {
			d = last
		}
		target := first.AddDate(0, 0, d-1)
		diff := date.Sub(target).Hours() / 24
		if diff < 0 {
			diff = -diff
		}
		if diff <= float64(tolerance) {
			return true
		}
	}
	return false
}

// matcher evaluates transactions against one snapshot of active patterns
// and the client directory.
type matcher struct {
	ds          database.IDataSource
	scorer      SimilarityScorer
	patterns    []compiledPattern
	clients     []model.Client
	clientNames map[string]string
}

func newMatcher(ctx context.Context, ds database.IDataSource, scorer SimilarityScorer) (*matcher, error) {
	patterns, err := ds.GetActivePatterns(ctx)
	if err != nil {
		return nil, err
	}
	m := &matcher{ds: ds, scorer: scorer}
	for _, p := range patterns {
		if !p.IsActive {
			continue
		}
		cp := compiledPattern{TransactionMatchingPattern: p}
		if p.Pattern != "" && p.PatternType != model.PatternTypeAmountRange {
			re, err := regexp.Compile("(?i)" + p.Pattern)
			if err != nil {
				logrus.WithField("pattern_id", p.ID).Warnf("skipping pattern with invalid expression: %v", err)
				continue
			}
			cp.re = re
		}
		m.patterns = append(m.patterns, cp)
	}
	return m, nil
}

func (m *matcher) loadClients(ctx context.Context) error {
	if m.clientNames != nil {
		return nil
	}
	clients, err := m.ds.GetAllClients(ctx)
	if err != nil {
		return err
	}
	m.clients = clients
	m.clientNames = make(map[string]string, len(clients))
	for _, c := range clients {
		m.clientNames[c.ID] = displayName(c)
	}
	return nil
}

func displayName(c model.Client) string {
	if c.BusinessName != "" {
		return c.BusinessName
	}
	return c.Name
}

// candidates runs the tiers in order and returns the first non-empty one,
// strongest candidate first.
func (m *matcher) candidates(ctx context.Context, txn *model.Transaction) ([]model.MatchCandidate, error) {
	tiers := []func(context.Context, *model.Transaction) ([]model.MatchCandidate, error){
		m.referenceCandidates,
		m.patternCandidates,
		m.fuzzyCandidates,
	}
	for _, tier := range tiers {
		found, err := tier(ctx, txn)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			sortCandidates(found)
			return found, nil
		}
	}
	return []model.MatchCandidate{}, nil
}

func sortCandidates(c []model.MatchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Confidence != c[j].Confidence {
			return c[i].Confidence > c[j].Confidence
		}
		return c[i].ClientID < c[j].ClientID
	})
}

func (m *matcher) referenceCandidates(ctx context.Context, txn *model.Transaction) ([]model.MatchCandidate, error) {
	seen := map[string]bool{}
	var found []model.MatchCandidate
	add := func(clients []model.Client, criteria map[string]interface{}, reason string) {
		for _, c := range clients {
			if seen[c.ID] {
				continue
			}
			seen[c.ID] = true
			found = append(found, model.MatchCandidate{
				ClientID:   c.ID,
				ClientName: displayName(c),
				Confidence: referenceConfidence,
				MatchType:  model.MatchTypeReference,
				Reason:     reason,
				Criteria:   criteria,
			})
		}
	}

	if txn.Reference != "" {
		clients, err := m.ds.FindClientsByReference(ctx, txn.Reference)
		if err != nil {
			return nil, err
		}
		add(clients, map[string]interface{}{"reference": txn.Reference}, "payment reference matches client")
	}
	if txn.CounterpartyAccount != "" {
		clients, err := m.ds.FindClientsByBankAccount(ctx, txn.CounterpartyAccount)
		if err != nil {
			return nil, err
		}
		add(clients, map[string]interface{}{"iban": txn.CounterpartyAccount}, "counterparty account matches client")
	}
	return found, nil
}

func (m *matcher) patternCandidates(ctx context.Context, txn *model.Transaction) ([]model.MatchCandidate, error) {
	best := map[string]model.MatchCandidate{}
	for _, p := range m.patterns {
		if !p.matches(txn) {
			continue
		}
		if current, ok := best[p.ClientID]; ok && current.Confidence >= p.Confidence {
			continue
		}
		best[p.ClientID] = model.MatchCandidate{
			ClientID:   p.ClientID,
			Confidence: p.Confidence,
			MatchType:  model.MatchTypePattern,
			Reason:     fmt.Sprintf("%s pattern matched", p.PatternType),
			PatternID:  p.ID,
			Criteria: map[string]interface{}{
				"pattern_id":   p.ID,
				"pattern_type": string(p.PatternType),
				"pattern":      p.Pattern,
			},
		}
	}
	if len(best) == 0 {
		return nil, nil
	}
	if err := m.loadClients(ctx); err != nil {
		return nil, err
	}
	found := make([]model.MatchCandidate, 0, len(best))
	for _, c := range best {
		c.ClientName = m.clientNames[c.ClientID]
		found = append(found, c)
	}
	return found, nil
}

func (m *matcher) fuzzyCandidates(ctx context.Context, txn *model.Transaction) ([]model.MatchCandidate, error) {
	if txn.CounterpartyName == "" {
		return nil, nil
	}
	if err := m.loadClients(ctx); err != nil {
		return nil, err
	}
	var found []model.MatchCandidate
	for _, c := range m.clients {
		score := m.scorer.Score(txn.CounterpartyName, c.Name)
		if c.BusinessName != "" {
			if s := m.scorer.Score(txn.CounterpartyName, c.BusinessName); s > score {
				score = s
			}
		}
		if score <= fuzzyCandidateFloor {
			continue
		}
		score = model.RoundConfidence(score)
		found = append(found, model.MatchCandidate{
			ClientID:   c.ID,
			ClientName: displayName(c),
			Confidence: score,
			MatchType:  model.MatchTypeFuzzy,
			Reason:     "counterparty name resembles client",
			Criteria: map[string]interface{}{
				"counterparty_name": txn.CounterpartyName,
				"similarity":        score,
				"scorer":            m.scorer.Name(),
			},
		})
	}
	return found, nil
}

func reviewList(c []model.MatchCandidate) []model.MatchCandidate {
	if len(c) > maxReviewCandidates {
		return c[:maxReviewCandidates]
	}
	return c
}

// FindPotentialMatches proposes clients for a transaction without writing
// anything.
func (b *Banklink) FindPotentialMatches(ctx context.Context, txn *model.Transaction) ([]model.MatchCandidate, error) {
	ctx, span := otel.Tracer("banklink.matching").Start(ctx, "FindPotentialMatches")
	defer span.End()

	m, err := newMatcher(ctx, b.datasource, b.scorer)
	if err != nil {
		return nil, err
	}
	found, err := m.candidates(ctx, txn)
	if err != nil {
		return nil, err
	}
	return reviewList(found), nil
}

// FindMatchesForTransaction loads a transaction and proposes clients for it.
func (b *Banklink) FindMatchesForTransaction(ctx context.Context, transactionID string) ([]model.MatchCandidate, error) {
	txn, err := b.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return b.FindPotentialMatches(ctx, txn)
}

// GetUnlinkedTransactions returns a page of confirmed transactions that have
// no link yet, each with its candidate clients.
func (b *Banklink) GetUnlinkedTransactions(ctx context.Context, page, limit int) (*model.UnlinkedTransactionPage, error) {
	ctx, span := otel.Tracer("banklink.matching").Start(ctx, "GetUnlinkedTransactions")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	txns, total, err := b.datasource.GetUnlinkedTransactions(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	m, err := newMatcher(ctx, b.datasource, b.scorer)
	if err != nil {
		return nil, err
	}

	result := &model.UnlinkedTransactionPage{
		Transactions: make([]model.UnlinkedTransaction, 0, len(txns)),
		Pagination:   model.NewPagination(total, page, limit),
	}
	for i := range txns {
		found, err := m.candidates(ctx, &txns[i])
		if err != nil {
			return nil, err
		}
		result.Transactions = append(result.Transactions, model.UnlinkedTransaction{
			Transaction:      txns[i],
			PotentialMatches: reviewList(found),
		})
	}
	return result, nil
}

// RunAutoMatching links transactions whose best candidate clears the
// auto-commit threshold. With no ids it considers unlinked transactions from
// the last 90 days. The batch runs in one database transaction.
func (b *Banklink) RunAutoMatching(ctx context.Context, transactionIDs []string) (*model.AutoMatchResult, error) {
	ctx, span := otel.Tracer("banklink.matching").Start(ctx, "RunAutoMatching")
	defer span.End()

	if len(transactionIDs) > maxAutoMatchBatch {
		logrus.Warnf("auto-match batch of %d truncated to %d", len(transactionIDs), maxAutoMatchBatch)
		transactionIDs = transactionIDs[:maxAutoMatchBatch]
	}
	explicit := len(transactionIDs) > 0

	result := &model.AutoMatchResult{Results: []model.AutoMatchOutcome{}}
	err := b.datasource.WithTransaction(ctx, func(tx database.IDataSource) error {
		var (
			txns []model.Transaction
			err  error
		)
		if explicit {
			txns, err = tx.GetTransactionsByIDs(ctx, transactionIDs)
		} else {
			txns, err = tx.GetUnlinkedTransactionsSince(ctx, b.now().Add(-defaultAutoMatchWindow), maxAutoMatchBatch)
		}
		if err != nil {
			return err
		}

		m, err := newMatcher(ctx, tx, b.scorer)
		if err != nil {
			return err
		}
		for i := range txns {
			outcome, err := b.autoMatchOne(ctx, tx, m, &txns[i], explicit)
			if err != nil {
				return err
			}
			result.Processed++
			if outcome.Linked {
				result.Matched++
			}
			result.Results = append(result.Results, outcome)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewPersistenceError("Auto-matching failed", err)
	}

	span.SetAttributes(attribute.Int("processed", result.Processed), attribute.Int("matched", result.Matched))
	logrus.WithFields(logrus.Fields{"processed": result.Processed, "matched": result.Matched}).Info("auto-matching finished")
	return result, nil
}

func (b *Banklink) autoMatchOne(ctx context.Context, tx database.IDataSource, m *matcher, txn *model.Transaction, checkLinked bool) (model.AutoMatchOutcome, error) {
	outcome := model.AutoMatchOutcome{TransactionID: txn.ID}
	if !txn.IsConfirmed() {
		outcome.Reason = "transaction is not confirmed"
		return outcome, nil
	}
	if checkLinked {
		_, err := tx.GetCurrentLink(ctx, txn.ID)
		if err == nil {
			outcome.Reason = "transaction is already linked"
			return outcome, nil
		}
		if !apierror.IsCode(err, apierror.ErrNotFound) {
			return outcome, err
		}
	}

	found, err := m.candidates(ctx, txn)
	if err != nil {
		return outcome, err
	}
	if len(found) == 0 {
		outcome.Reason = "no candidate clients"
		return outcome, nil
	}

	top := found[0]
	outcome.ClientID = top.ClientID
	outcome.MatchType = top.LinkMatchType()
	outcome.Confidence = top.Confidence
	if top.Confidence < autoCommitThreshold {
		outcome.Reason = "best candidate is below the auto-match threshold"
		return outcome, nil
	}

	now := b.now()
	criteria := map[string]interface{}{"reason": top.Reason, "tier": string(top.MatchType)}
	for k, v := range top.Criteria {
		criteria[k] = v
	}
	link := &model.ClientTransactionLink{
		ID:              model.GenerateUUIDWithSuffix("link"),
		TransactionID:   txn.ID,
		ClientID:        top.ClientID,
		MatchType:       top.LinkMatchType(),
		MatchConfidence: top.Confidence,
		MatchedBy:       autoMatcherName,
		MatchedAt:       now,
		MatchCriteria:   criteria,
		CreatedAt:       now,
	}
	if err := tx.RecordLink(ctx, link); err != nil {
		return outcome, err
	}
	if top.MatchType == model.MatchTypePattern {
		if err := tx.RecordPatternMatch(ctx, top.PatternID, now); err != nil {
			return outcome, err
		}
	}

	outcome.Linked = true
	outcome.LinkID = link.ID
	outcome.Reason = top.Reason
	return outcome, nil
}
