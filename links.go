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
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/banklink/banklink/database"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

// LinkTransactionToClient records an operator's attribution of a transaction.
// An existing link is superseded, never changed.
func (b *Banklink) LinkTransactionToClient(ctx context.Context, transactionID, clientID, operator, notes string) (*model.ClientTransactionLink, error) {
	ctx, span := otel.Tracer("banklink.links").Start(ctx, "LinkTransactionToClient")
	defer span.End()

	var link *model.ClientTransactionLink
	err := b.datasource.WithTransaction(ctx, func(tx database.IDataSource) error {
		if _, err := tx.GetTransaction(ctx, transactionID); err != nil {
			return err
		}
		if _, err := tx.GetClient(ctx, clientID); err != nil {
			return err
		}

		previous, err := tx.GetCurrentLink(ctx, transactionID)
		if err != nil && !apierror.IsCode(err, apierror.ErrNotFound) {
			return err
		}

		now := b.now()
		link = model.NewManualLink(transactionID, clientID, operator, notes, previous, now)
		link.CreatedAt = now
		return tx.RecordLink(ctx, link)
	})
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewPersistenceError("Failed to link transaction", err)
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": transactionID,
		"client_id":      clientID,
		"override":       link.IsManualOverride,
	}).Info("transaction linked manually")
	return link, nil
}

// GetTransactionLink returns the current link of a transaction.
func (b *Banklink) GetTransactionLink(ctx context.Context, transactionID string) (*model.ClientTransactionLink, error) {
	return b.datasource.GetCurrentLink(ctx, transactionID)
}

// GetLinkHistory returns every link of a transaction, newest first.
func (b *Banklink) GetLinkHistory(ctx context.Context, transactionID string) ([]model.ClientTransactionLink, error) {
	if _, err := b.datasource.GetTransaction(ctx, transactionID); err != nil {
		return nil, err
	}
	history, err := b.datasource.GetLinkHistory(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []model.ClientTransactionLink{}
	}
	return history, nil
}

func (b *Banklink) GetClientTransactions(ctx context.Context, clientID string, from, to *time.Time) ([]model.Transaction, error) {
	if _, err := b.datasource.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	txns, err := b.datasource.GetClientTransactions(ctx, clientID, from, to)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	return txns, nil
}

func (b *Banklink) GetClientTransactionSummary(ctx context.Context, clientID string) (*model.ClientTransactionSummary, error) {
	if _, err := b.datasource.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return b.datasource.GetClientTransactionSummary(ctx, clientID)
}
