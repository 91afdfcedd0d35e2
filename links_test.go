package banklink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/banklink/banklink/database/mocks"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/model"
)

func TestLinkTransactionToClient_FirstLink(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)

	ds.On("GetTransaction", mock.Anything, "txn_1").Return(&model.Transaction{ID: "txn_1"}, nil)
	ds.On("GetClient", mock.Anything, "client_a").Return(&model.Client{ID: "client_a"}, nil)
	ds.On("GetCurrentLink", mock.Anything, "txn_1").Return(nil, notFound("Link not found"))
	ds.On("RecordLink", mock.Anything, mock.AnythingOfType("*model.ClientTransactionLink")).Return(nil)

	link, err := b.LinkTransactionToClient(context.Background(), "txn_1", "client_a", "jane@ops", "called the customer")
	require.NoError(t, err)
	assert.Equal(t, model.MatchTypeManual, link.MatchType)
	assert.Equal(t, 1.0, link.MatchConfidence)
	assert.False(t, link.IsManualOverride)
	assert.Nil(t, link.PreviousLinkID)
	assert.Equal(t, "jane@ops", link.MatchedBy)
	assert.Equal(t, testNow, link.CreatedAt)
}

func TestLinkTransactionToClient_OverrideChainsToPrevious(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)

	previous := &model.ClientTransactionLink{ID: "link_old", TransactionID: "txn_1", ClientID: "client_a", MatchType: model.MatchTypeFuzzy, MatchConfidence: 0.72}
	ds.On("GetTransaction", mock.Anything, "txn_1").Return(&model.Transaction{ID: "txn_1"}, nil)
	ds.On("GetClient", mock.Anything, "client_b").Return(&model.Client{ID: "client_b"}, nil)
	ds.On("GetCurrentLink", mock.Anything, "txn_1").Return(previous, nil)
	ds.On("RecordLink", mock.Anything, mock.AnythingOfType("*model.ClientTransactionLink")).Return(nil)

	link, err := b.LinkTransactionToClient(context.Background(), "txn_1", "client_b", "jane@ops", "")
	require.NoError(t, err)
	assert.True(t, link.IsManualOverride)
	require.NotNil(t, link.PreviousLinkID)
	assert.Equal(t, "link_old", *link.PreviousLinkID)
}

func TestLinkTransactionToClient_Errors(t *testing.T) {
	t.Run("unknown transaction stays not found", func(t *testing.T) {
		ds := new(mocks.MockDataSource)
		b := newTestBanklink(ds)
		ds.On("GetTransaction", mock.Anything, "ghost").Return(nil, notFound("Transaction not found"))

		_, err := b.LinkTransactionToClient(context.Background(), "ghost", "client_a", "ops", "")
		assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
	})

	t.Run("write failure becomes persistence error", func(t *testing.T) {
		ds := new(mocks.MockDataSource)
		b := newTestBanklink(ds)
		ds.On("GetTransaction", mock.Anything, "txn_1").Return(&model.Transaction{ID: "txn_1"}, nil)
		ds.On("GetClient", mock.Anything, "client_a").Return(&model.Client{ID: "client_a"}, nil)
		ds.On("GetCurrentLink", mock.Anything, "txn_1").Return(nil, notFound("Link not found"))
		ds.On("RecordLink", mock.Anything, mock.Anything).Return(errors.New("deadlock detected"))

		_, err := b.LinkTransactionToClient(context.Background(), "txn_1", "client_a", "ops", "")
		assert.True(t, apierror.IsCode(err, apierror.ErrPersistence))
	})
}

func TestGetLinkHistory(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	ds.On("GetTransaction", ctx, "txn_1").Return(&model.Transaction{ID: "txn_1"}, nil)
	ds.On("GetLinkHistory", ctx, "txn_1").Return(nil, nil)

	history, err := b.GetLinkHistory(ctx, "txn_1")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestGetClientTransactionSummary_UnknownClient(t *testing.T) {
	ds := new(mocks.MockDataSource)
	b := newTestBanklink(ds)
	ctx := context.Background()

	ds.On("GetClient", ctx, "ghost").Return(nil, notFound("Client not found"))

	_, err := b.GetClientTransactionSummary(ctx, "ghost")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
	ds.AssertNotCalled(t, "GetClientTransactionSummary", mock.Anything, mock.Anything)
}
