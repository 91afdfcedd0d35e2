package banklink

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/database/mocks"
	"github.com/banklink/banklink/internal/apierror"
	"github.com/banklink/banklink/internal/clock"
	"github.com/banklink/banklink/internal/quota"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestBanklink(ds *mocks.MockDataSource) *Banklink {
	return &Banklink{
		datasource: ds,
		scorer:     TrigramScorer{},
		clock:      clock.NewFake(testNow),
	}
}

func notFound(msg string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, msg, nil)
}

type mockAggregator struct {
	mock.Mock
}

func (m *mockAggregator) CheckCredentials() error {
	return m.Called().Error(0)
}

func (m *mockAggregator) Authenticate(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockAggregator) ListInstitutions(ctx context.Context, country string) ([]aggregator.Institution, error) {
	args := m.Called(ctx, country)
	res, _ := args.Get(0).([]aggregator.Institution)
	return res, args.Error(1)
}

func (m *mockAggregator) CreateRequisition(ctx context.Context, institutionID, reference string) (*aggregator.Requisition, error) {
	args := m.Called(ctx, institutionID, reference)
	res, _ := args.Get(0).(*aggregator.Requisition)
	return res, args.Error(1)
}

func (m *mockAggregator) GetRequisition(ctx context.Context, id string) (*aggregator.Requisition, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*aggregator.Requisition)
	return res, args.Error(1)
}

func (m *mockAggregator) GetAccountDetails(ctx context.Context, accountID string) (*aggregator.AccountDetails, error) {
	args := m.Called(ctx, accountID)
	res, _ := args.Get(0).(*aggregator.AccountDetails)
	return res, args.Error(1)
}

func (m *mockAggregator) GetAccountBalances(ctx context.Context, accountID string) ([]aggregator.Balance, error) {
	args := m.Called(ctx, accountID)
	res, _ := args.Get(0).([]aggregator.Balance)
	return res, args.Error(1)
}

func (m *mockAggregator) GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo *time.Time) ([]aggregator.Transaction, error) {
	args := m.Called(ctx, accountID, dateFrom, dateTo)
	res, _ := args.Get(0).([]aggregator.Transaction)
	return res, args.Error(1)
}

type mockQuota struct {
	mock.Mock
}

func (m *mockQuota) Acquire(ctx context.Context, accountID, endpoint string) error {
	return m.Called(ctx, accountID, endpoint).Error(0)
}

func (m *mockQuota) Block(ctx context.Context, accountID, endpoint string, retryAfter time.Duration) error {
	return m.Called(ctx, accountID, endpoint, retryAfter).Error(0)
}

func (m *mockQuota) Usage(ctx context.Context, accountID string, endpoints ...string) ([]quota.Usage, error) {
	args := m.Called(ctx, accountID, endpoints)
	res, _ := args.Get(0).([]quota.Usage)
	return res, args.Error(1)
}

type recordingTasks struct {
	batches [][]string
	err     error
}

func (r *recordingTasks) EnqueueAutoMatch(_ context.Context, ids []string) error {
	r.batches = append(r.batches, ids)
	return r.err
}
