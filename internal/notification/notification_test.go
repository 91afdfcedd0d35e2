package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhook = "https://hooks.slack.test/services/T000/B000/XXX"

func newTestNotifier() *SlackNotifier {
	n := NewSlackNotifier(webhook, "Banklink")
	httpmock.ActivateNonDefault(n.client)
	n.now = func() time.Time { return time.Date(2024, 3, 15, 20, 0, 0, 0, time.UTC) }
	return n
}

func TestSendPostsBlocks(t *testing.T) {
	n := newTestNotifier()
	defer httpmock.DeactivateAndReset()

	var got slackMessage
	httpmock.RegisterResponder(http.MethodPost, webhook, func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
	})

	err := n.Send(context.Background(), "scheduled_sync", 3, errors.New("aggregator request failed with status 500"))
	require.NoError(t, err)
	require.Len(t, got.Blocks, 4)
	assert.Equal(t, "Bank sync failed in Banklink", got.Blocks[0].Text.Text)
	assert.Equal(t, "*Attempts:*\n3", got.Blocks[1].Fields[1].Text)
	assert.Contains(t, got.Blocks[2].Fields[0].Text, "status 500")
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestSendReportsRejectedWebhook(t *testing.T) {
	n := newTestNotifier()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, webhook, httpmock.NewStringResponder(http.StatusForbidden, "invalid_token"))

	err := n.Send(context.Background(), "manual_sync", 1, errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_token")
}
