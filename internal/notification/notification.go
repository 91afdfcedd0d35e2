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


package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/internal/request"
)

const requestTimeout = 10 * time.Second

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// SlackNotifier posts sync failures to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	project    string
	client     *http.Client
	now        func() time.Time
}

func NewSlackNotifier(webhookURL, project string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		project:    project,
		client:     &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

func (s *SlackNotifier) message(operation string, attempts int, err error) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("Bank sync failed in %s", s.project), Emoji: true}},
		{Type: "section", Fields: []slackText{
			{Type: "mrkdwn", Text: fmt.Sprintf("*Operation:*\n%s", operation)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Attempts:*\n%d", attempts)},
		}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", s.now().Format(time.RFC822))}}},
	}}
}

// Send posts one failure and reports non-2xx responses as errors.
func (s *SlackNotifier) Send(ctx context.Context, operation string, attempts int, err error) error {
	req, reqErr := request.NewJSONRequest(ctx, http.MethodPost, s.webhookURL, s.message(operation, attempts, err))
	if reqErr != nil {
		return reqErr
	}
	resp, body, callErr := request.Call(s.client, req, nil)
	if callErr != nil {
		return callErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// NotifySyncFailure sends in the background so a slow webhook never holds
// up the scheduler.
func (s *SlackNotifier) NotifySyncFailure(ctx context.Context, operation string, attempts int, err error) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if sendErr := s.Send(ctx, operation, attempts, err); sendErr != nil {
			logrus.WithError(sendErr).Warn("could not deliver sync failure notification")
		}
	}()
}
