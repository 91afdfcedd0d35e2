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

// Package aggregator is a client for the GoCardless Bank Account Data API,
// limited to the calls needed to link bank accounts and read their balances
// and transactions.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/banklink/banklink/internal/request"
)

const (
	DefaultBaseURL = "https://bankaccountdata.gocardless.com/api/v2"
	DefaultTimeout = 30 * time.Second

	// Access tokens live 24h. Refreshing an hour early avoids racing expiry.
	tokenRefreshAfter = 23 * time.Hour

	dateLayout = "2006-01-02"
)

type Config struct {
	BaseURL     string
	SecretID    string
	SecretKey   string
	RedirectURL string
	Timeout     time.Duration
}

// Client is safe for concurrent use. The only state it keeps is the bearer
// token and the time it should be refreshed.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	now     func() time.Time

	mu        sync.Mutex
	token     string
	refreshAt time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client, e.g. to add a custom transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithNow replaces the time source used for token expiry.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:     cfg,
		baseURL: normalizeBaseURL(cfg.BaseURL),
		http:    &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalizeBaseURL(raw string) string {
	if raw == "" {
		return DefaultBaseURL
	}
	base := strings.TrimRight(raw, "/")
	if !strings.HasSuffix(base, "/api/v2") {
		base += "/api/v2"
	}
	return base
}

// ValidateCredentials checks the shape of a secret pair before it is sent:
// the id is a UUID and the key is 43 or 128 characters long.
func ValidateCredentials(secretID, secretKey string) error {
	if secretID == "" || secretKey == "" {
		return &AuthError{Reason: "aggregator credentials are not configured"}
	}
	if strings.TrimSpace(secretID) != secretID || strings.TrimSpace(secretKey) != secretKey {
		return &AuthError{Reason: "aggregator credentials contain surrounding whitespace"}
	}
	if _, err := uuid.Parse(secretID); err != nil {
		return &AuthError{Reason: "secret id must be a UUID"}
	}
	if n := len(secretKey); n != 43 && n != 128 {
		return &AuthError{Reason: fmt.Sprintf("secret key has unexpected length %d", n)}
	}
	return nil
}

// CheckCredentials validates the configured credentials without calling out.
func (c *Client) CheckCredentials() error {
	return ValidateCredentials(c.cfg.SecretID, c.cfg.SecretKey)
}

// Authenticate obtains a fresh access token and caches it.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) (string, error) {
	if err := c.CheckCredentials(); err != nil {
		return "", err
	}

	req, err := request.NewJSONRequest(ctx, http.MethodPost, c.baseURL+tokenPath, map[string]string{
		"secret_id":  c.cfg.SecretID,
		"secret_key": c.cfg.SecretKey,
	})
	if err != nil {
		return "", err
	}

	var tok tokenResponse
	resp, body, err := request.Call(c.http, req, &tok)
	if err != nil {
		return "", fmt.Errorf("requesting aggregator token: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &AuthError{StatusCode: resp.StatusCode, Reason: errorDetail(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &RateLimitedError{Path: tokenPath, RetryAfterSeconds: parseRetryAfter(resp.Header, errorDetail(body))}
	case resp.StatusCode >= 300:
		return "", &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if tok.Access == "" {
		return "", &AuthError{StatusCode: resp.StatusCode, Reason: "token response did not contain an access token"}
	}

	c.token = tok.Access
	c.refreshAt = c.now().Add(tokenRefreshAfter)
	logrus.Debug("aggregator token refreshed")
	return c.token, nil
}

// accessToken returns the cached token, authenticating when there is none or
// it is due for refresh.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.refreshAt) {
		return c.token, nil
	}
	return c.authenticateLocked(ctx)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := request.NewJSONRequest(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, body, err := request.Call(c.http, req, out)
	if err != nil {
		return fmt.Errorf("aggregator %s %s: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.invalidateToken()
		return &AuthError{StatusCode: resp.StatusCode, Reason: errorDetail(body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Path: path, RetryAfterSeconds: parseRetryAfter(resp.Header, errorDetail(body))}
	case resp.StatusCode >= 300:
		return &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func errorDetail(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && (e.Detail != "" || e.Summary != "") {
		if e.Detail != "" {
			return e.Detail
		}
		return e.Summary
	}
	return string(body)
}

func (c *Client) ListInstitutions(ctx context.Context, country string) ([]Institution, error) {
	var institutions []Institution
	err := c.do(ctx, http.MethodGet, "/institutions/?country="+url.QueryEscape(country), nil, &institutions)
	return institutions, err
}

func (c *Client) GetInstitution(ctx context.Context, id string) (*Institution, error) {
	var institution Institution
	if err := c.do(ctx, http.MethodGet, "/institutions/"+url.PathEscape(id)+"/", nil, &institution); err != nil {
		return nil, err
	}
	return &institution, nil
}

// CreateRequisition starts a consent flow. The end user completes it by
// following the returned Link.
func (c *Client) CreateRequisition(ctx context.Context, institutionID, reference string) (*Requisition, error) {
	if reference == "" {
		reference = fmt.Sprintf("req-%d", c.now().UnixMilli())
	}
	var requisition Requisition
	err := c.do(ctx, http.MethodPost, "/requisitions/", map[string]string{
		"institution_id": institutionID,
		"redirect":       c.cfg.RedirectURL,
		"reference":      reference,
	}, &requisition)
	if err != nil {
		return nil, err
	}
	return &requisition, nil
}

func (c *Client) GetRequisition(ctx context.Context, id string) (*Requisition, error) {
	var requisition Requisition
	if err := c.do(ctx, http.MethodGet, "/requisitions/"+url.PathEscape(id)+"/", nil, &requisition); err != nil {
		return nil, err
	}
	return &requisition, nil
}

func (c *Client) DeleteRequisition(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/requisitions/"+url.PathEscape(id)+"/", nil, nil)
}

// ListAccountsForRequisition returns the external ids of the accounts the
// user granted access to.
func (c *Client) ListAccountsForRequisition(ctx context.Context, requisitionID string) ([]string, error) {
	requisition, err := c.GetRequisition(ctx, requisitionID)
	if err != nil {
		return nil, err
	}
	return requisition.Accounts, nil
}

func (c *Client) GetAccountDetails(ctx context.Context, accountID string) (*AccountDetails, error) {
	var resp struct {
		Account AccountDetails `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/details/", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Account, nil
}

func (c *Client) GetAccountBalances(ctx context.Context, accountID string) ([]Balance, error) {
	var resp struct {
		Balances []Balance `json:"balances"`
	}
	if err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(accountID)+"/balances/", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balances, nil
}

// GetAccountTransactions returns booked entries followed by pending ones.
// Either bound may be nil.
func (c *Client) GetAccountTransactions(ctx context.Context, accountID string, dateFrom, dateTo *time.Time) ([]Transaction, error) {
	query := url.Values{}
	if dateFrom != nil {
		query.Set("date_from", dateFrom.Format(dateLayout))
	}
	if dateTo != nil {
		query.Set("date_to", dateTo.Format(dateLayout))
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions/"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp transactionsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	txns := make([]Transaction, 0, len(resp.Transactions.Booked)+len(resp.Transactions.Pending))
	for _, list := range []struct {
		entries []json.RawMessage
		pending bool
	}{{resp.Transactions.Booked, false}, {resp.Transactions.Pending, true}} {
		for _, raw := range list.entries {
			var txn Transaction
			if err := json.Unmarshal(raw, &txn); err != nil {
				return nil, fmt.Errorf("decoding transaction for account %s: %w", accountID, err)
			}
			txn.Pending = list.pending
			txn.Raw = raw
			txns = append(txns, txn)
		}
	}
	return txns, nil
}
