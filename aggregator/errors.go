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

package aggregator

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const tokenPath = "/token/new/"

// DefaultRetryAfterSeconds is assumed when a 429 carries no usable hint.
const DefaultRetryAfterSeconds = 3600

// ErrNotLinked is returned when a requisition's consent flow is unfinished.
var ErrNotLinked = errors.New("requisition is not linked")

var retryAfterDetail = regexp.MustCompile(`(\d+) seconds`)

// AuthError means the aggregator rejected the credentials or token.
type AuthError struct {
	StatusCode int
	Reason     string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("aggregator authentication failed (%d): %s", e.StatusCode, e.Reason)
	}
	return "aggregator authentication failed: " + e.Reason
}

// RateLimitedError is returned for HTTP 429. Callers should defer rather
// than retry immediately.
type RateLimitedError struct {
	Path              string
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("aggregator rate limit exceeded for %s, retry after %ds", e.Path, e.RetryAfterSeconds)
}

// OnToken reports whether the limit was hit while obtaining a token, which
// blocks every other call as well.
func (e *RateLimitedError) OnToken() bool {
	return e.Path == tokenPath
}

// Error is any other non-2xx response.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("aggregator request failed with status %d: %s", e.StatusCode, e.Body)
}

func IsRateLimited(err error) bool {
	var e *RateLimitedError
	return errors.As(err, &e)
}

func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// parseRetryAfter reads the Retry-After header, then the "N seconds" hint
// in the error detail, then falls back to DefaultRetryAfterSeconds.
func parseRetryAfter(header http.Header, detail string) int {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return secs
		}
	}
	if m := retryAfterDetail.FindStringSubmatch(detail); m != nil {
		if secs, err := strconv.Atoi(m[1]); err == nil {
			return secs
		}
	}
	return DefaultRetryAfterSeconds
}
