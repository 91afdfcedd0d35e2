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

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/banklink/banklink/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	apiErr := apierror.NewAPIError(apierror.ErrNotFound, "Client 'c1' not found", nil)

	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.Equal(t, "NOT_FOUND: Client 'c1' not found", apiErr.Error())
}

func TestNewPersistenceError(t *testing.T) {
	cause := errors.New("deadlock detected")
	err := apierror.NewPersistenceError("Failed to run auto matching", cause)

	assert.True(t, apierror.IsCode(err, apierror.ErrPersistence))
	assert.ErrorIs(t, err, cause)

	notFound := apierror.NewAPIError(apierror.ErrNotFound, "Transaction not found", nil)
	assert.Equal(t, notFound, apierror.NewPersistenceError("Failed to link", notFound))
}

func TestIsCodeWrapped(t *testing.T) {
	err := fmt.Errorf("linking: %w", apierror.NewAPIError(apierror.ErrConflict, "exists", nil))
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.False(t, apierror.IsCode(err, apierror.ErrNotFound))
	assert.False(t, apierror.IsCode(errors.New("plain"), apierror.ErrNotFound))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"NotFound Error", apierror.NewAPIError(apierror.ErrNotFound, "Resource not found", nil), http.StatusNotFound},
		{"Conflict Error", apierror.NewAPIError(apierror.ErrConflict, "Conflict occurred", nil), http.StatusConflict},
		{"InvalidInput Error", apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil), http.StatusBadRequest},
		{"BadRequest Error", apierror.NewAPIError(apierror.ErrBadRequest, "Bad request", nil), http.StatusBadRequest},
		{"RateLimited Error", apierror.NewAPIError(apierror.ErrRateLimited, "Slow down", nil), http.StatusTooManyRequests},
		{"Persistence Error", apierror.NewAPIError(apierror.ErrPersistence, "Rolled back", nil), http.StatusInternalServerError},
		{"Wrapped Error", fmt.Errorf("outer: %w", apierror.NewAPIError(apierror.ErrNotFound, "missing", nil)), http.StatusNotFound},
		{"Unknown Error", errors.New("Unknown error"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, apierror.MapErrorToHTTPStatus(tt.err))
		})
	}
}
