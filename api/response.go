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
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/banklink/banklink/aggregator"
	"github.com/banklink/banklink/internal/apierror"
)

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondMessage(c *gin.Context, status int, message string, data interface{}) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

// respondError maps service and aggregator errors onto the error envelope.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)

	var rateLimited *aggregator.RateLimitedError
	var authErr *aggregator.AuthError
	var upstream *aggregator.Error
	switch {
	case errors.As(err, &rateLimited):
		status = http.StatusTooManyRequests
		c.Header("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
	case errors.As(err, &authErr), errors.As(err, &upstream):
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
	}

	body := gin.H{"success": false, "error": err.Error()}
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		body["error"] = apiErr.Message
		if details, ok := apiErr.Details.(error); ok && status < http.StatusInternalServerError {
			body["details"] = details.Error()
		}
	}
	c.JSON(status, body)
}
