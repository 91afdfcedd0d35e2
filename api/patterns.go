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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/banklink/banklink/api/model"
)

func (a Api) GetPatterns(c *gin.Context) {
	includeInactive := c.Query("includeInactive") == "true"

	resp, err := a.banklink.ListPatterns(c.Request.Context(), includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) GetClientPatterns(c *gin.Context) {
	clientID, passed := c.Params.Get("clientId")
	if !passed {
		badRequest(c, "clientId is required. pass clientId in the route /:clientId")
		return
	}

	resp, err := a.banklink.ListClientPatterns(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) CreatePattern(c *gin.Context) {
	var req model2.Pattern
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.ValidatePattern(); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.banklink.CreatePattern(c.Request.Context(), req.ToPatternInput())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, resp)
}

func (a Api) UpdatePattern(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	var req model2.Pattern
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.ValidatePattern(); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.banklink.UpdatePattern(c.Request.Context(), id, req.ToPatternInput())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) DeletePattern(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	if err := a.banklink.DeletePattern(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Pattern disabled", nil)
}
