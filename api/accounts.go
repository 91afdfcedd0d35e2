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

	"github.com/banklink/banklink"
	model2 "github.com/banklink/banklink/api/model"
)

func (a Api) GetAccountsStatus(c *gin.Context) {
	resp, err := a.banklink.GetAccountSyncStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) GetInstitutions(c *gin.Context) {
	country := c.Query("country")
	if country == "" {
		badRequest(c, "country is required")
		return
	}

	resp, err := a.banklink.GetInstitutions(c.Request.Context(), country)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) CreateRequisition(c *gin.Context) {
	var req model2.CreateRequisition
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.ValidateCreateRequisition(); err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.banklink.SetupRequisition(c.Request.Context(), req.InstitutionID, req.Reference)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, resp)
}

func (a Api) CompleteRequisition(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	resp, err := a.banklink.CompleteSetup(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Bank account linked", resp)
}

// ImportTransactions loads a manual statement into an account. With
// validateOnly set nothing is written and only row errors are reported.
func (a Api) ImportTransactions(c *gin.Context) {
	accountID, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	var req model2.ImportTransactions
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := req.ValidateImportTransactions(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req.ValidateOnly {
		rowErrors := banklink.ValidateTransactions(req.Transactions)
		respond(c, http.StatusOK, gin.H{
			"valid":  len(rowErrors) == 0,
			"total":  len(req.Transactions),
			"errors": rowErrors,
		})
		return
	}

	resp, err := a.banklink.ImportTransactions(c.Request.Context(), accountID, req.Transactions, operator(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}
