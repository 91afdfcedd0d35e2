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

func (a Api) GetClientTransactions(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	from, err := model2.ParseDateParam(c.Query("from"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	to, err := model2.ParseDateParam(c.Query("to"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	resp, err := a.banklink.GetClientTransactions(c.Request.Context(), id, from, to)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}

func (a Api) GetClientSummary(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		badRequest(c, "id is required. pass id in the route /:id")
		return
	}

	resp, err := a.banklink.GetClientTransactionSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, resp)
}
