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

func (a Api) ManualSync(c *gin.Context) {
	resp, err := a.scheduler.ManualSync(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Sync completed", resp)
}

func (a Api) GetSyncStatus(c *gin.Context) {
	stats, err := a.scheduler.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"scheduler": a.scheduler.Status(),
		"stats":     stats,
	})
}

func (a Api) StartScheduler(c *gin.Context) {
	var req model2.StartScheduler
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if err := req.ValidateStartScheduler(); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := a.scheduler.Start(req.Duration()); err != nil {
		respondError(c, err)
		return
	}

	respondMessage(c, http.StatusOK, "Scheduler started", a.scheduler.Status())
}

func (a Api) StopScheduler(c *gin.Context) {
	a.scheduler.Stop()
	respondMessage(c, http.StatusOK, "Scheduler stopped", a.scheduler.Status())
}
