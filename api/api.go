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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/banklink/banklink"
	"github.com/banklink/banklink/api/middleware"
	"github.com/banklink/banklink/config"
)

// operatorHeader names who performed a manual link. Requests without it are
// attributed to "api".
const (
	operatorHeader  = "X-Banklink-Operator"
	defaultOperator = "api"
)

type Api struct {
	banklink  *banklink.Banklink
	scheduler *banklink.Scheduler
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/sync", a.ManualSync)
	router.GET("/sync-status", a.GetSyncStatus)
	router.POST("/scheduler/start", a.StartScheduler)
	router.POST("/scheduler/stop", a.StopScheduler)

	router.GET("/accounts/status", a.GetAccountsStatus)
	router.POST("/accounts/:id/transactions/import", a.ImportTransactions)
	router.GET("/institutions", a.GetInstitutions)
	router.POST("/requisitions", a.CreateRequisition)
	router.POST("/requisitions/:id/complete", a.CompleteRequisition)

	router.GET("/transactions/unlinked", a.GetUnlinkedTransactions)
	router.POST("/transactions/auto-match", a.AutoMatch)
	router.GET("/transactions/:id/matches", a.GetMatches)
	router.POST("/transactions/:id/link", a.LinkTransaction)
	router.GET("/transactions/:id/link", a.GetTransactionLink)
	router.GET("/transactions/:id/link/history", a.GetLinkHistory)

	router.GET("/transactions/patterns", a.GetPatterns)
	router.GET("/transactions/patterns/:clientId", a.GetClientPatterns)
	router.POST("/transactions/patterns", a.CreatePattern)
	router.PUT("/transactions/patterns/:id", a.UpdatePattern)
	router.DELETE("/transactions/patterns/:id", a.DeletePattern)

	router.GET("/clients/:id/transactions", a.GetClientTransactions)
	router.GET("/clients/:id/summary", a.GetClientSummary)
	return a.router
}

func NewAPI(b *banklink.Banklink, s *banklink.Scheduler) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware("banklink"))
	}
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware(conf.Server.SecretKey))
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{banklink: b, scheduler: s, router: r}
}

func operator(c *gin.Context) string {
	if op := c.GetHeader(operatorHeader); op != "" {
		return op
	}
	return defaultOperator
}
