/*
Copyright 2024 Cardroom Authors.

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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cardroomhq/cardroom"
	"github.com/cardroomhq/cardroom/api/middleware"
	"github.com/cardroomhq/cardroom/config"
)

type Api struct {
	cardroom  *cardroom.Cardroom
	health    *cardroom.HealthChecker
	happyHour *cardroom.HappyHourManager
	router    *gin.Engine
}

// Router registers the admin and monitoring surface. Probe endpoints are
// registered in NewAPI ahead of the auth middleware.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/syndicates/:id", a.GetSyndicate)
	router.POST("/dividends/distribute", a.StartDistribution)
	router.GET("/dividends/jobs/:id", a.GetDistributionJob)

	router.GET("/happy-hour", a.GetHappyHour)
	router.POST("/happy-hour/start", a.StartHappyHour)
	router.POST("/happy-hour/stop", a.StopHappyHour)

	router.GET("/queue/stats", a.GetQueueStats)
	router.GET("/fanout/stats", a.GetFanOutStats)

	return a.router
}

func NewAPI(c *cardroom.Cardroom, health *cardroom.HealthChecker, happyHour *cardroom.HappyHourManager) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()

	if conf.EnableTelemetry {
		r.Use(otelgin.Middleware(conf.ProjectName))
	}
	r.Use(middleware.RateLimitMiddleware(conf))

	a := &Api{cardroom: c, health: health, happyHour: happyHour, router: r}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})
	r.GET("/health", a.GetHealth)
	r.GET("/ready", a.GetReady)

	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	return a
}
