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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cardroomhq/cardroom"
)

// GetHealth reports per-component status. Degraded still returns 200 so
// orchestrators keep routing traffic; only unhealthy flips to 503.
func (a Api) GetHealth(c *gin.Context) {
	report := a.health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	if report.Status == cardroom.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (a Api) GetReady(c *gin.Context) {
	if !a.health.CheckReady(c.Request.Context()) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

func (a Api) GetQueueStats(c *gin.Context) {
	stats, err := a.cardroom.Queue().Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a Api) GetFanOutStats(c *gin.Context) {
	stats, err := a.cardroom.FanOut().Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}
