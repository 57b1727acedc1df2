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

	model2 "github.com/cardroomhq/cardroom/api/model"
	"github.com/cardroomhq/cardroom/internal/apierror"
	"github.com/cardroomhq/cardroom/model"
)

// StartDistribution kicks off a manual dividend cycle. The enqueue count
// comes back immediately; the payouts themselves run through the queue.
func (a Api) StartDistribution(c *gin.Context) {
	var req model2.StartDistribution
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
		if err := req.ValidateStartDistribution(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
			return
		}
	}

	enqueued, err := a.cardroom.StartDistributionCycle(c.Request.Context(), model.TriggerManual)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"enqueued": enqueued})
}

func (a Api) GetDistributionJob(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	info, err := a.cardroom.Queue().GetDistributionJob(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}
