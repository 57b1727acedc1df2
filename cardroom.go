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

package cardroom

import (
	"context"
	"embed"

	"github.com/redis/go-redis/v9"

	"github.com/cardroomhq/cardroom/database"
	"github.com/cardroomhq/cardroom/model"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Cardroom ties the platform core together: transactional storage, the
// durable dividend queue, the fan-out adapter, and the shared Redis client
// for cycle bookkeeping. Constructed once at startup and passed to
// consumers, never reached for as ambient state.
type Cardroom struct {
	datasource database.IDataSource
	queue      *Queue
	fanout     *FanOut
	redis      redis.UniversalClient
}

func NewCardroom(ds database.IDataSource, queue *Queue, fanout *FanOut, redisClient redis.UniversalClient) *Cardroom {
	return &Cardroom{
		datasource: ds,
		queue:      queue,
		fanout:     fanout,
		redis:      redisClient,
	}
}

func (c *Cardroom) Queue() *Queue                    { return c.queue }
func (c *Cardroom) FanOut() *FanOut                  { return c.fanout }
func (c *Cardroom) Datasource() database.IDataSource { return c.datasource }
func (c *Cardroom) Redis() redis.UniversalClient     { return c.redis }

// GetSyndicate exposes syndicate reads for the API surface.
func (c *Cardroom) GetSyndicate(ctx context.Context, syndicateID string) (*model.Syndicate, error) {
	return c.datasource.GetSyndicate(ctx, syndicateID)
}
