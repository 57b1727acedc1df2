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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/cardroomhq/cardroom/config"
)

func fixedProbe(status ComponentStatus) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: status}
	}
}

func newTestHealthChecker(redisStatus, dbStatus, fanoutStatus, memStatus ComponentStatus) *HealthChecker {
	return &HealthChecker{
		conf:        &config.Configuration{Version: "test"},
		startedAt:   time.Now().UTC().Add(-time.Minute),
		redisProbe:  fixedProbe(redisStatus),
		dbProbe:     fixedProbe(dbStatus),
		fanoutProbe: fixedProbe(fanoutStatus),
		memoryProbe: func() ComponentHealth { return ComponentHealth{Status: memStatus} },
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]ComponentHealth
		want       ComponentStatus
	}{
		{
			"all healthy",
			map[string]ComponentHealth{
				"a": {Status: StatusHealthy},
				"b": {Status: StatusHealthy},
			},
			StatusHealthy,
		},
		{
			"one degraded",
			map[string]ComponentHealth{
				"a": {Status: StatusHealthy},
				"b": {Status: StatusDegraded},
			},
			StatusDegraded,
		},
		{
			"unhealthy wins over degraded",
			map[string]ComponentHealth{
				"a": {Status: StatusDegraded},
				"b": {Status: StatusUnhealthy},
			},
			StatusUnhealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AggregateStatus(tt.components))
		})
	}
}

func TestCheckHealth_DegradedFanOutDoesNotFailPlatform(t *testing.T) {
	h := newTestHealthChecker(StatusHealthy, StatusHealthy, StatusDegraded, StatusHealthy)

	report := h.CheckHealth(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDegraded, report.Components["fanout"].Status)
	assert.Equal(t, "test", report.Version)
}

func TestCheckHealth_UnhealthyDatabase(t *testing.T) {
	h := newTestHealthChecker(StatusHealthy, StatusUnhealthy, StatusHealthy, StatusHealthy)

	report := h.CheckHealth(context.Background())

	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestCheckHealth_ReportsUptimeAndTimestamp(t *testing.T) {
	h := newTestHealthChecker(StatusHealthy, StatusHealthy, StatusHealthy, StatusHealthy)

	report := h.CheckHealth(context.Background())

	assert.False(t, report.Timestamp.IsZero())
	assert.GreaterOrEqual(t, report.UptimeSeconds, int64(60))
}

func TestCheckReady(t *testing.T) {
	assert.True(t, newTestHealthChecker(StatusHealthy, StatusHealthy, StatusUnhealthy, StatusUnhealthy).CheckReady(context.Background()))
	assert.True(t, newTestHealthChecker(StatusDegraded, StatusHealthy, StatusHealthy, StatusHealthy).CheckReady(context.Background()))
	assert.False(t, newTestHealthChecker(StatusUnhealthy, StatusHealthy, StatusHealthy, StatusHealthy).CheckReady(context.Background()))
	assert.False(t, newTestHealthChecker(StatusHealthy, StatusUnhealthy, StatusHealthy, StatusHealthy).CheckReady(context.Background()))
}

func TestClassifyRedisProbe(t *testing.T) {
	fast := classifyRedisProbe(20*time.Millisecond, nil)
	assert.Equal(t, StatusHealthy, fast.Status)

	// Reachable but slow: degraded, never unhealthy.
	slow := classifyRedisProbe(1500*time.Millisecond, nil)
	assert.Equal(t, StatusDegraded, slow.Status)
	assert.Equal(t, int64(1500), slow.LatencyMS)
	assert.Equal(t, "slow ping", slow.Detail)

	down := classifyRedisProbe(5*time.Second, context.DeadlineExceeded)
	assert.Equal(t, StatusUnhealthy, down.Status)
}

func TestRedisProber_ReportsHealthy(t *testing.T) {
	mr := miniredis.RunT(t)
	probe := redisProber(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	health := probe(context.Background())

	assert.Equal(t, StatusHealthy, health.Status)
}

func TestRedisProber_ReportsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	health := redisProber(client)(context.Background())

	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.NotEmpty(t, health.Detail)
}
