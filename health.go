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
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/database"
)

type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

const (
	redisProbeTimeout = 5 * time.Second
	dbProbeTimeout    = 10 * time.Second
	readyProbeTimeout = 2 * time.Second

	// redisSlowThreshold marks a reachable but struggling broker.
	redisSlowThreshold = time.Second

	// memoryDegradedFraction of the configured budget triggers a degraded
	// memory report before the process is at risk.
	memoryDegradedFraction = 0.9
)

// ComponentHealth is one probed subsystem's report.
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	LatencyMS int64           `json:"latencyMs,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

// HealthReport is the full health-endpoint body. Uptime is seconds since the
// checker was constructed, which happens once at process startup.
type HealthReport struct {
	Status        ComponentStatus            `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	UptimeSeconds int64                      `json:"uptime"`
	Version       string                     `json:"version"`
	Components    map[string]ComponentHealth `json:"components"`
}

// AggregateStatus folds component reports into the overall verdict: any
// unhealthy component makes the platform unhealthy, otherwise any degraded
// component makes it degraded.
func AggregateStatus(components map[string]ComponentHealth) ComponentStatus {
	status := StatusHealthy
	for _, c := range components {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// HealthChecker probes the platform's dependencies. Probes are fields so
// tests can substitute them without standing up real backends.
type HealthChecker struct {
	conf      *config.Configuration
	startedAt time.Time

	redisProbe  func(ctx context.Context) ComponentHealth
	dbProbe     func(ctx context.Context) ComponentHealth
	fanoutProbe func(ctx context.Context) ComponentHealth
	memoryProbe func() ComponentHealth
}

func NewHealthChecker(conf *config.Configuration, redisClient redis.UniversalClient, ds database.IDataSource, fanout *FanOut) *HealthChecker {
	return &HealthChecker{
		conf:        conf,
		startedAt:   time.Now().UTC(),
		redisProbe:  redisProber(redisClient),
		dbProbe:     dbProber(ds),
		fanoutProbe: fanoutProber(fanout),
		memoryProbe: memoryProber(conf.Pool.MemoryMB),
	}
}

// CheckHealth runs every probe and aggregates the result. Probes run with
// their own deadlines so one stuck dependency cannot wedge the endpoint.
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	components := map[string]ComponentHealth{
		"redis":    h.redisProbe(ctx),
		"database": h.dbProbe(ctx),
		"fanout":   h.fanoutProbe(ctx),
		"memory":   h.memoryProbe(),
	}
	now := time.Now().UTC()
	report := &HealthReport{
		Status:        AggregateStatus(components),
		Timestamp:     now,
		UptimeSeconds: int64(now.Sub(h.startedAt).Seconds()),
		Version:       h.conf.Version,
		Components:    components,
	}
	if report.Status != StatusHealthy {
		logrus.WithField("status", report.Status).Warn("Health check not healthy")
	}
	return report
}

// CheckReady is the load-balancer probe: a quick yes or no on whether this
// instance can serve traffic, reduced to the two hard dependencies.
func (h *HealthChecker) CheckReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, readyProbeTimeout)
	defer cancel()
	if h.redisProbe(ctx).Status == StatusUnhealthy {
		return false
	}
	return h.dbProbe(ctx).Status != StatusUnhealthy
}

func redisProber(client redis.UniversalClient) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		ctx, cancel := context.WithTimeout(ctx, redisProbeTimeout)
		defer cancel()
		start := time.Now()
		err := client.Ping(ctx).Err()
		return classifyRedisProbe(time.Since(start), err)
	}
}

// classifyRedisProbe grades a ping result: a failure is unhealthy, a ping
// slower than redisSlowThreshold is a reachable but struggling broker.
func classifyRedisProbe(latency time.Duration, err error) ComponentHealth {
	if err != nil {
		return ComponentHealth{Status: StatusUnhealthy, LatencyMS: latency.Milliseconds(), Detail: err.Error()}
	}
	if latency > redisSlowThreshold {
		return ComponentHealth{Status: StatusDegraded, LatencyMS: latency.Milliseconds(), Detail: "slow ping"}
	}
	return ComponentHealth{Status: StatusHealthy, LatencyMS: latency.Milliseconds()}
}

func dbProber(ds database.IDataSource) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		ctx, cancel := context.WithTimeout(ctx, dbProbeTimeout)
		defer cancel()
		start := time.Now()
		err := ds.Ping(ctx)
		latency := time.Since(start)
		if err != nil {
			return ComponentHealth{Status: StatusUnhealthy, LatencyMS: latency.Milliseconds(), Detail: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, LatencyMS: latency.Milliseconds()}
	}
}

// fanoutProber reports degraded, not unhealthy, when cross-instance delivery
// is down: the instance still serves its local clients.
func fanoutProber(fanout *FanOut) func(ctx context.Context) ComponentHealth {
	return func(ctx context.Context) ComponentHealth {
		if err := fanout.Err(); err != nil {
			return ComponentHealth{Status: StatusDegraded, Detail: err.Error()}
		}
		stats, err := fanout.Stats(ctx)
		if err != nil {
			return ComponentHealth{Status: StatusDegraded, Detail: err.Error()}
		}
		if stats.LocalOnly {
			return ComponentHealth{Status: StatusDegraded, Detail: "local-only delivery"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}

func memoryProber(budgetMB int) func() ComponentHealth {
	return func() ComponentHealth {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		usedMB := int64(m.Alloc / 1024 / 1024)
		if budgetMB > 0 && float64(usedMB) > float64(budgetMB)*memoryDegradedFraction {
			return ComponentHealth{Status: StatusDegraded, LatencyMS: 0, Detail: "memory near budget"}
		}
		return ComponentHealth{Status: StatusHealthy}
	}
}
