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
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/model"
)

const (
	lastRunKey = "dividends:last_run"
	// lastRunTTL outlives any realistic downtime window; an expired key just
	// means the next matching slot runs unconditionally.
	lastRunTTL = 30 * 24 * time.Hour
)

// ShouldRunWeekly reports whether the weekly distribution is due at now.
// The slot matches on weekday and hour in UTC, and a run is only due when
// more than six days have passed since the last one. The six-day guard makes
// the check idempotent across the whole matching hour and across instances
// that tick at slightly different times.
func ShouldRunWeekly(now time.Time, lastRun time.Time, hasLastRun bool, day time.Weekday, hourUTC int) bool {
	now = now.UTC()
	if now.Weekday() != day || now.Hour() != hourUTC {
		return false
	}
	if !hasLastRun {
		return true
	}
	return now.Sub(lastRun) > 6*24*time.Hour
}

// NeedsCatchUp reports whether a distribution slot was missed entirely, which
// happens when every instance was down through the scheduled hour. No
// recorded run at all counts as missed too, so a fresh deployment or a wiped
// marker gets its first cycle without waiting up to a week. Duplicate runs
// are ruled out by the producer lock and the marker written before enqueue.
func NeedsCatchUp(now time.Time, lastRun time.Time, hasLastRun bool) bool {
	if !hasLastRun {
		return true
	}
	return now.UTC().Sub(lastRun) > 7*24*time.Hour
}

// RunRecorder persists the scheduler's last-run marker in Redis so every
// instance sees the same view of when the cycle last fired.
type RunRecorder struct {
	client redis.UniversalClient
}

func NewRunRecorder(client redis.UniversalClient) *RunRecorder {
	return &RunRecorder{client: client}
}

func (r *RunRecorder) LastRun(ctx context.Context) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, lastRunKey).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (r *RunRecorder) Record(ctx context.Context, now time.Time) error {
	return r.client.Set(ctx, lastRunKey, now.UTC().Format(time.RFC3339), lastRunTTL).Err()
}

// Scheduler drives the weekly distribution cycle off a minute tick. Polling
// a cheap pure predicate keeps the scheduler stateless between ticks; all
// shared state lives in Redis, so any number of instances can run it and the
// producer lock decides who actually enqueues.
type Scheduler struct {
	cardroom *Cardroom
	recorder *RunRecorder
	conf     config.DividendsConfig
	cron     *cron.Cron
}

func NewScheduler(cardroom *Cardroom, recorder *RunRecorder, conf config.DividendsConfig) *Scheduler {
	return &Scheduler{
		cardroom: cardroom,
		recorder: recorder,
		conf:     conf,
		cron:     cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start begins the minute tick and, after the configured grace period,
// checks once for a missed slot. The grace delay keeps a rolling restart
// from looking like downtime.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		s.tick(ctx, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	s.cron.Start()

	grace := time.Duration(s.conf.StartupGraceSec) * time.Second
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(grace):
		}
		s.catchUp(ctx, time.Now().UTC())
	}()

	logrus.Infof("Dividend scheduler started: day=%d hour=%d UTC", s.conf.Day, s.conf.HourUTC)
	return nil
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	lastRun, hasLast, err := s.recorder.LastRun(ctx)
	if err != nil {
		logrus.Errorf("Scheduler could not read last run marker: %v", err)
		return
	}
	if !ShouldRunWeekly(now, lastRun, hasLast, time.Weekday(s.conf.Day), s.conf.HourUTC) {
		return
	}
	s.run(ctx, now)
}

func (s *Scheduler) catchUp(ctx context.Context, now time.Time) {
	lastRun, hasLast, err := s.recorder.LastRun(ctx)
	if err != nil {
		logrus.Errorf("Catch-up check could not read last run marker: %v", err)
		return
	}
	if !NeedsCatchUp(now, lastRun, hasLast) {
		return
	}
	if hasLast {
		logrus.Warnf("Missed distribution slot detected, last run %s; running catch-up", lastRun.Format(time.RFC3339))
	} else {
		logrus.Warn("No distribution run recorded; running catch-up")
	}
	s.run(ctx, now)
}

// run records the last-run marker before enqueueing. Recording first means a
// crash mid-enqueue costs at most one partial cycle rather than risking a
// double payout when the instance comes back inside the same hour.
func (s *Scheduler) run(ctx context.Context, now time.Time) {
	if err := s.recorder.Record(ctx, now); err != nil {
		logrus.Errorf("Failed to record distribution run: %v", err)
		return
	}
	if _, err := s.cardroom.StartDistributionCycle(ctx, model.TriggerScheduled); err != nil {
		logrus.Errorf("Scheduled distribution cycle failed: %v", err)
	}
}
