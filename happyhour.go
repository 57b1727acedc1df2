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
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/internal/apierror"
	"github.com/cardroomhq/cardroom/model"
)

const (
	happyHourActiveKey  = "happy_hour:active"
	happyHourLastEndKey = "happy_hour:last_end"

	// endingSoonLead is how far before the end the warning event fires.
	endingSoonLead = 5 * time.Minute
)

// HappyHourManager owns the platform-wide bonus window. The active event is
// claimed with SETNX so concurrent instances, or a scheduled trigger racing a
// manual one, can never double-activate; the key's TTL matches the event
// duration, so an instance crash can never leave a window stuck open.
type HappyHourManager struct {
	redis  redis.UniversalClient
	fanout *FanOut
	conf   config.HappyHourConfig
	cron   *cron.Cron

	// lifeCtx outlives any single request. Lifecycle timers for an event
	// must keep running after the HTTP call that started it has returned.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

func NewHappyHourManager(redisClient redis.UniversalClient, fanout *FanOut, conf config.HappyHourConfig) *HappyHourManager {
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	return &HappyHourManager{
		redis:      redisClient,
		fanout:     fanout,
		conf:       conf,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}
}

// Start begins the scheduling tick. Disabled configuration leaves the manager
// inert but still serving reads and manual triggers.
func (h *HappyHourManager) Start(ctx context.Context) error {
	if !h.conf.Enabled {
		logrus.Info("Happy hour scheduling disabled")
		return nil
	}
	_, err := h.cron.AddFunc("* * * * *", func() {
		h.tick(ctx, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	h.cron.Start()
	logrus.Infof("Happy hour scheduler started: day=%d hour=%d UTC, %dmin at %.1fx",
		h.conf.Day, h.conf.HourUTC, h.conf.DurationMin, h.conf.Multiplier)
	return nil
}

func (h *HappyHourManager) Stop() {
	h.lifeCancel()
	stopCtx := h.cron.Stop()
	<-stopCtx.Done()
}

// Active returns the currently running event, or nil when no window is open.
func (h *HappyHourManager) Active(ctx context.Context) (*model.HappyHourEvent, error) {
	val, err := h.redis.Get(ctx, happyHourActiveKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var event model.HappyHourEvent
	if err := json.Unmarshal([]byte(val), &event); err != nil {
		return nil, errors.Wrap(err, "decoding active happy hour event")
	}
	return &event, nil
}

// StartEvent opens a bonus window. The SETNX claim is the single point of
// arbitration; a second caller gets a Conflict while the first window runs.
func (h *HappyHourManager) StartEvent(ctx context.Context, multiplier float64, durationMin int, bonusType string, isRandom bool) (*model.HappyHourEvent, error) {
	now := time.Now().UTC()
	duration := time.Duration(durationMin) * time.Minute
	event := &model.HappyHourEvent{
		EventID:    fmt.Sprintf("hh_%d", now.UnixNano()),
		StartTime:  now,
		EndTime:    now.Add(duration),
		Multiplier: multiplier,
		BonusType:  bonusType,
		IsRandom:   isRandom,
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "encoding happy hour event")
	}
	claimed, err := h.redis.SetNX(ctx, happyHourActiveKey, raw, duration).Result()
	if err != nil {
		return nil, errors.Wrap(err, "claiming happy hour slot")
	}
	if !claimed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "a happy hour event is already active", nil)
	}

	payload := model.HappyHourPayload{
		EventID:    event.EventID,
		Multiplier: event.Multiplier,
		BonusType:  event.BonusType,
		EndsAt:     event.EndTime,
	}
	if err := h.fanout.Publish(ctx, model.RoomGlobal, model.EventHappyHourStarted, payload); err != nil {
		logrus.Errorf("Failed to publish happy hour started event: %v", err)
	}
	h.scheduleLifecycle(event)

	logrus.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"multiplier": multiplier,
		"duration":   duration,
		"random":     isRandom,
	}).Info("Happy hour started")
	return event, nil
}

// StopEvent ends the active window early. Only the instance that receives
// the stop tears the key down; every instance learns of the end through the
// fan-out event.
func (h *HappyHourManager) StopEvent(ctx context.Context) (*model.HappyHourEvent, error) {
	event, err := h.Active(ctx)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "no happy hour event is active", nil)
	}
	if err := h.endEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (h *HappyHourManager) endEvent(ctx context.Context, event *model.HappyHourEvent) error {
	if err := h.redis.Del(ctx, happyHourActiveKey).Err(); err != nil {
		return errors.Wrap(err, "clearing happy hour slot")
	}
	if err := h.redis.Set(ctx, happyHourLastEndKey, time.Now().UTC().Format(time.RFC3339), lastRunTTL).Err(); err != nil {
		logrus.Warnf("Failed to record happy hour end time: %v", err)
	}
	payload := model.HappyHourPayload{
		EventID:    event.EventID,
		Multiplier: event.Multiplier,
		BonusType:  event.BonusType,
	}
	if err := h.fanout.Publish(ctx, model.RoomGlobal, model.EventHappyHourEnded, payload); err != nil {
		logrus.Errorf("Failed to publish happy hour ended event: %v", err)
	}
	logrus.WithField("event_id", event.EventID).Info("Happy hour ended")
	return nil
}

// scheduleLifecycle arranges the ending-soon warning and the final teardown
// for an event this instance started. The timers run on the manager's own
// context, not the caller's, so an admin request completing cannot kill
// them. If the instance dies first, the key TTL still closes the window;
// only the courtesy events are lost.
func (h *HappyHourManager) scheduleLifecycle(event *model.HappyHourEvent) {
	ctx := h.lifeCtx
	go func() {
		warnIn := time.Until(event.EndTime.Add(-endingSoonLead))
		if warnIn > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(warnIn):
			}
			active, err := h.Active(ctx)
			if err == nil && active != nil && active.EventID == event.EventID {
				payload := model.HappyHourPayload{
					EventID:    event.EventID,
					Multiplier: event.Multiplier,
					BonusType:  event.BonusType,
					EndsAt:     event.EndTime,
				}
				if err := h.fanout.Publish(ctx, model.RoomGlobal, model.EventHappyHourEndingSoon, payload); err != nil {
					logrus.Errorf("Failed to publish happy hour ending soon event: %v", err)
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(event.EndTime)):
		}
		active, err := h.Active(ctx)
		if err != nil || active == nil || active.EventID != event.EventID {
			// Already stopped manually or expired elsewhere.
			return
		}
		if err := h.endEvent(ctx, event); err != nil {
			logrus.Errorf("Failed to end happy hour event: %v", err)
		}
	}()
}

func (h *HappyHourManager) tick(ctx context.Context, now time.Time) {
	if h.scheduledSlotMatches(now) {
		h.startScheduled(ctx, false)
		return
	}
	if h.conf.RandomChance > 0 && rand.Float64() < h.conf.RandomChance/60 {
		h.maybeStartRandom(ctx, now)
	}
}

// scheduledSlotMatches fires only on the first minute of the configured hour,
// so the fixed weekly event triggers exactly once per slot.
func (h *HappyHourManager) scheduledSlotMatches(now time.Time) bool {
	return now.Weekday() == time.Weekday(h.conf.Day) && now.Hour() == h.conf.HourUTC && now.Minute() == 0
}

func (h *HappyHourManager) startScheduled(ctx context.Context, isRandom bool) {
	_, err := h.StartEvent(ctx, h.conf.Multiplier, h.conf.DurationMin, model.BonusTypeWinnings, isRandom)
	if err != nil {
		// Another instance claimed the slot first.
		if apierror.HasCode(err, apierror.ErrConflict) {
			return
		}
		logrus.Errorf("Failed to start scheduled happy hour: %v", err)
	}
}

// maybeStartRandom starts a surprise event, gated by the minimum gap since
// the last window so random triggers cannot cluster.
func (h *HappyHourManager) maybeStartRandom(ctx context.Context, now time.Time) {
	val, err := h.redis.Get(ctx, happyHourLastEndKey).Result()
	if err != nil && err != redis.Nil {
		logrus.Errorf("Failed to read last happy hour end time: %v", err)
		return
	}
	if err == nil {
		lastEnd, parseErr := time.Parse(time.RFC3339, val)
		if parseErr == nil && now.Sub(lastEnd) < time.Duration(h.conf.MinGapHours)*time.Hour {
			return
		}
	}
	h.startScheduled(ctx, true)
}
