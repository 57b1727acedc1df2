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
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	redlock "github.com/cardroomhq/cardroom/internal/lock"
	"github.com/cardroomhq/cardroom/model"
)

var tracer = otel.Tracer("cardroom.dividends")

const (
	producerLockKey = "dividends:producer_lock"
	cycleKeyPrefix  = "dividends:cycle:"

	// cycleKeyTTL keeps cycle counters around long enough for the slowest
	// retry to finish, then lets Redis reclaim them.
	cycleKeyTTL = 48 * time.Hour

	// estimatedSecondsPerJob feeds the completion estimate in the
	// distribution-started event, derived from the worker's rate limit.
	estimatedSecondsPerJob = 6
)

// StartDistributionCycle enumerates eligible syndicates and enqueues one job
// per entity. A Redis lock makes sure only one instance produces per cycle;
// losing the lock race is not an error, the run simply happened elsewhere.
// Enumeration is the only unbounded read and it streams straight into the
// queue, so memory stays flat regardless of syndicate count.
func (c *Cardroom) StartDistributionCycle(ctx context.Context, trigger string) (int, error) {
	ctx, span := tracer.Start(ctx, "Start Distribution Cycle")
	defer span.End()
	span.SetAttributes(attribute.String("dividends.trigger", trigger))

	now := time.Now().UTC()
	cycleID := fmt.Sprintf("cycle_%d", now.Unix())

	locker := redlock.NewLocker(c.redis, producerLockKey, cycleID)
	if err := locker.Lock(ctx, 10*time.Minute); err != nil {
		if errors.Is(err, redlock.ErrHeld) {
			logrus.Info("Distribution producer lock held elsewhere, skipping")
			return 0, nil
		}
		return 0, fmt.Errorf("acquiring producer lock: %w", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("Failed to release producer lock: %v", err)
		}
	}()

	syndicates, err := c.datasource.GetEligibleSyndicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("enumerating syndicates for distribution: %w", err)
	}

	enqueued := 0
	for i := range syndicates {
		job := model.NewDistributionJob(&syndicates[i], trigger, time.Now().UTC())
		job.CycleID = cycleID
		if err := c.queue.EnqueueDistribution(ctx, job); err != nil {
			// One bad enqueue must not sink the cycle; the syndicate is
			// picked up again next week.
			logrus.WithFields(logrus.Fields{
				"syndicate_id": job.SyndicateID,
				"cycle_id":     cycleID,
			}).Errorf("Failed to enqueue distribution job: %v", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		if err := c.initCycleCounters(ctx, cycleID, enqueued); err != nil {
			logrus.Errorf("Failed to initialize cycle counters: %v", err)
		}
	}

	payload := model.DistributionStartedPayload{
		EnqueuedCount:              enqueued,
		EstimatedCompletionMinutes: (enqueued*estimatedSecondsPerJob + 59) / 60,
	}
	if err := c.fanout.Publish(ctx, model.RoomGlobal, model.EventDistributionStarted, payload); err != nil {
		logrus.Errorf("Failed to publish distribution started event: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"enqueued": enqueued,
		"trigger":  trigger,
	}).Info("Distribution cycle enqueued")
	return enqueued, nil
}

// ProcessDistribution performs one syndicate's payout. Called by the queue
// worker, one job at a time. The returned result is persisted with the job's
// completion record; an error return hands the job back to the queue's retry
// policy.
func (c *Cardroom) ProcessDistribution(ctx context.Context, job *model.DistributionJob) (*model.DistributionResult, error) {
	ctx, span := tracer.Start(ctx, "Process Distribution Job")
	defer span.End()
	span.SetAttributes(
		attribute.String("dividends.syndicate_id", job.SyndicateID),
		attribute.String("dividends.cycle_id", job.CycleID),
	)

	started := time.Now()
	periodEnd := time.Now().UTC()
	periodStart := periodEnd.AddDate(0, 0, -7)

	progress := func(paid, total int) {
		payload := model.DistributionProgressPayload{
			SyndicateID: job.SyndicateID,
			MembersPaid: paid,
			MemberCount: total,
		}
		if err := c.fanout.Publish(ctx, model.SyndicateRoom(job.SyndicateID), model.EventDistributionProgress, payload); err != nil {
			logrus.Debugf("Failed to publish distribution progress: %v", err)
		}
	}

	result, err := c.datasource.DistributeDividends(ctx, job.SyndicateID, job.Trigger, periodStart, periodEnd, progress)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"syndicate_id": job.SyndicateID,
			"duration_ms":  time.Since(started).Milliseconds(),
		}).Errorf("Distribution failed: %v", err)
		return nil, err
	}

	if result.TotalAmount > 0 {
		payload := model.DividendDistributedPayload{
			SyndicateID:     result.SyndicateID,
			SyndicateName:   result.SyndicateName,
			TotalAmount:     result.TotalAmount,
			AmountPerMember: result.AmountPerMember,
			EligibleMembers: result.EligibleMembers,
		}
		if err := c.fanout.Publish(ctx, model.SyndicateRoom(job.SyndicateID), model.EventDividendDistributed, payload); err != nil {
			logrus.Errorf("Failed to publish dividend distributed event: %v", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"syndicate_id": job.SyndicateID,
		"total":        result.TotalAmount,
		"per_member":   result.AmountPerMember,
		"members":      result.EligibleMembers,
		"duration_ms":  time.Since(started).Milliseconds(),
	}).Info("Distribution job processed")

	c.finishCycleJob(ctx, job.CycleID, result)
	return result, nil
}

// initCycleCounters seeds the shared per-cycle bookkeeping in Redis: jobs
// remaining, successes, and the running payout total.
func (c *Cardroom) initCycleCounters(ctx context.Context, cycleID string, jobs int) error {
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, cycleKeyPrefix+cycleID+":remaining", jobs, cycleKeyTTL)
	pipe.Set(ctx, cycleKeyPrefix+cycleID+":processed", 0, cycleKeyTTL)
	pipe.Set(ctx, cycleKeyPrefix+cycleID+":successful", 0, cycleKeyTTL)
	pipe.Set(ctx, cycleKeyPrefix+cycleID+":total", 0, cycleKeyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// finishCycleJob updates the cycle counters and, on the last job of the
// cycle, publishes the global summary. The counters live in Redis so the
// final job may complete on any instance.
func (c *Cardroom) finishCycleJob(ctx context.Context, cycleID string, result *model.DistributionResult) {
	if cycleID == "" {
		return
	}

	pipe := c.redis.TxPipeline()
	processed := pipe.Incr(ctx, cycleKeyPrefix+cycleID+":processed")
	remaining := pipe.Decr(ctx, cycleKeyPrefix+cycleID+":remaining")
	var successful *redis.IntCmd
	if result.Success {
		successful = pipe.Incr(ctx, cycleKeyPrefix+cycleID+":successful")
	} else {
		successful = pipe.IncrBy(ctx, cycleKeyPrefix+cycleID+":successful", 0)
	}
	total := pipe.IncrBy(ctx, cycleKeyPrefix+cycleID+":total", result.TotalAmount)
	if _, err := pipe.Exec(ctx); err != nil {
		logrus.Errorf("Failed to update cycle counters for %s: %v", cycleID, err)
		return
	}

	if remaining.Val() > 0 {
		return
	}

	payload := model.WeeklyDividendsPayload{
		SyndicatesProcessed: int(processed.Val()),
		Successful:          int(successful.Val()),
		TotalDistributed:    total.Val(),
	}
	if err := c.fanout.Publish(ctx, model.RoomGlobal, model.EventWeeklyDividendsDone, payload); err != nil {
		logrus.Errorf("Failed to publish weekly dividends summary: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"cycle_id":   cycleID,
		"processed":  processed.Val(),
		"successful": successful.Val(),
		"total":      total.Val(),
	}).Info("Distribution cycle complete")
}

// RecordFailedJob is called by the worker when a job exhausts its retry
// budget. The failure is counted against the cycle so the summary still
// fires, and reported for operator attention; sibling jobs are unaffected.
func (c *Cardroom) RecordFailedJob(ctx context.Context, job *model.DistributionJob, jobErr error) {
	logrus.WithFields(logrus.Fields{
		"syndicate_id": job.SyndicateID,
		"cycle_id":     job.CycleID,
	}).Errorf("Distribution job failed permanently: %v", jobErr)

	c.finishCycleJob(ctx, job.CycleID, &model.DistributionResult{
		Success:       false,
		SyndicateID:   job.SyndicateID,
		SyndicateName: job.SyndicateName,
		Error:         jobErr.Error(),
	})
}
