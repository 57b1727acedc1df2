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
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/cardroomhq/cardroom/config"
	redis_db "github.com/cardroomhq/cardroom/internal/redis-db"

	"github.com/cardroomhq/cardroom/model"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
)

const (
	// completedJobsCap bounds the completed set alongside the time-based
	// retention; whichever limit bites first wins.
	completedJobsCap = 1000

	// failedJobRetention bounds the archive kept for postmortems.
	failedJobRetention = 30 * 24 * time.Hour

	pruneBatchSize = 100
)

// Queue is the durable dividend work queue. Delivery is at-least-once; job
// IDs carry the enqueue timestamp so a producer retry within one cycle
// cannot silently duplicate work while a later cycle can re-enqueue the same
// syndicate.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// QueueStats aggregates job counts for dashboards and for checking whether a
// scheduled run already drained.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// NewQueue initializes a new Queue instance with the provided configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueDistribution submits one syndicate's distribution job. All dividend
// jobs carry equal priority; retry and retention policy live here, not at the
// call sites.
func (q *Queue) EnqueueDistribution(ctx context.Context, job *model.DistributionJob) error {
	ctx, span := otel.Tracer("cardroom.queue").Start(ctx, "Adding Distribution Job To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.TaskID(job.JobID),
		asynq.Queue(cfg.Queue.DividendQueue),
		asynq.MaxRetry(cfg.Queue.MaxRetryAttempts),
		asynq.Retention(time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour),
	}
	task := asynq.NewTask(cfg.Queue.DividendQueue, payload, taskOptions...)

	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued distribution job: %s (%s)", job.JobID, job.SyndicateName)

	return nil
}

// GetDistributionJob retrieves a pending distribution job by its ID, nil if
// the queue no longer holds it.
func (q *Queue) GetDistributionJob(jobID string) (*model.DistributionJob, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	task, err := q.Inspector.GetTaskInfo(cfg.Queue.DividendQueue, jobID)
	if err != nil {
		// Not-found means the job aged out or never existed; anything else
		// is a broker problem the caller must see.
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	var job model.DistributionJob
	if err := json.Unmarshal(task.Payload, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Stats returns current job counts for the dividend queue.
func (q *Queue) Stats() (*QueueStats, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	info, err := q.Inspector.GetQueueInfo(cfg.Queue.DividendQueue)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed
	return stats, nil
}

// PruneRetention enforces the retention policy beyond what asynq applies on
// its own: at most completedJobsCap completed jobs stay around, and archived
// jobs are dropped once they are older than failedJobRetention. Called
// periodically by the worker process.
func (q *Queue) PruneRetention() error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	qname := cfg.Queue.DividendQueue

	completed, err := q.listAll(qname, q.Inspector.ListCompletedTasks)
	if err != nil {
		return err
	}
	archived, err := q.listAll(qname, q.Inspector.ListArchivedTasks)
	if err != nil {
		return err
	}

	ids := excessCompletedIDs(completed, completedJobsCap)
	ids = append(ids, expiredArchivedIDs(archived, time.Now().UTC(), failedJobRetention)...)
	for _, id := range ids {
		if err := q.Inspector.DeleteTask(qname, id); err != nil {
			log.Printf("Failed to prune task %s: %v", id, err)
		}
	}
	if len(ids) > 0 {
		log.Printf(" [*] Pruned %d tasks past retention", len(ids))
	}
	return nil
}

func (q *Queue) listAll(qname string, list func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error)) ([]*asynq.TaskInfo, error) {
	var all []*asynq.TaskInfo
	for page := 1; ; page++ {
		tasks, err := list(qname, asynq.PageSize(pruneBatchSize), asynq.Page(page))
		if err != nil {
			if errors.Is(err, asynq.ErrQueueNotFound) {
				return nil, nil
			}
			return nil, err
		}
		all = append(all, tasks...)
		if len(tasks) < pruneBatchSize {
			return all, nil
		}
	}
}

// excessCompletedIDs returns the IDs past the newest max completions,
// independent of the order the inspector listed them in.
func excessCompletedIDs(tasks []*asynq.TaskInfo, max int) []string {
	if len(tasks) <= max {
		return nil
	}
	sorted := make([]*asynq.TaskInfo, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CompletedAt.After(sorted[j].CompletedAt)
	})
	ids := make([]string, 0, len(sorted)-max)
	for _, task := range sorted[max:] {
		ids = append(ids, task.ID)
	}
	return ids
}

// expiredArchivedIDs returns the archived tasks whose last failure is older
// than maxAge.
func expiredArchivedIDs(tasks []*asynq.TaskInfo, now time.Time, maxAge time.Duration) []string {
	var ids []string
	for _, task := range tasks {
		if now.Sub(task.LastFailedAt) > maxAge {
			ids = append(ids, task.ID)
		}
	}
	return ids
}

// Shutdown closes the queue client connections, best effort.
func (q *Queue) Shutdown() {
	_ = q.Client.Close()
	_ = q.Inspector.Close()
}

// RateLimitError signals that the worker's job-start budget is spent. It is
// not a job failure: the task is pushed back and retried after the limiter
// frees up, without consuming a retry attempt.
type RateLimitError struct {
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %v", e.RetryIn)
}

// IsJobFailure reports whether the error should count against the job's
// retry budget. Wired into asynq.Config.IsFailure.
func IsJobFailure(err error) bool {
	var rle *RateLimitError
	return !errors.As(err, &rle)
}

// RetryDelay implements the queue's backoff curve: rate-limited tasks retry
// when the limiter says so, failed tasks back off exponentially from the
// configured base delay, doubling per attempt. Wired into
// asynq.Config.RetryDelayFunc.
func RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryIn
	}

	base := 5 * time.Second
	if cfg, cfgErr := config.Fetch(); cfgErr == nil {
		base = time.Duration(cfg.Queue.RetryBaseDelaySec) * time.Second
	}
	return base << uint(n)
}
