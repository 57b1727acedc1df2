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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/model"
)

func TestIsJobFailure(t *testing.T) {
	assert.True(t, IsJobFailure(errors.New("payout failed")))
	assert.False(t, IsJobFailure(&RateLimitError{RetryIn: time.Second}))
	assert.False(t, IsJobFailure(fmt.Errorf("wrapped: %w", &RateLimitError{RetryIn: time.Second})))
}

func TestRetryDelay_ExponentialFromBase(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	assert.Equal(t, 5*time.Second, RetryDelay(0, errors.New("boom"), nil))
	assert.Equal(t, 10*time.Second, RetryDelay(1, errors.New("boom"), nil))
	assert.Equal(t, 20*time.Second, RetryDelay(2, errors.New("boom"), nil))
}

func TestRetryDelay_RateLimitedUsesLimiterDelay(t *testing.T) {
	config.MockConfig(&config.Configuration{})

	delay := RetryDelay(2, &RateLimitError{RetryIn: 42 * time.Second}, nil)
	assert.Equal(t, 42*time.Second, delay)
}

func TestPruneSelection_CapsCompleted(t *testing.T) {
	base := time.Unix(1000, 0)
	var tasks []*asynq.TaskInfo
	for i := 0; i < 5; i++ {
		tasks = append(tasks, &asynq.TaskInfo{
			ID:          fmt.Sprintf("job_%d", i),
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	// The two oldest completions fall past a cap of three, regardless of the
	// order the inspector listed them in.
	ids := excessCompletedIDs(tasks, 3)
	assert.ElementsMatch(t, []string{"job_0", "job_1"}, ids)

	assert.Nil(t, excessCompletedIDs(tasks, 5))
	assert.Nil(t, excessCompletedIDs(nil, 3))
}

func TestPruneSelection_ExpiresArchived(t *testing.T) {
	now := time.Unix(100000, 0)
	tasks := []*asynq.TaskInfo{
		{ID: "fresh", LastFailedAt: now.Add(-24 * time.Hour)},
		{ID: "borderline", LastFailedAt: now.Add(-failedJobRetention)},
		{ID: "stale", LastFailedAt: now.Add(-failedJobRetention - time.Hour)},
	}

	ids := expiredArchivedIDs(tasks, now, failedJobRetention)
	assert.Equal(t, []string{"stale"}, ids)
}

func TestGetDistributionJob_MissingJobIsNotAnError(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	mr := miniredis.RunT(t)

	opt := asynq.RedisClientOpt{Addr: mr.Addr()}
	q := &Queue{Client: asynq.NewClient(opt), Inspector: asynq.NewInspector(opt)}
	t.Cleanup(q.Shutdown)

	job, err := q.GetDistributionJob("dividend_syn_1_1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestGetDistributionJob_PropagatesBrokerError(t *testing.T) {
	config.MockConfig(&config.Configuration{})
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	opt := asynq.RedisClientOpt{Addr: addr}
	q := &Queue{Client: asynq.NewClient(opt), Inspector: asynq.NewInspector(opt)}
	t.Cleanup(q.Shutdown)

	_, err := q.GetDistributionJob("dividend_syn_1_1")
	assert.Error(t, err)
}

func TestNewDistributionJob_DerivesUniqueIDs(t *testing.T) {
	s := &model.Syndicate{SyndicateID: "syn_1", Name: "High Rollers", Treasury: 1000, MemberCount: 3}

	first := model.NewDistributionJob(s, model.TriggerScheduled, time.Unix(0, 1))
	second := model.NewDistributionJob(s, model.TriggerScheduled, time.Unix(0, 2))

	assert.Equal(t, "dividend_syn_1_1", first.JobID)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, int64(1000), first.TreasurySnapshot)
	assert.Equal(t, 3, first.MemberSnapshot)
}
