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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/database"
	"github.com/cardroomhq/cardroom/model"
)

// localFanOut builds an adapter in local-only mode so event dispatch is
// synchronous and needs no broker.
func localFanOut() *FanOut {
	return &FanOut{
		rooms:     make(map[string]map[chan Event]struct{}),
		localOnly: true,
		done:      make(chan struct{}),
	}
}

func newTestCardroom(t *testing.T) (*Cardroom, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	config.MockConfig(&config.Configuration{})

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := NewCardroom(&database.Datasource{Conn: db, Direct: db}, nil, localFanOut(), redisClient)
	return c, mock, mr
}

func TestStartDistributionCycle_SkipsWhenLockHeld(t *testing.T) {
	c, mock, mr := newTestCardroom(t)

	// Another instance already produced this cycle.
	require.NoError(t, mr.Set(producerLockKey, "cycle_elsewhere"))

	enqueued, err := c.StartDistributionCycle(context.Background(), model.TriggerScheduled)

	assert.NoError(t, err)
	assert.Zero(t, enqueued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartDistributionCycle_EmptyEnumeration(t *testing.T) {
	c, mock, mr := newTestCardroom(t)

	mock.ExpectQuery("SELECT s.id, s.syndicate_id, s.name, s.treasury").
		WillReturnRows(sqlmock.NewRows([]string{"id", "syndicate_id", "name", "treasury", "created_at", "count"}))

	events, cancel := c.FanOut().Subscribe(model.RoomGlobal)
	defer cancel()

	enqueued, err := c.StartDistributionCycle(context.Background(), model.TriggerManual)

	assert.NoError(t, err)
	assert.Zero(t, enqueued)
	assert.NoError(t, mock.ExpectationsWereMet())

	select {
	case ev := <-events:
		assert.Equal(t, model.EventDistributionStarted, ev.Name)
		var payload model.DistributionStartedPayload
		assert.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Zero(t, payload.EnqueuedCount)
	case <-time.After(time.Second):
		t.Fatal("expected a distribution started event")
	}

	// The producer lock must be released for the next cycle.
	assert.False(t, mr.Exists(producerLockKey))
}

func TestFinishCycleJob_PublishesSummaryOnLastJob(t *testing.T) {
	c, _, mr := newTestCardroom(t)
	ctx := context.Background()

	require.NoError(t, c.initCycleCounters(ctx, "cycle_1", 2))

	events, cancel := c.FanOut().Subscribe(model.RoomGlobal)
	defer cancel()

	c.finishCycleJob(ctx, "cycle_1", &model.DistributionResult{Success: true, TotalAmount: 100})

	select {
	case <-events:
		t.Fatal("summary must not fire while jobs remain")
	default:
	}
	remaining, err := mr.Get(cycleKeyPrefix + "cycle_1:remaining")
	require.NoError(t, err)
	assert.Equal(t, "1", remaining)

	c.finishCycleJob(ctx, "cycle_1", &model.DistributionResult{Success: false, Error: "payout failed"})

	select {
	case ev := <-events:
		assert.Equal(t, model.EventWeeklyDividendsDone, ev.Name)
		var payload model.WeeklyDividendsPayload
		assert.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Equal(t, 2, payload.SyndicatesProcessed)
		assert.Equal(t, 1, payload.Successful)
		assert.Equal(t, int64(100), payload.TotalDistributed)
	case <-time.After(time.Second):
		t.Fatal("expected a weekly summary event")
	}
}

func TestProcessDistribution_PublishesRoomEvents(t *testing.T) {
	c, mock, _ := newTestCardroom(t)

	syndicateName := gofakeit.Company()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT name, treasury FROM cardroom.syndicates").
		WithArgs("syn_1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "treasury"}).AddRow(syndicateName, 1000))
	mock.ExpectQuery("SELECT id, player_id FROM cardroom.syndicate_members").
		WithArgs("syn_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "player_id"}).
			AddRow(int64(1), "player_a").
			AddRow(int64(2), "player_b"))
	mock.ExpectExec("INSERT INTO cardroom.dividend_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	for range []int{1, 2} {
		mock.ExpectExec("UPDATE cardroom.syndicate_members").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO cardroom.audit_transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectExec("UPDATE cardroom.syndicates").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cardroom.audit_transactions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	events, cancel := c.FanOut().Subscribe(model.SyndicateRoom("syn_1"))
	defer cancel()

	job := &model.DistributionJob{JobID: "dividend_syn_1_1", SyndicateID: "syn_1", Trigger: model.TriggerScheduled}
	result, err := c.ProcessDistribution(context.Background(), job)

	assert.NoError(t, err)
	assert.Equal(t, int64(100), result.TotalAmount)
	assert.Equal(t, syndicateName, result.SyndicateName)
	assert.NoError(t, mock.ExpectationsWereMet())

	var names []string
	for len(names) < 3 {
		select {
		case ev := <-events:
			names = append(names, ev.Name)
		case <-time.After(time.Second):
			t.Fatalf("expected 3 events, got %v", names)
		}
	}
	assert.Equal(t, []string{
		model.EventDistributionProgress,
		model.EventDistributionProgress,
		model.EventDividendDistributed,
	}, names)
}

func TestComputeShares(t *testing.T) {
	tests := []struct {
		name      string
		treasury  int64
		members   int
		total     int64
		perMember int64
		remainder int64
	}{
		{"even split", 1000, 2, 100, 50, 0},
		{"uneven split keeps remainder", 1000, 3, 100, 33, 1},
		{"tiny treasury is a no-op", 7, 3, 0, 0, 0},
		{"per-member rounds to zero", 50, 12, 0, 0, 0},
		{"no members", 1000, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, perMember, remainder := model.ComputeShares(tt.treasury, tt.members)
			assert.Equal(t, tt.total, total)
			assert.Equal(t, tt.perMember, perMember)
			assert.Equal(t, tt.remainder, remainder)
		})
	}
}
