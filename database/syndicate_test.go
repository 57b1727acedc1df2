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

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stretchr/testify/assert"
)

func expectSyndicateLock(mock sqlmock.Sqlmock, syndicateID, name string, treasury int64) {
	mock.ExpectQuery("SELECT name, treasury FROM cardroom.syndicates").
		WithArgs(syndicateID).
		WillReturnRows(sqlmock.NewRows([]string{"name", "treasury"}).AddRow(name, treasury))
}

func expectContributingMembers(mock sqlmock.Sqlmock, syndicateID string, playerIDs ...string) {
	rows := sqlmock.NewRows([]string{"id", "player_id"})
	for i, p := range playerIDs {
		rows.AddRow(int64(i+1), p)
	}
	mock.ExpectQuery("SELECT id, player_id FROM cardroom.syndicate_members").
		WithArgs(syndicateID).
		WillReturnRows(rows)
}

func TestDistributeDividends_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// treasury=1000 with two contributing members: total=100, 50 each
	mock.ExpectBegin()
	expectSyndicateLock(mock, "syn_1", "High Rollers", 1000)
	expectContributingMembers(mock, "syn_1", "player_a", "player_b")

	mock.ExpectExec("INSERT INTO cardroom.dividend_ledger").
		WithArgs(sqlmock.AnyArg(), "syn_1", int64(100), int64(50), 2, "scheduled", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	for _, player := range []string{"player_a", "player_b"} {
		mock.ExpectExec("UPDATE cardroom.syndicate_members").
			WithArgs(sqlmock.AnyArg(), int64(50)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO cardroom.audit_transactions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syn_1", player, int64(50)).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}

	mock.ExpectExec("UPDATE cardroom.syndicates").
		WithArgs("syn_1", int64(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO cardroom.audit_transactions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "syn_1", int64(100)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var progressCalls []int
	result, err := ds.DistributeDividends(context.Background(), "syn_1", "scheduled",
		time.Now().AddDate(0, 0, -7), time.Now(), func(paid, total int) {
			progressCalls = append(progressCalls, paid)
		})

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(100), result.TotalAmount)
	assert.Equal(t, int64(50), result.AmountPerMember)
	assert.Equal(t, 2, result.EligibleMembers)
	assert.Equal(t, []int{1, 2}, progressCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributeDividends_NoOpOnTinyTreasury(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	// treasury=7 yields total=0: the job must succeed with zero amounts and
	// leave the treasury untouched.
	mock.ExpectBegin()
	expectSyndicateLock(mock, "syn_2", "Penny Pool", 7)
	expectContributingMembers(mock, "syn_2", "a", "b", "c")
	mock.ExpectRollback()

	result, err := ds.DistributeDividends(context.Background(), "syn_2", "scheduled", time.Now(), time.Now(), nil)

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.TotalAmount)
	assert.Zero(t, result.AmountPerMember)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributeDividends_NoOpOnZeroContributors(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectSyndicateLock(mock, "syn_3", "Ghost Town", 5000)
	expectContributingMembers(mock, "syn_3")
	mock.ExpectRollback()

	result, err := ds.DistributeDividends(context.Background(), "syn_3", "manual", time.Now(), time.Now(), nil)

	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.TotalAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributeDividends_MemberCreditFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectBegin()
	expectSyndicateLock(mock, "syn_4", "Unlucky", 1000)
	expectContributingMembers(mock, "syn_4", "a", "b")
	mock.ExpectExec("INSERT INTO cardroom.dividend_ledger").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE cardroom.syndicate_members").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = ds.DistributeDividends(context.Background(), "syn_4", "scheduled", time.Now(), time.Now(), nil)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEligibleSyndicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"id", "syndicate_id", "name", "treasury", "created_at", "count"}).
		AddRow(1, "syn_1", "High Rollers", 1000, time.Now(), 4).
		AddRow(2, "syn_2", "Card Sharks", 250, time.Now(), 2)
	mock.ExpectQuery("SELECT s.id, s.syndicate_id, s.name, s.treasury, s.created_at, COUNT").
		WillReturnRows(rows)

	syndicates, err := ds.GetEligibleSyndicates(context.Background())
	assert.NoError(t, err)
	assert.Len(t, syndicates, 2)
	assert.Equal(t, "syn_1", syndicates[0].SyndicateID)
	assert.Equal(t, 4, syndicates[0].MemberCount)
	assert.True(t, syndicates[1].Eligible())
}
