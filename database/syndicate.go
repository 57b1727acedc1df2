package database

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/cardroomhq/cardroom/internal/apierror"
	"github.com/cardroomhq/cardroom/model"
)

// Ping runs a trivial query over the direct connection; the health prober
// races it against its own timeout.
func (d Datasource) Ping(ctx context.Context) error {
	var one int
	return d.Direct.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// GetSyndicate fetches a syndicate with its live member count. Reads go
// through the cache; a payout invalidates the entry.
func (d Datasource) GetSyndicate(ctx context.Context, syndicateID string) (*model.Syndicate, error) {
	cacheKey := "syndicate:" + syndicateID
	if d.Cache != nil {
		var cached model.Syndicate
		if err := d.Cache.Get(ctx, cacheKey, &cached); err == nil && cached.SyndicateID != "" {
			return &cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT s.id, s.syndicate_id, s.name, s.treasury, s.created_at,
			(SELECT COUNT(*) FROM cardroom.syndicate_members m WHERE m.syndicate_id = s.syndicate_id)
		FROM cardroom.syndicates s
		WHERE s.syndicate_id = $1
	`, syndicateID)

	var s model.Syndicate
	err := row.Scan(&s.ID, &s.SyndicateID, &s.Name, &s.Treasury, &s.CreatedAt, &s.MemberCount)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Syndicate not found", syndicateID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetching syndicate")
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, cacheKey, s, 5*time.Minute); err != nil {
			log.Printf("failed to cache syndicate %s: %v", syndicateID, err)
		}
	}
	return &s, nil
}

func (d Datasource) GetSyndicateMembers(ctx context.Context, syndicateID string) ([]model.SyndicateMember, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, syndicate_id, player_id, balance, weekly_contribution, joined_at
		FROM cardroom.syndicate_members
		WHERE syndicate_id = $1
		ORDER BY id
	`, syndicateID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching syndicate members")
	}
	defer func() {
		_ = rows.Close()
	}()

	var members []model.SyndicateMember
	for rows.Next() {
		var m model.SyndicateMember
		if err := rows.Scan(&m.ID, &m.SyndicateID, &m.PlayerID, &m.Balance, &m.WeeklyContribution, &m.JoinedAt); err != nil {
			return nil, errors.Wrap(err, "scanning syndicate member")
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetEligibleSyndicates enumerates syndicates with a positive treasury and
// more than one member. The producer enqueues one job per returned row;
// syndicates filtered out here are skipped silently, not failed.
func (d Datasource) GetEligibleSyndicates(ctx context.Context) ([]model.Syndicate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT s.id, s.syndicate_id, s.name, s.treasury, s.created_at, COUNT(m.id)
		FROM cardroom.syndicates s
		JOIN cardroom.syndicate_members m ON m.syndicate_id = s.syndicate_id
		WHERE s.treasury > 0
		GROUP BY s.id, s.syndicate_id, s.name, s.treasury, s.created_at
		HAVING COUNT(m.id) > 1
		ORDER BY s.id
	`)
	if err != nil {
		return nil, errors.Wrap(err, "enumerating eligible syndicates")
	}
	defer func() {
		_ = rows.Close()
	}()

	var syndicates []model.Syndicate
	for rows.Next() {
		var s model.Syndicate
		if err := rows.Scan(&s.ID, &s.SyndicateID, &s.Name, &s.Treasury, &s.CreatedAt, &s.MemberCount); err != nil {
			return nil, errors.Wrap(err, "scanning eligible syndicate")
		}
		syndicates = append(syndicates, s)
	}
	return syndicates, rows.Err()
}

// DistributeDividends performs one syndicate's payout inside a single
// transaction. The syndicate row and its contributing members are re-read
// under row locks, so the snapshot carried by the job is never trusted. Member
// credits are written strictly sequentially: they share the transaction and
// must not race on write ordering. A treasury or membership state that yields
// nothing to pay is a successful no-op, not an error, so the queue never
// burns retries on a legitimately empty distribution.
func (d Datasource) DistributeDividends(ctx context.Context, syndicateID, trigger string, periodStart, periodEnd time.Time, progress ProgressFunc) (*model.DistributionResult, error) {
	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var name string
	var treasury int64
	err = tx.QueryRowContext(ctx, `
		SELECT name, treasury FROM cardroom.syndicates
		WHERE syndicate_id = $1
		FOR UPDATE
	`, syndicateID).Scan(&name, &treasury)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Syndicate not found", syndicateID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "locking syndicate row")
	}

	members, err := lockContributingMembers(ctx, tx, syndicateID)
	if err != nil {
		return nil, err
	}

	result := &model.DistributionResult{
		Success:       true,
		SyndicateID:   syndicateID,
		SyndicateName: name,
	}

	total, perMember, _ := model.ComputeShares(treasury, len(members))
	if total == 0 {
		// Nothing to distribute. Commit nothing, report a clean zero result.
		return result, nil
	}

	ledgerID := GenerateUUIDWithSuffix("ledger")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cardroom.dividend_ledger
			(ledger_id, syndicate_id, total_amount, amount_per_member, eligible_members, trigger_source, period_start, period_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, ledgerID, syndicateID, total, perMember, len(members), trigger, periodStart, periodEnd)
	if err != nil {
		return nil, errors.Wrap(err, "recording dividend ledger entry")
	}

	for i, m := range members {
		if err := payMember(ctx, tx, ledgerID, &m, perMember); err != nil {
			return nil, err
		}
		if progress != nil {
			progress(i+1, len(members))
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE cardroom.syndicates
		SET treasury = treasury - $2
		WHERE syndicate_id = $1 AND treasury >= $2
	`, syndicateID, total)
	if err != nil {
		return nil, errors.Wrap(err, "debiting treasury")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "debiting treasury")
	}
	if affected == 0 {
		// The row is locked, so this can only mean the treasury would go
		// negative. Abort rather than break the non-negative invariant.
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Treasury debit would overdraw syndicate", syndicateID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cardroom.audit_transactions (audit_id, ledger_id, syndicate_id, amount, direction, created_at)
		VALUES ($1, $2, $3, $4, 'debit', NOW())
	`, GenerateUUIDWithSuffix("audit"), ledgerID, syndicateID, total)
	if err != nil {
		return nil, errors.Wrap(err, "recording treasury audit transaction")
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit distribution", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Delete(ctx, "syndicate:"+syndicateID); err != nil {
			log.Printf("failed to invalidate syndicate cache for %s: %v", syndicateID, err)
		}
	}

	result.TotalAmount = total
	result.AmountPerMember = perMember
	result.EligibleMembers = len(members)
	return result, nil
}

func lockContributingMembers(ctx context.Context, tx *sql.Tx, syndicateID string) ([]model.SyndicateMember, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, player_id FROM cardroom.syndicate_members
		WHERE syndicate_id = $1 AND weekly_contribution > 0
		ORDER BY id
		FOR UPDATE
	`, syndicateID)
	if err != nil {
		return nil, errors.Wrap(err, "locking contributing members")
	}
	defer func() {
		_ = rows.Close()
	}()

	var members []model.SyndicateMember
	for rows.Next() {
		var m model.SyndicateMember
		m.SyndicateID = syndicateID
		if err := rows.Scan(&m.ID, &m.PlayerID); err != nil {
			return nil, errors.Wrap(err, "scanning contributing member")
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// payMember credits one member, records the audit transaction referencing the
// ledger entry, and resets the member's weekly contribution counter.
func payMember(ctx context.Context, tx *sql.Tx, ledgerID string, m *model.SyndicateMember, amount int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE cardroom.syndicate_members
		SET balance = balance + $2, weekly_contribution = 0
		WHERE id = $1
	`, m.ID, amount)
	if err != nil {
		return errors.Wrapf(err, "crediting member %s", m.PlayerID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cardroom.audit_transactions (audit_id, ledger_id, syndicate_id, player_id, amount, direction, created_at)
		VALUES ($1, $2, $3, $4, $5, 'credit', NOW())
	`, GenerateUUIDWithSuffix("audit"), ledgerID, m.SyndicateID, m.PlayerID, amount)
	if err != nil {
		return errors.Wrapf(err, "recording audit transaction for member %s", m.PlayerID)
	}
	return nil
}
