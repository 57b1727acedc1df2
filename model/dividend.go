package model

import (
	"fmt"
	"time"
)

const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// DistributionJob is the unit of work carried by the dividend queue: one job
// per eligible syndicate per cycle. The treasury and member-count fields are
// a snapshot taken at enqueue time, used only for producer-side reporting.
// The worker always re-reads live state inside its transaction.
type DistributionJob struct {
	JobID            string    `json:"job_id"`
	CycleID          string    `json:"cycle_id"`
	SyndicateID      string    `json:"syndicate_id"`
	SyndicateName    string    `json:"syndicate_name"`
	TreasurySnapshot int64     `json:"treasury_snapshot"`
	MemberSnapshot   int       `json:"member_snapshot"`
	Trigger          string    `json:"trigger"`
	EnqueuedAt       time.Time `json:"enqueued_at"`
}

// NewDistributionJob derives the job ID from the syndicate ID and the enqueue
// timestamp, so re-enqueueing the same syndicate in a later cycle never
// collides with a retained completed task.
func NewDistributionJob(s *Syndicate, trigger string, now time.Time) *DistributionJob {
	return &DistributionJob{
		JobID:            fmt.Sprintf("dividend_%s_%d", s.SyndicateID, now.UnixNano()),
		SyndicateID:      s.SyndicateID,
		SyndicateName:    s.Name,
		TreasurySnapshot: s.Treasury,
		MemberSnapshot:   s.MemberCount,
		Trigger:          trigger,
		EnqueuedAt:       now,
	}
}

// ComputeShares derives the payout amounts for one syndicate: a tenth of the
// treasury is paid out, split evenly across eligible members with integer
// division. A zero total or a per-member share that rounds to zero makes the
// whole distribution a no-op. The remainder is what the even split leaves
// over; it is never credited to a member.
func ComputeShares(treasury int64, eligibleMembers int) (total, perMember, remainder int64) {
	if treasury <= 0 || eligibleMembers <= 0 {
		return 0, 0, 0
	}
	total = treasury / 10
	if total == 0 {
		return 0, 0, 0
	}
	perMember = total / int64(eligibleMembers)
	if perMember == 0 {
		return 0, 0, 0
	}
	remainder = total - perMember*int64(eligibleMembers)
	return total, perMember, remainder
}

// DistributionResult is produced once per job attempt and persisted with the
// completion record for audit.
type DistributionResult struct {
	Success         bool   `json:"success"`
	SyndicateID     string `json:"syndicate_id"`
	SyndicateName   string `json:"syndicate_name"`
	TotalAmount     int64  `json:"total_amount"`
	AmountPerMember int64  `json:"amount_per_member"`
	EligibleMembers int    `json:"eligible_members"`
	Error           string `json:"error,omitempty"`
}

// DistributionLedgerEntry captures one syndicate's payout breakdown. Member
// audit transactions reference it by LedgerID.
type DistributionLedgerEntry struct {
	ID              int64     `json:"-"`
	LedgerID        string    `json:"ledger_id"`
	SyndicateID     string    `json:"syndicate_id"`
	TotalAmount     int64     `json:"total_amount"`
	AmountPerMember int64     `json:"amount_per_member"`
	EligibleMembers int       `json:"eligible_members"`
	Trigger         string    `json:"trigger"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditTransaction is the per-movement record written alongside every credit
// and the treasury debit.
type AuditTransaction struct {
	ID          int64     `json:"-"`
	AuditID     string    `json:"audit_id"`
	LedgerID    string    `json:"ledger_id"`
	SyndicateID string    `json:"syndicate_id"`
	PlayerID    string    `json:"player_id,omitempty"`
	Amount      int64     `json:"amount"`
	Direction   string    `json:"direction"` // "credit" or "debit"
	CreatedAt   time.Time `json:"created_at"`
}
