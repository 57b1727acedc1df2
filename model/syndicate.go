package model

import "time"

// Syndicate is a group financial pool with a shared treasury. Members pay
// into the treasury through their weekly contributions and receive periodic
// dividend payouts from it.
type Syndicate struct {
	ID          int64     `json:"-"`
	SyndicateID string    `json:"syndicate_id"`
	Name        string    `json:"name"`
	Treasury    int64     `json:"treasury"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type SyndicateMember struct {
	ID                 int64     `json:"-"`
	SyndicateID        string    `json:"syndicate_id"`
	PlayerID           string    `json:"player_id"`
	Balance            int64     `json:"balance"`
	WeeklyContribution int64     `json:"weekly_contribution"`
	JoinedAt           time.Time `json:"joined_at"`
}

// Eligible reports whether the syndicate qualifies for a dividend cycle at
// all. Syndicates failing this filter are skipped by the producer, no job is
// created for them.
func (s *Syndicate) Eligible() bool {
	return s.Treasury > 0 && s.MemberCount > 1
}
