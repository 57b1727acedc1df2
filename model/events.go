package model

import "time"

// Real-time event names delivered through the fan-out adapter. These are the
// wire contract the game and chat layers depend on; renaming one breaks
// connected clients.
const (
	EventDistributionStarted  = "dividend_distribution_started"
	EventDistributionProgress = "dividend_distribution_progress"
	EventDividendDistributed  = "dividend_distributed"
	EventWeeklyDividendsDone  = "weekly_dividends_distributed"
	EventHappyHourStarted     = "happy_hour_started"
	EventHappyHourEndingSoon  = "happy_hour_ending_soon"
	EventHappyHourEnded       = "happy_hour_ended"
)

// RoomGlobal is the broadcast room every connected client joins.
const RoomGlobal = "global"

// SyndicateRoom returns the room dedicated to one syndicate's events.
func SyndicateRoom(syndicateID string) string {
	return "syndicate:" + syndicateID
}

type DistributionStartedPayload struct {
	EnqueuedCount              int `json:"enqueuedCount"`
	EstimatedCompletionMinutes int `json:"estimatedCompletionMinutes"`
}

type DividendDistributedPayload struct {
	SyndicateID     string `json:"syndicateId"`
	SyndicateName   string `json:"syndicateName"`
	TotalAmount     int64  `json:"totalAmount"`
	AmountPerMember int64  `json:"amountPerMember"`
	EligibleMembers int    `json:"eligibleMembers"`
}

type WeeklyDividendsPayload struct {
	SyndicatesProcessed int   `json:"syndicatesProcessed"`
	Successful          int   `json:"successful"`
	TotalDistributed    int64 `json:"totalDistributed"`
}

type HappyHourPayload struct {
	EventID    string    `json:"eventId"`
	Multiplier float64   `json:"multiplier"`
	BonusType  string    `json:"bonusType"`
	EndsAt     time.Time `json:"endsAt,omitempty"`
}

type DistributionProgressPayload struct {
	SyndicateID string `json:"syndicateId"`
	MembersPaid int    `json:"membersPaid"`
	MemberCount int    `json:"memberCount"`
}
