package model

import "time"

const (
	BonusTypeWinnings = "winnings"
	BonusTypeBingo    = "bingo"
)

// HappyHourEvent is a time-boxed bonus-multiplier window. At most one event
// may be active at any instant, platform wide.
type HappyHourEvent struct {
	EventID    string    `json:"event_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Multiplier float64   `json:"multiplier"`
	BonusType  string    `json:"bonus_type"`
	IsRandom   bool      `json:"is_random"`
}

func (e *HappyHourEvent) ActiveAt(now time.Time) bool {
	return !now.Before(e.StartTime) && now.Before(e.EndTime)
}
