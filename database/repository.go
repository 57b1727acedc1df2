package database

import (
	"context"
	"time"

	"github.com/cardroomhq/cardroom/model"
)

// ProgressFunc is invoked after each member payout inside a distribution
// transaction, with the number of members paid so far and the total.
type ProgressFunc func(paid, total int)

type syndicate interface {
	GetSyndicate(ctx context.Context, syndicateID string) (*model.Syndicate, error)
	GetSyndicateMembers(ctx context.Context, syndicateID string) ([]model.SyndicateMember, error)
	GetEligibleSyndicates(ctx context.Context) ([]model.Syndicate, error)
	DistributeDividends(ctx context.Context, syndicateID, trigger string, periodStart, periodEnd time.Time, progress ProgressFunc) (*model.DistributionResult, error)
}

type IDataSource interface {
	syndicate
	Ping(ctx context.Context) error
}
