/*
Package quests tracks per-user quest progress and pays quest rewards.

PURPOSE:
  A quest is a counted activity goal (share once today, create a market
  this week, refer a friend this week). The tracker recomputes the count
  for the current period from the activity source, stores it as the
  user's score, and pays the reward exactly once when the count reaches
  the required number.

KEY CONCEPTS:
  - QuestType: SHARES, MARKETS_CREATED, REFERRALS
  - Definition: Required count, reward and period for a quest type
  - Score: Stored progress for one period plus the idempotency key of
    the last trigger
  - Result: Count, and the reward entry when one was paid

STATE MACHINE (per user, quest type, period):
  count < required   -> store score, no reward
  count == required  -> reward if the score changed, then store score
  count == score     -> nothing new, no reward (re-triggers are no-ops)
  next period        -> stored score counts as 0, counts restart

  The score is only advanced to the required count after the reward
  commits, so a failed payment is retried by the next call.

  Counts that skip past the required number in one update do not pay.

SEE ALSO:
  - tracker.go: Tracker
  - definitions.go: TOML quest definitions
  - generic/idempotency.go: Duplicate-grant guard
*/
package quests

import (
	"context"
	"time"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
)

// =============================================================================
// QUEST TYPES
// =============================================================================

type QuestType string

const (
	QuestShares         QuestType = "SHARES"
	QuestMarketsCreated QuestType = "MARKETS_CREATED"
	QuestReferrals      QuestType = "REFERRALS"
)

// Score is a user's stored progress for one quest. PeriodStart is the
// start of the period Score was counted in; zero for users without a row.
type Score struct {
	UserID         generic.AccountID
	ScoreID        string
	Score          int
	IdempotencyKey string
	PeriodStart    time.Time
}

// In returns the score as seen from period p: a score stored for another
// period counts as 0.
func (s Score) In(p generic.Period) int {
	if !s.PeriodStart.Equal(p.Start) {
		return 0
	}
	return s.Score
}

// Result is returned by every completion call. Txn is nil unless this
// call paid the reward.
type Result struct {
	Count       int
	Txn         *generic.LedgerEntry
	BonusAmount generic.Amount
}

// TriggerEvent is a queued markets-created trigger.
type TriggerEvent struct {
	ID         string
	UserID     generic.AccountID
	QuestType  QuestType
	ContractID string
	CreatedAt  time.Time
	// Attempts counts failed deliveries so far.
	Attempts int
}

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ScoreStore persists quest scores. GetScore returns a zero Score for
// users without a row.
type ScoreStore interface {
	GetScore(ctx context.Context, userID generic.AccountID, scoreID string) (Score, error)
	SetScore(ctx context.Context, s Score) error
}

// ActivitySource counts qualifying activity since a period start.
type ActivitySource interface {
	CountShareEvents(ctx context.Context, userID generic.AccountID, since time.Time) (int, error)
	CountReferrals(ctx context.Context, userID generic.AccountID, since time.Time) (int, error)
}

// ContractSource lists markets a user created since a period start.
// GetContract returns generic.ErrNotFound for unknown ids.
type ContractSource interface {
	RecentContractIDs(ctx context.Context, creatorID generic.AccountID, since time.Time) ([]string, error)
	GetContract(ctx context.Context, id string) (market.Contract, error)
}

// Notifier is told about every paid reward after it commits.
type Notifier interface {
	QuestPayout(ctx context.Context, userID generic.AccountID, entry generic.LedgerEntry, count int, questType QuestType) error
}

// Recorder receives paid rewards. Implemented by the metrics package.
type Recorder interface {
	RewardGranted(questType string, amount generic.Amount)
}
