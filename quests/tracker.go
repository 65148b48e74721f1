package quests

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/warp/market-engine/generic"
)

// =============================================================================
// TRACKER
// =============================================================================

// Tracker recomputes quest progress and pays rewards.
type Tracker struct {
	coord     *generic.Coordinator
	ledger    generic.Ledger
	defs      Definitions
	scores    ScoreStore
	activity  ActivitySource
	contracts ContractSource
	notifier  Notifier
	recorder  Recorder
	logger    *zap.Logger

	// Location is the reference timezone for period boundaries.
	Location *time.Location
	Now      func() time.Time
}

// Deps groups the tracker's collaborators.
type Deps struct {
	Coordinator *generic.Coordinator
	Ledger      generic.Ledger
	Definitions Definitions
	Scores      ScoreStore
	Activity    ActivitySource
	Contracts   ContractSource
	Notifier    Notifier
	Recorder    Recorder
	Logger      *zap.Logger
	Location    *time.Location
}

func NewTracker(d Deps) *Tracker {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("quests")
	if d.Notifier == nil {
		d.Notifier = LogNotifier{Logger: logger}
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Definitions == nil {
		d.Definitions = DefaultDefinitions()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Tracker{
		coord:     d.Coordinator,
		ledger:    d.Ledger,
		defs:      d.Definitions,
		scores:    d.Scores,
		activity:  d.Activity,
		contracts: d.Contracts,
		notifier:  d.Notifier,
		recorder:  d.Recorder,
		logger:    logger,
		Location:  d.Location,
		Now:       time.Now,
	}
}

func (t *Tracker) period(def Definition) generic.Period {
	return generic.PeriodConfig{Type: def.Period, Location: t.Location}.PeriodFor(t.Now())
}

// CompleteSharingQuest recounts today's share events for userID.
func (t *Tracker) CompleteSharingQuest(ctx context.Context, userID generic.AccountID) (Result, error) {
	def, err := t.defs.Get(QuestShares)
	if err != nil {
		return Result{}, err
	}
	period := t.period(def)

	count, err := t.activity.CountShareEvents(ctx, userID, period.Start)
	if err != nil {
		return Result{}, err
	}
	old, err := t.scores.GetScore(ctx, userID, def.ScoreID)
	if err != nil {
		return Result{}, err
	}
	return t.complete(ctx, userID, def, period, old, count, "")
}

// CompleteCalculatedQuestFromTrigger recounts the markets userID created
// this week. contractID is the market whose creation fired the trigger; it
// is counted even if the contract listing has not caught up with it yet,
// provided userID created it this period. A repeated idempotencyKey
// returns the stored score without recounting.
func (t *Tracker) CompleteCalculatedQuestFromTrigger(ctx context.Context, userID generic.AccountID, questType QuestType, idempotencyKey, contractID string) (Result, error) {
	if questType != QuestMarketsCreated {
		return Result{}, generic.Errorf(generic.ErrUnsupportedKind, "Quest %s is not trigger-calculated", questType)
	}
	def, err := t.defs.Get(questType)
	if err != nil {
		return Result{}, err
	}
	period := t.period(def)

	old, err := t.scores.GetScore(ctx, userID, def.ScoreID)
	if err != nil {
		return Result{}, err
	}
	if idempotencyKey != "" && old.IdempotencyKey == idempotencyKey {
		return Result{Count: old.Score}, nil
	}

	ids, err := t.contracts.RecentContractIDs(ctx, userID, period.Start)
	if err != nil {
		return Result{}, err
	}
	if contractID != "" && !slices.Contains(ids, contractID) {
		counted, err := t.triggeringContract(ctx, userID, contractID, period)
		if err != nil {
			return Result{}, err
		}
		if counted {
			ids = append(ids, contractID)
		}
	}
	count := len(ids)

	t.logger.Debug("markets created this period",
		zap.String("user_id", string(userID)),
		zap.Int("count", count),
		zap.Int("old_score", old.In(period)),
		zap.String("idempotency_key", idempotencyKey),
	)
	return t.complete(ctx, userID, def, period, old, count, idempotencyKey)
}

// triggeringContract checks a contract missing from the listing. It must
// exist and belong to userID; it counts only if created this period.
func (t *Tracker) triggeringContract(ctx context.Context, userID generic.AccountID, contractID string, period generic.Period) (bool, error) {
	c, err := t.contracts.GetContract(ctx, contractID)
	if errors.Is(err, generic.ErrNotFound) {
		return false, generic.Wrap(generic.ErrNotFound, err, "Contract not found")
	}
	if err != nil {
		return false, err
	}
	if c.CreatorID != userID {
		return false, generic.Errorf(generic.ErrForbidden, "Contract %s was not created by %s", contractID, userID)
	}
	return !c.CreatedAt.Before(period.Start), nil
}

// CompleteReferralsQuest recounts this week's referrals. Referral rewards
// are paid elsewhere; this only keeps the score current.
func (t *Tracker) CompleteReferralsQuest(ctx context.Context, userID generic.AccountID) (Result, error) {
	def, err := t.defs.Get(QuestReferrals)
	if err != nil {
		return Result{}, err
	}
	period := t.period(def)

	count, err := t.activity.CountReferrals(ctx, userID, period.Start)
	if err != nil {
		return Result{}, err
	}
	old, err := t.scores.GetScore(ctx, userID, def.ScoreID)
	if err != nil {
		return Result{}, err
	}
	if err := t.storeScore(ctx, userID, def, period, old, count, ""); err != nil {
		return Result{}, err
	}
	return Result{Count: count}, nil
}

func (t *Tracker) complete(ctx context.Context, userID generic.AccountID, def Definition, period generic.Period, old Score, count int, idempotencyKey string) (Result, error) {
	oldScore := old.In(period)
	t.logger.Info("quest progress",
		zap.String("user_id", string(userID)),
		zap.String("quest_type", string(def.Type)),
		zap.Int("old_score", oldScore),
		zap.Int("count", count),
		zap.Int("required", def.RequiredCount),
		zap.Time("period_start", period.Start),
	)

	if !def.Payout || count == oldScore || count != def.RequiredCount {
		if err := t.storeScore(ctx, userID, def, period, old, count, idempotencyKey); err != nil {
			return Result{}, err
		}
		return Result{Count: count}, nil
	}

	// The score moves to the threshold only once the reward is in the
	// ledger. A failed payment leaves the old score and key in place.
	entry, err := t.award(ctx, userID, def, count, period)
	if err != nil {
		msg := "Could not award quest bonus"
		if errors.Is(err, generic.ErrAlreadyAwarded) {
			msg = "Already awarded quest bonus"
			if serr := t.storeScore(ctx, userID, def, period, old, count, idempotencyKey); serr != nil {
				t.logger.Warn("quest score not stored", zap.String("user_id", string(userID)), zap.Error(serr))
			}
		}
		t.logger.Warn("quest reward not paid",
			zap.String("user_id", string(userID)),
			zap.String("quest_type", string(def.Type)),
			zap.Error(err),
		)
		return Result{}, generic.Wrap(generic.ErrInternal, err, msg)
	}

	// The guard finds this entry if the score write below is lost.
	if err := t.storeScore(ctx, userID, def, period, old, count, idempotencyKey); err != nil {
		t.logger.Error("quest score not stored after payout",
			zap.String("user_id", string(userID)),
			zap.String("entry_id", string(entry.ID)),
			zap.Error(err),
		)
	}

	bonus := def.RewardAmount()
	t.recorder.RewardGranted(string(def.Type), bonus)
	if err := t.notifier.QuestPayout(ctx, userID, entry, count, def.Type); err != nil {
		t.logger.Error("quest payout notification failed",
			zap.String("user_id", string(userID)),
			zap.String("entry_id", string(entry.ID)),
			zap.Error(err),
		)
	}
	return Result{Count: count, Txn: &entry, BonusAmount: bonus}, nil
}

// storeScore writes count for period. Unchanged scores without a key are
// not rewritten.
func (t *Tracker) storeScore(ctx context.Context, userID generic.AccountID, def Definition, period generic.Period, old Score, count int, idempotencyKey string) error {
	if idempotencyKey == "" && count == old.Score && count == old.In(period) {
		return nil
	}
	return t.scores.SetScore(ctx, Score{
		UserID:         userID,
		ScoreID:        def.ScoreID,
		Score:          count,
		IdempotencyKey: idempotencyKey,
		PeriodStart:    period.Start,
	})
}

// award pays the reward from the bank. The duplicate check runs on the
// same transaction as the payment and is scoped to the quest's period.
func (t *Tracker) award(ctx context.Context, userID generic.AccountID, def Definition, count int, period generic.Period) (generic.LedgerEntry, error) {
	meta := map[string]string{
		"questType":  string(def.Type),
		"questCount": strconv.Itoa(count),
	}
	return generic.RunValue(ctx, t.coord, "quest_reward", func(ctx context.Context, tx generic.Tx) (generic.LedgerEntry, error) {
		err := generic.EnsureFirst(ctx, tx, generic.EntryFilter{
			ToID:     userID,
			Category: generic.CategoryQuestReward,
			Since:    period.Start,
			Metadata: meta,
		})
		if err != nil {
			return generic.LedgerEntry{}, err
		}
		return t.ledger.Transfer(ctx, tx, generic.Transfer{
			FromID:         generic.BankID,
			FromType:       generic.AccountBank,
			ToID:           userID,
			ToType:         generic.AccountUser,
			Amount:         def.RewardAmount(),
			Category:       generic.CategoryQuestReward,
			Metadata:       meta,
			CountAsDeposit: true,
		})
	})
}

// =============================================================================
// NOTIFIER / RECORDER DEFAULTS
// =============================================================================

// LogNotifier writes payouts to the log. Used when no delivery channel is
// configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) QuestPayout(_ context.Context, userID generic.AccountID, entry generic.LedgerEntry, count int, questType QuestType) error {
	n.Logger.Info("quest payout",
		zap.String("user_id", string(userID)),
		zap.String("quest_type", string(questType)),
		zap.Int("count", count),
		zap.String("entry_id", string(entry.ID)),
		zap.Stringer("amount", entry.Amount),
	)
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RewardGranted(string, generic.Amount) {}
