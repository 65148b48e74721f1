package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/quests"
)

// ─── Quest scores ───────────────────────────────────────────────────────────

// GetScore returns a zero score when the user has no row yet.
func (s *Store) GetScore(ctx context.Context, userID generic.AccountID, scoreID string) (quests.Score, error) {
	sc := quests.Score{UserID: userID, ScoreID: scoreID}
	var (
		key         sql.NullString
		periodStart int64
	)
	err := s.queryRow(ctx, `
		SELECT score, idempotency_key, period_start FROM user_quest_scores
		WHERE user_id = ? AND score_id = ?`, string(userID), scoreID,
	).Scan(&sc.Score, &key, &periodStart)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, nil
	}
	if err != nil {
		return quests.Score{}, mapErr(err)
	}
	sc.IdempotencyKey = key.String
	sc.PeriodStart = fromMillis(periodStart)
	return sc, nil
}

// SetScore upserts a score. An empty idempotency key keeps the stored one.
func (s *Store) SetScore(ctx context.Context, sc quests.Score) error {
	_, err := s.exec(ctx, `
		INSERT INTO user_quest_scores (user_id, score_id, score, idempotency_key, period_start)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, score_id) DO UPDATE SET
			score = excluded.score,
			idempotency_key = COALESCE(excluded.idempotency_key, user_quest_scores.idempotency_key),
			period_start = excluded.period_start`,
		string(sc.UserID), sc.ScoreID, sc.Score, nullString(sc.IdempotencyKey), toMillis(sc.PeriodStart),
	)
	if err != nil {
		return fmt.Errorf("set score %s/%s: %w", sc.UserID, sc.ScoreID, err)
	}
	return nil
}

// ─── Activity ───────────────────────────────────────────────────────────────

const shareEventName = "share"

// RecordUserEvent stores one tracked event. Only "share" events count
// toward a quest.
func (s *Store) RecordUserEvent(ctx context.Context, id string, userID generic.AccountID, name string, at time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO user_events (id, user_id, name, created_time)
		VALUES (?, ?, ?, ?)`,
		id, string(userID), name, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record %s event: %w", name, err)
	}
	return nil
}

func (s *Store) RecordShareEvent(ctx context.Context, id string, userID generic.AccountID, at time.Time) error {
	return s.RecordUserEvent(ctx, id, userID, shareEventName, at)
}

// CountShareEvents counts share events at or after since.
func (s *Store) CountShareEvents(ctx context.Context, userID generic.AccountID, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM user_events
		WHERE user_id = ? AND name = ? AND created_time >= ?`,
		string(userID), shareEventName, since.UnixMilli())
}

func (s *Store) RecordReferral(ctx context.Context, id string, referrerID, userID generic.AccountID, at time.Time) error {
	_, err := s.exec(ctx, `
		INSERT INTO referrals (id, referrer_id, user_id, created_time)
		VALUES (?, ?, ?, ?)`,
		id, string(referrerID), string(userID), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record referral: %w", err)
	}
	return nil
}

// CountReferrals counts users referred by userID at or after since.
func (s *Store) CountReferrals(ctx context.Context, userID generic.AccountID, since time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(*) FROM referrals
		WHERE referrer_id = ? AND created_time >= ?`,
		string(userID), since.UnixMilli())
}

// toMillis stores the zero time as 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// ─── Trigger queue ──────────────────────────────────────────────────────────

// EnqueueTrigger queues a trigger. Re-enqueueing an ID is a no-op.
func (s *Store) EnqueueTrigger(ctx context.Context, ev quests.TriggerEvent) error {
	_, err := s.exec(ctx, `
		INSERT INTO trigger_events (id, user_id, quest_type, contract_id, created_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		ev.ID, string(ev.UserID), string(ev.QuestType), ev.ContractID, ev.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue trigger %s: %w", ev.ID, err)
	}
	return nil
}

// PendingTriggers returns unprocessed triggers due at now, least-retried
// first so that failing events do not hold back newer ones.
func (s *Store) PendingTriggers(ctx context.Context, now time.Time, limit int) ([]quests.TriggerEvent, error) {
	rows, err := s.query(ctx, `
		SELECT id, user_id, quest_type, contract_id, created_time, attempts
		FROM trigger_events
		WHERE processed_at IS NULL AND next_attempt_at <= ?
		ORDER BY attempts ASC, created_time ASC, id ASC
		LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quests.TriggerEvent
	for rows.Next() {
		var (
			ev            quests.TriggerEvent
			userID, qt    string
			createdMillis int64
		)
		if err := rows.Scan(&ev.ID, &userID, &qt, &ev.ContractID, &createdMillis, &ev.Attempts); err != nil {
			return nil, err
		}
		ev.UserID = generic.AccountID(userID)
		ev.QuestType = quests.QuestType(qt)
		ev.CreatedAt = time.UnixMilli(createdMillis)
		out = append(out, ev)
	}
	return out, mapErr(rows.Err())
}

// DeferTrigger records a failed delivery and hides the event until next.
func (s *Store) DeferTrigger(ctx context.Context, id string, next time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE trigger_events SET attempts = attempts + 1, next_attempt_at = ?
		WHERE id = ? AND processed_at IS NULL`, next.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("defer trigger %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("trigger %s: %w", id, generic.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkTriggerProcessed(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, `
		UPDATE trigger_events SET processed_at = ?
		WHERE id = ? AND processed_at IS NULL`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark trigger %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("trigger %s: %w", id, generic.ErrNotFound)
	}
	return nil
}
