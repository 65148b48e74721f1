package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/quests"
	"github.com/warp/market-engine/reports"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate(context.Background()))
	assert.Equal(t, DialectSQLite, s.Dialect())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"": DialectSQLite, "sqlite": DialectSQLite, "Postgres": DialectPostgres, "pgx": DialectPostgres,
	} {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y >= $2 LIMIT $3",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y >= ? LIMIT ?"))

	lite := &Store{dialect: DialectSQLite}
	assert.Equal(t, "WHERE x = ?", lite.rebind("WHERE x = ?"))
}

func TestMapErr_PostgresSerializationFailure(t *testing.T) {
	err := mapErr(fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40001"}))
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))

	other := errors.New("boom")
	assert.Equal(t, other, mapErr(other))
	assert.NoError(t, mapErr(nil))
}

// =============================================================================
// REPORTS AND CONTENT
// =============================================================================

func TestStore_LatestReportsNewestFirst(t *testing.T) {
	// GIVEN: Three reports at different times
	// WHEN: Reading the latest two
	// THEN: The two newest come back, newest first, with optional columns intact

	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveReport(ctx, reports.Report{ID: "r1", UserID: "u1", ContentID: "c1", ContentType: reports.ContentContract, ContentOwnerID: "u2", CreatedAt: t0}))
	require.NoError(t, s.SaveReport(ctx, reports.Report{ID: "r2", UserID: "u1", ContentID: "cm1", ContentType: reports.ContentComment, ContentOwnerID: "u3",
		ParentType: reports.ParentPost, ParentID: "p1", Description: "spam", CreatedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.SaveReport(ctx, reports.Report{ID: "r3", UserID: "u4", ContentID: "u9", ContentType: reports.ContentUser, ContentOwnerID: "u9", CreatedAt: t0.Add(2 * time.Hour)}))

	got, err := s.LatestReports(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r3", got[0].ID)
	assert.Equal(t, "r2", got[1].ID)
	assert.Equal(t, reports.ParentPost, got[1].ParentType)
	assert.Equal(t, "p1", got[1].ParentID)
	assert.Equal(t, "spam", got[1].Description)
	assert.True(t, got[1].CreatedAt.Equal(t0.Add(time.Hour)))
	assert.Empty(t, got[0].ParentType)
}

func TestStore_CommentsAndPosts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	doc := json.RawMessage(`{"type":"doc","content":[]}`)

	require.NoError(t, s.SavePost(ctx, reports.Post{ID: "p1", Slug: "weekly", Title: "Weekly", CreatorID: "u1", CreatedAt: t0}))
	require.NoError(t, s.SaveComment(ctx, reports.Comment{ID: "cm1", UserID: "u2", ParentType: reports.ParentPost, ParentID: "p1", Content: doc, CreatedAt: t0}))
	require.NoError(t, s.SaveComment(ctx, reports.Comment{ID: "cm2", UserID: "u2", ParentType: reports.ParentContract, ParentID: "c1", Text: "plain", CreatedAt: t0}))

	p, err := s.Post(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "weekly", p.Slug)

	cm, err := s.Comment(ctx, "cm1")
	require.NoError(t, err)
	assert.Equal(t, reports.ParentPost, cm.ParentType)
	assert.JSONEq(t, string(doc), string(cm.Content))
	assert.Empty(t, cm.Text)

	cm, err = s.Comment(ctx, "cm2")
	require.NoError(t, err)
	assert.Equal(t, "plain", cm.Text)
	assert.Nil(t, cm.Content)

	_, err = s.Comment(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = s.Post(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// QUEST SCORES AND ACTIVITY
// =============================================================================

func TestStore_ScoreUpsertKeepsKeyWhenOmitted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetScore(ctx, "u1", "markets-created")
	require.NoError(t, err)
	assert.Equal(t, quests.Score{UserID: "u1", ScoreID: "markets-created"}, got)

	require.NoError(t, s.SetScore(ctx, quests.Score{UserID: "u1", ScoreID: "markets-created", Score: 1, IdempotencyKey: "ev-1"}))
	require.NoError(t, s.SetScore(ctx, quests.Score{UserID: "u1", ScoreID: "markets-created", Score: 2}))

	got, err = s.GetScore(ctx, "u1", "markets-created")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Score)
	assert.Equal(t, "ev-1", got.IdempotencyKey)

	require.NoError(t, s.SetScore(ctx, quests.Score{UserID: "u1", ScoreID: "markets-created", Score: 3, IdempotencyKey: "ev-2"}))
	got, err = s.GetScore(ctx, "u1", "markets-created")
	require.NoError(t, err)
	assert.Equal(t, "ev-2", got.IdempotencyKey)
}

func TestStore_ScoreKeepsPeriodStart(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	week := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.SetScore(ctx, quests.Score{UserID: "u1", ScoreID: "shares", Score: 1, PeriodStart: week}))
	got, err := s.GetScore(ctx, "u1", "shares")
	require.NoError(t, err)
	assert.True(t, got.PeriodStart.Equal(week))
	assert.Equal(t, 1, got.In(generic.Period{Start: week}))
	assert.Equal(t, 0, got.In(generic.Period{Start: week.Add(24 * time.Hour)}))
}

func TestStore_CountsActivitySince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordShareEvent(ctx, "e1", "u1", t0.Add(-time.Minute)))
	require.NoError(t, s.RecordShareEvent(ctx, "e2", "u1", t0))
	require.NoError(t, s.RecordShareEvent(ctx, "e3", "u1", t0.Add(time.Hour)))
	require.NoError(t, s.RecordShareEvent(ctx, "e4", "u2", t0.Add(time.Hour)))
	require.NoError(t, s.RecordUserEvent(ctx, "e5", "u1", "view", t0.Add(time.Hour)))

	n, err := s.CountShareEvents(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.RecordReferral(ctx, "f1", "u1", "u7", t0.Add(-time.Hour)))
	require.NoError(t, s.RecordReferral(ctx, "f2", "u1", "u8", t0.Add(time.Hour)))
	n, err = s.CountReferrals(ctx, "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_TriggerQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"t2", "t1", "t3"} {
		require.NoError(t, s.EnqueueTrigger(ctx, quests.TriggerEvent{
			ID: id, UserID: "u1", QuestType: quests.QuestMarketsCreated, ContractID: "c" + id,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	// Duplicate enqueue is ignored.
	require.NoError(t, s.EnqueueTrigger(ctx, quests.TriggerEvent{ID: "t1", UserID: "u1", QuestType: quests.QuestMarketsCreated, CreatedAt: t0}))

	pending, err := s.PendingTriggers(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"t2", "t1", "t3"}, []string{pending[0].ID, pending[1].ID, pending[2].ID})
	assert.Equal(t, "ct1", pending[1].ContractID)
	assert.Equal(t, quests.QuestMarketsCreated, pending[1].QuestType)

	require.NoError(t, s.MarkTriggerProcessed(ctx, "t2", t0.Add(time.Hour)))
	assert.ErrorIs(t, s.MarkTriggerProcessed(ctx, "t2", t0.Add(time.Hour)), generic.ErrNotFound)

	pending, err = s.PendingTriggers(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].ID)
}

func TestStore_DeferredTriggerYieldsToNewerOnes(t *testing.T) {
	// GIVEN: The oldest pending trigger failed and was deferred
	// WHEN: Listing pending triggers before and after its retry time
	// THEN: It is hidden until due, then listed after never-tried events

	s := newTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"old", "new"} {
		require.NoError(t, s.EnqueueTrigger(ctx, quests.TriggerEvent{
			ID: id, UserID: "u1", QuestType: quests.QuestMarketsCreated, ContractID: "c-" + id,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	require.NoError(t, s.DeferTrigger(ctx, "old", t0.Add(time.Minute)))

	pending, err := s.PendingTriggers(ctx, t0, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "new", pending[0].ID)
	assert.Equal(t, 0, pending[0].Attempts)

	pending, err = s.PendingTriggers(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "new", pending[0].ID)
	assert.Equal(t, "old", pending[1].ID)
	assert.Equal(t, 1, pending[1].Attempts)

	require.NoError(t, s.MarkTriggerProcessed(ctx, "old", t0))
	assert.ErrorIs(t, s.DeferTrigger(ctx, "old", t0), generic.ErrNotFound)
}
