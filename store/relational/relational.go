/*
Package relational provides the relational store.

PURPOSE:
  Holds reports, the content they reference, quest scores and the
  activity counted by quests. None of these tables move money, so they
  are written without the document store's locking discipline.

DIALECTS:
  sqlite    modernc.org/sqlite (pure Go). Default and used by tests.
  postgres  github.com/jackc/pgx/v5/stdlib.

  Queries are written once with ? placeholders and rebound to $n for
  PostgreSQL. Timestamps are BIGINT unix milliseconds in both dialects.

INTERFACES IMPLEMENTED:
  reports.ReportSource, reports.ContentSource
  quests.ScoreStore, quests.ActivitySource

KEY TABLES:
  reports:           User reports, newest first by created_time
  comments:          Comments on contracts and posts
  posts:             Posts
  user_quest_scores: One row per (user, score id)
  user_events:       Tracked user events (name = 'share' is counted)
  referrals:         Who referred whom
  trigger_events:    Queued markets-created triggers

SEE ALSO:
  - store/sqlite: Document store (accounts, contracts, ledger)
*/
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/warp/market-engine/generic"
)

// Dialect selects placeholder style and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the configured driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "", "sqlite":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unknown relational dialect %q", s)
	}
}

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects and migrates. For SQLite, dsn is a path or ":memory:".
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	if dialect == DialectSQLite && !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite && strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, dialect: dialect}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// migrations returns the schema statements. Each string is a single
// statement; both dialects accept all of them.
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			content_id       TEXT NOT NULL,
			content_type     TEXT NOT NULL,
			content_owner_id TEXT NOT NULL,
			parent_type      TEXT,
			parent_id        TEXT,
			description      TEXT,
			created_time     BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_time DESC)`,

		`CREATE TABLE IF NOT EXISTS posts (
			id           TEXT PRIMARY KEY,
			slug         TEXT NOT NULL,
			title        TEXT NOT NULL,
			creator_id   TEXT NOT NULL,
			created_time BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS comments (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			parent_type  TEXT NOT NULL,
			parent_id    TEXT NOT NULL,
			text         TEXT,
			content      TEXT,
			created_time BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_parent ON comments(parent_type, parent_id)`,

		`CREATE TABLE IF NOT EXISTS user_quest_scores (
			user_id         TEXT NOT NULL,
			score_id        TEXT NOT NULL,
			score           INTEGER NOT NULL DEFAULT 0,
			idempotency_key TEXT,
			period_start    BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, score_id)
		)`,

		`CREATE TABLE IF NOT EXISTS user_events (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			name         TEXT NOT NULL,
			created_time BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_events_user_name ON user_events(user_id, name, created_time)`,

		`CREATE TABLE IF NOT EXISTS referrals (
			id           TEXT PRIMARY KEY,
			referrer_id  TEXT NOT NULL,
			user_id      TEXT NOT NULL,
			created_time BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id, created_time)`,

		`CREATE TABLE IF NOT EXISTS trigger_events (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			quest_type   TEXT NOT NULL,
			contract_id  TEXT NOT NULL,
			created_time    BIGINT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at BIGINT NOT NULL DEFAULT 0,
			processed_at    BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_events_pending ON trigger_events(processed_at, next_attempt_at, created_time)`,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// rebind rewrites ? placeholders to $1..$n for PostgreSQL. Queries in
// this package never contain a literal ? inside strings.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return res, mapErr(err)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	return rows, mapErr(err)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

// mapErr maps lock contention in either dialect to
// generic.ErrConcurrentModification.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
		}
	}
	return err
}
