/*
Package sqlite provides the SQLite-backed document store.

PURPOSE:
  Holds the rows that money moves through: user accounts, contracts,
  liquidity provisions and the ledger. Implements generic.TxStore so the
  coordinator can run read-validate-write bodies against it, and hands
  out transactions that also satisfy market.Tx.

INTERFACES IMPLEMENTED:
  generic.TxStore:       WithTx
  generic.EntryReader:   Ledger history
  market.Tx:             Contract reads and pool increments (inside WithTx)
  market.ContractReader: Contract reads outside a transaction

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries
  - liquidity_provisions is insert-only as well

AMOUNTS:
  Stored as INTEGER fixed-point with generic.AmountScale decimals so that
  balance changes are single-statement increments:

    UPDATE accounts SET balance = balance + ? WHERE id = ?

KEY TABLES:
  accounts:             User balances and cumulative deposits
  contracts:            Markets, with subsidy pool and total liquidity
  liquidity_provisions: One row per subsidy
  ledger_entries:       Immutable transfers

CONCURRENCY:
  Transactions are opened with BEGIN IMMEDIATE (_txlock=immediate), so a
  transaction takes the write lock before its first read. Two bodies
  touching the same accounts never both see the same stale balance. When
  the lock cannot be taken within the busy timeout SQLite reports
  SQLITE_BUSY, which is mapped to generic.ErrConcurrentModification for
  the coordinator to retry.

  Every statement inside WithTx runs on the *sql.Tx. Going back to the
  pool from inside a transaction would block forever on ":memory:"
  databases, which are limited to one connection.

WAL MODE:
  File databases are opened with WAL so readers do not block the writer.

USAGE:
  store, err := sqlite.New("./data/market.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/relational: Reports, quest scores and activity
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/market"
)

// Store implements the document store using SQLite.
type Store struct {
	db *sql.DB
}

// Option configures New.
type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a transaction waits for the write lock
// before failing with generic.ErrConcurrentModification.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0,
		total_deposits INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contracts (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL,
		question TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		creator_username TEXT NOT NULL,
		mechanism TEXT NOT NULL,
		close_time INTEGER,
		subsidy_pool INTEGER NOT NULL DEFAULT 0,
		total_liquidity INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	-- Hot path for the weekly markets-created quest
	CREATE INDEX IF NOT EXISTS idx_contracts_creator_created
		ON contracts(creator_id, created_at);

	CREATE TABLE IF NOT EXISTS liquidity_provisions (
		id TEXT PRIMARY KEY,
		contract_id TEXT NOT NULL REFERENCES contracts(id),
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		subsidy_pool INTEGER NOT NULL,
		total_liquidity INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_provisions_contract
		ON liquidity_provisions(contract_id, created_at);

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL,
		from_type TEXT NOT NULL,
		to_id TEXT NOT NULL,
		to_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		fee INTEGER NOT NULL,
		token TEXT NOT NULL,
		category TEXT NOT NULL,
		metadata_json TEXT,
		created_at INTEGER NOT NULL
	);

	-- Duplicate-grant checks: destination + category + since
	CREATE INDEX IF NOT EXISTS idx_entries_to_category_created
		ON ledger_entries(to_id, category, created_at DESC);

	CREATE INDEX IF NOT EXISTS idx_entries_from_created
		ON ledger_entries(from_id, created_at DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// QUERIER - shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within an IMMEDIATE transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx generic.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if err := fn(&docTx{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// docTx implements generic.Tx and market.Tx.
type docTx struct {
	q querier
}

var _ market.Tx = (*docTx)(nil)

func (t *docTx) Account(ctx context.Context, id generic.AccountID) (generic.Account, error) {
	return getAccount(ctx, t.q, id)
}

func (t *docTx) ApplyDelta(ctx context.Context, id generic.AccountID, d generic.Delta) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, total_deposits = total_deposits + ? WHERE id = ?`,
		d.Balance.Units(), d.Deposits.Units(), id)
	if err != nil {
		return mapErr(fmt.Errorf("failed to apply delta: %w", err))
	}
	return requireRow(res, id)
}

func (t *docTx) AppendEntry(ctx context.Context, e generic.LedgerEntry) error {
	return appendEntry(ctx, t.q, e)
}

func (t *docTx) FindEntries(ctx context.Context, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return findEntries(ctx, t.q, f)
}

func (t *docTx) Contract(ctx context.Context, id string) (market.Contract, error) {
	return getContract(ctx, t.q, id)
}

func (t *docTx) IncrementPool(ctx context.Context, id string, delta generic.Amount) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE contracts SET subsidy_pool = subsidy_pool + ?, total_liquidity = total_liquidity + ? WHERE id = ?`,
		delta.Units(), delta.Units(), id)
	if err != nil {
		return mapErr(fmt.Errorf("failed to increment pool: %w", err))
	}
	return requireRow(res, id)
}

func (t *docTx) InsertProvision(ctx context.Context, p market.LiquidityProvision) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO liquidity_provisions
		(id, contract_id, user_id, amount, subsidy_pool, total_liquidity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ContractID, p.UserID, p.Amount.Units(), p.SubsidyPool.Units(),
		p.TotalLiquidity.Units(), p.CreatedAt.UnixMilli())
	if err != nil {
		return mapErr(fmt.Errorf("failed to insert provision: %w", err))
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// SaveAccount creates or replaces an account row.
func (s *Store) SaveAccount(ctx context.Context, a generic.Account) error {
	if a.Type == "" {
		a.Type = generic.AccountUser
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, type, username, name, balance, total_deposits, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			username = excluded.username,
			name = excluded.name,
			balance = excluded.balance,
			total_deposits = excluded.total_deposits`,
		a.ID, a.Type, a.Username, a.Name, a.Balance.Units(), a.TotalDeposits.Units(), a.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount reads an account outside a transaction.
func (s *Store) GetAccount(ctx context.Context, id generic.AccountID) (generic.Account, error) {
	return getAccount(ctx, s.db, id)
}

func getAccount(ctx context.Context, q querier, id generic.AccountID) (generic.Account, error) {
	var (
		a                      generic.Account
		balance, deposits, ctm int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, type, username, name, balance, total_deposits, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Type, &a.Username, &a.Name, &balance, &deposits, &ctm)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Account{}, fmt.Errorf("account %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return generic.Account{}, mapErr(fmt.Errorf("failed to get account: %w", err))
	}
	a.Balance = generic.AmountFromUnits(balance, generic.TokenMana)
	a.TotalDeposits = generic.AmountFromUnits(deposits, generic.TokenMana)
	a.CreatedAt = time.UnixMilli(ctm).UTC()
	return a, nil
}

// =============================================================================
// CONTRACTS
// =============================================================================

// SaveContract creates or replaces a contract row.
func (s *Store) SaveContract(ctx context.Context, c market.Contract) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	var closeTime sql.NullInt64
	if c.CloseTime != nil {
		closeTime = sql.NullInt64{Int64: c.CloseTime.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contracts
		(id, slug, question, creator_id, creator_username, mechanism, close_time, subsidy_pool, total_liquidity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			slug = excluded.slug,
			question = excluded.question,
			creator_username = excluded.creator_username,
			mechanism = excluded.mechanism,
			close_time = excluded.close_time`,
		c.ID, c.Slug, c.Question, c.CreatorID, c.CreatorUsername, c.Mechanism, closeTime,
		c.SubsidyPool.Units(), c.TotalLiquidity.Units(), c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save contract: %w", err)
	}
	return nil
}

// GetContract implements market.ContractReader.
func (s *Store) GetContract(ctx context.Context, id string) (market.Contract, error) {
	return getContract(ctx, s.db, id)
}

func getContract(ctx context.Context, q querier, id string) (market.Contract, error) {
	var (
		c              market.Contract
		closeTime      sql.NullInt64
		pool, liq, ctm int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, slug, question, creator_id, creator_username, mechanism, close_time,
		       subsidy_pool, total_liquidity, created_at
		FROM contracts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Slug, &c.Question, &c.CreatorID, &c.CreatorUsername, &c.Mechanism,
		&closeTime, &pool, &liq, &ctm)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Contract{}, fmt.Errorf("contract %s: %w", id, generic.ErrNotFound)
	}
	if err != nil {
		return market.Contract{}, mapErr(fmt.Errorf("failed to get contract: %w", err))
	}
	if closeTime.Valid {
		t := time.UnixMilli(closeTime.Int64).UTC()
		c.CloseTime = &t
	}
	c.SubsidyPool = generic.AmountFromUnits(pool, generic.TokenMana)
	c.TotalLiquidity = generic.AmountFromUnits(liq, generic.TokenMana)
	c.CreatedAt = time.UnixMilli(ctm).UTC()
	return c, nil
}

// RecentContractIDs returns the ids of contracts created by creatorID at
// or after since, oldest first.
func (s *Store) RecentContractIDs(ctx context.Context, creatorID generic.AccountID, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM contracts WHERE creator_id = ? AND created_at >= ? ORDER BY created_at ASC`,
		creatorID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query recent contracts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Provisions returns the subsidies recorded for a contract, oldest first.
func (s *Store) Provisions(ctx context.Context, contractID string) ([]market.LiquidityProvision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contract_id, user_id, amount, subsidy_pool, total_liquidity, created_at
		FROM liquidity_provisions WHERE contract_id = ? ORDER BY created_at ASC, rowid ASC`, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to query provisions: %w", err)
	}
	defer rows.Close()

	var out []market.LiquidityProvision
	for rows.Next() {
		var (
			p                   market.LiquidityProvision
			amt, pool, liq, ctm int64
		)
		if err := rows.Scan(&p.ID, &p.ContractID, &p.UserID, &amt, &pool, &liq, &ctm); err != nil {
			return nil, fmt.Errorf("failed to scan provision: %w", err)
		}
		p.Amount = generic.AmountFromUnits(amt, generic.TokenMana)
		p.SubsidyPool = generic.AmountFromUnits(pool, generic.TokenMana)
		p.TotalLiquidity = generic.AmountFromUnits(liq, generic.TokenMana)
		p.CreatedAt = time.UnixMilli(ctm).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

// Entries implements generic.EntryReader.
func (s *Store) Entries(ctx context.Context, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return findEntries(ctx, s.db, f)
}

func appendEntry(ctx context.Context, q querier, e generic.LedgerEntry) error {
	var metadata sql.NullString
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, from_id, from_type, to_id, to_type, amount, fee, token, category, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.FromID, e.FromType, e.ToID, e.ToType, e.Amount.Units(), e.Fee.Units(),
		e.Token, e.Category, metadata, e.CreatedAt.UnixMilli())
	if err != nil {
		return mapErr(fmt.Errorf("failed to append entry: %w", err))
	}
	return nil
}

// findEntries pushes id, category and time predicates into SQL and
// applies metadata predicates in Go.
func findEntries(ctx context.Context, q querier, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.FromID != "" {
		where = append(where, "from_id = ?")
		args = append(args, f.FromID)
	}
	if f.ToID != "" {
		where = append(where, "to_id = ?")
		args = append(args, f.ToID)
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, f.Category)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}

	query := `SELECT id, from_id, from_type, to_id, to_type, amount, fee, token, category, metadata_json, created_at
		FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 && len(f.Metadata) == 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(fmt.Errorf("failed to query entries: %w", err))
	}
	defer rows.Close()

	var entries []generic.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		if !f.Matches(e) {
			continue
		}
		entries = append(entries, e)
		if f.Limit > 0 && len(entries) == f.Limit {
			break
		}
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (generic.LedgerEntry, error) {
	var (
		e            generic.LedgerEntry
		amount, fee  int64
		metadataJSON sql.NullString
		createdAt    int64
	)
	err := rows.Scan(&e.ID, &e.FromID, &e.FromType, &e.ToID, &e.ToType,
		&amount, &fee, &e.Token, &e.Category, &metadataJSON, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}
	e.Amount = generic.AmountFromUnits(amount, e.Token)
	e.Fee = generic.AmountFromUnits(fee, e.Token)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata for %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// Helper functions

func requireRow(res sql.Result, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%v: %w", id, generic.ErrNotFound)
	}
	return nil
}

// mapErr turns lock contention into generic.ErrConcurrentModification.
func mapErr(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", generic.ErrConcurrentModification, err)
	}
	return err
}
