/*
store.go - Persistence interface for accounts and ledger entries

PURPOSE:
  Defines the interface between the engine and the document store.
  Reads and writes that must be consistent with each other happen on a Tx
  handed out by TxStore.WithTx; nothing holds a global store handle.

KEY INTERFACES:
  Tx:          Reads and writes inside one store transaction
  TxStore:     Opens transactions (serializable w.r.t. the same accounts)
  EntryReader: Ledger history outside a transaction (audit, API)

APPEND-ONLY CONTRACT:
  Ledger entries are written with AppendEntry only. There are no
  UpdateEntry or DeleteEntry methods and there never will be.

ATOMIC INCREMENTS:
  ApplyDelta must be implemented as a store-side increment
  (balance = balance + ?), never as a write of a value computed from an
  earlier read. Two transactions that both credit the same account must
  compose.

IMPLEMENTATIONS:
  - store/sqlite: Document store on SQLite (BEGIN IMMEDIATE)
  - generic/store: In-memory implementation for testing

SEE ALSO:
  - coordinator.go: Runs functions inside WithTx with retry
  - ledger.go: Higher-level transfer built on Tx
*/
package generic

import "context"

// =============================================================================
// TRANSACTION - Reads and writes inside one store transaction
// =============================================================================

// Delta is a signed change to an account row.
type Delta struct {
	Balance  Amount
	Deposits Amount
}

// Tx is the view of the document store inside a transaction.
type Tx interface {
	// Account loads a user account. Returns ErrNotFound if missing.
	Account(ctx context.Context, id AccountID) (Account, error)

	// ApplyDelta atomically increments balance and total deposits.
	// Returns ErrNotFound if the account does not exist.
	ApplyDelta(ctx context.Context, id AccountID, d Delta) error

	// AppendEntry persists a ledger entry. This is the ONLY entry write.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// FindEntries returns entries matching f, newest first.
	FindEntries(ctx context.Context, f EntryFilter) ([]LedgerEntry, error)
}

// TxStore opens transactions.
type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	// Lock conflicts surface as ErrConcurrentModification.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// EntryReader reads ledger history outside a transaction.
type EntryReader interface {
	Entries(ctx context.Context, f EntryFilter) ([]LedgerEntry, error)
}
