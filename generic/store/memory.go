// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/market-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.Mutex
	accounts map[generic.AccountID]generic.Account
	entries  []generic.LedgerEntry

	// conflicts is the number of upcoming WithTx calls that fail with
	// ErrConcurrentModification before running fn.
	conflicts int
	txCount   int
}

func NewMemory() *Memory {
	return &Memory{accounts: make(map[generic.AccountID]generic.Account)}
}

// PutAccount creates or replaces an account row.
func (m *Memory) PutAccount(a generic.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.Type == "" {
		a.Type = generic.AccountUser
	}
	m.accounts[a.ID] = a
}

// InjectConflicts makes the next n transactions fail as lock conflicts.
func (m *Memory) InjectConflicts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

// TxCount returns how many times WithTx invoked its function.
func (m *Memory) TxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txCount
}

// GetAccount reads an account outside a transaction.
func (m *Memory) GetAccount(_ context.Context, id generic.AccountID) (generic.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return generic.Account{}, generic.ErrNotFound
	}
	return a, nil
}

// Entries implements generic.EntryReader.
func (m *Memory) Entries(_ context.Context, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(f), nil
}

func (m *Memory) findLocked(f generic.EntryFilter) []generic.LedgerEntry {
	var result []generic.LedgerEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if !f.Matches(e) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn while holding the store lock, which serializes all
// transactions. Writes go straight to the maps; on error the snapshot
// taken before fn is restored.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return generic.ErrConcurrentModification
	}
	m.txCount++

	snap := m.snapshot()
	if err := fn(&memoryTx{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[generic.AccountID]generic.Account
	entries  int
}

func (m *Memory) snapshot() memorySnapshot {
	accts := make(map[generic.AccountID]generic.Account, len(m.accounts))
	for k, v := range m.accounts {
		accts[k] = v
	}
	return memorySnapshot{accounts: accts, entries: len(m.entries)}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.entries = m.entries[:s.entries]
}

type memoryTx struct {
	parent *Memory
}

func (tx *memoryTx) Account(_ context.Context, id generic.AccountID) (generic.Account, error) {
	a, ok := tx.parent.accounts[id]
	if !ok {
		return generic.Account{}, generic.ErrNotFound
	}
	return a, nil
}

func (tx *memoryTx) ApplyDelta(_ context.Context, id generic.AccountID, d generic.Delta) error {
	a, ok := tx.parent.accounts[id]
	if !ok {
		return generic.ErrNotFound
	}
	a.Balance = a.Balance.Add(d.Balance)
	a.TotalDeposits = a.TotalDeposits.Add(d.Deposits)
	tx.parent.accounts[id] = a
	return nil
}

func (tx *memoryTx) AppendEntry(_ context.Context, e generic.LedgerEntry) error {
	tx.parent.entries = append(tx.parent.entries, e)
	return nil
}

func (tx *memoryTx) FindEntries(_ context.Context, f generic.EntryFilter) ([]generic.LedgerEntry, error) {
	return tx.parent.findLocked(f), nil
}
