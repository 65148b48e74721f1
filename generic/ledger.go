/*
ledger.go - Ledger entry writer

PURPOSE:
  The Ledger records every value transfer. A Transfer debits the source,
  credits the destination net of fees and appends exactly one entry, all
  on the same Tx so the three writes commit or roll back together.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. ONE ENTRY PER TRANSFER: Created in the same transaction as the
     balance mutation it records.
  3. DETERMINISTIC FEES: net = (1 - feeRate) * gross, truncated to
     AmountScale; fee = gross - net.

COUNTERPARTIES:
  USER accounts are debited/credited through BalanceMutator.
  CONTRACT destinations are credited by the market package (subsidy pool).
  BANK sources are unbounded.

EXAMPLE FLOW:
  1. User subsidizes a market with 100 M$, fee rate 0.1
  2. User balance: -100 (checked first)
  3. Entry: USER -> CONTRACT, amount 100, fee 10
  4. Market pool: +90 (market package)

SEE ALSO:
  - balance.go: Balance mutator
  - idempotency.go: Duplicate-grant guard used before Transfer
*/
package generic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer describes one movement of value.
type Transfer struct {
	FromID   AccountID
	FromType AccountType
	ToID     AccountID
	ToType   AccountType
	Amount   Amount
	Category Category
	Metadata map[string]string

	// FeeRate in [0, 1). Zero means the destination receives the gross amount.
	FeeRate decimal.Decimal

	// CountAsDeposit mirrors the balance deltas into TotalDeposits.
	CountAsDeposit bool
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger writes transfers and reads history.
type Ledger interface {
	// Transfer validates, mutates balances and appends one entry on tx.
	Transfer(ctx context.Context, tx Tx, t Transfer) (LedgerEntry, error)
}

// DefaultLedger is the Ledger used by all services.
type DefaultLedger struct {
	Now   func() time.Time
	NewID func() EntryID
}

func NewLedger() *DefaultLedger {
	return &DefaultLedger{
		Now:   time.Now,
		NewID: func() EntryID { return EntryID(uuid.NewString()) },
	}
}

// NetOf splits gross into (net, fee) for a fee rate.
func NetOf(gross Amount, feeRate decimal.Decimal) (net Amount, fee Amount) {
	net = gross.Mul(decimal.NewFromInt(1).Sub(feeRate)).Truncate()
	return net, gross.Sub(net)
}

func (l *DefaultLedger) Transfer(ctx context.Context, tx Tx, t Transfer) (LedgerEntry, error) {
	if !t.Amount.IsPositive() {
		return LedgerEntry{}, Errorf(ErrInvalidAmount, "Invalid amount")
	}
	if t.FeeRate.IsNegative() || t.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return LedgerEntry{}, Errorf(ErrInvalidAmount, "Invalid fee rate %s", t.FeeRate)
	}

	gross := t.Amount.Truncate()
	net, fee := NetOf(gross, t.FeeRate)
	mutator := BalanceMutator{TrackDeposits: t.CountAsDeposit}

	if err := mutator.Debit(ctx, tx, t.FromID, t.FromType, gross); err != nil {
		return LedgerEntry{}, err
	}
	if err := mutator.Credit(ctx, tx, t.ToID, t.ToType, net); err != nil {
		return LedgerEntry{}, err
	}

	token := gross.Token
	if token == "" {
		token = TokenMana
	}
	entry := LedgerEntry{
		ID:        l.NewID(),
		FromID:    t.FromID,
		FromType:  t.FromType,
		ToID:      t.ToID,
		ToType:    t.ToType,
		Amount:    gross,
		Fee:       fee,
		Token:     token,
		Category:  t.Category,
		Metadata:  t.Metadata,
		CreatedAt: l.Now().UTC(),
	}
	if err := tx.AppendEntry(ctx, entry); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}
