/*
balance.go - Balance mutation

PURPOSE:
  Applies signed deltas to account balances. This is the only code path
  that changes a stored balance, and it always goes through the store's
  atomic increment so concurrent transactions compose.

DEPOSITS:
  TotalDeposits tracks net money a user has put in or been granted.
  Subsidies decrement it together with the balance; bank payouts
  increment it together with the balance.

BANK:
  The bank is an unbounded source. Deltas against it are not applied and
  it has no row to read.

SEE ALSO:
  - ledger.go: Calls the mutator for both sides of a transfer
  - store.go: Tx.ApplyDelta contract
*/
package generic

import "context"

// =============================================================================
// BALANCE MUTATOR
// =============================================================================

// BalanceMutator applies deltas to accounts inside a transaction.
type BalanceMutator struct {
	// TrackDeposits mirrors every balance delta into TotalDeposits.
	TrackDeposits bool
}

// Apply changes the balance of id by delta. A zero delta is a no-op.
func (m BalanceMutator) Apply(ctx context.Context, tx Tx, id AccountID, accountType AccountType, delta Amount) error {
	if accountType != AccountUser || delta.IsZero() {
		return nil
	}
	d := Delta{Balance: delta.Truncate(), Deposits: delta.Zero()}
	if m.TrackDeposits {
		d.Deposits = d.Balance
	}
	return tx.ApplyDelta(ctx, id, d)
}

// Debit checks the source can cover amount, then applies -amount.
func (m BalanceMutator) Debit(ctx context.Context, tx Tx, id AccountID, accountType AccountType, amount Amount) error {
	if accountType == AccountUser {
		acct, err := tx.Account(ctx, id)
		if err != nil {
			return err
		}
		if acct.Balance.LessThan(amount) {
			return &InsufficientBalanceError{
				AccountID: id,
				Available: acct.Balance,
				Requested: amount,
			}
		}
	}
	return m.Apply(ctx, tx, id, accountType, amount.Neg())
}

// Credit applies +amount.
func (m BalanceMutator) Credit(ctx context.Context, tx Tx, id AccountID, accountType AccountType, amount Amount) error {
	return m.Apply(ctx, tx, id, accountType, amount)
}
