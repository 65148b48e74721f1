package generic

import "context"

// =============================================================================
// IDEMPOTENCY GUARD
// =============================================================================

// EnsureFirst fails with *AlreadyAwardedError if an entry matching f exists.
// It must run on the same Tx as the grant it protects so that two triggers
// racing for the same grant are serialized by the store: the loser re-runs,
// sees the winner's entry and writes nothing.
func EnsureFirst(ctx context.Context, tx Tx, f EntryFilter) error {
	f.Limit = 1
	existing, err := tx.FindEntries(ctx, f)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return &AlreadyAwardedError{ExistingID: existing[0].ID}
	}
	return nil
}
