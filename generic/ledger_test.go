package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func mana(n float64) generic.Amount {
	return generic.NewAmount(n, generic.TokenMana)
}

func newTestStore(t *testing.T, balances map[generic.AccountID]float64) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	for id, b := range balances {
		s.PutAccount(generic.Account{ID: id, Balance: mana(b), TotalDeposits: mana(b)})
	}
	return s
}

func fixedLedger(at time.Time) *generic.DefaultLedger {
	l := generic.NewLedger()
	l.Now = func() time.Time { return at }
	return l
}

func balanceOf(t *testing.T, s *store.Memory, id generic.AccountID) generic.Amount {
	t.Helper()
	a, err := s.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

// =============================================================================
// TRANSFER TESTS
// =============================================================================

func TestTransfer_UserToContract_DebitsGrossAndRecordsFee(t *testing.T) {
	// GIVEN: User with 100 M$, 10% fee
	// WHEN: Transferring 40 M$ to a contract
	// THEN: User -40, entry gross 40 fee 4

	s := newTestStore(t, map[generic.AccountID]float64{"alice": 100})
	ledger := fixedLedger(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var entry generic.LedgerEntry
	err := s.WithTx(ctx, func(tx generic.Tx) error {
		var err error
		entry, err = ledger.Transfer(ctx, tx, generic.Transfer{
			FromID:         "alice",
			FromType:       generic.AccountUser,
			ToID:           "contract-1",
			ToType:         generic.AccountContract,
			Amount:         mana(40),
			Category:       generic.CategoryAddSubsidy,
			FeeRate:        decimal.RequireFromString("0.1"),
			CountAsDeposit: true,
		})
		return err
	})
	require.NoError(t, err)

	assert.True(t, balanceOf(t, s, "alice").Equal(mana(60)))
	assert.True(t, entry.Amount.Equal(mana(40)))
	assert.True(t, entry.Fee.Equal(mana(4)))
	assert.True(t, entry.Net().Equal(mana(36)))
	assert.Equal(t, generic.TokenMana, entry.Token)

	acct, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, acct.TotalDeposits.Equal(mana(60)), "deposits mirror the debit")

	entries, err := s.Entries(ctx, generic.EntryFilter{ToID: "contract-1"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTransfer_InsufficientBalance_NoWrites(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"bob": 10})
	ledger := generic.NewLedger()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx generic.Tx) error {
		_, err := ledger.Transfer(ctx, tx, generic.Transfer{
			FromID: "bob", FromType: generic.AccountUser,
			ToID: "contract-1", ToType: generic.AccountContract,
			Amount: mana(10.5), Category: generic.CategoryAddSubsidy,
		})
		return err
	})

	var insufficient *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
	assert.True(t, balanceOf(t, s, "bob").Equal(mana(10)))

	entries, err := s.Entries(ctx, generic.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransfer_FromBank_CreditsUserWithoutBankRow(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"carol": 0})
	ledger := generic.NewLedger()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx generic.Tx) error {
		_, err := ledger.Transfer(ctx, tx, generic.Transfer{
			FromID: generic.BankID, FromType: generic.AccountBank,
			ToID: "carol", ToType: generic.AccountUser,
			Amount: mana(25), Category: generic.CategoryQuestReward,
			CountAsDeposit: true,
		})
		return err
	})
	require.NoError(t, err)
	assert.True(t, balanceOf(t, s, "carol").Equal(mana(25)))
}

func TestTransfer_RejectsNonPositiveAmounts(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"dave": 100})
	ledger := generic.NewLedger()
	ctx := context.Background()

	for _, amt := range []float64{0, -5} {
		err := s.WithTx(ctx, func(tx generic.Tx) error {
			_, err := ledger.Transfer(ctx, tx, generic.Transfer{
				FromID: "dave", FromType: generic.AccountUser,
				ToID: "c", ToType: generic.AccountContract,
				Amount: mana(amt), Category: generic.CategoryAddSubsidy,
			})
			return err
		})
		assert.ErrorIs(t, err, generic.ErrInvalidAmount, "amount %v", amt)
	}
	assert.True(t, balanceOf(t, s, "dave").Equal(mana(100)))
}

func TestAmountFromFloat_RejectsNonFinite(t *testing.T) {
	_, err := generic.AmountFromFloat(posInf(), generic.TokenMana)
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	a, err := generic.AmountFromFloat(12.3456789, generic.TokenMana)
	require.NoError(t, err)
	assert.Equal(t, "12.345678", a.Value.String())
	assert.Equal(t, int64(12345678), a.Units())
	assert.True(t, generic.AmountFromUnits(a.Units(), generic.TokenMana).Equal(a))
}

func TestNetOf_TruncatesToScale(t *testing.T) {
	net, fee := generic.NetOf(mana(1), decimal.RequireFromString("0.3333333333"))
	assert.Equal(t, "0.666666", net.Value.String())
	assert.Equal(t, "0.333334", fee.Value.String())
}

// =============================================================================
// IDEMPOTENCY GUARD TESTS
// =============================================================================

func TestEnsureFirst_DetectsMatchingEntry(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"erin": 0})
	ledger := fixedLedger(time.Date(2025, 5, 5, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	filter := generic.EntryFilter{
		ToID:     "erin",
		Category: generic.CategoryQuestReward,
		Since:    time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC),
		Metadata: map[string]string{"questType": "SHARES", "questCount": "1"},
	}
	grant := func(ctx context.Context, tx generic.Tx) error {
		if err := generic.EnsureFirst(ctx, tx, filter); err != nil {
			return err
		}
		_, err := ledger.Transfer(ctx, tx, generic.Transfer{
			FromID: generic.BankID, FromType: generic.AccountBank,
			ToID: "erin", ToType: generic.AccountUser,
			Amount: mana(5), Category: generic.CategoryQuestReward,
			Metadata: map[string]string{"questType": "SHARES", "questCount": "1"},
		})
		return err
	}

	require.NoError(t, s.WithTx(ctx, func(tx generic.Tx) error { return grant(ctx, tx) }))
	err := s.WithTx(ctx, func(tx generic.Tx) error { return grant(ctx, tx) })

	var dup *generic.AlreadyAwardedError
	require.ErrorAs(t, err, &dup)
	assert.NotEmpty(t, dup.ExistingID)
	assert.True(t, balanceOf(t, s, "erin").Equal(mana(5)), "second grant wrote nothing")
}

func TestEnsureFirst_IgnoresEntriesBeforePeriod(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"finn": 0})
	ledger := fixedLedger(time.Date(2025, 5, 4, 23, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx generic.Tx) error {
		_, err := ledger.Transfer(ctx, tx, generic.Transfer{
			FromID: generic.BankID, FromType: generic.AccountBank,
			ToID: "finn", ToType: generic.AccountUser,
			Amount: mana(5), Category: generic.CategoryQuestReward,
		})
		return err
	}))

	err := s.WithTx(ctx, func(tx generic.Tx) error {
		return generic.EnsureFirst(ctx, tx, generic.EntryFilter{
			ToID:     "finn",
			Category: generic.CategoryQuestReward,
			Since:    time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC),
		})
	})
	assert.NoError(t, err)
}

func TestOperationError_UnwrapsKindAndCause(t *testing.T) {
	cause := &generic.AlreadyAwardedError{ExistingID: "e-1"}
	err := generic.Wrap(generic.ErrInternal, cause, "Already awarded quest bonus")

	assert.True(t, errors.Is(err, generic.ErrInternal))
	assert.True(t, errors.Is(err, generic.ErrAlreadyAwarded))
	assert.Equal(t, "Already awarded quest bonus", generic.MessageOf(err))
	assert.False(t, generic.IsRetryable(err))
}
