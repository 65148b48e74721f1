package generic_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/market-engine/generic"
)

func posInf() float64 { return math.Inf(1) }

type recordingObserver struct {
	attempts []error
	outcome  error
}

func (r *recordingObserver) ObserveAttempt(_ string, _ int, err error) {
	r.attempts = append(r.attempts, err)
}

func (r *recordingObserver) ObserveOutcome(_ string, err error, _ time.Duration) {
	r.outcome = err
}

func newTestCoordinator(t *testing.T, s generic.TxStore, attempts int) (*generic.Coordinator, *recordingObserver, *[]time.Duration) {
	t.Helper()
	obs := &recordingObserver{}
	policy := generic.DefaultRetryPolicy()
	policy.MaxAttempts = attempts
	c := generic.NewCoordinator(s, policy, zaptest.NewLogger(t), obs)
	var waits []time.Duration
	c.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return c, obs, &waits
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestCoordinator_RetriesConflictsThenCommits(t *testing.T) {
	// GIVEN: A store that reports two lock conflicts
	// WHEN: Running a debit through the coordinator
	// THEN: The function commits on the third attempt, exactly once

	s := newTestStore(t, map[generic.AccountID]float64{"alice": 50})
	s.InjectConflicts(2)
	c, obs, waits := newTestCoordinator(t, s, 5)
	ledger := generic.NewLedger()

	err := c.Run(context.Background(), "subsidy", func(ctx context.Context, tx generic.Tx) error {
		_, err := ledger.Transfer(ctx, tx, generic.Transfer{
			FromID: "alice", FromType: generic.AccountUser,
			ToID: "c-1", ToType: generic.AccountContract,
			Amount: mana(20), Category: generic.CategoryAddSubsidy,
		})
		return err
	})
	require.NoError(t, err)

	assert.Len(t, obs.attempts, 3)
	assert.NoError(t, obs.outcome)
	assert.Equal(t, 1, s.TxCount(), "function body ran once")
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, *waits)
	assert.True(t, balanceOf(t, s, "alice").Equal(mana(30)))
}

func TestCoordinator_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t, nil)
	s.InjectConflicts(10)
	c, obs, _ := newTestCoordinator(t, s, 3)

	err := c.Run(context.Background(), "quest", func(context.Context, generic.Tx) error {
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Len(t, obs.attempts, 3)
	assert.Equal(t, 0, s.TxCount())
}

func TestCoordinator_DoesNotRetryValidationErrors(t *testing.T) {
	s := newTestStore(t, nil)
	c, obs, _ := newTestCoordinator(t, s, 5)

	err := c.Run(context.Background(), "subsidy", func(context.Context, generic.Tx) error {
		return generic.Errorf(generic.ErrClosed, "Trading is closed")
	})

	assert.ErrorIs(t, err, generic.ErrClosed)
	assert.Equal(t, "Trading is closed", err.Error())
	assert.Len(t, obs.attempts, 1)
}

func TestCoordinator_StopsWhenSleepIsCancelled(t *testing.T) {
	s := newTestStore(t, nil)
	s.InjectConflicts(5)
	c, _, _ := newTestCoordinator(t, s, 5)
	c.Sleep = func(context.Context, time.Duration) error { return context.Canceled }

	err := c.Run(context.Background(), "subsidy", func(context.Context, generic.Tx) error { return nil })
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunValue_ReturnsCommittedValue(t *testing.T) {
	s := newTestStore(t, map[generic.AccountID]float64{"bob": 5})
	s.InjectConflicts(1)
	c, _, _ := newTestCoordinator(t, s, 3)

	got, err := generic.RunValue(context.Background(), c, "read", func(ctx context.Context, tx generic.Tx) (generic.Amount, error) {
		a, err := tx.Account(ctx, "bob")
		return a.Balance, err
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(mana(5)))
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := generic.RetryPolicy{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(8))
	assert.Equal(t, time.Duration(0), generic.RetryPolicy{}.Backoff(4))
}
