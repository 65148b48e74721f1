/*
coordinator.go - Transactional coordinator

PURPOSE:
  Runs a read-validate-write function inside a store transaction with an
  explicit retry policy. The store serializes transactions touching the
  same accounts; when it cannot get its lock it reports
  ErrConcurrentModification and the coordinator re-runs the WHOLE
  function on a fresh transaction. Writes computed from a stale read are
  never replayed.

RULES FOR FUNCTIONS PASSED TO Run:
  - May be executed more than once.
  - Must not perform external side effects (payments, notifications).
    Do those after Run returns nil.
  - Return an error to roll back. Validation errors are not retried.

RETRY POLICY:
  MaxAttempts:  Upper bound on executions (>= 1)
  BaseBackoff:  Wait after the first conflict, doubled per attempt
  MaxBackoff:   Cap for the exponential wait
  Timeout:      Deadline for a single attempt (0 = caller's context only)

SEE ALSO:
  - store.go: TxStore.WithTx
  - metrics/metrics.go: Observer implementation
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// RETRY POLICY
// =============================================================================

type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 20 * time.Millisecond,
		MaxBackoff:  time.Second,
		Timeout:     10 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// =============================================================================
// COORDINATOR
// =============================================================================

// Observer receives coordinator events. Implemented by the metrics package.
type Observer interface {
	ObserveAttempt(op string, attempt int, err error)
	ObserveOutcome(op string, err error, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, int, error)          {}
func (nopObserver) ObserveOutcome(string, error, time.Duration) {}

type Coordinator struct {
	Store    TxStore
	Policy   RetryPolicy
	Logger   *zap.Logger
	Observer Observer

	// Sleep waits between attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(store TxStore, policy RetryPolicy, logger *zap.Logger, observer Observer) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Coordinator{
		Store:    store,
		Policy:   policy,
		Logger:   logger.Named("coordinator"),
		Observer: observer,
		Sleep:    sleepContext,
	}
}

// Run executes fn in a transaction, retrying on lock conflicts.
func (c *Coordinator) Run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	var err error
	attempt := 1
	for ; ; attempt++ {
		err = c.attempt(ctx, fn)
		c.Observer.ObserveAttempt(op, attempt, err)
		if err == nil || !IsRetryable(err) || attempt >= c.Policy.MaxAttempts {
			break
		}
		wait := c.Policy.Backoff(attempt)
		c.Logger.Debug("transaction conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if serr := c.Sleep(ctx, wait); serr != nil {
			err = serr
			break
		}
	}
	if err != nil && IsRetryable(err) {
		err = fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, err)
		c.Logger.Warn("transaction retries exhausted", zap.String("op", op), zap.Error(err))
	}
	c.Observer.ObserveOutcome(op, err, time.Since(start))
	return err
}

func (c *Coordinator) attempt(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if c.Policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Policy.Timeout)
		defer cancel()
	}
	return c.Store.WithTx(ctx, func(tx Tx) error {
		return fn(ctx, tx)
	})
}

// RunValue is Run for functions that produce a value. The value from a
// rolled-back attempt is discarded.
func RunValue[T any](ctx context.Context, c *Coordinator, op string, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := c.Run(ctx, op, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
