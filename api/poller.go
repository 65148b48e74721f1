/*
poller.go - Markets-created trigger poller

PURPOSE:
  Drains queued markets-created triggers from the relational store into
  the quest tracker. Each event ID is passed as the idempotency key, so
  an event delivered twice is counted once.

DESIGN:
  - Background goroutine with a configurable interval
  - Each tick drains every due event, least-retried first
  - Successful events are marked processed
  - Events that can never succeed (unsupported quest type, reward
    already paid, contract owned by someone else) are marked processed
    and logged
  - Anything else is deferred with exponential backoff and retried with
    the same key; after MaxAttempts it is marked processed and logged

USAGE:
  poller := NewTriggerPoller(store, tracker, logger)
  poller.Start()
  // ... later
  poller.Stop()

SEE ALSO:
  - quests/tracker.go: CompleteCalculatedQuestFromTrigger
  - store/relational/activity.go: Trigger queue
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/market-engine/generic"
	"github.com/warp/market-engine/quests"
)

// TriggerQueue is the pending-trigger table. PendingTriggers lists events
// due at now; DeferTrigger counts a failure and hides the event until next.
type TriggerQueue interface {
	PendingTriggers(ctx context.Context, now time.Time, limit int) ([]quests.TriggerEvent, error)
	DeferTrigger(ctx context.Context, id string, next time.Time) error
	MarkTriggerProcessed(ctx context.Context, id string, at time.Time) error
}

// TriggerPoller feeds queued triggers to the quest tracker.
type TriggerPoller struct {
	Queue     TriggerQueue
	Quests    QuestCompleter
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time

	// Retry backoff doubles from BaseBackoff up to MaxBackoff. An event
	// failing MaxAttempts times is given up.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int

	logger *zap.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewTriggerPoller(queue TriggerQueue, completer QuestCompleter, logger *zap.Logger) *TriggerPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerPoller{
		Queue:     queue,
		Quests:    completer,
		Interval:    5 * time.Second,
		BatchSize:   50,
		Now:         time.Now,
		BaseBackoff: 10 * time.Second,
		MaxBackoff:  time.Hour,
		MaxAttempts: 10,
		logger:      logger.Named("triggers"),
	}
}

// Start begins polling. Calling Start on a running poller does nothing.
func (p *TriggerPoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.wg.Add(1)
	go p.run(p.stop)
	p.logger.Info("trigger poller started", zap.Duration("interval", p.Interval))
}

// Stop halts polling and waits for an in-flight batch to finish.
func (p *TriggerPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.stop = nil
	p.logger.Info("trigger poller stopped")
}

func (p *TriggerPoller) run(stop <-chan struct{}) {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	// Run immediately on start
	p.drainLogged(ctx)
	for {
		select {
		case <-ticker.C:
			p.drainLogged(ctx)
		case <-stop:
			return
		}
	}
}

func (p *TriggerPoller) drainLogged(ctx context.Context) {
	n, err := p.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Error("trigger batch failed", zap.Error(err))
	}
	if n > 0 {
		p.logger.Info("triggers processed", zap.Int("processed", n))
	}
}

// Drain runs batches until no event is due and returns how many events
// were marked processed. Failed events are deferred past now, so each
// event is tried at most once per call.
func (p *TriggerPoller) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		fetched, processed, err := p.runBatch(ctx)
		total += processed
		if err != nil || fetched == 0 {
			return total, err
		}
	}
}

// RunNow processes one batch and returns how many events were marked
// processed.
func (p *TriggerPoller) RunNow(ctx context.Context) (int, error) {
	_, processed, err := p.runBatch(ctx)
	return processed, err
}

func (p *TriggerPoller) runBatch(ctx context.Context) (fetched, processed int, err error) {
	events, err := p.Queue.PendingTriggers(ctx, p.Now(), p.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return len(events), processed, err
		}
		res, err := p.Quests.CompleteCalculatedQuestFromTrigger(ctx, ev.UserID, ev.QuestType, ev.ID, ev.ContractID)
		switch {
		case err == nil:
			p.logger.Debug("trigger processed",
				zap.String("event_id", ev.ID),
				zap.String("user_id", string(ev.UserID)),
				zap.Int("count", res.Count),
				zap.Bool("rewarded", res.Txn != nil),
			)
		case permanent(err):
			p.logger.Warn("trigger discarded",
				zap.String("event_id", ev.ID),
				zap.String("user_id", string(ev.UserID)),
				zap.Error(err),
			)
		case ev.Attempts+1 >= p.MaxAttempts:
			p.logger.Error("trigger given up",
				zap.String("event_id", ev.ID),
				zap.String("user_id", string(ev.UserID)),
				zap.Int("attempts", ev.Attempts+1),
				zap.Error(err),
			)
		default:
			next := p.Now().Add(p.backoff(ev.Attempts))
			p.logger.Warn("trigger failed, will retry",
				zap.String("event_id", ev.ID),
				zap.String("user_id", string(ev.UserID)),
				zap.Time("next_attempt", next),
				zap.Error(err),
			)
			if err := p.Queue.DeferTrigger(ctx, ev.ID, next); err != nil {
				return len(events), processed, err
			}
			continue
		}

		if err := p.Queue.MarkTriggerProcessed(ctx, ev.ID, p.Now()); err != nil {
			return len(events), processed, err
		}
		processed++
	}
	return len(events), processed, nil
}

// backoff is the delay after a trigger's attempts-th failure (0-based).
func (p *TriggerPoller) backoff(attempts int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempts && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

func permanent(err error) bool {
	return errors.Is(err, generic.ErrUnsupportedKind) ||
		errors.Is(err, generic.ErrAlreadyAwarded) ||
		errors.Is(err, generic.ErrForbidden)
}
