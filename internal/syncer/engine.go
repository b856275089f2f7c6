// Package syncer drains the local durable queue against the Sales Backend.
// At most one pass runs at a time; triggers arriving mid-pass are coalesced
// into a single rerun once the current pass finishes.
package syncer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dukapos/terminal/internal/backend"
	"dukapos/terminal/internal/connectivity"
	"dukapos/terminal/internal/queue"
)

type Engine struct {
	queue   queue.Queue
	backend backend.Client
	monitor *connectivity.Monitor
	logger  *zap.Logger

	mu      sync.Mutex
	syncing bool
	pending bool
}

func New(q queue.Queue, client backend.Client, monitor *connectivity.Monitor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		queue:   q,
		backend: client,
		monitor: monitor,
		logger:  logger,
	}
}

// Syncing reports whether a pass is currently in flight.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Sync runs a sync pass. If a pass is already running the call flags a rerun
// and returns immediately: the in-flight pass already covers everything
// queued before it read the unsynced list, and the rerun covers the rest.
// The returned error reflects queue access problems only; per-record backend
// failures degrade to "retry on a later pass" and never fail the call.
func (e *Engine) Sync(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.pending = true
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	for {
		err := e.pass(ctx)

		e.mu.Lock()
		if err != nil {
			// Leave pending set: a trigger coalesced into this errored pass
			// is honored by whichever Sync call runs next.
			e.syncing = false
			e.mu.Unlock()
			return err
		}
		rerun := e.pending
		e.pending = false
		if !rerun {
			e.syncing = false
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()
	}
}

// Trigger fires a best-effort asynchronous sync.
func (e *Engine) Trigger(ctx context.Context) {
	go func() {
		if err := e.Sync(ctx); err != nil {
			e.logger.Warn("sync trigger failed", zap.Error(err))
		}
	}()
}

// Watch subscribes the engine to connectivity transitions and, when the
// terminal starts online, kicks off an initial pass. The returned func
// cancels the subscription.
func (e *Engine) Watch(ctx context.Context) func() {
	cancel := e.monitor.Subscribe(func(state string) {
		if state == connectivity.StateOnline {
			e.Trigger(ctx)
		}
	})
	if e.monitor.Online() {
		e.Trigger(ctx)
	}
	return cancel
}

func (e *Engine) pass(ctx context.Context) error {
	sales, err := e.queue.ListUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("list unsynced: %w", err)
	}
	if len(sales) == 0 {
		return nil
	}

	e.logger.Info("sync pass started", zap.Int("pending", len(sales)))

	for i, sale := range sales {
		// Submissions are strictly sequential in CreatedAt order. Once the
		// network is known dead, stop rather than burn through the rest.
		if i > 0 && e.monitor != nil && !e.monitor.Online() {
			e.logger.Info("sync pass stopped early: connectivity lost",
				zap.Int("submitted", i), zap.Int("remaining", len(sales)-i))
			return nil
		}

		insertErr := e.backend.InsertSale(ctx, sale)
		if insertErr == nil {
			if err := e.queue.MarkSynced(ctx, sale.ID); err != nil {
				// The backend has the sale; the flag is retried on a later
				// sweep and the idempotent insert absorbs the resubmission.
				e.logger.Warn("mark synced failed",
					zap.String("sale_id", sale.ID), zap.Error(err))
			}
			continue
		}

		if backend.IsRetryable(insertErr) {
			// Stop in order: a later record must not sync while an earlier
			// one is stuck. Everything from here stays queued for the next
			// triggered pass.
			e.logger.Warn("sync pass paused on retryable failure",
				zap.String("sale_id", sale.ID),
				zap.Int("remaining", len(sales)-i),
				zap.Error(insertErr))
			return nil
		}

		// Poison record: never mark synced, never retry automatically, and
		// never let it block the rest of the queue.
		e.logger.Error("sale rejected by backend, flagged for review",
			zap.String("sale_id", sale.ID), zap.Error(insertErr))
		if err := e.queue.MarkFailed(ctx, sale.ID, insertErr.Error()); err != nil {
			e.logger.Warn("mark failed failed",
				zap.String("sale_id", sale.ID), zap.Error(err))
		}
	}

	e.logger.Info("sync pass completed", zap.Int("submitted", len(sales)))
	return nil
}
