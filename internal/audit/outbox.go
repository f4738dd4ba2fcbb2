package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/healthlattice/healthengine/internal/logging"
	"github.com/healthlattice/healthengine/internal/store"
)

// Dispatcher sends one queued notification's payload over a channel
// (push, email, in-app inbox...). original_source's dispatchers.py
// (referenced from scheduler/jobs.py) was not present in the retrieved
// tree, so only the console/log dispatcher spec.md §4.20 calls for is
// implemented here; a real push/email dispatcher is a future adapter
// behind this same interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, channel, payload string) error
}

// ConsoleDispatcher logs every dispatch instead of paging an external
// vendor — the only channel in scope per spec.md §4.20's "no external
// paging vendor" note.
type ConsoleDispatcher struct {
	log *logging.Logger
}

func NewConsoleDispatcher(log *logging.Logger) ConsoleDispatcher {
	return ConsoleDispatcher{log: log}
}

func (d ConsoleDispatcher) Dispatch(ctx context.Context, channel, payload string) error {
	if d.log != nil {
		d.log.Info("notification dispatched", "channel", channel, "payload", payload)
	}
	return nil
}

// Outbox wraps the queued-notification lifecycle: idempotent enqueue by
// dedupe key, then a drain pass dispatching every pending row.
type Outbox struct {
	repo        store.NotificationOutboxRepository
	dispatchers map[string]Dispatcher
}

func NewOutbox(repo store.NotificationOutboxRepository, dispatchers map[string]Dispatcher) *Outbox {
	return &Outbox{repo: repo, dispatchers: dispatchers}
}

// Enqueue queues one notification unless dedupeKey already identifies a
// previously queued row, matching the source's exists_by_dedupe_key
// idempotent-enqueue behavior.
func (o *Outbox) Enqueue(ctx context.Context, user, channel, payload, dedupeKey string) (store.NotificationOutboxItem, error) {
	if dedupeKey != "" {
		existing, found, err := o.repo.GetByDedupeKey(ctx, dedupeKey)
		if err != nil {
			return store.NotificationOutboxItem{}, err
		}
		if found {
			return existing, nil
		}
	}
	item := store.NotificationOutboxItem{
		ID: uuid.NewString(), User: user, Channel: channel, Payload: payload, DedupeKey: dedupeKey,
	}
	if err := o.repo.Enqueue(ctx, item); err != nil {
		return store.NotificationOutboxItem{}, err
	}
	return item, nil
}

// DrainResult summarizes one dispatch_notifications pass.
type DrainResult struct {
	Dispatched int
	Failed     int
}

// Drain pulls up to limit pending rows and dispatches each through the
// channel's registered Dispatcher, marking the row dispatched or failed.
// Per-row failures do not stop the drain — matching the source's
// per-row try/except so one bad row never blocks the rest of the queue.
func (o *Outbox) Drain(ctx context.Context, limit int) (DrainResult, error) {
	pending, err := o.repo.ListPending(ctx, limit)
	if err != nil {
		return DrainResult{}, err
	}

	var result DrainResult
	for _, item := range pending {
		dispatcher, ok := o.dispatchers[item.Channel]
		if !ok {
			_ = o.repo.MarkFailed(ctx, item.ID, fmt.Sprintf("unknown channel: %s", item.Channel))
			result.Failed++
			continue
		}
		if err := dispatcher.Dispatch(ctx, item.Channel, item.Payload); err != nil {
			_ = o.repo.MarkFailed(ctx, item.ID, err.Error())
			result.Failed++
			continue
		}
		if err := o.repo.MarkDispatched(ctx, item.ID); err != nil {
			return result, err
		}
		result.Dispatched++
	}
	return result, nil
}
