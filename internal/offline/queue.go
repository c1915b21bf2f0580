// Package offline implements the offline-first action queue: durable
// buffering of outbound mutations, priority-ordered batched delivery,
// bounded retries with exponential backoff, and connectivity-driven sync.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/persist"
	"github.com/clawinfra/applytrack/internal/transport"
)

// Options configures a Queue. Zero values take defaults.
type Options struct {
	Beacon            transport.Beacon
	Retry             RetryPolicy
	BatchSize         int
	BatchDelay        time.Duration
	RequestTimeout    time.Duration
	SyncInterval      time.Duration
	DefaultMaxRetries int
	Retention         time.Duration
	StartOnline       bool
	Logger            *slog.Logger

	now   func() time.Time
	newID func() string
}

// Status is a point-in-time view of the queue.
type Status struct {
	IsOnline    bool `json:"isOnline"`
	IsSyncing   bool `json:"isSyncing"`
	QueueLength int  `json:"queueLength"`
}

// Queue is the single owner of pending actions. It is the only writer to
// the persistence adapter.
type Queue struct {
	store      persist.Adapter
	dispatcher *Dispatcher
	scheduler  *Scheduler
	retry      RetryPolicy
	beacon     transport.Beacon
	logger     *slog.Logger

	defaultMaxRetries int
	retention         time.Duration
	now               func() time.Time
	newID             func() string

	mu      sync.Mutex
	items   []actions.Action
	online  bool
	visible bool
	syncing bool

	changes     *emitter[[]actions.Action]
	deadLetters *emitter[actions.DeadLetter]
}

// New creates a queue. Call Load to hydrate from the store and Start to run
// the periodic scheduler.
func New(store persist.Adapter, sender transport.Sender, opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "offline-queue")

	if opts.Beacon == nil {
		opts.Beacon = transport.Discard
	}
	if opts.DefaultMaxRetries <= 0 {
		opts.DefaultMaxRetries = actions.DefaultMaxRetries
	}
	if opts.Retention <= 0 {
		opts.Retention = persist.DefaultRetention
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.newID == nil {
		opts.newID = func() string { return uuid.New().String() }
	}

	q := &Queue{
		store:             store,
		dispatcher:        NewDispatcher(sender, opts.BatchSize, opts.BatchDelay, opts.RequestTimeout, logger),
		retry:             opts.Retry.normalized(),
		beacon:            opts.Beacon,
		logger:            logger,
		defaultMaxRetries: opts.DefaultMaxRetries,
		retention:         opts.Retention,
		now:               opts.now,
		newID:             opts.newID,
		online:            opts.StartOnline,
		visible:           true,
		changes:           newEmitter[[]actions.Action]("change", logger),
		deadLetters:       newEmitter[actions.DeadLetter]("dead_letter", logger),
	}
	q.scheduler = NewScheduler(opts.SyncInterval, q.cycle, logger)
	return q
}

// Load hydrates the queue from the stored list. Entries that already
// exhausted their retries are dead-lettered rather than kept. Actions
// enqueued before Load are kept after the stored ones, but their save has
// already replaced the stored record, so Load should run before Enqueue.
func (q *Queue) Load(ctx context.Context) error {
	list, err := q.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	var dead []actions.DeadLetter
	q.mu.Lock()
	items := make([]actions.Action, 0, len(list)+len(q.items))
	seen := make(map[string]struct{}, len(list))
	for _, a := range list {
		seen[a.ID] = struct{}{}
		if a.Exhausted() {
			dead = append(dead, q.retry.DeadLetter(a))
			continue
		}
		items = append(items, a)
	}
	merged := 0
	for _, a := range q.items {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		items = append(items, a)
		merged++
	}
	q.items = items
	if len(dead) > 0 || merged > 0 {
		q.saveLocked(ctx)
	}
	snapshot := actions.CloneAll(q.items)
	q.mu.Unlock()

	q.logger.Info("queue loaded", "pending", len(snapshot), "dead_lettered", len(dead))
	q.changes.emit(snapshot)
	q.reportDead(dead)
	return nil
}

// Start runs the periodic scheduler until ctx ends or Stop is called.
func (q *Queue) Start(ctx context.Context) error {
	if err := q.scheduler.Start(ctx); err != nil {
		return err
	}
	if q.IsOnline() {
		q.scheduler.Trigger()
	}
	return nil
}

// Stop halts the scheduler. A running cycle is cancelled; its unfinished
// sends are not counted as attempts.
func (q *Queue) Stop() {
	q.scheduler.Stop()
}

// Enqueue validates draft, queues it and persists. If online a sync cycle is
// requested right away.
func (q *Queue) Enqueue(ctx context.Context, draft actions.Draft) (string, error) {
	if err := draft.Validate(); err != nil {
		return "", err
	}
	a := draft.Build(q.newID(), q.now(), q.defaultMaxRetries)

	q.mu.Lock()
	q.items = append(q.items, a)
	q.saveLocked(ctx)
	snapshot := actions.CloneAll(q.items)
	online := q.online
	q.mu.Unlock()

	q.logger.Debug("action enqueued", "action_id", a.ID, "kind", a.Kind, "priority", a.Priority)
	q.changes.emit(snapshot)
	if online {
		q.scheduler.Trigger()
	}
	return a.ID, nil
}

// Remove drops the action with id. It reports whether anything was removed.
func (q *Queue) Remove(ctx context.Context, id string) bool {
	q.mu.Lock()
	idx := q.indexLocked(id)
	if idx < 0 {
		q.mu.Unlock()
		return false
	}
	q.items = slices.Delete(q.items, idx, idx+1)
	q.saveLocked(ctx)
	snapshot := actions.CloneAll(q.items)
	q.mu.Unlock()

	q.changes.emit(snapshot)
	return true
}

// Clear empties the queue.
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	q.items = nil
	q.saveLocked(ctx)
	q.mu.Unlock()

	q.changes.emit([]actions.Action{})
}

// Snapshot returns a copy of the pending actions in enqueue order.
func (q *Queue) Snapshot() []actions.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return actions.CloneAll(q.items)
}

// Status reports connectivity, sync activity and queue length.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{IsOnline: q.online, IsSyncing: q.syncing, QueueLength: len(q.items)}
}

// OnChange subscribes to queue snapshots taken after every mutation. Each
// listener gets its own copy.
func (q *Queue) OnChange(fn func([]actions.Action)) (unsubscribe func()) {
	return q.changes.subscribe(func(list []actions.Action) {
		fn(actions.CloneAll(list))
	})
}

// OnDeadLetter subscribes to terminal delivery failures. Each dead-lettered
// action is reported exactly once.
func (q *Queue) OnDeadLetter(fn func(actions.DeadLetter)) (unsubscribe func()) {
	return q.deadLetters.subscribe(fn)
}

// SyncNow runs a cycle on the calling goroutine. It returns an empty slice,
// without writing or notifying, when offline, empty or already syncing.
func (q *Queue) SyncNow(ctx context.Context) []actions.Result {
	results, _ := q.runCycle(ctx)
	if results == nil {
		return []actions.Result{}
	}
	return results
}

// PruneStale drops actions older than the retention window from the live
// queue and returns how many were dropped.
func (q *Queue) PruneStale(ctx context.Context) int {
	q.mu.Lock()
	kept, dropped := persist.Prune(q.items, q.now().Add(-q.retention))
	if dropped == 0 {
		q.mu.Unlock()
		return 0
	}
	q.items = kept
	q.saveLocked(ctx)
	snapshot := actions.CloneAll(q.items)
	q.mu.Unlock()

	q.logger.Info("pruned stale actions", "dropped", dropped, "kept", len(snapshot))
	q.changes.emit(snapshot)
	return dropped
}

func (q *Queue) cycle(ctx context.Context) {
	_, _ = q.runCycle(ctx)
}

// runCycle is the single-flight sync pass. ran is false when the guard
// refused to start.
func (q *Queue) runCycle(ctx context.Context) (results []actions.Result, ran bool) {
	q.mu.Lock()
	if q.syncing || !q.online || len(q.items) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	q.syncing = true
	pending := actions.CloneAll(q.items)
	q.mu.Unlock()

	start := time.Now()
	outcomes := q.dispatcher.Dispatch(ctx, pending)

	results = make([]actions.Result, 0, len(outcomes))
	var (
		dead       []actions.DeadLetter
		retryAfter time.Duration
		failed     int
	)

	q.mu.Lock()
	now := q.now()
	for _, o := range outcomes {
		results = append(results, o.result)

		idx := q.indexLocked(o.action.ID)
		if idx < 0 {
			// removed by the caller while in flight
			continue
		}
		if o.result.Success {
			q.items = slices.Delete(q.items, idx, idx+1)
			continue
		}

		if ctx.Err() != nil {
			// interrupted by shutdown, not a delivery attempt
			continue
		}
		failed++
		updated, exhausted := q.retry.Apply(q.items[idx], o.result.Error, now)
		if exhausted {
			q.items = slices.Delete(q.items, idx, idx+1)
			dead = append(dead, q.retry.DeadLetter(updated))
			continue
		}
		q.items[idx] = updated
		if d := q.retry.Delay(updated.RetryCount); retryAfter == 0 || d < retryAfter {
			retryAfter = d
		}
	}
	q.saveLocked(ctx)
	q.syncing = false
	snapshot := actions.CloneAll(q.items)
	q.mu.Unlock()

	q.logger.Info("sync cycle complete",
		"attempted", len(outcomes),
		"failed", failed,
		"dead_lettered", len(dead),
		"remaining", len(snapshot),
		"duration", time.Since(start))

	q.changes.emit(snapshot)
	q.reportDead(dead)
	if retryAfter > 0 {
		q.scheduler.TriggerAfter(retryAfter)
	}
	return results, true
}

func (q *Queue) reportDead(dead []actions.DeadLetter) {
	for _, dl := range dead {
		q.logger.Warn("action dead-lettered",
			"action_id", dl.ActionID,
			"kind", dl.Kind,
			"attempts", dl.Attempts,
			"error", dl.LastError)
		q.deadLetters.emit(dl)
	}
}

// saveLocked persists the queue. Failures are logged and the in-memory
// queue stays authoritative. Must be called with q.mu held.
func (q *Queue) saveLocked(ctx context.Context) {
	if err := q.store.Save(context.WithoutCancel(ctx), q.items); err != nil {
		q.logger.Warn("failed to persist queue", "error", err, "pending", len(q.items))
	}
}

func (q *Queue) indexLocked(id string) int {
	return slices.IndexFunc(q.items, func(a actions.Action) bool { return a.ID == id })
}
