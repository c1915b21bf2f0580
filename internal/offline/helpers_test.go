package offline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/persist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSender records calls and answers according to fail.
type fakeSender struct {
	mu       sync.Mutex
	calls    []string
	fail     func(a actions.Action) error
	delay    time.Duration
	gate     chan struct{}
	entered  chan string
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeSender) Send(ctx context.Context, a actions.Action) (*actions.Response, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, a.ID)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- a.ID
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		if err := f.fail(a); err != nil {
			return &actions.Response{StatusCode: 503}, err
		}
	}
	return &actions.Response{StatusCode: 200}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func alwaysFail(actions.Action) error { return errors.New("http 503: unavailable") }

// failingStore counts save attempts and always fails them.
type failingStore struct {
	persist.MemoryStore
	attempts atomic.Int32
}

func (f *failingStore) Save(context.Context, []actions.Action) error {
	f.attempts.Add(1)
	return errors.New("disk full")
}

// recordingBeacon keeps every beaconed action.
type recordingBeacon struct {
	mu   sync.Mutex
	sent []actions.Action
}

func (b *recordingBeacon) Beacon(a actions.Action) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, a)
}

func (b *recordingBeacon) Close() error { return nil }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Strictly increasing so CreatedAt reflects enqueue order.
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, store persist.Adapter, sender *fakeSender, opts Options) *Queue {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = time.Millisecond
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = time.Hour
	}
	if opts.now == nil {
		opts.now = newClock().Now
	}
	var seq atomic.Int32
	opts.newID = func() string { return fmt.Sprintf("act-%d", seq.Add(1)) }

	q := New(store, sender, opts)
	t.Cleanup(q.Stop)
	return q
}

func mustEnqueue(t *testing.T, q *Queue, d actions.Draft) string {
	t.Helper()
	id, err := q.Enqueue(context.Background(), d)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return id
}

func draft(kind string, p actions.Priority) actions.Draft {
	return actions.Draft{Kind: kind, Endpoint: "/api/" + kind, Method: "POST", Priority: p}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func assertInvariant(t *testing.T, q *Queue) {
	t.Helper()
	for _, a := range q.Snapshot() {
		if a.RetryCount < 0 || a.RetryCount >= a.MaxRetries {
			t.Errorf("action %s violates retry invariant: %d/%d", a.ID, a.RetryCount, a.MaxRetries)
		}
	}
}
