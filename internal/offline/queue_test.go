package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clawinfra/applytrack/internal/actions"
	"github.com/clawinfra/applytrack/internal/persist"
)

func TestQueue_EnqueueAssignsAndPersists(t *testing.T) {
	store := persist.NewMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, Options{})

	var notified [][]actions.Action
	q.OnChange(func(list []actions.Action) { notified = append(notified, list) })

	id := mustEnqueue(t, q, actions.Draft{
		Kind:     "ADD_APPLICATION",
		Endpoint: "/api/applications",
		Method:   "post",
		Payload:  map[string]any{"company": "Acme"},
	})
	if id != "act-1" {
		t.Errorf("expected act-1, got %s", id)
	}

	snap := q.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 action, got %d", len(snap))
	}
	a := snap[0]
	if a.RetryCount != 0 || a.MaxRetries != actions.DefaultMaxRetries {
		t.Errorf("unexpected retry fields %d/%d", a.RetryCount, a.MaxRetries)
	}
	if a.Method != "POST" || a.Priority != actions.PriorityMedium {
		t.Errorf("draft not normalised: %s %s", a.Method, a.Priority)
	}
	if a.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}

	if store.Saves() != 1 {
		t.Errorf("expected 1 save, got %d", store.Saves())
	}
	persisted, _ := store.Load(context.Background())
	if len(persisted) != 1 || persisted[0].ID != id {
		t.Errorf("expected action persisted, got %+v", persisted)
	}
	if len(notified) != 1 || len(notified[0]) != 1 {
		t.Errorf("expected one notification with one action, got %v", notified)
	}
}

func TestQueue_EnqueueRejectsMalformed(t *testing.T) {
	store := persist.NewMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, Options{})

	notified := 0
	q.OnChange(func([]actions.Action) { notified++ })

	for _, d := range []actions.Draft{
		{Kind: "X", Method: "POST"},
		{Kind: "X", Endpoint: "/api/x", Method: "PATCH"},
		{Kind: "X", Endpoint: "/api/x"},
	} {
		if _, err := q.Enqueue(context.Background(), d); !errors.Is(err, actions.ErrInvalidDraft) {
			t.Errorf("expected ErrInvalidDraft for %+v, got %v", d, err)
		}
	}
	if len(q.Snapshot()) != 0 {
		t.Error("malformed drafts must not be queued")
	}
	if store.Saves() != 0 || notified != 0 {
		t.Errorf("expected no writes or notifications, got saves=%d notified=%d", store.Saves(), notified)
	}
}

func TestQueue_RemoveAndClear(t *testing.T) {
	store := persist.NewMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, Options{})
	ctx := context.Background()

	a := mustEnqueue(t, q, draft("a", actions.PriorityLow))
	b := mustEnqueue(t, q, draft("b", actions.PriorityLow))

	notified := 0
	q.OnChange(func([]actions.Action) { notified++ })

	if q.Remove(ctx, "missing") {
		t.Error("Remove of unknown id should report false")
	}
	if notified != 0 || store.Saves() != 2 {
		t.Errorf("unknown remove should not write or notify, saves=%d notified=%d", store.Saves(), notified)
	}

	if !q.Remove(ctx, a) {
		t.Fatal("Remove should report true")
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != b {
		t.Errorf("expected only %s left, got %+v", b, snap)
	}

	q.Clear(ctx)
	if q.Status().QueueLength != 0 {
		t.Error("expected empty queue after Clear")
	}
	persisted, _ := store.Load(ctx)
	if len(persisted) != 0 {
		t.Errorf("expected empty persisted list, got %d", len(persisted))
	}
	if notified != 2 {
		t.Errorf("expected 2 notifications, got %d", notified)
	}
}

func TestQueue_SnapshotIsCopy(t *testing.T) {
	q := newTestQueue(t, persist.NewMemoryStore(), &fakeSender{}, Options{})
	mustEnqueue(t, q, actions.Draft{Endpoint: "/x", Method: "POST", Payload: map[string]any{"k": "v"}})

	snap := q.Snapshot()
	snap[0].RetryCount = 99
	snap[0].Payload["k"] = "mutated"

	again := q.Snapshot()
	if again[0].RetryCount != 0 || again[0].Payload["k"] != "v" {
		t.Error("snapshot mutation leaked into the queue")
	}
}

func TestQueue_SyncNowIdempotent(t *testing.T) {
	t.Run("empty queue", func(t *testing.T) {
		store := persist.NewMemoryStore()
		q := newTestQueue(t, store, &fakeSender{}, Options{StartOnline: true})
		notified := 0
		q.OnChange(func([]actions.Action) { notified++ })

		res := q.SyncNow(context.Background())
		if res == nil || len(res) != 0 {
			t.Errorf("expected empty non-nil results, got %v", res)
		}
		if store.Saves() != 0 || notified != 0 {
			t.Errorf("expected no side effects, saves=%d notified=%d", store.Saves(), notified)
		}
	})

	t.Run("offline", func(t *testing.T) {
		store := persist.NewMemoryStore()
		sender := &fakeSender{}
		q := newTestQueue(t, store, sender, Options{})
		mustEnqueue(t, q, draft("a", actions.PriorityHigh))
		saves := store.Saves()

		if res := q.SyncNow(context.Background()); len(res) != 0 {
			t.Errorf("expected no results offline, got %d", len(res))
		}
		if sender.callCount() != 0 {
			t.Error("nothing should be sent while offline")
		}
		if store.Saves() != saves {
			t.Error("offline SyncNow should not persist")
		}
	})

	t.Run("while syncing", func(t *testing.T) {
		store := persist.NewMemoryStore()
		sender := &fakeSender{gate: make(chan struct{}), entered: make(chan string, 1)}
		q := newTestQueue(t, store, sender, Options{StartOnline: true})
		mustEnqueue(t, q, draft("a", actions.PriorityHigh))

		done := make(chan []actions.Result)
		go func() { done <- q.SyncNow(context.Background()) }()
		<-sender.entered

		if !q.Status().IsSyncing {
			t.Error("expected IsSyncing during cycle")
		}

		saves := store.Saves()
		notified := 0
		unsubscribe := q.OnChange(func([]actions.Action) { notified++ })
		if res := q.SyncNow(context.Background()); len(res) != 0 {
			t.Errorf("expected no results while syncing, got %d", len(res))
		}
		if store.Saves() != saves || notified != 0 {
			t.Errorf("busy SyncNow must not write or notify, saves=%d notified=%d", store.Saves()-saves, notified)
		}
		unsubscribe()

		close(sender.gate)
		res := <-done
		if len(res) != 1 || !res[0].Success {
			t.Errorf("expected one success from the running cycle, got %+v", res)
		}
		if q.Status().IsSyncing {
			t.Error("expected IsSyncing false after cycle")
		}
	})
}

func TestQueue_PriorityOrdering(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{})

	var mu sync.Mutex
	var batches [][]string
	q.dispatcher.batchHook = func(batch []actions.Action) {
		ids := make([]string, len(batch))
		for i, a := range batch {
			ids[i] = a.Kind
		}
		mu.Lock()
		batches = append(batches, ids)
		mu.Unlock()
	}

	mustEnqueue(t, q, draft("A", actions.PriorityLow))
	mustEnqueue(t, q, draft("B", actions.PriorityHigh))
	mustEnqueue(t, q, draft("C", actions.PriorityMedium))

	q.SetOnline(true)
	res := q.SyncNow(context.Background())
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	want := []string{"B", "C", "A"}
	for i, k := range want {
		if batches[0][i] != k {
			t.Fatalf("expected order %v, got %v", want, batches[0])
		}
	}
	if len(q.Snapshot()) != 0 {
		t.Error("expected queue drained after successful sync")
	}
}

func TestQueue_FailureIncrementsRetry(t *testing.T) {
	store := persist.NewMemoryStore()
	sender := &fakeSender{fail: alwaysFail}
	q := newTestQueue(t, store, sender, Options{StartOnline: true})
	id := mustEnqueue(t, q, draft("a", actions.PriorityHigh))

	notified := 0
	q.OnChange(func([]actions.Action) { notified++ })
	saves := store.Saves()

	res := q.SyncNow(context.Background())
	if len(res) != 1 || res[0].Success || res[0].Error == "" {
		t.Fatalf("expected one failed result with error, got %+v", res)
	}
	if res[0].Response == nil || res[0].Response.StatusCode != 503 {
		t.Errorf("expected captured 503 response, got %+v", res[0].Response)
	}

	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != id {
		t.Fatalf("expected action retained, got %+v", snap)
	}
	if snap[0].RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %d", snap[0].RetryCount)
	}
	if snap[0].LastAttempt == nil || snap[0].LastError == "" {
		t.Error("expected lastAttempt and lastError to be recorded")
	}
	if store.Saves() != saves+1 {
		t.Errorf("expected exactly one save per cycle, got %d", store.Saves()-saves)
	}
	if notified != 1 {
		t.Errorf("expected exactly one notification per cycle, got %d", notified)
	}
	assertInvariant(t, q)
}

func TestQueue_TerminalAfterMaxRetries(t *testing.T) {
	sender := &fakeSender{fail: alwaysFail}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{StartOnline: true})

	var dead []actions.DeadLetter
	q.OnDeadLetter(func(dl actions.DeadLetter) { dead = append(dead, dl) })

	d := draft("a", actions.PriorityHigh)
	d.MaxRetries = 2
	id := mustEnqueue(t, q, d)

	for attempt := 1; attempt <= 3; attempt++ {
		q.SyncNow(context.Background())
		assertInvariant(t, q)
	}

	if sender.callCount() != 2 {
		t.Errorf("expected 2 delivery attempts, got %d", sender.callCount())
	}
	for _, a := range q.Snapshot() {
		if a.ID == id {
			t.Fatal("dead-lettered action still queued")
		}
	}
	if len(dead) != 1 {
		t.Fatalf("expected exactly one dead-letter event, got %d", len(dead))
	}
	if dead[0].ActionID != id || dead[0].Attempts != 2 || dead[0].LastError == "" {
		t.Errorf("unexpected dead letter %+v", dead[0])
	}
}

func TestQueue_ReconnectScenario(t *testing.T) {
	sender := &fakeSender{}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{SyncInterval: 50 * time.Millisecond})

	if q.IsOnline() {
		t.Fatal("queue should start offline")
	}
	for _, k := range []string{"a", "b", "c"} {
		mustEnqueue(t, q, draft(k, actions.PriorityMedium))
	}
	if n := len(q.Snapshot()); n != 3 {
		t.Fatalf("expected 3 queued, got %d", n)
	}

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	q.SetOnline(true)

	waitFor(t, time.Second, func() bool { return len(q.Snapshot()) == 0 })
	if sender.callCount() != 3 {
		t.Errorf("expected 3 dispatched, got %d", sender.callCount())
	}
}

func TestQueue_BatchingLimit(t *testing.T) {
	sender := &fakeSender{delay: 20 * time.Millisecond}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{BatchSize: 5})

	var mu sync.Mutex
	var sizes []int
	q.dispatcher.batchHook = func(batch []actions.Action) {
		mu.Lock()
		sizes = append(sizes, len(batch))
		mu.Unlock()
	}

	for i := 0; i < 12; i++ {
		mustEnqueue(t, q, draft("x", actions.PriorityLow))
	}
	q.SetOnline(true)
	res := q.SyncNow(context.Background())

	if len(res) != 12 {
		t.Fatalf("expected 12 results, got %d", len(res))
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 3 || sizes[0] != 5 || sizes[1] != 5 || sizes[2] != 2 {
		t.Errorf("expected batches [5 5 2], got %v", sizes)
	}
	if peak := sender.maxSeen.Load(); peak > 5 {
		t.Errorf("expected at most 5 concurrent requests, saw %d", peak)
	}
	if len(q.Snapshot()) != 0 {
		t.Error("expected queue drained")
	}
}

func TestQueue_RemovedDuringCycleNotResurrected(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan string, 1), fail: alwaysFail}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{StartOnline: true})
	id := mustEnqueue(t, q, draft("a", actions.PriorityHigh))

	var dead int
	q.OnDeadLetter(func(actions.DeadLetter) { dead++ })

	done := make(chan struct{})
	go func() {
		q.SyncNow(context.Background())
		close(done)
	}()
	<-sender.entered
	if !q.Remove(context.Background(), id) {
		t.Fatal("Remove failed during cycle")
	}
	close(sender.gate)
	<-done

	if len(q.Snapshot()) != 0 {
		t.Error("removed action came back after cycle")
	}
	if dead != 0 {
		t.Error("removed action must not be dead-lettered")
	}
}

func TestQueue_EnqueuedDuringCycleKept(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan string, 1)}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{StartOnline: true})
	mustEnqueue(t, q, draft("a", actions.PriorityHigh))

	done := make(chan struct{})
	go func() {
		q.SyncNow(context.Background())
		close(done)
	}()
	<-sender.entered
	late := mustEnqueue(t, q, draft("late", actions.PriorityLow))
	close(sender.gate)
	<-done

	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != late {
		t.Errorf("expected only the late action pending, got %+v", snap)
	}
}

func TestQueue_PersistFailureIsSoft(t *testing.T) {
	store := &failingStore{}
	q := newTestQueue(t, store, &fakeSender{}, Options{})

	id, err := q.Enqueue(context.Background(), draft("a", actions.PriorityHigh))
	if err != nil {
		t.Fatalf("Enqueue should succeed despite store failure: %v", err)
	}
	if store.attempts.Load() != 1 {
		t.Errorf("expected one save attempt, got %d", store.attempts.Load())
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != id {
		t.Error("in-memory queue should remain authoritative")
	}
}

func TestQueue_ListenerPanicRecovered(t *testing.T) {
	q := newTestQueue(t, persist.NewMemoryStore(), &fakeSender{}, Options{})

	q.OnChange(func([]actions.Action) { panic("boom") })
	got := 0
	q.OnChange(func(list []actions.Action) { got = len(list) })

	mustEnqueue(t, q, draft("a", actions.PriorityLow))
	if got != 1 {
		t.Errorf("second listener should still run, got %d", got)
	}
}

func TestQueue_Unsubscribe(t *testing.T) {
	q := newTestQueue(t, persist.NewMemoryStore(), &fakeSender{}, Options{})

	calls := 0
	unsubscribe := q.OnChange(func([]actions.Action) { calls++ })
	mustEnqueue(t, q, draft("a", actions.PriorityLow))
	unsubscribe()
	unsubscribe()
	mustEnqueue(t, q, draft("b", actions.PriorityLow))

	if calls != 1 {
		t.Errorf("expected 1 call before unsubscribe, got %d", calls)
	}
	if q.changes.len() != 0 {
		t.Errorf("expected no subscribers, got %d", q.changes.len())
	}
}

func TestQueue_LoadPrunesAndDeadLettersExhausted(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	inner := persist.NewMemoryStore()
	_ = inner.Save(ctx, []actions.Action{
		{ID: "stale", CreatedAt: now.Add(-30 * time.Hour), MaxRetries: 3, Endpoint: "/x", Method: "POST"},
		{ID: "fresh", CreatedAt: now.Add(-time.Hour), MaxRetries: 3, Endpoint: "/x", Method: "POST"},
		{ID: "spent", CreatedAt: now.Add(-time.Hour), RetryCount: 3, MaxRetries: 3, Endpoint: "/x", Method: "POST"},
	})

	store := persist.NewRetention(inner, 24*time.Hour, testLogger())
	q := newTestQueue(t, store, &fakeSender{}, Options{})

	var dead []string
	q.OnDeadLetter(func(dl actions.DeadLetter) { dead = append(dead, dl.ActionID) })

	if err := q.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != "fresh" {
		t.Fatalf("expected only fresh action, got %+v", snap)
	}
	if len(dead) != 1 || dead[0] != "spent" {
		t.Errorf("expected spent action dead-lettered, got %v", dead)
	}

	persisted, _ := inner.Load(ctx)
	if len(persisted) != 1 {
		t.Errorf("expected pruned list persisted, got %d actions", len(persisted))
	}
}

func TestQueue_PruneStale(t *testing.T) {
	clk := newClock()
	store := persist.NewMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, Options{now: clk.Now, Retention: time.Hour})

	old := mustEnqueue(t, q, draft("old", actions.PriorityLow))
	clk.Advance(2 * time.Hour)
	fresh := mustEnqueue(t, q, draft("fresh", actions.PriorityLow))

	if n := q.PruneStale(context.Background()); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != fresh {
		t.Errorf("expected %s kept and %s dropped, got %+v", fresh, old, snap)
	}

	saves := store.Saves()
	if n := q.PruneStale(context.Background()); n != 0 {
		t.Errorf("expected nothing left to prune, got %d", n)
	}
	if store.Saves() != saves {
		t.Error("no-op prune should not write")
	}
}

func TestQueue_ConnectivityTriggers(t *testing.T) {
	q := newTestQueue(t, persist.NewMemoryStore(), &fakeSender{}, Options{})
	drain := func() bool {
		select {
		case <-q.scheduler.trigger:
			return true
		default:
			return false
		}
	}

	q.SetOnline(false)
	if drain() {
		t.Error("no trigger expected for unchanged state")
	}

	q.SetOnline(true)
	if !drain() {
		t.Error("offline to online should trigger a cycle")
	}

	q.SetVisible(false)
	q.SetVisible(true)
	if !drain() {
		t.Error("becoming visible while online should trigger a cycle")
	}

	q.SetOnline(false)
	q.SetVisible(false)
	q.SetVisible(true)
	if drain() {
		t.Error("becoming visible while offline should not trigger")
	}

	mustEnqueue(t, q, draft("a", actions.PriorityLow))
	if drain() {
		t.Error("enqueue while offline should not trigger")
	}
	q.SetOnline(true)
	_ = drain()
	mustEnqueue(t, q, draft("b", actions.PriorityLow))
	if !drain() {
		t.Error("enqueue while online should trigger")
	}
}

func TestQueue_TeardownBeaconsHighPriorityOnly(t *testing.T) {
	beacon := &recordingBeacon{}
	store := persist.NewMemoryStore()
	q := newTestQueue(t, store, &fakeSender{}, Options{Beacon: beacon})

	if n := q.Teardown(); n != 0 {
		t.Errorf("empty queue should beacon nothing, got %d", n)
	}

	mustEnqueue(t, q, draft("low", actions.PriorityLow))
	high := mustEnqueue(t, q, draft("high", actions.PriorityHigh))
	mustEnqueue(t, q, draft("medium", actions.PriorityMedium))
	saves := store.Saves()

	if n := q.Teardown(); n != 1 {
		t.Fatalf("expected 1 beacon, got %d", n)
	}
	if len(beacon.sent) != 1 || beacon.sent[0].ID != high {
		t.Errorf("expected only %s beaconed, got %+v", high, beacon.sent)
	}

	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Errorf("teardown must not remove actions, got %d", len(snap))
	}
	for _, a := range snap {
		if a.RetryCount != 0 {
			t.Errorf("teardown must not touch retryCount, %s has %d", a.ID, a.RetryCount)
		}
	}
	if store.Saves() != saves {
		t.Error("teardown must not persist")
	}
}

func TestQueue_ShutdownDoesNotCountAttempt(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan string, 1)}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{StartOnline: true})
	mustEnqueue(t, q, draft("a", actions.PriorityHigh))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan []actions.Result)
	go func() { done <- q.SyncNow(ctx) }()
	<-sender.entered
	cancel()
	res := <-done

	if len(res) != 1 || res[0].Success {
		t.Fatalf("expected one failed result, got %+v", res)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].RetryCount != 0 {
		t.Errorf("interrupted attempt should not count, got %+v", snap)
	}
}

func TestQueue_StopCancelsRunningCycle(t *testing.T) {
	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan string, 3)}
	q := newTestQueue(t, persist.NewMemoryStore(), sender, Options{
		StartOnline:    true,
		BatchSize:      1,
		RequestTimeout: 2 * time.Second,
	})
	for _, k := range []string{"a", "b", "c"} {
		mustEnqueue(t, q, draft(k, actions.PriorityMedium))
	}

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-sender.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle never started")
	}

	start := time.Now()
	q.Stop()
	if took := time.Since(start); took > time.Second {
		t.Errorf("Stop waited %v for the cycle", took)
	}

	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 actions kept, got %d", len(snap))
	}
	for _, a := range snap {
		if a.RetryCount != 0 {
			t.Errorf("cancelled cycle charged %s a retry (%d)", a.ID, a.RetryCount)
		}
	}
}

func TestQueue_LoadSurvivesReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	inner := &failingStore{}
	_ = inner.MemoryStore.Save(ctx, []actions.Action{
		{ID: "stale", CreatedAt: now.Add(-30 * time.Hour), MaxRetries: 3, Endpoint: "/x", Method: "POST"},
		{ID: "fresh", CreatedAt: now.Add(-time.Hour), MaxRetries: 3, Endpoint: "/x", Method: "POST"},
	})

	q := newTestQueue(t, persist.NewRetention(inner, 24*time.Hour, testLogger()), &fakeSender{}, Options{})
	if err := q.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	snap := q.Snapshot()
	if len(snap) != 1 || snap[0].ID != "fresh" {
		t.Errorf("expected fresh action loaded, got %+v", snap)
	}
}

func TestQueue_LoadKeepsEarlierEnqueues(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{}
	_ = store.MemoryStore.Save(ctx, []actions.Action{
		{ID: "stored", CreatedAt: time.Now(), MaxRetries: 3, Endpoint: "/x", Method: "POST"},
	})

	q := newTestQueue(t, store, &fakeSender{}, Options{})
	id := mustEnqueue(t, q, draft("early", actions.PriorityLow))
	if err := q.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := q.Snapshot()
	if len(snap) != 2 || snap[0].ID != "stored" || snap[1].ID != id {
		t.Errorf("expected stored then early action, got %+v", snap)
	}
}

func TestQueue_StartTwice(t *testing.T) {
	q := newTestQueue(t, persist.NewMemoryStore(), &fakeSender{}, Options{})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := q.Start(context.Background()); err == nil {
		t.Error("expected error on second Start")
	}
	q.Stop()
	q.Stop()
}
