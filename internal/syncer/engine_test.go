package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"dukapos/terminal/internal/backend"
	"dukapos/terminal/internal/connectivity"
	"dukapos/terminal/internal/domain"
	"dukapos/terminal/internal/queue/memory"
)

// fakeBackend records submissions and answers from a per-id script.
type fakeBackend struct {
	mu        sync.Mutex
	inserted  []string
	responses map[string][]error // popped per call; empty means success
	onInsert  func(id string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{responses: make(map[string][]error)}
}

func (f *fakeBackend) failWith(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[id] = append(f.responses[id], errs...)
}

func (f *fakeBackend) InsertSale(_ context.Context, sale domain.PendingSale) error {
	f.mu.Lock()
	f.inserted = append(f.inserted, sale.ID)
	var err error
	if queued := f.responses[sale.ID]; len(queued) > 0 {
		err = queued[0]
		f.responses[sale.ID] = queued[1:]
	}
	hook := f.onInsert
	f.mu.Unlock()

	if hook != nil {
		hook(sale.ID)
	}
	return err
}

func (f *fakeBackend) Ping(context.Context) error { return nil }

func (f *fakeBackend) insertedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inserted...)
}

func onlineMonitor() *connectivity.Monitor {
	m := connectivity.New(nil, 0, nil)
	m.Report(true)
	return m
}

func sale(id string, createdAt time.Time) domain.PendingSale {
	return domain.PendingSale{
		ID:            id,
		BusinessID:    "biz-1",
		StaffID:       "staff-1",
		TotalCents:    7500,
		PaymentMethod: domain.PaymentCash,
		Items:         []domain.SaleLine{{ServiceID: "svc", Qty: 1, UnitPriceCents: 7500, TotalCents: 7500}},
		Status:        domain.SaleStatusPending,
		CreatedAt:     createdAt,
	}
}

func TestSyncDeliversAndMarksSynced(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	engine := New(q, be, onlineMonitor(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"sale-a", "sale-b", "sale-c"} {
		if err := q.Enqueue(ctx, sale(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	inserted := be.insertedIDs()
	want := []string{"sale-a", "sale-b", "sale-c"}
	if len(inserted) != len(want) {
		t.Fatalf("expected %d inserts, got %d: %v", len(want), len(inserted), inserted)
	}
	for i, id := range want {
		if inserted[i] != id {
			t.Fatalf("insert order position %d: expected %s, got %s", i, id, inserted[i])
		}
	}

	unsynced, err := q.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected empty queue after sync, got %v", unsynced)
	}
}

func TestRetryableFailureStopsPassInOrder(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	engine := New(q, be, onlineMonitor(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := q.Enqueue(ctx, sale("sale-a", base)); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if err := q.Enqueue(ctx, sale("sale-b", base.Add(time.Second))); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	be.failWith("sale-a", fmt.Errorf("%w: connection refused", backend.ErrUnavailable))

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync with retryable failure must not error: %v", err)
	}

	// The pass must stop before sale-b so a later sale never overtakes an
	// earlier stuck one.
	if inserted := be.insertedIDs(); len(inserted) != 1 || inserted[0] != "sale-a" {
		t.Fatalf("expected only sale-a attempted, got %v", inserted)
	}

	unsynced, err := q.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(unsynced) != 2 || unsynced[0].ID != "sale-a" || unsynced[1].ID != "sale-b" {
		t.Fatalf("expected both sales still queued in order, got %v", unsynced)
	}

	// Next trigger retries from the head of the queue.
	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	inserted := be.insertedIDs()
	if len(inserted) != 3 || inserted[1] != "sale-a" || inserted[2] != "sale-b" {
		t.Fatalf("expected retry of sale-a before sale-b, got %v", inserted)
	}
}

func TestPoisonRecordIsFlaggedAndSkipped(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	engine := New(q, be, onlineMonitor(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := q.Enqueue(ctx, sale("sale-c", base)); err != nil {
		t.Fatalf("enqueue c: %v", err)
	}
	if err := q.Enqueue(ctx, sale("sale-d", base.Add(time.Second))); err != nil {
		t.Fatalf("enqueue d: %v", err)
	}
	be.failWith("sale-c", fmt.Errorf("%w: staff no longer exists", backend.ErrRejected))

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if inserted := be.insertedIDs(); len(inserted) != 2 || inserted[1] != "sale-d" {
		t.Fatalf("expected sale-d attempted after poison sale-c, got %v", inserted)
	}

	all, err := q.ListAll(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	byID := make(map[string]domain.PendingSale, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	if byID["sale-c"].Status != domain.SaleStatusFailed {
		t.Fatalf("expected sale-c failed, got %s", byID["sale-c"].Status)
	}
	if byID["sale-c"].FailReason == "" {
		t.Fatalf("expected fail reason recorded for sale-c")
	}
	if byID["sale-d"].Status != domain.SaleStatusSynced {
		t.Fatalf("expected sale-d synced, got %s", byID["sale-d"].Status)
	}
}

func TestConnectivityLossStopsPassEarly(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	monitor := onlineMonitor()
	engine := New(q, be, monitor, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"sale-a", "sale-b", "sale-c"} {
		if err := q.Enqueue(ctx, sale(id, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	// The network dies while the first record is in flight; the already
	// dispatched call completes, the rest of the pass stops.
	be.onInsert = func(id string) {
		if id == "sale-a" {
			monitor.Report(false)
		}
	}

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if inserted := be.insertedIDs(); len(inserted) != 1 || inserted[0] != "sale-a" {
		t.Fatalf("expected pass to stop after sale-a, got %v", inserted)
	}

	unsynced, err := q.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("expected sale-b and sale-c still queued, got %v", unsynced)
	}
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	engine := New(q, be, onlineMonitor(), nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := q.Enqueue(ctx, sale("sale-a", base)); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}

	// While sale-a is in flight, enqueue sale-b and trigger again. The
	// second trigger must coalesce into a rerun of the same Sync call.
	var once sync.Once
	be.onInsert = func(id string) {
		once.Do(func() {
			if err := q.Enqueue(ctx, sale("sale-b", base.Add(time.Second))); err != nil {
				t.Errorf("enqueue b: %v", err)
			}
			if err := engine.Sync(ctx); err != nil {
				t.Errorf("nested sync: %v", err)
			}
			if !engine.Syncing() {
				t.Errorf("expected engine to report syncing mid-pass")
			}
		})
	}

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	inserted := be.insertedIDs()
	if len(inserted) != 2 || inserted[0] != "sale-a" || inserted[1] != "sale-b" {
		t.Fatalf("expected rerun to pick up sale-b, got %v", inserted)
	}
	if engine.Syncing() {
		t.Fatalf("engine must return to idle after the rerun")
	}

	unsynced, err := q.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected everything synced, got %v", unsynced)
	}
}

// flakyQueue fails the first ListUnsynced and delegates everything else.
type flakyQueue struct {
	*memory.Queue
	failed bool
	onList func()
}

func (q *flakyQueue) ListUnsynced(ctx context.Context) ([]domain.PendingSale, error) {
	if !q.failed {
		q.failed = true
		if q.onList != nil {
			q.onList()
		}
		return nil, fmt.Errorf("spool unreadable")
	}
	return q.Queue.ListUnsynced(ctx)
}

func TestErroredPassKeepsCoalescedTrigger(t *testing.T) {
	q := &flakyQueue{Queue: memory.New()}
	be := newFakeBackend()
	engine := New(q, be, onlineMonitor(), nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, sale("sale-a", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A capture fires its trigger while the failing pass is in flight.
	q.onList = func() {
		if err := engine.Sync(ctx); err != nil {
			t.Errorf("coalesced sync must not error: %v", err)
		}
	}

	if err := engine.Sync(ctx); err == nil {
		t.Fatalf("expected queue error from first pass")
	}
	if engine.Syncing() {
		t.Fatalf("engine must be idle after the errored pass")
	}
	if !engine.pending {
		t.Fatalf("coalesced trigger must survive an errored pass")
	}

	// The next pass honors the surviving trigger and drains the queue.
	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if inserted := be.insertedIDs(); len(inserted) != 1 || inserted[0] != "sale-a" {
		t.Fatalf("expected sale-a delivered on the retry, got %v", inserted)
	}
}

func TestWatchSyncsOnBecameOnline(t *testing.T) {
	q := memory.New()
	be := newFakeBackend()
	monitor := connectivity.New(nil, 0, nil) // offline
	engine := New(q, be, monitor, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, sale("sale-a", time.Now().UTC())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	unwatch := engine.Watch(ctx)
	defer unwatch()

	if len(be.insertedIDs()) != 0 {
		t.Fatalf("no sync expected while offline")
	}

	monitor.Report(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		unsynced, err := q.ListUnsynced(ctx)
		if err != nil {
			t.Fatalf("list unsynced: %v", err)
		}
		if len(unsynced) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sale not synced after coming online")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if inserted := be.insertedIDs(); len(inserted) != 1 || inserted[0] != "sale-a" {
		t.Fatalf("expected sale-a inserted once, got %v", inserted)
	}
}
