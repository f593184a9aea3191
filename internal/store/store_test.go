package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/logging"
	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
)

// fakeAPI is an in-memory backend whose unread count is always derived
// from its own data.
type fakeAPI struct {
	mu        sync.Mutex
	items     map[string]notifications.Notification
	failWrite bool
	failCount bool
	calls     []string

	// countHook, when set, replaces UnreadCount.
	countHook func(ctx context.Context) (int, error)
	// markReadHook runs inside MarkRead before the server state changes.
	markReadHook func(id string)
}

func newFakeAPI(items ...notifications.Notification) *fakeAPI {
	f := &fakeAPI{items: make(map[string]notifications.Notification)}
	for _, n := range items {
		f.items[n.ID] = n
	}
	return f
}

func (f *fakeAPI) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) List(ctx context.Context, opts notifyapi.ListOptions) ([]notifications.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list")

	var all []notifications.Notification
	for _, n := range f.items {
		if opts.UnreadOnly && n.Read {
			continue
		}
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if opts.Skip >= len(all) {
		return []notifications.Notification{}, nil
	}
	all = all[opts.Skip:]
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	return all, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	if f.countHook != nil {
		return f.countHook(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("unread_count")
	if f.failCount {
		return 0, &notifications.TransportError{Op: notifyapi.OpUnreadCount, Err: errors.New("offline")}
	}
	count := 0
	for _, n := range f.items {
		if !n.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	if f.markReadHook != nil {
		f.markReadHook(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("mark_read:" + id)
	if f.failWrite {
		return &notifications.TransportError{Op: notifyapi.OpMarkRead, Err: errors.New("offline")}
	}
	if n, ok := f.items[id]; ok {
		n.Read = true
		f.items[id] = n
	}
	return nil
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("mark_all_read")
	if f.failWrite {
		return &notifications.TransportError{Op: notifyapi.OpMarkAllRead, Err: errors.New("offline")}
	}
	for id, n := range f.items {
		n.Read = true
		f.items[id] = n
	}
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete:" + id)
	if f.failWrite {
		return &notifications.TransportError{Op: notifyapi.OpDelete, Err: errors.New("offline")}
	}
	delete(f.items, id)
	return nil
}

func (f *fakeAPI) setFailWrite(v bool) {
	f.mu.Lock()
	f.failWrite = v
	f.mu.Unlock()
}

func (f *fakeAPI) setFailCount(v bool) {
	f.mu.Lock()
	f.failCount = v
	f.mu.Unlock()
}

var base = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func note(id string, read bool, age time.Duration) notifications.Notification {
	return notifications.Notification{
		ID:        id,
		Type:      notifications.TypeNewConversation,
		Priority:  notifications.PriorityLow,
		Title:     "New conversation " + id,
		Read:      read,
		CreatedAt: base.Add(-age),
	}
}

func newTestStore(t *testing.T, api API) *Store {
	t.Helper()
	return New(api, Options{PageSize: 10, Logger: logging.Component(logging.Discard(), "store")})
}

func TestReconcileLoadsListAndCount(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute), note("n2", true, 2*time.Minute), note("n3", false, 3*time.Minute))
	s := newTestStore(t, api)

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Loaded {
		t.Error("expected Loaded after reconcile")
	}
	if len(snap.Notifications) != 3 || snap.Notifications[0].ID != "n1" {
		t.Errorf("unexpected list: %+v", snap.Notifications)
	}
	if snap.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", snap.UnreadCount)
	}
}

func TestMarkAllAsReadScenario(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute), note("n2", true, 2*time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := s.MarkAllAsRead(ctx); err != nil {
		t.Fatalf("MarkAllAsRead: %v", err)
	}

	snap := s.Snapshot()
	for _, n := range snap.Notifications {
		if !n.Read {
			t.Errorf("%s still unread", n.ID)
		}
	}
	if snap.UnreadCount != 0 {
		t.Errorf("UnreadCount = %d, want 0", snap.UnreadCount)
	}
}

func TestMarkAllAsReadAlwaysZero(t *testing.T) {
	for _, unread := range []int{0, 1, 25} {
		var items []notifications.Notification
		for i := 0; i < unread; i++ {
			items = append(items, note(string(rune('a'+i%26))+string(rune('0'+i/26)), false, time.Duration(i)*time.Minute))
		}
		items = append(items, note("read-one", true, time.Hour))
		api := newFakeAPI(items...)
		s := newTestStore(t, api)
		ctx := context.Background()

		if err := s.Reconcile(ctx); err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		if err := s.MarkAllAsRead(ctx); err != nil {
			t.Fatalf("MarkAllAsRead: %v", err)
		}
		count, err := s.FetchUnreadCount(ctx)
		if err != nil {
			t.Fatalf("FetchUnreadCount: %v", err)
		}
		if count != 0 {
			t.Errorf("with %d unread: count after mark-all = %d, want 0", unread, count)
		}
	}
}

func TestMarkAsReadConvergesToServer(t *testing.T) {
	api := newFakeAPI(
		note("n1", false, time.Minute),
		note("n2", false, 2*time.Minute),
		note("n3", false, 3*time.Minute),
		note("n4", true, 4*time.Minute),
	)
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	for _, id := range []string{"n1", "n3", "n1", "n4", "unknown"} {
		if err := s.MarkAsRead(ctx, id); err != nil {
			t.Fatalf("MarkAsRead(%s): %v", id, err)
		}
	}

	count, err := s.FetchUnreadCount(ctx)
	if err != nil {
		t.Fatalf("FetchUnreadCount: %v", err)
	}
	serverCount, _ := api.UnreadCount(ctx)
	if count != serverCount || count != 1 {
		t.Errorf("count = %d, server = %d, want 1", count, serverCount)
	}
}

func TestMarkAsReadIsOptimistic(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	var observed Snapshot
	api.markReadHook = func(id string) {
		observed = s.Snapshot()
	}
	if err := s.MarkAsRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if len(observed.Notifications) != 1 || !observed.Notifications[0].Read {
		t.Error("expected local read flag before the server call")
	}
	if observed.UnreadCount != 0 {
		t.Errorf("UnreadCount before server call = %d, want 0", observed.UnreadCount)
	}
}

func TestMarkAsReadFailureKeepsLocalState(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute), note("n2", false, 2*time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	api.setFailWrite(true)
	api.setFailCount(true)
	err := s.MarkAsRead(ctx, "n1")
	if !notifications.IsTransport(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	snap := s.Snapshot()
	if !snap.Notifications[0].Read {
		t.Error("optimistic read flag should be kept on failure")
	}
	if snap.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", snap.UnreadCount)
	}
	if !snap.Stale {
		t.Error("expected store to be marked stale")
	}

	// The next reconciliation restores server truth.
	api.setFailWrite(false)
	api.setFailCount(false)
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	snap = s.Snapshot()
	if snap.Stale {
		t.Error("expected Stale cleared after reconcile")
	}
	if snap.UnreadCount != 2 || snap.Notifications[0].Read {
		t.Errorf("expected server truth after reconcile, got count=%d read=%v", snap.UnreadCount, snap.Notifications[0].Read)
	}
}

func TestDeleteUnreadDecrementsByOne(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute), note("n2", false, 2*time.Minute), note("n3", true, 3*time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Keep the count refresh from overwriting the local arithmetic.
	api.setFailCount(true)

	if err := s.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete unread: %v", err)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Errorf("after deleting unread: count = %d, want 1", got)
	}

	if err := s.Delete(ctx, "n3"); err != nil {
		t.Fatalf("Delete read: %v", err)
	}
	if got := s.UnreadCount(); got != 1 {
		t.Errorf("after deleting read: count = %d, want 1", got)
	}

	snap := s.Snapshot()
	if len(snap.Notifications) != 1 || snap.Notifications[0].ID != "n2" {
		t.Errorf("unexpected remaining list: %+v", snap.Notifications)
	}
}

func TestUnreadCountOutOfOrderResponses(t *testing.T) {
	api := newFakeAPI()
	s := newTestStore(t, api)

	var mu sync.Mutex
	var queue []*pending
	api.countHook = func(ctx context.Context) (int, error) {
		mu.Lock()
		p := queue[0]
		queue = queue[1:]
		mu.Unlock()
		<-p.ready
		return p.value, nil
	}

	a := &pending{value: 5, ready: make(chan struct{})}
	b := &pending{value: 3, ready: make(chan struct{})}
	queue = []*pending{a, b}

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.FetchUnreadCount(ctx) // request A, issued first
	}()
	waitFor(t, func() bool { return queueLen(&mu, &queue) == 1 })

	doneB := make(chan int)
	go func() {
		n, _ := s.FetchUnreadCount(ctx) // request B, issued second
		doneB <- n
	}()
	waitFor(t, func() bool { return queueLen(&mu, &queue) == 0 })

	// B resolves first with 3.
	close(b.ready)
	if got := <-doneB; got != 3 {
		t.Fatalf("after B: count = %d, want 3", got)
	}

	// A resolves second with 5. It was issued before B, so the count keeps
	// B's answer.
	close(a.ready)
	wg.Wait()

	if got := s.UnreadCount(); got != 3 {
		t.Errorf("final count = %d, want 3 (stale response from A applied)", got)
	}
}

func TestSameIDMutationsAreSerialized(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	api.markReadHook = func(id string) {
		entered <- struct{}{}
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- s.MarkAsRead(ctx, "n1") }()
	<-entered

	deleteDone := make(chan error, 1)
	go func() { deleteDone <- s.Delete(ctx, "n1") }()

	select {
	case <-deleteDone:
		t.Fatal("delete ran while mark-read for the same id was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if err := <-deleteDone; err != nil {
		t.Fatalf("Delete: %v", err)
	}

	api.mu.Lock()
	calls := append([]string(nil), api.calls...)
	api.mu.Unlock()
	markIdx, delIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "mark_read:n1":
			markIdx = i
		case "delete:n1":
			delIdx = i
		}
	}
	if markIdx < 0 || delIdx < 0 || markIdx > delIdx {
		t.Errorf("expected mark_read before delete, calls = %v", calls)
	}
	if s.locks.size() != 0 {
		t.Errorf("expected keyed locks released, %d remain", s.locks.size())
	}
}

func TestListResponseKeepsPendingOptimisticState(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute), note("n2", false, 2*time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// A reconcile that lands while mark-read is in flight sees the server
	// still reporting n1 unread.
	api.markReadHook = func(id string) {
		if err := s.refreshList(ctx); err != nil {
			t.Errorf("refreshList: %v", err)
		}
		snap := s.Snapshot()
		for _, n := range snap.Notifications {
			if n.ID == "n1" && !n.Read {
				t.Error("list refresh clobbered optimistic read flag")
			}
		}
	}
	if err := s.MarkAsRead(ctx, "n1"); err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
}

func TestIngestDeduplicatesAndPublishes(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute))
	bus := events.NewBus(nil)
	s := New(api, Options{PageSize: 10, Bus: bus, Logger: logging.Component(logging.Discard(), "store")})
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	arrivals, unsubscribe := bus.Subscribe(events.TopicArrival)
	defer unsubscribe()

	fresh := note("n0", false, 0)
	fresh.Priority = ""
	s.Ingest(fresh)
	s.Ingest(fresh)
	s.Ingest(note("n1", false, time.Minute))

	snap := s.Snapshot()
	if len(snap.Notifications) != 2 || snap.Notifications[0].ID != "n0" {
		t.Errorf("unexpected list after ingest: %+v", snap.Notifications)
	}
	if snap.Notifications[0].Priority != notifications.PriorityLow {
		t.Errorf("priority = %q, want low", snap.Notifications[0].Priority)
	}
	if snap.UnreadCount != 2 {
		t.Errorf("UnreadCount = %d, want 2", snap.UnreadCount)
	}

	select {
	case v := <-arrivals:
		if n, ok := v.(notifications.Notification); !ok || n.ID != "n0" {
			t.Errorf("unexpected arrival %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected arrival event")
	}
	select {
	case v := <-arrivals:
		t.Errorf("unexpected second arrival %v", v)
	default:
	}
}

func TestLoadMoreAppendsNextPage(t *testing.T) {
	var items []notifications.Notification
	for i := 0; i < 15; i++ {
		items = append(items, note(string(rune('a'+i)), false, time.Duration(i)*time.Minute))
	}
	api := newFakeAPI(items...)
	s := newTestStore(t, api)
	ctx := context.Background()

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Notifications) != 10 || !snap.HasMore {
		t.Fatalf("first page: len=%d hasMore=%v", len(snap.Notifications), snap.HasMore)
	}

	if err := s.LoadMore(ctx); err != nil {
		t.Fatalf("LoadMore: %v", err)
	}
	snap = s.Snapshot()
	if len(snap.Notifications) != 15 || snap.HasMore {
		t.Errorf("after LoadMore: len=%d hasMore=%v", len(snap.Notifications), snap.HasMore)
	}
	if snap.Notifications[14].ID != "o" {
		t.Errorf("last = %q, want o", snap.Notifications[14].ID)
	}
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute))
	s := newTestStore(t, api)

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	initial := <-ch
	if initial.Loaded {
		t.Error("initial snapshot should not be loaded")
	}

	if err := s.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	select {
	case snap := <-ch:
		if !snap.Loaded || snap.UnreadCount != 1 {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("expected snapshot after reconcile")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	api := newFakeAPI(note("n1", false, time.Minute))
	s := newTestStore(t, api)
	ctx := context.Background()
	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	snap := s.Snapshot()
	snap.Notifications[0].Read = true
	if s.Snapshot().Notifications[0].Read {
		t.Error("mutating a snapshot leaked into the store")
	}
}

type pending struct {
	value int
	ready chan struct{}
}

func queueLen(mu *sync.Mutex, q *[]*pending) int {
	mu.Lock()
	defer mu.Unlock()
	return len(*q)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
