package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
)

// API is the subset of the notification REST client the store depends on.
type API interface {
	List(ctx context.Context, opts notifyapi.ListOptions) ([]notifications.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

// DefaultPageSize is used when Options.PageSize is zero.
const DefaultPageSize = 20

// Options configures a Store.
type Options struct {
	PageSize int
	Bus      *events.Bus
	Logger   *logrus.Entry
}

// Snapshot is an immutable view of the store handed to consumers.
type Snapshot struct {
	Notifications []notifications.Notification
	UnreadCount   int
	Loaded        bool
	HasMore       bool
	// Stale is set after a failed mutation until the next successful list
	// reconciliation.
	Stale   bool
	Version uint64
}

// Store is the single in-memory source of truth for the notification list
// and unread count. Consumers observe it; only its methods mutate it.
type Store struct {
	api      API
	bus      *events.Bus
	logger   *logrus.Entry
	pageSize int

	mu       sync.Mutex
	items    []notifications.Notification
	unread   int
	loaded   bool
	hasMore  bool
	stale    bool
	version  uint64
	observer map[int]chan Snapshot
	nextObs  int

	// In-flight optimistic mutations, re-applied over list responses that
	// were issued before the server saw them.
	pendingRead   map[string]int
	pendingDelete map[string]int
	pendingAll    int

	countIssued  atomic.Uint64
	countApplied uint64
	listIssued   atomic.Uint64
	listApplied  uint64

	locks *keyedMutex
}

// New creates a Store backed by api.
func New(api API, opts Options) *Store {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		api:           api,
		bus:           opts.Bus,
		logger:        logger,
		pageSize:      pageSize,
		observer:      make(map[int]chan Snapshot),
		pendingRead:   make(map[string]int),
		pendingDelete: make(map[string]int),
		locks:         newKeyedMutex(),
	}
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// UnreadCount returns the cached unread count.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Subscribe registers an observer. The channel holds at most one snapshot;
// a slow reader only ever sees the latest state. The current state is
// delivered immediately.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observer[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observer, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// FetchUnreadCount refreshes the unread count from the server. Responses
// are applied in issuance order: a response to an older request that
// resolves after a newer one has been applied is discarded. The returned
// value is the count displayed after the call.
func (s *Store) FetchUnreadCount(ctx context.Context) (int, error) {
	seq := s.countIssued.Add(1)

	count, err := s.api.UnreadCount(ctx)
	if err != nil {
		s.logger.WithError(err).Debug("unread count fetch failed")
		return s.UnreadCount(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.countApplied {
		s.logger.WithFields(logrus.Fields{"seq": seq, "applied": s.countApplied}).Debug("discarding stale unread count")
		return s.unread, nil
	}
	s.countApplied = seq
	if s.unread != count {
		s.unread = count
		s.changedLocked()
	}
	return s.unread, nil
}

// Reconcile re-derives the first page and the unread count from the
// server. Both reads are attempted even if one fails.
func (s *Store) Reconcile(ctx context.Context) error {
	listErr := s.refreshList(ctx)
	_, countErr := s.FetchUnreadCount(ctx)
	return errors.Join(listErr, countErr)
}

func (s *Store) refreshList(ctx context.Context) error {
	seq := s.listIssued.Add(1)

	page, err := s.api.List(ctx, notifyapi.ListOptions{Limit: s.pageSize})
	if err != nil {
		s.logger.WithError(err).Debug("list fetch failed")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.listApplied {
		return nil
	}
	s.listApplied = seq

	s.items = s.overlayPendingLocked(page)
	s.hasMore = len(page) >= s.pageSize
	s.loaded = true
	s.stale = false
	s.changedLocked()
	return nil
}

// LoadMore appends the next page after the notifications already held.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	skip := len(s.items)
	s.mu.Unlock()

	page, err := s.api.List(ctx, notifyapi.ListOptions{Limit: s.pageSize, Skip: skip})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.items))
	for _, n := range s.items {
		seen[n.ID] = true
	}
	for _, n := range s.overlayPendingLocked(page) {
		if !seen[n.ID] {
			s.items = append(s.items, n)
		}
	}
	s.hasMore = len(page) >= s.pageSize
	s.loaded = true
	s.changedLocked()
	return nil
}

// MarkAsRead flips the notification to read locally, then tells the
// server. A failed server call leaves the local change in place, marks the
// store stale and returns the TransportError.
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	release := s.locks.Lock(id)
	defer release()

	s.mu.Lock()
	s.pendingRead[id]++
	if i := s.indexLocked(id); i >= 0 && !s.items[i].Read {
		s.items[i].Read = true
		s.decrementUnreadLocked()
		s.changedLocked()
	}
	s.mu.Unlock()

	err := s.api.MarkRead(ctx, id)

	s.mu.Lock()
	s.donePendingLocked(s.pendingRead, id)
	s.mu.Unlock()

	return s.afterMutation(ctx, "mark_read", err)
}

// MarkAllAsRead marks every held notification read and zeroes the count,
// then issues a single server call.
func (s *Store) MarkAllAsRead(ctx context.Context) error {
	s.mu.Lock()
	s.pendingAll++
	changed := s.unread != 0
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	s.unread = 0
	if changed {
		s.changedLocked()
	}
	s.mu.Unlock()

	err := s.api.MarkAllRead(ctx)

	s.mu.Lock()
	s.pendingAll--
	s.mu.Unlock()

	return s.afterMutation(ctx, "mark_all_read", err)
}

// Delete removes the notification locally, then on the server. The local
// unread count drops by one only if the removed notification was unread.
func (s *Store) Delete(ctx context.Context, id string) error {
	release := s.locks.Lock(id)
	defer release()

	s.mu.Lock()
	s.pendingDelete[id]++
	if i := s.indexLocked(id); i >= 0 {
		removed := s.items[i]
		s.items = append(s.items[:i:i], s.items[i+1:]...)
		if !removed.Read {
			s.decrementUnreadLocked()
		}
		s.changedLocked()
	}
	s.mu.Unlock()

	err := s.api.Delete(ctx, id)

	s.mu.Lock()
	s.donePendingLocked(s.pendingDelete, id)
	s.mu.Unlock()

	return s.afterMutation(ctx, "delete", err)
}

// Ingest records a notification pushed by the realtime channel. Delivery is
// at-least-once, so a notification already held is ignored. New arrivals
// are published on events.TopicArrival.
func (s *Store) Ingest(n notifications.Notification) {
	if n.ID == "" {
		return
	}
	if n.Priority == "" {
		n.Priority = notifications.PriorityLow
	}

	s.mu.Lock()
	if s.indexLocked(n.ID) >= 0 || s.pendingDelete[n.ID] > 0 {
		s.mu.Unlock()
		return
	}
	if s.pendingRead[n.ID] > 0 || s.pendingAll > 0 {
		n.Read = true
	}
	s.items = append(s.items, n)
	sort.SliceStable(s.items, func(i, j int) bool {
		return s.items[i].CreatedAt.After(s.items[j].CreatedAt)
	})
	if !n.Read {
		s.unread++
	}
	s.changedLocked()
	s.mu.Unlock()

	s.bus.Publish(events.TopicArrival, n)
}

// afterMutation applies the write-failure policy and re-derives the
// unread count from the server.
func (s *Store) afterMutation(ctx context.Context, op string, err error) error {
	if err != nil {
		s.logger.WithError(err).WithField("op", op).Warn("mutation failed; keeping local state until next reconcile")
		s.mu.Lock()
		if !s.stale {
			s.stale = true
			s.changedLocked()
		}
		s.mu.Unlock()
	}
	if _, countErr := s.FetchUnreadCount(ctx); countErr != nil {
		s.logger.WithError(countErr).WithField("op", op).Debug("post-mutation count refresh failed")
	}
	return err
}

// overlayPendingLocked applies in-flight optimistic mutations to a page
// returned by the server.
func (s *Store) overlayPendingLocked(page []notifications.Notification) []notifications.Notification {
	out := make([]notifications.Notification, 0, len(page))
	for _, n := range page {
		if s.pendingDelete[n.ID] > 0 {
			continue
		}
		if s.pendingAll > 0 || s.pendingRead[n.ID] > 0 {
			n.Read = true
		}
		out = append(out, n)
	}
	return out
}

func (s *Store) donePendingLocked(m map[string]int, id string) {
	m[id]--
	if m[id] <= 0 {
		delete(m, id)
	}
}

func (s *Store) decrementUnreadLocked() {
	if s.unread > 0 {
		s.unread--
	}
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() Snapshot {
	items := make([]notifications.Notification, len(s.items))
	copy(items, s.items)
	return Snapshot{
		Notifications: items,
		UnreadCount:   s.unread,
		Loaded:        s.loaded,
		HasMore:       s.hasMore,
		Stale:         s.stale,
		Version:       s.version,
	}
}

// changedLocked bumps the version and pushes the new snapshot to observers.
func (s *Store) changedLocked() {
	s.version++
	snap := s.snapshotLocked()
	for _, ch := range s.observer {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
