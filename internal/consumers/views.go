// Package consumers derives read-only views from store snapshots. Views
// never mutate the store; actions go through store methods.
package consumers

import (
	"sort"
	"strconv"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/store"
)

// BadgeCap is the largest count the bell shows before switching to "99+".
const BadgeCap = 99

// DefaultCenterLimit is the number of notifications the center shows.
const DefaultCenterLimit = 5

// Bell is the unread indicator.
type Bell struct {
	Count   int
	Badge   string
	Visible bool
}

// NewBell builds the bell view for a snapshot.
func NewBell(s store.Snapshot) Bell {
	b := Bell{Count: s.UnreadCount}
	switch {
	case s.UnreadCount <= 0:
		b.Count = 0
	case s.UnreadCount > BadgeCap:
		b.Badge = strconv.Itoa(BadgeCap) + "+"
		b.Visible = true
	default:
		b.Badge = strconv.Itoa(s.UnreadCount)
		b.Visible = true
	}
	return b
}

// Center is the dropdown of the latest notifications.
type Center struct {
	Items   []notifications.Notification
	Unread  int
	HasMore bool
	Stale   bool
}

// NewCenter returns the newest limit notifications from the snapshot.
func NewCenter(s store.Snapshot, limit int) Center {
	if limit <= 0 {
		limit = DefaultCenterLimit
	}
	items := newestFirst(s.Notifications)
	more := len(items) > limit || s.HasMore
	if len(items) > limit {
		items = items[:limit]
	}
	return Center{Items: items, Unread: s.UnreadCount, HasMore: more, Stale: s.Stale}
}

// Filter selects which notifications the page lists.
type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
)

// ParseFilter maps user input to a Filter, defaulting to FilterAll.
func ParseFilter(s string) Filter {
	if Filter(s) == FilterUnread {
		return FilterUnread
	}
	return FilterAll
}

// Page is the full notification list.
type Page struct {
	Filter  Filter
	Items   []notifications.Notification
	Unread  int
	HasMore bool
	Loaded  bool
}

// NewPage builds the page view with the given filter applied.
func NewPage(s store.Snapshot, filter Filter) Page {
	items := newestFirst(s.Notifications)
	if filter == FilterUnread {
		kept := items[:0]
		for _, n := range items {
			if !n.Read {
				kept = append(kept, n)
			}
		}
		items = kept
	} else {
		filter = FilterAll
	}
	return Page{Filter: filter, Items: items, Unread: s.UnreadCount, HasMore: s.HasMore, Loaded: s.Loaded}
}

func newestFirst(in []notifications.Notification) []notifications.Notification {
	out := make([]notifications.Notification, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
