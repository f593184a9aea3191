package consumers

import (
	"context"
	"fmt"
	"io"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// Toaster prints arrival events at or above a priority threshold. It is the
// presentation side effect of new notifications, decoupled from the store
// through the event bus.
type Toaster struct {
	bus       *events.Bus
	out       io.Writer
	threshold notifications.Priority
	bell      bool
	only      []string
	logger    *logrus.Entry
}

// NewToaster creates a Toaster. When bell is set a terminal bell accompanies
// high and critical notifications.
func NewToaster(bus *events.Bus, out io.Writer, threshold notifications.Priority, bell bool, logger *logrus.Entry) *Toaster {
	if !threshold.Valid() {
		threshold = notifications.PriorityLow
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Toaster{bus: bus, out: out, threshold: threshold, bell: bell, logger: logger}
}

// Only restricts toasts to notification types matching one of the glob
// patterns, for example "api_*". No patterns means every type.
func (t *Toaster) Only(patterns ...string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid type pattern %q", p)
		}
	}
	t.only = patterns
	return nil
}

// Run consumes arrivals until ctx is cancelled or the bus closes.
func (t *Toaster) Run(ctx context.Context) error {
	ch, unsubscribe := t.bus.Subscribe(events.TopicArrival)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, isNotification := msg.(notifications.Notification)
			if !isNotification {
				t.logger.WithField("payload", fmt.Sprintf("%T", msg)).Debug("ignoring unexpected arrival payload")
				continue
			}
			t.show(n)
		}
	}
}

func (t *Toaster) show(n notifications.Notification) {
	if !n.Priority.AtLeast(t.threshold) || !t.matches(n.Type) {
		return
	}
	prefix := ""
	if t.bell && n.Priority.AtLeast(notifications.PriorityHigh) {
		prefix = "\a"
	}
	fmt.Fprintf(t.out, "%snew: %s\n", prefix, Line(n))
}

func (t *Toaster) matches(typ notifications.NotificationType) bool {
	if len(t.only) == 0 {
		return true
	}
	for _, p := range t.only {
		if matched, err := doublestar.Match(p, string(typ)); err == nil && matched {
			return true
		}
	}
	return false
}
