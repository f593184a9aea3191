package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// TopicArrival carries notifications.Notification values for newly
	// delivered notifications. Presentation layers subscribe to it for
	// sounds and toasts.
	TopicArrival = "notifications:arrival"
	// TopicChannelState carries realtime.State transitions.
	TopicChannelState = "realtime:state"

	defaultBufferSize = 64
)

// Bus is a small in-process pub/sub hub. Publishing never blocks: a full
// subscriber buffer drops the message and the drop is counted.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[int]chan any
	nextSubID int
	closed    bool

	dropMu     sync.Mutex
	dropCounts map[string]uint64

	logger *logrus.Entry
}

// NewBus creates an empty Bus.
func NewBus(logger *logrus.Entry) *Bus {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		subs:       make(map[string]map[int]chan any),
		dropCounts: make(map[string]uint64),
		logger:     logger,
	}
}

// Publish delivers payload to every subscriber of topic.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil || topic == "" {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
			b.recordDrop(topic)
		}
	}
}

// Subscribe registers a subscriber for topic. The returned function
// unsubscribes and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(topic string) (<-chan any, func()) {
	ch := make(chan any, defaultBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan any)
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs, ok := b.subs[topic]
			if !ok {
				return
			}
			if _, ok := subs[id]; !ok {
				return
			}
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
			close(ch)
		})
	}

	return ch, unsubscribe
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subs, topic)
	}
}

// Drops returns how many messages were dropped for topic.
func (b *Bus) Drops(topic string) uint64 {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	return b.dropCounts[topic]
}

func (b *Bus) recordDrop(topic string) {
	b.dropMu.Lock()
	defer b.dropMu.Unlock()
	b.dropCounts[topic]++
	if b.dropCounts[topic]%100 == 1 {
		b.logger.WithField("topic", topic).Warnf("dropping messages (total drops: %d)", b.dropCounts[topic])
	}
}
