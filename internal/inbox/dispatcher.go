package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// Preference keys the dispatcher honours. Any other key is stored and
// returned untouched.
const (
	// PrefPush disables push relay for the user when false.
	PrefPush = "push"
	// PrefMinPushPriority is the lowest priority relayed to push endpoints.
	PrefMinPushPriority = "min_push_priority"
)

// Dispatcher creates notifications, broadcasts them on the hub and relays
// them to the user's saved push endpoints.
type Dispatcher struct {
	store  *Store
	hub    *Hub
	client *http.Client
	logger *logrus.Entry
}

// NewDispatcher creates a Dispatcher. hub may be nil.
func NewDispatcher(store *Store, hub *Hub, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		store: store,
		hub:   hub,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Dispatch persists a notification for userID and delivers it. Delivery
// failures are logged and do not fail the dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, n notifications.Notification) (notifications.Notification, error) {
	created, err := d.store.Create(ctx, userID, n)
	if err != nil {
		return created, fmt.Errorf("creating notification: %w", err)
	}

	log := d.logger.WithFields(logrus.Fields{"user_id": userID, "id": created.ID, "priority": created.Priority})
	if d.hub != nil {
		log = log.WithField("sockets", d.hub.Broadcast(userID, created))
	}

	prefs, err := d.store.GetPreferences(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("loading preferences; skipping push relay")
		return created, nil
	}
	if !pushWanted(prefs, created) {
		log.Debug("push relay disabled by preferences")
		return created, nil
	}

	subs, err := d.store.Subscriptions(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("loading push subscriptions")
		return created, nil
	}
	payload, err := json.Marshal(created)
	if err != nil {
		return created, nil
	}
	for _, sub := range subs {
		err := d.SendPush(ctx, sub.Endpoint, payload)
		switch {
		case errors.Is(err, ErrEndpointGone):
			if derr := d.store.DeleteSubscription(ctx, sub.Endpoint); derr != nil {
				log.WithError(derr).WithField("endpoint", sub.Endpoint).Warn("pruning expired push subscription")
			} else {
				log.WithField("endpoint", sub.Endpoint).Info("pruned expired push subscription")
			}
		case err != nil:
			log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("push relay failed")
		}
	}
	log.Info("notification dispatched")
	return created, nil
}

// ErrEndpointGone is returned by SendPush when the push service reports the
// endpoint no longer exists.
var ErrEndpointGone = errors.New("push endpoint gone")

// SendPush POSTs payload to a push endpoint.
func (d *Dispatcher) SendPush(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TTL", "86400")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return ErrEndpointGone
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// pushWanted applies the user's push toggles to n. A per-type toggle set
// to false also suppresses the relay.
func pushWanted(prefs notifications.Preferences, n notifications.Notification) bool {
	if v, ok := prefs[PrefPush].(bool); ok && !v {
		return false
	}
	if v, ok := prefs[string(n.Type)].(bool); ok && !v {
		return false
	}
	if v, ok := prefs[PrefMinPushPriority].(string); ok {
		if floor := notifications.Priority(v); floor.Valid() && !n.Priority.AtLeast(floor) {
			return false
		}
	}
	return true
}
