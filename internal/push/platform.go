package push

import (
	"context"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// Permission is the platform's notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Capabilities lists the platform APIs the push lifecycle needs.
type Capabilities struct {
	Notifications bool
	Worker        bool
	PushManager   bool
}

func (c Capabilities) missing() []string {
	var out []string
	if !c.Notifications {
		out = append(out, "notifications")
	}
	if !c.Worker {
		out = append(out, "worker")
	}
	if !c.PushManager {
		out = append(out, "push_manager")
	}
	return out
}

// Platform abstracts the host environment's notification, worker and push
// service APIs.
type Platform interface {
	Capabilities() Capabilities
	Permission() Permission
	// RequestPermission asks the user and returns the resulting state.
	RequestPermission(ctx context.Context) (Permission, error)
	// RegisterWorker installs the background worker script. Registering
	// the same path and scope twice is a no-op.
	RegisterWorker(ctx context.Context, path, scope string) error
	// Subscribe creates a keyed subscription against the push service.
	// The returned subscription carries an endpoint and keys.
	Subscribe(ctx context.Context, vapidPublicKey string) (notifications.Subscription, error)
	Unsubscribe(ctx context.Context, sub notifications.Subscription) error
	ShowLocal(ctx context.Context, title, body string) error
}

// Saver persists a full subscription so the server can deliver to it.
type Saver interface {
	SaveSubscription(ctx context.Context, sub notifications.Subscription) error
}
