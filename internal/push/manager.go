package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// State is the manager's position in the subscription lifecycle.
type State int

const (
	StateUnsupported State = iota
	StatePermissionUnset
	StateGranted
	StateDenied
	StateBasic
	StateFull
	StateUnsubscribed
)

func (s State) String() string {
	switch s {
	case StateUnsupported:
		return "unsupported"
	case StatePermissionUnset:
		return "permission_unset"
	case StateGranted:
		return "permission_granted"
	case StateDenied:
		return "permission_denied"
	case StateBasic:
		return "basic"
	case StateFull:
		return "full"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// Degradation stages reported in DegradationNotice.Stage.
const (
	StageWorker = "worker_registration"
	StageVAPID  = "vapid"
	StagePush   = "push_subscribe"
	StageSave   = "save"
)

// ErrNoVAPIDKey is the degradation reason when no application server key is
// configured.
var ErrNoVAPIDKey = errors.New("no VAPID public key configured")

// Options configures a Manager.
type Options struct {
	VAPIDPublicKey string
	WorkerPath     string
	Scope          string
	Browser        string
	Logger         *logrus.Entry
}

// Manager holds at most one push subscription for the current device.
type Manager struct {
	platform Platform
	saver    Saver
	opts     Options
	logger   *logrus.Entry

	// op serializes lifecycle operations; mu guards the fields below.
	op     sync.Mutex
	mu     sync.Mutex
	state  State
	sub    *notifications.Subscription
	notice *notifications.DegradationNotice
}

// NewManager creates a Manager and derives its initial state from the
// platform's capabilities and current permission.
func NewManager(platform Platform, saver Saver, opts Options) *Manager {
	if opts.WorkerPath == "" {
		opts.WorkerPath = "/sw.js"
	}
	if opts.Scope == "" {
		opts.Scope = "/"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{platform: platform, saver: saver, opts: opts, logger: logger}
	if len(platform.Capabilities().missing()) > 0 {
		m.state = StateUnsupported
	} else {
		m.state = stateForPermission(platform.Permission())
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the held subscription, if any.
func (m *Manager) Current() (notifications.Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		return notifications.Subscription{}, false
	}
	return *m.sub, true
}

// Notice returns why the last subscribe fell back to basic mode, or nil.
func (m *Manager) Notice() *notifications.DegradationNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notice
}

// Subscribe negotiates permission and creates a subscription. An existing
// subscription is returned unchanged. Any failure after permission is
// granted rolls back to a basic-mode subscription instead of an error.
func (m *Manager) Subscribe(ctx context.Context) (notifications.Subscription, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.capabilityErr(); err != nil {
		return notifications.Subscription{}, err
	}
	if sub, ok := m.Current(); ok {
		return sub, nil
	}

	perm := m.platform.Permission()
	if perm == PermissionDefault {
		var err error
		perm, err = m.platform.RequestPermission(ctx)
		if err != nil {
			return notifications.Subscription{}, fmt.Errorf("requesting notification permission: %w", err)
		}
	}
	if perm != PermissionGranted {
		m.setState(stateForPermission(perm))
		return notifications.Subscription{}, &notifications.PermissionError{State: string(perm)}
	}
	m.setState(StateGranted)

	sub, notice := m.subscribeFull(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub = &sub
	m.notice = notice
	if notice != nil {
		m.state = StateBasic
		m.logger.WithField("stage", notice.Stage).WithError(notice.Reason).Info("push subscription degraded to basic mode")
	} else {
		m.state = StateFull
		m.logger.WithField("endpoint", sub.Endpoint).Info("push subscription saved")
	}
	return sub, nil
}

// subscribeFull runs worker registration, keyed subscription and backend
// save as one step. On failure it undoes any platform subscription and
// returns a basic subscription with the reason.
func (m *Manager) subscribeFull(ctx context.Context) (notifications.Subscription, *notifications.DegradationNotice) {
	basic := notifications.Subscription{Mode: notifications.ModeBasic, Browser: m.opts.Browser}

	if err := m.platform.RegisterWorker(ctx, m.opts.WorkerPath, m.opts.Scope); err != nil {
		return basic, &notifications.DegradationNotice{Stage: StageWorker, Reason: err}
	}
	if m.opts.VAPIDPublicKey == "" {
		return basic, &notifications.DegradationNotice{Stage: StageVAPID, Reason: ErrNoVAPIDKey}
	}

	sub, err := m.platform.Subscribe(ctx, m.opts.VAPIDPublicKey)
	if err != nil {
		return basic, &notifications.DegradationNotice{Stage: StagePush, Reason: err}
	}
	sub.Mode = notifications.ModeFull
	sub.Browser = m.opts.Browser

	if err := m.saver.SaveSubscription(ctx, sub); err != nil {
		if uerr := m.platform.Unsubscribe(ctx, sub); uerr != nil {
			m.logger.WithError(uerr).Warn("rolling back platform subscription failed")
		}
		return basic, &notifications.DegradationNotice{Stage: StageSave, Reason: err}
	}
	return sub, nil
}

// Unsubscribe destroys the held subscription. It reports false when
// nothing was subscribed. In full mode the platform subscription is
// removed before local state is cleared.
func (m *Manager) Unsubscribe(ctx context.Context) (bool, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.capabilityErr(); err != nil {
		return false, err
	}
	sub, ok := m.Current()
	if !ok {
		return false, nil
	}
	if sub.Mode == notifications.ModeFull {
		if err := m.platform.Unsubscribe(ctx, sub); err != nil {
			return false, fmt.Errorf("removing platform subscription: %w", err)
		}
	}

	m.mu.Lock()
	m.sub = nil
	m.notice = nil
	m.state = StateUnsubscribed
	m.mu.Unlock()
	return true, nil
}

// TestNotification shows one local notification. It needs permission but
// not a full subscription.
func (m *Manager) TestNotification(ctx context.Context) error {
	if err := m.capabilityErr(); err != nil {
		return err
	}
	if perm := m.platform.Permission(); perm != PermissionGranted {
		return &notifications.PermissionError{State: string(perm)}
	}
	return m.platform.ShowLocal(ctx, "Test notification", "Notifications are working on this device.")
}

// Sync re-reads the platform permission. A revoked permission destroys the
// held subscription.
func (m *Manager) Sync(ctx context.Context) (State, error) {
	m.op.Lock()
	defer m.op.Unlock()

	if err := m.capabilityErr(); err != nil {
		return StateUnsupported, err
	}

	perm := m.platform.Permission()
	sub, held := m.Current()

	if perm == PermissionDenied && held {
		if sub.Mode == notifications.ModeFull {
			if err := m.platform.Unsubscribe(ctx, sub); err != nil {
				m.logger.WithError(err).Warn("removing revoked platform subscription failed")
			}
		}
		m.logger.Info("notification permission revoked; subscription destroyed")
		m.mu.Lock()
		m.sub = nil
		m.notice = nil
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub == nil {
		m.state = stateForPermission(perm)
	}
	return m.state, nil
}

func (m *Manager) capabilityErr() error {
	if missing := m.platform.Capabilities().missing(); len(missing) > 0 {
		m.setState(StateUnsupported)
		return &notifications.CapabilityError{Missing: missing}
	}
	return nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func stateForPermission(p Permission) State {
	switch p {
	case PermissionGranted:
		return StateGranted
	case PermissionDenied:
		return StateDenied
	default:
		return StatePermissionUnset
	}
}
