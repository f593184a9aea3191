package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// State is a position in the channel's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	GivenUp
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case GivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

var (
	// ErrDisabled is returned by Connect when the channel is feature-flagged off.
	ErrDisabled = errors.New("realtime channel disabled")
	// ErrNoIdentity is returned by Connect without a user identity.
	ErrNoIdentity = errors.New("realtime channel requires a user identity")
	// ErrInvalidEndpoint is returned when the endpoint is missing or unusable.
	ErrInvalidEndpoint = errors.New("realtime endpoint is not configured or not resolvable")
)

// Config configures a Channel.
type Config struct {
	Enabled              bool
	URL                  string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	Header               http.Header
}

// Handler receives every non-keep-alive notification.
type Handler func(notifications.Notification)

type message struct {
	Type string `json:"type"`
}

// Channel maintains a websocket connection that delivers notification
// events. It is an enhancement: when it is disabled or gives up, polling
// still keeps the store correct.
type Channel struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	bus     *events.Bus
	logger  *logrus.Entry

	// lifecycle serialises Connect and Close.
	lifecycle sync.Mutex

	mu       sync.Mutex
	state    State
	attempts int
	dials    int
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Channel. bus may be nil.
func New(cfg Config, handler Handler, bus *events.Bus, logger *logrus.Entry) *Channel {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		bus:    bus,
		logger: logger,
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts since the last
// successful connection.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Dials returns the total number of connection attempts made.
func (c *Channel) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// Connect starts a session for userID, replacing any previous session.
// It returns immediately; the connection runs in the background.
func (c *Channel) Connect(userID string) error {
	if !c.cfg.Enabled {
		return ErrDisabled
	}
	if userID == "" {
		return ErrNoIdentity
	}
	endpoint, err := resolveEndpoint(c.cfg.URL, userID)
	if err != nil {
		c.logger.WithError(err).Warn("refusing to connect")
		return err
	}

	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.closeSession()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.attempts = 0
	c.mu.Unlock()

	go c.run(ctx, endpoint, done)
	return nil
}

// Close tears down the session: the pending reconnect timer is cancelled,
// the socket is closed, and Close waits for the session goroutine to exit.
func (c *Channel) Close() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.closeSession()
}

func (c *Channel) closeSession() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setState(Disconnected)
}

func (c *Channel) run(ctx context.Context, endpoint string, done chan struct{}) {
	defer close(done)

	for {
		c.setState(Connecting)
		lasted, err := c.session(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		if lasted > 0 && lasted < c.cfg.ReconnectDelay {
			c.logger.WithField("lasted", lasted).Warn("realtime connection closed right after opening; server may be flapping")
		}

		c.mu.Lock()
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.mu.Unlock()
			c.logger.WithError(err).Warn("giving up on realtime channel")
			c.setState(GivenUp)
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.WithError(err).WithField("attempt", attempt).Info("realtime connection lost; reconnecting")
		c.setState(Reconnecting)

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and reads until the connection drops. It reports how
// long the connection stayed open, zero when the handshake failed.
func (c *Channel) session(ctx context.Context, endpoint string) (time.Duration, error) {
	c.mu.Lock()
	c.dials++
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, endpoint, c.cfg.Header)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return 0, ctx.Err()
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()
	c.setState(Connected)
	opened := time.Now()

	stop := make(chan struct{})
	defer func() {
		close(stop)
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()
	// Unblock ReadMessage when the session is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return time.Since(opened), err
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.WithError(err).Debug("ignoring malformed realtime message")
		return
	}
	if msg.Type == "ping" {
		return
	}

	var n notifications.Notification
	if err := json.Unmarshal(data, &n); err != nil || n.ID == "" {
		c.logger.Debug("ignoring realtime message without a notification payload")
		return
	}
	if c.handler != nil {
		c.handler(n)
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.bus.Publish(events.TopicChannelState, s)
	}
}

// resolveEndpoint validates the configured URL and scopes it to the user.
func resolveEndpoint(raw, userID string) (string, error) {
	if raw == "" {
		return "", ErrInvalidEndpoint
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
		return "", ErrInvalidEndpoint
	}
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
