package inbox

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	sendBuffer = 32
)

var pingMessage = []byte(`{"type":"ping"}`)

// client is one websocket connection of a user.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub fans notifications out to every open websocket of a user and keeps
// idle connections alive with application-level pings.
type Hub struct {
	pingInterval time.Duration
	logger       *logrus.Entry

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

// NewHub creates a Hub. A non-positive pingInterval disables pings.
func NewHub(pingInterval time.Duration, logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		pingInterval: pingInterval,
		logger:       logger,
		clients:      make(map[string]map[*client]struct{}),
	}
}

// ServeWS upgrades the request and serves userID until the connection
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		conn.Close()
		return
	}
	h.logger.WithField("user_id", userID).Debug("websocket connected")

	go h.writePump(c)
	h.readPump(c)
}

// Broadcast sends n to every connection of userID and returns how many
// connections it was queued for. Slow connections are dropped.
func (h *Hub) Broadcast(userID string, n notifications.Notification) int {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.WithError(err).Error("encoding notification for broadcast")
		return 0
	}

	h.mu.RLock()
	var slow []*client
	sent := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
			sent++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithField("user_id", userID).Warn("dropping slow websocket client")
		h.unregister(c)
	}
	return sent
}

// Count returns the number of open connections for userID.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	return true
}

// unregister removes c and closes its send channel exactly once.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	set := h.clients[c.userID]
	if _, ok := set[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	h.mu.Unlock()
}

// readPump discards client messages and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("websocket read")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	var tick <-chan time.Time
	if h.pingInterval > 0 {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.WithError(err).Debug("websocket write")
				return
			}
		case <-tick:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, pingMessage); err != nil {
				return
			}
		}
	}
}
