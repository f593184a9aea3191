package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
)

type testBackend struct {
	store *Store
	hub   *Hub
	srv   *httptest.Server
}

func setupBackend(t *testing.T, ping time.Duration) *testBackend {
	t.Helper()
	store := setupTestStore(t)
	hub := NewHub(ping, nil)
	r := chi.NewRouter()
	RegisterRoutes(r, store, hub, NewDispatcher(store, hub, nil), "")
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testBackend{store: store, hub: hub, srv: srv}
}

func (b *testBackend) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, b.srv.URL+path, reader)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRoutesRequireUser(t *testing.T) {
	b := setupBackend(t, 0)
	resp := b.do(t, http.MethodGet, "/notifications/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestRoutesListValidation(t *testing.T) {
	b := setupBackend(t, 0)
	for _, q := range []string{"limit=0", "limit=abc", "skip=-1", "unread_only=maybe"} {
		resp := b.do(t, http.MethodGet, "/notifications/?"+q, "u1", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, resp.StatusCode)
		}
	}
}

func TestRoutesCreateValidation(t *testing.T) {
	b := setupBackend(t, 0)
	if resp := b.do(t, http.MethodPost, "/notifications/", "u1", map[string]string{"message": "no title"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing title: status = %d", resp.StatusCode)
	}
	if resp := b.do(t, http.MethodPost, "/notifications/", "u1", map[string]string{"title": "t", "priority": "urgent"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad priority: status = %d", resp.StatusCode)
	}
}

func TestRoutesNotFound(t *testing.T) {
	b := setupBackend(t, 0)
	if resp := b.do(t, http.MethodPut, "/notifications/missing/read", "u1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("mark read status = %d, want 404", resp.StatusCode)
	}
	if resp := b.do(t, http.MethodDelete, "/notifications/missing", "u1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete status = %d, want 404", resp.StatusCode)
	}
}

func TestWorkerScriptServed(t *testing.T) {
	b := setupBackend(t, 0)
	resp := b.do(t, http.MethodGet, "/sw.js", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "addEventListener('push'") {
		t.Errorf("unexpected worker body %q", body)
	}
}

// TestClientContract drives every REST operation through the real client.
func TestClientContract(t *testing.T) {
	b := setupBackend(t, 0)
	ctx := context.Background()
	client := notifyapi.New(notifyapi.Options{BaseURL: b.srv.URL, UserID: "u1"})

	for _, id := range []string{"n1", "n2"} {
		if _, err := b.store.Create(ctx, "u1", testNotification(id, 0)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := b.store.MarkRead(ctx, "u1", "n2"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	list, err := client.List(ctx, notifyapi.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List = %v", ids(list))
	}
	unreadOnly, err := client.List(ctx, notifyapi.ListOptions{UnreadOnly: true})
	if err != nil || len(unreadOnly) != 1 || unreadOnly[0].ID != "n1" {
		t.Fatalf("List unread = %v, %v", ids(unreadOnly), err)
	}

	count, err := client.UnreadCount(ctx)
	if err != nil || count != 1 {
		t.Fatalf("UnreadCount = %d, %v", count, err)
	}

	if err := client.MarkAllRead(ctx); err != nil {
		t.Fatalf("MarkAllRead: %v", err)
	}
	if count, _ := client.UnreadCount(ctx); count != 0 {
		t.Errorf("UnreadCount after MarkAllRead = %d", count)
	}

	if err := client.Delete(ctx, "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := client.MarkRead(ctx, "n1"); !notifications.IsTransport(err) {
		t.Errorf("MarkRead deleted err = %v, want TransportError", err)
	}

	sub := notifications.Subscription{
		Mode:     notifications.ModeFull,
		Endpoint: "https://push.example/ep",
		Keys:     &notifications.Keys{P256dh: "p", Auth: "a"},
	}
	if err := client.SaveSubscription(ctx, sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	if subs, _ := b.store.Subscriptions(ctx, "u1"); len(subs) != 1 {
		t.Errorf("stored subscriptions = %d, want 1", len(subs))
	}

	prefs, err := client.UpdatePreferences(ctx, notifications.Preferences{"push": false})
	if err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	if prefs["push"] != false {
		t.Errorf("prefs = %v", prefs)
	}
	got, err := client.Preferences(ctx)
	if err != nil || got["push"] != false {
		t.Errorf("Preferences = %v, %v", got, err)
	}

	created, err := client.Create(ctx, notifyapi.NewNotification{Title: "Seeded", Priority: notifications.PriorityHigh})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.Priority != notifications.PriorityHigh {
		t.Errorf("created = %+v", created)
	}
}

func TestWebSocketBroadcastAndPing(t *testing.T) {
	b := setupBackend(t, 20*time.Millisecond)
	wsURL := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/notifications/ws?user_id=u1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.hub.Count("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	resp := b.do(t, http.MethodPost, "/notifications/", "u1", map[string]string{"title": "Hello", "priority": "critical"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}

	var sawPing, sawNotification bool
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(sawPing && sawNotification) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v (ping=%v notification=%v)", err, sawPing, sawNotification)
		}
		if string(data) == `{"type":"ping"}` {
			sawPing = true
			continue
		}
		var n notifications.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n.Title != "Hello" || n.Priority != notifications.PriorityCritical {
			t.Errorf("notification = %+v", n)
		}
		sawNotification = true
	}
}

func TestWebSocketRequiresUser(t *testing.T) {
	b := setupBackend(t, 0)
	wsURL := "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/notifications/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure without identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}
}

func TestDispatchRelaysToPushEndpoints(t *testing.T) {
	var mu sync.Mutex
	var received []notifications.Notification
	pushSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n notifications.Notification
		json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		received = append(received, n)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer pushSrv.Close()

	store := setupTestStore(t)
	ctx := context.Background()
	d := NewDispatcher(store, nil, nil)
	sub := notifications.Subscription{Endpoint: pushSrv.URL + "/ep", Keys: &notifications.Keys{P256dh: "p", Auth: "a"}}
	if err := store.SaveSubscription(ctx, "u1", sub); err != nil {
		t.Fatalf("SaveSubscription: %v", err)
	}
	if _, err := store.UpdatePreferences(ctx, "u1", notifications.Preferences{PrefMinPushPriority: "high"}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}

	if _, err := d.Dispatch(ctx, "u1", notifications.Notification{Title: "quiet", Priority: notifications.PriorityLow}); err != nil {
		t.Fatalf("Dispatch low: %v", err)
	}
	if _, err := d.Dispatch(ctx, "u1", notifications.Notification{Title: "loud", Priority: notifications.PriorityCritical}); err != nil {
		t.Fatalf("Dispatch critical: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0].Title != "loud" {
		t.Errorf("relayed = %+v, want only the critical notification", received)
	}
	if count, _ := store.UnreadCount(ctx, "u1"); count != 2 {
		t.Errorf("UnreadCount = %d, want 2", count)
	}
}

func TestPushWanted(t *testing.T) {
	high := notifications.Notification{Type: notifications.TypeAPIError, Priority: notifications.PriorityHigh}
	tests := []struct {
		name  string
		prefs notifications.Preferences
		want  bool
	}{
		{"no prefs", nil, true},
		{"push off", notifications.Preferences{PrefPush: false}, false},
		{"type off", notifications.Preferences{"api_error": false}, false},
		{"other type off", notifications.Preferences{"usage_warning": false}, true},
		{"below floor", notifications.Preferences{PrefMinPushPriority: "critical"}, false},
		{"at floor", notifications.Preferences{PrefMinPushPriority: "high"}, true},
		{"invalid floor", notifications.Preferences{PrefMinPushPriority: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pushWanted(tt.prefs, high); got != tt.want {
				t.Errorf("pushWanted = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDispatchPrunesGoneEndpoints(t *testing.T) {
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer gone.Close()
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	store := setupTestStore(t)
	ctx := context.Background()
	keys := &notifications.Keys{P256dh: "p", Auth: "a"}
	for _, ep := range []string{gone.URL + "/ep", failing.URL + "/ep"} {
		if err := store.SaveSubscription(ctx, "u1", notifications.Subscription{Endpoint: ep, Keys: keys}); err != nil {
			t.Fatalf("SaveSubscription: %v", err)
		}
	}

	if _, err := NewDispatcher(store, nil, nil).Dispatch(ctx, "u1", notifications.Notification{Title: "hi"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	subs, err := store.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].Endpoint != failing.URL+"/ep" {
		t.Errorf("subscriptions = %+v, want only the failing endpoint kept", subs)
	}
}
