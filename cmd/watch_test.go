package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ziadkadry99/notifysync/internal/consumers"
	"github.com/ziadkadry99/notifysync/internal/logging"
	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
	"github.com/ziadkadry99/notifysync/internal/push"
	"github.com/ziadkadry99/notifysync/internal/reconcile"
	"github.com/ziadkadry99/notifysync/internal/store"
)

type fakeAPI struct {
	items []notifications.Notification
	calls []string
}

func (f *fakeAPI) List(ctx context.Context, opts notifyapi.ListOptions) ([]notifications.Notification, error) {
	f.calls = append(f.calls, "list")
	out := make([]notifications.Notification, len(f.items))
	copy(out, f.items)
	return out, nil
}

func (f *fakeAPI) UnreadCount(ctx context.Context) (int, error) {
	return notifications.CountUnread(f.items), nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	f.calls = append(f.calls, "read "+id)
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Read = true
		}
	}
	return nil
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	f.calls = append(f.calls, "read-all")
	for i := range f.items {
		f.items[i].Read = true
	}
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	f.calls = append(f.calls, "delete "+id)
	return nil
}

type fakePush struct {
	subscribed bool
	revoked    bool
	err        error
	syncErr    error
}

func (f *fakePush) Subscribe(ctx context.Context) (notifications.Subscription, error) {
	if f.err != nil {
		return notifications.Subscription{}, f.err
	}
	f.subscribed = true
	return notifications.Subscription{Mode: notifications.ModeBasic}, nil
}

func (f *fakePush) Unsubscribe(ctx context.Context) (bool, error) {
	was := f.subscribed
	f.subscribed = false
	return was, nil
}

func (f *fakePush) TestNotification(ctx context.Context) error { return f.err }

func (f *fakePush) Sync(ctx context.Context) (push.State, error) {
	if f.syncErr != nil {
		return push.StateUnsupported, f.syncErr
	}
	if f.revoked {
		f.subscribed = false
		return push.StateDenied, nil
	}
	if f.subscribed {
		return push.StateBasic, nil
	}
	return push.StateUnsubscribed, nil
}

func (f *fakePush) Current() (notifications.Subscription, bool) {
	if !f.subscribed {
		return notifications.Subscription{}, false
	}
	return notifications.Subscription{Mode: notifications.ModeBasic}, true
}

func (f *fakePush) Notice() *notifications.DegradationNotice { return nil }

type nopSaver struct{}

func (nopSaver) SaveSubscription(ctx context.Context, sub notifications.Subscription) error {
	return nil
}

func newTestSession(t *testing.T) (*session, *fakeAPI, *fakePush, *bytes.Buffer) {
	t.Helper()
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	api := &fakeAPI{items: []notifications.Notification{
		{ID: "a", Title: "first", Priority: notifications.PriorityLow, Type: notifications.TypeOther, CreatedAt: now},
		{ID: "b", Title: "second", Priority: notifications.PriorityHigh, Type: notifications.TypeAPIError, CreatedAt: now.Add(-time.Minute)},
	}}
	st := store.New(api, store.Options{Logger: logging.Component(logging.Discard(), "store")})
	if err := st.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	p := &fakePush{}
	out := &bytes.Buffer{}
	return &session{
		store:  st,
		poller: reconcile.New(st, reconcile.Options{Logger: logging.Component(logging.Discard(), "reconcile")}),
		push:   p,
		out:    out,
		filter: consumers.FilterAll,
	}, api, p, out
}

func TestSessionMutations(t *testing.T) {
	sess, api, _, out := newTestSession(t)
	ctx := context.Background()

	for _, line := range []string{"read a", "delete b", "read-all"} {
		if err := sess.handle(ctx, line); err != nil {
			t.Fatalf("handle(%q): %v", line, err)
		}
	}
	want := []string{"list", "read a", "delete b", "read-all"}
	if strings.Join(api.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", api.calls, want)
	}
	if got := sess.store.UnreadCount(); got != 0 {
		t.Errorf("UnreadCount = %d, want 0", got)
	}
	if out.Len() != 0 {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestSessionPage(t *testing.T) {
	sess, _, _, out := newTestSession(t)
	if err := sess.handle(context.Background(), "page unread"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sess.filter != consumers.FilterUnread {
		t.Errorf("filter = %s", sess.filter)
	}
	if !strings.Contains(out.String(), "Notifications (unread, 2 unread)") {
		t.Errorf("page output = %q", out.String())
	}
}

func TestSessionErrorsArePrinted(t *testing.T) {
	sess, _, p, out := newTestSession(t)
	ctx := context.Background()

	for _, line := range []string{"read", "bogus", "push sideways"} {
		if err := sess.handle(ctx, line); err != nil {
			t.Fatalf("handle(%q) = %v, want nil", line, err)
		}
	}
	for _, want := range []string{"missing notification id", `unknown command "bogus"`, `unknown push command "sideways"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %q", want, out.String())
		}
	}

	out.Reset()
	p.err = &notifications.PermissionError{State: "denied"}
	sess.handle(ctx, "push on")
	if !strings.Contains(out.String(), "site settings") {
		t.Errorf("permission error without remediation: %q", out.String())
	}
}

func TestSessionPushLifecycle(t *testing.T) {
	sess, _, p, out := newTestSession(t)
	ctx := context.Background()
	called := false
	sess.onPermission = func() { called = true }

	sess.handle(ctx, "push on")
	if !p.subscribed || !called {
		t.Fatalf("subscribed=%v onPermission=%v", p.subscribed, called)
	}
	if !strings.Contains(out.String(), "basic mode") {
		t.Errorf("output = %q", out.String())
	}
	sess.handle(ctx, "push off")
	sess.handle(ctx, "push off")
	if !strings.Contains(out.String(), "Push subscription removed.") || !strings.Contains(out.String(), "No push subscription to remove.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSessionFocusDropsRevokedSubscription(t *testing.T) {
	sess, _, p, out := newTestSession(t)
	ctx := context.Background()

	sess.handle(ctx, "push on")
	out.Reset()
	if err := sess.handle(ctx, ""); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("focus with permission intact printed %q", out.String())
	}

	p.revoked = true
	sess.handle(ctx, "refresh")
	if p.subscribed {
		t.Error("subscription survived revoked permission")
	}
	if !strings.Contains(out.String(), "permission was revoked") {
		t.Errorf("output = %q", out.String())
	}
}

func TestSessionFocusIgnoresUnsupportedPush(t *testing.T) {
	sess, _, p, out := newTestSession(t)
	p.syncErr = &notifications.CapabilityError{Missing: []string{"notifications"}}
	if err := sess.handle(context.Background(), ""); err != nil {
		t.Fatalf("focus: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("unsupported platform printed %q", out.String())
	}
}

func TestSessionPermissionPromptReadsSessionInput(t *testing.T) {
	sess, _, _, out := newTestSession(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pr, pw := io.Pipe()
	defer pr.Close()
	lines := readLines(pr)
	go func() {
		io.WriteString(pw, "push on\ny\nhelp\n")
		pw.Close()
	}()

	platform := push.NewDesktopPlatform(push.DesktopConfig{
		Supported: true,
		Confirm:   lineConfirm(ctx, lines, out),
		Out:       out,
		Logger:    logging.Component(logging.Discard(), "push"),
	})
	sess.push = push.NewManager(platform, nopSaver{}, push.Options{
		WorkerPath: "/sw.js",
		Scope:      "/",
		Logger:     logging.Component(logging.Discard(), "push"),
	})

	for line := range lines {
		if err := sess.handle(ctx, line); err != nil {
			t.Fatalf("handle(%q): %v", line, err)
		}
	}

	if got := platform.Permission(); got != push.PermissionGranted {
		t.Errorf("permission = %s, want granted", got)
	}
	if _, ok := sess.push.Current(); !ok {
		t.Error("no subscription after answering the prompt")
	}
	for _, want := range []string{"[y/N]", "basic mode", "Commands:"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %q", want, out.String())
		}
	}
	if strings.Contains(out.String(), "unknown command") {
		t.Errorf("prompt answer ran as a command: %q", out.String())
	}
}

func TestLineConfirmEndOfInput(t *testing.T) {
	lines := make(chan string)
	close(lines)
	ok, err := lineConfirm(context.Background(), lines, io.Discard)("Allow?")
	if ok || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("confirm = %v, %v; want false, ErrUnexpectedEOF", ok, err)
	}
}

func TestSessionQuit(t *testing.T) {
	sess, _, _, _ := newTestSession(t)
	if err := sess.handle(context.Background(), "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit err = %v", err)
	}
	if err := sess.handle(context.Background(), ""); err != nil {
		t.Errorf("refresh err = %v", err)
	}
}

func TestParsePreferences(t *testing.T) {
	prefs, err := parsePreferences([]string{"push=true", "api_error=false", "min_push_priority=high", "note=a=b"})
	if err != nil {
		t.Fatalf("parsePreferences: %v", err)
	}
	if prefs["push"] != true || prefs["api_error"] != false || prefs["min_push_priority"] != "high" || prefs["note"] != "a=b" {
		t.Errorf("prefs = %v", prefs)
	}
	for _, bad := range []string{"push", "=x"} {
		if _, err := parsePreferences([]string{bad}); err == nil {
			t.Errorf("parsePreferences(%q) expected error", bad)
		}
	}
}
