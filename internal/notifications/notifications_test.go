package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestUnmarshalDefaults(t *testing.T) {
	var n Notification
	if err := json.Unmarshal([]byte(`{"id":"n1","type":"something_new","title":"hi"}`), &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n.Priority != PriorityLow {
		t.Errorf("Priority = %q, want %q", n.Priority, PriorityLow)
	}
	if n.Type != TypeOther {
		t.Errorf("Type = %q, want %q", n.Type, TypeOther)
	}
	if n.Read {
		t.Error("expected Read = false when absent")
	}
}

func TestUnmarshalKeepsKnownValues(t *testing.T) {
	var n Notification
	data := `{"id":"n2","type":"chatbot_down","priority":"critical","read":true,"metadata":{"bot":"b1"}}`
	if err := json.Unmarshal([]byte(data), &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if n.Type != TypeChatbotDown || n.Priority != PriorityCritical || !n.Read {
		t.Errorf("unexpected decode: %+v", n)
	}
	if n.Metadata["bot"] != "b1" {
		t.Errorf("Metadata = %v", n.Metadata)
	}
}

func TestCountUnread(t *testing.T) {
	list := []Notification{{ID: "a"}, {ID: "b", Read: true}, {ID: "c"}}
	if got := CountUnread(list); got != 2 {
		t.Errorf("CountUnread = %d, want 2", got)
	}
	if got := CountUnread(nil); got != 0 {
		t.Errorf("CountUnread(nil) = %d, want 0", got)
	}
}

func TestPriorityAtLeast(t *testing.T) {
	if !PriorityCritical.AtLeast(PriorityHigh) {
		t.Error("critical should be at least high")
	}
	if PriorityLow.AtLeast(PriorityMedium) {
		t.Error("low should not be at least medium")
	}
}

func TestSubscriptionValidate(t *testing.T) {
	tests := []struct {
		name    string
		sub     Subscription
		wantErr bool
	}{
		{"full ok", Subscription{Mode: ModeFull, Endpoint: "https://push.example/1", Keys: &Keys{P256dh: "k", Auth: "a"}}, false},
		{"full no endpoint", Subscription{Mode: ModeFull, Keys: &Keys{P256dh: "k", Auth: "a"}}, true},
		{"full half keys", Subscription{Mode: ModeFull, Endpoint: "https://push.example/1", Keys: &Keys{P256dh: "k"}}, true},
		{"basic ok", Subscription{Mode: ModeBasic, Browser: "cli"}, false},
		{"basic with endpoint", Subscription{Mode: ModeBasic, Endpoint: "https://push.example/1"}, true},
		{"no mode", Subscription{}, true},
	}
	for _, tt := range tests {
		err := tt.sub.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidSubscription) {
			t.Errorf("%s: expected ErrInvalidSubscription, got %v", tt.name, err)
		}
	}
}

func TestSubscriptionJSONOmitsMode(t *testing.T) {
	data, err := json.Marshal(Subscription{Mode: ModeFull, Endpoint: "e", Keys: &Keys{P256dh: "p", Auth: "a"}, Browser: "cli"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"endpoint":"e","keys":{"p256dh":"p","auth":"a"},"browser":"cli"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", &TransportError{Op: "list", Err: errors.New("boom")})
	if !IsTransport(wrapped) {
		t.Error("expected IsTransport on wrapped error")
	}
	if IsPermission(wrapped) || IsCapability(wrapped) {
		t.Error("unexpected classification")
	}
	if !IsPermission(&PermissionError{State: "denied"}) {
		t.Error("expected IsPermission")
	}
	if !IsCapability(&CapabilityError{Missing: []string{"push"}}) {
		t.Error("expected IsCapability")
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := &TransportError{Op: "mark_read", Status: 502, Err: errors.New("bad gateway")}
	want := "mark_read: server returned status 502: bad gateway"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
