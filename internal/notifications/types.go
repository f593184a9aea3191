package notifications

import (
	"encoding/json"
	"time"
)

// NotificationType categorises the event that produced the notification.
type NotificationType string

const (
	TypeNewConversation     NotificationType = "new_conversation"
	TypeHighPriorityMessage NotificationType = "high_priority_message"
	TypePerformanceAlert    NotificationType = "performance_alert"
	TypeUsageWarning        NotificationType = "usage_warning"
	TypeNewUserSignup       NotificationType = "new_user_signup"
	TypeWebhookEvent        NotificationType = "webhook_event"
	TypeSourceProcessing    NotificationType = "source_processing"
	TypeChatbotDown         NotificationType = "chatbot_down"
	TypeAPIError            NotificationType = "api_error"
	TypeAdminMessage        NotificationType = "admin_message"
	TypeOther               NotificationType = "other"
)

var knownTypes = map[NotificationType]bool{
	TypeNewConversation:     true,
	TypeHighPriorityMessage: true,
	TypePerformanceAlert:    true,
	TypeUsageWarning:        true,
	TypeNewUserSignup:       true,
	TypeWebhookEvent:        true,
	TypeSourceProcessing:    true,
	TypeChatbotDown:         true,
	TypeAPIError:            true,
	TypeAdminMessage:        true,
	TypeOther:               true,
}

// Valid reports whether t is one of the recognised notification types.
func (t NotificationType) Valid() bool { return knownTypes[t] }

// Priority indicates how urgently a notification should be surfaced.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Valid reports whether p is a recognised priority.
func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// AtLeast returns true if p is at or above the given threshold.
func (p Priority) AtLeast(threshold Priority) bool {
	return priorityRank[p] >= priorityRank[threshold]
}

// Notification is a single delivered event as seen by the admin console.
type Notification struct {
	ID        string            `json:"id"`
	Type      NotificationType  `json:"type"`
	Priority  Priority          `json:"priority"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	ActionURL string            `json:"action_url,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

// UnmarshalJSON decodes a notification and normalises the enum fields:
// a missing priority becomes low and an unrecognised type becomes other.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Priority == "" || !a.Priority.Valid() {
		a.Priority = PriorityLow
	}
	if !a.Type.Valid() {
		a.Type = TypeOther
	}
	*n = Notification(a)
	return nil
}

// CountUnread returns the number of notifications with Read == false.
func CountUnread(list []Notification) int {
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count
}

// SubscriptionMode describes what kind of delivery a subscription supports.
type SubscriptionMode string

const (
	// ModeFull means a server-deliverable push endpoint exists.
	ModeFull SubscriptionMode = "full"
	// ModeBasic means only local, foreground notifications are possible.
	ModeBasic SubscriptionMode = "basic"
)

// Keys holds the client public key and auth secret for a push endpoint.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is a device's push delivery registration.
type Subscription struct {
	Endpoint string           `json:"endpoint,omitempty"`
	Keys     *Keys            `json:"keys,omitempty"`
	Browser  string           `json:"browser,omitempty"`
	Mode     SubscriptionMode `json:"-"`
}

// Validate checks the endpoint/keys invariants for the subscription's mode.
func (s Subscription) Validate() error {
	switch s.Mode {
	case ModeFull:
		if s.Endpoint == "" {
			return errInvalidSubscription("full subscription requires an endpoint")
		}
		if s.Keys == nil || s.Keys.P256dh == "" || s.Keys.Auth == "" {
			return errInvalidSubscription("full subscription requires both p256dh and auth keys")
		}
	case ModeBasic:
		if s.Endpoint != "" || s.Keys != nil {
			return errInvalidSubscription("basic subscription must not carry an endpoint or keys")
		}
	default:
		return errInvalidSubscription("unknown mode " + string(s.Mode))
	}
	return nil
}

// Preferences is the flat toggle object served by /notifications/preferences.
// Individual flags are passed through without interpretation.
type Preferences map[string]any
