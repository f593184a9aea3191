// Package inbox is the reference notification backend: a SQLite-backed
// per-user inbox, the REST routes the client talks to, and a websocket hub
// for realtime delivery.
package inbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/notifysync/internal/db"
	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// ErrNotFound is returned when a notification does not exist for the user.
var ErrNotFound = errors.New("notification not found")

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// MaxPageSize caps ListFilter.Limit.
const MaxPageSize = 100

// ListFilter controls which notifications are returned by List.
type ListFilter struct {
	Limit      int
	Skip       int
	UnreadOnly bool
}

// Store provides CRUD operations for notifications, push subscriptions and
// preferences, scoped by user.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: time.Now}
}

// Create inserts a new notification for userID. Empty ID, priority, type
// and created_at are filled in.
func (s *Store) Create(ctx context.Context, userID string, n notifications.Notification) (notifications.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if !n.Priority.Valid() {
		n.Priority = notifications.PriorityLow
	}
	if !n.Type.Valid() {
		n.Type = notifications.TypeOther
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return n, fmt.Errorf("marshalling metadata: %w", err)
	}

	read := 0
	if n.Read {
		read = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, priority, title, message, metadata, action_url, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, userID, string(n.Type), string(n.Priority), n.Title, n.Message,
		string(metaJSON), n.ActionURL, read, n.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return n, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// GetByID retrieves a single notification owned by userID.
func (s *Store) GetByID(ctx context.Context, userID, id string) (*notifications.Notification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, priority, title, message, metadata, action_url, read, created_at
		FROM notifications WHERE user_id = ? AND id = ?`, userID, id)

	n, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// List returns the user's notifications, newest first.
func (s *Store) List(ctx context.Context, userID string, filter ListFilter) ([]notifications.Notification, error) {
	clauses := []string{"user_id = ?"}
	args := []any{userID}

	if filter.UnreadOnly {
		clauses = append(clauses, "read = 0")
	}

	query := "SELECT id, type, priority, title, message, metadata, action_url, read, created_at FROM notifications"
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	query += fmt.Sprintf(" LIMIT %d", limit)
	if filter.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	result := []notifications.Notification{}
	for rows.Next() {
		n, err := scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// UnreadCount returns how many of the user's notifications are unread.
func (s *Store) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND read = 0", userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

// MarkRead sets read=1 for the given notification. Marking an already read
// notification succeeds.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead marks every notification of the user read and returns how
// many changed.
func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("marking all notifications read: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Delete removes a notification.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE user_id = ? AND id = ?", userID, id)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSubscription upserts a full push subscription. Re-saving an endpoint
// supersedes the previous keys.
func (s *Store) SaveSubscription(ctx context.Context, userID string, sub notifications.Subscription) error {
	sub.Mode = notifications.ModeFull
	if err := sub.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, browser)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth,
			browser = excluded.browser,
			updated_at = datetime('now')`,
		sub.Endpoint, userID, sub.Keys.P256dh, sub.Keys.Auth, sub.Browser,
	)
	if err != nil {
		return fmt.Errorf("upserting push subscription: %w", err)
	}
	return nil
}

// Subscriptions returns the user's saved push subscriptions.
func (s *Store) Subscriptions(ctx context.Context, userID string) ([]notifications.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, p256dh, auth, browser
		FROM push_subscriptions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []notifications.Subscription
	for rows.Next() {
		sub := notifications.Subscription{Mode: notifications.ModeFull, Keys: &notifications.Keys{}}
		if err := rows.Scan(&sub.Endpoint, &sub.Keys.P256dh, &sub.Keys.Auth, &sub.Browser); err != nil {
			return nil, fmt.Errorf("scanning push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription removes a push subscription by endpoint.
func (s *Store) DeleteSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint); err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	return nil
}

// GetPreferences returns the user's preference toggles. A user without
// saved preferences gets an empty object.
func (s *Store) GetPreferences(ctx context.Context, userID string) (notifications.Preferences, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT prefs FROM notification_preferences WHERE user_id = ?", userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return notifications.Preferences{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}

	prefs := notifications.Preferences{}
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	return prefs, nil
}

// UpdatePreferences merges update into the stored toggles and returns the
// result.
func (s *Store) UpdatePreferences(ctx context.Context, userID string, update notifications.Preferences) (notifications.Preferences, error) {
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	for k, v := range update {
		prefs[k] = v
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encoding preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, prefs)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			prefs = excluded.prefs,
			updated_at = datetime('now')`,
		userID, string(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("upserting preferences: %w", err)
	}
	return prefs, nil
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*notifications.Notification, error) {
	var (
		n               notifications.Notification
		ntype, priority string
		metaJSON, ts    string
		read            int
	)

	err := sc.Scan(&n.ID, &ntype, &priority, &n.Title, &n.Message,
		&metaJSON, &n.ActionURL, &read, &ts)
	if err != nil {
		return nil, err
	}

	n.Type = notifications.NotificationType(ntype)
	n.Priority = notifications.Priority(priority)
	n.Read = read != 0

	if t, parseErr := time.Parse(timeLayout, ts); parseErr == nil {
		n.CreatedAt = t
	} else if t, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
		n.CreatedAt = t
	}

	if err := json.Unmarshal([]byte(metaJSON), &n.Metadata); err != nil || len(n.Metadata) == 0 {
		n.Metadata = nil
	}

	return &n, nil
}
