package notifyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

// Operation names carried by TransportError.Op.
const (
	OpList              = "list"
	OpCreate            = "create"
	OpUnreadCount       = "unread_count"
	OpMarkRead          = "mark_read"
	OpMarkAllRead       = "mark_all_read"
	OpDelete            = "delete"
	OpSaveSubscription  = "save_subscription"
	OpGetPreferences    = "get_preferences"
	OpUpdatePreferences = "update_preferences"
)

const basePath = "/notifications"

// ListOptions controls which notifications List returns.
type ListOptions struct {
	Limit      int
	Skip       int
	UnreadOnly bool
}

// Options configures a Client.
type Options struct {
	BaseURL string
	UserID  string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is a thin, stateless binding to the notification REST endpoints.
// Every failure is reported as a *notifications.TransportError.
type Client struct {
	baseURL    string
	userID     string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a Client for the backend rooted at opts.BaseURL.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userID:     opts.UserID,
		token:      opts.Token,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notifyapi",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var cf *clientFault
				return err == nil || errors.As(err, &cf)
			},
		}),
	}
}

// List returns notifications newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]notifications.Notification, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		q.Set("skip", strconv.Itoa(opts.Skip))
	}
	if opts.UnreadOnly {
		q.Set("unread_only", "true")
	}

	path := basePath + "/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result []notifications.Notification
	if err := c.do(ctx, OpList, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = []notifications.Notification{}
	}
	return result, nil
}

// NewNotification is the body of a create request.
type NewNotification struct {
	Type      notifications.NotificationType `json:"type,omitempty"`
	Priority  notifications.Priority         `json:"priority,omitempty"`
	Title     string                         `json:"title"`
	Message   string                         `json:"message,omitempty"`
	Metadata  map[string]string              `json:"metadata,omitempty"`
	ActionURL string                         `json:"action_url,omitempty"`
}

// Create asks the backend to create and deliver a notification for the
// client's user. Only the reference backend serves this route.
func (c *Client) Create(ctx context.Context, n NewNotification) (notifications.Notification, error) {
	var created notifications.Notification
	if err := c.do(ctx, OpCreate, http.MethodPost, basePath+"/", n, &created); err != nil {
		return notifications.Notification{}, err
	}
	return created, nil
}

type countResponse struct {
	Count int `json:"count"`
}

// UnreadCount returns the server's count of unread notifications.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.do(ctx, OpUnreadCount, http.MethodGet, basePath+"/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, &notifications.TransportError{Op: OpUnreadCount, Err: fmt.Errorf("negative count %d", resp.Count)}
	}
	return resp.Count, nil
}

// MarkRead marks one notification read. Marking an already-read
// notification succeeds.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, OpMarkRead, http.MethodPut, basePath+"/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every notification for the user read server-side.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, OpMarkAllRead, http.MethodPut, basePath+"/read-all", nil, nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, OpDelete, http.MethodDelete, basePath+"/"+url.PathEscape(id), nil, nil)
}

// SaveSubscription persists a push subscription. Basic-mode subscriptions
// have no endpoint, so no request is made for them.
func (c *Client) SaveSubscription(ctx context.Context, sub notifications.Subscription) error {
	if sub.Mode == notifications.ModeBasic {
		return nil
	}
	if err := sub.Validate(); err != nil {
		return &notifications.TransportError{Op: OpSaveSubscription, Err: err}
	}
	return c.do(ctx, OpSaveSubscription, http.MethodPost, basePath+"/push-subscription", sub, nil)
}

// Preferences returns the user's notification preference object.
func (c *Client) Preferences(ctx context.Context) (notifications.Preferences, error) {
	prefs := notifications.Preferences{}
	if err := c.do(ctx, OpGetPreferences, http.MethodGet, basePath+"/preferences", nil, &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences writes the preference object and returns what the
// server stored.
func (c *Client) UpdatePreferences(ctx context.Context, prefs notifications.Preferences) (notifications.Preferences, error) {
	stored := notifications.Preferences{}
	if err := c.do(ctx, OpUpdatePreferences, http.MethodPut, basePath+"/preferences", prefs, &stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// statusError marks a non-2xx response. 4xx responses do not count as
// breaker failures.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return http.StatusText(e.status)
	}
	return e.body
}

func (c *Client) do(ctx context.Context, op, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &notifications.TransportError{Op: op, Err: fmt.Errorf("marshaling request body: %w", err)}
		}
		payload = data
	}

	respBody, err := c.breaker.Execute(func() (any, error) {
		data, err := c.send(ctx, method, path, payload)
		var se *statusError
		if errors.As(err, &se) && se.status < 500 {
			// Client errors say nothing about backend health.
			return nil, &clientFault{err: se}
		}
		return data, err
	})
	if err != nil {
		var cf *clientFault
		if errors.As(err, &cf) {
			err = cf.err
		}
		te := &notifications.TransportError{Op: op, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			te.Status = se.status
		}
		return te
	}

	if result == nil {
		return nil
	}
	data, _ := respBody.([]byte)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &notifications.TransportError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// clientFault carries a 4xx error through the breaker; IsSuccessful
// counts it as a success.
type clientFault struct{ err error }

func (c *clientFault) Error() string { return c.err.Error() }
func (c *clientFault) Unwrap() error { return c.err }
