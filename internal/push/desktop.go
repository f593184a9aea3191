package push

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/notifications"
)

var (
	// ErrVAPIDRejected is returned when the application server key is not
	// an uncompressed P-256 point.
	ErrVAPIDRejected = errors.New("VAPID public key rejected")
	// ErrNoPushService is returned when no push service URL is configured.
	ErrNoPushService = errors.New("no push service configured")
)

// DesktopConfig configures a DesktopPlatform.
type DesktopConfig struct {
	Supported bool
	// Permission is the remembered state: default, granted or denied.
	Permission string
	// AppURL is the origin the worker script is served from.
	AppURL     string
	ServiceURL string
	HTTPClient *http.Client
	// Confirm asks the user a yes/no question. Defaults to a promptui prompt.
	Confirm func(label string) (bool, error)
	Out     io.Writer
	Logger  *logrus.Entry
}

// DesktopPlatform is the Platform used by the command-line client.
type DesktopPlatform struct {
	cfg    DesktopConfig
	client *http.Client
	logger *logrus.Entry

	mu         sync.Mutex
	permission Permission
	workers    map[string]bool
	endpoints  map[string]bool
}

// NewDesktopPlatform creates a DesktopPlatform.
func NewDesktopPlatform(cfg DesktopConfig) *DesktopPlatform {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Confirm == nil {
		cfg.Confirm = confirmPrompt
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	perm := Permission(cfg.Permission)
	if perm != PermissionGranted && perm != PermissionDenied {
		perm = PermissionDefault
	}
	return &DesktopPlatform{
		cfg:        cfg,
		client:     client,
		logger:     logger,
		permission: perm,
		workers:    make(map[string]bool),
		endpoints:  make(map[string]bool),
	}
}

func (p *DesktopPlatform) Capabilities() Capabilities {
	return Capabilities{
		Notifications: p.cfg.Supported,
		Worker:        p.cfg.Supported,
		PushManager:   p.cfg.Supported,
	}
}

func (p *DesktopPlatform) Permission() Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.permission
}

// RequestPermission asks once per process; the answer is remembered.
func (p *DesktopPlatform) RequestPermission(ctx context.Context) (Permission, error) {
	if perm := p.Permission(); perm != PermissionDefault {
		return perm, nil
	}
	ok, err := p.cfg.Confirm("Allow notifysync to show notifications")
	if err != nil {
		return PermissionDefault, err
	}
	perm := PermissionDenied
	if ok {
		perm = PermissionGranted
	}
	p.mu.Lock()
	p.permission = perm
	p.mu.Unlock()
	return perm, nil
}

// RegisterWorker checks that the worker script is served at path on the
// application origin.
func (p *DesktopPlatform) RegisterWorker(ctx context.Context, path, scope string) error {
	if !strings.HasPrefix(path, "/") || !strings.HasPrefix(scope, "/") {
		return fmt.Errorf("worker path %q and scope %q must be absolute", path, scope)
	}
	key := path + "|" + scope
	p.mu.Lock()
	done := p.workers[key]
	p.mu.Unlock()
	if done {
		return nil
	}

	url := strings.TrimRight(p.cfg.AppURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building worker request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching worker script: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching worker script: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading worker script: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("worker script is empty")
	}

	p.mu.Lock()
	p.workers[key] = true
	p.mu.Unlock()
	p.logger.WithFields(logrus.Fields{"path": path, "scope": scope}).Debug("worker registered")
	return nil
}

// Subscribe generates a fresh client key pair and auth secret and creates an
// endpoint under the push service.
func (p *DesktopPlatform) Subscribe(ctx context.Context, vapidPublicKey string) (notifications.Subscription, error) {
	if err := ValidateVAPIDKey(vapidPublicKey); err != nil {
		return notifications.Subscription{}, err
	}
	if p.cfg.ServiceURL == "" {
		return notifications.Subscription{}, ErrNoPushService
	}

	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return notifications.Subscription{}, fmt.Errorf("generating client key: %w", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		return notifications.Subscription{}, fmt.Errorf("generating auth secret: %w", err)
	}

	endpoint := strings.TrimRight(p.cfg.ServiceURL, "/") + "/" + uuid.NewString()
	p.mu.Lock()
	p.endpoints[endpoint] = true
	p.mu.Unlock()

	return notifications.Subscription{
		Endpoint: endpoint,
		Keys: &notifications.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}, nil
}

// Unsubscribe forgets the endpoint. Unknown endpoints are ignored.
func (p *DesktopPlatform) Unsubscribe(ctx context.Context, sub notifications.Subscription) error {
	p.mu.Lock()
	delete(p.endpoints, sub.Endpoint)
	p.mu.Unlock()
	return nil
}

// Active reports whether endpoint is a live platform subscription.
func (p *DesktopPlatform) Active(endpoint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[endpoint]
}

func (p *DesktopPlatform) ShowLocal(ctx context.Context, title, body string) error {
	p.logger.WithField("title", title).Debug("showing local notification")
	_, err := fmt.Fprintf(p.cfg.Out, "[notification] %s: %s\n", title, body)
	return err
}

// ValidateVAPIDKey checks that key is a base64url uncompressed P-256 point.
func ValidateVAPIDKey(key string) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVAPIDRejected, err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrVAPIDRejected, err)
	}
	return nil
}

func confirmPrompt(label string) (bool, error) {
	prompt := promptui.Prompt{Label: label, IsConfirm: true}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
