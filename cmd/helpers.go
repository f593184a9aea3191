package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ziadkadry99/notifysync/internal/config"
	"github.com/ziadkadry99/notifysync/internal/events"
	"github.com/ziadkadry99/notifysync/internal/logging"
	"github.com/ziadkadry99/notifysync/internal/notifications"
	"github.com/ziadkadry99/notifysync/internal/notifyapi"
	"github.com/ziadkadry99/notifysync/internal/push"
	"github.com/ziadkadry99/notifysync/internal/store"
)

// loadConfig loads the dotenv file, then loads and validates the config,
// providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `notifysync init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(cfg *config.Config) (*logrus.Logger, error) {
	opts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}
	if verbose {
		opts.Level = "debug"
	}
	return logging.New(opts)
}

// requireUser fails early when no identity is configured.
func requireUser(cfg *config.Config) error {
	if cfg.UserID == "" {
		return fmt.Errorf("user_id is not configured; set it in %s or NOTIFYSYNC_USER_ID", cfgFile)
	}
	return nil
}

func newAPIClient(cfg *config.Config) *notifyapi.Client {
	return notifyapi.New(notifyapi.Options{
		BaseURL: cfg.APIURL,
		UserID:  cfg.UserID,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout,
	})
}

func newStore(cfg *config.Config, api store.API, bus *events.Bus, logger *logrus.Logger) *store.Store {
	return store.New(api, store.Options{
		PageSize: cfg.Reconcile.PageSize,
		Bus:      bus,
		Logger:   logging.Component(logger, "store"),
	})
}

// newPushManager builds the push manager. confirm may be nil to use the
// default terminal prompt.
func newPushManager(cfg *config.Config, saver push.Saver, logger *logrus.Logger, confirm func(label string) (bool, error)) (*push.Manager, *push.DesktopPlatform) {
	platform := push.NewDesktopPlatform(push.DesktopConfig{
		Supported:  cfg.Push.Supported,
		Permission: cfg.Push.Permission,
		AppURL:     cfg.APIURL,
		ServiceURL: cfg.Push.ServiceURL,
		Confirm:    confirm,
		Logger:     logging.Component(logger, "push"),
	})
	mgr := push.NewManager(platform, saver, push.Options{
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		WorkerPath:     cfg.Push.WorkerPath,
		Scope:          cfg.Push.Scope,
		Browser:        cfg.Push.Browser,
		Logger:         logging.Component(logger, "push"),
	})
	return mgr, platform
}

// rememberPermission persists a permission answer so later runs do not
// prompt again.
func rememberPermission(cfg *config.Config, perm push.Permission) {
	if string(perm) == cfg.Push.Permission {
		return
	}
	cfg.Push.Permission = string(perm)
	if err := cfg.Save(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not save permission to %s: %v\n", cfgFile, err)
	}
}

// explain adds remediation text to errors the user can act on.
func explain(err error) error {
	var pe *notifications.PermissionError
	if errors.As(err, &pe) {
		return fmt.Errorf("%w\n%s", err, pe.Remediation())
	}
	return err
}
