package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
)

// DefaultPath is the config file the CLI reads when --config is not given.
const DefaultPath = ".notifysync.yml"

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to notifysync! Let's connect to your notification backend.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Backend URL.
	apiPrompt := promptui.Prompt{
		Label:    "Backend API URL",
		Default:  cfg.APIURL,
		Validate: validateHTTPURL,
	}
	apiURL, err := apiPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	cfg.APIURL = apiURL

	// 2. User identity.
	userPrompt := promptui.Prompt{
		Label: "User ID (sent as X-User-ID)",
	}
	userID, err := userPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	cfg.UserID = userID

	// 3. Delivery mode.
	modePrompt := promptui.Select{
		Label: "Select delivery mode",
		Items: []string{
			"polling: periodic reconciliation only (recommended)",
			"realtime: polling plus a websocket channel",
		},
	}
	modeIdx, _, err := modePrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("delivery mode: %w", err)
	}
	cfg.Realtime.Enabled = modeIdx == 1

	// 4. Poll interval.
	pollPrompt := promptui.Prompt{
		Label:   "Poll interval in seconds (0 disables interval polling)",
		Default: strconv.Itoa(int(cfg.Reconcile.PollInterval / time.Second)),
		Validate: func(s string) error {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				return fmt.Errorf("enter a non-negative integer")
			}
			return nil
		},
	}
	pollStr, err := pollPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("poll interval: %w", err)
	}
	secs, _ := strconv.Atoi(pollStr)
	cfg.Reconcile.PollInterval = time.Duration(secs) * time.Second

	// 5. VAPID key for push.
	vapidPrompt := promptui.Prompt{
		Label:   "VAPID public key (base64url, leave blank for basic mode only)",
		Default: "",
	}
	vapid, err := vapidPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("vapid key: %w", err)
	}
	cfg.Push.VAPIDPublicKey = vapid

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("enter an http(s) URL")
	}
	return nil
}
