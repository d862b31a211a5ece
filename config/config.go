// Package config centralises runtime configuration for the venuelink engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ReconnectPolicy bounds automatic reconnection after transient transport failures.
type ReconnectPolicy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Timeouts holds per-operation deadlines for the synchronous client surface.
type Timeouts struct {
	Connect    time.Duration `yaml:"connect"`
	Balance    time.Duration `yaml:"balance"`
	Assets     time.Duration `yaml:"assets"`
	Order      time.Duration `yaml:"order"`
	Outcome    time.Duration `yaml:"outcome"`
	History    time.Duration `yaml:"history"`
	Send       time.Duration `yaml:"send"`
	Disconnect time.Duration `yaml:"disconnect"`
}

// Settings contains the venuelink configuration tree loaded from defaults and overrides.
type Settings struct {
	Endpoint      string `yaml:"endpoint"`
	ChartEndpoint string `yaml:"chart_endpoint"`
	Origin        string `yaml:"origin"`
	UserAgent     string `yaml:"user_agent"`

	Reconnect ReconnectPolicy `yaml:"reconnect"`
	Timeouts  Timeouts        `yaml:"timeouts"`

	// PollInterval paces the bounded wait loops in synchronous operations.
	PollInterval time.Duration `yaml:"poll_interval"`
	// BootstrapInterval paces the post-authentication command burst so the
	// venue does not drop the connection for control-message flooding.
	BootstrapInterval time.Duration `yaml:"bootstrap_interval"`

	QuoteHistoryCapacity int `yaml:"quote_history_capacity"`
	HistoryCacheCapacity int `yaml:"history_cache_capacity"`
}

// Default returns the default venuelink configuration.
func Default() Settings {
	return Settings{
		Endpoint:      "wss://ws.trade-venue.example/socket.io/?EIO=4&transport=websocket",
		ChartEndpoint: "wss://chart.trade-venue.example/socket.io/?EIO=4&transport=websocket",
		Origin:        "https://trade-venue.example",
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
		Reconnect: ReconnectPolicy{
			MaxAttempts: 5,
			BaseDelay:   2 * time.Second,
			MaxDelay:    60 * time.Second,
		},
		Timeouts: Timeouts{
			Connect:    30 * time.Second,
			Balance:    30 * time.Second,
			Assets:     30 * time.Second,
			Order:      10 * time.Second,
			Outcome:    5 * time.Minute,
			History:    30 * time.Second,
			Send:       10 * time.Second,
			Disconnect: 5 * time.Second,
		},
		PollInterval:         100 * time.Millisecond,
		BootstrapInterval:    200 * time.Millisecond,
		QuoteHistoryCapacity: 1000,
		HistoryCacheCapacity: 128,
	}
}

// Load reads a YAML override file and merges it over the defaults.
func Load(path string) (Settings, error) {
	settings := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Validate rejects settings the engine cannot operate with.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" {
		return fmt.Errorf("config: endpoint must not be empty")
	}
	if s.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("config: reconnect max_attempts must be positive")
	}
	if s.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("config: reconnect base_delay must be positive")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("config: poll_interval must be positive")
	}
	if s.BootstrapInterval <= 0 {
		return fmt.Errorf("config: bootstrap_interval must be positive")
	}
	if s.QuoteHistoryCapacity <= 0 {
		return fmt.Errorf("config: quote_history_capacity must be positive")
	}
	if s.HistoryCacheCapacity <= 0 {
		return fmt.Errorf("config: history_cache_capacity must be positive")
	}
	for name, d := range map[string]time.Duration{
		"connect":    s.Timeouts.Connect,
		"balance":    s.Timeouts.Balance,
		"assets":     s.Timeouts.Assets,
		"order":      s.Timeouts.Order,
		"outcome":    s.Timeouts.Outcome,
		"history":    s.Timeouts.History,
		"send":       s.Timeouts.Send,
		"disconnect": s.Timeouts.Disconnect,
	} {
		if d <= 0 {
			return fmt.Errorf("config: timeout %s must be positive", name)
		}
	}
	return nil
}
