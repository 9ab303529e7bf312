package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/veepo/veeposync/internal/georank"
)

const (
	DefaultHeartbeatIntervalMs  = 25_000
	DefaultReadTimeoutMs        = 60_000
	DefaultInitialBackoffMs     = 1_000
	DefaultMaxBackoffMs         = 15_000
	DefaultMaxReconnectAttempts = 10
	DefaultEventBuffer          = 64
	DefaultEchoWindowMs         = 10_000
	DefaultCacheMessagesPerConv = 200
	DefaultCacheNotifications   = 100
	DefaultRadiusMeters         = 5_000.0
	maxRadiusMeters             = 500_000.0
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"` // text or json
	LogToFile bool   `json:"log_to_file"`
}

// BackendConfig points at the hosted backend.
type BackendConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// RealtimeConfig tunes the realtime connection. An empty URL is derived
// from the backend URL.
type RealtimeConfig struct {
	URL                  string `json:"url"`
	HeartbeatIntervalMs  int    `json:"heartbeat_interval_ms"`
	ReadTimeoutMs        int    `json:"read_timeout_ms"`
	InitialBackoffMs     int    `json:"initial_backoff_ms"`
	MaxBackoffMs         int    `json:"max_backoff_ms"`
	MaxReconnectAttempts int    `json:"max_reconnect_attempts"`
	EventBuffer          int    `json:"event_buffer"`
}

// SyncConfig controls how collections reconcile with the backend.
type SyncConfig struct {
	EchoWindowMs                 int  `json:"echo_window_ms"`
	ResyncOnReconnect            bool `json:"resync_on_reconnect"`
	CacheMessagesPerConversation int  `json:"cache_messages_per_conversation"`
	CacheNotifications           int  `json:"cache_notifications"`
}

// RankingConfig stores the composite score weights.
type RankingConfig struct {
	Weights        georank.Weights `json:"weights"`
	DefaultRadiusM float64         `json:"default_radius_m"`
}

// PresenceConfig stores the fixed position used when going online.
type PresenceConfig struct {
	ShareLocation bool    `json:"share_location"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Desktop bool `json:"desktop"`
	// Types limits desktop alerts to these notification types. Empty
	// means all.
	Types []string `json:"types"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Backend       BackendConfig      `json:"backend"`
	Realtime      RealtimeConfig     `json:"realtime"`
	Sync          SyncConfig         `json:"sync"`
	Ranking       RankingConfig      `json:"ranking"`
	Presence      PresenceConfig     `json:"presence"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
}

func Default() AppConfig {
	return AppConfig{
		Backend: BackendConfig{},
		Realtime: RealtimeConfig{
			HeartbeatIntervalMs:  DefaultHeartbeatIntervalMs,
			ReadTimeoutMs:        DefaultReadTimeoutMs,
			InitialBackoffMs:     DefaultInitialBackoffMs,
			MaxBackoffMs:         DefaultMaxBackoffMs,
			MaxReconnectAttempts: DefaultMaxReconnectAttempts,
			EventBuffer:          DefaultEventBuffer,
		},
		Sync: SyncConfig{
			EchoWindowMs:                 DefaultEchoWindowMs,
			ResyncOnReconnect:            true,
			CacheMessagesPerConversation: DefaultCacheMessagesPerConv,
			CacheNotifications:           DefaultCacheNotifications,
		},
		Ranking: RankingConfig{
			Weights:        georank.DefaultWeights(),
			DefaultRadiusM: DefaultRadiusMeters,
		},
		Presence: PresenceConfig{},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Desktop: true,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	if c.Realtime.HeartbeatIntervalMs <= 0 {
		c.Realtime.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.Realtime.ReadTimeoutMs <= 0 {
		c.Realtime.ReadTimeoutMs = DefaultReadTimeoutMs
	}
	if c.Realtime.InitialBackoffMs <= 0 {
		c.Realtime.InitialBackoffMs = DefaultInitialBackoffMs
	}
	if c.Realtime.MaxBackoffMs < c.Realtime.InitialBackoffMs {
		c.Realtime.MaxBackoffMs = max(DefaultMaxBackoffMs, c.Realtime.InitialBackoffMs)
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		c.Realtime.MaxReconnectAttempts = 0
	}
	if c.Realtime.EventBuffer <= 0 {
		c.Realtime.EventBuffer = DefaultEventBuffer
	}
	if c.Sync.EchoWindowMs <= 0 {
		c.Sync.EchoWindowMs = DefaultEchoWindowMs
	}
	if c.Sync.CacheMessagesPerConversation <= 0 {
		c.Sync.CacheMessagesPerConversation = DefaultCacheMessagesPerConv
	}
	if c.Sync.CacheNotifications <= 0 {
		c.Sync.CacheNotifications = DefaultCacheNotifications
	}
	if c.Ranking.Weights == (georank.Weights{}) {
		c.Ranking.Weights = georank.DefaultWeights()
	}
	if c.Ranking.DefaultRadiusM <= 0 {
		c.Ranking.DefaultRadiusM = DefaultRadiusMeters
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Notifications.Types = normalizeTypes(c.Notifications.Types)
}

func normalizeTypes(types []string) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, 0, len(types))
	seen := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}

	return out
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("backend url is required")
	}
	if err := validateURL(c.Backend.URL, "http", "https"); err != nil {
		return fmt.Errorf("backend url: %w", err)
	}
	if strings.TrimSpace(c.Backend.APIKey) == "" {
		return errors.New("backend api key is required")
	}
	if c.Realtime.URL != "" {
		if err := validateURL(c.Realtime.URL, "http", "https", "ws", "wss"); err != nil {
			return fmt.Errorf("realtime url: %w", err)
		}
	}
	if err := c.Ranking.Weights.Validate(); err != nil {
		return fmt.Errorf("ranking: %w", err)
	}
	if c.Ranking.DefaultRadiusM <= 0 || c.Ranking.DefaultRadiusM > maxRadiusMeters {
		return fmt.Errorf("ranking default radius out of range: %v", c.Ranking.DefaultRadiusM)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}
	if c.Presence.ShareLocation {
		if c.Presence.Latitude < -90 || c.Presence.Latitude > 90 {
			return fmt.Errorf("presence latitude out of range: %v", c.Presence.Latitude)
		}
		if c.Presence.Longitude < -180 || c.Presence.Longitude > 180 {
			return fmt.Errorf("presence longitude out of range: %v", c.Presence.Longitude)
		}
	}

	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

// RealtimeURL is the websocket endpoint, derived from the backend URL when
// not set explicitly.
func (c AppConfig) RealtimeURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	if c.Backend.URL == "" {
		return ""
	}

	return strings.TrimRight(c.Backend.URL, "/") + "/realtime/v1/websocket"
}

func (s SyncConfig) EchoWindow() time.Duration {
	return time.Duration(s.EchoWindowMs) * time.Millisecond
}

// NotifyType reports whether a desktop alert should be shown for a
// notification type.
func (n NotificationConfig) NotifyType(kind string) bool {
	if !n.Desktop {
		return false
	}
	if len(n.Types) == 0 {
		return true
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, t := range n.Types {
		if t == kind {
			return true
		}
	}

	return false
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
