package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/veepo/veeposync/internal/georank"
)

func validConfig() AppConfig {
	cfg := Default()
	cfg.Backend.URL = "https://veepo.example.com"
	cfg.Backend.APIKey = "anon-key"

	return cfg
}

func TestAppConfigFillMissingDefaults(t *testing.T) {
	cfg := AppConfig{}
	cfg.FillMissingDefaults()

	if cfg.Realtime.HeartbeatIntervalMs != DefaultHeartbeatIntervalMs {
		t.Fatalf("expected default heartbeat %d, got %d", DefaultHeartbeatIntervalMs, cfg.Realtime.HeartbeatIntervalMs)
	}
	if cfg.Realtime.EventBuffer != DefaultEventBuffer {
		t.Fatalf("expected default event buffer %d, got %d", DefaultEventBuffer, cfg.Realtime.EventBuffer)
	}
	if cfg.Sync.EchoWindowMs != DefaultEchoWindowMs {
		t.Fatalf("expected default echo window %d, got %d", DefaultEchoWindowMs, cfg.Sync.EchoWindowMs)
	}
	if cfg.Ranking.Weights != georank.DefaultWeights() {
		t.Fatalf("expected default weights, got %+v", cfg.Ranking.Weights)
	}
	if cfg.Ranking.DefaultRadiusM != DefaultRadiusMeters {
		t.Fatalf("expected default radius %v, got %v", DefaultRadiusMeters, cfg.Ranking.DefaultRadiusM)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Fatalf("expected default text logging at info, got %+v", cfg.Logging)
	}
}

func TestAppConfigFillMissingDefaultsKeepsBackoffOrdered(t *testing.T) {
	cfg := AppConfig{Realtime: RealtimeConfig{InitialBackoffMs: 30_000, MaxBackoffMs: 5_000, MaxReconnectAttempts: -3}}
	cfg.FillMissingDefaults()

	if cfg.Realtime.MaxBackoffMs < cfg.Realtime.InitialBackoffMs {
		t.Fatalf("expected max backoff >= initial, got %d < %d", cfg.Realtime.MaxBackoffMs, cfg.Realtime.InitialBackoffMs)
	}
	if cfg.Realtime.MaxReconnectAttempts != 0 {
		t.Fatalf("expected negative attempts to mean unlimited, got %d", cfg.Realtime.MaxReconnectAttempts)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Sync.ResyncOnReconnect || !cfg.Notifications.Desktop {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadPreservesExplicitFalseValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{
  "backend": {"url": "https://veepo.example.com/", "api_key": "k"},
  "sync": {"resync_on_reconnect": false},
  "notifications": {"desktop": false, "types": [" New_Message ", "new_message", ""]}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Sync.ResyncOnReconnect {
		t.Fatalf("expected resync_on_reconnect to stay false")
	}
	if cfg.Notifications.Desktop {
		t.Fatalf("expected desktop notifications to stay disabled")
	}
	if len(cfg.Notifications.Types) != 1 || cfg.Notifications.Types[0] != "new_message" {
		t.Fatalf("expected normalized types, got %v", cfg.Notifications.Types)
	}
	if cfg.Backend.URL != "https://veepo.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.URL)
	}
	if cfg.Sync.CacheMessagesPerConversation != DefaultCacheMessagesPerConv {
		t.Fatalf("expected missing values to default, got %d", cfg.Sync.CacheMessagesPerConversation)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := validConfig()
	cfg.Ranking.Weights = georank.Weights{Plan: 0.5, NPS: 0.2, Rating: 0.2, Verified: 0.05, Activity: 0.05}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Ranking.Weights != cfg.Ranking.Weights {
		t.Fatalf("expected weights to round-trip, got %+v", loaded.Ranking.Weights)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be renamed away")
	}
}

func TestSaveRefusesInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, Default()); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected nothing to be written")
	}
}

func TestRealtimeURLDerivesFromBackend(t *testing.T) {
	cfg := validConfig()
	if got := cfg.RealtimeURL(); got != "https://veepo.example.com/realtime/v1/websocket" {
		t.Fatalf("unexpected derived url %q", got)
	}
	cfg.Realtime.URL = "wss://rt.example.com/socket"
	if got := cfg.RealtimeURL(); got != "wss://rt.example.com/socket" {
		t.Fatalf("expected explicit url, got %q", got)
	}
}

func TestNotificationConfigNotifyType(t *testing.T) {
	tests := []struct {
		name string
		cfg  NotificationConfig
		kind string
		want bool
	}{
		{name: "desktop off", cfg: NotificationConfig{}, kind: "new_message", want: false},
		{name: "all types", cfg: NotificationConfig{Desktop: true}, kind: "anything", want: true},
		{name: "listed type", cfg: NotificationConfig{Desktop: true, Types: []string{"new_message"}}, kind: "NEW_MESSAGE", want: true},
		{name: "unlisted type", cfg: NotificationConfig{Desktop: true, Types: []string{"new_message"}}, kind: "new_feedback", want: false},
	}

	for _, tc := range tests {
		if got := tc.cfg.NotifyType(tc.kind); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAppConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(*AppConfig) {}},
		{name: "missing backend url", mutate: func(c *AppConfig) { c.Backend.URL = "" }, wantErr: true},
		{name: "backend url without scheme", mutate: func(c *AppConfig) { c.Backend.URL = "veepo.example.com" }, wantErr: true},
		{name: "missing api key", mutate: func(c *AppConfig) { c.Backend.APIKey = " " }, wantErr: true},
		{name: "websocket realtime url", mutate: func(c *AppConfig) { c.Realtime.URL = "wss://rt.example.com" }},
		{name: "bad realtime scheme", mutate: func(c *AppConfig) { c.Realtime.URL = "ftp://rt.example.com" }, wantErr: true},
		{
			name: "weights not summing to one",
			mutate: func(c *AppConfig) {
				c.Ranking.Weights = georank.Weights{Plan: 0.5, NPS: 0.5, Rating: 0.5}
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			mutate: func(c *AppConfig) {
				c.Ranking.Weights = georank.Weights{Plan: 1.1, NPS: -0.1}
			},
			wantErr: true,
		},
		{name: "json log format", mutate: func(c *AppConfig) { c.Logging.Format = "json" }},
		{name: "unknown log format", mutate: func(c *AppConfig) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "radius out of range", mutate: func(c *AppConfig) { c.Ranking.DefaultRadiusM = -1 }, wantErr: true},
		{
			name: "shared location out of range",
			mutate: func(c *AppConfig) {
				c.Presence = PresenceConfig{ShareLocation: true, Latitude: 91}
			},
			wantErr: true,
		},
		{
			name: "unshared location is not checked",
			mutate: func(c *AppConfig) {
				c.Presence = PresenceConfig{Latitude: 91}
			},
		},
	}

	for _, tc := range tests {
		cfg := validConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: expected no error, got %v", tc.name, err)
		}
	}
}
