package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/veepo/veeposync/internal/backend"
	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/config"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/feeds"
	"github.com/veepo/veeposync/internal/logging"
	"github.com/veepo/veeposync/internal/notifications"
	"github.com/veepo/veeposync/internal/persistence"
	"github.com/veepo/veeposync/internal/platform"
	"github.com/veepo/veeposync/internal/presence"
	"github.com/veepo/veeposync/internal/realtime"
)

const flushTimeout = 5 * time.Second

// Options override parts of the wiring. Zero values use the defaults.
type Options struct {
	Paths *Paths
	// Config replaces the config file. It is still validated.
	Config *config.AppConfig
	// Transport replaces the websocket transport.
	Transport realtime.Transport
	// Sender replaces desktop notifications.
	Sender notifications.Sender
	// Locator replaces the configured presence location.
	Locator presence.Locator
	// LogWriter replaces stderr as the console log destination.
	LogWriter io.Writer
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths   Paths
	Config  config.AppConfig
	Session Session

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	ConversationRepo *persistence.ConversationRepo
	MessageRepo      *persistence.MessageRepo
	NotificationRepo *persistence.NotificationRepo
	ProviderRepo     *persistence.ProviderRepo
	WriterQueue      *persistence.WriterQueue
	Projection       *domain.PersistenceProjection

	Backend  *backend.Client
	Realtime *realtime.Client

	Messages      *feeds.Messages
	Notifications *feeds.Notifications
	Conversations *feeds.Conversations
	Presence      *presence.Tracker

	NotificationService *NotificationService

	live     bool
	liveLock platform.LiveLock
}

func Initialize(parent context.Context, session Session) (*Runtime, error) {
	return InitializeWith(parent, session, Options{})
}

func InitializeWith(parent context.Context, session Session, opts Options) (*Runtime, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}

	paths, err := resolveOptionPaths(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := loadOptionConfig(paths, opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:     ctx,
		cancel:  cancel,
		Paths:   paths,
		Config:  cfg,
		Session: session,
	}

	logMgr := logging.NewManager()
	if opts.LogWriter != nil {
		logMgr = logging.NewManagerWithWriter(opts.LogWriter)
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting veeposync runtime", "version", BuildVersion(), "build_date", BuildDateYMD(), "user", session.UserID)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.DB = db
	rt.ConversationRepo = persistence.NewConversationRepo(db)
	rt.MessageRepo = persistence.NewMessageRepo(db)
	rt.NotificationRepo = persistence.NewNotificationRepo(db)
	rt.ProviderRepo = persistence.NewProviderRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), writerQueueCapacity)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	rt.Projection = domain.StartPersistenceProjection(ctx, b, writerQueue, domain.Repositories{
		Conversations: rt.ConversationRepo,
		Messages:      rt.MessageRepo,
		Notifications: rt.NotificationRepo,
		Providers:     rt.ProviderRepo,
	})

	rt.Backend = backend.New(logMgr.Logger("backend"), cfg.Backend.URL, cfg.Backend.APIKey)
	rt.Backend.SetUserAgent(UserAgent())
	rt.Backend.SetAccessToken(session.AccessToken)

	transport := opts.Transport
	if transport == nil {
		ws, err := realtime.NewWebSocketTransport(cfg.RealtimeURL(), cfg.Backend.APIKey)
		if err != nil {
			_ = rt.Close()

			return nil, fmt.Errorf("initialize realtime transport: %w", err)
		}
		transport = ws
	}
	rt.Realtime = realtime.NewClient(logMgr.Logger("realtime"), b, transport, realtimeSettings(cfg, session))

	feedOpts := feeds.Options{
		Bus:               b,
		EchoWindow:        cfg.Sync.EchoWindow(),
		ResyncOnReconnect: cfg.Sync.ResyncOnReconnect,
	}
	msgOpts := feedOpts
	msgOpts.Logger = logMgr.Logger("feeds.messages")
	msgOpts.SnapshotLimit = cfg.Sync.CacheMessagesPerConversation
	rt.Messages = feeds.NewMessages(session.UserID, rt.Realtime, rt.Backend, rt.MessageRepo, msgOpts)

	notifOpts := feedOpts
	notifOpts.Logger = logMgr.Logger("feeds.notifications")
	notifOpts.SnapshotLimit = cfg.Sync.CacheNotifications
	rt.Notifications = feeds.NewNotifications(session.UserID, rt.Realtime, rt.Backend, rt.NotificationRepo, notifOpts)

	convOpts := feedOpts
	convOpts.Logger = logMgr.Logger("feeds.conversations")
	rt.Conversations = feeds.NewConversations(session.UserID, rt.Backend, rt.ConversationRepo, convOpts)

	locator := opts.Locator
	if locator == nil {
		locator = configuredLocator(cfg.Presence)
	}
	rt.Presence = presence.NewTracker(logMgr.Logger("presence"), session.UserID, rt.Backend, locator)

	sender := opts.Sender
	if sender == nil {
		sender = notifications.Discard
		if cfg.Notifications.Desktop {
			sender = notifications.NewDesktopSender(logMgr.Logger("notifications.desktop"), "")
		}
	}
	rt.NotificationService = NewNotificationService(b, session.UserID, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))

	return rt, nil
}

// StartLive connects to the realtime server and starts the session-wide
// feeds. Commands that only query the backend skip it.
func (r *Runtime) StartLive() error {
	r.mu.Lock()
	if r.live {
		r.mu.Unlock()

		return nil
	}
	lock, err := platform.AcquireLiveLock(r.Paths.CacheDir)
	switch {
	case errors.Is(err, platform.ErrLiveLockUnsupported):
		slog.Warn("live lock unavailable, continuing without it", "error", err)
	case err != nil:
		r.mu.Unlock()

		return fmt.Errorf("start live updates: %w", err)
	}
	r.liveLock = lock
	r.live = true
	r.mu.Unlock()

	r.NotificationService.Start(r.Ctx)
	r.Conversations.Watch(r.Ctx)
	r.Realtime.Start(r.Ctx)

	if err := r.Conversations.Refresh(r.Ctx); err != nil {
		slog.Warn("initial conversation refresh failed", "error", err)
	}
	if err := r.Notifications.Start(r.Ctx); err != nil {
		return fmt.Errorf("start notifications: %w", err)
	}

	return nil
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

// SaveConfig validates, persists, and applies the logging part of cfg.
// Connection settings take effect on the next start.
func (r *Runtime) SaveConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()

		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	return r.LogManager.Configure(cfg.Logging, r.Paths.LogFile)
}

// ClearCache drops every cached record. Pending cache writes are flushed
// first so they cannot land afterwards.
func (r *Runtime) ClearCache(ctx context.Context) error {
	if r.DB == nil {
		return errors.New("database is not initialized")
	}
	if err := r.flush(ctx); err != nil {
		return err
	}
	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("local cache cleared")

	return nil
}

func (r *Runtime) flush(ctx context.Context) error {
	if r.WriterQueue == nil {
		return nil
	}
	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := r.Projection.Drain(flushCtx); err != nil {
		return fmt.Errorf("drain cache projection: %w", err)
	}
	if err := r.WriterQueue.Flush(flushCtx); err != nil {
		return fmt.Errorf("flush cache writes: %w", err)
	}

	return nil
}

// Close tears the runtime down in reverse start order. Cache writes queued
// before Close are flushed.
func (r *Runtime) Close() error {
	if r.Messages != nil {
		r.Messages.Close()
	}
	if r.Notifications != nil {
		r.Notifications.Close()
	}
	if r.WriterQueue != nil && r.Ctx != nil && r.Ctx.Err() == nil {
		if err := r.flush(context.Background()); err != nil {
			slog.Warn("flush on close", "error", err)
		}
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	r.mu.Lock()
	if r.liveLock != nil {
		if err := r.liveLock.Release(); err != nil {
			slog.Warn("release live lock", "error", err)
		}
		r.liveLock = nil
	}
	r.mu.Unlock()
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}

	return nil
}

func resolveOptionPaths(opts Options) (Paths, error) {
	if opts.Paths != nil {
		return *opts.Paths, nil
	}

	return ResolvePaths()
}

func loadOptionConfig(paths Paths, opts Options) (config.AppConfig, error) {
	var cfg config.AppConfig
	if opts.Config != nil {
		cfg = *opts.Config
		cfg.FillMissingDefaults()
	} else {
		loaded, err := config.Load(paths.ConfigFile)
		if err != nil {
			return config.AppConfig{}, err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, fmt.Errorf("invalid config %s: %w", paths.ConfigFile, err)
	}

	return cfg, nil
}

func realtimeSettings(cfg config.AppConfig, session Session) realtime.Settings {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }

	return realtime.Settings{
		HeartbeatInterval:    ms(cfg.Realtime.HeartbeatIntervalMs),
		ReadTimeout:          ms(cfg.Realtime.ReadTimeoutMs),
		InitialBackoff:       ms(cfg.Realtime.InitialBackoffMs),
		MaxBackoff:           ms(cfg.Realtime.MaxBackoffMs),
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		EventBuffer:          cfg.Realtime.EventBuffer,
		AccessToken:          session.AccessToken,
	}
}

func configuredLocator(cfg config.PresenceConfig) presence.Locator {
	if !cfg.ShareLocation {
		return presence.StaticLocator{Denied: true}
	}

	return presence.StaticLocator{Location: &domain.Location{
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
	}}
}
