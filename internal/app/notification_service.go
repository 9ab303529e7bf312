package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/veepo/veeposync/internal/bus"
	"github.com/veepo/veeposync/internal/config"
	"github.com/veepo/veeposync/internal/connectors"
	"github.com/veepo/veeposync/internal/domain"
	"github.com/veepo/veeposync/internal/notifications"
)

const notificationTitleConnectionLost = "Realtime connection lost"

var notificationTitles = map[string]string{
	"new_message":  "New message",
	"new_feedback": "New feedback",
	"new_review":   "New review",
}

// NotificationService listens to bus events and emits desktop alerts.
type NotificationService struct {
	bus           bus.MessageBus
	userID        string
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	connStatusMu     sync.Mutex
	lastConnState    connectors.ConnectionState
	lastConnStateSet bool
	wasConnected     bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	userID string,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		userID:        strings.TrimSpace(userID),
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

// Start subscribes before returning, so events published afterwards are
// never missed.
func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	notifSub := s.bus.Subscribe(connectors.TopicNotificationReceived)
	connSub := s.bus.Subscribe(connectors.TopicConnStatus)

	go func() {
		defer bus.Release(s.bus, connSub, connectors.TopicConnStatus)
		defer bus.Release(s.bus, notifSub, connectors.TopicNotificationReceived)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-notifSub:
				if !ok {
					return
				}
				n, ok := raw.(domain.Notification)
				if !ok {
					continue
				}
				s.handleNotification(n)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnectionStatus)
				if !ok {
					continue
				}
				s.handleConnectionStatus(status)
			}
		}
	}()
}

func (s *NotificationService) handleNotification(n domain.Notification) {
	if n.IsRead {
		return
	}
	if s.userID != "" && n.UserID != s.userID {
		return
	}
	if !s.notificationPrefs().NotifyType(n.Type) {
		return
	}

	body := strings.TrimSpace(n.Message)
	if body == "" {
		body = "(empty)"
	}
	s.send(notifications.Payload{
		Title:   notificationTitle(n.Type),
		Content: body,
	})
}

// handleConnectionStatus alerts when an established connection is lost and
// when it comes back. Repeated states and the initial connect are silent.
func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	if status.State == "" {
		return
	}

	s.connStatusMu.Lock()
	if s.lastConnStateSet && s.lastConnState == status.State {
		s.connStatusMu.Unlock()

		return
	}
	s.lastConnState = status.State
	s.lastConnStateSet = true
	wasConnected := s.wasConnected
	if status.State == connectors.ConnectionStateConnected {
		s.wasConnected = true
	}
	s.connStatusMu.Unlock()

	if !s.notificationPrefs().Desktop || !wasConnected {
		return
	}

	switch status.State {
	case connectors.ConnectionStateDisconnected:
		details := "Live updates stopped"
		if errText := strings.TrimSpace(status.Err); errText != "" {
			details = fmt.Sprintf("%s (error: %s)", details, errText)
		}
		s.send(notifications.Payload{Title: notificationTitleConnectionLost, Content: details})
	case connectors.ConnectionStateConnected:
		s.send(notifications.Payload{Title: "Realtime connection restored", Content: "Live updates resumed"})
	}
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}

func notificationTitle(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if title, ok := notificationTitles[kind]; ok {
		return title
	}
	if kind == "" {
		return "Notification"
	}

	return cases.Title(language.Und).String(strings.ReplaceAll(kind, "_", " "))
}
