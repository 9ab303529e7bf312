package notifications

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/beeep"
)

type notifyFunc func(title, message, icon string) error

// DesktopSender shows native desktop notifications.
type DesktopSender struct {
	logger *slog.Logger
	icon   string
	notify notifyFunc

	mu       sync.Mutex
	failures int
}

func NewDesktopSender(logger *slog.Logger, icon string) *DesktopSender {
	if logger == nil {
		logger = slog.Default().With("component", "notifications.desktop")
	}

	return &DesktopSender{
		logger: logger,
		icon:   icon,
		notify: func(title, message, icon string) error {
			return beeep.Notify(title, message, icon)
		},
	}
}

func (s *DesktopSender) Send(payload Payload) {
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return
	}

	if err := s.notify(title, content, s.icon); err != nil {
		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()
		// Headless sessions fail on every call; report only the first one loudly.
		if failures == 1 {
			s.logger.Warn("desktop notification failed", "error", err)
		} else {
			s.logger.Debug("desktop notification failed", "error", err, "failures", failures)
		}
	}
}

// Failures returns how many notifications could not be shown.
func (s *DesktopSender) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures
}
