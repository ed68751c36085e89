package notifications

import (
	"log/slog"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows notifications through the OS notification service.
type DesktopSender struct {
	logger *slog.Logger
	notify func(title, content string) error
}

func NewDesktopSender(appName string, logger *slog.Logger) *DesktopSender {
	if logger == nil {
		logger = slog.Default()
	}
	if appName = strings.TrimSpace(appName); appName != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{
		logger: logger,
		notify: func(title, content string) error {
			return beeep.Notify(title, content, "")
		},
	}
}

func (s *DesktopSender) Send(payload Payload) {
	if s == nil || s.notify == nil {
		return
	}

	payload, ok := payload.Normalized()
	if !ok {
		return
	}
	if err := s.notify(payload.Title, payload.Content); err != nil {
		s.logger.Warn("desktop notification failed", "kind", payload.Kind.String(), "error", err)
	}
}
