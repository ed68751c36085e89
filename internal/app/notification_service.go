package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/config"
	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/notifications"
)

const (
	notificationTitleNodeDiscovered = "New node discovered"
)

// Directory resolves contact and channel names for notifications.
type Directory interface {
	FindContact(key domain.PublicKey) (domain.Contact, bool)
	FindChannel(id domain.ChannelID) (domain.Channel, bool)
}

// NotificationService listens to bus events and emits user-facing notifications.
type NotificationService struct {
	bus           bus.MessageBus
	directory     Directory
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger
}

func NewNotificationService(
	messageBus bus.MessageBus,
	directory Directory,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		directory:     directory,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	messageSub := s.bus.Subscribe(connectors.TopicMessage)
	contactSub := s.bus.Subscribe(connectors.TopicContact)

	go func() {
		defer s.bus.Unsubscribe(messageSub, connectors.TopicMessage)
		defer s.bus.Unsubscribe(contactSub, connectors.TopicContact)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-messageSub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.MessageEvent)
				if !ok {
					continue
				}
				s.handleMessage(event)
			case raw, ok := <-contactSub:
				if !ok {
					return
				}
				event, ok := raw.(connectors.ContactEvent)
				if !ok {
					continue
				}
				s.handleContact(event)
			}
		}
	}()
}

func (s *NotificationService) handleMessage(event connectors.MessageEvent) {
	if !event.IsIncoming || !event.IsNew || !s.enabled() {
		return
	}
	msg := event.Message

	senderName := s.senderName(msg)
	body := strings.TrimSpace(msg.Text)
	if body == "" {
		body = "(empty)"
	}

	title := "@" + senderName
	if msg.IsChannel {
		title = "#" + s.channelName(msg.ChannelID)
	}

	s.send(notifications.Payload{
		Kind:    notifications.KindMessage,
		Title:   title,
		Content: fmt.Sprintf("%s: %s", senderName, body),
	})
}

func (s *NotificationService) handleContact(event connectors.ContactEvent) {
	if !event.IsNew || event.Contact.IsStatic || !s.enabled() {
		return
	}
	s.send(notifications.Payload{
		Kind:    notifications.KindNodeDiscovered,
		Title:   notificationTitleNodeDiscovered,
		Content: nodeDiscoveredContent(event.Contact),
	})
}

func (s *NotificationService) enabled() bool {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications.Enabled
}

func (s *NotificationService) senderName(msg domain.Message) string {
	if s.directory != nil && !msg.SenderKey.IsZero() {
		if c, ok := s.directory.FindContact(msg.SenderKey); ok {
			return domain.ContactDisplayName(c)
		}
	}
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}

	return "unknown"
}

func (s *NotificationService) channelName(id domain.ChannelID) string {
	if s.directory != nil {
		if ch, ok := s.directory.FindChannel(id); ok && strings.TrimSpace(ch.Name) != "" {
			return ch.Name
		}
	}

	return id.String()[:8]
}

func (s *NotificationService) send(notification notifications.Payload) {
	notification, ok := notification.Normalized()
	if !ok {
		return
	}
	s.logger.Debug("sending notification", "kind", notification.Kind.String(), "title", notification.Title)
	s.sender.Send(notification)
}

func nodeDiscoveredContent(c domain.Contact) string {
	name := domain.ContactDisplayName(c)
	short := c.PublicKey.Short()
	if name == short {
		return short
	}

	return fmt.Sprintf("[%s] %s", short, name)
}
