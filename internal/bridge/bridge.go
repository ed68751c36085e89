// Package bridge mirrors mesh events from the local bus onto NATS subjects.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/connectors"
)

const (
	SubjectMessage = "message"
	SubjectContact = "contact"
	SubjectStatus  = "status"
	SubjectAck     = "ack"

	reconnectWait = 2 * time.Second
)

var bridgedTopics = []string{
	connectors.TopicMessage,
	connectors.TopicContact,
	connectors.TopicStatus,
	connectors.TopicAck,
}

// Publisher is the part of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials a NATS server with reconnects enabled.
func Connect(url, clientName string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(clientName),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return nc, nil
}

// Bridge republishes bus events as JSON on <prefix>.<profileID>.<kind>.
type Bridge struct {
	bus    bus.MessageBus
	pub    Publisher
	prefix string
	logger *slog.Logger
}

type envelope struct {
	ProfileID string `json:"profileId"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload"`
}

type messagePayload struct {
	connectors.MessageView
	IsIncoming bool `json:"isIncoming"`
}

type contactPayload struct {
	connectors.ContactView
	IsNew bool `json:"isNew"`
}

func New(messageBus bus.MessageBus, pub Publisher, prefix string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default().With("component", "bridge")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "meshola"
	}

	return &Bridge{
		bus:    messageBus,
		pub:    pub,
		prefix: prefix,
		logger: logger,
	}
}

// Start forwards events until ctx is done. It returns immediately.
func (b *Bridge) Start(ctx context.Context) {
	sub := b.bus.Subscribe(bridgedTopics...)

	go func() {
		defer b.bus.Unsubscribe(sub, bridgedTopics...)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				b.forward(raw)
			}
		}
	}()
}

func (b *Bridge) forward(raw any) {
	var (
		profileID string
		kind      string
		payload   any
	)
	switch ev := raw.(type) {
	case connectors.MessageEvent:
		if !ev.IsNew {
			return
		}
		profileID, kind = ev.ProfileID, SubjectMessage
		payload = messagePayload{MessageView: connectors.NewMessageView(ev.Message), IsIncoming: ev.IsIncoming}
	case connectors.ContactEvent:
		profileID, kind = ev.ProfileID, SubjectContact
		payload = contactPayload{ContactView: connectors.NewContactView(ev.Contact), IsNew: ev.IsNew}
	case connectors.StatusEvent:
		profileID, kind = ev.ProfileID, SubjectStatus
		payload = connectors.NewStatusView(ev)
	case connectors.AckEvent:
		profileID, kind = ev.ProfileID, SubjectAck
		payload = connectors.NewAckView(ev)
	default:
		return
	}

	data, err := json.Marshal(envelope{ProfileID: profileID, Kind: kind, Payload: payload})
	if err != nil {
		b.logger.Error("marshal bridged event", "kind", kind, "error", err)

		return
	}
	subject := b.Subject(profileID, kind)
	if err := b.pub.Publish(subject, data); err != nil {
		b.logger.Warn("publish bridged event", "subject", subject, "error", err)

		return
	}
	b.logger.Debug("bridged event", "subject", subject, "bytes", len(data))
}

func (b *Bridge) Subject(profileID, kind string) string {
	if profileID == "" {
		profileID = "_"
	}

	return b.prefix + "." + profileID + "." + kind
}
