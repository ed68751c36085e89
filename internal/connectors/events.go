// Package connectors defines the bus topics and event payloads shared between
// the mesh service and its consumers.
package connectors

import (
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

// MessageEvent is published once a message has been written to history.
type MessageEvent struct {
	ProfileID  string
	Message    domain.Message
	IsIncoming bool
	// IsNew is false for status updates of an already published message.
	IsNew bool
}

type ContactEvent struct {
	ProfileID string
	Contact   domain.Contact
	IsNew     bool
}

type ChannelEvent struct {
	ProfileID string
	Channel   domain.Channel
}

// StatusEvent is a snapshot of the radio and protocol tables.
type StatusEvent struct {
	ProfileID    string
	RadioRunning bool
	ProtocolID   string
	ContactCount int
	ChannelCount int
	Node         domain.NodeStatus
	Timestamp    time.Time
}

type AckEvent struct {
	ProfileID string
	AckID     uint32
	Success   bool
	Status    domain.MessageStatus
}

type ErrorEvent struct {
	ProfileID string
	Code      int
	Message   string
	Timestamp time.Time
}

type ProfileEvent struct {
	ProfileID string
	Name      string
	NodeName  string
	PublicKey domain.PublicKey
}
