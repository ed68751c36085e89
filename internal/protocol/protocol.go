// Package protocol defines the contract every mesh protocol implementation satisfies
// and a bounded registry used to select one at runtime by id.
package protocol

import (
	"errors"

	"github.com/skobkin/meshola/internal/domain"
)

var (
	ErrNotRunning      = errors.New("protocol not running")
	ErrNotInitialized  = errors.New("protocol not initialized")
	ErrEmptyText       = errors.New("message text is empty")
	ErrUnknownContact  = errors.New("unknown contact")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrInvalidName     = errors.New("invalid name")
	ErrTableFull       = errors.New("table is full")
)

type (
	MessageHandler func(msg domain.Message)
	ContactHandler func(contact domain.Contact, isNew bool)
	StatusHandler  func(status domain.NodeStatus)
	AckHandler     func(ackID uint32, success bool)
	ErrorHandler   func(code int, message string)
)

// Error codes passed to ErrorHandler.
const (
	ErrorCodeRadioRead = iota + 1
	ErrorCodeRadioTransmit
	ErrorCodeRadioReceive
)

// Protocol is a mesh protocol bound to a radio.
//
// Implementations must be safe for concurrent use. Handlers are single-slot (last
// registration wins) and are invoked from the goroutine calling Loop, in the order
// the underlying radio events happened.
type Protocol interface {
	// Init prepares the radio. On failure no partial state is kept and Start must not be called.
	Init(cfg domain.RadioConfig) error
	Start() error
	Stop()
	IsRunning() bool
	// Loop performs one non-blocking unit of work. It is a no-op unless running.
	Loop()

	Info() domain.ProtocolInfo
	HasFeature(feature domain.ProtocolFeature) bool

	NodeName() string
	SetNodeName(name string) error
	PublicKey() domain.PublicKey
	// SetLocalIdentity injects the identity of the active profile.
	SetLocalIdentity(key domain.PublicKey, name string)
	SendAdvertisement() error

	// SendMessage returns a non-zero ack id on success.
	SendMessage(to domain.Contact, text string) (uint32, error)
	SendChannelMessage(channel domain.Channel, text string) error

	// Contact indices are only stable until the next table mutation.
	ContactCount() int
	Contact(index int) (domain.Contact, bool)
	FindContact(key domain.PublicKey) (domain.Contact, bool)
	AddContact(contact domain.Contact) error
	RemoveContact(key domain.PublicKey) bool
	ResetPath(key domain.PublicKey) bool

	ChannelCount() int
	Channel(index int) (domain.Channel, bool)
	SetChannel(index int, channel domain.Channel) error

	RadioConfig() domain.RadioConfig
	// SetRadioConfig stores cfg; implementations document whether it applies without a restart.
	SetRadioConfig(cfg domain.RadioConfig) error
	Status() domain.NodeStatus

	OnMessage(h MessageHandler)
	OnContact(h ContactHandler)
	OnStatus(h StatusHandler)
	OnAck(h AckHandler)
	OnError(h ErrorHandler)

	// SaveState and LoadState persist the contacts/channels cache only.
	SaveState() error
	LoadState() error
}

// StateStore persists a protocol's contact and channel tables between sessions.
type StateStore interface {
	SaveContacts(contacts []domain.Contact) error
	LoadContacts() ([]domain.Contact, error)
	SaveChannels(channels []domain.Channel) error
	LoadChannels() ([]domain.Channel, error)
}

// StateAware is implemented by protocols whose state store is bound after creation.
type StateAware interface {
	SetStateStore(store StateStore)
}

// FindChannel scans p's channel table for id.
func FindChannel(p Protocol, id domain.ChannelID) (domain.Channel, bool) {
	for i := 0; i < p.ChannelCount(); i++ {
		ch, ok := p.Channel(i)
		if ok && ch.ID == id {
			return ch, true
		}
	}

	return domain.Channel{}, false
}

// Contacts snapshots up to limit contacts starting at offset. A limit <= 0 means all.
func Contacts(p Protocol, offset, limit int) []domain.Contact {
	total := p.ContactCount()
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]domain.Contact, 0, end-offset)
	for i := offset; i < end; i++ {
		c, ok := p.Contact(i)
		if !ok {
			break
		}
		out = append(out, c)
	}

	return out
}

func Channels(p Protocol) []domain.Channel {
	total := p.ChannelCount()
	out := make([]domain.Channel, 0, total)
	for i := 0; i < total; i++ {
		if ch, ok := p.Channel(i); ok {
			out = append(out, ch)
		}
	}

	return out
}
