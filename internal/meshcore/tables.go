package meshcore

import (
	"errors"
	"fmt"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/protocol"
)

var ErrDuplicateChannel = errors.New("channel id already configured")

func (e *Engine) ContactCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.contacts)
}

func (e *Engine) Contact(index int) (domain.Contact, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.contacts) {
		return domain.Contact{}, false
	}

	return e.viewLocked(e.contacts[index]), true
}

func (e *Engine) FindContact(key domain.PublicKey) (domain.Contact, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.contactIndexLocked(key)
	if i < 0 {
		return domain.Contact{}, false
	}

	return e.viewLocked(e.contacts[i]), true
}

// AddContact inserts contact or replaces the entry with the same key.
func (e *Engine) AddContact(contact domain.Contact) error {
	if contact.PublicKey.IsZero() && !contact.IsStatic {
		return fmt.Errorf("%w: contact key is empty", protocol.ErrInvalidName)
	}
	contact.Name = domain.BoundedName(contact.Name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if i := e.contactIndexLocked(contact.PublicKey); i >= 0 {
		e.contacts[i] = contact

		return nil
	}
	if len(e.contacts) >= MaxContacts {
		return fmt.Errorf("%w: %d contacts", protocol.ErrTableFull, MaxContacts)
	}
	e.contacts = append(e.contacts, contact)

	return nil
}

func (e *Engine) RemoveContact(key domain.PublicKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.contactIndexLocked(key)
	if i < 0 {
		return false
	}
	e.contacts = append(e.contacts[:i], e.contacts[i+1:]...)

	return true
}

func (e *Engine) ResetPath(key domain.PublicKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.contactIndexLocked(key)
	if i < 0 {
		return false
	}
	e.contacts[i].HasPath = false
	e.contacts[i].PathLength = 0

	return true
}

func (e *Engine) ChannelCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.channels)
}

func (e *Engine) Channel(index int) (domain.Channel, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.channels) {
		return domain.Channel{}, false
	}

	return e.channels[index], true
}

// SetChannel replaces the channel at index, or appends when index equals the
// current count.
func (e *Engine) SetChannel(index int, channel domain.Channel) error {
	name := domain.BoundedText(channel.Name, domain.MaxChannelNameLen-1)
	if name == "" {
		return fmt.Errorf("%w: channel name is empty", protocol.ErrInvalidName)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index > len(e.channels) || index >= MaxChannels {
		return fmt.Errorf("%w: channel index %d", protocol.ErrIndexOutOfRange, index)
	}
	for i, ch := range e.channels {
		if i != index && ch.ID == channel.ID {
			return fmt.Errorf("%w: at index %d", ErrDuplicateChannel, i)
		}
	}

	channel.Name = name
	channel.Index = uint8(index) // #nosec G115 -- bounded by MaxChannels.
	if index == len(e.channels) {
		e.channels = append(e.channels, channel)
	} else {
		e.channels[index] = channel
	}

	return nil
}

func (e *Engine) contactIndexLocked(key domain.PublicKey) int {
	for i := range e.contacts {
		if e.contacts[i].PublicKey == key {
			return i
		}
	}

	return -1
}

// viewLocked returns a copy of c with the online flag aged out.
func (e *Engine) viewLocked(c domain.Contact) domain.Contact {
	if !c.IsStatic && c.IsOnline && e.now().Sub(c.LastSeen) > onlineWindow {
		c.IsOnline = false
	}

	return c
}
