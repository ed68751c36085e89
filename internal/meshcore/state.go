package meshcore

import (
	"fmt"

	"github.com/skobkin/meshola/internal/domain"
)

// SaveState writes contacts and channels through the configured StateStore.
// Seeded entries are not persisted. Without a store it is a no-op.
func (e *Engine) SaveState() error {
	e.mu.Lock()
	store := e.state
	if store == nil {
		e.mu.Unlock()

		return nil
	}
	contacts := make([]domain.Contact, 0, len(e.contacts))
	for _, c := range e.contacts {
		if !c.IsStatic {
			contacts = append(contacts, c)
		}
	}
	channels := append([]domain.Channel(nil), e.channels...)
	e.mu.Unlock()

	if err := store.SaveContacts(contacts); err != nil {
		return fmt.Errorf("save contacts: %w", err)
	}
	if err := store.SaveChannels(channels); err != nil {
		return fmt.Errorf("save channels: %w", err)
	}
	e.logger.Debug("state saved", "contacts", len(contacts), "channels", len(channels))

	return nil
}

// LoadState merges stored contacts into the table and replaces the channel
// table when any channels were stored.
func (e *Engine) LoadState() error {
	e.mu.Lock()
	store := e.state
	e.mu.Unlock()
	if store == nil {
		return nil
	}

	contacts, err := store.LoadContacts()
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	channels, err := store.LoadChannels()
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range contacts {
		if c.PublicKey.IsZero() {
			continue
		}
		c.IsStatic = false
		if i := e.contactIndexLocked(c.PublicKey); i >= 0 {
			e.contacts[i] = c

			continue
		}
		if len(e.contacts) >= MaxContacts {
			e.logger.Warn("contact table full, stored contacts dropped", "stored", len(contacts))

			break
		}
		e.contacts = append(e.contacts, c)
	}

	if len(channels) > 0 {
		if len(channels) > MaxChannels {
			channels = channels[:MaxChannels]
		}
		e.channels = e.channels[:0]
		for i, ch := range channels {
			ch.Index = uint8(i) // #nosec G115 -- bounded by MaxChannels.
			e.channels = append(e.channels, ch)
		}
	}
	e.logger.Debug("state loaded", "contacts", len(contacts), "channels", len(e.channels))

	return nil
}
