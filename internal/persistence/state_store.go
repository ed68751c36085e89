package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/protocol"
)

const stateTimeout = 5 * time.Second

// StateStore adapts the repositories to the protocol engine's synchronous
// state interface.
type StateStore struct {
	contacts *ContactRepo
	channels *ChannelRepo
}

var _ protocol.StateStore = (*StateStore)(nil)

func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{
		contacts: NewContactRepo(db),
		channels: NewChannelRepo(db),
	}
}

func (s *StateStore) Contacts() *ContactRepo {
	return s.contacts
}

func (s *StateStore) SaveContacts(contacts []domain.Contact) error {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	return s.contacts.ReplaceAll(ctx, contacts)
}

func (s *StateStore) LoadContacts() ([]domain.Contact, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	return s.contacts.List(ctx)
}

func (s *StateStore) SaveChannels(channels []domain.Channel) error {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	return s.channels.Replace(ctx, channels)
}

func (s *StateStore) LoadChannels() ([]domain.Channel, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stateTimeout)
	defer cancel()

	return s.channels.List(ctx)
}
