package profile

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skobkin/meshola/internal/domain"
)

type Option func(*Manager)

func WithKeyGenerator(g KeyGenerator) Option {
	return func(m *Manager) {
		m.keys = g
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// Manager owns the profile list and the active selection. The switch callback
// is invoked without internal locks held.
type Manager struct {
	base   string
	logger *slog.Logger
	keys   KeyGenerator
	now    func() time.Time
	newID  func() string

	mu          sync.Mutex
	initialized bool
	profiles    []Profile
	activeID    string
	onSwitch    func(Profile)
}

func NewManager(base string, opts ...Option) *Manager {
	m := &Manager{
		base:   base,
		logger: slog.Default(),
		keys:   Ed25519Keys{},
		now:    time.Now,
		newID:  newProfileID,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// newProfileID returns 16 hex characters taken from a random UUID.
func newProfileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Init loads stored profiles, creating a default one when none can be loaded.
// Calling it again is a no-op.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	list, found, err := m.readList()
	if err != nil {
		return err
	}
	if found {
		for _, entry := range list.Profiles {
			if validateID(entry.ID) != nil {
				m.logger.Warn("skipping profile with invalid id", "id", entry.ID)

				continue
			}
			p, err := m.readProfile(entry.ID)
			if err != nil {
				m.logger.Warn("skipping unreadable profile", "id", entry.ID, "error", err)

				continue
			}
			if len(m.profiles) >= MaxProfiles {
				break
			}
			m.profiles = append(m.profiles, p)
		}
	}

	if len(m.profiles) == 0 {
		p, err := m.newProfileLocked(DefaultName)
		if err != nil {
			return err
		}
		m.profiles = append(m.profiles, p)
		m.activeID = p.ID
		if err := m.writeProfile(p); err != nil {
			return err
		}
		if err := m.writeListLocked(); err != nil {
			return err
		}
		m.logger.Info("created default profile", "id", p.ID)
	} else {
		m.activeID = list.ActiveProfileID
		if m.indexLocked(m.activeID) < 0 {
			m.activeID = m.profiles[0].ID
		}
	}
	m.initialized = true
	m.logger.Info("profiles loaded", "count", len(m.profiles), "active", m.activeID)

	return nil
}

// OnSwitch registers the single callback fired after the active profile changes.
func (m *Manager) OnSwitch(fn func(Profile)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwitch = fn
}

func (m *Manager) Active() (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(m.activeID)
	if i < 0 {
		return Profile{}, false
	}

	return m.profiles[i].clone(), true
}

func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeID
}

func (m *Manager) Profiles() []Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p.clone())
	}

	return out
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.profiles)
}

func (m *Manager) ByID(id string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return Profile{}, false
	}

	return m.profiles[i].clone(), true
}

func (m *Manager) ByName(name string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.profiles {
		if p.Name == name {
			return p.clone(), true
		}
	}

	return Profile{}, false
}

func (m *Manager) Create(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, ErrInvalidName
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return Profile{}, ErrNotInitialized
	}
	if len(m.profiles) >= MaxProfiles {
		return Profile{}, ErrMaxProfiles
	}
	p, err := m.newProfileLocked(name)
	if err != nil {
		return Profile{}, err
	}
	if err := m.writeProfile(p); err != nil {
		return Profile{}, err
	}
	profiles := append(append(make([]Profile, 0, len(m.profiles)+1), m.profiles...), p)
	if err := m.writeList(m.activeID, profiles); err != nil {
		m.removeDirLocked(p.ID)

		return Profile{}, err
	}
	m.profiles = profiles
	m.logger.Info("profile created", "id", p.ID, "name", p.Name)

	return p.clone(), nil
}

// Delete removes a profile and its directory. Deleting the active profile
// switches to another one first.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()

	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()

		return ErrNotFound
	}
	if len(m.profiles) == 1 {
		m.mu.Unlock()

		return ErrLastProfile
	}

	remaining := make([]Profile, 0, len(m.profiles)-1)
	remaining = append(remaining, m.profiles[:i]...)
	remaining = append(remaining, m.profiles[i+1:]...)
	activeID := m.activeID

	var switched *Profile
	if id == m.activeID {
		// Index 1 takes over when index 0 is deleted, index 0 otherwise.
		next, err := m.touchLocked(remaining[0])
		if err != nil {
			m.mu.Unlock()

			return err
		}
		remaining[0] = next
		activeID = next.ID
		switched = &next
	}

	if err := m.writeList(activeID, remaining); err != nil {
		if switched != nil {
			m.restoreProfileLocked(switched.ID)
		}
		m.mu.Unlock()

		return err
	}
	m.profiles = remaining
	m.activeID = activeID
	m.removeDirLocked(id)
	cb := m.onSwitch
	m.mu.Unlock()

	m.logger.Info("profile deleted", "id", id)
	if switched != nil && cb != nil {
		cb(switched.clone())
	}

	return nil
}

// SwitchTo activates id. Switching to the already active profile does nothing.
func (m *Manager) SwitchTo(id string) error {
	m.mu.Lock()

	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()

		return ErrNotFound
	}
	if id == m.activeID {
		m.mu.Unlock()

		return nil
	}
	if prev := m.indexLocked(m.activeID); prev >= 0 {
		if err := m.writeProfile(m.profiles[prev]); err != nil {
			m.logger.Warn("failed to save outgoing profile", "id", m.activeID, "error", err)
		}
	}
	next, err := m.touchLocked(m.profiles[i])
	if err != nil {
		m.mu.Unlock()

		return err
	}
	if err := m.writeList(next.ID, m.profiles); err != nil {
		m.restoreProfileLocked(next.ID)
		m.mu.Unlock()

		return err
	}
	m.profiles[i] = next
	m.activeID = next.ID
	p := next.clone()
	cb := m.onSwitch
	m.mu.Unlock()

	m.logger.Info("switched profile", "id", p.ID, "name", p.Name)
	if cb != nil {
		cb(p)
	}

	return nil
}

// Update persists edits to an existing profile. Identity, keys and creation
// time are kept from the stored profile.
func (m *Manager) Update(p Profile) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrInvalidName
	}
	if err := p.Radio.Validate(); err != nil {
		return err
	}
	if len(p.Settings) > MaxProtocolSettings {
		return fmt.Errorf("%w: at most %d settings", ErrInvalidSetting, MaxProtocolSettings)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(p.ID)
	if i < 0 {
		return ErrNotFound
	}
	cur := m.profiles[i]
	cur.Name = p.Name
	cur.Radio = p.Radio
	if name := domain.BoundedName(p.NodeName); name != "" {
		cur.NodeName = name
	}
	if p.ProtocolID != "" {
		cur.ProtocolID = p.ProtocolID
	}
	cur.Settings = append([]Setting(nil), p.Settings...)

	if err := m.writeProfile(cur); err != nil {
		return err
	}
	m.profiles[i] = cur

	return m.writeListLocked()
}

func (m *Manager) Rename(id, name string) error {
	p, ok := m.ByID(id)
	if !ok {
		return ErrNotFound
	}
	p.Name = name

	return m.Update(p)
}

// RegenerateKeys replaces the identity keys of id.
func (m *Manager) RegenerateKeys(id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return Profile{}, ErrNotFound
	}
	pub, priv, err := m.keys.Generate()
	if err != nil {
		return Profile{}, err
	}
	p := m.profiles[i]
	p.PublicKey = pub
	p.PrivateKey = priv
	p.HasKeys = true
	if err := m.writeProfile(p); err != nil {
		return Profile{}, err
	}
	m.profiles[i] = p

	return p.clone(), nil
}

// touchLocked stamps p as used now and saves its config. The in-memory
// profile is left alone until the list write succeeds.
func (m *Manager) touchLocked(p Profile) (Profile, error) {
	p.LastUsedAt = m.now()
	if err := m.writeProfile(p); err != nil {
		return Profile{}, err
	}

	return p, nil
}

// restoreProfileLocked rewrites the stored config of id from memory after a
// failed activation.
func (m *Manager) restoreProfileLocked(id string) {
	i := m.indexLocked(id)
	if i < 0 {
		return
	}
	if err := m.writeProfile(m.profiles[i]); err != nil {
		m.logger.Warn("failed to restore profile config", "id", id, "error", err)
	}
}

func (m *Manager) removeDirLocked(id string) {
	if err := os.RemoveAll(m.profileDir(id)); err != nil {
		m.logger.Warn("failed to remove profile dir", "id", id, "error", err)
	}
}

func (m *Manager) newProfileLocked(name string) (Profile, error) {
	id := m.newID()
	for m.indexLocked(id) >= 0 || validateID(id) != nil {
		id = newProfileID()
	}
	pub, priv, err := m.keys.Generate()
	if err != nil {
		return Profile{}, err
	}
	now := m.now()

	return Profile{
		ID:         id,
		Name:       name,
		CreatedAt:  now,
		LastUsedAt: now,
		ProtocolID: DefaultProtocolID,
		Radio:      domain.DefaultRadioConfig(),
		NodeName:   domain.NodeNameWithSuffix(binary.BigEndian.Uint16(pub[:2])),
		PublicKey:  pub,
		PrivateKey: priv,
		HasKeys:    true,
	}, nil
}

func (m *Manager) indexLocked(id string) int {
	for i := range m.profiles {
		if m.profiles[i].ID == id {
			return i
		}
	}

	return -1
}

func validateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid profile id %q", id)
	}

	return nil
}
