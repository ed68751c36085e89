package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/persistence"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/store"
)

var (
	ErrNotStarted     = errors.New("service not started")
	ErrUnknownChannel = errors.New("unknown channel")
)

// ServiceState describes the radio lifecycle of the Service.
type ServiceState int32

const (
	ServiceStopped ServiceState = iota
	ServiceStarting
	ServiceRunning
	ServiceStopping
)

func (s ServiceState) String() string {
	switch s {
	case ServiceStarting:
		return "starting"
	case ServiceRunning:
		return "running"
	case ServiceStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type ServiceConfig struct {
	DataDir      string
	LoopInterval time.Duration
	// Autostart starts the radio at the end of Start.
	Autostart bool
}

// Service coordinates profiles, message history and the active protocol.
//
// Lifecycle operations (start, stop, profile switch, radio restart) are
// serialized by opMu. mu guards the session pointer together with the store
// scope, so readers holding it see a consistent profile.
type Service struct {
	logger   *slog.Logger
	bus      bus.MessageBus
	profiles *profile.Manager
	store    *store.Store
	registry *protocol.Registry
	cfg      ServiceConfig
	now      func() time.Time

	opMu        sync.Mutex
	radioCancel context.CancelFunc
	radioDone   chan struct{}
	switchErr   error

	mu   sync.RWMutex
	sess *session

	state atomic.Int32
}

func NewService(
	cfg ServiceConfig,
	profiles *profile.Manager,
	messages *store.Store,
	registry *protocol.Registry,
	messageBus bus.MessageBus,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default().With("component", "app.service")
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = 10 * time.Millisecond
	}

	return &Service{
		logger:   logger,
		bus:      messageBus,
		profiles: profiles,
		store:    messages,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start loads profiles, opens the active profile session and optionally starts the radio.
func (s *Service) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.current() != nil {
		return nil
	}
	if err := s.profiles.Init(); err != nil {
		return fmt.Errorf("init profiles: %w", err)
	}
	s.profiles.OnSwitch(s.onProfileSwitch)

	active, ok := s.profiles.Active()
	if !ok {
		return profile.ErrNotInitialized
	}
	sess, err := s.openSession(ctx, active)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.store.SetActiveProfile(active.ID); err != nil {
		s.mu.Unlock()
		_ = sess.close()

		return fmt.Errorf("scope message store: %w", err)
	}
	s.sess = sess
	s.mu.Unlock()

	s.publishProfile(active)
	s.logger.Info("service started", "profile", active.ID, "name", active.Name)

	if s.cfg.Autostart {
		return s.startRadioLocked()
	}
	s.publishStatus(sess)

	return nil
}

// Close stops the radio and closes the active session.
func (s *Service) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopRadioLocked()

	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()

	if sess == nil {
		return nil
	}

	return sess.close()
}

func (s *Service) State() ServiceState {
	return ServiceState(s.state.Load())
}

func (s *Service) StartRadio() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.startRadioLocked()
}

func (s *Service) StopRadio() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopRadioLocked()
}

func (s *Service) startRadioLocked() error {
	sess := s.current()
	if sess == nil {
		return ErrNotStarted
	}
	if s.radioCancel != nil {
		return nil
	}

	s.state.Store(int32(ServiceStarting))
	if err := sess.proto.Init(sess.profile.Radio); err != nil {
		s.state.Store(int32(ServiceStopped))

		return fmt.Errorf("init radio: %w", err)
	}
	if err := sess.proto.Start(); err != nil {
		s.state.Store(int32(ServiceStopped))

		return fmt.Errorf("start radio: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.radioCancel = cancel
	s.radioDone = done
	go s.runMesh(ctx, sess.proto, done)

	s.state.Store(int32(ServiceRunning))
	sess.logger.Info("radio started")
	s.publishStatus(sess)

	return nil
}

func (s *Service) stopRadioLocked() {
	if s.radioCancel == nil {
		return
	}

	s.state.Store(int32(ServiceStopping))
	s.radioCancel()
	<-s.radioDone
	s.radioCancel = nil
	s.radioDone = nil

	if sess := s.current(); sess != nil {
		sess.proto.Stop()
		sess.logger.Info("radio stopped")
		s.publishStatus(sess)
	}
	s.state.Store(int32(ServiceStopped))
}

// runMesh drives the protocol until ctx is cancelled.
func (s *Service) runMesh(ctx context.Context, proto protocol.Protocol, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		proto.Loop()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) current() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sess
}

// onProfileSwitch runs from profile.Manager.SwitchTo, always with opMu held.
// The new session is opened before the old one is torn down, so a failure
// leaves the previous profile running.
func (s *Service) onProfileSwitch(p profile.Profile) {
	old := s.current()
	if old == nil || old.profile.ID == p.ID {
		return
	}

	next, err := s.openSession(context.Background(), p)
	if err != nil {
		s.logger.Error("open profile session", "profile", p.ID, "error", err)
		s.switchErr = err

		return
	}

	wasRunning := s.radioCancel != nil
	s.stopRadioLocked()

	s.mu.Lock()
	if err := s.store.SetActiveProfile(p.ID); err != nil {
		s.mu.Unlock()
		s.logger.Error("scope message store", "profile", p.ID, "error", err)
		s.switchErr = err
		_ = next.close()
		if wasRunning {
			if err := s.startRadioLocked(); err != nil {
				s.logger.Error("restart radio", "error", err)
			}
		}

		return
	}
	s.sess = next
	s.mu.Unlock()

	if err := old.close(); err != nil {
		s.logger.Warn("close previous session", "profile", old.profile.ID, "error", err)
	}
	s.publishProfile(p)

	if wasRunning {
		if err := s.startRadioLocked(); err != nil {
			s.logger.Error("restart radio after profile switch", "profile", p.ID, "error", err)
			s.publishError(next, protocol.ErrorCodeRadioReceive, err.Error())
		}
	} else {
		s.publishStatus(next)
	}
}

// SwitchProfile activates the profile with the given id or name.
func (s *Service) SwitchProfile(ref string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.switchLocked(s.resolveProfileID(ref))
}

// resolveProfileID maps a profile name to its id. Ids win over names.
func (s *Service) resolveProfileID(ref string) string {
	if _, ok := s.profiles.ByID(ref); ok {
		return ref
	}
	if p, ok := s.profiles.ByName(ref); ok {
		return p.ID
	}

	return ref
}

func (s *Service) switchLocked(id string) error {
	prev := s.profiles.ActiveID()
	s.switchErr = nil
	if err := s.profiles.SwitchTo(id); err != nil {
		return err
	}

	err := s.switchErr
	s.switchErr = nil
	if err == nil {
		return nil
	}
	// The session still belongs to prev, so switching back is only bookkeeping.
	if rerr := s.profiles.SwitchTo(prev); rerr != nil {
		s.logger.Error("revert active profile", "profile", prev, "error", rerr)
	}

	return fmt.Errorf("switch profile: %w", err)
}

func (s *Service) ActiveProfile() (profile.Profile, bool) {
	return s.profiles.Active()
}

func (s *Service) Profiles() []profile.Profile {
	return s.profiles.Profiles()
}

func (s *Service) CreateProfile(name string) (profile.Profile, error) {
	return s.profiles.Create(name)
}

// DeleteProfile removes a profile by id or name, switching away from it
// first when it is active.
func (s *Service) DeleteProfile(ref string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	id := s.resolveProfileID(ref)
	if id == s.profiles.ActiveID() {
		list := s.profiles.Profiles()
		if len(list) <= 1 {
			return profile.ErrLastProfile
		}
		next := list[0].ID
		if next == id {
			next = list[1].ID
		}
		if err := s.switchLocked(next); err != nil {
			return err
		}
	}

	return s.profiles.Delete(id)
}

func (s *Service) RenameProfile(ref, name string) (profile.Profile, error) {
	id := s.resolveProfileID(ref)
	if err := s.profiles.Rename(id, name); err != nil {
		return profile.Profile{}, err
	}
	p, _ := s.profiles.ByID(id)

	return p, nil
}

// RegenerateProfileKeys replaces the identity keys of a profile. The running
// protocol takes the new identity at once when the profile is active.
func (s *Service) RegenerateProfileKeys(ref string) (profile.Profile, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	p, err := s.profiles.RegenerateKeys(s.resolveProfileID(ref))
	if err != nil {
		return profile.Profile{}, err
	}

	s.mu.Lock()
	sess := s.sess
	if sess != nil && sess.profile.ID == p.ID {
		// Handlers read sess.profile.ID concurrently, so only the key fields change.
		sess.profile.PublicKey = p.PublicKey
		sess.profile.PrivateKey = p.PrivateKey
		sess.profile.HasKeys = p.HasKeys
	} else {
		sess = nil
	}
	s.mu.Unlock()
	if sess != nil {
		sess.proto.SetLocalIdentity(p.PublicKey, p.NodeName)
		sess.logger.Info("identity keys regenerated", "key", p.PublicKey.Short())
	}

	return p, nil
}

func (s *Service) Contacts(offset, limit int) []domain.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sess == nil {
		return nil
	}

	return protocol.Contacts(s.sess.proto, offset, limit)
}

func (s *Service) Channels() []domain.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sess == nil {
		return nil
	}

	return protocol.Channels(s.sess.proto)
}

// Protocols lists the registered protocol implementations in registration order.
func (s *Service) Protocols() []protocol.Entry {
	return s.registry.Entries()
}

func (s *Service) FindContact(key domain.PublicKey) (domain.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sess == nil {
		return domain.Contact{}, false
	}

	return s.sess.proto.FindContact(key)
}

func (s *Service) FindChannel(id domain.ChannelID) (domain.Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.sess == nil {
		return domain.Channel{}, false
	}

	return protocol.FindChannel(s.sess.proto, id)
}

// ContactHistory returns the last max messages exchanged with key; 0 means all.
func (s *Service) ContactHistory(key domain.PublicKey, max int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.LoadContactMessages(key, max)
}

// ConversationSummary describes one stored conversation of the active profile.
type ConversationSummary struct {
	Key       string
	Contact   domain.PublicKey
	Channel   domain.ChannelID
	IsChannel bool
	Count     int
}

// Conversations lists the stored conversations of the active profile with
// their message counts.
func (s *Service) Conversations() ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys, err := s.store.Conversations()
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(keys))
	for _, key := range keys {
		sum := ConversationSummary{Key: key}
		if id, ok := domain.ChannelIDFromConversation(key); ok {
			sum.Channel = id
			sum.IsChannel = true
			sum.Count, err = s.store.ChannelMessageCount(id)
		} else if pk, ok := domain.ContactKeyFromConversation(key); ok {
			sum.Contact = pk
			sum.Count, err = s.store.ContactMessageCount(pk)
		}
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", key, err)
		}
		out = append(out, sum)
	}

	return out, nil
}

func (s *Service) ChannelHistory(id domain.ChannelID, max int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.LoadChannelMessages(id, max)
}

// ClearHistory deletes every stored message of the active profile.
func (s *Service) ClearHistory() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.DeleteAllMessages()
}

// SendDirect sends text to a known contact and records it as sent.
// Nothing is stored when the protocol rejects the message.
func (s *Service) SendDirect(key domain.PublicKey, text string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if sess == nil {
		return 0, ErrNotStarted
	}
	contact, ok := sess.proto.FindContact(key)
	if !ok {
		return 0, protocol.ErrUnknownContact
	}
	ackID, err := sess.proto.SendMessage(contact, text)
	if err != nil {
		return 0, err
	}

	msg := domain.Message{
		SenderKey:    sess.proto.PublicKey(),
		RecipientKey: key,
		SenderName:   sess.proto.NodeName(),
		Text:         text,
		Timestamp:    domain.MessageTime(s.now()),
		AckID:        ackID,
		Status:       domain.MessageStatusSent,
		IsOutgoing:   true,
	}
	sess.trackAck(ackID)
	if err := s.recordOutgoing(sess, msg); err != nil {
		return ackID, err
	}

	return ackID, nil
}

func (s *Service) SendChannel(id domain.ChannelID, text string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if sess == nil {
		return ErrNotStarted
	}
	ch, ok := protocol.FindChannel(sess.proto, id)
	if !ok {
		return ErrUnknownChannel
	}
	if err := sess.proto.SendChannelMessage(ch, text); err != nil {
		return err
	}

	return s.recordOutgoing(sess, domain.Message{
		SenderKey:  sess.proto.PublicKey(),
		ChannelID:  id,
		SenderName: sess.proto.NodeName(),
		Text:       text,
		Timestamp:  domain.MessageTime(s.now()),
		Status:     domain.MessageStatusSent,
		IsChannel:  true,
		IsOutgoing: true,
	})
}

func (s *Service) recordOutgoing(sess *session, msg domain.Message) error {
	if err := s.store.AppendMessage(msg); err != nil {
		sess.logger.Error("store outgoing message", "conversation", msg.ConversationKey(), "error", err)

		return fmt.Errorf("store message: %w", err)
	}
	s.bus.Publish(connectors.TopicMessage, connectors.MessageEvent{
		ProfileID:  sess.profile.ID,
		Message:    msg,
		IsIncoming: false,
		IsNew:      true,
	})

	return nil
}

func (s *Service) SendAdvertisement() error {
	sess := s.current()
	if sess == nil {
		return ErrNotStarted
	}

	return sess.proto.SendAdvertisement()
}

func (s *Service) SetContactFavorite(key domain.PublicKey, favorite bool) (domain.Contact, error) {
	return s.updateContact(key, func(c *domain.Contact) {
		c.IsFavorite = favorite
	})
}

// PromoteContact turns a discovered peer into a saved contact.
func (s *Service) PromoteContact(key domain.PublicKey) (domain.Contact, error) {
	return s.updateContact(key, func(c *domain.Contact) {
		c.IsDiscovered = false
		if c.Role == domain.ContactRoleUnknown {
			c.Role = domain.ContactRoleCompanion
		}
	})
}

func (s *Service) updateContact(key domain.PublicKey, edit func(*domain.Contact)) (domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if sess == nil {
		return domain.Contact{}, ErrNotStarted
	}
	c, ok := sess.proto.FindContact(key)
	if !ok || c.IsStatic {
		return domain.Contact{}, protocol.ErrUnknownContact
	}
	edit(&c)
	if err := sess.proto.AddContact(c); err != nil {
		return domain.Contact{}, err
	}
	sess.persistContact(c)
	s.bus.Publish(connectors.TopicContact, connectors.ContactEvent{
		ProfileID: sess.profile.ID,
		Contact:   c,
	})

	return c, nil
}

// RemoveContact drops key from the contact table. Its history is kept.
func (s *Service) RemoveContact(key domain.PublicKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if sess == nil {
		return ErrNotStarted
	}
	if c, ok := sess.proto.FindContact(key); !ok || c.IsStatic {
		return protocol.ErrUnknownContact
	}
	sess.proto.RemoveContact(key)
	sess.forgetContact(key)

	return nil
}

// SetChannel stores a channel slot and publishes the change.
func (s *Service) SetChannel(index int, ch domain.Channel) (domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sess
	if sess == nil {
		return domain.Channel{}, ErrNotStarted
	}
	if err := sess.proto.SetChannel(index, ch); err != nil {
		return domain.Channel{}, err
	}
	stored, _ := sess.proto.Channel(index)
	sess.persistChannels()
	s.bus.Publish(connectors.TopicChannel, connectors.ChannelEvent{
		ProfileID: sess.profile.ID,
		Channel:   stored,
	})

	return stored, nil
}

// ResetState forgets every learned contact and stored channel of the active profile.
func (s *Service) ResetState(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess := s.current()
	if sess == nil {
		return ErrNotStarted
	}
	for _, c := range protocol.Contacts(sess.proto, 0, 0) {
		if !c.IsStatic {
			sess.proto.RemoveContact(c.PublicKey)
		}
	}
	if err := sess.writer.Wait(ctx); err != nil {
		return fmt.Errorf("flush writes: %w", err)
	}
	removed, err := persistence.ClearDatabase(ctx, sess.db)
	if err != nil {
		return err
	}
	sess.logger.Info("protocol state cleared", "rows", removed)
	if err := sess.proto.SaveState(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.publishStatus(sess)

	return nil
}

func (s *Service) RadioConfig() domain.RadioConfig {
	if sess := s.current(); sess != nil {
		return sess.proto.RadioConfig()
	}
	if p, ok := s.profiles.Active(); ok {
		return p.Radio
	}

	return domain.DefaultRadioConfig()
}

// SetRadioConfig persists cfg to the active profile and restarts a running radio to apply it.
func (s *Service) SetRadioConfig(cfg domain.RadioConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	sess := s.current()
	if sess == nil {
		return ErrNotStarted
	}
	p, ok := s.profiles.ByID(sess.profile.ID)
	if !ok {
		return profile.ErrNotFound
	}
	p.Radio = cfg
	if err := s.profiles.Update(p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if err := sess.proto.SetRadioConfig(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	sess.profile.Radio = cfg
	s.mu.Unlock()

	if s.radioCancel == nil {
		return nil
	}
	s.stopRadioLocked()

	return s.startRadioLocked()
}

func (s *Service) Status() (connectors.StatusEvent, error) {
	sess := s.current()
	if sess == nil {
		return connectors.StatusEvent{}, ErrNotStarted
	}

	return s.statusEvent(sess, sess.proto.Status()), nil
}

func (s *Service) NodeInfo() (name string, key domain.PublicKey, err error) {
	sess := s.current()
	if sess == nil {
		return "", domain.PublicKey{}, ErrNotStarted
	}

	return sess.proto.NodeName(), sess.proto.PublicKey(), nil
}

func (s *Service) publishStatus(sess *session) {
	s.bus.Publish(connectors.TopicStatus, s.statusEvent(sess, sess.proto.Status()))
}

func (s *Service) publishError(sess *session, code int, message string) {
	s.bus.Publish(connectors.TopicError, connectors.ErrorEvent{
		ProfileID: sess.profile.ID,
		Code:      code,
		Message:   message,
		Timestamp: s.now(),
	})
}

func (s *Service) publishProfile(p profile.Profile) {
	s.bus.Publish(connectors.TopicProfileSwitched, connectors.ProfileEvent{
		ProfileID: p.ID,
		Name:      p.Name,
		NodeName:  p.NodeName,
		PublicKey: p.PublicKey,
	})
}
