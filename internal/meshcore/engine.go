// Package meshcore is a MeshCore-style protocol engine driving a radio.Driver.
//
// The engine keeps contact and channel tables in memory and runs a polled
// RX/TX cycle: Loop reads at most one radio event per call and the radio is
// always put back into receive mode after any transmit or receive.
package meshcore

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/radio"
)

const (
	ProtocolID   = "meshcore"
	EntryName    = "MeshCore (Standard)"
	MaxContacts  = 128
	MaxChannels  = 8
	onlineWindow = 15 * time.Minute

	PublicChannelName = "Public"
	PublicChannelHex  = "8b3387e9c5cdea6ac9e5edbaa115cd72"
	BroadcastName     = "Public Broadcast"
)

var Info = domain.ProtocolInfo{
	ID:          ProtocolID,
	Name:        "MeshCore",
	Version:     "1.0.0",
	Description: "Standard MeshCore protocol for off-grid mesh messaging",
	Capabilities: domain.Capabilities(
		domain.FeatureDirectMessages,
		domain.FeatureChannels,
		domain.FeatureSignedMessages,
		domain.FeatureLocationSharing,
		domain.FeaturePathRouting,
		domain.FeatureEncryption,
	),
}

type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	default:
		return "uninitialized"
	}
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithStateStore(store protocol.StateStore) Option {
	return func(e *Engine) {
		e.state = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithoutSeeds skips the synthetic broadcast contact.
func WithoutSeeds() Option {
	return func(e *Engine) {
		e.seedContacts = false
	}
}

// Engine implements protocol.Protocol.
//
// All state is guarded by mu. Handlers are never called with mu held: events
// produced under the lock are queued and dispatched by the calling goroutine
// once the lock is released, so a handler may call back into the engine.
type Engine struct {
	logger *slog.Logger
	driver radio.Driver
	state  protocol.StateStore
	now    func() time.Time

	seedContacts bool

	mu        sync.Mutex
	phase     State
	cfg       domain.RadioConfig
	nodeName  string
	selfKey   domain.PublicKey
	hasSelf   bool
	contacts  []domain.Contact
	channels  []domain.Channel
	startedAt time.Time
	stats     domain.NodeStatus

	// statusDirty requests a status event on the next Loop.
	statusDirty bool

	handlers   handlers
	ackCounter atomic.Uint32
}

type handlers struct {
	message protocol.MessageHandler
	contact protocol.ContactHandler
	status  protocol.StatusHandler
	ack     protocol.AckHandler
	err     protocol.ErrorHandler
}

var (
	_ protocol.Protocol   = (*Engine)(nil)
	_ protocol.StateAware = (*Engine)(nil)
)

func New(driver radio.Driver, opts ...Option) *Engine {
	e := &Engine{
		logger:       slog.Default(),
		driver:       driver,
		now:          time.Now,
		seedContacts: true,
		cfg:          domain.DefaultRadioConfig(),
	}
	// #nosec G404 G115 -- cosmetic default name suffix.
	e.nodeName = domain.NodeNameWithSuffix(uint16(rand.UintN(1 << 16)))
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("protocol", ProtocolID)
	e.seed()

	return e
}

// Register adds the engine to reg. newDriver is called once per created instance.
func Register(reg *protocol.Registry, newDriver func() radio.Driver, opts ...Option) error {
	return reg.Register(protocol.Entry{
		ID:   ProtocolID,
		Name: EntryName,
		Info: Info,
		New: func() protocol.Protocol {
			return New(newDriver(), opts...)
		},
	})
}

func PublicChannelID() domain.ChannelID {
	id, err := domain.ParseChannelID(PublicChannelHex)
	if err != nil {
		panic(fmt.Sprintf("meshcore: bad public channel id: %v", err))
	}

	return id
}

func (e *Engine) seed() {
	e.channels = []domain.Channel{{
		ID:       PublicChannelID(),
		Name:     PublicChannelName,
		IsPublic: true,
		Index:    0,
	}}
	e.contacts = nil
	if e.seedContacts {
		e.contacts = append(e.contacts, domain.Contact{
			Name:       BroadcastName,
			LastSeen:   e.now(),
			IsOnline:   true,
			PathLength: 1,
			IsStatic:   true,
		})
	}
}

// SetStateStore replaces the store used by SaveState and LoadState.
func (e *Engine) SetStateStore(store protocol.StateStore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = store
}

func (e *Engine) Init(cfg domain.RadioConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == StateRunning {
		e.stopLocked()
	}
	if err := e.driver.Begin(cfg); err != nil {
		e.phase = StateUninitialized
		e.logger.Error("radio begin failed", "error", err)

		return fmt.Errorf("radio begin: %w", err)
	}
	e.cfg = cfg
	e.phase = StateInitialized
	e.logger.Info("initialized",
		"frequency_mhz", cfg.FrequencyMHz,
		"bandwidth_khz", cfg.BandwidthKHz,
		"sf", cfg.SpreadingFactor,
		"cr", cfg.CodingRate,
		"tx_power_dbm", cfg.TxPowerDBm,
	)

	return nil
}

func (e *Engine) Start() error {
	e.mu.Lock()
	switch e.phase {
	case StateRunning:
		e.mu.Unlock()

		return nil
	case StateUninitialized:
		e.mu.Unlock()

		return protocol.ErrNotInitialized
	}
	if err := e.driver.StartReceive(); err != nil {
		e.mu.Unlock()

		return fmt.Errorf("start receive: %w", err)
	}
	e.phase = StateRunning
	e.startedAt = e.now()
	e.statusDirty = true
	e.mu.Unlock()

	e.logger.Info("started")

	return nil
}

func (e *Engine) Stop() {
	e.mu.Lock()
	if e.phase != StateRunning {
		e.mu.Unlock()

		return
	}
	e.stopLocked()
	e.mu.Unlock()

	e.logger.Info("stopped")
}

func (e *Engine) stopLocked() {
	if err := e.driver.Standby(); err != nil {
		e.logger.Warn("radio standby failed", "error", err)
	}
	e.phase = StateInitialized
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.phase == StateRunning
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.phase
}

func (e *Engine) Info() domain.ProtocolInfo {
	return Info
}

func (e *Engine) HasFeature(feature domain.ProtocolFeature) bool {
	return e.Info().Has(feature)
}

func (e *Engine) NodeName() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.nodeName
}

func (e *Engine) SetNodeName(name string) error {
	if name == "" || len(name) >= domain.MaxNodeNameLen {
		return fmt.Errorf("%w: node name must be 1-%d bytes", protocol.ErrInvalidName, domain.MaxNodeNameLen-1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodeName = name

	return nil
}

func (e *Engine) PublicKey() domain.PublicKey {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasSelf {
		return domain.PublicKey{}
	}

	return e.selfKey
}

func (e *Engine) SetLocalIdentity(key domain.PublicKey, name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.selfKey = key
	e.hasSelf = !key.IsZero()
	if name = domain.BoundedName(name); name != "" {
		e.nodeName = name
	}
}

func (e *Engine) RadioConfig() domain.RadioConfig {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg
}

// SetRadioConfig stores cfg for the next Init. It is not applied to a running radio.
func (e *Engine) SetRadioConfig(cfg domain.RadioConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	if e.phase == StateRunning {
		e.logger.Info("radio config stored, restart required to apply")
	}

	return nil
}

func (e *Engine) Status() domain.NodeStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.statusLocked()
}

func (e *Engine) statusLocked() domain.NodeStatus {
	st := e.stats
	st.RadioRunning = e.phase == StateRunning
	if st.RadioRunning {
		st.Uptime = e.now().Sub(e.startedAt)
	}

	return st
}

func (e *Engine) OnMessage(h protocol.MessageHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers.message = h
}

func (e *Engine) OnContact(h protocol.ContactHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers.contact = h
}

func (e *Engine) OnStatus(h protocol.StatusHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers.status = h
}

func (e *Engine) OnAck(h protocol.AckHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers.ack = h
}

func (e *Engine) OnError(h protocol.ErrorHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers.err = h
}

// nextAckID never returns 0, including after wrap-around.
func (e *Engine) nextAckID() uint32 {
	for {
		if id := e.ackCounter.Add(1); id != 0 {
			return id
		}
	}
}
