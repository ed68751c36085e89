package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skobkin/meshola/internal/bus"
	"github.com/skobkin/meshola/internal/connectors"
	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/meshcore"
	"github.com/skobkin/meshola/internal/profile"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/radio"
	"github.com/skobkin/meshola/internal/store"
	"github.com/skobkin/meshola/internal/wire"
)

var peerKey = domain.PublicKey{0x42, 0x42, 0x42, 0x42, 0x01}

type serviceHarness struct {
	svc     *Service
	sim     *radio.SimDriver
	bus     *bus.PubSubBus
	events  bus.Subscription
	dataDir string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServiceHarness(t *testing.T, dataDir string) *serviceHarness {
	t.Helper()

	logger := discardLogger()
	sim := radio.NewSimDriver()
	reg := protocol.NewRegistry()
	if err := meshcore.Register(reg, func() radio.Driver { return sim }, meshcore.WithLogger(logger)); err != nil {
		t.Fatalf("register meshcore: %v", err)
	}

	messageBus := bus.New(logger, 512)
	t.Cleanup(messageBus.Close)
	events := messageBus.Subscribe(connectors.AllTopics...)

	svc := NewService(
		ServiceConfig{DataDir: dataDir, LoopInterval: time.Millisecond, Autostart: true},
		profile.NewManager(dataDir, profile.WithLogger(logger)),
		store.New(dataDir, logger),
		reg,
		messageBus,
		logger,
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Close()
	})

	return &serviceHarness{svc: svc, sim: sim, bus: messageBus, events: events, dataDir: dataDir}
}

func (h *serviceHarness) newPeer(t *testing.T) *meshcore.Engine {
	t.Helper()

	peerSim := radio.NewSimDriver()
	radio.Pair(h.sim, peerSim)
	peer := meshcore.New(peerSim, meshcore.WithoutSeeds(), meshcore.WithLogger(discardLogger()))
	if err := peer.Init(domain.DefaultRadioConfig()); err != nil {
		t.Fatalf("init peer: %v", err)
	}
	if err := peer.Start(); err != nil {
		t.Fatalf("start peer: %v", err)
	}
	peer.SetLocalIdentity(peerKey, "Peer")

	return peer
}

func (h *serviceHarness) nodeKey(t *testing.T) domain.PublicKey {
	t.Helper()

	_, key, err := h.svc.NodeInfo()
	if err != nil {
		t.Fatalf("node info: %v", err)
	}

	return key
}

// receiveFromPeer sends text from peer and waits until the service has stored it.
func (h *serviceHarness) receiveFromPeer(t *testing.T, peer *meshcore.Engine, text string) connectors.MessageEvent {
	t.Helper()

	if _, err := peer.SendMessage(domain.Contact{PublicKey: h.nodeKey(t)}, text); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	return waitForEvent(t, h.events, func(ev connectors.MessageEvent) bool {
		return ev.IsIncoming && ev.Message.Text == text
	})
}

// injectFrame delivers f to the service radio as if it had been received.
func (h *serviceHarness) injectFrame(t *testing.T, f wire.Frame) {
	t.Helper()

	raw, err := wire.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h.sim.InjectFrame(raw, -70, 6)
}

func filledKey(b byte) domain.PublicKey {
	var k domain.PublicKey
	for i := range k {
		k[i] = b
	}

	return k
}

func waitForEvent[T any](t *testing.T, sub bus.Subscription, match func(T) bool) T {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-sub:
			if !ok {
				t.Fatalf("subscription closed")
			}
			if ev, ok := raw.(T); ok && match(ev) {
				return ev
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func TestServiceStartOpensActiveProfile(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())

	if got := h.svc.State(); got != ServiceRunning {
		t.Fatalf("expected running state, got %s", got)
	}
	active, ok := h.svc.ActiveProfile()
	if !ok || active.Name != profile.DefaultName {
		t.Fatalf("expected default profile, got %+v (ok=%v)", active, ok)
	}
	if _, err := os.Stat(StateDBPath(h.dataDir, active.ID)); err != nil {
		t.Fatalf("expected state db: %v", err)
	}

	waitForEvent(t, h.events, func(ev connectors.ProfileEvent) bool {
		return ev.ProfileID == active.ID && ev.PublicKey == active.PublicKey
	})
	status := waitForEvent(t, h.events, func(ev connectors.StatusEvent) bool {
		return ev.RadioRunning
	})
	if status.ProtocolID != meshcore.ProtocolID || status.ChannelCount != 1 {
		t.Fatalf("unexpected status %+v", status)
	}

	channels := h.svc.Channels()
	if len(channels) != 1 || channels[0].ID != meshcore.PublicChannelID() {
		t.Fatalf("expected seeded public channel, got %+v", channels)
	}
	name, key, err := h.svc.NodeInfo()
	if err != nil || name != active.NodeName || key != active.PublicKey {
		t.Fatalf("node identity not applied: %q %s %v", name, key, err)
	}
	if !h.sim.Receiving() {
		t.Fatalf("expected radio in receive mode")
	}
}

func TestServiceIncomingDirectMessage(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)

	if _, err := peer.SendMessage(domain.Contact{PublicKey: h.nodeKey(t)}, "hello node"); err != nil {
		t.Fatalf("peer send: %v", err)
	}

	contactEv := waitForEvent(t, h.events, func(ev connectors.ContactEvent) bool {
		return ev.Contact.PublicKey == peerKey
	})
	if !contactEv.IsNew || !contactEv.Contact.IsDiscovered {
		t.Fatalf("expected discovered contact, got %+v", contactEv)
	}
	ev := waitForEvent(t, h.events, func(ev connectors.MessageEvent) bool {
		return ev.IsIncoming
	})
	if !ev.IsNew || ev.Message.SenderKey != peerKey || ev.Message.Status != domain.MessageStatusReceived {
		t.Fatalf("unexpected message event %+v", ev)
	}
	if ev.Message.SenderName != peerKey.Short() {
		t.Fatalf("expected sender name from discovered contact, got %q", ev.Message.SenderName)
	}

	history, err := h.svc.ContactHistory(peerKey, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Text != "hello node" || history[0].IsOutgoing {
		t.Fatalf("unexpected history %+v", history)
	}
	if _, ok := h.svc.FindContact(peerKey); !ok {
		t.Fatalf("expected peer in contacts")
	}
}

func TestServiceSendDirect(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "ping")

	ackID, err := h.svc.SendDirect(peerKey, "pong")
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}
	if ackID == 0 {
		t.Fatalf("expected non-zero ack id")
	}

	ev := waitForEvent(t, h.events, func(ev connectors.MessageEvent) bool {
		return !ev.IsIncoming
	})
	if ev.Message.AckID != ackID || ev.Message.Status != domain.MessageStatusSent || ev.Message.RecipientKey != peerKey {
		t.Fatalf("unexpected outgoing event %+v", ev.Message)
	}

	history, err := h.svc.ContactHistory(peerKey, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	last := history[1]
	if !last.IsOutgoing || last.Text != "pong" || last.AckID != ackID {
		t.Fatalf("unexpected stored outgoing message %+v", last)
	}
	if got := len(h.sim.Transmitted()); got != 1 {
		t.Fatalf("expected one transmission, got %d", got)
	}
}

func TestServiceSendDirectFailuresStoreNothing(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "ping")

	tests := []struct {
		name    string
		key     domain.PublicKey
		text    string
		wantErr error
	}{
		{name: "unknown contact", key: domain.PublicKey{0x99}, text: "hi", wantErr: protocol.ErrUnknownContact},
		{name: "empty text", key: peerKey, text: "", wantErr: protocol.ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ackID, err := h.svc.SendDirect(tt.key, tt.text)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if ackID != 0 {
				t.Fatalf("expected zero ack id on failure, got %d", ackID)
			}
		})
	}

	history, err := h.svc.ContactHistory(peerKey, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("failed sends must not be stored, got %d messages", len(history))
	}
}

func TestServiceSendDirectWhileStopped(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	home, err := h.svc.CreateProfile("Home")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := h.svc.SwitchProfile(home.ID); err != nil {
		t.Fatalf("switch profile: %v", err)
	}

	contact := filledKey(0x01)
	h.injectFrame(t, wire.AdvertFrame(contact, "Ones"))
	waitForEvent(t, h.events, func(ev connectors.ContactEvent) bool {
		return ev.ProfileID == home.ID && ev.Contact.PublicKey == contact
	})

	h.svc.StopRadio()
	ackID, err := h.svc.SendDirect(contact, "hi")
	if !errors.Is(err, protocol.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if ackID != 0 {
		t.Fatalf("expected zero ack id, got %d", ackID)
	}
	history, err := h.svc.ContactHistory(contact, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no stored messages, got %+v", history)
	}

	if err := h.svc.StartRadio(); err != nil {
		t.Fatalf("start radio: %v", err)
	}
	ackID, err = h.svc.SendDirect(contact, "hi")
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}
	if ackID == 0 {
		t.Fatalf("expected non-zero ack id")
	}
	ev := waitForEvent(t, h.events, func(ev connectors.MessageEvent) bool {
		return !ev.IsIncoming && ev.Message.AckID == ackID
	})

	history, err = h.svc.ContactHistory(contact, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one stored message, got %d", len(history))
	}
	got := history[0]
	if got.Status != domain.MessageStatusSent || !got.IsOutgoing || got.AckID != ackID || got.RecipientKey != contact {
		t.Fatalf("unexpected stored message %+v", got)
	}
	if got.Timestamp != ev.Message.Timestamp {
		t.Fatalf("stored timestamp %v differs from published %v", got.Timestamp, ev.Message.Timestamp)
	}
}

func TestServiceIncomingChannelFrame(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	var room domain.ChannelID
	for i := range room {
		room[i] = 0xAA
	}

	h.injectFrame(t, wire.ChannelFrame(filledKey(0x33), room, "hello room"))
	ev := waitForEvent(t, h.events, func(ev connectors.MessageEvent) bool {
		return ev.IsIncoming
	})
	if !ev.Message.IsChannel || ev.Message.ChannelID != room || ev.Message.Text != "hello room" {
		t.Fatalf("unexpected message event %+v", ev.Message)
	}

	// Anything queued after the frame must not be another message event.
	h.injectFrame(t, wire.AdvertFrame(filledKey(0x34), "Marker"))
	waitForEvent(t, h.events, func(ev any) bool {
		if me, ok := ev.(connectors.MessageEvent); ok {
			t.Fatalf("unexpected second message event %+v", me.Message)
		}
		ce, ok := ev.(connectors.ContactEvent)

		return ok && ce.Contact.PublicKey == filledKey(0x34)
	})

	history, err := h.svc.ChannelHistory(room, 0)
	if err != nil {
		t.Fatalf("channel history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one stored channel message, got %d", len(history))
	}
	if got := history[0]; !got.IsChannel || got.IsOutgoing || got.Text != "hello room" || got.Status != domain.MessageStatusReceived {
		t.Fatalf("unexpected stored message %+v", got)
	}
}

func TestServiceAckStatusTransitions(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "ping")

	ackID, err := h.svc.SendDirect(peerKey, "pong")
	if err != nil {
		t.Fatalf("send direct: %v", err)
	}
	sess := h.svc.current()

	h.svc.handleAck(sess, ackID+100, true)
	h.svc.handleAck(sess, ackID, false)
	ev := waitForEvent(t, h.events, func(ev connectors.AckEvent) bool { return true })
	if ev.AckID != ackID || ev.Success || ev.Status != domain.MessageStatusFailed {
		t.Fatalf("expected failure report for %d first, got %+v", ackID, ev)
	}

	h.svc.handleAck(sess, ackID, false)
	h.svc.handleAck(sess, ackID, true)
	ev = waitForEvent(t, h.events, func(ev connectors.AckEvent) bool { return true })
	if !ev.Success || ev.Status != domain.MessageStatusDelivered {
		t.Fatalf("expected delivery after failure, got %+v", ev)
	}

	if _, ok := sess.resolveAck(ackID, true); ok {
		t.Fatalf("delivery is terminal")
	}
}

func TestServiceSendChannel(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	public := meshcore.PublicChannelID()

	if err := h.svc.SendChannel(public, "hi all"); err != nil {
		t.Fatalf("send channel: %v", err)
	}
	if err := h.svc.SendChannel(domain.ChannelID{0x01}, "nobody"); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}

	history, err := h.svc.ChannelHistory(public, 0)
	if err != nil {
		t.Fatalf("channel history: %v", err)
	}
	if len(history) != 1 || !history[0].IsChannel || !history[0].IsOutgoing || history[0].ChannelID != public {
		t.Fatalf("unexpected channel history %+v", history)
	}
}

func TestServiceRadioStopStart(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())

	h.svc.StopRadio()
	if got := h.svc.State(); got != ServiceStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
	waitForEvent(t, h.events, func(ev connectors.StatusEvent) bool {
		return !ev.RadioRunning
	})
	if err := h.svc.SendChannel(meshcore.PublicChannelID(), "offline"); !errors.Is(err, protocol.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := h.svc.SendAdvertisement(); !errors.Is(err, protocol.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning for advert, got %v", err)
	}

	if err := h.svc.StartRadio(); err != nil {
		t.Fatalf("start radio: %v", err)
	}
	if got := h.svc.State(); got != ServiceRunning {
		t.Fatalf("expected running, got %s", got)
	}
	if err := h.svc.SendAdvertisement(); err != nil {
		t.Fatalf("advertise: %v", err)
	}
}

func TestServiceProfileSwitchIsolatesState(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)
	first, _ := h.svc.ActiveProfile()
	h.receiveFromPeer(t, peer, "for the first profile")

	second, err := h.svc.CreateProfile("Field")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := h.svc.SwitchProfile(second.ID); err != nil {
		t.Fatalf("switch profile: %v", err)
	}
	waitForEvent(t, h.events, func(ev connectors.ProfileEvent) bool {
		return ev.ProfileID == second.ID
	})

	if got := h.svc.State(); got != ServiceRunning {
		t.Fatalf("radio should restart after switch, got %s", got)
	}
	if _, key, _ := h.svc.NodeInfo(); key != second.PublicKey {
		t.Fatalf("expected identity of the new profile")
	}
	if _, ok := h.svc.FindContact(peerKey); ok {
		t.Fatalf("contacts leaked into the new profile")
	}
	history, err := h.svc.ContactHistory(peerKey, 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history after switch, got %d (%v)", len(history), err)
	}

	if err := h.svc.SwitchProfile(first.ID); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	if _, ok := h.svc.FindContact(peerKey); !ok {
		t.Fatalf("expected contacts of the first profile to be restored")
	}
	history, err = h.svc.ContactHistory(peerKey, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected restored history, got %d (%v)", len(history), err)
	}
}

func TestServiceProfileByNameAndRekey(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	field, err := h.svc.CreateProfile("Field")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := h.svc.SwitchProfile("Field"); err != nil {
		t.Fatalf("switch by name: %v", err)
	}
	if active, _ := h.svc.ActiveProfile(); active.ID != field.ID {
		t.Fatalf("expected %s active, got %s", field.ID, active.ID)
	}

	before := h.nodeKey(t)
	p, err := h.svc.RegenerateProfileKeys(field.ID)
	if err != nil {
		t.Fatalf("regenerate keys: %v", err)
	}
	if p.PublicKey == before || h.nodeKey(t) != p.PublicKey {
		t.Fatalf("expected running node to take key %s, got %s", p.PublicKey.Short(), h.nodeKey(t).Short())
	}

	if _, err := h.svc.RenameProfile("Field", "Camp"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := h.svc.DeleteProfile("Camp"); err != nil {
		t.Fatalf("delete by name: %v", err)
	}
	if h.svc.Profiles()[0].ID == field.ID || len(h.svc.Profiles()) != 1 {
		t.Fatalf("expected Camp deleted, got %+v", h.svc.Profiles())
	}
}

func TestServiceSwitchToActiveProfileIsNoop(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	active, _ := h.svc.ActiveProfile()

	if err := h.svc.SwitchProfile(active.ID); err != nil {
		t.Fatalf("switch to active: %v", err)
	}
	if err := h.svc.SwitchProfile("0000000000000000"); !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got, _ := h.svc.ActiveProfile(); got.ID != active.ID {
		t.Fatalf("active profile changed to %s", got.ID)
	}
}

func TestServiceSwitchFailureKeepsPreviousProfile(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	first, _ := h.svc.ActiveProfile()

	second, err := h.svc.CreateProfile("Broken")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	second.ProtocolID = "reticulum"
	if err := h.svc.profiles.Update(second); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	if err := h.svc.SwitchProfile(second.ID); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected switch to fail with ErrNotFound, got %v", err)
	}
	if got, _ := h.svc.ActiveProfile(); got.ID != first.ID {
		t.Fatalf("expected previous profile to stay active, got %s", got.ID)
	}
	if got := h.svc.State(); got != ServiceRunning {
		t.Fatalf("expected radio to keep running, got %s", got)
	}
	if _, key, _ := h.svc.NodeInfo(); key != first.PublicKey {
		t.Fatalf("expected the previous identity to stay bound")
	}
}

func TestServiceDeleteActiveProfile(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	first, _ := h.svc.ActiveProfile()

	if err := h.svc.DeleteProfile(first.ID); !errors.Is(err, profile.ErrLastProfile) {
		t.Fatalf("expected ErrLastProfile, got %v", err)
	}

	second, err := h.svc.CreateProfile("Second")
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if err := h.svc.SwitchProfile(second.ID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if err := h.svc.DeleteProfile(second.ID); err != nil {
		t.Fatalf("delete active profile: %v", err)
	}

	active, _ := h.svc.ActiveProfile()
	if active.ID != first.ID {
		t.Fatalf("expected fallback to %s, got %s", first.ID, active.ID)
	}
	if len(h.svc.Profiles()) != 1 {
		t.Fatalf("expected one profile left")
	}
	if _, err := os.Stat(filepath.Join(h.dataDir, "profiles", second.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected profile dir to be removed, stat err=%v", err)
	}
	if _, key, _ := h.svc.NodeInfo(); key != first.PublicKey {
		t.Fatalf("expected identity of the remaining profile")
	}
}

func TestServiceSetRadioConfig(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())

	cfg := domain.DefaultRadioConfig()
	cfg.SpreadingFactor = 9
	cfg.FrequencyMHz = 869.525
	if err := h.svc.SetRadioConfig(cfg); err != nil {
		t.Fatalf("set radio config: %v", err)
	}
	if got := h.sim.Config(); got != cfg {
		t.Fatalf("expected radio restarted with %+v, got %+v", cfg, got)
	}
	if got := h.svc.RadioConfig(); got != cfg {
		t.Fatalf("unexpected radio config %+v", got)
	}
	active, _ := h.svc.ActiveProfile()
	if active.Radio != cfg {
		t.Fatalf("radio config not persisted to profile: %+v", active.Radio)
	}

	bad := cfg
	bad.SpreadingFactor = 3
	if err := h.svc.SetRadioConfig(bad); !errors.Is(err, domain.ErrInvalidRadioConfig) {
		t.Fatalf("expected ErrInvalidRadioConfig, got %v", err)
	}
}

func TestServiceContactEdits(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "hi")

	c, err := h.svc.SetContactFavorite(peerKey, true)
	if err != nil || !c.IsFavorite {
		t.Fatalf("favorite: %+v %v", c, err)
	}
	c, err = h.svc.PromoteContact(peerKey)
	if err != nil || c.IsDiscovered || c.Role != domain.ContactRoleCompanion {
		t.Fatalf("promote: %+v %v", c, err)
	}
	stored, _ := h.svc.FindContact(peerKey)
	if !stored.IsFavorite || stored.IsDiscovered {
		t.Fatalf("edits not applied to contact table: %+v", stored)
	}

	if _, err := h.svc.SetContactFavorite(domain.PublicKey{}, true); !errors.Is(err, protocol.ErrUnknownContact) {
		t.Fatalf("broadcast entry must not be editable, got %v", err)
	}
	if err := h.svc.RemoveContact(peerKey); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := h.svc.FindContact(peerKey); ok {
		t.Fatalf("contact still present after removal")
	}
	if err := h.svc.RemoveContact(peerKey); !errors.Is(err, protocol.ErrUnknownContact) {
		t.Fatalf("expected ErrUnknownContact, got %v", err)
	}
	history, _ := h.svc.ContactHistory(peerKey, 0)
	if len(history) != 1 {
		t.Fatalf("removing a contact must keep its history")
	}
}

func TestServiceSetChannel(t *testing.T) {
	h := newServiceHarness(t, t.TempDir())

	ch, err := h.svc.SetChannel(1, domain.Channel{ID: domain.ChannelID{0xAA}, Name: "Ops"})
	if err != nil {
		t.Fatalf("set channel: %v", err)
	}
	if ch.Index != 1 || ch.Name != "Ops" {
		t.Fatalf("unexpected stored channel %+v", ch)
	}
	ev := waitForEvent(t, h.events, func(ev connectors.ChannelEvent) bool { return true })
	if ev.Channel.ID != ch.ID {
		t.Fatalf("unexpected channel event %+v", ev)
	}
	if _, err := h.svc.SetChannel(5, domain.Channel{ID: domain.ChannelID{0xBB}, Name: "Gap"}); !errors.Is(err, protocol.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := h.svc.SendChannel(ch.ID, "ops check"); err != nil {
		t.Fatalf("send on new channel: %v", err)
	}
}

func TestServiceStatePersistsAcrossRestart(t *testing.T) {
	dataDir := t.TempDir()

	h := newServiceHarness(t, dataDir)
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "remember me")
	if _, err := h.svc.SetChannel(1, domain.Channel{ID: domain.ChannelID{0xCC}, Name: "Kept"}); err != nil {
		t.Fatalf("set channel: %v", err)
	}
	if err := h.svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := h.svc.State(); got != ServiceStopped {
		t.Fatalf("expected stopped after close, got %s", got)
	}

	again := newServiceHarness(t, dataDir)
	c, ok := again.svc.FindContact(peerKey)
	if !ok || !c.IsDiscovered {
		t.Fatalf("expected persisted discovered contact, got %+v (ok=%v)", c, ok)
	}
	if _, ok := again.svc.FindChannel(domain.ChannelID{0xCC}); !ok {
		t.Fatalf("expected persisted channel")
	}
	history, err := again.svc.ContactHistory(peerKey, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected persisted history, got %d (%v)", len(history), err)
	}
}

func TestServiceResetStateAndClearHistory(t *testing.T) {
	dataDir := t.TempDir()
	h := newServiceHarness(t, dataDir)
	peer := h.newPeer(t)
	h.receiveFromPeer(t, peer, "soon gone")

	if err := h.svc.ResetState(context.Background()); err != nil {
		t.Fatalf("reset state: %v", err)
	}
	if _, ok := h.svc.FindContact(peerKey); ok {
		t.Fatalf("expected learned contacts to be cleared")
	}
	if got := len(h.svc.Contacts(0, 0)); got != 1 {
		t.Fatalf("expected only the broadcast entry, got %d", got)
	}

	if err := h.svc.ClearHistory(); err != nil {
		t.Fatalf("clear history: %v", err)
	}
	history, err := h.svc.ContactHistory(peerKey, 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("expected empty history, got %d (%v)", len(history), err)
	}

	if err := h.svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	again := newServiceHarness(t, dataDir)
	if _, ok := again.svc.FindContact(peerKey); ok {
		t.Fatalf("cleared contact came back after restart")
	}
}

func TestServiceNotStarted(t *testing.T) {
	dataDir := t.TempDir()
	logger := discardLogger()
	messageBus := bus.New(logger, 16)
	t.Cleanup(messageBus.Close)
	svc := NewService(ServiceConfig{DataDir: dataDir}, profile.NewManager(dataDir), store.New(dataDir, logger), protocol.NewRegistry(), messageBus, logger)

	if _, err := svc.SendDirect(peerKey, "hi"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := svc.StartRadio(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from StartRadio, got %v", err)
	}
	if _, err := svc.Status(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted from Status, got %v", err)
	}
	if svc.Contacts(0, 0) != nil {
		t.Fatalf("expected no contacts before start")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close unstarted service: %v", err)
	}
}

func TestServiceStartFailsForUnknownProtocol(t *testing.T) {
	dataDir := t.TempDir()
	logger := discardLogger()
	messageBus := bus.New(logger, 16)
	t.Cleanup(messageBus.Close)
	svc := NewService(ServiceConfig{DataDir: dataDir}, profile.NewManager(dataDir), store.New(dataDir, logger), protocol.NewRegistry(), messageBus, logger)

	if err := svc.Start(context.Background()); !errors.Is(err, protocol.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
