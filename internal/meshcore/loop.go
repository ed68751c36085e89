package meshcore

import (
	"time"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/radio"
	"github.com/skobkin/meshola/internal/wire"
)

type eventKind int

const (
	eventMessage eventKind = iota + 1
	eventContact
	eventStatus
	eventAck
	eventError
)

type event struct {
	kind    eventKind
	msg     domain.Message
	contact domain.Contact
	isNew   bool
	status  domain.NodeStatus
	ackID   uint32
	success bool
	code    int
	text    string
}

// Loop handles at most one pending radio event and dispatches the resulting
// handler calls in order. It returns immediately unless the engine is running.
func (e *Engine) Loop() {
	e.mu.Lock()
	if e.phase != StateRunning {
		e.mu.Unlock()

		return
	}

	var events []event
	if e.statusDirty {
		e.statusDirty = false
		events = append(events, event{kind: eventStatus, status: e.statusLocked()})
	}
	events = e.pollLocked(events)
	h := e.handlers
	e.mu.Unlock()

	dispatch(h, events)
}

func dispatch(h handlers, events []event) {
	for _, ev := range events {
		switch ev.kind {
		case eventMessage:
			if h.message != nil {
				h.message(ev.msg)
			}
		case eventContact:
			if h.contact != nil {
				h.contact(ev.contact, ev.isNew)
			}
		case eventStatus:
			if h.status != nil {
				h.status(ev.status)
			}
		case eventAck:
			if h.ack != nil {
				h.ack(ev.ackID, ev.success)
			}
		case eventError:
			if h.err != nil {
				h.err(ev.code, ev.text)
			}
		}
	}
}

func (e *Engine) pollLocked(events []event) []event {
	irq := e.driver.IRQFlags()

	switch {
	case irq&radio.IRQCRCError != 0:
		e.driver.ClearIRQFlags(radio.IRQCRCError)
		e.stats.CRCErrors++
		e.logger.Warn("crc error", "crc_errors", e.stats.CRCErrors)

		return e.rearmLocked(events)
	case irq&radio.IRQTimeout != 0:
		e.driver.ClearIRQFlags(radio.IRQTimeout)

		return e.rearmLocked(events)
	case irq&radio.IRQRxDone != 0:
		return e.receiveLocked(events)
	case irq&radio.IRQTxDone != 0:
		e.driver.ClearIRQFlags(radio.IRQTxDone)
	}

	return events
}

func (e *Engine) rearmLocked(events []event) []event {
	if err := e.driver.StartReceive(); err != nil {
		e.logger.Error("re-arm receive failed", "error", err)

		return append(events, event{kind: eventError, code: protocol.ErrorCodeRadioReceive, text: err.Error()})
	}

	return events
}

func (e *Engine) receiveLocked(events []event) []event {
	payload, readErr := e.driver.ReadPacket()
	rssi, snr := e.driver.PacketRSSI(), e.driver.PacketSNR()
	e.driver.ClearIRQFlags(radio.IRQAll)
	events = e.rearmLocked(events)

	if readErr != nil {
		e.logger.Warn("read packet failed", "error", readErr)

		return append(events, event{kind: eventError, code: protocol.ErrorCodeRadioRead, text: readErr.Error()})
	}

	now := domain.MessageTime(e.now())
	e.stats.RxFrames++
	e.stats.LastRSSI = rssi
	e.stats.LastSNR = snr

	var msg domain.Message
	frame, err := wire.Decode(payload)
	switch {
	case err != nil:
		e.stats.DecodeFallbacks++
		e.logger.Debug("undecodable frame delivered as plain text", "error", err, "len", len(payload))
		msg = wire.PlainTextMessage(payload, now)
	case frame.IsAdvert():
		return e.advertLocked(events, frame, rssi, snr, now)
	default:
		msg = wire.ToMessage(frame, now)
		var ev event
		var ok bool
		msg.SenderName, ev, ok = e.touchSenderLocked(frame.SenderKey, rssi, snr, now)
		if ok {
			events = append(events, ev)
		}
	}

	msg.RSSI = rssi
	msg.SNR = snr
	msg.Status = domain.MessageStatusReceived
	e.logger.Debug("message received", "channel", msg.IsChannel, "len", len(msg.Text), "rssi", rssi, "snr", snr)

	return append(events, event{kind: eventMessage, msg: msg})
}

// touchSenderLocked refreshes or records the sender of a frame and returns its display name.
func (e *Engine) touchSenderLocked(key domain.PublicKey, rssi int16, snr int8, now time.Time) (string, event, bool) {
	if key.IsZero() {
		return wire.UnknownSender, event{}, false
	}
	if e.hasSelf && key == e.selfKey {
		return e.nodeName, event{}, false
	}

	if i := e.contactIndexLocked(key); i >= 0 {
		c := &e.contacts[i]
		c.LastSeen = now
		c.LastRSSI = rssi
		c.LastSNR = snr
		c.IsOnline = true

		return domain.ContactDisplayName(*c), event{kind: eventContact, contact: e.viewLocked(*c)}, true
	}

	if len(e.contacts) >= MaxContacts {
		e.logger.Debug("contact table full, sender not recorded", "key", key.Short())

		return key.Short(), event{}, false
	}
	c := domain.Contact{
		PublicKey:    key,
		Name:         key.Short(),
		LastSeen:     now,
		LastRSSI:     rssi,
		LastSNR:      snr,
		IsOnline:     true,
		IsDiscovered: true,
	}
	e.contacts = append(e.contacts, c)
	e.logger.Info("contact discovered", "key", key.Short())

	return c.Name, event{kind: eventContact, contact: c, isNew: true}, true
}

// advertLocked records an advertising node. Adverts are control frames and
// do not produce message events.
func (e *Engine) advertLocked(events []event, frame wire.Frame, rssi int16, snr int8, now time.Time) []event {
	if frame.SenderKey.IsZero() {
		return events
	}
	_, ev, ok := e.touchSenderLocked(frame.SenderKey, rssi, snr, now)
	if !ok {
		return events
	}

	i := e.contactIndexLocked(frame.SenderKey)
	c := &e.contacts[i]
	if name := domain.BoundedName(frame.Text); name != "" {
		c.Name = name
	}
	if c.Role == domain.ContactRoleUnknown {
		c.Role = domain.ContactRoleCompanion
	}
	c.HasPath = true
	c.PathLength = 0
	ev.contact = e.viewLocked(*c)
	e.logger.Debug("advert received", "name", c.Name, "key", frame.SenderKey.Short())

	return append(events, ev)
}
