package meshcore

import (
	"fmt"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/protocol"
	"github.com/skobkin/meshola/internal/wire"
)

func (e *Engine) SendMessage(to domain.Contact, text string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkSendLocked(text); err != nil {
		return 0, err
	}
	if err := e.transmitLocked(wire.DirectFrame(e.selfKey, to.PublicKey, text)); err != nil {
		return 0, err
	}
	ackID := e.nextAckID()
	e.logger.Debug("direct message sent", "to", to.PublicKey.Short(), "ack_id", ackID)

	return ackID, nil
}

func (e *Engine) SendChannelMessage(channel domain.Channel, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkSendLocked(text); err != nil {
		return err
	}
	if err := e.transmitLocked(wire.ChannelFrame(e.selfKey, channel.ID, text)); err != nil {
		return err
	}
	e.logger.Debug("channel message sent", "channel", channel.Name)

	return nil
}

// SendAdvertisement broadcasts the local key and node name.
func (e *Engine) SendAdvertisement() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != StateRunning {
		return protocol.ErrNotRunning
	}
	if err := e.transmitLocked(wire.AdvertFrame(e.selfKey, e.nodeName)); err != nil {
		return err
	}
	e.logger.Info("advert sent", "name", e.nodeName)

	return nil
}

func (e *Engine) checkSendLocked(text string) error {
	if e.phase != StateRunning {
		return protocol.ErrNotRunning
	}
	if text == "" {
		return protocol.ErrEmptyText
	}

	return nil
}

// transmitLocked sends one frame and puts the radio back into receive mode
// whatever the transmit outcome.
func (e *Engine) transmitLocked(frame wire.Frame) error {
	raw, err := wire.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	if err := e.driver.Standby(); err != nil {
		e.logger.Warn("radio standby before transmit failed", "error", err)
	}
	txErr := e.driver.Transmit(raw)
	if err := e.driver.StartReceive(); err != nil {
		e.logger.Error("re-arm receive after transmit failed", "error", err)
	}
	if txErr != nil {
		e.logger.Error("transmit failed", "error", txErr, "len", len(raw))

		return fmt.Errorf("transmit: %w", txErr)
	}
	e.stats.TxFrames++

	return nil
}
