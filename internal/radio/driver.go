// Package radio is the hardware boundary of the protocol engine: a small
// SX126x-shaped driver surface with simulated and modem-link implementations.
package radio

import (
	"errors"

	"github.com/skobkin/meshola/internal/domain"
)

// IRQ is a set of pending radio interrupt flags.
type IRQ uint16

const (
	IRQRxDone IRQ = 1 << iota
	IRQTxDone
	IRQTimeout
	IRQCRCError

	IRQAll = IRQRxDone | IRQTxDone | IRQTimeout | IRQCRCError
)

// MaxPacketLen is the largest packet the radio can send or receive.
const MaxPacketLen = 255

var (
	ErrNoPacket     = errors.New("no packet pending")
	ErrNotBegun     = errors.New("radio not initialized")
	ErrPacketTooBig = errors.New("packet too large")
)

// Driver is polled by the protocol engine. Implementations must not block on
// reception: pending events are reported through IRQFlags.
type Driver interface {
	Begin(cfg domain.RadioConfig) error
	StartReceive() error
	Standby() error
	Transmit(payload []byte) error
	IRQFlags() IRQ
	ClearIRQFlags(mask IRQ)
	// ReadPacket returns the packet behind IRQRxDone.
	ReadPacket() ([]byte, error)
	PacketRSSI() int16
	PacketSNR() int8
	Close() error
}
