// Package transport carries length-prefixed frames between the host and a LoRa modem
// attached over a serial line or a TCP bridge.
package transport

import (
	"context"
	"errors"
	"fmt"

	"go.bug.st/serial"
)

var ErrNotConnected = errors.New("transport is not connected")

type Transport interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
}

// Target describes where a transport points, for status and logs.
type Target interface {
	Target() string
}

// ListSerialPorts returns serial port names known to the OS.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	return ports, nil
}
