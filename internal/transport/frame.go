package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Stream framing: 0x94 0xC3, big-endian uint16 length, payload.
var frameMagic = [2]byte{0x94, 0xC3}

const (
	frameHeaderLen = 4
	// maxFramePayload bounds a modem frame: opcode, radio metadata and one LoRa packet with headroom.
	maxFramePayload = 512
)

type readFullFunc func(buf []byte) error

func encodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty frame payload")
	}
	if len(payload) > maxFramePayload {
		return nil, fmt.Errorf("frame payload too large: %d > %d", len(payload), maxFramePayload)
	}

	out := make([]byte, frameHeaderLen+len(payload))
	out[0], out[1] = frameMagic[0], frameMagic[1]
	// #nosec G115 -- bounded by maxFramePayload.
	binary.BigEndian.PutUint16(out[2:4], uint16(len(payload)))
	copy(out[frameHeaderLen:], payload)

	return out, nil
}

// readFrame skips bytes until the magic pair, then reads one payload.
// Lengths outside (0, maxFramePayload] are treated as line noise and resynchronized.
func readFrame(readFull readFullFunc) ([]byte, error) {
	for {
		if err := seekMagic(readFull); err != nil {
			return nil, err
		}

		var lenBuf [2]byte
		if err := readFull(lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame length: %w", err)
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:]))
		if n == 0 || n > maxFramePayload {
			continue
		}

		payload := make([]byte, n)
		if err := readFull(payload); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}

		return payload, nil
	}
}

func seekMagic(readFull readFullFunc) error {
	var b [1]byte
	matched := 0
	for matched < len(frameMagic) {
		if err := readFull(b[:]); err != nil {
			return fmt.Errorf("read frame magic: %w", err)
		}
		switch {
		case b[0] == frameMagic[matched]:
			matched++
		case b[0] == frameMagic[0]:
			matched = 1
		default:
			matched = 0
		}
	}

	return nil
}

func ioReadFull(r io.Reader) readFullFunc {
	return func(buf []byte) error {
		_, err := io.ReadFull(r, buf)

		return err
	}
}
