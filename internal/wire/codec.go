// Package wire encodes and decodes over-the-air message frames.
//
// Layout: magic0 magic1 version flags channelID[16] senderKey[32] recipientKey[32] text...
// The text runs to the end of the frame and is not null-terminated.
package wire

import (
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

const (
	Magic0  byte = 0x4D
	Magic1  byte = 0x4C
	Version byte = 0x01

	FlagChannel byte = 1 << 0
	FlagAdvert  byte = 1 << 1

	// MaxPayload matches the SX126x maximum packet length.
	MaxPayload = 255
	HeaderSize = 4 + domain.ChannelIDSize + 2*domain.PublicKeySize
	MaxText    = MaxPayload - HeaderSize

	// UnknownSender is the placeholder name for decoded frames; frames carry keys, not names.
	UnknownSender = "Unknown"
)

const (
	offFlags     = 3
	offChannel   = 4
	offSender    = offChannel + domain.ChannelIDSize
	offRecipient = offSender + domain.PublicKeySize
)

type Frame struct {
	Flags        byte
	ChannelID    domain.ChannelID
	SenderKey    domain.PublicKey
	RecipientKey domain.PublicKey
	Text         string
}

func (f Frame) IsChannel() bool {
	return f.Flags&FlagChannel != 0
}

func (f Frame) IsAdvert() bool {
	return f.Flags&FlagAdvert != 0
}

func ChannelFrame(sender domain.PublicKey, channel domain.ChannelID, text string) Frame {
	return Frame{Flags: FlagChannel, ChannelID: channel, SenderKey: sender, Text: text}
}

func DirectFrame(sender, recipient domain.PublicKey, text string) Frame {
	return Frame{SenderKey: sender, RecipientKey: recipient, Text: text}
}

func AdvertFrame(sender domain.PublicKey, nodeName string) Frame {
	return Frame{Flags: FlagAdvert, SenderKey: sender, Text: nodeName}
}

// Encode serializes f. Text is never truncated: an oversize frame fails with ErrTooLarge.
func Encode(f Frame) ([]byte, error) {
	size := HeaderSize + len(f.Text)
	if size > MaxPayload {
		return nil, frameError(ErrTooLarge, size)
	}

	buf := make([]byte, size)
	buf[0] = Magic0
	buf[1] = Magic1
	buf[2] = Version
	buf[offFlags] = f.Flags
	copy(buf[offChannel:offSender], f.ChannelID[:])
	copy(buf[offSender:offRecipient], f.SenderKey[:])
	copy(buf[offRecipient:HeaderSize], f.RecipientKey[:])
	copy(buf[HeaderSize:], f.Text)

	return buf, nil
}

// Decode parses a raw frame. Reserved flag bits are kept as-is.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, frameError(ErrTruncated, len(b))
	}
	if b[0] != Magic0 || b[1] != Magic1 {
		return Frame{}, frameError(ErrBadMagic, len(b))
	}
	if b[2] != Version {
		return Frame{}, frameError(ErrBadVersion, len(b))
	}

	var f Frame
	f.Flags = b[offFlags]
	copy(f.ChannelID[:], b[offChannel:offSender])
	copy(f.SenderKey[:], b[offSender:offRecipient])
	copy(f.RecipientKey[:], b[offRecipient:HeaderSize])
	f.Text = domain.BoundedMessage(string(b[HeaderSize:]))

	return f, nil
}

// ToMessage builds an incoming message skeleton from a decoded frame.
func ToMessage(f Frame, at time.Time) domain.Message {
	return domain.Message{
		SenderKey:    f.SenderKey,
		RecipientKey: f.RecipientKey,
		ChannelID:    f.ChannelID,
		SenderName:   UnknownSender,
		Text:         f.Text,
		Timestamp:    at,
		Status:       domain.MessageStatusReceived,
		IsChannel:    f.IsChannel(),
	}
}

// PlainTextMessage wraps bytes that failed to decode as an unaddressed direct message.
func PlainTextMessage(raw []byte, at time.Time) domain.Message {
	return domain.Message{
		SenderName: UnknownSender,
		Text:       domain.BoundedMessage(string(raw)),
		Timestamp:  at,
		Status:     domain.MessageStatusReceived,
	}
}
