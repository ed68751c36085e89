package wire

import (
	"bytes"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

func fillKey(b byte) domain.PublicKey {
	var k domain.PublicKey
	for i := range k {
		k[i] = b
	}

	return k
}

func fillChannel(b byte) domain.ChannelID {
	var id domain.ChannelID
	for i := range id {
		id[i] = b
	}

	return id
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{name: "direct", frame: DirectFrame(fillKey(0x01), fillKey(0x02), "hi")},
		{name: "channel", frame: ChannelFrame(fillKey(0x01), fillChannel(0xAA), "hello room")},
		{name: "empty text", frame: DirectFrame(fillKey(0x03), fillKey(0x04), "")},
		{name: "max text", frame: ChannelFrame(fillKey(0x05), fillChannel(0x06), strings.Repeat("x", MaxText))},
		{name: "quotes and newlines", frame: DirectFrame(fillKey(0x07), fillKey(0x08), "a \"q\"\n\\b")},
		{name: "advert", frame: AdvertFrame(fillKey(0x09), "Meshola-00FF")},
	}

	for _, tt := range tests {
		raw, err := Encode(tt.frame)
		if err != nil {
			t.Fatalf("%s: encode: %v", tt.name, err)
		}
		if len(raw) != HeaderSize+len(tt.frame.Text) {
			t.Fatalf("%s: unexpected frame length %d", tt.name, len(raw))
		}
		got, err := Decode(raw)
		if err != nil {
			t.Fatalf("%s: decode: %v", tt.name, err)
		}
		if got != tt.frame {
			t.Fatalf("%s: round trip mismatch: got %+v want %+v", tt.name, got, tt.frame)
		}
	}
}

func TestEncodeSizeBoundary(t *testing.T) {
	if _, err := Encode(DirectFrame(fillKey(1), fillKey(2), strings.Repeat("a", MaxText))); err != nil {
		t.Fatalf("expected frame at boundary to encode, got %v", err)
	}

	_, err := Encode(DirectFrame(fillKey(1), fillKey(2), strings.Repeat("a", MaxText+1)))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Len != MaxPayload+1 {
		t.Fatalf("expected FrameError with len %d, got %v", MaxPayload+1, err)
	}
}

func TestDecodeRejectsShortBuffers(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		buf := make([]byte, n)
		if n > 0 {
			buf[0] = Magic0
		}
		if n > 1 {
			buf[1] = Magic1
		}
		if n > 2 {
			buf[2] = Version
		}
		if _, err := Decode(buf); !errors.Is(err, ErrTruncated) {
			t.Fatalf("len %d: expected ErrTruncated, got %v", n, err)
		}
	}
}

func TestDecodeRejectsBadPrefix(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		buf := make([]byte, HeaderSize+rng.Intn(64))
		rng.Read(buf)

		_, err := Decode(buf)
		switch {
		case buf[0] != Magic0 || buf[1] != Magic1:
			if !errors.Is(err, ErrBadMagic) {
				t.Fatalf("iteration %d: expected ErrBadMagic, got %v", i, err)
			}
		case buf[2] != Version:
			if !errors.Is(err, ErrBadVersion) {
				t.Fatalf("iteration %d: expected ErrBadVersion, got %v", i, err)
			}
		default:
			if err != nil {
				t.Fatalf("iteration %d: valid prefix rejected: %v", i, err)
			}
		}
	}
}

func TestDecodeBadVersion(t *testing.T) {
	raw, err := Encode(DirectFrame(fillKey(1), fillKey(2), "x"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw[2] = Version + 1
	if _, err := Decode(raw); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestDecodeKeepsReservedFlags(t *testing.T) {
	f := ChannelFrame(fillKey(1), fillChannel(2), "x")
	f.Flags |= 0x80
	raw, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode with reserved bit: %v", err)
	}
	if got.Flags != FlagChannel|0x80 || !got.IsChannel() {
		t.Fatalf("unexpected flags %08b", got.Flags)
	}
}

func TestDecodeBoundsOversizeText(t *testing.T) {
	raw, err := Encode(DirectFrame(fillKey(1), fillKey(2), ""))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw = append(raw, bytes.Repeat([]byte{'z'}, domain.MaxMessageLen*2)...)

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Text) != domain.MaxMessageLen-1 {
		t.Fatalf("expected text bounded to %d, got %d", domain.MaxMessageLen-1, len(got.Text))
	}
}

func TestToMessage(t *testing.T) {
	at := time.Unix(1700000000, 0)
	msg := ToMessage(ChannelFrame(fillKey(1), fillChannel(0xAA), "hello room"), at)

	if !msg.IsChannel || msg.IsOutgoing {
		t.Fatalf("unexpected direction flags: %+v", msg)
	}
	if msg.SenderName != UnknownSender || msg.Status != domain.MessageStatusReceived {
		t.Fatalf("unexpected skeleton: %+v", msg)
	}
	if msg.ChannelID != fillChannel(0xAA) || msg.Text != "hello room" || !msg.Timestamp.Equal(at) {
		t.Fatalf("fields not carried over: %+v", msg)
	}
}
