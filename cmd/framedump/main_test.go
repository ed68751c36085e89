package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/skobkin/meshola/internal/domain"
	"github.com/skobkin/meshola/internal/wire"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "plain", in: "4d4c01", want: []byte{0x4d, 0x4c, 0x01}},
		{name: "prefixed", in: "0x4D4C", want: []byte{0x4d, 0x4c}},
		{name: "separated", in: "4d:4c 01", want: []byte{0x4d, 0x4c, 0x01}},
		{name: "odd length", in: "4d4", wantErr: true},
		{name: "not hex", in: "zz", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseHex(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}

			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("%s: expected %x, got %x", tc.name, tc.want, got)
		}
	}
}

func TestBuildFrameAndDescribe(t *testing.T) {
	from := domain.PublicKey{0xaa, 0xbb, 0xcc, 0xdd}
	to := domain.PublicKey{0x11, 0x22, 0x33, 0x44}
	channel := domain.ChannelID{0x01}

	tests := []struct {
		name    string
		to      string
		channel string
		text    string
		advert  bool
		want    string
	}{
		{name: "direct", to: to.String(), text: "hi", want: `kind=direct from=aabbccdd to=11223344 text="hi"`},
		{name: "channel", channel: channel.String(), text: "all", want: `kind=channel from=aabbccdd channel=` + channel.String() + ` text="all"`},
		{name: "advert", text: "Base", advert: true, want: `kind=advert from=aabbccdd name="Base"`},
	}

	for _, tc := range tests {
		frame, err := buildFrame(from.String(), tc.to, tc.channel, tc.text, tc.advert)
		if err != nil {
			t.Fatalf("%s: build frame: %v", tc.name, err)
		}
		payload, err := wire.Encode(frame)
		if err != nil {
			t.Fatalf("%s: encode: %v", tc.name, err)
		}
		if got := describePayload(payload); !strings.Contains(got, tc.want) {
			t.Fatalf("%s: expected %q in %q", tc.name, tc.want, got)
		}
	}

	if _, err := buildFrame(from.String(), "", "", "x", false); err == nil {
		t.Fatalf("expected error without a destination")
	}
}

func TestDescribeUndecodablePayload(t *testing.T) {
	got := describePayload([]byte("plain text"))
	if !strings.Contains(got, "error=") || !strings.Contains(got, `plain="plain text"`) {
		t.Fatalf("unexpected description %q", got)
	}
}

func TestRunDecodeFromStdin(t *testing.T) {
	payload, err := wire.Encode(wire.AdvertFrame(domain.PublicKey{0x01, 0x02, 0x03, 0x04}, "Node"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	input := "# captured\n\n" + hex.EncodeToString(payload) + "\nnothex\n"

	var out bytes.Buffer
	if err := run([]string{"decode"}, strings.NewReader(input), &out); err != nil {
		t.Fatalf("run decode: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two output lines, got %q", out.String())
	}
	if !strings.Contains(lines[0], `kind=advert from=01020304 name="Node"`) || !strings.HasPrefix(lines[1], "invalid hex") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"bogus"}, strings.NewReader(""), &out); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if !strings.Contains(out.String(), "usage:") {
		t.Fatalf("expected usage output, got %q", out.String())
	}
}
