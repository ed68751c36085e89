package domain

import (
	"testing"
	"time"
)

func TestShouldTransitionMessageStatus(t *testing.T) {
	tests := []struct {
		name    string
		current MessageStatus
		next    MessageStatus
		want    bool
	}{
		{name: "pending to sent", current: MessageStatusPending, next: MessageStatusSent, want: true},
		{name: "sent to delivered", current: MessageStatusSent, next: MessageStatusDelivered, want: true},
		{name: "failed to delivered", current: MessageStatusFailed, next: MessageStatusDelivered, want: true},
		{name: "delivered to failed blocked", current: MessageStatusDelivered, next: MessageStatusFailed, want: false},
		{name: "sent to pending blocked", current: MessageStatusSent, next: MessageStatusPending, want: false},
		{name: "sent to failed", current: MessageStatusSent, next: MessageStatusFailed, want: true},
		{name: "received is final", current: MessageStatusReceived, next: MessageStatusDelivered, want: false},
	}

	for _, tc := range tests {
		if got := ShouldTransitionMessageStatus(tc.current, tc.next); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestProtocolInfoHas(t *testing.T) {
	info := ProtocolInfo{Capabilities: Capabilities(FeatureDirectMessages, FeatureEncryption)}

	tests := []struct {
		name    string
		feature ProtocolFeature
		want    bool
	}{
		{name: "direct messages", feature: FeatureDirectMessages, want: true},
		{name: "encryption", feature: FeatureEncryption, want: true},
		{name: "channels missing", feature: FeatureChannels, want: false},
		{name: "out of range", feature: ProtocolFeature(40), want: false},
	}

	for _, tc := range tests {
		if got := info.Has(tc.feature); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestRadioConfigValidate(t *testing.T) {
	if err := DefaultRadioConfig().Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}

	bad := DefaultRadioConfig()
	bad.SpreadingFactor = 6
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected spreading factor 6 to be rejected")
	}

	bad = DefaultRadioConfig()
	bad.CodingRate = 9
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected coding rate 9 to be rejected")
	}
}

func TestMessageConversationKey(t *testing.T) {
	var peer PublicKey
	peer[0] = 0xAB
	in := Message{SenderKey: peer}
	out := Message{RecipientKey: peer, IsOutgoing: true}
	if in.ConversationKey() != out.ConversationKey() {
		t.Fatalf("incoming and outgoing dm must share a conversation: %q vs %q", in.ConversationKey(), out.ConversationKey())
	}

	var ch ChannelID
	ch[15] = 1
	msg := Message{ChannelID: ch, IsChannel: true, SenderKey: peer}
	if got := msg.ConversationKey(); got != "ch_00000000000000000000000000000001" {
		t.Fatalf("unexpected channel conversation key %q", got)
	}
}

func TestMessageTime(t *testing.T) {
	local := time.FixedZone("UTC+3", 3*3600)
	in := time.Date(2026, 5, 1, 15, 4, 5, 123_456_789, local)

	got := MessageTime(in)
	want := time.Date(2026, 5, 1, 12, 4, 5, 123_000_000, time.UTC)
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", got.Location())
	}
	if back := time.UnixMilli(got.UnixMilli()).UTC(); back != got {
		t.Fatalf("millisecond round trip changed the value: %v", back)
	}
}
