package domain

import (
	"strings"
	"testing"
)

func TestBoundedText(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short text kept", in: "hi", limit: 10, want: "hi"},
		{name: "exact limit kept", in: "abcd", limit: 4, want: "abcd"},
		{name: "ascii truncated", in: "abcdef", limit: 3, want: "abc"},
		{name: "multibyte not split", in: "aпривет", limit: 2, want: "a"},
		{name: "zero limit", in: "abc", limit: 0, want: ""},
	}

	for _, tt := range tests {
		if got := BoundedText(tt.in, tt.limit); got != tt.want {
			t.Fatalf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

func TestBoundedMessage(t *testing.T) {
	long := strings.Repeat("x", MaxMessageLen*2)
	if got := len(BoundedMessage(long)); got != MaxMessageLen-1 {
		t.Fatalf("expected %d bytes, got %d", MaxMessageLen-1, got)
	}
}

func TestNodeNameWithSuffix(t *testing.T) {
	if got := NodeNameWithSuffix(0x1a2b); got != "Meshola-1A2B" {
		t.Fatalf("unexpected node name %q", got)
	}
}

func TestContactDisplayName(t *testing.T) {
	var key PublicKey
	key[0], key[1], key[2], key[3] = 0xde, 0xad, 0xbe, 0xef
	if got := ContactDisplayName(Contact{PublicKey: key}); got != "deadbeef" {
		t.Fatalf("expected key fallback, got %q", got)
	}
	if got := ContactDisplayName(Contact{PublicKey: key, Name: "  Alice "}); got != "Alice" {
		t.Fatalf("expected trimmed name, got %q", got)
	}
}
