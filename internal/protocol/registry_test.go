package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/skobkin/meshola/internal/domain"
)

// stubProtocol satisfies Protocol for registry tests; only Info is used.
type stubProtocol struct {
	Protocol
	info domain.ProtocolInfo
}

func (s stubProtocol) Info() domain.ProtocolInfo { return s.info }

func stubEntry(id, name string) Entry {
	info := domain.ProtocolInfo{ID: id, Name: name, Version: "1.0.0"}

	return Entry{
		ID:   id,
		Name: name,
		Info: info,
		New:  func() Protocol { return stubProtocol{info: info} },
	}
}

func TestRegistryRejectsDuplicateAndKeepsOriginal(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(stubEntry("meshcore", "original")); err != nil {
		t.Fatalf("register: %v", err)
	}

	err := reg.Register(stubEntry("meshcore", "impostor"))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	p, err := reg.Create("meshcore")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := p.Info().Name; got != "original" {
		t.Fatalf("expected original factory to remain, got %q", got)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected one entry, got %d", reg.Count())
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Lookup("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if p, err := reg.Create("nope"); !errors.Is(err, ErrNotFound) || p != nil {
		t.Fatalf("expected nil protocol and ErrNotFound, got %v %v", p, err)
	}
}

func TestRegistryCapacity(t *testing.T) {
	reg := NewRegistry()
	for i := 0; i < MaxProtocols; i++ {
		if err := reg.Register(stubEntry(fmt.Sprintf("p%d", i), "x")); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}

	if err := reg.Register(stubEntry("overflow", "x")); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if reg.Count() != MaxProtocols {
		t.Fatalf("expected %d entries, got %d", MaxProtocols, reg.Count())
	}
	entries := reg.Entries()
	for i, e := range entries {
		if want := fmt.Sprintf("p%d", i); e.ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, e.ID)
		}
	}
	if _, err := reg.Lookup("overflow"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("overflow entry must not be registered, got %v", err)
	}
}

func TestRegistryValidatesEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
	}{
		{name: "empty id", entry: Entry{New: func() Protocol { return nil }}},
		{name: "nil factory", entry: Entry{ID: "x"}},
		{name: "bad version", entry: Entry{ID: "x", Info: domain.ProtocolInfo{Version: "one"}, New: func() Protocol { return nil }}},
	}

	for _, tt := range tests {
		if err := NewRegistry().Register(tt.entry); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("%s: expected ErrInvalidEntry, got %v", tt.name, err)
		}
	}
}

func TestEntryDisplayName(t *testing.T) {
	if got := stubEntry("meshcore", "MeshCore (Standard)").DisplayName(); got != "MeshCore (Standard) v1.0.0" {
		t.Fatalf("unexpected display name %q", got)
	}
}
