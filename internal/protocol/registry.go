package protocol

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/skobkin/meshola/internal/domain"
)

// MaxProtocols bounds the number of registered implementations.
const MaxProtocols = 8

var (
	ErrDuplicateID  = errors.New("protocol id already registered")
	ErrNotFound     = errors.New("protocol not found")
	ErrCapacity     = errors.New("protocol registry is full")
	ErrInvalidEntry = errors.New("invalid protocol entry")
)

type Factory func() Protocol

type Entry struct {
	ID   string
	Name string
	// Info is the static descriptor shared by all instances.
	Info domain.ProtocolInfo
	New  Factory
}

// Registry maps protocol ids to factories in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make([]Entry, 0, MaxProtocols)}
}

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if e.New == nil {
		return fmt.Errorf("%w: factory is required for %q", ErrInvalidEntry, e.ID)
	}
	if v := e.Info.Version; v != "" && !semver.IsValid("v"+v) {
		return fmt.Errorf("%w: version %q of %q is not semantic", ErrInvalidEntry, v, e.ID)
	}

	return nil
}

// Register adds e. A duplicate id keeps the existing entry.
func (r *Registry) Register(e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.entries {
		if existing.ID == e.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
		}
	}
	if len(r.entries) >= MaxProtocols {
		return fmt.Errorf("%w: %d entries", ErrCapacity, MaxProtocols)
	}
	r.entries = append(r.entries, e)

	return nil
}

func (r *Registry) Lookup(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.ID == id {
			return e, nil
		}
	}

	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Create instantiates the protocol registered under id.
func (r *Registry) Create(id string) (Protocol, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	p := e.New()
	if p == nil {
		return nil, fmt.Errorf("%w: factory for %s returned nil", ErrInvalidEntry, id)
	}

	return p, nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)

	return out
}

// DisplayName renders an entry as "Name v1.2.3" for pickers.
func (e Entry) DisplayName() string {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	if e.Info.Version == "" {
		return name
	}

	return name + " " + semver.Canonical("v"+e.Info.Version)
}
