// Package notifications delivers user-facing notifications to the desktop.
package notifications

import "strings"

type Kind int

const (
	KindMessage Kind = iota
	KindNodeDiscovered
)

func (k Kind) String() string {
	switch k {
	case KindNodeDiscovered:
		return "node_discovered"
	default:
		return "message"
	}
}

type Payload struct {
	Kind    Kind
	Title   string
	Content string
}

// Normalized trims title and content. ok is false when nothing is left to show.
func (p Payload) Normalized() (Payload, bool) {
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)

	return p, p.Title != "" || p.Content != ""
}

// Sender shows notifications through some backend. Send must not block for long.
type Sender interface {
	Send(payload Payload)
}
