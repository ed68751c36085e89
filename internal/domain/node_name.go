package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const nodeNamePrefix = "Meshola-"

// NodeNameWithSuffix formats the default node name, e.g. "Meshola-1A2B".
func NodeNameWithSuffix(suffix uint16) string {
	return fmt.Sprintf("%s%04X", nodeNamePrefix, suffix)
}

func ContactDisplayName(contact Contact) string {
	if value := strings.TrimSpace(contact.Name); value != "" {
		return value
	}

	return contact.PublicKey.Short()
}

// BoundedText truncates s to at most limit bytes without splitting a UTF-8 sequence.
// Invalid byte sequences are kept as-is up to the limit.
func BoundedText(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	if utf8.ValidString(s) {
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}

	return s[:cut]
}

// BoundedName bounds a node or channel name to fit its fixed field (one byte reserved).
func BoundedName(s string) string {
	return BoundedText(strings.TrimSpace(s), MaxNodeNameLen-1)
}

// BoundedMessage bounds message text to the protocol-visible maximum (one byte reserved).
func BoundedMessage(s string) string {
	return BoundedText(s, MaxMessageLen-1)
}
