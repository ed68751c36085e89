package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

type PublicKey [PublicKeySize]byte

type ChannelID [ChannelIDSize]byte

const (
	dmKeyPrefix      = "dm_"
	channelKeyPrefix = "ch_"
)

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// Short returns the first four bytes in hex, used as a fallback display name.
func (k PublicKey) Short() string {
	return hex.EncodeToString(k[:4])
}

func (id ChannelID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ChannelID) IsZero() bool {
	return id == ChannelID{}
}

func ParsePublicKey(raw string) (PublicKey, error) {
	var key PublicKey
	if err := decodeFixedHex(raw, key[:]); err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}

	return key, nil
}

func ParseChannelID(raw string) (ChannelID, error) {
	var id ChannelID
	if err := decodeFixedHex(raw, id[:]); err != nil {
		return ChannelID{}, fmt.Errorf("parse channel id: %w", err)
	}

	return id, nil
}

func decodeFixedHex(raw string, dst []byte) error {
	raw = strings.TrimSpace(raw)
	if len(raw) != len(dst)*2 {
		return fmt.Errorf("want %d hex chars, got %d", len(dst)*2, len(raw))
	}
	if _, err := hex.Decode(dst, []byte(raw)); err != nil {
		return err
	}

	return nil
}

func ConversationKeyForContact(key PublicKey) string {
	return dmKeyPrefix + key.String()
}

func ConversationKeyForChannel(id ChannelID) string {
	return channelKeyPrefix + id.String()
}

func IsDMKey(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), dmKeyPrefix)
}

func IsChannelKey(key string) bool {
	return strings.HasPrefix(strings.TrimSpace(key), channelKeyPrefix)
}

// ContactKeyFromConversation extracts the contact key from a dm_ conversation key.
func ContactKeyFromConversation(key string) (PublicKey, bool) {
	key = strings.TrimSpace(key)
	if !IsDMKey(key) {
		return PublicKey{}, false
	}
	pk, err := ParsePublicKey(strings.TrimPrefix(key, dmKeyPrefix))
	if err != nil {
		return PublicKey{}, false
	}

	return pk, true
}

func ChannelIDFromConversation(key string) (ChannelID, bool) {
	key = strings.TrimSpace(key)
	if !IsChannelKey(key) {
		return ChannelID{}, false
	}
	id, err := ParseChannelID(strings.TrimPrefix(key, channelKeyPrefix))
	if err != nil {
		return ChannelID{}, false
	}

	return id, true
}
