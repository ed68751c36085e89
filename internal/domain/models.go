package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	PublicKeySize     = 32
	ChannelIDSize     = 16
	MaxMessageLen     = 256
	MaxNodeNameLen    = 32
	MaxChannelNameLen = 32
)

type MessageStatus int

// Values are persisted in message logs; do not reorder.
const (
	MessageStatusPending MessageStatus = iota
	MessageStatusSent
	MessageStatusDelivered
	MessageStatusFailed
	MessageStatusReceived
)

func (s MessageStatus) String() string {
	switch s {
	case MessageStatusPending:
		return "pending"
	case MessageStatusSent:
		return "sent"
	case MessageStatusDelivered:
		return "delivered"
	case MessageStatusFailed:
		return "failed"
	case MessageStatusReceived:
		return "received"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type ContactRole int

const (
	ContactRoleUnknown ContactRole = iota
	ContactRoleCompanion
	ContactRoleRepeater
	ContactRoleRoom
)

func (r ContactRole) String() string {
	switch r {
	case ContactRoleCompanion:
		return "companion"
	case ContactRoleRepeater:
		return "repeater"
	case ContactRoleRoom:
		return "room"
	default:
		return "unknown"
	}
}

// ProtocolFeature indexes a bit in ProtocolInfo.Capabilities.
type ProtocolFeature int

const (
	FeatureDirectMessages ProtocolFeature = iota
	FeatureChannels
	FeatureSignedMessages
	FeatureLocationSharing
	FeaturePathRouting
	FeatureEncryption
	FeatureFileTransfer
	FeatureTelemetry
	FeatureRemoteAdmin
)

// Capabilities builds a bitmask from the given features.
func Capabilities(features ...ProtocolFeature) uint32 {
	var mask uint32
	for _, f := range features {
		mask |= 1 << uint(f)
	}

	return mask
}

type ProtocolInfo struct {
	ID           string
	Name         string
	Version      string
	Description  string
	Capabilities uint32
}

func (i ProtocolInfo) Has(feature ProtocolFeature) bool {
	if feature < 0 || feature > 31 {
		return false
	}

	return i.Capabilities&(1<<uint(feature)) != 0
}

// RadioConfig is a value snapshot handed to a protocol on init.
type RadioConfig struct {
	FrequencyMHz    float32 `json:"frequency"`
	BandwidthKHz    float32 `json:"bandwidth"`
	SpreadingFactor uint8   `json:"spreadingFactor"`
	CodingRate      uint8   `json:"codingRate"`
	TxPowerDBm      int8    `json:"txPower"`
}

func DefaultRadioConfig() RadioConfig {
	return RadioConfig{
		FrequencyMHz:    906.875,
		BandwidthKHz:    250,
		SpreadingFactor: 11,
		CodingRate:      5,
		TxPowerDBm:      22,
	}
}

var ErrInvalidRadioConfig = errors.New("invalid radio config")

func (c RadioConfig) Validate() error {
	switch {
	case c.FrequencyMHz <= 0:
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidRadioConfig)
	case c.BandwidthKHz <= 0:
		return fmt.Errorf("%w: bandwidth must be positive", ErrInvalidRadioConfig)
	case c.SpreadingFactor < 7 || c.SpreadingFactor > 12:
		return fmt.Errorf("%w: spreading factor %d out of range 7-12", ErrInvalidRadioConfig, c.SpreadingFactor)
	case c.CodingRate < 5 || c.CodingRate > 8:
		return fmt.Errorf("%w: coding rate %d out of range 5-8", ErrInvalidRadioConfig, c.CodingRate)
	}

	return nil
}

type Contact struct {
	PublicKey  PublicKey
	Name       string
	LastSeen   time.Time
	LastRSSI   int16
	LastSNR    int8
	PathLength uint8
	HasPath    bool
	IsOnline   bool
	Latitude   *float64
	Longitude  *float64
	Role       ContactRole
	IsFavorite bool
	// IsDiscovered marks peers learned from traffic that the user has not saved yet.
	IsDiscovered bool
	// IsStatic marks synthetic entries seeded by the protocol, never heard on air.
	IsStatic bool
}

type Channel struct {
	ID       ChannelID
	Name     string
	IsPublic bool
	Index    uint8
}

type Message struct {
	SenderKey    PublicKey
	RecipientKey PublicKey
	ChannelID    ChannelID
	SenderName   string
	Text         string
	Timestamp    time.Time
	AckID        uint32
	Status       MessageStatus
	IsChannel    bool
	IsOutgoing   bool
	RSSI         int16
	SNR          int8
}

// MessageTime normalizes t to the resolution message logs keep: UTC milliseconds.
func MessageTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Peer returns the key of the other side of a direct conversation.
func (m Message) Peer() PublicKey {
	if m.IsOutgoing {
		return m.RecipientKey
	}

	return m.SenderKey
}

func (m Message) ConversationKey() string {
	if m.IsChannel {
		return ConversationKeyForChannel(m.ChannelID)
	}

	return ConversationKeyForContact(m.Peer())
}

type NodeStatus struct {
	BatteryMillivolts uint16
	BatteryPercent    uint8
	Uptime            time.Duration
	FreeHeap          uint32
	LastRSSI          int16
	LastSNR           int8
	RadioRunning      bool

	RxFrames        uint32
	TxFrames        uint32
	CRCErrors       uint32
	DecodeFallbacks uint32
}

// ShouldTransitionMessageStatus reports whether an outgoing message may move from current to next.
// Delivery is terminal; received messages never change.
func ShouldTransitionMessageStatus(current, next MessageStatus) bool {
	if current == next {
		return false
	}
	switch current {
	case MessageStatusPending:
		return next == MessageStatusSent || next == MessageStatusDelivered || next == MessageStatusFailed
	case MessageStatusSent:
		return next == MessageStatusDelivered || next == MessageStatusFailed
	case MessageStatusFailed:
		return next == MessageStatusDelivered
	default:
		return false
	}
}
