package connectors

import (
	"time"

	"github.com/skobkin/meshola/internal/domain"
)

// JSON views of domain values, shared by the HTTP API and the event bridge.

type MessageView struct {
	Conversation string    `json:"conversation"`
	SenderKey    string    `json:"senderKey"`
	RecipientKey string    `json:"recipientKey,omitempty"`
	ChannelID    string    `json:"channelId,omitempty"`
	SenderName   string    `json:"senderName"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	AckID        uint32    `json:"ackId,omitempty"`
	Status       string    `json:"status"`
	IsChannel    bool      `json:"isChannel"`
	IsOutgoing   bool      `json:"isOutgoing"`
	RSSI         int16     `json:"rssi"`
	SNR          int8      `json:"snr"`
}

func NewMessageView(m domain.Message) MessageView {
	v := MessageView{
		Conversation: m.ConversationKey(),
		SenderKey:    m.SenderKey.String(),
		SenderName:   m.SenderName,
		Text:         m.Text,
		Timestamp:    m.Timestamp,
		AckID:        m.AckID,
		Status:       m.Status.String(),
		IsChannel:    m.IsChannel,
		IsOutgoing:   m.IsOutgoing,
		RSSI:         m.RSSI,
		SNR:          m.SNR,
	}
	if m.IsChannel {
		v.ChannelID = m.ChannelID.String()
	} else {
		v.RecipientKey = m.RecipientKey.String()
	}

	return v
}

func NewMessageViews(messages []domain.Message) []MessageView {
	out := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		out = append(out, NewMessageView(m))
	}

	return out
}

type ContactView struct {
	PublicKey    string    `json:"publicKey"`
	Name         string    `json:"name"`
	LastSeen     time.Time `json:"lastSeen"`
	RSSI         int16     `json:"rssi"`
	SNR          int8      `json:"snr"`
	Signal       string    `json:"signal"`
	PathLength   uint8     `json:"pathLength"`
	HasPath      bool      `json:"hasPath"`
	IsOnline     bool      `json:"isOnline"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Role         string    `json:"role"`
	IsFavorite   bool      `json:"isFavorite"`
	IsDiscovered bool      `json:"isDiscovered"`
	IsStatic     bool      `json:"isStatic"`
}

func NewContactView(c domain.Contact) ContactView {
	return ContactView{
		PublicKey:    c.PublicKey.String(),
		Name:         domain.ContactDisplayName(c),
		LastSeen:     c.LastSeen,
		RSSI:         c.LastRSSI,
		SNR:          c.LastSNR,
		Signal:       domain.ContactSignalQuality(c).String(),
		PathLength:   c.PathLength,
		HasPath:      c.HasPath,
		IsOnline:     c.IsOnline,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		Role:         c.Role.String(),
		IsFavorite:   c.IsFavorite,
		IsDiscovered: c.IsDiscovered,
		IsStatic:     c.IsStatic,
	}
}

func NewContactViews(contacts []domain.Contact) []ContactView {
	out := make([]ContactView, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, NewContactView(c))
	}

	return out
}

type ChannelView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
	Index    uint8  `json:"index"`
}

func NewChannelView(ch domain.Channel) ChannelView {
	return ChannelView{
		ID:       ch.ID.String(),
		Name:     ch.Name,
		IsPublic: ch.IsPublic,
		Index:    ch.Index,
	}
}

func NewChannelViews(channels []domain.Channel) []ChannelView {
	out := make([]ChannelView, 0, len(channels))
	for _, ch := range channels {
		out = append(out, NewChannelView(ch))
	}

	return out
}

type NodeStatusView struct {
	RadioRunning      bool   `json:"radioRunning"`
	UptimeSeconds     int64  `json:"uptimeSeconds"`
	BatteryMillivolts uint16 `json:"batteryMillivolts"`
	BatteryPercent    uint8  `json:"batteryPercent"`
	FreeHeap          uint32 `json:"freeHeap"`
	LastRSSI          int16  `json:"lastRssi"`
	LastSNR           int8   `json:"lastSnr"`
	RxFrames          uint32 `json:"rxFrames"`
	TxFrames          uint32 `json:"txFrames"`
	CRCErrors         uint32 `json:"crcErrors"`
	DecodeFallbacks   uint32 `json:"decodeFallbacks"`
}

type StatusView struct {
	ProfileID    string         `json:"profileId"`
	ProtocolID   string         `json:"protocolId"`
	ContactCount int            `json:"contactCount"`
	ChannelCount int            `json:"channelCount"`
	Node         NodeStatusView `json:"node"`
	Timestamp    time.Time      `json:"timestamp"`
}

func NewStatusView(ev StatusEvent) StatusView {
	n := ev.Node

	return StatusView{
		ProfileID:    ev.ProfileID,
		ProtocolID:   ev.ProtocolID,
		ContactCount: ev.ContactCount,
		ChannelCount: ev.ChannelCount,
		Node: NodeStatusView{
			RadioRunning:      ev.RadioRunning,
			UptimeSeconds:     int64(n.Uptime / time.Second),
			BatteryMillivolts: n.BatteryMillivolts,
			BatteryPercent:    n.BatteryPercent,
			FreeHeap:          n.FreeHeap,
			LastRSSI:          n.LastRSSI,
			LastSNR:           n.LastSNR,
			RxFrames:          n.RxFrames,
			TxFrames:          n.TxFrames,
			CRCErrors:         n.CRCErrors,
			DecodeFallbacks:   n.DecodeFallbacks,
		},
		Timestamp: ev.Timestamp,
	}
}

type AckView struct {
	AckID   uint32 `json:"ackId"`
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func NewAckView(ev AckEvent) AckView {
	return AckView{
		AckID:   ev.AckID,
		Success: ev.Success,
		Status:  ev.Status.String(),
	}
}
