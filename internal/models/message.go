package models

import (
	"encoding/json"
	"time"
)

// TimestampLayout is the wire and SQLite form of message timestamps (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// MessageType tags what a message carries.
type MessageType string

const (
	TypeChat      MessageType = "CHAT"
	TypeJoin      MessageType = "JOIN"
	TypeLeave     MessageType = "LEAVE"
	TypeVideoCall MessageType = "VIDEO_CALL"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeChat, TypeJoin, TypeLeave, TypeVideoCall:
		return true
	}
	return false
}

// Persistent reports whether messages of this type are written to the store.
// Video call messages are signaling only.
func (t MessageType) Persistent() bool {
	return t != TypeVideoCall
}

// Message is a chat message. ID is empty until the store assigns one.
type Message struct {
	ID         string      `json:"id,omitempty"`
	SenderID   int64       `json:"senderId"`
	ReceiverID *int64      `json:"receiverId"` // nil for broadcasts
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	Timestamp  time.Time   `json:"timestamp"`
	Seen       bool        `json:"seen"`
}

// IsBroadcast reports whether the message has no receiver.
func (m Message) IsBroadcast() bool {
	return m.ReceiverID == nil
}

// MarshalJSON renders the timestamp in TimestampLayout.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal(struct {
		alias
		Timestamp string `json:"timestamp"`
	}{
		alias:     alias(m),
		Timestamp: FormatTimestamp(m.Timestamp),
	})
}

// FormatTimestamp formats t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout string, falling back to RFC 3339.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return NormalizeTimestamp(t), nil
}

// NormalizeTimestamp converts t to the persisted precision.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// SenderUnreadCount is one row of the unread-by-sender aggregate.
type SenderUnreadCount struct {
	SenderID int64 `json:"_id"`
	Count    int64 `json:"count"`
}

// Participants is the sender/receiver projection of a message.
type Participants struct {
	SenderID   int64  `json:"senderId"`
	ReceiverID *int64 `json:"receiverId"`
}
