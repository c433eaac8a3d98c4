package chat

import (
	"fmt"
	"time"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// ValidationError reports a malformed inbound event. Nothing is stored or routed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func required(field string) error {
	return &ValidationError{Field: field, Reason: "is required"}
}

// NormalizePrivate turns an inbound private send into a message ready for the store.
// Missing type defaults to CHAT and missing timestamp to now.
func NormalizePrivate(ev models.SendPrivateMessage, now time.Time) (models.Message, error) {
	if ev.SenderID == nil {
		return models.Message{}, required("senderId")
	}
	if ev.ReceiverID == nil {
		return models.Message{}, required("receiverId")
	}
	msg, err := normalize(*ev.SenderID, ev.Content, ev.Type, ev.Timestamp, now)
	if err != nil {
		return models.Message{}, err
	}
	msg.ReceiverID = models.Int64(*ev.ReceiverID)
	return msg, nil
}

// NormalizePublic turns an inbound broadcast send into a message ready for the store.
func NormalizePublic(ev models.SendPublicMessage, now time.Time) (models.Message, error) {
	if ev.SenderID == nil {
		return models.Message{}, required("senderId")
	}
	return normalize(*ev.SenderID, ev.Content, ev.Type, ev.Timestamp, now)
}

// NormalizeReadReceipt validates an inbound read receipt.
func NormalizeReadReceipt(ev models.ReadReceiptEvent) (models.ReadReceipt, error) {
	if ev.SenderID == nil {
		return models.ReadReceipt{}, required("senderId")
	}
	if ev.ReceiverID == nil {
		return models.ReadReceipt{}, required("receiverId")
	}
	return models.ReadReceipt{SenderID: *ev.SenderID, ReceiverID: *ev.ReceiverID}, nil
}

func normalize(sender int64, content *string, t models.MessageType, ts *time.Time, now time.Time) (models.Message, error) {
	if t == "" {
		t = models.TypeChat
	}
	if !t.Valid() {
		return models.Message{}, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown message type %q", t)}
	}

	msg := models.Message{SenderID: sender, Type: t}
	switch {
	case content != nil:
		msg.Content = *content
	case t.Persistent():
		return models.Message{}, required("content")
	}

	if ts != nil && !ts.IsZero() {
		msg.Timestamp = models.NormalizeTimestamp(*ts)
	} else {
		msg.Timestamp = models.NormalizeTimestamp(now)
	}
	return msg, nil
}
