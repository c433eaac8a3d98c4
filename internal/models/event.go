package models

import "time"

// SendPrivateMessage is an inbound person-to-person send.
// Pointer fields distinguish "absent" from zero values.
type SendPrivateMessage struct {
	SenderID   *int64      `json:"senderId"`
	ReceiverID *int64      `json:"receiverId"`
	Content    *string     `json:"content"`
	Type       MessageType `json:"type,omitempty"`
	Timestamp  *time.Time  `json:"timestamp,omitempty"`
}

// SendPublicMessage is an inbound broadcast send.
type SendPublicMessage struct {
	SenderID  *int64      `json:"senderId"`
	Content   *string     `json:"content"`
	Type      MessageType `json:"type,omitempty"`
	Timestamp *time.Time  `json:"timestamp,omitempty"`
}

// ReadReceiptEvent reports that receiverId has read what senderId sent.
type ReadReceiptEvent struct {
	SenderID   *int64 `json:"senderId"`
	ReceiverID *int64 `json:"receiverId"`
}

// ReadReceipt is a validated read receipt.
type ReadReceipt struct {
	SenderID   int64 `json:"senderId"`
	ReceiverID int64 `json:"receiverId"`
}

// ReadNotification tells both parties that a conversation direction was read.
type ReadNotification struct {
	SenderID   int64 `json:"senderId"`
	ReceiverID int64 `json:"receiverId"`
	ReaderID   int64 `json:"readerId"`
}
