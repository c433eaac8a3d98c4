package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/pubsub"
)

// Frame commands.
const (
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandSend        = "SEND"
	CommandMessage     = "MESSAGE"
	CommandError       = "ERROR"
)

// Destinations understood by SEND frames, with or without the /app prefix.
const (
	DestSendPrivate = "/chat.sendPrivateMessage"
	DestSendPublic  = "/chat.sendMessage"
	DestReadReceipt = "/chat.readReceipt"

	topicPrefix = "/topic/"
	appPrefix   = "/app"

	// UserReadReceiptQueue resolves to the connected user's read-receipt queue.
	UserReadReceiptQueue = "/user/queue/read.receipt"
)

// Frame is one JSON text message on the socket, in either direction.
type Frame struct {
	Command     string          `json:"command"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Message     string          `json:"message,omitempty"`
}

var errNoUser = errors.New("connect with ?userId= to use the user queue")

// resolveTopic maps a subscription destination to a router topic.
func resolveTopic(dest string, userID int64) (string, error) {
	switch {
	case dest == UserReadReceiptQueue:
		if userID == 0 {
			return "", errNoUser
		}
		return pubsub.UserQueueTopic(userID), nil
	case strings.HasPrefix(dest, topicPrefix) && len(dest) > len(topicPrefix):
		return strings.TrimPrefix(dest, topicPrefix), nil
	default:
		return "", fmt.Errorf("unknown destination %q", dest)
	}
}

func encodeFrame(f Frame) []byte {
	b, err := json.Marshal(f)
	if err != nil {
		b, _ = json.Marshal(Frame{Command: CommandError, Message: err.Error()})
	}
	return b
}

func errorFrame(format string, args ...any) []byte {
	return encodeFrame(Frame{Command: CommandError, Message: fmt.Sprintf(format, args...)})
}
