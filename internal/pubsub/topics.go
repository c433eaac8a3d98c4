package pubsub

import "strconv"

// PublicTopic is the broadcast topic every public chat message goes to.
const PublicTopic = "public"

// PrivateTopic is the topic a user listens on for person-to-person messages.
func PrivateTopic(userID int64) string {
	return "private." + strconv.FormatInt(userID, 10)
}

// ReadReceiptTopic is the topic a user listens on for read notifications.
func ReadReceiptTopic(userID int64) string {
	return "read.receipt." + strconv.FormatInt(userID, 10)
}

// UserQueueTopic is the per-user acknowledgment address for read receipts.
func UserQueueTopic(userID int64) string {
	return "user." + strconv.FormatInt(userID, 10) + ".queue.read.receipt"
}
