package chat

import "github.com/DarioOlivares2001/micro-matchworkchat/internal/models"

// SumUnread totals a per-sender breakdown. For a consistent snapshot it equals
// the receiver's unseen count.
func SumUnread(counts []models.SenderUnreadCount) int64 {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}

// UnreadTotal is the body of the unread count query.
type UnreadTotal struct {
	Total int64 `json:"total"`
}
