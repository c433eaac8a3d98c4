package chat

import (
	"sort"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// DistinctPartners returns everyone userID has exchanged a message with,
// ascending. Broadcasts have no counterpart and are skipped. A message from
// userID to itself only counts when includeSelf is set.
func DistinctPartners(userID int64, pairs []models.Participants, includeSelf bool) []int64 {
	seen := make(map[int64]struct{})
	for _, p := range pairs {
		if p.ReceiverID == nil {
			continue
		}
		var other int64
		switch {
		case p.SenderID == userID:
			other = *p.ReceiverID
		case *p.ReceiverID == userID:
			other = p.SenderID
		default:
			continue
		}
		if other == userID && !includeSelf {
			continue
		}
		seen[other] = struct{}{}
	}

	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
