package store

import (
	"context"
	"sync"
	"time"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// MemoryStore keeps messages in process memory, in insertion order.
// Every operation holds the lock for its whole duration, so each one is atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []models.Message
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Close marks the store unusable.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping fails once the store is closed.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usable(ctx, "ping")
}

func (s *MemoryStore) usable(ctx context.Context, op string) error {
	if s.closed {
		return &StorageError{Op: op, Err: ErrUnavailable}
	}
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// Insert appends a copy of msg with a fresh ID.
func (s *MemoryStore) Insert(ctx context.Context, msg models.Message) (models.Message, error) {
	defer observe("insert", time.Now())
	if err := checkInsert(msg); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx, "insert"); err != nil {
		return models.Message{}, err
	}

	msg.ID = newID()
	if msg.ReceiverID != nil {
		msg.ReceiverID = models.Int64(*msg.ReceiverID)
	}
	s.messages = append(s.messages, msg)
	return cloneMessage(msg), nil
}

// MarkSeen flips every unseen sender->receiver message to seen.
func (s *MemoryStore) MarkSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	defer observe("mark_seen", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(ctx, "mark_seen"); err != nil {
		return 0, err
	}

	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if !m.Seen && m.SenderID == senderID && receiverIs(*m, receiverID) {
			m.Seen = true
			n++
		}
	}
	return n, nil
}

// FindConversation returns messages exchanged between userA and userB in either direction.
func (s *MemoryStore) FindConversation(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	return s.filter(ctx, "find_conversation", func(m models.Message) bool {
		return (m.SenderID == userA && receiverIs(m, userB)) ||
			(m.SenderID == userB && receiverIs(m, userA))
	})
}

// FindBySender returns messages sent by senderID.
func (s *MemoryStore) FindBySender(ctx context.Context, senderID int64) ([]models.Message, error) {
	return s.filter(ctx, "find_by_sender", func(m models.Message) bool {
		return m.SenderID == senderID
	})
}

// FindByReceiver returns messages addressed to receiverID.
func (s *MemoryStore) FindByReceiver(ctx context.Context, receiverID int64) ([]models.Message, error) {
	return s.filter(ctx, "find_by_receiver", func(m models.Message) bool {
		return receiverIs(m, receiverID)
	})
}

// FindByType returns messages of type t.
func (s *MemoryStore) FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error) {
	return s.filter(ctx, "find_by_type", func(m models.Message) bool {
		return m.Type == t
	})
}

// FindParticipants returns the sender/receiver pair of every message touching userID.
func (s *MemoryStore) FindParticipants(ctx context.Context, userID int64) ([]models.Participants, error) {
	msgs, err := s.filter(ctx, "find_participants", func(m models.Message) bool {
		return m.SenderID == userID || receiverIs(m, userID)
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Participants, len(msgs))
	for i, m := range msgs {
		out[i] = models.Participants{SenderID: m.SenderID, ReceiverID: m.ReceiverID}
	}
	return out, nil
}

// CountUnseenForReceiver counts unseen messages addressed to receiverID.
func (s *MemoryStore) CountUnseenForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	defer observe("count_unseen", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx, "count_unseen"); err != nil {
		return 0, err
	}

	var n int64
	for _, m := range s.messages {
		if !m.Seen && receiverIs(m, receiverID) {
			n++
		}
	}
	return n, nil
}

// CountUnseenGroupedBySender counts unseen messages addressed to receiverID per sender.
// Rows come out in order of each sender's first unseen message.
func (s *MemoryStore) CountUnseenGroupedBySender(ctx context.Context, receiverID int64) ([]models.SenderUnreadCount, error) {
	defer observe("count_unseen_by_sender", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx, "count_unseen_by_sender"); err != nil {
		return nil, err
	}

	index := make(map[int64]int)
	out := make([]models.SenderUnreadCount, 0)
	for _, m := range s.messages {
		if m.Seen || !receiverIs(m, receiverID) {
			continue
		}
		i, ok := index[m.SenderID]
		if !ok {
			i = len(out)
			index[m.SenderID] = i
			out = append(out, models.SenderUnreadCount{SenderID: m.SenderID})
		}
		out[i].Count++
	}
	return out, nil
}

// Count returns the number of stored messages.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx, "count"); err != nil {
		return 0, err
	}
	return int64(len(s.messages)), nil
}

func (s *MemoryStore) filter(ctx context.Context, op string, keep func(models.Message) bool) ([]models.Message, error) {
	defer observe(op, time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(ctx, op); err != nil {
		return nil, err
	}

	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

func receiverIs(m models.Message, id int64) bool {
	return m.ReceiverID != nil && *m.ReceiverID == id
}

// cloneMessage detaches the receiver pointer so callers cannot mutate stored rows.
func cloneMessage(m models.Message) models.Message {
	if m.ReceiverID != nil {
		m.ReceiverID = models.Int64(*m.ReceiverID)
	}
	return m
}
