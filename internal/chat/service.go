package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/pubsub"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/store"
)

// Publisher issues routed deliveries. *pubsub.Router implements it.
type Publisher interface {
	Publish(ctx context.Context, deliveries []pubsub.Delivery) error
}

// Options tunes a Service.
type Options struct {
	// OpTimeout bounds every store call. Zero means 5s.
	OpTimeout time.Duration
	// IncludeSelf makes a self-addressed message count as a conversation partner.
	IncludeSelf bool
}

// Service accepts chat events, persists them and routes them to subscribers.
// It also answers the read-side queries over the store.
type Service struct {
	store     store.MessageStore
	publisher Publisher
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

// NewService creates a Service.
func NewService(s store.MessageStore, p Publisher, logger zerolog.Logger, opts Options) *Service {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 5 * time.Second
	}
	return &Service{
		store:     s,
		publisher: p,
		logger:    logger.With().Str("component", "chat").Logger(),
		opts:      opts,
		now:       time.Now,
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

// publish routes deliveries. Failures are already logged and counted by the
// router and never undo a stored message.
func (s *Service) publish(ctx context.Context, deliveries []pubsub.Delivery) {
	if err := s.publisher.Publish(ctx, deliveries); err != nil {
		s.logger.Debug().Err(err).Int("deliveries", len(deliveries)).Msg("partial delivery")
	}
}

// SendPrivate stores a person-to-person message and delivers it to the
// receiver's and the sender's private topics. VIDEO_CALL messages are
// delivered without being stored.
func (s *Service) SendPrivate(ctx context.Context, ev models.SendPrivateMessage) (models.Message, error) {
	msg, err := NormalizePrivate(ev, s.now())
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("send_private").Inc()
		return models.Message{}, err
	}

	if msg.Type.Persistent() {
		if msg, err = s.insert(ctx, msg); err != nil {
			return models.Message{}, err
		}
	}

	s.logger.Debug().
		Int64("sender", msg.SenderID).
		Int64("receiver", *msg.ReceiverID).
		Str("type", string(msg.Type)).
		Msg("private message")

	s.publish(ctx, pubsub.RoutePrivate(msg))
	return msg, nil
}

// SendPublic stores a broadcast message and delivers an encoded snapshot of
// it to the public topic.
func (s *Service) SendPublic(ctx context.Context, ev models.SendPublicMessage) (models.Message, error) {
	msg, err := NormalizePublic(ev, s.now())
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("send_public").Inc()
		return models.Message{}, err
	}

	if msg.Type.Persistent() {
		if msg, err = s.insert(ctx, msg); err != nil {
			return models.Message{}, err
		}
	}

	deliveries, err := pubsub.RoutePublic(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("id", msg.ID).Msg("failed to encode public message")
		return msg, nil
	}
	s.publish(ctx, deliveries)
	return msg, nil
}

func (s *Service) insert(ctx context.Context, msg models.Message) (models.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	saved, err := s.store.Insert(sctx, msg)
	if err != nil {
		s.logger.Error().Err(err).Int64("sender", msg.SenderID).Msg("failed to store message")
		return models.Message{}, err
	}
	metrics.MessagesStored.WithLabelValues(string(saved.Type)).Inc()
	return saved, nil
}

// MarkConversationSeen marks everything senderID sent to receiverID as seen
// and notifies both parties on their read-receipt topics.
func (s *Service) MarkConversationSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	n, err := s.markSeen(ctx, senderID, receiverID)
	if err != nil {
		return 0, err
	}
	metrics.ReadReceipts.WithLabelValues("topic").Inc()
	s.publish(ctx, pubsub.RouteReadReceipt(senderID, receiverID))
	return n, nil
}

// ReadReceipt marks a conversation direction as seen and acknowledges it on
// the original sender's private queue.
func (s *Service) ReadReceipt(ctx context.Context, ev models.ReadReceiptEvent) (models.ReadReceipt, error) {
	r, err := NormalizeReadReceipt(ev)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("read_receipt").Inc()
		return models.ReadReceipt{}, err
	}
	if _, err := s.markSeen(ctx, r.SenderID, r.ReceiverID); err != nil {
		return models.ReadReceipt{}, err
	}
	metrics.ReadReceipts.WithLabelValues("queue").Inc()
	s.publish(ctx, pubsub.RouteReadAck(r))
	return r, nil
}

func (s *Service) markSeen(ctx context.Context, senderID, receiverID int64) (int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	n, err := s.store.MarkSeen(sctx, senderID, receiverID)
	if err != nil {
		s.logger.Error().Err(err).Int64("sender", senderID).Int64("receiver", receiverID).Msg("failed to mark seen")
		return 0, err
	}
	s.logger.Debug().Int64("sender", senderID).Int64("receiver", receiverID).Int64("affected", n).Msg("marked seen")
	return n, nil
}

// GetConversation returns both directions of the conversation between a and b.
func (s *Service) GetConversation(ctx context.Context, a, b int64) ([]models.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.FindConversation(sctx, a, b)
}

// GetUnreadTotal counts unseen messages addressed to userID.
func (s *Service) GetUnreadTotal(ctx context.Context, userID int64) (UnreadTotal, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	n, err := s.store.CountUnseenForReceiver(sctx, userID)
	if err != nil {
		return UnreadTotal{}, err
	}
	return UnreadTotal{Total: n}, nil
}

// GetUnreadBySender breaks userID's unseen messages down by sender.
func (s *Service) GetUnreadBySender(ctx context.Context, userID int64) ([]models.SenderUnreadCount, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.CountUnseenGroupedBySender(sctx, userID)
}

// GetConversationPartners lists everyone userID has a conversation with, ascending.
func (s *Service) GetConversationPartners(ctx context.Context, userID int64) ([]int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	pairs, err := s.store.FindParticipants(sctx, userID)
	if err != nil {
		return nil, err
	}
	return DistinctPartners(userID, pairs, s.opts.IncludeSelf), nil
}

// FindBySender returns messages sent by userID.
func (s *Service) FindBySender(ctx context.Context, userID int64) ([]models.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.FindBySender(sctx, userID)
}

// FindByReceiver returns messages addressed to userID.
func (s *Service) FindByReceiver(ctx context.Context, userID int64) ([]models.Message, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.FindByReceiver(sctx, userID)
}

// FindByType returns stored messages of type t.
func (s *Service) FindByType(ctx context.Context, t models.MessageType) ([]models.Message, error) {
	if !t.Valid() {
		return nil, &ValidationError{Field: "type", Reason: "unknown message type " + string(t)}
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.store.FindByType(sctx, t)
}

// Health is the result of HealthCheck.
type Health struct {
	StoreReachable bool  `json:"storeReachable"`
	MessageCount   int64 `json:"messageCount"`
	Err            error `json:"-"`
}

// HealthCheck pings the store and counts stored messages.
func (s *Service) HealthCheck(ctx context.Context) Health {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.store.Ping(sctx); err != nil {
		return Health{Err: err}
	}
	n, err := s.store.Count(sctx)
	if err != nil {
		return Health{Err: err}
	}
	return Health{StoreReachable: true, MessageCount: n}
}
