package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// Delivery kinds, used as metric labels.
const (
	KindPrivate     = "private"
	KindPublic      = "public"
	KindReadReceipt = "read_receipt"
	KindQueue       = "queue"
)

// Delivery is one payload addressed to one topic.
type Delivery struct {
	Topic   string
	Kind    string
	Payload any
}

// Deliverer hands a payload to whoever is subscribed to topic.
// Implementations own subscription bookkeeping and wire serialization.
type Deliverer interface {
	Deliver(ctx context.Context, topic string, payload any) error
}

// DeliveryError reports a failed delivery to one topic.
type DeliveryError struct {
	Topic string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Topic, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// RoutePrivate addresses msg to the receiver's topic, then the sender's.
func RoutePrivate(msg models.Message) []Delivery {
	if msg.ReceiverID == nil {
		return nil
	}
	return []Delivery{
		{Topic: PrivateTopic(*msg.ReceiverID), Kind: KindPrivate, Payload: msg},
		{Topic: PrivateTopic(msg.SenderID), Kind: KindPrivate, Payload: msg},
	}
}

// RoutePublic addresses msg to the broadcast topic as an encoded snapshot,
// so later changes to msg never reach subscribers.
func RoutePublic(msg models.Message) ([]Delivery, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode public message: %w", err)
	}
	return []Delivery{
		{Topic: PublicTopic, Kind: KindPublic, Payload: json.RawMessage(b)},
	}, nil
}

// RouteReadReceipt tells both parties that receiverID read what senderID sent.
func RouteReadReceipt(senderID, receiverID int64) []Delivery {
	n := models.ReadNotification{SenderID: senderID, ReceiverID: receiverID, ReaderID: receiverID}
	return []Delivery{
		{Topic: ReadReceiptTopic(senderID), Kind: KindReadReceipt, Payload: n},
		{Topic: ReadReceiptTopic(receiverID), Kind: KindReadReceipt, Payload: n},
	}
}

// RouteReadAck echoes a read receipt to the original sender's private queue.
func RouteReadAck(r models.ReadReceipt) []Delivery {
	return []Delivery{
		{Topic: UserQueueTopic(r.SenderID), Kind: KindQueue, Payload: r},
	}
}

// Router issues deliveries through a Deliverer.
// Publish calls are serialized process-wide, so deliveries reach the port in
// submission order across all topics. A slow deliverer therefore stalls every
// publisher; wrap remote deliverers with WithTimeout.
type Router struct {
	mu        sync.Mutex
	deliverer Deliverer
	logger    zerolog.Logger
}

// NewRouter creates a Router that delivers through d.
func NewRouter(d Deliverer, logger zerolog.Logger) *Router {
	return &Router{
		deliverer: d,
		logger:    logger.With().Str("component", "router").Logger(),
	}
}

// Publish issues every delivery in order. A failed delivery does not stop the
// rest; all failures are returned joined as *DeliveryError values.
func (r *Router) Publish(ctx context.Context, deliveries []Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, d := range deliveries {
		if err := r.deliverer.Deliver(ctx, d.Topic, d.Payload); err != nil {
			metrics.DeliveryFailures.WithLabelValues(d.Kind).Inc()
			r.logger.Warn().Err(err).Str("topic", d.Topic).Msg("delivery failed")
			errs = append(errs, &DeliveryError{Topic: d.Topic, Err: err})
			continue
		}
		metrics.Deliveries.WithLabelValues(d.Kind).Inc()
	}
	return errors.Join(errs...)
}

// Fanout delivers to several deliverers. Every deliverer is tried.
type Fanout []Deliverer

// Deliver implements Deliverer.
func (f Fanout) Deliver(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, d := range f {
		if err := d.Deliver(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DelivererFunc adapts a function to the Deliverer interface.
type DelivererFunc func(ctx context.Context, topic string, payload any) error

// Deliver implements Deliverer.
func (f DelivererFunc) Deliver(ctx context.Context, topic string, payload any) error {
	return f(ctx, topic, payload)
}

// WithTimeout bounds every call to d. Deliverers that honour their context,
// such as RedisRelay, give up once the timeout elapses.
func WithTimeout(d Deliverer, timeout time.Duration) Deliverer {
	if timeout <= 0 {
		return d
	}
	return DelivererFunc(func(ctx context.Context, topic string, payload any) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.Deliver(ctx, topic, payload)
	})
}
