package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

type recorder struct {
	mu    sync.Mutex
	calls []Delivery
	fail  map[string]error
}

func (r *recorder) Deliver(_ context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Delivery{Topic: topic, Payload: payload})
	return r.fail[topic]
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Topic
	}
	return out
}

func sample() models.Message {
	return models.Message{
		ID:         "01HX",
		SenderID:   1,
		ReceiverID: models.Int64(2),
		Content:    "hola",
		Type:       models.TypeChat,
		Timestamp:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestTopicNames(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{PrivateTopic(2), "private.2"},
		{ReadReceiptTopic(42), "read.receipt.42"},
		{UserQueueTopic(7), "user.7.queue.read.receipt"},
		{PublicTopic, "public"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestRoutePrivateReceiverThenSender(t *testing.T) {
	msg := sample()
	got := RoutePrivate(msg)
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Topic != "private.2" || got[1].Topic != "private.1" {
		t.Fatalf("unexpected topics: %q, %q", got[0].Topic, got[1].Topic)
	}
	for _, d := range got {
		m, ok := d.Payload.(models.Message)
		if !ok || m.ID != msg.ID || m.Content != "hola" {
			t.Fatalf("payload is not the persisted message: %#v", d.Payload)
		}
	}

	broadcast := msg
	broadcast.ReceiverID = nil
	if d := RoutePrivate(broadcast); len(d) != 0 {
		t.Fatalf("message without receiver should not route privately: %+v", d)
	}
}

func TestRoutePrivateSelfMessageHitsTopicTwice(t *testing.T) {
	msg := sample()
	msg.ReceiverID = models.Int64(msg.SenderID)
	got := RoutePrivate(msg)
	if len(got) != 2 || got[0].Topic != "private.1" || got[1].Topic != "private.1" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestRoutePublicIsSnapshot(t *testing.T) {
	msg := sample()
	msg.ReceiverID = nil
	got, err := RoutePublic(msg)
	if err != nil {
		t.Fatalf("RoutePublic failed: %v", err)
	}
	if len(got) != 1 || got[0].Topic != PublicTopic {
		t.Fatalf("unexpected deliveries: %+v", got)
	}

	msg.Content = "changed later"
	raw, ok := got[0].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("expected encoded payload, got %T", got[0].Payload)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded["content"] != "hola" {
		t.Fatalf("snapshot changed with the source: %v", decoded["content"])
	}
	if decoded["receiverId"] != nil {
		t.Fatalf("broadcast should have null receiverId, got %v", decoded["receiverId"])
	}
	if decoded["timestamp"] != "2024-05-01T10:00:00.000Z" {
		t.Fatalf("unexpected timestamp form: %v", decoded["timestamp"])
	}
}

func TestRouteReadReceipt(t *testing.T) {
	got := RouteReadReceipt(7, 42)
	if len(got) != 2 || got[0].Topic != "read.receipt.7" || got[1].Topic != "read.receipt.42" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	want := models.ReadNotification{SenderID: 7, ReceiverID: 42, ReaderID: 42}
	for _, d := range got {
		if d.Payload != want {
			t.Fatalf("unexpected payload: %+v", d.Payload)
		}
	}
}

func TestRouteReadAck(t *testing.T) {
	r := models.ReadReceipt{SenderID: 7, ReceiverID: 42}
	got := RouteReadAck(r)
	if len(got) != 1 || got[0].Topic != "user.7.queue.read.receipt" || got[0].Payload != r {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestRoutingIsDeterministic(t *testing.T) {
	a, _ := json.Marshal(RoutePrivate(sample()))
	b, _ := json.Marshal(RoutePrivate(sample()))
	if string(a) != string(b) {
		t.Fatalf("same input routed differently:\n%s\n%s", a, b)
	}
}

func TestRouterPublishContinuesPastFailures(t *testing.T) {
	boom := errors.New("socket closed")
	rec := &recorder{fail: map[string]error{"private.2": boom}}
	router := NewRouter(rec, zerolog.Nop())

	before := testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues(KindPrivate))

	err := router.Publish(context.Background(), RoutePrivate(sample()))
	if err == nil {
		t.Fatal("expected an error")
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de.Topic != "private.2" || !errors.Is(err, boom) {
		t.Fatalf("expected DeliveryError for private.2, got %v", err)
	}

	if got := rec.topics(); len(got) != 2 || got[1] != "private.1" {
		t.Fatalf("sender topic not attempted after failure: %v", got)
	}

	after := testutil.ToFloat64(metrics.DeliveryFailures.WithLabelValues(KindPrivate))
	if after-before != 1 {
		t.Fatalf("expected one counted failure, got %v", after-before)
	}
}

func TestRouterPreservesSubmissionOrder(t *testing.T) {
	rec := &recorder{}
	router := NewRouter(rec, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		if err := router.Publish(ctx, []Delivery{{Topic: "public", Kind: KindPublic, Payload: i}}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, c := range rec.calls {
		if c.Payload != i {
			t.Fatalf("delivery %d out of order: got payload %v", i, c.Payload)
		}
	}
}

func TestFanoutTriesEveryDeliverer(t *testing.T) {
	boom := errors.New("down")
	first := &recorder{fail: map[string]error{"public": boom}}
	second := &recorder{}

	err := Fanout{first, second}.Deliver(context.Background(), "public", "x")
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(second.topics()) != 1 {
		t.Fatal("second deliverer was skipped")
	}
}

func TestWithTimeoutBoundsSlowDeliverer(t *testing.T) {
	stuck := DelivererFunc(func(ctx context.Context, topic string, payload any) error {
		<-ctx.Done()
		return ctx.Err()
	})
	local := &recorder{}
	router := NewRouter(Fanout{local, WithTimeout(stuck, 20*time.Millisecond)}, zerolog.Nop())

	start := time.Now()
	err := router.Publish(context.Background(), RoutePrivate(sample()))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publish blocked for %s", elapsed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if got := local.topics(); len(got) != 2 {
		t.Fatalf("local deliveries should still happen, got %v", got)
	}

	if WithTimeout(local, 0) != Deliverer(local) {
		t.Fatal("zero timeout should return the deliverer unchanged")
	}
}

func TestEncodeEnvelope(t *testing.T) {
	data, err := encodeEnvelope("read.receipt.7", models.ReadNotification{SenderID: 7, ReceiverID: 42, ReaderID: 42})
	if err != nil {
		t.Fatalf("encodeEnvelope failed: %v", err)
	}
	want := `{"topic":"read.receipt.7","payload":{"senderId":7,"receiverId":42,"readerId":42}}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	raw := json.RawMessage(`{"content":"x"}`)
	data, err = encodeEnvelope("public", raw)
	if err != nil {
		t.Fatalf("encodeEnvelope failed: %v", err)
	}
	if string(data) != `{"topic":"public","payload":{"content":"x"}}` {
		t.Fatalf("encoded snapshot was re-quoted: %s", data)
	}
}

func TestRedisRelayPublishes(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	relay, err := NewRedisRelay(ctx, url, "chat-test:")
	if err != nil {
		t.Fatalf("NewRedisRelay failed: %v", err)
	}
	defer relay.Close()

	sub := relay.client.Subscribe(ctx, relay.Channel(PrivateTopic(2)))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := relay.Deliver(ctx, PrivateTopic(2), sample()); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	if msg.Channel != "chat-test:private.2" {
		t.Fatalf("unexpected channel %q", msg.Channel)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	if env.Topic != "private.2" {
		t.Fatalf("unexpected topic %q", env.Topic)
	}
}
