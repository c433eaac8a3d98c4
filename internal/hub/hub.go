package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
)

// ErrQueueFull is returned for a frame dropped because a session could not keep up.
var ErrQueueFull = errors.New("session send queue full")

// Inbound receives chat events read off client sockets. *chat.Service implements it.
type Inbound interface {
	SendPrivate(ctx context.Context, ev models.SendPrivateMessage) (models.Message, error)
	SendPublic(ctx context.Context, ev models.SendPublicMessage) (models.Message, error)
	ReadReceipt(ctx context.Context, ev models.ReadReceiptEvent) (models.ReadReceipt, error)
}

// Hub maintains the set of live sessions and which topics each is subscribed to.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	topics   map[string]map[*Session]struct{}

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New creates a Hub. Browser origins outside allowedOrigins are refused;
// "*" allows any origin.
func New(logger zerolog.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		sessions: make(map[string]*Session),
		topics:   make(map[string]map[*Session]struct{}),
		logger:   logger.With().Str("component", "hub").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS returns the handler that upgrades GET /ws?userId=N and feeds the
// session's SEND frames to in.
func (h *Hub) ServeWS(in Inbound) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID int64
		if v := r.URL.Query().Get("userId"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				http.Error(w, "invalid userId", http.StatusBadRequest)
				return
			}
			userID = id
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client
			h.logger.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		s := &Session{
			ID:     uuid.NewString(),
			UserID: userID,
			hub:    h,
			in:     in,
			conn:   conn,
			send:   make(chan []byte, sendQueueSize),
			subs:   make(map[string]string),
		}
		h.register(s)

		go s.writePump()
		go s.readPump()
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.OnlineSessions.Set(float64(n))
	h.logger.Debug().Str("session", s.ID).Int64("user", s.UserID).Msg("session opened")
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	for topic := range s.subs {
		h.removeLocked(topic, s)
	}
	close(s.send)
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.OnlineSessions.Set(float64(n))
	h.logger.Debug().Str("session", s.ID).Msg("session closed")
}

func (h *Hub) subscribe(s *Session, topic, dest string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Session]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
	s.subs[topic] = dest
}

func (h *Hub) unsubscribe(s *Session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(topic, s)
	delete(s.subs, topic)
}

func (h *Hub) removeLocked(topic string, s *Session) {
	subs := h.topics[topic]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Deliver queues payload for every session subscribed to topic.
// A topic nobody listens on is not an error. A session whose queue is full
// loses the frame and the drop is reported.
func (h *Hub) Deliver(_ context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var errs []error
	for s := range h.topics[topic] {
		frame := encodeFrame(Frame{Command: CommandMessage, Destination: s.subs[topic], Body: body})
		select {
		case s.send <- frame:
		default:
			metrics.DroppedFrames.Inc()
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID, ErrQueueFull))
		}
	}
	return errors.Join(errs...)
}

// Subscribers returns the number of sessions subscribed to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		_ = s.conn.Close()
	}
}
