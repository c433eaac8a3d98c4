package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/chat"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/models"
	"github.com/DarioOlivares2001/micro-matchworkchat/internal/store"
)

const (
	sendQueueSize  = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Session is one WebSocket connection. UserID is zero for anonymous sessions.
type Session struct {
	ID     string
	UserID int64

	hub  *Hub
	in   Inbound
	conn *websocket.Conn
	send chan []byte

	// topic -> destination the client subscribed with; guarded by hub.mu
	subs map[string]string
}

// readPump reads frames until the connection fails, then unregisters the session.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug().Err(err).Str("session", s.ID).Msg("read failed")
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.reply(errorFrame("malformed frame: %v", err))
			continue
		}
		s.handle(f)
	}
}

// writePump writes queued frames and keeps the connection alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a frame for this session only, dropping it if the queue is full.
func (s *Session) reply(frame []byte) {
	select {
	case s.send <- frame:
	default:
		s.hub.logger.Warn().Str("session", s.ID).Msg("reply dropped, send queue full")
	}
}

func (s *Session) handle(f Frame) {
	switch f.Command {
	case CommandSubscribe:
		topic, err := resolveTopic(f.Destination, s.UserID)
		if err != nil {
			s.reply(errorFrame("subscribe: %v", err))
			return
		}
		s.hub.subscribe(s, topic, f.Destination)
	case CommandUnsubscribe:
		topic, err := resolveTopic(f.Destination, s.UserID)
		if err != nil {
			s.reply(errorFrame("unsubscribe: %v", err))
			return
		}
		s.hub.unsubscribe(s, topic)
	case CommandSend:
		if err := s.dispatch(f); err != nil {
			s.reply(errorFrame("%s: %s", f.Destination, describe(err)))
		}
	default:
		s.reply(errorFrame("unknown command %q", f.Command))
	}
}

// dispatch decodes a SEND body and hands it to the inbound port.
func (s *Session) dispatch(f Frame) error {
	ctx := context.Background()
	switch strings.TrimPrefix(f.Destination, appPrefix) {
	case DestSendPrivate:
		var ev models.SendPrivateMessage
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			return &chat.ValidationError{Field: "body", Reason: err.Error()}
		}
		_, err := s.in.SendPrivate(ctx, ev)
		return err
	case DestSendPublic:
		var ev models.SendPublicMessage
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			return &chat.ValidationError{Field: "body", Reason: err.Error()}
		}
		_, err := s.in.SendPublic(ctx, ev)
		return err
	case DestReadReceipt:
		var ev models.ReadReceiptEvent
		if err := json.Unmarshal(f.Body, &ev); err != nil {
			return &chat.ValidationError{Field: "body", Reason: err.Error()}
		}
		_, err := s.in.ReadReceipt(ctx, ev)
		return err
	default:
		return errors.New("unknown destination")
	}
}

// describe hides storage internals from clients.
func describe(err error) string {
	var se *store.StorageError
	if errors.As(err, &se) {
		return "message store unavailable"
	}
	return err.Error()
}
