package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
)

const (
	sendQueueSize  = 16
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var (
	ErrSessionClosed     = fmt.Errorf("realtime: session closed: %w", apperr.ErrTransport)
	ErrSessionBacklogged = fmt.Errorf("realtime: session send queue full: %w", apperr.ErrTransport)
)

// Envelope is the wire format of every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session is one connected client. Outbound events are queued and written by
// a dedicated goroutine; a full queue drops the event.
type Session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Send encodes payload under event and queues it without blocking.
func (s *Session) Send(event string, payload any) error {
	msg, err := encode(event, payload)
	if err != nil {
		return err
	}
	return s.enqueue(msg)
}

func (s *Session) enqueue(msg []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- msg:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSessionBacklogged
	}
}

// Close stops the writer, which then closes the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("realtime: failed to encode %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return nil, fmt.Errorf("realtime: failed to encode %s envelope: %w", event, err)
	}
	return msg, nil
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("realtime: write failed")
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// readPump delivers inbound envelopes to handle until the connection fails.
func (s *Session) readPump(handle func(Envelope)) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				log.Debug().Err(err).Str("session_id", s.id).Msg("realtime: ignoring malformed message")
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("session_id", s.id).Msg("realtime: connection closed unexpectedly")
			}
			return
		}
		handle(env)
	}
}
