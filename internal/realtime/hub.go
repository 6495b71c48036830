// Package realtime pushes order events to browser sessions over websockets.
//
// Clients connect to the hub, then send {"event":"register","data":"<email>"}
// to receive events targeted at that email. Every connected session receives
// broadcasts whether or not it registered.
package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	EventRegister     = "register"
	EventNewOrder     = "newOrder"
	EventOrderSuccess = "orderSuccess"
	EventOrderUpdate  = "orderUpdate"
)

type Hub struct {
	registry *Registry
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewHub returns a hub that accepts connections from allowedOrigins. An empty
// list or "*" accepts any origin.
func NewHub(registry *Registry, allowedOrigins []string) *Hub {
	if registry == nil {
		registry = NewRegistry()
	}
	h := &Hub{
		registry: registry,
		sessions: make(map[*Session]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// ServeHTTP upgrades the request and serves the session until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("realtime: websocket upgrade failed")
		return
	}

	s := newSession(uuid.Must(uuid.NewV4()).String(), conn)
	if !h.add(s) {
		_ = conn.Close()
		return
	}
	log.Debug().Str("session_id", s.id).Str("remote_addr", r.RemoteAddr).Msg("realtime: session connected")

	go s.writePump()
	s.readPump(func(env Envelope) { h.handle(s, env) })

	h.remove(s)
	log.Debug().Str("session_id", s.id).Msg("realtime: session disconnected")
}

func (h *Hub) handle(s *Session, env Envelope) {
	switch env.Event {
	case EventRegister:
		email := registrationEmail(env.Data)
		if !h.registry.Register(email, s) {
			log.Debug().Str("session_id", s.id).Msg("realtime: ignoring register without email")
			return
		}
		log.Info().Str("session_id", s.id).Str("email", normalizeEmail(email)).Msg("realtime: session registered")
	default:
		log.Debug().Str("session_id", s.id).Str("event", env.Event).Msg("realtime: ignoring unknown event")
	}
}

// registrationEmail accepts either a bare JSON string or {"email": "..."}.
func registrationEmail(data json.RawMessage) string {
	var email string
	if err := json.Unmarshal(data, &email); err == nil {
		return email
	}
	var obj struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj.Email
	}
	return ""
}

func (h *Hub) add(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

// remove evicts s from the hub and the registry. Safe to call more than once.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()

	h.registry.Unregister(s)
	s.Close()
}

// Broadcast queues an event for every connected session and returns how many
// accepted it.
func (h *Hub) Broadcast(event string, payload any) (int, error) {
	msg, err := encode(event, payload)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if err := s.enqueue(msg); err != nil {
			log.Debug().Err(err).Str("session_id", s.id).Str("event", event).Msg("realtime: broadcast dropped")
			continue
		}
		delivered++
	}
	return delivered, nil
}

// SendTo queues an event for the session registered under email. It reports
// false when no session is registered.
func (h *Hub) SendTo(email, event string, payload any) (bool, error) {
	s, ok := h.registry.Lookup(email)
	if !ok {
		return false, nil
	}
	if err := s.Send(event, payload); err != nil {
		return true, err
	}
	return true, nil
}

func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	log.Info().Int("sessions", len(sessions)).Msg("realtime: hub closed")
}
