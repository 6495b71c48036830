package realtime

import (
	"strings"
	"sync"
)

// Registry maps an email to the session that registered it last. It is owned
// by a Hub and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	byEmail   map[string]*Session
	bySession map[*Session]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		byEmail:   make(map[string]*Session),
		bySession: make(map[*Session]map[string]struct{}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register points email at s, replacing any earlier holder. It reports false
// when email is blank or s is nil.
func (r *Registry) Register(email string, s *Session) bool {
	key := normalizeEmail(email)
	if key == "" || s == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byEmail[key]; ok && prev != s {
		r.forget(prev, key)
	}
	r.byEmail[key] = s

	emails, ok := r.bySession[s]
	if !ok {
		emails = make(map[string]struct{})
		r.bySession[s] = emails
	}
	emails[key] = struct{}{}
	return true
}

// Unregister drops every email currently held by s. Emails that another
// session registered afterwards are left alone.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for email := range r.bySession[s] {
		if r.byEmail[email] == s {
			delete(r.byEmail, email)
		}
	}
	delete(r.bySession, s)
}

func (r *Registry) Lookup(email string) (*Session, bool) {
	key := normalizeEmail(email)
	if key == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byEmail[key]
	return s, ok
}

// Len is the number of registered emails.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEmail)
}

// forget must be called with mu held.
func (r *Registry) forget(s *Session, email string) {
	emails := r.bySession[s]
	delete(emails, email)
	if len(emails) == 0 {
		delete(r.bySession, s)
	}
}
