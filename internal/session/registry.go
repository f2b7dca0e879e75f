package session

import (
	"errors"
	"sync"
	"time"
)

// Kind distinguishes why a locker door is currently open.
type Kind string

const (
	// KindBooking marks a freshly assigned locker waiting to be secured.
	KindBooking Kind = "booking"
	// KindRelease marks an occupied locker being emptied and handed back.
	KindRelease Kind = "release"
)

// ErrSessionExists is returned by Register when the locker code already has
// an in-flight session.
var ErrSessionExists = errors.New("session already registered for locker")

// Session is the in-memory record of one locker operation in progress, from
// the open command until the latch sensor confirms closure. Sessions are not
// persisted; the database remains the source of truth for occupancy.
type Session struct {
	LockerCode string
	UserID     int64
	UserName   string
	StartTime  time.Time
	Kind       Kind
}

// Registry is the authoritative map of locker code to in-flight session.
// It owns its synchronization; callers never see the lock. At most one
// session exists per locker code at any instant.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register inserts a session for its locker code. It fails with
// ErrSessionExists when one is already registered; callers decide whether a
// duplicate tap still warrants re-actuating the hardware.
func (r *Registry) Register(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.LockerCode]; exists {
		return ErrSessionExists
	}
	r.sessions[s.LockerCode] = s
	return nil
}

// Drop removes the session for a locker code unconditionally.
func (r *Registry) Drop(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, code)
}

// Get returns the session for a locker code, if present.
func (r *Registry) Get(code string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[code]
	return s, ok
}

// Codes returns a snapshot of the registered locker codes. The monitor polls
// hardware against this snapshot so the lock is never held across bus I/O.
func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]string, 0, len(r.sessions))
	for code := range r.sessions {
		codes = append(codes, code)
	}
	return codes
}

// Len returns the number of in-flight sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
