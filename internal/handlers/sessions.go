package handlers

import (
	"log"
	"sync"
	"time"

	"vidlense/internal/auth"
	"vidlense/internal/orchestrator"
)

// SessionStore maps browser session ids to orchestrator sessions.
type SessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*sessionEntry
	newSession func() *orchestrator.Session
	maxAge     time.Duration
}

type sessionEntry struct {
	session  *orchestrator.Session
	lastSeen time.Time
}

// NewSessionStore returns a store that builds sessions with newSession and
// forgets them after maxAge without a request.
func NewSessionStore(newSession func() *orchestrator.Session, maxAge time.Duration) *SessionStore {
	return &SessionStore{
		sessions:   make(map[string]*sessionEntry),
		newSession: newSession,
		maxAge:     maxAge,
	}
}

// Acquire returns the live session for id, refreshing its idle timer. Unknown
// or expired ids get a new session under a fresh id.
func (st *SessionStore) Acquire(id string, now time.Time) (string, *orchestrator.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if e, ok := st.sessions[id]; ok && id != "" {
		if now.Sub(e.lastSeen) <= st.maxAge {
			e.lastSeen = now
			return id, e.session
		}
		e.session.Close()
		delete(st.sessions, id)
	}

	id = auth.NewSessionID()
	sess := st.newSession()
	st.sessions[id] = &sessionEntry{session: sess, lastSeen: now}
	log.Printf("Sessions: created session %s (%d live)", id, len(st.sessions))
	return id, sess
}

// Sweep closes and drops sessions idle for longer than maxAge. It returns how many were dropped.
func (st *SessionStore) Sweep(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	dropped := 0
	for id, e := range st.sessions {
		if now.Sub(e.lastSeen) > st.maxAge {
			e.session.Close()
			delete(st.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Remove closes and forgets the session under id. It reports whether one existed.
func (st *SessionStore) Remove(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[id]
	if !ok {
		return false
	}
	e.session.Close()
	delete(st.sessions, id)
	return true
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// CloseAll cancels the work of every session and empties the store.
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	defer st.mu.Unlock()
	for id, e := range st.sessions {
		e.session.Close()
		delete(st.sessions, id)
	}
}
