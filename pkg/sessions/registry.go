package sessions

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/rally/pkg/log"
	"github.com/cbodonnell/rally/pkg/scheduler"
)

// Registry is the directory of all live sessions. It owns the sessions for
// their lifetime and keeps a secondary index from participant identity to
// session so an identity cannot be active in two sessions at once.
type Registry struct {
	sched       *scheduler.Scheduler
	notifier    Notifier
	graceWindow time.Duration

	mu            sync.RWMutex
	sessions      map[string]*Session
	byParticipant map[string]string
}

type NewRegistryOptions struct {
	Scheduler   *scheduler.Scheduler
	Notifier    Notifier
	GraceWindow time.Duration
}

func NewRegistry(opts NewRegistryOptions) *Registry {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Registry{
		sched:         opts.Scheduler,
		notifier:      notifier,
		graceWindow:   opts.GraceWindow,
		sessions:      make(map[string]*Session),
		byParticipant: make(map[string]string),
	}
}

type CreateSessionOptions struct {
	SessionID    string
	ParticipantA string
	ParticipantB string
	WinScore     int
}

// Create registers a new session awaiting its participant connections.
func (r *Registry) Create(opts CreateSessionOptions) (*Session, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if opts.ParticipantA == "" || opts.ParticipantB == "" {
		return nil, fmt.Errorf("both participant ids are required")
	}
	if opts.ParticipantA == opts.ParticipantB {
		return nil, fmt.Errorf("participants must be distinct")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[opts.SessionID]; ok {
		return nil, &ErrDuplicateSession{}
	}
	if _, ok := r.byParticipant[opts.ParticipantA]; ok {
		return nil, &ErrParticipantActive{}
	}
	if _, ok := r.byParticipant[opts.ParticipantB]; ok {
		return nil, &ErrParticipantActive{}
	}

	session := NewSession(NewSessionOptions{
		ID:           opts.SessionID,
		ParticipantA: opts.ParticipantA,
		ParticipantB: opts.ParticipantB,
		WinScore:     opts.WinScore,
		GraceWindow:  r.graceWindow,
		Scheduler:    r.sched,
		Notifier:     r.notifier,
		OnEnded: func(s *Session) {
			r.Remove(s.ID)
		},
	})

	r.sessions[opts.SessionID] = session
	r.byParticipant[opts.ParticipantA] = opts.SessionID
	r.byParticipant[opts.ParticipantB] = opts.SessionID
	log.Info("Session %s created for %s vs %s", opts.SessionID, opts.ParticipantA, opts.ParticipantB)

	return session, nil
}

// Lookup returns the session with the given id, if it exists.
func (r *Registry) Lookup(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

// LookupByParticipant returns the session a participant is active in, if any.
func (r *Registry) LookupByParticipant(participantID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.byParticipant[participantID]
	if !ok {
		return nil, false
	}
	session, ok := r.sessions[sessionID]
	return session, ok
}

// Remove deletes the primary and secondary index entries for a session.
// Called once a session has ended.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	for _, participantID := range session.Participants() {
		if r.byParticipant[participantID] == sessionID {
			delete(r.byParticipant, participantID)
		}
	}
	log.Debug("Session %s removed from registry", sessionID)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EndAll force-ends every live session, used on graceful shutdown.
func (r *Registry) EndAll(reason string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.ForceEnd(reason)
	}
}
